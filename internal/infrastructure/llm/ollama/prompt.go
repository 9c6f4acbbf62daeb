package ollama

import (
	"fmt"
	"path/filepath"
	"time"
)

const (
	maxAnalysisSnippet = 4000
	maxRerankSnippet   = 2000
)

func buildAnalysisPrompt(filename, text string, now time.Time) string {
	return fmt.Sprintf(`You are the archive analyst of a personal document archive.
Extract metadata from the file content and propose a normalized filename.

Current time: %s
Filename: %q
Content:
%s

Tasks:
1. suggested_filename: format YYYYMMDD_short_topic%s. Prefer a date found in the document, otherwise use the current date.
2. summary: one sentence, under 50 words.
3. tags: 1-5 keywords.
4. category: one of Medical, Finance, Work, Personal, Unsorted.
5. date: the main date the document refers to as YYYY-MM-DD, or null.
6. money: the main monetary amount mentioned, or null.

Return strict JSON only, no markdown:
{"suggested_filename":"20231115_checkup_report%s","semantic":{"category":"Medical","tags":["checkup","report"],"summary":"..."},"structured":{"date":"2023-11-15","money":null}}
`, now.Format("2006-01-02 15:04"), filename, truncateRunes(text, maxAnalysisSnippet), filepath.Ext(filename), filepath.Ext(filename))
}

const visionPrompt = `Describe this image in detail and return strict JSON:
{"visual_summary":"detailed visual description","ocr_text":"all visible text, keeping the original line breaks","scene_type":"screenshot|photo|poster|document|invoice|other","tags":["tag1","tag2"]}
No markdown, no extra keys.`

func buildRelevancePrompt(query, text string) string {
	return fmt.Sprintf(`You judge search relevance.
Rate how well the passage answers the query as a probability between 0 and 1.
Return strict JSON only: {"relevance": 0.0}

Query:
%s

Passage:
%s
`, query, truncateRunes(text, maxRerankSnippet))
}
