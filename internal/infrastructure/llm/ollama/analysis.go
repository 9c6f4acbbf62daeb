package ollama

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/42012606/Memex-Neural/internal/core/domain"
)

var semanticDateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2006.01.02",
	"20060102",
	time.RFC3339,
	"2006-01",
	"2006.01",
}

type semanticFields struct {
	Category string          `json:"category"`
	Tags     json.RawMessage `json:"tags"`
	Summary  string          `json:"summary"`
}

type structuredFields struct {
	Date  json.RawMessage `json:"date"`
	Money json.RawMessage `json:"money"`
}

type nestedAnalysis struct {
	SuggestedFilename string           `json:"suggested_filename"`
	Semantic          semanticFields   `json:"semantic"`
	Structured        structuredFields `json:"structured"`
}

type flatAnalysis struct {
	SuggestedFilename string `json:"suggested_filename"`
	semanticFields
	structuredFields
}

// ParseAnalysis decodes a model response into the nested, flat or unparsed variant.
func ParseAnalysis(raw string) domain.AnalysisResult {
	result := domain.AnalysisResult{Shape: domain.AnalysisUnparsed, Raw: raw}

	body := extractJSONObject(strings.TrimSpace(raw))
	var keys map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &keys); err != nil {
		return result
	}

	if semantic, ok := keys["semantic"]; ok && isJSONObject(semantic) {
		var nested nestedAnalysis
		if err := json.Unmarshal([]byte(body), &nested); err != nil {
			return result
		}
		result.Shape = domain.AnalysisNested
		result.SuggestedFilename = strings.TrimSpace(nested.SuggestedFilename)
		fillSemantic(&result, nested.Semantic, nested.Structured)
		return result
	}

	_, hasCategory := keys["category"]
	_, hasSummary := keys["summary"]
	_, hasTags := keys["tags"]
	if !hasCategory && !hasSummary && !hasTags {
		return result
	}
	var flat flatAnalysis
	if err := json.Unmarshal([]byte(body), &flat); err != nil {
		return result
	}
	result.Shape = domain.AnalysisFlat
	result.SuggestedFilename = strings.TrimSpace(flat.SuggestedFilename)
	fillSemantic(&result, flat.semanticFields, flat.structuredFields)
	return result
}

func fillSemantic(result *domain.AnalysisResult, semantic semanticFields, structured structuredFields) {
	result.Category = strings.TrimSpace(semantic.Category)
	result.Summary = strings.TrimSpace(semantic.Summary)
	result.Tags = decodeTags(semantic.Tags)
	if date, ok := parseSemanticDate(rawString(structured.Date)); ok {
		result.Date = &date
	}
	result.Money = rawString(structured.Money)
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return strings.HasPrefix(trimmed, "{")
}

// decodeTags accepts either a JSON array or a comma separated string.
func decodeTags(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		list = strings.Split(rawString(raw), ",")
	}
	tags := make([]string, 0, len(list))
	seen := make(map[string]struct{}, len(list))
	for _, tag := range list {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}

// rawString renders a JSON scalar as text; null and empty values become "".
func rawString(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return trimmed
}

func parseSemanticDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range semanticDateLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}
