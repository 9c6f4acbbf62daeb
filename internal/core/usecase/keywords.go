package usecase

import (
	"regexp"
	"strings"
)

var (
	hanRun      = regexp.MustCompile(`\p{Han}{2,4}`)
	englishWord = regexp.MustCompile(`\b[a-zA-Z]{3,}\b`)
)

const (
	maxHanKeywords     = 3
	maxEnglishKeywords = 2
	maxFallbackTokens  = 5
	fallbackPrefix     = 10
)

// ExtractKeywords picks lexical anchors from a query: Han runs first, then English words.
// Queries without either fall back to their first tokens, or to a short prefix for single-token queries.
func ExtractKeywords(query string) []string {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	keywords := hanRun.FindAllString(query, maxHanKeywords)
	keywords = append(keywords, englishWord.FindAllString(query, maxEnglishKeywords)...)
	if len(keywords) > 0 {
		return keywords
	}
	if strings.ContainsAny(query, " \t\n") {
		fields := strings.Fields(query)
		return fields[:min(len(fields), maxFallbackTokens)]
	}
	return []string{truncateRunes(query, fallbackPrefix)}
}

// normalizeKeywords trims, drops empties and de-duplicates case-insensitively.
func normalizeKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, kw := range in {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		key := strings.ToLower(kw)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, kw)
	}
	return out
}

// containsAnyKeyword reports a case-insensitive substring hit of any keyword in text.
func containsAnyKeyword(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
