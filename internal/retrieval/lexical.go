package retrieval

import (
	"sort"
	"strings"
	"unicode"
)

// extractKeywords lowercases and splits input on non-alphanumeric runs,
// keeping terms of length >= 3, deduplicated and sorted — a minimal
// keyword set used to nudge chunk ranking toward lexical overlap
// alongside the vector/FTS/graph fused score.
func extractKeywords(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
	seen := make(map[string]struct{}, len(fields))
	var terms []string
	for _, f := range fields {
		term := strings.ToLower(strings.TrimSpace(f))
		if len(term) < 3 {
			continue
		}
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		terms = append(terms, term)
	}
	sort.Strings(terms)
	return terms
}

// lexicalOverlapScore is the fraction of terms that appear anywhere in
// haystack, case-insensitively — a cheap substitute for a real term
// index, adequate for nudging ranking rather than driving retrieval.
func lexicalOverlapScore(terms []string, haystack string) float32 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(haystack)
	matches := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			matches++
		}
	}
	return float32(matches) / float32(len(terms))
}

// estimateTokens is a crude chars-per-token heuristic, matching the
// original's "treat avg_chars_per_token as a divisor, never less than
// one token" rule.
func estimateTokens(text string, avgCharsPerToken int) int {
	if avgCharsPerToken <= 0 {
		avgCharsPerToken = 1
	}
	chars := len([]rune(text))
	if chars < 1 {
		chars = 1
	}
	tokens := chars / avgCharsPerToken
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}
