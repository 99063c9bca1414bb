package ingest

import (
	"strings"
	"unicode"

	"github.com/perstarkse/minnego/internal/apperr"
)

// chunkSpec bounds the chunker in whitespace-delimited tokens, mirroring
// chunk_min_tokens/chunk_max_tokens/chunk_overlap_tokens. Overlap must
// be strictly less than the minimum chunk size or the chunker could
// never make forward progress.
type chunkSpec struct {
	MinTokens     int
	MaxTokens     int
	OverlapTokens int
}

func (s chunkSpec) validate() error {
	if s.MinTokens <= 0 || s.MaxTokens <= 0 || s.MinTokens > s.MaxTokens {
		return apperr.Newf(apperr.KindValidation, "invalid chunk bounds: min=%d max=%d", s.MinTokens, s.MaxTokens)
	}
	if s.OverlapTokens >= s.MinTokens {
		return apperr.Newf(apperr.KindValidation, "chunk overlap %d must be less than chunk minimum %d", s.OverlapTokens, s.MinTokens)
	}
	return nil
}

// chunkText splits text into token-window chunks: every token of
// source appears in at least one chunk, windows prefer to end at a
// sentence boundary when one falls inside [min, max], and consecutive
// windows overlap by OverlapTokens tokens.
func chunkText(text string, spec chunkSpec) ([]string, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	tokens, sentenceEnd := tokenizeWithSentenceBoundaries(text)
	if len(tokens) == 0 {
		return nil, nil
	}

	var chunks []string
	start := 0
	for start < len(tokens) {
		end := start + spec.MaxTokens
		if end > len(tokens) {
			end = len(tokens)
		} else {
			// Prefer ending at a sentence boundary within [min, max] of
			// start so chunk breaks land on natural prose boundaries.
			if boundary, ok := lastSentenceBoundary(sentenceEnd, start+spec.MinTokens, end); ok {
				end = boundary
			}
		}

		chunks = append(chunks, strings.Join(tokens[start:end], " "))

		if end >= len(tokens) {
			break
		}
		next := end - spec.OverlapTokens
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks, nil
}

// tokenizeWithSentenceBoundaries splits text on whitespace and records,
// for each resulting token index, whether that token ends a sentence
// (terminates with '.', '!', or '?').
func tokenizeWithSentenceBoundaries(text string) ([]string, []bool) {
	fields := strings.FieldsFunc(text, unicode.IsSpace)
	ends := make([]bool, len(fields))
	for i, f := range fields {
		if f == "" {
			continue
		}
		last := rune(f[len(f)-1])
		ends[i] = last == '.' || last == '!' || last == '?'
	}
	return fields, ends
}

// lastSentenceBoundary finds the rightmost index in [lo, hi) (exclusive
// end, so the returned boundary is a valid slice end) whose token ends
// a sentence.
func lastSentenceBoundary(sentenceEnd []bool, lo, hi int) (int, bool) {
	if lo < 0 {
		lo = 0
	}
	if hi > len(sentenceEnd) {
		hi = len(sentenceEnd)
	}
	for i := hi - 1; i >= lo; i-- {
		if sentenceEnd[i] {
			return i + 1, true
		}
	}
	return 0, false
}
