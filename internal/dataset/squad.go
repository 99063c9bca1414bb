package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/perstarkse/minnego/internal/apperr"
	"github.com/perstarkse/minnego/internal/corpus"
)

// squadFile mirrors the SQuAD v2 JSON layout 1:1: a list of articles,
// each with a title and a list of paragraphs, each with a context and
// a list of question/answer pairs.
type squadFile struct {
	Data []squadArticle `json:"data"`
}

type squadArticle struct {
	Title      string           `json:"title"`
	Paragraphs []squadParagraph `json:"paragraphs"`
}

type squadParagraph struct {
	Context string          `json:"context"`
	QAs     []squadQuestion `json:"qas"`
}

type squadQuestion struct {
	ID           string        `json:"id"`
	Question     string        `json:"question"`
	Answers      []squadAnswer `json:"answers"`
	IsImpossible bool          `json:"is_impossible"`
}

type squadAnswer struct {
	Text string `json:"text"`
}

// convertSquad parses a raw SQuAD v2 JSON file into corpus paragraphs,
// grounded on datasets.rs's convert_squad: paragraph ids are
// "{slug(title)}-{paragraph_index}", answers are deduplicated and
// trimmed, and an empty/unparseable title falls back to
// "article-{index}".
func convertSquad(rawPath string) ([]corpus.Paragraph, error) {
	raw, err := os.ReadFile(rawPath)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "reading raw SQuAD dataset "+rawPath, err)
	}
	var parsed squadFile
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "parsing raw SQuAD dataset "+rawPath, err)
	}

	var paragraphs []corpus.Paragraph
	for articleIdx, article := range parsed.Data {
		slug := slugify(article.Title, articleIdx)
		for paragraphIdx, paragraph := range article.Paragraphs {
			questions := make([]corpus.Question, 0, len(paragraph.QAs))
			for _, qa := range paragraph.QAs {
				answers := make([]string, 0, len(qa.Answers))
				for _, a := range qa.Answers {
					answers = append(answers, a.Text)
				}
				questions = append(questions, corpus.Question{
					ID:           qa.ID,
					Text:         strings.TrimSpace(qa.Question),
					Answers:      dedupeStrings(answers),
					IsImpossible: qa.IsImpossible,
				})
			}

			paragraphs = append(paragraphs, corpus.Paragraph{
				ID:        fmt.Sprintf("%s-%d", slug, paragraphIdx),
				Title:     strings.TrimSpace(article.Title),
				Context:   strings.TrimSpace(paragraph.Context),
				Questions: questions,
			})
		}
	}
	return paragraphs, nil
}

// dedupeStrings trims, drops blanks, and returns the unique values in
// sorted order, matching datasets.rs's BTreeSet-backed dedupe_strings.
func dedupeStrings(values []string) []string {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			set[trimmed] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// slugify lowercases input, collapses runs of non-alphanumerics into a
// single dash, and trims leading/trailing dashes, matching datasets.rs.
func slugify(input string, fallbackIdx int) string {
	var b strings.Builder
	lastDash := false
	for _, ch := range strings.ToLower(input) {
		switch {
		case ch >= 'a' && ch <= 'z' || ch >= '0' && ch <= '9':
			b.WriteRune(ch)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		slug = fmt.Sprintf("article-%d", fallbackIdx)
	}
	return slug
}

// cachePayload is the converted-dataset cache file shape written to
// Entry.Converted, keeping the corpus.Paragraph/Question shapes
// themselves as the wire format rather than a parallel set of types.
type cachePayload struct {
	GeneratedAt time.Time          `json:"generated_at"`
	Source      string             `json:"source"`
	Paragraphs  []corpus.Paragraph `json:"paragraphs"`
}

// LoadCorpus resolves entry's converted cache (reconverting from its
// raw file when the cache is missing or forceConvert is set) and
// returns it bound into a corpus.Corpus. Natural Questions/BEIR raw
// formats aren't ported (datasets.rs's convert_nq and the BEIR
// multi-subset path): SQuAD v2 alone already exercises the full
// retrieval/ingestion/scoring path this evaluation driver runs, and no
// NQ/BEIR fixture ships alongside this module to convert.
func LoadCorpus(entry Entry, forceConvert bool) (*corpus.Corpus, error) {
	if !forceConvert {
		if payload, err := readCache(entry.Converted); err == nil {
			return &corpus.Corpus{
				DatasetID:    entry.ID,
				DatasetLabel: entry.Label,
				Source:       payload.Source,
				Paragraphs:   payload.Paragraphs,
			}, nil
		}
	}

	paragraphs, err := convertSquad(entry.Raw)
	if err != nil {
		return nil, err
	}

	payload := cachePayload{
		GeneratedAt: time.Now().UTC(),
		Source:      entry.Raw,
		Paragraphs:  paragraphs,
	}
	if err := writeCache(entry.Converted, payload); err != nil {
		return nil, err
	}

	return &corpus.Corpus{
		DatasetID:    entry.ID,
		DatasetLabel: entry.Label,
		Source:       entry.Raw,
		Paragraphs:   paragraphs,
	}, nil
}

func readCache(path string) (cachePayload, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return cachePayload{}, err
	}
	var payload cachePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return cachePayload{}, err
	}
	return payload, nil
}

func writeCache(path string, payload cachePayload) error {
	if err := ensureParentDir(path); err != nil {
		return apperr.Wrap(apperr.KindInternal, "preparing converted dataset directory", err)
	}
	blob, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "serializing converted dataset", err)
	}
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return apperr.Wrap(apperr.KindInternal, "writing converted dataset "+path, err)
	}
	return nil
}
