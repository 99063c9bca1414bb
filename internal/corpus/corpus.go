// Package corpus implements the Corpus/Slice Manager (spec 4.H): it
// turns a loaded evaluation corpus into a deterministic, cacheable
// "slice" — a fixed set of question/paragraph cases plus a negative
// paragraph pool — so repeated evaluation runs over the same corpus and
// seed reproduce byte-identical slices instead of resampling. Grounded
// on evaluations/src/slice.rs.
//
// The BEIR-family multi-dataset quota balancing in the original
// (ordered_question_refs_beir) is not ported: it is infrastructure for
// mixing several named benchmark subsets under one corpus id, a concern
// specific to that benchmark suite rather than to slicing itself. The
// single-corpus case selection it falls back to for every other dataset
// (ordered_question_refs) is what's implemented here.
package corpus

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/perstarkse/minnego/internal/apperr"
)

// sliceVersion is bumped whenever the manifest shape changes in a way
// that invalidates cached slices.
const sliceVersion = 2

// DefaultNegativeMultiplier is how many negative paragraphs to keep per
// positive paragraph when no explicit ratio is given.
const DefaultNegativeMultiplier = 4.0

// Question is one evaluation question bound to a paragraph.
type Question struct {
	ID           string
	Text         string
	Answers      []string
	IsImpossible bool
}

// Paragraph is one corpus document/passage with its bound questions.
type Paragraph struct {
	ID       string
	Title    string
	Context  string
	Questions []Question
}

// Corpus is the full evaluation dataset a slice is drawn from.
type Corpus struct {
	DatasetID    string
	DatasetLabel string
	Source       string
	Paragraphs   []Paragraph
}

// Config controls how a slice is resolved or (re)built.
type Config struct {
	CacheDir              string
	ForceConvert          bool
	ExplicitSlice         string
	Limit                 *int
	CorpusLimit           *int
	SliceSeed             uint64
	IncludeUnanswerable   bool
	NegativeMultiplier    float32
	RequireVerifiedChunks bool
	// ResetIngestion forces every slice paragraph to be deleted and
	// reingested from scratch instead of reused by content hash,
	// exercising store.Store's cascade delete (spec 4.A) on a schedule
	// rather than leaving it reachable only through the HTTP surface.
	ResetIngestion bool
}

// ParagraphKind tags whether a slice paragraph entry is a positive
// (question-bearing) or negative (distractor) member.
type ParagraphKind string

const (
	KindPositive ParagraphKind = "positive"
	KindNegative ParagraphKind = "negative"
)

// CaseEntry binds one selected question to its paragraph.
type CaseEntry struct {
	QuestionID  string `json:"question_id"`
	ParagraphID string `json:"paragraph_id"`
}

// ParagraphEntry is one paragraph's membership record within a slice.
type ParagraphEntry struct {
	ID          string        `json:"id"`
	Kind        ParagraphKind `json:"kind"`
	QuestionIDs []string      `json:"question_ids,omitempty"`
	ShardPath   string        `json:"shard_path,omitempty"`
}

// Manifest is the durable, cacheable record of a resolved slice —
// written to and read back from CacheDir so repeated runs reuse it.
type Manifest struct {
	Version               int              `json:"version"`
	SliceID               string           `json:"slice_id"`
	DatasetID             string           `json:"dataset_id"`
	DatasetLabel          string           `json:"dataset_label"`
	DatasetSource         string           `json:"dataset_source"`
	IncludesUnanswerable  bool             `json:"includes_unanswerable"`
	RequireVerifiedChunks bool             `json:"require_verified_chunks"`
	Seed                  uint64           `json:"seed"`
	RequestedLimit        *int             `json:"requested_limit,omitempty"`
	RequestedCorpus       int              `json:"requested_corpus"`
	GeneratedAt           time.Time        `json:"generated_at"`
	CaseCount             int              `json:"case_count"`
	PositiveParagraphs    int              `json:"positive_paragraphs"`
	NegativeParagraphs    int              `json:"negative_paragraphs"`
	TotalParagraphs       int              `json:"total_paragraphs"`
	NegativeMultiplier    float32          `json:"negative_multiplier"`
	Cases                 []CaseEntry      `json:"cases"`
	Paragraphs            []ParagraphEntry `json:"paragraphs"`
}

// CaseRef resolves a manifest case entry back against the live corpus.
type CaseRef struct {
	Paragraph *Paragraph
	Question  *Question
}

// Resolved is a manifest bound to the corpus it was built from, with
// every case and paragraph reference validated.
type Resolved struct {
	Manifest Manifest
	Path     string
	Cases    []CaseRef
}

// Window is a contiguous slice of a resolved slice's cases, the unit an
// evaluation run actually executes.
type Window struct {
	Offset         int
	Length         int
	TotalCases     int
	Cases          []CaseRef
	PositiveParagraphIDs []string
}

type datasetIndex struct {
	paragraphByID map[string]int
	questionByID  map[string][2]int // paragraph index, question index
}

func buildIndex(c *Corpus) *datasetIndex {
	idx := &datasetIndex{
		paragraphByID: make(map[string]int, len(c.Paragraphs)),
		questionByID:  make(map[string][2]int),
	}
	for pi, p := range c.Paragraphs {
		idx.paragraphByID[p.ID] = pi
		for qi, q := range p.Questions {
			idx.questionByID[q.ID] = [2]int{pi, qi}
		}
	}
	return idx
}

func (idx *datasetIndex) paragraph(c *Corpus, id string) (*Paragraph, error) {
	pi, ok := idx.paragraphByID[id]
	if !ok {
		return nil, apperr.Newf(apperr.KindValidation, "slice references unknown paragraph %q", id)
	}
	return &c.Paragraphs[pi], nil
}

func (idx *datasetIndex) question(c *Corpus, id string) (*Paragraph, *Question, error) {
	pair, ok := idx.questionByID[id]
	if !ok {
		return nil, nil, apperr.Newf(apperr.KindValidation, "slice references unknown question %q", id)
	}
	p := &c.Paragraphs[pair[0]]
	if pair[1] >= len(p.Questions) {
		return nil, nil, apperr.Newf(apperr.KindValidation, "slice maps question %q to missing index", id)
	}
	return p, &p.Questions[pair[1]], nil
}

// DefaultShardPath is the per-paragraph cache file path, derived
// deterministically from the paragraph id so re-resolving a slice never
// renames an existing shard.
func DefaultShardPath(paragraphID string) string {
	return filepath.Join("paragraphs", sanitizeIdentifier(paragraphID)+".json")
}

func sanitizeIdentifier(input string) string {
	var b strings.Builder
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}
	trimmed := strings.Trim(b.String(), "-")
	if trimmed != "" {
		return trimmed
	}
	sum := sha256.Sum256([]byte(input))
	return fmt.Sprintf("%x", sum[:6])
}

type sliceKey struct {
	DatasetID             string `json:"dataset_id"`
	IncludesUnanswerable  bool   `json:"includes_unanswerable"`
	RequireVerifiedChunks bool   `json:"require_verified_chunks"`
	RequestedCorpus       int    `json:"requested_corpus"`
	Seed                  uint64 `json:"seed"`
}

// computeSliceID derives a stable slice id from every input that
// changes the slice's contents, so two runs with identical settings
// hash to the same cache file.
func computeSliceID(key sliceKey) (string, error) {
	payload, err := json.Marshal(key)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "marshal slice key", err)
	}
	sum := sha256.Sum256(payload)
	return fmt.Sprintf("%x", sum[:16]), nil
}

// mixSeed derives a per-dataset RNG seed from a label and the base
// seed, so different datasets (or different stages within one dataset)
// shuffle independently even when the base seed is shared.
func mixSeed(label string, base uint64) uint64 {
	h := sha256.New()
	h.Write([]byte(label))
	var seedBytes [8]byte
	binary.LittleEndian.PutUint64(seedBytes[:], base)
	h.Write(seedBytes[:])
	digest := h.Sum(nil)
	return binary.LittleEndian.Uint64(digest[:8])
}

type buildParams struct {
	includeImpossible bool
	baseSeed          uint64
	rngSeed           uint64
}

// ResolveSlice loads a cached manifest for the given config (or an
// explicitly named one), extends it to cover the requested case/corpus
// limits if needed, persists any change, and binds every case back
// against the corpus.
func ResolveSlice(c *Corpus, cfg Config) (*Resolved, error) {
	index := buildIndex(c)

	if cfg.ExplicitSlice != "" {
		path, manifest, err := loadExplicitSlice(c, index, cfg)
		if err != nil {
			return nil, err
		}
		return manifestToResolved(c, index, manifest, path)
	}

	requestedCorpus := len(c.Paragraphs)
	if cfg.CorpusLimit != nil && *cfg.CorpusLimit < requestedCorpus {
		requestedCorpus = *cfg.CorpusLimit
	}
	if requestedCorpus < 1 {
		requestedCorpus = 1
	}

	key := sliceKey{
		DatasetID:             c.DatasetID,
		IncludesUnanswerable:  cfg.IncludeUnanswerable,
		RequireVerifiedChunks: cfg.RequireVerifiedChunks,
		RequestedCorpus:       requestedCorpus,
		Seed:                  cfg.SliceSeed,
	}
	sliceID, err := computeSliceID(key)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(cfg.CacheDir, "slices", c.DatasetID, sliceID+".json")

	totalQuestions := 0
	for _, p := range c.Paragraphs {
		totalQuestions += len(p.Questions)
	}
	if totalQuestions < 1 {
		totalQuestions = 1
	}
	requestedLimit := totalQuestions
	if cfg.Limit != nil && *cfg.Limit < requestedLimit {
		requestedLimit = *cfg.Limit
	}
	if requestedLimit < 1 {
		requestedLimit = 1
	}

	var manifest *Manifest
	if !cfg.ForceConvert {
		if loaded, err := readManifest(path); err == nil {
			switch {
			case loaded.DatasetID != c.DatasetID:
			case loaded.IncludesUnanswerable != cfg.IncludeUnanswerable:
			case loaded.RequireVerifiedChunks != cfg.RequireVerifiedChunks:
			default:
				manifest = loaded
			}
		}
	}
	if manifest != nil && manifest.Version != sliceVersion {
		manifest = nil
	}

	params := buildParams{
		includeImpossible: cfg.IncludeUnanswerable,
		baseSeed:          cfg.SliceSeed,
		rngSeed:           mixSeed(c.DatasetID, cfg.SliceSeed),
	}

	if manifest == nil {
		m := emptyManifest(c, sliceID, params, requestedCorpus, cfg.NegativeMultiplier, cfg.RequireVerifiedChunks, cfg.Limit)
		manifest = &m
	}
	manifest.RequestedLimit = cfg.Limit
	manifest.RequestedCorpus = requestedCorpus
	manifest.NegativeMultiplier = cfg.NegativeMultiplier
	manifest.IncludesUnanswerable = cfg.IncludeUnanswerable
	manifest.RequireVerifiedChunks = cfg.RequireVerifiedChunks

	changed := ensureShardPaths(manifest)

	caseChanged, err := ensureCaseCapacity(c, manifest, params, requestedLimit)
	if err != nil {
		return nil, err
	}
	changed = changed || caseChanged
	refreshManifestStats(manifest)

	desiredNegatives := desiredNegativeTarget(manifest.PositiveParagraphs, requestedCorpus, len(c.Paragraphs), cfg.NegativeMultiplier)
	negChanged, err := ensureNegativePool(c, manifest, params, desiredNegatives)
	if err != nil {
		return nil, err
	}
	changed = changed || negChanged
	refreshManifestStats(manifest)

	if changed {
		manifest.GeneratedAt = time.Now()
		if err := writeManifest(path, manifest); err != nil {
			return nil, err
		}
	}

	return manifestToResolved(c, index, *manifest, path)
}

// SelectWindow extracts a contiguous window of cases from a resolved
// slice, starting at offset and covering at most limit cases (or every
// remaining case if limit is nil).
func SelectWindow(resolved *Resolved, offset int, limit *int) (*Window, error) {
	total := resolved.Manifest.CaseCount
	if total == 0 {
		return nil, apperr.Newf(apperr.KindValidation, "slice %q contains no cases", resolved.Manifest.SliceID)
	}
	if offset >= total {
		return nil, apperr.Newf(apperr.KindValidation, "slice offset %d exceeds available cases (%d)", offset, total)
	}
	available := total - offset
	requested := available
	if limit != nil {
		requested = *limit
	}
	if requested < 1 {
		requested = 1
	}
	length := requested
	if length > available {
		length = available
	}

	cases := resolved.Cases[offset : offset+length]
	seen := make(map[string]struct{})
	var positiveIDs []string
	for _, c := range cases {
		if _, ok := seen[c.Paragraph.ID]; !ok {
			seen[c.Paragraph.ID] = struct{}{}
			positiveIDs = append(positiveIDs, c.Paragraph.ID)
		}
	}

	return &Window{
		Offset:                offset,
		Length:                length,
		TotalCases:            total,
		Cases:                 cases,
		PositiveParagraphIDs: positiveIDs,
	}, nil
}

func loadExplicitSlice(c *Corpus, index *datasetIndex, cfg Config) (string, Manifest, error) {
	candidatePath := cfg.ExplicitSlice
	if _, err := os.Stat(candidatePath); err != nil {
		candidatePath = filepath.Join(cfg.CacheDir, "slices", c.DatasetID, cfg.ExplicitSlice+".json")
	}

	manifest, err := readManifest(candidatePath)
	if err != nil {
		return "", Manifest{}, apperr.Wrap(apperr.KindValidation, "reading slice manifest at "+candidatePath, err)
	}
	if manifest.DatasetID != c.DatasetID {
		return "", Manifest{}, apperr.Newf(apperr.KindValidation, "slice %q targets dataset %q, but %q is loaded", manifest.SliceID, manifest.DatasetID, c.DatasetID)
	}
	if manifest.IncludesUnanswerable != cfg.IncludeUnanswerable {
		return "", Manifest{}, apperr.Newf(apperr.KindValidation, "slice %q includes_unanswerable mismatch (expected %v, found %v)", manifest.SliceID, cfg.IncludeUnanswerable, manifest.IncludesUnanswerable)
	}
	if manifest.RequireVerifiedChunks != cfg.RequireVerifiedChunks {
		return "", Manifest{}, apperr.Newf(apperr.KindValidation, "slice %q verified-chunk requirement mismatch (expected %v, found %v)", manifest.SliceID, cfg.RequireVerifiedChunks, manifest.RequireVerifiedChunks)
	}

	if _, err := manifestToResolved(c, index, *manifest, candidatePath); err != nil {
		return "", Manifest{}, err
	}
	return candidatePath, *manifest, nil
}

func emptyManifest(c *Corpus, sliceID string, params buildParams, requestedCorpus int, negativeMultiplier float32, requireVerifiedChunks bool, requestedLimit *int) Manifest {
	return Manifest{
		Version:               sliceVersion,
		SliceID:               sliceID,
		DatasetID:             c.DatasetID,
		DatasetLabel:          c.DatasetLabel,
		DatasetSource:         c.Source,
		IncludesUnanswerable:  params.includeImpossible,
		RequireVerifiedChunks: requireVerifiedChunks,
		Seed:                  params.baseSeed,
		RequestedLimit:        requestedLimit,
		RequestedCorpus:       requestedCorpus,
		NegativeMultiplier:    negativeMultiplier,
		GeneratedAt:           time.Now(),
	}
}

func ensureCaseCapacity(c *Corpus, manifest *Manifest, params buildParams, targetCases int) (bool, error) {
	if manifest.CaseCount >= targetCases {
		return false, nil
	}

	questionRefs, err := orderedQuestionRefs(c, params)
	if err != nil {
		return false, err
	}

	existingQuestions := make(map[string]struct{}, len(manifest.Cases))
	for _, cs := range manifest.Cases {
		existingQuestions[cs.QuestionID] = struct{}{}
	}
	paragraphPositions := make(map[string]int, len(manifest.Paragraphs))
	for i, entry := range manifest.Paragraphs {
		paragraphPositions[entry.ID] = i
	}

	changed := false
	for _, ref := range questionRefs {
		if manifest.CaseCount >= targetCases {
			break
		}
		paragraph := &c.Paragraphs[ref[0]]
		question := &paragraph.Questions[ref[1]]
		if _, ok := existingQuestions[question.ID]; ok {
			continue
		}
		existingQuestions[question.ID] = struct{}{}

		if idx, ok := paragraphPositions[paragraph.ID]; ok {
			entry := &manifest.Paragraphs[idx]
			if entry.Kind == KindPositive {
				if !containsString(entry.QuestionIDs, question.ID) {
					entry.QuestionIDs = append(entry.QuestionIDs, question.ID)
				}
			} else {
				entry.Kind = KindPositive
				entry.QuestionIDs = []string{question.ID}
			}
		} else {
			manifest.Paragraphs = append(manifest.Paragraphs, ParagraphEntry{
				ID:          paragraph.ID,
				Kind:        KindPositive,
				QuestionIDs: []string{question.ID},
				ShardPath:   DefaultShardPath(paragraph.ID),
			})
			paragraphPositions[paragraph.ID] = len(manifest.Paragraphs) - 1
		}

		manifest.Cases = append(manifest.Cases, CaseEntry{QuestionID: question.ID, ParagraphID: paragraph.ID})
		manifest.CaseCount++
		changed = true
	}

	if manifest.CaseCount < targetCases {
		return false, apperr.Newf(apperr.KindValidation, "only %d/%d eligible questions available for dataset %s", manifest.CaseCount, targetCases, c.DatasetID)
	}
	return changed, nil
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// orderedQuestionRefs returns every eligible (paragraph index, question
// index) pair, shuffled deterministically by params.rngSeed. A question
// is eligible when include-unanswerable is set, or it has at least one
// answer and isn't flagged impossible.
func orderedQuestionRefs(c *Corpus, params buildParams) ([][2]int, error) {
	var refs [][2]int
	for pi, paragraph := range c.Paragraphs {
		for qi, question := range paragraph.Questions {
			include := params.includeImpossible || (!question.IsImpossible && len(question.Answers) > 0)
			if include {
				refs = append(refs, [2]int{pi, qi})
			}
		}
	}
	if len(refs) == 0 {
		return nil, apperr.Newf(apperr.KindValidation, "no eligible questions found for dataset %s; cannot build slice", c.DatasetID)
	}

	rng := rand.New(rand.NewSource(int64(params.rngSeed)))
	rng.Shuffle(len(refs), func(i, j int) { refs[i], refs[j] = refs[j], refs[i] })
	return refs, nil
}

func ensureNegativePool(c *Corpus, manifest *Manifest, params buildParams, targetNegatives int) (bool, error) {
	currentNegatives := 0
	positiveIDs := make(map[string]struct{})
	negativeIDs := make(map[string]struct{})
	for _, entry := range manifest.Paragraphs {
		switch entry.Kind {
		case KindNegative:
			currentNegatives++
			negativeIDs[entry.ID] = struct{}{}
		case KindPositive:
			positiveIDs[entry.ID] = struct{}{}
		}
	}
	if currentNegatives >= targetNegatives {
		return false, nil
	}

	negativeSeed := mixSeed(c.DatasetID+"::negatives", params.baseSeed)
	candidates := orderedNegativeIndices(c, positiveIDs, negativeSeed)

	added := false
	for _, idx := range candidates {
		if len(negativeIDs) >= targetNegatives {
			break
		}
		paragraph := &c.Paragraphs[idx]
		if _, ok := negativeIDs[paragraph.ID]; ok {
			continue
		}
		if _, ok := positiveIDs[paragraph.ID]; ok {
			continue
		}
		manifest.Paragraphs = append(manifest.Paragraphs, ParagraphEntry{
			ID:        paragraph.ID,
			Kind:      KindNegative,
			ShardPath: DefaultShardPath(paragraph.ID),
		})
		negativeIDs[paragraph.ID] = struct{}{}
		added = true
	}
	return added, nil
}

func orderedNegativeIndices(c *Corpus, positiveIDs map[string]struct{}, rngSeed uint64) []int {
	var candidates []int
	for idx, paragraph := range c.Paragraphs {
		if _, ok := positiveIDs[paragraph.ID]; !ok {
			candidates = append(candidates, idx)
		}
	}
	rng := rand.New(rand.NewSource(int64(rngSeed)))
	rng.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	return candidates
}

func refreshManifestStats(manifest *Manifest) {
	manifest.CaseCount = len(manifest.Cases)
	positives, negatives := 0, 0
	for _, entry := range manifest.Paragraphs {
		switch entry.Kind {
		case KindPositive:
			positives++
		case KindNegative:
			negatives++
		}
	}
	manifest.PositiveParagraphs = positives
	manifest.NegativeParagraphs = negatives
	manifest.TotalParagraphs = len(manifest.Paragraphs)
}

func ensureShardPaths(manifest *Manifest) bool {
	changed := false
	for i := range manifest.Paragraphs {
		if manifest.Paragraphs[i].ShardPath == "" {
			manifest.Paragraphs[i].ShardPath = DefaultShardPath(manifest.Paragraphs[i].ID)
			changed = true
		}
	}
	return changed
}

// desiredNegativeTarget computes how many negatives to keep, capped by
// the requested corpus size — never evicting existing positives to make
// room.
func desiredNegativeTarget(positiveCount, requestedCorpus, corpusParagraphs int, multiplier float32) int {
	if positiveCount == 0 {
		return 0
	}
	ratio := multiplier
	if ratio < 0 {
		ratio = 0
	}
	desired := int(float32(positiveCount)*ratio + 0.999999)

	maxTotal := requestedCorpus
	if corpusParagraphs < maxTotal {
		maxTotal = corpusParagraphs
	}
	if maxTotal < positiveCount {
		maxTotal = positiveCount
	}
	maxNegatives := maxTotal - positiveCount
	if maxNegatives < 0 {
		maxNegatives = 0
	}
	if desired > maxNegatives {
		desired = maxNegatives
	}
	return desired
}

func manifestToResolved(c *Corpus, index *datasetIndex, manifest Manifest, path string) (*Resolved, error) {
	if manifest.Version != sliceVersion {
		return nil, apperr.Newf(apperr.KindValidation, "slice version %d does not match expected %d", manifest.Version, sliceVersion)
	}

	for _, entry := range manifest.Paragraphs {
		paragraph, err := index.paragraph(c, entry.ID)
		if err != nil {
			return nil, err
		}
		if entry.Kind == KindPositive {
			for _, qid := range entry.QuestionIDs {
				linked, _, err := index.question(c, qid)
				if err != nil {
					return nil, err
				}
				if linked.ID != paragraph.ID {
					return nil, apperr.Newf(apperr.KindValidation, "slice question %q expected paragraph %q, found %q", qid, paragraph.ID, linked.ID)
				}
			}
		}
	}

	cases := make([]CaseRef, 0, len(manifest.Cases))
	for _, cs := range manifest.Cases {
		paragraph, question, err := index.question(c, cs.QuestionID)
		if err != nil {
			return nil, err
		}
		if paragraph.ID != cs.ParagraphID {
			return nil, apperr.Newf(apperr.KindValidation, "slice case %q expected paragraph %q, found %q", cs.QuestionID, cs.ParagraphID, paragraph.ID)
		}
		cases = append(cases, CaseRef{Paragraph: paragraph, Question: question})
	}

	return &Resolved{Manifest: manifest, Path: path, Cases: cases}, nil
}

func readManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "reading slice manifest "+path, err)
	}
	var manifest Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "parsing slice manifest "+path, err)
	}
	return &manifest, nil
}

func writeManifest(path string, manifest *Manifest) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return apperr.Wrap(apperr.KindInternal, "creating slice directory "+dir, err)
		}
	}
	payload, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "serializing slice manifest", err)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return apperr.Wrap(apperr.KindInternal, "writing slice manifest "+path, err)
	}
	return nil
}

// VerifyBinding checks that every case and paragraph entry in manifest
// still resolves against corpus. In strict mode it additionally
// requires every positive paragraph's bound questions to still list
// that exact paragraph (catching a corpus re-conversion that
// reassigned a question to a different paragraph); in lax mode it only
// checks that every referenced id still exists.
func VerifyBinding(c *Corpus, manifest *Manifest, strict bool) error {
	index := buildIndex(c)
	for _, entry := range manifest.Paragraphs {
		paragraph, err := index.paragraph(c, entry.ID)
		if err != nil {
			return err
		}
		if !strict {
			continue
		}
		if entry.Kind != KindPositive {
			continue
		}
		for _, qid := range entry.QuestionIDs {
			linked, _, err := index.question(c, qid)
			if err != nil {
				return err
			}
			if linked.ID != paragraph.ID {
				return apperr.Newf(apperr.KindValidation, "question %q is bound to paragraph %q in the slice but %q in the corpus", qid, paragraph.ID, linked.ID)
			}
		}
	}
	for _, cs := range manifest.Cases {
		if _, _, err := index.question(c, cs.QuestionID); err != nil {
			return err
		}
	}
	return nil
}
