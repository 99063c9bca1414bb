package corpus

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleCorpus() *Corpus {
	return &Corpus{
		DatasetID:    "squad-v2-test",
		DatasetLabel: "SQuAD v2 (test)",
		Source:       "test-source",
		Paragraphs: []Paragraph{
			{
				ID:      "p1",
				Title:   "Alpha",
				Context: "Alpha context",
				Questions: []Question{
					{ID: "q1", Text: "What is alpha?", Answers: []string{"a thing"}},
				},
			},
			{
				ID:      "p2",
				Title:   "Beta",
				Context: "Beta context",
				Questions: []Question{
					{ID: "q2", Text: "What is beta?", Answers: []string{"another thing"}},
					{ID: "q3", Text: "Unanswerable?", IsImpossible: true},
				},
			},
			{ID: "p3", Title: "Gamma", Context: "Gamma context, no questions"},
			{ID: "p4", Title: "Delta", Context: "Delta context, no questions"},
			{ID: "p5", Title: "Epsilon", Context: "Epsilon context, no questions"},
		},
	}
}

func TestResolveSlice_DeterministicAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	c := sampleCorpus()
	limit := 2
	cfg := Config{
		CacheDir:           dir,
		SliceSeed:          42,
		NegativeMultiplier: 2,
		Limit:              &limit,
	}

	first, err := ResolveSlice(c, cfg)
	require.NoError(t, err)
	require.NotZero(t, first.Manifest.CaseCount)

	second, err := ResolveSlice(c, cfg)
	require.NoError(t, err)

	require.Equal(t, first.Manifest.SliceID, second.Manifest.SliceID)
	require.Equal(t, first.Manifest.CaseCount, second.Manifest.CaseCount)
	require.Equal(t, first.Path, second.Path)
	require.FileExists(t, first.Path)
}

func TestResolveSlice_ExcludesUnansweredQuestionsByDefault(t *testing.T) {
	dir := t.TempDir()
	c := sampleCorpus()
	limit := 2
	cfg := Config{CacheDir: dir, SliceSeed: 1, Limit: &limit}

	resolved, err := ResolveSlice(c, cfg)
	require.NoError(t, err)

	for _, cs := range resolved.Cases {
		require.False(t, cs.Question.IsImpossible)
	}
}

func TestResolveSlice_IncludeUnanswerablePullsInImpossibleQuestions(t *testing.T) {
	dir := t.TempDir()
	c := sampleCorpus()
	cfg := Config{CacheDir: dir, SliceSeed: 1, IncludeUnanswerable: true}

	resolved, err := ResolveSlice(c, cfg)
	require.NoError(t, err)
	require.Equal(t, 3, resolved.Manifest.CaseCount)
}

func TestResolveSlice_NegativePoolRespectsMultiplier(t *testing.T) {
	dir := t.TempDir()
	c := sampleCorpus()
	limit := 2
	cfg := Config{CacheDir: dir, SliceSeed: 7, NegativeMultiplier: 1, Limit: &limit}

	resolved, err := ResolveSlice(c, cfg)
	require.NoError(t, err)
	require.Equal(t, resolved.Manifest.PositiveParagraphs, resolved.Manifest.NegativeParagraphs)
}

func TestSelectWindow_RespectsOffsetAndLimit(t *testing.T) {
	dir := t.TempDir()
	c := sampleCorpus()
	cfg := Config{CacheDir: dir, SliceSeed: 3, IncludeUnanswerable: true}

	resolved, err := ResolveSlice(c, cfg)
	require.NoError(t, err)
	require.Equal(t, 3, resolved.Manifest.CaseCount)

	limit := 1
	window, err := SelectWindow(resolved, 1, &limit)
	require.NoError(t, err)
	require.Equal(t, 1, window.Length)
	require.Equal(t, 3, window.TotalCases)
	require.Len(t, window.Cases, 1)
}

func TestSelectWindow_OffsetBeyondCasesErrors(t *testing.T) {
	dir := t.TempDir()
	c := sampleCorpus()
	limit := 2
	resolved, err := ResolveSlice(c, Config{CacheDir: dir, SliceSeed: 9, Limit: &limit})
	require.NoError(t, err)

	_, err = SelectWindow(resolved, resolved.Manifest.CaseCount+1, nil)
	require.Error(t, err)
}

func TestVerifyBinding_StrictDetectsReassignedQuestion(t *testing.T) {
	dir := t.TempDir()
	c := sampleCorpus()
	limit := 2
	resolved, err := ResolveSlice(c, Config{CacheDir: dir, SliceSeed: 11, Limit: &limit})
	require.NoError(t, err)

	manifest := resolved.Manifest
	require.NoError(t, VerifyBinding(c, &manifest, true))
	require.NoError(t, VerifyBinding(c, &manifest, false))

	// Reassign q1's owning paragraph in the live corpus without updating
	// the manifest — strict verification must catch the mismatch.
	mutated := sampleCorpus()
	mutated.Paragraphs[1].Questions = append(mutated.Paragraphs[1].Questions, mutated.Paragraphs[0].Questions[0])
	mutated.Paragraphs[0].Questions = nil

	err = VerifyBinding(mutated, &manifest, true)
	require.Error(t, err)
}

func TestDefaultShardPath_SanitizesAndIsStable(t *testing.T) {
	a := DefaultShardPath("weird id/with:chars")
	b := DefaultShardPath("weird id/with:chars")
	require.Equal(t, a, b)
	require.True(t, filepath.IsAbs(a) == false)
}

func TestDesiredNegativeTarget_NeverExceedsCorpusMinusPositives(t *testing.T) {
	require.Equal(t, 0, desiredNegativeTarget(0, 10, 10, 4))
	require.Equal(t, 3, desiredNegativeTarget(2, 5, 10, 1.5))
	require.Equal(t, 0, desiredNegativeTarget(5, 5, 10, 4))
}
