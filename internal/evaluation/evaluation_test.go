package evaluation

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/perstarkse/minnego/internal/config"
	"github.com/perstarkse/minnego/internal/corpus"
	"github.com/perstarkse/minnego/internal/embedding"
	"github.com/perstarkse/minnego/internal/store/memstore"
)

func sampleEvalCorpus() *corpus.Corpus {
	return &corpus.Corpus{
		DatasetID:    "squad-v2-mini",
		DatasetLabel: "SQuAD v2 (mini)",
		Source:       "test-fixture",
		Paragraphs: []corpus.Paragraph{
			{
				ID:      "para-alpha",
				Title:   "Alpha",
				Context: "The Alpha project began in 1998. It was founded by a small research team. The team later split into two groups.",
				Questions: []corpus.Question{
					{ID: "q-alpha-1", Text: "When did the Alpha project begin?", Answers: []string{"1998"}},
				},
			},
			{
				ID:      "para-beta",
				Title:   "Beta",
				Context: "The Beta initiative focuses on renewable energy. Its headquarters is in Lisbon. Beta launched its first solar plant in 2004.",
				Questions: []corpus.Question{
					{ID: "q-beta-1", Text: "Where is the Beta initiative headquartered?", Answers: []string{"Lisbon"}},
				},
			},
			{ID: "para-gamma", Title: "Gamma", Context: "Gamma is an unrelated distractor paragraph about cartography."},
			{ID: "para-delta", Title: "Delta", Context: "Delta is another distractor paragraph about migratory birds."},
		},
	}
}

func newTestDriver() *Driver {
	st := memstore.New()
	prov := embedding.NewHashed(8)
	return NewDriver(st, prov, nil)
}

func TestDriverRun_ProducesSummaryWithinWindow(t *testing.T) {
	cacheDir := t.TempDir()
	d := newTestDriver()
	c := sampleEvalCorpus()

	cfg := DefaultConfig()
	cfg.RerankEnabled = false
	cfg.Retrieval = config.DefaultRetrievalTuning()
	cfg.Slice = corpus.Config{
		CacheDir:           cacheDir,
		SliceSeed:          7,
		NegativeMultiplier: 1,
	}

	summary, err := d.Run(context.Background(), c, cfg)
	require.NoError(t, err)
	require.NotNil(t, summary)

	require.Equal(t, 2, summary.TotalCases)
	require.Equal(t, c.DatasetID, summary.DatasetID)
	require.Len(t, summary.Cases, 2)
	require.GreaterOrEqual(t, summary.IngestionMS, int64(0))
	require.Equal(t, 2, summary.PositiveParagraphsIngested)

	for _, cs := range summary.Cases {
		require.NotEmpty(t, cs.StageLatencies)
		for _, name := range stageNames {
			_, ok := cs.StageLatencies[name]
			require.True(t, ok, "missing stage timing for %s", name)
		}
	}
}

func TestDriverRun_ReusesAlreadyIngestedParagraphs(t *testing.T) {
	cacheDir := t.TempDir()
	d := newTestDriver()
	c := sampleEvalCorpus()

	cfg := DefaultConfig()
	cfg.RerankEnabled = false
	cfg.Slice = corpus.Config{
		CacheDir:           cacheDir,
		SliceSeed:          7,
		NegativeMultiplier: 1,
	}

	_, err := d.Run(context.Background(), c, cfg)
	require.NoError(t, err)

	second, err := d.Run(context.Background(), c, cfg)
	require.NoError(t, err)
	require.Equal(t, 0, second.PositiveParagraphsIngested)
	require.Equal(t, 2, second.PositiveParagraphsReused)
}

func TestDriverRun_BoundsConcurrencyAndRespectsLimit(t *testing.T) {
	cacheDir := t.TempDir()
	d := newTestDriver()
	c := sampleEvalCorpus()

	limit := 1
	cfg := DefaultConfig()
	cfg.RerankEnabled = false
	cfg.Concurrency = 1
	cfg.Limit = &limit
	cfg.Slice = corpus.Config{
		CacheDir:           cacheDir,
		SliceSeed:          7,
		NegativeMultiplier: 1,
	}

	summary, err := d.Run(context.Background(), c, cfg)
	require.NoError(t, err)
	require.Equal(t, 1, summary.TotalCases)
}

func TestWriteReports_WritesJSONMarkdownAndHistory(t *testing.T) {
	cacheDir := t.TempDir()
	reportDir := t.TempDir()
	d := newTestDriver()
	c := sampleEvalCorpus()

	cfg := DefaultConfig()
	cfg.RerankEnabled = false
	cfg.Slice = corpus.Config{
		CacheDir:           cacheDir,
		SliceSeed:          7,
		NegativeMultiplier: 1,
	}

	summary, err := d.Run(context.Background(), c, cfg)
	require.NoError(t, err)

	paths, err := WriteReports(summary, reportDir, 5)
	require.NoError(t, err)
	require.FileExists(t, paths.JSON)
	require.FileExists(t, paths.Markdown)

	datasetDir := filepath.Join(reportDir, sanitizeComponent(summary.DatasetID))
	require.FileExists(t, filepath.Join(datasetDir, "latest.json"))
	require.FileExists(t, filepath.Join(datasetDir, "latest.md"))

	historyPath := filepath.Join(datasetDir, "evaluations.json")
	raw, err := os.ReadFile(historyPath)
	require.NoError(t, err)
	require.Contains(t, string(raw), summary.SliceID)

	// A second run appends a second history entry with a delta against
	// the first.
	second, err := d.Run(context.Background(), c, cfg)
	require.NoError(t, err)
	_, err = WriteReports(second, reportDir, 5)
	require.NoError(t, err)

	raw, err = os.ReadFile(historyPath)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"delta"`)
}

func TestSplitIntoChunks_PacksSentencesWithinBounds(t *testing.T) {
	text := "Sentence one is short. Sentence two is also fairly short. Sentence three adds a bit more length to the paragraph."
	chunks := splitIntoChunks(text, 20, 60)
	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		require.LessOrEqual(t, len(chunk), 70) // a single oversized sentence may still exceed maxChars slightly
	}
}

func TestSplitIntoChunks_EmptyTextProducesNoChunks(t *testing.T) {
	require.Empty(t, splitIntoChunks("   ", 10, 100))
}

func TestSplitSentences_KeepsTerminatorsAndDropsBlankParts(t *testing.T) {
	sentences := splitSentences("First one. Second one.  . Third one")
	require.Equal(t, []string{"First one.", "Second one.", "Third one"}, sentences)
}

func TestContainsAnyAnswer_IsCaseInsensitive(t *testing.T) {
	require.True(t, containsAnyAnswer("The Beta initiative is based in LISBON.", []string{"lisbon"}))
	require.False(t, containsAnyAnswer("No relevant text here.", []string{"Lisbon"}))
	require.False(t, containsAnyAnswer("anything", nil))
}

func TestComputeLatencyStats_AveragesAndPercentiles(t *testing.T) {
	stats := computeLatencyStats([]time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		30 * time.Millisecond,
		40 * time.Millisecond,
	})
	require.InDelta(t, 25.0, stats.Avg, 0.001)
	require.Equal(t, int64(30), stats.P50)
	require.Equal(t, int64(40), stats.P95)
}

func TestComputeLatencyStats_EmptyInputIsZeroValue(t *testing.T) {
	require.Equal(t, LatencyStats{}, computeLatencyStats(nil))
}

func TestPrecisionAtRank_OnlyCountsHitsAtOrBelowRank(t *testing.T) {
	cases := []CaseResult{
		{
			ExpectedSource: "p1",
			Retrieved: []RetrievedRef{
				{SourceID: "other", Rank: 1},
				{SourceID: "p1", Rank: 2},
			},
		},
		{
			ExpectedSource: "p2",
			Retrieved: []RetrievedRef{
				{SourceID: "p2", Rank: 1},
			},
		},
	}
	require.Equal(t, 0.5, precisionAtRank(cases, 1))
	require.Equal(t, 1.0, precisionAtRank(cases, 2))
}

func TestSanitizeComponent_ReplacesNonAlphanumerics(t *testing.T) {
	require.Equal(t, "squad_v2_mini", sanitizeComponent("squad-v2/mini"))
}
