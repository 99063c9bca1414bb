package evaluation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/perstarkse/minnego/internal/corpus"
)

// Summary is the full evaluation report, mirroring eval's
// EvaluationSummary — serialized verbatim to JSON and rendered to
// Markdown by RenderMarkdown.
type Summary struct {
	GeneratedAt time.Time `json:"generated_at"`
	RunLabel    string    `json:"run_label,omitempty"`

	DatasetID           string `json:"dataset_id"`
	DatasetLabel        string `json:"dataset_label"`
	DatasetSource       string `json:"dataset_source"`
	IncludesUnanswerable bool  `json:"includes_unanswerable"`

	SliceID               string  `json:"slice_id"`
	SliceSeed             uint64  `json:"slice_seed"`
	SliceTotalCases       int     `json:"slice_total_cases"`
	SliceWindowOffset     int     `json:"slice_window_offset"`
	SliceWindowLength     int     `json:"slice_window_length"`
	SliceCases            int     `json:"slice_cases"`
	SliceNegativeParagraphs int   `json:"slice_negative_paragraphs"`
	SliceTotalParagraphs  int     `json:"slice_total_paragraphs"`
	SliceNegativeMultiplier float32 `json:"slice_negative_multiplier"`

	CorpusParagraphs int `json:"corpus_paragraphs"`

	PositiveParagraphsReused int `json:"positive_paragraphs_reused"`
	PositiveParagraphsIngested int `json:"positive_paragraphs_ingested"`
	NegativeParagraphsReused int `json:"negative_paragraphs_reused"`
	NegativeParagraphsIngested int `json:"negative_paragraphs_ingested"`
	IngestionMS              int64 `json:"ingestion_ms"`

	K             int  `json:"k"`
	Limit         *int `json:"limit,omitempty"`
	Concurrency   int64 `json:"concurrency"`
	DetailedReport bool `json:"detailed_report"`

	RerankEnabled bool `json:"rerank_enabled"`

	TotalCases    int     `json:"total_cases"`
	Correct       int     `json:"correct"`
	Precision     float64 `json:"precision"`
	PrecisionAt1  float64 `json:"precision_at_1"`
	PrecisionAt2  float64 `json:"precision_at_2"`
	PrecisionAt3  float64 `json:"precision_at_3"`

	DurationMS int64        `json:"duration_ms"`
	LatencyMS  LatencyStats `json:"latency_ms"`
	StageLatency map[string]LatencyStats `json:"stage_latency"`

	Cases []CaseResult `json:"cases,omitempty"`
}

func buildSummary(c *corpus.Corpus, resolved *corpus.Resolved, window *corpus.Window, cfg Config, cases []CaseResult, ingestStats IngestStats, ingestDur time.Duration, started time.Time) *Summary {
	var correct int
	latencies := make([]time.Duration, 0, len(cases))
	stageLatencies := make(map[string][]time.Duration)
	for _, cs := range cases {
		if cs.Matched {
			correct++
		}
		latencies = append(latencies, cs.Latency)
		for stage, d := range cs.StageLatencies {
			stageLatencies[stage] = append(stageLatencies[stage], d)
		}
	}

	stageSummary := make(map[string]LatencyStats, len(stageLatencies))
	for stage, ds := range stageLatencies {
		stageSummary[stage] = computeLatencyStats(ds)
	}

	total := len(cases)
	precision := 0.0
	if total > 0 {
		precision = float64(correct) / float64(total)
	}

	summary := &Summary{
		GeneratedAt:          started.UTC(),
		RunLabel:             cfg.RunLabel,
		DatasetID:            c.DatasetID,
		DatasetLabel:         c.DatasetLabel,
		DatasetSource:        c.Source,
		IncludesUnanswerable: cfg.Slice.IncludeUnanswerable,

		SliceID:                 resolved.Manifest.SliceID,
		SliceSeed:               resolved.Manifest.Seed,
		SliceTotalCases:         resolved.Manifest.CaseCount,
		SliceWindowOffset:       window.Offset,
		SliceWindowLength:       window.Length,
		SliceCases:              len(window.Cases),
		SliceNegativeParagraphs: resolved.Manifest.NegativeParagraphs,
		SliceTotalParagraphs:    resolved.Manifest.TotalParagraphs,
		SliceNegativeMultiplier: resolved.Manifest.NegativeMultiplier,

		CorpusParagraphs: len(c.Paragraphs),

		PositiveParagraphsReused:   ingestStats.PositiveReused,
		PositiveParagraphsIngested: ingestStats.PositiveIngested,
		NegativeParagraphsReused:   ingestStats.NegativeReused,
		NegativeParagraphsIngested: ingestStats.NegativeIngested,
		IngestionMS:                ingestDur.Milliseconds(),

		K:              cfg.K,
		Limit:          cfg.Limit,
		Concurrency:    cfg.Concurrency,
		DetailedReport: cfg.DetailedReport,
		RerankEnabled:  cfg.RerankEnabled,

		TotalCases:   total,
		Correct:      correct,
		Precision:    precision,
		PrecisionAt1: precisionAtRank(cases, 1),
		PrecisionAt2: precisionAtRank(cases, 2),
		PrecisionAt3: precisionAtRank(cases, 3),

		DurationMS:   time.Since(started).Milliseconds(),
		LatencyMS:    computeLatencyStats(latencies),
		StageLatency: stageSummary,
		Cases:        cases,
	}
	return summary
}

// ReportPaths is where WriteReports wrote the JSON and Markdown
// reports for a run.
type ReportPaths struct {
	JSON     string
	Markdown string
}

// WriteReports writes dataset-scoped JSON/Markdown reports plus
// latest.json/latest.md pointers, and appends a history row to
// evaluations.json, mirroring report.rs's write_reports.
func WriteReports(summary *Summary, reportDir string, sample int) (ReportPaths, error) {
	if err := os.MkdirAll(reportDir, 0o755); err != nil {
		return ReportPaths{}, fmt.Errorf("creating report directory: %w", err)
	}
	datasetDir := filepath.Join(reportDir, sanitizeComponent(summary.DatasetID))
	if err := os.MkdirAll(datasetDir, 0o755); err != nil {
		return ReportPaths{}, fmt.Errorf("creating dataset report directory: %w", err)
	}

	stem := buildReportStem(summary)

	reported := summary
	if !summary.DetailedReport {
		trimmed := *summary
		trimmed.Cases = nil
		for _, c := range summary.Cases {
			if !c.Matched {
				trimmed.Cases = append(trimmed.Cases, c)
			}
		}
		reported = &trimmed
	}
	jsonBlob, err := json.MarshalIndent(reported, "", "  ")
	if err != nil {
		return ReportPaths{}, fmt.Errorf("serializing JSON report: %w", err)
	}
	jsonPath := filepath.Join(datasetDir, stem+".json")
	if err := os.WriteFile(jsonPath, jsonBlob, 0o644); err != nil {
		return ReportPaths{}, fmt.Errorf("writing JSON report: %w", err)
	}

	markdown := RenderMarkdown(summary, sample)
	mdPath := filepath.Join(datasetDir, stem+".md")
	if err := os.WriteFile(mdPath, []byte(markdown), 0o644); err != nil {
		return ReportPaths{}, fmt.Errorf("writing Markdown report: %w", err)
	}

	if err := os.WriteFile(filepath.Join(datasetDir, "latest.json"), jsonBlob, 0o644); err != nil {
		return ReportPaths{}, fmt.Errorf("writing latest JSON report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(datasetDir, "latest.md"), []byte(markdown), 0o644); err != nil {
		return ReportPaths{}, fmt.Errorf("writing latest Markdown report: %w", err)
	}

	if err := recordHistory(summary, datasetDir); err != nil {
		return ReportPaths{}, err
	}

	return ReportPaths{JSON: jsonPath, Markdown: mdPath}, nil
}

func sanitizeComponent(input string) string {
	var b strings.Builder
	for _, ch := range input {
		if (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') {
			b.WriteRune(ch)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func buildReportStem(summary *Summary) string {
	timestamp := summary.GeneratedAt.Format("20060102T150405")
	return fmt.Sprintf("precision_at_%d_%s_%s", summary.K, sanitizeComponent(summary.DatasetID), timestamp)
}

// RenderMarkdown renders a human-readable summary table plus a sample
// of missed queries, mirroring report.rs's render_markdown.
func RenderMarkdown(summary *Summary, sample int) string {
	var md strings.Builder

	fmt.Fprintf(&md, "# Retrieval Precision@%d\n\n", summary.K)
	md.WriteString("| Metric | Value |\n| --- | --- |\n")
	fmt.Fprintf(&md, "| Generated | %s |\n", summary.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&md, "| Dataset | %s (`%s`) |\n", summary.DatasetLabel, summary.DatasetID)
	label := summary.RunLabel
	if label == "" {
		label = "-"
	}
	fmt.Fprintf(&md, "| Run Label | %s |\n", label)
	fmt.Fprintf(&md, "| Unanswerable Included | %s |\n", yesNo(summary.IncludesUnanswerable))
	fmt.Fprintf(&md, "| Dataset Source | %s |\n", summary.DatasetSource)
	fmt.Fprintf(&md, "| Slice ID | `%s` |\n", summary.SliceID)
	fmt.Fprintf(&md, "| Slice Seed | %d |\n", summary.SliceSeed)
	fmt.Fprintf(&md, "| Slice Total Questions | %d |\n", summary.SliceTotalCases)
	fmt.Fprintf(&md, "| Slice Window (offset/length) | %d/%d |\n", summary.SliceWindowOffset, summary.SliceWindowLength)
	fmt.Fprintf(&md, "| Slice Window Questions | %d |\n", summary.SliceCases)
	fmt.Fprintf(&md, "| Slice Negatives | %d |\n", summary.SliceNegativeParagraphs)
	fmt.Fprintf(&md, "| Slice Total Paragraphs | %d |\n", summary.SliceTotalParagraphs)
	fmt.Fprintf(&md, "| Slice Negative Multiplier | %.2f |\n", summary.SliceNegativeMultiplier)
	fmt.Fprintf(&md, "| Corpus Paragraphs | %d |\n", summary.CorpusParagraphs)
	fmt.Fprintf(&md, "| Ingestion Duration | %d ms |\n", summary.IngestionMS)
	fmt.Fprintf(&md, "| Positives Cached | %d |\n", summary.PositiveParagraphsReused)
	fmt.Fprintf(&md, "| Negatives Cached | %d |\n", summary.NegativeParagraphsReused)
	if summary.Limit != nil {
		fmt.Fprintf(&md, "| Evaluated Queries | %d (limit %d) |\n", summary.TotalCases, *summary.Limit)
	} else {
		fmt.Fprintf(&md, "| Evaluated Queries | %d |\n", summary.TotalCases)
	}
	if summary.RerankEnabled {
		md.WriteString("| Rerank | enabled |\n")
	} else {
		md.WriteString("| Rerank | disabled |\n")
	}
	fmt.Fprintf(&md, "| Concurrency | %d |\n", summary.Concurrency)
	fmt.Fprintf(&md, "| Correct@%d | %d/%d |\n", summary.K, summary.Correct, summary.TotalCases)
	fmt.Fprintf(&md, "| Precision@%d | %.3f |\n", summary.K, summary.Precision)
	fmt.Fprintf(&md, "| Precision@1 | %.3f |\n", summary.PrecisionAt1)
	fmt.Fprintf(&md, "| Precision@2 | %.3f |\n", summary.PrecisionAt2)
	fmt.Fprintf(&md, "| Precision@3 | %.3f |\n", summary.PrecisionAt3)
	fmt.Fprintf(&md, "| Duration | %d ms |\n", summary.DurationMS)
	fmt.Fprintf(&md, "| Latency Avg (ms) | %.1f |\n", summary.LatencyMS.Avg)
	fmt.Fprintf(&md, "| Latency P50 (ms) | %d |\n", summary.LatencyMS.P50)
	fmt.Fprintf(&md, "| Latency P95 (ms) | %d |\n", summary.LatencyMS.P95)

	md.WriteString("\n## Retrieval Stage Timings\n\n")
	md.WriteString("| Stage | Avg (ms) | P50 (ms) | P95 (ms) |\n| --- | --- | --- | --- |\n")
	for _, stage := range stageNames {
		stats := summary.StageLatency[stage]
		fmt.Fprintf(&md, "| %s | %.1f | %d | %d |\n", stage, stats.Avg, stats.P50, stats.P95)
	}

	misses := make([]CaseResult, 0)
	for _, c := range summary.Cases {
		if !c.Matched {
			misses = append(misses, c)
		}
	}
	if len(misses) == 0 {
		md.WriteString("\n_All evaluated queries matched within the top-k window._\n")
	} else {
		md.WriteString("\n## Missed Queries (sample)\n\n")
		md.WriteString("| Question ID | Paragraph | Expected Source | Top Retrieved |\n| --- | --- | --- | --- |\n")
		if sample <= 0 {
			sample = 5
		}
		for i, c := range misses {
			if i >= sample {
				break
			}
			var retrieved []string
			for j, r := range c.Retrieved {
				if j >= 3 {
					break
				}
				retrieved = append(retrieved, fmt.Sprintf("%s (rank %d)", r.SourceID, r.Rank))
			}
			fmt.Fprintf(&md, "| `%s` | %s | `%s` | %s |\n", c.QuestionID, c.ParagraphTitle, c.ExpectedSource, strings.Join(retrieved, "<br>"))
		}
	}

	return md.String()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

type historyEntry struct {
	GeneratedAt  string       `json:"generated_at"`
	RunLabel     string       `json:"run_label,omitempty"`
	DatasetID    string       `json:"dataset_id"`
	SliceID      string       `json:"slice_id"`
	SliceSeed    uint64       `json:"slice_seed"`
	K            int          `json:"k"`
	Limit        *int         `json:"limit,omitempty"`
	Precision    float64      `json:"precision"`
	PrecisionAt1 float64      `json:"precision_at_1"`
	DurationMS   int64        `json:"duration_ms"`
	LatencyMS    LatencyStats `json:"latency_ms"`
	Delta        *historyDelta `json:"delta,omitempty"`
}

type historyDelta struct {
	Precision      float64 `json:"precision"`
	PrecisionAt1   float64 `json:"precision_at_1"`
	LatencyAvgMS   float64 `json:"latency_avg_ms"`
}

// recordHistory appends one entry to reportDir/evaluations.json,
// computing a delta against the previous run, mirroring report.rs's
// record_history.
func recordHistory(summary *Summary, reportDir string) error {
	path := filepath.Join(reportDir, "evaluations.json")

	var entries []historyEntry
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &entries)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("reading evaluation log: %w", err)
	}

	var delta *historyDelta
	if len(entries) > 0 {
		prev := entries[len(entries)-1]
		delta = &historyDelta{
			Precision:    summary.Precision - prev.Precision,
			PrecisionAt1: summary.PrecisionAt1 - prev.PrecisionAt1,
			LatencyAvgMS: summary.LatencyMS.Avg - prev.LatencyMS.Avg,
		}
	}

	entries = append(entries, historyEntry{
		GeneratedAt:  summary.GeneratedAt.Format(time.RFC3339),
		RunLabel:     summary.RunLabel,
		DatasetID:    summary.DatasetID,
		SliceID:      summary.SliceID,
		SliceSeed:    summary.SliceSeed,
		K:            summary.K,
		Limit:        summary.Limit,
		Precision:    summary.Precision,
		PrecisionAt1: summary.PrecisionAt1,
		DurationMS:   summary.DurationMS,
		LatencyMS:    summary.LatencyMS,
		Delta:        delta,
	})

	blob, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing evaluation log: %w", err)
	}
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return fmt.Errorf("writing evaluation log: %w", err)
	}
	return nil
}
