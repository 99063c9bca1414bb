// Package evaluation implements the Evaluation Driver (spec 4.I): it
// resolves a dataset slice (internal/corpus), makes sure every
// paragraph in the slice is ingested into the live store, runs the
// hybrid retrieval pipeline concurrently over every question in the
// requested window, and aggregates the results into a precision@k
// report. Grounded on eval/src/{args,eval/mod,report}.rs, adapted from
// a SurrealDB namespace-per-run design onto a single Postgres store:
// reuse is decided per paragraph (by content hash) rather than by
// recreating or reusing an entire database namespace.
package evaluation

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/perstarkse/minnego/internal/config"
	"github.com/perstarkse/minnego/internal/corpus"
	"github.com/perstarkse/minnego/internal/embedding"
	"github.com/perstarkse/minnego/internal/rerank"
	"github.com/perstarkse/minnego/internal/retrieval"
	"github.com/perstarkse/minnego/internal/store"
)

// EvalUserID is the synthetic user every evaluation corpus is ingested
// and queried under, grounded on the original's ensure_eval_user
// "eval-user" fixture.
const EvalUserID = "eval-user"

// DefaultSliceSeed mirrors eval/src/args.rs's DEFAULT_SLICE_SEED.
const DefaultSliceSeed uint64 = 0x5eed2025

// Config controls one evaluation run. It generalizes the part of
// eval/src/args.rs's Config this driver owns; dataset conversion,
// SurrealDB namespace flags, and perf-log file plumbing are handled by
// cmd/eval and internal/corpus, not here.
type Config struct {
	K              int
	Offset         int
	Limit          *int
	Concurrency    int64
	RunLabel       string
	DetailedReport bool
	RerankEnabled  bool
	Retrieval      config.RetrievalTuning
	Strategy       retrieval.Strategy
	Slice          corpus.Config
	ChunkMinChars  int
	ChunkMaxChars  int
}

// DefaultConfig mirrors eval/src/args.rs's Config::default for the
// fields this driver owns.
func DefaultConfig() Config {
	return Config{
		K:             5,
		Concurrency:   4,
		ChunkMinChars: 500,
		ChunkMaxChars: 2000,
		Retrieval:     config.DefaultRetrievalTuning(),
		Strategy:      retrieval.StrategyInitial,
		RerankEnabled: true,
		Slice: corpus.Config{
			SliceSeed:             DefaultSliceSeed,
			NegativeMultiplier:    corpus.DefaultNegativeMultiplier,
			RequireVerifiedChunks: true,
		},
	}
}

// Driver runs evaluations against a live store, embedding provider, and
// (optional) reranker pool.
type Driver struct {
	Store      store.Store
	Embedding  embedding.Provider
	RerankPool *rerank.Pool
}

// NewDriver builds a Driver. pool may be nil to disable reranking
// regardless of cfg.RerankEnabled.
func NewDriver(st store.Store, prov embedding.Provider, pool *rerank.Pool) *Driver {
	return &Driver{Store: st, Embedding: prov, RerankPool: pool}
}

// Run resolves a slice of c, ensures its paragraphs are ingested into
// the store, runs retrieval concurrently over every case in the
// requested window, and returns the aggregated Summary.
func (d *Driver) Run(ctx context.Context, c *corpus.Corpus, cfg Config) (*Summary, error) {
	started := time.Now()

	resolved, err := corpus.ResolveSlice(c, cfg.Slice)
	if err != nil {
		return nil, fmt.Errorf("resolving slice: %w", err)
	}
	window, err := corpus.SelectWindow(resolved, cfg.Offset, cfg.Limit)
	if err != nil {
		return nil, fmt.Errorf("selecting window: %w", err)
	}

	ingestStats, ingestDur, err := d.ensureIngested(ctx, c, resolved, cfg)
	if err != nil {
		return nil, fmt.Errorf("ensuring corpus ingested: %w", err)
	}

	cases, err := d.runCases(ctx, window, cfg)
	if err != nil {
		return nil, err
	}

	return buildSummary(c, resolved, window, cfg, cases, ingestStats, ingestDur, started), nil
}

// runCases runs the hybrid retrieval pipeline over every case in
// window, bounded to cfg.Concurrency in flight at once via a weighted
// semaphore (the Go analogue of the original's tokio task pool fed by
// --concurrency).
func (d *Driver) runCases(ctx context.Context, window *corpus.Window, cfg Config) ([]CaseResult, error) {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	sem := semaphore.NewWeighted(concurrency)

	results := make([]CaseResult, len(window.Cases))
	group, gctx := errgroup.WithContext(ctx)

	for i, ref := range window.Cases {
		i, ref := i, ref
		group.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			result, err := d.runCase(gctx, ref, cfg)
			if err != nil {
				return fmt.Errorf("case %s: %w", ref.Question.ID, err)
			}
			results[i] = result
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// runCase executes one retrieval run and scores it against the
// expected paragraph/chunk set.
func (d *Driver) runCase(ctx context.Context, ref corpus.CaseRef, cfg Config) (CaseResult, error) {
	var lease *rerank.Lease
	if cfg.RerankEnabled && d.RerankPool != nil {
		acquired, err := d.RerankPool.Acquire(ctx)
		if err != nil {
			return CaseResult{}, err
		}
		lease = acquired
		defer lease.Release()
	}

	strategy := cfg.Strategy
	if strategy == "" {
		strategy = retrieval.StrategyInitial
	}
	pc := retrieval.NewContext(d.Store, d.Embedding, lease, ref.Question.Text, EvalUserID, cfg.Retrieval)

	started := time.Now()
	stages := retrieval.StagesFor(strategy)
	timings, err := runStagesTimed(ctx, pc, stages, stageNamesFor(strategy))
	if err != nil {
		return CaseResult{}, err
	}
	if cfg.K > 0 {
		if len(pc.EntityResults) > cfg.K {
			pc.EntityResults = pc.EntityResults[:cfg.K]
		}
		if len(pc.ChunkResults) > cfg.K {
			pc.ChunkResults = pc.ChunkResults[:cfg.K]
		}
	}
	elapsed := time.Since(started)

	return scoreCase(ref, pc, timings, elapsed), nil
}

// stageNamesFor labels a strategy's fixed stage sequence for the
// per-stage timing table the report renders. Every strategy's list
// starts with EmbedStage, timed separately under overall latency
// rather than the per-stage table.
func stageNamesFor(strategy retrieval.Strategy) []string {
	if retrieval.IsChunkStrategy(strategy) {
		return []string{"collect_candidates", "rerank", "assemble"}
	}
	return []string{"collect_candidates", "graph_expansion", "chunk_attach", "rerank", "assemble"}
}

// stageNames labels the default (initial) strategy's stages; the
// Markdown report's stage-timing table iterates it.
var stageNames = stageNamesFor(retrieval.StrategyInitial)

// runStagesTimed runs stages in order (mirroring retrieval.RunStages)
// while recording each one's wall-clock duration against names, which
// must have one entry per stage after the leading EmbedStage.
func runStagesTimed(ctx context.Context, pc *retrieval.PipelineContext, stages []retrieval.Stage, names []string) (map[string]time.Duration, error) {
	timings := make(map[string]time.Duration, len(names))
	for i, stage := range stages {
		start := time.Now()
		if err := stage.Execute(ctx, pc); err != nil {
			return nil, fmt.Errorf("retrieval stage %d: %w", i, err)
		}
		if i == 0 {
			// EmbedStage is always stage 0; not part of the named
			// per-stage table.
			continue
		}
		if i-1 < len(names) {
			timings[names[i-1]] = time.Since(start)
		}
	}
	return timings, nil
}
