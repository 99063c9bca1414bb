package retrieval

import (
	"context"
	"fmt"

	"github.com/perstarkse/minnego/internal/apperr"
	"github.com/perstarkse/minnego/internal/config"
	"github.com/perstarkse/minnego/internal/embedding"
	"github.com/perstarkse/minnego/internal/model"
	"github.com/perstarkse/minnego/internal/rerank"
	"github.com/perstarkse/minnego/internal/store"
)

// RetrievedChunk is a chunk attached to a RetrievedEntity (or, in
// chunk-only mode, a top-level result) along with its fused score.
type RetrievedChunk struct {
	Chunk model.TextChunk
	Score float32
}

// RetrievedEntity is one row of the final hybrid-retrieval result set.
type RetrievedEntity struct {
	Entity model.KnowledgeEntity
	Score  float32
	Chunks []RetrievedChunk
}

// Diagnostics captures per-stage counters useful for tuning and for the
// evaluation harness's reports; entirely optional, nil unless enabled.
type Diagnostics struct {
	CollectCandidates       *CollectCandidatesStats
	ChunkEnrichment         *ChunkEnrichmentStats
	Assemble                *AssembleStats
}

// CollectCandidatesStats records the initial vector/FTS candidate
// counts before fusion and merge.
type CollectCandidatesStats struct {
	VectorEntityCandidates int
	VectorChunkCandidates  int
	FTSEntityCandidates    int
	FTSChunkCandidates     int
}

// ChunkEnrichmentStats records how chunk-attach changed the candidate
// sets.
type ChunkEnrichmentStats struct {
	FilteredEntityCount             int
	FallbackMinResults              int
	ChunkSourcesConsidered          int
	ChunkCandidatesBeforeEnrichment int
	ChunkCandidatesAfterEnrichment  int
}

// EntityAssemblyTrace records, per entity, how many chunk candidates
// were inspected/selected/skipped during final assembly.
type EntityAssemblyTrace struct {
	EntityID             string
	SourceID             string
	InspectedCandidates  int
	SelectedChunkIDs     []string
	SelectedChunkScores  []float32
	SkippedDueBudget     int
}

// AssembleStats records the token-budget accounting for the final
// assembly stage.
type AssembleStats struct {
	TokenBudgetStart     int
	TokenBudgetSpent      int
	TokenBudgetRemaining  int
	BudgetExhausted       bool
	ChunksSelected        int
	ChunksSkippedDueBudget int
	EntityCount           int
	EntityTraces          []EntityAssemblyTrace
}

// PipelineContext carries the mutable state threaded through every
// stage of a single retrieval run, mirroring the original's
// PipelineContext<'a>.
type PipelineContext struct {
	Store            store.Store
	EmbeddingProv    embedding.Provider
	RerankLease      *rerank.Lease
	InputText        string
	UserID           string
	Tuning           config.RetrievalTuning

	QueryEmbedding []float32

	EntityCandidates map[string]Scored[model.KnowledgeEntity]
	ChunkCandidates  map[string]Scored[model.TextChunk]

	FilteredEntities  []Scored[model.KnowledgeEntity]
	ChunkValues       []Scored[model.TextChunk]
	RevisedChunkValues []Scored[model.TextChunk]

	Diagnostics *Diagnostics

	EntityResults []RetrievedEntity
	ChunkResults  []RetrievedChunk
}

// NewContext builds a PipelineContext ready to run EmbedStage onward.
func NewContext(st store.Store, prov embedding.Provider, lease *rerank.Lease, inputText, userID string, tuning config.RetrievalTuning) *PipelineContext {
	return &PipelineContext{
		Store:            st,
		EmbeddingProv:    prov,
		RerankLease:      lease,
		InputText:        inputText,
		UserID:           userID,
		Tuning:           tuning,
		EntityCandidates: make(map[string]Scored[model.KnowledgeEntity]),
		ChunkCandidates:  make(map[string]Scored[model.TextChunk]),
	}
}

// NewContextWithEmbedding seeds the context with a precomputed query embedding,
// letting EmbedStage skip generation entirely.
func NewContextWithEmbedding(st store.Store, prov embedding.Provider, lease *rerank.Lease, queryEmbedding []float32, inputText, userID string, tuning config.RetrievalTuning) *PipelineContext {
	ctx := NewContext(st, prov, lease, inputText, userID, tuning)
	ctx.QueryEmbedding = queryEmbedding
	return ctx
}

// EnableDiagnostics turns on per-stage counter recording.
func (c *PipelineContext) EnableDiagnostics() {
	if c.Diagnostics == nil {
		c.Diagnostics = &Diagnostics{}
	}
}

func (c *PipelineContext) diagnosticsEnabled() bool { return c.Diagnostics != nil }

func (c *PipelineContext) ensureEmbedding() ([]float32, error) {
	if c.QueryEmbedding == nil {
		return nil, apperr.New(apperr.KindInternal, "query embedding missing before candidate collection")
	}
	return c.QueryEmbedding, nil
}

// EmbedStage generates (or reuses) the query embedding.
type EmbedStage struct{}

func (EmbedStage) Execute(ctx context.Context, pc *PipelineContext) error {
	return embed(ctx, pc)
}

// CollectCandidatesStage runs the four-way vector/FTS fan-out for
// entities and chunks, merges, and fuses.
type CollectCandidatesStage struct{}

func (CollectCandidatesStage) Execute(ctx context.Context, pc *PipelineContext) error {
	return collectCandidates(ctx, pc)
}

// GraphExpansionStage walks relationships outward from high-scoring
// entity seeds, inheriting decayed scores into their neighbours.
type GraphExpansionStage struct{}

func (GraphExpansionStage) Execute(ctx context.Context, pc *PipelineContext) error {
	return expandGraph(ctx, pc)
}

// ChunkAttachStage backfills missing entities from surviving chunks,
// boosts entity scores with their best chunk, filters/falls back, and
// enriches the chunk set from filtered entities.
type ChunkAttachStage struct{}

func (ChunkAttachStage) Execute(ctx context.Context, pc *PipelineContext) error {
	return attachChunks(ctx, pc)
}

// RerankStage optionally reorders filtered entities using a
// cross-encoder reranker lease.
type RerankStage struct{}

func (RerankStage) Execute(ctx context.Context, pc *PipelineContext) error {
	return rerankEntities(ctx, pc)
}

// AssembleEntitiesStage produces the final token-budgeted entity
// results with their attached chunks.
type AssembleEntitiesStage struct{}

func (AssembleEntitiesStage) Execute(_ context.Context, pc *PipelineContext) error {
	return assemble(pc)
}

// ChunkVectorStage is the chunk-only pipeline's candidate collection:
// pure vector search over chunks, no entity/graph involvement.
type ChunkVectorStage struct{}

func (ChunkVectorStage) Execute(ctx context.Context, pc *PipelineContext) error {
	return collectVectorChunks(ctx, pc)
}

// ChunkRerankStage optionally reranks the chunk-only candidate set.
type ChunkRerankStage struct{}

func (ChunkRerankStage) Execute(ctx context.Context, pc *PipelineContext) error {
	return rerankChunks(ctx, pc)
}

// ChunkAssembleStage produces the chunk-only pipeline's final result.
type ChunkAssembleStage struct{}

func (ChunkAssembleStage) Execute(_ context.Context, pc *PipelineContext) error {
	return assembleChunks(pc)
}

// Stage is implemented by every pipeline stage above; RunStages runs a
// sequence in order, stopping at the first error (the original's
// run_stages behavior).
type Stage interface {
	Execute(ctx context.Context, pc *PipelineContext) error
}

// RunStages executes stages in order, wrapping any failure with the
// index at which it occurred.
func RunStages(ctx context.Context, pc *PipelineContext, stages ...Stage) error {
	for i, s := range stages {
		if err := s.Execute(ctx, pc); err != nil {
			return fmt.Errorf("retrieval stage %d: %w", i, err)
		}
	}
	return nil
}

// HybridStages is the entity-oriented pipeline run by spec 4.E's
// default retrieval path.
func HybridStages() []Stage {
	return []Stage{
		EmbedStage{},
		CollectCandidatesStage{},
		GraphExpansionStage{},
		ChunkAttachStage{},
		RerankStage{},
		AssembleEntitiesStage{},
	}
}

// ChunkOnlyStages is the Chunks strategy: a plain vector search over
// chunks, reranked and lexically boosted, with no entity/graph
// involvement.
func ChunkOnlyStages() []Stage {
	return []Stage{
		EmbedStage{},
		ChunkVectorStage{},
		ChunkRerankStage{},
		ChunkAssembleStage{},
	}
}

// RevisedStages is the Revised strategy: Reciprocal Rank Fusion across
// independent vector and FTS chunk rankings, then the same rerank and
// assemble steps ChunkOnlyStages uses.
func RevisedStages() []Stage {
	return []Stage{
		EmbedStage{},
		ChunkRRFStage{},
		ChunkRerankStage{},
		ChunkAssembleStage{},
	}
}

// Strategy selects which stage ordering a query runs, one of the three
// named in spec section 4.E.
type Strategy string

const (
	StrategyInitial Strategy = "initial"
	StrategyRevised Strategy = "revised"
	StrategyChunks  Strategy = "chunks"
)

// ParseStrategy validates a user-supplied strategy name, defaulting to
// Initial for an empty string and rejecting anything else.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", StrategyInitial:
		return StrategyInitial, nil
	case StrategyRevised:
		return StrategyRevised, nil
	case StrategyChunks:
		return StrategyChunks, nil
	default:
		return "", apperr.Newf(apperr.KindValidation, "unknown retrieval strategy %q", s)
	}
}

// StagesFor returns the stage ordering a Strategy runs. Initial
// produces PipelineContext.EntityResults; Revised and Chunks both
// produce PipelineContext.ChunkResults (they differ only in how chunk
// candidates are first ranked).
func StagesFor(strategy Strategy) []Stage {
	switch strategy {
	case StrategyRevised:
		return RevisedStages()
	case StrategyChunks:
		return ChunkOnlyStages()
	default:
		return HybridStages()
	}
}

// IsChunkStrategy reports whether strategy populates ChunkResults
// (Revised, Chunks) rather than EntityResults (Initial).
func IsChunkStrategy(strategy Strategy) bool {
	return strategy == StrategyRevised || strategy == StrategyChunks
}
