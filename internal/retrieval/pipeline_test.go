package retrieval

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/perstarkse/minnego/internal/config"
	"github.com/perstarkse/minnego/internal/embedding"
	"github.com/perstarkse/minnego/internal/model"
	"github.com/perstarkse/minnego/internal/store/memstore"
)

const testUser = "user-1"

func seedEntityWithChunks(t *testing.T, st *memstore.Store, prov embedding.Provider, sourceID, name string, chunkTexts []string) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, st.PutTextContent(ctx, model.TextContent{ID: sourceID, Text: name, UserID: testUser}))

	entity := model.KnowledgeEntity{ID: sourceID + "-entity", SourceID: sourceID, Name: name, Description: name, EntityType: model.EntityTypeConcept, UserID: testUser}
	require.NoError(t, st.PutEntities(ctx, []model.KnowledgeEntity{entity}))

	entityVec, err := prov.Embed(ctx, name)
	require.NoError(t, err)
	require.NoError(t, st.PutEntityEmbeddings(ctx, []model.EntityEmbedding{{ID: entity.ID + "-emb", EntityID: entity.ID, SourceID: sourceID, UserID: testUser, Embedding: entityVec}}))

	var chunks []model.TextChunk
	var chunkEmbeds []model.ChunkEmbedding
	for i, text := range chunkTexts {
		id := sourceID + "-chunk-" + string(rune('a'+i))
		chunks = append(chunks, model.TextChunk{ID: id, SourceID: sourceID, Chunk: text, UserID: testUser})
		vec, err := prov.Embed(ctx, text)
		require.NoError(t, err)
		chunkEmbeds = append(chunkEmbeds, model.ChunkEmbedding{ID: id + "-emb", ChunkID: id, SourceID: sourceID, UserID: testUser, Embedding: vec})
	}
	require.NoError(t, st.PutTextChunks(ctx, chunks))
	require.NoError(t, st.PutChunkEmbeddings(ctx, chunkEmbeds))
}

func TestHybridPipeline_AssemblyRespectsTokenBudgetAndPerEntityCap(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	prov := embedding.NewHashed(16)

	seedEntityWithChunks(t, st, prov, "doc-1", "alpha project notes", []string{
		"alpha project kickoff meeting notes",
		"alpha project budget breakdown",
		"alpha project timeline overview",
		"alpha project stakeholder list",
		"alpha project risk register",
	})
	seedEntityWithChunks(t, st, prov, "doc-2", "beta research summary", []string{
		"beta research summary of findings",
		"beta research methodology section",
	})

	tuning := config.DefaultRetrievalTuning()
	tuning.MaxChunksPerEntity = 2
	tuning.TokenBudgetEstimate = 1000
	tuning.FallbackMinResults = 1
	tuning.ScoreThreshold = 0

	pc := NewContext(st, prov, nil, "alpha project", testUser, tuning)
	pc.EnableDiagnostics()

	require.NoError(t, RunStages(ctx, pc, HybridStages()...))

	require.NotEmpty(t, pc.EntityResults)
	for _, result := range pc.EntityResults {
		require.LessOrEqual(t, len(result.Chunks), tuning.MaxChunksPerEntity)
	}

	require.NotNil(t, pc.Diagnostics.Assemble)
	require.LessOrEqual(t, pc.Diagnostics.Assemble.TokenBudgetSpent, tuning.TokenBudgetEstimate)
	require.GreaterOrEqual(t, pc.Diagnostics.Assemble.TokenBudgetRemaining, 0)
}

func TestChunkOnlyPipeline_ResultCapApplied(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	prov := embedding.NewHashed(16)

	seedEntityWithChunks(t, st, prov, "doc-1", "gamma handbook", []string{
		"gamma handbook chapter one",
		"gamma handbook chapter two",
		"gamma handbook chapter three",
		"gamma handbook chapter four",
		"gamma handbook chapter five",
		"gamma handbook chapter six",
	})

	tuning := config.DefaultRetrievalTuning()
	tuning.ChunkResultCap = 3
	tuning.ChunkVectorTake = 6

	pc := NewContext(st, prov, nil, "gamma handbook", testUser, tuning)
	require.NoError(t, RunStages(ctx, pc, ChunkOnlyStages()...))

	require.LessOrEqual(t, len(pc.ChunkResults), tuning.ChunkResultCap)
	require.NotEmpty(t, pc.ChunkResults)
}

func TestExtractKeywords_FiltersShortTermsAndDedupes(t *testing.T) {
	terms := extractKeywords("The Alpha Project: alpha, a, is, ok but ALPHA rocks!")
	joined := strings.Join(terms, ",")
	require.Contains(t, joined, "alpha")
	require.Contains(t, joined, "project")
	require.NotContains(t, joined, "a,")
	for _, term := range terms {
		require.GreaterOrEqual(t, len(term), 3)
	}
}

func TestEstimateTokens_NeverZero(t *testing.T) {
	require.Equal(t, 1, estimateTokens("", 4))
	require.Equal(t, 1, estimateTokens("ab", 4))
	require.Equal(t, 2, estimateTokens("12345678", 4))
}
