package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkText_EveryTokenAppearsInAtLeastOneChunk(t *testing.T) {
	text := strings.Repeat("word ", 500)
	chunks, err := chunkText(text, chunkSpec{MinTokens: 50, MaxTokens: 100, OverlapTokens: 10})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	total := 0
	for _, c := range chunks {
		total += len(strings.Fields(c))
	}
	assert.GreaterOrEqual(t, total, 500)
}

func TestChunkText_PrefersSentenceBoundary(t *testing.T) {
	text := strings.Repeat("alpha ", 60) + "end. " + strings.Repeat("beta ", 60)
	chunks, err := chunkText(text, chunkSpec{MinTokens: 40, MaxTokens: 80, OverlapTokens: 5})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(chunks[0]), "end."))
}

func TestChunkText_EmptyTextProducesNoChunks(t *testing.T) {
	chunks, err := chunkText("   ", chunkSpec{MinTokens: 10, MaxTokens: 20, OverlapTokens: 2})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunkSpec_ValidateRejectsOverlapGreaterThanOrEqualMin(t *testing.T) {
	_, err := chunkText("a b c", chunkSpec{MinTokens: 10, MaxTokens: 20, OverlapTokens: 10})
	require.Error(t, err)
}

func TestChunkSpec_ValidateRejectsInvertedBounds(t *testing.T) {
	_, err := chunkText("a b c", chunkSpec{MinTokens: 50, MaxTokens: 10, OverlapTokens: 2})
	require.Error(t, err)
}

func TestChunkText_ConsecutiveChunksOverlap(t *testing.T) {
	text := strings.Repeat("tok ", 200)
	chunks, err := chunkText(text, chunkSpec{MinTokens: 30, MaxTokens: 60, OverlapTokens: 10})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	total := 0
	for _, c := range chunks {
		total += len(strings.Fields(c))
	}
	assert.Greater(t, total, 200, "overlapping windows repeat tokens across chunk boundaries")
}
