package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perstarkse/minnego/internal/embedding"
	"github.com/perstarkse/minnego/internal/llmclient"
	"github.com/perstarkse/minnego/internal/queue"
	"github.com/perstarkse/minnego/internal/store/memstore"
)

type fakeLLM struct {
	response string
	calls    int
}

func (f *fakeLLM) Complete(ctx context.Context, messages []llmclient.Message) (string, error) {
	f.calls++
	return f.response, nil
}

func newTestPipeline(llmResponse string) (*Pipeline, *fakeLLM) {
	fake := &fakeLLM{response: llmResponse}
	st := memstore.New()
	pipeline := NewPipeline(st, embedding.NewHashed(8), fake, nil, nil, DefaultConfig())
	return pipeline, fake
}

const gradeGraphResponse = `{"kind": "entity", "name": "Ada Lovelace", "description": "Mathematician", "entity_type": "Person"}
{"kind": "entity", "name": "Analytical Engine", "description": "Mechanical computer", "entity_type": "Concept"}
{"kind": "relationship", "from": "Ada Lovelace", "to": "Analytical Engine", "relationship_type": "designed_programs_for"}
`

func TestPipeline_Run_PersistsTextChunksEntitiesAndRelationships(t *testing.T) {
	pipeline, llm := newTestPipeline(gradeGraphResponse)

	payload := queue.IngestionPayload{
		Kind:   queue.PayloadText,
		Text:   "Ada Lovelace wrote notes on the Analytical Engine describing its capabilities in great detail.",
		UserID: "user-1",
	}

	bundle, err := pipeline.Run(context.Background(), payload)
	require.NoError(t, err)
	assert.False(t, bundle.Reused)
	assert.NotEmpty(t, bundle.Chunks)
	require.Len(t, bundle.Entities, 2)
	require.Len(t, bundle.Relationships, 1)
	assert.Equal(t, 1, llm.calls)

	stored, err := pipeline.Store.GetTextContent(context.Background(), bundle.TextContent.ID)
	require.NoError(t, err)
	assert.Equal(t, bundle.TextContent.Text, stored.Text)
}

func TestPipeline_Run_ReusesExistingContentOnDuplicateText(t *testing.T) {
	pipeline, llm := newTestPipeline(gradeGraphResponse)

	payload := queue.IngestionPayload{
		Kind:   queue.PayloadText,
		Text:   "The same document body ingested twice should only be processed once.",
		UserID: "user-1",
	}

	first, err := pipeline.Run(context.Background(), payload)
	require.NoError(t, err)
	require.False(t, first.Reused)

	second, err := pipeline.Run(context.Background(), payload)
	require.NoError(t, err)
	assert.True(t, second.Reused)
	assert.Equal(t, first.TextContent.ID, second.TextContent.ID)
	assert.Equal(t, 1, llm.calls, "entity extraction must not run again for a deduplicated ingest")
}

func TestPipeline_Run_ChunkOnlySkipsEntityExtraction(t *testing.T) {
	pipeline, llm := newTestPipeline(gradeGraphResponse)
	pipeline.Config.ChunkOnly = true

	payload := queue.IngestionPayload{
		Kind:   queue.PayloadText,
		Text:   "Plain text with no entity extraction requested for this particular run.",
		UserID: "user-1",
	}

	bundle, err := pipeline.Run(context.Background(), payload)
	require.NoError(t, err)
	assert.Empty(t, bundle.Entities)
	assert.Empty(t, bundle.Relationships)
	assert.Equal(t, 0, llm.calls)
}

func TestPipeline_Run_RejectsUnknownPayloadKind(t *testing.T) {
	pipeline, _ := newTestPipeline(gradeGraphResponse)
	_, err := pipeline.Run(context.Background(), queue.IngestionPayload{Kind: "bogus", UserID: "user-1"})
	require.Error(t, err)
}
