// Package store defines the storage abstraction for the knowledge graph
// (spec 4.A): text content, chunks, embeddings, knowledge entities,
// relationships, and the vector/full-text search operations the
// retrieval pipeline needs. It generalizes the teacher's single-table
// vectorstore.Store into a full per-type contract.
package store

import (
	"context"

	"github.com/perstarkse/minnego/internal/model"
)

// Scored pairs a stored value with a channel score in [0,1]. Generic so
// both entity and chunk search results share the same shape (retrieval
// fuses over both).
type Scored[T any] struct {
	Value T
	Score float32
}

// Store is the full storage contract. PostgresStore (package
// store/postgres) is the production implementation; memstore is an
// in-memory test double implementing the same interface.
type Store interface {
	// TextContent
	PutTextContent(ctx context.Context, tc model.TextContent) error
	GetTextContent(ctx context.Context, id string) (model.TextContent, error)
	FindTextContentByHash(ctx context.Context, userID, sha256 string) (model.TextContent, bool, error)
	// DeleteTextContent deletes a TextContent and everything it owns:
	// its TextChunks, ChunkEmbeddings, KnowledgeEntities,
	// EntityEmbeddings, and KnowledgeRelationships, all scoped by
	// source_id.
	DeleteTextContent(ctx context.Context, id string) error

	// TextChunk
	PutTextChunks(ctx context.Context, chunks []model.TextChunk) error
	GetTextChunk(ctx context.Context, id string) (model.TextChunk, error)
	ListChunksBySource(ctx context.Context, sourceID string) ([]model.TextChunk, error)
	DeleteChunksBySource(ctx context.Context, sourceID string) error

	// ChunkEmbedding
	PutChunkEmbeddings(ctx context.Context, embeddings []model.ChunkEmbedding) error
	SearchChunksByVector(ctx context.Context, userID string, query []float32, limit int) ([]Scored[model.TextChunk], error)
	SearchChunksByText(ctx context.Context, userID, query string, limit int) ([]Scored[model.TextChunk], error)

	// KnowledgeEntity
	PutEntities(ctx context.Context, entities []model.KnowledgeEntity) error
	GetEntity(ctx context.Context, id string) (model.KnowledgeEntity, error)
	DeleteEntitiesBySource(ctx context.Context, sourceID string) error
	// ListEntitiesBySources resolves every entity whose source_id is in
	// sourceIDs, used by the retrieval pipeline's chunk-attach stage to
	// backfill entities for chunk sources with no entity candidate yet.
	ListEntitiesBySources(ctx context.Context, sourceIDs []string) ([]model.KnowledgeEntity, error)
	// ListChunksBySources is the batched counterpart of
	// ListChunksBySource, used to re-enrich the chunk candidate set from
	// a filtered entity set's source ids.
	ListChunksBySources(ctx context.Context, sourceIDs []string) ([]model.TextChunk, error)

	// EntityEmbedding
	PutEntityEmbeddings(ctx context.Context, embeddings []model.EntityEmbedding) error
	SearchEntitiesByVector(ctx context.Context, userID string, query []float32, limit int) ([]Scored[model.KnowledgeEntity], error)
	SearchEntitiesByText(ctx context.Context, userID, query string, limit int) ([]Scored[model.KnowledgeEntity], error)

	// KnowledgeRelationship
	PutRelationships(ctx context.Context, rels []model.KnowledgeRelationship) error
	NeighborsOf(ctx context.Context, entityID string) ([]model.KnowledgeRelationship, error)
	// DeleteRelationship removes a single relationship by id, scoped to
	// userID so only its owner can delete it.
	DeleteRelationship(ctx context.Context, id, userID string) error

	// User
	GetUser(ctx context.Context, id string) (model.User, error)
	GetUserByAPIKey(ctx context.Context, apiKey string) (model.User, bool, error)

	Close()
}
