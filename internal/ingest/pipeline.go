// Package ingest implements the ingestion pipeline: Extract, Chunk,
// Extract-Entities, Embed, Persist, run in that order for every
// IngestionPayload the task queue hands to a worker. Grounded on the
// teacher's storage.Manager.SaveDocument/RefreshDocument pattern
// (upload → extract → persist, with at-most-once semantics by content
// identity) generalized to the full five-stage flow, plus the PDF
// vision fallback and chunking invariants this pipeline adds.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/perstarkse/minnego/internal/apperr"
	"github.com/perstarkse/minnego/internal/embedding"
	"github.com/perstarkse/minnego/internal/ingest/pdfrender"
	"github.com/perstarkse/minnego/internal/llmclient"
	"github.com/perstarkse/minnego/internal/model"
	"github.com/perstarkse/minnego/internal/queue"
	"github.com/perstarkse/minnego/internal/store"
)

// Config tunes the Chunk stage and overall pipeline behavior.
type Config struct {
	ChunkMinTokens     int
	ChunkMaxTokens     int
	ChunkOverlapTokens int
	// ChunkOnly skips Extract-Entities entirely, persisting only
	// TextContent + chunks (+ chunk embeddings).
	ChunkOnly bool
}

// DefaultConfig mirrors the chunk bounds the rest of this module uses.
func DefaultConfig() Config {
	return Config{
		ChunkMinTokens:     120,
		ChunkMaxTokens:     400,
		ChunkOverlapTokens: 40,
	}
}

// ArtifactBundle is everything one ingestion run produces, whether or
// not it was actually persisted (a deduplicated run returns the
// previously persisted bundle instead of reprocessing).
type ArtifactBundle struct {
	TextContent   model.TextContent
	Chunks        []model.TextChunk
	Entities      []model.KnowledgeEntity
	Relationships []model.KnowledgeRelationship
	Reused        bool
}

// Pipeline wires the stages together against a live store, embedding
// provider, and (optionally) entity-extraction/vision-transcription
// LLMs and a PDF page renderer.
type Pipeline struct {
	Store       store.Store
	Embedding   embedding.Provider
	LLM         llmclient.Client
	Vision      llmclient.Client
	PDFRenderer pdfrender.Renderer
	Config      Config

	httpClient *http.Client
}

// NewPipeline builds a Pipeline. llm/vision may be nil to disable
// entity extraction / the PDF vision fallback respectively; renderer
// defaults to pdfrender.Unavailable when nil.
func NewPipeline(st store.Store, embed embedding.Provider, llm, vision llmclient.Client, renderer pdfrender.Renderer, cfg Config) *Pipeline {
	if renderer == nil {
		renderer = pdfrender.Unavailable{}
	}
	return &Pipeline{
		Store:       st,
		Embedding:   embed,
		LLM:         llm,
		Vision:      vision,
		PDFRenderer: renderer,
		Config:      cfg,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

// HTTPClient returns the client used to fetch URL payloads.
func (p *Pipeline) HTTPClient() *http.Client {
	if p.httpClient == nil {
		return http.DefaultClient
	}
	return p.httpClient
}

// Run executes Extract → Chunk → Extract-Entities → Embed → Persist for
// one payload, short-circuiting to the already-persisted bundle when an
// identical (sha256(content), user_id) pair was ingested before.
func (p *Pipeline) Run(ctx context.Context, payload queue.IngestionPayload) (*ArtifactBundle, error) {
	ext, err := p.extract(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}

	hash := contentHash(ext.Text)
	if existing, found, err := p.Store.FindTextContentByHash(ctx, payload.UserID, hash); err != nil {
		return nil, fmt.Errorf("checking existing content: %w", err)
	} else if found {
		return p.loadExisting(ctx, existing)
	}

	now := time.Now().UTC()
	textContent := model.TextContent{
		ID:       uuid.NewString(),
		Text:     ext.Text,
		File:     ext.File,
		URL:      ext.URL,
		Context:  payload.Context,
		Category: payload.Category,
		UserID:   payload.UserID,
		Timestamps: model.Timestamps{
			CreatedAt: now,
			UpdatedAt: now,
		},
	}

	chunkTexts, err := chunkText(ext.Text, chunkSpec{
		MinTokens:     p.Config.ChunkMinTokens,
		MaxTokens:     p.Config.ChunkMaxTokens,
		OverlapTokens: p.Config.ChunkOverlapTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("chunk: %w", err)
	}

	chunks := make([]model.TextChunk, 0, len(chunkTexts))
	for _, text := range chunkTexts {
		chunks = append(chunks, model.TextChunk{
			ID:       uuid.NewString(),
			SourceID: textContent.ID,
			Chunk:    text,
			UserID:   payload.UserID,
			Timestamps: model.Timestamps{
				CreatedAt: now,
				UpdatedAt: now,
			},
		})
	}

	var entities []model.KnowledgeEntity
	var relationships []model.KnowledgeRelationship
	if !p.Config.ChunkOnly {
		rawEntities, rawRelationships, err := p.extractGraph(ctx, ext.Text)
		if err != nil {
			return nil, fmt.Errorf("extract entities: %w", err)
		}
		var byName map[string]string
		entities, byName = materializeEntities(rawEntities, textContent.ID, payload.UserID)
		for i := range entities {
			entities[i].CreatedAt = now
			entities[i].UpdatedAt = now
		}
		relationships = materializeRelationships(rawRelationships, byName, textContent.ID, payload.UserID)
		for i := range relationships {
			relationships[i].CreatedAt = now
			relationships[i].UpdatedAt = now
		}
	}

	chunkEmbeddings, entityEmbeddings, err := p.embed(ctx, chunks, entities)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}

	if err := p.persist(ctx, textContent, chunks, chunkEmbeddings, entities, entityEmbeddings, relationships); err != nil {
		return nil, fmt.Errorf("persist: %w", err)
	}

	return &ArtifactBundle{
		TextContent:   textContent,
		Chunks:        chunks,
		Entities:      entities,
		Relationships: relationships,
	}, nil
}

// embed batch-embeds chunk texts and entity name+description+type
// payloads, length-preserving with the input slices.
func (p *Pipeline) embed(ctx context.Context, chunks []model.TextChunk, entities []model.KnowledgeEntity) ([]model.ChunkEmbedding, []model.EntityEmbedding, error) {
	var chunkEmbeddings []model.ChunkEmbedding
	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Chunk
		}
		vectors, err := p.Embedding.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, nil, apperr.Wrap(apperr.KindEmbedding, "embed chunks", err)
		}
		chunkEmbeddings = make([]model.ChunkEmbedding, len(chunks))
		for i, c := range chunks {
			chunkEmbeddings[i] = model.ChunkEmbedding{
				ID:        uuid.NewString(),
				ChunkID:   c.ID,
				SourceID:  c.SourceID,
				Embedding: vectors[i],
				UserID:    c.UserID,
			}
		}
	}

	var entityEmbeddings []model.EntityEmbedding
	if len(entities) > 0 {
		texts := make([]string, len(entities))
		for i, e := range entities {
			texts[i] = fmt.Sprintf("%s\n%s\n%s", e.Name, e.Description, e.EntityType)
		}
		vectors, err := p.Embedding.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, nil, apperr.Wrap(apperr.KindEmbedding, "embed entities", err)
		}
		entityEmbeddings = make([]model.EntityEmbedding, len(entities))
		for i, e := range entities {
			entityEmbeddings[i] = model.EntityEmbedding{
				ID:        uuid.NewString(),
				EntityID:  e.ID,
				SourceID:  e.SourceID,
				Embedding: vectors[i],
				UserID:    e.UserID,
			}
		}
	}

	return chunkEmbeddings, entityEmbeddings, nil
}

// persist writes TextContent, then chunks + their embeddings, then
// entities + their embeddings, then relationships, in that order:
// each Put call is scoped to one entity type so a failure partway
// through leaves only already-committed types in place for the task
// queue's retry to pick back up from (spec 4.D step 5).
func (p *Pipeline) persist(
	ctx context.Context,
	textContent model.TextContent,
	chunks []model.TextChunk,
	chunkEmbeddings []model.ChunkEmbedding,
	entities []model.KnowledgeEntity,
	entityEmbeddings []model.EntityEmbedding,
	relationships []model.KnowledgeRelationship,
) error {
	if err := p.Store.PutTextContent(ctx, textContent); err != nil {
		return apperr.Wrap(apperr.KindDatabase, "persist text content", err)
	}
	if len(chunks) > 0 {
		if err := p.Store.PutTextChunks(ctx, chunks); err != nil {
			return apperr.Wrap(apperr.KindDatabase, "persist chunks", err)
		}
	}
	if len(chunkEmbeddings) > 0 {
		if err := p.Store.PutChunkEmbeddings(ctx, chunkEmbeddings); err != nil {
			return apperr.Wrap(apperr.KindDatabase, "persist chunk embeddings", err)
		}
	}
	if len(entities) > 0 {
		if err := p.Store.PutEntities(ctx, entities); err != nil {
			return apperr.Wrap(apperr.KindDatabase, "persist entities", err)
		}
	}
	if len(entityEmbeddings) > 0 {
		if err := p.Store.PutEntityEmbeddings(ctx, entityEmbeddings); err != nil {
			return apperr.Wrap(apperr.KindDatabase, "persist entity embeddings", err)
		}
	}
	if len(relationships) > 0 {
		if err := p.Store.PutRelationships(ctx, relationships); err != nil {
			return apperr.Wrap(apperr.KindDatabase, "persist relationships", err)
		}
	}
	return nil
}

// loadExisting rebuilds the bundle for a TextContent that was already
// ingested under the same (sha256, user_id) pair, satisfying the
// at-most-once contract without touching the store's write path.
func (p *Pipeline) loadExisting(ctx context.Context, existing model.TextContent) (*ArtifactBundle, error) {
	chunks, err := p.Store.ListChunksBySource(ctx, existing.ID)
	if err != nil {
		return nil, fmt.Errorf("loading existing chunks: %w", err)
	}
	entities, err := p.Store.ListEntitiesBySources(ctx, []string{existing.ID})
	if err != nil {
		return nil, fmt.Errorf("loading existing entities: %w", err)
	}
	return &ArtifactBundle{
		TextContent: existing,
		Chunks:      chunks,
		Entities:    entities,
		Reused:      true,
	}, nil
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
