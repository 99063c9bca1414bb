// Package postgres is the production Store backend: Postgres + pgvector
// for vector search, native tsvector columns for full-text search.
// Generalizes the teacher's vectorstore.Store (single document_chunks
// table) into the full text/chunk/entity/relationship schema of the
// knowledge graph.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/perstarkse/minnego/internal/apperr"
	"github.com/perstarkse/minnego/internal/model"
	"github.com/perstarkse/minnego/internal/store"
)

// PostgresStore is the pgx-backed Store implementation.
type PostgresStore struct {
	pool      *pgxpool.Pool
	dimension int
}

// New connects to Postgres and ensures the schema exists, mirroring the
// teacher's NewPostgresStore connect-then-ensureSchema sequencing.
func New(ctx context.Context, dsn string, maxConns, dimension int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	s := &PostgresStore{pool: pool, dimension: dimension}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Pool exposes the underlying connection pool so sibling packages that
// are inherently Postgres-specific (internal/queue) can share it rather
// than re-dial.
func (s *PostgresStore) Pool() *pgxpool.Pool { return s.pool }

// Close releases the underlying database resources.
func (s *PostgresStore) Close() { s.pool.Close() }

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	stmt := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;
CREATE EXTENSION IF NOT EXISTS pg_trgm;

CREATE TABLE IF NOT EXISTS text_content (
	id TEXT PRIMARY KEY,
	text TEXT NOT NULL,
	file_name TEXT,
	mime_type TEXT,
	sha256 TEXT,
	size_bytes BIGINT,
	url TEXT,
	url_title TEXT,
	context TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	user_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	search tsvector GENERATED ALWAYS AS (
		setweight(to_tsvector('english', coalesce(text, '')), 'A') ||
		setweight(to_tsvector('english', coalesce(context, '')), 'C')
	) STORED
);
CREATE UNIQUE INDEX IF NOT EXISTS text_content_dedup_idx ON text_content (user_id, sha256) WHERE sha256 IS NOT NULL;
CREATE INDEX IF NOT EXISTS text_content_search_idx ON text_content USING GIN (search);
CREATE INDEX IF NOT EXISTS text_content_user_idx ON text_content (user_id);

CREATE TABLE IF NOT EXISTS text_chunk (
	id TEXT PRIMARY KEY,
	source_id TEXT NOT NULL REFERENCES text_content(id) ON DELETE CASCADE,
	chunk TEXT NOT NULL,
	user_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	search tsvector GENERATED ALWAYS AS (to_tsvector('english', coalesce(chunk, ''))) STORED
);
CREATE INDEX IF NOT EXISTS text_chunk_source_idx ON text_chunk (source_id);
CREATE INDEX IF NOT EXISTS text_chunk_search_idx ON text_chunk USING GIN (search);

CREATE TABLE IF NOT EXISTS chunk_embedding (
	id TEXT PRIMARY KEY,
	chunk_id TEXT NOT NULL REFERENCES text_chunk(id) ON DELETE CASCADE,
	source_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	embedding vector(%[1]d) NOT NULL
);
CREATE INDEX IF NOT EXISTS chunk_embedding_user_idx ON chunk_embedding (user_id);

CREATE TABLE IF NOT EXISTS knowledge_entity (
	id TEXT PRIMARY KEY,
	source_id TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	entity_type TEXT NOT NULL,
	user_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	search tsvector GENERATED ALWAYS AS (
		setweight(to_tsvector('english', coalesce(name, '')), 'A') ||
		setweight(to_tsvector('english', coalesce(description, '')), 'B')
	) STORED
);
CREATE INDEX IF NOT EXISTS knowledge_entity_source_idx ON knowledge_entity (source_id);
CREATE INDEX IF NOT EXISTS knowledge_entity_search_idx ON knowledge_entity USING GIN (search);

CREATE TABLE IF NOT EXISTS entity_embedding (
	id TEXT PRIMARY KEY,
	entity_id TEXT NOT NULL REFERENCES knowledge_entity(id) ON DELETE CASCADE,
	source_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	embedding vector(%[1]d) NOT NULL
);
CREATE INDEX IF NOT EXISTS entity_embedding_user_idx ON entity_embedding (user_id);

CREATE TABLE IF NOT EXISTS knowledge_relationship (
	id TEXT PRIMARY KEY,
	from_entity_id TEXT NOT NULL REFERENCES knowledge_entity(id) ON DELETE CASCADE,
	to_entity_id TEXT NOT NULL REFERENCES knowledge_entity(id) ON DELETE CASCADE,
	relationship_type TEXT NOT NULL,
	user_id TEXT NOT NULL,
	source_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS knowledge_relationship_from_idx ON knowledge_relationship (from_entity_id);
CREATE INDEX IF NOT EXISTS knowledge_relationship_to_idx ON knowledge_relationship (to_entity_id);

CREATE TABLE IF NOT EXISTS app_user (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	password TEXT NOT NULL,
	admin BOOLEAN NOT NULL DEFAULT false,
	anonymous BOOLEAN NOT NULL DEFAULT false,
	timezone TEXT NOT NULL DEFAULT 'UTC',
	api_key TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS app_user_api_key_idx ON app_user (api_key) WHERE api_key IS NOT NULL;
`, s.dimension)

	_, err := s.pool.Exec(ctx, stmt)
	return err
}

// --- TextContent ---

func (s *PostgresStore) PutTextContent(ctx context.Context, tc model.TextContent) error {
	var fileName, mimeType, sha256 any
	var sizeBytes any
	if tc.File != nil {
		fileName, mimeType, sha256, sizeBytes = tc.File.FileName, tc.File.MimeType, tc.File.SHA256, tc.File.SizeByte
	}
	var url, urlTitle any
	if tc.URL != nil {
		url, urlTitle = tc.URL.URL, tc.URL.Title
	}

	_, err := s.pool.Exec(ctx, `
INSERT INTO text_content (id, text, file_name, mime_type, sha256, size_bytes, url, url_title, context, category, user_id, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (id) DO UPDATE SET
	text = EXCLUDED.text, context = EXCLUDED.context, category = EXCLUDED.category, updated_at = EXCLUDED.updated_at
`, tc.ID, tc.Text, fileName, mimeType, sha256, sizeBytes, url, urlTitle, tc.Context, tc.Category, tc.UserID, tc.CreatedAt, tc.UpdatedAt)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabase, "put text content", err)
	}
	return nil
}

func (s *PostgresStore) GetTextContent(ctx context.Context, id string) (model.TextContent, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, text, file_name, mime_type, sha256, size_bytes, url, url_title, context, category, user_id, created_at, updated_at
FROM text_content WHERE id = $1`, id)
	tc, err := scanTextContent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.TextContent{}, apperr.Newf(apperr.KindNotFound, "text content %s not found", id)
	}
	if err != nil {
		return model.TextContent{}, apperr.Wrap(apperr.KindDatabase, "get text content", err)
	}
	return tc, nil
}

func (s *PostgresStore) FindTextContentByHash(ctx context.Context, userID, sha256 string) (model.TextContent, bool, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, text, file_name, mime_type, sha256, size_bytes, url, url_title, context, category, user_id, created_at, updated_at
FROM text_content WHERE user_id = $1 AND sha256 = $2`, userID, sha256)
	tc, err := scanTextContent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.TextContent{}, false, nil
	}
	if err != nil {
		return model.TextContent{}, false, apperr.Wrap(apperr.KindDatabase, "find text content by hash", err)
	}
	return tc, true, nil
}

func scanTextContent(row pgx.Row) (model.TextContent, error) {
	var tc model.TextContent
	var fileName, mimeType, sha256 *string
	var sizeBytes *int64
	var url, urlTitle *string
	if err := row.Scan(&tc.ID, &tc.Text, &fileName, &mimeType, &sha256, &sizeBytes, &url, &urlTitle,
		&tc.Context, &tc.Category, &tc.UserID, &tc.CreatedAt, &tc.UpdatedAt); err != nil {
		return model.TextContent{}, err
	}
	if fileName != nil {
		tc.File = &model.FileInfo{FileName: *fileName}
		if mimeType != nil {
			tc.File.MimeType = *mimeType
		}
		if sha256 != nil {
			tc.File.SHA256 = *sha256
		}
		if sizeBytes != nil {
			tc.File.SizeByte = *sizeBytes
		}
	}
	if url != nil {
		tc.URL = &model.URLInfo{URL: *url}
		if urlTitle != nil {
			tc.URL.Title = *urlTitle
		}
	}
	return tc, nil
}

// DeleteTextContent deletes a TextContent and cascades to everything it
// owns. text_chunk and chunk_embedding cascade via FK on the
// text_content delete itself; knowledge_relationship and
// knowledge_entity (and, via its own FK, entity_embedding) have no FK
// back to text_content, so they're deleted by source_id subquery ahead
// of the text_content row, all inside one transaction.
func (s *PostgresStore) DeleteTextContent(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabase, "begin delete text content", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM knowledge_relationship WHERE source_id = $1`, id); err != nil {
		return apperr.Wrap(apperr.KindDatabase, "cascade delete relationships", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM knowledge_entity WHERE source_id = $1`, id); err != nil {
		return apperr.Wrap(apperr.KindDatabase, "cascade delete entities", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM text_content WHERE id = $1`, id); err != nil {
		return apperr.Wrap(apperr.KindDatabase, "delete text content", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.KindDatabase, "commit delete text content", err)
	}
	return nil
}

// --- TextChunk ---

func (s *PostgresStore) PutTextChunks(ctx context.Context, chunks []model.TextChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabase, "begin put chunks", err)
	}
	defer tx.Rollback(ctx)

	for _, c := range chunks {
		if _, err := tx.Exec(ctx, `
INSERT INTO text_chunk (id, source_id, chunk, user_id, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO UPDATE SET chunk = EXCLUDED.chunk, updated_at = EXCLUDED.updated_at
`, c.ID, c.SourceID, c.Chunk, c.UserID, c.CreatedAt, c.UpdatedAt); err != nil {
			return apperr.Wrap(apperr.KindDatabase, "insert chunk", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.KindDatabase, "commit put chunks", err)
	}
	return nil
}

func (s *PostgresStore) GetTextChunk(ctx context.Context, id string) (model.TextChunk, error) {
	var c model.TextChunk
	err := s.pool.QueryRow(ctx, `SELECT id, source_id, chunk, user_id, created_at, updated_at FROM text_chunk WHERE id = $1`, id).
		Scan(&c.ID, &c.SourceID, &c.Chunk, &c.UserID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.TextChunk{}, apperr.Newf(apperr.KindNotFound, "chunk %s not found", id)
	}
	if err != nil {
		return model.TextChunk{}, apperr.Wrap(apperr.KindDatabase, "get chunk", err)
	}
	return c, nil
}

func (s *PostgresStore) ListChunksBySource(ctx context.Context, sourceID string) ([]model.TextChunk, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, source_id, chunk, user_id, created_at, updated_at FROM text_chunk WHERE source_id = $1 ORDER BY created_at ASC`, sourceID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, "list chunks by source", err)
	}
	defer rows.Close()

	var out []model.TextChunk
	for rows.Next() {
		var c model.TextChunk
		if err := rows.Scan(&c.ID, &c.SourceID, &c.Chunk, &c.UserID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindDatabase, "scan chunk", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteChunksBySource(ctx context.Context, sourceID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM text_chunk WHERE source_id = $1`, sourceID)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabase, "delete chunks by source", err)
	}
	return nil
}

// --- ChunkEmbedding ---

func (s *PostgresStore) PutChunkEmbeddings(ctx context.Context, embeddings []model.ChunkEmbedding) error {
	if len(embeddings) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabase, "begin put chunk embeddings", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range embeddings {
		if len(e.Embedding) != s.dimension {
			return apperr.Newf(apperr.KindValidation, "chunk embedding dimension mismatch: expected %d got %d", s.dimension, len(e.Embedding))
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO chunk_embedding (id, chunk_id, source_id, user_id, embedding)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding
`, e.ID, e.ChunkID, e.SourceID, e.UserID, pgvector.NewVector(e.Embedding)); err != nil {
			return apperr.Wrap(apperr.KindDatabase, "insert chunk embedding", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.KindDatabase, "commit put chunk embeddings", err)
	}
	return nil
}

func (s *PostgresStore) SearchChunksByVector(ctx context.Context, userID string, query []float32, limit int) ([]store.Scored[model.TextChunk], error) {
	rows, err := s.pool.Query(ctx, `
SELECT c.id, c.source_id, c.chunk, c.user_id, c.created_at, c.updated_at,
       1 - (e.embedding <=> $1) AS score
FROM chunk_embedding e
JOIN text_chunk c ON c.id = e.chunk_id
WHERE e.user_id = $2
ORDER BY e.embedding <=> $1
LIMIT $3`, pgvector.NewVector(query), userID, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, "search chunks by vector", err)
	}
	defer rows.Close()
	return scanScoredChunks(rows)
}

func (s *PostgresStore) SearchChunksByText(ctx context.Context, userID, query string, limit int) ([]store.Scored[model.TextChunk], error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, source_id, chunk, user_id, created_at, updated_at,
       ts_rank_cd(search, websearch_to_tsquery('english', $1)) AS score
FROM text_chunk
WHERE user_id = $2 AND search @@ websearch_to_tsquery('english', $1)
ORDER BY score DESC
LIMIT $3`, query, userID, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, "search chunks by text", err)
	}
	defer rows.Close()
	return scanScoredChunks(rows)
}

func scanScoredChunks(rows pgx.Rows) ([]store.Scored[model.TextChunk], error) {
	var out []store.Scored[model.TextChunk]
	for rows.Next() {
		var c model.TextChunk
		var score float32
		if err := rows.Scan(&c.ID, &c.SourceID, &c.Chunk, &c.UserID, &c.CreatedAt, &c.UpdatedAt, &score); err != nil {
			return nil, apperr.Wrap(apperr.KindDatabase, "scan scored chunk", err)
		}
		out = append(out, store.Scored[model.TextChunk]{Value: c, Score: score})
	}
	return out, rows.Err()
}

// --- KnowledgeEntity ---

func (s *PostgresStore) PutEntities(ctx context.Context, entities []model.KnowledgeEntity) error {
	if len(entities) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabase, "begin put entities", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range entities {
		if _, err := tx.Exec(ctx, `
INSERT INTO knowledge_entity (id, source_id, name, description, entity_type, user_id, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, description = EXCLUDED.description, updated_at = EXCLUDED.updated_at
`, e.ID, e.SourceID, e.Name, e.Description, string(e.EntityType), e.UserID, e.CreatedAt, e.UpdatedAt); err != nil {
			return apperr.Wrap(apperr.KindDatabase, "insert entity", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.KindDatabase, "commit put entities", err)
	}
	return nil
}

func (s *PostgresStore) GetEntity(ctx context.Context, id string) (model.KnowledgeEntity, error) {
	var e model.KnowledgeEntity
	var entityType string
	err := s.pool.QueryRow(ctx, `SELECT id, source_id, name, description, entity_type, user_id, created_at, updated_at FROM knowledge_entity WHERE id = $1`, id).
		Scan(&e.ID, &e.SourceID, &e.Name, &e.Description, &entityType, &e.UserID, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.KnowledgeEntity{}, apperr.Newf(apperr.KindNotFound, "entity %s not found", id)
	}
	if err != nil {
		return model.KnowledgeEntity{}, apperr.Wrap(apperr.KindDatabase, "get entity", err)
	}
	e.EntityType = model.EntityType(entityType)
	return e, nil
}

func (s *PostgresStore) DeleteEntitiesBySource(ctx context.Context, sourceID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM knowledge_entity WHERE source_id = $1`, sourceID)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabase, "delete entities by source", err)
	}
	return nil
}

func (s *PostgresStore) ListEntitiesBySources(ctx context.Context, sourceIDs []string) ([]model.KnowledgeEntity, error) {
	if len(sourceIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, source_id, name, description, entity_type, user_id, created_at, updated_at
FROM knowledge_entity WHERE source_id = ANY($1)`, sourceIDs)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, "list entities by sources", err)
	}
	defer rows.Close()

	var out []model.KnowledgeEntity
	for rows.Next() {
		var e model.KnowledgeEntity
		var entityType string
		if err := rows.Scan(&e.ID, &e.SourceID, &e.Name, &e.Description, &entityType, &e.UserID, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindDatabase, "scan entity", err)
		}
		e.EntityType = model.EntityType(entityType)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListChunksBySources(ctx context.Context, sourceIDs []string) ([]model.TextChunk, error) {
	if len(sourceIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, source_id, chunk, user_id, created_at, updated_at
FROM text_chunk WHERE source_id = ANY($1)`, sourceIDs)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, "list chunks by sources", err)
	}
	defer rows.Close()

	var out []model.TextChunk
	for rows.Next() {
		var c model.TextChunk
		if err := rows.Scan(&c.ID, &c.SourceID, &c.Chunk, &c.UserID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindDatabase, "scan chunk", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- EntityEmbedding ---

func (s *PostgresStore) PutEntityEmbeddings(ctx context.Context, embeddings []model.EntityEmbedding) error {
	if len(embeddings) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabase, "begin put entity embeddings", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range embeddings {
		if len(e.Embedding) != s.dimension {
			return apperr.Newf(apperr.KindValidation, "entity embedding dimension mismatch: expected %d got %d", s.dimension, len(e.Embedding))
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO entity_embedding (id, entity_id, source_id, user_id, embedding)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding
`, e.ID, e.EntityID, e.SourceID, e.UserID, pgvector.NewVector(e.Embedding)); err != nil {
			return apperr.Wrap(apperr.KindDatabase, "insert entity embedding", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.KindDatabase, "commit put entity embeddings", err)
	}
	return nil
}

func (s *PostgresStore) SearchEntitiesByVector(ctx context.Context, userID string, query []float32, limit int) ([]store.Scored[model.KnowledgeEntity], error) {
	rows, err := s.pool.Query(ctx, `
SELECT k.id, k.source_id, k.name, k.description, k.entity_type, k.user_id, k.created_at, k.updated_at,
       1 - (e.embedding <=> $1) AS score
FROM entity_embedding e
JOIN knowledge_entity k ON k.id = e.entity_id
WHERE e.user_id = $2
ORDER BY e.embedding <=> $1
LIMIT $3`, pgvector.NewVector(query), userID, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, "search entities by vector", err)
	}
	defer rows.Close()
	return scanScoredEntities(rows)
}

func (s *PostgresStore) SearchEntitiesByText(ctx context.Context, userID, query string, limit int) ([]store.Scored[model.KnowledgeEntity], error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, source_id, name, description, entity_type, user_id, created_at, updated_at,
       ts_rank_cd(search, websearch_to_tsquery('english', $1)) AS score
FROM knowledge_entity
WHERE user_id = $2 AND search @@ websearch_to_tsquery('english', $1)
ORDER BY score DESC
LIMIT $3`, query, userID, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, "search entities by text", err)
	}
	defer rows.Close()
	return scanScoredEntities(rows)
}

func scanScoredEntities(rows pgx.Rows) ([]store.Scored[model.KnowledgeEntity], error) {
	var out []store.Scored[model.KnowledgeEntity]
	for rows.Next() {
		var e model.KnowledgeEntity
		var entityType string
		var score float32
		if err := rows.Scan(&e.ID, &e.SourceID, &e.Name, &e.Description, &entityType, &e.UserID, &e.CreatedAt, &e.UpdatedAt, &score); err != nil {
			return nil, apperr.Wrap(apperr.KindDatabase, "scan scored entity", err)
		}
		e.EntityType = model.EntityType(entityType)
		out = append(out, store.Scored[model.KnowledgeEntity]{Value: e, Score: score})
	}
	return out, rows.Err()
}

// --- KnowledgeRelationship ---

func (s *PostgresStore) PutRelationships(ctx context.Context, rels []model.KnowledgeRelationship) error {
	if len(rels) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabase, "begin put relationships", err)
	}
	defer tx.Rollback(ctx)

	for _, r := range rels {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO knowledge_relationship (id, from_entity_id, to_entity_id, relationship_type, user_id, source_id, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO NOTHING
`, r.ID, r.FromEntityID, r.ToEntityID, r.RelationshipType, r.UserID, r.SourceID, r.CreatedAt, r.UpdatedAt); err != nil {
			return apperr.Wrap(apperr.KindDatabase, "insert relationship", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.KindDatabase, "commit put relationships", err)
	}
	return nil
}

func (s *PostgresStore) NeighborsOf(ctx context.Context, entityID string) ([]model.KnowledgeRelationship, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, from_entity_id, to_entity_id, relationship_type, user_id, source_id, created_at, updated_at
FROM knowledge_relationship WHERE from_entity_id = $1 OR to_entity_id = $1`, entityID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, "neighbors of entity", err)
	}
	defer rows.Close()

	var out []model.KnowledgeRelationship
	for rows.Next() {
		var r model.KnowledgeRelationship
		if err := rows.Scan(&r.ID, &r.FromEntityID, &r.ToEntityID, &r.RelationshipType, &r.UserID, &r.SourceID, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindDatabase, "scan relationship", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRelationship removes a single relationship, scoped to userID so
// only its owner can delete it.
func (s *PostgresStore) DeleteRelationship(ctx context.Context, id, userID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM knowledge_relationship WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabase, "delete relationship", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(apperr.KindNotFound, "relationship %s not found", id)
	}
	return nil
}

// --- User ---

func (s *PostgresStore) GetUser(ctx context.Context, id string) (model.User, error) {
	return scanUser(s.pool.QueryRow(ctx, `SELECT id, email, password, admin, anonymous, timezone, api_key, created_at, updated_at FROM app_user WHERE id = $1`, id))
}

func (s *PostgresStore) GetUserByAPIKey(ctx context.Context, apiKey string) (model.User, bool, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT id, email, password, admin, anonymous, timezone, api_key, created_at, updated_at FROM app_user WHERE api_key = $1`, apiKey))
	if apperr.Is(err, apperr.KindNotFound) {
		return model.User{}, false, nil
	}
	if err != nil {
		return model.User{}, false, err
	}
	return u, true, nil
}

func scanUser(row pgx.Row) (model.User, error) {
	var u model.User
	var apiKey *string
	err := row.Scan(&u.ID, &u.Email, &u.Password, &u.Admin, &u.Anonymous, &u.Timezone, &apiKey, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, apperr.New(apperr.KindNotFound, "user not found")
	}
	if err != nil {
		return model.User{}, apperr.Wrap(apperr.KindDatabase, "scan user", err)
	}
	u.APIKey = apiKey
	return u, nil
}

var _ store.Store = (*PostgresStore)(nil)
