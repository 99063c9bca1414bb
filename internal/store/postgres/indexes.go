package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// indexPollInterval mirrors the 2s poll cadence of the original index
// build status loop.
const indexPollInterval = 2 * time.Second

// hnswIndexSpec names a vector column index to build CONCURRENTLY, one
// per embedding table, matching the original's two index specs
// (chunk and entity embeddings).
type hnswIndexSpec struct {
	name    string
	table   string
	column  string
}

func hnswIndexSpecs() []hnswIndexSpec {
	return []hnswIndexSpec{
		{name: "idx_chunk_embedding_vector", table: "chunk_embedding", column: "embedding"},
		{name: "idx_entity_embedding_vector", table: "entity_embedding", column: "embedding"},
	}
}

func (s hnswIndexSpec) definition() string {
	return fmt.Sprintf(
		"CREATE INDEX CONCURRENTLY IF NOT EXISTS %s ON %s USING hnsw (%s vector_cosine_ops)",
		s.name, s.table, s.column,
	)
}

// EnsureRuntimeIndexes builds the HNSW vector indexes if they are
// missing, polling pg_stat_progress_create_index for completion the way
// the original polls INFO FOR INDEX every two seconds. CONCURRENTLY
// means the table stays writable for the duration of the build.
func EnsureRuntimeIndexes(ctx context.Context, pool *pgxpool.Pool, log *slog.Logger) error {
	for _, spec := range hnswIndexSpecs() {
		exists, err := indexExists(ctx, pool, spec.name)
		if err != nil {
			return fmt.Errorf("check index %s: %w", spec.name, err)
		}
		if exists {
			continue
		}

		log.Info("building vector index", "index", spec.name, "table", spec.table)
		if _, err := pool.Exec(ctx, spec.definition()); err != nil {
			return fmt.Errorf("create index %s: %w", spec.name, err)
		}
		if err := pollIndexBuild(ctx, pool, spec.name, log); err != nil {
			return fmt.Errorf("poll index %s: %w", spec.name, err)
		}
	}
	return nil
}

func indexExists(ctx context.Context, pool *pgxpool.Pool, name string) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = $1)`, name).Scan(&exists)
	return exists, err
}

// indexBuildSnapshot mirrors the original's IndexBuildSnapshot: absence
// of a progress row means the build already finished (status defaults
// to "ready").
type indexBuildSnapshot struct {
	status        string
	blocksTotal    int64
	blocksDone     int64
	tuplesTotal    int64
	tuplesDone     int64
}

func (snap indexBuildSnapshot) progressPct() float64 {
	if snap.blocksTotal == 0 {
		return 100
	}
	return 100 * float64(snap.blocksDone) / float64(snap.blocksTotal)
}

func pollIndexBuild(ctx context.Context, pool *pgxpool.Pool, indexName string, log *slog.Logger) error {
	ticker := time.NewTicker(indexPollInterval)
	defer ticker.Stop()

	for {
		snap, err := queryIndexBuildStatus(ctx, pool, indexName)
		if err != nil {
			return err
		}
		if snap.status == "ready" {
			return nil
		}
		log.Info("index build in progress", "index", indexName, "progress_pct", snap.progressPct())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func queryIndexBuildStatus(ctx context.Context, pool *pgxpool.Pool, indexName string) (indexBuildSnapshot, error) {
	row := pool.QueryRow(ctx, `
SELECT blocks_total, blocks_done, tuples_total, tuples_done
FROM pg_stat_progress_create_index
WHERE index_relid = to_regclass($1)::oid`, indexName)

	var snap indexBuildSnapshot
	err := row.Scan(&snap.blocksTotal, &snap.blocksDone, &snap.tuplesTotal, &snap.tuplesDone)
	if err != nil {
		// No row in pg_stat_progress_create_index: the build already
		// completed (or never started under this backend), matching the
		// original's "no building block -> ready" default.
		return indexBuildSnapshot{status: "ready"}, nil
	}
	snap.status = "building"
	return snap, nil
}
