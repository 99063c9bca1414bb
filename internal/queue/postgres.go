package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/perstarkse/minnego/internal/apperr"
)

// Queue is the Postgres-backed task queue. It shares a connection pool
// with the rest of the store rather than dialing its own, since the
// queue table lives in the same database as the knowledge graph.
type Queue struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool and ensures the ingestion_task table and
// its secondary indexes exist (spec: "secondary indexes on state,
// user_id, scheduled_at, created_at").
func New(ctx context.Context, pool *pgxpool.Pool) (*Queue, error) {
	q := &Queue{pool: pool}
	if err := q.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) ensureSchema(ctx context.Context) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS ingestion_task (
	id TEXT PRIMARY KEY,
	content JSONB NOT NULL,
	state TEXT NOT NULL,
	user_id TEXT NOT NULL,
	attempts INT NOT NULL DEFAULT 0,
	max_attempts INT NOT NULL DEFAULT 3,
	scheduled_at TIMESTAMPTZ NOT NULL,
	locked_at TIMESTAMPTZ,
	lease_duration_secs BIGINT NOT NULL DEFAULT 300,
	worker_id TEXT,
	error_code TEXT,
	error_message TEXT,
	last_error_at TIMESTAMPTZ,
	priority INT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS ingestion_task_state_idx ON ingestion_task (state);
CREATE INDEX IF NOT EXISTS ingestion_task_user_idx ON ingestion_task (user_id);
CREATE INDEX IF NOT EXISTS ingestion_task_scheduled_idx ON ingestion_task (scheduled_at);
CREATE INDEX IF NOT EXISTS ingestion_task_created_idx ON ingestion_task (created_at);
`
	_, err := q.pool.Exec(ctx, stmt)
	return err
}

// CreateAndAdd stores a freshly constructed task, mirroring
// IngestionTask::create_and_add_to_db.
func (q *Queue) CreateAndAdd(ctx context.Context, content IngestionPayload, userID string) (Task, error) {
	task := NewTask(content, userID)
	if err := q.insert(ctx, task); err != nil {
		return Task{}, err
	}
	return task, nil
}

func (q *Queue) insert(ctx context.Context, t Task) error {
	payload, err := json.Marshal(t.Content)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, "marshal task payload", err)
	}
	_, err = q.pool.Exec(ctx, `
INSERT INTO ingestion_task (id, content, state, user_id, attempts, max_attempts, scheduled_at, lease_duration_secs, priority, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`, t.ID, payload, string(t.State), t.UserID, t.Attempts, t.MaxAttempts, t.ScheduledAt, t.LeaseDurationSecs, t.Priority, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabase, "insert ingestion task", err)
	}
	return nil
}

// ClaimNextReady atomically reserves the highest-priority, oldest ready
// task for worker_id, in one conditional UPDATE. "Ready" means due
// (scheduled_at <= now), in a candidate state (Pending or Failed with
// attempts remaining, or Reserved/Processing), and either unlocked or
// its lease has expired — the same three-way guard as the original's CLAIM_QUERY, translated
// from the SurrealQL UPDATE-subquery to a Postgres UPDATE ... FROM
// (SELECT ... FOR UPDATE SKIP LOCKED) so concurrent workers never claim
// the same row.
func (q *Queue) ClaimNextReady(ctx context.Context, workerID string, now time.Time, leaseDuration time.Duration) (*Task, error) {
	const query = `
WITH candidate AS (
	SELECT id FROM ingestion_task
	WHERE state IN ('Pending', 'Failed', 'Reserved', 'Processing')
	  AND scheduled_at <= $1
	  AND (
	        attempts < max_attempts
	        OR state IN ('Reserved', 'Processing')
	  )
	  AND (
	        locked_at IS NULL
	        OR EXTRACT(EPOCH FROM ($1 - locked_at)) >= lease_duration_secs
	  )
	ORDER BY priority DESC, scheduled_at ASC, created_at ASC
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
UPDATE ingestion_task t
SET state = 'Reserved',
    attempts = CASE
        WHEN t.state IN ('Pending', 'Failed') THEN LEAST(t.attempts + 1, t.max_attempts)
        ELSE t.attempts
    END,
    locked_at = $1,
    worker_id = $2,
    lease_duration_secs = $3,
    updated_at = $1
FROM candidate
WHERE t.id = candidate.id
RETURNING t.id, t.content, t.state, t.user_id, t.attempts, t.max_attempts, t.scheduled_at, t.locked_at,
          t.lease_duration_secs, t.worker_id, t.error_code, t.error_message, t.last_error_at, t.priority,
          t.created_at, t.updated_at
`
	row := q.pool.QueryRow(ctx, query, now, workerID, int64(leaseDuration.Seconds()))
	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, "claim next ready task", err)
	}
	return &task, nil
}

// MarkProcessing transitions Reserved -> Processing, guarded by worker
// ownership so a stale lease holder cannot race a new claimant.
func (q *Queue) MarkProcessing(ctx context.Context, t Task) (Task, error) {
	if _, err := computeNextState(t.State, transitionStartProcessing); err != nil {
		return Task{}, err
	}
	now := time.Now().UTC()
	row := q.pool.QueryRow(ctx, `
UPDATE ingestion_task
SET state = 'Processing', updated_at = $1, locked_at = $1
WHERE id = $2 AND state = 'Reserved' AND worker_id = $3
RETURNING id, content, state, user_id, attempts, max_attempts, scheduled_at, locked_at,
          lease_duration_secs, worker_id, error_code, error_message, last_error_at, priority, created_at, updated_at
`, now, t.ID, workerIDOf(t))
	updated, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Task{}, invalidTransition(t.State, transitionStartProcessing)
	}
	if err != nil {
		return Task{}, apperr.Wrap(apperr.KindDatabase, "mark processing", err)
	}
	return updated, nil
}

// MarkSucceeded transitions Processing -> Succeeded, clearing the lease
// and any error bookkeeping.
func (q *Queue) MarkSucceeded(ctx context.Context, t Task) (Task, error) {
	if _, err := computeNextState(t.State, transitionSucceed); err != nil {
		return Task{}, err
	}
	now := time.Now().UTC()
	row := q.pool.QueryRow(ctx, `
UPDATE ingestion_task
SET state = 'Succeeded', updated_at = $1, locked_at = NULL, worker_id = NULL,
    scheduled_at = $1, error_code = NULL, error_message = NULL, last_error_at = NULL
WHERE id = $2 AND state = 'Processing' AND worker_id = $3
RETURNING id, content, state, user_id, attempts, max_attempts, scheduled_at, locked_at,
          lease_duration_secs, worker_id, error_code, error_message, last_error_at, priority, created_at, updated_at
`, now, t.ID, workerIDOf(t))
	updated, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Task{}, invalidTransition(t.State, transitionSucceed)
	}
	if err != nil {
		return Task{}, apperr.Wrap(apperr.KindDatabase, "mark succeeded", err)
	}
	return updated, nil
}

// MarkFailed transitions Processing -> Failed, rescheduling the task at
// now+retryDelay so it becomes claimable again once the backoff elapses.
func (q *Queue) MarkFailed(ctx context.Context, t Task, errInfo ErrorInfo, retryDelay time.Duration) (Task, error) {
	if _, err := computeNextState(t.State, transitionFail); err != nil {
		return Task{}, err
	}
	now := time.Now().UTC()
	retryAt := now.Add(retryDelay)
	row := q.pool.QueryRow(ctx, `
UPDATE ingestion_task
SET state = 'Failed', updated_at = $1, locked_at = NULL, worker_id = NULL,
    scheduled_at = $2, error_code = $3, error_message = $4, last_error_at = $1
WHERE id = $5 AND state = 'Processing' AND worker_id = $6
RETURNING id, content, state, user_id, attempts, max_attempts, scheduled_at, locked_at,
          lease_duration_secs, worker_id, error_code, error_message, last_error_at, priority, created_at, updated_at
`, now, retryAt, nullableString(errInfo.Code), errInfo.Message, t.ID, workerIDOf(t))
	updated, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Task{}, invalidTransition(t.State, transitionFail)
	}
	if err != nil {
		return Task{}, apperr.Wrap(apperr.KindDatabase, "mark failed", err)
	}
	return updated, nil
}

// MarkDeadLetter transitions Failed -> DeadLetter. Unlike the other
// mark-* operations this has no worker_id guard: dead-lettering happens
// after a worker observes attempts are exhausted, potentially from a
// different worker than the one that last failed it.
func (q *Queue) MarkDeadLetter(ctx context.Context, t Task, errInfo ErrorInfo) (Task, error) {
	if _, err := computeNextState(t.State, transitionDeadLetter); err != nil {
		return Task{}, err
	}
	now := time.Now().UTC()
	row := q.pool.QueryRow(ctx, `
UPDATE ingestion_task
SET state = 'DeadLetter', updated_at = $1, locked_at = NULL, worker_id = NULL,
    scheduled_at = $1, error_code = $2, error_message = $3, last_error_at = $1
WHERE id = $4 AND state = 'Failed'
RETURNING id, content, state, user_id, attempts, max_attempts, scheduled_at, locked_at,
          lease_duration_secs, worker_id, error_code, error_message, last_error_at, priority, created_at, updated_at
`, now, nullableString(errInfo.Code), errInfo.Message, t.ID)
	updated, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Task{}, invalidTransition(t.State, transitionDeadLetter)
	}
	if err != nil {
		return Task{}, apperr.Wrap(apperr.KindDatabase, "mark dead letter", err)
	}
	return updated, nil
}

// MarkCancelled transitions Pending/Reserved/Processing -> Cancelled.
func (q *Queue) MarkCancelled(ctx context.Context, t Task) (Task, error) {
	if _, err := computeNextState(t.State, transitionCancel); err != nil {
		return Task{}, err
	}
	now := time.Now().UTC()
	row := q.pool.QueryRow(ctx, `
UPDATE ingestion_task
SET state = 'Cancelled', updated_at = $1, locked_at = NULL, worker_id = NULL
WHERE id = $2 AND state IN ('Pending', 'Reserved', 'Processing')
RETURNING id, content, state, user_id, attempts, max_attempts, scheduled_at, locked_at,
          lease_duration_secs, worker_id, error_code, error_message, last_error_at, priority, created_at, updated_at
`, now, t.ID)
	updated, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Task{}, invalidTransition(t.State, transitionCancel)
	}
	if err != nil {
		return Task{}, apperr.Wrap(apperr.KindDatabase, "mark cancelled", err)
	}
	return updated, nil
}

// Release transitions Reserved -> Pending, used when a worker gives up
// a claimed task without attempting it (e.g. on graceful shutdown).
func (q *Queue) Release(ctx context.Context, t Task) (Task, error) {
	if _, err := computeNextState(t.State, transitionRelease); err != nil {
		return Task{}, err
	}
	now := time.Now().UTC()
	row := q.pool.QueryRow(ctx, `
UPDATE ingestion_task
SET state = 'Pending', updated_at = $1, locked_at = NULL, worker_id = NULL
WHERE id = $2 AND state = 'Reserved'
RETURNING id, content, state, user_id, attempts, max_attempts, scheduled_at, locked_at,
          lease_duration_secs, worker_id, error_code, error_message, last_error_at, priority, created_at, updated_at
`, now, t.ID)
	updated, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Task{}, invalidTransition(t.State, transitionRelease)
	}
	if err != nil {
		return Task{}, apperr.Wrap(apperr.KindDatabase, "release task", err)
	}
	return updated, nil
}

// GetByID resolves a single task by id, regardless of state, used by
// the HTTP surface's task-status endpoint.
func (q *Queue) GetByID(ctx context.Context, id string) (Task, error) {
	row := q.pool.QueryRow(ctx, `
SELECT id, content, state, user_id, attempts, max_attempts, scheduled_at, locked_at,
       lease_duration_secs, worker_id, error_code, error_message, last_error_at, priority, created_at, updated_at
FROM ingestion_task
WHERE id = $1
`, id)
	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Task{}, apperr.New(apperr.KindNotFound, "task not found")
	}
	if err != nil {
		return Task{}, apperr.Wrap(apperr.KindDatabase, "get task by id", err)
	}
	return task, nil
}

// GetUnfinishedTasks returns every task not yet in a terminal state,
// oldest-scheduled first.
func (q *Queue) GetUnfinishedTasks(ctx context.Context) ([]Task, error) {
	rows, err := q.pool.Query(ctx, `
SELECT id, content, state, user_id, attempts, max_attempts, scheduled_at, locked_at,
       lease_duration_secs, worker_id, error_code, error_message, last_error_at, priority, created_at, updated_at
FROM ingestion_task
WHERE state IN ('Pending', 'Reserved', 'Processing', 'Failed')
ORDER BY scheduled_at ASC, created_at ASC
`)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, "get unfinished tasks", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindDatabase, "scan unfinished task", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTask(row scannable) (Task, error) {
	var t Task
	var payload []byte
	var state string
	var workerID, errorCode, errorMessage *string
	var lockedAt, lastErrorAt *time.Time

	if err := row.Scan(&t.ID, &payload, &state, &t.UserID, &t.Attempts, &t.MaxAttempts, &t.ScheduledAt, &lockedAt,
		&t.LeaseDurationSecs, &workerID, &errorCode, &errorMessage, &lastErrorAt, &t.Priority, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return Task{}, err
	}
	if err := json.Unmarshal(payload, &t.Content); err != nil {
		return Task{}, fmt.Errorf("unmarshal task content: %w", err)
	}
	t.State = TaskState(state)
	t.WorkerID = workerID
	t.ErrorCode = errorCode
	t.ErrorMessage = errorMessage
	t.LockedAt = lockedAt
	t.LastErrorAt = lastErrorAt
	return t, nil
}

func workerIDOf(t Task) string {
	if t.WorkerID == nil {
		return ""
	}
	return *t.WorkerID
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
