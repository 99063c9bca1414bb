package queue

import (
	"context"
	"time"
)

// WorkQueue is the full surface *Queue exposes to task producers
// (CreateAndAdd) and the worker's claim/process/mark-* loop, narrowed
// to an interface so both can run against memqueue.Store in tests
// instead of requiring a live Postgres instance. *Queue implements it
// directly; nothing about the interface is Postgres-specific.
type WorkQueue interface {
	CreateAndAdd(ctx context.Context, content IngestionPayload, userID string) (Task, error)
	ClaimNextReady(ctx context.Context, workerID string, now time.Time, leaseDuration time.Duration) (*Task, error)
	MarkProcessing(ctx context.Context, t Task) (Task, error)
	MarkSucceeded(ctx context.Context, t Task) (Task, error)
	MarkFailed(ctx context.Context, t Task, errInfo ErrorInfo, retryDelay time.Duration) (Task, error)
	MarkDeadLetter(ctx context.Context, t Task, errInfo ErrorInfo) (Task, error)
	MarkCancelled(ctx context.Context, t Task) (Task, error)
	Release(ctx context.Context, t Task) (Task, error)
	GetByID(ctx context.Context, id string) (Task, error)
	GetUnfinishedTasks(ctx context.Context) ([]Task, error)
}

var _ WorkQueue = (*Queue)(nil)
