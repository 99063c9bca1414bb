// Package memqueue is an in-memory queue.WorkQueue test double, playing
// the role store/memstore plays for store.Store: the same claim/mark-*
// surface, backed by a map instead of a Postgres connection, guarded by
// a single mutex so ClaimNextReady is atomic the same way the real
// queue's UPDATE ... FROM (SELECT ... FOR UPDATE SKIP LOCKED) is.
package memqueue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/perstarkse/minnego/internal/apperr"
	"github.com/perstarkse/minnego/internal/queue"
)

// Store is a goroutine-safe in-memory implementation of queue.WorkQueue.
type Store struct {
	mu    sync.Mutex
	tasks map[string]queue.Task
}

// New returns an empty Store.
func New() *Store {
	return &Store{tasks: make(map[string]queue.Task)}
}

func (s *Store) CreateAndAdd(_ context.Context, content queue.IngestionPayload, userID string) (queue.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := queue.NewTask(content, userID)
	s.tasks[t.ID] = t
	return t, nil
}

// Put seeds the store with an already-constructed task, letting tests
// set up states ClaimNextReady never produces on its own (e.g. a
// pre-failed task scheduled in the past).
func (s *Store) Put(t queue.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
}

// ClaimNextReady is the fake's equivalent of the real queue's
// candidate-select-then-update: find every ready task, pick the
// highest-priority/oldest-scheduled/oldest-created one, and reserve it,
// all under one lock so two concurrent callers can never pick the same
// task. "Ready" mirrors the SQL guard exactly: due, and either
// unlocked or its lease has expired, with Pending/Failed additionally
// requiring attempts remaining (Reserved/Processing bypass that check
// since they already consumed an attempt on their original claim).
func (s *Store) ClaimNextReady(_ context.Context, workerID string, now time.Time, leaseDuration time.Duration) (*queue.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []queue.Task
	for _, t := range s.tasks {
		if !isCandidateState(t.State) {
			continue
		}
		if t.ScheduledAt.After(now) {
			continue
		}
		if (t.State == queue.TaskPending || t.State == queue.TaskFailed) && t.Attempts >= t.MaxAttempts {
			continue
		}
		if t.LockedAt != nil && now.Sub(*t.LockedAt) < t.LeaseDuration() {
			continue
		}
		candidates = append(candidates, t)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		if !candidates[i].ScheduledAt.Equal(candidates[j].ScheduledAt) {
			return candidates[i].ScheduledAt.Before(candidates[j].ScheduledAt)
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	chosen := candidates[0]
	if chosen.State == queue.TaskPending || chosen.State == queue.TaskFailed {
		chosen.Attempts++
		if chosen.Attempts > chosen.MaxAttempts {
			chosen.Attempts = chosen.MaxAttempts
		}
	}
	chosen.State = queue.TaskReserved
	lockedAt := now
	chosen.LockedAt = &lockedAt
	wid := workerID
	chosen.WorkerID = &wid
	chosen.LeaseDurationSecs = int64(leaseDuration.Seconds())
	chosen.UpdatedAt = now
	s.tasks[chosen.ID] = chosen

	result := chosen
	return &result, nil
}

func isCandidateState(state queue.TaskState) bool {
	switch state {
	case queue.TaskPending, queue.TaskFailed, queue.TaskReserved, queue.TaskProcessing:
		return true
	default:
		return false
	}
}

func (s *Store) MarkProcessing(_ context.Context, t queue.Task) (queue.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tasks[t.ID]
	if !ok || cur.State != queue.TaskReserved || workerIDOf(cur) != workerIDOf(t) {
		return queue.Task{}, invalidTransition(cur.State, "start_processing")
	}
	now := time.Now().UTC()
	cur.State = queue.TaskProcessing
	cur.LockedAt = &now
	cur.UpdatedAt = now
	s.tasks[cur.ID] = cur
	return cur, nil
}

func (s *Store) MarkSucceeded(_ context.Context, t queue.Task) (queue.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tasks[t.ID]
	if !ok || cur.State != queue.TaskProcessing || workerIDOf(cur) != workerIDOf(t) {
		return queue.Task{}, invalidTransition(cur.State, "succeed")
	}
	now := time.Now().UTC()
	cur.State = queue.TaskSucceeded
	cur.LockedAt = nil
	cur.WorkerID = nil
	cur.ScheduledAt = now
	cur.ErrorCode, cur.ErrorMessage, cur.LastErrorAt = nil, nil, nil
	cur.UpdatedAt = now
	s.tasks[cur.ID] = cur
	return cur, nil
}

func (s *Store) MarkFailed(_ context.Context, t queue.Task, errInfo queue.ErrorInfo, retryDelay time.Duration) (queue.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tasks[t.ID]
	if !ok || cur.State != queue.TaskProcessing || workerIDOf(cur) != workerIDOf(t) {
		return queue.Task{}, invalidTransition(cur.State, "fail")
	}
	now := time.Now().UTC()
	cur.State = queue.TaskFailed
	cur.LockedAt = nil
	cur.WorkerID = nil
	cur.ScheduledAt = now.Add(retryDelay)
	code := errInfo.Code
	cur.ErrorCode = &code
	msg := errInfo.Message
	cur.ErrorMessage = &msg
	cur.LastErrorAt = &now
	cur.UpdatedAt = now
	s.tasks[cur.ID] = cur
	return cur, nil
}

func (s *Store) MarkDeadLetter(_ context.Context, t queue.Task, errInfo queue.ErrorInfo) (queue.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tasks[t.ID]
	if !ok || cur.State != queue.TaskFailed {
		return queue.Task{}, invalidTransition(cur.State, "deadletter")
	}
	now := time.Now().UTC()
	cur.State = queue.TaskDeadLetter
	cur.LockedAt = nil
	cur.WorkerID = nil
	cur.ScheduledAt = now
	code := errInfo.Code
	cur.ErrorCode = &code
	msg := errInfo.Message
	cur.ErrorMessage = &msg
	cur.LastErrorAt = &now
	cur.UpdatedAt = now
	s.tasks[cur.ID] = cur
	return cur, nil
}

func (s *Store) MarkCancelled(_ context.Context, t queue.Task) (queue.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tasks[t.ID]
	if !ok || !isCancellable(cur.State) {
		return queue.Task{}, invalidTransition(cur.State, "cancel")
	}
	now := time.Now().UTC()
	cur.State = queue.TaskCancelled
	cur.LockedAt = nil
	cur.WorkerID = nil
	cur.UpdatedAt = now
	s.tasks[cur.ID] = cur
	return cur, nil
}

func isCancellable(state queue.TaskState) bool {
	switch state {
	case queue.TaskPending, queue.TaskReserved, queue.TaskProcessing:
		return true
	default:
		return false
	}
}

func (s *Store) Release(_ context.Context, t queue.Task) (queue.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tasks[t.ID]
	if !ok || cur.State != queue.TaskReserved {
		return queue.Task{}, invalidTransition(cur.State, "release")
	}
	now := time.Now().UTC()
	cur.State = queue.TaskPending
	cur.LockedAt = nil
	cur.WorkerID = nil
	cur.UpdatedAt = now
	s.tasks[cur.ID] = cur
	return cur, nil
}

func (s *Store) GetByID(_ context.Context, id string) (queue.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return queue.Task{}, apperr.New(apperr.KindNotFound, "task not found")
	}
	return t, nil
}

func (s *Store) GetUnfinishedTasks(_ context.Context) ([]queue.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []queue.Task
	for _, t := range s.tasks {
		if !t.State.IsTerminal() {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ScheduledAt.Before(out[j].ScheduledAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func workerIDOf(t queue.Task) string {
	if t.WorkerID == nil {
		return ""
	}
	return *t.WorkerID
}

func invalidTransition(state queue.TaskState, event string) error {
	return apperr.Newf(apperr.KindValidation, "invalid task transition: %s -> %s", state, event)
}

var _ queue.WorkQueue = (*Store)(nil)
