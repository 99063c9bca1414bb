// Package queue implements the durable, leased, priority-ordered task
// queue (spec 4.C), a direct generalization of the original's
// IngestionTask state machine and claim/mark-* SQL operations, ported
// from SurrealQL UPDATE-subquery syntax to pgx parameterised Postgres
// queries with the same WHERE-guard shape.
package queue

import (
	"time"

	"github.com/google/uuid"
)

// MaxAttempts, DefaultLeaseSecs and DefaultPriority mirror the
// original's constants exactly.
const (
	MaxAttempts      = 3
	DefaultLeaseSecs = int64(300)
	DefaultPriority  = int32(0)
)

// TaskState is the tagged state of an IngestionTask.
type TaskState string

const (
	TaskPending    TaskState = "Pending"
	TaskReserved   TaskState = "Reserved"
	TaskProcessing TaskState = "Processing"
	TaskSucceeded  TaskState = "Succeeded"
	TaskFailed     TaskState = "Failed"
	TaskCancelled  TaskState = "Cancelled"
	TaskDeadLetter TaskState = "DeadLetter"
)

// IsTerminal reports whether the state can never transition again.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskSucceeded, TaskCancelled, TaskDeadLetter:
		return true
	default:
		return false
	}
}

// DisplayLabel is the human-facing label, distinct from the wire state
// name (e.g. Failed is shown as "Retrying" since the task still has
// attempts left).
func (s TaskState) DisplayLabel() string {
	switch s {
	case TaskSucceeded:
		return "Completed"
	case TaskFailed:
		return "Retrying"
	case TaskDeadLetter:
		return "Dead Letter"
	default:
		return string(s)
	}
}

// PayloadKind tags the variant of IngestionPayload.
type PayloadKind string

const (
	PayloadText PayloadKind = "text"
	PayloadFile PayloadKind = "file"
	PayloadURL  PayloadKind = "url"
)

// IngestionPayload is the tagged-union input to the ingestion pipeline,
// carried as IngestionTask.Content.
type IngestionPayload struct {
	Kind     PayloadKind `json:"kind"`
	Text     string      `json:"text,omitempty"`
	Context  string      `json:"context,omitempty"`
	Category string      `json:"category,omitempty"`
	UserID   string      `json:"user_id"`

	FileName string `json:"file_name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	FileData []byte `json:"file_data,omitempty"`

	URL string `json:"url,omitempty"`
}

// ErrorInfo records why a task last failed.
type ErrorInfo struct {
	Code    string
	Message string
}

// Task is the Go equivalent of the original's IngestionTask struct.
type Task struct {
	ID                string
	Content           IngestionPayload
	State             TaskState
	UserID            string
	Attempts          uint32
	MaxAttempts       uint32
	ScheduledAt       time.Time
	LockedAt          *time.Time
	LeaseDurationSecs int64
	WorkerID          *string
	ErrorCode         *string
	ErrorMessage      *string
	LastErrorAt       *time.Time
	Priority          int32
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CanRetry reports whether the task has attempts remaining.
func (t Task) CanRetry() bool {
	return t.Attempts < t.MaxAttempts
}

// LeaseDuration is the task's lease as a time.Duration, floored at zero.
func (t Task) LeaseDuration() time.Duration {
	secs := t.LeaseDurationSecs
	if secs < 0 {
		secs = 0
	}
	return time.Duration(secs) * time.Second
}

// NewTask builds a Task in TaskPending with the package defaults,
// mirroring IngestionTask::new.
func NewTask(content IngestionPayload, userID string) Task {
	now := time.Now().UTC()
	return Task{
		ID:                uuid.NewString(),
		Content:           content,
		State:             TaskPending,
		UserID:            userID,
		Attempts:          0,
		MaxAttempts:       MaxAttempts,
		ScheduledAt:       now,
		LeaseDurationSecs: DefaultLeaseSecs,
		Priority:          DefaultPriority,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}
