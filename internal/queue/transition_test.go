package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/perstarkse/minnego/internal/apperr"
)

func TestComputeNextState_LegalTransitions(t *testing.T) {
	cases := []struct {
		name  string
		from  TaskState
		event transition
		want  TaskState
	}{
		{"pending reserve", TaskPending, transitionReserve, TaskReserved},
		{"failed reserve (retry)", TaskFailed, transitionReserve, TaskReserved},
		{"reserved start processing", TaskReserved, transitionStartProcessing, TaskProcessing},
		{"processing succeed", TaskProcessing, transitionSucceed, TaskSucceeded},
		{"processing fail", TaskProcessing, transitionFail, TaskFailed},
		{"pending cancel", TaskPending, transitionCancel, TaskCancelled},
		{"reserved cancel", TaskReserved, transitionCancel, TaskCancelled},
		{"processing cancel", TaskProcessing, transitionCancel, TaskCancelled},
		{"failed deadletter", TaskFailed, transitionDeadLetter, TaskDeadLetter},
		{"reserved release", TaskReserved, transitionRelease, TaskPending},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := computeNextState(tc.from, tc.event)
			assert.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestComputeNextState_IllegalTransitionsRejected(t *testing.T) {
	cases := []struct {
		name  string
		from  TaskState
		event transition
	}{
		{"succeeded terminal, no reserve", TaskSucceeded, transitionReserve},
		{"cancelled terminal, no start processing", TaskCancelled, transitionStartProcessing},
		{"deadletter terminal, no reserve", TaskDeadLetter, transitionReserve},
		{"pending cannot succeed directly", TaskPending, transitionSucceed},
		{"processing cannot release", TaskProcessing, transitionRelease},
		{"succeeded cannot be deadlettered", TaskSucceeded, transitionDeadLetter},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := computeNextState(tc.from, tc.event)
			assert.Error(t, err)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}
}

func TestTaskState_IsTerminal(t *testing.T) {
	assert.True(t, TaskSucceeded.IsTerminal())
	assert.True(t, TaskCancelled.IsTerminal())
	assert.True(t, TaskDeadLetter.IsTerminal())
	assert.False(t, TaskPending.IsTerminal())
	assert.False(t, TaskReserved.IsTerminal())
	assert.False(t, TaskProcessing.IsTerminal())
	assert.False(t, TaskFailed.IsTerminal())
}

func TestNewTask_Defaults(t *testing.T) {
	task := NewTask(IngestionPayload{Kind: PayloadText, Text: "hello", UserID: "user-1"}, "user-1")

	assert.Equal(t, "user-1", task.UserID)
	assert.Equal(t, TaskPending, task.State)
	assert.EqualValues(t, 0, task.Attempts)
	assert.EqualValues(t, MaxAttempts, task.MaxAttempts)
	assert.Nil(t, task.LockedAt)
	assert.Nil(t, task.WorkerID)
	assert.Equal(t, DefaultLeaseSecs, task.LeaseDurationSecs)
	assert.Equal(t, DefaultPriority, task.Priority)
}
