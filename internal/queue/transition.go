package queue

import "github.com/perstarkse/minnego/internal/apperr"

// transition is the private event type driving computeNextState,
// mirroring the original's TaskTransition enum.
type transition string

const (
	transitionReserve         transition = "reserve"
	transitionStartProcessing transition = "start_processing"
	transitionSucceed         transition = "succeed"
	transitionFail            transition = "fail"
	transitionCancel          transition = "cancel"
	transitionDeadLetter      transition = "deadletter"
	transitionRelease         transition = "release"
)

// computeNextState is the pure state machine: every legal (state,
// event) pair the original's state_machine! macro enumerates, expressed
// as a Go switch instead of a macro-generated type-state machine.
func computeNextState(state TaskState, event transition) (TaskState, error) {
	switch {
	case state == TaskPending && event == transitionReserve:
		return TaskReserved, nil
	case state == TaskFailed && event == transitionReserve:
		return TaskReserved, nil
	case state == TaskReserved && event == transitionStartProcessing:
		return TaskProcessing, nil
	case state == TaskProcessing && event == transitionSucceed:
		return TaskSucceeded, nil
	case state == TaskProcessing && event == transitionFail:
		return TaskFailed, nil
	case state == TaskPending && event == transitionCancel:
		return TaskCancelled, nil
	case state == TaskReserved && event == transitionCancel:
		return TaskCancelled, nil
	case state == TaskProcessing && event == transitionCancel:
		return TaskCancelled, nil
	case state == TaskFailed && event == transitionDeadLetter:
		return TaskDeadLetter, nil
	case state == TaskReserved && event == transitionRelease:
		return TaskPending, nil
	default:
		return "", invalidTransition(state, event)
	}
}

func invalidTransition(state TaskState, event transition) error {
	return apperr.Newf(apperr.KindValidation, "invalid task transition: %s -> %s", state, event)
}
