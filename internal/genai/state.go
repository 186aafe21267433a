package genai

import "strings"

// State is the internal taxonomy every external status shape normalizes to.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
	StateExpired   State = "expired"
)

// NormalizeState maps the service's JOB_STATE_* / BATCH_STATE_* strings onto
// the internal taxonomy. Unknown states are treated as running so a new
// intermediate state upstream never fails a job.
func NormalizeState(raw string) State {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "JOB_STATE_")
	s = strings.TrimPrefix(s, "BATCH_STATE_")
	switch s {
	case "PENDING", "QUEUED", "UNSPECIFIED", "":
		return StatePending
	case "RUNNING":
		return StateRunning
	case "SUCCEEDED", "COMPLETED":
		return StateSucceeded
	case "FAILED":
		return StateFailed
	case "CANCELLED", "CANCELLING":
		return StateCancelled
	case "EXPIRED":
		return StateExpired
	default:
		return StateRunning
	}
}

// Done reports whether the state is terminal for a chunk.
func (s State) Done() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCancelled, StateExpired:
		return true
	}
	return false
}
