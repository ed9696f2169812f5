package exchange

import (
	"time"

	"github.com/google/uuid"
)

// State is the progression of a single exchange attempt.
type State string

const (
	StateInitiated     State = "INITIATED"
	StateRequestSent   State = "REQUEST_SENT"
	StateResponseValid State = "RESPONSE_VALID"
	StatePolicyChecked State = "POLICY_CHECKED"
	StateCompleted     State = "COMPLETED"
	StateFailed        State = "FAILED"
)

// Terminal reports whether the state ends the attempt. Terminal states
// are never re-entered or left.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Attempt is the in-memory record of one exchange run. Attempts are not
// persisted; failed attempts leave no trace in the stores.
type Attempt struct {
	ID        string
	Operation string
	State     State
	StartedAt time.Time
	Err       error
}

func newAttempt(operation string, now time.Time) *Attempt {
	return &Attempt{
		ID:        "attempt:" + uuid.NewString(),
		Operation: operation,
		State:     StateInitiated,
		StartedAt: now,
	}
}

// advance moves the attempt forward. Transitions out of a terminal
// state are ignored.
func (a *Attempt) advance(next State) {
	if a.State.Terminal() {
		return
	}
	a.State = next
}

// fail marks the attempt FAILED with its cause. A later fail or advance
// does not overwrite the first outcome.
func (a *Attempt) fail(err error) {
	if a.State.Terminal() {
		return
	}
	a.State = StateFailed
	a.Err = err
}
