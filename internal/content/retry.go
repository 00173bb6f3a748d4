package content

import (
	"math"
	"time"
)

// retryPhase is the state of the per-URL retry machine.
type retryPhase int

// States of the retry machine. A fetch walks Init -> (Retrying)* ->
// one of Success, PermanentFailure, TransientFailure.
const (
	phaseInit retryPhase = iota
	phaseRetrying
	phaseSuccess
	phasePermanentFailure
	phaseTransientFailure
)

// retryMachine makes the retry policy explicit and independently
// testable against synthetic failure sequences, instead of burying the
// branching in the fetch loop.
type retryMachine struct {
	maxRetries int
	baseDelay  time.Duration
	attempt    int
	phase      retryPhase
}

func newRetryMachine(maxRetries int, baseDelay time.Duration) *retryMachine {
	return &retryMachine{maxRetries: maxRetries, baseDelay: baseDelay}
}

// Observe feeds the outcome of one attempt into the machine and returns
// the next phase. A nil error is terminal success. A non-retryable error
// is a permanent failure. A retryable error moves to Retrying until the
// retry budget is spent, then to TransientFailure.
func (m *retryMachine) Observe(err *Error) retryPhase {
	switch {
	case err == nil:
		m.phase = phaseSuccess
	case !err.Retryable():
		m.phase = phasePermanentFailure
	case m.attempt >= m.maxRetries:
		m.phase = phaseTransientFailure
	default:
		m.attempt++
		m.phase = phaseRetrying
	}
	return m.phase
}

// Backoff returns the delay before the attempt the machine just moved
// into: baseDelay * 2^(attempt-1), so the first retry waits baseDelay.
func (m *retryMachine) Backoff() time.Duration {
	if m.attempt < 1 {
		return m.baseDelay
	}
	return time.Duration(float64(m.baseDelay) * math.Pow(2, float64(m.attempt-1)))
}

// Attempts reports how many attempts have been made so far, counting the
// initial one.
func (m *retryMachine) Attempts() int {
	return m.attempt + 1
}
