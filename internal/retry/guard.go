package retry

import (
	"context"

	"redelivery/internal/types"
)

// SessionState is the liveness of the broker session.
type SessionState int

const (
	SessionOpen SessionState = iota
	SessionClosing
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionOpen:
		return "open"
	case SessionClosing:
		return "closing"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session reports the current state of a broker session.
type Session interface {
	State() SessionState
}

// StaticSession is a Session with a fixed state. Useful for backends with no
// long-lived connection and for tests.
type StaticSession SessionState

func (s StaticSession) State() SessionState { return SessionState(s) }

// GuardResult is the result of a guarded operation.
type GuardResult int

const (
	// GuardOk means the operation ran and returned nil.
	GuardOk GuardResult = iota + 1
	// GuardSkipped means the session was not open and the operation did not
	// run.
	GuardSkipped
	// GuardFailed means the operation ran and returned an error.
	GuardFailed
)

func (r GuardResult) String() string {
	switch r {
	case GuardOk:
		return "ok"
	case GuardSkipped:
		return "skipped"
	case GuardFailed:
		return "failed"
	default:
		return "none"
	}
}

// Guard checks the session immediately before every acknowledge or publish.
// It never panics and never retries.
type Guard struct {
	session Session
	logger  types.Logger
}

// NewGuard creates a Guard over session.
func NewGuard(session Session, logger types.Logger) *Guard {
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Guard{session: session, logger: logger}
}

// Do runs fn if the session is open. The error is fn's error when the result
// is GuardFailed and nil otherwise.
func (g *Guard) Do(ctx context.Context, op string, fn func(context.Context) error) (GuardResult, error) {
	if state := g.session.State(); state != SessionOpen {
		g.logger.Warn("broker session not open, operation skipped",
			"operation", op,
			"session_state", state.String(),
		)
		return GuardSkipped, nil
	}

	if err := fn(ctx); err != nil {
		g.logger.Error("guarded operation failed",
			"operation", op,
			"error", err.Error(),
		)
		return GuardFailed, err
	}
	return GuardOk, nil
}
