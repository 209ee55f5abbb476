package retry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGuardDo(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name       string
		state      SessionState
		opErr      error
		wantResult GuardResult
		wantErr    error
		wantCalled bool
	}{
		{name: "open ok", state: SessionOpen, wantResult: GuardOk, wantCalled: true},
		{name: "open failing op", state: SessionOpen, opErr: boom, wantResult: GuardFailed, wantErr: boom, wantCalled: true},
		{name: "closing", state: SessionClosing, wantResult: GuardSkipped},
		{name: "closed", state: SessionClosed, wantResult: GuardSkipped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := newRecordingLogger()
			g := NewGuard(StaticSession(tt.state), logger)

			called := false
			result, err := g.Do(context.Background(), "ack", func(context.Context) error {
				called = true
				return tt.opErr
			})

			assert.Equal(t, tt.wantResult, result)
			assert.Equal(t, tt.wantCalled, called)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			if tt.wantResult == GuardSkipped {
				assert.Equal(t, 1, logger.count("WARN"))
			}
		})
	}
}

func TestGuard_ChecksStateOnEveryCall(t *testing.T) {
	b := newFakeBroker()
	g := NewGuard(b, nil)
	noop := func(context.Context) error { return nil }

	r, _ := g.Do(context.Background(), "publish", noop)
	assert.Equal(t, GuardOk, r)

	b.state = SessionClosed
	r, _ = g.Do(context.Background(), "publish", noop)
	assert.Equal(t, GuardSkipped, r)
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "open", SessionOpen.String())
	assert.Equal(t, "closing", SessionClosing.String())
	assert.Equal(t, "closed", SessionClosed.String())
	assert.Equal(t, "none", GuardResult(0).String())
	assert.Equal(t, "skipped", GuardSkipped.String())
	assert.Equal(t, "abandoned", Abandoned.String())
	assert.Equal(t, "lost", Lost.String())
}
