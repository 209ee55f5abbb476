package retry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redelivery/internal/types"
)

var fixedNow = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

func TestSink_DeadLetter(t *testing.T) {
	b := newFakeBroker()
	s := NewSink(b, NewGuard(b, nil), nil, WithClock(fixedNow))

	msg := envelopeMessage("error", "critical_error")
	msg.Headers = types.Headers{"x-death": []any{"broker added"}}
	meta := &types.DeliveryMetadata{AttemptCount: 2, OriginalRoutingKey: "error"}

	result := s.DeadLetter(context.Background(), msg, "boom", meta)

	assert.Equal(t, Delivered, result)
	require.Len(t, b.deadLetters, 1)
	rec := b.deadLetters[0]
	assert.Equal(t, "boom", rec.DeathReason)
	assert.Equal(t, fixedNow(), rec.DeathTime)
	assert.Equal(t, 2, rec.RetryCountAtDeath)
	assert.Equal(t, types.Headers{
		types.HeaderDeathReason:        "boom",
		types.HeaderDeathTimestamp:     fixedNow().Unix(),
		types.HeaderDeathDatetime:      "2025-06-01T12:00:00.000000",
		types.HeaderOriginalRoutingKey: "error",
		types.HeaderRetryCount:         int64(2),
	}, rec.Message.Headers)
}

func TestSink_TruncatesReason(t *testing.T) {
	b := newFakeBroker()

	t.Run("default limit", func(t *testing.T) {
		s := NewSink(b, NewGuard(b, nil), nil)
		rec := s.BuildRecord(envelopeMessage("info", "x"), strings.Repeat("e", 5000), nil)
		assert.Len(t, rec.DeathReason, 1000)
	})

	t.Run("custom limit", func(t *testing.T) {
		s := NewSink(b, NewGuard(b, nil), nil, WithReasonLimit(10))
		rec := s.BuildRecord(envelopeMessage("info", "x"), strings.Repeat("e", 50), nil)
		assert.Len(t, rec.DeathReason, 10)
	})
}

func TestSink_NilMetaUsesHeaders(t *testing.T) {
	b := newFakeBroker()
	s := NewSink(b, NewGuard(b, nil), nil)

	msg := envelopeMessage("rerouted", "x")
	msg.Headers = types.Headers{types.HeaderOriginalRoutingKey: "info"}
	rec := s.BuildRecord(msg, "r", nil)

	assert.Equal(t, "info", rec.OriginalRoutingKey)
	assert.False(t, rec.HasRetryCount)
}

func TestSink_LostNeverErrors(t *testing.T) {
	tests := []struct {
		name  string
		state SessionState
		err   error
	}{
		{name: "closed session", state: SessionClosed},
		{name: "closing session", state: SessionClosing},
		{name: "publish error", state: SessionOpen, err: errors.New("connection reset")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newFakeBroker()
			b.state = tt.state
			b.deadLetterErr = tt.err
			logger := newRecordingLogger()
			s := NewSink(b, NewGuard(b, logger), logger)

			result := s.DeadLetter(context.Background(), envelopeMessage("info", "x"), "reason", nil)
			assert.Equal(t, Lost, result)
			assert.Empty(t, b.deadLetters)
			assert.GreaterOrEqual(t, logger.count("ERROR"), 1)
		})
	}
}
