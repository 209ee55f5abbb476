package retry

import (
	"context"
	"time"

	"redelivery/internal/types"
)

// DeadLetterPublisher publishes a dead-letter record to the terminal queue.
type DeadLetterPublisher interface {
	PublishDeadLetter(ctx context.Context, rec types.DeadLetterRecord) error
}

// SinkResult is the outcome of Sink.DeadLetter.
type SinkResult int

const (
	Delivered SinkResult = iota + 1
	Lost
)

func (r SinkResult) String() string {
	switch r {
	case Delivered:
		return "delivered"
	case Lost:
		return "lost"
	default:
		return "none"
	}
}

// Sink diverts messages that will not be processed again. It is best effort:
// a failed publish is reported as Lost and never returned as an error.
type Sink struct {
	publisher    DeadLetterPublisher
	guard        *Guard
	maxReasonLen int
	now          func() time.Time
	logger       types.Logger
}

// SinkOption configures a Sink.
type SinkOption func(*Sink)

// WithReasonLimit sets the maximum death reason length in characters.
func WithReasonLimit(n int) SinkOption {
	return func(s *Sink) {
		if n > 0 {
			s.maxReasonLen = n
		}
	}
}

// WithClock overrides the death time source.
func WithClock(now func() time.Time) SinkOption {
	return func(s *Sink) { s.now = now }
}

// NewSink creates a Sink.
func NewSink(publisher DeadLetterPublisher, guard *Guard, logger types.Logger, opts ...SinkOption) *Sink {
	if logger == nil {
		logger = types.NopLogger{}
	}
	s := &Sink{
		publisher:    publisher,
		guard:        guard,
		maxReasonLen: DefaultDeathReasonMaxLen,
		now:          time.Now,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BuildRecord assembles the dead-letter record for msg. meta is nil when the
// inbound message carried no retry count; the record then has none either.
func (s *Sink) BuildRecord(msg types.Message, reason string, meta *types.DeliveryMetadata) types.DeadLetterRecord {
	rec := types.DeadLetterRecord{
		Message:     msg,
		DeathReason: TruncateReason(reason, s.maxReasonLen),
		DeathTime:   s.now(),
	}
	if meta != nil {
		rec.OriginalRoutingKey = meta.OriginalRoutingKey
		rec.RetryCountAtDeath = meta.AttemptCount
		rec.HasRetryCount = true
	}
	if rec.OriginalRoutingKey == "" {
		m, _ := ReadMetadata(msg)
		rec.OriginalRoutingKey = m.OriginalRoutingKey
	}
	rec.Message.Headers = DeadLetterHeaders(rec)
	return rec
}

// DeadLetter publishes msg to the dead-letter queue.
func (s *Sink) DeadLetter(ctx context.Context, msg types.Message, reason string, meta *types.DeliveryMetadata) SinkResult {
	rec := s.BuildRecord(msg, reason, meta)

	result, err := s.guard.Do(ctx, "publish_dead_letter", func(ctx context.Context) error {
		return s.publisher.PublishDeadLetter(ctx, rec)
	})
	if result != GuardOk {
		s.logger.Error("dead-letter publish failed, message lost",
			"routing_key", rec.OriginalRoutingKey,
			"reason", rec.DeathReason,
			"guard_result", result.String(),
			"error", errString(err),
		)
		return Lost
	}

	s.logger.Warn("message dead-lettered",
		"routing_key", rec.OriginalRoutingKey,
		"reason", TruncateReason(rec.DeathReason, 100),
		"retry_count", rec.RetryCountAtDeath,
	)
	return Delivered
}
