package retry

import (
	"context"
	"time"

	"redelivery/internal/types"
)

// Redeliverer arranges for msg to be delivered again to the origin under
// meta.OriginalRoutingKey once delay has elapsed. msg already carries the
// updated retry headers. Implementations must not sleep.
type Redeliverer interface {
	ScheduleRedelivery(ctx context.Context, msg types.Message, meta types.DeliveryMetadata, delay time.Duration) error
}

// EscalationResult is the outcome of Scheduler.Escalate.
type EscalationResult int

const (
	Scheduled EscalationResult = iota + 1
	Abandoned
)

func (r EscalationResult) String() string {
	switch r {
	case Scheduled:
		return "scheduled"
	case Abandoned:
		return "abandoned"
	default:
		return "none"
	}
}

// Scheduler owns the backoff policy and hands escalated messages to a
// Redeliverer.
type Scheduler struct {
	policy      Policy
	redeliverer Redeliverer
	guard       *Guard
	logger      types.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(policy Policy, redeliverer Redeliverer, guard *Guard, logger types.Logger) *Scheduler {
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Scheduler{
		policy:      policy,
		redeliverer: redeliverer,
		guard:       guard,
		logger:      logger,
	}
}

// Policy returns the scheduler's backoff policy.
func (s *Scheduler) Policy() Policy { return s.policy }

// Escalate computes the next delay from meta.AttemptCount, rewrites the retry
// headers and schedules redelivery. The returned metadata is the one written
// to the message. Callers enforce the attempt ceiling before calling.
func (s *Scheduler) Escalate(ctx context.Context, msg types.Message, meta types.DeliveryMetadata) (EscalationResult, types.DeliveryMetadata) {
	delay := s.policy.ComputeDelay(meta.AttemptCount)

	next := types.DeliveryMetadata{
		AttemptCount:         meta.AttemptCount + 1,
		OriginalRoutingKey:   meta.OriginalRoutingKey,
		ComputedDelaySeconds: delay,
	}
	if next.OriginalRoutingKey == "" {
		next.OriginalRoutingKey = msg.RoutingKey
	}

	out := msg
	out.Headers = RetryHeaders(next)

	result, err := s.guard.Do(ctx, "schedule_redelivery", func(ctx context.Context) error {
		return s.redeliverer.ScheduleRedelivery(ctx, out, next, time.Duration(delay)*time.Second)
	})
	if result != GuardOk {
		s.logger.Error("retry scheduling abandoned",
			"routing_key", next.OriginalRoutingKey,
			"retry_count", meta.AttemptCount,
			"delay_seconds", delay,
			"guard_result", result.String(),
			"error", errString(err),
		)
		return Abandoned, meta
	}

	s.logger.Info("message scheduled for redelivery",
		"routing_key", next.OriginalRoutingKey,
		"retry_count", next.AttemptCount,
		"max_attempts", s.policy.MaxAttempts,
		"delay_seconds", delay,
	)
	return Scheduled, next
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
