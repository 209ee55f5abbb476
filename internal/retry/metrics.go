package retry

import "context"

// Metrics records per-message results. Implementations must not block
// processing and must swallow their own errors.
type Metrics interface {
	RecordOutcome(ctx context.Context, outcome Outcome)
	RecordEscalation(ctx context.Context, delaySeconds int, result EscalationResult)
	RecordDeadLetter(ctx context.Context, outcome Outcome, result SinkResult)
	RecordAck(ctx context.Context, result GuardResult)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordOutcome(context.Context, Outcome)                {}
func (NopMetrics) RecordEscalation(context.Context, int, EscalationResult) {}
func (NopMetrics) RecordDeadLetter(context.Context, Outcome, SinkResult) {}
func (NopMetrics) RecordAck(context.Context, GuardResult)                {}
