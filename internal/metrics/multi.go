package metrics

import (
	"context"

	"redelivery/internal/retry"
)

// Multi fans every call out to each recorder in order.
type Multi []retry.Metrics

func (m Multi) RecordOutcome(ctx context.Context, outcome retry.Outcome) {
	for _, r := range m {
		r.RecordOutcome(ctx, outcome)
	}
}

func (m Multi) RecordEscalation(ctx context.Context, delaySeconds int, result retry.EscalationResult) {
	for _, r := range m {
		r.RecordEscalation(ctx, delaySeconds, result)
	}
}

func (m Multi) RecordDeadLetter(ctx context.Context, outcome retry.Outcome, result retry.SinkResult) {
	for _, r := range m {
		r.RecordDeadLetter(ctx, outcome, result)
	}
}

func (m Multi) RecordAck(ctx context.Context, result retry.GuardResult) {
	for _, r := range m {
		r.RecordAck(ctx, result)
	}
}

// Backend names accepted by New.
const (
	BackendPrometheus = "prometheus"
	BackendCloudWatch = "cloudwatch"
	BackendBoth       = "both"
	BackendNone       = "none"
)

// New selects recorders for backend. prom or cw may be nil when the backend
// does not need them.
func New(backend string, prom *Prometheus, cw *CloudWatch) retry.Metrics {
	var out Multi
	if (backend == BackendPrometheus || backend == BackendBoth) && prom != nil {
		out = append(out, prom)
	}
	if (backend == BackendCloudWatch || backend == BackendBoth) && cw != nil {
		out = append(out, cw)
	}
	switch len(out) {
	case 0:
		return retry.NopMetrics{}
	case 1:
		return out[0]
	default:
		return out
	}
}
