// Package metrics implements retry.Metrics for Prometheus and CloudWatch.
package metrics

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"redelivery/internal/retry"
)

// Prometheus records retry results as counters and queue depths as gauges.
type Prometheus struct {
	outcomes    *prometheus.CounterVec
	escalations *prometheus.CounterVec
	deadLetters *prometheus.CounterVec
	acks        *prometheus.CounterVec
	queueDepth  *prometheus.GaugeVec
}

// NewPrometheus registers the collectors on reg. Pass
// prometheus.DefaultRegisterer in binaries and a fresh registry in tests.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	factory := promauto.With(reg)
	return &Prometheus{
		outcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redelivery_messages_total",
				Help: "Total number of messages classified, by outcome",
			},
			[]string{"outcome"},
		),
		escalations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redelivery_escalations_total",
				Help: "Total number of retry escalations, by delay and result",
			},
			[]string{"delay_seconds", "result"},
		),
		deadLetters: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redelivery_dead_letters_total",
				Help: "Total number of dead-letter publishes, by outcome and result",
			},
			[]string{"outcome", "result"},
		),
		acks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redelivery_acks_total",
				Help: "Total number of acknowledge attempts, by guard result",
			},
			[]string{"result"},
		),
		queueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "redelivery_queue_depth",
				Help: "Messages ready in each inspected queue",
			},
			[]string{"queue"},
		),
	}
}

func (p *Prometheus) RecordOutcome(_ context.Context, outcome retry.Outcome) {
	p.outcomes.WithLabelValues(outcome.String()).Inc()
}

func (p *Prometheus) RecordEscalation(_ context.Context, delaySeconds int, result retry.EscalationResult) {
	p.escalations.WithLabelValues(strconv.Itoa(delaySeconds), result.String()).Inc()
}

func (p *Prometheus) RecordDeadLetter(_ context.Context, outcome retry.Outcome, result retry.SinkResult) {
	p.deadLetters.WithLabelValues(outcome.String(), result.String()).Inc()
}

func (p *Prometheus) RecordAck(_ context.Context, result retry.GuardResult) {
	p.acks.WithLabelValues(result.String()).Inc()
}

// SetQueueDepth records an inspected depth. Unavailable queues are removed
// so a stale value is never scraped.
func (p *Prometheus) SetQueueDepth(queue string, depth int, available bool) {
	if !available {
		p.queueDepth.DeleteLabelValues(queue)
		return
	}
	p.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

var _ retry.Metrics = (*Prometheus)(nil)
