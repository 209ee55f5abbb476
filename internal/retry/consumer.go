package retry

import (
	"context"
	"fmt"

	"redelivery/internal/types"
)

// Delivery is one inbound message handed to the Consumer by a backend.
// Ack acknowledges it on the session it arrived on.
type Delivery struct {
	Message types.Message
	Ack     func(ctx context.Context) error
}

// Report summarises what the Consumer did with one delivery.
type Report struct {
	Outcome      Outcome
	Reason       string
	AttemptCount int

	// Escalation and DeadLetter are zero when the step was not attempted.
	Escalation EscalationResult
	Metadata   types.DeliveryMetadata
	DeadLetter SinkResult
	Chain      ChainResult

	Ack GuardResult
}

// Lost reports whether the message was neither redelivered nor recorded.
// When Ack is GuardSkipped the broker still holds the message and will
// redeliver it, so it is not lost.
func (r Report) Lost() bool {
	return r.Chain.Lost() && r.Ack == GuardOk
}

// Consumer is the single-threaded consumption loop.
type Consumer struct {
	classifier *Classifier
	scheduler  *Scheduler
	sink       *Sink
	guard      *Guard
	metrics    Metrics
	logger     types.Logger
}

// ConsumerDeps holds the collaborators of a Consumer.
type ConsumerDeps struct {
	Processor   Processor
	Policy      Policy
	Session     Session
	Redeliverer Redeliverer
	DeadLetters DeadLetterPublisher
	Metrics     Metrics
	Logger      types.Logger
	SinkOptions []SinkOption
}

// NewConsumer wires a Consumer. All components share one Guard over
// deps.Session.
func NewConsumer(deps ConsumerDeps) (*Consumer, error) {
	if deps.Processor == nil || deps.Session == nil || deps.Redeliverer == nil || deps.DeadLetters == nil {
		return nil, fmt.Errorf("retry consumer: processor, session, redeliverer and dead-letter publisher are required")
	}
	if err := deps.Policy.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = types.NopLogger{}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = NopMetrics{}
	}

	guard := NewGuard(deps.Session, logger)
	return &Consumer{
		classifier: NewClassifier(deps.Processor),
		scheduler:  NewScheduler(deps.Policy, deps.Redeliverer, guard, logger),
		sink:       NewSink(deps.DeadLetters, guard, logger, deps.SinkOptions...),
		guard:      guard,
		metrics:    metrics,
		logger:     logger,
	}, nil
}

// Handle classifies d, routes it and acknowledges it. The acknowledge is
// always attempted last, whichever branch ran. Handle never panics and never
// returns an error: failures are logged and reflected in the Report.
func (c *Consumer) Handle(ctx context.Context, d Delivery) Report {
	meta, hasCount := ReadMetadata(d.Message)
	var deadMeta *types.DeliveryMetadata
	if hasCount {
		deadMeta = &meta
	}

	log := c.logger.With(
		"routing_key", meta.OriginalRoutingKey,
		"message_id", d.Message.MessageID,
	)

	cls := c.classifier.Classify(ctx, d.Message)
	c.metrics.RecordOutcome(ctx, cls.Outcome)

	report := Report{
		Outcome:      cls.Outcome,
		Reason:       cls.Reason,
		AttemptCount: meta.AttemptCount,
	}

	var chain FallbackChain
	switch cls.Outcome {
	case Success:
		log.Info("message processed", "retry_count", meta.AttemptCount)

	case TransientFailure:
		if c.scheduler.Policy().CanEscalate(meta.AttemptCount) {
			chain = FallbackChain{
				c.escalateStep(d.Message, meta, &report),
				c.deadLetterStep(d.Message, fmt.Sprintf("Retry scheduling failed after %d attempts", meta.AttemptCount), deadMeta, &report),
			}
		} else {
			report.Reason = "Max retry attempts exceeded"
			chain = FallbackChain{c.deadLetterStep(d.Message, report.Reason, deadMeta, &report)}
		}

	default:
		log.Warn("message failed without retry",
			"outcome", cls.Outcome.String(),
			"reason", TruncateReason(cls.Reason, 200),
		)
		chain = FallbackChain{c.deadLetterStep(d.Message, cls.Reason, deadMeta, &report)}
	}

	if len(chain) > 0 {
		report.Chain = chain.Execute(ctx)
	}

	report.Ack = c.ack(ctx, d)
	c.metrics.RecordAck(ctx, report.Ack)

	if report.Lost() {
		log.Error("message lost: fallback chain exhausted and delivery acknowledged",
			"outcome", cls.Outcome.String(),
			"reason", report.Reason,
			"attempted", report.Chain.Attempted,
		)
	}
	return report
}

func (c *Consumer) escalateStep(msg types.Message, meta types.DeliveryMetadata, report *Report) Fallback {
	return Fallback{
		Name: "escalate",
		Run: func(ctx context.Context) bool {
			result, next := c.scheduler.Escalate(ctx, msg, meta)
			report.Escalation = result
			report.Metadata = next
			c.metrics.RecordEscalation(ctx, c.scheduler.Policy().ComputeDelay(meta.AttemptCount), result)
			return result == Scheduled
		},
	}
}

func (c *Consumer) deadLetterStep(msg types.Message, reason string, meta *types.DeliveryMetadata, report *Report) Fallback {
	return Fallback{
		Name: "dead_letter",
		Run: func(ctx context.Context) bool {
			result := c.sink.DeadLetter(ctx, msg, reason, meta)
			report.DeadLetter = result
			c.metrics.RecordDeadLetter(ctx, report.Outcome, result)
			return result == Delivered
		},
	}
}

func (c *Consumer) ack(ctx context.Context, d Delivery) GuardResult {
	if d.Ack == nil {
		return GuardOk
	}
	result, _ := c.guard.Do(ctx, "ack", d.Ack)
	return result
}

// Run handles deliveries one at a time until ctx is cancelled or the channel
// is closed. The next delivery is not read until the previous one has been
// acknowledged.
func (c *Consumer) Run(ctx context.Context, deliveries <-chan Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			c.Handle(ctx, d)
		}
	}
}
