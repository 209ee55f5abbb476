// Package main is the entry point for the SQS retry worker Lambda function.
//
// The worker consumes the source queue through the same retry.Consumer the
// AMQP consumer uses. SQS supplies the delay natively: an escalated message
// is sent back to the source queue with DelaySeconds set, and a dead letter
// is sent to the DLQ URL. Sends go through a circuit breaker that doubles as
// the session state, so a failing SQS endpoint makes the worker stop sending
// and stop acknowledging.
//
// Acknowledgement is by omission. A record is deleted by the Lambda runtime
// unless it is listed in BatchItemFailures, so a skipped acknowledge, and a
// record whose fallback chain was exhausted, are both reported back and SQS
// redelivers them after the visibility timeout.
//
// Cold Start (main):
//  1. Load configuration and build the structured logger.
//  2. Load AWS SDK configuration.
//  3. Wrap the SQS client in a BreakerSession.
//  4. Build the retry Consumer and CloudWatch metrics.
//  5. Register the handler and call lambda.Start.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"redelivery/internal/config"
	"redelivery/internal/logging"
	"redelivery/internal/metrics"
	"redelivery/internal/processor"
	"redelivery/internal/queue"
	"redelivery/internal/retry"
	"redelivery/internal/types"
)

const breakerTimeout = 30 * time.Second

// Handler holds the dependencies for the worker Lambda handler.
type Handler struct {
	consumer *retry.Consumer
	logger   types.Logger
}

// workerDeps are the inputs to newHandler.
type workerDeps struct {
	Session     *queue.BreakerSession
	SourceURL   string
	DLQURL      string
	Policy      retry.Policy
	Metrics     retry.Metrics
	ReasonLimit int
	Logger      types.Logger
}

func newHandler(deps workerDeps) (*Handler, error) {
	if deps.SourceURL == "" || deps.DLQURL == "" {
		return nil, errors.New("SQS_SOURCE_QUEUE and SQS_DLQ are required")
	}

	var opts []retry.SinkOption
	if deps.ReasonLimit > 0 {
		opts = append(opts, retry.WithReasonLimit(deps.ReasonLimit))
	}

	consumer, err := retry.NewConsumer(retry.ConsumerDeps{
		Processor:   processor.NewKeyword(deps.Logger),
		Policy:      deps.Policy,
		Session:     deps.Session,
		Redeliverer: queue.NewRedeliverer(deps.Session, deps.SourceURL, deps.Logger),
		DeadLetters: queue.NewDeadLetterPublisher(deps.Session, deps.DLQURL),
		Metrics:     deps.Metrics,
		Logger:      deps.Logger,
		SinkOptions: opts,
	})
	if err != nil {
		return nil, err
	}
	return &Handler{consumer: consumer, logger: deps.Logger}, nil
}

// Handle processes an SQS event one record at a time, in order.
func (h *Handler) Handle(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range event.Records {
		report := h.consumer.Handle(ctx, retry.Delivery{
			Message: queue.MessageFromEvent(record),
			Ack:     func(context.Context) error { return nil },
		})

		switch {
		case report.Ack != retry.GuardOk:
			h.logger.Warn("acknowledge skipped, leaving record for redelivery",
				"message_id", record.MessageId,
				"guard_result", report.Ack.String(),
			)
		case report.Lost():
			// Deletion has not happened yet, so the record can still be saved.
			h.logger.Warn("fallback chain exhausted, leaving record for redelivery",
				"message_id", record.MessageId,
				"outcome", report.Outcome.String(),
			)
		default:
			continue
		}
		response.BatchItemFailures = append(response.BatchItemFailures,
			events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
		)
	}

	return response, nil
}

func main() {
	cfg, err := config.LoadConfig(config.NewEnvVarProvider())
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: loading configuration: %v\n", err)
		os.Exit(1)
	}

	slogger := logging.New(cfg.Environment, cfg.LogLevel)
	logger := logging.NewAdapter(slogger)
	logger.Info("SQS retry worker initializing (cold start)",
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
	)

	awsCfg, err := cfg.AWS.LoadSDKConfig(context.Background())
	if err != nil {
		slogger.Error("Failed to load AWS SDK config", "error", err)
		os.Exit(1)
	}

	session := queue.NewBreakerSession(sqs.NewFromConfig(awsCfg), "sqs-retry", breakerTimeout, logger)

	var cw *metrics.CloudWatch
	switch cfg.Observability.MetricsBackend {
	case metrics.BackendCloudWatch, metrics.BackendBoth:
		cw = metrics.NewCloudWatch(cloudwatch.NewFromConfig(awsCfg), cfg.Observability.MetricNamespace, logger)
	}

	handler, err := newHandler(workerDeps{
		Session:     session,
		SourceURL:   cfg.AWS.SourceQueueURL,
		DLQURL:      cfg.AWS.DeadLetterQueueURL,
		Policy:      cfg.Retry.Policy(),
		Metrics:     metrics.New(cfg.Observability.MetricsBackend, nil, cw),
		ReasonLimit: cfg.Retry.DeathReasonMaxLen,
		Logger:      logger,
	})
	if err != nil {
		slogger.Error("Failed to create handler", "error", err)
		os.Exit(1)
	}

	logger.Info("SQS retry worker initialized",
		"source_queue", cfg.AWS.SourceQueueURL,
		"dead_letter_queue", cfg.AWS.DeadLetterQueueURL,
		"max_retry_attempts", cfg.Retry.MaxAttempts,
		"metrics_backend", cfg.Observability.MetricsBackend,
	)

	lambda.Start(handler.Handle)
}
