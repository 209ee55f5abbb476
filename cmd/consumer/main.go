// Package main is the entry point for the AMQP retry consumer.
//
//	consumer <routing_key>...
//
// The consumer declares the origin, retry and dead-letter topology, binds its
// queue to every routing key given on the command line and processes one
// message at a time. Transient failures are escalated through delay-holding
// queues; everything else, and anything past the retry ceiling, goes to the
// dead-letter queue. When INSPECTOR_ENABLED is set the queue inspector and
// Prometheus metrics are served on INSPECTOR_ADDR.
//
// Shutdown is driven by SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"redelivery/internal/broker"
	"redelivery/internal/config"
	"redelivery/internal/inspector"
	"redelivery/internal/logging"
	"redelivery/internal/metrics"
	"redelivery/internal/processor"
	"redelivery/internal/retry"
	"redelivery/internal/types"
)

const shutdownTimeout = 10 * time.Second

var errDeliveriesClosed = errors.New("delivery stream closed by broker")

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(routingKeys []string) error {
	if len(routingKeys) == 0 {
		fmt.Fprintf(os.Stderr, "Usage: %s <routing_key>...\n", os.Args[0])
		return errors.New("at least one routing key is required")
	}

	cfg, err := config.LoadConfig(config.NewEnvVarProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	slogger := logging.New(cfg.Environment, cfg.LogLevel)
	logger := logging.NewAdapter(slogger)
	logger.Info("retry consumer starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"exchange", cfg.Broker.OriginExchange,
		"routing_keys", routingKeys,
		"max_retry_attempts", cfg.Retry.MaxAttempts,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session, err := broker.Dial(cfg.Broker.URL.Unmask(), cfg.Broker.DialTimeout, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("broker session close failed", "error", err)
		}
	}()

	ch := session.Channel()
	origin := cfg.Broker.OriginExchange
	policy := cfg.Retry.Policy()

	topology := broker.NewTopology(ch, origin, cfg.Broker.ExchangeType, cfg.Broker.DeadLetterQueue)
	if err := topology.Declare(); err != nil {
		return err
	}
	queueName, err := topology.DeclareConsumerQueue(cfg.Broker.ConsumerQueue, routingKeys)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	prom := metrics.NewPrometheus(registry)

	recorder, err := newRecorder(ctx, cfg, prom, logger)
	if err != nil {
		return err
	}

	consumer, err := retry.NewConsumer(retry.ConsumerDeps{
		Processor:   processor.NewKeyword(logger),
		Policy:      policy,
		Session:     session,
		Redeliverer: broker.NewRedeliverer(ch, broker.NewHoldingQueues(ch, origin, cfg.Retry.PinDeadLetterRoutingKey), origin),
		DeadLetters: broker.NewDeadLetterPublisher(ch, origin, cfg.Broker.DeadLetterQueue),
		Metrics:     recorder,
		Logger:      logger,
		SinkOptions: []retry.SinkOption{retry.WithReasonLimit(cfg.Retry.DeathReasonMaxLen)},
	})
	if err != nil {
		return fmt.Errorf("creating consumer: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	deliveries, err := broker.Consume(gctx, ch, queueName, "", cfg.Broker.Prefetch, logger)
	if err != nil {
		return err
	}
	logger.Info("waiting for messages", "queue", queueName)

	g.Go(func() error {
		if err := consumer.Run(gctx, deliveries); err != nil {
			return err
		}
		if gctx.Err() != nil {
			return gctx.Err()
		}
		return errDeliveriesClosed
	})

	if cfg.Inspector.Enabled {
		insp := inspector.NewInspector(
			broker.NewDepthReader(session),
			inspector.KnownQueues(cfg.Broker.DeadLetterQueue, policy),
			prom,
			logger,
		)
		server := &http.Server{
			Addr:              cfg.Inspector.Addr,
			Handler:           inspector.NewRouter(insp, session, registry, logger),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
		}

		g.Go(func() error {
			insp.Run(gctx, cfg.Inspector.SampleInterval)
			return nil
		})
		g.Go(func() error {
			logger.Info("inspector listening", "addr", cfg.Inspector.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("inspector server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		logger.Info("retry consumer stopped")
		return nil
	}
	return err
}

// newRecorder selects the outcome metrics backend. CloudWatch needs AWS
// credentials, so the SDK is only loaded when that backend is requested.
func newRecorder(ctx context.Context, cfg *config.Config, prom *metrics.Prometheus, logger types.Logger) (retry.Metrics, error) {
	var cw *metrics.CloudWatch
	switch cfg.Observability.MetricsBackend {
	case metrics.BackendCloudWatch, metrics.BackendBoth:
		awsCfg, err := cfg.AWS.LoadSDKConfig(ctx)
		if err != nil {
			return nil, err
		}
		cw = metrics.NewCloudWatch(cloudwatch.NewFromConfig(awsCfg), cfg.Observability.MetricNamespace, logger)
	}
	return metrics.New(cfg.Observability.MetricsBackend, prom, cw), nil
}
