// Package main is the queue monitor.
//
//	monitor [flags] [list|dlq|archived]
//
// list (the default) prints the depth of the dead-letter queue and of every
// holding queue the configured backoff policy can produce. dlq drains the
// dead-letter queue, printing each record and optionally archiving it to
// PostgreSQL (-archive) and exporting it to a zstd-compressed JSON-lines file
// (-export). archived lists the newest records already archived in
// PostgreSQL. With -backend sqs, list reports the SQS source and dead-letter
// queues instead.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"redelivery/internal/broker"
	"redelivery/internal/config"
	"redelivery/internal/db"
	"redelivery/internal/inspector"
	"redelivery/internal/logging"
	"redelivery/internal/queue"
	"redelivery/internal/types"
)

const (
	backendAMQP = "amqp"
	backendSQS  = "sqs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	backend := flag.String("backend", backendAMQP, "Queue backend to inspect (amqp|sqs)")
	archive := flag.Bool("archive", false, "dlq: archive drained records to DATABASE_URL")
	export := flag.String("export", "", "dlq: write drained records to this .jsonl.zst file")
	routingKey := flag.String("routing-key", "", "archived: only show records for this routing key")
	limit := flag.Int("limit", 20, "archived: maximum number of records")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] [list|dlq|archived]\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "  list      - List queue statuses")
		fmt.Fprintln(os.Stderr, "  dlq       - Consume dead letter queue")
		fmt.Fprintln(os.Stderr, "  archived  - List archived dead letters")
		fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}
	flag.Parse()

	command := "list"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}
	if command != "list" && command != "dlq" && command != "archived" {
		flag.Usage()
		return fmt.Errorf("unknown command %q", command)
	}

	cfg, err := config.LoadConfig(config.NewEnvVarProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger := logging.NewAdapter(logging.New(cfg.Environment, cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if command == "archived" {
		repo, closeDB, err := openArchive(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeDB()

		records, err := repo.ListRecent(ctx, *routingKey, *limit)
		if err != nil {
			return err
		}
		return printArchived(os.Stdout, records)
	}

	if *backend == backendSQS {
		if command != "list" {
			return errors.New("dlq drain is only supported for the amqp backend")
		}
		awsCfg, err := cfg.AWS.LoadSDKConfig(ctx)
		if err != nil {
			return err
		}
		reader := queue.NewDepthReader(sqs.NewFromConfig(awsCfg), map[string]string{
			"source":      cfg.AWS.SourceQueueURL,
			"dead_letter": cfg.AWS.DeadLetterQueueURL,
		})
		return list(ctx, os.Stdout, inspector.NewInspector(reader, []string{"dead_letter", "source"}, nil, logger))
	}
	if *backend != backendAMQP {
		return fmt.Errorf("unknown backend %q", *backend)
	}

	session, err := broker.Dial(cfg.Broker.URL.Unmask(), cfg.Broker.DialTimeout, logger)
	if err != nil {
		return err
	}
	defer func() { _ = session.Close() }()

	depths := broker.NewDepthReader(session)
	if command == "list" {
		queues := inspector.KnownQueues(cfg.Broker.DeadLetterQueue, cfg.Retry.Policy())
		return list(ctx, os.Stdout, inspector.NewInspector(depths, queues, nil, logger))
	}

	ch := session.Channel()
	if err := broker.NewTopology(ch, cfg.Broker.OriginExchange, cfg.Broker.ExchangeType, cfg.Broker.DeadLetterQueue).Declare(); err != nil {
		return err
	}

	sinks := []inspector.RecordSink{inspector.NewPrinter(os.Stdout)}

	if *archive {
		repo, closeDB, err := openArchive(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeDB()
		sinks = append(sinks, inspector.NewArchiver(repo, logger))
	}

	var exporter *inspector.Exporter
	if *export != "" {
		f, err := os.Create(*export)
		if err != nil {
			return fmt.Errorf("creating export file: %w", err)
		}
		defer f.Close()

		exporter, err = inspector.NewExporter(f)
		if err != nil {
			return err
		}
		sinks = append(sinks, exporter)
	}

	drainErr := drain(ctx, os.Stdout, depths, cfg.Broker.DeadLetterQueue, broker.NewQueueSource(ch, cfg.Broker.DeadLetterQueue), logger, sinks...)
	if exporter != nil {
		if err := exporter.Close(); err != nil && drainErr == nil {
			drainErr = fmt.Errorf("finalising export: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Exported %d records to %s\n", exporter.Count(), *export)
	}
	return drainErr
}

// openArchive connects to DATABASE_URL and makes sure the archive table
// exists.
func openArchive(ctx context.Context, cfg *config.Config) (*db.DeadLetterRepository, func(), error) {
	if cfg.Database.URL.IsZero() {
		return nil, nil, errors.New("DATABASE_URL is required for the dead-letter archive")
	}
	pool, err := db.NewPool(ctx, cfg.Database.URL.Unmask(), cfg.Database.MaxConns)
	if err != nil {
		return nil, nil, err
	}

	repo := db.NewDeadLetterRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return repo, pool.Close, nil
}

func list(ctx context.Context, w io.Writer, insp *inspector.Inspector) error {
	return inspector.Render(w, insp.Inspect(ctx))
}

// drain empties queue after reporting how many records it holds.
func drain(ctx context.Context, w io.Writer, depths inspector.DepthReader, queueName string, src inspector.Source, logger types.Logger, sinks ...inspector.RecordSink) error {
	count, err := depths.Depth(ctx, queueName)
	if err != nil {
		return err
	}
	if count == 0 {
		fmt.Fprintln(w, "No messages in dead letter queue.")
		return nil
	}
	fmt.Fprintf(w, "Found %d messages in dead letter queue:\n", count)

	summary, err := inspector.Drain(ctx, src, logger, sinks...)
	fmt.Fprintf(w, "\nDrained %d messages (%d malformed)\n", summary.Drained, summary.Malformed)
	return err
}

func printArchived(w io.Writer, records []db.ArchivedDeadLetter) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "No archived dead letters.")
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-8s %-20s %-26s %-6s %s\n", "ID", "Routing Key", "Death Time", "Retry", "Death Reason")
	b.WriteString(strings.Repeat("-", 80) + "\n")
	for _, r := range records {
		deathTime := "N/A"
		if r.DeathTime != nil {
			deathTime = r.DeathTime.UTC().Format(time.RFC3339)
		}
		retries := "-"
		if r.RetryCount != nil {
			retries = fmt.Sprint(*r.RetryCount)
		}
		fmt.Fprintf(&b, "%-8d %-20s %-26s %-6s %s\n", r.ID, r.RoutingKey, deathTime, retries, r.DeathReason)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
