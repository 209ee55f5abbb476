// Package main publishes a single message to the origin exchange.
//
//	producer <routing_key> <message...>
//
// The message words are joined with spaces and wrapped in a JSON envelope
// stamped with the current time. Include critical_error, temporary_error or
// random_fail in the message to exercise the consumer's failure paths.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"redelivery/internal/broker"
	"redelivery/internal/config"
	"redelivery/internal/logging"
)

const publishTimeout = 5 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <routing_key> <message>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Example: %s error 'Database connection failed'\n", os.Args[0])
		return errors.New("routing key and message are required")
	}
	routingKey := args[0]
	content := strings.Join(args[1:], " ")

	cfg, err := config.LoadConfig(config.NewEnvVarProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger := logging.NewAdapter(logging.New(cfg.Environment, cfg.LogLevel))

	session, err := broker.Dial(cfg.Broker.URL.Unmask(), cfg.Broker.DialTimeout, logger)
	if err != nil {
		return err
	}
	defer func() { _ = session.Close() }()

	ch := session.Channel()
	if err := broker.NewTopology(ch, cfg.Broker.OriginExchange, cfg.Broker.ExchangeType, cfg.Broker.DeadLetterQueue).Declare(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	messageID := uuid.NewString()
	if _, err := broker.NewProducer(ch, cfg.Broker.OriginExchange).Publish(ctx, routingKey, content, messageID); err != nil {
		return err
	}

	fmt.Printf(" [x] Sent message to '%s': %s\n", routingKey, content)
	logger.Info("message published", "routing_key", routingKey, "message_id", messageID)
	return nil
}
