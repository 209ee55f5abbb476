package queue

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/sony/gobreaker/v2"

	"redelivery/internal/retry"
	"redelivery/internal/types"
)

// BreakerSession puts a circuit breaker in front of SendMessage and exposes
// the breaker as the session state the retry Guard consults. SQS has no
// long-lived channel, so repeated send failures stand in for a dead session.
//
//	breaker closed     -> SessionOpen
//	breaker half-open  -> SessionOpen (the probe request must be allowed)
//	breaker open       -> SessionClosed
//	Close called       -> SessionClosing
type BreakerSession struct {
	client  SQSSender
	breaker *gobreaker.CircuitBreaker[*sqs.SendMessageOutput]
	closing atomic.Bool
}

// NewBreakerSession creates a BreakerSession. The breaker trips after more
// than five consecutive failures and probes again after timeout.
func NewBreakerSession(client SQSSender, name string, timeout time.Duration, logger types.Logger) *BreakerSession {
	if logger == nil {
		logger = types.NopLogger{}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker[*sqs.SendMessageOutput](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("sqs circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return &BreakerSession{client: client, breaker: cb}
}

// SendMessage sends through the breaker.
func (b *BreakerSession) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	return b.breaker.Execute(func() (*sqs.SendMessageOutput, error) {
		return b.client.SendMessage(ctx, params, optFns...)
	})
}

// State implements retry.Session.
func (b *BreakerSession) State() retry.SessionState {
	if b.closing.Load() {
		return retry.SessionClosing
	}
	if b.breaker.State() == gobreaker.StateOpen {
		return retry.SessionClosed
	}
	return retry.SessionOpen
}

// Close marks the session as shutting down. Guarded operations are skipped
// from then on.
func (b *BreakerSession) Close() {
	b.closing.Store(true)
}

var (
	_ SQSSender     = (*BreakerSession)(nil)
	_ retry.Session = (*BreakerSession)(nil)
)
