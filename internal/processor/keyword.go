// Package processor holds the demonstration processing function used by the
// consumer binaries. It fails on request, driven by keywords in the message
// content, so every path through the retry subsystem can be exercised by hand.
package processor

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"

	"redelivery/internal/retry"
	"redelivery/internal/types"
)

// Keywords recognised in Envelope.Content.
const (
	KeywordCritical  = "critical_error"
	KeywordTemporary = "temporary_error"
	KeywordRandom    = "random_fail"
)

// RandomFailureRate is the probability that a random_fail message fails.
const RandomFailureRate = 0.5

var (
	errCritical  = errors.New("Critical error - should not retry")
	errTemporary = errors.New("Temporary connection issue")
	errRandom    = errors.New("Random processing error")
)

// Keyword is a retry.Processor that maps content keywords to outcomes.
type Keyword struct {
	logger types.Logger
	float  func() float64
}

// Option configures a Keyword processor.
type Option func(*Keyword)

// WithRandom replaces the random source used for random_fail.
func WithRandom(f func() float64) Option {
	return func(k *Keyword) { k.float = f }
}

// NewKeyword creates the processor.
func NewKeyword(logger types.Logger, opts ...Option) *Keyword {
	if logger == nil {
		logger = types.NopLogger{}
	}
	k := &Keyword{logger: logger, float: rand.Float64}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Process implements retry.Processor. Keywords match case-insensitively and
// are checked in a fixed order, so content carrying several keywords resolves
// to the most severe one.
func (k *Keyword) Process(ctx context.Context, env types.Envelope, msg types.Message) (retry.Outcome, error) {
	k.logger.Info("processing message",
		"routing_key", msg.RoutingKey,
		"content", env.Content,
	)

	content := strings.ToLower(env.Content)
	switch {
	case strings.Contains(content, KeywordCritical):
		return retry.PermanentFailure, retry.Permanent(errCritical)
	case strings.Contains(content, KeywordTemporary):
		return retry.TransientFailure, errors.Join(retry.ErrTransient, errTemporary)
	case strings.Contains(content, KeywordRandom) && k.float() < RandomFailureRate:
		return retry.TransientFailure, errors.Join(retry.ErrTransient, errRandom)
	}

	k.logger.Info("message processed", "routing_key", msg.RoutingKey)
	return retry.Success, nil
}
