package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redelivery/internal/retry"
)

func TestBreakerSession_TripsAfterConsecutiveFailures(t *testing.T) {
	mock := &mockSQSSender{err: errors.New("connection reset")}
	b := NewBreakerSession(mock, "sqs-test", time.Hour, nil)
	assert.Equal(t, retry.SessionOpen, b.State())

	for i := 0; i < 6; i++ {
		_, err := b.SendMessage(context.Background(), &sqs.SendMessageInput{})
		require.Error(t, err)
	}
	assert.Equal(t, retry.SessionClosed, b.State())

	// While open the breaker rejects without calling SQS.
	calls := len(mock.calls)
	_, err := b.SendMessage(context.Background(), &sqs.SendMessageInput{})
	require.Error(t, err)
	assert.Equal(t, calls, len(mock.calls))
}

func TestBreakerSession_GuardSkipsWhenOpen(t *testing.T) {
	mock := &mockSQSSender{err: errors.New("connection reset")}
	b := NewBreakerSession(mock, "sqs-test", time.Hour, nil)
	for i := 0; i < 6; i++ {
		_, _ = b.SendMessage(context.Background(), &sqs.SendMessageInput{})
	}

	g := retry.NewGuard(b, nil)
	result, err := g.Do(context.Background(), "publish", func(context.Context) error { return nil })
	assert.Equal(t, retry.GuardSkipped, result)
	assert.NoError(t, err)
}

func TestBreakerSession_HalfOpenAllowsProbe(t *testing.T) {
	mock := &mockSQSSender{err: errors.New("connection reset")}
	b := NewBreakerSession(mock, "sqs-test", 10*time.Millisecond, nil)
	for i := 0; i < 6; i++ {
		_, _ = b.SendMessage(context.Background(), &sqs.SendMessageInput{})
	}
	require.Equal(t, retry.SessionClosed, b.State())

	require.Eventually(t, func() bool { return b.State() == retry.SessionOpen }, time.Second, 5*time.Millisecond)

	mock.err = nil
	_, err := b.SendMessage(context.Background(), &sqs.SendMessageInput{})
	require.NoError(t, err)
	assert.Equal(t, retry.SessionOpen, b.State())
}

func TestBreakerSession_Close(t *testing.T) {
	b := NewBreakerSession(&mockSQSSender{}, "sqs-test", 0, nil)
	b.Close()
	assert.Equal(t, retry.SessionClosing, b.State())
}
