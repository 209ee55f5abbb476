package broker

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"redelivery/internal/types"
)

// DepthReader queries queue depths with passive declares. A passive declare
// of a missing queue closes the channel it ran on, so every query uses a
// fresh channel and one missing queue cannot poison the rest of a report.
type DepthReader struct {
	open func() (amqpChannel, error)
}

// NewDepthReader creates a DepthReader opening channels on s.
func NewDepthReader(s *Session) *DepthReader {
	return &DepthReader{open: s.OpenChannel}
}

// Depth returns the number of ready messages in queue.
func (r *DepthReader) Depth(_ context.Context, queue string) (int, error) {
	ch, err := r.open()
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeBrokerChannelClosed, "failed to open inspection channel", err)
	}
	defer func() { _ = ch.Close() }()

	q, err := ch.QueueDeclarePassive(queue, false, false, false, false, nil)
	if err != nil {
		var amqpErr *amqp.Error
		if errors.As(err, &amqpErr) && amqpErr.Code == amqp.NotFound {
			return 0, types.NewAppError(types.ErrCodeQueueNotFound, fmt.Sprintf("queue %q not found", queue), err)
		}
		return 0, fmt.Errorf("inspecting queue %q: %w", queue, err)
	}
	return q.Messages, nil
}

// QueueSource pulls messages one at a time with basic.get.
type QueueSource struct {
	ch    amqpChannel
	queue string
}

// NewQueueSource creates a QueueSource over queue.
func NewQueueSource(ch amqpChannel, queue string) *QueueSource {
	return &QueueSource{ch: ch, queue: queue}
}

// Next returns the next message and its ack function. ok is false when the
// queue is empty.
func (s *QueueSource) Next(_ context.Context) (msg types.Message, ack func() error, ok bool, err error) {
	d, ok, err := s.ch.Get(s.queue, false)
	if err != nil {
		return types.Message{}, nil, false, fmt.Errorf("reading from %q: %w", s.queue, err)
	}
	if !ok {
		return types.Message{}, nil, false, nil
	}
	return fromDelivery(d), func() error { return d.Ack(false) }, true, nil
}
