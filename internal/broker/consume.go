package broker

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"redelivery/internal/retry"
	"redelivery/internal/types"
)

// Consume starts a manual-ack consumer on queue and adapts every delivery for
// the retry Consumer. prefetch below one is treated as one. The returned
// channel is closed when ctx is cancelled or the broker stops the consumer.
func Consume(ctx context.Context, ch amqpChannel, queue, consumerTag string, prefetch int, logger types.Logger) (<-chan retry.Delivery, error) {
	if logger == nil {
		logger = types.NopLogger{}
	}
	if prefetch < 1 {
		prefetch = 1
	}

	if err := ch.Qos(prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("setting prefetch: %w", err)
	}

	src, err := ch.Consume(queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeBrokerChannelClosed, fmt.Sprintf("failed to consume from %q", queue), err)
	}

	out := make(chan retry.Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-src:
				if !ok {
					logger.Warn("delivery channel closed by broker", "queue", queue)
					return
				}
				select {
				case out <- adaptDelivery(d):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func adaptDelivery(d amqp.Delivery) retry.Delivery {
	return retry.Delivery{
		Message: fromDelivery(d),
		Ack: func(context.Context) error {
			if err := d.Ack(false); err != nil {
				return types.NewAppError(types.ErrCodeBrokerAckFailed, "failed to acknowledge delivery", err)
			}
			return nil
		},
	}
}
