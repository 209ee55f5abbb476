package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"redelivery/internal/retry"
	"redelivery/internal/types"
)

// toPublishing converts a message to an AMQP publishing. Messages are always
// persistent.
func toPublishing(msg types.Message) amqp.Publishing {
	contentType := msg.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	return amqp.Publishing{
		Headers:       amqp.Table(msg.Headers),
		ContentType:   contentType,
		DeliveryMode:  amqp.Persistent,
		CorrelationId: msg.CorrelationID,
		ReplyTo:       msg.ReplyTo,
		MessageId:     msg.MessageID,
		Timestamp:     msg.Timestamp,
		Body:          msg.Body,
	}
}

// fromDelivery converts an AMQP delivery to a message.
func fromDelivery(d amqp.Delivery) types.Message {
	var headers types.Headers
	if d.Headers != nil {
		headers = types.Headers(d.Headers)
	}
	return types.Message{
		MessageID:     d.MessageId,
		RoutingKey:    d.RoutingKey,
		Body:          d.Body,
		Headers:       headers,
		ContentType:   d.ContentType,
		CorrelationID: d.CorrelationId,
		ReplyTo:       d.ReplyTo,
		Timestamp:     d.Timestamp,
	}
}

func publishErr(exchange, key string, err error) error {
	return types.NewAppError(types.ErrCodeBrokerPublishFailed,
		fmt.Sprintf("failed to publish to %q with routing key %q", exchange, key), err)
}

// Redeliverer schedules redelivery through a holding queue. It never waits:
// the broker expires the message and routes it back to the origin exchange.
type Redeliverer struct {
	ch     amqpChannel
	queues *HoldingQueues
	origin string
}

// NewRedeliverer creates a Redeliverer publishing on ch.
func NewRedeliverer(ch amqpChannel, queues *HoldingQueues, origin string) *Redeliverer {
	return &Redeliverer{ch: ch, queues: queues, origin: origin}
}

// ScheduleRedelivery implements retry.Redeliverer.
func (r *Redeliverer) ScheduleRedelivery(ctx context.Context, msg types.Message, meta types.DeliveryMetadata, delay time.Duration) error {
	seconds := int(delay / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	if _, err := r.queues.Ensure(seconds, meta.OriginalRoutingKey); err != nil {
		return err
	}

	exchange := types.RetryExchangeName(r.origin)
	if err := r.ch.PublishWithContext(ctx, exchange, meta.OriginalRoutingKey, false, false, toPublishing(msg)); err != nil {
		return publishErr(exchange, meta.OriginalRoutingKey, err)
	}
	return nil
}

// DeadLetterPublisher publishes dead-letter records to <origin>_dlq, which
// feeds the dead-letter queue.
type DeadLetterPublisher struct {
	ch     amqpChannel
	origin string
	queue  string

	mu       sync.Mutex
	declared bool
	bound    map[string]bool
}

// NewDeadLetterPublisher creates a DeadLetterPublisher.
func NewDeadLetterPublisher(ch amqpChannel, origin, queue string) *DeadLetterPublisher {
	if queue == "" {
		queue = types.DefaultDeadLetterQueue
	}
	return &DeadLetterPublisher{ch: ch, origin: origin, queue: queue, bound: make(map[string]bool)}
}

func (p *DeadLetterPublisher) ensure(routingKey string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	exchange := types.DeadLetterExchangeName(p.origin)
	if !p.declared {
		if err := p.ch.ExchangeDeclare(exchange, amqp.ExchangeDirect, false, false, false, false, nil); err != nil {
			return declareErr("exchange", exchange, err)
		}
		if _, err := p.ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
			return declareErr("queue", p.queue, err)
		}
		p.declared = true
	}
	if !p.bound[routingKey] {
		if err := p.ch.QueueBind(p.queue, routingKey, exchange, false, nil); err != nil {
			return declareErr("binding", p.queue, err)
		}
		p.bound[routingKey] = true
	}
	return nil
}

// PublishDeadLetter implements retry.DeadLetterPublisher.
func (p *DeadLetterPublisher) PublishDeadLetter(ctx context.Context, rec types.DeadLetterRecord) error {
	if err := p.ensure(rec.OriginalRoutingKey); err != nil {
		return err
	}
	exchange := types.DeadLetterExchangeName(p.origin)
	if err := p.ch.PublishWithContext(ctx, exchange, rec.OriginalRoutingKey, false, false, toPublishing(rec.Message)); err != nil {
		return publishErr(exchange, rec.OriginalRoutingKey, err)
	}
	return nil
}

// Producer publishes envelopes to the origin exchange.
type Producer struct {
	ch     amqpChannel
	origin string
	now    func() time.Time
}

// NewProducer creates a Producer.
func NewProducer(ch amqpChannel, origin string) *Producer {
	return &Producer{ch: ch, origin: origin, now: time.Now}
}

// Publish sends content under routingKey as a persistent JSON envelope.
func (p *Producer) Publish(ctx context.Context, routingKey, content, messageID string) (types.Envelope, error) {
	now := p.now()
	env := types.NewEnvelope(content, routingKey, now)
	body, err := json.Marshal(env)
	if err != nil {
		return env, fmt.Errorf("producer: failed to marshal envelope: %w", err)
	}

	msg := types.Message{
		MessageID:   messageID,
		RoutingKey:  routingKey,
		Body:        body,
		ContentType: "application/json",
		Timestamp:   now,
	}
	if err := p.ch.PublishWithContext(ctx, p.origin, routingKey, false, false, toPublishing(msg)); err != nil {
		return env, publishErr(p.origin, routingKey, err)
	}
	return env, nil
}

var (
	_ retry.Redeliverer         = (*Redeliverer)(nil)
	_ retry.DeadLetterPublisher = (*DeadLetterPublisher)(nil)
)
