package broker

import (
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"redelivery/internal/types"
)

// Topology declares the exchanges and queues around one origin exchange:
//
//	<origin>         producers publish here, consumers bind here
//	<origin>_retry   holding queues bind here under the routing key
//	<origin>_dlq     dead_letter_queue binds here under the routing key
//
// Exchanges are non-durable to stay equivalent to ones already declared by
// producers; the dead-letter queue and holding queues are durable.
type Topology struct {
	ch              amqpChannel
	origin          string
	kind            string
	deadLetterQueue string
}

// NewTopology creates a Topology. kind is "direct" or "topic".
func NewTopology(ch amqpChannel, origin, kind, deadLetterQueue string) *Topology {
	if kind == "" {
		kind = amqp.ExchangeDirect
	}
	if deadLetterQueue == "" {
		deadLetterQueue = types.DefaultDeadLetterQueue
	}
	return &Topology{ch: ch, origin: origin, kind: kind, deadLetterQueue: deadLetterQueue}
}

// Origin returns the origin exchange name.
func (t *Topology) Origin() string { return t.origin }

// DeadLetterQueue returns the dead-letter queue name.
func (t *Topology) DeadLetterQueue() string { return t.deadLetterQueue }

// Declare declares the origin, retry and dead-letter exchanges and the
// dead-letter queue. Declaring is idempotent.
func (t *Topology) Declare() error {
	if err := t.ch.ExchangeDeclare(t.origin, t.kind, false, false, false, false, nil); err != nil {
		return declareErr("exchange", t.origin, err)
	}
	if err := t.ch.ExchangeDeclare(types.RetryExchangeName(t.origin), amqp.ExchangeDirect, false, false, false, false, nil); err != nil {
		return declareErr("exchange", types.RetryExchangeName(t.origin), err)
	}
	if err := t.ch.ExchangeDeclare(types.DeadLetterExchangeName(t.origin), amqp.ExchangeDirect, false, false, false, false, nil); err != nil {
		return declareErr("exchange", types.DeadLetterExchangeName(t.origin), err)
	}
	if _, err := t.ch.QueueDeclare(t.deadLetterQueue, true, false, false, false, nil); err != nil {
		return declareErr("queue", t.deadLetterQueue, err)
	}
	return nil
}

// DeclareConsumerQueue declares the queue the consumer reads and binds it to
// the origin exchange under each routing key. An empty name declares an
// exclusive server-named queue that disappears with the connection.
func (t *Topology) DeclareConsumerQueue(name string, routingKeys []string) (string, error) {
	durable, exclusive := true, false
	if name == "" {
		durable, exclusive = false, true
	}

	q, err := t.ch.QueueDeclare(name, durable, false, exclusive, false, nil)
	if err != nil {
		return "", declareErr("queue", name, err)
	}
	for _, key := range routingKeys {
		if err := t.ch.QueueBind(q.Name, key, t.origin, false, nil); err != nil {
			return "", declareErr("binding", fmt.Sprintf("%s<-%s:%s", q.Name, t.origin, key), err)
		}
	}
	return q.Name, nil
}

func declareErr(kind, name string, err error) error {
	return types.NewAppError(types.ErrCodeBrokerDeclareFailed, fmt.Sprintf("failed to declare %s %q", kind, name), err)
}

type holdingKey struct {
	delay      int
	routingKey string
}

// HoldingQueues materialises delay-holding queues. A holding queue is
//
//	retry_queue_<d>s  x-message-ttl=d*1000  x-dead-letter-exchange=<origin>
//
// bound to <origin>_retry under each routing key that used it. Once the TTL
// expires the broker dead-letters the message back to the origin exchange
// under its routing key, which is the original routing key.
//
// Queue identity depends on the delay alone. Declarations are memoised per
// session so a warm path issues no declare at all.
type HoldingQueues struct {
	ch     amqpChannel
	origin string

	// pin sets x-dead-letter-routing-key on each queue. A queue is then tied
	// to the first routing key that declared it, so pinning only suits
	// consumers bound to a single routing key.
	pin bool

	mu       sync.Mutex
	exchange bool
	queues   map[int]string
	bindings map[holdingKey]bool
}

// NewHoldingQueues creates a HoldingQueues for origin.
func NewHoldingQueues(ch amqpChannel, origin string, pin bool) *HoldingQueues {
	return &HoldingQueues{
		ch:       ch,
		origin:   origin,
		pin:      pin,
		queues:   make(map[int]string),
		bindings: make(map[holdingKey]bool),
	}
}

// Arguments returns the declare arguments for a holding queue.
func (h *HoldingQueues) Arguments(delaySeconds int, routingKey string) amqp.Table {
	args := amqp.Table{
		"x-message-ttl":          int32(delaySeconds * 1000),
		"x-dead-letter-exchange": h.origin,
	}
	if h.pin {
		args["x-dead-letter-routing-key"] = routingKey
	}
	return args
}

// Ensure declares and binds the holding queue for delaySeconds and
// routingKey if this session has not done so yet, and returns its name.
func (h *HoldingQueues) Ensure(delaySeconds int, routingKey string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	name := types.HoldingQueueName(delaySeconds)
	retryExchange := types.RetryExchangeName(h.origin)

	if !h.exchange {
		if err := h.ch.ExchangeDeclare(retryExchange, amqp.ExchangeDirect, false, false, false, false, nil); err != nil {
			return "", declareErr("exchange", retryExchange, err)
		}
		h.exchange = true
	}

	if pinned, ok := h.queues[delaySeconds]; ok {
		if h.pin && pinned != routingKey {
			// Redeclaring with another x-dead-letter-routing-key would make the
			// broker close the channel.
			return "", types.NewAppError(types.ErrCodeBrokerDeclareFailed,
				fmt.Sprintf("holding queue %q is pinned to routing key %q", name, pinned), nil).
				WithDetails(map[string]any{"routing_key": routingKey})
		}
	} else {
		if _, err := h.ch.QueueDeclare(name, true, false, false, false, h.Arguments(delaySeconds, routingKey)); err != nil {
			return "", declareErr("queue", name, err)
		}
		h.queues[delaySeconds] = routingKey
	}

	key := holdingKey{delay: delaySeconds, routingKey: routingKey}
	if !h.bindings[key] {
		if err := h.ch.QueueBind(name, routingKey, retryExchange, false, nil); err != nil {
			return "", declareErr("binding", name, err)
		}
		h.bindings[key] = true
	}
	return name, nil
}

// Known returns the delays declared so far in this session.
func (h *HoldingQueues) Known() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]int, 0, len(h.queues))
	for d := range h.queues {
		out = append(out, d)
	}
	return out
}
