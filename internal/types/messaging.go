package types

import (
	"fmt"
	"time"
)

// Header names carried on every message that passes through the retry and
// dead-letter path. Values are always integers or strings; floating point and
// nested structures are rejected by the transport.
const (
	HeaderRetryCount         = "x-retry-count"
	HeaderOriginalRoutingKey = "x-original-routing-key"
	HeaderRetryDelay         = "x-retry-delay"

	HeaderDeathReason    = "x-death-reason"
	HeaderDeathTimestamp = "x-death-timestamp"
	HeaderDeathDatetime  = "x-death-datetime"
)

// Headers is the transport-level attribute table of a message.
type Headers map[string]any

// Clone returns a shallow copy. Header values are primitives so a shallow copy
// is sufficient.
func (h Headers) Clone() Headers {
	if h == nil {
		return Headers{}
	}
	out := make(Headers, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Message is a payload in flight together with the routing information the
// broker handed us. Body is never rewritten: a retried or dead-lettered
// message carries the exact bytes the producer published.
type Message struct {
	MessageID     string
	RoutingKey    string
	Body          []byte
	Headers       Headers
	ContentType   string
	CorrelationID string
	ReplyTo       string
	Timestamp     time.Time
}

// Envelope is the JSON body shape published by producers.
type Envelope struct {
	Content    string `json:"content"`
	Timestamp  string `json:"timestamp"`
	RoutingKey string `json:"routing_key,omitempty"`
}

// NewEnvelope builds an envelope stamped with now in ISO-8601.
func NewEnvelope(content, routingKey string, now time.Time) Envelope {
	return Envelope{
		Content:    content,
		Timestamp:  now.Format("2006-01-02T15:04:05.000000"),
		RoutingKey: routingKey,
	}
}

// DeliveryMetadata is the retry bookkeeping that travels with a message.
// AttemptCount only ever grows; OriginalRoutingKey is fixed at the first
// failure.
type DeliveryMetadata struct {
	AttemptCount         int
	OriginalRoutingKey   string
	ComputedDelaySeconds int
}

// DeadLetterRecord is the terminal form of a message that will not be
// processed again.
type DeadLetterRecord struct {
	Message            Message
	DeathReason        string
	DeathTime          time.Time
	OriginalRoutingKey string

	// RetryCountAtDeath is only meaningful when HasRetryCount is set; a message
	// that never went through the retry path carries no retry count header.
	RetryCountAtDeath int
	HasRetryCount     bool
}

// DefaultDeadLetterQueue is the queue that collects every dead-lettered
// message regardless of routing key.
const DefaultDeadLetterQueue = "dead_letter_queue"

// HoldingQueueName returns the name of the delay-holding queue for a delay.
// Queue identity depends on the delay value alone so every message that
// computes the same delay shares one queue.
func HoldingQueueName(delaySeconds int) string {
	return fmt.Sprintf("retry_queue_%ds", delaySeconds)
}

// RetryExchangeName returns the exchange that holding queues are bound to.
func RetryExchangeName(originExchange string) string {
	return originExchange + "_retry"
}

// DeadLetterExchangeName returns the exchange that feeds the dead-letter queue.
func DeadLetterExchangeName(originExchange string) string {
	return originExchange + "_dlq"
}
