package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"redelivery/internal/types"
)

// logEntry is a single recorded log call.
type logEntry struct {
	level string
	msg   string
	args  []any
}

// recordingLogger captures log calls for assertions.
type recordingLogger struct {
	mu      *sync.Mutex
	entries *[]logEntry
	fields  []any
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{mu: &sync.Mutex{}, entries: &[]logEntry{}}
}

func (l *recordingLogger) record(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	all := append(append([]any{}, l.fields...), args...)
	*l.entries = append(*l.entries, logEntry{level: level, msg: msg, args: all})
}

func (l *recordingLogger) Info(msg string, args ...any)  { l.record("INFO", msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.record("WARN", msg, args) }
func (l *recordingLogger) Error(msg string, args ...any) { l.record("ERROR", msg, args) }
func (l *recordingLogger) With(args ...any) types.Logger {
	return &recordingLogger{mu: l.mu, entries: l.entries, fields: append(append([]any{}, l.fields...), args...)}
}

func (l *recordingLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range *l.entries {
		if e.level == level {
			n++
		}
	}
	return n
}

// fakeBroker models the broker side of the retry path in memory. Holding
// queues behave like TTL queues that dead-letter back to the origin: Expire
// moves every held message back onto the origin queue without sleeping.
type fakeBroker struct {
	state SessionState

	origin      []types.Message
	holding     map[string][]types.Message
	declared    map[string]int
	deadLetters []types.DeadLetterRecord
	delays      []time.Duration
	acks        int

	publishErr    error
	deadLetterErr error
	ackErr        error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		state:    SessionOpen,
		holding:  make(map[string][]types.Message),
		declared: make(map[string]int),
	}
}

func (b *fakeBroker) State() SessionState { return b.state }

func (b *fakeBroker) ScheduleRedelivery(_ context.Context, msg types.Message, meta types.DeliveryMetadata, delay time.Duration) error {
	if b.publishErr != nil {
		return b.publishErr
	}
	name := types.HoldingQueueName(int(delay / time.Second))
	b.declared[name]++
	msg.RoutingKey = meta.OriginalRoutingKey
	b.holding[name] = append(b.holding[name], msg)
	b.delays = append(b.delays, delay)
	return nil
}

func (b *fakeBroker) PublishDeadLetter(_ context.Context, rec types.DeadLetterRecord) error {
	if b.deadLetterErr != nil {
		return b.deadLetterErr
	}
	b.deadLetters = append(b.deadLetters, rec)
	return nil
}

// Publish places a producer message on the origin queue.
func (b *fakeBroker) Publish(msg types.Message) {
	b.origin = append(b.origin, msg)
}

// Expire dead-letters every held message back to the origin queue.
func (b *fakeBroker) Expire() {
	for name, msgs := range b.holding {
		b.origin = append(b.origin, msgs...)
		delete(b.holding, name)
	}
}

// Next pops the head of the origin queue as a Delivery.
func (b *fakeBroker) Next() (Delivery, bool) {
	if len(b.origin) == 0 {
		return Delivery{}, false
	}
	msg := b.origin[0]
	b.origin = b.origin[1:]
	return Delivery{
		Message: msg,
		Ack: func(context.Context) error {
			if b.ackErr != nil {
				return b.ackErr
			}
			b.acks++
			return nil
		},
	}, true
}

// keywordProcessor mirrors the demo processor: critical_error is permanent,
// temporary_error is transient.
var keywordProcessor = ProcessorFunc(func(_ context.Context, env types.Envelope, _ types.Message) (Outcome, error) {
	switch {
	case containsFold(env.Content, "critical_error"):
		return 0, Permanent(errors.New("Critical error - should not retry"))
	case containsFold(env.Content, "temporary_error"):
		return TransientFailure, nil
	default:
		return Success, nil
	}
})

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), sub)
}

func envelopeMessage(routingKey, content string) types.Message {
	return types.Message{
		MessageID:  fmt.Sprintf("msg-%s", content),
		RoutingKey: routingKey,
		Body:       []byte(fmt.Sprintf(`{"content":%q,"timestamp":"2025-06-01T10:00:00.000000"}`, content)),
	}
}

// countingMetrics records every call.
type countingMetrics struct {
	outcomes    map[Outcome]int
	escalations []EscalationResult
	delays      []int
	deadLetters []SinkResult
	acks        []GuardResult
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{outcomes: make(map[Outcome]int)}
}

func (m *countingMetrics) RecordOutcome(_ context.Context, o Outcome) { m.outcomes[o]++ }
func (m *countingMetrics) RecordEscalation(_ context.Context, d int, r EscalationResult) {
	m.delays = append(m.delays, d)
	m.escalations = append(m.escalations, r)
}
func (m *countingMetrics) RecordDeadLetter(_ context.Context, _ Outcome, r SinkResult) {
	m.deadLetters = append(m.deadLetters, r)
}
func (m *countingMetrics) RecordAck(_ context.Context, r GuardResult) { m.acks = append(m.acks, r) }
