package inspector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"redelivery/internal/retry"
	"redelivery/internal/types"
)

// Source yields dead-letter messages one at a time. ok is false once the
// queue is empty.
type Source interface {
	Next(ctx context.Context) (msg types.Message, ack func() error, ok bool, err error)
}

// DrainedRecord is a dead-letter message as presented to drain sinks.
type DrainedRecord struct {
	Record types.DeadLetterRecord

	// Envelope is only set when DecodeErr is nil.
	Envelope  types.Envelope
	DecodeErr error

	// Raw header values, kept verbatim for display and "N/A" when absent.
	// Record.OriginalRoutingKey falls back to the delivery routing key; the
	// displayed OriginalRoutingKey does not.
	OriginalRoutingKey string
	DeathDatetime      string
	DeathTimestamp     string
}

// RetryCount is the retry count carried by the record, zero when absent.
func (d DrainedRecord) RetryCount() int {
	if !d.Record.HasRetryCount {
		return 0
	}
	return d.Record.RetryCountAtDeath
}

// NewDrainedRecord decodes msg.
func NewDrainedRecord(msg types.Message) DrainedRecord {
	rec := DrainedRecord{
		Record:             retry.ReadDeadLetter(msg),
		OriginalRoutingKey: headerString(msg.Headers, types.HeaderOriginalRoutingKey),
		DeathDatetime:      headerString(msg.Headers, types.HeaderDeathDatetime),
		DeathTimestamp:     headerString(msg.Headers, types.HeaderDeathTimestamp),
	}
	rec.Envelope, rec.DecodeErr = retry.DecodeEnvelope(msg.Body)
	return rec
}

func headerString(h types.Headers, key string) string {
	v, ok := h[key]
	if !ok || v == nil {
		return "N/A"
	}
	return fmt.Sprint(v)
}

// RecordSink consumes drained records. A sink error stops the drain before
// the record is acknowledged, so the record stays on the queue.
type RecordSink interface {
	Handle(ctx context.Context, rec DrainedRecord) error
}

// RecordSinkFunc adapts a function to RecordSink.
type RecordSinkFunc func(ctx context.Context, rec DrainedRecord) error

func (f RecordSinkFunc) Handle(ctx context.Context, rec DrainedRecord) error { return f(ctx, rec) }

// DrainSummary counts what a drain did.
type DrainSummary struct {
	Drained   int
	Malformed int
}

// Drain pulls every message from src, hands it to each sink in order and
// then acknowledges it. Malformed bodies are acknowledged like any other
// record. Drain stops at the first empty read, source error, sink error or
// context cancellation.
func Drain(ctx context.Context, src Source, logger types.Logger, sinks ...RecordSink) (DrainSummary, error) {
	if logger == nil {
		logger = types.NopLogger{}
	}

	var summary DrainSummary
	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		msg, ack, ok, err := src.Next(ctx)
		if err != nil {
			return summary, err
		}
		if !ok {
			return summary, nil
		}

		rec := NewDrainedRecord(msg)
		for _, sink := range sinks {
			if err := sink.Handle(ctx, rec); err != nil {
				logger.Error("drain sink failed, leaving message on queue",
					"routing_key", rec.Record.OriginalRoutingKey,
					"error", err,
				)
				return summary, err
			}
		}

		if err := ack(); err != nil {
			return summary, types.NewAppError(types.ErrCodeBrokerAckFailed, "failed to acknowledge dead letter", err)
		}
		summary.Drained++
		if rec.DecodeErr != nil {
			summary.Malformed++
		}
	}
}

// Printer writes each record as a human-readable block.
type Printer struct {
	w io.Writer
}

// NewPrinter creates a Printer writing to w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Handle implements RecordSink.
func (p *Printer) Handle(_ context.Context, rec DrainedRecord) error {
	var b strings.Builder
	if rec.DecodeErr != nil {
		var pe *retry.ParseError
		reason := rec.DecodeErr.Error()
		if errors.As(rec.DecodeErr, &pe) {
			reason = pe.Reason
		}
		fmt.Fprintf(&b, "Error processing dead letter message: %s\n", reason)
		_, err := io.WriteString(p.w, b.String())
		return err
	}

	reason := rec.Record.DeathReason
	if reason == "" {
		reason = "N/A"
	}
	b.WriteString("\n=== Dead Letter Message ===\n")
	fmt.Fprintf(&b, "Content: %s\n", rec.Envelope.Content)
	fmt.Fprintf(&b, "Original Routing Key: %s\n", rec.OriginalRoutingKey)
	fmt.Fprintf(&b, "Death Reason: %s\n", reason)
	fmt.Fprintf(&b, "Death Time: %s (timestamp: %s)\n", rec.DeathDatetime, rec.DeathTimestamp)
	fmt.Fprintf(&b, "Retry Count: %d\n", rec.RetryCount())
	b.WriteString(strings.Repeat("=", 30) + "\n")
	_, err := io.WriteString(p.w, b.String())
	return err
}
