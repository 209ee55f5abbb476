package inspector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"

	"redelivery/internal/types"
)

// ArchiveStore persists dead-letter records. db.DeadLetterRepository
// satisfies it.
type ArchiveStore interface {
	Archive(ctx context.Context, rec types.DeadLetterRecord) (int64, error)
}

// Archiver is a RecordSink that stores every record in an ArchiveStore.
type Archiver struct {
	store  ArchiveStore
	logger types.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(store ArchiveStore, logger types.Logger) *Archiver {
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Archiver{store: store, logger: logger}
}

// Handle implements RecordSink.
func (a *Archiver) Handle(ctx context.Context, rec DrainedRecord) error {
	id, err := a.store.Archive(ctx, rec.Record)
	if err != nil {
		return err
	}
	a.logger.Info("dead letter archived", "archive_id", id, "routing_key", rec.Record.OriginalRoutingKey)
	return nil
}

// exportLine is one JSON line of an export file.
type exportLine struct {
	MessageID          string        `json:"message_id,omitempty"`
	RoutingKey         string        `json:"routing_key"`
	OriginalRoutingKey string        `json:"original_routing_key"`
	DeathReason        string        `json:"death_reason"`
	DeathTime          *time.Time    `json:"death_time,omitempty"`
	RetryCount         *int          `json:"retry_count,omitempty"`
	Headers            types.Headers `json:"headers,omitempty"`
	Body               string        `json:"body"`
	Malformed          bool          `json:"malformed,omitempty"`
}

// Exporter is a RecordSink writing zstd-compressed JSON lines.
type Exporter struct {
	enc *zstd.Encoder
	js  *json.Encoder
	n   int
}

// NewExporter wraps w. Close must be called to flush the compressed stream;
// it does not close w.
func NewExporter(w io.Writer) (*Exporter, error) {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	return &Exporter{enc: enc, js: json.NewEncoder(enc)}, nil
}

// Handle implements RecordSink.
func (e *Exporter) Handle(_ context.Context, rec DrainedRecord) error {
	line := exportLine{
		MessageID:          rec.Record.Message.MessageID,
		RoutingKey:         rec.Record.Message.RoutingKey,
		OriginalRoutingKey: rec.Record.OriginalRoutingKey,
		DeathReason:        rec.Record.DeathReason,
		Headers:            rec.Record.Message.Headers,
		Body:               string(rec.Record.Message.Body),
		Malformed:          rec.DecodeErr != nil,
	}
	if !rec.Record.DeathTime.IsZero() {
		t := rec.Record.DeathTime.UTC()
		line.DeathTime = &t
	}
	if rec.Record.HasRetryCount {
		n := rec.Record.RetryCountAtDeath
		line.RetryCount = &n
	}

	if err := e.js.Encode(line); err != nil {
		return fmt.Errorf("writing export line: %w", err)
	}
	e.n++
	return nil
}

// Count returns the number of records written.
func (e *Exporter) Count() int { return e.n }

// Close flushes and finalises the zstd frame.
func (e *Exporter) Close() error {
	return e.enc.Close()
}
