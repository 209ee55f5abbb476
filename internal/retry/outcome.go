package retry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"redelivery/internal/types"
)

// Outcome is the classification of a single processing attempt.
type Outcome int

const (
	Success Outcome = iota + 1
	TransientFailure
	PermanentFailure
	ParseFailure
	UnexpectedFailure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case TransientFailure:
		return "transient_failure"
	case PermanentFailure:
		return "permanent_failure"
	case ParseFailure:
		return "parse_error"
	case UnexpectedFailure:
		return "unexpected_error"
	default:
		return "unknown"
	}
}

// Retryable reports whether the outcome may be escalated.
func (o Outcome) Retryable() bool {
	return o == TransientFailure
}

var (
	// ErrPermanent marks a failure that must not be retried. Wrap it, or use
	// Permanent, to divert a message straight to the dead-letter sink.
	ErrPermanent = errors.New("permanent failure")

	// ErrTransient marks a recoverable failure. Returning
	// (TransientFailure, nil) is equivalent.
	ErrTransient = errors.New("transient failure")
)

// PermanentError carries the description of a permanent failure. Its Error
// is the description alone so death reasons stay readable.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrPermanent) true for every PermanentError.
func (e *PermanentError) Is(target error) bool { return target == ErrPermanent }

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Permanentf is Permanent(fmt.Errorf(format, args...)).
func Permanentf(format string, args ...any) error {
	return Permanent(fmt.Errorf(format, args...))
}

// ParseError reports a body that could not be decoded into an Envelope.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string { return e.Reason }

func (e *ParseError) Unwrap() error { return e.Err }

// DecodeEnvelope parses a message body. Malformed JSON yields a ParseError
// whose reason starts with "Invalid JSON:".
func DecodeEnvelope(body []byte) (types.Envelope, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return types.Envelope{}, &ParseError{
			Reason: "Invalid JSON: " + err.Error(),
			Err:    types.NewAppError(types.ErrCodeMessageInvalidJSON, "body is not a JSON object", err),
		}
	}
	if _, ok := raw["content"]; !ok {
		return types.Envelope{}, &ParseError{
			Reason: "Invalid message: content field is required",
			Err:    types.NewAppError(types.ErrCodeMessageInvalid, "content field is required", nil),
		}
	}

	var env types.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return types.Envelope{}, &ParseError{
			Reason: "Invalid JSON: " + err.Error(),
			Err:    types.NewAppError(types.ErrCodeMessageInvalidJSON, "envelope field has the wrong type", err),
		}
	}
	return env, nil
}

// Processor runs the business logic for one decoded message.
//
// Return (Success, nil) or (TransientFailure, nil) for the two expected
// results. A returned error is a raised failure and is never retried: errors
// matching ErrPermanent become PermanentFailure, everything else becomes
// UnexpectedFailure. ErrTransient is the one error that is retried.
type Processor interface {
	Process(ctx context.Context, env types.Envelope, msg types.Message) (Outcome, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, env types.Envelope, msg types.Message) (Outcome, error)

func (f ProcessorFunc) Process(ctx context.Context, env types.Envelope, msg types.Message) (Outcome, error) {
	return f(ctx, env, msg)
}

// Classification is the result of Classify. Reason is the death reason used
// when the message is dead-lettered straight away.
type Classification struct {
	Outcome  Outcome
	Reason   string
	Envelope types.Envelope
	Err      error
}

// Classifier decodes a message and maps the processor result to an Outcome.
type Classifier struct {
	processor Processor
}

// NewClassifier creates a Classifier around p.
func NewClassifier(p Processor) *Classifier {
	return &Classifier{processor: p}
}

// Classify never panics: a panicking processor is reported as
// UnexpectedFailure.
func (c *Classifier) Classify(ctx context.Context, msg types.Message) (cls Classification) {
	env, err := DecodeEnvelope(msg.Body)
	if err != nil {
		var pe *ParseError
		errors.As(err, &pe)
		return Classification{Outcome: ParseFailure, Reason: pe.Reason, Err: err}
	}
	cls.Envelope = env

	defer func() {
		if r := recover(); r != nil {
			perr := fmt.Errorf("panic: %v", r)
			cls = Classification{
				Outcome:  UnexpectedFailure,
				Reason:   "Unexpected error: " + perr.Error(),
				Envelope: env,
				Err:      types.NewAppError(types.ErrCodeInternalUnexpected, "processor panicked", perr),
			}
		}
	}()

	outcome, err := c.processor.Process(ctx, env, msg)
	switch {
	case err == nil:
	case errors.Is(err, ErrTransient):
		return Classification{Outcome: TransientFailure, Envelope: env, Err: err}
	case errors.Is(err, ErrPermanent):
		return Classification{Outcome: PermanentFailure, Reason: err.Error(), Envelope: env, Err: err}
	default:
		return Classification{Outcome: UnexpectedFailure, Reason: "Unexpected error: " + err.Error(), Envelope: env, Err: err}
	}

	switch outcome {
	case Success, TransientFailure:
		return Classification{Outcome: outcome, Envelope: env}
	case PermanentFailure:
		return Classification{Outcome: PermanentFailure, Reason: ErrPermanent.Error(), Envelope: env}
	default:
		// A processor may only return the two expected results.
		return Classification{
			Outcome:  UnexpectedFailure,
			Reason:   fmt.Sprintf("Unexpected error: processor returned %s without an error", outcome),
			Envelope: env,
		}
	}
}
