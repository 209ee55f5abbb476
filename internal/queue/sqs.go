// Package queue provides the SQS backend for the retry package. SQS has a
// native per-message delay (DelaySeconds), so redelivery is a plain
// SendMessage back to the source queue and no holding queues are needed.
package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"redelivery/internal/retry"
	"redelivery/internal/types"
)

// MaxDelaySeconds is the SQS limit for DelaySeconds.
const MaxDelaySeconds = 900

// Message attributes carried besides the retry headers.
const (
	AttrRoutingKey    = "routing-key"
	AttrCorrelationID = "correlation-id"
	AttrReplyTo       = "reply-to"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSAttributesGetter abstracts GetQueueAttributes.
type SQSAttributesGetter interface {
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// Redeliverer sends escalated messages back to the source queue with
// DelaySeconds set to the computed delay.
type Redeliverer struct {
	client   SQSSender
	queueURL string
	logger   types.Logger
}

// NewRedeliverer creates a Redeliverer targeting queueURL.
func NewRedeliverer(client SQSSender, queueURL string, logger types.Logger) *Redeliverer {
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Redeliverer{client: client, queueURL: queueURL, logger: logger}
}

// ScheduleRedelivery implements retry.Redeliverer. SQS enforces a maximum
// delay of 900 seconds; longer delays are clamped.
func (r *Redeliverer) ScheduleRedelivery(ctx context.Context, msg types.Message, meta types.DeliveryMetadata, delay time.Duration) error {
	delaySec := int32(delay / time.Second)
	if delaySec > MaxDelaySeconds {
		r.logger.Warn("delay exceeds SQS maximum, clamping",
			"delay_seconds", delaySec,
			"max_delay_seconds", MaxDelaySeconds,
		)
		delaySec = MaxDelaySeconds
	}
	if delaySec < 0 {
		delaySec = 0
	}

	msg.RoutingKey = meta.OriginalRoutingKey
	input := &sqs.SendMessageInput{
		QueueUrl:          aws.String(r.queueURL),
		MessageBody:       aws.String(string(msg.Body)),
		DelaySeconds:      delaySec,
		MessageAttributes: MessageAttributes(msg),
	}

	if _, err := r.client.SendMessage(ctx, input); err != nil {
		return types.NewAppError(types.ErrCodeBrokerPublishFailed,
			fmt.Sprintf("failed to send redelivery to %s", r.queueURL), err)
	}
	return nil
}

// DeadLetterPublisher sends dead-letter records to the DLQ URL.
type DeadLetterPublisher struct {
	client   SQSSender
	queueURL string
}

// NewDeadLetterPublisher creates a DeadLetterPublisher targeting queueURL.
func NewDeadLetterPublisher(client SQSSender, queueURL string) *DeadLetterPublisher {
	return &DeadLetterPublisher{client: client, queueURL: queueURL}
}

// PublishDeadLetter implements retry.DeadLetterPublisher.
func (p *DeadLetterPublisher) PublishDeadLetter(ctx context.Context, rec types.DeadLetterRecord) error {
	msg := rec.Message
	msg.RoutingKey = rec.OriginalRoutingKey

	input := &sqs.SendMessageInput{
		QueueUrl:          aws.String(p.queueURL),
		MessageBody:       aws.String(string(msg.Body)),
		MessageAttributes: MessageAttributes(msg),
	}
	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return types.NewAppError(types.ErrCodeBrokerPublishFailed,
			fmt.Sprintf("failed to send dead letter to %s", p.queueURL), err)
	}
	return nil
}

// MessageAttributes encodes a message's headers and routing information as
// SQS message attributes. Integer headers become Number attributes, strings
// become String attributes and anything else is dropped.
func MessageAttributes(msg types.Message) map[string]sqsTypes.MessageAttributeValue {
	attrs := make(map[string]sqsTypes.MessageAttributeValue, len(msg.Headers)+3)
	for k, v := range msg.Headers {
		switch n := v.(type) {
		case string:
			attrs[k] = stringAttr(n)
		case int:
			attrs[k] = numberAttr(int64(n))
		case int32:
			attrs[k] = numberAttr(int64(n))
		case int64:
			attrs[k] = numberAttr(n)
		}
	}
	if msg.RoutingKey != "" {
		attrs[AttrRoutingKey] = stringAttr(msg.RoutingKey)
	}
	if msg.CorrelationID != "" {
		attrs[AttrCorrelationID] = stringAttr(msg.CorrelationID)
	}
	if msg.ReplyTo != "" {
		attrs[AttrReplyTo] = stringAttr(msg.ReplyTo)
	}
	return attrs
}

func stringAttr(s string) sqsTypes.MessageAttributeValue {
	return sqsTypes.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(s)}
}

func numberAttr(n int64) sqsTypes.MessageAttributeValue {
	return sqsTypes.MessageAttributeValue{DataType: aws.String("Number"), StringValue: aws.String(strconv.FormatInt(n, 10))}
}

// MessageFromEvent converts a Lambda SQS record to a message. Number
// attributes decode to int64 headers so the retry codec reads them back.
func MessageFromEvent(rec events.SQSMessage) types.Message {
	msg := types.Message{
		MessageID: rec.MessageId,
		Body:      []byte(rec.Body),
		Headers:   types.Headers{},
	}

	for name, attr := range rec.MessageAttributes {
		if attr.StringValue == nil {
			continue
		}
		value := *attr.StringValue
		switch name {
		case AttrRoutingKey:
			msg.RoutingKey = value
			continue
		case AttrCorrelationID:
			msg.CorrelationID = value
			continue
		case AttrReplyTo:
			msg.ReplyTo = value
			continue
		}
		if attr.DataType == "Number" {
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				msg.Headers[name] = n
				continue
			}
		}
		msg.Headers[name] = value
	}

	if ts, ok := rec.Attributes["SentTimestamp"]; ok {
		if ms, err := strconv.ParseInt(ts, 10, 64); err == nil {
			msg.Timestamp = time.UnixMilli(ms).UTC()
		}
	}
	return msg
}

var (
	_ retry.Redeliverer         = (*Redeliverer)(nil)
	_ retry.DeadLetterPublisher = (*DeadLetterPublisher)(nil)
)
