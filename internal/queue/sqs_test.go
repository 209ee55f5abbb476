package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redelivery/internal/retry"
	"redelivery/internal/types"
)

// mockSQSSender captures SendMessage calls for test assertions.
type mockSQSSender struct {
	calls []*sqs.SendMessageInput
	err   error
}

func (m *mockSQSSender) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.calls = append(m.calls, params)
	if m.err != nil {
		return nil, m.err
	}
	return &sqs.SendMessageOutput{MessageId: aws.String("sent-1")}, nil
}

const (
	testSourceURL = "https://sqs.us-east-1.amazonaws.com/123456789/orders"
	testDLQURL    = "https://sqs.us-east-1.amazonaws.com/123456789/orders-dlq"
)

func TestRedeliverer_SendsWithDelayAndAttributes(t *testing.T) {
	mock := &mockSQSSender{}
	r := NewRedeliverer(mock, testSourceURL, nil)

	meta := types.DeliveryMetadata{AttemptCount: 2, OriginalRoutingKey: "info", ComputedDelaySeconds: 2}
	msg := types.Message{
		RoutingKey:    "info",
		Body:          []byte(`{"content":"temporary_error"}`),
		Headers:       retry.RetryHeaders(meta),
		CorrelationID: "corr-9",
	}

	require.NoError(t, r.ScheduleRedelivery(context.Background(), msg, meta, 2*time.Second))
	require.Len(t, mock.calls, 1)

	call := mock.calls[0]
	assert.Equal(t, testSourceURL, *call.QueueUrl)
	assert.Equal(t, int32(2), call.DelaySeconds)
	assert.Equal(t, `{"content":"temporary_error"}`, *call.MessageBody)

	attrs := call.MessageAttributes
	assert.Equal(t, "Number", *attrs[types.HeaderRetryCount].DataType)
	assert.Equal(t, "2", *attrs[types.HeaderRetryCount].StringValue)
	assert.Equal(t, "info", *attrs[types.HeaderOriginalRoutingKey].StringValue)
	assert.Equal(t, "info", *attrs[AttrRoutingKey].StringValue)
	assert.Equal(t, "corr-9", *attrs[AttrCorrelationID].StringValue)
}

func TestRedeliverer_ClampsDelay(t *testing.T) {
	tests := []struct {
		name     string
		delay    time.Duration
		expected int32
	}{
		{"within limit", 4 * time.Second, 4},
		{"at limit", 900 * time.Second, 900},
		{"above limit", 2 * time.Hour, 900},
		{"negative", -time.Second, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockSQSSender{}
			r := NewRedeliverer(mock, testSourceURL, nil)
			require.NoError(t, r.ScheduleRedelivery(context.Background(), types.Message{}, types.DeliveryMetadata{}, tt.delay))
			assert.Equal(t, tt.expected, mock.calls[0].DelaySeconds)
		})
	}
}

func TestRedeliverer_Error(t *testing.T) {
	mock := &mockSQSSender{err: errors.New("throttled")}
	r := NewRedeliverer(mock, testSourceURL, nil)

	err := r.ScheduleRedelivery(context.Background(), types.Message{}, types.DeliveryMetadata{}, time.Second)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeBrokerPublishFailed, appErr.Code)
}

func TestDeadLetterPublisher(t *testing.T) {
	mock := &mockSQSSender{}
	p := NewDeadLetterPublisher(mock, testDLQURL)

	rec := types.DeadLetterRecord{
		Message: types.Message{
			Body: []byte("{bad"),
			Headers: types.Headers{
				types.HeaderDeathReason:    "Invalid JSON: x",
				types.HeaderDeathTimestamp: int64(1748772000),
			},
		},
		OriginalRoutingKey: "error",
	}
	require.NoError(t, p.PublishDeadLetter(context.Background(), rec))

	call := mock.calls[0]
	assert.Equal(t, testDLQURL, *call.QueueUrl)
	assert.Zero(t, call.DelaySeconds)
	assert.Equal(t, "Invalid JSON: x", *call.MessageAttributes[types.HeaderDeathReason].StringValue)
	assert.Equal(t, "1748772000", *call.MessageAttributes[types.HeaderDeathTimestamp].StringValue)
	assert.Equal(t, "error", *call.MessageAttributes[AttrRoutingKey].StringValue)
}

func TestMessageAttributes_DropsUnsupported(t *testing.T) {
	attrs := MessageAttributes(types.Message{Headers: types.Headers{
		"ok":    "s",
		"float": 1.5,
		"table": map[string]any{"a": 1},
	}})
	assert.Contains(t, attrs, "ok")
	assert.NotContains(t, attrs, "float")
	assert.NotContains(t, attrs, "table")
}

func TestMessageFromEvent_RoundTripsRetryHeaders(t *testing.T) {
	meta := types.DeliveryMetadata{AttemptCount: 1, OriginalRoutingKey: "info", ComputedDelaySeconds: 1}
	sent := MessageAttributes(types.Message{RoutingKey: "info", Headers: retry.RetryHeaders(meta), ReplyTo: "r"})

	rec := events.SQSMessage{
		MessageId:         "m-1",
		Body:              `{"content":"x"}`,
		MessageAttributes: map[string]events.SQSMessageAttribute{},
		Attributes:        map[string]string{"SentTimestamp": "1748772000000"},
	}
	for k, v := range sent {
		rec.MessageAttributes[k] = events.SQSMessageAttribute{DataType: *v.DataType, StringValue: v.StringValue}
	}

	msg := MessageFromEvent(rec)
	assert.Equal(t, "m-1", msg.MessageID)
	assert.Equal(t, "info", msg.RoutingKey)
	assert.Equal(t, "r", msg.ReplyTo)
	assert.Equal(t, time.UnixMilli(1748772000000).UTC(), msg.Timestamp)

	got, has := retry.ReadMetadata(msg)
	assert.True(t, has)
	assert.Equal(t, meta, got)
}

// mockAttributesGetter returns canned queue attributes.
type mockAttributesGetter struct {
	depths map[string]string
	err    error
}

func (m *mockAttributesGetter) GetQueueAttributes(_ context.Context, in *sqs.GetQueueAttributesInput, _ ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &sqs.GetQueueAttributesOutput{Attributes: map[string]string{
		"ApproximateNumberOfMessages": m.depths[*in.QueueUrl],
	}}, nil
}

func TestDepthReader(t *testing.T) {
	getter := &mockAttributesGetter{depths: map[string]string{testDLQURL: "12"}}
	r := NewDepthReader(getter, map[string]string{"dead_letter_queue": testDLQURL})

	n, err := r.Depth(context.Background(), "dead_letter_queue")
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	t.Run("missing queue", func(t *testing.T) {
		r := NewDepthReader(&mockAttributesGetter{err: &sqsTypes.QueueDoesNotExist{Message: aws.String("nope")}}, nil)
		_, err := r.Depth(context.Background(), testDLQURL)
		var appErr *types.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, types.ErrCodeQueueNotFound, appErr.Code)
	})

	t.Run("other error", func(t *testing.T) {
		r := NewDepthReader(&mockAttributesGetter{err: errors.New("denied")}, nil)
		_, err := r.Depth(context.Background(), testDLQURL)
		var appErr *types.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, types.ErrCodeUpstreamQueue, appErr.Code)
	})
}
