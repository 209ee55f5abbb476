package metrics

import (
	"context"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"redelivery/internal/retry"
	"redelivery/internal/types"
)

// Metric names and dimensions emitted to CloudWatch.
const (
	MetricMessageOutcome  = "MessageOutcome"
	MetricRetryEscalation = "RetryEscalation"
	MetricDeadLetter      = "DeadLetter"
	MetricAcknowledge     = "Acknowledge"

	DimOutcome = "Outcome"
	DimResult  = "Result"
	DimDelay   = "DelaySeconds"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatch emits one Count datum per recorded event. A failed put is
// logged and otherwise ignored.
//
// Metrics emitted:
//   - MessageOutcome: Dims {Outcome}
//   - RetryEscalation: Dims {DelaySeconds, Result}
//   - DeadLetter: Dims {Outcome, Result}
//   - Acknowledge: Dims {Result}
type CloudWatch struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// NewCloudWatch creates a CloudWatch recorder publishing to namespace.
func NewCloudWatch(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatch {
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &CloudWatch{client: client, namespace: namespace, logger: logger}
}

func (m *CloudWatch) put(ctx context.Context, name string, dims ...string) {
	dimensions := make([]cwtypes.Dimension, 0, len(dims)/2)
	for i := 0; i+1 < len(dims); i += 2 {
		dimensions = append(dimensions, cwtypes.Dimension{
			Name:  aws.String(dims[i]),
			Value: aws.String(dims[i+1]),
		})
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(name),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dimensions,
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record metric",
			"error", err.Error(),
			"metric", name,
		)
	}
}

func (m *CloudWatch) RecordOutcome(ctx context.Context, outcome retry.Outcome) {
	m.put(ctx, MetricMessageOutcome, DimOutcome, outcome.String())
}

func (m *CloudWatch) RecordEscalation(ctx context.Context, delaySeconds int, result retry.EscalationResult) {
	m.put(ctx, MetricRetryEscalation, DimDelay, strconv.Itoa(delaySeconds), DimResult, result.String())
}

func (m *CloudWatch) RecordDeadLetter(ctx context.Context, outcome retry.Outcome, result retry.SinkResult) {
	m.put(ctx, MetricDeadLetter, DimOutcome, outcome.String(), DimResult, result.String())
}

func (m *CloudWatch) RecordAck(ctx context.Context, result retry.GuardResult) {
	m.put(ctx, MetricAcknowledge, DimResult, result.String())
}

var _ retry.Metrics = (*CloudWatch)(nil)
