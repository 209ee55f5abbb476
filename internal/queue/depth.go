package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"redelivery/internal/types"
)

// DepthReader reports ApproximateNumberOfMessages for SQS queues. Queue names
// are mapped to URLs; a name with no mapping is used as the URL itself.
type DepthReader struct {
	client SQSAttributesGetter
	urls   map[string]string
}

// NewDepthReader creates a DepthReader.
func NewDepthReader(client SQSAttributesGetter, urls map[string]string) *DepthReader {
	if urls == nil {
		urls = map[string]string{}
	}
	return &DepthReader{client: client, urls: urls}
}

// Depth returns the approximate number of visible messages in queue.
func (r *DepthReader) Depth(ctx context.Context, queue string) (int, error) {
	url, ok := r.urls[queue]
	if !ok {
		url = queue
	}

	out, err := r.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(url),
		AttributeNames: []sqsTypes.QueueAttributeName{sqsTypes.QueueAttributeNameApproximateNumberOfMessages},
	})
	if err != nil {
		var notFound *sqsTypes.QueueDoesNotExist
		if errors.As(err, &notFound) {
			return 0, types.NewAppError(types.ErrCodeQueueNotFound, fmt.Sprintf("queue %q not found", queue), err)
		}
		return 0, types.NewAppError(types.ErrCodeUpstreamQueue, fmt.Sprintf("failed to read attributes of %q", queue), err)
	}

	raw := out.Attributes[string(sqsTypes.QueueAttributeNameApproximateNumberOfMessages)]
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("queue %q: bad ApproximateNumberOfMessages %q: %w", queue, raw, err)
	}
	return n, nil
}
