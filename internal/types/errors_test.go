package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorErrorFormat(t *testing.T) {
	appErr := NewAppError(ErrCodeQueueNotFound, "retry_queue_8s does not exist", nil)
	assert.Equal(t, "queue_not_found: retry_queue_8s does not exist", appErr.Error())

	withCause := NewAppError(ErrCodeBrokerPublishFailed, "publish to direct_logs_retry", errors.New("channel/connection is not open"))
	assert.Equal(t, "broker_publish_failed: publish to direct_logs_retry: channel/connection is not open", withCause.Error())
}

func TestAppErrorErrorsAs(t *testing.T) {
	cause := errors.New("connection reset")
	wrapped := fmt.Errorf("declare holding queue: %w", NewAppError(ErrCodeBrokerDeclareFailed, "retry_queue_2s", cause))

	var appErr *AppError
	require.True(t, errors.As(wrapped, &appErr))
	assert.Equal(t, ErrCodeBrokerDeclareFailed, appErr.Code)
	assert.True(t, errors.Is(wrapped, cause))
}

func TestAppErrorWithDetailsDoesNotMutate(t *testing.T) {
	orig := &AppError{Code: ErrCodeQueueNotFound, Message: "missing", Details: map[string]any{"queue": "a"}}
	next := orig.WithDetails(map[string]any{"vhost": "/"})

	assert.Len(t, orig.Details, 1)
	assert.Equal(t, "a", next.Details["queue"])
	assert.Equal(t, "/", next.Details["vhost"])
}
