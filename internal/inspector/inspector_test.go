package inspector

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redelivery/internal/retry"
	"redelivery/internal/types"
)

type fakeDepths struct {
	depths map[string]int
	errs   map[string]error
}

func (f *fakeDepths) Depth(_ context.Context, queue string) (int, error) {
	if err, ok := f.errs[queue]; ok {
		return 0, err
	}
	return f.depths[queue], nil
}

type depthObservation struct {
	queue     string
	depth     int
	available bool
}

type recordingRecorder struct {
	seen []depthObservation
}

func (r *recordingRecorder) SetQueueDepth(queue string, depth int, available bool) {
	r.seen = append(r.seen, depthObservation{queue, depth, available})
}

func TestKnownQueues_DefaultPolicy(t *testing.T) {
	got := KnownQueues(types.DefaultDeadLetterQueue, retry.DefaultPolicy)
	assert.Equal(t, []string{
		"dead_letter_queue",
		"retry_queue_1s",
		"retry_queue_2s",
		"retry_queue_4s",
		"retry_queue_8s",
	}, got)
}

func TestKnownQueues_ConstantDelayDeduplicates(t *testing.T) {
	got := KnownQueues("dlq", retry.Policy{MaxAttempts: 4, InitialDelaySeconds: 5, Multiplier: 1})
	assert.Equal(t, []string{"dlq", "retry_queue_5s"}, got)
}

func TestKnownQueues_ZeroAttempts(t *testing.T) {
	got := KnownQueues("dlq", retry.Policy{MaxAttempts: 0, InitialDelaySeconds: 3, Multiplier: 2})
	assert.Equal(t, []string{"dlq", "retry_queue_3s"}, got)
}

func TestInspector_Inspect_ToleratesPerQueueErrors(t *testing.T) {
	reader := &fakeDepths{
		depths: map[string]int{"dead_letter_queue": 2, "retry_queue_1s": 5},
		errs: map[string]error{
			"retry_queue_2s": types.NewAppError(types.ErrCodeQueueNotFound, `queue "retry_queue_2s" not found`, nil),
		},
	}
	rec := &recordingRecorder{}
	insp := NewInspector(reader, []string{"dead_letter_queue", "retry_queue_1s", "retry_queue_2s"}, rec, nil)
	insp.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	report := insp.Inspect(context.Background())

	require.Len(t, report.Queues, 3)
	assert.Equal(t, QueueStatus{Name: "dead_letter_queue", Messages: 2, Available: true}, report.Queues[0])
	assert.Equal(t, QueueStatus{Name: "retry_queue_1s", Messages: 5, Available: true}, report.Queues[1])
	assert.False(t, report.Queues[2].Available)
	assert.Contains(t, report.Queues[2].Error, "not found")
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), report.GeneratedAt)

	assert.Equal(t, []depthObservation{
		{"dead_letter_queue", 2, true},
		{"retry_queue_1s", 5, true},
		{"retry_queue_2s", 0, false},
	}, rec.seen)
}

func TestInspector_QueuesIsACopy(t *testing.T) {
	insp := NewInspector(&fakeDepths{}, []string{"a", "b"}, nil, nil)
	q := insp.Queues()
	q[0] = "changed"
	assert.Equal(t, []string{"a", "b"}, insp.Queues())
}

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	err := Render(&buf, Report{Queues: []QueueStatus{
		{Name: "dead_letter_queue", Messages: 3, Available: true},
		{Name: "retry_queue_1s", Available: false},
	}})
	require.NoError(t, err)

	want := "=== Queue Status ===\n" +
		"Queue Name           Messages  \n" +
		"-----------------------------------\n" +
		"dead_letter_queue    3         \n" +
		"retry_queue_1s       N/A       \n"
	assert.Equal(t, want, buf.String())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestRender_WriteError(t *testing.T) {
	err := Render(failingWriter{}, Report{})
	assert.EqualError(t, err, "disk full")
}

func TestInspector_Run_SamplesImmediately(t *testing.T) {
	rec := &recordingRecorder{}
	insp := NewInspector(&fakeDepths{depths: map[string]int{"dlq": 1}}, []string{"dlq"}, rec, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	insp.Run(ctx, time.Hour)

	assert.Equal(t, []depthObservation{{"dlq", 1, true}}, rec.seen)
}

func TestInspector_Run_DisabledInterval(t *testing.T) {
	rec := &recordingRecorder{}
	insp := NewInspector(&fakeDepths{}, []string{"dlq"}, rec, nil)

	insp.Run(context.Background(), 0)
	assert.Empty(t, rec.seen)
}
