// Package inspector reports the depth of the dead-letter and holding queues
// and drains the dead-letter queue for offline review.
package inspector

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"redelivery/internal/retry"
	"redelivery/internal/types"
)

// DepthReader returns the number of ready messages in a queue.
type DepthReader interface {
	Depth(ctx context.Context, queue string) (int, error)
}

// DepthRecorder receives every depth observation. metrics.Prometheus
// satisfies it.
type DepthRecorder interface {
	SetQueueDepth(queue string, depth int, available bool)
}

// KnownQueues lists the queues the inspector reports on: the dead-letter
// queue followed by the holding queue for every delay the policy can produce,
// including the one past the final permitted attempt.
func KnownQueues(deadLetterQueue string, policy retry.Policy) []string {
	out := []string{deadLetterQueue}
	seen := map[string]bool{deadLetterQueue: true}
	for n := 0; n <= policy.MaxAttempts; n++ {
		name := types.HoldingQueueName(policy.ComputeDelay(n))
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// QueueStatus is one row of a Report.
type QueueStatus struct {
	Name      string `json:"name"`
	Messages  int    `json:"messages"`
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

// Report is a point-in-time view of the known queues.
type Report struct {
	Queues      []QueueStatus `json:"queues"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// Inspector builds reports from a DepthReader.
type Inspector struct {
	reader   DepthReader
	queues   []string
	recorder DepthRecorder
	logger   types.Logger
	now      func() time.Time
}

// NewInspector creates an Inspector over queues. recorder may be nil.
func NewInspector(reader DepthReader, queues []string, recorder DepthRecorder, logger types.Logger) *Inspector {
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Inspector{
		reader:   reader,
		queues:   queues,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// Queues returns the queue names the inspector reports on.
func (i *Inspector) Queues() []string { return append([]string(nil), i.queues...) }

// Inspect queries every queue in order. A queue that cannot be inspected is
// reported as unavailable; it never aborts the report.
func (i *Inspector) Inspect(ctx context.Context) Report {
	report := Report{Queues: make([]QueueStatus, 0, len(i.queues)), GeneratedAt: i.now().UTC()}

	for _, name := range i.queues {
		status := QueueStatus{Name: name}
		depth, err := i.reader.Depth(ctx, name)
		if err != nil {
			status.Error = err.Error()
			i.logger.Warn("queue unavailable", "queue", name, "error", err)
		} else {
			status.Messages = depth
			status.Available = true
		}
		if i.recorder != nil {
			i.recorder.SetQueueDepth(name, status.Messages, status.Available)
		}
		report.Queues = append(report.Queues, status)
	}
	return report
}

// Render writes report as a fixed-width table.
func Render(w io.Writer, report Report) error {
	var b strings.Builder
	b.WriteString("=== Queue Status ===\n")
	fmt.Fprintf(&b, "%-20s %-10s\n", "Queue Name", "Messages")
	b.WriteString(strings.Repeat("-", 35) + "\n")
	for _, q := range report.Queues {
		count := "N/A"
		if q.Available {
			count = strconv.Itoa(q.Messages)
		}
		fmt.Fprintf(&b, "%-20s %-10s\n", q.Name, count)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// Run samples every queue immediately and then once per interval until ctx
// is done, so the depth recorder stays current without HTTP traffic.
func (i *Inspector) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	i.Inspect(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			i.Inspect(ctx)
		}
	}
}
