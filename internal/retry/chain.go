package retry

import "context"

// ReportedLoss is the terminal step of every fallback chain. Reaching it
// means no action in the chain succeeded.
const ReportedLoss = "reported_loss"

// Fallback is one step of a fallback chain. Run reports whether the step
// took care of the message.
type Fallback struct {
	Name string
	Run  func(ctx context.Context) bool
}

// FallbackChain is an ordered list of best-effort actions. The first action
// that succeeds ends the chain.
type FallbackChain []Fallback

// ChainResult records how far a chain got.
type ChainResult struct {
	// Completed is the name of the step that succeeded, or ReportedLoss.
	Completed string
	Attempted []string
}

// Lost reports whether the chain fell through to ReportedLoss.
func (r ChainResult) Lost() bool { return r.Completed == ReportedLoss }

// Execute runs the steps in order.
func (c FallbackChain) Execute(ctx context.Context) ChainResult {
	res := ChainResult{Attempted: make([]string, 0, len(c))}
	for _, step := range c {
		res.Attempted = append(res.Attempted, step.Name)
		if step.Run(ctx) {
			res.Completed = step.Name
			return res
		}
	}
	res.Completed = ReportedLoss
	return res
}
