// Package retry bounds how often a conversational step is re-asked when the
// patient gives no usable answer.
package retry

// DefaultMaxRetries is how many times a step is re-asked before it is skipped.
const DefaultMaxRetries = 2

// Action tells the caller what to do with the current step.
type Action string

const (
	ActionRetry Action = "retry"
	ActionSkip  Action = "skip"
)

// Decision is the controller's verdict for one no-input or ambiguous turn.
type Decision struct {
	Action Action
	// Attempt is the retry number just granted (1-based), or the count at skip time.
	Attempt int
}

// Controller applies the per-step retry budget. The zero value uses DefaultMaxRetries.
type Controller struct {
	MaxRetries int
}

// New returns a controller with max retries, or the default when max <= 0.
func New(max int) Controller {
	if max <= 0 {
		max = DefaultMaxRetries
	}
	return Controller{MaxRetries: max}
}

func (c Controller) max() int {
	if c.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return c.MaxRetries
}

// OnNoOrAmbiguousInput records one failed attempt at step in counts. Below the
// budget it increments and asks for a retry; at the budget it asks for a skip
// and leaves the counter untouched for audit. counts must be non-nil.
func (c Controller) OnNoOrAmbiguousInput(counts map[string]int, step string) Decision {
	n := counts[step]
	if n < c.max() {
		counts[step] = n + 1
		return Decision{Action: ActionRetry, Attempt: n + 1}
	}
	return Decision{Action: ActionSkip, Attempt: n}
}

// Remaining returns how many retries step still has.
func (c Controller) Remaining(counts map[string]int, step string) int {
	left := c.max() - counts[step]
	if left < 0 {
		return 0
	}
	return left
}
