package policy

import (
	"context"
	"errors"
	"time"
)

// ErrDenied is returned when a bounded evaluation fails closed.
var ErrDenied = errors.New("policy evaluation failed closed")

// Bounded wraps an evaluator with a deadline and the fail-open/fail-closed
// contract: on timeout or evaluator error the decision is deny unless
// FailOpen is set, in which case the request proceeds as allowed.
type Bounded struct {
	Inner    Evaluator
	Timeout  time.Duration
	FailOpen bool
}

// Evaluate runs the inner evaluator under the configured deadline.
func (b *Bounded) Evaluate(ctx context.Context, in *Input) (*Decision, error) {
	timeout := b.Timeout
	if timeout == 0 {
		timeout = 100 * time.Millisecond
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		decision *Decision
		err      error
	}
	ch := make(chan result, 1)
	go func() {
		d, err := b.Inner.Evaluate(ctx, in)
		ch <- result{d, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return b.fallback(res.err)
		}
		return res.decision, nil
	case <-ctx.Done():
		return b.fallback(ctx.Err())
	}
}

func (b *Bounded) fallback(cause error) (*Decision, error) {
	if b.FailOpen {
		return &Decision{
			Action:       ActionAllow,
			Reason:       "policy_unavailable_fail_open",
			ActionsTaken: []string{"fail_open"},
		}, nil
	}
	return nil, errors.Join(ErrDenied, cause)
}
