// Package budget composes per-phase timeouts into one operation deadline and
// races operations against it.
package budget

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fentz26/glimpse/internal/cancel"
)

// ErrTimeout is returned when an operation outlives its budget.
var ErrTimeout = errors.New("operation timed out")

// ErrCancelled aliases the token error so callers can match either package.
var ErrCancelled = cancel.ErrCancelled

// OperationSurcharge is added to the base duration per counted operation.
const OperationSurcharge = time.Second

// CompositeTimeout returns base + operationCount*OperationSurcharge.
func CompositeTimeout(base time.Duration, operationCount int) time.Duration {
	if operationCount < 0 {
		operationCount = 0
	}
	return base + time.Duration(operationCount)*OperationSurcharge
}

// Budget runs operations under deadlines. It counts armed timers so callers
// can verify that none outlive the operation they guard, and tracks
// operations abandoned on timeout or cancellation until they return.
type Budget struct {
	armed atomic.Int64
	ops   sync.WaitGroup
}

// New returns a Budget.
func New() *Budget {
	return &Budget{}
}

// Armed returns the number of timers currently armed by Run.
func (b *Budget) Armed() int64 {
	return b.armed.Load()
}

// Wait blocks until every operation started by Run has returned, including
// ones Run already gave up on.
func (b *Budget) Wait() {
	b.ops.Wait()
}

// Run executes op and waits for the first of: op returning, the timeout
// expiring, or tok being cancelled. On expiry tok is cancelled before
// ErrTimeout is returned. The context passed to op is cancelled whenever Run
// gives up on it, so well-behaved operations stop promptly.
func (b *Budget) Run(ctx context.Context, timeout time.Duration, tok *cancel.Token, op func(context.Context) error) error {
	if tok == nil {
		tok = cancel.New()
	}
	if err := tok.Err(); err != nil {
		return err
	}

	opCtx, release := tok.Context(ctx)
	defer release()

	timer := time.NewTimer(timeout)
	b.armed.Add(1)
	defer func() {
		timer.Stop()
		b.armed.Add(-1)
	}()

	result := make(chan error, 1)
	b.ops.Add(1)
	go func() {
		defer b.ops.Done()
		result <- op(opCtx)
	}()

	select {
	case err := <-result:
		return err
	case <-timer.C:
		tok.Cancel()
		return ErrTimeout
	case <-tok.Done():
		return cancel.ErrCancelled
	case <-ctx.Done():
		tok.Cancel()
		return ctx.Err()
	}
}

// Call is the value-returning form of Run.
func Call[T any](ctx context.Context, b *Budget, timeout time.Duration, tok *cancel.Token, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := b.Run(ctx, timeout, tok, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
