// Package overlay keeps the capture overlay out of the frame. The Guard
// collapses concurrent hide requests into one and never lets a show overtake
// a hide that is still in flight.
package overlay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fentz26/glimpse/internal/cancel"
)

// ErrCancelled is returned by Hide when the caller's token is cancelled
// while it waits.
var ErrCancelled = cancel.ErrCancelled

// Transport delivers hide/show requests to the overlay process. Requests
// are assumed idempotent on the receiving side.
type Transport interface {
	RequestHide(ctx context.Context) error
	RequestShow(ctx context.Context) error
}

// State is the overlay visibility as last confirmed by the transport.
type State int

const (
	Shown State = iota
	Hiding
	Hidden
)

func (s State) String() string {
	switch s {
	case Shown:
		return "shown"
	case Hiding:
		return "hiding"
	case Hidden:
		return "hidden"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// flight is a hide request shared by every caller that arrives while it is
// outstanding.
type flight struct {
	done chan struct{}
	err  error
}

// Guard is the hide/show state machine.
type Guard struct {
	transport Transport
	timeout   time.Duration
	logger    *zap.Logger

	// opMu serializes transport calls.
	opMu sync.Mutex

	mu       sync.Mutex
	state    State
	inflight *flight
}

// NewGuard creates a guard in the Shown state. timeout bounds each transport
// request; zero means unbounded.
func NewGuard(t Transport, timeout time.Duration, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{transport: t, timeout: timeout, logger: logger}
}

// State returns the current state.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Hide hides the overlay. Callers arriving while a hide is in flight join
// it instead of sending a second request. If tok is cancelled while
// waiting, Hide returns ErrCancelled; the shared request still settles.
func (g *Guard) Hide(ctx context.Context, tok *cancel.Token) error {
	if tok != nil && tok.IsCancelled() {
		return ErrCancelled
	}

	g.mu.Lock()
	f := g.inflight
	if f == nil {
		if g.state == Hidden {
			g.mu.Unlock()
			return nil
		}
		f = &flight{done: make(chan struct{})}
		g.inflight = f
		g.state = Hiding
		// Detached so one caller giving up does not abort the shared request.
		go g.runHide(context.WithoutCancel(ctx), f)
	}
	g.mu.Unlock()

	var cancelled <-chan struct{}
	if tok != nil {
		cancelled = tok.Done()
	}

	select {
	case <-f.done:
		return f.err
	case <-cancelled:
		return ErrCancelled
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Guard) runHide(ctx context.Context, f *flight) {
	g.opMu.Lock()
	defer g.opMu.Unlock()

	if g.timeout > 0 {
		var cancelFn context.CancelFunc
		ctx, cancelFn = context.WithTimeout(ctx, g.timeout)
		defer cancelFn()
	}

	err := g.transport.RequestHide(ctx)

	g.mu.Lock()
	if err != nil {
		g.state = Shown
		f.err = fmt.Errorf("request hide: %w", err)
	} else {
		g.state = Hidden
	}
	g.inflight = nil
	g.mu.Unlock()
	close(f.done)

	if err != nil {
		g.logger.Warn("overlay hide failed", zap.Error(err))
		return
	}
	g.logger.Debug("overlay hidden")
}

// Show restores the overlay if it is hidden. A show issued during an
// in-flight hide waits for that hide to settle first; if ctx ends while
// waiting, Show returns ctx.Err() and leaves the overlay alone.
func (g *Guard) Show(ctx context.Context) error {
	if err := g.lockSettled(ctx); err != nil {
		return err
	}
	defer g.opMu.Unlock()

	if g.State() != Hidden {
		return nil
	}

	if g.timeout > 0 {
		var cancelFn context.CancelFunc
		ctx, cancelFn = context.WithTimeout(ctx, g.timeout)
		defer cancelFn()
	}
	if err := g.transport.RequestShow(ctx); err != nil {
		g.logger.Warn("overlay show failed", zap.Error(err))
		return fmt.Errorf("request show: %w", err)
	}

	g.mu.Lock()
	g.state = Shown
	g.mu.Unlock()
	g.logger.Debug("overlay shown")
	return nil
}

// lockSettled acquires opMu with no hide in flight. A hide that starts
// between the wait and the lock is waited for as well.
func (g *Guard) lockSettled(ctx context.Context) error {
	for {
		g.mu.Lock()
		f := g.inflight
		g.mu.Unlock()
		if f != nil {
			select {
			case <-f.done:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		g.opMu.Lock()
		g.mu.Lock()
		settled := g.inflight == nil
		g.mu.Unlock()
		if settled {
			return nil
		}
		g.opMu.Unlock()
	}
}
