// Package cancel provides the cooperative cancellation token threaded through
// every phase of a capture.
package cancel

import (
	"context"
	"errors"
	"sync"
)

// ErrCancelled is returned by operations aborted through a Token.
var ErrCancelled = errors.New("operation cancelled")

// Token is a one-way Active -> Cancelled switch with an observer list.
// Once cancelled it stays cancelled, and each registered callback runs at
// most once. The zero value is not usable; call New.
type Token struct {
	mu        sync.Mutex
	cancelled bool
	done      chan struct{}
	callbacks []func()
}

// New returns an active token.
func New() *Token {
	return &Token{done: make(chan struct{})}
}

// Cancel moves the token to Cancelled and runs the pending callbacks.
// Calling it again, concurrently, or from inside a callback is a no-op.
func (t *Token) Cancel() {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.cancelled = true
	close(t.done)
	callbacks := t.callbacks
	t.callbacks = nil
	t.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

// IsCancelled reports whether Cancel has been called.
func (t *Token) IsCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// OnCancelled registers fn to run on cancellation. If the token is already
// cancelled, fn runs immediately on the caller's goroutine.
func (t *Token) OnCancelled(fn func()) {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		fn()
		return
	}
	t.callbacks = append(t.callbacks, fn)
	t.mu.Unlock()
}

// Done is closed when the token is cancelled.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// Err returns ErrCancelled once the token is cancelled, nil before.
func (t *Token) Err() error {
	if t.IsCancelled() {
		return ErrCancelled
	}
	return nil
}

// Do runs fn only while the token is active. Cancel blocks until fn has
// returned, so fn either completes before cancellation or never runs.
// fn must not call Cancel on the same token.
func (t *Token) Do(fn func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return false
	}
	fn()
	return true
}

// Child returns a token cancelled together with t that can also be
// cancelled on its own without affecting t.
func (t *Token) Child() *Token {
	child := New()
	t.OnCancelled(child.Cancel)
	return child
}

// Context derives a context that is cancelled when either parent is done or
// the token is cancelled. The returned CancelFunc releases the context.
func (t *Token) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	t.OnCancelled(cancel)
	return ctx, cancel
}
