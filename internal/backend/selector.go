package backend

import (
	"context"
	"sync"
	"time"

	"github.com/fentz26/glimpse/internal/models"
)

type selection struct {
	region models.Region
	err    error
}

// Selector hands a region chosen elsewhere (control plane, TUI) to a
// capture waiting in AwaitRegionSelection. At most one wait is pending.
type Selector struct {
	mu      sync.Mutex
	pending chan selection
}

// NewSelector creates an idle selector.
func NewSelector() *Selector {
	return &Selector{}
}

// Await waits for Resolve or Abort.
func (s *Selector) Await(ctx context.Context, timeout time.Duration) (models.Region, error) {
	ch := make(chan selection, 1)
	s.mu.Lock()
	if s.pending != nil {
		s.mu.Unlock()
		return models.Region{}, ErrSelectionBusy
	}
	s.pending = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.pending == ch {
			s.pending = nil
		}
		s.mu.Unlock()
	}()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case sel := <-ch:
		return sel.region, sel.err
	case <-expired:
		return models.Region{}, ErrSelectionTimeout
	case <-ctx.Done():
		return models.Region{}, ctx.Err()
	}
}

// Resolve completes the pending selection with region.
func (s *Selector) Resolve(region models.Region) error {
	if region.Empty() {
		return ErrEmptyRegion
	}
	return s.deliver(selection{region: region})
}

// Abort fails the pending selection. A nil err means ErrSelectionAborted.
func (s *Selector) Abort(err error) error {
	if err == nil {
		err = ErrSelectionAborted
	}
	return s.deliver(selection{err: err})
}

// Pending reports whether a capture is waiting for a region.
func (s *Selector) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

func (s *Selector) deliver(sel selection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return ErrNoSelectionPending
	}
	s.pending <- sel
	s.pending = nil
	return nil
}
