package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/fentz26/glimpse/internal/budget"
	"github.com/fentz26/glimpse/internal/cancel"
)

var (
	// ErrAlreadyInProgress rejects a capture while another one runs.
	ErrAlreadyInProgress = errors.New("capture already in progress")
	// ErrBackendFailure marks a failed or aborted backend call.
	ErrBackendFailure = errors.New("capture backend failure")
	// ErrPersistFailure marks a failed write of the capture file.
	ErrPersistFailure = errors.New("capture persist failure")
	// ErrOverlayFailure marks a failed overlay hide.
	ErrOverlayFailure = errors.New("overlay failure")
	// ErrItemNotFound is returned by Delete for unknown ids.
	ErrItemNotFound = errors.New("capture item not found")
)

// CaptureError describes why a capture failed. Kind is one of the package
// sentinels, budget.ErrTimeout or cancel.ErrCancelled, so callers can tell
// retryable rejections and aborts apart from backend and disk failures.
type CaptureError struct {
	Phase Phase
	Kind  error
	Err   error
}

func (e *CaptureError) Error() string {
	if e.Err == nil || e.Err == e.Kind {
		return fmt.Sprintf("capture %s: %v", e.Phase, e.Kind)
	}
	return fmt.Sprintf("capture %s: %v: %v", e.Phase, e.Kind, e.Err)
}

// Is matches the Kind.
func (e *CaptureError) Is(target error) bool {
	return target == e.Kind
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// Retryable reports whether trying again later could succeed.
func (e *CaptureError) Retryable() bool {
	return e.Kind == ErrAlreadyInProgress || e.Kind == budget.ErrTimeout
}

func newCaptureError(phase Phase, kind, err error) *CaptureError {
	return &CaptureError{Phase: phase, Kind: kind, Err: err}
}

// classify wraps err in a CaptureError unless it already is one.
// Timeouts and cancellations keep their own kind whatever phase they hit.
func classify(phase Phase, fallback, err error) *CaptureError {
	var ce *CaptureError
	if errors.As(err, &ce) {
		return ce
	}
	switch {
	case errors.Is(err, budget.ErrTimeout):
		return newCaptureError(phase, budget.ErrTimeout, err)
	case errors.Is(err, cancel.ErrCancelled), errors.Is(err, context.Canceled):
		return newCaptureError(phase, cancel.ErrCancelled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return newCaptureError(phase, budget.ErrTimeout, err)
	}
	return newCaptureError(phase, fallback, err)
}
