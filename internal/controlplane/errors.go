package controlplane

import (
	"errors"
	"net/http"

	"github.com/fentz26/glimpse/internal/backend"
	"github.com/fentz26/glimpse/internal/budget"
	"github.com/fentz26/glimpse/internal/cancel"
	"github.com/fentz26/glimpse/internal/coordinator"
	"github.com/fentz26/glimpse/internal/store"
)

// Sentinel errors for control plane operations.
var (
	ErrNotFound      = errors.New("resource not found")
	ErrNoPreview     = errors.New("capture has no preview")
	ErrBadRequest    = errors.New("bad request")
	ErrNoSelector    = errors.New("backend does not accept region selections")
	ErrStoreDisabled = errors.New("job store not configured")
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	Phase     string `json:"phase,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, coordinator.ErrAlreadyInProgress),
		errors.Is(err, backend.ErrSelectionBusy),
		errors.Is(err, backend.ErrNoSelectionPending):
		return http.StatusConflict
	case errors.Is(err, budget.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, cancel.ErrCancelled):
		return http.StatusConflict
	case errors.Is(err, coordinator.ErrBackendFailure),
		errors.Is(err, coordinator.ErrOverlayFailure):
		return http.StatusBadGateway
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrNoPreview),
		errors.Is(err, coordinator.ErrItemNotFound),
		errors.Is(err, store.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, backend.ErrEmptyRegion):
		return http.StatusBadRequest
	case errors.Is(err, ErrNoSelector), errors.Is(err, ErrStoreDisabled):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

func errorBody(err error) ErrorResponse {
	resp := ErrorResponse{Error: err.Error()}
	var ce *coordinator.CaptureError
	if errors.As(err, &ce) {
		resp.Kind = kindName(ce.Kind)
		resp.Phase = string(ce.Phase)
		resp.Retryable = ce.Retryable()
	}
	return resp
}

func kindName(kind error) string {
	switch kind {
	case coordinator.ErrAlreadyInProgress:
		return "already_in_progress"
	case budget.ErrTimeout:
		return "timeout"
	case cancel.ErrCancelled:
		return "cancelled"
	case coordinator.ErrBackendFailure:
		return "backend_failure"
	case coordinator.ErrPersistFailure:
		return "persist_failure"
	case coordinator.ErrOverlayFailure:
		return "overlay_failure"
	}
	return "internal"
}
