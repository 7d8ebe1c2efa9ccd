// Package controlplane provides the HTTP API and service layer for glimpse.
package controlplane

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/fentz26/glimpse/internal/backend"
	"github.com/fentz26/glimpse/internal/coordinator"
	"github.com/fentz26/glimpse/internal/models"
	"github.com/fentz26/glimpse/internal/scheduler"
	"github.com/fentz26/glimpse/internal/store"
)

// Service provides the control plane business logic.
type Service struct {
	coord    *coordinator.Coordinator
	store    *store.Store
	selector *backend.Selector
	sched    *scheduler.Scheduler
	backend  string

	defaultMode atomic.Pointer[models.CaptureMode]
}

// ServiceOptions wires a Service. Only Coordinator is required.
type ServiceOptions struct {
	Coordinator *coordinator.Coordinator
	Store       *store.Store
	Selector    *backend.Selector
	Scheduler   *scheduler.Scheduler
	BackendName string
	// DefaultMode is used when a request names no mode. Empty means full.
	DefaultMode models.CaptureMode
}

// NewService creates a new control plane service.
func NewService(opts ServiceOptions) *Service {
	s := &Service{
		coord:    opts.Coordinator,
		store:    opts.Store,
		selector: opts.Selector,
		sched:    opts.Scheduler,
		backend:  opts.BackendName,
	}
	s.SetDefaultMode(opts.DefaultMode)
	return s
}

// SetDefaultMode changes the mode used when a request names none. An empty
// mode resets it to full.
func (s *Service) SetDefaultMode(mode models.CaptureMode) {
	if mode == "" {
		mode = models.ModeFull
	}
	s.defaultMode.Store(&mode)
}

// DefaultMode returns the mode used when a request names none.
func (s *Service) DefaultMode() models.CaptureMode {
	return *s.defaultMode.Load()
}

// StateResponse is the daemon state returned by GET /state.
type StateResponse struct {
	coordinator.Status
	Backend   string           `json:"backend,omitempty"`
	Selecting bool             `json:"selecting"`
	Scheduler *scheduler.Stats `json:"scheduler,omitempty"`
}

// --- Capture Operations ---

// Capture runs a capture. An empty category means problem and an empty mode
// means the configured default mode.
func (s *Service) Capture(ctx context.Context, category, mode string) (*coordinator.Result, error) {
	cat, m, err := parseCaptureArgs(category, mode, s.DefaultMode())
	if err != nil {
		return nil, err
	}
	return s.coord.Capture(ctx, cat, m)
}

func parseCaptureArgs(category, mode string, defaultMode models.CaptureMode) (models.CaptureCategory, models.CaptureMode, error) {
	cat := models.CategoryProblem
	if category != "" {
		c, err := models.ParseCategory(category)
		if err != nil {
			return "", "", fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		cat = c
	}
	m := defaultMode
	if mode != "" {
		v, err := models.ParseMode(mode)
		if err != nil {
			return "", "", fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		m = v
	}
	return cat, m, nil
}

// ListCaptures returns queued captures, oldest first. An empty category
// lists every category in display order.
func (s *Service) ListCaptures(category string) ([]models.Summary, error) {
	cats := models.Categories
	if category != "" {
		c, err := models.ParseCategory(category)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		cats = []models.CaptureCategory{c}
	}
	out := []models.Summary{}
	for _, c := range cats {
		for _, item := range s.coord.Items(c) {
			out = append(out, item.Summarize())
		}
	}
	return out, nil
}

// GetCapture returns one queued capture.
func (s *Service) GetCapture(id string) (models.Summary, error) {
	item, ok := s.coord.Item(id)
	if !ok {
		return models.Summary{}, ErrNotFound
	}
	return item.Summarize(), nil
}

// Preview returns the PNG thumbnail of a queued capture.
func (s *Service) Preview(id string) ([]byte, error) {
	item, ok := s.coord.Item(id)
	if !ok {
		return nil, ErrNotFound
	}
	if item.Preview == nil || len(item.Preview.Data) == 0 {
		return nil, ErrNoPreview
	}
	return item.Preview.Data, nil
}

// Image returns the stored bytes and mime type of a queued capture.
func (s *Service) Image(id string) ([]byte, string, error) {
	item, ok := s.coord.Item(id)
	if !ok {
		return nil, "", ErrNotFound
	}
	return item.Data, item.MimeType, nil
}

// DeleteCapture removes a queued capture and its file.
func (s *Service) DeleteCapture(ctx context.Context, id string) error {
	return s.coord.Delete(ctx, id)
}

// ClearCaptures empties a category, or all of them when category is empty.
func (s *Service) ClearCaptures(ctx context.Context, category string) (int, error) {
	var cat models.CaptureCategory
	if category != "" {
		c, err := models.ParseCategory(category)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		cat = c
	}
	return s.coord.Clear(ctx, cat), nil
}

// CancelCapture cancels the running capture, if any.
func (s *Service) CancelCapture() bool {
	return s.coord.Cancel()
}

// --- Region Selection ---

// ResolveSelection completes a pending region selection.
func (s *Service) ResolveSelection(region models.Region) error {
	if s.selector == nil {
		return ErrNoSelector
	}
	return s.selector.Resolve(region)
}

// AbortSelection aborts a pending region selection.
func (s *Service) AbortSelection() error {
	if s.selector == nil {
		return ErrNoSelector
	}
	return s.selector.Abort(backend.ErrSelectionAborted)
}

// --- Jobs ---

// ListJobs returns pipeline jobs newest first.
func (s *Service) ListJobs(ctx context.Context, status string) ([]models.Job, error) {
	if s.store == nil {
		return nil, ErrStoreDisabled
	}
	return s.store.ListJobs(ctx, models.JobStatus(status))
}

// GetJob returns a job and its artifacts.
func (s *Service) GetJob(ctx context.Context, id string) (*models.Job, []models.Artifact, error) {
	if s.store == nil {
		return nil, nil, ErrStoreDisabled
	}
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	arts, err := s.store.ListArtifacts(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return job, arts, nil
}

// Audit returns recent decision records, optionally for one capture.
func (s *Service) Audit(ctx context.Context, captureID string, limit int) ([]models.PDREntry, error) {
	if s.store == nil {
		return nil, ErrStoreDisabled
	}
	return s.store.ListPDR(ctx, captureID, limit)
}

// --- State ---

// State returns a snapshot of the daemon.
func (s *Service) State() StateResponse {
	resp := StateResponse{Status: s.coord.State(), Backend: s.backend}
	if s.selector != nil {
		resp.Selecting = s.selector.Pending()
	}
	if s.sched != nil {
		st := s.sched.Stats()
		resp.Scheduler = &st
	}
	return resp
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	return s.store.Ping(ctx)
}
