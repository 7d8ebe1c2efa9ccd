// Package coordinator sequences a capture: hide the overlay, settle, grab
// pixels, persist, preview, enqueue, hand off, and always restore the
// overlay. Only one capture runs at a time.
package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fentz26/glimpse/internal/audit"
	"github.com/fentz26/glimpse/internal/backend"
	"github.com/fentz26/glimpse/internal/budget"
	"github.com/fentz26/glimpse/internal/cancel"
	"github.com/fentz26/glimpse/internal/capturefs"
	"github.com/fentz26/glimpse/internal/models"
	"github.com/fentz26/glimpse/internal/overlay"
	"github.com/fentz26/glimpse/internal/preview"
	"github.com/fentz26/glimpse/internal/queue"
)

// Phase is the coordinator's position in the capture sequence.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseHiding     Phase = "hiding"
	PhaseSettling   Phase = "settling"
	PhaseBackend    Phase = "backend"
	PhasePersisting Phase = "persisting"
	PhasePreviewing Phase = "previewing"
	PhaseEnqueuing  Phase = "enqueuing"
	PhaseHandoff    Phase = "handoff"
	PhaseRestoring  Phase = "restoring"
)

// Persister stores capture bytes and removes them again.
type Persister interface {
	Write(category models.CaptureCategory, mode models.CaptureMode, data []byte) (capturefs.Written, error)
	Delete(path string) error
}

// Handoff delivers a queued item downstream.
type Handoff interface {
	Handoff(ctx context.Context, item *models.CaptureItem, tok *cancel.Token) models.PipelineResult
}

// Auditor records capture decisions.
type Auditor interface {
	Note(ctx context.Context, action string, inputs interface{}, outcome, captureID, details string)
}

// EventSink receives lifecycle events. It is called synchronously and must
// not block.
type EventSink func(models.Event)

// Settings are read once at the start of each capture, so changing them
// never affects a capture already running.
type Settings struct {
	SettleDelay            time.Duration
	CaptureTimeout         time.Duration
	RegionSelectionTimeout time.Duration
	PipelineTimeout        time.Duration
	OverlayAutoHide        bool
	PreviewEnabled         bool
	PreviewMaxWidth        int
	PreviewMaxHeight       int
	MaxQueueSize           int
}

// DefaultSettings returns the settings used when none are supplied.
func DefaultSettings() Settings {
	return Settings{
		SettleDelay:            150 * time.Millisecond,
		CaptureTimeout:         10 * time.Second,
		RegionSelectionTimeout: 30 * time.Second,
		PipelineTimeout:        15 * time.Second,
		OverlayAutoHide:        true,
		PreviewEnabled:         true,
		PreviewMaxWidth:        320,
		PreviewMaxHeight:       240,
		MaxQueueSize:           5,
	}
}

// Result is a successful capture.
type Result struct {
	Item     *models.CaptureItem   `json:"-"`
	Summary  models.Summary        `json:"item"`
	Pipeline models.PipelineResult `json:"pipeline"`
}

// Status is a point-in-time view of the coordinator.
type Status struct {
	Busy      bool                           `json:"busy"`
	Phase     Phase                          `json:"phase"`
	CaptureID string                         `json:"capture_id,omitempty"`
	Queued    map[models.CaptureCategory]int `json:"queued"`
	LastEvent *models.Event                  `json:"last_event,omitempty"`
}

// Coordinator owns the capture queue and preview cache and runs captures
// one at a time.
type Coordinator struct {
	backend   backend.Backend
	guard     *overlay.Guard
	queue     *queue.Queue
	previews  *preview.Cache
	persister Persister
	pipeline  Handoff
	auditor   Auditor
	events    EventSink
	budget    *budget.Budget
	logger    *zap.Logger
	clock     func() time.Time
	sleeper   func(context.Context, time.Duration) error

	settings atomic.Pointer[Settings]

	mu        sync.Mutex
	busy      bool
	phase     Phase
	captureID string
	active    *cancel.Token
	lastEvent *models.Event
}

// Options configure a Coordinator. Backend, Queue and Persister are
// required.
type Options struct {
	Backend   backend.Backend
	Guard     *overlay.Guard
	Queue     *queue.Queue
	Previews  *preview.Cache
	Persister Persister
	Pipeline  Handoff
	Auditor   Auditor
	Events    EventSink
	Budget    *budget.Budget
	Logger    *zap.Logger
	Clock     func() time.Time
	Sleeper   func(context.Context, time.Duration) error
	Settings  *Settings
}

// New validates options and returns an idle coordinator.
func New(opts Options) (*Coordinator, error) {
	if opts.Backend == nil {
		return nil, errors.New("capture backend is required")
	}
	if opts.Queue == nil {
		return nil, errors.New("capture queue is required")
	}
	if opts.Persister == nil {
		return nil, errors.New("persister is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	b := opts.Budget
	if b == nil {
		b = budget.New()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	sleeper := opts.Sleeper
	if sleeper == nil {
		sleeper = defaultSleeper
	}
	previews := opts.Previews
	if previews == nil {
		previews = preview.NewCache(preview.Options{TTL: 5 * time.Minute, MaxEntries: 32, Clock: clock})
	}

	c := &Coordinator{
		backend:   opts.Backend,
		guard:     opts.Guard,
		queue:     opts.Queue,
		previews:  previews,
		persister: opts.Persister,
		pipeline:  opts.Pipeline,
		auditor:   opts.Auditor,
		events:    opts.Events,
		budget:    b,
		logger:    logger.Named("coordinator"),
		clock:     clock,
		sleeper:   sleeper,
		phase:     PhaseIdle,
	}
	settings := DefaultSettings()
	if opts.Settings != nil {
		settings = *opts.Settings
	}
	c.settings.Store(&settings)
	return c, nil
}

// Settings returns the current settings snapshot.
func (c *Coordinator) Settings() Settings {
	return *c.settings.Load()
}

// SetSettings installs new settings for later captures. A smaller queue
// size trims every partition immediately.
func (c *Coordinator) SetSettings(s Settings) {
	c.settings.Store(&s)
	if s.MaxQueueSize > 0 && s.MaxQueueSize != c.queue.MaxItems() {
		for _, ev := range c.queue.SetMaxItems(s.MaxQueueSize) {
			c.discard(context.Background(), ev, audit.ActionCaptureEvict)
		}
	}
}

// Budget exposes the budget so callers can observe armed timers.
func (c *Coordinator) Budget() *budget.Budget {
	return c.budget
}

// Capture runs one capture end to end. It fails fast with
// ErrAlreadyInProgress when another capture is running. Any returned error
// is a *CaptureError.
func (c *Coordinator) Capture(ctx context.Context, category models.CaptureCategory, mode models.CaptureMode) (*Result, error) {
	id := uuid.New().String()
	tok, ok := c.begin(id)
	if !ok {
		return nil, newCaptureError(PhaseIdle, ErrAlreadyInProgress, nil)
	}
	settings := c.Settings()
	start := c.clock()
	log := c.logger.With(
		zap.String("capture_id", id),
		zap.String("category", string(category)),
		zap.String("mode", string(mode)))

	defer func() { c.finish(ctx, tok, settings) }()

	c.emit(models.Event{Type: models.EventCaptureStarted, CaptureID: id, Category: category, Mode: mode})
	log.Debug("capture started")

	timeout := budget.CompositeTimeout(settings.CaptureTimeout, mode.OperationCount())
	var commit commitRecord
	err := c.budget.Run(ctx, timeout, tok, func(ctx context.Context) error {
		return c.acquire(ctx, tok, id, category, mode, settings, &commit)
	})
	if err != nil && commit.item != nil {
		// Queued before the deadline or cancellation won; the capture stands.
		log.Debug("abort arrived after commit", zap.Error(err))
		if errors.Is(err, budget.ErrTimeout) {
			tok = c.rearm(tok)
		}
		err = nil
	}
	if err != nil {
		ce := classify(c.Phase(), ErrBackendFailure, err)
		log.Warn("capture failed",
			zap.String("phase", string(ce.Phase)),
			zap.Duration("elapsed", c.clock().Sub(start)),
			zap.Error(err))
		c.emit(models.Event{Type: models.EventCaptureFailed, CaptureID: id, Category: category, Mode: mode, Error: ce.Error()})
		c.note(ctx, audit.ActionCaptureFailed, id, category, mode, audit.OutcomeFailure, ce.Error())
		return nil, ce
	}

	item := commit.item
	if commit.evicted != nil {
		c.discard(ctx, commit.evicted, audit.ActionCaptureEvict)
	}

	result := &Result{Item: item}
	if c.pipeline != nil {
		c.setPhase(tok, PhaseHandoff)
		result.Pipeline = c.handoff(ctx, tok, item, settings, log)
	}
	result.Summary = item.Summarize()

	log.Info("capture completed",
		zap.Int("size", item.Size),
		zap.Bool("preview", item.Preview != nil),
		zap.Bool("handoff", result.Pipeline.Success),
		zap.Duration("elapsed", c.clock().Sub(start)))
	c.emit(models.Event{Type: models.EventCaptureCompleted, CaptureID: id, Category: category, Mode: mode, Error: result.Pipeline.Error})
	c.note(ctx, audit.ActionCaptureComplete, id, category, mode, audit.OutcomeSuccess, item.Path)
	return result, nil
}

// commitRecord is written only inside the token's commit point. Once the
// token has settled it holds either nothing or the queued item.
type commitRecord struct {
	item    *models.CaptureItem
	evicted *models.CaptureItem
}

// acquire runs the budgeted phases, from hiding the overlay to committing
// the item into the queue. Work after the commit, such as deleting an
// evicted file, belongs to the caller so a deadline cannot fire behind it.
func (c *Coordinator) acquire(ctx context.Context, tok *cancel.Token, id string, category models.CaptureCategory, mode models.CaptureMode, s Settings, commit *commitRecord) error {
	if s.OverlayAutoHide && c.guard != nil {
		c.setPhase(tok, PhaseHiding)
		if err := c.guard.Hide(ctx, tok); err != nil {
			if errors.Is(err, cancel.ErrCancelled) || errors.Is(err, context.Canceled) {
				return err
			}
			return newCaptureError(PhaseHiding, ErrOverlayFailure, err)
		}
		if err := tok.Err(); err != nil {
			return err
		}
	}

	c.setPhase(tok, PhaseSettling)
	if err := c.sleeper(ctx, s.SettleDelay); err != nil {
		return err
	}
	if err := tok.Err(); err != nil {
		return err
	}

	c.setPhase(tok, PhaseBackend)
	item := &models.CaptureItem{ID: id, Category: category, Mode: mode, CreatedAt: c.clock().UTC()}
	data, err := c.grab(ctx, item, s)
	if err != nil {
		if tok.IsCancelled() {
			return cancel.ErrCancelled
		}
		return classify(PhaseBackend, ErrBackendFailure, err)
	}
	if err := tok.Err(); err != nil {
		return err
	}

	c.setPhase(tok, PhasePersisting)
	written, err := c.persister.Write(category, mode, data)
	if err != nil {
		return newCaptureError(PhasePersisting, ErrPersistFailure, err)
	}
	item.Path = written.Path
	item.MimeType = written.MimeType
	item.Data = written.Data
	item.Size = len(written.Data)

	if s.PreviewEnabled {
		c.setPhase(tok, PhasePreviewing)
		gen := preview.Thumbnailer{MaxWidth: s.PreviewMaxWidth, MaxHeight: s.PreviewMaxHeight, Clock: c.clock}
		p, err := c.previews.GetOrGenerate(ctx, tok, data, gen)
		if err != nil {
			c.logger.Debug("preview skipped", zap.String("capture_id", id), zap.Error(err))
		} else {
			item.Preview = p
		}
	}

	c.setPhase(tok, PhaseEnqueuing)
	committed := tok.Do(func() {
		commit.evicted = c.queue.Push(item)
		commit.item = item
	})
	if !committed {
		if err := c.persister.Delete(item.Path); err != nil {
			c.logger.Warn("remove uncommitted capture failed", zap.String("path", item.Path), zap.Error(err))
		}
		return cancel.ErrCancelled
	}
	return nil
}

// grab dispatches on mode. Region mode waits for a region chosen elsewhere,
// captures the full screen and crops it.
func (c *Coordinator) grab(ctx context.Context, item *models.CaptureItem, s Settings) ([]byte, error) {
	switch item.Mode {
	case models.ModeWindow:
		data, win, err := c.backend.CaptureWindow(ctx)
		if err != nil {
			return nil, err
		}
		item.Window = &win
		return data, nil
	case models.ModeRegion:
		c.emit(models.Event{Type: models.EventSelectionStart, CaptureID: item.ID, Category: item.Category, Mode: item.Mode})
		region, err := c.backend.AwaitRegionSelection(ctx, s.RegionSelectionTimeout)
		if err != nil {
			return nil, err
		}
		full, err := c.backend.CaptureFull(ctx)
		if err != nil {
			return nil, err
		}
		cropped, err := c.backend.Crop(ctx, full, region)
		if err != nil {
			return nil, err
		}
		item.Region = &region
		return cropped, nil
	default:
		return c.backend.CaptureFull(ctx)
	}
}

// handoff runs the pipeline under its own budget with a child token, so a
// slow store never fails a capture that has already been queued.
func (c *Coordinator) handoff(ctx context.Context, tok *cancel.Token, item *models.CaptureItem, s Settings, log *zap.Logger) models.PipelineResult {
	child := tok.Child()
	start := c.clock()
	timeout := s.PipelineTimeout
	if timeout <= 0 {
		timeout = DefaultSettings().PipelineTimeout
	}

	res, err := budget.Call(ctx, c.budget, timeout, child, func(ctx context.Context) (models.PipelineResult, error) {
		return c.pipeline.Handoff(ctx, item, child), nil
	})
	if err != nil {
		log.Warn("pipeline handoff abandoned", zap.Error(err))
		code := "HandoffCancelled"
		if errors.Is(err, budget.ErrTimeout) {
			code = "HandoffTimedOut"
		}
		return models.PipelineResult{Error: code, Elapsed: c.clock().Sub(start)}
	}
	if !res.Success {
		log.Warn("pipeline handoff incomplete", zap.String("error", res.Error), zap.String("job_id", res.JobID))
	}
	return res
}

// Cancel cancels the running capture. It reports whether one was running.
func (c *Coordinator) Cancel() bool {
	c.mu.Lock()
	tok := c.active
	c.mu.Unlock()
	if tok == nil {
		return false
	}
	tok.Cancel()
	return true
}

// Busy reports whether a capture is running.
func (c *Coordinator) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// Phase returns the current phase.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// State returns a snapshot of the coordinator.
func (c *Coordinator) State() Status {
	c.mu.Lock()
	st := Status{Busy: c.busy, Phase: c.phase, CaptureID: c.captureID, LastEvent: c.lastEvent}
	c.mu.Unlock()
	st.Queued = make(map[models.CaptureCategory]int, len(models.Categories))
	for _, cat := range models.Categories {
		st.Queued[cat] = c.queue.Len(cat)
	}
	return st
}

// Items returns a category's queued items, oldest first.
func (c *Coordinator) Items(category models.CaptureCategory) []*models.CaptureItem {
	return c.queue.Snapshot(category)
}

// Item returns a queued item.
func (c *Coordinator) Item(id string) (*models.CaptureItem, bool) {
	return c.queue.Get(id)
}

// Delete removes a queued item and its file.
func (c *Coordinator) Delete(ctx context.Context, id string) error {
	item, ok := c.queue.Remove(id)
	if !ok {
		return ErrItemNotFound
	}
	c.discard(ctx, item, audit.ActionCaptureDelete)
	return nil
}

// Clear empties one category, or every category when category is empty,
// deleting the backing files. It returns the number of items removed.
func (c *Coordinator) Clear(ctx context.Context, category models.CaptureCategory) int {
	var removed []*models.CaptureItem
	if category == "" {
		removed = c.queue.ClearAll()
	} else {
		removed = c.queue.Clear(category)
	}
	for _, item := range removed {
		c.discard(ctx, item, audit.ActionCaptureDelete)
	}
	return len(removed)
}

// Wait blocks until work abandoned by timed-out or cancelled captures has
// returned.
func (c *Coordinator) Wait() {
	c.budget.Wait()
}

// rearm swaps a token cancelled by the acquisition deadline for a fresh one
// after the item was committed, so the handoff still gets its own budget and
// Cancel still reaches it.
func (c *Coordinator) rearm(old *cancel.Token) *cancel.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	tok := cancel.New()
	if c.active == old {
		c.active = tok
		c.phase = PhaseEnqueuing
	}
	return tok
}

func (c *Coordinator) begin(id string) (*cancel.Token, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return nil, false
	}
	if c.active != nil {
		c.active.Cancel()
	}
	tok := cancel.New()
	c.busy = true
	c.active = tok
	c.captureID = id
	c.phase = PhaseHiding
	return tok, true
}

// finish restores the overlay, releases the guard and discards the token.
// It runs on every exit path of Capture.
func (c *Coordinator) finish(ctx context.Context, tok *cancel.Token, s Settings) {
	c.setPhase(tok, PhaseRestoring)
	if s.OverlayAutoHide && c.guard != nil {
		if err := c.guard.Show(context.WithoutCancel(ctx)); err != nil {
			c.logger.Warn("overlay restore failed", zap.Error(err))
		}
	}

	c.mu.Lock()
	c.busy = false
	c.phase = PhaseIdle
	c.captureID = ""
	if c.active == tok {
		c.active = nil
	}
	c.mu.Unlock()
}

// setPhase records progress for the capture owning tok. Work abandoned by
// an earlier capture cannot overwrite the phase of a newer one.
func (c *Coordinator) setPhase(tok *cancel.Token, p Phase) {
	c.mu.Lock()
	if c.active == tok {
		c.phase = p
	}
	c.mu.Unlock()
}

// discard deletes an item's file and records why it left the queue.
func (c *Coordinator) discard(ctx context.Context, item *models.CaptureItem, action string) {
	if err := c.persister.Delete(item.Path); err != nil {
		c.logger.Warn("delete capture file failed",
			zap.String("capture_id", item.ID),
			zap.String("path", item.Path),
			zap.Error(err))
	}
	if action == audit.ActionCaptureEvict {
		c.emit(models.Event{Type: models.EventItemEvicted, CaptureID: item.ID, Category: item.Category, Mode: item.Mode})
	}
	c.note(ctx, action, item.ID, item.Category, item.Mode, audit.OutcomeSuccess, item.Path)
}

func (c *Coordinator) emit(ev models.Event) {
	if ev.At.IsZero() {
		ev.At = c.clock().UTC()
	}
	c.mu.Lock()
	c.lastEvent = &ev
	c.mu.Unlock()
	if c.events != nil {
		c.events(ev)
	}
}

func (c *Coordinator) note(ctx context.Context, action, id string, category models.CaptureCategory, mode models.CaptureMode, outcome, details string) {
	if c.auditor == nil {
		return
	}
	c.auditor.Note(context.WithoutCancel(ctx), action,
		map[string]string{"capture_id": id, "category": string(category), "mode": string(mode)},
		outcome, id, details)
}

func defaultSleeper(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
