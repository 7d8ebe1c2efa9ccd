package coordinator

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/fentz26/glimpse/internal/backend"
	"github.com/fentz26/glimpse/internal/budget"
	"github.com/fentz26/glimpse/internal/cancel"
	"github.com/fentz26/glimpse/internal/capturefs"
	"github.com/fentz26/glimpse/internal/models"
	"github.com/fentz26/glimpse/internal/overlay"
	"github.com/fentz26/glimpse/internal/pipeline"
	"github.com/fentz26/glimpse/internal/queue"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeBackend serves a fixed frame and can block or fail on demand.
type fakeBackend struct {
	frame     []byte
	err       error
	gate      chan struct{}
	entered   chan struct{}
	ignoreCtx bool
	selector  *backend.Selector
	calls     atomic.Int32
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) CaptureFull(ctx context.Context) ([]byte, error) {
	f.calls.Add(1)
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.gate != nil {
		if f.ignoreCtx {
			<-f.gate
		} else {
			select {
			case <-f.gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.frame, nil
}

func (f *fakeBackend) CaptureWindow(ctx context.Context) ([]byte, models.WindowDescriptor, error) {
	data, err := f.CaptureFull(ctx)
	return data, models.WindowDescriptor{ID: "w1", Title: "Editor"}, err
}

func (f *fakeBackend) AwaitRegionSelection(ctx context.Context, timeout time.Duration) (models.Region, error) {
	return f.selector.Await(ctx, timeout)
}

func (f *fakeBackend) Crop(ctx context.Context, data []byte, region models.Region) ([]byte, error) {
	return backend.Crop(ctx, data, region)
}

// fakeTransport counts overlay requests.
type fakeTransport struct {
	hides   atomic.Int32
	shows   atomic.Int32
	hideErr error
}

func (f *fakeTransport) RequestHide(context.Context) error {
	f.hides.Add(1)
	return f.hideErr
}

func (f *fakeTransport) RequestShow(context.Context) error {
	f.shows.Add(1)
	return nil
}

// recordingPersister writes through to disk and counts deletes per path.
type recordingPersister struct {
	disk     *capturefs.Disk
	writeErr error
	onWrite  func()
	onDelete func(path string)

	mu      sync.Mutex
	deletes map[string]int
}

func (p *recordingPersister) Write(category models.CaptureCategory, mode models.CaptureMode, data []byte) (capturefs.Written, error) {
	if p.writeErr != nil {
		return capturefs.Written{}, p.writeErr
	}
	w, err := p.disk.Write(category, mode, data)
	if p.onWrite != nil {
		p.onWrite()
	}
	return w, err
}

func (p *recordingPersister) Delete(path string) error {
	if p.onDelete != nil {
		p.onDelete(path)
	}
	p.mu.Lock()
	p.deletes[path]++
	p.mu.Unlock()
	return p.disk.Delete(path)
}

func (p *recordingPersister) deleteCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.deletes {
		n += c
	}
	return n
}

// fakeStore is a pipeline store that never touches disk.
type fakeStore struct {
	jobErr error
}

func (f *fakeStore) CreateSession(context.Context, string, string) (string, error) {
	return "sess-1", nil
}

func (f *fakeStore) CreateJob(ctx context.Context, p models.JobPayload) (*models.Job, error) {
	if f.jobErr != nil {
		return nil, f.jobErr
	}
	return &models.Job{ID: "job-1", SessionID: p.SessionID}, nil
}

func (f *fakeStore) ResolveJob(context.Context, string) (models.JobRef, error) { return 1, nil }

func (f *fakeStore) AttachArtifact(ctx context.Context, ref models.JobRef, data []byte, meta models.ArtifactMetadata) (*models.Artifact, error) {
	return &models.Artifact{ID: "art-1", JobID: "job-1", Size: len(data)}, nil
}

func (f *fakeStore) StartProcessing(context.Context, string) error { return nil }

type harness struct {
	c         *Coordinator
	backend   *fakeBackend
	transport *fakeTransport
	guard     *overlay.Guard
	persister *recordingPersister
	store     *fakeStore
	dir       string

	mu     sync.Mutex
	events []models.Event
}

func (h *harness) eventTypes() []models.EventType {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]models.EventType, len(h.events))
	for i, e := range h.events {
		out[i] = e.Type
	}
	return out
}

func (h *harness) files(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir(h.dir)
	require.NoError(t, err)
	return len(entries)
}

func newHarness(t *testing.T, mutate func(*Settings)) *harness {
	t.Helper()
	frame, err := backend.NewSynthetic(backend.SyntheticOptions{Width: 64, Height: 48}).CaptureFull(context.Background())
	require.NoError(t, err)

	dir := t.TempDir()
	disk, err := capturefs.NewDisk(capturefs.Options{Dir: dir, Format: capturefs.FormatPNG})
	require.NoError(t, err)

	h := &harness{
		backend:   &fakeBackend{frame: frame, selector: backend.NewSelector()},
		transport: &fakeTransport{},
		persister: &recordingPersister{disk: disk, deletes: map[string]int{}},
		store:     &fakeStore{},
		dir:       dir,
	}
	h.guard = overlay.NewGuard(h.transport, 0, nil)

	settings := DefaultSettings()
	settings.SettleDelay = 0
	if mutate != nil {
		mutate(&settings)
	}

	orch := pipeline.New(pipeline.Options{
		Store: h.store,
		Settings: pipeline.Settings{
			Enabled:           true,
			AutoCreateSession: true,
			SessionTimeout:    time.Minute,
			Templates:         pipeline.DefaultTemplates(),
		},
	})

	h.c, err = New(Options{
		Backend:   h.backend,
		Guard:     h.guard,
		Queue:     queue.New(settings.MaxQueueSize),
		Persister: h.persister,
		Pipeline:  orch,
		Events: func(ev models.Event) {
			h.mu.Lock()
			h.events = append(h.events, ev)
			h.mu.Unlock()
		},
		Sleeper:  func(context.Context, time.Duration) error { return nil },
		Settings: &settings,
	})
	require.NoError(t, err)
	t.Cleanup(h.c.Wait)
	return h
}

func assertRestored(t *testing.T, h *harness) {
	t.Helper()
	assert.False(t, h.c.Busy(), "guard released")
	assert.Equal(t, PhaseIdle, h.c.Phase())
	assert.Equal(t, overlay.Shown, h.guard.State(), "overlay restored")
	assert.Equal(t, h.transport.hides.Load(), h.transport.shows.Load(), "every hide is matched by a show")
	assert.Equal(t, int64(0), h.c.Budget().Armed(), "no timers left armed")
}

func TestCaptureSucceeds(t *testing.T) {
	h := newHarness(t, nil)

	res, err := h.c.Capture(context.Background(), models.CategoryProblem, models.ModeFull)
	require.NoError(t, err)

	item := res.Item
	require.NotNil(t, item.Preview, "preview generated")
	assert.Equal(t, 64, item.Preview.Width, "small frames are not upscaled")
	assert.Equal(t, 48, item.Preview.Height)
	assert.Equal(t, "image/png", item.MimeType)
	assert.FileExists(t, item.Path)

	queued := h.c.Items(models.CategoryProblem)
	require.Len(t, queued, 1)
	assert.Equal(t, item.ID, queued[0].ID)
	assert.Empty(t, h.c.Items(models.CategoryDebug))

	assert.True(t, res.Pipeline.Success)
	assert.Equal(t, "job-1", res.Pipeline.JobID)
	assert.Equal(t, "art-1", res.Pipeline.ArtifactID)
	assert.Equal(t, "art-1", item.ArtifactID())
	assert.Equal(t, "art-1", res.Summary.ArtifactID)

	assert.Equal(t, int32(1), h.transport.hides.Load())
	assertRestored(t, h)
	assert.Equal(t, []models.EventType{models.EventCaptureStarted, models.EventCaptureCompleted}, h.eventTypes())
}

func TestCaptureSurvivesJobCreationFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.store.jobErr = errors.New("store offline")

	res, err := h.c.Capture(context.Background(), models.CategoryProblem, models.ModeFull)
	require.NoError(t, err)

	assert.False(t, res.Pipeline.Success)
	assert.Equal(t, pipeline.ErrJobCreationFailed, res.Pipeline.Error)
	assert.Len(t, h.c.Items(models.CategoryProblem), 1, "item still queued")
	assert.Empty(t, res.Item.ArtifactID())
	assertRestored(t, h)
}

func TestSecondCaptureRejectedWhileBusy(t *testing.T) {
	h := newHarness(t, nil)
	h.backend.gate = make(chan struct{})
	h.backend.entered = make(chan struct{}, 1)

	type outcome struct {
		res *Result
		err error
	}
	first := make(chan outcome, 1)
	go func() {
		res, err := h.c.Capture(context.Background(), models.CategoryDebug, models.ModeWindow)
		first <- outcome{res, err}
	}()
	<-h.backend.entered

	start := time.Now()
	_, err := h.c.Capture(context.Background(), models.CategoryProblem, models.ModeFull)
	assert.ErrorIs(t, err, ErrAlreadyInProgress)
	assert.Less(t, time.Since(start), 100*time.Millisecond, "rejected immediately")
	var ce *CaptureError
	require.ErrorAs(t, err, &ce)
	assert.True(t, ce.Retryable())
	assert.True(t, h.c.Busy())

	close(h.backend.gate)
	got := <-first
	require.NoError(t, got.err)
	assert.Equal(t, models.ModeWindow, got.res.Item.Mode)
	require.NotNil(t, got.res.Item.Window)
	assert.Equal(t, "Editor", got.res.Item.Window.Title)
	assert.Equal(t, int32(1), h.backend.calls.Load())
	assertRestored(t, h)
}

func TestHangingBackendTimesOut(t *testing.T) {
	h := newHarness(t, func(s *Settings) { s.CaptureTimeout = 50 * time.Millisecond })
	h.backend.gate = make(chan struct{})
	h.backend.ignoreCtx = true

	limit := budget.CompositeTimeout(50*time.Millisecond, models.ModeFull.OperationCount())
	start := time.Now()
	_, err := h.c.Capture(context.Background(), models.CategoryProblem, models.ModeFull)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, budget.ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, limit)
	assert.Less(t, elapsed, limit+500*time.Millisecond)
	var ce *CaptureError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, PhaseBackend, ce.Phase)

	assertRestored(t, h)
	assert.Empty(t, h.c.Items(models.CategoryProblem))
	assert.Equal(t, []models.EventType{models.EventCaptureStarted, models.EventCaptureFailed}, h.eventTypes())

	// The abandoned backend call returns late and must not queue anything.
	close(h.backend.gate)
	h.c.Wait()
	assert.Empty(t, h.c.Items(models.CategoryProblem))
	assert.Equal(t, 0, h.files(t))
	assert.Equal(t, PhaseIdle, h.c.Phase())
}

func TestQueueCapacityEvictsOldest(t *testing.T) {
	h := newHarness(t, func(s *Settings) { s.MaxQueueSize = 5 })

	var items []*models.CaptureItem
	for i := 0; i < 6; i++ {
		res, err := h.c.Capture(context.Background(), models.CategoryProblem, models.ModeFull)
		require.NoError(t, err)
		items = append(items, res.Item)
	}

	queued := h.c.Items(models.CategoryProblem)
	require.Len(t, queued, 5)
	assert.Equal(t, items[1].ID, queued[0].ID)
	assert.Equal(t, items[5].ID, queued[4].ID)

	assert.Equal(t, 1, h.persister.deleteCount(), "exactly one eviction")
	h.persister.mu.Lock()
	assert.Equal(t, 1, h.persister.deletes[items[0].Path], "delete hook called once for the first item")
	h.persister.mu.Unlock()
	assert.NoFileExists(t, items[0].Path)
	assert.Equal(t, 5, h.files(t))

	evictions := 0
	for _, typ := range h.eventTypes() {
		if typ == models.EventItemEvicted {
			evictions++
		}
	}
	assert.Equal(t, 1, evictions)
}

func TestSlowEvictionDoesNotTimeOutCommittedCapture(t *testing.T) {
	h := newHarness(t, func(s *Settings) {
		s.MaxQueueSize = 1
		s.CaptureTimeout = 0
	})

	first, err := h.c.Capture(context.Background(), models.CategoryProblem, models.ModeFull)
	require.NoError(t, err)

	// Deleting the evicted file outlasts the whole acquisition budget.
	limit := budget.CompositeTimeout(0, models.ModeFull.OperationCount())
	h.persister.onDelete = func(path string) {
		if path == first.Item.Path {
			time.Sleep(limit + 500*time.Millisecond)
		}
	}

	second, err := h.c.Capture(context.Background(), models.CategoryProblem, models.ModeFull)
	require.NoError(t, err)
	assert.True(t, second.Pipeline.Success, "handoff runs normally")

	queued := h.c.Items(models.CategoryProblem)
	require.Len(t, queued, 1)
	assert.Equal(t, second.Item.ID, queued[0].ID)
	assert.NoFileExists(t, first.Item.Path)
	assert.FileExists(t, second.Item.Path)
	assertRestored(t, h)

	types := h.eventTypes()
	assert.Equal(t, models.EventCaptureCompleted, types[len(types)-1])
	assert.NotContains(t, types, models.EventCaptureFailed)
}

func TestCancelAfterCommitKeepsCapture(t *testing.T) {
	h := newHarness(t, func(s *Settings) { s.MaxQueueSize = 1 })

	first, err := h.c.Capture(context.Background(), models.CategoryProblem, models.ModeFull)
	require.NoError(t, err)

	// Cancel lands while the evicted file is removed, after the new item is queued.
	h.persister.onDelete = func(path string) {
		if path == first.Item.Path {
			h.c.Cancel()
		}
	}

	second, err := h.c.Capture(context.Background(), models.CategoryProblem, models.ModeFull)
	require.NoError(t, err, "a committed capture is not failed by a later cancel")
	assert.False(t, second.Pipeline.Success)
	assert.Equal(t, "HandoffCancelled", second.Pipeline.Error)

	queued := h.c.Items(models.CategoryProblem)
	require.Len(t, queued, 1)
	assert.Equal(t, second.Item.ID, queued[0].ID)
	assertRestored(t, h)
}

func TestRegionCapture(t *testing.T) {
	h := newHarness(t, nil)
	sel := h.backend.selector

	go func() {
		for !sel.Pending() {
			time.Sleep(time.Millisecond)
		}
		_ = sel.Resolve(models.Region{X: 4, Y: 4, Width: 20, Height: 10})
	}()

	res, err := h.c.Capture(context.Background(), models.CategoryDebug, models.ModeRegion)
	require.NoError(t, err)
	require.NotNil(t, res.Item.Region)
	assert.Equal(t, 20, res.Item.Region.Width)
	require.NotNil(t, res.Item.Preview)
	assert.Equal(t, 20, res.Item.Preview.Width)
	assert.Equal(t, 10, res.Item.Preview.Height)
	assert.Equal(t, []models.EventType{
		models.EventCaptureStarted,
		models.EventSelectionStart,
		models.EventCaptureCompleted,
	}, h.eventTypes())
}

func TestCancelDuringSelection(t *testing.T) {
	h := newHarness(t, nil)
	sel := h.backend.selector

	go func() {
		for !sel.Pending() {
			time.Sleep(time.Millisecond)
		}
		h.c.Cancel()
	}()

	_, err := h.c.Capture(context.Background(), models.CategoryProblem, models.ModeRegion)
	assert.ErrorIs(t, err, cancel.ErrCancelled)
	h.c.Wait()

	assertRestored(t, h)
	assert.Empty(t, h.c.Items(models.CategoryProblem))
	assert.False(t, h.c.Cancel(), "nothing left to cancel")
}

func TestCancelBeforeCommitRemovesFile(t *testing.T) {
	h := newHarness(t, nil)
	h.persister.onWrite = func() { h.c.Cancel() }

	_, err := h.c.Capture(context.Background(), models.CategoryProblem, models.ModeFull)
	assert.ErrorIs(t, err, cancel.ErrCancelled)
	h.c.Wait()

	assert.Empty(t, h.c.Items(models.CategoryProblem))
	assert.Equal(t, 1, h.persister.deleteCount())
	assert.Equal(t, 0, h.files(t))
	assertRestored(t, h)
}

func TestRequiredPhaseFailures(t *testing.T) {
	t.Run("backend", func(t *testing.T) {
		h := newHarness(t, nil)
		h.backend.err = errors.New("no display")
		_, err := h.c.Capture(context.Background(), models.CategoryProblem, models.ModeFull)
		assert.ErrorIs(t, err, ErrBackendFailure)
		assert.Contains(t, err.Error(), "no display")
		assert.Empty(t, h.c.Items(models.CategoryProblem))
		assertRestored(t, h)
	})

	t.Run("persist", func(t *testing.T) {
		h := newHarness(t, nil)
		h.persister.writeErr = errors.New("disk full")
		_, err := h.c.Capture(context.Background(), models.CategoryProblem, models.ModeFull)
		assert.ErrorIs(t, err, ErrPersistFailure)
		var ce *CaptureError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, PhasePersisting, ce.Phase)
		assert.False(t, ce.Retryable())
		assert.Empty(t, h.c.Items(models.CategoryProblem))
		assertRestored(t, h)
	})

	t.Run("overlay", func(t *testing.T) {
		h := newHarness(t, nil)
		h.transport.hideErr = errors.New("overlay gone")
		_, err := h.c.Capture(context.Background(), models.CategoryProblem, models.ModeFull)
		assert.ErrorIs(t, err, ErrOverlayFailure)
		assert.Equal(t, int32(0), h.backend.calls.Load())
		assert.Equal(t, int32(0), h.transport.shows.Load(), "nothing to restore")
	})
}

func TestPreviewFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.backend.frame = []byte("\x89PNG\r\n\x1a\nnot really a png")

	res, err := h.c.Capture(context.Background(), models.CategoryDebug, models.ModeFull)
	require.NoError(t, err)
	assert.Nil(t, res.Item.Preview)
	assert.Len(t, h.c.Items(models.CategoryDebug), 1)
}

func TestPreviewDisabledAndOverlayOff(t *testing.T) {
	h := newHarness(t, func(s *Settings) {
		s.PreviewEnabled = false
		s.OverlayAutoHide = false
	})
	res, err := h.c.Capture(context.Background(), models.CategoryProblem, models.ModeFull)
	require.NoError(t, err)
	assert.Nil(t, res.Item.Preview)
	assert.Equal(t, int32(0), h.transport.hides.Load())
	assert.Equal(t, int32(0), h.transport.shows.Load())
}

func TestDeleteAndClear(t *testing.T) {
	h := newHarness(t, nil)
	var ids []string
	for _, cat := range []models.CaptureCategory{models.CategoryProblem, models.CategoryProblem, models.CategoryDebug} {
		res, err := h.c.Capture(context.Background(), cat, models.ModeFull)
		require.NoError(t, err)
		ids = append(ids, res.Item.ID)
	}

	require.NoError(t, h.c.Delete(context.Background(), ids[0]))
	assert.ErrorIs(t, h.c.Delete(context.Background(), ids[0]), ErrItemNotFound)
	_, ok := h.c.Item(ids[0])
	assert.False(t, ok)

	assert.Equal(t, 1, h.c.Clear(context.Background(), models.CategoryProblem))
	assert.Equal(t, 1, h.c.Clear(context.Background(), ""))
	assert.Equal(t, 3, h.persister.deleteCount())
	assert.Equal(t, 0, h.files(t))

	st := h.c.State()
	assert.Equal(t, 0, st.Queued[models.CategoryProblem])
	assert.Equal(t, 0, st.Queued[models.CategoryDebug])
	require.NotNil(t, st.LastEvent)
	assert.Equal(t, models.EventCaptureCompleted, st.LastEvent.Type)
}

func TestSetSettingsShrinksQueue(t *testing.T) {
	h := newHarness(t, nil)
	for i := 0; i < 4; i++ {
		_, err := h.c.Capture(context.Background(), models.CategoryProblem, models.ModeFull)
		require.NoError(t, err)
	}

	s := h.c.Settings()
	s.MaxQueueSize = 2
	h.c.SetSettings(s)

	assert.Len(t, h.c.Items(models.CategoryProblem), 2)
	assert.Equal(t, 2, h.persister.deleteCount())
	assert.Equal(t, 2, h.files(t))
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
	_, err = New(Options{Backend: &fakeBackend{}})
	assert.Error(t, err)
	_, err = New(Options{Backend: &fakeBackend{}, Queue: queue.New(1)})
	assert.Error(t, err)
}
