package tui

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/fentz26/glimpse/internal/controlplane"
	"github.com/fentz26/glimpse/internal/models"
)

// fakeDaemon answers the API calls the TUI makes and records request bodies.
type fakeDaemon struct {
	mu        sync.Mutex
	selection *controlplane.SelectionRequest
	cleared   *controlplane.ClearRequest
	captures  []controlplane.CaptureRequest
	busy      bool
}

func (f *fakeDaemon) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/captures", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if r.Method == http.MethodGet {
			writeTestJSON(w, http.StatusOK, []models.Summary{
				{ID: "cap-1", Category: models.CategoryProblem, Mode: models.ModeFull, Size: 2048, CreatedAt: time.Now()},
				{ID: "cap-2", Category: models.CategoryProblem, Mode: models.ModeRegion, Size: 10, CreatedAt: time.Now()},
			})
			return
		}
		if f.busy {
			writeTestJSON(w, http.StatusConflict, controlplane.ErrorResponse{
				Error: "capture already in progress",
				Kind:  "already_in_progress",
			})
			return
		}
		var req controlplane.CaptureRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.captures = append(f.captures, req)
		writeTestJSON(w, http.StatusCreated, CaptureResult{
			Item: models.Summary{ID: "cap-new-123456", Category: models.CaptureCategory(req.Category), Mode: models.CaptureMode(req.Mode), Size: 4096},
			Pipeline: models.PipelineResult{
				Success: true,
				JobID:   "job-abcdef123",
			},
		})
	})
	mux.HandleFunc("/captures/clear", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var req controlplane.ClearRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.cleared = &req
		writeTestJSON(w, http.StatusOK, map[string]int{"removed": 2})
	})
	mux.HandleFunc("/captures/cancel", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, map[string]bool{"cancelled": false})
	})
	mux.HandleFunc("/selection", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var req controlplane.SelectionRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.selection = &req
		writeTestJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
	})
	mux.HandleFunc("/state", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, controlplane.StateResponse{Backend: "synthetic", Selecting: true})
	})
	return mux
}

func writeTestJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func newTestApp(t *testing.T) (*App, *fakeDaemon) {
	t.Helper()
	f := &fakeDaemon{}
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return New(srv.URL, "ctrl+shift+s"), f
}

func TestSuggestions(t *testing.T) {
	s := NewSuggestions()

	s.Update("c")
	if !s.IsVisible() {
		t.Fatal("expected suggestions for \"c\"")
	}
	var texts []string
	for _, item := range s.filtered {
		texts = append(texts, item.Text)
	}
	if got := strings.Join(texts, ","); got != "capture,cancel,clear" {
		t.Errorf("filtered = %s, want capture,cancel,clear", got)
	}

	s.Prev()
	if sel := s.Selected(); sel == nil || sel.Text != "clear" {
		t.Errorf("Prev should wrap to the last item, got %v", sel)
	}
	s.Next()
	if sel := s.Selected(); sel == nil || sel.Text != "capture" {
		t.Errorf("Next should wrap to the first item, got %v", sel)
	}

	s.Update("capture ")
	if s.IsVisible() {
		t.Error("suggestions should close once the command word is complete")
	}
	s.Update("zz")
	if s.IsVisible() {
		t.Error("no suggestion matches zz")
	}
}

func TestCaptureKeyFlow(t *testing.T) {
	app, daemon := newTestApp(t)

	_, cmd := app.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("s")})
	if cmd == nil {
		t.Fatal("expected a capture command")
	}
	if !app.capturing {
		t.Error("expected capturing to be set")
	}

	// A second capture is refused locally while the first is running.
	if _, second := app.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")}); second != nil {
		t.Error("expected no command for an overlapping capture")
	}

	msg := cmd()
	done, ok := msg.(captureDoneMsg)
	if !ok {
		t.Fatalf("expected captureDoneMsg, got %T", msg)
	}
	if done.err != nil {
		t.Fatalf("capture failed: %v", done.err)
	}
	app.Update(done)

	if app.capturing {
		t.Error("capturing should clear when the capture finishes")
	}
	if !strings.Contains(app.cmdbar.message, "Captured problem cap-new-") || !strings.Contains(app.cmdbar.message, "job job-abcd") {
		t.Errorf("unexpected message %q", app.cmdbar.message)
	}
	daemon.mu.Lock()
	defer daemon.mu.Unlock()
	if len(daemon.captures) != 1 || daemon.captures[0].Mode != "region" || daemon.captures[0].Category != "problem" {
		t.Errorf("daemon saw %+v", daemon.captures)
	}
}

func TestCaptureConflictIsReported(t *testing.T) {
	app, daemon := newTestApp(t)
	daemon.mu.Lock()
	daemon.busy = true
	daemon.mu.Unlock()

	_, cmd := app.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")})
	app.Update(cmd())

	if !strings.Contains(app.cmdbar.message, "already_in_progress") {
		t.Errorf("expected the error kind in %q", app.cmdbar.message)
	}
	if app.capturing {
		t.Error("capturing should clear after a failed capture")
	}
}

func TestCommandBarSelectAndClear(t *testing.T) {
	app, daemon := newTestApp(t)
	ctx := cmdContext{category: "debug"}

	msg := app.cmdbar.Execute(app.client, "select 10 20 300 200", ctx)()
	if res, ok := msg.(cmdResultMsg); !ok || strings.HasPrefix(res.message, "Error") {
		t.Fatalf("select failed: %+v", msg)
	}
	want := models.Region{X: 10, Y: 20, Width: 300, Height: 200}
	daemon.mu.Lock()
	if daemon.selection == nil || daemon.selection.Region != want || daemon.selection.Abort {
		t.Errorf("daemon saw selection %+v, want %+v", daemon.selection, want)
	}
	daemon.mu.Unlock()

	msg = app.cmdbar.Execute(app.client, "select 1 2", ctx)()
	if res := msg.(cmdResultMsg); !strings.HasPrefix(res.message, "Usage") {
		t.Errorf("expected usage, got %q", res.message)
	}

	msg = app.cmdbar.Execute(app.client, "clear all", ctx)()
	res := msg.(cmdResultMsg)
	if !res.refresh || !strings.Contains(res.message, "Removed 2") {
		t.Errorf("unexpected clear result %+v", res)
	}
	daemon.mu.Lock()
	if daemon.cleared == nil || daemon.cleared.Category != "" {
		t.Errorf("clear all should send an empty category, got %+v", daemon.cleared)
	}
	daemon.mu.Unlock()

	msg = app.cmdbar.Execute(app.client, "cancel", ctx)()
	if res := msg.(cmdResultMsg); res.message != "No capture in progress" {
		t.Errorf("unexpected cancel result %q", res.message)
	}

	msg = app.cmdbar.Execute(app.client, "capture sideways", ctx)()
	if done, ok := msg.(captureDoneMsg); !ok || done.err == nil {
		t.Errorf("expected a capture argument error, got %+v", msg)
	}
}

func TestCommandBarFocusAndSubmit(t *testing.T) {
	app, _ := newTestApp(t)

	app.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(":")})
	if !app.cmdbar.Focused() {
		t.Fatal("expected : to focus the command bar")
	}

	for _, r := range "jobs failed" {
		app.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	_, cmd := app.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if app.cmdbar.Focused() {
		t.Error("enter should blur the command bar")
	}
	if cmd == nil {
		t.Fatal("expected a command from enter")
	}
	msg, ok := cmd().(showJobsMsg)
	if !ok || msg.status != "failed" {
		t.Fatalf("expected showJobsMsg{failed}, got %+v", msg)
	}
	app.Update(msg)
	if app.view != viewJobs || app.jobFilter != "failed" {
		t.Errorf("view = %v filter = %q", app.view, app.jobFilter)
	}

	app.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if app.view != viewCaptures {
		t.Error("esc should return to the capture list")
	}
}

func TestCaptureListNewestFirst(t *testing.T) {
	app, _ := newTestApp(t)

	msg := app.captures.Refresh()()
	app.Update(msg)

	if app.captures.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", app.captures.Len())
	}
	if sel := app.captures.SelectedCapture(); sel == nil || sel.ID != "cap-2" {
		t.Errorf("selected = %+v, want the newest capture", sel)
	}

	app.captures.CycleCategory()
	if app.captures.Category() != "debug" {
		t.Errorf("Category() = %q, want debug", app.captures.Category())
	}
	// A late response for the old category is ignored.
	app.Update(msg)
	if app.captures.Len() != 0 {
		t.Errorf("stale problem list leaked into the debug queue: Len() = %d", app.captures.Len())
	}
}

func TestStateHeader(t *testing.T) {
	app, _ := newTestApp(t)
	app.Update(app.fetchState()())

	if !app.daemonOnline {
		t.Error("a state response means the daemon is online")
	}
	if header := app.renderHeader(); !strings.Contains(header, "awaiting region") {
		t.Errorf("header should show the pending selection: %q", header)
	}
}
