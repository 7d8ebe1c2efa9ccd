// Package pipeline hands finished captures to the downstream job store:
// resolve a session, create a job from the category template, attach the
// capture as an artifact, and optionally queue the job for processing.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fentz26/glimpse/internal/audit"
	"github.com/fentz26/glimpse/internal/cancel"
	"github.com/fentz26/glimpse/internal/models"
)

// DefaultSessionID is used when no session can be reused or created.
const DefaultSessionID = "default"

// Error codes reported in PipelineResult.Error.
const (
	ErrJobCreationFailed    = "JobCreationFailed"
	ErrArtifactAttachFailed = "ArtifactAttachFailed"
	ErrHandoffCancelled     = "HandoffCancelled"
	ErrPipelineDisabled     = "PipelineDisabled"
)

// Store is the downstream job/session/artifact capability.
type Store interface {
	CreateSession(ctx context.Context, name, description string) (string, error)
	CreateJob(ctx context.Context, payload models.JobPayload) (*models.Job, error)
	ResolveJob(ctx context.Context, jobID string) (models.JobRef, error)
	AttachArtifact(ctx context.Context, ref models.JobRef, data []byte, meta models.ArtifactMetadata) (*models.Artifact, error)
	StartProcessing(ctx context.Context, jobID string) error
}

// Auditor records handoff outcomes.
type Auditor interface {
	Note(ctx context.Context, action string, inputs interface{}, outcome, captureID, details string)
}

// Template shapes the job created for a category.
type Template struct {
	Title       string
	Description string
	Tags        []string
	Provider    string
	Model       string
}

// Settings are the reloadable knobs of the orchestrator.
type Settings struct {
	Enabled           bool
	AutoCreateSession bool
	SessionTimeout    time.Duration
	AutoProcess       bool
	ProcessTimeout    time.Duration
	Templates         map[models.CaptureCategory]Template
}

// Orchestrator runs the handoff steps. Each step is attempted once; a
// failure is reported in the result and later steps are skipped.
type Orchestrator struct {
	store   Store
	auditor Auditor
	logger  *zap.Logger
	clock   func() time.Time

	mu       sync.Mutex
	settings Settings
	sessions map[string]*models.Session

	inflight sync.WaitGroup
}

// Options configure an Orchestrator.
type Options struct {
	Store    Store
	Auditor  Auditor
	Logger   *zap.Logger
	Clock    func() time.Time
	Settings Settings
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Orchestrator{
		store:    opts.Store,
		auditor:  opts.Auditor,
		logger:   logger.Named("pipeline"),
		clock:    clock,
		settings: opts.Settings,
		sessions: make(map[string]*models.Session),
	}
}

// SetSettings replaces the settings used by subsequent handoffs.
func (o *Orchestrator) SetSettings(s Settings) {
	o.mu.Lock()
	o.settings = s
	o.mu.Unlock()
}

// Settings returns the current settings.
func (o *Orchestrator) Settings() Settings {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.settings
}

// Sessions returns the tracked sessions, most recently active first.
func (o *Orchestrator) Sessions() []models.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]models.Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out
}

// Handoff delivers item downstream. It never returns an error; failures are
// described by the result.
func (o *Orchestrator) Handoff(ctx context.Context, item *models.CaptureItem, tok *cancel.Token) models.PipelineResult {
	start := o.clock()
	settings := o.Settings()
	log := o.logger.With(zap.String("capture_id", item.ID), zap.String("category", string(item.Category)))

	finish := func(r models.PipelineResult) models.PipelineResult {
		r.Elapsed = o.clock().Sub(start)
		outcome := audit.OutcomeSuccess
		if !r.Success {
			outcome = audit.OutcomeFailure
		}
		if o.auditor != nil {
			o.auditor.Note(context.WithoutCancel(ctx), audit.ActionPipelineHandoff,
				map[string]string{"capture_id": item.ID, "job_id": r.JobID},
				outcome, item.ID, r.Error)
		}
		return r
	}

	if !settings.Enabled || o.store == nil {
		return finish(models.PipelineResult{Error: ErrPipelineDisabled})
	}

	if tok != nil {
		if tok.IsCancelled() {
			return finish(models.PipelineResult{Error: ErrHandoffCancelled})
		}
		var release context.CancelFunc
		ctx, release = tok.Context(ctx)
		defer release()
	}

	sessionID := o.resolveSession(ctx, item, settings, log)
	result := models.PipelineResult{SessionID: sessionID}

	payload, err := o.buildPayload(item, sessionID, settings)
	if err != nil {
		log.Warn("build job payload failed", zap.Error(err))
		result.Error = ErrJobCreationFailed
		return finish(result)
	}
	job, err := o.store.CreateJob(ctx, payload)
	if err != nil {
		log.Warn("create job failed", zap.String("session_id", sessionID), zap.Error(err))
		result.Error = ErrJobCreationFailed
		if tok != nil && tok.IsCancelled() {
			result.Error = ErrHandoffCancelled
		}
		return finish(result)
	}
	result.JobID = job.ID
	log = log.With(zap.String("job_id", job.ID))

	ref, err := o.store.ResolveJob(ctx, job.ID)
	var art *models.Artifact
	if err == nil {
		art, err = o.store.AttachArtifact(ctx, ref, item.Data, artifactMetadata(item))
	}
	if err != nil {
		log.Warn("attach artifact failed", zap.Error(err))
		result.Error = ErrArtifactAttachFailed
		return finish(result)
	}
	result.ArtifactID = art.ID
	item.SetArtifactID(art.ID)
	result.Success = true

	if settings.AutoProcess {
		o.startProcessing(job.ID, settings.ProcessTimeout, log)
	}

	log.Info("capture handed off",
		zap.String("session_id", sessionID),
		zap.String("artifact_id", art.ID),
		zap.Duration("elapsed", o.clock().Sub(start)))
	return finish(result)
}

// Wait blocks until every processing kick-off has returned.
func (o *Orchestrator) Wait() {
	o.inflight.Wait()
}

func (o *Orchestrator) startProcessing(jobID string, timeout time.Duration, log *zap.Logger) {
	o.inflight.Add(1)
	go func() {
		defer o.inflight.Done()
		ctx := context.Background()
		if timeout > 0 {
			var stop context.CancelFunc
			ctx, stop = context.WithTimeout(ctx, timeout)
			defer stop()
		}
		if err := o.store.StartProcessing(ctx, jobID); err != nil {
			log.Warn("start processing failed", zap.Error(err))
			return
		}
		log.Debug("processing started")
	}()
}

// resolveSession sweeps expired sessions, then reuses the freshest live one,
// then tries to create one, then falls back to DefaultSessionID. A new
// session is named after the capture that opened it.
func (o *Orchestrator) resolveSession(ctx context.Context, item *models.CaptureItem, settings Settings, log *zap.Logger) string {
	now := o.clock()

	o.mu.Lock()
	var best *models.Session
	for id, s := range o.sessions {
		if now.Sub(s.LastActivity) >= settings.SessionTimeout {
			delete(o.sessions, id)
			continue
		}
		if best == nil || s.LastActivity.After(best.LastActivity) {
			best = s
		}
	}
	if best != nil {
		best.LastActivity = now
		id := best.ID
		o.mu.Unlock()
		return id
	}
	o.mu.Unlock()

	if !settings.AutoCreateSession {
		return DefaultSessionID
	}
	name, description := sessionLabel(item, templateFor(item.Category, settings))
	id, err := o.store.CreateSession(ctx, name, description)
	if err != nil || id == "" {
		log.Warn("create session failed, using default", zap.Error(err))
		return DefaultSessionID
	}

	o.mu.Lock()
	o.sessions[id] = &models.Session{ID: id, Name: name, Description: description, LastActivity: now}
	o.mu.Unlock()
	log.Debug("session created", zap.String("session_id", id), zap.String("name", name))
	return id
}

// sessionLabel names a session after the category title and capture time.
func sessionLabel(item *models.CaptureItem, tmpl Template) (string, string) {
	title := tmpl.Title
	if title == "" {
		title = string(item.Category) + " capture"
	}
	at := item.CreatedAt.UTC()
	name := fmt.Sprintf("%s %s", title, at.Format("2006-01-02 15:04"))
	description := fmt.Sprintf("Opened by %s %s capture %s at %s",
		item.Category, item.Mode, item.ID, at.Format(time.RFC3339))
	return name, description
}

func templateFor(category models.CaptureCategory, settings Settings) Template {
	if tmpl, ok := settings.Templates[category]; ok {
		return tmpl
	}
	return DefaultTemplates()[category]
}

type jobRequest struct {
	CaptureID  string                   `json:"capture_id"`
	Category   models.CaptureCategory   `json:"category"`
	Mode       models.CaptureMode       `json:"mode"`
	CapturedAt time.Time                `json:"captured_at"`
	Size       int                      `json:"size"`
	MimeType   string                   `json:"mime_type"`
	Region     *models.Region           `json:"region,omitempty"`
	Window     *models.WindowDescriptor `json:"window,omitempty"`
}

func (o *Orchestrator) buildPayload(item *models.CaptureItem, sessionID string, settings Settings) (models.JobPayload, error) {
	tmpl := templateFor(item.Category, settings)
	body, err := json.Marshal(jobRequest{
		CaptureID:  item.ID,
		Category:   item.Category,
		Mode:       item.Mode,
		CapturedAt: item.CreatedAt.UTC(),
		Size:       item.Size,
		MimeType:   item.MimeType,
		Region:     item.Region,
		Window:     item.Window,
	})
	if err != nil {
		return models.JobPayload{}, err
	}
	return models.JobPayload{
		SessionID:   sessionID,
		Title:       tmpl.Title,
		Description: tmpl.Description,
		Tags:        append([]string(nil), tmpl.Tags...),
		Provider:    tmpl.Provider,
		Model:       tmpl.Model,
		RequestJSON: body,
	}, nil
}

func artifactMetadata(item *models.CaptureItem) models.ArtifactMetadata {
	return models.ArtifactMetadata{
		CaptureID:  item.ID,
		Category:   item.Category,
		Mode:       item.Mode,
		MimeType:   item.MimeType,
		FileName:   filepath.Base(item.Path),
		CapturedAt: item.CreatedAt.UTC(),
		Region:     item.Region,
		Window:     item.Window,
	}
}

// DefaultTemplates returns the built-in job templates.
func DefaultTemplates() map[models.CaptureCategory]Template {
	return map[models.CaptureCategory]Template{
		models.CategoryProblem: {
			Title:       "Problem capture",
			Description: "Analyze the captured screen and describe the problem it shows.",
			Tags:        []string{"capture", "problem"},
		},
		models.CategoryDebug: {
			Title:       "Debug capture",
			Description: "Inspect the captured screen for errors, stack traces and failing output.",
			Tags:        []string{"capture", "debug"},
		},
	}
}
