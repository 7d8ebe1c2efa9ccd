// Package models defines the core domain types for glimpse.
package models

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// CaptureCategory partitions capture queues and selects the job template.
type CaptureCategory string

const (
	CategoryProblem CaptureCategory = "problem"
	CategoryDebug   CaptureCategory = "debug"
)

// Categories lists every known category in display order.
var Categories = []CaptureCategory{CategoryProblem, CategoryDebug}

// ParseCategory converts user input into a CaptureCategory.
func ParseCategory(s string) (CaptureCategory, error) {
	switch CaptureCategory(strings.ToLower(strings.TrimSpace(s))) {
	case CategoryProblem:
		return CategoryProblem, nil
	case CategoryDebug:
		return CategoryDebug, nil
	}
	return "", fmt.Errorf("unknown capture category %q", s)
}

// CaptureMode selects the backend call and the timeout weight of a capture.
type CaptureMode string

const (
	ModeFull   CaptureMode = "full"
	ModeWindow CaptureMode = "window"
	ModeRegion CaptureMode = "region"
)

// ParseMode converts user input into a CaptureMode.
func ParseMode(s string) (CaptureMode, error) {
	switch CaptureMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeFull:
		return ModeFull, nil
	case ModeWindow:
		return ModeWindow, nil
	case ModeRegion:
		return ModeRegion, nil
	}
	return "", fmt.Errorf("unknown capture mode %q", s)
}

// OperationCount is the number of interactive phases a mode contributes to
// its composite timeout.
func (m CaptureMode) OperationCount() int {
	if m == ModeRegion {
		return 3
	}
	return 1
}

// Region is a rectangle in screen coordinates.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Empty reports whether the region has no area.
func (r Region) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// WindowDescriptor identifies the window captured in window mode.
type WindowDescriptor struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Bounds    Region `json:"bounds"`
	OwnerName string `json:"owner_name,omitempty"`
}

// Preview is a derived thumbnail of a capture.
type Preview struct {
	Data        []byte    `json:"-"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	Size        int       `json:"size"`
	GeneratedAt time.Time `json:"generated_at"`
}

// CaptureItem is one queued capture. Everything except the artifact id is
// fixed at construction.
type CaptureItem struct {
	ID        string            `json:"id"`
	Category  CaptureCategory   `json:"category"`
	Mode      CaptureMode       `json:"mode"`
	Data      []byte            `json:"-"`
	Size      int               `json:"size"`
	CreatedAt time.Time         `json:"created_at"`
	Path      string            `json:"path"`
	MimeType  string            `json:"mime_type"`
	Region    *Region           `json:"region,omitempty"`
	Window    *WindowDescriptor `json:"window,omitempty"`
	Preview   *Preview          `json:"preview,omitempty"`

	artifactMu sync.Mutex
	artifactID string
}

// ArtifactID returns the downstream artifact id, or "" before handoff.
func (i *CaptureItem) ArtifactID() string {
	i.artifactMu.Lock()
	defer i.artifactMu.Unlock()
	return i.artifactID
}

// SetArtifactID records the downstream artifact id. Only the first call
// wins; later calls return false.
func (i *CaptureItem) SetArtifactID(id string) bool {
	i.artifactMu.Lock()
	defer i.artifactMu.Unlock()
	if i.artifactID != "" || id == "" {
		return false
	}
	i.artifactID = id
	return true
}

// Summary is the JSON view of a capture item used by the API.
type Summary struct {
	ID         string            `json:"id"`
	Category   CaptureCategory   `json:"category"`
	Mode       CaptureMode       `json:"mode"`
	Size       int               `json:"size"`
	CreatedAt  time.Time         `json:"created_at"`
	Path       string            `json:"path"`
	MimeType   string            `json:"mime_type"`
	Region     *Region           `json:"region,omitempty"`
	Window     *WindowDescriptor `json:"window,omitempty"`
	Preview    *Preview          `json:"preview,omitempty"`
	ArtifactID string            `json:"artifact_id,omitempty"`
}

// Summarize returns the API view of the item.
func (i *CaptureItem) Summarize() Summary {
	return Summary{
		ID:         i.ID,
		Category:   i.Category,
		Mode:       i.Mode,
		Size:       i.Size,
		CreatedAt:  i.CreatedAt,
		Path:       i.Path,
		MimeType:   i.MimeType,
		Region:     i.Region,
		Window:     i.Window,
		Preview:    i.Preview,
		ArtifactID: i.ArtifactID(),
	}
}

// PipelineResult reports the outcome of handing a capture to the job
// pipeline. It is built once per capture and never modified afterwards.
type PipelineResult struct {
	Success    bool          `json:"success"`
	JobID      string        `json:"job_id,omitempty"`
	ArtifactID string        `json:"artifact_id,omitempty"`
	SessionID  string        `json:"session_id,omitempty"`
	Error      string        `json:"error,omitempty"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Session is a locally tracked downstream session.
type Session struct {
	ID           string    `json:"id"`
	Name         string    `json:"name,omitempty"`
	Description  string    `json:"description,omitempty"`
	LastActivity time.Time `json:"last_activity"`
}

// JobStatus represents the current state of a pipeline job.
type JobStatus string

const (
	JobStatusCreated    JobStatus = "created"
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// JobPayload is the request submitted to create an analysis job.
type JobPayload struct {
	SessionID   string   `json:"session_id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Provider    string   `json:"provider,omitempty"`
	Model       string   `json:"model,omitempty"`
	RequestJSON []byte   `json:"request"`
}

// JobRef is the store's internal handle for a job, resolved from its
// public id before artifacts can be attached.
type JobRef int64

// Job is a persisted analysis job.
type Job struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Tags        []string  `json:"tags"`
	Provider    string    `json:"provider,omitempty"`
	Model       string    `json:"model,omitempty"`
	Status      JobStatus `json:"status"`
	Request     string    `json:"request"`
	Result      string    `json:"result,omitempty"`
	ClaimedBy   string    `json:"claimed_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ArtifactMetadata describes capture bytes attached to a job.
type ArtifactMetadata struct {
	CaptureID  string            `json:"capture_id"`
	Category   CaptureCategory   `json:"category"`
	Mode       CaptureMode       `json:"mode"`
	MimeType   string            `json:"mime_type"`
	FileName   string            `json:"file_name"`
	CapturedAt time.Time         `json:"captured_at"`
	Region     *Region           `json:"region,omitempty"`
	Window     *WindowDescriptor `json:"window,omitempty"`
}

// Artifact is a blob attached to a job.
type Artifact struct {
	ID        string           `json:"id"`
	JobID     string           `json:"job_id"`
	Size      int              `json:"size"`
	Metadata  ArtifactMetadata `json:"metadata"`
	CreatedAt time.Time        `json:"created_at"`
}

// PDREntry represents a Process Decision Record for audit.
type PDREntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	CaptureID  string    `json:"capture_id,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
