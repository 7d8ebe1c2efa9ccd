// Package audit provides PDR (Process Decision Record) writing for captures.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/fentz26/glimpse/internal/models"
)

// Actions recorded by the capture pipeline.
const (
	ActionCaptureComplete = "capture.complete"
	ActionCaptureFailed   = "capture.failed"
	ActionCaptureEvict    = "capture.evict"
	ActionCaptureDelete   = "capture.delete"
	ActionPipelineHandoff = "pipeline.handoff"
	ActionJobDispatch     = "job.dispatch"
	ActionJobProcess      = "job.process"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Store is the persistence needed by PDRWriter.
type Store interface {
	WritePDR(ctx context.Context, action, inputsHash, outcome, captureID, details string) (*models.PDREntry, error)
}

// PDRWriter writes Process Decision Records for audit trails.
type PDRWriter struct {
	store  Store
	logger *zap.Logger
}

// NewPDRWriter creates a new PDR writer.
func NewPDRWriter(s Store, logger *zap.Logger) *PDRWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PDRWriter{store: s, logger: logger}
}

// Record writes a PDR entry for a state-mutating action.
func (w *PDRWriter) Record(ctx context.Context, action string, inputs interface{}, outcome, captureID, details string) (*models.PDREntry, error) {
	inputsHash := hashInputs(inputs)
	return w.store.WritePDR(ctx, action, inputsHash, outcome, captureID, details)
}

// Note records an entry and logs instead of returning a failure. The
// capture path uses it so auditing never fails a capture.
func (w *PDRWriter) Note(ctx context.Context, action string, inputs interface{}, outcome, captureID, details string) {
	if w == nil {
		return
	}
	if _, err := w.Record(ctx, action, inputs, outcome, captureID, details); err != nil {
		w.logger.Warn("audit record failed",
			zap.String("action", action),
			zap.String("capture_id", captureID),
			zap.Error(err))
	}
}

// hashInputs creates a SHA256 hash of the inputs for reproducibility.
func hashInputs(inputs interface{}) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
