package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/fentz26/glimpse/internal/backend"
	"github.com/fentz26/glimpse/internal/capturefs"
	"github.com/fentz26/glimpse/internal/models"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "capture.quality")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidLogFormats returns the list of valid log encodings
func ValidLogFormats() []string {
	return []string{"console", "json"}
}

// ValidBackends returns the list of capture backend kinds
func ValidBackends() []string {
	return []string{"synthetic", "exec"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	errs = append(errs, c.validateCapture()...)
	errs = append(errs, c.validateTimeouts()...)
	errs = append(errs, c.validatePreview()...)
	errs = append(errs, c.validatePipeline()...)
	errs = append(errs, c.validateBackend()...)
	errs = append(errs, c.validateProcessing()...)
	errs = append(errs, c.validateLogging()...)
	if c.Store.Path == "" {
		errs = append(errs, ValidationError{"store.path", c.Store.Path, "must not be empty"})
	}
	if c.Server.Listen == "" {
		errs = append(errs, ValidationError{"server.listen", c.Server.Listen, "must not be empty"})
	}
	return errs
}

func (c *Config) validateCapture() []ValidationError {
	var errs []ValidationError
	if c.Capture.SaveDir == "" {
		errs = append(errs, ValidationError{"capture.save_dir", c.Capture.SaveDir, "must not be empty"})
	}
	if _, err := capturefs.ParseFormat(c.Capture.Format); err != nil {
		errs = append(errs, ValidationError{"capture.format", c.Capture.Format, "must be png or jpeg"})
	}
	if c.Capture.Quality < 1 || c.Capture.Quality > 100 {
		errs = append(errs, ValidationError{"capture.quality", c.Capture.Quality, "must be between 1 and 100"})
	}
	if _, err := models.ParseMode(c.Capture.DefaultMode); err != nil {
		errs = append(errs, ValidationError{"capture.default_mode", c.Capture.DefaultMode, "must be full, window or region"})
	}
	if c.Capture.SettleDelayMs < 0 {
		errs = append(errs, ValidationError{"capture.settle_delay_ms", c.Capture.SettleDelayMs, "must not be negative"})
	}
	if c.Capture.MaxQueueSize < 1 {
		errs = append(errs, ValidationError{"capture.max_queue_size", c.Capture.MaxQueueSize, "must be at least 1"})
	}
	return errs
}

func (c *Config) validateTimeouts() []ValidationError {
	var errs []ValidationError
	positive := map[string]int{
		"timeouts.capture_ms":          c.Timeouts.CaptureMs,
		"timeouts.region_selection_ms": c.Timeouts.RegionSelectionMs,
		"timeouts.pipeline_ms":         c.Timeouts.PipelineMs,
	}
	for _, field := range []string{"timeouts.capture_ms", "timeouts.region_selection_ms", "timeouts.pipeline_ms"} {
		if positive[field] <= 0 {
			errs = append(errs, ValidationError{field, positive[field], "must be positive"})
		}
	}
	if c.Timeouts.OverlayMs <= 0 {
		errs = append(errs, ValidationError{"timeouts.overlay_ms", c.Timeouts.OverlayMs, "must be positive"})
	}
	return errs
}

func (c *Config) validatePreview() []ValidationError {
	var errs []ValidationError
	if !c.Preview.Enabled {
		return nil
	}
	if c.Preview.MaxWidth < 1 {
		errs = append(errs, ValidationError{"preview.max_width", c.Preview.MaxWidth, "must be at least 1"})
	}
	if c.Preview.MaxHeight < 1 {
		errs = append(errs, ValidationError{"preview.max_height", c.Preview.MaxHeight, "must be at least 1"})
	}
	if c.Preview.TTLMs < 0 {
		errs = append(errs, ValidationError{"preview.ttl_ms", c.Preview.TTLMs, "must not be negative"})
	}
	if c.Preview.MaxEntries < 1 {
		errs = append(errs, ValidationError{"preview.max_entries", c.Preview.MaxEntries, "must be at least 1"})
	}
	return errs
}

func (c *Config) validatePipeline() []ValidationError {
	var errs []ValidationError
	if c.Pipeline.SessionTimeoutMs <= 0 {
		errs = append(errs, ValidationError{"pipeline.session_timeout_ms", c.Pipeline.SessionTimeoutMs, "must be positive"})
	}
	if c.Pipeline.ProcessTimeoutMs < 0 {
		errs = append(errs, ValidationError{"pipeline.process_timeout_ms", c.Pipeline.ProcessTimeoutMs, "must not be negative"})
	}
	for name := range c.Pipeline.Templates {
		if _, err := models.ParseCategory(name); err != nil {
			errs = append(errs, ValidationError{"pipeline.templates." + name, name, "is not a capture category"})
		}
	}
	return errs
}

func (c *Config) validateBackend() []ValidationError {
	var errs []ValidationError
	if !slices.Contains(ValidBackends(), c.Backend.Kind) {
		errs = append(errs, ValidationError{"backend.kind", c.Backend.Kind, "must be synthetic or exec"})
		return errs
	}
	if c.Backend.Kind == "synthetic" {
		if c.Backend.Width < 1 || c.Backend.Height < 1 {
			errs = append(errs, ValidationError{"backend.width", fmt.Sprintf("%dx%d", c.Backend.Width, c.Backend.Height), "synthetic frames need a positive size"})
		}
		return errs
	}
	if len(c.Backend.Exec.Full) == 0 {
		errs = append(errs, ValidationError{"backend.exec.full", c.Backend.Exec.Full, "required for the exec backend"})
	} else if !backend.IsAllowed(c.Backend.Exec.Full) {
		errs = append(errs, ValidationError{"backend.exec.full", c.Backend.Exec.Full, "command is not allowed"})
	}
	if len(c.Backend.Exec.Window) > 0 && !backend.IsAllowed(c.Backend.Exec.Window) {
		errs = append(errs, ValidationError{"backend.exec.window", c.Backend.Exec.Window, "command is not allowed"})
	}
	return errs
}

func (c *Config) validateProcessing() []ValidationError {
	var errs []ValidationError
	if c.Processing.Workers < 0 {
		errs = append(errs, ValidationError{"processing.workers", c.Processing.Workers, "must not be negative"})
	}
	if c.Processing.Workers > 0 && c.Processing.PollIntervalMs <= 0 {
		errs = append(errs, ValidationError{"processing.poll_interval_ms", c.Processing.PollIntervalMs, "must be positive"})
	}
	return errs
}

func (c *Config) validateLogging() []ValidationError {
	var errs []ValidationError
	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errs = append(errs, ValidationError{"logging.level", c.Logging.Level, "must be one of " + strings.Join(ValidLogLevels(), ", ")})
	}
	if !slices.Contains(ValidLogFormats(), strings.ToLower(c.Logging.Format)) {
		errs = append(errs, ValidationError{"logging.format", c.Logging.Format, "must be console or json"})
	}
	return errs
}
