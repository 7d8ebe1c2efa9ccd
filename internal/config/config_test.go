package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/fentz26/glimpse/internal/capturefs"
	"github.com/fentz26/glimpse/internal/models"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		t.Fatalf("Default config is invalid: %v", ValidationErrors(errs))
	}

	if cfg.Capture.Format != "png" {
		t.Errorf("Capture.Format = %q, want %q", cfg.Capture.Format, "png")
	}
	if cfg.Capture.MaxQueueSize != 5 {
		t.Errorf("Capture.MaxQueueSize = %d, want 5", cfg.Capture.MaxQueueSize)
	}
	if !cfg.Overlay.AutoHide {
		t.Error("Overlay.AutoHide should be true by default")
	}
	if cfg.Backend.Kind != "synthetic" {
		t.Errorf("Backend.Kind = %q, want synthetic", cfg.Backend.Kind)
	}
	if len(cfg.Pipeline.Templates) != 2 {
		t.Errorf("Expected templates for both categories, got %d", len(cfg.Pipeline.Templates))
	}
}

func TestLoadDefaultsMatchDefault(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if diff := cmp.Diff(Default(), cfg, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("Load() with only defaults differs from Default() (-want +got):\n%s", diff)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	content := `
capture:
  format: jpeg
  quality: 70
  max_queue_size: 3
  default_mode: region
timeouts:
  capture_ms: 2500
pipeline:
  templates:
    problem:
      title: Triage
      tags: [bug]
logging:
  level: debug
`
	if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	v := NewViper(file)
	if err := Read(v); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Capture.Format != "jpeg" || cfg.Capture.Quality != 70 {
		t.Errorf("Capture = %+v, want jpeg/70", cfg.Capture)
	}
	if cfg.Capture.SettleDelayMs != 150 {
		t.Errorf("Unset keys should keep defaults, SettleDelayMs = %d", cfg.Capture.SettleDelayMs)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if got := cfg.DefaultMode(); got != models.ModeRegion {
		t.Errorf("DefaultMode() = %q, want region", got)
	}

	settings := cfg.CoordinatorSettings()
	if settings.CaptureTimeout != 2500*time.Millisecond {
		t.Errorf("CaptureTimeout = %v, want 2.5s", settings.CaptureTimeout)
	}
	if settings.MaxQueueSize != 3 {
		t.Errorf("MaxQueueSize = %d, want 3", settings.MaxQueueSize)
	}

	ps := cfg.PipelineSettings()
	if got := ps.Templates[models.CategoryProblem]; got.Title != "Triage" || len(got.Tags) != 1 {
		t.Errorf("Problem template = %+v, want the configured one", got)
	}
	if got := ps.Templates[models.CategoryDebug]; got.Title == "" {
		t.Error("Debug template should keep its default")
	}

	if opts := cfg.DiskOptions(); opts.Format != capturefs.FormatJPEG || opts.Quality != 70 {
		t.Errorf("DiskOptions = %+v", opts)
	}
}

func TestReadMissingFileIsNotAnError(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	v := NewViper("")
	if err := Read(v); err != nil {
		t.Errorf("Read() with no config file = %v, want nil", err)
	}
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("GLIMPSE_CAPTURE_FORMAT", "jpg")
	t.Setenv("GLIMPSE_SERVER_LISTEN", "127.0.0.1:9999")

	v := NewViper(filepath.Join(t.TempDir(), "absent.yaml"))
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Capture.Format != "jpg" {
		t.Errorf("Capture.Format = %q, want jpg", cfg.Capture.Format)
	}
	if cfg.Server.Listen != "127.0.0.1:9999" {
		t.Errorf("Server.Listen = %q", cfg.Server.Listen)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad format", func(c *Config) { c.Capture.Format = "gif" }, "capture.format"},
		{"quality too high", func(c *Config) { c.Capture.Quality = 101 }, "capture.quality"},
		{"bad mode", func(c *Config) { c.Capture.DefaultMode = "area" }, "capture.default_mode"},
		{"empty queue", func(c *Config) { c.Capture.MaxQueueSize = 0 }, "capture.max_queue_size"},
		{"zero capture timeout", func(c *Config) { c.Timeouts.CaptureMs = 0 }, "timeouts.capture_ms"},
		{"zero overlay timeout", func(c *Config) { c.Timeouts.OverlayMs = 0 }, "timeouts.overlay_ms"},
		{"negative overlay timeout", func(c *Config) { c.Timeouts.OverlayMs = -1 }, "timeouts.overlay_ms"},
		{"zero preview width", func(c *Config) { c.Preview.MaxWidth = 0 }, "preview.max_width"},
		{"unknown template", func(c *Config) {
			c.Pipeline.Templates["feature"] = TemplateConfig{Title: "x"}
		}, "pipeline.templates.feature"},
		{"unknown backend", func(c *Config) { c.Backend.Kind = "x11" }, "backend.kind"},
		{"exec without command", func(c *Config) { c.Backend.Kind = "exec" }, "backend.exec.full"},
		{"exec disallowed", func(c *Config) {
			c.Backend.Kind = "exec"
			c.Backend.Exec.Full = []string{"rm", "-rf"}
		}, "backend.exec.full"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			errs := cfg.Validate()
			found := false
			for _, e := range errs {
				if e.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("Validate() = %v, want an error for %s", errs, tt.field)
			}
		})
	}

	t.Run("disabled preview skips checks", func(t *testing.T) {
		cfg := Default()
		cfg.Preview.Enabled = false
		cfg.Preview.MaxWidth = 0
		if errs := cfg.Validate(); len(errs) != 0 {
			t.Errorf("Validate() = %v, want none", errs)
		}
	})

	t.Run("exec allowed", func(t *testing.T) {
		cfg := Default()
		cfg.Backend.Kind = "exec"
		cfg.Backend.Exec.Full = []string{"grim", "-"}
		if errs := cfg.Validate(); len(errs) != 0 {
			t.Errorf("Validate() = %v, want none", errs)
		}
	})
}

func TestValidationErrorsMessage(t *testing.T) {
	errs := ValidationErrors{
		{Field: "a", Value: 1, Message: "bad"},
		{Field: "b", Value: 2, Message: "worse"},
	}
	msg := errs.Error()
	if !strings.Contains(msg, "2 validation errors") || !strings.Contains(msg, "b: worse") {
		t.Errorf("Unexpected message: %q", msg)
	}

	v := viper.New()
	SetDefaults(v)
	v.Set("capture.quality", 0)
	_, err := Load(v)
	var verrs ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) != 1 {
		t.Errorf("Load() error = %v, want one ValidationError", err)
	}
}

func TestRenderLoadsBack(t *testing.T) {
	cfg := Default()
	cfg.Capture.Format = "jpeg"
	cfg.Processing.Workers = 4

	out, err := Render(cfg)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !strings.Contains(string(out), "settle_delay_ms: 150") {
		t.Errorf("Rendered config should use snake_case keys:\n%s", out)
	}

	file := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(file, out, 0o644); err != nil {
		t.Fatal(err)
	}
	v := NewViper(file)
	if err := Read(v); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	got, err := Load(v)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if diff := cmp.Diff(cfg, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("Rendered config does not load back (-want +got):\n%s", diff)
	}
}

func TestHandleChange(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.yaml")
	write := func(content string) {
		t.Helper()
		if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("capture:\n  max_queue_size: 4\n")

	v := NewViper(file)
	if err := Read(v); err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	var applied []*Config
	apply := func(c *Config) { applied = append(applied, c) }

	write("capture:\n  max_queue_size: 2\n")
	if err := v.ReadInConfig(); err != nil {
		t.Fatal(err)
	}
	handleChange(v, zap.NewNop(), fsnotify.Event{Name: file, Op: fsnotify.Write}, apply)
	if len(applied) != 1 || applied[0].Capture.MaxQueueSize != 2 {
		t.Fatalf("Expected the new queue size to be applied, got %v", applied)
	}

	write("capture:\n  max_queue_size: 0\n")
	if err := v.ReadInConfig(); err != nil {
		t.Fatal(err)
	}
	handleChange(v, zap.NewNop(), fsnotify.Event{Name: file, Op: fsnotify.Write}, apply)
	if len(applied) != 1 {
		t.Error("Invalid config must not be applied")
	}

	handleChange(v, zap.NewNop(), fsnotify.Event{Name: file, Op: fsnotify.Chmod}, apply)
	if len(applied) != 1 {
		t.Error("Chmod events must be ignored")
	}
}
