package config

import (
	"time"

	"github.com/fentz26/glimpse/internal/capturefs"
	"github.com/fentz26/glimpse/internal/coordinator"
	"github.com/fentz26/glimpse/internal/models"
	"github.com/fentz26/glimpse/internal/pipeline"
	"github.com/fentz26/glimpse/internal/preview"
	"github.com/fentz26/glimpse/internal/scheduler"
)

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// CoordinatorSettings returns the per-capture settings snapshot.
func (c *Config) CoordinatorSettings() coordinator.Settings {
	return coordinator.Settings{
		SettleDelay:            ms(c.Capture.SettleDelayMs),
		CaptureTimeout:         ms(c.Timeouts.CaptureMs),
		RegionSelectionTimeout: ms(c.Timeouts.RegionSelectionMs),
		PipelineTimeout:        ms(c.Timeouts.PipelineMs),
		OverlayAutoHide:        c.Overlay.AutoHide,
		PreviewEnabled:         c.Preview.Enabled,
		PreviewMaxWidth:        c.Preview.MaxWidth,
		PreviewMaxHeight:       c.Preview.MaxHeight,
		MaxQueueSize:           c.Capture.MaxQueueSize,
	}
}

// PipelineSettings returns the handoff settings. Categories without a
// configured template fall back to the built-in ones.
func (c *Config) PipelineSettings() pipeline.Settings {
	templates := pipeline.DefaultTemplates()
	for name, t := range c.Pipeline.Templates {
		cat, err := models.ParseCategory(name)
		if err != nil {
			continue
		}
		templates[cat] = pipeline.Template{
			Title:       t.Title,
			Description: t.Description,
			Tags:        append([]string(nil), t.Tags...),
			Provider:    t.Provider,
			Model:       t.Model,
		}
	}
	return pipeline.Settings{
		Enabled:           c.Pipeline.Enabled,
		AutoCreateSession: c.Pipeline.AutoCreateSession,
		SessionTimeout:    ms(c.Pipeline.SessionTimeoutMs),
		AutoProcess:       c.Pipeline.AutoProcess,
		ProcessTimeout:    ms(c.Pipeline.ProcessTimeoutMs),
		Templates:         templates,
	}
}

// SchedulerConfig returns the worker pool configuration.
func (c *Config) SchedulerConfig() *scheduler.Config {
	return &scheduler.Config{
		Workers:      c.Processing.Workers,
		PollInterval: ms(c.Processing.PollIntervalMs),
		JobTimeout:   ms(c.Processing.JobTimeoutMs),
	}
}

// DiskOptions returns the persister options. The format was validated by Load.
func (c *Config) DiskOptions() capturefs.Options {
	format, _ := capturefs.ParseFormat(c.Capture.Format)
	return capturefs.Options{
		Dir:     c.Capture.SaveDir,
		Format:  format,
		Quality: c.Capture.Quality,
	}
}

// PreviewOptions returns the preview cache options.
func (c *Config) PreviewOptions() preview.Options {
	return preview.Options{
		TTL:        ms(c.Preview.TTLMs),
		MaxEntries: c.Preview.MaxEntries,
	}
}

// OverlayTimeout bounds each overlay request.
func (c *Config) OverlayTimeout() time.Duration {
	return ms(c.Timeouts.OverlayMs)
}

// DefaultMode returns the configured capture mode, falling back to full.
func (c *Config) DefaultMode() models.CaptureMode {
	mode, err := models.ParseMode(c.Capture.DefaultMode)
	if err != nil {
		return models.ModeFull
	}
	return mode
}
