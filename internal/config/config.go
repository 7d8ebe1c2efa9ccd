// Package config loads glimpse settings from file, environment and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. GLIMPSE_CAPTURE_FORMAT.
const EnvPrefix = "GLIMPSE"

// Config is the complete glimpse configuration.
type Config struct {
	Capture    CaptureConfig    `mapstructure:"capture" yaml:"capture"`
	Timeouts   TimeoutConfig    `mapstructure:"timeouts" yaml:"timeouts"`
	Preview    PreviewConfig    `mapstructure:"preview" yaml:"preview"`
	Overlay    OverlayConfig    `mapstructure:"overlay" yaml:"overlay"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline" yaml:"pipeline"`
	Backend    BackendConfig    `mapstructure:"backend" yaml:"backend"`
	Processing ProcessingConfig `mapstructure:"processing" yaml:"processing"`
	Store      StoreConfig      `mapstructure:"store" yaml:"store"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
}

// CaptureConfig controls where and how captures are written.
type CaptureConfig struct {
	// SaveDir is where capture files are written
	SaveDir string `mapstructure:"save_dir" yaml:"save_dir"`
	// Format is png or jpeg
	Format string `mapstructure:"format" yaml:"format"`
	// Quality is the JPEG quality, 1-100
	Quality int `mapstructure:"quality" yaml:"quality"`
	// Hotkey is shown by the TUI; binding it globally is left to the desktop
	Hotkey      string `mapstructure:"hotkey" yaml:"hotkey"`
	DefaultMode string `mapstructure:"default_mode" yaml:"default_mode"`
	// SettleDelayMs is the pause after hiding the overlay
	SettleDelayMs int `mapstructure:"settle_delay_ms" yaml:"settle_delay_ms"`
	// MaxQueueSize bounds each category queue
	MaxQueueSize int `mapstructure:"max_queue_size" yaml:"max_queue_size"`
}

// TimeoutConfig holds every capture deadline in milliseconds.
type TimeoutConfig struct {
	// CaptureMs is the base of the composite capture timeout
	CaptureMs         int `mapstructure:"capture_ms" yaml:"capture_ms"`
	RegionSelectionMs int `mapstructure:"region_selection_ms" yaml:"region_selection_ms"`
	// OverlayMs bounds a single hide or show request
	OverlayMs  int `mapstructure:"overlay_ms" yaml:"overlay_ms"`
	PipelineMs int `mapstructure:"pipeline_ms" yaml:"pipeline_ms"`
}

// PreviewConfig controls thumbnail generation and caching.
type PreviewConfig struct {
	Enabled    bool `mapstructure:"enabled" yaml:"enabled"`
	MaxWidth   int  `mapstructure:"max_width" yaml:"max_width"`
	MaxHeight  int  `mapstructure:"max_height" yaml:"max_height"`
	TTLMs      int  `mapstructure:"ttl_ms" yaml:"ttl_ms"`
	MaxEntries int  `mapstructure:"max_entries" yaml:"max_entries"`
}

// OverlayConfig controls hiding the host overlay during captures.
type OverlayConfig struct {
	AutoHide bool `mapstructure:"auto_hide" yaml:"auto_hide"`
	// Endpoint receives hide/show requests; empty only logs them
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
}

// TemplateConfig shapes the job created for one category.
type TemplateConfig struct {
	Title       string   `mapstructure:"title" yaml:"title"`
	Description string   `mapstructure:"description" yaml:"description"`
	Tags        []string `mapstructure:"tags" yaml:"tags"`
	Provider    string   `mapstructure:"provider" yaml:"provider,omitempty"`
	Model       string   `mapstructure:"model" yaml:"model,omitempty"`
}

// PipelineConfig controls the job handoff.
type PipelineConfig struct {
	Enabled           bool                      `mapstructure:"enabled" yaml:"enabled"`
	AutoCreateSession bool                      `mapstructure:"auto_create_session" yaml:"auto_create_session"`
	SessionTimeoutMs  int                       `mapstructure:"session_timeout_ms" yaml:"session_timeout_ms"`
	AutoProcess       bool                      `mapstructure:"auto_process" yaml:"auto_process"`
	ProcessTimeoutMs  int                       `mapstructure:"process_timeout_ms" yaml:"process_timeout_ms"`
	Templates         map[string]TemplateConfig `mapstructure:"templates" yaml:"templates"`
}

// ExecConfig lists the external screenshot commands.
type ExecConfig struct {
	Full   []string `mapstructure:"full" yaml:"full"`
	Window []string `mapstructure:"window" yaml:"window"`
}

// BackendConfig selects the capture backend.
type BackendConfig struct {
	// Kind is synthetic or exec
	Kind string     `mapstructure:"kind" yaml:"kind"`
	Exec ExecConfig `mapstructure:"exec" yaml:"exec"`
	// Width and Height size synthetic frames
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

// ProcessingConfig controls the job worker pool. Zero workers disables it.
type ProcessingConfig struct {
	Workers        int `mapstructure:"workers" yaml:"workers"`
	PollIntervalMs int `mapstructure:"poll_interval_ms" yaml:"poll_interval_ms"`
	JobTimeoutMs   int `mapstructure:"job_timeout_ms" yaml:"job_timeout_ms"`
}

// StoreConfig locates the job database.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	// File receives logs in addition to stderr when set
	File string `mapstructure:"file" yaml:"file"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	data := DataDir()
	return &Config{
		Capture: CaptureConfig{
			SaveDir:       filepath.Join(data, "captures"),
			Format:        "png",
			Quality:       90,
			Hotkey:        "ctrl+shift+s",
			DefaultMode:   "full",
			SettleDelayMs: 150,
			MaxQueueSize:  5,
		},
		Timeouts: TimeoutConfig{
			CaptureMs:         10000,
			RegionSelectionMs: 30000,
			OverlayMs:         2000,
			PipelineMs:        15000,
		},
		Preview: PreviewConfig{
			Enabled:    true,
			MaxWidth:   320,
			MaxHeight:  240,
			TTLMs:      300000, // 5 minutes
			MaxEntries: 32,
		},
		Overlay: OverlayConfig{
			AutoHide: true,
		},
		Pipeline: PipelineConfig{
			Enabled:           true,
			AutoCreateSession: true,
			SessionTimeoutMs:  1800000, // 30 minutes
			AutoProcess:       true,
			ProcessTimeoutMs:  5000,
			Templates: map[string]TemplateConfig{
				"problem": {
					Title:       "Problem capture",
					Description: "Analyze the captured screen and describe the problem it shows.",
					Tags:        []string{"capture", "problem"},
				},
				"debug": {
					Title:       "Debug capture",
					Description: "Inspect the captured screen for errors, stack traces and failing output.",
					Tags:        []string{"capture", "debug"},
				},
			},
		},
		Backend: BackendConfig{
			Kind:   "synthetic",
			Width:  1280,
			Height: 800,
		},
		Processing: ProcessingConfig{
			Workers:        2,
			PollIntervalMs: 1000,
			JobTimeoutMs:   60000,
		},
		Store: StoreConfig{
			Path: filepath.Join(data, "glimpse.db"),
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:7467",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// SetDefaults registers default values with v
func SetDefaults(v *viper.Viper) {
	d := Default()

	// Capture defaults
	v.SetDefault("capture.save_dir", d.Capture.SaveDir)
	v.SetDefault("capture.format", d.Capture.Format)
	v.SetDefault("capture.quality", d.Capture.Quality)
	v.SetDefault("capture.hotkey", d.Capture.Hotkey)
	v.SetDefault("capture.default_mode", d.Capture.DefaultMode)
	v.SetDefault("capture.settle_delay_ms", d.Capture.SettleDelayMs)
	v.SetDefault("capture.max_queue_size", d.Capture.MaxQueueSize)

	// Timeout defaults
	v.SetDefault("timeouts.capture_ms", d.Timeouts.CaptureMs)
	v.SetDefault("timeouts.region_selection_ms", d.Timeouts.RegionSelectionMs)
	v.SetDefault("timeouts.overlay_ms", d.Timeouts.OverlayMs)
	v.SetDefault("timeouts.pipeline_ms", d.Timeouts.PipelineMs)

	// Preview defaults
	v.SetDefault("preview.enabled", d.Preview.Enabled)
	v.SetDefault("preview.max_width", d.Preview.MaxWidth)
	v.SetDefault("preview.max_height", d.Preview.MaxHeight)
	v.SetDefault("preview.ttl_ms", d.Preview.TTLMs)
	v.SetDefault("preview.max_entries", d.Preview.MaxEntries)

	// Overlay defaults
	v.SetDefault("overlay.auto_hide", d.Overlay.AutoHide)
	v.SetDefault("overlay.endpoint", d.Overlay.Endpoint)

	// Pipeline defaults
	v.SetDefault("pipeline.enabled", d.Pipeline.Enabled)
	v.SetDefault("pipeline.auto_create_session", d.Pipeline.AutoCreateSession)
	v.SetDefault("pipeline.session_timeout_ms", d.Pipeline.SessionTimeoutMs)
	v.SetDefault("pipeline.auto_process", d.Pipeline.AutoProcess)
	v.SetDefault("pipeline.process_timeout_ms", d.Pipeline.ProcessTimeoutMs)
	for name, tmpl := range d.Pipeline.Templates {
		prefix := "pipeline.templates." + name + "."
		v.SetDefault(prefix+"title", tmpl.Title)
		v.SetDefault(prefix+"description", tmpl.Description)
		v.SetDefault(prefix+"tags", tmpl.Tags)
		v.SetDefault(prefix+"provider", tmpl.Provider)
		v.SetDefault(prefix+"model", tmpl.Model)
	}

	// Backend defaults
	v.SetDefault("backend.kind", d.Backend.Kind)
	v.SetDefault("backend.exec.full", d.Backend.Exec.Full)
	v.SetDefault("backend.exec.window", d.Backend.Exec.Window)
	v.SetDefault("backend.width", d.Backend.Width)
	v.SetDefault("backend.height", d.Backend.Height)

	// Processing defaults
	v.SetDefault("processing.workers", d.Processing.Workers)
	v.SetDefault("processing.poll_interval_ms", d.Processing.PollIntervalMs)
	v.SetDefault("processing.job_timeout_ms", d.Processing.JobTimeoutMs)

	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("server.listen", d.Server.Listen)

	// Logging defaults
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", d.Logging.File)
}

// NewViper returns a viper instance with defaults, environment overrides and
// the config search path installed. A non-empty file overrides the search.
func NewViper(file string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		return v
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(ConfigDir())
	v.AddConfigPath(".")
	return v
}

// Read loads the config file into v. A missing file is not an error.
func Read(v *viper.Viper) error {
	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if err == nil || errors.As(err, &notFound) {
		return nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("read config: %w", err)
}

// Load reads the configuration from v into a Config struct and validates it
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Render returns cfg as YAML, the format written by `glimpse config init`.
func Render(cfg *Config) ([]byte, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("render config: %w", err)
	}
	return out, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "glimpse")
	}
	// Fall back to ~/.config/glimpse
	home, err := os.UserHomeDir()
	if err != nil {
		return ".glimpse"
	}
	return filepath.Join(home, ".config", "glimpse")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// DataDir returns the directory holding captures and the job database.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".glimpse"
	}
	return filepath.Join(home, ".glimpse")
}
