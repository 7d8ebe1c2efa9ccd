package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fentz26/glimpse/internal/audit"
	"github.com/fentz26/glimpse/internal/backend"
	"github.com/fentz26/glimpse/internal/capturefs"
	"github.com/fentz26/glimpse/internal/config"
	"github.com/fentz26/glimpse/internal/controlplane"
	"github.com/fentz26/glimpse/internal/coordinator"
	"github.com/fentz26/glimpse/internal/logging"
	"github.com/fentz26/glimpse/internal/models"
	"github.com/fentz26/glimpse/internal/overlay"
	"github.com/fentz26/glimpse/internal/pipeline"
	"github.com/fentz26/glimpse/internal/preview"
	"github.com/fentz26/glimpse/internal/queue"
	"github.com/fentz26/glimpse/internal/scheduler"
	"github.com/fentz26/glimpse/internal/store"
)

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 30 * time.Second

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the glimpse daemon",
	Long: `Starts the glimpse daemon which owns the capture queues and serves the HTTP API.

Settings come from the config file, GLIMPSE_* environment variables and the
flags below. Edits to the config file are applied to the next capture.`,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().String("listen", "", "Listen address for the API server")
	daemonCmd.Flags().String("db", "", "Path to SQLite database")
	daemonCmd.Flags().String("backend", "", "Capture backend (synthetic or exec)")
	daemonCmd.Flags().String("log-level", "", "Log level (debug, info, warn, error)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	v := config.NewViper(configFile)
	for key, flag := range map[string]string{
		"server.listen": "listen",
		"store.path":    "db",
		"backend.kind":  "backend",
		"logging.level": "log-level",
	} {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	if err := config.Read(v); err != nil {
		return err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	logger, level, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting glimpse daemon",
		zap.String("version", controlplane.Version),
		zap.String("config", v.ConfigFileUsed()))

	// Initialize store
	s, err := store.New(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.Warn("database close error", zap.Error(err))
		}
	}()

	// Initialize components
	pdr := audit.NewPDRWriter(s, logger)
	selector := backend.NewSelector()
	be, err := newBackend(cfg, selector)
	if err != nil {
		return err
	}
	disk, err := capturefs.NewDisk(cfg.DiskOptions())
	if err != nil {
		return err
	}
	guard := overlay.NewGuard(newTransport(cfg, logger), cfg.OverlayTimeout(), logger)
	orch := pipeline.New(pipeline.Options{
		Store:    s,
		Auditor:  pdr,
		Logger:   logger,
		Settings: cfg.PipelineSettings(),
	})

	var sched *scheduler.Scheduler
	if cfg.Processing.Workers > 0 {
		sched = scheduler.New(s, pdr, nil, cfg.SchedulerConfig(), logger)
	}

	settings := cfg.CoordinatorSettings()
	coord, err := coordinator.New(coordinator.Options{
		Backend:   be,
		Guard:     guard,
		Queue:     queue.New(settings.MaxQueueSize),
		Previews:  preview.NewCache(cfg.PreviewOptions()),
		Persister: disk,
		Pipeline:  orch,
		Auditor:   pdr,
		Events:    eventSink(logger, sched),
		Logger:    logger,
		Settings:  &settings,
	})
	if err != nil {
		return err
	}

	// Create service and server
	service := controlplane.NewService(controlplane.ServiceOptions{
		Coordinator: coord,
		Store:       s,
		Selector:    selector,
		Scheduler:   sched,
		BackendName: be.Name(),
		DefaultMode: cfg.DefaultMode(),
	})
	server := controlplane.NewServer(service, cfg.Server.Listen, logger)

	if v.ConfigFileUsed() != "" {
		config.Watch(v, logger, func(next *config.Config) {
			coord.SetSettings(next.CoordinatorSettings())
			orch.SetSettings(next.PipelineSettings())
			service.SetDefaultMode(next.DefaultMode())
			if err := logging.SetLevel(level, next.Logging.Level); err != nil {
				logger.Warn("log level not changed", zap.Error(err))
			}
		})
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve API: %w", err)
		}
		return nil
	})
	if sched != nil {
		g.Go(func() error {
			return sched.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")

		if coord.Cancel() {
			logger.Info("cancelled in-flight capture")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		if err != nil {
			logger.Warn("HTTP server shutdown error", zap.Error(err))
		}

		coord.Wait()
		orch.Wait()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("daemon stopped", zap.Error(err))
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func newBackend(cfg *config.Config, selector *backend.Selector) (backend.Backend, error) {
	switch cfg.Backend.Kind {
	case "exec":
		be, err := backend.NewExec(backend.ExecOptions{
			Full:     cfg.Backend.Exec.Full,
			Window:   cfg.Backend.Exec.Window,
			Selector: selector,
		})
		if err != nil {
			return nil, fmt.Errorf("exec backend: %w", err)
		}
		return be, nil
	default:
		return backend.NewSynthetic(backend.SyntheticOptions{
			Width:    cfg.Backend.Width,
			Height:   cfg.Backend.Height,
			Selector: selector,
		}), nil
	}
}

func newTransport(cfg *config.Config, logger *zap.Logger) overlay.Transport {
	if cfg.Overlay.Endpoint != "" {
		return overlay.NewHTTPTransport(cfg.Overlay.Endpoint)
	}
	return overlay.LogTransport{Logger: logger.Named("overlay")}
}

// eventSink logs coordinator events and wakes the scheduler once a capture
// is committed, so its job is picked up without waiting for the next poll.
func eventSink(logger *zap.Logger, sched *scheduler.Scheduler) coordinator.EventSink {
	log := logger.Named("events")
	return func(e models.Event) {
		fields := []zap.Field{
			zap.String("type", string(e.Type)),
			zap.String("capture_id", e.CaptureID),
			zap.String("category", string(e.Category)),
		}
		if e.Error != "" {
			fields = append(fields, zap.String("error", e.Error))
		}
		log.Debug("capture event", fields...)
		if e.Type == models.EventCaptureCompleted && sched != nil {
			sched.Poke()
		}
	}
}
