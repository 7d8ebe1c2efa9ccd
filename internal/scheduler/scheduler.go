package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fentz26/glimpse/internal/audit"
	"github.com/fentz26/glimpse/internal/models"
)

// Store is the job queue the scheduler drains.
type Store interface {
	ClaimNextQueuedJob(ctx context.Context, workerID string) (*models.Job, error)
	ListArtifacts(ctx context.Context, jobID string) ([]models.Artifact, error)
	ReadArtifact(ctx context.Context, artifactID string) ([]byte, error)
	CompleteJob(ctx context.Context, jobID, result string) error
	FailJob(ctx context.Context, jobID, reason string) error
}

// Auditor records dispatch and processing outcomes.
type Auditor interface {
	Note(ctx context.Context, action string, inputs interface{}, outcome, captureID, details string)
}

// Stats is a snapshot of the worker pool.
type Stats struct {
	ActiveWorkers int    `json:"active_workers"`
	Workers       int    `json:"workers"`
	Processor     string `json:"processor"`
	Completed     int64  `json:"completed"`
	Failed        int64  `json:"failed"`
}

// Scheduler manages job dispatching and the worker pool.
type Scheduler struct {
	store     Store
	auditor   Auditor
	processor Processor
	config    Config
	logger    *zap.Logger

	// Worker pool state
	mu            sync.Mutex
	activeWorkers int
	completed     int64
	failed        int64

	// Control
	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	wake   chan struct{}
	closed bool
}

// New creates a new scheduler. A nil processor selects ImageSummary.
func New(s Store, auditor Auditor, proc Processor, cfg *Config, logger *zap.Logger) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	c.normalize()
	if proc == nil {
		proc = ImageSummary{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, stop := context.WithCancel(context.Background())

	return &Scheduler{
		store:     s,
		auditor:   auditor,
		processor: proc,
		config:    c,
		logger:    logger.Named("scheduler"),
		ctx:       ctx,
		stop:      stop,
		wake:      make(chan struct{}, 1),
	}
}

// Start begins the scheduler loop.
func (sch *Scheduler) Start() {
	sch.wg.Add(1)
	go sch.schedulerLoop()
	sch.logger.Info("scheduler started",
		zap.Int("workers", sch.config.Workers),
		zap.String("processor", sch.processor.Name()))
}

// Stop cancels running jobs and waits for every worker to return.
func (sch *Scheduler) Stop() {
	sch.mu.Lock()
	if sch.closed {
		sch.mu.Unlock()
		return
	}
	sch.closed = true
	sch.mu.Unlock()

	sch.stop()
	sch.wg.Wait()
	sch.logger.Info("scheduler stopped")
}

// Run starts the scheduler and blocks until ctx is done, then stops it.
func (sch *Scheduler) Run(ctx context.Context) error {
	sch.Start()
	<-ctx.Done()
	sch.Stop()
	return nil
}

// Poke asks the loop to poll now instead of waiting for the next tick.
func (sch *Scheduler) Poke() {
	select {
	case sch.wake <- struct{}{}:
	default:
	}
}

// schedulerLoop polls for queued jobs and dispatches them to workers.
func (sch *Scheduler) schedulerLoop() {
	defer sch.wg.Done()

	ticker := time.NewTicker(sch.config.PollInterval)
	defer ticker.Stop()

	sch.pollAndDispatch()
	for {
		select {
		case <-sch.ctx.Done():
			return
		case <-ticker.C:
			sch.pollAndDispatch()
		case <-sch.wake:
			sch.pollAndDispatch()
		}
	}
}

// pollAndDispatch claims jobs until the pool is full or the queue is empty.
func (sch *Scheduler) pollAndDispatch() {
	for {
		if sch.ctx.Err() != nil {
			return
		}

		// Reserve a worker slot before claiming so a claimed job always runs.
		sch.mu.Lock()
		if sch.activeWorkers >= sch.config.Workers {
			sch.mu.Unlock()
			return
		}
		sch.activeWorkers++
		sch.mu.Unlock()

		workerID := uuid.New().String()
		job, err := sch.store.ClaimNextQueuedJob(sch.ctx, workerID)
		if err != nil || job == nil {
			sch.release()
			if err != nil && sch.ctx.Err() == nil {
				sch.logger.Warn("claim job failed", zap.Error(err))
			}
			return
		}

		sch.note(audit.ActionJobDispatch, job, workerID, audit.OutcomeSuccess,
			fmt.Sprintf("dispatched to worker %s", workerID))
		sch.logger.Debug("job dispatched",
			zap.String("job_id", job.ID),
			zap.String("worker_id", workerID))

		sch.wg.Add(1)
		go sch.runWorker(job, workerID)
	}
}

func (sch *Scheduler) release() {
	sch.mu.Lock()
	sch.activeWorkers--
	sch.mu.Unlock()
}

// runWorker processes one claimed job and records its outcome.
func (sch *Scheduler) runWorker(job *models.Job, workerID string) {
	defer sch.wg.Done()
	defer sch.release()

	log := sch.logger.With(zap.String("job_id", job.ID), zap.String("worker_id", workerID))
	start := time.Now()

	ctx := sch.ctx
	if sch.config.JobTimeout > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, sch.config.JobTimeout)
		defer stop()
	}

	result, err := sch.process(ctx, job)

	// Outcomes are written even while stopping, so a job never stays claimed.
	wctx := context.WithoutCancel(ctx)
	if err != nil {
		log.Warn("job failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		if ferr := sch.store.FailJob(wctx, job.ID, err.Error()); ferr != nil {
			log.Error("record job failure", zap.Error(ferr))
		}
		sch.count(false)
		sch.note(audit.ActionJobProcess, job, workerID, audit.OutcomeFailure, err.Error())
		return
	}

	if err := sch.store.CompleteJob(wctx, job.ID, result); err != nil {
		log.Error("record job result", zap.Error(err))
		sch.count(false)
		return
	}
	sch.count(true)
	sch.note(audit.ActionJobProcess, job, workerID, audit.OutcomeSuccess, sch.processor.Name())
	log.Info("job completed", zap.Duration("elapsed", time.Since(start)))
}

func (sch *Scheduler) process(ctx context.Context, job *models.Job) (string, error) {
	arts, err := sch.store.ListArtifacts(ctx, job.ID)
	if err != nil {
		return "", fmt.Errorf("list artifacts: %w", err)
	}
	inputs := make([]Input, 0, len(arts))
	for _, art := range arts {
		data, err := sch.store.ReadArtifact(ctx, art.ID)
		if err != nil {
			return "", fmt.Errorf("read artifact %s: %w", art.ID, err)
		}
		inputs = append(inputs, Input{Artifact: art, Data: data})
	}
	return sch.processor.Process(ctx, job, inputs)
}

func (sch *Scheduler) count(ok bool) {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	if ok {
		sch.completed++
	} else {
		sch.failed++
	}
}

func (sch *Scheduler) note(action string, job *models.Job, workerID, outcome, details string) {
	if sch.auditor == nil {
		return
	}
	sch.auditor.Note(context.Background(), action, map[string]string{
		"job_id":    job.ID,
		"worker_id": workerID,
		"processor": sch.processor.Name(),
	}, outcome, "", details)
}

// Stats returns current scheduler statistics.
func (sch *Scheduler) Stats() Stats {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	return Stats{
		ActiveWorkers: sch.activeWorkers,
		Workers:       sch.config.Workers,
		Processor:     sch.processor.Name(),
		Completed:     sch.completed,
		Failed:        sch.failed,
	}
}
