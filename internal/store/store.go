// Package store provides SQLite-backed persistence for the capture pipeline.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fentz26/glimpse/internal/models"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	// ErrJobNotFound indicates no job has the requested id.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobNotStartable indicates the job is not in the created state.
	ErrJobNotStartable = errors.New("job not found or not startable")
	// ErrSessionNotFound indicates the session does not exist.
	ErrSessionNotFound = errors.New("session not found")
)

// Store provides access to the glimpse SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		last_activity DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS jobs (
		ref INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		session_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		tags TEXT,
		provider TEXT,
		model TEXT,
		status TEXT NOT NULL DEFAULT 'created',
		request TEXT,
		result TEXT,
		claimed_by TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS artifacts (
		id TEXT PRIMARY KEY,
		job_ref INTEGER NOT NULL,
		data BLOB NOT NULL,
		size INTEGER NOT NULL,
		metadata TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (job_ref) REFERENCES jobs(ref)
	);

	CREATE TABLE IF NOT EXISTS pdr (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		capture_id TEXT,
		details TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	CREATE INDEX IF NOT EXISTS idx_artifacts_job_ref ON artifacts(job_ref);
	CREATE INDEX IF NOT EXISTS idx_pdr_capture_id ON pdr(capture_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return s.addColumns("sessions", map[string]string{
		"name":        "TEXT NOT NULL DEFAULT ''",
		"description": "TEXT NOT NULL DEFAULT ''",
	})
}

// addColumns adds columns missing from a table created by an older schema.
func (s *Store) addColumns(table string, columns map[string]string) error {
	rows, err := s.db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", table, err)
	}
	have := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return fmt.Errorf("inspect %s: %w", table, err)
		}
		have[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("inspect %s: %w", table, err)
	}

	for name, def := range columns {
		if have[name] {
			continue
		}
		if _, err := s.db.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, name, def)); err != nil {
			return fmt.Errorf("add %s.%s: %w", table, name, err)
		}
	}
	return nil
}

// --- Session Operations ---

// CreateSession inserts a new named session and returns its id.
func (s *Store) CreateSession(ctx context.Context, name, description string) (string, error) {
	now := time.Now().UTC()
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, name, description, created_at, last_activity) VALUES (?, ?, ?, ?, ?)`,
		id, name, description, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	return id, nil
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*models.Session, error) {
	sess := &models.Session{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, last_activity FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.Name, &sess.Description, &sess.LastActivity)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	return sess, nil
}

// --- Job Operations ---

const jobColumns = `id, session_id, title, description, tags, provider, model, status, request, result, claimed_by, created_at, updated_at`

// CreateJob inserts a job in the created state.
func (s *Store) CreateJob(ctx context.Context, payload models.JobPayload) (*models.Job, error) {
	now := time.Now().UTC()
	tags := payload.Tags
	if tags == nil {
		tags = []string{}
	}
	job := &models.Job{
		ID:          uuid.New().String(),
		SessionID:   payload.SessionID,
		Title:       payload.Title,
		Description: payload.Description,
		Tags:        tags,
		Provider:    payload.Provider,
		Model:       payload.Model,
		Status:      models.JobStatusCreated,
		Request:     string(payload.RequestJSON),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("marshal tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, session_id, title, description, tags, provider, model, status, request, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.SessionID, job.Title, job.Description, string(tagsJSON), job.Provider, job.Model,
		job.Status, job.Request, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	_, _ = s.db.ExecContext(ctx, `UPDATE sessions SET last_activity = ? WHERE id = ?`, now, job.SessionID)
	return job, nil
}

// ResolveJob maps a public job id to its internal reference.
func (s *Store) ResolveJob(ctx context.Context, jobID string) (models.JobRef, error) {
	var ref int64
	err := s.db.QueryRowContext(ctx, `SELECT ref FROM jobs WHERE id = ?`, jobID).Scan(&ref)
	if err == sql.ErrNoRows {
		return 0, ErrJobNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("resolve job: %w", err)
	}
	return models.JobRef(ref), nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs newest first, optionally filtered by status.
func (s *Store) ListJobs(ctx context.Context, status models.JobStatus) ([]models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY ref DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var description, tags, provider, model, request, result, claimedBy sql.NullString
	err := row.Scan(&job.ID, &job.SessionID, &job.Title, &description, &tags, &provider, &model,
		&job.Status, &request, &result, &claimedBy, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	job.Description = description.String
	job.Provider = provider.String
	job.Model = model.String
	job.Request = request.String
	job.Result = result.String
	job.ClaimedBy = claimedBy.String
	job.Tags = []string{}
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &job.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
	}
	return &job, nil
}

// StartProcessing moves a created job to queued so a worker can claim it.
func (s *Store) StartProcessing(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		models.JobStatusQueued, time.Now().UTC(), jobID, models.JobStatusCreated,
	)
	if err != nil {
		return fmt.Errorf("queue job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrJobNotStartable
	}
	return nil
}

// ClaimNextQueuedJob atomically claims the oldest queued job for workerID.
// It returns nil, nil when the queue is empty.
func (s *Store) ClaimNextQueuedJob(ctx context.Context, workerID string) (*models.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY ref ASC LIMIT 1`,
		models.JobStatusQueued,
	)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query queued job: %w", err)
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, claimed_by = ?, updated_at = ? WHERE id = ? AND status = ?`,
		models.JobStatusProcessing, workerID, now, job.ID, models.JobStatusQueued,
	)
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		// Claimed by another worker between select and update
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	job.Status = models.JobStatusProcessing
	job.ClaimedBy = workerID
	job.UpdatedAt = now
	return job, nil
}

// CompleteJob records a processing result.
func (s *Store) CompleteJob(ctx context.Context, jobID, result string) error {
	return s.finishJob(ctx, jobID, models.JobStatusCompleted, result)
}

// FailJob records a processing failure.
func (s *Store) FailJob(ctx context.Context, jobID, reason string) error {
	return s.finishJob(ctx, jobID, models.JobStatusFailed, reason)
}

func (s *Store) finishJob(ctx context.Context, jobID string, status models.JobStatus, result string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, result = ?, updated_at = ? WHERE id = ?`,
		status, result, time.Now().UTC(), jobID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// --- Artifact Operations ---

// AttachArtifact stores data against the job identified by ref.
func (s *Store) AttachArtifact(ctx context.Context, ref models.JobRef, data []byte, meta models.ArtifactMetadata) (*models.Artifact, error) {
	var jobID string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM jobs WHERE ref = ?`, int64(ref)).Scan(&jobID)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query job ref: %w", err)
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	art := &models.Artifact{
		ID:        uuid.New().String(),
		JobID:     jobID,
		Size:      len(data),
		Metadata:  meta,
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO artifacts (id, job_ref, data, size, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		art.ID, int64(ref), data, art.Size, string(metaJSON), art.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert artifact: %w", err)
	}
	return art, nil
}

// ListArtifacts returns the artifacts attached to a job, without data.
func (s *Store) ListArtifacts(ctx context.Context, jobID string) ([]models.Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.id, j.id, a.size, a.metadata, a.created_at
		 FROM artifacts a JOIN jobs j ON j.ref = a.job_ref
		 WHERE j.id = ? ORDER BY a.created_at ASC`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer rows.Close()

	var arts []models.Artifact
	for rows.Next() {
		var art models.Artifact
		var meta string
		if err := rows.Scan(&art.ID, &art.JobID, &art.Size, &meta, &art.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &art.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		arts = append(arts, art)
	}
	return arts, rows.Err()
}

// ReadArtifact returns an artifact's bytes.
func (s *Store) ReadArtifact(ctx context.Context, artifactID string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM artifacts WHERE id = ?`, artifactID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("artifact %s not found", artifactID)
	}
	if err != nil {
		return nil, fmt.Errorf("query artifact: %w", err)
	}
	return data, nil
}

// --- PDR Operations ---

// WritePDR writes a Process Decision Record.
func (s *Store) WritePDR(ctx context.Context, action, inputsHash, outcome, captureID, details string) (*models.PDREntry, error) {
	pdr := &models.PDREntry{
		ID:         uuid.New().String(),
		Action:     action,
		InputsHash: inputsHash,
		Outcome:    outcome,
		CaptureID:  captureID,
		Details:    details,
		Timestamp:  time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pdr (id, action, inputs_hash, outcome, capture_id, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		pdr.ID, pdr.Action, pdr.InputsHash, pdr.Outcome, pdr.CaptureID, pdr.Details, pdr.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert pdr: %w", err)
	}
	return pdr, nil
}

// ListPDR returns the most recent records, newest first. A captureID
// narrows the result to one capture.
func (s *Store) ListPDR(ctx context.Context, captureID string, limit int) ([]models.PDREntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, action, inputs_hash, outcome, capture_id, details, timestamp FROM pdr`
	var args []interface{}
	if captureID != "" {
		query += ` WHERE capture_id = ?`
		args = append(args, captureID)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pdr: %w", err)
	}
	defer rows.Close()

	var entries []models.PDREntry
	for rows.Next() {
		var e models.PDREntry
		var capID, details sql.NullString
		if err := rows.Scan(&e.ID, &e.Action, &e.InputsHash, &e.Outcome, &capID, &details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan pdr: %w", err)
		}
		e.CaptureID = capID.String
		e.Details = details.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
