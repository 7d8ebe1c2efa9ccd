package controlplane

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fentz26/glimpse/internal/models"
)

// Version is reported by GET /health.
var Version = "0.1.0"

// Server provides the HTTP API for glimpse.
type Server struct {
	service *Service
	addr    string
	server  *http.Server
	logger  *zap.Logger
}

// NewServer creates a new HTTP server.
func NewServer(service *Service, addr string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		service: service,
		addr:    addr,
		logger:  logger.Named("api"),
	}
	// Captures can wait on a region selection, hence the long write deadline.
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}
	return s
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Capture endpoints
	mux.HandleFunc("/captures", s.handleCaptures)
	mux.HandleFunc("/captures/", s.handleCaptureByID)

	// Region selection
	mux.HandleFunc("/selection", s.handleSelection)

	// Pipeline endpoints
	mux.HandleFunc("/jobs", s.handleJobs)
	mux.HandleFunc("/jobs/", s.handleJobByID)
	mux.HandleFunc("/audit", s.handleAudit)

	mux.HandleFunc("/state", s.handleState)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting glimpse daemon", zap.String("addr", s.addr))
	return s.server.ListenAndServe()
}

// Serve serves on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting glimpse daemon", zap.String("addr", ln.Addr().String()))
	return s.server.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	health := HealthResponse{
		OK:      true,
		DB:      "ok",
		Version: Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if err := s.service.Ping(r.Context()); err != nil {
		health.OK = false
		health.DB = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.service.State())
}

// handleCaptures handles POST /captures and GET /captures
func (s *Server) handleCaptures(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createCapture(w, r)
	case http.MethodGet:
		s.listCaptures(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleCaptureByID handles /captures/{id}/* plus the clear and cancel actions.
func (s *Server) handleCaptureByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/captures/")
	parts := strings.Split(path, "/")

	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "capture id required", http.StatusBadRequest)
		return
	}

	id := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch {
	case id == "clear" && action == "" && r.Method == http.MethodPost:
		s.clearCaptures(w, r)
	case id == "cancel" && action == "" && r.Method == http.MethodPost:
		s.cancelCapture(w, r)
	case action == "" && r.Method == http.MethodGet:
		s.getCapture(w, r, id)
	case action == "" && r.Method == http.MethodDelete:
		s.deleteCapture(w, r, id)
	case action == "preview" && r.Method == http.MethodGet:
		s.getPreview(w, r, id)
	case action == "image" && r.Method == http.MethodGet:
		s.getImage(w, r, id)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// --- Capture Handlers ---

// CaptureRequest is the body of POST /captures.
type CaptureRequest struct {
	Category string `json:"category"`
	Mode     string `json:"mode"`
}

func (s *Server) createCapture(w http.ResponseWriter, r *http.Request) {
	var req CaptureRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
	}

	res, err := s.service.Capture(r.Context(), req.Category, req.Mode)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) listCaptures(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListCaptures(r.URL.Query().Get("category"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) getCapture(w http.ResponseWriter, r *http.Request, id string) {
	item, err := s.service.GetCapture(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) getPreview(w http.ResponseWriter, r *http.Request, id string) {
	data, err := s.service.Preview(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

func (s *Server) getImage(w http.ResponseWriter, r *http.Request, id string) {
	data, mimeType, err := s.service.Image(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

func (s *Server) deleteCapture(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.service.DeleteCapture(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ClearRequest is the body of POST /captures/clear. An empty category
// clears everything.
type ClearRequest struct {
	Category string `json:"category"`
}

func (s *Server) clearCaptures(w http.ResponseWriter, r *http.Request) {
	var req ClearRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
	}
	n, err := s.service.ClearCaptures(r.Context(), req.Category)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (s *Server) cancelCapture(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": s.service.CancelCapture()})
}

// --- Selection Handlers ---

// SelectionRequest is the body of POST /selection. Abort fails the pending
// selection instead of resolving it.
type SelectionRequest struct {
	models.Region
	Abort bool `json:"abort,omitempty"`
}

func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req SelectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	var err error
	if req.Abort {
		err = s.service.AbortSelection()
	} else {
		err = s.service.ResolveSelection(req.Region)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// --- Job Handlers ---

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	jobs, err := s.service.ListJobs(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []models.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// JobResponse is the body of GET /jobs/{id}.
type JobResponse struct {
	Job       *models.Job       `json:"job"`
	Artifacts []models.Artifact `json:"artifacts"`
}

func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/jobs/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	job, arts, err := s.service.GetJob(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if arts == nil {
		arts = []models.Artifact{}
	}
	writeJSON(w, http.StatusOK, JobResponse{Job: job, Artifacts: arts})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.service.Audit(r.Context(), r.URL.Query().Get("capture_id"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if entries == nil {
		entries = []models.PDREntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, errorBody(err))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
