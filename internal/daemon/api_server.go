package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"loom/internal/api"
	"loom/internal/config"
	"loom/internal/logging"
	"loom/internal/queue"
	"loom/internal/services"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logger,
		daemon: d,
	}
	token := strings.TrimSpace(cfg.Paths.APIToken)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.HandleFunc("/api/status", authMiddleware(token, srv.handleStatus))
	mux.HandleFunc("/api/queue", authMiddleware(token, srv.handleQueue))
	mux.HandleFunc("/api/queue/", authMiddleware(token, srv.handleQueueJob))
	mux.HandleFunc("/api/enqueue", authMiddleware(token, srv.handleEnqueue))
	mux.HandleFunc("/api/scan", authMiddleware(token, srv.handleScan))
	mux.HandleFunc("/api/recover", authMiddleware(token, srv.handleRecover))
	mux.HandleFunc("/api/report", authMiddleware(token, srv.handleReport))
	if d.deps.Metrics != nil {
		mux.Handle("/metrics", d.deps.Metrics.Handler())
	}

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// addr returns the bound listen address, useful when binding port 0 in tests.
func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status, err := s.daemon.Status(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.StatusResponse{
		Running:      status.Running,
		PID:          status.PID,
		DatabasePath: status.DatabasePath,
		LockFilePath: status.LockFilePath,
		Workers:      status.Workers,
		Queue:        status.Queue,
	})
}

func (s *apiServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var statuses []queue.Status
	for _, value := range r.URL.Query()["status"] {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		statuses = append(statuses, queue.Status(trimmed))
	}

	jobs, err := s.daemon.ListQueue(r.Context(), statuses)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.QueueListResponse{Jobs: api.FromJobs(jobs)})
}

func (s *apiServer) handleQueueJob(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/queue/")
	idStr, action, _ := strings.Cut(rest, "/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		job, err := s.daemon.deps.Jobs.GetJob(r.Context(), id)
		if errors.Is(err, queue.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, api.JobResponse{Job: api.FromJob(job)})

	case action == "retry" && r.Method == http.MethodPost:
		job, err := s.daemon.RetryJob(r.Context(), id)
		if errors.Is(err, queue.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		if err != nil {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, api.JobResponse{Job: api.FromJob(job)})

	default:
		s.writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *apiServer) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req api.EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	priority := 0
	if req.Priority != nil {
		priority = *req.Priority
	}
	content, job, err := s.daemon.Ingest(r.Context(), req.ExternalID, req.SourceURL, req.Title, req.Language, priority)
	if err != nil {
		status := http.StatusInternalServerError
		if !services.Retryable(err) {
			status = http.StatusBadRequest
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, api.EnqueueResponse{
		Content: api.FromContent(content),
		Job:     api.FromJob(job),
	})
}

func (s *apiServer) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	report, err := s.daemon.Scan(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *apiServer) handleRecover(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	report, err := s.daemon.Recover(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *apiServer) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	integrityReport, recoveryReport, recentAlerts, err := s.daemon.Report(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.ReportResponse{
		Integrity: integrityReport,
		Recovery:  recoveryReport,
		Alerts:    recentAlerts,
	})
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String(logging.FieldComponent, "api-server"))
	}
	return logging.NewNop()
}
