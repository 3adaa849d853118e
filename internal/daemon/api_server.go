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

	"github.com/google/uuid"

	"qcflow/internal/api"
	"qcflow/internal/config"
	"qcflow/internal/intake"
	"qcflow/internal/jobs"
	"qcflow/internal/logging"
	"qcflow/internal/reconcile"
	"qcflow/internal/services"
)

const maxUploadMemory = 32 << 20

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
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(cfg.Paths.APIToken),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) routes(token string) http.Handler {
	mux := http.NewServeMux()
	protect := func(h http.HandlerFunc) http.HandlerFunc { return authMiddleware(token, h) }

	mux.HandleFunc("POST /api/uploads", protect(s.handleUpload))
	mux.HandleFunc("GET /api/jobs", protect(s.handleJobs))
	mux.HandleFunc("GET /api/jobs/{id}/status", protect(s.handleStatus))
	mux.HandleFunc("GET /upload-status/{id}", protect(s.handleStatus))
	mux.HandleFunc("POST /api/jobs/{id}/finalize", protect(s.handleFinalize))
	mux.HandleFunc("GET /api/jobs/{id}/results", protect(s.handleResults))
	mux.HandleFunc("GET /api/jobs/{id}/summary", protect(s.handleSummary))
	mux.Handle("GET /api/ws", authMiddleware(token, s.daemon.hub.ServeHTTP))
	mux.HandleFunc("GET /api/health", s.handleHealth)
	return requestIDMiddleware(mux)
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
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
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

func (s *apiServer) address() string {
	if s == nil {
		return ""
	}
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.bind
}

func (s *apiServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		s.writeError(w, r, services.Wrap(services.ErrInvalidRequest, "api", "upload", "expected multipart form data", err))
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	fields := make([]string, 0, len(r.MultipartForm.File))
	for field := range r.MultipartForm.File {
		fields = append(fields, field)
	}
	sortFields(fields)

	var uploads []intake.Upload
	for _, field := range fields {
		for _, header := range r.MultipartForm.File[field] {
			file, err := header.Open()
			if err != nil {
				s.writeError(w, r, services.Wrap(services.ErrInvalidRequest, "api", "upload", "read "+header.Filename, err))
				return
			}
			defer file.Close()
			uploads = append(uploads, intake.Upload{
				Role:     reconcile.Role(strings.ToLower(strings.TrimSpace(field))),
				FileName: header.Filename,
				Body:     file,
			})
		}
	}
	if len(uploads) == 0 {
		s.writeError(w, r, services.Wrap(services.ErrInvalidRequest, "api", "upload", "no files uploaded", nil))
		return
	}

	job, err := s.daemon.Submit(r.Context(), uploads)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.SubmitResponse{JobID: job.ID, ExpectedFiles: job.ExpectedFileCount})
}

// sortFields orders form fields by role so the policy is stored first.
func sortFields(fields []string) {
	roles := make([]reconcile.Role, len(fields))
	for i, f := range fields {
		roles[i] = reconcile.Role(f)
	}
	reconcile.SortRoles(roles)
	for i, r := range roles {
		fields[i] = string(r)
	}
}

func (s *apiServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var filter jobs.Filter
	for _, value := range query["state"] {
		for _, part := range strings.Split(value, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			state, ok := jobs.ParseState(part)
			if !ok {
				s.writeError(w, r, services.Wrap(services.ErrInvalidRequest, "api", "jobs", fmt.Sprintf("unknown state %q", part), nil))
				return
			}
			filter.States = append(filter.States, state)
		}
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.writeError(w, r, services.Wrap(services.ErrInvalidRequest, "api", "jobs", "limit must be a non-negative integer", err))
			return
		}
		filter.Limit = limit
	}

	list, err := s.daemon.store.ListJobs(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: api.FromJobs(list)})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.daemon.store.GetStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *apiServer) handleFinalize(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	res, err := s.daemon.Finalize(services.WithJobID(r.Context(), jobID), jobID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	code := http.StatusOK
	if res.InProgress {
		code = http.StatusAccepted
	}
	s.writeJSON(w, code, api.FromFinalizeResult(res))
}

func (s *apiServer) handleResults(w http.ResponseWriter, r *http.Request) {
	res, err := s.daemon.store.GetResult(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromResult(res))
}

func (s *apiServer) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.daemon.store.GetSummary(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.daemon.Health(r.Context())
	code := http.StatusOK
	if !health.Ready {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, health)
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := services.HTTPStatus(err)
	body := api.FromError(err)
	if status >= http.StatusInternalServerError {
		logging.WarnWithContext(logging.WithContext(r.Context(), s.logger), "api request failed", "api_request_failed",
			logging.Error(err),
			logging.String("path", r.URL.Path),
			logging.Int("status", status),
			logging.String(logging.FieldErrorHint, body.Hint),
		)
	}
	s.writeJSON(w, status, body)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(services.WithRequestID(r.Context(), id)))
	})
}

