// Package api exposes the import orchestrator over HTTP (chi) and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kargohq/stevedore/internal/orchestrator"
	"github.com/kargohq/stevedore/internal/session"
	"github.com/kargohq/stevedore/internal/storage"
)

const maxUploadSize = 20 << 20 // 20MB
const maxRequestBodySize = 1 << 20

// Importer abstracts the orchestrator for the API layer.
type Importer interface {
	Start(ctx context.Context, filename, contentType string, data []byte) (*session.ImportSession, error)
	SubmitAnswers(ctx context.Context, sess *session.ImportSession, answers map[string]string, feedback string) error
	Review(sess *session.ImportSession) (*session.ReviewSummary, error)
	RequestEdit(sess *session.ImportSession) error
	Approve(ctx context.Context, sess *session.ImportSession, hints map[string]string) (*orchestrator.Outcome, error)
}

// SessionStore abstracts the local session cache and job registry reads.
type SessionStore interface {
	LoadSession(id string) (*session.ImportSession, error)
	ListSessions(limit int) ([]storage.SessionRecord, error)
	GetJob(jobID string) (storage.JobRecord, error)
	ListJobs(limit int) ([]storage.JobRecord, error)
}

type AppDeps struct {
	Importer Importer
	Store    SessionStore
	Token    string // optional; when set every route except /health requires it
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Post("/imports", handleStartImport(deps))
		r.Get("/imports", handleListImports(deps))
		r.Get("/imports/{id}", handleGetImport(deps))
		r.Post("/imports/{id}/answers", handleSubmitAnswers(deps))
		r.Get("/imports/{id}/review", handleReview(deps))
		r.Post("/imports/{id}/edit", handleRequestEdit(deps))
		r.Post("/imports/{id}/approve", handleApprove(deps))
		r.Get("/jobs", handleListJobs(deps))
		r.Get("/jobs/{id}", handleGetJob(deps))
	})

	return r
}

func handleStartImport(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		defer r.Body.Close()

		file, header, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "multipart field %q is required: %v", "file", err)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading upload: %v", err)
			return
		}
		if len(data) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "uploaded file is empty")
			return
		}

		sess, err := deps.Importer.Start(r.Context(), header.Filename, contentType(header), data)
		if err != nil {
			importError(w, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, sess)
	}
}

func contentType(h *multipart.FileHeader) string {
	if ct := h.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func handleListImports(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		records, err := deps.Store.ListSessions(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing imports: %v", err)
			return
		}
		if records == nil {
			records = []storage.SessionRecord{}
		}
		writeJSON(w, records)
	}
}

func handleGetImport(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := loadSession(w, deps, chi.URLParam(r, "id"))
		if !ok {
			return
		}
		writeJSON(w, sess)
	}
}

type answersRequest struct {
	Answers  map[string]string `json:"answers"`
	Feedback string            `json:"feedback,omitempty"`
}

func handleSubmitAnswers(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := loadSession(w, deps, chi.URLParam(r, "id"))
		if !ok {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req answersRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.Answers) == 0 && req.Feedback == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "answers or feedback is required")
			return
		}

		if err := deps.Importer.SubmitAnswers(r.Context(), sess, req.Answers, req.Feedback); err != nil {
			importError(w, err)
			return
		}
		writeJSON(w, sess)
	}
}

func handleReview(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := loadSession(w, deps, chi.URLParam(r, "id"))
		if !ok {
			return
		}
		summary, err := deps.Importer.Review(sess)
		if err != nil {
			httpError(w, http.StatusConflict, "invalid_state", "%v", err)
			return
		}
		writeJSON(w, summary)
	}
}

func handleRequestEdit(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := loadSession(w, deps, chi.URLParam(r, "id"))
		if !ok {
			return
		}
		if err := deps.Importer.RequestEdit(sess); err != nil {
			httpError(w, http.StatusConflict, "invalid_state", "%v", err)
			return
		}
		writeJSON(w, sess)
	}
}

type approveRequest struct {
	Hints map[string]string `json:"hints,omitempty"`
}

// approveResponse flattens the outcome for API consumers: exactly one of
// blocked, job, or the imported counts is meaningful.
type approveResponse struct {
	Blocked  bool                   `json:"blocked"`
	Summary  *session.ReviewSummary `json:"summary,omitempty"`
	Job      *session.AsyncJob      `json:"job,omitempty"`
	Imported int                    `json:"imported_rows"`
	Failed   int                    `json:"failed_rows"`
	Message  string                 `json:"message,omitempty"`
	Phase    session.Phase          `json:"client_phase"`
}

func handleApprove(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := loadSession(w, deps, chi.URLParam(r, "id"))
		if !ok {
			return
		}

		var req approveRequest
		if r.ContentLength > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
				return
			}
		}

		out, err := deps.Importer.Approve(r.Context(), sess, req.Hints)
		if err != nil {
			importError(w, err)
			return
		}
		writeJSON(w, approveResponse{
			Blocked:  out.Blocked,
			Summary:  out.Summary,
			Job:      out.Job,
			Imported: out.Imported,
			Failed:   out.Failed,
			Message:  out.Message,
			Phase:    sess.Phase,
		})
	}
}

func handleListJobs(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		jobs, err := deps.Store.ListJobs(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing jobs: %v", err)
			return
		}
		if jobs == nil {
			jobs = []storage.JobRecord{}
		}
		writeJSON(w, jobs)
	}
}

func handleGetJob(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Store.GetJob(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading job: %v", err)
			return
		}
		writeJSON(w, job)
	}
}

func loadSession(w http.ResponseWriter, deps AppDeps, id string) (*session.ImportSession, bool) {
	sess, err := deps.Store.LoadSession(id)
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "import session not found")
		return nil, false
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "loading session: %v", err)
		return nil, false
	}
	return sess, true
}

// importError maps orchestrator failures to HTTP statuses.
func importError(w http.ResponseWriter, err error) {
	var (
		verr *orchestrator.ValidationError
		aerr *orchestrator.AmbiguousResponseError
		terr *orchestrator.TransportError
		eerr *orchestrator.ExecutionError
		serr *session.ErrInvalidTransition
	)
	switch {
	case errors.As(err, &verr):
		httpError(w, http.StatusUnprocessableEntity, "validation_error", "%v", err)
	case errors.As(err, &eerr):
		httpError(w, http.StatusUnprocessableEntity, "import_error", "%v", err)
	case errors.As(err, &serr):
		httpError(w, http.StatusConflict, "invalid_state", "%v", err)
	case errors.As(err, &aerr), errors.As(err, &terr):
		httpError(w, http.StatusBadGateway, "upstream_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
