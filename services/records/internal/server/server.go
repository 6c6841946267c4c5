package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"vetrecords/internal/util"
	"vetrecords/pkg/domain"
	"vetrecords/services/records/internal/app"
)

const multipartOverhead = 1 << 20

// Limiter admits or rejects one hit for key.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration)
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                *app.App
	UploadLimiter      Limiter
	ProcessLimiter     Limiter
	TrustedProxies     *util.TrustedProxies
	CORSAllowedOrigins []string
}

// Server exposes the document endpoints.
type Server struct {
	app            *app.App
	uploadLimiter  Limiter
	processLimiter Limiter
	trusted        *util.TrustedProxies
	origins        []string
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app is required")
	}
	s := &Server{
		app:            cfg.App,
		uploadLimiter:  cfg.UploadLimiter,
		processLimiter: cfg.ProcessLimiter,
		trusted:        cfg.TrustedProxies,
		origins:        cfg.CORSAllowedOrigins,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.origins)(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	s.mux.HandleFunc("/api/documents", s.handleList)
	s.mux.HandleFunc("/api/documents/upload", s.handleUpload)
	s.mux.HandleFunc("/api/documents/process", s.handleProcess)
	s.mux.HandleFunc("/api/documents/metrics/export.xlsx", s.handleExport)
	s.mux.HandleFunc("/api/documents/", s.handleDocument)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.uploadLimiter, "upload") {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.app.MaxUploadBytes()+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusBadRequest, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	defer r.MultipartForm.RemoveAll()
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	upload, err := s.app.Upload(r.Context(), header.Filename, file, header.Size)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, upload)
}

type processRequest struct {
	FileID string `json:"file_id"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.processLimiter, "process") {
		return
	}
	var req processRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ticket, err := s.app.RequestProcessing(r.Context(), req.FileID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ticket)
}

type documentSummary struct {
	ID           string           `json:"id"`
	Filename     string           `json:"filename"`
	DocumentType string           `json:"document_type"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
	Status       domain.RunStatus `json:"status"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	runs, err := s.app.LatestRuns(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	docs := make([]documentSummary, 0, len(runs))
	for _, run := range runs {
		docs = append(docs, documentSummary{
			ID:           run.ID,
			Filename:     run.Filename,
			DocumentType: run.DocumentType,
			CreatedAt:    run.CreatedAt,
			UpdatedAt:    run.UpdatedAt,
			Status:       run.Status,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"documents": docs,
		"count":     len(docs),
	})
}

type documentDetail struct {
	FileID         string                 `json:"file_id"`
	Filename       string                 `json:"filename"`
	ExtractedText  *string                `json:"extracted_text"`
	StructuredData *domain.ClinicalRecord `json:"structured_data"`
	Status         domain.RunStatus       `json:"status"`
}

// /api/documents/{id}, /api/documents/{id}/status or /api/documents/{id}/metrics
func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/documents/")
	if path == "" {
		s.handleList(w, r)
		return
	}
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if len(parts) == 1 {
		run, err := s.app.GetRun(r.Context(), id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, documentDetail{
			FileID:         run.ID,
			Filename:       run.Filename,
			ExtractedText:  run.ExtractedText,
			StructuredData: run.StructuredData,
			Status:         run.Status,
		})
		return
	}
	switch parts[1] {
	case "status":
		status, err := s.app.Status(r.Context(), id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"file_id": id, "status": status})
	case "metrics":
		m, err := s.app.Metrics(r.Context(), id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	default:
		notFound(w, "not found")
	}
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	data, err := s.app.ExportMetricsXLSX(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="processing-metrics.xlsx"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter Limiter, scope string) bool {
	if limiter == nil {
		return true
	}
	ok, retryAfter := limiter.Allow(r.Context(), scope+":"+util.ClientIP(r, s.trusted))
	if ok {
		return true
	}
	secs := int(math.Ceil(retryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeError(w, http.StatusTooManyRequests, "too many requests")
	return false
}

func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case app.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrNoMetrics):
		notFound(w, "metrics not available")
	case errors.Is(err, app.ErrNotFound):
		notFound(w, "document not found")
	case errors.Is(err, app.ErrInvalidState):
		writeError(w, http.StatusConflict, "document is not in uploaded state")
	case errors.Is(err, app.ErrDispatch):
		util.LoggerFromContext(r.Context()).Error("dispatch failed", "err", err)
		writeError(w, http.StatusServiceUnavailable, "processing could not be scheduled")
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeFor(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCodeFor(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	case message == "metrics not available":
		return "METRICS_NOT_FOUND"
	case message == "file too large":
		return "DOCUMENT_FILE_TOO_LARGE"
	case strings.HasPrefix(message, "file type not allowed"):
		return "DOCUMENT_UNSUPPORTED_FILE_TYPE"
	}

	switch status {
	case http.StatusBadRequest:
		return "DOCUMENT_INVALID_REQUEST"
	case http.StatusNotFound:
		return "DOCUMENT_NOT_FOUND"
	case http.StatusConflict:
		return "DOCUMENT_INVALID_STATE"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case http.StatusServiceUnavailable:
		return "DOCUMENT_DISPATCH_FAILED"
	default:
		if status >= http.StatusInternalServerError {
			return "DOCUMENT_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
