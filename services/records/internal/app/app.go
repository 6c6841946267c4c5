package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"vetrecords/internal/util"
	"vetrecords/pkg/domain"
	"vetrecords/pkg/pipeline"
	"vetrecords/pkg/storage"
	"vetrecords/pkg/store"
)

const DefaultMaxUploadBytes = 50 << 20

// DefaultAllowedExtensions are the upload types accepted out of the box.
var DefaultAllowedExtensions = []string{".pdf", ".doc", ".docx", ".jpg", ".jpeg", ".png"}

// Processor starts processing and reports status.
type Processor interface {
	RequestProcessing(ctx context.Context, runID string) (pipeline.Ticket, error)
	Status(ctx context.Context, runID string) (domain.RunStatus, error)
}

// Config holds runtime configuration for the core application.
type Config struct {
	Store             store.Store
	Files             storage.Store
	Processor         Processor
	MaxUploadBytes    int64
	AllowedExtensions []string
	Logger            *slog.Logger
	Clock             func() time.Time
}

// App validates uploads, records runs and answers queries about them.
type App struct {
	store     store.Store
	files     storage.Store
	processor Processor
	maxUpload int64
	allowed   []string
	logger    *slog.Logger
	now       func() time.Time
}

// Upload is the outcome of a successful upload.
type Upload struct {
	ID            string `json:"id"`
	Filename      string `json:"filename"`
	SavedFilename string `json:"saved_filename"`
	Size          int64  `json:"size"`
	ContentType   string `json:"content_type"`
	Status        string `json:"status"`
	Message       string `json:"message"`
}

// New constructs the application over already opened backends.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("run store required")
	}
	if cfg.Files == nil {
		return nil, fmt.Errorf("file storage required")
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("processor required")
	}
	a := &App{
		store:     cfg.Store,
		files:     cfg.Files,
		processor: cfg.Processor,
		maxUpload: cfg.MaxUploadBytes,
		logger:    cfg.Logger,
		now:       cfg.Clock,
	}
	if a.maxUpload <= 0 {
		a.maxUpload = DefaultMaxUploadBytes
	}
	for _, ext := range cfg.AllowedExtensions {
		if ext = strings.ToLower(strings.TrimSpace(ext)); ext != "" {
			a.allowed = append(a.allowed, ext)
		}
	}
	if len(a.allowed) == 0 {
		a.allowed = slices.Clone(DefaultAllowedExtensions)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.now == nil {
		a.now = func() time.Time { return time.Now().UTC() }
	}
	return a, nil
}

// AllowedExtensions lists accepted upload extensions.
func (a *App) AllowedExtensions() []string { return slices.Clone(a.allowed) }

// MaxUploadBytes is the largest accepted upload.
func (a *App) MaxUploadBytes() int64 { return a.maxUpload }

// Upload stores the file and records a run in uploaded state. Nothing is
// processed until RequestProcessing.
func (a *App) Upload(ctx context.Context, filename string, r io.Reader, size int64) (Upload, error) {
	filename = filepath.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	if filename == "" || filename == "." || filename == "/" {
		return Upload{}, invalid("filename required")
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !slices.Contains(a.allowed, ext) {
		return Upload{}, invalid("file type not allowed. allowed types: " + strings.Join(a.allowed, ", "))
	}
	if size == 0 {
		return Upload{}, invalid("file is empty")
	}
	if size > a.maxUpload {
		return Upload{}, invalid("file too large")
	}

	id := util.NewID()
	key := storage.DocumentKey(id, filename)
	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := a.files.Save(ctx, key, r, size, contentType); err != nil {
		return Upload{}, fmt.Errorf("save file: %w", err)
	}

	now := a.now()
	run := domain.ProcessingRun{
		ID:           id,
		Filename:     filename,
		DocumentType: strings.TrimPrefix(ext, "."),
		FilePath:     key,
		Status:       domain.RunStatusUploaded,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.CreateRun(ctx, run); err != nil {
		if derr := a.files.Delete(context.WithoutCancel(ctx), key); derr != nil {
			a.logger.Error("remove orphaned upload", "run_id", id, "key", key, "err", derr)
		}
		return Upload{}, fmt.Errorf("save run: %w", err)
	}
	util.LoggerFromContext(ctx).Info("document uploaded", "run_id", id, "filename", filename, "size", size)
	return Upload{
		ID:            id,
		Filename:      filename,
		SavedFilename: filepath.Base(key),
		Size:          size,
		ContentType:   contentType,
		Status:        string(domain.RunStatusUploaded),
		Message:       "File uploaded successfully",
	}, nil
}

// RequestProcessing hands the run to the pipeline.
func (a *App) RequestProcessing(ctx context.Context, runID string) (pipeline.Ticket, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return pipeline.Ticket{}, invalid("file_id is required")
	}
	return a.processor.RequestProcessing(ctx, runID)
}

// GetRun returns the full run, including extracted text and structured data.
func (a *App) GetRun(ctx context.Context, runID string) (domain.ProcessingRun, error) {
	run, ok, err := a.store.GetRun(ctx, runID)
	if err != nil {
		return domain.ProcessingRun{}, fmt.Errorf("load run %s: %w", runID, err)
	}
	if !ok {
		return domain.ProcessingRun{}, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return run, nil
}

func (a *App) Status(ctx context.Context, runID string) (domain.RunStatus, error) {
	return a.processor.Status(ctx, runID)
}

// LatestRuns returns the newest run for each filename.
func (a *App) LatestRuns(ctx context.Context) ([]domain.ProcessingRun, error) {
	return a.store.ListLatestRuns(ctx)
}

// Metrics returns the metrics of a run. ErrNoMetrics means the run exists
// but nothing has been recorded.
func (a *App) Metrics(ctx context.Context, runID string) (domain.ProcessingMetrics, error) {
	if _, err := a.GetRun(ctx, runID); err != nil {
		return domain.ProcessingMetrics{}, err
	}
	m, ok, err := a.store.GetMetrics(ctx, runID)
	if err != nil {
		return domain.ProcessingMetrics{}, fmt.Errorf("load metrics %s: %w", runID, err)
	}
	if !ok {
		return domain.ProcessingMetrics{}, fmt.Errorf("%w: %s", ErrNoMetrics, runID)
	}
	return m, nil
}
