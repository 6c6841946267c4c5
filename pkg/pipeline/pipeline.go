// Package pipeline drives a ProcessingRun through
// uploaded -> processing -> completed|failed and computes its metrics.
// Request handlers call RequestProcessing; workers feed every queue
// delivery to HandleTask.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"vetrecords/pkg/domain"
	"vetrecords/pkg/extract"
	"vetrecords/pkg/metrics"
	"vetrecords/pkg/queue"
	"vetrecords/pkg/storage"
	"vetrecords/pkg/store"
	"vetrecords/pkg/structuring"
)

const defaultWriteTimeout = 10 * time.Second

// Structurer converts text into a clinical record. It must not fail.
type Structurer interface {
	Structure(ctx context.Context, text string) structuring.Result
}

// Config wires the orchestrator. Extractor and Structurer are only needed
// where tasks are executed.
type Config struct {
	Store      store.Store
	Files      storage.Store
	Queue      queue.Enqueuer
	Extractor  extract.Extractor
	Structurer Structurer
	Pricing    metrics.Pricing
	Logger     *slog.Logger
	// StatusURL builds the polling URL returned with a Ticket.
	StatusURL func(runID string) string
	Clock     func() time.Time
	// WriteTimeout bounds terminal state writes, which ignore task cancellation.
	WriteTimeout time.Duration
}

// Ticket acknowledges an accepted processing request.
type Ticket struct {
	RunID     string           `json:"file_id"`
	Status    domain.RunStatus `json:"status"`
	StatusURL string           `json:"status_url"`
}

type Orchestrator struct {
	store        store.Store
	files        storage.Store
	queue        queue.Enqueuer
	extractor    extract.Extractor
	structurer   Structurer
	pricing      metrics.Pricing
	logger       *slog.Logger
	statusURL    func(string) string
	now          func() time.Time
	writeTimeout time.Duration
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, errors.New("pipeline: run store required")
	}
	if cfg.Files == nil {
		return nil, errors.New("pipeline: file storage required")
	}
	if cfg.Queue == nil {
		return nil, errors.New("pipeline: queue required")
	}
	o := &Orchestrator{
		store:        cfg.Store,
		files:        cfg.Files,
		queue:        cfg.Queue,
		extractor:    cfg.Extractor,
		structurer:   cfg.Structurer,
		pricing:      cfg.Pricing,
		logger:       cfg.Logger,
		statusURL:    cfg.StatusURL,
		now:          cfg.Clock,
		writeTimeout: cfg.WriteTimeout,
	}
	if o.pricing.Rates == nil {
		o.pricing = metrics.DefaultPricing()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.statusURL == nil {
		o.statusURL = func(id string) string { return "/api/documents/" + id + "/status" }
	}
	if o.now == nil {
		o.now = func() time.Time { return time.Now().UTC() }
	}
	if o.writeTimeout <= 0 {
		o.writeTimeout = defaultWriteTimeout
	}
	return o, nil
}

// RequestProcessing moves an uploaded run to processing and schedules the
// work. It never waits for processing itself.
func (o *Orchestrator) RequestProcessing(ctx context.Context, runID string) (Ticket, error) {
	run, ok, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return Ticket{}, fmt.Errorf("load run %s: %w", runID, err)
	}
	if !ok {
		return Ticket{}, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	exists, err := o.files.Exists(ctx, run.FilePath)
	if err != nil {
		return Ticket{}, fmt.Errorf("check file for run %s: %w", runID, err)
	}
	if !exists {
		return Ticket{}, fmt.Errorf("%w: file for run %s is missing", ErrNotFound, runID)
	}
	if run.Status.Terminal() {
		return Ticket{}, fmt.Errorf("%w: run %s already %s", ErrInvalidTransition, runID, run.Status)
	}
	if run.Status != domain.RunStatusUploaded {
		return Ticket{}, fmt.Errorf("%w: run %s is %s", ErrInvalidTransition, runID, run.Status)
	}

	next := run
	next.Status = domain.RunStatusProcessing
	next.UpdatedAt = o.now()
	applied, err := o.store.TransitionRun(ctx, next, domain.RunStatusUploaded)
	if err != nil {
		return Ticket{}, fmt.Errorf("mark run %s processing: %w", runID, err)
	}
	if !applied {
		return Ticket{}, fmt.Errorf("%w: run %s was claimed concurrently", ErrInvalidTransition, runID)
	}

	payload := ProcessDocumentPayload{RunID: run.ID, FileLocator: run.FilePath}
	task, err := o.queue.Enqueue(ctx, TaskProcessDocument, payload)
	if err != nil {
		o.logger.Error("enqueue process_document failed", "run_id", runID, "err", err)
		if _, ferr := o.markFailed(ctx, next); ferr != nil {
			o.logger.Error("mark run failed after dispatch error", "run_id", runID, "err", ferr)
		}
		return Ticket{}, fmt.Errorf("%w: %v", ErrDispatch, err)
	}
	o.logger.Info("processing requested", "run_id", runID, "task_id", task.ID, "filename", run.Filename)
	return Ticket{RunID: run.ID, Status: domain.RunStatusProcessing, StatusURL: o.statusURL(run.ID)}, nil
}

// Status returns the stored status verbatim.
func (o *Orchestrator) Status(ctx context.Context, runID string) (domain.RunStatus, error) {
	run, ok, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return "", fmt.Errorf("load run %s: %w", runID, err)
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return run.Status, nil
}

// HandleTask is the queue.Handler for both task kinds. Deliveries that can
// never succeed are logged and acknowledged.
func (o *Orchestrator) HandleTask(ctx context.Context, task queue.Task) error {
	switch task.Name {
	case TaskProcessDocument:
		var p ProcessDocumentPayload
		if err := task.Decode(&p); err != nil || p.RunID == "" {
			o.logger.Error("drop malformed task", "task_id", task.ID, "task", task.Name, "err", err)
			return nil
		}
		if o.extractor == nil || o.structurer == nil {
			return errors.New("pipeline: this process cannot execute process_document")
		}
		return o.processDocument(ctx, p)
	case TaskComputeMetrics:
		var p ComputeMetricsPayload
		if err := task.Decode(&p); err != nil || p.RunID == "" {
			o.logger.Error("drop malformed task", "task_id", task.ID, "task", task.Name, "err", err)
			return nil
		}
		o.computeMetrics(ctx, p)
		return nil
	default:
		o.logger.Warn("drop unknown task", "task_id", task.ID, "task", task.Name)
		return nil
	}
}

func (o *Orchestrator) processDocument(ctx context.Context, p ProcessDocumentPayload) error {
	logger := o.logger.With("run_id", p.RunID)
	run, ok, err := o.store.GetRun(ctx, p.RunID)
	if err != nil {
		return fmt.Errorf("load run %s: %w", p.RunID, err)
	}
	if !ok {
		logger.Warn("run not found, dropping task")
		return nil
	}
	if run.Status != domain.RunStatusProcessing {
		logger.Info("run not processing, skipping delivery", "status", run.Status)
		return nil
	}
	locator := p.FileLocator
	if locator == "" {
		locator = run.FilePath
	}

	start := o.now()
	text, result, err := o.runStages(ctx, run, locator)
	if err != nil {
		o.logFailure(logger, run, err)
		applied, ferr := o.markFailed(ctx, run)
		if ferr != nil {
			return fmt.Errorf("mark run %s failed: %w", run.ID, ferr)
		}
		if !applied {
			logger.Warn("run left processing before failure was recorded")
		}
		return nil
	}
	elapsed := o.now().Sub(start)

	completed := run
	completed.ExtractedText = &text
	record := result.Record
	completed.StructuredData = &record
	completed.Status = domain.RunStatusCompleted
	completed.UpdatedAt = o.now()
	applied, err := o.transition(ctx, completed, domain.RunStatusProcessing)
	if err != nil {
		return fmt.Errorf("mark run %s completed: %w", run.ID, err)
	}
	if !applied {
		logger.Warn("run left processing before completion was recorded, skipping metrics")
		return nil
	}
	logger.Info("run completed",
		"document_type", run.DocumentType,
		"chars", len(text),
		"degraded", result.Degraded,
		"elapsed_ms", elapsed.Milliseconds(),
	)

	mp := ComputeMetricsPayload{
		RunID:            run.ID,
		ExtractedText:    text,
		StructuredData:   record,
		FileLocator:      locator,
		PromptTokens:     result.PromptTokens,
		CompletionTokens: result.CompletionTokens,
		Model:            result.Model,
		ProcessingTime:   metrics.Seconds(elapsed),
	}
	if _, err := o.queue.Enqueue(context.WithoutCancel(ctx), TaskComputeMetrics, mp); err != nil {
		logger.Error("enqueue compute_metrics failed", "err", err)
	}
	return nil
}

func (o *Orchestrator) runStages(ctx context.Context, run domain.ProcessingRun, locator string) (text string, result structuring.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing: %v", r)
		}
	}()

	path, cleanup, err := storage.Materialize(ctx, o.files, locator)
	if err != nil {
		return "", result, fmt.Errorf("fetch %s: %w", locator, err)
	}
	defer cleanup()

	text, err = o.extractor.Extract(ctx, path, run.DocumentType)
	if err != nil {
		return "", result, err
	}
	return text, o.structurer.Structure(ctx, text), nil
}

func (o *Orchestrator) logFailure(logger *slog.Logger, run domain.ProcessingRun, err error) {
	kind, _ := extract.KindOf(err)
	if kind == extract.KindUnsupportedType {
		logger.Warn("processing failed", "kind", kind, "document_type", run.DocumentType, "err", err)
		return
	}
	if kind == "" {
		kind = extract.KindExtractionFailed
	}
	logger.Error("processing failed", "kind", kind, "document_type", run.DocumentType, "err", err)
}

// markFailed records a failure and drops any partial output.
func (o *Orchestrator) markFailed(ctx context.Context, run domain.ProcessingRun) (bool, error) {
	run.ExtractedText = nil
	run.StructuredData = nil
	run.Status = domain.RunStatusFailed
	run.UpdatedAt = o.now()
	return o.transition(ctx, run, domain.RunStatusProcessing)
}

func (o *Orchestrator) transition(ctx context.Context, run domain.ProcessingRun, from domain.RunStatus) (bool, error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.writeTimeout)
	defer cancel()
	return o.store.TransitionRun(wctx, run, from)
}

// computeMetrics never returns an error; metrics are best effort and must
// not affect the run.
func (o *Orchestrator) computeMetrics(ctx context.Context, p ComputeMetricsPayload) {
	logger := o.logger.With("run_id", p.RunID)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("compute metrics panicked", "panic", fmt.Sprint(r))
		}
	}()

	var baseline *int64
	if p.FileLocator != "" {
		info, err := o.files.Stat(ctx, p.FileLocator)
		if err != nil {
			logger.Warn("file size unavailable, skipping completeness", "err", err)
		} else {
			size := info.Size
			baseline = &size
		}
	}

	m := metrics.Compute(metrics.Input{
		RunID:            p.RunID,
		ExtractedText:    p.ExtractedText,
		Record:           p.StructuredData,
		BaselineBytes:    baseline,
		PromptTokens:     p.PromptTokens,
		CompletionTokens: p.CompletionTokens,
		Model:            p.Model,
		ProcessingTime:   p.ProcessingTime,
	}, o.pricing)
	m.CreatedAt = o.now()

	saved, err := o.store.SaveMetrics(ctx, m)
	if err != nil {
		logger.Error("save metrics failed", "err", err)
		return
	}
	if !saved {
		logger.Info("metrics already recorded, ignoring duplicate")
		return
	}
	logger.Info("metrics recorded", "filled_fields", derefInt(m.FilledFieldsCount), "model", m.Model)
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
