package app

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"vetrecords/pkg/domain"
	"vetrecords/pkg/pipeline"
	"vetrecords/pkg/queue"
	"vetrecords/pkg/storage"
	"vetrecords/pkg/store"
)

type failingCreateStore struct {
	*store.MemoryStore
}

func (failingCreateStore) CreateRun(context.Context, domain.ProcessingRun) error {
	return errors.New("database unavailable")
}

func newTestApp(t *testing.T, runs store.Store) (*App, *storage.FileStore) {
	t.Helper()
	files, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	if runs == nil {
		runs = store.NewMemoryStore()
	}
	orch, err := pipeline.New(pipeline.Config{
		Store: runs,
		Files: files,
		Queue: queue.NewMemoryQueue(queue.MemoryQueueConfig{}),
	})
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	a, err := New(Config{Store: runs, Files: files, Processor: orch, MaxUploadBytes: 1024})
	if err != nil {
		t.Fatalf("app: %v", err)
	}
	return a, files
}

func TestUploadValidation(t *testing.T) {
	a, _ := newTestApp(t, nil)
	ctx := context.Background()
	cases := []struct {
		name     string
		filename string
		size     int64
		want     string
	}{
		{"extension", "notes.txt", 10, "file type not allowed. allowed types: .pdf, .doc, .docx, .jpg, .jpeg, .png"},
		{"empty", "scan.png", 0, "file is empty"},
		{"too large", "scan.png", 2048, "file too large"},
	}
	for _, tc := range cases {
		_, err := a.Upload(ctx, tc.filename, strings.NewReader("x"), tc.size)
		if !IsValidation(err) || err.Error() != tc.want {
			t.Fatalf("%s: expected validation error %q, got %v", tc.name, tc.want, err)
		}
	}
	runs, _ := a.LatestRuns(ctx)
	if len(runs) != 0 {
		t.Fatalf("expected no runs after rejected uploads, got %d", len(runs))
	}
}

func TestUploadRecordsRun(t *testing.T) {
	a, files := newTestApp(t, nil)
	ctx := context.Background()
	body := "%PDF-1.4 visit summary"
	up, err := a.Upload(ctx, "../Bella Visit.PDF", strings.NewReader(body), int64(len(body)))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if up.Status != "uploaded" || up.Message != "File uploaded successfully" || up.ContentType != "application/pdf" {
		t.Fatalf("unexpected upload %+v", up)
	}
	if up.Filename != "Bella Visit.PDF" || up.SavedFilename != "Bella_Visit.PDF" {
		t.Fatalf("unexpected names %+v", up)
	}
	run, err := a.GetRun(ctx, up.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.DocumentType != "pdf" || run.Status != domain.RunStatusUploaded || run.ExtractedText != nil {
		t.Fatalf("unexpected run %+v", run)
	}
	if ok, _ := files.Exists(ctx, run.FilePath); !ok {
		t.Fatalf("expected stored file at %s", run.FilePath)
	}
}

func TestUploadRemovesFileWhenRunNotSaved(t *testing.T) {
	dir := t.TempDir()
	files, err := storage.NewFileStore(dir)
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	runs := failingCreateStore{store.NewMemoryStore()}
	orch, err := pipeline.New(pipeline.Config{Store: runs, Files: files, Queue: queue.NewMemoryQueue(queue.MemoryQueueConfig{})})
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	a, err := New(Config{Store: runs, Files: files, Processor: orch})
	if err != nil {
		t.Fatalf("app: %v", err)
	}

	up, err := a.Upload(context.Background(), "scan.png", strings.NewReader("png"), 3)
	if err == nil {
		t.Fatalf("expected store error, got upload %+v", up)
	}
	if IsValidation(err) {
		t.Fatalf("store failure must not be a validation error")
	}
	var stored []string
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			stored = append(stored, p)
		}
		return nil
	})
	if len(stored) != 0 {
		t.Fatalf("expected orphaned upload to be removed, found %v", stored)
	}
}

func TestProcessingAndMetricsLifecycle(t *testing.T) {
	runs := store.NewMemoryStore()
	a, _ := newTestApp(t, runs)
	ctx := context.Background()
	up, err := a.Upload(ctx, "labs.jpg", strings.NewReader("jpeg"), 4)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	if _, err := a.Metrics(ctx, up.ID); !errors.Is(err, ErrNoMetrics) {
		t.Fatalf("expected ErrNoMetrics, got %v", err)
	}
	if _, err := a.Metrics(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	ticket, err := a.RequestProcessing(ctx, up.ID)
	if err != nil {
		t.Fatalf("request processing: %v", err)
	}
	if ticket.Status != domain.RunStatusProcessing || ticket.StatusURL != "/api/documents/"+up.ID+"/status" {
		t.Fatalf("unexpected ticket %+v", ticket)
	}
	if _, err := a.RequestProcessing(ctx, up.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on second request, got %v", err)
	}
	if _, err := a.RequestProcessing(ctx, " "); !IsValidation(err) {
		t.Fatalf("expected validation error for blank id, got %v", err)
	}
	status, err := a.Status(ctx, up.ID)
	if err != nil || status != domain.RunStatusProcessing {
		t.Fatalf("status = %q, %v", status, err)
	}

	cost := 0.00027
	if _, err := runs.SaveMetrics(ctx, domain.ProcessingMetrics{RunID: up.ID, LLMTokenCost: &cost, Model: "gpt-4o-mini", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("save metrics: %v", err)
	}
	m, err := a.Metrics(ctx, up.ID)
	if err != nil || m.LLMTokenCost == nil || *m.LLMTokenCost != cost {
		t.Fatalf("metrics = %+v, %v", m, err)
	}
}

func TestExportMetricsXLSX(t *testing.T) {
	runs := store.NewMemoryStore()
	a, _ := newTestApp(t, runs)
	ctx := context.Background()
	up, err := a.Upload(ctx, "visit.docx", strings.NewReader("docx"), 4)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	filled, completeness := 7, 48.5
	if _, err := runs.SaveMetrics(ctx, domain.ProcessingMetrics{
		RunID:                     up.ID,
		FilledFieldsCount:         &filled,
		ExtractionCompletenessPct: &completeness,
		CreatedAt:                 time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("save metrics: %v", err)
	}

	data, err := a.ExportMetricsXLSX(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(metricsSheet)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header and one row, got %d", len(rows))
	}
	if rows[0][0] != "Run ID" || rows[1][0] != up.ID || rows[1][1] != "visit.docx" {
		t.Fatalf("unexpected rows %v", rows)
	}
	if rows[1][6] != "7" || rows[1][13] != "2024-03-02T10:00:00Z" {
		t.Fatalf("unexpected metric cells %v", rows[1])
	}
	if rows[1][7] != "" {
		t.Fatalf("absent cost should be blank, got %q", rows[1][7])
	}
}
