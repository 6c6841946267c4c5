package store

import (
	"context"
	"testing"
	"time"

	"vetrecords/pkg/domain"
)

func newRun(id, filename string, created time.Time) domain.ProcessingRun {
	return domain.ProcessingRun{
		ID:           id,
		Filename:     filename,
		DocumentType: "pdf",
		FilePath:     "documents/" + id + "/" + filename,
		Status:       domain.RunStatusUploaded,
		CreatedAt:    created,
		UpdatedAt:    created,
	}
}

func TestMemoryStoreTransitionRunCompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()
	if err := s.CreateRun(ctx, newRun("r1", "bella.pdf", now)); err != nil {
		t.Fatalf("create: %v", err)
	}

	run, _, _ := s.GetRun(ctx, "r1")
	run.Status = domain.RunStatusProcessing
	applied, err := s.TransitionRun(ctx, run, domain.RunStatusUploaded)
	if err != nil || !applied {
		t.Fatalf("expected transition applied, got applied=%v err=%v", applied, err)
	}

	applied, err = s.TransitionRun(ctx, run, domain.RunStatusUploaded)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if applied {
		t.Fatalf("expected second transition from uploaded to be rejected")
	}

	missing := newRun("nope", "x.pdf", now)
	if applied, _ := s.TransitionRun(ctx, missing, domain.RunStatusUploaded); applied {
		t.Fatalf("expected missing run not to transition")
	}
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	run := newRun("r1", "bella.pdf", time.Now().UTC())
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("create: %v", err)
	}

	text := "hello"
	rec := domain.DegradedRecord("hello")
	run.ExtractedText = &text
	run.StructuredData = &rec
	run.Status = domain.RunStatusCompleted
	if err := s.UpdateRun(ctx, run); err != nil {
		t.Fatalf("update: %v", err)
	}
	text = "mutated"
	rec.Notes = "mutated"

	got, ok, err := s.GetRun(ctx, "r1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if *got.ExtractedText != "hello" || got.StructuredData.Notes != "hello" {
		t.Fatalf("store shared caller memory: %+v", got)
	}
	if got.Filename != "bella.pdf" || got.DocumentType != "pdf" {
		t.Fatalf("immutable fields changed: %+v", got)
	}
}

func TestMemoryStoreListLatestRuns(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	runs := []domain.ProcessingRun{
		newRun("a1", "bella.pdf", base),
		newRun("a2", "bella.pdf", base.Add(2*time.Hour)),
		newRun("b1", "max.png", base.Add(time.Hour)),
		newRun("c1", "luna.docx", base.Add(30*time.Minute)),
		newRun("c2", "luna.docx", base.Add(30*time.Minute)),
	}
	for _, run := range runs {
		if err := s.CreateRun(ctx, run); err != nil {
			t.Fatalf("create %s: %v", run.ID, err)
		}
	}

	latest, err := s.ListLatestRuns(ctx)
	if err != nil {
		t.Fatalf("list latest: %v", err)
	}
	if len(latest) != 3 {
		t.Fatalf("expected one run per filename, got %d", len(latest))
	}
	want := []string{"a2", "b1", "c2"}
	for i, id := range want {
		if latest[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, latest[i].ID)
		}
	}
}

func TestMemoryStoreSaveMetricsOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.CreateRun(ctx, newRun("r1", "bella.pdf", time.Now().UTC())); err != nil {
		t.Fatalf("create: %v", err)
	}
	filled := 2
	saved, err := s.SaveMetrics(ctx, domain.ProcessingMetrics{RunID: "r1", FilledFieldsCount: &filled})
	if err != nil || !saved {
		t.Fatalf("expected first save, got saved=%v err=%v", saved, err)
	}
	saved, err = s.SaveMetrics(ctx, domain.ProcessingMetrics{RunID: "r1"})
	if err != nil || saved {
		t.Fatalf("expected duplicate save ignored, got saved=%v err=%v", saved, err)
	}
	m, ok, _ := s.GetMetrics(ctx, "r1")
	if !ok || m.FilledFieldsCount == nil || *m.FilledFieldsCount != 2 || m.ID == "" {
		t.Fatalf("unexpected metrics: %+v", m)
	}
	if _, err := s.SaveMetrics(ctx, domain.ProcessingMetrics{RunID: "ghost"}); err == nil {
		t.Fatalf("expected error for unknown run")
	}
}

func TestMemoryStoreCopiesMetrics(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.CreateRun(ctx, newRun("r1", "bella.pdf", time.Now().UTC())); err != nil {
		t.Fatalf("create: %v", err)
	}
	fill := 75.0
	tokens := 900
	if _, err := s.SaveMetrics(ctx, domain.ProcessingMetrics{RunID: "r1", FieldFillRate: &fill, TotalTokens: &tokens}); err != nil {
		t.Fatalf("save: %v", err)
	}
	fill, tokens = 0, 0

	got, _, _ := s.GetMetrics(ctx, "r1")
	if *got.FieldFillRate != 75 || *got.TotalTokens != 900 {
		t.Fatalf("stored metrics changed with caller values: %+v", got)
	}
	*got.FieldFillRate = 1
	listed, _ := s.ListMetrics(ctx)
	if len(listed) != 1 || *listed[0].FieldFillRate != 75 {
		t.Fatalf("stored metrics changed through a returned copy: %+v", listed)
	}
	*listed[0].TotalTokens = 1
	again, _, _ := s.GetMetrics(ctx, "r1")
	if *again.TotalTokens != 900 {
		t.Fatalf("list returned shared pointers")
	}
}
