package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"vetrecords/pkg/domain"
)

// MemoryStore keeps runs and metrics in process memory.
// Values are copied on the way in and out so callers never share state.
type MemoryStore struct {
	mu      sync.RWMutex
	runs    map[string]domain.ProcessingRun
	metrics map[string]domain.ProcessingMetrics
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:    make(map[string]domain.ProcessingRun),
		metrics: make(map[string]domain.ProcessingMetrics),
	}
}

func (s *MemoryStore) CreateRun(_ context.Context, run domain.ProcessingRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (domain.ProcessingRun, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return domain.ProcessingRun{}, false, nil
	}
	return cloneRun(run), true, nil
}

func (s *MemoryStore) UpdateRun(_ context.Context, run domain.ProcessingRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.runs[run.ID]
	if !ok {
		return nil
	}
	s.runs[run.ID] = applyMutable(current, run)
	return nil
}

func (s *MemoryStore) TransitionRun(_ context.Context, run domain.ProcessingRun, from domain.RunStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.runs[run.ID]
	if !ok || current.Status != from {
		return false, nil
	}
	s.runs[run.ID] = applyMutable(current, run)
	return true, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]domain.ProcessingRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]domain.ProcessingRun, 0, len(s.runs))
	for _, run := range s.runs {
		res = append(res, cloneRun(run))
	}
	sortNewestFirst(res)
	return res, nil
}

func (s *MemoryStore) ListLatestRuns(_ context.Context) ([]domain.ProcessingRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest := make(map[string]domain.ProcessingRun)
	for _, run := range s.runs {
		cur, ok := latest[run.Filename]
		if !ok || newer(run, cur) {
			latest[run.Filename] = run
		}
	}
	res := make([]domain.ProcessingRun, 0, len(latest))
	for _, run := range latest {
		res = append(res, cloneRun(run))
	}
	sortNewestFirst(res)
	return res, nil
}

func (s *MemoryStore) SaveMetrics(_ context.Context, m domain.ProcessingMetrics) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[m.RunID]; !ok {
		return false, fmt.Errorf("metrics reference unknown run %s", m.RunID)
	}
	if _, exists := s.metrics[m.RunID]; exists {
		return false, nil
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.metrics[m.RunID] = cloneMetrics(m)
	return true, nil
}

func (s *MemoryStore) GetMetrics(_ context.Context, runID string) (domain.ProcessingMetrics, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.metrics[runID]
	return cloneMetrics(m), ok, nil
}

func (s *MemoryStore) ListMetrics(_ context.Context) ([]domain.ProcessingMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]domain.ProcessingMetrics, 0, len(s.metrics))
	for _, m := range s.metrics {
		res = append(res, cloneMetrics(m))
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].RunID > res[j].RunID
		}
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	return res, nil
}

func newer(a, b domain.ProcessingRun) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID > b.ID
	}
	return a.CreatedAt.After(b.CreatedAt)
}

func sortNewestFirst(runs []domain.ProcessingRun) {
	sort.Slice(runs, func(i, j int) bool { return newer(runs[i], runs[j]) })
}

func applyMutable(current, next domain.ProcessingRun) domain.ProcessingRun {
	next = cloneRun(next)
	current.ExtractedText = next.ExtractedText
	current.StructuredData = next.StructuredData
	current.Status = next.Status
	current.UpdatedAt = next.UpdatedAt
	if current.UpdatedAt.IsZero() {
		current.UpdatedAt = time.Now().UTC()
	}
	return current
}

func cloneRun(run domain.ProcessingRun) domain.ProcessingRun {
	if run.ExtractedText != nil {
		text := *run.ExtractedText
		run.ExtractedText = &text
	}
	if run.StructuredData != nil {
		rec := cloneRecord(*run.StructuredData)
		run.StructuredData = &rec
	}
	return run
}

func cloneMetrics(m domain.ProcessingMetrics) domain.ProcessingMetrics {
	m.ExtractionCompletenessPct = cloneFloat(m.ExtractionCompletenessPct)
	m.FieldFillRate = cloneFloat(m.FieldFillRate)
	m.FilledFieldsCount = cloneInt(m.FilledFieldsCount)
	m.ExtractedFieldEfficiency = cloneFloat(m.ExtractedFieldEfficiency)
	m.LLMTokenCost = cloneFloat(m.LLMTokenCost)
	m.PromptTokens = cloneInt(m.PromptTokens)
	m.CompletionTokens = cloneInt(m.CompletionTokens)
	m.TotalTokens = cloneInt(m.TotalTokens)
	m.ProcessingTimeSeconds = cloneFloat(m.ProcessingTimeSeconds)
	return m
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneRecord(rec domain.ClinicalRecord) domain.ClinicalRecord {
	rec.Diagnoses = append([]domain.Diagnosis(nil), rec.Diagnoses...)
	rec.PastMedicalIssues = append([]string(nil), rec.PastMedicalIssues...)
	rec.ChronicConditions = append([]string(nil), rec.ChronicConditions...)
	rec.Procedures = append([]domain.Procedure(nil), rec.Procedures...)
	rec.Medications = append([]domain.Medication(nil), rec.Medications...)
	rec.Normalize()
	return rec
}
