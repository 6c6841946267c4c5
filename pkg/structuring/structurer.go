// Package structuring turns extracted text into a domain.ClinicalRecord with
// one JSON-mode LLM call. It never fails: any problem yields a degraded
// record whose notes carry the start of the text.
package structuring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"vetrecords/pkg/ai"
	"vetrecords/pkg/domain"
)

// FallbackNotesLimit is the number of runes of source text kept in notes when
// structuring degrades.
const FallbackNotesLimit = 500

// Result is the record plus the usage needed for cost metrics.
type Result struct {
	Record           domain.ClinicalRecord
	PromptTokens     *int
	CompletionTokens *int
	Model            string
	Degraded         bool
	Reason           string
}

// Structurer calls the generator; a nil generator always degrades.
type Structurer struct {
	gen    ai.TextGenerator
	model  string
	logger *slog.Logger
}

func New(gen ai.TextGenerator, model string, logger *slog.Logger) *Structurer {
	model = strings.TrimSpace(model)
	if model == "" {
		model = ai.DefaultModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Structurer{gen: gen, model: model, logger: logger}
}

func (s *Structurer) Structure(ctx context.Context, text string) Result {
	if strings.TrimSpace(text) == "" {
		return s.degrade(text, "empty text")
	}
	if s.gen == nil {
		return s.degrade(text, "llm not configured")
	}

	gen, err := s.gen.GenerateText(ctx, systemPrompt, userPrompt(text))
	if err != nil {
		return s.degrade(text, fmt.Sprintf("llm request failed: %v", err))
	}
	record, err := parseRecord(gen.Text)
	if err != nil {
		return s.degrade(text, err.Error())
	}

	model := gen.Model
	if model == "" {
		model = s.model
	}
	s.logger.Info("record structured",
		"model", model,
		"diagnoses", len(record.Diagnoses),
		"procedures", len(record.Procedures),
		"medications", len(record.Medications),
	)
	return Result{
		Record:           record,
		PromptTokens:     gen.PromptTokens,
		CompletionTokens: gen.CompletionTokens,
		Model:            model,
	}
}

func (s *Structurer) degrade(text, reason string) Result {
	s.logger.Warn("structuring degraded, using fallback record", "reason", reason, "model", s.model)
	return Result{
		Record:   domain.DegradedRecord(truncateRunes(text, FallbackNotesLimit)),
		Model:    s.model,
		Degraded: true,
		Reason:   reason,
	}
}

func parseRecord(content string) (domain.ClinicalRecord, error) {
	raw := []byte(stripFences(content))
	if err := validate(raw); err != nil {
		return domain.ClinicalRecord{}, err
	}
	var record domain.ClinicalRecord
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&record); err != nil {
		return domain.ClinicalRecord{}, fmt.Errorf("decode record: %w", err)
	}
	record.Normalize()
	return record, nil
}

// stripFences removes a surrounding markdown code fence such as ```json.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
