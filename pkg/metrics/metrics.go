// Package metrics scores the quality and cost of a completed processing run.
// Every function is pure; a nil result means the value is not computable.
package metrics

import (
	"math"
	"time"
	"unicode/utf8"

	"vetrecords/pkg/domain"
)

// ChecklistSize is the number of record fields considered by FilledFields.
const ChecklistSize = 12

// Input is everything the engine needs, captured when the run completed.
type Input struct {
	RunID            string
	ExtractedText    string
	Record           domain.ClinicalRecord
	BaselineBytes    *int64
	PromptTokens     *int
	CompletionTokens *int
	Model            string
	ProcessingTime   *float64
}

// Compute derives the full metrics row for one run.
func Compute(in Input, pricing Pricing) domain.ProcessingMetrics {
	filled := FilledFields(in.Record)
	rate := FieldFillRate(filled)
	cost := TokenCost(in.PromptTokens, in.CompletionTokens, in.Model, pricing)

	m := domain.ProcessingMetrics{
		RunID:                     in.RunID,
		ExtractionCompletenessPct: ExtractionCompleteness(in.ExtractedText, in.BaselineBytes),
		FieldFillRate:             &rate,
		FilledFieldsCount:         &filled,
		ExtractedFieldEfficiency:  FieldEfficiency(cost, filled),
		LLMTokenCost:              cost,
		PromptTokens:              copyInt(in.PromptTokens),
		CompletionTokens:          copyInt(in.CompletionTokens),
		ProcessingTimeSeconds:     copyFloat(in.ProcessingTime),
		Model:                     in.Model,
	}
	if in.PromptTokens != nil && in.CompletionTokens != nil {
		total := *in.PromptTokens + *in.CompletionTokens
		m.TotalTokens = &total
	}
	return m
}

// ExtractionCompleteness compares extracted characters to the source byte size.
func ExtractionCompleteness(text string, baselineBytes *int64) *float64 {
	if baselineBytes == nil || *baselineBytes <= 0 {
		return nil
	}
	pct := float64(utf8.RuneCountInString(text)) / float64(*baselineBytes) * 100
	pct = math.Min(100, pct)
	return &pct
}

// FilledFields counts the checklist fields that carry a value.
func FilledFields(rec domain.ClinicalRecord) int {
	checks := []bool{
		present(rec.PetName),
		present(rec.Species),
		present(rec.Breed),
		present(rec.Weight),
		len(rec.Diagnoses) > 0,
		len(rec.PastMedicalIssues) > 0,
		len(rec.ChronicConditions) > 0,
		len(rec.Procedures) > 0,
		len(rec.Medications) > 0,
		present(rec.SymptomOnsetDate),
		rec.Notes != "",
		clinicPresent(rec.ClinicInfo),
	}
	n := 0
	for _, ok := range checks {
		if ok {
			n++
		}
	}
	return n
}

// FieldFillRate is the filled share of the checklist as a percentage.
func FieldFillRate(filled int) float64 {
	return float64(filled) / ChecklistSize * 100
}

// TokenCost prices a completion; both counts must be known.
func TokenCost(promptTokens, completionTokens *int, model string, pricing Pricing) *float64 {
	if promptTokens == nil || completionTokens == nil {
		return nil
	}
	rate := pricing.RateFor(model)
	cost := float64(*promptTokens)*rate.Input + float64(*completionTokens)*rate.Output
	return &cost
}

// FieldEfficiency is the cost per filled field.
func FieldEfficiency(cost *float64, filled int) *float64 {
	if cost == nil || filled == 0 {
		return nil
	}
	v := *cost / float64(filled)
	return &v
}

// Seconds converts a measured duration for Input.ProcessingTime.
func Seconds(d time.Duration) *float64 {
	v := d.Seconds()
	return &v
}

func present(s *string) bool {
	return s != nil && *s != ""
}

func clinicPresent(c domain.ClinicInfo) bool {
	return present(c.Name) || present(c.Address) || present(c.Phone) || present(c.Veterinarian)
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
