package domain

import (
	"strings"
	"time"
)

type RunStatus string

const (
	RunStatusUploaded   RunStatus = "uploaded"
	RunStatusProcessing RunStatus = "processing"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
)

// Terminal reports whether no further transitions are allowed out of s.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// ParseRunStatus validates a stored or user-supplied status value.
func ParseRunStatus(raw string) (RunStatus, bool) {
	switch s := RunStatus(strings.ToLower(strings.TrimSpace(raw))); s {
	case RunStatusUploaded, RunStatusProcessing, RunStatusCompleted, RunStatusFailed:
		return s, true
	default:
		return "", false
	}
}

// ProcessingRun is one attempt to process one uploaded file.
// Filename, DocumentType and FilePath never change after creation.
type ProcessingRun struct {
	ID             string          `json:"id"`
	Filename       string          `json:"filename"`
	DocumentType   string          `json:"document_type"`
	FilePath       string          `json:"file_path"`
	ExtractedText  *string         `json:"extracted_text"`
	StructuredData *ClinicalRecord `json:"structured_data"`
	Status         RunStatus       `json:"run_status"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type ProcessingMetrics struct {
	ID                        string    `json:"id"`
	RunID                     string    `json:"run_id"`
	ExtractionCompletenessPct *float64  `json:"extraction_completeness_pct"`
	FieldFillRate             *float64  `json:"field_fill_rate"`
	FilledFieldsCount         *int      `json:"filled_fields_count"`
	ExtractedFieldEfficiency  *float64  `json:"extracted_field_efficiency"`
	LLMTokenCost              *float64  `json:"llm_token_cost"`
	PromptTokens              *int      `json:"prompt_tokens"`
	CompletionTokens          *int      `json:"completion_tokens"`
	TotalTokens               *int      `json:"total_tokens"`
	ProcessingTimeSeconds     *float64  `json:"document_run_processing_time"`
	Model                     string    `json:"model,omitempty"`
	CreatedAt                 time.Time `json:"created_at"`
}
