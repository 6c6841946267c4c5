package pipeline

import "vetrecords/pkg/domain"

const (
	TaskProcessDocument = "process_document"
	TaskComputeMetrics  = "compute_metrics"
)

// ProcessDocumentPayload asks a worker to extract and structure one run.
type ProcessDocumentPayload struct {
	RunID       string `json:"run_id"`
	FileLocator string `json:"file_locator"`
}

// ComputeMetricsPayload carries everything captured when a run completed.
type ComputeMetricsPayload struct {
	RunID            string                `json:"run_id"`
	ExtractedText    string                `json:"extracted_text"`
	StructuredData   domain.ClinicalRecord `json:"structured_data"`
	FileLocator      string                `json:"file_locator"`
	PromptTokens     *int                  `json:"prompt_tokens,omitempty"`
	CompletionTokens *int                  `json:"completion_tokens,omitempty"`
	Model            string                `json:"model"`
	ProcessingTime   *float64              `json:"processing_time,omitempty"`
}
