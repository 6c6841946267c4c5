package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type RunModel struct {
	ID             string         `gorm:"primaryKey"`
	Filename       string         `gorm:"not null;index"`
	DocumentType   string         `gorm:"not null"`
	FilePath       string         `gorm:"not null"`
	ExtractedText  *string        `gorm:"type:text"`
	StructuredData datatypes.JSON `gorm:"type:jsonb"`
	RunStatus      string         `gorm:"not null;index"`
	CreatedAt      time.Time      `gorm:"not null;index"`
	UpdatedAt      time.Time      `gorm:"not null"`
}

func (RunModel) TableName() string { return "document_processing_runs" }

type MetricsModel struct {
	ID                        string `gorm:"primaryKey"`
	RunID                     string `gorm:"column:document_processing_runs_id;not null;uniqueIndex"`
	ExtractionCompletenessPct *float64
	FieldFillRate             *float64
	FilledFieldsCount         *int
	ExtractedFieldEfficiency  *float64
	LLMTokenCost              *float64 `gorm:"column:llm_token_cost"`
	PromptTokens              *int
	CompletionTokens          *int
	TotalTokens               *int
	ProcessingTimeSeconds     *float64 `gorm:"column:document_run_processing_time"`
	Model                     string
	CreatedAt                 time.Time `gorm:"not null;index"`
}

func (MetricsModel) TableName() string { return "document_processing_run_metrics" }
