package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"vetrecords/pkg/domain"
)

const migrateLockID int64 = 51734021

type GormStoreOptions struct {
	SlowThreshold time.Duration
	MaxOpenConns  int
}

type GormStoreOption func(*GormStoreOptions)

// WithSlowThreshold sets the duration above which queries are logged.
func WithSlowThreshold(d time.Duration) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.SlowThreshold = d
	}
}

// WithMaxOpenConns caps the connection pool.
func WithMaxOpenConns(n int) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.MaxOpenConns = n
	}
}

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string, options ...GormStoreOption) (*GormStore, error) {
	opts := GormStoreOptions{SlowThreshold: time.Second}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}

	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             opts.SlowThreshold,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("get sql db: %w", err)
		}
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&RunModel{}, &MetricsModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'document_processing_run_metrics'
					AND constraint_name = 'document_processing_run_metrics_run_fkey'
				) THEN
					ALTER TABLE document_processing_run_metrics
					ADD CONSTRAINT document_processing_run_metrics_run_fkey
					FOREIGN KEY (document_processing_runs_id) REFERENCES document_processing_runs(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure metrics foreign key: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreateRun inserts a new run.
func (s *GormStore) CreateRun(ctx context.Context, run domain.ProcessingRun) error {
	model, err := runToModel(run)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// GetRun returns a run by ID.
func (s *GormStore) GetRun(ctx context.Context, id string) (domain.ProcessingRun, bool, error) {
	var model RunModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ProcessingRun{}, false, nil
		}
		return domain.ProcessingRun{}, false, err
	}
	run, err := runFromModel(model)
	if err != nil {
		return domain.ProcessingRun{}, false, err
	}
	return run, true, nil
}

// UpdateRun replaces the mutable columns of a run.
func (s *GormStore) UpdateRun(ctx context.Context, run domain.ProcessingRun) error {
	updates, err := mutableColumns(run)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&RunModel{}).Where("id = ?", run.ID).Updates(updates).Error
}

// TransitionRun updates a run only while it is still in status from.
func (s *GormStore) TransitionRun(ctx context.Context, run domain.ProcessingRun, from domain.RunStatus) (bool, error) {
	updates, err := mutableColumns(run)
	if err != nil {
		return false, err
	}
	res := s.db.WithContext(ctx).Model(&RunModel{}).
		Where("id = ? AND run_status = ?", run.ID, string(from)).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListRuns returns all runs, newest first.
func (s *GormStore) ListRuns(ctx context.Context) ([]domain.ProcessingRun, error) {
	var models []RunModel
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	return runsFromModels(models)
}

// ListLatestRuns picks the newest run per filename.
func (s *GormStore) ListLatestRuns(ctx context.Context) ([]domain.ProcessingRun, error) {
	var models []RunModel
	err := s.db.WithContext(ctx).Raw(`
		SELECT * FROM (
			SELECT DISTINCT ON (filename) *
			FROM document_processing_runs
			ORDER BY filename, created_at DESC, id DESC
		) latest
		ORDER BY created_at DESC
	`).Scan(&models).Error
	if err != nil {
		return nil, err
	}
	return runsFromModels(models)
}

// SaveMetrics inserts the metrics row for a run unless one exists.
func (s *GormStore) SaveMetrics(ctx context.Context, m domain.ProcessingMetrics) (bool, error) {
	model := metricsToModel(m)
	if model.ID == "" {
		model.ID = uuid.NewString()
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "document_processing_runs_id"}},
		DoNothing: true,
	}).Create(&model)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// GetMetrics returns the metrics row for a run.
func (s *GormStore) GetMetrics(ctx context.Context, runID string) (domain.ProcessingMetrics, bool, error) {
	var model MetricsModel
	if err := s.db.WithContext(ctx).First(&model, "document_processing_runs_id = ?", runID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ProcessingMetrics{}, false, nil
		}
		return domain.ProcessingMetrics{}, false, err
	}
	return metricsFromModel(model), true, nil
}

// ListMetrics returns all metrics rows, newest first.
func (s *GormStore) ListMetrics(ctx context.Context) ([]domain.ProcessingMetrics, error) {
	var models []MetricsModel
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.ProcessingMetrics, 0, len(models))
	for _, m := range models {
		res = append(res, metricsFromModel(m))
	}
	return res, nil
}

func mutableColumns(run domain.ProcessingRun) (map[string]any, error) {
	data, err := encodeRecord(run.StructuredData)
	if err != nil {
		return nil, err
	}
	updatedAt := run.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	return map[string]any{
		"extracted_text":  run.ExtractedText,
		"structured_data": data,
		"run_status":      string(run.Status),
		"updated_at":      updatedAt,
	}, nil
}

func encodeRecord(rec *domain.ClinicalRecord) (datatypes.JSON, error) {
	if rec == nil {
		return nil, nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode structured data: %w", err)
	}
	return datatypes.JSON(data), nil
}

func runToModel(run domain.ProcessingRun) (RunModel, error) {
	data, err := encodeRecord(run.StructuredData)
	if err != nil {
		return RunModel{}, err
	}
	return RunModel{
		ID:             run.ID,
		Filename:       run.Filename,
		DocumentType:   run.DocumentType,
		FilePath:       run.FilePath,
		ExtractedText:  run.ExtractedText,
		StructuredData: data,
		RunStatus:      string(run.Status),
		CreatedAt:      run.CreatedAt,
		UpdatedAt:      run.UpdatedAt,
	}, nil
}

func runFromModel(m RunModel) (domain.ProcessingRun, error) {
	status, ok := domain.ParseRunStatus(m.RunStatus)
	if !ok {
		return domain.ProcessingRun{}, fmt.Errorf("run %s has unknown status %q", m.ID, m.RunStatus)
	}
	run := domain.ProcessingRun{
		ID:            m.ID,
		Filename:      m.Filename,
		DocumentType:  m.DocumentType,
		FilePath:      m.FilePath,
		ExtractedText: m.ExtractedText,
		Status:        status,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
	if len(m.StructuredData) > 0 && string(m.StructuredData) != "null" {
		var rec domain.ClinicalRecord
		if err := json.Unmarshal(m.StructuredData, &rec); err != nil {
			return domain.ProcessingRun{}, fmt.Errorf("decode structured data for run %s: %w", m.ID, err)
		}
		rec.Normalize()
		run.StructuredData = &rec
	}
	return run, nil
}

func runsFromModels(models []RunModel) ([]domain.ProcessingRun, error) {
	res := make([]domain.ProcessingRun, 0, len(models))
	for _, m := range models {
		run, err := runFromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, nil
}

func metricsToModel(m domain.ProcessingMetrics) MetricsModel {
	return MetricsModel{
		ID:                        m.ID,
		RunID:                     m.RunID,
		ExtractionCompletenessPct: m.ExtractionCompletenessPct,
		FieldFillRate:             m.FieldFillRate,
		FilledFieldsCount:         m.FilledFieldsCount,
		ExtractedFieldEfficiency:  m.ExtractedFieldEfficiency,
		LLMTokenCost:              m.LLMTokenCost,
		PromptTokens:              m.PromptTokens,
		CompletionTokens:          m.CompletionTokens,
		TotalTokens:               m.TotalTokens,
		ProcessingTimeSeconds:     m.ProcessingTimeSeconds,
		Model:                     m.Model,
		CreatedAt:                 m.CreatedAt,
	}
}

func metricsFromModel(m MetricsModel) domain.ProcessingMetrics {
	return domain.ProcessingMetrics{
		ID:                        m.ID,
		RunID:                     m.RunID,
		ExtractionCompletenessPct: m.ExtractionCompletenessPct,
		FieldFillRate:             m.FieldFillRate,
		FilledFieldsCount:         m.FilledFieldsCount,
		ExtractedFieldEfficiency:  m.ExtractedFieldEfficiency,
		LLMTokenCost:              m.LLMTokenCost,
		PromptTokens:              m.PromptTokens,
		CompletionTokens:          m.CompletionTokens,
		TotalTokens:               m.TotalTokens,
		ProcessingTimeSeconds:     m.ProcessingTimeSeconds,
		Model:                     m.Model,
		CreatedAt:                 m.CreatedAt,
	}
}
