package store

import (
	"context"

	"vetrecords/pkg/domain"
)

// Store defines persistence operations for processing runs and their metrics.
type Store interface {
	// runs
	CreateRun(ctx context.Context, run domain.ProcessingRun) error
	GetRun(ctx context.Context, id string) (domain.ProcessingRun, bool, error)
	UpdateRun(ctx context.Context, run domain.ProcessingRun) error
	// TransitionRun applies the mutable fields of run only while the stored
	// status equals from. applied is false when the row moved on or is gone.
	TransitionRun(ctx context.Context, run domain.ProcessingRun, from domain.RunStatus) (bool, error)
	ListRuns(ctx context.Context) ([]domain.ProcessingRun, error)
	// ListLatestRuns returns one run per filename, the most recently created,
	// newest first.
	ListLatestRuns(ctx context.Context) ([]domain.ProcessingRun, error)

	// metrics
	// SaveMetrics inserts metrics for a run once; saved is false when a row
	// for the run already exists.
	SaveMetrics(ctx context.Context, m domain.ProcessingMetrics) (bool, error)
	GetMetrics(ctx context.Context, runID string) (domain.ProcessingMetrics, bool, error)
	ListMetrics(ctx context.Context) ([]domain.ProcessingMetrics, error)
}
