package app

import (
	"errors"

	"vetrecords/pkg/pipeline"
)

var (
	ErrNotFound     = pipeline.ErrNotFound
	ErrInvalidState = pipeline.ErrInvalidTransition
	ErrDispatch     = pipeline.ErrDispatch
	// ErrNoMetrics means the run exists but compute_metrics has not recorded anything yet.
	ErrNoMetrics = errors.New("metrics not available")
)

// ValidationError rejects an upload before anything is stored.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalid(msg string) error { return &ValidationError{Msg: msg} }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
