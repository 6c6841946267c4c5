package pipeline

import "errors"

var (
	ErrNotFound          = errors.New("run not found")
	ErrInvalidTransition = errors.New("run is not in a processable state")
	ErrDispatch          = errors.New("could not dispatch processing task")
)
