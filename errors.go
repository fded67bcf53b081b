package perf

import (
	"errors"
	"fmt"
)

var (
	ErrNotInitialized     = errors.New("perf: layer not initialized")
	ErrAlreadyInitialized = errors.New("perf: layer already initialized")
	ErrShutdown           = errors.New("perf: layer shut down")
)

// InitError reports which step of Initialize failed. The layer stays safe
// to Shutdown.
type InitError struct {
	Step string
	Err  error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("perf: initialize %s: %v", e.Step, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }
