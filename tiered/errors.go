package tiered

import (
	"errors"
	"fmt"
)

var (
	ErrNamespaceRequired = errors.New("tiered: namespace is required")
	ErrCodecRequired     = errors.New("tiered: codec is required")
	ErrClosed            = errors.New("tiered: cache closed")
	errTypeMismatch      = errors.New("tiered: shared computation produced a different type")
)

// OptionError reports an unusable option value.
type OptionError struct {
	Field string
	Value any
}

func (e *OptionError) Error() string {
	return fmt.Sprintf("tiered: invalid %s %v", e.Field, e.Value)
}
