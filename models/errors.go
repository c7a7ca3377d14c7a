package models

import (
	"errors"
	"fmt"
)

// ErrNothingToExport is returned by exports when no data was recorded.
var ErrNothingToExport = errors.New("nothing to export")

// ExportError wraps a write failure while exporting to Path.
type ExportError struct {
	Path  string
	Cause error
}

func (e *ExportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("export to %s: %v", e.Path, e.Cause)
	}
	return fmt.Sprintf("export to %s failed", e.Path)
}

func (e *ExportError) Unwrap() error {
	return e.Cause
}
