// Package faults defines the error markers shared by every doorkeeper
// component and a helper for wrapping causes with component context.
package faults

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrValidation    = errors.New("validation error")
	ErrTransientIO   = errors.New("transient io failure")
	ErrCorruptedData = errors.New("corrupted data")
	ErrStartupFatal  = errors.New("startup failure")
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransientIO
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Fatal reports whether err must abort process initialization.
func Fatal(err error) bool {
	return errors.Is(err, ErrStartupFatal)
}

// Kind returns a short label for the marker carried by err, for logs and
// metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrCorruptedData):
		return "corrupted_data"
	case errors.Is(err, ErrStartupFatal):
		return "startup_fatal"
	default:
		return "transient_io"
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "component failure"
	}
	return strings.Join(parts, ": ")
}
