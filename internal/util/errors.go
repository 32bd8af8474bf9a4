// Package util provides small helpers shared across packages.
package util

import (
	"fmt"
	"io"
	"log/slog"
)

// WrapError wraps an error with a descriptive operation context.
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("failed to %s: %w", operation, err)
}

// SafeCloseFunc returns a function that closes c and logs a failure.
// It is intended for defer statements.
func SafeCloseFunc(c io.Closer, name string) func() {
	return func() {
		if err := c.Close(); err != nil {
			slog.Warn("failed to close "+name, "error", err)
		}
	}
}
