package utils

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// PanicError is a recovered panic.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap exposes the value when the code panicked with an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// RecoverAsError turns a panic into a *PanicError stored in *errPtr. Defer
// it directly in a function with a named error result; logger may be nil.
func RecoverAsError(errPtr *error, logger *slog.Logger) {
	r := recover()
	if r == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	pe := &PanicError{Value: r, Stack: debug.Stack()}
	logger.Error("recovered from panic", "panic", r, "stack", string(pe.Stack))
	*errPtr = pe
}
