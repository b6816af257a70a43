package goroutine

import (
	"fmt"
	"os"
	"runtime"

	"go.uber.org/zap"
)

const (
	// StackTraceBufferSize is the buffer size for stack trace collection
	StackTraceBufferSize = 4096
)

// PanicError carries a recovered panic value and the stack it was raised on.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap exposes the panic value when it was itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

func stack() string {
	buf := make([]byte, StackTraceBufferSize)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// Recover recovers from panics in goroutines and logs them.
// If logger is nil, falls back to stderr to ensure panic is recorded.
func Recover(name string, logger *zap.SugaredLogger) {
	if r := recover(); r != nil {
		logPanic(name, r, stack(), logger)
	}
}

// RecoverTo recovers from a panic, logs it, and stores it in *errp as a
// *PanicError. Use it as a deferred call in functions with a named error result.
func RecoverTo(errp *error, name string, logger *zap.SugaredLogger) {
	if r := recover(); r != nil {
		st := stack()
		logPanic(name, r, st, logger)
		if errp != nil {
			*errp = &PanicError{Value: r, Stack: st}
		}
	}
}

// Go runs fn in a new goroutine guarded by Recover.
func Go(name string, logger *zap.SugaredLogger, fn func()) {
	go func() {
		defer Recover(name, logger)
		fn()
	}()
}

func logPanic(name string, r any, st string, logger *zap.SugaredLogger) {
	if logger != nil {
		logger.Errorw("Goroutine panic recovered",
			"goroutine", name,
			"panic", r,
			"stack", st)
		return
	}
	fmt.Fprintf(os.Stderr, "PANIC in goroutine %s (no logger): %v\n%s\n", name, r, st)
}
