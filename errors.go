package hostloop

import (
	"errors"
	"fmt"

	"github.com/joeycumines/go-hostloop/internal/timerq"
)

var (
	// ErrCapacityExceeded is returned when the timer queue is full.
	ErrCapacityExceeded = timerq.ErrCapacityExceeded

	// ErrTaskCapacityExceeded is returned by Spawn when every task slot is in use.
	ErrTaskCapacityExceeded = errors.New("hostloop: task capacity exceeded")

	// ErrSpawnQueueFull is returned by SpawnAnywhere when the cross-goroutine
	// spawn queue is full.
	ErrSpawnQueueFull = errors.New("hostloop: spawn queue full")

	// ErrNotLoopThread is returned by operations restricted to the goroutine
	// that constructed the Runtime.
	ErrNotLoopThread = errors.New("hostloop: not called from the loop goroutine")

	// ErrWithinTask is returned by operations that may not be called while a
	// task is being resumed.
	ErrWithinTask = errors.New("hostloop: not permitted within a task")

	// ErrRuntimeClosed is returned once the Runtime has been closed. It is also
	// recorded as the result of any task still live at Close.
	ErrRuntimeClosed = errors.New("hostloop: runtime closed")

	// ErrCanceled is recorded as the result of a cancelled task.
	ErrCanceled = errors.New("hostloop: task canceled")

	// ErrUnhandledEffect is the result of an effect task that performed an
	// operation the runtime does not interpret.
	ErrUnhandledEffect = errors.New("hostloop: unhandled effect")

	// ErrNilComputation is returned when spawning a nil Computation.
	ErrNilComputation = errors.New("hostloop: nil computation")

	// ErrNilProxy is returned by New when no Proxy is supplied.
	ErrNilProxy = errors.New("hostloop: nil proxy")
)

// PanicError is the result of a task whose computation panicked.
type PanicError struct {
	// Value is the recovered value.
	Value any
	// Stack is the stack trace captured at recovery.
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("hostloop: task panicked: %v", e.Value)
}

// Unwrap returns Value if it is an error, allowing [errors.Is] and
// [errors.As] to match through the panic.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// ConfigError is returned by New for an invalid Option.
type ConfigError struct {
	Cause   error
	Option  string
	Message string
}

func (e *ConfigError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "invalid value"
	}
	if e.Cause != nil {
		return fmt.Sprintf("hostloop: %s: %s: %v", e.Option, msg, e.Cause)
	}
	return fmt.Sprintf("hostloop: %s: %s", e.Option, msg)
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *ConfigError) Unwrap() error {
	return e.Cause
}
