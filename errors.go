package callgate

import (
	"errors"
	"fmt"
	"runtime/debug"
)

var (
	// ErrNoKeyFunc is returned when Gate or Dedupe wraps an operation that
	// was not tagged with a key function.
	ErrNoKeyFunc = errors.New("callgate: operation has no key function, apply Tag first")

	// ErrNilKeyFunc is returned when Tag is given a nil key function.
	ErrNilKeyFunc = errors.New("callgate: nil key function")

	// ErrNilFunc is returned when New is given a nil func.
	ErrNilFunc = errors.New("callgate: nil operation func")

	// ErrOutcomeType is returned when an in-flight handle found in the store
	// settles with a value that is not the caller's result type.
	ErrOutcomeType = errors.New("callgate: in-flight outcome has unexpected value type")
)

// PanicError is the failure delivered to callers when an operation panics.
type PanicError struct {
	Value any
	Stack []byte
}

func newPanicError(v any) *PanicError {
	return &PanicError{Value: v, Stack: debug.Stack()}
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("callgate: operation panicked: %v", p.Value)
}

// Unwrap returns the panic value when it is an error.
func (p *PanicError) Unwrap() error {
	err, _ := p.Value.(error)
	return err
}

func configError(name string, err error) error {
	if name == "" {
		name = "operation"
	}
	return fmt.Errorf("%s: %w", name, err)
}
