package difftest

import (
	"errors"
	"fmt"
)

// Control-plane errors.
var (
	ErrNotInitialized       = errors.New("difftest: session not initialized")
	ErrAlreadyInitialized   = errors.New("difftest: session already initialized")
	ErrUnsupportedDirection = errors.New("difftest: unsupported transfer direction")
	ErrLayoutMismatch       = errors.New("difftest: snapshot layout mismatch")
	ErrInvalidLayout        = errors.New("difftest: invalid snapshot layout")
	ErrInvalidCause         = errors.New("difftest: invalid trap cause")
)

// EngineFaultError is returned when the reference engine cannot make
// progress during Exec. The DUT and the engine can no longer be compared.
type EngineFaultError struct {
	Steps uint64
	Err   error
}

func (e *EngineFaultError) Error() string {
	return fmt.Sprintf("difftest: engine fault during exec(%d): %v", e.Steps, e.Err)
}

func (e *EngineFaultError) Unwrap() error {
	return e.Err
}
