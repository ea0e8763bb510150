package emu

import (
	"errors"
	"fmt"
)

// Engine errors.
var (
	ErrInvalidISA           = errors.New("emu: invalid ISA string")
	ErrUnsupportedExtension = errors.New("emu: unsupported ISA extension")
	ErrInvalidConfig        = errors.New("emu: invalid configuration")
	ErrNoSuchHart           = errors.New("emu: no such hart")
	ErrCSRNotImplemented    = errors.New("emu: CSR not implemented")
	ErrCSRReadOnly          = errors.New("emu: CSR is read-only")
	ErrTrapLoop             = errors.New("emu: trap loop")
	ErrMaxInstructions      = errors.New("emu: max instructions reached")
)

// AccessKind identifies the kind of memory access that faulted.
type AccessKind uint8

// Access kinds.
const (
	AccessLoad AccessKind = iota
	AccessStore
	AccessFetch
)

func (k AccessKind) String() string {
	switch k {
	case AccessStore:
		return "store"
	case AccessFetch:
		return "fetch"
	default:
		return "load"
	}
}

// AccessFault is returned when an access falls outside the memory region.
type AccessFault struct {
	Addr uint64
	Size uint64
	Kind AccessKind
}

func (e *AccessFault) Error() string {
	return fmt.Sprintf("emu: %s access fault at 0x%X (size %d)", e.Kind, e.Addr, e.Size)
}

// MisalignedFault is returned for a misaligned access when the engine is
// configured to reject them.
type MisalignedFault struct {
	Addr uint64
	Size uint64
	Kind AccessKind
}

func (e *MisalignedFault) Error() string {
	return fmt.Sprintf("emu: misaligned %s at 0x%X (size %d)", e.Kind, e.Addr, e.Size)
}

// FaultError reports an unrecoverable engine condition on a hart.
type FaultError struct {
	HartID uint64
	PC     uint64
	Err    error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("emu: hart %d fault at PC=0x%X: %v", e.HartID, e.PC, e.Err)
}

func (e *FaultError) Unwrap() error {
	return e.Err
}
