package difftest

import (
	"fmt"

	"github.com/sarchlab/rvdiff/emu"
)

// Injector forces traps into a hart.
type Injector struct {
	hart *emu.Hart
}

// NewInjector creates an injector for hart.
func NewInjector(hart *emu.Hart) *Injector {
	return &Injector{hart: hart}
}

// RaiseInterrupt makes the hart take a trap with the given raw mcause at
// its current PC, regardless of mie, mip and mstatus.MIE. A cause that
// does not fit mcause, or an interrupt code without a mip bit, is rejected
// before the hart is touched.
func (i *Injector) RaiseInterrupt(cause uint64) error {
	if err := checkCause(cause, i.hart.XLEN()); err != nil {
		return err
	}

	i.hart.TakeTrap(emu.Trap{Cause: cause}, i.hart.PC())
	return nil
}

func checkCause(cause uint64, xlen int) error {
	if xlen < 64 && cause>>xlen != 0 {
		return fmt.Errorf("%w: 0x%X does not fit RV%d mcause", ErrInvalidCause, cause, xlen)
	}

	t := emu.Trap{Cause: cause}
	if t.IsInterrupt(xlen) && t.Code(xlen) >= uint64(xlen) {
		return fmt.Errorf("%w: interrupt code %d has no mip bit", ErrInvalidCause, t.Code(xlen))
	}
	return nil
}
