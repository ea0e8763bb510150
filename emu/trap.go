package emu

// Synchronous exception causes.
const (
	CauseInstMisaligned   uint64 = 0
	CauseInstAccessFault  uint64 = 1
	CauseIllegalInst      uint64 = 2
	CauseBreakpoint       uint64 = 3
	CauseLoadMisaligned   uint64 = 4
	CauseLoadAccessFault  uint64 = 5
	CauseStoreMisaligned  uint64 = 6
	CauseStoreAccessFault uint64 = 7
	CauseEcallU           uint64 = 8
	CauseEcallM           uint64 = 11
)

// Machine interrupt codes.
const (
	IntMachineSoftware uint64 = 3
	IntMachineTimer    uint64 = 7
	IntMachineExternal uint64 = 11
)

// Trap describes an exception or interrupt to be taken by a hart.
type Trap struct {
	// Cause is the raw mcause value. For interrupts the most significant
	// bit of XLEN is set.
	Cause uint64

	// Tval is written to mtval.
	Tval uint64
}

// InterruptCause returns the mcause value of interrupt code on xlen.
func InterruptCause(xlen int, code uint64) uint64 {
	return uint64(1)<<(xlen-1) | code
}

// IsInterrupt reports whether the trap is an interrupt on xlen.
func (t Trap) IsInterrupt(xlen int) bool {
	return (t.Cause>>(xlen-1))&1 == 1
}

// Code returns the exception or interrupt code without the interrupt bit.
func (t Trap) Code(xlen int) uint64 {
	return t.Cause &^ (uint64(1) << (xlen - 1))
}

// trapVector returns the PC a trap enters at for the current mtvec.
func (c *CSRFile) trapVector(t Trap) uint64 {
	base := c.mtvec &^ 3
	if c.mtvec&1 == 1 && t.IsInterrupt(c.xlen) {
		return base + 4*t.Code(c.xlen)
	}
	return base
}

// enterTrap updates the trap CSRs and returns the handler PC.
func (c *CSRFile) enterTrap(t Trap, epc uint64, priv Priv) uint64 {
	c.mepc = epc & c.mask() & c.epcMask()
	c.mcause = t.Cause & c.mask()
	c.mtval = t.Tval & c.mask()

	status := c.mstatus
	if status&MstatusMIE != 0 {
		status |= MstatusMPIE
	} else {
		status &^= MstatusMPIE
	}
	status &^= MstatusMIE
	status = status&^MstatusMPP | uint64(priv)<<mstatusMPPShift
	c.mstatus = status

	return c.trapVector(t) & c.mask()
}

// leaveTrap performs the mstatus side of MRET and returns the privilege
// level to return to.
func (c *CSRFile) leaveTrap() Priv {
	status := c.mstatus
	prev := Priv((status & MstatusMPP) >> mstatusMPPShift)

	if status&MstatusMPIE != 0 {
		status |= MstatusMIE
	} else {
		status &^= MstatusMIE
	}
	status |= MstatusMPIE

	status &^= MstatusMPP
	if !c.userMode {
		status |= MstatusMPP
	}
	if prev != PrivM {
		status &^= MstatusMPRV
	}
	c.mstatus = status

	return prev
}

// pendingInterrupt returns the highest-priority enabled pending interrupt.
func (c *CSRFile) pendingInterrupt(priv Priv) (Trap, bool) {
	pending := c.mip & c.mie
	if pending == 0 {
		return Trap{}, false
	}
	if priv == PrivM && c.mstatus&MstatusMIE == 0 {
		return Trap{}, false
	}

	for _, code := range []uint64{IntMachineExternal, IntMachineSoftware, IntMachineTimer} {
		if pending&(1<<code) != 0 {
			return Trap{Cause: InterruptCause(c.xlen, code)}, true
		}
	}
	return Trap{}, false
}
