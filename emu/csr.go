package emu

import "fmt"

// Priv is a RISC-V privilege level.
type Priv uint8

// Privilege levels. Supervisor mode is not modelled.
const (
	PrivU Priv = 0
	PrivM Priv = 3
)

func (p Priv) String() string {
	if p == PrivM {
		return "M"
	}
	return "U"
}

// Machine-level CSR addresses.
const (
	CSRMstatus        uint16 = 0x300
	CSRMisa           uint16 = 0x301
	CSRMie            uint16 = 0x304
	CSRMtvec          uint16 = 0x305
	CSRMcounteren     uint16 = 0x306
	CSRMstatush       uint16 = 0x310
	CSRMcountinhibit  uint16 = 0x320
	CSRMhpmevent3     uint16 = 0x323
	CSRMhpmevent31    uint16 = 0x33F
	CSRMscratch       uint16 = 0x340
	CSRMepc           uint16 = 0x341
	CSRMcause         uint16 = 0x342
	CSRMtval          uint16 = 0x343
	CSRMip            uint16 = 0x344
	CSRPmpcfg0        uint16 = 0x3A0
	CSRPmpcfg15       uint16 = 0x3AF
	CSRPmpaddr0       uint16 = 0x3B0
	CSRPmpaddr63      uint16 = 0x3EF
	CSRMcycle         uint16 = 0xB00
	CSRMinstret       uint16 = 0xB02
	CSRMhpmcounter3   uint16 = 0xB03
	CSRMhpmcounter31  uint16 = 0xB1F
	CSRMcycleh        uint16 = 0xB80
	CSRMinstreth      uint16 = 0xB82
	CSRMhpmcounter3h  uint16 = 0xB83
	CSRMhpmcounter31h uint16 = 0xB9F
	CSRCycle          uint16 = 0xC00
	CSRInstret        uint16 = 0xC02
	CSRHpmcounter3    uint16 = 0xC03
	CSRHpmcounter31   uint16 = 0xC1F
	CSRCycleh         uint16 = 0xC80
	CSRInstreth       uint16 = 0xC82
	CSRHpmcounter3h   uint16 = 0xC83
	CSRHpmcounter31h  uint16 = 0xC9F
	CSRMvendorid      uint16 = 0xF11
	CSRMarchid        uint16 = 0xF12
	CSRMimpid         uint16 = 0xF13
	CSRMhartid        uint16 = 0xF14
	CSRMconfigptr     uint16 = 0xF15
)

// NumCSRs is the size of the CSR address space.
const NumCSRs = 4096

// mstatus fields.
const (
	MstatusMIE  uint64 = 1 << 3
	MstatusMPIE uint64 = 1 << 7
	MstatusMPP  uint64 = 3 << 11
	MstatusMPRV uint64 = 1 << 17
	MstatusTW   uint64 = 1 << 21
	MstatusUXL  uint64 = 3 << 32

	mstatusMPPShift = 11
)

// mip / mie bits.
const (
	MipMSIP uint64 = 1 << IntMachineSoftware
	MipMTIP uint64 = 1 << IntMachineTimer
	MipMEIP uint64 = 1 << IntMachineExternal

	mipMask = MipMSIP | MipMTIP | MipMEIP
)

// PMP configuration bits.
const (
	pmpR    uint8 = 1 << 0
	pmpW    uint8 = 1 << 1
	pmpA    uint8 = 3 << 3
	pmpL    uint8 = 1 << 7
	pmpMask uint8 = 0x9F

	pmpTOR uint8 = 1 << 3
)

// CSRFile holds the control and status registers of one hart.
//
// Read and Write form the debug path used to transfer state: they apply WARL
// legalisation but no privilege checks. Access is the path CSR instructions
// take.
type CSRFile struct {
	xlen       int
	hartID     uint64
	userMode   bool
	compressed bool
	misa       uint64
	pmpRegions int

	mstatus       uint64
	mie           uint64
	mip           uint64
	mtvec         uint64
	mcounteren    uint64
	mcountinhibit uint64
	mscratch      uint64
	mepc          uint64
	mcause        uint64
	mtval         uint64

	pmpcfg  [64]uint8
	pmpaddr [64]uint64

	mcycle   uint64
	minstret uint64

	// An explicit counter write takes effect instead of the increment of the
	// instruction that performed it.
	skipCycle   bool
	skipInstret bool
}

// NewCSRFile creates the CSR file of a hart with reset values.
func NewCSRFile(isa ISA, hartID uint64, userMode bool, pmpRegions int) *CSRFile {
	c := &CSRFile{
		xlen:       isa.XLEN,
		hartID:     hartID,
		userMode:   userMode,
		compressed: isa.Has('C'),
		misa:       isa.MISA(userMode),
		pmpRegions: pmpRegions,
	}

	if isa.XLEN == 64 && userMode {
		c.mstatus |= 2 << 32
	}
	if !userMode {
		c.mstatus |= MstatusMPP
	}

	return c
}

// XLEN returns the CSR width in bits.
func (c *CSRFile) XLEN() int {
	return c.xlen
}

func (c *CSRFile) mask() uint64 {
	if c.xlen == 32 {
		return 0xFFFFFFFF
	}
	return ^uint64(0)
}

// Implemented reports whether the CSR at addr exists.
func (c *CSRFile) Implemented(addr uint16) bool {
	_, err := c.Read(addr)
	return err == nil
}

// ReadOnly reports whether the address lies in a read-only CSR range.
func ReadOnly(addr uint16) bool {
	return (addr>>10)&3 == 3
}

// Read returns the value of the CSR at addr.
func (c *CSRFile) Read(addr uint16) (uint64, error) {
	rv32 := c.xlen == 32

	switch {
	case addr == CSRMstatus:
		return c.mstatus & c.mask(), nil
	case addr == CSRMstatush && rv32:
		return 0, nil
	case addr == CSRMisa:
		return c.misa, nil
	case addr == CSRMie:
		return c.mie, nil
	case addr == CSRMip:
		return c.mip, nil
	case addr == CSRMtvec:
		return c.mtvec, nil
	case addr == CSRMcounteren && c.userMode:
		return c.mcounteren, nil
	case addr == CSRMcountinhibit:
		return c.mcountinhibit, nil
	case addr == CSRMscratch:
		return c.mscratch, nil
	case addr == CSRMepc:
		return c.mepc & c.epcMask(), nil
	case addr == CSRMcause:
		return c.mcause, nil
	case addr == CSRMtval:
		return c.mtval, nil
	case addr >= CSRPmpcfg0 && addr <= CSRPmpcfg15:
		return c.readPMPCfg(addr)
	case addr >= CSRPmpaddr0 && addr <= CSRPmpaddr63:
		i := int(addr - CSRPmpaddr0)
		if i >= c.pmpRegions {
			return 0, nil
		}
		return c.pmpaddr[i], nil
	case addr == CSRMcycle || addr == CSRCycle:
		return c.mcycle & c.mask(), nil
	case addr == CSRMinstret || addr == CSRInstret:
		return c.minstret & c.mask(), nil
	case (addr == CSRMcycleh || addr == CSRCycleh) && rv32:
		return c.mcycle >> 32, nil
	case (addr == CSRMinstreth || addr == CSRInstreth) && rv32:
		return c.minstret >> 32, nil
	case addr >= CSRMhpmcounter3 && addr <= CSRMhpmcounter31,
		addr >= CSRHpmcounter3 && addr <= CSRHpmcounter31,
		addr >= CSRMhpmevent3 && addr <= CSRMhpmevent31:
		return 0, nil
	case rv32 && (addr >= CSRMhpmcounter3h && addr <= CSRMhpmcounter31h ||
		addr >= CSRHpmcounter3h && addr <= CSRHpmcounter31h):
		return 0, nil
	case addr == CSRMvendorid, addr == CSRMarchid, addr == CSRMimpid,
		addr == CSRMconfigptr:
		return 0, nil
	case addr == CSRMhartid:
		return c.hartID, nil
	}

	return 0, fmt.Errorf("%w: 0x%03X", ErrCSRNotImplemented, addr)
}

// Write stores value into the CSR at addr, applying WARL legalisation.
// Fields that are not writable keep their value.
func (c *CSRFile) Write(addr uint16, value uint64) error {
	if !c.Implemented(addr) {
		return fmt.Errorf("%w: 0x%03X", ErrCSRNotImplemented, addr)
	}
	if ReadOnly(addr) {
		return fmt.Errorf("%w: 0x%03X", ErrCSRReadOnly, addr)
	}

	c.write(addr, value&c.mask(), true)

	return nil
}

// Access performs the read-modify-write of a CSR instruction at privilege
// priv. update computes the new value from the old one; write is false for
// the read-only forms (CSRRS/CSRRC with x0, and the immediate forms with 0).
// Any error means the instruction is illegal.
func (c *CSRFile) Access(
	addr uint16,
	priv Priv,
	write bool,
	update func(old uint64) uint64,
) (uint64, error) {
	if Priv((addr>>8)&3) > priv {
		return 0, fmt.Errorf("%w: 0x%03X requires higher privilege", ErrCSRNotImplemented, addr)
	}
	if priv < PrivM && c.counterDisabled(addr) {
		return 0, fmt.Errorf("%w: 0x%03X disabled by mcounteren", ErrCSRNotImplemented, addr)
	}

	old, err := c.Read(addr)
	if err != nil {
		return 0, err
	}

	if !write {
		return old, nil
	}
	if ReadOnly(addr) {
		return 0, fmt.Errorf("%w: 0x%03X", ErrCSRReadOnly, addr)
	}

	c.write(addr, update(old)&c.mask(), false)

	return old, nil
}

func (c *CSRFile) counterDisabled(addr uint16) bool {
	var idx uint16
	switch {
	case addr >= CSRCycle && addr <= CSRHpmcounter31:
		idx = addr - CSRCycle
	case addr >= CSRCycleh && addr <= CSRHpmcounter31h:
		idx = addr - CSRCycleh
	default:
		return false
	}
	return c.mcounteren&(1<<idx) == 0
}

func (c *CSRFile) write(addr uint16, v uint64, debug bool) {
	switch {
	case addr == CSRMstatus:
		c.writeMstatus(v)
	case addr == CSRMie:
		c.mie = v & mipMask
	case addr == CSRMip:
		// Pending bits are driven by the platform; only state transfer may
		// set them directly.
		if debug {
			c.mip = v & mipMask
		}
	case addr == CSRMtvec:
		c.mtvec = v &^ 2
	case addr == CSRMcounteren:
		c.mcounteren = v & 0xFFFFFFFF
	case addr == CSRMcountinhibit:
		c.mcountinhibit = v & 0xFFFFFFFD
	case addr == CSRMscratch:
		c.mscratch = v
	case addr == CSRMepc:
		c.mepc = v & c.epcMask()
	case addr == CSRMcause:
		c.mcause = v
	case addr == CSRMtval:
		c.mtval = v
	case addr >= CSRPmpcfg0 && addr <= CSRPmpcfg15:
		c.writePMPCfg(addr, v, debug)
	case addr >= CSRPmpaddr0 && addr <= CSRPmpaddr63:
		c.writePMPAddr(int(addr-CSRPmpaddr0), v, debug)
	case addr == CSRMcycle:
		c.mcycle = c.setLow(c.mcycle, v)
		c.skipCycle = !debug
	case addr == CSRMcycleh:
		c.mcycle = c.mcycle&0xFFFFFFFF | v<<32
		c.skipCycle = !debug
	case addr == CSRMinstret:
		c.minstret = c.setLow(c.minstret, v)
		c.skipInstret = !debug
	case addr == CSRMinstreth:
		c.minstret = c.minstret&0xFFFFFFFF | v<<32
		c.skipInstret = !debug
	}
	// misa, mstatush and the hardwired counters ignore writes. A counter
	// written by an instruction skips that instruction's own increment.
}

func (c *CSRFile) setLow(cur, v uint64) uint64 {
	if c.xlen == 32 {
		return cur&^0xFFFFFFFF | v&0xFFFFFFFF
	}
	return v
}

func (c *CSRFile) writeMstatus(v uint64) {
	writable := MstatusMIE | MstatusMPIE
	if c.userMode {
		writable |= MstatusMPP | MstatusMPRV | MstatusTW
	}

	next := c.mstatus&^writable | v&writable

	if c.userMode {
		mpp := Priv((next & MstatusMPP) >> mstatusMPPShift)
		if mpp != PrivM {
			mpp = PrivU
		}
		next = next&^MstatusMPP | uint64(mpp)<<mstatusMPPShift
	}

	c.mstatus = next
}

func (c *CSRFile) epcMask() uint64 {
	if c.compressed {
		return ^uint64(1)
	}
	return ^uint64(3)
}

// pmpEntries returns the first entry index and entry count of a pmpcfg CSR.
func (c *CSRFile) pmpEntries(addr uint16) (int, int, bool) {
	n := int(addr - CSRPmpcfg0)
	if c.xlen == 64 {
		if n%2 != 0 {
			return 0, 0, false
		}
		return n * 4, 8, true
	}
	return n * 4, 4, true
}

func (c *CSRFile) readPMPCfg(addr uint16) (uint64, error) {
	first, count, ok := c.pmpEntries(addr)
	if !ok {
		return 0, fmt.Errorf("%w: 0x%03X", ErrCSRNotImplemented, addr)
	}

	var v uint64
	for i := 0; i < count; i++ {
		v |= uint64(c.pmpcfg[first+i]) << (8 * i)
	}
	return v, nil
}

// Locked entries ignore instruction writes until reset. State transfer
// overwrites them like any other register.
func (c *CSRFile) writePMPCfg(addr uint16, v uint64, debug bool) {
	first, count, _ := c.pmpEntries(addr)

	for i := 0; i < count; i++ {
		idx := first + i
		if idx >= c.pmpRegions || (!debug && c.pmpcfg[idx]&pmpL != 0) {
			continue
		}

		cfg := uint8(v>>(8*i)) & pmpMask
		if cfg&pmpR == 0 {
			cfg &^= pmpW
		}
		c.pmpcfg[idx] = cfg
	}
}

func (c *CSRFile) writePMPAddr(idx int, v uint64, debug bool) {
	if idx >= c.pmpRegions {
		return
	}
	if !debug && c.pmpLocked(idx) {
		return
	}

	if c.xlen == 64 {
		v &= 1<<54 - 1
	}
	c.pmpaddr[idx] = v
}

// pmpLocked reports whether pmpaddr idx is locked by its own entry or by a
// locked TOR entry above it.
func (c *CSRFile) pmpLocked(idx int) bool {
	if c.pmpcfg[idx]&pmpL != 0 {
		return true
	}
	if idx+1 < c.pmpRegions {
		next := c.pmpcfg[idx+1]
		if next&pmpL != 0 && next&pmpA == pmpTOR {
			return true
		}
	}
	return false
}

// retire advances mcycle and minstret for one retired instruction.
func (c *CSRFile) retire() {
	if c.skipCycle {
		c.skipCycle = false
	} else if c.mcountinhibit&1 == 0 {
		c.mcycle++
	}

	if c.skipInstret {
		c.skipInstret = false
	} else if c.mcountinhibit&4 == 0 {
		c.minstret++
	}
}

// Instret returns the full 64-bit retired-instruction counter.
func (c *CSRFile) Instret() uint64 {
	return c.minstret
}

// SetPending sets or clears a machine interrupt-pending bit.
func (c *CSRFile) SetPending(code uint64, pending bool) {
	bit := uint64(1) << code & mipMask
	if pending {
		c.mip |= bit
	} else {
		c.mip &^= bit
	}
}
