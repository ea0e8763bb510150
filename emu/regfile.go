// Package emu provides a functional RISC-V reference engine.
package emu

// RegFile represents the RISC-V integer register file of one hart.
// It contains 32 general-purpose registers (x0-x31) and the program counter.
// Values are held zero-extended; on RV32 only the low 32 bits are kept.
type RegFile struct {
	// X holds general-purpose registers x0-x31.
	// X[0] is hardwired to zero.
	X [32]uint64

	// PC is the program counter.
	PC uint64

	xlen int
}

// NewRegFile creates a register file for the given XLEN (32 or 64).
func NewRegFile(xlen int) *RegFile {
	return &RegFile{xlen: xlen}
}

// XLEN returns the register width in bits.
func (r *RegFile) XLEN() int {
	return r.xlen
}

// ReadReg reads a register value. Register 0 returns 0.
func (r *RegFile) ReadReg(reg uint8) uint64 {
	if reg == 0 || reg >= 32 {
		return 0
	}
	return r.X[reg]
}

// ReadSigned reads a register value sign-extended from XLEN.
func (r *RegFile) ReadSigned(reg uint8) int64 {
	v := r.ReadReg(reg)
	if r.xlen == 32 {
		return int64(int32(uint32(v)))
	}
	return int64(v)
}

// WriteReg writes a value to a register, truncated to XLEN.
// Writes to register 0 are ignored.
func (r *RegFile) WriteReg(reg uint8, value uint64) {
	if reg == 0 || reg >= 32 {
		return
	}
	r.X[reg] = r.truncate(value)
}

// SetPC sets the program counter, truncated to XLEN.
func (r *RegFile) SetPC(pc uint64) {
	r.PC = r.truncate(pc)
}

func (r *RegFile) truncate(v uint64) uint64 {
	if r.xlen == 32 {
		return uint64(uint32(v))
	}
	return v
}
