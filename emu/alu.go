package emu

import (
	"math/bits"

	"github.com/sarchlab/rvdiff/insts"
)

// ALU implements RISC-V integer arithmetic and logic operations, including
// the M extension.
type ALU struct {
	regFile *RegFile
}

// NewALU creates a new ALU connected to the given register file.
func NewALU(regFile *RegFile) *ALU {
	return &ALU{regFile: regFile}
}

// RegReg performs rd = rs1 op rs2. It returns false if op is not an ALU
// operation.
func (a *ALU) RegReg(op insts.Op, rd, rs1, rs2 uint8) bool {
	result, ok := a.Compute(op, a.regFile.ReadReg(rs1), a.regFile.ReadReg(rs2))
	if ok {
		a.regFile.WriteReg(rd, result)
	}
	return ok
}

// RegImm performs rd = rs1 op imm.
func (a *ALU) RegImm(op insts.Op, rd, rs1 uint8, imm int64) bool {
	result, ok := a.Compute(op, a.regFile.ReadReg(rs1), a.regFile.truncate(uint64(imm)))
	if ok {
		a.regFile.WriteReg(rd, result)
	}
	return ok
}

// Compute evaluates op on two XLEN operands held zero-extended.
func (a *ALU) Compute(op insts.Op, x, y uint64) (uint64, bool) {
	xlen := a.regFile.XLEN()
	shamt := y & uint64(xlen-1)
	sx, sy := a.signed(x), a.signed(y)

	switch op {
	case insts.OpADD, insts.OpADDI:
		return x + y, true
	case insts.OpSUB:
		return x - y, true
	case insts.OpSLL, insts.OpSLLI:
		return x << shamt, true
	case insts.OpSLT, insts.OpSLTI:
		return boolToWord(sx < sy), true
	case insts.OpSLTU, insts.OpSLTIU:
		return boolToWord(x < y), true
	case insts.OpXOR, insts.OpXORI:
		return x ^ y, true
	case insts.OpOR, insts.OpORI:
		return x | y, true
	case insts.OpAND, insts.OpANDI:
		return x & y, true
	case insts.OpSRL, insts.OpSRLI:
		return x >> shamt, true
	case insts.OpSRA, insts.OpSRAI:
		return uint64(sx >> shamt), true

	case insts.OpADDW, insts.OpADDIW:
		return sext32(uint32(x) + uint32(y)), true
	case insts.OpSUBW:
		return sext32(uint32(x) - uint32(y)), true
	case insts.OpSLLW, insts.OpSLLIW:
		return sext32(uint32(x) << (y & 31)), true
	case insts.OpSRLW, insts.OpSRLIW:
		return sext32(uint32(x) >> (y & 31)), true
	case insts.OpSRAW, insts.OpSRAIW:
		return sext32(uint32(int32(x) >> (y & 31))), true
	}

	return a.computeMul(op, x, y, sx, sy)
}

func (a *ALU) computeMul(op insts.Op, x, y uint64, sx, sy int64) (uint64, bool) {
	rv32 := a.regFile.XLEN() == 32

	switch op {
	case insts.OpMUL:
		return x * y, true
	case insts.OpMULH:
		if rv32 {
			return uint64((sx * sy) >> 32), true
		}
		hi, _ := bits.Mul64(x, y)
		if sx < 0 {
			hi -= y
		}
		if sy < 0 {
			hi -= x
		}
		return hi, true
	case insts.OpMULHSU:
		if rv32 {
			return uint64((sx * int64(uint32(y))) >> 32), true
		}
		hi, _ := bits.Mul64(x, y)
		if sx < 0 {
			hi -= y
		}
		return hi, true
	case insts.OpMULHU:
		if rv32 {
			return (x * y) >> 32, true
		}
		hi, _ := bits.Mul64(x, y)
		return hi, true
	case insts.OpDIV:
		return uint64(divSigned(sx, sy, a.minSigned())), true
	case insts.OpDIVU:
		if y == 0 {
			return ^uint64(0), true
		}
		return x / y, true
	case insts.OpREM:
		return uint64(remSigned(sx, sy, a.minSigned())), true
	case insts.OpREMU:
		if y == 0 {
			return x, true
		}
		return x % y, true

	case insts.OpMULW:
		return sext32(uint32(x) * uint32(y)), true
	case insts.OpDIVW:
		return uint64(divSigned(int64(int32(x)), int64(int32(y)), -1<<31)), true
	case insts.OpDIVUW:
		if uint32(y) == 0 {
			return ^uint64(0), true
		}
		return sext32(uint32(x) / uint32(y)), true
	case insts.OpREMW:
		return uint64(remSigned(int64(int32(x)), int64(int32(y)), -1<<31)), true
	case insts.OpREMUW:
		if uint32(y) == 0 {
			return sext32(uint32(x)), true
		}
		return sext32(uint32(x) % uint32(y)), true
	}

	return 0, false
}

func (a *ALU) signed(v uint64) int64 {
	if a.regFile.XLEN() == 32 {
		return int64(int32(uint32(v)))
	}
	return int64(v)
}

func (a *ALU) minSigned() int64 {
	if a.regFile.XLEN() == 32 {
		return -1 << 31
	}
	return -1 << 63
}

// divSigned implements RISC-V signed division: division by zero yields -1
// and overflow yields the dividend.
func divSigned(x, y, minVal int64) int64 {
	switch {
	case y == 0:
		return -1
	case x == minVal && y == -1:
		return x
	}
	return x / y
}

// remSigned implements RISC-V signed remainder: division by zero yields the
// dividend and overflow yields 0.
func remSigned(x, y, minVal int64) int64 {
	switch {
	case y == 0:
		return x
	case x == minVal && y == -1:
		return 0
	}
	return x % y
}

func sext32(v uint32) uint64 {
	return uint64(int64(int32(v)))
}

func boolToWord(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
