package emu

import "github.com/sarchlab/rvdiff/insts"

// BranchUnit implements RISC-V conditional branches and jumps.
type BranchUnit struct {
	regFile *RegFile
}

// NewBranchUnit creates a new BranchUnit connected to the given register file.
func NewBranchUnit(regFile *RegFile) *BranchUnit {
	return &BranchUnit{regFile: regFile}
}

// Taken evaluates the condition of a conditional branch.
func (b *BranchUnit) Taken(op insts.Op, rs1, rs2 uint8) bool {
	x := b.regFile.ReadReg(rs1)
	y := b.regFile.ReadReg(rs2)

	switch op {
	case insts.OpBEQ:
		return x == y
	case insts.OpBNE:
		return x != y
	case insts.OpBLT:
		return b.regFile.ReadSigned(rs1) < b.regFile.ReadSigned(rs2)
	case insts.OpBGE:
		return b.regFile.ReadSigned(rs1) >= b.regFile.ReadSigned(rs2)
	case insts.OpBLTU:
		return x < y
	case insts.OpBGEU:
		return x >= y
	default:
		return false
	}
}

// BranchTarget returns PC + offset, truncated to XLEN.
func (b *BranchUnit) BranchTarget(offset int64) uint64 {
	return b.regFile.truncate(uint64(int64(b.regFile.PC) + offset))
}

// JumpRegTarget returns the JALR target (rs1 + offset) with bit 0 cleared.
func (b *BranchUnit) JumpRegTarget(rs1 uint8, offset int64) uint64 {
	return b.regFile.truncate(uint64(int64(b.regFile.ReadReg(rs1))+offset)) &^ 1
}

// Link writes the return address into rd.
func (b *BranchUnit) Link(rd uint8, length uint8) {
	b.regFile.WriteReg(rd, b.regFile.PC+uint64(length))
}
