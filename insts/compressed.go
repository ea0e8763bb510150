package insts

// decodeCompressed expands a 16-bit C-extension instruction into the
// equivalent base instruction. Reserved and F/D encodings decode as
// OpUnknown.
func (d *Decoder) decodeCompressed(half uint16) *Instruction {
	inst := &Instruction{Op: OpUnknown, Length: 2, Raw: uint32(half)}
	h := uint32(half)

	switch h & 0x3 {
	case 0:
		d.decodeQuadrant0(h, inst)
	case 1:
		d.decodeQuadrant1(h, inst)
	case 2:
		d.decodeQuadrant2(h, inst)
	}

	if inst.Op == OpUnknown {
		inst.Format = FormatUnknown
	}

	return inst
}

// decodeQuadrant0 handles C.ADDI4SPN, C.LW, C.LD, C.SW and C.SD.
func (d *Decoder) decodeQuadrant0(h uint32, inst *Instruction) {
	rdp := cReg(h >> 2)
	rs1p := cReg(h >> 7)

	switch h >> 13 {
	case 0b000:
		uimm := bits(h, 12, 11)<<4 | bits(h, 10, 7)<<6 | bits(h, 6, 6)<<2 | bits(h, 5, 5)<<3
		if uimm == 0 {
			return
		}
		inst.Op, inst.Format = OpADDI, FormatI
		inst.Rd, inst.Rs1, inst.Imm = rdp, 2, int64(uimm)
	case 0b010:
		inst.Op, inst.Format, inst.Width = OpLW, FormatLoad, 4
		inst.Rd, inst.Rs1, inst.Imm = rdp, rs1p, int64(cWordOffset(h))
	case 0b011:
		if d.xlen != 64 {
			return
		}
		inst.Op, inst.Format, inst.Width = OpLD, FormatLoad, 8
		inst.Rd, inst.Rs1, inst.Imm = rdp, rs1p, int64(cDoubleOffset(h))
	case 0b110:
		inst.Op, inst.Format, inst.Width = OpSW, FormatS, 4
		inst.Rs1, inst.Rs2, inst.Imm = rs1p, rdp, int64(cWordOffset(h))
	case 0b111:
		if d.xlen != 64 {
			return
		}
		inst.Op, inst.Format, inst.Width = OpSD, FormatS, 8
		inst.Rs1, inst.Rs2, inst.Imm = rs1p, rdp, int64(cDoubleOffset(h))
	}
}

// decodeQuadrant1 handles the immediate, arithmetic and control-flow forms.
func (d *Decoder) decodeQuadrant1(h uint32, inst *Instruction) {
	rdFull := uint8(bits(h, 11, 7))
	imm6 := signExtend(uint64(bits(h, 12, 12)<<5|bits(h, 6, 2)), 6)

	switch h >> 13 {
	case 0b000: // C.ADDI / C.NOP
		inst.Op, inst.Format = OpADDI, FormatI
		inst.Rd, inst.Rs1, inst.Imm = rdFull, rdFull, imm6
	case 0b001:
		if d.xlen == 32 { // C.JAL
			inst.Op, inst.Format = OpJAL, FormatJ
			inst.Rd, inst.Imm = 1, cJumpOffset(h)
			return
		}
		if rdFull == 0 {
			return
		}
		inst.Op, inst.Format = OpADDIW, FormatI
		inst.Rd, inst.Rs1, inst.Imm = rdFull, rdFull, imm6
	case 0b010: // C.LI
		inst.Op, inst.Format = OpADDI, FormatI
		inst.Rd, inst.Rs1, inst.Imm = rdFull, 0, imm6
	case 0b011:
		if rdFull == 2 { // C.ADDI16SP
			nzimm := bits(h, 12, 12)<<9 | bits(h, 6, 6)<<4 | bits(h, 5, 5)<<6 |
				bits(h, 4, 3)<<7 | bits(h, 2, 2)<<5
			if nzimm == 0 {
				return
			}
			inst.Op, inst.Format = OpADDI, FormatI
			inst.Rd, inst.Rs1, inst.Imm = 2, 2, signExtend(uint64(nzimm), 10)
			return
		}
		if imm6 == 0 {
			return
		}
		inst.Op, inst.Format = OpLUI, FormatU
		inst.Rd, inst.Imm = rdFull, imm6<<12
	case 0b100:
		d.decodeCompressedArith(h, inst)
	case 0b101: // C.J
		inst.Op, inst.Format = OpJAL, FormatJ
		inst.Rd, inst.Imm = 0, cJumpOffset(h)
	case 0b110, 0b111: // C.BEQZ / C.BNEZ
		off := bits(h, 12, 12)<<8 | bits(h, 11, 10)<<3 | bits(h, 6, 5)<<6 |
			bits(h, 4, 3)<<1 | bits(h, 2, 2)<<5
		inst.Op, inst.Format = OpBEQ, FormatB
		if h>>13 == 0b111 {
			inst.Op = OpBNE
		}
		inst.Rs1, inst.Rs2, inst.Imm = cReg(h>>7), 0, signExtend(uint64(off), 9)
	}
}

// decodeCompressedArith handles C.SRLI, C.SRAI, C.ANDI and the
// register-register forms in quadrant 1.
func (d *Decoder) decodeCompressedArith(h uint32, inst *Instruction) {
	rdp := cReg(h >> 7)
	shamt := bits(h, 12, 12)<<5 | bits(h, 6, 2)

	switch bits(h, 11, 10) {
	case 0b00, 0b01:
		if d.xlen == 32 && shamt&0x20 != 0 {
			return
		}
		inst.Op, inst.Format = OpSRLI, FormatI
		if bits(h, 11, 10) == 0b01 {
			inst.Op = OpSRAI
		}
		inst.Rd, inst.Rs1, inst.Imm = rdp, rdp, int64(shamt)
	case 0b10:
		inst.Op, inst.Format = OpANDI, FormatI
		inst.Rd, inst.Rs1 = rdp, rdp
		inst.Imm = signExtend(uint64(bits(h, 12, 12)<<5|bits(h, 6, 2)), 6)
	case 0b11:
		inst.Format = FormatR
		inst.Rd, inst.Rs1, inst.Rs2 = rdp, rdp, cReg(h>>2)
		if bits(h, 12, 12) == 0 {
			inst.Op = [4]Op{OpSUB, OpXOR, OpOR, OpAND}[bits(h, 6, 5)]
			return
		}
		if d.xlen != 64 {
			return
		}
		switch bits(h, 6, 5) {
		case 0b00:
			inst.Op = OpSUBW
		case 0b01:
			inst.Op = OpADDW
		}
	}
}

// decodeQuadrant2 handles stack-pointer relative accesses, C.SLLI and the
// jump/move/add forms.
func (d *Decoder) decodeQuadrant2(h uint32, inst *Instruction) {
	rdFull := uint8(bits(h, 11, 7))
	rs2Full := uint8(bits(h, 6, 2))

	switch h >> 13 {
	case 0b000: // C.SLLI
		shamt := bits(h, 12, 12)<<5 | bits(h, 6, 2)
		if d.xlen == 32 && shamt&0x20 != 0 {
			return
		}
		inst.Op, inst.Format = OpSLLI, FormatI
		inst.Rd, inst.Rs1, inst.Imm = rdFull, rdFull, int64(shamt)
	case 0b010: // C.LWSP
		if rdFull == 0 {
			return
		}
		uimm := bits(h, 12, 12)<<5 | bits(h, 6, 4)<<2 | bits(h, 3, 2)<<6
		inst.Op, inst.Format, inst.Width = OpLW, FormatLoad, 4
		inst.Rd, inst.Rs1, inst.Imm = rdFull, 2, int64(uimm)
	case 0b011: // C.LDSP
		if d.xlen != 64 || rdFull == 0 {
			return
		}
		uimm := bits(h, 12, 12)<<5 | bits(h, 6, 5)<<3 | bits(h, 4, 2)<<6
		inst.Op, inst.Format, inst.Width = OpLD, FormatLoad, 8
		inst.Rd, inst.Rs1, inst.Imm = rdFull, 2, int64(uimm)
	case 0b100:
		d.decodeCompressedJumpAdd(h, rdFull, rs2Full, inst)
	case 0b110: // C.SWSP
		uimm := bits(h, 12, 9)<<2 | bits(h, 8, 7)<<6
		inst.Op, inst.Format, inst.Width = OpSW, FormatS, 4
		inst.Rs1, inst.Rs2, inst.Imm = 2, rs2Full, int64(uimm)
	case 0b111: // C.SDSP
		if d.xlen != 64 {
			return
		}
		uimm := bits(h, 12, 10)<<3 | bits(h, 9, 7)<<6
		inst.Op, inst.Format, inst.Width = OpSD, FormatS, 8
		inst.Rs1, inst.Rs2, inst.Imm = 2, rs2Full, int64(uimm)
	}
}

// decodeCompressedJumpAdd handles C.JR, C.MV, C.EBREAK, C.JALR and C.ADD.
func (d *Decoder) decodeCompressedJumpAdd(h uint32, rdFull, rs2Full uint8, inst *Instruction) {
	if bits(h, 12, 12) == 0 {
		if rs2Full == 0 {
			if rdFull == 0 {
				return
			}
			inst.Op, inst.Format = OpJALR, FormatJumpReg
			inst.Rd, inst.Rs1 = 0, rdFull
			return
		}
		inst.Op, inst.Format = OpADD, FormatR
		inst.Rd, inst.Rs1, inst.Rs2 = rdFull, 0, rs2Full
		return
	}

	switch {
	case rdFull == 0 && rs2Full == 0:
		inst.Op, inst.Format = OpEBREAK, FormatSystem
	case rs2Full == 0:
		inst.Op, inst.Format = OpJALR, FormatJumpReg
		inst.Rd, inst.Rs1 = 1, rdFull
	default:
		inst.Op, inst.Format = OpADD, FormatR
		inst.Rd, inst.Rs1, inst.Rs2 = rdFull, rdFull, rs2Full
	}
}

// cReg maps a 3-bit compressed register field to x8-x15.
func cReg(field uint32) uint8 {
	return uint8(field&0x7) + 8
}

// cWordOffset decodes the C.LW/C.SW offset.
func cWordOffset(h uint32) uint32 {
	return bits(h, 12, 10)<<3 | bits(h, 6, 6)<<2 | bits(h, 5, 5)<<6
}

// cDoubleOffset decodes the C.LD/C.SD offset.
func cDoubleOffset(h uint32) uint32 {
	return bits(h, 12, 10)<<3 | bits(h, 6, 5)<<6
}

// cJumpOffset decodes the C.J/C.JAL offset.
func cJumpOffset(h uint32) int64 {
	off := bits(h, 12, 12)<<11 | bits(h, 11, 11)<<4 | bits(h, 10, 9)<<8 |
		bits(h, 8, 8)<<10 | bits(h, 7, 7)<<6 | bits(h, 6, 6)<<7 |
		bits(h, 5, 3)<<1 | bits(h, 2, 2)<<5
	return signExtend(uint64(off), 12)
}

// bits extracts the inclusive bit range [hi:lo] of v.
func bits(v uint32, hi, lo uint) uint32 {
	return (v >> lo) & (1<<(hi-lo+1) - 1)
}
