// Package insts provides RISC-V instruction definitions and decoding.
package insts

// Op represents a RISC-V operation.
type Op uint16

// RISC-V operations.
const (
	OpUnknown Op = iota

	// RV32I / RV64I
	OpLUI
	OpAUIPC
	OpJAL
	OpJALR
	OpBEQ
	OpBNE
	OpBLT
	OpBGE
	OpBLTU
	OpBGEU
	OpLB
	OpLH
	OpLW
	OpLD
	OpLBU
	OpLHU
	OpLWU
	OpSB
	OpSH
	OpSW
	OpSD
	OpADDI
	OpSLTI
	OpSLTIU
	OpXORI
	OpORI
	OpANDI
	OpSLLI
	OpSRLI
	OpSRAI
	OpADD
	OpSUB
	OpSLL
	OpSLT
	OpSLTU
	OpXOR
	OpSRL
	OpSRA
	OpOR
	OpAND
	OpADDIW
	OpSLLIW
	OpSRLIW
	OpSRAIW
	OpADDW
	OpSUBW
	OpSLLW
	OpSRLW
	OpSRAW
	OpFENCE
	OpFENCEI
	OpECALL
	OpEBREAK
	OpMRET
	OpWFI

	// Zicsr
	OpCSRRW
	OpCSRRS
	OpCSRRC
	OpCSRRWI
	OpCSRRSI
	OpCSRRCI

	// M
	OpMUL
	OpMULH
	OpMULHSU
	OpMULHU
	OpDIV
	OpDIVU
	OpREM
	OpREMU
	OpMULW
	OpDIVW
	OpDIVUW
	OpREMW
	OpREMUW

	// A
	OpLR
	OpSC
	OpAMOSWAP
	OpAMOADD
	OpAMOXOR
	OpAMOAND
	OpAMOOR
	OpAMOMIN
	OpAMOMAX
	OpAMOMINU
	OpAMOMAXU
)

var opNames = map[Op]string{
	OpUnknown: "unknown",
	OpLUI:     "lui", OpAUIPC: "auipc", OpJAL: "jal", OpJALR: "jalr",
	OpBEQ: "beq", OpBNE: "bne", OpBLT: "blt", OpBGE: "bge", OpBLTU: "bltu", OpBGEU: "bgeu",
	OpLB: "lb", OpLH: "lh", OpLW: "lw", OpLD: "ld", OpLBU: "lbu", OpLHU: "lhu", OpLWU: "lwu",
	OpSB: "sb", OpSH: "sh", OpSW: "sw", OpSD: "sd",
	OpADDI: "addi", OpSLTI: "slti", OpSLTIU: "sltiu", OpXORI: "xori", OpORI: "ori", OpANDI: "andi",
	OpSLLI: "slli", OpSRLI: "srli", OpSRAI: "srai",
	OpADD: "add", OpSUB: "sub", OpSLL: "sll", OpSLT: "slt", OpSLTU: "sltu",
	OpXOR: "xor", OpSRL: "srl", OpSRA: "sra", OpOR: "or", OpAND: "and",
	OpADDIW: "addiw", OpSLLIW: "slliw", OpSRLIW: "srliw", OpSRAIW: "sraiw",
	OpADDW: "addw", OpSUBW: "subw", OpSLLW: "sllw", OpSRLW: "srlw", OpSRAW: "sraw",
	OpFENCE: "fence", OpFENCEI: "fence.i", OpECALL: "ecall", OpEBREAK: "ebreak",
	OpMRET: "mret", OpWFI: "wfi",
	OpCSRRW: "csrrw", OpCSRRS: "csrrs", OpCSRRC: "csrrc",
	OpCSRRWI: "csrrwi", OpCSRRSI: "csrrsi", OpCSRRCI: "csrrci",
	OpMUL: "mul", OpMULH: "mulh", OpMULHSU: "mulhsu", OpMULHU: "mulhu",
	OpDIV: "div", OpDIVU: "divu", OpREM: "rem", OpREMU: "remu",
	OpMULW: "mulw", OpDIVW: "divw", OpDIVUW: "divuw", OpREMW: "remw", OpREMUW: "remuw",
	OpLR: "lr", OpSC: "sc", OpAMOSWAP: "amoswap", OpAMOADD: "amoadd", OpAMOXOR: "amoxor",
	OpAMOAND: "amoand", OpAMOOR: "amoor", OpAMOMIN: "amomin", OpAMOMAX: "amomax",
	OpAMOMINU: "amominu", OpAMOMAXU: "amomaxu",
}

// String returns the assembler mnemonic of the operation.
func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return "unknown"
}

// Format represents an instruction encoding format.
type Format uint8

// Instruction formats.
const (
	FormatUnknown Format = iota
	FormatR              // Register-register
	FormatI              // Register-immediate arithmetic
	FormatS              // Store
	FormatB              // Conditional branch
	FormatU              // Upper immediate
	FormatJ              // Jump
	FormatLoad           // I-type load
	FormatJumpReg        // I-type JALR
	FormatAtomic         // AMO / LR / SC
	FormatCSR            // Zicsr
	FormatSystem         // ECALL, EBREAK, MRET, WFI
	FormatFence          // FENCE, FENCE.I
)

// Instruction represents a decoded RISC-V instruction.
type Instruction struct {
	Op     Op     // Operation
	Format Format // Encoding format

	Rd  uint8 // Destination register
	Rs1 uint8 // First source register
	Rs2 uint8 // Second source register

	// Imm is the sign-extended immediate. For CSR immediate forms it holds
	// the zero-extended 5-bit uimm.
	Imm int64

	// CSR is the 12-bit CSR address for Zicsr instructions.
	CSR uint16

	// Width is the access size in bytes for loads, stores and AMOs.
	Width uint8

	// Aq and Rl are the AMO ordering bits.
	Aq bool
	Rl bool

	// Length is the encoded size in bytes: 2 for compressed, 4 otherwise.
	Length uint8

	// Raw is the instruction bits as fetched (16 significant bits for
	// compressed instructions).
	Raw uint32
}

// Decoder decodes RISC-V machine code into instructions.
type Decoder struct {
	xlen       int
	compressed bool
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithXLEN sets the base integer width (32 or 64).
func WithXLEN(xlen int) DecoderOption {
	return func(d *Decoder) {
		d.xlen = xlen
	}
}

// WithCompressed enables the C extension.
func WithCompressed() DecoderOption {
	return func(d *Decoder) {
		d.compressed = true
	}
}

// NewDecoder creates a new RISC-V decoder. The default is RV64 without the
// C extension.
func NewDecoder(opts ...DecoderOption) *Decoder {
	d := &Decoder{xlen: 64}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// XLEN returns the base integer width the decoder was built for.
func (d *Decoder) XLEN() int {
	return d.xlen
}

// IsCompressed reports whether the low bits of a fetched parcel mark a
// 16-bit instruction.
func IsCompressed(parcel uint16) bool {
	return parcel&0x3 != 0x3
}

// Decode decodes an instruction. The low 16 bits are examined first; if they
// encode a compressed instruction only those bits are used.
func (d *Decoder) Decode(word uint32) *Instruction {
	if IsCompressed(uint16(word)) {
		if !d.compressed {
			return &Instruction{Op: OpUnknown, Length: 2, Raw: word & 0xFFFF}
		}
		return d.decodeCompressed(uint16(word))
	}

	inst := &Instruction{Op: OpUnknown, Length: 4, Raw: word}

	switch word & 0x7F {
	case 0x37:
		inst.Format = FormatU
		inst.Op = OpLUI
		inst.Rd = rd(word)
		inst.Imm = immU(word)
	case 0x17:
		inst.Format = FormatU
		inst.Op = OpAUIPC
		inst.Rd = rd(word)
		inst.Imm = immU(word)
	case 0x6F:
		inst.Format = FormatJ
		inst.Op = OpJAL
		inst.Rd = rd(word)
		inst.Imm = immJ(word)
	case 0x67:
		if funct3(word) == 0 {
			inst.Format = FormatJumpReg
			inst.Op = OpJALR
			inst.Rd = rd(word)
			inst.Rs1 = rs1(word)
			inst.Imm = immI(word)
		}
	case 0x63:
		d.decodeBranch(word, inst)
	case 0x03:
		d.decodeLoad(word, inst)
	case 0x23:
		d.decodeStore(word, inst)
	case 0x13:
		d.decodeOpImm(word, inst)
	case 0x1B:
		if d.xlen == 64 {
			d.decodeOpImm32(word, inst)
		}
	case 0x33:
		d.decodeOp(word, inst)
	case 0x3B:
		if d.xlen == 64 {
			d.decodeOp32(word, inst)
		}
	case 0x2F:
		d.decodeAtomic(word, inst)
	case 0x0F:
		d.decodeFence(word, inst)
	case 0x73:
		d.decodeSystem(word, inst)
	}

	if inst.Op == OpUnknown {
		inst.Format = FormatUnknown
	}

	return inst
}

// decodeBranch decodes BEQ/BNE/BLT/BGE/BLTU/BGEU.
func (d *Decoder) decodeBranch(word uint32, inst *Instruction) {
	ops := [8]Op{OpBEQ, OpBNE, OpUnknown, OpUnknown, OpBLT, OpBGE, OpBLTU, OpBGEU}
	inst.Op = ops[funct3(word)]
	inst.Format = FormatB
	inst.Rs1 = rs1(word)
	inst.Rs2 = rs2(word)
	inst.Imm = immB(word)
}

// decodeLoad decodes LB/LH/LW/LD/LBU/LHU/LWU.
func (d *Decoder) decodeLoad(word uint32, inst *Instruction) {
	inst.Format = FormatLoad
	inst.Rd = rd(word)
	inst.Rs1 = rs1(word)
	inst.Imm = immI(word)

	switch funct3(word) {
	case 0:
		inst.Op, inst.Width = OpLB, 1
	case 1:
		inst.Op, inst.Width = OpLH, 2
	case 2:
		inst.Op, inst.Width = OpLW, 4
	case 3:
		if d.xlen == 64 {
			inst.Op, inst.Width = OpLD, 8
		}
	case 4:
		inst.Op, inst.Width = OpLBU, 1
	case 5:
		inst.Op, inst.Width = OpLHU, 2
	case 6:
		if d.xlen == 64 {
			inst.Op, inst.Width = OpLWU, 4
		}
	}
}

// decodeStore decodes SB/SH/SW/SD.
func (d *Decoder) decodeStore(word uint32, inst *Instruction) {
	inst.Format = FormatS
	inst.Rs1 = rs1(word)
	inst.Rs2 = rs2(word)
	inst.Imm = immS(word)

	switch funct3(word) {
	case 0:
		inst.Op, inst.Width = OpSB, 1
	case 1:
		inst.Op, inst.Width = OpSH, 2
	case 2:
		inst.Op, inst.Width = OpSW, 4
	case 3:
		if d.xlen == 64 {
			inst.Op, inst.Width = OpSD, 8
		}
	}
}

// decodeOpImm decodes the OP-IMM major opcode.
func (d *Decoder) decodeOpImm(word uint32, inst *Instruction) {
	inst.Format = FormatI
	inst.Rd = rd(word)
	inst.Rs1 = rs1(word)
	inst.Imm = immI(word)

	shamtMask := uint32(0x1F)
	if d.xlen == 64 {
		shamtMask = 0x3F
	}
	shamt := (word >> 20) & shamtMask
	// Upper bits above the shift amount: funct7 on RV32, funct6 on RV64.
	upper := word >> 26
	if d.xlen == 32 {
		upper = word >> 25
	}

	switch funct3(word) {
	case 0:
		inst.Op = OpADDI
	case 2:
		inst.Op = OpSLTI
	case 3:
		inst.Op = OpSLTIU
	case 4:
		inst.Op = OpXORI
	case 6:
		inst.Op = OpORI
	case 7:
		inst.Op = OpANDI
	case 1:
		if upper == 0 {
			inst.Op = OpSLLI
			inst.Imm = int64(shamt)
		}
	case 5:
		switch {
		case upper == 0:
			inst.Op = OpSRLI
			inst.Imm = int64(shamt)
		case d.xlen == 64 && upper == 0x10, d.xlen == 32 && upper == 0x20:
			inst.Op = OpSRAI
			inst.Imm = int64(shamt)
		}
	}
}

// decodeOpImm32 decodes the RV64 OP-IMM-32 major opcode.
func (d *Decoder) decodeOpImm32(word uint32, inst *Instruction) {
	inst.Format = FormatI
	inst.Rd = rd(word)
	inst.Rs1 = rs1(word)
	inst.Imm = immI(word)

	shamt := int64((word >> 20) & 0x1F)
	f7 := funct7(word)

	switch funct3(word) {
	case 0:
		inst.Op = OpADDIW
	case 1:
		if f7 == 0 {
			inst.Op = OpSLLIW
			inst.Imm = shamt
		}
	case 5:
		switch f7 {
		case 0x00:
			inst.Op = OpSRLIW
			inst.Imm = shamt
		case 0x20:
			inst.Op = OpSRAIW
			inst.Imm = shamt
		}
	}
}

// decodeOp decodes the OP major opcode, including the M extension.
func (d *Decoder) decodeOp(word uint32, inst *Instruction) {
	inst.Format = FormatR
	inst.Rd = rd(word)
	inst.Rs1 = rs1(word)
	inst.Rs2 = rs2(word)

	f3 := funct3(word)
	switch funct7(word) {
	case 0x00:
		ops := [8]Op{OpADD, OpSLL, OpSLT, OpSLTU, OpXOR, OpSRL, OpOR, OpAND}
		inst.Op = ops[f3]
	case 0x20:
		switch f3 {
		case 0:
			inst.Op = OpSUB
		case 5:
			inst.Op = OpSRA
		}
	case 0x01:
		ops := [8]Op{OpMUL, OpMULH, OpMULHSU, OpMULHU, OpDIV, OpDIVU, OpREM, OpREMU}
		inst.Op = ops[f3]
	}
}

// decodeOp32 decodes the RV64 OP-32 major opcode.
func (d *Decoder) decodeOp32(word uint32, inst *Instruction) {
	inst.Format = FormatR
	inst.Rd = rd(word)
	inst.Rs1 = rs1(word)
	inst.Rs2 = rs2(word)

	f3 := funct3(word)
	switch funct7(word) {
	case 0x00:
		switch f3 {
		case 0:
			inst.Op = OpADDW
		case 1:
			inst.Op = OpSLLW
		case 5:
			inst.Op = OpSRLW
		}
	case 0x20:
		switch f3 {
		case 0:
			inst.Op = OpSUBW
		case 5:
			inst.Op = OpSRAW
		}
	case 0x01:
		switch f3 {
		case 0:
			inst.Op = OpMULW
		case 4:
			inst.Op = OpDIVW
		case 5:
			inst.Op = OpDIVUW
		case 6:
			inst.Op = OpREMW
		case 7:
			inst.Op = OpREMUW
		}
	}
}

// decodeAtomic decodes the A extension.
func (d *Decoder) decodeAtomic(word uint32, inst *Instruction) {
	switch funct3(word) {
	case 2:
		inst.Width = 4
	case 3:
		if d.xlen != 64 {
			return
		}
		inst.Width = 8
	default:
		return
	}

	inst.Format = FormatAtomic
	inst.Rd = rd(word)
	inst.Rs1 = rs1(word)
	inst.Rs2 = rs2(word)
	inst.Aq = (word>>26)&1 == 1
	inst.Rl = (word>>25)&1 == 1

	switch word >> 27 {
	case 0x02:
		if inst.Rs2 == 0 {
			inst.Op = OpLR
		}
	case 0x03:
		inst.Op = OpSC
	case 0x01:
		inst.Op = OpAMOSWAP
	case 0x00:
		inst.Op = OpAMOADD
	case 0x04:
		inst.Op = OpAMOXOR
	case 0x0C:
		inst.Op = OpAMOAND
	case 0x08:
		inst.Op = OpAMOOR
	case 0x10:
		inst.Op = OpAMOMIN
	case 0x14:
		inst.Op = OpAMOMAX
	case 0x18:
		inst.Op = OpAMOMINU
	case 0x1C:
		inst.Op = OpAMOMAXU
	}
}

// decodeFence decodes FENCE and FENCE.I.
func (d *Decoder) decodeFence(word uint32, inst *Instruction) {
	inst.Format = FormatFence
	switch funct3(word) {
	case 0:
		inst.Op = OpFENCE
	case 1:
		inst.Op = OpFENCEI
	}
}

// decodeSystem decodes ECALL/EBREAK/MRET/WFI and Zicsr.
func (d *Decoder) decodeSystem(word uint32, inst *Instruction) {
	f3 := funct3(word)
	if f3 == 0 {
		if rd(word) != 0 || rs1(word) != 0 {
			return
		}
		inst.Format = FormatSystem
		switch word >> 20 {
		case 0x000:
			inst.Op = OpECALL
		case 0x001:
			inst.Op = OpEBREAK
		case 0x302:
			inst.Op = OpMRET
		case 0x105:
			inst.Op = OpWFI
		}
		return
	}

	inst.Format = FormatCSR
	inst.Rd = rd(word)
	inst.Rs1 = rs1(word)
	inst.CSR = uint16(word >> 20)

	switch f3 {
	case 1:
		inst.Op = OpCSRRW
	case 2:
		inst.Op = OpCSRRS
	case 3:
		inst.Op = OpCSRRC
	case 5:
		inst.Op = OpCSRRWI
		inst.Imm = int64(inst.Rs1)
	case 6:
		inst.Op = OpCSRRSI
		inst.Imm = int64(inst.Rs1)
	case 7:
		inst.Op = OpCSRRCI
		inst.Imm = int64(inst.Rs1)
	}
}

func rd(word uint32) uint8 { return uint8((word >> 7) & 0x1F) }
func rs1(word uint32) uint8 { return uint8((word >> 15) & 0x1F) }
func rs2(word uint32) uint8 { return uint8((word >> 20) & 0x1F) }
func funct3(word uint32) uint32 { return (word >> 12) & 0x7 }
func funct7(word uint32) uint32 { return word >> 25 }

// immI extracts the sign-extended I-type immediate, bits [31:20].
func immI(word uint32) int64 {
	return int64(int32(word) >> 20)
}

// immS extracts the sign-extended S-type immediate.
func immS(word uint32) int64 {
	return int64((int32(word)>>25)<<5 | int32((word>>7)&0x1F))
}

// immB extracts the sign-extended B-type immediate (multiple of 2).
func immB(word uint32) int64 {
	imm := (word>>31)&1<<12 |
		(word>>7)&1<<11 |
		(word>>25)&0x3F<<5 |
		(word>>8)&0xF<<1
	return signExtend(uint64(imm), 13)
}

// immU extracts the U-type immediate with the low 12 bits cleared.
func immU(word uint32) int64 {
	return int64(int32(word & 0xFFFFF000))
}

// immJ extracts the sign-extended J-type immediate (multiple of 2).
func immJ(word uint32) int64 {
	imm := (word>>31)&1<<20 |
		(word>>12)&0xFF<<12 |
		(word>>20)&1<<11 |
		(word>>21)&0x3FF<<1
	return signExtend(uint64(imm), 21)
}

// signExtend sign-extends the low bits of v.
func signExtend(v uint64, bits uint) int64 {
	shift := 64 - bits
	return int64(v<<shift) >> shift
}
