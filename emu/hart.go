package emu

import (
	"errors"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/rvdiff/insts"
)

// HookPosInstRetired is triggered after a hart retires an instruction. The
// hook item is the *insts.Instruction and the detail is a RetireInfo.
var HookPosInstRetired = &sim.HookPos{Name: "InstRetired"}

// HookPosTrap is triggered when a hart takes a trap. The hook item is the
// Trap and the detail is a TrapInfo.
var HookPosTrap = &sim.HookPos{Name: "Trap"}

// RetireInfo describes a retired instruction.
type RetireInfo struct {
	PC     uint64
	NextPC uint64
}

// TrapInfo describes a taken trap.
type TrapInfo struct {
	EPC    uint64
	Vector uint64
}

// StepResult represents the result of executing a single instruction.
type StepResult struct {
	// Exited is true if the program terminated through the host interface.
	Exited bool

	// ExitCode is the exit status if Exited is true.
	ExitCode int64

	// Err is set if the hart cannot make progress.
	Err error
}

// Hart is one RISC-V hardware thread of the engine.
type Hart struct {
	*sim.HookableBase

	id       uint64
	isa      ISA
	userMode bool
	priv     Priv

	regFile *RegFile
	csr     *CSRFile
	lsu     *LoadStoreUnit
	decoder *insts.Decoder
	host    *HostInterface

	alu        *ALU
	branchUnit *BranchUnit

	retired uint64
}

func newHart(id uint64, isa ISA, cfg *Config, b *bus) *Hart {
	regFile := NewRegFile(isa.XLEN)
	regFile.PC = cfg.MemBase

	decoderOpts := []insts.DecoderOption{insts.WithXLEN(isa.XLEN)}
	if isa.Has('C') {
		decoderOpts = append(decoderOpts, insts.WithCompressed())
	}

	return &Hart{
		HookableBase: sim.NewHookableBase(),
		id:           id,
		isa:          isa,
		userMode:     cfg.HasUserMode(),
		priv:         PrivM,
		regFile:      regFile,
		csr:          NewCSRFile(isa, id, cfg.HasUserMode(), cfg.PMPRegions),
		lsu:          newLoadStoreUnit(b, cfg.Misaligned),
		decoder:      insts.NewDecoder(decoderOpts...),
		host:         b.host,
		alu:          NewALU(regFile),
		branchUnit:   NewBranchUnit(regFile),
	}
}

// ID returns the hart ID (mhartid).
func (h *Hart) ID() uint64 {
	return h.id
}

// XLEN returns the register width in bits.
func (h *Hart) XLEN() int {
	return h.isa.XLEN
}

// RegFile returns the hart's register file.
func (h *Hart) RegFile() *RegFile {
	return h.regFile
}

// CSRFile returns the hart's CSR file.
func (h *Hart) CSRFile() *CSRFile {
	return h.csr
}

// LSU returns the hart's load/store unit.
func (h *Hart) LSU() *LoadStoreUnit {
	return h.lsu
}

// Retired returns the number of instructions the hart has retired.
func (h *Hart) Retired() uint64 {
	return h.retired
}

// PC returns the program counter.
func (h *Hart) PC() uint64 {
	return h.regFile.PC
}

// SetPC sets the program counter.
func (h *Hart) SetPC(pc uint64) {
	h.regFile.SetPC(pc)
}

// Priv returns the current privilege level.
func (h *Hart) Priv() Priv {
	return h.priv
}

// SetPriv sets the current privilege level. U is ignored when the engine
// has no user mode.
func (h *Hart) SetPriv(p Priv) {
	if p == PrivU && !h.userMode {
		return
	}
	h.priv = p
}

// TakeTrap enters the trap handler for t as if the instruction at epc had
// raised it. Pending-interrupt arbitration is not consulted.
func (h *Hart) TakeTrap(t Trap, epc uint64) {
	vector := h.csr.enterTrap(t, epc, h.priv)
	h.priv = PrivM
	h.lsu.ClearReservation()
	h.regFile.SetPC(vector)

	if h.NumHooks() > 0 {
		h.InvokeHook(sim.HookCtx{
			Domain: h,
			Pos:    HookPosTrap,
			Item:   t,
			Detail: TrapInfo{EPC: epc, Vector: vector},
		})
	}
}

// Step executes a single instruction, or takes a pending interrupt.
func (h *Hart) Step() StepResult {
	if h.host.Exited() {
		return StepResult{Exited: true, ExitCode: h.host.ExitCode()}
	}

	pc := h.regFile.PC

	if t, ok := h.csr.pendingInterrupt(h.priv); ok {
		h.TakeTrap(t, pc)
		return StepResult{}
	}

	inst, trap := h.fetch(pc)
	if trap != nil {
		h.TakeTrap(*trap, pc)
		if trap.Cause == CauseInstAccessFault && h.regFile.PC == pc {
			return StepResult{Err: &FaultError{HartID: h.id, PC: pc, Err: ErrTrapLoop}}
		}
		return StepResult{}
	}

	if trap := h.execute(inst); trap != nil {
		h.TakeTrap(*trap, pc)
		return StepResult{}
	}

	h.csr.retire()
	h.retired++

	if h.NumHooks() > 0 {
		h.InvokeHook(sim.HookCtx{
			Domain: h,
			Pos:    HookPosInstRetired,
			Item:   inst,
			Detail: RetireInfo{PC: pc, NextPC: h.regFile.PC},
		})
	}

	if h.host.Exited() {
		return StepResult{Exited: true, ExitCode: h.host.ExitCode()}
	}

	return StepResult{}
}

func (h *Hart) alignMask() uint64 {
	if h.isa.Has('C') {
		return 1
	}
	return 3
}

// fetch reads and decodes the instruction at pc.
func (h *Hart) fetch(pc uint64) (*insts.Instruction, *Trap) {
	if pc&h.alignMask() != 0 {
		return nil, &Trap{Cause: CauseInstMisaligned, Tval: pc}
	}

	lo, err := h.lsu.Fetch16(pc)
	if err != nil {
		return nil, &Trap{Cause: CauseInstAccessFault, Tval: pc}
	}

	word := uint32(lo)
	if !insts.IsCompressed(lo) {
		hi, err := h.lsu.Fetch16(pc + 2)
		if err != nil {
			return nil, &Trap{Cause: CauseInstAccessFault, Tval: pc + 2}
		}
		word |= uint32(hi) << 16
	}

	return h.decoder.Decode(word), nil
}

func illegal(inst *insts.Instruction) *Trap {
	return &Trap{Cause: CauseIllegalInst, Tval: uint64(inst.Raw)}
}

// execute runs a decoded instruction and advances the PC. A non-nil trap
// means the instruction did not retire and architectural state is unchanged
// except for what the trap itself writes.
func (h *Hart) execute(inst *insts.Instruction) *Trap {
	pc := h.regFile.PC
	next := pc + uint64(inst.Length)

	switch inst.Format {
	case insts.FormatR:
		if !h.alu.RegReg(inst.Op, inst.Rd, inst.Rs1, inst.Rs2) {
			return illegal(inst)
		}
	case insts.FormatI:
		if !h.alu.RegImm(inst.Op, inst.Rd, inst.Rs1, inst.Imm) {
			return illegal(inst)
		}
	case insts.FormatU:
		h.executeUpper(inst)
	case insts.FormatJ, insts.FormatJumpReg, insts.FormatB:
		target, taken := h.jumpTarget(inst)
		if taken {
			if target&h.alignMask() != 0 {
				return &Trap{Cause: CauseInstMisaligned, Tval: target}
			}
			if inst.Format != insts.FormatB {
				h.branchUnit.Link(inst.Rd, inst.Length)
			}
			next = target
		}
	case insts.FormatLoad:
		if trap := h.executeLoad(inst); trap != nil {
			return trap
		}
	case insts.FormatS:
		if trap := h.executeStore(inst); trap != nil {
			return trap
		}
	case insts.FormatAtomic:
		if trap := h.executeAtomic(inst); trap != nil {
			return trap
		}
	case insts.FormatCSR:
		if trap := h.executeCSR(inst); trap != nil {
			return trap
		}
	case insts.FormatSystem:
		return h.executeSystem(inst, &next)
	case insts.FormatFence:
		// Memory is coherent and there is no instruction cache.
	default:
		return illegal(inst)
	}

	h.regFile.SetPC(next)
	return nil
}

func (h *Hart) executeUpper(inst *insts.Instruction) {
	switch inst.Op {
	case insts.OpLUI:
		h.regFile.WriteReg(inst.Rd, uint64(inst.Imm))
	case insts.OpAUIPC:
		h.regFile.WriteReg(inst.Rd, h.regFile.PC+uint64(inst.Imm))
	}
}

func (h *Hart) jumpTarget(inst *insts.Instruction) (uint64, bool) {
	switch inst.Format {
	case insts.FormatJ:
		return h.branchUnit.BranchTarget(inst.Imm), true
	case insts.FormatJumpReg:
		return h.branchUnit.JumpRegTarget(inst.Rs1, inst.Imm), true
	default:
		if !h.branchUnit.Taken(inst.Op, inst.Rs1, inst.Rs2) {
			return 0, false
		}
		return h.branchUnit.BranchTarget(inst.Imm), true
	}
}

func (h *Hart) effectiveAddr(inst *insts.Instruction) uint64 {
	return h.regFile.truncate(h.regFile.ReadReg(inst.Rs1) + uint64(inst.Imm))
}

func (h *Hart) executeLoad(inst *insts.Instruction) *Trap {
	addr := h.effectiveAddr(inst)

	v, err := h.lsu.Load(addr, uint64(inst.Width))
	if err != nil {
		return memoryTrap(err, addr)
	}

	switch inst.Op {
	case insts.OpLB:
		v = uint64(int64(int8(v)))
	case insts.OpLH:
		v = uint64(int64(int16(v)))
	case insts.OpLW:
		v = sext32(uint32(v))
	}

	h.regFile.WriteReg(inst.Rd, v)
	return nil
}

func (h *Hart) executeStore(inst *insts.Instruction) *Trap {
	addr := h.effectiveAddr(inst)

	if err := h.lsu.Store(addr, uint64(inst.Width), h.regFile.ReadReg(inst.Rs2)); err != nil {
		return memoryTrap(err, addr)
	}
	return nil
}

func (h *Hart) executeAtomic(inst *insts.Instruction) *Trap {
	addr := h.regFile.ReadReg(inst.Rs1)
	size := uint64(inst.Width)
	src := h.regFile.ReadReg(inst.Rs2)

	extend := func(v uint64) uint64 {
		if size == 4 {
			return sext32(uint32(v))
		}
		return v
	}

	switch inst.Op {
	case insts.OpLR:
		v, err := h.lsu.LoadReserved(addr, size)
		if err != nil {
			return memoryTrap(err, addr)
		}
		h.regFile.WriteReg(inst.Rd, extend(v))
	case insts.OpSC:
		ok, err := h.lsu.StoreConditional(addr, size, src)
		if err != nil {
			return memoryTrap(err, addr)
		}
		h.regFile.WriteReg(inst.Rd, boolToWord(!ok))
	default:
		old, err := h.lsu.AMO(addr, size, func(old uint64) uint64 {
			return amo(inst.Op, extend(old), extend(src))
		})
		if err != nil {
			return memoryTrap(err, addr)
		}
		h.regFile.WriteReg(inst.Rd, extend(old))
	}

	return nil
}

// amo computes the value an AMO writes back. Operands are sign-extended
// from the access width.
func amo(op insts.Op, old, src uint64) uint64 {
	switch op {
	case insts.OpAMOSWAP:
		return src
	case insts.OpAMOADD:
		return old + src
	case insts.OpAMOXOR:
		return old ^ src
	case insts.OpAMOAND:
		return old & src
	case insts.OpAMOOR:
		return old | src
	case insts.OpAMOMIN:
		if int64(src) < int64(old) {
			return src
		}
		return old
	case insts.OpAMOMAX:
		if int64(src) > int64(old) {
			return src
		}
		return old
	case insts.OpAMOMINU:
		if src < old {
			return src
		}
		return old
	case insts.OpAMOMAXU:
		if src > old {
			return src
		}
		return old
	}
	return old
}

func (h *Hart) executeCSR(inst *insts.Instruction) *Trap {
	operand := h.regFile.ReadReg(inst.Rs1)
	write := true

	switch inst.Op {
	case insts.OpCSRRWI, insts.OpCSRRSI, insts.OpCSRRCI:
		operand = uint64(inst.Imm)
	}

	var update func(uint64) uint64
	switch inst.Op {
	case insts.OpCSRRW, insts.OpCSRRWI:
		update = func(uint64) uint64 { return operand }
	case insts.OpCSRRS, insts.OpCSRRSI:
		write = inst.Rs1 != 0
		update = func(old uint64) uint64 { return old | operand }
	default:
		write = inst.Rs1 != 0
		update = func(old uint64) uint64 { return old &^ operand }
	}

	old, err := h.csr.Access(inst.CSR, h.priv, write, update)
	if err != nil {
		return illegal(inst)
	}

	h.regFile.WriteReg(inst.Rd, old)
	return nil
}

func (h *Hart) executeSystem(inst *insts.Instruction, next *uint64) *Trap {
	pc := h.regFile.PC

	switch inst.Op {
	case insts.OpECALL:
		if h.priv == PrivM {
			return &Trap{Cause: CauseEcallM}
		}
		return &Trap{Cause: CauseEcallU}
	case insts.OpEBREAK:
		return &Trap{Cause: CauseBreakpoint, Tval: pc}
	case insts.OpMRET:
		if h.priv != PrivM {
			return illegal(inst)
		}
		h.priv = h.csr.leaveTrap()
		*next = h.csr.mepc & h.csr.epcMask()
	case insts.OpWFI:
		if h.priv != PrivM {
			return illegal(inst)
		}
	default:
		return illegal(inst)
	}

	h.regFile.SetPC(*next)
	return nil
}

// memoryTrap converts a load/store unit error into the matching exception.
func memoryTrap(err error, addr uint64) *Trap {
	var misaligned *MisalignedFault
	if errors.As(err, &misaligned) {
		if misaligned.Kind == AccessLoad {
			return &Trap{Cause: CauseLoadMisaligned, Tval: addr}
		}
		return &Trap{Cause: CauseStoreMisaligned, Tval: addr}
	}

	var fault *AccessFault
	if errors.As(err, &fault) && fault.Kind == AccessLoad {
		return &Trap{Cause: CauseLoadAccessFault, Tval: addr}
	}
	return &Trap{Cause: CauseStoreAccessFault, Tval: addr}
}
