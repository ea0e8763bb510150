package difftest

import (
	"errors"
	"fmt"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/rvdiff/emu"
)

// HookPosStateRead is triggered after the adapter copies engine state into
// a snapshot. The hook item is the *Snapshot.
var HookPosStateRead = &sim.HookPos{Name: "StateRead"}

// HookPosStateWrite is triggered after the adapter copies a snapshot into
// the engine. The hook item is the *Snapshot.
var HookPosStateWrite = &sim.HookPos{Name: "StateWrite"}

// HookPosExec is triggered after the adapter steps the engine. The hook
// item is an ExecInfo.
var HookPosExec = &sim.HookPos{Name: "Exec"}

// ExecInfo describes one Exec request.
type ExecInfo struct {
	Steps   uint64
	Retired uint64
	PC      uint64
}

// Adapter binds a snapshot layout to one hart of a reference engine.
type Adapter struct {
	*sim.HookableBase

	engine *emu.Emulator
	hart   *emu.Hart
	layout Layout
}

// NewAdapter selects the hart with the given ID and checks that layout
// matches the engine.
func NewAdapter(engine *emu.Emulator, hartID string, layout Layout) (*Adapter, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	if layout.XLEN != engine.XLEN() {
		return nil, fmt.Errorf("%w: layout XLEN %d, engine XLEN %d",
			ErrLayoutMismatch, layout.XLEN, engine.XLEN())
	}

	hart, err := engine.Core(hartID)
	if err != nil {
		return nil, err
	}

	return &Adapter{
		HookableBase: sim.NewHookableBase(),
		engine:       engine,
		hart:         hart,
		layout:       layout,
	}, nil
}

// Layout returns the snapshot layout of the adapter.
func (a *Adapter) Layout() Layout {
	return a.layout
}

// Hart returns the hart the adapter is bound to.
func (a *Adapter) Hart() *emu.Hart {
	return a.hart
}

// ReadState copies the engine state into s. CSRs the engine does not
// implement read as 0.
func (a *Adapter) ReadState(s *Snapshot) error {
	if err := a.checkLayout(s); err != nil {
		return err
	}

	regs := a.hart.RegFile()
	for i := range s.GPR {
		s.GPR[i] = regs.ReadReg(uint8(i))
	}
	s.PC = a.hart.PC()

	csrs := a.hart.CSRFile()
	for i := 0; i < a.layout.CSRCount(); i++ {
		v, err := csrs.Read(a.layout.CSRAddr(i))
		if errors.Is(err, emu.ErrCSRNotImplemented) {
			v = 0
		} else if err != nil {
			return err
		}
		s.CSR[i] = v
	}

	a.invoke(HookPosStateRead, s)

	return nil
}

// WriteState copies s into the engine. Writes go through the engine's own
// accessors, so x0 stays zero and CSR values are legalised. CSRs that are
// not implemented or read-only are skipped.
func (a *Adapter) WriteState(s *Snapshot) error {
	if err := a.checkLayout(s); err != nil {
		return err
	}

	regs := a.hart.RegFile()
	for i := 1; i < NumGPRs; i++ {
		regs.WriteReg(uint8(i), s.GPR[i])
	}
	a.hart.SetPC(s.PC)

	csrs := a.hart.CSRFile()
	for i := 0; i < a.layout.CSRCount(); i++ {
		addr := a.layout.CSRAddr(i)
		err := csrs.Write(addr, s.CSR[i])
		switch {
		case err == nil,
			errors.Is(err, emu.ErrCSRNotImplemented),
			errors.Is(err, emu.ErrCSRReadOnly):
		default:
			return fmt.Errorf("difftest: write CSR 0x%03X: %w", addr, err)
		}
	}

	a.invoke(HookPosStateWrite, s)

	return nil
}

// Step runs the engine for n steps and blocks until they are done.
func (a *Adapter) Step(n uint64) error {
	before := a.engine.InstructionCount()

	if err := a.engine.Step(n); err != nil {
		return &EngineFaultError{Steps: n, Err: err}
	}

	a.invoke(HookPosExec, ExecInfo{
		Steps:   n,
		Retired: a.engine.InstructionCount() - before,
		PC:      a.hart.PC(),
	})

	return nil
}

func (a *Adapter) checkLayout(s *Snapshot) error {
	if s.Layout != a.layout {
		return fmt.Errorf("%w: snapshot %+v, adapter %+v", ErrLayoutMismatch, s.Layout, a.layout)
	}
	return nil
}

func (a *Adapter) invoke(pos *sim.HookPos, item interface{}) {
	if a.NumHooks() == 0 {
		return
	}
	a.InvokeHook(sim.HookCtx{
		Domain: a,
		Pos:    pos,
		Item:   item,
	})
}
