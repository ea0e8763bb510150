package difftest

import (
	"log/slog"
	"strconv"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/rvdiff/emu"
)

// LogHook writes hook events of the adapter and the bound hart to a
// structured logger at debug level.
type LogHook struct {
	logger *slog.Logger
}

// NewLogHook creates a LogHook writing to logger.
func NewLogHook(logger *slog.Logger) *LogHook {
	return &LogHook{logger: logger}
}

// Func logs one hook invocation.
func (h *LogHook) Func(ctx sim.HookCtx) {
	switch ctx.Pos {
	case HookPosStateRead, HookPosStateWrite:
		s, ok := ctx.Item.(*Snapshot)
		if !ok {
			return
		}
		attrs := []any{"pc", hex(s.PC)}
		for i, addr := range MinimalCSRs {
			if v, ok := s.CSRValue(addr); ok {
				attrs = append(attrs, minimalCSRNames[i], hex(v))
			}
		}
		h.logger.Debug(ctx.Pos.Name, attrs...)

	case HookPosExec:
		info, ok := ctx.Item.(ExecInfo)
		if !ok {
			return
		}
		h.logger.Debug(ctx.Pos.Name,
			"steps", info.Steps, "retired", info.Retired, "pc", hex(info.PC))

	case emu.HookPosTrap:
		t, ok := ctx.Item.(emu.Trap)
		if !ok {
			return
		}
		info, _ := ctx.Detail.(emu.TrapInfo)
		h.logger.Debug(ctx.Pos.Name,
			"cause", hex(t.Cause), "epc", hex(info.EPC), "vector", hex(info.Vector))

	case emu.HookPosInstRetired:
		info, _ := ctx.Detail.(emu.RetireInfo)
		h.logger.Debug(ctx.Pos.Name, "pc", hex(info.PC), "next_pc", hex(info.NextPC))
	}
}

var minimalCSRNames = [...]string{"mstatus", "mtvec", "mepc", "mcause"}

func hex(v uint64) slog.Value {
	return slog.StringValue("0x" + strconv.FormatUint(v, 16))
}
