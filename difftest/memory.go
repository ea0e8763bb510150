package difftest

import (
	"fmt"

	"github.com/sarchlab/rvdiff/emu"
)

// MemoryBridge copies DUT memory images into the engine.
type MemoryBridge struct {
	lsu *emu.LoadStoreUnit
}

// NewMemoryBridge creates a bridge that stores through hart's load/store
// unit.
func NewMemoryBridge(hart *emu.Hart) *MemoryBridge {
	return &MemoryBridge{lsu: hart.LSU()}
}

// CopyIn stores src at addr one byte at a time, the way a sequence of
// byte stores would, and lets the host interface see the finished copy.
// The copy is not atomic: bytes before a faulting offset stay written.
func (m *MemoryBridge) CopyIn(addr uint64, src []byte) error {
	n, err := m.lsu.Copy(addr, src)
	switch {
	case err == nil:
		return nil
	case n < len(src):
		return fmt.Errorf("difftest: memcpy to 0x%X failed at offset %d: %w", addr, n, err)
	default:
		return fmt.Errorf("difftest: memcpy to 0x%X: %w", addr, err)
	}
}

// Write implements loader.Writer.
func (m *MemoryBridge) Write(addr uint64, data []byte) error {
	return m.CopyIn(addr, data)
}
