// Package loader provides ELF binary loading for RISC-V executables.
package loader

import (
	"debug/elf"
	"fmt"
	"io"
)

// SegmentFlags represents memory protection flags for a segment.
type SegmentFlags uint32

const (
	// SegmentFlagExecute indicates the segment is executable.
	SegmentFlagExecute SegmentFlags = 1 << iota
	// SegmentFlagWrite indicates the segment is writable.
	SegmentFlagWrite
	// SegmentFlagRead indicates the segment is readable.
	SegmentFlagRead
)

// Segment represents a loadable segment from an ELF binary.
type Segment struct {
	// PhysAddr is the physical address where this segment should be loaded.
	// Bare-metal images are linked so that it matches the virtual address.
	PhysAddr uint64
	// Data contains the segment contents from the file.
	Data []byte
	// MemSize is the size in memory (may be larger than len(Data) for BSS).
	MemSize uint64
	// Flags contains the segment protection flags.
	Flags SegmentFlags
}

// Program represents a loaded ELF program ready for execution.
type Program struct {
	// XLEN is 32 or 64, from the ELF class.
	XLEN int
	// EntryPoint is the address where execution should begin.
	EntryPoint uint64
	// Segments contains all loadable segments from the ELF file.
	Segments []Segment
	// ToHost is the address of the tohost symbol, or 0 if there is none.
	ToHost uint64
}

// Writer is anything that accepts a block of bytes at a physical address.
type Writer interface {
	Write(addr uint64, data []byte) error
}

// LoadInto writes every segment through w. The part of a segment beyond
// its file contents is zero-filled.
func (p *Program) LoadInto(w Writer) error {
	for _, seg := range p.Segments {
		size := seg.MemSize
		if size < uint64(len(seg.Data)) {
			size = uint64(len(seg.Data))
		}
		if size == 0 {
			continue
		}

		image := make([]byte, size)
		copy(image, seg.Data)

		if err := w.Write(seg.PhysAddr, image); err != nil {
			return fmt.Errorf("failed to load segment at 0x%x: %w", seg.PhysAddr, err)
		}
	}
	return nil
}

// Load parses a RISC-V ELF binary and returns a Program struct ready for
// loading into the engine's memory.
func Load(path string) (*Program, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ELF file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if f.Machine != elf.EM_RISCV {
		return nil, fmt.Errorf("not a RISC-V ELF file (machine type: %v)", f.Machine)
	}

	prog := &Program{EntryPoint: f.Entry}
	switch f.Class {
	case elf.ELFCLASS32:
		prog.XLEN = 32
	case elf.ELFCLASS64:
		prog.XLEN = 64
	default:
		return nil, fmt.Errorf("unsupported ELF class %v", f.Class)
	}

	for _, phdr := range f.Progs {
		if phdr.Type != elf.PT_LOAD {
			continue
		}

		data := make([]byte, phdr.Filesz)
		if phdr.Filesz > 0 {
			n, err := phdr.ReadAt(data, 0)
			if err != nil && err != io.EOF {
				return nil, fmt.Errorf("failed to read segment at 0x%x: %w", phdr.Paddr, err)
			}
			if uint64(n) != phdr.Filesz {
				return nil, fmt.Errorf("short read for segment at 0x%x: got %d bytes, expected %d",
					phdr.Paddr, n, phdr.Filesz)
			}
		}

		var flags SegmentFlags
		if phdr.Flags&elf.PF_X != 0 {
			flags |= SegmentFlagExecute
		}
		if phdr.Flags&elf.PF_W != 0 {
			flags |= SegmentFlagWrite
		}
		if phdr.Flags&elf.PF_R != 0 {
			flags |= SegmentFlagRead
		}

		prog.Segments = append(prog.Segments, Segment{
			PhysAddr: phdr.Paddr,
			Data:     data,
			MemSize:  phdr.Memsz,
			Flags:    flags,
		})
	}

	prog.ToHost = lookupSymbol(f, "tohost")

	return prog, nil
}

// lookupSymbol returns the value of the named symbol, or 0 if the file has
// no symbol table or no such symbol.
func lookupSymbol(f *elf.File, name string) uint64 {
	syms, err := f.Symbols()
	if err != nil {
		return 0
	}
	for _, s := range syms {
		if s.Name == name {
			return s.Value
		}
	}
	return 0
}
