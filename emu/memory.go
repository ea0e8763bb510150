package emu

import (
	"encoding/binary"

	"github.com/sarchlab/akita/v4/mem/mem"
)

// Memory is the single flat memory region of the engine, mapped at a fixed
// base address. Storage is allocated in 4 KiB units on first touch.
type Memory struct {
	base    uint64
	size    uint64
	storage *mem.Storage
}

// NewMemory creates a memory region [base, base+size).
func NewMemory(base, size uint64) *Memory {
	return &Memory{
		base:    base,
		size:    size,
		storage: mem.NewStorage(size),
	}
}

// Base returns the first address of the region.
func (m *Memory) Base() uint64 {
	return m.base
}

// Size returns the region size in bytes.
func (m *Memory) Size() uint64 {
	return m.size
}

// Contains reports whether [addr, addr+n) lies inside the region.
func (m *Memory) Contains(addr, n uint64) bool {
	if addr < m.base {
		return false
	}
	off := addr - m.base
	return off < m.size && n <= m.size-off
}

// Read returns n bytes starting at addr.
func (m *Memory) Read(addr, n uint64) ([]byte, error) {
	if !m.Contains(addr, n) {
		return nil, &AccessFault{Addr: addr, Size: n, Kind: AccessLoad}
	}
	return m.storage.Read(addr-m.base, n)
}

// Write stores data starting at addr.
func (m *Memory) Write(addr uint64, data []byte) error {
	if !m.Contains(addr, uint64(len(data))) {
		return &AccessFault{Addr: addr, Size: uint64(len(data)), Kind: AccessStore}
	}
	return m.storage.Write(addr-m.base, data)
}

// Read8 reads a byte.
func (m *Memory) Read8(addr uint64) (uint8, error) {
	b, err := m.Read(addr, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Read16 reads a little-endian halfword.
func (m *Memory) Read16(addr uint64) (uint16, error) {
	b, err := m.Read(addr, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// Read32 reads a little-endian word.
func (m *Memory) Read32(addr uint64) (uint32, error) {
	b, err := m.Read(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Read64 reads a little-endian doubleword.
func (m *Memory) Read64(addr uint64) (uint64, error) {
	b, err := m.Read(addr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Write8 writes a byte.
func (m *Memory) Write8(addr uint64, v uint8) error {
	return m.Write(addr, []byte{v})
}

// Write16 writes a little-endian halfword.
func (m *Memory) Write16(addr uint64, v uint16) error {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return m.Write(addr, b)
}

// Write32 writes a little-endian word.
func (m *Memory) Write32(addr uint64, v uint32) error {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return m.Write(addr, b)
}

// Write64 writes a little-endian doubleword.
func (m *Memory) Write64(addr uint64, v uint64) error {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return m.Write(addr, b)
}

// readN reads a little-endian value of size 1, 2, 4 or 8.
func (m *Memory) readN(addr, size uint64) (uint64, error) {
	switch size {
	case 1:
		v, err := m.Read8(addr)
		return uint64(v), err
	case 2:
		v, err := m.Read16(addr)
		return uint64(v), err
	case 4:
		v, err := m.Read32(addr)
		return uint64(v), err
	default:
		return m.Read64(addr)
	}
}

// writeN writes a little-endian value of size 1, 2, 4 or 8.
func (m *Memory) writeN(addr, size, v uint64) error {
	switch size {
	case 1:
		return m.Write8(addr, uint8(v))
	case 2:
		return m.Write16(addr, uint16(v))
	case 4:
		return m.Write32(addr, uint32(v))
	default:
		return m.Write64(addr, v)
	}
}
