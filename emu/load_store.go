package emu

import "errors"

// bus connects the load/store units of all harts to the shared memory
// region and the host interface.
type bus struct {
	memory *Memory
	host   *HostInterface
	units  []*LoadStoreUnit
}

// invalidate drops every reservation that overlaps [addr, addr+size).
func (b *bus) invalidate(addr, size uint64) {
	for _, u := range b.units {
		if u.resValid && addr < u.resAddr+u.resSize && u.resAddr < addr+size {
			u.resValid = false
		}
	}
}

// LoadStoreUnit implements RISC-V load and store operations for one hart.
type LoadStoreUnit struct {
	bus        *bus
	misaligned bool

	resValid bool
	resAddr  uint64
	resSize  uint64
}

func newLoadStoreUnit(b *bus, misaligned bool) *LoadStoreUnit {
	u := &LoadStoreUnit{bus: b, misaligned: misaligned}
	b.units = append(b.units, u)
	return u
}

func (u *LoadStoreUnit) checkAlign(addr, size uint64, kind AccessKind, always bool) error {
	if addr%size == 0 {
		return nil
	}
	if u.misaligned && !always {
		return nil
	}
	return &MisalignedFault{Addr: addr, Size: size, Kind: kind}
}

// Load reads size bytes (1, 2, 4 or 8) at addr, zero-extended.
func (u *LoadStoreUnit) Load(addr, size uint64) (uint64, error) {
	if err := u.checkAlign(addr, size, AccessLoad, false); err != nil {
		return 0, err
	}
	return u.bus.memory.readN(addr, size)
}

// Store writes the low size bytes of value at addr.
func (u *LoadStoreUnit) Store(addr, size, value uint64) error {
	if err := u.checkAlign(addr, size, AccessStore, false); err != nil {
		return err
	}
	return u.store(addr, size, value)
}

func (u *LoadStoreUnit) store(addr, size, value uint64) error {
	if err := u.bus.memory.writeN(addr, size, value); err != nil {
		return err
	}

	u.bus.invalidate(addr, size)

	if host := u.bus.host; host.Covers(addr, size) {
		return host.Poll()
	}
	return nil
}

// Copy writes data at addr one byte at a time. The host interface observes
// the copy once, after the last byte, never a partially written tohost
// word. It returns the number of bytes written before a fault.
func (u *LoadStoreUnit) Copy(addr uint64, data []byte) (int, error) {
	var (
		n   int
		err error
	)
	for ; n < len(data); n++ {
		a := addr + uint64(n)
		if err = u.bus.memory.writeN(a, 1, uint64(data[n])); err != nil {
			break
		}
		u.bus.invalidate(a, 1)
	}

	if host := u.bus.host; n > 0 && host.Covers(addr, uint64(n)) {
		if perr := host.Poll(); err == nil {
			err = perr
		}
	}
	return n, err
}

// Load8 loads a byte.
func (u *LoadStoreUnit) Load8(addr uint64) (uint8, error) {
	v, err := u.Load(addr, 1)
	return uint8(v), err
}

// Load16 loads a halfword.
func (u *LoadStoreUnit) Load16(addr uint64) (uint16, error) {
	v, err := u.Load(addr, 2)
	return uint16(v), err
}

// Load32 loads a word.
func (u *LoadStoreUnit) Load32(addr uint64) (uint32, error) {
	v, err := u.Load(addr, 4)
	return uint32(v), err
}

// Load64 loads a doubleword.
func (u *LoadStoreUnit) Load64(addr uint64) (uint64, error) {
	return u.Load(addr, 8)
}

// Store8 stores a byte.
func (u *LoadStoreUnit) Store8(addr uint64, v uint8) error {
	return u.Store(addr, 1, uint64(v))
}

// Store16 stores a halfword.
func (u *LoadStoreUnit) Store16(addr uint64, v uint16) error {
	return u.Store(addr, 2, uint64(v))
}

// Store32 stores a word.
func (u *LoadStoreUnit) Store32(addr uint64, v uint32) error {
	return u.Store(addr, 4, uint64(v))
}

// Store64 stores a doubleword.
func (u *LoadStoreUnit) Store64(addr uint64, v uint64) error {
	return u.Store(addr, 8, v)
}

// Fetch16 reads an instruction parcel.
func (u *LoadStoreUnit) Fetch16(addr uint64) (uint16, error) {
	v, err := u.bus.memory.Read16(addr)
	if err != nil {
		return 0, withKind(err, AccessFetch)
	}
	return v, nil
}

// LoadReserved performs LR and registers a reservation on the address.
func (u *LoadStoreUnit) LoadReserved(addr, size uint64) (uint64, error) {
	if err := u.checkAlign(addr, size, AccessLoad, true); err != nil {
		return 0, err
	}

	v, err := u.bus.memory.readN(addr, size)
	if err != nil {
		return 0, err
	}

	u.resValid = true
	u.resAddr = addr
	u.resSize = size

	return v, nil
}

// StoreConditional performs SC. It reports whether the store happened.
// The reservation is released in either case.
func (u *LoadStoreUnit) StoreConditional(addr, size, value uint64) (bool, error) {
	if err := u.checkAlign(addr, size, AccessStore, true); err != nil {
		return false, err
	}

	ok := u.resValid && u.resAddr == addr && u.resSize == size
	u.resValid = false

	if !ok {
		if !u.bus.memory.Contains(addr, size) {
			return false, &AccessFault{Addr: addr, Size: size, Kind: AccessStore}
		}
		return false, nil
	}

	if err := u.store(addr, size, value); err != nil {
		return false, err
	}
	return true, nil
}

// AMO performs an atomic read-modify-write and returns the old value.
func (u *LoadStoreUnit) AMO(addr, size uint64, op func(old uint64) uint64) (uint64, error) {
	if err := u.checkAlign(addr, size, AccessStore, true); err != nil {
		return 0, err
	}

	old, err := u.bus.memory.readN(addr, size)
	if err != nil {
		return 0, withKind(err, AccessStore)
	}

	if err := u.store(addr, size, op(old)); err != nil {
		return 0, err
	}
	return old, nil
}

// Reserved reports whether the unit holds a reservation.
func (u *LoadStoreUnit) Reserved() bool {
	return u.resValid
}

// ClearReservation drops the reservation of this unit.
func (u *LoadStoreUnit) ClearReservation() {
	u.resValid = false
}

func withKind(err error, kind AccessKind) error {
	var fault *AccessFault
	if errors.As(err, &fault) {
		return &AccessFault{Addr: fault.Addr, Size: fault.Size, Kind: kind}
	}
	return err
}
