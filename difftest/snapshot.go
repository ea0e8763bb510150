// Package difftest is the control plane a DUT driver uses to run a RISC-V
// reference engine in lockstep: state transfer, memory copy, stepping and
// trap injection.
package difftest

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/sarchlab/rvdiff/emu"
)

// NumGPRs is the number of general-purpose registers in a snapshot.
const NumGPRs = 32

// CSRProfile selects which CSRs a snapshot carries.
type CSRProfile int

// CSR profiles.
const (
	// ProfileMinimal carries mstatus, mtvec, mepc and mcause, in that order.
	ProfileMinimal CSRProfile = iota
	// ProfileFull carries every CSR address, indexed by address.
	ProfileFull
)

// MinimalCSRs lists the CSR addresses of the minimal profile in wire order.
var MinimalCSRs = [...]uint16{
	emu.CSRMstatus,
	emu.CSRMtvec,
	emu.CSRMepc,
	emu.CSRMcause,
}

func (p CSRProfile) String() string {
	switch p {
	case ProfileMinimal:
		return "minimal"
	case ProfileFull:
		return "full"
	default:
		return fmt.Sprintf("CSRProfile(%d)", int(p))
	}
}

// ParseProfile parses "minimal" or "full". The empty string is minimal.
func ParseProfile(s string) (CSRProfile, error) {
	switch strings.ToLower(s) {
	case "", "minimal":
		return ProfileMinimal, nil
	case "full":
		return ProfileFull, nil
	default:
		return 0, fmt.Errorf("%w: unknown CSR profile %q", ErrInvalidLayout, s)
	}
}

// Layout describes the wire form of a snapshot: gpr[32], pc, csr[n], each
// a little-endian word of XLEN bits.
type Layout struct {
	XLEN    int
	Profile CSRProfile
}

// Validate checks that the layout can be encoded.
func (l Layout) Validate() error {
	if l.XLEN != 32 && l.XLEN != 64 {
		return fmt.Errorf("%w: XLEN %d", ErrInvalidLayout, l.XLEN)
	}
	if l.Profile != ProfileMinimal && l.Profile != ProfileFull {
		return fmt.Errorf("%w: %v", ErrInvalidLayout, l.Profile)
	}
	return nil
}

// WordSize returns the size of one word in bytes.
func (l Layout) WordSize() int {
	return l.XLEN / 8
}

// CSRCount returns the number of CSR words in the wire form.
func (l Layout) CSRCount() int {
	if l.Profile == ProfileFull {
		return emu.NumCSRs
	}
	return len(MinimalCSRs)
}

// CSRAddr returns the CSR address carried at CSR index i.
func (l Layout) CSRAddr(i int) uint16 {
	if l.Profile == ProfileFull {
		return uint16(i)
	}
	return MinimalCSRs[i]
}

// PCOffset returns the byte offset of pc in the wire form.
func (l Layout) PCOffset() int {
	return NumGPRs * l.WordSize()
}

// CSROffset returns the byte offset of csr[0] in the wire form.
func (l Layout) CSROffset() int {
	return (NumGPRs + 1) * l.WordSize()
}

// Size returns the byte size of the wire form.
func (l Layout) Size() int {
	return (NumGPRs + 1 + l.CSRCount()) * l.WordSize()
}

func (l Layout) mask() uint64 {
	if l.XLEN == 32 {
		return 0xFFFFFFFF
	}
	return ^uint64(0)
}

// Snapshot is the architectural state of one hart as seen by the DUT.
// Words are held zero-extended. Only the first Layout.CSRCount() CSR words
// are meaningful.
type Snapshot struct {
	Layout Layout
	GPR    [NumGPRs]uint64
	PC     uint64
	CSR    [emu.NumCSRs]uint64
}

// NewSnapshot returns a zeroed snapshot of layout l.
func NewSnapshot(l Layout) *Snapshot {
	return &Snapshot{Layout: l}
}

// CSRValue returns the carried value of the CSR at addr, and false if the
// profile does not carry it.
func (s *Snapshot) CSRValue(addr uint16) (uint64, bool) {
	for i := 0; i < s.Layout.CSRCount(); i++ {
		if s.Layout.CSRAddr(i) == addr {
			return s.CSR[i], true
		}
	}
	return 0, false
}

// Encode writes the wire form into buf.
func (s *Snapshot) Encode(buf []byte) error {
	if err := s.checkBuffer(buf); err != nil {
		return err
	}

	l := s.Layout
	for i, v := range s.GPR {
		putWord(buf[i*l.WordSize():], l.XLEN, v)
	}
	putWord(buf[l.PCOffset():], l.XLEN, s.PC)
	for i := 0; i < l.CSRCount(); i++ {
		putWord(buf[l.CSROffset()+i*l.WordSize():], l.XLEN, s.CSR[i])
	}

	return nil
}

// Decode reads the wire form from buf. Words are zero-extended.
func (s *Snapshot) Decode(buf []byte) error {
	if err := s.checkBuffer(buf); err != nil {
		return err
	}

	l := s.Layout
	for i := range s.GPR {
		s.GPR[i] = getWord(buf[i*l.WordSize():], l.XLEN)
	}
	s.PC = getWord(buf[l.PCOffset():], l.XLEN)
	for i := 0; i < l.CSRCount(); i++ {
		s.CSR[i] = getWord(buf[l.CSROffset()+i*l.WordSize():], l.XLEN)
	}

	return nil
}

func (s *Snapshot) checkBuffer(buf []byte) error {
	if err := s.Layout.Validate(); err != nil {
		return err
	}
	if len(buf) < s.Layout.Size() {
		return fmt.Errorf("%w: buffer holds %d bytes, layout needs %d",
			ErrLayoutMismatch, len(buf), s.Layout.Size())
	}
	return nil
}

func putWord(b []byte, xlen int, v uint64) {
	if xlen == 32 {
		binary.LittleEndian.PutUint32(b, uint32(v))
		return
	}
	binary.LittleEndian.PutUint64(b, v)
}

func getWord(b []byte, xlen int) uint64 {
	if xlen == 32 {
		return uint64(binary.LittleEndian.Uint32(b))
	}
	return binary.LittleEndian.Uint64(b)
}
