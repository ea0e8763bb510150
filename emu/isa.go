package emu

import (
	"fmt"
	"sort"
	"strings"
)

// ISA describes the instruction-set variant an engine is built for.
type ISA struct {
	// XLEN is the base integer width, 32 or 64.
	XLEN int

	// Extensions holds the single-letter extensions in canonical order.
	Extensions string
}

// supportedExtensions lists the single-letter extensions the engine models.
const supportedExtensions = "IMAC"

// ParseISA parses an ISA string such as "RV32IMAC" or "rv64ima_zicsr".
// Zicsr and Zifencei are always present and may be named explicitly.
func ParseISA(s string) (ISA, error) {
	lower := strings.ToLower(strings.TrimSpace(s))
	parts := strings.Split(lower, "_")
	base := parts[0]

	var isa ISA
	switch {
	case strings.HasPrefix(base, "rv32"):
		isa.XLEN = 32
	case strings.HasPrefix(base, "rv64"):
		isa.XLEN = 64
	default:
		return ISA{}, fmt.Errorf("%w: %q must start with RV32 or RV64", ErrInvalidISA, s)
	}

	letters := strings.ToUpper(base[4:])
	if len(letters) == 0 || letters[0] != 'I' {
		return ISA{}, fmt.Errorf("%w: %q has no I base", ErrInvalidISA, s)
	}

	seen := make(map[rune]bool)
	for _, l := range letters {
		if l == 'G' {
			return ISA{}, fmt.Errorf("%w: G implies F and D", ErrUnsupportedExtension)
		}
		if !strings.ContainsRune(supportedExtensions, l) {
			if l >= 'A' && l <= 'Z' {
				return ISA{}, fmt.Errorf("%w: %c", ErrUnsupportedExtension, l)
			}
			return ISA{}, fmt.Errorf("%w: unexpected %q in %q", ErrInvalidISA, l, s)
		}
		seen[l] = true
	}

	for _, ext := range parts[1:] {
		switch ext {
		case "zicsr", "zifencei":
		default:
			return ISA{}, fmt.Errorf("%w: %s", ErrUnsupportedExtension, ext)
		}
	}

	exts := make([]string, 0, len(seen))
	for l := range seen {
		exts = append(exts, string(l))
	}
	sort.Slice(exts, func(i, j int) bool {
		return strings.Index(supportedExtensions, exts[i]) < strings.Index(supportedExtensions, exts[j])
	})
	isa.Extensions = strings.Join(exts, "")

	return isa, nil
}

// Has reports whether the single-letter extension is enabled.
func (i ISA) Has(ext byte) bool {
	return strings.IndexByte(i.Extensions, ext) >= 0
}

// String returns the canonical ISA string.
func (i ISA) String() string {
	return fmt.Sprintf("RV%d%s", i.XLEN, i.Extensions)
}

// MISA returns the misa CSR value for this ISA. userMode adds the U bit.
func (i ISA) MISA(userMode bool) uint64 {
	var v uint64
	for _, l := range i.Extensions {
		v |= 1 << uint(l-'A')
	}
	if userMode {
		v |= 1 << ('U' - 'A')
	}

	mxl := uint64(1)
	if i.XLEN == 64 {
		mxl = 2
	}
	return v | mxl<<(i.XLEN-2)
}
