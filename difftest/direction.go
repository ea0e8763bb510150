package difftest

import "fmt"

// Raw direction flags of the C interface. The flag names where the data
// goes: DirectionToRef means DUT buffer to engine.
const (
	DirectionToDUT = false
	DirectionToRef = true
)

// MemcpyDirection is the direction of a memory copy.
type MemcpyDirection int

// Memory copy directions. Only MemcpyToRef is supported.
const (
	MemcpyToRef MemcpyDirection = iota
	MemcpyToDUT
)

func (d MemcpyDirection) String() string {
	switch d {
	case MemcpyToRef:
		return "to-ref"
	case MemcpyToDUT:
		return "to-dut"
	default:
		return fmt.Sprintf("MemcpyDirection(%d)", int(d))
	}
}

// MemcpyDirectionFromRaw converts the raw C flag.
func MemcpyDirectionFromRaw(toRef bool) MemcpyDirection {
	if toRef == DirectionToRef {
		return MemcpyToRef
	}
	return MemcpyToDUT
}

// RegcpyDirection is the direction of a register state copy.
type RegcpyDirection int

// Register copy directions.
const (
	// RegcpyToRef overwrites the engine state from the snapshot.
	RegcpyToRef RegcpyDirection = iota
	// RegcpyToDUT overwrites the snapshot from the engine state.
	RegcpyToDUT
)

func (d RegcpyDirection) String() string {
	switch d {
	case RegcpyToRef:
		return "to-ref"
	case RegcpyToDUT:
		return "to-dut"
	default:
		return fmt.Sprintf("RegcpyDirection(%d)", int(d))
	}
}

// RegcpyDirectionFromRaw converts the raw C flag.
func RegcpyDirectionFromRaw(toRef bool) RegcpyDirection {
	if toRef == DirectionToRef {
		return RegcpyToRef
	}
	return RegcpyToDUT
}
