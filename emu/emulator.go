// Package emu provides a functional RISC-V reference engine.
package emu

import (
	"fmt"
	"io"
	"os"
	"strconv"
)

// Emulator is the reference engine: a set of harts sharing one memory
// region and one host interface.
type Emulator struct {
	config *Config
	isa    ISA
	memory *Memory
	host   *HostInterface
	bus    *bus

	harts   []*Hart
	hartIdx map[string]int

	// I/O
	stdout io.Writer

	// Execution state
	stepCount       uint64
	maxInstructions uint64 // 0 means no limit
}

// EmulatorOption is a functional option for configuring the Emulator.
type EmulatorOption func(*Emulator)

// WithStdout sets the writer that receives HTIF console output.
func WithStdout(w io.Writer) EmulatorOption {
	return func(e *Emulator) {
		e.stdout = w
	}
}

// WithMaxInstructions sets the maximum number of instructions to execute.
// A value of 0 means no limit.
func WithMaxInstructions(max uint64) EmulatorOption {
	return func(e *Emulator) {
		e.maxInstructions = max
	}
}

// NewEmulator creates a RISC-V engine from cfg. A nil cfg uses
// DefaultConfig. Every hart starts in M-mode at MemBase.
func NewEmulator(cfg *Config, opts ...EmulatorOption) (*Emulator, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	isa, err := ParseISA(cfg.ISA)
	if err != nil {
		return nil, err
	}

	e := &Emulator{
		config:  cfg,
		isa:     isa,
		memory:  NewMemory(cfg.MemBase, cfg.MemSize),
		hartIdx: make(map[string]int),
		stdout:  os.Stdout,
	}

	for _, opt := range opts {
		opt(e)
	}

	e.host = NewHostInterface(e.memory, cfg.ToHost, e.stdout)
	e.bus = &bus{memory: e.memory, host: e.host}

	for i, id := range cfg.HartIDs {
		e.harts = append(e.harts, newHart(id, isa, cfg, e.bus))
		e.hartIdx[strconv.FormatUint(id, 10)] = i
	}

	return e, nil
}

// Config returns the configuration the engine was built with.
func (e *Emulator) Config() *Config {
	return e.config
}

// ISA returns the parsed ISA of the engine.
func (e *Emulator) ISA() ISA {
	return e.isa
}

// XLEN returns the register width in bits.
func (e *Emulator) XLEN() int {
	return e.isa.XLEN
}

// Memory returns the emulator's memory.
func (e *Emulator) Memory() *Memory {
	return e.memory
}

// Host returns the host interface.
func (e *Emulator) Host() *HostInterface {
	return e.host
}

// Harts returns all harts in configuration order.
func (e *Emulator) Harts() []*Hart {
	return e.harts
}

// Core returns the hart whose decimal hart ID is id.
func (e *Emulator) Core(id string) (*Hart, error) {
	i, ok := e.hartIdx[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchHart, id)
	}
	return e.harts[i], nil
}

// InstructionCount returns the number of instructions retired by all harts.
func (e *Emulator) InstructionCount() uint64 {
	var n uint64
	for _, h := range e.harts {
		n += h.retired
	}
	return n
}

// Exited reports whether the target requested termination.
func (e *Emulator) Exited() bool {
	return e.host.Exited()
}

// LoadProgram copies a program image into memory at addr and points every
// hart at entry.
func (e *Emulator) LoadProgram(addr uint64, image []byte, entry uint64) error {
	if err := e.memory.Write(addr, image); err != nil {
		return err
	}
	for _, h := range e.harts {
		h.SetPC(entry)
	}
	return nil
}

// Step advances the engine by n steps. In each step every hart executes one
// instruction in configuration order. It stops early when the target exits.
func (e *Emulator) Step(n uint64) error {
	for i := uint64(0); i < n; i++ {
		for _, h := range e.harts {
			if e.maxInstructions > 0 && e.stepCount >= e.maxInstructions {
				return &FaultError{HartID: h.id, PC: h.PC(), Err: ErrMaxInstructions}
			}

			result := h.Step()
			e.stepCount++

			if result.Err != nil {
				return result.Err
			}
			if result.Exited {
				return nil
			}
		}
	}
	return nil
}

// Run executes until the program exits or an error occurs.
// Returns the exit code (-1 if error).
func (e *Emulator) Run() (int64, error) {
	for !e.host.Exited() {
		if err := e.Step(1); err != nil {
			return -1, err
		}
	}
	return e.host.ExitCode(), nil
}
