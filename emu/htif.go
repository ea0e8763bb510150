package emu

import (
	"fmt"
	"io"
)

// HTIF devices and commands.
const (
	HTIFDeviceSyscall uint64 = 0 // exit(code) when the payload LSB is set
	HTIFDeviceConsole uint64 = 1
	HTIFCmdPutchar    uint64 = 1
)

// HostInterface implements the tohost side of the HTIF protocol. A target
// program signals the host by storing a 64-bit command to the tohost word:
//
//	bits 63:56 device, bits 55:48 command, bits 47:0 payload
//
// The interface clears tohost after each command is handled.
type HostInterface struct {
	memory *Memory
	addr   uint64
	stdout io.Writer

	exited   bool
	exitCode int64
}

// NewHostInterface creates a host interface watching the tohost word at
// addr. An addr of 0 disables it.
func NewHostInterface(memory *Memory, addr uint64, stdout io.Writer) *HostInterface {
	return &HostInterface{
		memory: memory,
		addr:   addr,
		stdout: stdout,
	}
}

// Enabled reports whether a tohost address is configured.
func (h *HostInterface) Enabled() bool {
	return h != nil && h.addr != 0
}

// Addr returns the tohost address.
func (h *HostInterface) Addr() uint64 {
	return h.addr
}

// Covers reports whether a store to [addr, addr+size) touches tohost.
func (h *HostInterface) Covers(addr, size uint64) bool {
	if !h.Enabled() {
		return false
	}
	return addr < h.addr+8 && h.addr < addr+size
}

// Poll handles a pending tohost command, if any.
func (h *HostInterface) Poll() error {
	cmd, err := h.memory.Read64(h.addr)
	if err != nil {
		return err
	}
	if cmd == 0 {
		return nil
	}

	device := cmd >> 56
	command := (cmd >> 48) & 0xFF
	payload := cmd & (1<<48 - 1)

	switch {
	case device == HTIFDeviceSyscall && payload&1 == 1:
		h.exited = true
		h.exitCode = int64(payload >> 1)
	case device == HTIFDeviceConsole && command == HTIFCmdPutchar:
		if _, err := h.stdout.Write([]byte{byte(payload)}); err != nil {
			return fmt.Errorf("htif putchar: %w", err)
		}
	}

	// Unrecognised commands are acknowledged and dropped.
	return h.memory.Write64(h.addr, 0)
}

// Exited reports whether the target requested termination.
func (h *HostInterface) Exited() bool {
	return h != nil && h.exited
}

// ExitCode returns the exit code the target requested.
func (h *HostInterface) ExitCode() int64 {
	return h.exitCode
}
