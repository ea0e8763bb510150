// Package insts provides RISC-V instruction definitions and decoding.
//
// This package implements decoding of RISC-V machine code into structured
// instruction representations. It supports:
//   - RV32I / RV64I base integer instructions
//   - M: integer multiply and divide
//   - A: load-reserved / store-conditional and AMOs
//   - C: compressed instructions, decoded to their 32-bit equivalents
//   - Zicsr, Zifencei and the machine-mode system instructions (MRET, WFI)
//
// Usage:
//
//	decoder := insts.NewDecoder(insts.WithXLEN(32), insts.WithCompressed())
//	inst := decoder.Decode(0x00010113) // ADDI sp, sp, 0
//	fmt.Printf("Op: %v, Rd: %d, Rs1: %d, Imm: %d\n", inst.Op, inst.Rd, inst.Rs1, inst.Imm)
package insts
