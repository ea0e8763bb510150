package emu_test

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvdiff/emu"
)

var _ = Describe("Emulator", func() {
	Describe("NewEmulator", func() {
		It("should build the default RV32 engine", func() {
			e, err := emu.NewEmulator(nil, emu.WithStdout(&bytes.Buffer{}))

			Expect(err).NotTo(HaveOccurred())
			Expect(e.XLEN()).To(Equal(32))
			Expect(e.ISA().String()).To(Equal("RV32IMAC"))
			Expect(e.Harts()).To(HaveLen(1))
			Expect(e.Memory().Base()).To(Equal(uint64(0x80000000)))
			Expect(e.Memory().Size()).To(Equal(uint64(0x8000000)))
		})

		It("should reset every hart to M-mode at the memory base", func() {
			e, err := emu.NewEmulator(nil)
			Expect(err).NotTo(HaveOccurred())

			hart, err := e.Core("0")
			Expect(err).NotTo(HaveOccurred())
			Expect(hart.PC()).To(Equal(uint64(0x80000000)))
			Expect(hart.Priv()).To(Equal(emu.PrivM))
		})

		It("should reject an unknown hart", func() {
			e, _ := emu.NewEmulator(nil)

			_, err := e.Core("1")
			Expect(err).To(MatchError(emu.ErrNoSuchHart))
		})

		It("should reject ISA extensions it does not model", func() {
			cfg := emu.DefaultConfig()
			cfg.ISA = "RV32IMAFC"

			_, err := emu.NewEmulator(cfg)
			Expect(err).To(MatchError(emu.ErrUnsupportedExtension))
		})
	})

	Describe("Step", func() {
		Context("integer instructions", func() {
			It("should execute ADDI with a negative immediate", func() {
				e, hart := newEngine(nil, addi(1, 0, 5), addi(2, 1, -7))

				Expect(e.Step(2)).To(Succeed())
				Expect(hart.RegFile().ReadReg(1)).To(Equal(uint64(5)))
				Expect(hart.RegFile().ReadReg(2)).To(Equal(uint64(0xFFFFFFFE)))
				Expect(hart.PC()).To(Equal(base + 8))
			})

			It("should discard writes to x0", func() {
				e, hart := newEngine(nil, addi(0, 0, 5))

				Expect(e.Step(1)).To(Succeed())
				Expect(hart.RegFile().ReadReg(0)).To(Equal(uint64(0)))
			})

			It("should execute LUI and AUIPC", func() {
				e, hart := newEngine(nil, lui(5, 0x12345), auipc(6, 1))

				Expect(e.Step(2)).To(Succeed())
				Expect(hart.RegFile().ReadReg(5)).To(Equal(uint64(0x12345000)))
				Expect(hart.RegFile().ReadReg(6)).To(Equal(base + 4 + 0x1000))
			})

			It("should shift arithmetically and logically", func() {
				e, hart := newEngine(nil,
					addi(1, 0, -16),
					srai(2, 1, 2),
					slli(3, 1, 4),
				)

				Expect(e.Step(3)).To(Succeed())
				Expect(hart.RegFile().ReadReg(2)).To(Equal(uint64(0xFFFFFFFC)))
				Expect(hart.RegFile().ReadReg(3)).To(Equal(uint64(0xFFFFFF00)))
			})

			It("should compare signed and unsigned", func() {
				e, hart := newEngine(nil,
					addi(1, 0, -1),
					addi(2, 0, 1),
					slt(3, 1, 2),
					sltu(4, 1, 2),
				)

				Expect(e.Step(4)).To(Succeed())
				Expect(hart.RegFile().ReadReg(3)).To(Equal(uint64(1)))
				Expect(hart.RegFile().ReadReg(4)).To(Equal(uint64(0)))
			})

			It("should subtract with wraparound", func() {
				e, hart := newEngine(nil, addi(1, 0, 1), addi(2, 0, 2), sub(3, 1, 2), add(4, 3, 2))

				Expect(e.Step(4)).To(Succeed())
				Expect(hart.RegFile().ReadReg(3)).To(Equal(uint64(0xFFFFFFFF)))
				Expect(hart.RegFile().ReadReg(4)).To(Equal(uint64(1)))
			})
		})

		Context("M extension", func() {
			It("should multiply and take high halves", func() {
				e, hart := newEngine(nil,
					addi(1, 0, -2),
					addi(2, 0, 3),
					mul(3, 1, 2),
					mulh(4, 1, 2),
					mulhu(5, 1, 2),
				)

				Expect(e.Step(5)).To(Succeed())
				Expect(hart.RegFile().ReadReg(3)).To(Equal(uint64(0xFFFFFFFA)))
				Expect(hart.RegFile().ReadReg(4)).To(Equal(uint64(0xFFFFFFFF)))
				Expect(hart.RegFile().ReadReg(5)).To(Equal(uint64(2)))
			})

			It("should follow the division-by-zero rules", func() {
				e, hart := newEngine(nil,
					addi(1, 0, 7),
					div(3, 1, 0),
					divu(4, 1, 0),
					rem(5, 1, 0),
				)

				Expect(e.Step(4)).To(Succeed())
				Expect(hart.RegFile().ReadReg(3)).To(Equal(uint64(0xFFFFFFFF)))
				Expect(hart.RegFile().ReadReg(4)).To(Equal(uint64(0xFFFFFFFF)))
				Expect(hart.RegFile().ReadReg(5)).To(Equal(uint64(7)))
			})

			It("should follow the signed overflow rules", func() {
				e, hart := newEngine(nil,
					lui(1, 0x80000),
					addi(2, 0, -1),
					div(3, 1, 2),
					rem(4, 1, 2),
				)

				Expect(e.Step(4)).To(Succeed())
				Expect(hart.RegFile().ReadReg(3)).To(Equal(uint64(0x80000000)))
				Expect(hart.RegFile().ReadReg(4)).To(Equal(uint64(0)))
			})
		})

		Context("loads and stores", func() {
			It("should store a word and load it back sign-extended", func() {
				e, hart := newEngine(nil,
					lui(1, 0x80000),
					addi(2, 0, -1),
					sw(1, 2, 0x100),
					lw(3, 1, 0x100),
					lb(4, 1, 0x101),
				)

				Expect(e.Step(5)).To(Succeed())
				Expect(e.Memory().Read32(base + 0x100)).To(Equal(uint32(0xFFFFFFFF)))
				Expect(hart.RegFile().ReadReg(3)).To(Equal(uint64(0xFFFFFFFF)))
				Expect(hart.RegFile().ReadReg(4)).To(Equal(uint64(0xFFFFFFFF)))
			})

			It("should store the low byte only for SB", func() {
				e, _ := newEngine(nil,
					lui(1, 0x80000),
					addi(2, 0, 0x1AB),
					sb(1, 2, 0x200),
				)

				Expect(e.Step(3)).To(Succeed())
				Expect(e.Memory().Read16(base + 0x200)).To(Equal(uint16(0xAB)))
			})
		})

		Context("control flow", func() {
			It("should take a BEQ when the operands are equal", func() {
				e, hart := newEngine(nil, addi(1, 0, 1), addi(2, 0, 1), beq(1, 2, 8))

				Expect(e.Step(3)).To(Succeed())
				Expect(hart.PC()).To(Equal(base + 16))
			})

			It("should fall through a BNE when the operands are equal", func() {
				e, hart := newEngine(nil, bne(0, 0, 64))

				Expect(e.Step(1)).To(Succeed())
				Expect(hart.PC()).To(Equal(base + 4))
			})

			It("should compare BLT signed and BLTU unsigned", func() {
				e, hart := newEngine(nil, addi(1, 0, -1), blt(1, 0, 8), nop, bltu(1, 0, 64))

				Expect(e.Step(3)).To(Succeed())
				Expect(hart.PC()).To(Equal(base + 16))
			})

			It("should link and jump for JAL", func() {
				e, hart := newEngine(nil, encodeJAL(1, 16))

				Expect(e.Step(1)).To(Succeed())
				Expect(hart.RegFile().ReadReg(1)).To(Equal(base + 4))
				Expect(hart.PC()).To(Equal(base + 16))
			})

			It("should clear bit 0 of the JALR target", func() {
				e, hart := newEngine(nil, jalr(1, 5, 0))
				hart.RegFile().WriteReg(5, base+0x21)

				Expect(e.Step(1)).To(Succeed())
				Expect(hart.RegFile().ReadReg(1)).To(Equal(base + 4))
				Expect(hart.PC()).To(Equal(base + 0x20))
			})

			It("should trap on a misaligned jump target without C", func() {
				e, hart := newEngine(func(c *emu.Config) { c.ISA = "RV32IMA" }, encodeJAL(1, 6))

				Expect(e.Step(1)).To(Succeed())
				Expect(hart.CSRFile().Read(emu.CSRMcause)).To(Equal(emu.CauseInstMisaligned))
				Expect(hart.CSRFile().Read(emu.CSRMtval)).To(Equal(base + 6))
				Expect(hart.CSRFile().Read(emu.CSRMepc)).To(Equal(base))
				Expect(hart.RegFile().ReadReg(1)).To(Equal(uint64(0)))
			})
		})

		Context("compressed instructions", func() {
			It("should execute C.LI and advance by two bytes", func() {
				e, hart := newEngine(nil, 0x4515)

				Expect(e.Step(1)).To(Succeed())
				Expect(hart.RegFile().ReadReg(10)).To(Equal(uint64(5)))
				Expect(hart.PC()).To(Equal(base + 2))
			})
		})

		It("should retire exactly n instructions", func() {
			e, hart := newEngine(nil, nop, nop, nop, nop, nop)

			Expect(e.Step(5)).To(Succeed())
			Expect(e.InstructionCount()).To(Equal(uint64(5)))
			Expect(hart.Retired()).To(Equal(uint64(5)))
			Expect(hart.CSRFile().Read(emu.CSRMinstret)).To(Equal(uint64(5)))
			Expect(hart.PC()).To(Equal(base + 20))
		})

		It("should keep counting after a state-transfer write to minstret", func() {
			e, hart := newEngine(nil, nop, nop)
			Expect(hart.CSRFile().Write(emu.CSRMinstret, 100)).To(Succeed())

			Expect(e.Step(2)).To(Succeed())
			Expect(hart.CSRFile().Read(emu.CSRMinstret)).To(Equal(uint64(102)))
		})

		It("should not count the instruction that writes minstret", func() {
			e, hart := newEngine(nil, addi(1, 0, 50), csrrw(0, emu.CSRMinstret, 1), nop)

			Expect(e.Step(3)).To(Succeed())
			Expect(hart.CSRFile().Read(emu.CSRMinstret)).To(Equal(uint64(51)))
		})

		It("should stop at the instruction limit", func() {
			e, err := emu.NewEmulator(nil, emu.WithMaxInstructions(2))
			Expect(err).NotTo(HaveOccurred())
			Expect(e.LoadProgram(base, program(nop, nop, nop), base)).To(Succeed())

			err = e.Step(3)

			Expect(err).To(MatchError(emu.ErrMaxInstructions))
			Expect(e.InstructionCount()).To(Equal(uint64(2)))
		})

		It("should step every hart once per step", func() {
			e, _ := newEngine(func(c *emu.Config) { c.HartIDs = []uint64{0, 1} }, nop, nop)

			Expect(e.Step(2)).To(Succeed())

			for _, id := range []string{"0", "1"} {
				hart, err := e.Core(id)
				Expect(err).NotTo(HaveOccurred())
				Expect(hart.PC()).To(Equal(base + 8))
			}
			hart1, _ := e.Core("1")
			Expect(hart1.CSRFile().Read(emu.CSRMhartid)).To(Equal(uint64(1)))
		})
	})

	Describe("RV64", func() {
		rv64 := func(c *emu.Config) { c.ISA = "RV64IMAC" }

		It("should sign-extend ADDIW results", func() {
			e, hart := newEngine(rv64, addiw(2, 1, 1))
			hart.RegFile().WriteReg(1, 0x7FFFFFFF)

			Expect(e.Step(1)).To(Succeed())
			Expect(hart.RegFile().ReadReg(2)).To(Equal(uint64(0xFFFFFFFF80000000)))
		})

		It("should store and load doublewords", func() {
			e, hart := newEngine(rv64, sd(1, 2, 0x100), ld(3, 1, 0x100))
			hart.RegFile().WriteReg(1, base)
			hart.RegFile().WriteReg(2, 0x1122334455667788)

			Expect(e.Step(2)).To(Succeed())
			Expect(hart.RegFile().ReadReg(3)).To(Equal(uint64(0x1122334455667788)))
		})

		It("should keep full 64-bit values in registers", func() {
			e, hart := newEngine(rv64, addi(1, 0, -1))

			Expect(e.Step(1)).To(Succeed())
			Expect(hart.RegFile().ReadReg(1)).To(Equal(^uint64(0)))
		})
	})
})
