package emu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/rvdiff/emu"
)

var _ = Describe("Traps", func() {
	const handler = base + 0x400

	var (
		e    *emu.Emulator
		hart *emu.Hart
	)

	load := func(tweak func(*emu.Config), words ...uint32) {
		e, hart = newEngine(tweak, words...)
		Expect(hart.CSRFile().Write(emu.CSRMtvec, handler)).To(Succeed())
	}

	csr := func(addr uint16) uint64 {
		v, err := hart.CSRFile().Read(addr)
		Expect(err).NotTo(HaveOccurred())
		return v
	}

	It("should take an environment call from M-mode", func() {
		load(nil, nop, ecall)

		Expect(e.Step(2)).To(Succeed())
		Expect(csr(emu.CSRMcause)).To(Equal(emu.CauseEcallM))
		Expect(csr(emu.CSRMepc)).To(Equal(base + 4))
		Expect(hart.PC()).To(Equal(handler))
		Expect(hart.Retired()).To(Equal(uint64(1)))
	})

	It("should report the faulting PC for EBREAK", func() {
		load(nil, ebreak)

		Expect(e.Step(1)).To(Succeed())
		Expect(csr(emu.CSRMcause)).To(Equal(emu.CauseBreakpoint))
		Expect(csr(emu.CSRMtval)).To(Equal(base))
	})

	It("should report the instruction bits of an illegal instruction", func() {
		load(nil, 0xFFFFFFFF)

		Expect(e.Step(1)).To(Succeed())
		Expect(csr(emu.CSRMcause)).To(Equal(emu.CauseIllegalInst))
		Expect(csr(emu.CSRMtval)).To(Equal(uint64(0xFFFFFFFF)))
	})

	It("should raise a load access fault outside memory", func() {
		load(nil, lw(1, 0, 0x10))

		Expect(e.Step(1)).To(Succeed())
		Expect(csr(emu.CSRMcause)).To(Equal(emu.CauseLoadAccessFault))
		Expect(csr(emu.CSRMtval)).To(Equal(uint64(0x10)))
	})

	It("should raise a store misaligned fault", func() {
		load(nil, lui(1, 0x80000), sw(1, 0, 0x102))

		Expect(e.Step(2)).To(Succeed())
		Expect(csr(emu.CSRMcause)).To(Equal(emu.CauseStoreMisaligned))
		Expect(csr(emu.CSRMtval)).To(Equal(base + 0x102))
	})

	It("should allow misaligned accesses when configured", func() {
		load(func(c *emu.Config) { c.Misaligned = true }, lui(1, 0x80000), sw(1, 0, 0x102))

		Expect(e.Step(2)).To(Succeed())
		Expect(hart.PC()).To(Equal(base + 8))
	})

	It("should stack MIE into MPIE and restore it on MRET", func() {
		load(nil, ecall)
		Expect(hart.CSRFile().Write(emu.CSRMstatus, emu.MstatusMIE|emu.MstatusMPP)).To(Succeed())
		Expect(e.Memory().Write32(handler, mret)).To(Succeed())

		Expect(e.Step(1)).To(Succeed())
		Expect(csr(emu.CSRMstatus) & emu.MstatusMIE).To(BeZero())
		Expect(csr(emu.CSRMstatus) & emu.MstatusMPIE).NotTo(BeZero())

		Expect(hart.CSRFile().Write(emu.CSRMepc, base+4)).To(Succeed())
		Expect(e.Step(1)).To(Succeed())
		Expect(hart.PC()).To(Equal(base + 4))
		Expect(csr(emu.CSRMstatus) & emu.MstatusMIE).NotTo(BeZero())
		Expect(hart.Priv()).To(Equal(emu.PrivM))
	})

	It("should return to U-mode and trap ecall from U", func() {
		load(nil, mret)
		Expect(hart.CSRFile().Write(emu.CSRMepc, base+0x100)).To(Succeed())
		Expect(e.Memory().Write32(base+0x100, ecall)).To(Succeed())

		Expect(e.Step(1)).To(Succeed())
		Expect(hart.Priv()).To(Equal(emu.PrivU))

		Expect(e.Step(1)).To(Succeed())
		Expect(csr(emu.CSRMcause)).To(Equal(emu.CauseEcallU))
		Expect(hart.Priv()).To(Equal(emu.PrivM))
	})

	It("should make WFI illegal in U-mode", func() {
		load(nil, mret)
		Expect(hart.CSRFile().Write(emu.CSRMepc, base+0x100)).To(Succeed())
		Expect(e.Memory().Write32(base+0x100, wfi)).To(Succeed())

		Expect(e.Step(2)).To(Succeed())
		Expect(csr(emu.CSRMcause)).To(Equal(emu.CauseIllegalInst))
	})

	Describe("interrupts", func() {
		BeforeEach(func() {
			load(nil, nop, nop)
			Expect(hart.CSRFile().Write(emu.CSRMie, emu.MipMTIP|emu.MipMEIP)).To(Succeed())
		})

		It("should wait for mstatus.MIE in M-mode", func() {
			Expect(hart.CSRFile().Write(emu.CSRMip, emu.MipMTIP)).To(Succeed())

			Expect(e.Step(1)).To(Succeed())
			Expect(hart.PC()).To(Equal(base + 4))
		})

		It("should take the highest-priority pending interrupt", func() {
			Expect(hart.CSRFile().Write(emu.CSRMstatus, emu.MstatusMIE)).To(Succeed())
			Expect(hart.CSRFile().Write(emu.CSRMip, emu.MipMTIP|emu.MipMEIP)).To(Succeed())

			Expect(e.Step(1)).To(Succeed())
			Expect(csr(emu.CSRMcause)).To(Equal(uint64(0x8000000B)))
			Expect(csr(emu.CSRMepc)).To(Equal(base))
			Expect(hart.PC()).To(Equal(handler))
			Expect(hart.Retired()).To(BeZero())
		})

		It("should jump into the vector table in vectored mode", func() {
			Expect(hart.CSRFile().Write(emu.CSRMtvec, handler|1)).To(Succeed())
			Expect(hart.CSRFile().Write(emu.CSRMstatus, emu.MstatusMIE)).To(Succeed())
			Expect(hart.CSRFile().Write(emu.CSRMip, emu.MipMTIP)).To(Succeed())

			Expect(e.Step(1)).To(Succeed())
			Expect(csr(emu.CSRMcause)).To(Equal(uint64(0x80000007)))
			Expect(hart.PC()).To(Equal(handler + 4*7))
		})
	})

	Describe("TakeTrap", func() {
		It("should enter the handler at the given EPC", func() {
			load(nil, nop)

			hart.TakeTrap(emu.Trap{Cause: 7}, base+8)

			Expect(csr(emu.CSRMcause)).To(Equal(uint64(7)))
			Expect(csr(emu.CSRMepc)).To(Equal(base + 8))
			Expect(hart.PC()).To(Equal(handler))
		})

		It("should notify trap hooks", func() {
			load(nil, nop)

			ctrl := gomock.NewController(GinkgoT())
			hook := NewMockHook(ctrl)
			hook.EXPECT().Func(gomock.Any()).Do(func(ctx sim.HookCtx) {
				Expect(ctx.Pos).To(Equal(emu.HookPosTrap))
				Expect(ctx.Item).To(Equal(emu.Trap{Cause: 3}))
				Expect(ctx.Detail).To(Equal(emu.TrapInfo{EPC: base, Vector: handler}))
			})
			hart.AcceptHook(hook)

			hart.TakeTrap(emu.Trap{Cause: 3}, base)
		})
	})

	It("should report a trap loop as a fatal fault", func() {
		load(nil)
		Expect(hart.CSRFile().Write(emu.CSRMtvec, 0x10)).To(Succeed())
		hart.SetPC(0x10)

		err := e.Step(1)

		var fault *emu.FaultError
		Expect(err).To(BeAssignableToTypeOf(fault))
		Expect(err).To(MatchError(emu.ErrTrapLoop))
	})

	It("should build interrupt causes for both widths", func() {
		Expect(emu.InterruptCause(32, emu.IntMachineTimer)).To(Equal(uint64(0x80000007)))
		Expect(emu.InterruptCause(64, emu.IntMachineExternal)).To(Equal(uint64(0x800000000000000B)))

		t := emu.Trap{Cause: emu.InterruptCause(32, emu.IntMachineSoftware)}
		Expect(t.IsInterrupt(32)).To(BeTrue())
		Expect(t.Code(32)).To(Equal(emu.IntMachineSoftware))
	})
})
