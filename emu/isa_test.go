package emu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvdiff/emu"
)

var _ = Describe("ParseISA", func() {
	DescribeTable("valid ISA strings",
		func(s string, xlen int, canonical string) {
			isa, err := emu.ParseISA(s)

			Expect(err).NotTo(HaveOccurred())
			Expect(isa.XLEN).To(Equal(xlen))
			Expect(isa.String()).To(Equal(canonical))
		},
		Entry("default", "RV32IMAC", 32, "RV32IMAC"),
		Entry("lower case", "rv64imac", 64, "RV64IMAC"),
		Entry("base only", "RV32I", 32, "RV32I"),
		Entry("out of order", "RV32ICMA", 32, "RV32IMAC"),
		Entry("with Z extensions", "rv64ima_zicsr_zifencei", 64, "RV64IMA"),
	)

	DescribeTable("rejected ISA strings",
		func(s string, expected error) {
			_, err := emu.ParseISA(s)
			Expect(err).To(MatchError(expected))
		},
		Entry("missing prefix", "IMAC", emu.ErrInvalidISA),
		Entry("no base", "RV32", emu.ErrInvalidISA),
		Entry("embedded base", "RV32E", emu.ErrInvalidISA),
		Entry("floating point", "RV32IMAFC", emu.ErrUnsupportedExtension),
		Entry("general", "RV64G", emu.ErrInvalidISA),
		Entry("vector", "RV64IV", emu.ErrUnsupportedExtension),
		Entry("unknown Z extension", "rv32i_zba", emu.ErrUnsupportedExtension),
	)

	It("should derive misa", func() {
		isa, err := emu.ParseISA("RV64IMAC")
		Expect(err).NotTo(HaveOccurred())

		Expect(isa.MISA(false)).To(Equal(uint64(2)<<62 | 0x1105))
		Expect(isa.Has('M')).To(BeTrue())
		Expect(isa.Has('F')).To(BeFalse())
	})
})
