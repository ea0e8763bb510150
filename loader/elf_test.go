package loader_test

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvdiff/emu"
	"github.com/sarchlab/rvdiff/loader"
)

const (
	emRISCV  = 243
	emX86_64 = 62
	ptLoad   = 1
	ptNote   = 4
	pfX      = 0x1
	pfW      = 0x2
	pfR      = 0x4
)

// testSegment describes one program header of a hand-built ELF.
type testSegment struct {
	typ   uint32
	flags uint32
	addr  uint64
	data  []byte
	memsz uint64
}

func codeSegment(addr uint64, code []byte) testSegment {
	return testSegment{typ: ptLoad, flags: pfR | pfX, addr: addr, data: code, memsz: uint64(len(code))}
}

// writeELF writes a minimal little-endian executable with the given class
// (1 = 32-bit, 2 = 64-bit), machine and program headers. Segment contents
// follow the program header table back to back.
func writeELF(path string, class byte, machine uint16, entry uint64, segs []testSegment) {
	ehsize, phentsize := 64, 56
	if class == 1 {
		ehsize, phentsize = 52, 32
	}

	header := make([]byte, ehsize)
	copy(header[0:4], []byte{0x7f, 'E', 'L', 'F'})
	header[4] = class
	header[5] = 1 // little endian
	header[6] = 1 // version
	binary.LittleEndian.PutUint16(header[16:18], 2)
	binary.LittleEndian.PutUint16(header[18:20], machine)
	binary.LittleEndian.PutUint32(header[20:24], 1)

	if class == 1 {
		binary.LittleEndian.PutUint32(header[24:28], uint32(entry))
		binary.LittleEndian.PutUint32(header[28:32], uint32(ehsize)) // phoff
		binary.LittleEndian.PutUint16(header[40:42], uint16(ehsize))
		binary.LittleEndian.PutUint16(header[42:44], uint16(phentsize))
		binary.LittleEndian.PutUint16(header[44:46], uint16(len(segs)))
	} else {
		binary.LittleEndian.PutUint64(header[24:32], entry)
		binary.LittleEndian.PutUint64(header[32:40], uint64(ehsize)) // phoff
		binary.LittleEndian.PutUint16(header[52:54], uint16(ehsize))
		binary.LittleEndian.PutUint16(header[54:56], uint16(phentsize))
		binary.LittleEndian.PutUint16(header[56:58], uint16(len(segs)))
	}

	offset := uint64(ehsize + phentsize*len(segs))
	phdrs := make([]byte, 0, phentsize*len(segs))
	var payload []byte

	for _, s := range segs {
		ph := make([]byte, phentsize)
		filesz := uint64(len(s.data))
		if class == 1 {
			binary.LittleEndian.PutUint32(ph[0:4], s.typ)
			binary.LittleEndian.PutUint32(ph[4:8], uint32(offset))
			binary.LittleEndian.PutUint32(ph[8:12], uint32(s.addr))
			binary.LittleEndian.PutUint32(ph[12:16], uint32(s.addr))
			binary.LittleEndian.PutUint32(ph[16:20], uint32(filesz))
			binary.LittleEndian.PutUint32(ph[20:24], uint32(s.memsz))
			binary.LittleEndian.PutUint32(ph[24:28], s.flags)
			binary.LittleEndian.PutUint32(ph[28:32], 0x1000)
		} else {
			binary.LittleEndian.PutUint32(ph[0:4], s.typ)
			binary.LittleEndian.PutUint32(ph[4:8], s.flags)
			binary.LittleEndian.PutUint64(ph[8:16], offset)
			binary.LittleEndian.PutUint64(ph[16:24], s.addr)
			binary.LittleEndian.PutUint64(ph[24:32], s.addr)
			binary.LittleEndian.PutUint64(ph[32:40], filesz)
			binary.LittleEndian.PutUint64(ph[40:48], s.memsz)
			binary.LittleEndian.PutUint64(ph[48:56], 0x1000)
		}
		phdrs = append(phdrs, ph...)
		payload = append(payload, s.data...)
		offset += filesz
	}

	file, err := os.Create(path)
	Expect(err).NotTo(HaveOccurred())
	defer func() { _ = file.Close() }()
	_, _ = file.Write(header)
	_, _ = file.Write(phdrs)
	_, _ = file.Write(payload)
}

// recordingWriter keeps every write it receives.
type recordingWriter struct {
	writes map[uint64][]byte
	err    error
}

func (w *recordingWriter) Write(addr uint64, data []byte) error {
	if w.err != nil {
		return w.err
	}
	if w.writes == nil {
		w.writes = make(map[uint64][]byte)
	}
	w.writes[addr] = append([]byte(nil), data...)
	return nil
}

var _ = Describe("ELF Loader", func() {
	var tempDir string

	// li a0, 42; ecall
	code := []byte{
		0x13, 0x05, 0xa0, 0x02,
		0x73, 0x00, 0x00, 0x00,
	}

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "elf-loader-test")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		_ = os.RemoveAll(tempDir)
	})

	Describe("Load", func() {
		Context("with a valid RV64 ELF binary", func() {
			var elfPath string

			BeforeEach(func() {
				elfPath = filepath.Join(tempDir, "test.elf")
				writeELF(elfPath, 2, emRISCV, 0x80000000, []testSegment{
					codeSegment(0x80000000, code),
				})
			})

			It("should load without error", func() {
				prog, err := loader.Load(elfPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(prog).NotTo(BeNil())
			})

			It("should report XLEN 64", func() {
				prog, err := loader.Load(elfPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(prog.XLEN).To(Equal(64))
			})

			It("should extract the correct entry point", func() {
				prog, err := loader.Load(elfPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(prog.EntryPoint).To(Equal(uint64(0x80000000)))
			})

			It("should correctly load segment contents", func() {
				prog, err := loader.Load(elfPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(prog.Segments).To(HaveLen(1))
				Expect(prog.Segments[0].PhysAddr).To(Equal(uint64(0x80000000)))
				Expect(prog.Segments[0].Data).To(Equal(code))
				Expect(prog.Segments[0].MemSize).To(Equal(uint64(len(code))))
			})

			It("should report no tohost without a symbol table", func() {
				prog, err := loader.Load(elfPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(prog.ToHost).To(BeZero())
			})
		})

		Context("with a valid RV32 ELF binary", func() {
			It("should report XLEN 32 and load the segment", func() {
				elfPath := filepath.Join(tempDir, "rv32.elf")
				writeELF(elfPath, 1, emRISCV, 0x80000004, []testSegment{
					codeSegment(0x80000000, code),
				})

				prog, err := loader.Load(elfPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(prog.XLEN).To(Equal(32))
				Expect(prog.EntryPoint).To(Equal(uint64(0x80000004)))
				Expect(prog.Segments).To(HaveLen(1))
				Expect(prog.Segments[0].Data).To(Equal(code))
			})
		})

		Context("with invalid input", func() {
			It("should return error for non-existent file", func() {
				_, err := loader.Load(filepath.Join(tempDir, "missing.elf"))
				Expect(err).To(HaveOccurred())
			})

			It("should return error for non-ELF file", func() {
				path := filepath.Join(tempDir, "not-elf.txt")
				Expect(os.WriteFile(path, []byte("this is not an ELF file"), 0o644)).To(Succeed())

				_, err := loader.Load(path)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to open ELF file"))
			})

			It("should return error for empty file", func() {
				path := filepath.Join(tempDir, "empty.elf")
				Expect(os.WriteFile(path, nil, 0o644)).To(Succeed())

				_, err := loader.Load(path)
				Expect(err).To(HaveOccurred())
			})

			It("should return error for x86-64 ELF", func() {
				path := filepath.Join(tempDir, "x86.elf")
				writeELF(path, 2, emX86_64, 0x400000, []testSegment{
					codeSegment(0x400000, []byte{0x90}),
				})

				_, err := loader.Load(path)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("not a RISC-V ELF file"))
			})
		})
	})

	Describe("Segment", func() {
		It("should correctly report permissions", func() {
			elfPath := filepath.Join(tempDir, "test.elf")
			writeELF(elfPath, 2, emRISCV, 0x80000000, []testSegment{
				codeSegment(0x80000000, code),
				{typ: ptLoad, flags: pfR | pfW, addr: 0x80001000, data: []byte{1, 2, 3, 4}, memsz: 4},
			})

			prog, err := loader.Load(elfPath)
			Expect(err).NotTo(HaveOccurred())
			Expect(prog.Segments).To(HaveLen(2))
			Expect(prog.Segments[0].Flags).To(Equal(loader.SegmentFlagRead | loader.SegmentFlagExecute))
			Expect(prog.Segments[1].Flags).To(Equal(loader.SegmentFlagRead | loader.SegmentFlagWrite))
			Expect(prog.Segments[1].PhysAddr).To(Equal(uint64(0x80001000)))
		})

		It("should skip non-loadable program headers", func() {
			elfPath := filepath.Join(tempDir, "note.elf")
			writeELF(elfPath, 2, emRISCV, 0x80000000, []testSegment{
				{typ: ptNote, flags: pfR, addr: 0, data: []byte{0, 0, 0, 0}, memsz: 4},
				codeSegment(0x80000000, code),
			})

			prog, err := loader.Load(elfPath)
			Expect(err).NotTo(HaveOccurred())
			Expect(prog.Segments).To(HaveLen(1))
			Expect(prog.Segments[0].PhysAddr).To(Equal(uint64(0x80000000)))
		})

		It("should return empty segments list for ELF with no PT_LOAD", func() {
			elfPath := filepath.Join(tempDir, "noload.elf")
			writeELF(elfPath, 2, emRISCV, 0x80000000, []testSegment{
				{typ: ptNote, flags: pfR, data: []byte{0, 0, 0, 0}, memsz: 4},
			})

			prog, err := loader.Load(elfPath)
			Expect(err).NotTo(HaveOccurred())
			Expect(prog.Segments).To(BeEmpty())
		})

		It("should handle BSS segments where Memsz > Filesz", func() {
			elfPath := filepath.Join(tempDir, "bss.elf")
			writeELF(elfPath, 2, emRISCV, 0x80000000, []testSegment{
				{typ: ptLoad, flags: pfR | pfW, addr: 0x80002000, data: []byte{0xAA, 0xBB}, memsz: 16},
			})

			prog, err := loader.Load(elfPath)
			Expect(err).NotTo(HaveOccurred())
			Expect(prog.Segments[0].Data).To(Equal([]byte{0xAA, 0xBB}))
			Expect(prog.Segments[0].MemSize).To(Equal(uint64(16)))
		})
	})

	Describe("LoadInto", func() {
		It("should zero-fill the BSS tail", func() {
			prog := &loader.Program{Segments: []loader.Segment{
				{PhysAddr: 0x80000000, Data: []byte{1, 2}, MemSize: 6},
			}}

			w := &recordingWriter{}
			Expect(prog.LoadInto(w)).To(Succeed())
			Expect(w.writes).To(HaveKeyWithValue(uint64(0x80000000), []byte{1, 2, 0, 0, 0, 0}))
		})

		It("should skip empty segments", func() {
			prog := &loader.Program{Segments: []loader.Segment{{PhysAddr: 0x80000000}}}

			w := &recordingWriter{}
			Expect(prog.LoadInto(w)).To(Succeed())
			Expect(w.writes).To(BeEmpty())
		})

		It("should wrap writer failures with the segment address", func() {
			prog := &loader.Program{Segments: []loader.Segment{
				{PhysAddr: 0x1000, Data: []byte{1}, MemSize: 1},
			}}

			boom := errors.New("boom")
			err := prog.LoadInto(&recordingWriter{err: boom})
			Expect(err).To(MatchError(boom))
			Expect(err.Error()).To(ContainSubstring("0x1000"))
		})

		It("should load a parsed image into engine memory", func() {
			elfPath := filepath.Join(tempDir, "image.elf")
			writeELF(elfPath, 1, emRISCV, 0x80000000, []testSegment{
				codeSegment(0x80000000, code),
				{typ: ptLoad, flags: pfR | pfW, addr: 0x80000100, data: []byte{0x11}, memsz: 8},
			})

			prog, err := loader.Load(elfPath)
			Expect(err).NotTo(HaveOccurred())

			mem := emu.NewMemory(0x80000000, 0x1000)
			Expect(mem.Write(0x80000104, []byte{0xFF})).To(Succeed())
			Expect(prog.LoadInto(mem)).To(Succeed())

			word, err := mem.Read32(0x80000000)
			Expect(err).NotTo(HaveOccurred())
			Expect(word).To(Equal(uint32(0x02a00513)))

			data, err := mem.Read(0x80000100, 8)
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte{0x11, 0, 0, 0, 0, 0, 0, 0}))
		})

		It("should fail when a segment lies outside engine memory", func() {
			prog := &loader.Program{Segments: []loader.Segment{
				{PhysAddr: 0x1000, Data: []byte{1}, MemSize: 1},
			}}

			err := prog.LoadInto(emu.NewMemory(0x80000000, 0x1000))
			var fault *emu.AccessFault
			Expect(errors.As(err, &fault)).To(BeTrue())
		})
	})
})
