package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/sarchlab/rvdiff/difftest"
	"github.com/sarchlab/rvdiff/emu"
)

var gprNames = [difftest.NumGPRs]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

var csrNames = map[uint16]string{
	emu.CSRMstatus:       "mstatus",
	emu.CSRMisa:          "misa",
	emu.CSRMie:           "mie",
	emu.CSRMtvec:         "mtvec",
	emu.CSRMcounteren:    "mcounteren",
	emu.CSRMcountinhibit: "mcountinhibit",
	emu.CSRMscratch:      "mscratch",
	emu.CSRMepc:          "mepc",
	emu.CSRMcause:        "mcause",
	emu.CSRMtval:         "mtval",
	emu.CSRMip:           "mip",
	emu.CSRMcycle:        "mcycle",
	emu.CSRMinstret:      "minstret",
	emu.CSRMhartid:       "mhartid",
}

func csrName(addr uint16) string {
	if name, ok := csrNames[addr]; ok {
		return name
	}
	return fmt.Sprintf("csr_0x%03x", addr)
}

// Register is one named register value.
type Register struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// StateReport is the result of the run command.
type StateReport struct {
	Session  string     `json:"session" yaml:"session"`
	ISA      string     `json:"isa" yaml:"isa"`
	Profile  string     `json:"profile" yaml:"profile"`
	Retired  uint64     `json:"retired" yaml:"retired"`
	Exited   bool       `json:"exited" yaml:"exited"`
	ExitCode int64      `json:"exit_code" yaml:"exit_code"`
	PC       string     `json:"pc" yaml:"pc"`
	GPR      []Register `json:"gpr" yaml:"gpr"`
	CSR      []Register `json:"csr" yaml:"csr"`
}

// newStateReport builds a report from a snapshot. In the full profile
// only non-zero CSRs are listed.
func newStateReport(snap *difftest.Snapshot) *StateReport {
	l := snap.Layout
	r := &StateReport{
		Profile: l.Profile.String(),
		PC:      formatWord(l, snap.PC),
	}

	for i, v := range snap.GPR {
		r.GPR = append(r.GPR, Register{Name: gprNames[i], Value: formatWord(l, v)})
	}

	for i := 0; i < l.CSRCount(); i++ {
		if l.Profile == difftest.ProfileFull && snap.CSR[i] == 0 {
			continue
		}
		r.CSR = append(r.CSR, Register{Name: csrName(l.CSRAddr(i)), Value: formatWord(l, snap.CSR[i])})
	}

	return r
}

// WriteText implements TextWriter.
func (r *StateReport) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "session\t%s\n", r.Session)
	fmt.Fprintf(tw, "isa\t%s\n", r.ISA)
	fmt.Fprintf(tw, "retired\t%d\n", r.Retired)
	if r.Exited {
		fmt.Fprintf(tw, "exit code\t%d\n", r.ExitCode)
	}
	fmt.Fprintf(tw, "pc\t%s\n", r.PC)
	fmt.Fprintln(tw)

	for i := 0; i < len(r.GPR); i += 4 {
		for j := i; j < i+4 && j < len(r.GPR); j++ {
			fmt.Fprintf(tw, "%s\t%s\t", r.GPR[j].Name, r.GPR[j].Value)
		}
		fmt.Fprintln(tw)
	}
	fmt.Fprintln(tw)

	for _, c := range r.CSR {
		fmt.Fprintf(tw, "%s\t%s\n", c.Name, c.Value)
	}

	return tw.Flush()
}

func formatWord(l difftest.Layout, v uint64) string {
	return fmt.Sprintf("0x%0*x", l.WordSize()*2, v)
}
