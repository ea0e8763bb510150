package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sarchlab/rvdiff/difftest"
	"github.com/sarchlab/rvdiff/emu"
)

// LayoutOptions holds flags for the layout command.
type LayoutOptions struct {
	*RootOptions
	ISA     string
	Profile string
}

// LayoutReport describes the wire form of a snapshot.
type LayoutReport struct {
	ISA       string   `json:"isa" yaml:"isa"`
	Profile   string   `json:"profile" yaml:"profile"`
	WordSize  int      `json:"word_size" yaml:"word_size"`
	GPROffset int      `json:"gpr_offset" yaml:"gpr_offset"`
	PCOffset  int      `json:"pc_offset" yaml:"pc_offset"`
	CSROffset int      `json:"csr_offset" yaml:"csr_offset"`
	CSRCount  int      `json:"csr_count" yaml:"csr_count"`
	Size      int      `json:"size" yaml:"size"`
	CSRs      []string `json:"csrs,omitempty" yaml:"csrs,omitempty"`
}

// NewLayoutCommand creates the layout command.
func NewLayoutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LayoutOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Print the register snapshot layout a DUT driver must use",
		Long: `Print the byte layout of the state buffer passed to difftest_regcpy.

The buffer is gpr[32], pc and the CSR words, each a little-endian word of
XLEN bits. The text form ends with a matching C declaration.

Example:
  rvdiff layout --isa RV64IMAC --profile full`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printLayout(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ISA, "isa", emu.DefaultConfig().ISA, "ISA string")
	cmd.Flags().StringVar(&opts.Profile, "profile", "minimal", "CSR profile (minimal|full)")

	return cmd
}

func printLayout(opts *LayoutOptions, cmd *cobra.Command) error {
	isa, err := emu.ParseISA(opts.ISA)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid ISA", err)
	}
	profile, err := difftest.ParseProfile(opts.Profile)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid profile", err)
	}

	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return f.Success(newLayoutReport(isa, difftest.Layout{XLEN: isa.XLEN, Profile: profile}))
}

func newLayoutReport(isa emu.ISA, l difftest.Layout) *LayoutReport {
	r := &LayoutReport{
		ISA:       isa.String(),
		Profile:   l.Profile.String(),
		WordSize:  l.WordSize(),
		GPROffset: 0,
		PCOffset:  l.PCOffset(),
		CSROffset: l.CSROffset(),
		CSRCount:  l.CSRCount(),
		Size:      l.Size(),
	}
	if l.Profile == difftest.ProfileMinimal {
		for i := 0; i < l.CSRCount(); i++ {
			r.CSRs = append(r.CSRs, csrName(l.CSRAddr(i)))
		}
	}
	return r
}

// WriteText implements TextWriter.
func (r *LayoutReport) WriteText(w io.Writer) error {
	word := fmt.Sprintf("uint%d_t", r.WordSize*8)

	fmt.Fprintf(w, "isa        %s\n", r.ISA)
	fmt.Fprintf(w, "profile    %s\n", r.Profile)
	fmt.Fprintf(w, "word size  %d\n", r.WordSize)
	fmt.Fprintf(w, "gpr        offset %d\n", r.GPROffset)
	fmt.Fprintf(w, "pc         offset %d\n", r.PCOffset)
	fmt.Fprintf(w, "csr        offset %d, %d words\n", r.CSROffset, r.CSRCount)
	for i, name := range r.CSRs {
		fmt.Fprintf(w, "  csr[%d]   %s\n", i, name)
	}
	fmt.Fprintf(w, "size       %d bytes\n\n", r.Size)

	_, err := fmt.Fprintf(w, "struct diff_context_t {\n  %s gpr[32];\n  %s pc;\n  %s csr[%d];\n};\n",
		word, word, word, r.CSRCount)
	return err
}
