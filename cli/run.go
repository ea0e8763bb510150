package cli

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sarchlab/rvdiff/difftest"
	"github.com/sarchlab/rvdiff/emu"
	"github.com/sarchlab/rvdiff/loader"
)

var elfMagic = []byte{0x7f, 'E', 'L', 'F'}

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Steps           uint64
	MaxInstructions uint64
	ConfigPath      string
	ISA             string
	Profile         string
	Entry           string
	ToHost          string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <program>",
		Short: "Run a program on the reference engine and print its state",
		Long: `Load a program into the reference engine through the difftest control
plane, execute it and print the architectural state a DUT would receive.

The program is either a RISC-V ELF executable or a raw binary, which is
placed at the start of memory. Without --steps the program runs until it
writes an exit command to tohost.

Example:
  rvdiff run --steps 100 ./prog.bin
  rvdiff run --isa RV64IMAC --profile full --format json ./test.elf`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProgram(opts, args[0], cmd)
		},
	}

	cmd.Flags().Uint64Var(&opts.Steps, "steps", 0, "number of steps to execute (0 = until exit)")
	cmd.Flags().Uint64Var(&opts.MaxInstructions, "max-instructions", 0, "fail after this many instructions (0 = no limit)")
	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to engine configuration JSON file")
	cmd.Flags().StringVar(&opts.ISA, "isa", "", "ISA string, overrides the configuration")
	cmd.Flags().StringVar(&opts.Profile, "profile", "minimal", "CSR profile (minimal|full)")
	cmd.Flags().StringVar(&opts.Entry, "entry", "", "entry address (default: ELF entry or memory base)")
	cmd.Flags().StringVar(&opts.ToHost, "tohost", "", "tohost address (default: ELF tohost symbol)")

	return cmd
}

// image is a program ready to be copied into the engine.
type image struct {
	prog  *loader.Program
	raw   []byte
	entry uint64
}

func runProgram(opts *RunOptions, path string, cmd *cobra.Command) error {
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)

	profile, err := difftest.ParseProfile(opts.Profile)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid profile", err)
	}

	cfg, err := loadEngineConfig(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	img, err := readImage(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load program", err)
	}
	if err := applyRunFlags(opts, cfg, img); err != nil {
		return WrapExitError(ExitCommandError, "invalid flags", err)
	}

	// Console output of the target must not corrupt structured output.
	console := cmd.OutOrStdout()
	if opts.Format != "text" {
		console = cmd.ErrOrStderr()
	}

	sessOpts := []difftest.SessionOption{
		difftest.WithConfig(*cfg),
		difftest.WithProfile(profile),
		difftest.WithLogger(logger),
		difftest.WithEngineOptions(
			emu.WithStdout(console),
			emu.WithMaxInstructions(opts.MaxInstructions),
		),
	}
	if opts.Verbose {
		sessOpts = append(sessOpts, difftest.WithHook(difftest.NewLogHook(logger)))
	}

	s := difftest.NewSession(sessOpts...)
	if err := s.Init(0); err != nil {
		return WrapExitError(ExitCommandError, "failed to initialize engine", err)
	}

	if err := loadImage(s, cfg.MemBase, img); err != nil {
		return WrapExitError(ExitCommandError, "failed to load program", err)
	}

	snap, err := execute(s, opts.Steps, logger)
	if err != nil {
		return WrapExitError(ExitFailure, "execution failed", err)
	}

	engine := s.Engine()
	report := newStateReport(snap)
	report.Session = s.ID().String()
	report.ISA = engine.ISA().String()
	report.Retired = engine.InstructionCount()
	report.Exited = engine.Exited()
	report.ExitCode = engine.Host().ExitCode()

	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if err := f.Success(report); err != nil {
		return err
	}

	if report.Exited && report.ExitCode != 0 {
		return NewExitError(int(report.ExitCode), fmt.Sprintf("program exited with code %d", report.ExitCode))
	}
	return nil
}

func loadEngineConfig(path string) (*emu.Config, error) {
	if path == "" {
		return emu.DefaultConfig(), nil
	}
	return emu.LoadConfig(path)
}

func readImage(path string) (*image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if !bytes.HasPrefix(data, elfMagic) {
		return &image{raw: data}, nil
	}

	prog, err := loader.Load(path)
	if err != nil {
		return nil, err
	}
	return &image{prog: prog, entry: prog.EntryPoint}, nil
}

// applyRunFlags folds the command-line overrides and what the ELF file
// tells us into cfg.
func applyRunFlags(opts *RunOptions, cfg *emu.Config, img *image) error {
	if opts.ISA != "" {
		cfg.ISA = opts.ISA
	} else if img.prog != nil && opts.ConfigPath == "" {
		cfg.ISA = fmt.Sprintf("RV%dIMAC", img.prog.XLEN)
	}

	isa, err := emu.ParseISA(cfg.ISA)
	if err != nil {
		return err
	}
	if img.prog != nil && img.prog.XLEN != isa.XLEN {
		return fmt.Errorf("program is RV%d but the engine is %s", img.prog.XLEN, isa)
	}

	if img.prog == nil {
		img.entry = cfg.MemBase
	}
	if opts.Entry != "" {
		if img.entry, err = parseAddr(opts.Entry); err != nil {
			return fmt.Errorf("--entry: %w", err)
		}
	}

	switch {
	case opts.ToHost != "":
		if cfg.ToHost, err = parseAddr(opts.ToHost); err != nil {
			return fmt.Errorf("--tohost: %w", err)
		}
	case img.prog != nil && img.prog.ToHost != 0:
		cfg.ToHost = img.prog.ToHost
	}

	if opts.Steps == 0 && cfg.ToHost == 0 {
		return errors.New("--steps is required when there is no tohost address")
	}

	return cfg.Validate()
}

// memcpyWriter sends loader writes through the session's memory bridge.
type memcpyWriter struct {
	s *difftest.Session
}

func (w memcpyWriter) Write(addr uint64, data []byte) error {
	return w.s.Memcpy(addr, data, difftest.MemcpyToRef)
}

// loadImage copies the program into the engine and points the hart at
// its entry.
func loadImage(s *difftest.Session, memBase uint64, img *image) error {
	w := memcpyWriter{s: s}
	if img.prog != nil {
		if err := img.prog.LoadInto(w); err != nil {
			return err
		}
	} else if err := w.Write(memBase, img.raw); err != nil {
		return err
	}

	l, err := s.Layout()
	if err != nil {
		return err
	}
	snap := difftest.NewSnapshot(l)
	if err := s.Regcpy(snap, difftest.RegcpyToDUT); err != nil {
		return err
	}
	snap.PC = img.entry
	return s.Regcpy(snap, difftest.RegcpyToRef)
}

// execute runs steps steps, or until the target exits when steps is 0,
// and returns the final state.
func execute(s *difftest.Session, steps uint64, logger *slog.Logger) (*difftest.Snapshot, error) {
	if steps > 0 {
		if err := s.Exec(steps); err != nil {
			return nil, err
		}
	} else {
		for !s.Engine().Exited() {
			if err := s.Exec(1); err != nil {
				return nil, err
			}
		}
	}

	logger.Debug("execution finished", "retired", s.Engine().InstructionCount())

	l, err := s.Layout()
	if err != nil {
		return nil, err
	}
	snap := difftest.NewSnapshot(l)
	if err := s.Regcpy(snap, difftest.RegcpyToDUT); err != nil {
		return nil, err
	}
	return snap, nil
}

func parseAddr(s string) (uint64, error) {
	return strconv.ParseUint(s, 0, 64)
}
