package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/sarchlab/rvdiff/emu"
)

// ConfigOptions holds flags for the config command.
type ConfigOptions struct {
	*RootOptions
	From string
	Out  string
}

// NewConfigCommand creates the config command.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConfigOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print or write an engine configuration",
		Long: `Print the effective engine configuration: the defaults, or a file
applied over the defaults with --from. The configuration is validated.
With --out it is written to a file instead, ready for --config or the
RVDIFF_CONFIG environment variable of the shared library.

Example:
  rvdiff config --out engine.json
  rvdiff config --from engine.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.From, "from", "", "configuration file to apply over the defaults")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "write the configuration to this file")

	return cmd
}

func runConfig(opts *ConfigOptions, cmd *cobra.Command) error {
	cfg, err := loadEngineConfig(opts.From)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}

	if opts.Out != "" {
		if err := cfg.SaveConfig(opts.Out); err != nil {
			return WrapExitError(ExitCommandError, "failed to write config", err)
		}
		return nil
	}

	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format != "text" {
		return f.Success(cfg)
	}
	return writeConfigText(cmd, cfg)
}

func writeConfigText(cmd *cobra.Command, cfg *emu.Config) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}
