package emu

import (
	"encoding/json"
	"fmt"
	"os"
)

// Default memory layout. DRAM starts at the conventional RISC-V base.
const (
	DefaultMemBase uint64 = 0x80000000
	DefaultMemSize uint64 = 0x8000000
)

// DebugModuleConfig holds the debug-module parameters the engine is built
// with. The engine does not model the debug module; the values are carried
// so that configurations round-trip and can be validated.
type DebugModuleConfig struct {
	ProgBufSize              uint `json:"progbufsize" yaml:"progbufsize"`
	MaxSBADataWidth          uint `json:"max_sba_data_width" yaml:"max_sba_data_width"`
	RequireAuthentication    bool `json:"require_authentication" yaml:"require_authentication"`
	AbstractRTI              uint `json:"abstract_rti" yaml:"abstract_rti"`
	SupportHASEL             bool `json:"support_hasel" yaml:"support_hasel"`
	SupportAbstractCSRAccess bool `json:"support_abstract_csr_access" yaml:"support_abstract_csr_access"`
	SupportAbstractFPRAccess bool `json:"support_abstract_fpr_access" yaml:"support_abstract_fpr_access"`
	SupportHaltGroups        bool `json:"support_haltgroups" yaml:"support_haltgroups"`
	SupportImpEBreak         bool `json:"support_impebreak" yaml:"support_impebreak"`
}

// Config holds the construction parameters of the reference engine.
type Config struct {
	// ISA is the instruction-set string, e.g. "RV32IMAC".
	ISA string `json:"isa" yaml:"isa"`

	// Priv lists the privilege modes: "M" or "MU".
	Priv string `json:"priv" yaml:"priv"`

	// MemBase and MemSize describe the single memory region.
	MemBase uint64 `json:"mem_base" yaml:"mem_base"`
	MemSize uint64 `json:"mem_size" yaml:"mem_size"`

	// HartIDs lists the hart IDs. A hart is reachable as Core with its
	// decimal ID.
	HartIDs []uint64 `json:"hart_ids" yaml:"hart_ids"`

	// PMPRegions is the number of implemented PMP entries (0-64).
	PMPRegions int `json:"pmp_regions" yaml:"pmp_regions"`

	// Misaligned allows misaligned loads and stores instead of trapping.
	Misaligned bool `json:"misaligned" yaml:"misaligned"`

	// TriggerCount is the number of debug triggers. Stored only.
	TriggerCount int `json:"trigger_count" yaml:"trigger_count"`

	// ToHost is the address of the HTIF tohost word. Zero disables it.
	ToHost uint64 `json:"tohost" yaml:"tohost"`

	DebugModule DebugModuleConfig `json:"debug_module" yaml:"debug_module"`
}

// DefaultConfig returns the engine configuration the difftest harness uses
// when nothing else is supplied.
func DefaultConfig() *Config {
	return &Config{
		ISA:          "RV32IMAC",
		Priv:         "MU",
		MemBase:      DefaultMemBase,
		MemSize:      DefaultMemSize,
		HartIDs:      []uint64{0},
		PMPRegions:   16,
		Misaligned:   false,
		TriggerCount: 4,
		DebugModule: DebugModuleConfig{
			ProgBufSize:              2,
			MaxSBADataWidth:          0,
			RequireAuthentication:    false,
			AbstractRTI:              0,
			SupportHASEL:             true,
			SupportAbstractCSRAccess: true,
			SupportAbstractFPRAccess: true,
			SupportHaltGroups:        true,
			SupportImpEBreak:         true,
		},
	}
}

// LoadConfig loads a Config from a JSON file. Fields absent from the file
// keep their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read engine config file: %w", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse engine config: %w", err)
	}

	return config, nil
}

// SaveConfig writes a Config to a JSON file.
func (c *Config) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize engine config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write engine config file: %w", err)
	}

	return nil
}

// Validate checks that the configuration describes a buildable engine.
func (c *Config) Validate() error {
	if _, err := ParseISA(c.ISA); err != nil {
		return err
	}
	if c.Priv != "M" && c.Priv != "MU" {
		return fmt.Errorf("%w: priv must be M or MU, got %q", ErrInvalidConfig, c.Priv)
	}
	if c.MemSize == 0 {
		return fmt.Errorf("%w: mem_size must be > 0", ErrInvalidConfig)
	}
	if c.MemBase+c.MemSize < c.MemBase {
		return fmt.Errorf("%w: memory region wraps the address space", ErrInvalidConfig)
	}
	if len(c.HartIDs) == 0 {
		return fmt.Errorf("%w: at least one hart is required", ErrInvalidConfig)
	}
	seen := make(map[uint64]bool)
	for _, id := range c.HartIDs {
		if seen[id] {
			return fmt.Errorf("%w: duplicate hart id %d", ErrInvalidConfig, id)
		}
		seen[id] = true
	}
	if c.PMPRegions < 0 || c.PMPRegions > 64 {
		return fmt.Errorf("%w: pmp_regions must be in [0, 64]", ErrInvalidConfig)
	}
	if c.TriggerCount < 0 {
		return fmt.Errorf("%w: trigger_count must be >= 0", ErrInvalidConfig)
	}
	if c.ToHost != 0 && (c.ToHost < c.MemBase || c.ToHost+8 > c.MemBase+c.MemSize) {
		return fmt.Errorf("%w: tohost 0x%X outside memory", ErrInvalidConfig, c.ToHost)
	}
	if c.DebugModule.ProgBufSize > 16 {
		return fmt.Errorf("%w: progbufsize must be <= 16", ErrInvalidConfig)
	}
	switch c.DebugModule.MaxSBADataWidth {
	case 0, 8, 16, 32, 64, 128:
	default:
		return fmt.Errorf("%w: max_sba_data_width must be 0, 8, 16, 32, 64 or 128", ErrInvalidConfig)
	}

	return nil
}

// HasUserMode reports whether U-mode is configured.
func (c *Config) HasUserMode() bool {
	return c.Priv == "MU"
}
