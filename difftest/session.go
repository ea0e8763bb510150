package difftest

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"

	"github.com/rs/xid"
	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/rvdiff/emu"
)

// Session is the control plane of one reference engine. All operations
// except the accessors require a successful Init. Calls are serialised.
type Session struct {
	mu sync.Mutex

	id         xid.ID
	config     emu.Config
	profile    CSRProfile
	logger     *slog.Logger
	hooks      []sim.Hook
	engineOpts []emu.EmulatorOption

	engine   *emu.Emulator
	adapter  *Adapter
	bridge   *MemoryBridge
	injector *Injector
}

// SessionOption is a functional option for configuring a Session.
type SessionOption func(*Session)

// WithConfig sets the engine configuration used by Init.
func WithConfig(cfg emu.Config) SessionOption {
	return func(s *Session) {
		s.config = cfg
	}
}

// WithProfile sets the CSR profile of the snapshot layout.
func WithProfile(p CSRProfile) SessionOption {
	return func(s *Session) {
		s.profile = p
	}
}

// WithLogger sets the logger. Every record carries the session ID.
func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithHook registers a hook on the adapter and on the bound hart. A hook
// given more than once is registered once.
func WithHook(h sim.Hook) SessionOption {
	return func(s *Session) {
		for _, existing := range s.hooks {
			if existing == h {
				return
			}
		}
		s.hooks = append(s.hooks, h)
	}
}

// WithEngineOptions passes options through to the engine constructor.
func WithEngineOptions(opts ...emu.EmulatorOption) SessionOption {
	return func(s *Session) {
		s.engineOpts = append(s.engineOpts, opts...)
	}
}

// NewSession creates an uninitialized session.
func NewSession(opts ...SessionOption) *Session {
	s := &Session{
		id:     xid.New(),
		config: *emu.DefaultConfig(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.logger = s.logger.With("session", s.id.String())

	return s
}

// ID returns the session ID.
func (s *Session) ID() xid.ID {
	return s.id
}

// Engine returns the reference engine, or nil before Init.
func (s *Session) Engine() *emu.Emulator {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.engine
}

// Layout returns the snapshot layout the session expects.
func (s *Session) Layout() (Layout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.adapter == nil {
		return Layout{}, ErrNotInitialized
	}
	return s.adapter.Layout(), nil
}

// Init builds the reference engine and binds execution context 0, the
// first configured hart. port is recorded only.
func (s *Session) Init(port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.engine != nil {
		return ErrAlreadyInitialized
	}

	cfg := s.config
	engine, err := emu.NewEmulator(&cfg, s.engineOpts...)
	if err != nil {
		return fmt.Errorf("difftest: init engine: %w", err)
	}

	hart := engine.Harts()[0]
	layout := Layout{XLEN: engine.XLEN(), Profile: s.profile}
	adapter, err := NewAdapter(engine, strconv.FormatUint(hart.ID(), 10), layout)
	if err != nil {
		return err
	}

	for _, h := range s.hooks {
		adapter.AcceptHook(h)
		hart.AcceptHook(h)
	}

	s.engine = engine
	s.adapter = adapter
	s.bridge = NewMemoryBridge(hart)
	s.injector = NewInjector(hart)

	s.logger.Info("difftest initialized",
		"port", port,
		"isa", engine.ISA().String(),
		"mem_base", hex(cfg.MemBase),
		"mem_size", hex(cfg.MemSize),
		"hart", hart.ID(),
		"profile", s.profile.String(),
		"snapshot_bytes", layout.Size())

	return nil
}

// Memcpy copies buf to the engine at addr. Only MemcpyToRef is supported.
func (s *Session) Memcpy(addr uint64, buf []byte, dir MemcpyDirection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.engine == nil {
		return ErrNotInitialized
	}
	if dir != MemcpyToRef {
		return fmt.Errorf("%w: memcpy %v", ErrUnsupportedDirection, dir)
	}

	s.logger.Debug("memcpy", "addr", hex(addr), "bytes", len(buf))

	return s.bridge.CopyIn(addr, buf)
}

// Regcpy transfers architectural state between snap and the engine.
func (s *Session) Regcpy(snap *Snapshot, dir RegcpyDirection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.engine == nil {
		return ErrNotInitialized
	}

	switch dir {
	case RegcpyToRef:
		return s.adapter.WriteState(snap)
	case RegcpyToDUT:
		return s.adapter.ReadState(snap)
	default:
		return fmt.Errorf("%w: regcpy %v", ErrUnsupportedDirection, dir)
	}
}

// Exec steps the engine n times and blocks until done.
func (s *Session) Exec(n uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.engine == nil {
		return ErrNotInitialized
	}

	if err := s.adapter.Step(n); err != nil {
		s.logger.Error("exec failed", "steps", n, "error", err)
		return err
	}
	return nil
}

// RaiseIntr forces the bound hart to take a trap with mcause cause at its
// current PC.
func (s *Session) RaiseIntr(cause uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.engine == nil {
		return ErrNotInitialized
	}

	s.logger.Debug("raise interrupt", "cause", hex(cause))

	return s.injector.RaiseInterrupt(cause)
}
