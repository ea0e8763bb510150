// Package main builds the difftest shared library a DUT driver loads with
// dlopen. Build it with:
//
//	go build -buildmode=c-shared -o librvdiff.so ./cmd/libdifftest
//
// The engine configuration is read from the JSON file named by
// RVDIFF_CONFIG and the snapshot CSR profile from RVDIFF_CSR_PROFILE.
// Any failure terminates the process.
package main

/*
#include <stdbool.h>
#include <stddef.h>
#include <stdint.h>
*/
import "C"

import (
	"log/slog"
	"os"
	"unsafe"

	"github.com/tebeka/atexit"

	"github.com/sarchlab/rvdiff/difftest"
	"github.com/sarchlab/rvdiff/emu"
)

const (
	envConfig  = "RVDIFF_CONFIG"
	envProfile = "RVDIFF_CSR_PROFILE"
)

// session is process-global because the C ABI carries no handle.
var (
	session *difftest.Session
	layout  difftest.Layout
)

func newSession() (*difftest.Session, error) {
	cfg := emu.DefaultConfig()
	if path := os.Getenv(envConfig); path != "" {
		var err error
		if cfg, err = emu.LoadConfig(path); err != nil {
			return nil, err
		}
	}

	profile, err := difftest.ParseProfile(os.Getenv(envProfile))
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	return difftest.NewSession(
		difftest.WithConfig(*cfg),
		difftest.WithProfile(profile),
		difftest.WithLogger(logger),
	), nil
}

func mustSession() *difftest.Session {
	if session == nil {
		atexit.Fatalf("difftest: %v", difftest.ErrNotInitialized)
	}
	return session
}

//export difftest_init
func difftest_init(port C.int) {
	if session != nil {
		atexit.Fatalf("difftest: %v", difftest.ErrAlreadyInitialized)
	}

	s, err := newSession()
	if err != nil {
		atexit.Fatalf("difftest: %v", err)
	}
	if err := s.Init(int(port)); err != nil {
		atexit.Fatalf("difftest: %v", err)
	}

	l, err := s.Layout()
	if err != nil {
		atexit.Fatalf("difftest: %v", err)
	}

	session = s
	layout = l
}

//export difftest_memcpy
func difftest_memcpy(addr C.uint64_t, buf unsafe.Pointer, n C.size_t, direction C.bool) {
	s := mustSession()

	var data []byte
	if n > 0 {
		data = unsafe.Slice((*byte)(buf), int(n))
	}

	dir := difftest.MemcpyDirectionFromRaw(bool(direction))
	if err := s.Memcpy(uint64(addr), data, dir); err != nil {
		atexit.Fatalf("difftest: %v", err)
	}
}

//export difftest_regcpy
func difftest_regcpy(dut unsafe.Pointer, direction C.bool) {
	s := mustSession()

	raw := unsafe.Slice((*byte)(dut), layout.Size())
	snap := difftest.NewSnapshot(layout)

	dir := difftest.RegcpyDirectionFromRaw(bool(direction))
	switch dir {
	case difftest.RegcpyToRef:
		if err := snap.Decode(raw); err != nil {
			atexit.Fatalf("difftest: %v", err)
		}
		if err := s.Regcpy(snap, dir); err != nil {
			atexit.Fatalf("difftest: %v", err)
		}
	default:
		if err := s.Regcpy(snap, dir); err != nil {
			atexit.Fatalf("difftest: %v", err)
		}
		if err := snap.Encode(raw); err != nil {
			atexit.Fatalf("difftest: %v", err)
		}
	}
}

//export difftest_exec
func difftest_exec(n C.uint64_t) {
	if err := mustSession().Exec(uint64(n)); err != nil {
		atexit.Fatalf("difftest: %v", err)
	}
}

//export difftest_raise_intr
func difftest_raise_intr(no C.uint64_t) {
	if err := mustSession().RaiseIntr(uint64(no)); err != nil {
		atexit.Fatalf("difftest: %v", err)
	}
}

func main() {}
