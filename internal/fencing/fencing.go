// Package fencing provides implementations of the gateway map's fencing
// handle: an in-memory fence for tests and standalone operation, and an
// HTTP bridge to an external OSD monitor.
package fencing

import (
	"log/slog"
	"sync"
	"time"

	"github.com/radryc/nvmeof-mon/internal/gwmap"
)

// BlocklistCall records one blocklist request accepted by the Memory fence.
type BlocklistCall struct {
	Addrs []string
	TTL   time.Duration
	Epoch gwmap.Epoch
}

// Memory is an in-memory fence. Every accepted blocklist bumps the epoch,
// mirroring the OSD map revision a real blocklist entry lands in. Used in
// tests and when the monitor runs without an OSD endpoint.
type Memory struct {
	mu    sync.Mutex
	epoch gwmap.Epoch
	calls []BlocklistCall
}

// NewMemory creates an in-memory fence starting at the given epoch.
func NewMemory(epoch gwmap.Epoch) *Memory {
	return &Memory{epoch: epoch}
}

// CurrentEpoch implements gwmap.Fencing.
func (f *Memory) CurrentEpoch() gwmap.Epoch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.epoch
}

// Blocklist implements gwmap.Fencing.
func (f *Memory) Blocklist(addrs []string, ttl time.Duration) (gwmap.Epoch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.epoch++
	f.calls = append(f.calls, BlocklistCall{Addrs: addrs, TTL: ttl, Epoch: f.epoch})
	return f.epoch, nil
}

// AdvanceEpoch simulates OSD map churn unrelated to blocklisting.
func (f *Memory) AdvanceEpoch() gwmap.Epoch {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.epoch++
	return f.epoch
}

// Calls returns the blocklist requests accepted so far.
func (f *Memory) Calls() []BlocklistCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]BlocklistCall(nil), f.calls...)
}

var _ gwmap.Fencing = (*Memory)(nil)

// nopLogger returns logger or the default.
func nopLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
