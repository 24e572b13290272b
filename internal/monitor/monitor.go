// Package monitor wraps the gateway map core in a single-writer service
// shell: it serializes beacons, admin operations and scheduler ticks into
// the core, detects missed beacons, and persists and republishes the map
// whenever a mutation left a proposal pending.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/radryc/nvmeof-mon/internal/gwmap"
	"github.com/radryc/nvmeof-mon/internal/store"
)

// Config holds monitor configuration.
type Config struct {
	ClusterID       string
	TickInterval    time.Duration // timer tick and stale-beacon scan period
	DownThreshold   time.Duration // beacon silence before a gateway is down
	SweepEveryTicks int           // abandoned-group sweep cadence, in ticks
	BlocklistTTL    time.Duration
}

// DefaultConfig returns default monitor configuration.
func DefaultConfig() Config {
	return Config{
		ClusterID:       "nvmeof-cluster",
		TickInterval:    2 * time.Second,
		DownThreshold:   6 * time.Second, // 3 missed beacons
		SweepEveryTicks: 5,
		BlocklistTTL:    gwmap.DefaultBlocklistTTL,
	}
}

type gatewayRef struct {
	key gwmap.GroupKey
	gw  string
}

// Monitor owns the gateway map and enforces the single-writer discipline:
// every mutation happens under mu, and all cross-gateway transitions of one
// event complete before the proposal flag is inspected.
type Monitor struct {
	mu    sync.Mutex
	gwMap *gwmap.Map

	// lastSeen tracks beacon arrival per gateway; entries exist only for
	// gateways that have beaconed since their last down transition.
	lastSeen map[gatewayRef]time.Time

	version    uint64 // last committed map version
	tickCount  int
	instanceID string

	cfg    Config
	store  *store.Store
	logger *slog.Logger

	// onCommit, if set, receives the committed version and encoded payload
	// after every proposal. This is the publish hook towards subscribers.
	onCommit func(version uint64, payload []byte)

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a monitor. The store may be nil (no persistence); fencing
// must not be nil.
func New(cfg Config, fencing gwmap.Fencing, st *store.Store, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "monitor")

	m := &Monitor{
		gwMap:      gwmap.New(fencing, cfg.BlocklistTTL, logger),
		lastSeen:   make(map[gatewayRef]time.Time),
		instanceID: uuid.NewString(),
		cfg:        cfg,
		store:      st,
		logger:     logger,
		stop:       make(chan struct{}),
	}

	logger.Info("monitor created",
		"cluster_id", cfg.ClusterID,
		"instance_id", m.instanceID,
		"tick_interval", cfg.TickInterval,
		"down_threshold", cfg.DownThreshold)
	return m
}

// SetCommitHook installs the publish callback invoked after each committed
// proposal. Must be called before Run.
func (m *Monitor) SetCommitHook(hook func(version uint64, payload []byte)) {
	m.onCommit = hook
}

// InstanceID returns the monitor's unique instance id.
func (m *Monitor) InstanceID() string {
	return m.instanceID
}

// Version returns the last committed map version.
func (m *Monitor) Version() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version
}

// WarmStart restores the registry and timer table from the latest persisted
// snapshot, if any.
func (m *Monitor) WarmStart() error {
	if m.store == nil {
		return nil
	}
	payload, err := m.store.LoadLatest()
	if err != nil {
		return err
	}
	if payload == nil {
		m.logger.Info("no snapshot found, starting empty")
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.gwMap.Decode(payload); err != nil {
		return err
	}
	// Re-arm the down detector for gateways that were beaconing before the
	// restart; if they are gone, the next scan takes them down.
	now := time.Now()
	for _, key := range m.gwMap.GroupKeys() {
		for _, gw := range m.gwMap.GatewayIDs(key) {
			if m.gwMap.Gateway(key, gw).Availability == gwmap.GwAvailable {
				m.lastSeen[gatewayRef{key: key, gw: gw}] = now
			}
		}
	}
	m.logger.Info("map restored from snapshot", "bytes", len(payload))
	return nil
}

// AddGateway registers a gateway in a group scope.
func (m *Monitor) AddGateway(gw string, key gwmap.GroupKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.gwMap.AddGateway(gw, key); err != nil {
		return err
	}
	m.commitLocked()
	return nil
}

// DeleteGateway removes a gateway from a group scope.
func (m *Monitor) DeleteGateway(gw string, key gwmap.GroupKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.gwMap.DeleteGateway(gw, key); err != nil {
		return err
	}
	delete(m.lastSeen, gatewayRef{key: key, gw: gw})
	m.commitLocked()
	return nil
}

// HandleBeacon ingests one gateway beacon.
func (m *Monitor) HandleBeacon(b *gwmap.Beacon) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ref := gatewayRef{key: b.Key(), gw: b.GatewayID}
	if m.gwMap.Gateway(ref.key, ref.gw) == nil {
		// Dropped by the core as well; don't start tracking liveness.
		m.gwMap.ProcessBeacon(b)
		return
	}

	if b.Availability == gwmap.GwUnavailable {
		delete(m.lastSeen, ref)
	} else {
		m.lastSeen[ref] = time.Now()
	}
	m.gwMap.ProcessBeacon(b)
	m.commitLocked()
}

// ExportedGroup projects the initiator-visible view of one group scope.
func (m *Monitor) ExportedGroup(key gwmap.GroupKey) map[string]gwmap.ExportedGwState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gwMap.ExportedGroup(key, m.version)
}

// Exported projects the full map message payload.
func (m *Monitor) Exported() map[gwmap.GroupKey]map[string]gwmap.ExportedGwState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gwMap.Exported(m.version)
}

// Dump returns a deep JSON-friendly snapshot of the internal map for the
// inspection surface.
func (m *Monitor) Dump() MapDump {
	m.mu.Lock()
	defer m.mu.Unlock()
	return dumpMap(m.gwMap, m.version)
}

// Run drives the scheduler loop until ctx is cancelled or Stop is called.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	m.logger.Info("monitor loop started")
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("monitor loop stopped", "reason", ctx.Err())
			return ctx.Err()
		case <-m.stop:
			m.logger.Info("monitor loop stopped")
			return nil
		case <-ticker.C:
			m.tickOnce(time.Now())
		}
	}
}

// Stop terminates the Run loop.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// tickOnce performs one scheduling period: missed-beacon detection, timer
// advance, periodic reconcile sweep, then commit if anything changed.
func (m *Monitor) tickOnce(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for ref, seen := range m.lastSeen {
		if now.Sub(seen) < m.cfg.DownThreshold {
			continue
		}
		m.logger.Warn("beacon timeout",
			"group", ref.key.String(),
			"gw", ref.gw,
			"last_seen", seen)
		delete(m.lastSeen, ref)
		m.gwMap.ProcessDown(ref.gw, ref.key)
	}

	m.gwMap.Tick()

	m.tickCount++
	if m.cfg.SweepEveryTicks > 0 && m.tickCount%m.cfg.SweepEveryTicks == 0 {
		m.gwMap.SweepAbandoned()
	}

	m.commitLocked()
}

// commitLocked persists and republishes the map if the last batch of events
// changed persistent state. Callers hold mu.
func (m *Monitor) commitLocked() {
	if !m.gwMap.ProposalPending() {
		return
	}
	m.version++
	payload := m.gwMap.Encode()
	if m.store != nil {
		if err := m.store.Save(m.version, payload); err != nil {
			// Keep the proposal pending so the next batch retries the save.
			m.version--
			return
		}
	}
	m.gwMap.ClearProposalPending()
	m.logger.Debug("map committed", "version", m.version, "bytes", len(payload))
	if m.onCommit != nil {
		m.onCommit(m.version, payload)
	}
}
