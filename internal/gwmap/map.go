package gwmap

import (
	"log/slog"
	"sort"
	"time"
)

// Map is the aggregate coordination state proposed through consensus: the
// created-gateway registry and the timer table, both keyed by (pool, group).
type Map struct {
	created map[GroupKey]map[string]*CreatedGateway
	timers  map[GroupKey]map[string]*timerSlab

	fencing      Fencing
	blocklistTTL time.Duration
	logger       *slog.Logger

	// proposalPending is set whenever persisted state changed; the shell
	// clears it after committing and republishing the map.
	proposalPending bool
}

// New creates an empty map bound to the given fencing handle. The fencing
// handle is non-owning: the map never closes it.
func New(fencing Fencing, blocklistTTL time.Duration, logger *slog.Logger) *Map {
	if logger == nil {
		logger = slog.Default()
	}
	if blocklistTTL <= 0 {
		blocklistTTL = DefaultBlocklistTTL
	}
	return &Map{
		created:      make(map[GroupKey]map[string]*CreatedGateway),
		timers:       make(map[GroupKey]map[string]*timerSlab),
		fencing:      fencing,
		blocklistTTL: blocklistTTL,
		logger:       logger.With("component", "gwmap"),
	}
}

// ProposalPending reports whether persisted state changed since the last
// ClearProposalPending.
func (m *Map) ProposalPending() bool {
	return m.proposalPending
}

// ClearProposalPending acknowledges a committed proposal.
func (m *Map) ClearProposalPending() {
	m.proposalPending = false
}

// Gateway returns the registry row for a gateway, or nil if not registered.
func (m *Map) Gateway(key GroupKey, gw string) *CreatedGateway {
	if group := m.created[key]; group != nil {
		return group[gw]
	}
	return nil
}

// GroupKeys returns the registered group scopes in deterministic order.
func (m *Map) GroupKeys() []GroupKey {
	return sortedGroupKeys(m.created)
}

// GatewayIDs returns the gateways of a group in deterministic order.
func (m *Map) GatewayIDs(key GroupKey) []string {
	return sortedKeys(m.created[key])
}

// AddGateway registers a gateway in the group scope and assigns it the
// lowest free ANA group id. Fails with ErrAlreadyExists if the gateway is
// registered, or ErrNoAnaGroupID if all ids are taken.
func (m *Map) AddGateway(gw string, key GroupKey) error {
	assert(gw != "", "empty gateway id")
	group := m.created[key]

	var allocated [MaxAnaGroups]bool
	for id, row := range group {
		if id == gw {
			m.logger.Warn("create gateway: already exists", "group", key.String(), "gw", gw)
			return ErrAlreadyExists
		}
		if row.OwnedAnaGroup != RedundantAnaGroupID {
			allocated[row.OwnedAnaGroup] = true
		}
	}

	for i := AnaGroupID(0); i < MaxAnaGroups; i++ {
		if allocated[i] {
			continue
		}
		if group == nil {
			group = make(map[string]*CreatedGateway)
			m.created[key] = group
		}
		group[gw] = newCreatedGateway(i)
		m.proposalPending = true
		m.logger.Info("gateway created",
			"group", key.String(),
			"gw", gw,
			"ana_group", i)
		return nil
	}

	m.logger.Warn("create gateway: ANA group id space exhausted", "group", key.String(), "gw", gw)
	return ErrNoAnaGroupID
}

// DeleteGateway removes a gateway from the group scope. Every cell is fed a
// delete event first, which may transition peers out of blocked or waiting
// states; then the row and its timer slab are erased and no surviving row
// references the gateway as a failover peer.
func (m *Map) DeleteGateway(gw string, key GroupKey) error {
	row := m.Gateway(key, gw)
	if row == nil {
		m.logger.Warn("delete gateway: not found", "group", key.String(), "gw", gw)
		return ErrNotFound
	}

	for grp := AnaGroupID(0); grp < MaxAnaGroups; grp++ {
		m.handleCellDelete(key, gw, row, grp)
	}

	delete(m.created[key], gw)
	if len(m.created[key]) == 0 {
		delete(m.created, key)
	}
	if group := m.timers[key]; group != nil {
		delete(group, gw)
		if len(group) == 0 {
			delete(m.timers, key)
		}
	}

	// Scrub dangling peer links left by completed or pending failovers.
	for _, id := range m.GatewayIDs(key) {
		peer := m.created[key][id]
		for grp := AnaGroupID(0); grp < MaxAnaGroups; grp++ {
			if peer.FailoverPeer[grp] != gw {
				continue
			}
			if peer.State[grp] == StateWaitFailover {
				m.cancelTimer(key, id, grp)
				peer.standby(grp)
			} else {
				peer.FailoverPeer[grp] = ""
			}
		}
	}

	m.proposalPending = true
	m.logger.Info("gateway deleted", "group", key.String(), "gw", gw)
	return nil
}

// ProcessBeacon ingests one gateway beacon: refreshes the registry snapshot
// (subsystems and nonces, full replace) and dispatches the state-machine
// event implied by the gateway's prior availability. Beacons from
// unregistered gateways are dropped.
func (m *Map) ProcessBeacon(b *Beacon) {
	key := b.Key()
	row := m.Gateway(key, b.GatewayID)
	if row == nil {
		m.logger.Debug("beacon from unregistered gateway dropped",
			"group", key.String(),
			"gw", b.GatewayID)
		return
	}

	row.Subsystems = cloneSubsystems(b.Subsystems)
	row.NonceMap = b.NonceMap.clone()
	if row.NonceMap == nil {
		row.NonceMap = NonceMap{}
	}

	// A gateway announcing its own unavailability (graceful shutdown) is
	// handled as a down signal.
	if b.Availability == GwUnavailable {
		m.ProcessDown(b.GatewayID, key)
		return
	}

	switch row.Availability {
	case GwCreated:
		m.handleFirstContact(key, b.GatewayID, row)
	case GwUnavailable:
		m.handleRecovery(key, b.GatewayID, row)
	case GwAvailable:
		m.handleKeepAlive(key, b.GatewayID, row)
	default:
		assert(false, "beacon for gateway %s in availability %s", b.GatewayID, row.Availability)
	}
}

// ProcessDown handles a missed-beacon signal from the enclosing timeout
// detector.
func (m *Map) ProcessDown(gw string, key GroupKey) {
	row := m.Gateway(key, gw)
	if row == nil {
		m.logger.Warn("down event for unknown gateway", "group", key.String(), "gw", gw)
		return
	}
	m.logger.Info("gateway down", "group", key.String(), "gw", gw)
	row.Availability = GwUnavailable
	for grp := AnaGroupID(0); grp < MaxAnaGroups; grp++ {
		m.handleCellDown(key, gw, row, grp)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedGroupKeys[V any](m map[GroupKey]V) []GroupKey {
	keys := make([]GroupKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Pool != keys[j].Pool {
			return keys[i].Pool < keys[j].Pool
		}
		return keys[i].Group < keys[j].Group
	})
	return keys
}
