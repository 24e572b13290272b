package gwmap

// Per-cell state machine. Transitions are per (gateway, ANA group) cell but
// frequently mutate a second row: failback pairs a WaitFailbackPrepared
// holder with a BlockedOwner, failover pairs a WaitFailoverPrepared
// candidate with the fenced peer it replaces. All cross-row edits of one
// event complete before control returns to the caller.

// handleFirstContact admits a freshly created gateway on its first beacon:
// all cells standby, then the owned group goes straight to active.
func (m *Map) handleFirstContact(key GroupKey, gw string, row *CreatedGateway) {
	m.logger.Info("first beacon, admitting gateway",
		"group", key.String(),
		"gw", gw,
		"ana_group", row.OwnedAnaGroup)
	row.Availability = GwAvailable
	for grp := range row.State {
		row.standby(AnaGroupID(grp))
	}
	if row.OwnedAnaGroup != RedundantAnaGroupID {
		row.State[row.OwnedAnaGroup] = StateActive
	}
	m.proposalPending = true
}

// handleRecovery handles a beacon from a gateway previously marked
// unavailable. A redundant gateway just returns to standby; an owner starts
// failback against whichever peer currently covers its group.
func (m *Map) handleRecovery(key GroupKey, gw string, row *CreatedGateway) {
	row.Availability = GwAvailable
	if row.OwnedAnaGroup == RedundantAnaGroupID {
		for grp := range row.State {
			row.standby(AnaGroupID(grp))
		}
		m.proposalPending = true
		return
	}
	m.prepareFailback(key, gw, row)
	m.proposalPending = true
}

// prepareFailback scans the group for the current holder of the recovered
// owner's ANA group. An active holder is fenced and parked in
// WaitFailbackPrepared while the owner blocks; a holder still waiting on
// its own failover blocklist is left alone (failback retries on the next
// event); no holder at all means a fresh cluster and the owner claims the
// group immediately.
func (m *Map) prepareFailback(key GroupKey, gw string, row *CreatedGateway) {
	owned := row.OwnedAnaGroup
	for _, id := range m.GatewayIDs(key) {
		if id == gw {
			continue
		}
		holder := m.created[key][id]
		switch holder.State[owned] {
		case StateActive:
			assert(holder.FailoverPeer[owned] == gw,
				"holder %s of ana group %d does not reference owner %s", id, owned, gw)
			m.logger.Info("preparing failback",
				"group", key.String(),
				"owner", gw,
				"holder", id,
				"ana_group", owned)
			holder.State[owned] = StateWaitFailback
			m.armTimer(key, id, owned, failbackDeadline)
			row.State[owned] = StateBlockedOwner
			if _, err := m.blocklistPeer(key, id, owned); err != nil {
				m.logger.Warn("failback blocklist skipped",
					"group", key.String(),
					"holder", id,
					"ana_group", owned,
					"error", err)
			}
			return
		case StateWaitFailover:
			assert(holder.FailoverPeer[owned] == gw,
				"failover candidate %s for ana group %d does not reference owner %s", id, owned, gw)
			m.logger.Info("failback deferred, holder still fencing",
				"group", key.String(),
				"owner", gw,
				"holder", id,
				"ana_group", owned)
			return
		}
	}
	// Nobody took the group over; single-gateway restart.
	m.logger.Info("no holder found, owner reclaims group",
		"group", key.String(),
		"gw", gw,
		"ana_group", owned)
	row.State[owned] = StateActive
}

// handleKeepAlive processes a steady-state beacon. The only cell state it
// acts on is WaitFailoverPrepared: once the observed OSD epoch passes the
// epoch at which the peer's blocklist was accepted, the peer is guaranteed
// fenced and the candidate activates without waiting for the timer.
func (m *Map) handleKeepAlive(key GroupKey, gw string, row *CreatedGateway) {
	for grp := AnaGroupID(0); grp < MaxAnaGroups; grp++ {
		if row.State[grp] != StateWaitFailover {
			continue
		}
		current := m.fencing.CurrentEpoch()
		if current > row.BlocklistEpoch[grp] {
			m.logger.Info("osd epoch advanced past blocklist, activating",
				"group", key.String(),
				"gw", gw,
				"ana_group", grp,
				"blocklist_epoch", row.BlocklistEpoch[grp],
				"osd_epoch", current,
				"elapsed_ticks", m.timerTicks(key, gw, grp))
			row.State[grp] = StateActive
			m.cancelTimer(key, gw, grp)
			m.proposalPending = true
		}
	}
}

// handleCellDown dispatches the down event for one cell of a gateway that
// stopped beaconing.
func (m *Map) handleCellDown(key GroupKey, gw string, row *CreatedGateway, grp AnaGroupID) {
	switch row.State[grp] {
	case StateStandby, StateIdle:
		// nothing to do

	case StateBlockedOwner:
		// The partner's failback timer expires naturally and unwinds both
		// sides.

	case StateWaitFailover:
		m.cancelTimer(key, gw, grp)
		row.standby(grp)

	case StateWaitFailback:
		m.cancelTimer(key, gw, grp)
		for _, id := range m.GatewayIDs(key) {
			partner := m.created[key][id]
			if partner.State[grp] == StateBlockedOwner {
				m.logger.Warn("holder lost during failback, unblocking owner",
					"group", key.String(),
					"holder", gw,
					"owner", id,
					"ana_group", grp)
				partner.standby(grp)
				m.proposalPending = true
				break
			}
		}
		row.standby(grp)

	case StateActive:
		m.findFailoverCandidate(key, gw, grp)
		row.standby(grp)

	default:
		assert(false, "down event in state %s", row.State[grp])
	}
}

// handleCellDelete dispatches the delete event for one cell of a gateway
// being removed. Unlike down, an active cell is not failed over: the
// gateway's ANA group id is being released, so any peer holding or about to
// hold it is reset to standby instead.
func (m *Map) handleCellDelete(key GroupKey, gw string, row *CreatedGateway, grp AnaGroupID) {
	switch row.State[grp] {
	case StateStandby, StateIdle, StateBlockedOwner:
		if grp != row.OwnedAnaGroup {
			return
		}
		for _, id := range m.GatewayIDs(key) {
			if id == gw {
				continue
			}
			peer := m.created[key][id]
			if peer.State[grp] == StateActive || peer.State[grp] == StateWaitFailback {
				if peer.State[grp] == StateWaitFailback {
					m.cancelTimer(key, id, grp)
				}
				peer.standby(grp)
				m.proposalPending = true
				break
			}
		}

	case StateWaitFailover:
		m.cancelTimer(key, gw, grp)
		row.standby(grp)

	case StateWaitFailback:
		m.cancelTimer(key, gw, grp)
		for _, id := range m.GatewayIDs(key) {
			peer := m.created[key][id]
			if peer.State[grp] == StateBlockedOwner {
				m.logger.Warn("holder deleted during failback, unblocking owner",
					"group", key.String(),
					"holder", gw,
					"owner", id,
					"ana_group", grp)
				peer.standby(grp)
				m.proposalPending = true
				break
			}
		}
		row.standby(grp)

	case StateActive:
		row.standby(grp)
		m.proposalPending = true

	default:
		assert(false, "delete event in state %s", row.State[grp])
	}
}

// handleTimerExpired resolves a timed transitional cell whose deadline
// passed.
func (m *Map) handleTimerExpired(key GroupKey, gw string, grp AnaGroupID) {
	row := m.Gateway(key, gw)
	assert(row != nil, "timer expired for unknown gateway %s/%s", key, gw)

	switch row.State[grp] {
	case StateWaitFailback:
		m.cancelTimer(key, gw, grp)
		m.expireFailback(key, gw, row, grp)

	case StateWaitFailover:
		// The blocklist interval is assumed effective by now; the epoch
		// check on keep-alive normally activates the cell well before this.
		m.logger.Warn("failover preparation timer expired",
			"group", key.String(),
			"gw", gw,
			"ana_group", grp,
			"blocklist_epoch", row.BlocklistEpoch[grp],
			"osd_epoch", m.fencing.CurrentEpoch())
		m.cancelTimer(key, gw, grp)
		row.standby(grp)
		m.proposalPending = true

	default:
		assert(false, "timer expired in state %s", row.State[grp])
	}
}

// expireFailback hands the group back to its blocked owner, or unwinds the
// pair if the owner went away during the persistency window.
func (m *Map) expireFailback(key GroupKey, gw string, row *CreatedGateway, grp AnaGroupID) {
	for _, id := range m.GatewayIDs(key) {
		owner := m.created[key][id]
		if owner.State[grp] == StateBlockedOwner {
			row.standby(grp)
			if owner.Availability == GwAvailable {
				owner.State[grp] = StateActive
				m.logger.Info("failback complete",
					"group", key.String(),
					"from", gw,
					"to", id,
					"ana_group", grp)
			} else {
				owner.standby(grp)
				m.logger.Warn("failback abandoned, owner unavailable",
					"group", key.String(),
					"from", gw,
					"owner", id,
					"ana_group", grp)
			}
			m.proposalPending = true
			return
		}
	}
	// Owner is not blocked anymore: it failed and returned within the
	// persistency window. If it is back and idle, it reclaims the group.
	for _, id := range m.GatewayIDs(key) {
		owner := m.created[key][id]
		if owner.OwnedAnaGroup != grp || owner.Availability != GwAvailable {
			continue
		}
		if owner.State[grp] == StateStandby {
			owner.State[grp] = StateActive
			m.logger.Info("owner reclaims group after failback window",
				"group", key.String(),
				"gw", id,
				"ana_group", grp)
		}
		break
	}
	row.standby(grp)
	m.proposalPending = true
}

// findFailoverCandidate picks a replacement for the failed owner of one ANA
// group, fences the failed gateway and parks the candidate in
// WaitFailoverPrepared until the blocklist is known effective. Gateways
// with any transitional cell are busy and excluded; among the rest the
// least-loaded wins, ties broken by lexicographic gateway id.
func (m *Map) findFailoverCandidate(key GroupKey, failedGW string, grp AnaGroupID) {
	const maxLoad = int(^uint(0) >> 1)

	minLoad := maxLoad
	candidate := ""
	for _, id := range m.GatewayIDs(key) {
		if id == failedGW {
			continue
		}
		gw := m.created[key][id]
		if gw.Availability != GwAvailable || gw.busy() {
			continue
		}
		if load := gw.activeCells(); load < minLoad {
			minLoad = load
			candidate = id
		}
	}

	if candidate == "" {
		// Group stays uncovered; the map still changed (the failed owner's
		// cell goes standby) and the reconcile sweep retries later.
		m.logger.Warn("no failover candidate",
			"group", key.String(),
			"failed_gw", failedGW,
			"ana_group", grp)
		m.proposalPending = true
		return
	}

	m.logger.Info("failover candidate selected",
		"group", key.String(),
		"failed_gw", failedGW,
		"candidate", candidate,
		"ana_group", grp,
		"load", minLoad)

	cand := m.created[key][candidate]
	epoch, err := m.blocklistPeer(key, failedGW, grp)
	if err != nil {
		// Degraded path: nothing to fence, activate immediately.
		m.logger.Warn("blocklist unavailable, activating candidate directly",
			"group", key.String(),
			"failed_gw", failedGW,
			"candidate", candidate,
			"ana_group", grp,
			"error", err)
		cand.State[grp] = StateActive
		cand.FailoverPeer[grp] = failedGW
	} else {
		cand.State[grp] = StateWaitFailover
		cand.FailoverPeer[grp] = failedGW
		cand.BlocklistEpoch[grp] = epoch
		m.armTimer(key, candidate, grp, failoverDeadline)
	}
	m.proposalPending = true
}

// blocklistPeer fences the gateway's published nonces for one ANA group.
// On success the accepted epoch is recorded on the fenced row and the used
// nonces are invalidated. An empty nonce vector yields ErrNoNonces.
func (m *Map) blocklistPeer(key GroupKey, gw string, grp AnaGroupID) (Epoch, error) {
	row := m.Gateway(key, gw)
	assert(row != nil, "blocklist for unknown gateway %s/%s", key, gw)

	nonces := row.NonceMap[grp]
	if len(nonces) == 0 {
		m.logger.Warn("no nonces to blocklist",
			"group", key.String(),
			"gw", gw,
			"ana_group", grp)
		return 0, ErrNoNonces
	}

	epoch, err := m.fencing.Blocklist(append([]string(nil), nonces...), m.blocklistTTL)
	if err != nil {
		m.logger.Error("blocklist request failed",
			"group", key.String(),
			"gw", gw,
			"ana_group", grp,
			"error", err)
		return 0, err
	}

	m.logger.Info("blocklisted gateway nonces",
		"group", key.String(),
		"gw", gw,
		"ana_group", grp,
		"addresses", len(nonces),
		"epoch", epoch)
	row.BlocklistEpoch[grp] = epoch
	delete(row.NonceMap, grp) // nonces are single-use
	return epoch, nil
}
