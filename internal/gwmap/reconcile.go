package gwmap

// SweepAbandoned is the periodic repair pass: it detects ANA groups whose
// owner is gone without anyone covering them (missed failover) and live
// owners stuck in standby with no failback in flight (missed failback), and
// repairs both. It is the retry loop for transient "no candidate" outcomes.
func (m *Map) SweepAbandoned() {
	for _, key := range m.GroupKeys() {
		m.sweepGroup(key)
	}
}

func (m *Map) sweepGroup(key GroupKey) {
	for _, id := range m.GatewayIDs(key) {
		row := m.created[key][id]
		if row.OwnedAnaGroup == RedundantAnaGroupID {
			continue
		}
		owned := row.OwnedAnaGroup

		switch row.Availability {
		case GwUnavailable:
			// Missed failover: the group of a dead owner has no live
			// active holder.
			if m.coveredBy(key, owned) == "" {
				m.logger.Warn("abandoned ana group, retrying failover",
					"group", key.String(),
					"owner", id,
					"ana_group", owned)
				m.findFailoverCandidate(key, id, owned)
			}

		case GwAvailable:
			// Missed failback: a live owner sits standby while nobody
			// prepares to hand the group back and nobody holds it.
			if row.State[owned] != StateStandby {
				continue
			}
			if m.failbackInFlight(key, owned) || m.coveredBy(key, owned) != "" {
				continue
			}
			m.logger.Info("idle owner reclaims its ana group",
				"group", key.String(),
				"gw", id,
				"ana_group", owned)
			row.State[owned] = StateActive
			m.proposalPending = true
		}
	}
}

// coveredBy returns the live gateway holding grp active, or "".
func (m *Map) coveredBy(key GroupKey, grp AnaGroupID) string {
	for _, id := range m.GatewayIDs(key) {
		row := m.created[key][id]
		if row.Availability == GwAvailable && row.State[grp] == StateActive {
			return id
		}
	}
	return ""
}

func (m *Map) failbackInFlight(key GroupKey, grp AnaGroupID) bool {
	for _, id := range m.GatewayIDs(key) {
		if m.created[key][id].State[grp] == StateWaitFailback {
			return true
		}
	}
	return false
}
