package gwmap

// AnaStateVector is the initiator-visible ANA state of one subsystem across
// all group slots.
type AnaStateVector [MaxAnaGroups]ExportedState

// ExportedGwState is the initiator-visible projection of one gateway: its
// owned group, the map version it was projected at, and per-NQN ANA state
// vectors. A slot is OPTIMIZED iff the internal cell is active; every other
// internal state flattens to INACCESSIBLE.
type ExportedGwState struct {
	OwnedAnaGroup AnaGroupID                `json:"owned_ana_group"`
	Version       uint64                    `json:"version"`
	Subsystems    map[string]AnaStateVector `json:"subsystems"`
}

// ExportedGroup projects the exported view of one group scope. The
// projection is read-only and recomputed on demand; callers own the result.
func (m *Map) ExportedGroup(key GroupKey, version uint64) map[string]ExportedGwState {
	group := m.created[key]
	if group == nil {
		return nil
	}
	out := make(map[string]ExportedGwState, len(group))
	for id, row := range group {
		st := ExportedGwState{
			OwnedAnaGroup: row.OwnedAnaGroup,
			Version:       version,
			Subsystems:    make(map[string]AnaStateVector, len(row.Subsystems)),
		}
		var vec AnaStateVector
		for grp, cell := range row.State {
			if cell == StateActive {
				vec[grp] = ExportedOptimized
			} else {
				vec[grp] = ExportedInaccessible
			}
		}
		for _, sub := range row.Subsystems {
			st.Subsystems[sub.NQN] = vec
		}
		out[id] = st
	}
	return out
}

// Exported projects the full monitor-to-subscriber map message payload.
func (m *Map) Exported(version uint64) map[GroupKey]map[string]ExportedGwState {
	out := make(map[GroupKey]map[string]ExportedGwState, len(m.created))
	for _, key := range m.GroupKeys() {
		out[key] = m.ExportedGroup(key, version)
	}
	return out
}
