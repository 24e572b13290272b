package monitor

import (
	"github.com/radryc/nvmeof-mon/internal/gwmap"
)

// MapDump is the JSON-friendly inspection snapshot of the internal map.
type MapDump struct {
	Version uint64      `json:"version"`
	Groups  []GroupDump `json:"groups"`
}

// GroupDump is one (pool, group) scope of a MapDump.
type GroupDump struct {
	Pool     string        `json:"pool"`
	Group    string        `json:"group"`
	Gateways []GatewayDump `json:"gateways"`
}

// GatewayDump is one registry row of a MapDump.
type GatewayDump struct {
	GatewayID     string                  `json:"gw_id"`
	OwnedAnaGroup gwmap.AnaGroupID        `json:"owned_ana_group"`
	Availability  string                  `json:"availability"`
	States        [gwmap.MaxAnaGroups]string `json:"sm_state"`
	FailoverPeer  [gwmap.MaxAnaGroups]string `json:"failover_peer"`
	Subsystems    []gwmap.BeaconSubsystem `json:"subsystems,omitempty"`
	ArmedTimers   []TimerDump             `json:"armed_timers,omitempty"`
}

// TimerDump is one armed timer cell of a GatewayDump.
type TimerDump struct {
	AnaGroup AnaGroupIndex `json:"ana_group"`
	Elapsed  uint32        `json:"elapsed_ticks"`
	Deadline uint8         `json:"deadline_ticks"`
}

// AnaGroupIndex is a slot index in dump output.
type AnaGroupIndex int

func dumpMap(m *gwmap.Map, version uint64) MapDump {
	dump := MapDump{Version: version}
	for _, key := range m.GroupKeys() {
		gd := GroupDump{Pool: key.Pool, Group: key.Group}
		for _, id := range m.GatewayIDs(key) {
			row := m.Gateway(key, id)
			g := GatewayDump{
				GatewayID:     id,
				OwnedAnaGroup: row.OwnedAnaGroup,
				Availability:  row.Availability.String(),
				Subsystems:    row.Subsystems,
			}
			for i, st := range row.State {
				g.States[i] = st.String()
			}
			g.FailoverPeer = row.FailoverPeer
			if cells, ok := m.TimerCells(key, id); ok {
				for i, cell := range cells {
					if cell.Armed() {
						g.ArmedTimers = append(g.ArmedTimers, TimerDump{
							AnaGroup: AnaGroupIndex(i),
							Elapsed:  cell.TicksElapsed,
							Deadline: cell.Deadline,
						})
					}
				}
			}
			gd.Gateways = append(gd.Gateways, g)
		}
		dump.Groups = append(dump.Groups, gd)
	}
	return dump
}
