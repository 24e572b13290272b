package gwmap

// disarmedTimer is the "no timer armed" sentinel in TimerCell.TicksElapsed.
const disarmedTimer = 0xFFFF

// TimerCell is the countdown for one (gateway, ANA group) cell. Armed only
// while the cell sits in a timed transitional state.
type TimerCell struct {
	TicksElapsed uint32
	Deadline     uint8
}

// Armed reports whether the countdown is running.
func (c TimerCell) Armed() bool {
	return c.TicksElapsed != disarmedTimer
}

// timerSlab holds the timer cells of one gateway.
type timerSlab [MaxAnaGroups]TimerCell

func newTimerSlab() *timerSlab {
	var slab timerSlab
	for i := range slab {
		slab[i].TicksElapsed = disarmedTimer
	}
	return &slab
}

func (m *Map) armTimer(key GroupKey, gw string, grp AnaGroupID, deadline uint8) {
	group := m.timers[key]
	if group == nil {
		group = make(map[string]*timerSlab)
		m.timers[key] = group
	}
	slab := group[gw]
	if slab == nil {
		slab = newTimerSlab()
		group[gw] = slab
	}
	slab[grp] = TimerCell{TicksElapsed: 0, Deadline: deadline}
}

func (m *Map) cancelTimer(key GroupKey, gw string, grp AnaGroupID) {
	if slab := m.timerSlab(key, gw); slab != nil {
		slab[grp].TicksElapsed = disarmedTimer
		slab[grp].Deadline = 0
	}
}

func (m *Map) timerSlab(key GroupKey, gw string) *timerSlab {
	if group := m.timers[key]; group != nil {
		return group[gw]
	}
	return nil
}

// timerTicks returns the elapsed ticks of an armed timer. The caller must
// know the timer is armed.
func (m *Map) timerTicks(key GroupKey, gw string, grp AnaGroupID) uint32 {
	slab := m.timerSlab(key, gw)
	assert(slab != nil && slab[grp].Armed(), "timer read on disarmed cell %s/%s grp %d", key, gw, grp)
	return slab[grp].TicksElapsed
}

// TimerCells returns a copy of a gateway's timer slab. The second result is
// false when the gateway never had a timer armed.
func (m *Map) TimerCells(key GroupKey, gw string) ([MaxAnaGroups]TimerCell, bool) {
	if slab := m.timerSlab(key, gw); slab != nil {
		return *slab, true
	}
	return [MaxAnaGroups]TimerCell{}, false
}

// Tick advances every armed timer by one tick and feeds expiries into the
// state machine. One call per outer scheduling period; the core has no
// wall-clock dependency of its own.
func (m *Map) Tick() {
	for _, key := range sortedGroupKeys(m.timers) {
		group := m.timers[key]
		for _, gw := range sortedKeys(group) {
			slab := group[gw]
			for grp := range slab {
				cell := &slab[grp]
				if !cell.Armed() {
					continue
				}
				cell.TicksElapsed++
				m.logger.Debug("timer tick",
					"group", key.String(),
					"gw", gw,
					"ana_group", grp,
					"elapsed", cell.TicksElapsed,
					"deadline", cell.Deadline)
				if cell.TicksElapsed >= uint32(cell.Deadline) {
					m.handleTimerExpired(key, gw, AnaGroupID(grp))
				}
			}
		}
	}
}
