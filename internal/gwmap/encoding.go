package gwmap

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// Wire codec for the aggregate map and the gateway beacon. Integers are
// little-endian fixed-width, strings are u32-length-prefixed raw bytes,
// enums are their i32 numeric values. Map keys are emitted in sorted order
// so that encode(decode(payload)) reproduces payload byte for byte.

type encoder struct {
	buf []byte
}

func (e *encoder) u8(v uint8)   { e.buf = append(e.buf, v) }
func (e *encoder) u32(v uint32) { e.buf = binary.LittleEndian.AppendUint32(e.buf, v) }
func (e *encoder) i32(v int32)  { e.u32(uint32(v)) }
func (e *encoder) str(s string) {
	e.u32(uint32(len(s)))
	e.buf = append(e.buf, s...)
}

type decoder struct {
	data []byte
	off  int
	err  error
}

func (d *decoder) fail(format string, args ...any) {
	if d.err == nil {
		d.err = &DecodeError{Offset: d.off, Msg: fmt.Sprintf(format, args...)}
	}
}

func (d *decoder) remaining() int {
	return len(d.data) - d.off
}

func (d *decoder) u8() uint8 {
	if d.err != nil {
		return 0
	}
	if d.remaining() < 1 {
		d.fail("short read: need 1 byte")
		return 0
	}
	v := d.data[d.off]
	d.off++
	return v
}

func (d *decoder) u32() uint32 {
	if d.err != nil {
		return 0
	}
	if d.remaining() < 4 {
		d.fail("short read: need 4 bytes, have %d", d.remaining())
		return 0
	}
	v := binary.LittleEndian.Uint32(d.data[d.off:])
	d.off += 4
	return v
}

func (d *decoder) i32() int32 {
	return int32(d.u32())
}

func (d *decoder) str() string {
	n := d.u32()
	if d.err != nil {
		return ""
	}
	if uint32(d.remaining()) < n {
		d.fail("string length %d overflows remaining %d bytes", n, d.remaining())
		return ""
	}
	s := string(d.data[d.off : d.off+int(n)])
	d.off += int(n)
	return s
}

// count reads an i32 element count and bounds it by the remaining payload
// (each element takes at least one byte).
func (d *decoder) count() int {
	n := d.i32()
	if d.err != nil {
		return 0
	}
	if n < 0 || n > int32(d.remaining()) {
		d.fail("element count %d overflows remaining %d bytes", n, d.remaining())
		return 0
	}
	return int(n)
}

func (e *encoder) subsystems(subs []BeaconSubsystem) {
	e.i32(int32(len(subs)))
	for _, sub := range subs {
		e.str(sub.NQN)
		e.i32(int32(len(sub.Listeners)))
		for _, l := range sub.Listeners {
			e.str(l.AddressFamily)
			e.str(l.Address)
			e.str(l.ServiceID)
		}
		e.i32(int32(len(sub.Namespaces)))
		for _, ns := range sub.Namespaces {
			e.u32(uint32(ns.AnaGroup))
			e.str(ns.Nonce)
		}
	}
}

func (d *decoder) subsystems() []BeaconSubsystem {
	n := d.count()
	if d.err != nil || n == 0 {
		return nil
	}
	subs := make([]BeaconSubsystem, 0, n)
	for i := 0; i < n && d.err == nil; i++ {
		sub := BeaconSubsystem{NQN: d.str()}
		for j, nl := 0, d.count(); j < nl && d.err == nil; j++ {
			sub.Listeners = append(sub.Listeners, BeaconListener{
				AddressFamily: d.str(),
				Address:       d.str(),
				ServiceID:     d.str(),
			})
		}
		for j, nn := 0, d.count(); j < nn && d.err == nil; j++ {
			sub.Namespaces = append(sub.Namespaces, BeaconNamespace{
				AnaGroup: AnaGroupID(d.u32()),
				Nonce:    d.str(),
			})
		}
		subs = append(subs, sub)
	}
	return subs
}

func (e *encoder) nonceMap(nm NonceMap) {
	grps := make([]AnaGroupID, 0, len(nm))
	for grp := range nm {
		grps = append(grps, grp)
	}
	sort.Slice(grps, func(i, j int) bool { return grps[i] < grps[j] })
	e.i32(int32(len(grps)))
	for _, grp := range grps {
		e.u32(uint32(grp))
		e.u32(uint32(len(nm[grp])))
		for _, nonce := range nm[grp] {
			e.str(nonce)
		}
	}
}

func (d *decoder) nonceMap() NonceMap {
	n := d.count()
	if d.err != nil {
		return nil
	}
	nm := make(NonceMap, n)
	for i := 0; i < n && d.err == nil; i++ {
		grp := AnaGroupID(d.u32())
		vl := d.u32()
		if d.err == nil && uint32(d.remaining()) < vl {
			d.fail("nonce vector length %d overflows remaining %d bytes", vl, d.remaining())
			return nil
		}
		nonces := make([]string, 0, vl)
		for j := uint32(0); j < vl && d.err == nil; j++ {
			nonces = append(nonces, d.str())
		}
		nm[grp] = nonces
	}
	return nm
}

func (e *encoder) createdGateway(gw string, row *CreatedGateway) {
	e.str(gw)
	e.u32(uint32(row.OwnedAnaGroup))
	e.i32(int32(row.Availability))
	e.subsystems(row.Subsystems)
	e.nonceMap(row.NonceMap)
	for _, st := range row.State {
		e.i32(int32(st))
	}
	for _, peer := range row.FailoverPeer {
		e.str(peer)
	}
	for _, epoch := range row.BlocklistEpoch {
		e.u32(uint32(epoch))
	}
}

func (d *decoder) createdGateway() (string, *CreatedGateway) {
	gw := d.str()
	row := &CreatedGateway{
		OwnedAnaGroup: AnaGroupID(d.u32()),
		Availability:  Availability(d.i32()),
	}
	if d.err == nil && !row.Availability.valid() {
		d.fail("unknown availability %d", int32(row.Availability))
		return "", nil
	}
	row.Subsystems = d.subsystems()
	row.NonceMap = d.nonceMap()
	for i := range row.State {
		row.State[i] = CellState(d.i32())
		if d.err == nil && !row.State[i].valid() {
			d.fail("unknown cell state %d", int32(row.State[i]))
			return "", nil
		}
	}
	for i := range row.FailoverPeer {
		row.FailoverPeer[i] = d.str()
	}
	for i := range row.BlocklistEpoch {
		row.BlocklistEpoch[i] = Epoch(d.u32())
	}
	if d.err != nil {
		return "", nil
	}
	return gw, row
}

// Encode serializes the aggregate map (registry and timer table) into the
// consensus payload format.
func (m *Map) Encode() []byte {
	e := &encoder{}

	e.u32(uint32(len(m.created)))
	for _, key := range sortedGroupKeys(m.created) {
		group := m.created[key]
		e.str(key.Pool)
		e.str(key.Group)
		e.u32(uint32(len(group)))
		for _, gw := range sortedKeys(group) {
			e.createdGateway(gw, group[gw])
		}
	}

	e.u32(uint32(len(m.timers)))
	for _, key := range sortedGroupKeys(m.timers) {
		group := m.timers[key]
		e.str(key.Pool)
		e.str(key.Group)
		e.u32(uint32(len(group)))
		for _, gw := range sortedKeys(group) {
			e.str(gw)
			slab := group[gw]
			for _, cell := range slab {
				e.u32(cell.TicksElapsed)
				e.u8(cell.Deadline)
			}
		}
	}

	return e.buf
}

// Decode replaces the map's registry and timer table with the contents of
// an encoded payload. The fencing handle, TTL and logger are untouched.
func (m *Map) Decode(data []byte) error {
	d := &decoder{data: data}

	created := make(map[GroupKey]map[string]*CreatedGateway)
	nGroups := d.u32()
	for i := uint32(0); i < nGroups && d.err == nil; i++ {
		key := GroupKey{Pool: d.str(), Group: d.str()}
		nGws := d.u32()
		group := make(map[string]*CreatedGateway, nGws)
		for j := uint32(0); j < nGws && d.err == nil; j++ {
			gw, row := d.createdGateway()
			if d.err == nil {
				group[gw] = row
			}
		}
		if d.err == nil {
			created[key] = group
		}
	}

	timers := make(map[GroupKey]map[string]*timerSlab)
	nGroups = d.u32()
	for i := uint32(0); i < nGroups && d.err == nil; i++ {
		key := GroupKey{Pool: d.str(), Group: d.str()}
		nGws := d.u32()
		group := make(map[string]*timerSlab, nGws)
		for j := uint32(0); j < nGws && d.err == nil; j++ {
			gw := d.str()
			slab := &timerSlab{}
			for k := range slab {
				slab[k].TicksElapsed = d.u32()
				slab[k].Deadline = d.u8()
			}
			if d.err == nil {
				group[gw] = slab
			}
		}
		if d.err == nil {
			timers[key] = group
		}
	}

	if d.err == nil && d.remaining() != 0 {
		d.fail("%d trailing bytes", d.remaining())
	}
	if d.err != nil {
		return d.err
	}

	m.created = created
	m.timers = timers
	return nil
}

// Encode serializes the beacon payload.
func (b *Beacon) Encode() []byte {
	e := &encoder{}
	e.str(b.GatewayID)
	e.str(b.Pool)
	e.str(b.Group)
	e.subsystems(b.Subsystems)
	e.nonceMap(b.NonceMap)
	e.i32(int32(b.Availability))
	e.u32(b.Version)
	return e.buf
}

// DecodeBeacon parses an encoded beacon payload.
func DecodeBeacon(data []byte) (*Beacon, error) {
	d := &decoder{data: data}
	b := &Beacon{
		GatewayID: d.str(),
		Pool:      d.str(),
		Group:     d.str(),
	}
	b.Subsystems = d.subsystems()
	b.NonceMap = d.nonceMap()
	b.Availability = Availability(d.i32())
	if d.err == nil && !b.Availability.valid() {
		d.fail("unknown availability %d", int32(b.Availability))
	}
	b.Version = d.u32()
	if d.err == nil && d.remaining() != 0 {
		d.fail("%d trailing bytes", d.remaining())
	}
	if d.err != nil {
		return nil, d.err
	}
	return b, nil
}
