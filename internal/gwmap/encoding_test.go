package gwmap

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

// populatedMap builds a map with three gateways, nonces, subsystems, mixed
// states and an armed timer, mirroring the shapes the codec must preserve.
func populatedMap(t *testing.T) *Map {
	t.Helper()
	m, _ := newTestMap()
	addAndBeacon(t, m, "GW1")
	addAndBeacon(t, m, "GW2")
	addAndBeacon(t, m, "GW3")

	otherKey := GroupKey{Pool: "pool2", Group: "grp2"}
	if err := m.AddGateway("GW1", otherKey); err != nil {
		t.Fatal(err)
	}

	// Leave GW2 mid-failover so wait states, peers, epochs and an armed
	// timer all appear in the payload.
	m.ProcessDown("GW1", testKey)
	if st := m.Gateway(testKey, "GW2").State[0]; st != StateWaitFailover {
		t.Fatalf("setup: expected WaitFailoverPrepared, got %s", st)
	}
	return m
}

func TestMapEncodeDecodeRoundTrip(t *testing.T) {
	m := populatedMap(t)
	payload := m.Encode()

	decoded, _ := newTestMap()
	if err := decoded.Decode(payload); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	// Re-encoding the decoded map must reproduce the payload byte for byte.
	if !bytes.Equal(payload, decoded.Encode()) {
		t.Fatal("re-encoded payload differs from original")
	}

	row := decoded.Gateway(testKey, "GW2")
	if row == nil {
		t.Fatal("expected GW2 in decoded map")
	}
	if row.State[0] != StateWaitFailover || row.FailoverPeer[0] != "GW1" {
		t.Errorf("decoded cell mismatch: state=%s peer=%q", row.State[0], row.FailoverPeer[0])
	}
	if row.BlocklistEpoch[1] != MaxEpoch {
		t.Errorf("expected unfenced sentinel preserved, got %d", row.BlocklistEpoch[1])
	}
	slab := decoded.timerSlab(testKey, "GW2")
	if slab == nil || !slab[0].Armed() || slab[0].Deadline != failoverDeadline {
		t.Error("expected armed timer preserved through codec")
	}
}

func TestEmptyMapRoundTrip(t *testing.T) {
	m, _ := newTestMap()
	payload := m.Encode()

	decoded, _ := newTestMap()
	if err := decoded.Decode(payload); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(payload, decoded.Encode()) {
		t.Fatal("empty payload not stable")
	}
}

func TestDecodeShortRead(t *testing.T) {
	m := populatedMap(t)
	payload := m.Encode()

	decoded, _ := newTestMap()
	err := decoded.Decode(payload[:len(payload)/2])
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
}

func TestDecodeTrailingGarbage(t *testing.T) {
	m := populatedMap(t)
	payload := append(m.Encode(), 0xde, 0xad)

	decoded, _ := newTestMap()
	var de *DecodeError
	if err := decoded.Decode(payload); !errors.As(err, &de) {
		t.Fatalf("expected DecodeError on trailing bytes, got %v", err)
	}
}

func TestDecodeUnknownEnum(t *testing.T) {
	m, _ := newTestMap()
	if err := m.AddGateway("GW1", testKey); err != nil {
		t.Fatal(err)
	}
	payload := m.Encode()

	// The availability enum sits right after the group header, the gateway
	// id and the owned group id.
	off := 4 + // group count
		(4 + len(testKey.Pool)) + (4 + len(testKey.Group)) + 4 + // group header
		(4 + len("GW1")) + 4 // gw id + owned id
	binary.LittleEndian.PutUint32(payload[off:], 0x7FFFFFFF)

	decoded, _ := newTestMap()
	var de *DecodeError
	if err := decoded.Decode(payload); !errors.As(err, &de) {
		t.Fatalf("expected DecodeError on unknown enum, got %v", err)
	}
}

func TestDecodeLengthOverflow(t *testing.T) {
	m, _ := newTestMap()
	if err := m.AddGateway("GW1", testKey); err != nil {
		t.Fatal(err)
	}
	payload := m.Encode()

	// Corrupt the pool-name length to claim more bytes than exist.
	binary.LittleEndian.PutUint32(payload[4:], 0xFFFFFF00)

	decoded, _ := newTestMap()
	var de *DecodeError
	if err := decoded.Decode(payload); !errors.As(err, &de) {
		t.Fatalf("expected DecodeError on length overflow, got %v", err)
	}
}

func TestDecodeDoesNotClobberOnError(t *testing.T) {
	m := populatedMap(t)
	decoded, _ := newTestMap()
	if err := decoded.Decode(m.Encode()); err != nil {
		t.Fatal(err)
	}

	before := decoded.Encode()
	if err := decoded.Decode(before[:8]); err == nil {
		t.Fatal("expected decode error")
	}
	if !bytes.Equal(before, decoded.Encode()) {
		t.Error("failed decode mutated the map")
	}
}

func TestBeaconRoundTrip(t *testing.T) {
	b := &Beacon{
		GatewayID: "GW1",
		Pool:      "pool1",
		Group:     "grp1",
		Subsystems: []BeaconSubsystem{
			{
				NQN: "nqn.2016-06.io.spdk:cnode1",
				Listeners: []BeaconListener{
					{AddressFamily: "IPv4", Address: "192.168.10.17", ServiceID: "4420"},
					{AddressFamily: "IPv6", Address: "fd00::17", ServiceID: "4420"},
				},
				Namespaces: []BeaconNamespace{
					{AnaGroup: 0, Nonce: "abc"},
					{AnaGroup: 1, Nonce: "def"},
				},
			},
			{NQN: "nqn.2016-06.io.spdk:cnode2"},
		},
		NonceMap: NonceMap{
			0: {"abc", "def", "hij"},
			2: {"klm"},
		},
		Availability: GwAvailable,
		Version:      3,
	}

	payload := b.Encode()
	decoded, err := DecodeBeacon(payload)
	if err != nil {
		t.Fatalf("DecodeBeacon failed: %v", err)
	}
	if !bytes.Equal(payload, decoded.Encode()) {
		t.Fatal("re-encoded beacon differs from original")
	}
	if decoded.GatewayID != "GW1" || decoded.Version != 3 {
		t.Errorf("decoded header mismatch: %+v", decoded)
	}
	if len(decoded.Subsystems) != 2 || len(decoded.Subsystems[0].Listeners) != 2 {
		t.Errorf("decoded subsystems mismatch: %+v", decoded.Subsystems)
	}
	if len(decoded.NonceMap[0]) != 3 {
		t.Errorf("decoded nonce map mismatch: %+v", decoded.NonceMap)
	}
}

func TestBeaconDecodeErrors(t *testing.T) {
	b := &Beacon{GatewayID: "GW1", Pool: "p", Group: "g", Availability: GwAvailable}
	payload := b.Encode()

	if _, err := DecodeBeacon(payload[:3]); err == nil {
		t.Error("expected error on truncated beacon")
	}
	var de *DecodeError
	if _, err := DecodeBeacon(append(payload, 1)); !errors.As(err, &de) {
		t.Errorf("expected DecodeError on trailing bytes, got %v", err)
	}
}
