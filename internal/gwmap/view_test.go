package gwmap

import "testing"

func TestExportedViewFlattensStates(t *testing.T) {
	m, _ := newTestMap()
	addAndBeacon(t, m, "GW1")
	addAndBeacon(t, m, "GW2")

	// Put GW2 through a failover wait to confirm transitional states are
	// not exported as optimized.
	m.ProcessDown("GW1", testKey)
	if st := m.Gateway(testKey, "GW2").State[0]; st != StateWaitFailover {
		t.Fatalf("setup: expected WaitFailoverPrepared, got %s", st)
	}

	view := m.ExportedGroup(testKey, 7)
	if len(view) != 2 {
		t.Fatalf("expected 2 gateways in view, got %d", len(view))
	}

	gw2 := view["GW2"]
	if gw2.OwnedAnaGroup != 1 || gw2.Version != 7 {
		t.Errorf("unexpected gateway header: %+v", gw2)
	}
	vec, ok := gw2.Subsystems["nqn.2016-06.io.spdk:cnode1"]
	if !ok {
		t.Fatalf("expected subsystem in view, got %v", gw2.Subsystems)
	}
	if vec[0] != ExportedInaccessible {
		t.Errorf("expected waiting cell exported inaccessible, got %s", vec[0])
	}
	if vec[1] != ExportedOptimized {
		t.Errorf("expected active cell exported optimized, got %s", vec[1])
	}
	for grp := 2; grp < MaxAnaGroups; grp++ {
		if vec[grp] != ExportedInaccessible {
			t.Errorf("cell %d: expected inaccessible, got %s", grp, vec[grp])
		}
	}

	// The failed gateway exports nothing optimized.
	for nqn, vec := range view["GW1"].Subsystems {
		for grp, st := range vec {
			if st != ExportedInaccessible {
				t.Errorf("GW1 %s cell %d: expected inaccessible, got %s", nqn, grp, st)
			}
		}
	}
}

func TestExportedViewUnknownGroup(t *testing.T) {
	m, _ := newTestMap()
	if view := m.ExportedGroup(GroupKey{Pool: "nope", Group: "nope"}, 0); view != nil {
		t.Errorf("expected nil view for unknown group, got %v", view)
	}
}

func TestExportedCoversAllGroups(t *testing.T) {
	m, _ := newTestMap()
	addAndBeacon(t, m, "GW1")
	otherKey := GroupKey{Pool: "pool2", Group: "grp9"}
	if err := m.AddGateway("GW1", otherKey); err != nil {
		t.Fatal(err)
	}

	exported := m.Exported(3)
	if len(exported) != 2 {
		t.Fatalf("expected 2 group scopes, got %d", len(exported))
	}
	if _, ok := exported[otherKey]; !ok {
		t.Errorf("missing scope %s in %v", otherKey, exported)
	}
}
