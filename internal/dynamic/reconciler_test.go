// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dynamic

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/anonnet/infoserviced/internal/codec"
	"github.com/anonnet/infoserviced/internal/entrystore"
	"github.com/anonnet/infoserviced/internal/topology"
	"github.com/benbjohnson/clock"
)

// testHarness bundles a registry, reconciler, and parser sharing a mock
// clock.
type testHarness struct {
	registry *entrystore.Registry
	r        *Reconciler
	parser   *topology.Parser
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Unix(1700000000, 0))
	registry := entrystore.NewRegistry(mock)
	t.Cleanup(registry.Shutdown)
	return &testHarness{
		registry: registry,
		r:        New(registry, 0),
		parser:   topology.NewParser(&topology.Config{Now: mock.Now}),
	}
}

// mixNode returns an unsigned relay document.
func (h *testHarness) mixNode(id string, mixType topology.MixType, dynamic bool) *codec.Node {
	d := &topology.MixDescriptor{
		ID:         id,
		Type:       mixType,
		Dynamic:    dynamic,
		Software:   "00.10.000",
		LastUpdate: h.parser.Now().Add(-time.Minute),
	}
	return d.Node()
}

// cascade returns an unsigned cascade of the relays.
func (h *testHarness) cascade(t *testing.T, serial int64, ids ...string) *topology.Cascade {
	t.Helper()
	d := &topology.CascadeDescriptor{
		Listeners: []topology.ListenerInterface{{
			Protocol: topology.DefaultProtocol,
			Host:     "cascade.example.org",
			Port:     6544,
		}},
		LastUpdate: h.parser.Now().Add(-time.Minute),
		Serial:     serial,
	}
	for i, id := range ids {
		mixType := topology.MiddleMix
		switch {
		case i == 0:
			mixType = topology.FirstMix
		case i == len(ids)-1:
			mixType = topology.LastMix
		}
		d.Mixes = append(d.Mixes, h.mixNode(id, mixType, true))
	}
	c, err := h.parser.ParseCascade(d.Node())
	if err != nil {
		t.Fatalf("unable to parse cascade: %v", err)
	}
	return c
}

// mix stores a relay and returns it.
func (h *testHarness) mix(t *testing.T, id string, dynamic bool) *topology.Mix {
	t.Helper()
	m, err := h.parser.ParseMix(h.mixNode(id, topology.FirstMix, dynamic))
	if err != nil {
		t.Fatalf("unable to parse mix: %v", err)
	}
	if _, err := h.registry.Store(topology.KindMix).Update(m, false); err != nil {
		t.Fatalf("unable to store mix: %v", err)
	}
	return m
}

// TestNewerCascadeWins ensures an older announcement never replaces a newer
// one and a newer one is announced exactly once.
func TestNewerCascadeWins(t *testing.T) {
	h := newTestHarness(t)
	store := h.registry.Store(topology.KindCascade)

	var mtx sync.Mutex
	var changes []*entrystore.EntryChange
	unsubscribe := store.Subscribe(func(change *entrystore.EntryChange) {
		mtx.Lock()
		changes = append(changes, change)
		mtx.Unlock()
	})
	defer unsubscribe()

	a := h.cascade(t, 10, "m1", "m2")
	b := h.cascade(t, 5, "m1", "m2", "m3")
	c := h.cascade(t, 11, "m1", "m2", "m3")

	tests := []struct {
		name    string
		cascade *topology.Cascade
		changed bool
		stored  *topology.Cascade
	}{
		{"initial", a, true, a},
		{"older", b, false, a},
		{"newer", c, true, c},
	}

	t.Logf("Running %d tests", len(tests))
	for _, test := range tests {
		changed, err := h.r.AcceptCascade(test.cascade, false)
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", test.name, err)
		}
		if changed != test.changed {
			t.Fatalf("%q: mismatched changed flag\n got: %v want: %v",
				test.name, changed, test.changed)
		}
		got, ok := store.Get("m1")
		if !ok || got != test.stored {
			t.Fatalf("%q: unexpected stored cascade version %d", test.name,
				got.Version())
		}
	}

	mtx.Lock()
	defer mtx.Unlock()
	var renewed int
	for _, change := range changes {
		if change.Type == entrystore.EntryRenewed {
			renewed++
			if change.Entry != c || change.Prior != a {
				t.Fatalf("unexpected renewal of version %d",
					change.Entry.Version())
			}
		}
	}
	if renewed != 1 || len(changes) != 3 {
		t.Fatalf("unexpected changes: %d renewals of %d changes", renewed,
			len(changes))
	}
}

// TestAssignments ensures proposals are reported as new assignments until an
// announced cascade with the same members supersedes them.
func TestAssignments(t *testing.T) {
	h := newTestHarness(t)
	proposal := h.cascade(t, 1, "m1", "m2", "m3")
	if _, err := h.r.AcceptVirtual(topology.NewVirtualCascade(proposal)); err != nil {
		t.Fatalf("unable to store proposal: %v", err)
	}

	check := func(step string, want map[string]bool) {
		t.Helper()
		for mixID, wantNew := range want {
			if got := h.r.HasNewAssignment(mixID); got != wantNew {
				t.Fatalf("%s: mismatched assignment of %s\n got: %v want: %v",
					step, mixID, got, wantNew)
			}
		}
	}
	check("proposal only", map[string]bool{"m1": true, "m3": true, "m9": false})
	if got := h.r.TemporaryCascade("m2"); got != proposal {
		t.Fatal("proposal not found for member")
	}

	if _, err := h.r.AcceptCascade(h.cascade(t, 2, "m1", "m2"), false); err != nil {
		t.Fatalf("unable to store cascade: %v", err)
	}
	check("different members", map[string]bool{"m1": true, "m2": true, "m3": true})
	if h.registry.Store(topology.KindVirtualCascade).Len() != 1 {
		t.Fatal("proposal with different members removed")
	}

	if _, err := h.r.AcceptCascade(h.cascade(t, 3, "m1", "m2", "m3"), false); err != nil {
		t.Fatalf("unable to store cascade: %v", err)
	}
	check("same members", map[string]bool{"m1": false, "m2": false, "m3": false})
	if h.registry.Store(topology.KindVirtualCascade).Len() != 0 {
		t.Fatal("superseded proposal not removed")
	}
}

// TestReconcile ensures proposals superseded by cascades stored directly are
// removed by a reconciliation pass and by Run.
func TestReconcile(t *testing.T) {
	h := newTestHarness(t)
	cascades := h.registry.Store(topology.KindCascade)
	virtual := h.registry.Store(topology.KindVirtualCascade)

	h.r.AcceptVirtual(topology.NewVirtualCascade(h.cascade(t, 1, "a1", "a2")))
	h.r.AcceptVirtual(topology.NewVirtualCascade(h.cascade(t, 1, "b1", "b2")))
	cascades.Update(h.cascade(t, 2, "a1", "a2"), false)
	cascades.Update(h.cascade(t, 2, "b1", "b3"), false)
	if n := h.r.Reconcile(); n != 1 {
		t.Fatalf("mismatched removals: got %d, want 1", n)
	}
	if _, ok := virtual.Get("b1"); !ok || virtual.Len() != 1 {
		t.Fatal("unexpected remaining proposals")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.r.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	cascades.Update(h.cascade(t, 3, "b1", "b2"), false)
	deadline := time.Now().Add(5 * time.Second)
	for virtual.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for superseded proposal removal")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// TestListUnassignedDynamicMixes ensures only dynamic relays outside of
// running and multi member proposed cascades are listed.
func TestListUnassignedDynamicMixes(t *testing.T) {
	h := newTestHarness(t)
	free := h.mix(t, "d1", true)
	h.mix(t, "d2", true)
	single := h.mix(t, "d3", true)
	h.mix(t, "d4", false)
	h.mix(t, "d5", true)

	h.r.AcceptCascade(h.cascade(t, 1, "d2", "x1"), false)
	h.r.AcceptVirtual(topology.NewVirtualCascade(h.cascade(t, 1, "d3")))
	h.r.AcceptVirtual(topology.NewVirtualCascade(h.cascade(t, 1, "d5", "x2")))

	got := h.r.ListUnassignedDynamicMixes()
	want := []*topology.Mix{single, free}
	if len(got) != len(want) {
		t.Fatalf("mismatched unassigned mixes: got %d, want %d", len(got),
			len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("mismatched unassigned mix #%d\n got: %s want: %s", i,
				got[i].ID(), want[i].ID())
		}
	}
}
