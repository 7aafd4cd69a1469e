// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dynamic

import (
	"context"
	"time"

	"github.com/anonnet/infoserviced/internal/entrystore"
	"github.com/anonnet/infoserviced/internal/topology"
	"github.com/benbjohnson/clock"
)

// DefaultInterval is the default time between reconciliation passes.
const DefaultInterval = time.Minute

// Reconciler manages the virtual cascades of dynamic relays.
type Reconciler struct {
	cascades *entrystore.Store
	virtual  *entrystore.Store
	mixes    *entrystore.Store
	clock    clock.Clock
	interval time.Duration

	// wake is signaled when an authoritative cascade arrives.
	wake chan struct{}
}

// New returns a reconciler over the cascade, virtual cascade, and mix stores
// of the registry.  A zero interval selects DefaultInterval.
func New(registry *entrystore.Registry, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reconciler{
		cascades: registry.Store(topology.KindCascade),
		virtual:  registry.Store(topology.KindVirtualCascade),
		mixes:    registry.Store(topology.KindMix),
		clock:    registry.Clock(),
		interval: interval,
		wake:     make(chan struct{}, 1),
	}
}

// virtualCascades returns the proposed cascades ordered by id.
func (r *Reconciler) virtualCascades() []*topology.Cascade {
	snapshot := r.virtual.Snapshot()
	cascades := make([]*topology.Cascade, 0, len(snapshot))
	for _, e := range snapshot {
		if v, ok := e.(*topology.VirtualCascade); ok {
			cascades = append(cascades, v.Cascade())
		}
	}
	return cascades
}

// TemporaryCascade returns the proposed cascade the relay is a member of, or
// nil when there is none.
//
// This function is safe for concurrent access.
func (r *Reconciler) TemporaryCascade(mixID string) *topology.Cascade {
	for _, c := range r.virtualCascades() {
		if c.ContainsMix(mixID) {
			return c
		}
	}
	return nil
}

// CurrentCascade returns the announced cascade the relay is a member of, or
// nil when there is none.
//
// This function is safe for concurrent access.
func (r *Reconciler) CurrentCascade(mixID string) *topology.Cascade {
	for _, e := range r.cascades.Snapshot() {
		if c, ok := e.(*topology.Cascade); ok && c.ContainsMix(mixID) {
			return c
		}
	}
	return nil
}

// HasNewAssignment returns whether a cascade was proposed for the relay that
// differs from the cascade it currently runs in.  A relay without a current
// cascade has a new assignment whenever a proposal exists.
//
// This function is safe for concurrent access.
func (r *Reconciler) HasNewAssignment(mixID string) bool {
	proposed := r.TemporaryCascade(mixID)
	if proposed == nil {
		return false
	}
	current := r.CurrentCascade(mixID)
	return current == nil || !proposed.SameMixes(current)
}

// AcceptCascade stores an announced cascade.  A proposal with the same id and
// members is superseded by it and removed first.
//
// This function is safe for concurrent access.
func (r *Reconciler) AcceptCascade(c *topology.Cascade, distribute bool) (bool, error) {
	r.supersede(c)
	return r.cascades.Update(c, distribute)
}

// AcceptVirtual stores a cascade proposal.
//
// This function is safe for concurrent access.
func (r *Reconciler) AcceptVirtual(v *topology.VirtualCascade) (bool, error) {
	return r.virtual.Update(v, false)
}

// supersede removes the proposal with the id of the cascade when it has the
// same members.
func (r *Reconciler) supersede(c *topology.Cascade) bool {
	e, ok := r.virtual.Get(c.ID())
	if !ok {
		return false
	}
	v, ok := e.(*topology.VirtualCascade)
	if !ok || v.Cascade().MixIDString() != c.MixIDString() {
		return false
	}
	if !r.virtual.Remove(c.ID()) {
		return false
	}
	log.Debugf("Proposed cascade %s superseded by announced cascade", c.ID())
	return true
}

// ListUnassignedDynamicMixes returns the dynamic relays that are not part of
// a running cascade.  These are the relays proposed as single member
// cascades and the dynamic relays without any cascade.
//
// This function is safe for concurrent access.
func (r *Reconciler) ListUnassignedDynamicMixes() []*topology.Mix {
	var unassigned []*topology.Mix
	seen := make(map[string]struct{})
	add := func(m *topology.Mix) {
		if _, ok := seen[m.ID()]; ok {
			return
		}
		seen[m.ID()] = struct{}{}
		unassigned = append(unassigned, m)
	}

	proposed := r.virtualCascades()
	for _, c := range proposed {
		if c.NumMixes() != 1 {
			continue
		}
		if e, ok := r.mixes.Get(c.MixIDs()[0]); ok {
			if m, ok := e.(*topology.Mix); ok {
				add(m)
			}
		}
	}

	current := r.cascades.Snapshot()
	assigned := func(mixID string) bool {
		for _, c := range proposed {
			if c.ContainsMix(mixID) {
				return true
			}
		}
		for _, e := range current {
			if c, ok := e.(*topology.Cascade); ok && c.ContainsMix(mixID) {
				return true
			}
		}
		return false
	}
	for _, e := range r.mixes.Snapshot() {
		m, ok := e.(*topology.Mix)
		if !ok || !m.Dynamic() {
			continue
		}
		if !assigned(m.ID()) {
			add(m)
		}
	}
	return unassigned
}

// Reconcile removes every proposal that was superseded by an announced
// cascade and returns the number removed.
//
// This function is safe for concurrent access.
func (r *Reconciler) Reconcile() int {
	var removed int
	for _, e := range r.cascades.Snapshot() {
		if c, ok := e.(*topology.Cascade); ok && r.supersede(c) {
			removed++
		}
	}
	return removed
}

// Run reconciles periodically and whenever an announced cascade is added or
// renewed until the context is canceled.
//
// It must be run as a goroutine.
func (r *Reconciler) Run(ctx context.Context) {
	unsubscribe := r.cascades.Subscribe(func(change *entrystore.EntryChange) {
		switch change.Type {
		case entrystore.EntryAdded, entrystore.EntryRenewed,
			entrystore.InitialSnapshot:

			select {
			case r.wake <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	ticker := r.clock.Ticker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-r.wake:
		}
		if n := r.Reconcile(); n > 0 {
			log.Debugf("Removed %d superseded proposed cascades", n)
		}
	}
}
