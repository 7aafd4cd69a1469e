// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package entrystore

import (
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
)

// Registry owns one Store per entry kind along with the reapers that expire
// their entries.  Stores are created lazily on first request.
type Registry struct {
	clock clock.Clock

	mtx         sync.Mutex
	stores      map[Kind]*Store
	distributor Distributor
	shutdown    bool
	quit        chan struct{}
	wg          sync.WaitGroup
}

// NewRegistry returns an empty registry whose stores use the provided clock to
// determine expiration.  A nil clock selects the wall clock.
func NewRegistry(clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	return &Registry{
		clock:  clk,
		stores: make(map[Kind]*Store),
		quit:   make(chan struct{}),
	}
}

// Clock returns the clock the stores use.
func (r *Registry) Clock() clock.Clock {
	return r.clock
}

// Store returns the store for the given kind, creating it and starting its
// reaper when it does not exist yet.
//
// Once the registry is shut down, requests for unknown kinds return a detached
// store that is neither registered nor reaped.
//
// This function is safe for concurrent access.
func (r *Registry) Store(kind Kind) *Store {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if s, ok := r.stores[kind]; ok {
		return s
	}
	s := newStore(kind, r.clock, r)
	if r.shutdown {
		log.Warnf("Registry is shut down: returning detached %s store", kind)
		s.reaperDead.Store(true)
		return s
	}
	r.stores[kind] = s
	r.wg.Add(1)
	go s.reaper(r.quit, r.wg.Done)
	log.Debugf("Created %s store", kind)
	return s
}

// Lookup returns the store for the given kind without creating it.
//
// This function is safe for concurrent access.
func (r *Registry) Lookup(kind Kind) (*Store, bool) {
	r.mtx.Lock()
	s, ok := r.stores[kind]
	r.mtx.Unlock()
	return s, ok
}

// Kinds returns the kinds of all registered stores in ascending order.
//
// This function is safe for concurrent access.
func (r *Registry) Kinds() []Kind {
	r.mtx.Lock()
	kinds := make([]Kind, 0, len(r.stores))
	for kind := range r.stores {
		kinds = append(kinds, kind)
	}
	r.mtx.Unlock()
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// SetDistributor installs the distributor accepted entries are forwarded to,
// replacing any previous one.  Passing nil disables distribution.
//
// This function is safe for concurrent access.
func (r *Registry) SetDistributor(d Distributor) {
	r.mtx.Lock()
	r.distributor = d
	r.mtx.Unlock()
}

// currentDistributor returns the active distributor, if any.
func (r *Registry) currentDistributor() Distributor {
	r.mtx.Lock()
	d := r.distributor
	r.mtx.Unlock()
	return d
}

// Shutdown stops every reaper and blocks until they exited.  It may be called
// more than once.
//
// This function is safe for concurrent access.
func (r *Registry) Shutdown() {
	r.mtx.Lock()
	if !r.shutdown {
		r.shutdown = true
		close(r.quit)
	}
	r.mtx.Unlock()
	r.wg.Wait()
}
