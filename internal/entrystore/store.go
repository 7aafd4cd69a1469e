// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package entrystore

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// observerReg is a registered observer along with the handle used to remove
// it.
type observerReg struct {
	id uint64
	fn Observer
}

// Store is a thread-safe keyed collection of versioned entries of a single
// kind.  Entries are discarded by a background reaper once they expire and
// every change is announced to the subscribed observers in the order it was
// made.
type Store struct {
	kind     Kind
	clock    clock.Clock
	registry *Registry

	// ntfnMtx serializes mutations together with the delivery of their
	// notifications.  It is always acquired before mtx.  Observers run with
	// ntfnMtx held and mtx released, so they may read the store but must not
	// modify it.
	ntfnMtx sync.Mutex

	// mtx protects the fields below.
	mtx       sync.Mutex
	entries   map[string]Entry
	timeline  *timeline
	observers []observerReg
	nextObsID uint64

	reaperDead atomic.Bool

	// wake is signalled when a new earliest deadline is slotted so a
	// sleeping reaper recomputes its timer.
	wake chan struct{}
}

// newStore returns an empty store for the given kind.  The reaper is not
// started.
func newStore(kind Kind, clk clock.Clock, registry *Registry) *Store {
	return &Store{
		kind:     kind,
		clock:    clk,
		registry: registry,
		entries:  make(map[string]Entry),
		timeline: newTimeline(),
		wake:     make(chan struct{}, 1),
	}
}

// Kind returns the kind of entries held by the store.
func (s *Store) Kind() Kind {
	return s.kind
}

// Get returns the entry with the given id.
//
// This function is safe for concurrent access.
func (s *Store) Get(id string) (Entry, bool) {
	s.mtx.Lock()
	e, ok := s.entries[id]
	s.mtx.Unlock()
	return e, ok
}

// Len returns the number of live entries.
//
// This function is safe for concurrent access.
func (s *Store) Len() int {
	s.mtx.Lock()
	n := len(s.entries)
	s.mtx.Unlock()
	return n
}

// snapshotLocked returns the entries ordered by id.
//
// This function MUST be called with the store mutex held.
func (s *Store) snapshotLocked() []Entry {
	snapshot := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		snapshot = append(snapshot, e)
	}
	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].ID() < snapshot[j].ID()
	})
	return snapshot
}

// Snapshot returns a consistent copy of all live entries ordered by id.
//
// This function is safe for concurrent access.
func (s *Store) Snapshot() []Entry {
	s.mtx.Lock()
	snapshot := s.snapshotLocked()
	s.mtx.Unlock()
	return snapshot
}

// isNewer returns whether the incoming entry supersedes the current one.  A
// missing current entry is always superseded.  Equal versions favor the
// current entry.
func isNewer(incoming, current Entry) bool {
	if current == nil {
		return true
	}
	return incoming.Version() > current.Version()
}

// observersLocked returns a copy of the registered observers.
//
// This function MUST be called with the store mutex held.
func (s *Store) observersLocked() []Observer {
	if len(s.observers) == 0 {
		return nil
	}
	fns := make([]Observer, 0, len(s.observers))
	for _, reg := range s.observers {
		fns = append(fns, reg.fn)
	}
	return fns
}

// deliver invokes every observer for every change in order.
//
// This function MUST be called with the notification mutex held and the
// store mutex released.
func deliver(observers []Observer, changes []*EntryChange) {
	for _, change := range changes {
		for _, fn := range observers {
			fn(change)
		}
	}
}

// wakeReaper signals the reaper without blocking.
func (s *Store) wakeReaper() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Update merges the entry into the store.  The entry is accepted when no
// entry with the same id exists or its version is strictly greater than the
// version of the existing one.  An accepted entry that is already expired is
// not stored; instead any existing entry with the same id is removed and an
// error with the ErrExpiredOnArrival kind is returned.
//
// The returned flag reports whether the store changed.  When distribute is set
// and the accepted entry is Distributable, it is handed to the registry's
// distributor after all locks are released.
//
// This function is safe for concurrent access.
func (s *Store) Update(entry Entry, distribute bool) (bool, error) {
	if entry == nil {
		return false, ruleError(ErrNilEntry, "nil entry")
	}
	if entry.Kind() != s.kind {
		str := fmt.Sprintf("entry %s of kind %q offered to store of kind %q",
			entry.ID(), entry.Kind(), s.kind)
		log.Criticalf("Rejecting update: %s", str)
		return false, ruleError(ErrTypeMismatch, str)
	}

	id := entry.ID()
	s.ntfnMtx.Lock()
	s.mtx.Lock()
	current := s.entries[id]
	if !isNewer(entry, current) {
		s.mtx.Unlock()
		s.ntfnMtx.Unlock()
		log.Tracef("Ignoring %s %s version %d (have %d)", s.kind, id,
			entry.Version(), current.Version())
		return false, nil
	}

	now := s.clock.Now()
	if !entry.ExpireTime().After(now) {
		var changes []*EntryChange
		if current != nil {
			delete(s.entries, id)
			s.timeline.remove(id)
			changes = append(changes, &EntryChange{
				Type:  EntryRemoved,
				Kind:  s.kind,
				Entry: current,
			})
		}
		observers := s.observersLocked()
		s.mtx.Unlock()
		deliver(observers, changes)
		s.ntfnMtx.Unlock()

		str := fmt.Sprintf("%s %s version %d expired at %v", s.kind, id,
			entry.Version(), entry.ExpireTime())
		log.Debugf("Rejecting update: %s", str)
		return current != nil, ruleError(ErrExpiredOnArrival, str)
	}

	s.entries[id] = entry
	var earliest bool
	if neverExpires(entry) {
		s.timeline.remove(id)
	} else {
		earliest = s.timeline.set(id, entry.ExpireTime())
	}
	change := &EntryChange{Type: EntryAdded, Kind: s.kind, Entry: entry}
	if current != nil {
		change.Type = EntryRenewed
		change.Prior = current
	}
	observers := s.observersLocked()
	s.mtx.Unlock()
	deliver(observers, []*EntryChange{change})
	s.ntfnMtx.Unlock()

	if earliest {
		s.wakeReaper()
	}
	if distribute {
		s.distribute(entry)
	}
	return true, nil
}

// distribute hands the entry to the registry's distributor.  A missing
// distributor is logged and the entry is dropped.
func (s *Store) distribute(entry Entry) {
	d, ok := entry.(Distributable)
	if !ok {
		log.Debugf("Not distributing %s %s: kind is not distributable",
			s.kind, entry.ID())
		return
	}
	var distributor Distributor
	if s.registry != nil {
		distributor = s.registry.currentDistributor()
	}
	if distributor == nil {
		log.Warnf("No distributor available: %s %s version %d not "+
			"forwarded", s.kind, entry.ID(), entry.Version())
		return
	}
	distributor.Enqueue(d)
}

// Remove deletes the entry with the given id and returns whether it existed.
//
// This function is safe for concurrent access.
func (s *Store) Remove(id string) bool {
	s.ntfnMtx.Lock()
	s.mtx.Lock()
	current, ok := s.entries[id]
	if !ok {
		s.mtx.Unlock()
		s.ntfnMtx.Unlock()
		return false
	}
	delete(s.entries, id)
	s.timeline.remove(id)
	observers := s.observersLocked()
	s.mtx.Unlock()
	deliver(observers, []*EntryChange{{
		Type:  EntryRemoved,
		Kind:  s.kind,
		Entry: current,
	}})
	s.ntfnMtx.Unlock()
	return true
}

// RemoveAll deletes every entry.
//
// This function is safe for concurrent access.
func (s *Store) RemoveAll() {
	s.ntfnMtx.Lock()
	s.mtx.Lock()
	s.entries = make(map[string]Entry)
	s.timeline.reset()
	observers := s.observersLocked()
	s.mtx.Unlock()
	deliver(observers, []*EntryChange{{
		Type: AllEntriesRemoved,
		Kind: s.kind,
	}})
	s.ntfnMtx.Unlock()
}

// Subscribe registers the observer.  The observer first receives an
// InitialSnapshot holding the entries at the time of the call and afterwards
// every change in order, so it never misses nor duplicates a change.  The
// returned function unregisters the observer.
//
// This function is safe for concurrent access.
func (s *Store) Subscribe(fn Observer) func() {
	s.ntfnMtx.Lock()
	s.mtx.Lock()
	id := s.nextObsID
	s.nextObsID++
	s.observers = append(s.observers, observerReg{id: id, fn: fn})
	snapshot := s.snapshotLocked()
	s.mtx.Unlock()
	fn(&EntryChange{Type: InitialSnapshot, Kind: s.kind, Snapshot: snapshot})
	s.ntfnMtx.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mtx.Lock()
			for i, reg := range s.observers {
				if reg.id == id {
					s.observers = append(s.observers[:i], s.observers[i+1:]...)
					break
				}
			}
			s.mtx.Unlock()
		})
	}
}

// reap removes every entry that expired at or before the current time and
// returns the next deadline, if any.
func (s *Store) reap() (time.Time, bool) {
	s.ntfnMtx.Lock()
	s.mtx.Lock()
	now := s.clock.Now()
	var changes []*EntryChange
	for _, id := range s.timeline.popExpired(now) {
		e, ok := s.entries[id]
		if !ok {
			continue
		}
		delete(s.entries, id)
		changes = append(changes, &EntryChange{
			Type:  EntryRemoved,
			Kind:  s.kind,
			Entry: e,
		})
	}
	next, ok := s.timeline.next()
	observers := s.observersLocked()
	s.mtx.Unlock()
	deliver(observers, changes)
	s.ntfnMtx.Unlock()

	if len(changes) > 0 {
		log.Debugf("Expired %d %s %s", len(changes), s.kind,
			pickNoun(len(changes), "entry", "entries"))
	}
	return next, ok
}

// reaper removes expired entries until the quit channel is closed.  It sleeps
// until the earliest deadline, or indefinitely when no entry expires, and
// wakes early when a new earliest deadline is slotted.
//
// It MUST be run as a goroutine.
func (s *Store) reaper(quit <-chan struct{}, done func()) {
	defer done()
	defer func() {
		s.reaperDead.Store(true)
		if r := recover(); r != nil {
			log.Criticalf("Reaper for %s store terminated: %v", s.kind, r)
		}
	}()

	for {
		next, ok := s.reap()
		var timer *clock.Timer
		var expired <-chan time.Time
		if ok {
			d := next.Sub(s.clock.Now())
			if d <= 0 {
				continue
			}
			timer = s.clock.Timer(d)
			expired = timer.C
		}

		select {
		case <-expired:
		case <-s.wake:
		case <-quit:
			if timer != nil {
				timer.Stop()
			}
			return
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// ReaperRunning returns whether expired entries are still being discarded.
// It is false once the registry shut down, for stores created after that, and
// for stores whose reaper terminated abnormally.
func (s *Store) ReaperRunning() bool {
	return !s.reaperDead.Load()
}
