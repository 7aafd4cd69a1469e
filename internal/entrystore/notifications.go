// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package entrystore

import (
	"fmt"
)

// ChangeType represents the type of an entry change notification.
type ChangeType int

// Constants for the type of a change notification.
const (
	// EntryAdded indicates an entry with a previously unknown id was stored.
	// The Entry field holds the new entry.
	EntryAdded ChangeType = iota

	// EntryRenewed indicates a newer version replaced an existing entry.  The
	// Entry field holds the new entry and Prior the replaced one.
	EntryRenewed

	// EntryRemoved indicates an entry was removed, either explicitly, by
	// expiration, or because a newer version arrived already expired.  The
	// Entry field holds the removed entry.
	EntryRemoved

	// AllEntriesRemoved indicates the store was cleared.
	AllEntriesRemoved

	// InitialSnapshot is delivered exactly once to a new subscriber and holds
	// the store contents at the time of subscription in Snapshot.
	InitialSnapshot
)

// changeTypeStrings is a map of change types back to their constant names for
// pretty printing.
var changeTypeStrings = map[ChangeType]string{
	EntryAdded:        "EntryAdded",
	EntryRenewed:      "EntryRenewed",
	EntryRemoved:      "EntryRemoved",
	AllEntriesRemoved: "AllEntriesRemoved",
	InitialSnapshot:   "InitialSnapshot",
}

// String returns the ChangeType in human-readable form.
func (t ChangeType) String() string {
	if s, ok := changeTypeStrings[t]; ok {
		return s
	}
	return fmt.Sprintf("Unknown Change Type (%d)", int(t))
}

// EntryChange describes a change to a store.  Only the fields documented for
// the change type are set.
type EntryChange struct {
	Type     ChangeType
	Kind     Kind
	Entry    Entry
	Prior    Entry
	Snapshot []Entry
}

// Observer is the callback signature for store change notifications.
//
// Observers are invoked serially in the order the changes were made and must
// not modify the store that invoked them from within the callback.
type Observer func(*EntryChange)
