// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package entrystore

import (
	"time"

	"github.com/anonnet/infoserviced/internal/codec"
)

// Kind identifies the type of the entries held by a store, such as cascades or
// mixes.  Every store holds entries of exactly one kind.
type Kind string

// Forever is the expiration time of entries that never expire.  The reaper
// never arms a timer for such entries.
var Forever = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)

// Entry is an immutable record held by a store.
type Entry interface {
	// ID returns the identifier that is unique among entries of the same
	// kind.
	ID() string

	// Version returns the monotonically assigned version.  A strictly
	// greater version supersedes a lesser one.
	Version() int64

	// LastUpdate returns the time the publisher last refreshed the entry.
	LastUpdate() time.Time

	// ExpireTime returns the time after which the entry is discarded.
	ExpireTime() time.Time

	// Kind returns the kind of the entry.
	Kind() Kind
}

// Distributable is an Entry that can be posted to peer infoservices.
type Distributable interface {
	Entry

	// PostPath is the request path on peers the entry is posted to.
	PostPath() string

	// PostData is the serialized document that is posted.
	PostData() []byte

	// PostEncoding is the body encoding used when posting.
	PostEncoding() codec.Encoding
}

// Distributor accepts entries for asynchronous forwarding to peers.  Enqueue
// must never block on network I/O.
type Distributor interface {
	Enqueue(entry Distributable)
}

// neverExpires returns whether the entry carries the Forever expiration.
func neverExpires(e Entry) bool {
	return !e.ExpireTime().Before(Forever)
}
