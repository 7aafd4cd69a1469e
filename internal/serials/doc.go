// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package serials implements the digests infoservices exchange to synchronize
their stores incrementally.

A digest maps every entry id of a store to a [Record] holding its version.  A
node fetches the digest of a peer, compares it with its own store with [Plan],
and then requests only the entries it lacks or holds in a different version.
Planning performs no I/O and does not touch the store.
*/
package serials
