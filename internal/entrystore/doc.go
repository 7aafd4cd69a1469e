// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package entrystore implements the expiring versioned entry stores of an
infoservice.

A [Registry] holds one [Store] per entry [Kind].  Each store keeps at most one
live entry per id.  An update is accepted only when no entry with the same id
exists or the incoming version is strictly greater, so replicas that receive
the same updates in any order converge on the same content.

Entries carry an expiration time.  Every store runs a reaper goroutine that
sleeps until the earliest deadline and removes expired entries.  An accepted
update whose expiration already passed removes the existing entry instead of
replacing it.

Changes are announced to observers registered with [Store.Subscribe].  A new
observer first receives an InitialSnapshot and then every later change in the
order it was made.

Accepted entries that implement [Distributable] may be handed to the
registry's [Distributor] for forwarding to peer infoservices.
*/
package entrystore
