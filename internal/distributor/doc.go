// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package distributor forwards accepted entries to the neighbour infoservices
of a node.

Entry stores hand entries to [Distributor.Enqueue], which never blocks.
Pending entries are coalesced by kind and id so only the newest version of an
entry waits in the queue.  A single goroutine started by [Distributor.Run]
drains the queue and posts every entry to all peers concurrently.  Each peer
remembers the entries it was sent so an entry is not posted to the same peer
twice.
*/
package distributor
