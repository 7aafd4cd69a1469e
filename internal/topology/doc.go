// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package topology models the descriptors an infoservice stores: relays (mixes),
cascades of relays, cascade proposals of dynamic relays, performance samples,
software versions, and operator terms.

Descriptors are parsed from signed documents by a [Parser].  Structural
problems reject the document with ErrMalformedDescriptor.  Signature problems
do not; the entry is kept with a [CertStatus] that tells policy code whether
it was verified and whether its certificate path was valid at the time.

A cascade member that cannot be parsed leaves an unresolved slot instead of
failing the whole cascade.

The [Factory] maps document root elements to the parser of their kind.
*/
package topology
