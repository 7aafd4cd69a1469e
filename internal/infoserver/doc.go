// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package infoserver implements the HTTP command surface of an infoservice.

Relays and neighbour infoservices post descriptor documents, plain or
compressed per the Content-Encoding header, and clients fetch the stored
documents and per kind serial digests.  The server additionally probes the
reachability of relays on request, streams store changes over a websocket, and
exports prometheus metrics.

Commands

	POST /cascade                         gossiped cascade, must be verified
	POST /helo                            cascade posted by its first relay
	POST /dynacascade                     cascade proposed by a last relay
	POST /mix, /mixinfo                   relay descriptor
	POST /performance, /version, /tc      other distributable kinds
	POST /measurement                     measurement merged into an own sample
	POST /connectivity-request            probe the requesting relay
	GET  /<kind>-serials                  serial digest of a store
	GET  /cascades, /mixes                all stored documents
	GET  /cascade/<id>, /mix/<id>         a single document
	GET  /newcascadeinformationavailable/<mixid>
	GET  /reconfigure/<mixid>
	GET  /ws?kind=<kind>                  JSON change feed
	GET  /metrics                         prometheus metrics
*/
package infoserver
