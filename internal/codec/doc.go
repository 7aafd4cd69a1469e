// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package codec provides the document primitives shared by every infoservice
entry kind.

Descriptors travel between relays and infoservices as XML documents.  This
package parses them into a generic element tree ([Node]) so that callers can
walk them element by element, serializes trees canonically so that the same
bytes are produced regardless of the whitespace a peer used, and implements
the plain, zlib, and gzip body encodings used when posting documents.
*/
package codec
