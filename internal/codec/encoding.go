// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package codec

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

// Encoding identifies how a posted document body is encoded on the wire.
type Encoding uint8

const (
	// EncodingPlain sends the document as is.
	EncodingPlain Encoding = iota

	// EncodingZlib sends the document zlib compressed.  It is announced with
	// the "deflate" content encoding which HTTP defines as zlib framing.
	EncodingZlib

	// EncodingGzip sends the document gzip compressed.
	EncodingGzip
)

// encodingStrings is a map of encodings back to their constant names for
// pretty printing.
var encodingStrings = map[Encoding]string{
	EncodingPlain: "plain",
	EncodingZlib:  "zlib",
	EncodingGzip:  "gzip",
}

// String returns the Encoding in human-readable form.
func (e Encoding) String() string {
	if s, ok := encodingStrings[e]; ok {
		return s
	}
	return fmt.Sprintf("Unknown Encoding (%d)", uint8(e))
}

// ContentEncoding returns the HTTP Content-Encoding header value for the
// encoding.  The plain encoding has no header value.
func (e Encoding) ContentEncoding() string {
	switch e {
	case EncodingZlib:
		return "deflate"
	case EncodingGzip:
		return "gzip"
	}
	return ""
}

// ParseContentEncoding maps an HTTP Content-Encoding header value to an
// Encoding.
func ParseContentEncoding(header string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(header)) {
	case "", "identity":
		return EncodingPlain, nil
	case "deflate", "zlib":
		return EncodingZlib, nil
	case "gzip", "x-gzip":
		return EncodingGzip, nil
	}
	str := fmt.Sprintf("unsupported content encoding %q", header)
	return EncodingPlain, makeError(ErrUnsupportedEncoding, str)
}

// Encode returns the document encoded per the encoding.
func Encode(enc Encoding, doc []byte) ([]byte, error) {
	var buf bytes.Buffer
	var w io.WriteCloser
	switch enc {
	case EncodingPlain:
		return doc, nil
	case EncodingZlib:
		w = zlib.NewWriter(&buf)
	case EncodingGzip:
		w = gzip.NewWriter(&buf)
	default:
		str := fmt.Sprintf("unsupported encoding %v", enc)
		return nil, makeError(ErrUnsupportedEncoding, str)
	}
	if _, err := w.Write(doc); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads an encoded document from r.  At most limit decoded bytes are
// accepted.
func Decode(enc Encoding, r io.Reader, limit int64) ([]byte, error) {
	var src io.Reader
	switch enc {
	case EncodingPlain:
		src = r
	case EncodingZlib:
		zr, err := zlib.NewReader(r)
		if err != nil {
			str := fmt.Sprintf("malformed zlib stream: %v", err)
			return nil, makeError(ErrMalformedDocument, str)
		}
		defer zr.Close()
		src = zr
	case EncodingGzip:
		gr, err := gzip.NewReader(r)
		if err != nil {
			str := fmt.Sprintf("malformed gzip stream: %v", err)
			return nil, makeError(ErrMalformedDocument, str)
		}
		defer gr.Close()
		src = gr
	default:
		str := fmt.Sprintf("unsupported encoding %v", enc)
		return nil, makeError(ErrUnsupportedEncoding, str)
	}

	doc, err := io.ReadAll(io.LimitReader(src, limit+1))
	if err != nil {
		str := fmt.Sprintf("unable to read %v document: %v", enc, err)
		return nil, makeError(ErrMalformedDocument, str)
	}
	if int64(len(doc)) > limit {
		str := fmt.Sprintf("document exceeds %d bytes", limit)
		return nil, makeError(ErrDocumentTooLarge, str)
	}
	return doc, nil
}
