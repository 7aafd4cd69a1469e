// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package codec

// ErrorKind identifies a kind of error.  It has full support for errors.Is and
// errors.As, so the caller can directly check against an error kind when
// determining the reason for an error.
type ErrorKind string

const (
	// ErrMalformedDocument indicates a document could not be parsed as a
	// well-formed XML element tree.
	ErrMalformedDocument = ErrorKind("ErrMalformedDocument")

	// ErrUnsupportedEncoding indicates a content encoding that is neither
	// plain, zlib, nor gzip.
	ErrUnsupportedEncoding = ErrorKind("ErrUnsupportedEncoding")

	// ErrDocumentTooLarge indicates a decoded document exceeds the size limit
	// requested by the caller.
	ErrDocumentTooLarge = ErrorKind("ErrDocumentTooLarge")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// Error identifies an error related to document decoding.  It has full support
// for errors.Is and errors.As, so the caller can ascertain the specific reason
// for the error by checking the underlying error.
type Error struct {
	Description string
	Err         error
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	return e.Description
}

// Unwrap returns the underlying wrapped error.
func (e Error) Unwrap() error {
	return e.Err
}

// makeError creates an Error given a set of arguments.
func makeError(kind ErrorKind, desc string) Error {
	return Error{Err: kind, Description: desc}
}
