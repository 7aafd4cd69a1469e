// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package verifier

// ErrorKind identifies a kind of error.  It has full support for errors.Is and
// errors.As, so the caller can directly check against an error kind when
// determining the reason for an error.
type ErrorKind string

const (
	// ErrMalformedCertificate indicates a certificate element could not be
	// decoded.
	ErrMalformedCertificate = ErrorKind("ErrMalformedCertificate")

	// ErrBrokenPath indicates a certificate path whose certificates do not
	// chain to each other or to the signing key.
	ErrBrokenPath = ErrorKind("ErrBrokenPath")

	// ErrUntrustedRoot indicates a certificate path whose root is not one of
	// the trusted operator keys.
	ErrUntrustedRoot = ErrorKind("ErrUntrustedRoot")

	// ErrMalformedKey indicates a private key could not be decoded.
	ErrMalformedKey = ErrorKind("ErrMalformedKey")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// Error identifies a verification related error.  It has full support for
// errors.Is and errors.As, so the caller can ascertain the specific reason for
// the error by checking the underlying error.
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
