// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package topology

// ErrorKind identifies a kind of error.  It has full support for errors.Is and
// errors.As, so the caller can directly check against an error kind when
// determining the reason for an error.
type ErrorKind string

const (
	// ErrMalformedDescriptor indicates a document that violates the
	// structural rules of its entry kind.
	ErrMalformedDescriptor = ErrorKind("ErrMalformedDescriptor")

	// ErrUnknownKind indicates a document whose root element or requested
	// kind has no registered parser.
	ErrUnknownKind = ErrorKind("ErrUnknownKind")

	// ErrVerificationFailure indicates a descriptor that must be signed did
	// not carry a verifiable signature.
	ErrVerificationFailure = ErrorKind("ErrVerificationFailure")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// RuleError identifies a descriptor that was rejected.  It has full support
// for errors.Is and errors.As, so the caller can ascertain the specific reason
// for the error by checking the underlying error.
type RuleError struct {
	Description string
	Err         error
}

// Error satisfies the error interface and prints human-readable errors.
func (e RuleError) Error() string {
	return e.Description
}

// Unwrap returns the underlying wrapped error.
func (e RuleError) Unwrap() error {
	return e.Err
}

// ruleError creates a RuleError given a set of arguments.
func ruleError(kind ErrorKind, desc string) RuleError {
	return RuleError{Err: kind, Description: desc}
}
