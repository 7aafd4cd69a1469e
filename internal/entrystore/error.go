// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package entrystore

// ErrorKind identifies a kind of error.  It has full support for errors.Is and
// errors.As, so the caller can directly check against an error kind when
// determining the reason for an error.
type ErrorKind string

const (
	// ErrTypeMismatch indicates an entry was handed to a store that holds a
	// different kind of entries.
	ErrTypeMismatch = ErrorKind("ErrTypeMismatch")

	// ErrExpiredOnArrival indicates an otherwise newer entry was rejected
	// because its expiration time had already passed.
	ErrExpiredOnArrival = ErrorKind("ErrExpiredOnArrival")

	// ErrNilEntry indicates a nil entry was handed to a store.
	ErrNilEntry = ErrorKind("ErrNilEntry")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// RuleError identifies a rejected store update.  It has full support for
// errors.Is and errors.As, so the caller can ascertain the specific reason for
// the error by checking the underlying error.
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
