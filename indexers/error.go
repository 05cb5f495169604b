// Copyright (c) 2016-2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package indexers

import (
	"errors"
	"fmt"
)

// AssertError identifies an error that indicates an internal code consistency
// issue and should be treated as a critical and unrecoverable error.  It is
// returned when a caller breaks the ordering contract of the index, such as
// disconnecting a block which is not the current tip.
type AssertError string

// Error returns the assertion error as a human-readable string and satisfies
// the error interface.
func (e AssertError) Error() string {
	return "assertion failed: " + string(e)
}

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific Error.
const (
	// ErrCorruption indicates a checksum failure or an entry which could
	// not be deserialized.
	ErrCorruption ErrorCode = iota

	// ErrStorage indicates the underlying storage engine failed to read
	// or write.
	ErrStorage

	// ErrIndexMissing indicates an operation required an index tip which
	// has not been created.
	ErrIndexMissing

	// ErrBadBlockLink indicates a sequence of blocks supplied for a
	// reorganization does not form a chain.
	ErrBadBlockLink

	// ErrInterrupted indicates the operation was stopped by an interrupt
	// request before it could finish.
	ErrInterrupted

	// numErrorCodes is the maximum error code number used in tests.
	numErrorCodes
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrCorruption:   "ErrCorruption",
	ErrStorage:      "ErrStorage",
	ErrIndexMissing: "ErrIndexMissing",
	ErrBadBlockLink: "ErrBadBlockLink",
	ErrInterrupted:  "ErrInterrupted",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Error provides a single type for errors that can happen while reading or
// writing the index.  The caller can use type assertions or errors.As to
// determine the kind of error and access the underlying cause.
type Error struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
	Err         error     // Underlying error, may be nil
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

// Unwrap returns the underlying error.
func (e Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an Error with the same code, so callers can
// match with errors.Is(err, Error{ErrorCode: ErrCorruption}).
func (e Error) Is(target error) bool {
	var t Error
	if !errors.As(target, &t) {
		return false
	}
	return t.ErrorCode == e.ErrorCode
}

func indexError(c ErrorCode, desc string, err error) Error {
	return Error{ErrorCode: c, Description: desc, Err: err}
}

// IsErrorCode returns whether err is an Error with the given code.
func IsErrorCode(err error, c ErrorCode) bool {
	var e Error
	return errors.As(err, &e) && e.ErrorCode == c
}

// errInterruptRequested indicates that an operation was cancelled due to a
// user-requested interrupt.
var errInterruptRequested = indexError(ErrInterrupted, "interrupt requested",
	nil)

// interruptRequested returns true when the provided channel has been closed.
// This simplifies early shutdown slightly since the caller can just use an
// if statement instead of a select.
func interruptRequested(interrupted <-chan struct{}) bool {
	select {
	case <-interrupted:
		return true
	default:
	}

	return false
}
