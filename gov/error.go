// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gov

import "fmt"

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific Error.
const (
	// ErrMalformed indicates that an on-chain governance payload could not
	// be parsed.  Malformed payloads in confirmed blocks are skipped, so
	// this code only surfaces from the explicit parsing entry points.
	ErrMalformed ErrorCode = iota

	// ErrInvalidProposal indicates that a proposal violates one of the
	// stateless validity rules (name, superblock, amount, address, or
	// serialized size).
	ErrInvalidProposal

	// ErrInvalidVote indicates that a vote violates one of the stateless
	// validity rules (signature recovery, key id agreement, utxo amount,
	// or vin hash membership).
	ErrInvalidVote

	// ErrChainIO indicates that a block or transaction output could not be
	// read from the chain while loading governance data.  The Err field
	// of the Error will be set to the underlying failure when one exists.
	ErrChainIO

	// ErrLoadCancelled indicates the governance load was interrupted by a
	// shutdown request.  The state store must not be used; rerun the load
	// at next start.
	ErrLoadCancelled

	// ErrInvalidSuperblock indicates that a block failed superblock
	// validation, because its height is not a superblock, because it is
	// not a proof of stake block, or because its coinstake does not pay
	// the expected payee set.
	ErrInvalidSuperblock
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrMalformed:         "ErrMalformed",
	ErrInvalidProposal:   "ErrInvalidProposal",
	ErrInvalidVote:       "ErrInvalidVote",
	ErrChainIO:           "ErrChainIO",
	ErrLoadCancelled:     "ErrLoadCancelled",
	ErrInvalidSuperblock: "ErrInvalidSuperblock",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Error provides a single type for errors that can happen during governance
// operation.
type Error struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
	Err         error     // Underlying error
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

// Unwrap returns the underlying error, if any.
func (e Error) Unwrap() error {
	return e.Err
}

// govError creates an Error given a set of arguments.
func govError(c ErrorCode, desc string, err error) Error {
	return Error{ErrorCode: c, Description: desc, Err: err}
}

// IsErrorCode returns whether or not the provided error is a governance error
// with the given error code.
func IsErrorCode(err error, code ErrorCode) bool {
	e, ok := err.(Error)
	return ok && e.ErrorCode == code
}
