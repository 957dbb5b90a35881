// Package qerr defines the error taxonomy shared by every quip component.
//
// Sentinel errors classify a failure; Error attaches the operation and the
// peer it concerned. Callers test categories with errors.Is.
package qerr

import (
	"errors"
	"fmt"
)

// Session and account errors
var (
	// ErrNotLoggedIn indicates an operation requires an authenticated directory session
	ErrNotLoggedIn = errors.New("not logged in")

	// ErrLoginFailure indicates bad credentials or a session token mismatch
	ErrLoginFailure = errors.New("login failure")

	// ErrInvalidClientData indicates the caller passed malformed input
	ErrInvalidClientData = errors.New("invalid client data")
)

// Peer errors
var (
	// ErrConnectionFailure indicates a peer was unreachable after one retry
	ErrConnectionFailure = errors.New("connection failure")

	// ErrUnauthorised indicates a peer revoked our authorisation token
	ErrUnauthorised = errors.New("unauthorised")

	// ErrMissingFriend indicates the referenced friend is unknown locally
	ErrMissingFriend = errors.New("missing friend")

	// ErrMissingFriendAddress indicates no address is known for a friend
	ErrMissingFriendAddress = errors.New("missing friend address")

	// ErrFriendshipFailure indicates a friend handshake step failed
	ErrFriendshipFailure = errors.New("friendship failure")

	// ErrFileCorruption indicates a checksum mismatch or tampering was detected
	ErrFileCorruption = errors.New("file corruption")
)

// Wire categories. These map onto the 8-digit sentinels exchanged with peers.
var (
	// ErrInvalidCommand indicates an unknown command or a failed envelope check
	ErrInvalidCommand = errors.New("invalid command")

	// ErrInvalidData indicates a malformed body or a signature failure
	ErrInvalidData = errors.New("invalid data")

	// ErrTimeout indicates a peer did not send within the allowed time
	ErrTimeout = errors.New("timeout")

	// ErrNonexistent indicates a requested file no longer exists
	ErrNonexistent = errors.New("nonexistent")

	// ErrModifiedFile indicates a requested file changed since it was offered
	ErrModifiedFile = errors.New("modified file")
)

// Verification errors
var (
	// ErrSignature indicates a signature did not verify against the claimed key
	ErrSignature = errors.New("signature verification failed")

	// ErrIntegrity indicates a hash chain value did not match local state
	ErrIntegrity = errors.New("integrity failure")
)

// Error represents an error with additional context
type Error struct {
	Op   string // operation that caused the error
	Peer string // peer user id or address if relevant
	Err  error  // underlying error
}

func (e *Error) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("quip %s %s: %v", e.Op, e.Peer, e.Err)
	}
	return fmt.Sprintf("quip %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new Error
func New(op, peer string, err error) *Error {
	return &Error{
		Op:   op,
		Peer: peer,
		Err:  err,
	}
}

// Is reports whether err belongs to any of the given categories.
func Is(err error, categories ...error) bool {
	for _, c := range categories {
		if errors.Is(err, c) {
			return true
		}
	}
	return false
}
