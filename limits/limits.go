// Package limits provides centralized protocol limits for the quip peer protocol.
// This ensures consistent validation across the codec, dispatcher and clients.
package limits

import (
	"errors"
	"fmt"
	"time"
)

const (
	// CommandLength is the length of every ASCII decimal command code on the wire.
	CommandLength = 8

	// UUIDLength is the length of a canonical textual UUID (user ids, masks, tokens).
	UUIDLength = 36

	// ChecksumLength is the length of a SHA-1 hex digest.
	ChecksumLength = 40

	// MaxFriendRequestMessage is the maximum friend request text in bytes.
	MaxFriendRequestMessage = 110

	// MaxAvatarSize is the exclusive upper bound for avatar images in bytes.
	MaxAvatarSize = 131072

	// MaxLineLength bounds a single newline-terminated read (base85 bodies included).
	MaxLineLength = 1 << 17

	// MaxDirectMessage is the largest plaintext accepted for a direct message.
	// The signed, base85-encoded envelope must still fit within MaxLineLength.
	MaxDirectMessage = 65536

	// MaxHandshakeBlock bounds the length-prefixed key block of the friend handshake.
	MaxHandshakeBlock = 1024

	// MaxFileNameLength matches typical filesystem limits.
	MaxFileNameLength = 255

	// MinPassphrase and MaxPassphrase bound local profile passphrases.
	MinPassphrase = 8
	MaxPassphrase = 32

	// MessageSkew is how far an envelope timestamp may drift from local time.
	MessageSkew = 600 * time.Second
)

// ProfileFieldLimits are the per-field maximum lengths for directory profiles.
var ProfileFieldLimits = map[string]int{
	"first":   16,
	"last":    32,
	"alias":   16,
	"comment": 128,
	"country": 64,
	"state":   64,
	"city":    64,
	"email":   255,
}

var (
	// ErrMessageEmpty indicates an empty message was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")

	// ErrUnknownProfileField indicates a profile field outside ProfileFieldLimits
	ErrUnknownProfileField = errors.New("unknown profile field")
)

// ValidateMessageSize validates a message against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), maxSize)
	}
	return nil
}

// ValidateDirectMessage validates a direct message against MaxDirectMessage.
func ValidateDirectMessage(message []byte) error {
	return ValidateMessageSize(message, MaxDirectMessage)
}

// ValidateFriendRequest validates friend request text. Empty text is allowed.
func ValidateFriendRequest(message []byte) error {
	if len(message) > MaxFriendRequestMessage {
		return fmt.Errorf("%w: request size %d exceeds limit %d", ErrMessageTooLarge, len(message), MaxFriendRequestMessage)
	}
	return nil
}

// ValidateAvatar checks an avatar size is below MaxAvatarSize.
func ValidateAvatar(size int) error {
	if size < 0 || size >= MaxAvatarSize {
		return fmt.Errorf("%w: avatar size %d must be below %d", ErrMessageTooLarge, size, MaxAvatarSize)
	}
	return nil
}

// ValidatePassphrase enforces the MinPassphrase..MaxPassphrase length window.
func ValidatePassphrase(phrase []byte) error {
	if len(phrase) < MinPassphrase || len(phrase) > MaxPassphrase {
		return fmt.Errorf("passphrase must be %d to %d characters, got %d", MinPassphrase, MaxPassphrase, len(phrase))
	}
	return nil
}

// ValidateProfileFields checks every field is known and within its limit.
func ValidateProfileFields(fields map[string]string) error {
	for name, value := range fields {
		max, ok := ProfileFieldLimits[name]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownProfileField, name)
		}
		if len(value) > max {
			return fmt.Errorf("%w: field %q size %d exceeds limit %d", ErrMessageTooLarge, name, len(value), max)
		}
	}
	return nil
}
