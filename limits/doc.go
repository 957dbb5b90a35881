// Package limits provides centralized size constants and validation functions
// for the quip peer protocol and the directory client.
//
// # Wire Limits
//
//   - CommandLength (8): every command code and category sentinel is eight
//     ASCII digits.
//   - MaxLineLength (128 KiB): bound for a newline-terminated body, which keeps
//     a misbehaving peer from exhausting memory with an endless line.
//   - MaxHandshakeBlock (1 KiB): bound for the length-prefixed friend handshake
//     key block.
//
// # Content Limits
//
//   - MaxFriendRequestMessage (110 bytes) for friend request text.
//   - MaxAvatarSize (128 KiB, exclusive) for avatar images.
//   - MaxDirectMessage (64 KiB) for direct messages.
//   - ProfileFieldLimits for directory profile fields.
//
// # Validation Functions
//
//	if err := limits.ValidateDirectMessage(msg); err != nil {
//	    // ErrMessageEmpty or ErrMessageTooLarge
//	}
//
// # Timing
//
// MessageSkew (10 minutes) is the accepted distance between a signed envelope's
// timestamp and the receiver's clock.
package limits
