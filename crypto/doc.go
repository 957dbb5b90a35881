// Package crypto holds the identity and key material of a quip profile.
//
// Envelopes are signed with nacl/sign; the 64-byte signature prefixes the
// message and the public key travels as 64 hex characters. Offline messages
// are sealed with nacl/box as nonce ‖ ciphertext. Profile data at rest is
// sealed with secretbox under a PBKDF2-derived key (Vault).
//
// Example:
//
//	id, err := crypto.NewIdentity(uid)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	signed := id.Sign(body)
//	msg, err := crypto.Open(signed, id.SigningPublicHex())
package crypto
