package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/sign"

	"github.com/cbrunker/quip/qerr"
)

// SignatureSize is the length of the signature prefixed to signed messages.
const SignatureSize = sign.Overhead

// ErrInvalidPublicKey indicates a signing public key could not be decoded
var ErrInvalidPublicKey = errors.New("invalid signing public key")

// Identity is the local user's long-term key material: a signing key for
// envelopes and a box key pair for sealing offline messages.
type Identity struct {
	UID string

	seed     [32]byte
	signPub  [32]byte
	signPriv [64]byte
	box      KeyPair
}

// NewIdentity creates an identity with fresh signing and box keys.
func NewIdentity(uid string) (*Identity, error) {
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("generate signing seed: %w", err)
	}
	kp, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	id := LoadIdentity(uid, seed, kp.Private)
	ZeroBytes(seed[:])
	return id, nil
}

// LoadIdentity rebuilds an identity from a stored signing seed and box
// private key.
func LoadIdentity(uid string, seed, boxPrivate [32]byte) *Identity {
	log := logger("LoadIdentity").WithField("uid", uid)

	id := &Identity{UID: uid, seed: seed}
	priv := ed25519.NewKeyFromSeed(seed[:])
	copy(id.signPriv[:], priv)
	copy(id.signPub[:], priv[32:])
	ZeroBytes(priv)

	id.box.Private = boxPrivate
	if kp, err := KeyPairFromPrivate(boxPrivate); err == nil {
		id.box.Public = kp.Public
	}

	log.WithFields(Fingerprint("sign_public", id.signPub[:])).Debug("Identity loaded")
	return id
}

// Seed returns the signing seed for storage.
func (id *Identity) Seed() [32]byte {
	return id.seed
}

// BoxPrivate returns the box private key for storage.
func (id *Identity) BoxPrivate() [32]byte {
	return id.box.Private
}

// BoxPublic returns the box public key sent to friends.
func (id *Identity) BoxPublic() [32]byte {
	return id.box.Public
}

// SigningPublicHex returns the signing public key as 64 hex characters.
func (id *Identity) SigningPublicHex() string {
	return hex.EncodeToString(id.signPub[:])
}

// Sign returns signature ‖ message.
func (id *Identity) Sign(message []byte) []byte {
	return sign.Sign(nil, message, &id.signPriv)
}

// Seal encrypts message for a friend's box public key.
func (id *Identity) Seal(message []byte, peerPublic [32]byte) ([]byte, error) {
	return Seal(message, &peerPublic, &id.box.Private)
}

// OpenFrom decrypts a message sealed by a friend.
func (id *Identity) OpenFrom(sealed []byte, peerPublic [32]byte) ([]byte, error) {
	return OpenSealed(sealed, &peerPublic, &id.box.Private)
}

// Wipe erases private key material.
func (id *Identity) Wipe() {
	ZeroBytes(id.seed[:])
	ZeroBytes(id.signPriv[:])
	ZeroBytes(id.box.Private[:])
}

// ParseSigningKey decodes a 64-character hex signing public key.
func ParseSigningKey(publicHex string) (*[32]byte, error) {
	raw, err := hex.DecodeString(publicHex)
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPublicKey, publicHex)
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}

// Open verifies signed against the hex signing key and returns the message.
func Open(signed []byte, publicHex string) ([]byte, error) {
	key, err := ParseSigningKey(publicHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", qerr.ErrSignature, err)
	}
	if len(signed) < SignatureSize {
		return nil, fmt.Errorf("%w: signed message too short", qerr.ErrSignature)
	}
	message, ok := sign.Open(nil, signed, key)
	if !ok {
		return nil, qerr.ErrSignature
	}
	return message, nil
}
