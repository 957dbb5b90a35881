package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// ErrInvalidBoxKey is returned for an unusable Curve25519 private key.
var ErrInvalidBoxKey = errors.New("invalid box private key")

// KeyPair is the Curve25519 pair used to seal relayed messages.
type KeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// GenerateKeyPair returns a fresh random pair.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("generate box keys: %w", err)
	}
	return KeyPair{Public: *pub, Private: *priv}, nil
}

// KeyPairFromPrivate recomputes the public half of a stored private key.
func KeyPairFromPrivate(priv [32]byte) (KeyPair, error) {
	if priv == ([32]byte{}) {
		return KeyPair{}, ErrInvalidBoxKey
	}
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, fmt.Errorf("%w: %w", ErrInvalidBoxKey, err)
	}
	kp := KeyPair{Private: priv}
	copy(kp.Public[:], pub)
	return kp, nil
}
