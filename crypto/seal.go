package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

// NonceSize is the nonce length prefixed to sealed messages.
const NonceSize = 24

// ErrDecryptionFailed indicates a sealed message failed authentication
var ErrDecryptionFailed = errors.New("decryption failed")

// Seal encrypts message with nacl/box and returns nonce ‖ ciphertext.
func Seal(message []byte, peerPublic, privateKey *[32]byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return box.Seal(nonce[:], message, &nonce, peerPublic, privateKey), nil
}

// OpenSealed reverses Seal.
func OpenSealed(sealed []byte, peerPublic, privateKey *[32]byte) ([]byte, error) {
	if len(sealed) < NonceSize+box.Overhead {
		return nil, fmt.Errorf("%w: sealed message too short", ErrDecryptionFailed)
	}
	var nonce [NonceSize]byte
	copy(nonce[:], sealed[:NonceSize])
	out, ok := box.Open(nil, sealed[NonceSize:], &nonce, peerPublic, privateKey)
	if !ok {
		return nil, ErrDecryptionFailed
	}
	return out, nil
}
