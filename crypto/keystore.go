package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// PBKDF2Iterations is the number of iterations for passphrase key derivation
	PBKDF2Iterations = 100000
	// VaultVersion is the current sealed file format version
	VaultVersion = 1
	// SaltSize is the size of the salt for PBKDF2
	SaltSize = 32
)

// ErrWrongPassphrase indicates sealed data failed to open with the derived key
var ErrWrongPassphrase = errors.New("wrong passphrase or corrupted data")

// Vault seals profile data at rest with a passphrase-derived secretbox key.
type Vault struct {
	key      [32]byte
	dataDir  string
	saltFile string
}

// NewVault derives the vault key for dataDir from passphrase. A salt file is
// created on first use.
func NewVault(dataDir string, passphrase []byte) (*Vault, error) {
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("passphrase cannot be empty")
	}

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	v := &Vault{dataDir: dataDir, saltFile: filepath.Join(dataDir, ".salt")}
	salt, err := readSalt(v.saltFile)
	if errors.Is(err, os.ErrNotExist) {
		salt, err = writeSalt(v.saltFile)
	}
	if err != nil {
		return nil, err
	}

	derived := pbkdf2.Key(passphrase, salt, PBKDF2Iterations, len(v.key), sha256.New)
	copy(v.key[:], derived)
	ZeroBytes(derived)
	return v, nil
}

func readSalt(path string) ([]byte, error) {
	salt, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("salt %s is %d bytes, want %d", path, len(salt), SaltSize)
	}
	return salt, nil
}

func writeSalt(path string) ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	if err := os.WriteFile(path, salt, 0o600); err != nil {
		return nil, fmt.Errorf("write salt: %w", err)
	}
	return salt, nil
}

// Seal encrypts plaintext. Format: [version:2][nonce:24][secretbox].
func (v *Vault) Seal(plaintext []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 2, 2+NonceSize+len(plaintext)+secretbox.Overhead)
	binary.BigEndian.PutUint16(out, VaultVersion)
	out = append(out, nonce[:]...)
	return secretbox.Seal(out, plaintext, &nonce, &v.key), nil
}

// Open decrypts data produced by Seal.
func (v *Vault) Open(data []byte) ([]byte, error) {
	if len(data) < 2+NonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("sealed data too short: %d bytes", len(data))
	}
	if version := binary.BigEndian.Uint16(data[:2]); version != VaultVersion {
		return nil, fmt.Errorf("unsupported vault version: %d (expected %d)", version, VaultVersion)
	}

	var nonce [NonceSize]byte
	copy(nonce[:], data[2:2+NonceSize])
	plaintext, ok := secretbox.Open(nil, data[2+NonceSize:], &nonce, &v.key)
	if !ok {
		return nil, ErrWrongPassphrase
	}
	return plaintext, nil
}

// WriteFile seals plaintext into dataDir/name with an atomic rename.
func (v *Vault) WriteFile(name string, plaintext []byte) error {
	sealed, err := v.Seal(plaintext)
	if err != nil {
		return err
	}

	final := filepath.Join(v.dataDir, name)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}

// ReadFile opens dataDir/name. A missing file returns an error wrapping
// os.ErrNotExist.
func (v *Vault) ReadFile(name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(v.dataDir, name))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return v.Open(data)
}

// RemoveFile overwrites dataDir/name with zeros and deletes it.
func (v *Vault) RemoveFile(name string) error {
	path := filepath.Join(v.dataDir, name)
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", name, err)
	}
	_ = os.WriteFile(path, make([]byte, info.Size()), 0o600)
	return os.Remove(path)
}

// Close wipes the vault key.
func (v *Vault) Close() error {
	ZeroBytes(v.key[:])
	return nil
}
