package store

import (
	"errors"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/sirupsen/logrus"

	"github.com/cbrunker/quip/crypto"
)

// profileFile is the sealed snapshot name inside the profile directory.
const profileFile = "profile.quip"

// File is a Memory store persisted as a CBOR snapshot sealed by a Vault.
type File struct {
	*Memory
	vault *crypto.Vault
}

// OpenFile opens or creates the profile stored in dir under passphrase. A
// wrong passphrase fails with crypto.ErrWrongPassphrase.
func OpenFile(dir string, passphrase []byte, opts ...Option) (*File, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "OpenFile",
		"dir":      dir,
	})

	vault, err := crypto.NewVault(dir, passphrase)
	if err != nil {
		return nil, fmt.Errorf("open vault: %w", err)
	}

	mem := NewMemory(opts...)
	data, err := vault.ReadFile(profileFile)
	switch {
	case err == nil:
		state := newSnapshot()
		if err := cbor.Unmarshal(data, state); err != nil {
			vault.Close()
			return nil, fmt.Errorf("decode profile: %w", err)
		}
		fillSnapshot(state)
		mem.state = state
		mem.saved = data
		logger.WithField("friends", len(state.Friends)).Debug("Loaded profile")
	case errors.Is(err, os.ErrNotExist):
		logger.Info("Creating new profile")
	default:
		vault.Close()
		return nil, err
	}

	f := &File{Memory: mem, vault: vault}
	mem.persist = f.write
	return f, nil
}

func (f *File) write(data []byte) error {
	return f.vault.WriteFile(profileFile, data)
}

// Destroy removes the sealed profile from disk.
func (f *File) Destroy() error {
	if err := f.DeleteAccount(); err != nil {
		return err
	}
	return f.vault.RemoveFile(profileFile)
}

// Close wipes the vault key.
func (f *File) Close() error {
	return f.vault.Close()
}

func fillSnapshot(s *snapshot) {
	if s.Friends == nil {
		s.Friends = make(map[string]*Friend)
	}
	if s.FriendRequests == nil {
		s.FriendRequests = make(map[int64]FriendRequest)
	}
	if s.FileRequests == nil {
		s.FileRequests = make(map[int64]FileRequest)
	}
}
