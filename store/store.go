// Package store is the local record contract of a quip profile: account
// keys, friends, pending friend and file requests, and message history.
//
// Lookups that can legitimately miss return (record, found, err); err is
// reserved for storage failures.
package store

import (
	"errors"
	"time"
)

// ErrUnknownFriend indicates a mutation referenced a mask that does not exist
var ErrUnknownFriend = errors.New("unknown friend mask")

// ErrNoAccount indicates an account operation on an empty profile
var ErrNoAccount = errors.New("no account stored")

// Account is the local user's identity and directory credentials.
type Account struct {
	UID         string
	Auth        string
	SigningSeed [32]byte
	BoxPrivate  [32]byte
	Alias       string
	Avatar      []byte
}

// Friend is a peer that completed the friend handshake.
type Friend struct {
	Mask           string
	UID            string
	Address        string
	SigningKey     string
	BoxKey         [32]byte
	AuthToken      string
	SentToken      string
	Alias          string
	Avatar         []byte
	AvatarChecksum string
}

// HasAuthority reports whether the friend's public keys are stored.
func (f Friend) HasAuthority() bool {
	return f.SigningKey != ""
}

// FriendRequest is a pending friend request in either direction.
type FriendRequest struct {
	ID       int64
	UID      string
	Message  string
	Address  string
	Outgoing bool
	Created  time.Time
}

// FileRequest is a pending file offer. Outgoing requests keep the full local
// path in Name; incoming requests keep only the base name.
type FileRequest struct {
	ID       int64
	Mask     string
	Checksum string
	Name     string
	Size     int64
	Outgoing bool
	Created  time.Time
}

// HistoryEntry is one stored message.
type HistoryEntry struct {
	Mask       string
	Message    []byte
	FromFriend bool
	Time       time.Time
}

// Store is the persistence contract consumed by the protocol components.
type Store interface {
	Account() (Account, bool, error)
	SaveAccount(acct Account) error
	UpdateAuth(auth string) error
	SetAvatar(avatar []byte) error
	DeleteAccount() error

	CreateFriend(uid string) (string, error)
	Friend(mask string) (Friend, bool, error)
	FriendByUID(uid string) (Friend, bool, error)
	Friends() ([]Friend, error)
	SetAuthority(mask, signingKey string, boxKey [32]byte) error
	SetFriendAuth(mask, authToken, sentToken string) error
	ClearSentToken(mask string) error
	SetAddress(mask, address string) error
	SetFriendAvatar(mask string, avatar []byte, checksum string) error
	AuthTokens() (map[string]string, error)
	DeleteFriend(mask string) error

	StoreHistory(entry HistoryEntry) error
	History(mask string, limit int) ([]HistoryEntry, error)

	StoreFriendRequest(req FriendRequest) (int64, error)
	FriendRequests(outgoing bool) (map[string]FriendRequest, error)
	DeleteFriendRequests(ids ...int64) error
	DeleteFriendRequestsFor(uid string) error

	StoreFileRequest(req FileRequest) (int64, error)
	FileRequest(mask, checksum string, outgoing bool) (FileRequest, bool, error)
	FileRequests(outgoing bool) ([]FileRequest, error)
	DeleteFileRequests(ids ...int64) error
}
