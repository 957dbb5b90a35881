package handshake

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cbrunker/quip/crypto"
	"github.com/cbrunker/quip/friend"
	"github.com/cbrunker/quip/limits"
	"github.com/cbrunker/quip/store"
)

const (
	// SigningKeyLength is the hex length of a signing public key.
	SigningKeyLength = 64

	// BlockLength is the size of a marshalled Block.
	BlockLength = limits.UUIDLength + SigningKeyLength + 32

	// RequestLength is the size of the initiation payload: hash then user id.
	RequestLength = limits.ChecksumLength + limits.UUIDLength

	// DefaultTimeout bounds each read during the exchange.
	DefaultTimeout = 10 * time.Second
)

// ErrInvalidBlock indicates a malformed key block
var ErrInvalidBlock = errors.New("invalid key block")

// State is the progress of one handshake attempt.
type State uint8

const (
	StateInit State = iota
	StateKeyExchange
	StateConfirmed
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateKeyExchange:
		return "KEY_EXCHANGE"
	case StateConfirmed:
		return "CONFIRMED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Block is the key material one side hands its new friend.
type Block struct {
	Token      string
	SigningKey string
	BoxKey     [32]byte
}

// NewBlock creates a block for id with a fresh token.
func NewBlock(id *crypto.Identity) Block {
	return Block{
		Token:      uuid.NewString(),
		SigningKey: id.SigningPublicHex(),
		BoxKey:     id.BoxPublic(),
	}
}

// Marshal returns token ‖ signing key hex ‖ raw box key.
func (b Block) Marshal() []byte {
	out := make([]byte, 0, BlockLength)
	out = append(out, b.Token...)
	out = append(out, b.SigningKey...)
	return append(out, b.BoxKey[:]...)
}

// ParseBlock parses a marshalled Block.
func ParseBlock(data []byte) (Block, error) {
	if len(data) != BlockLength {
		return Block{}, fmt.Errorf("%w: length %d", ErrInvalidBlock, len(data))
	}
	b := Block{
		Token:      string(data[:limits.UUIDLength]),
		SigningKey: string(data[limits.UUIDLength : limits.UUIDLength+SigningKeyLength]),
	}
	copy(b.BoxKey[:], data[limits.UUIDLength+SigningKeyLength:])

	if !friend.ValidUUID(b.Token) {
		return Block{}, fmt.Errorf("%w: token %q", ErrInvalidBlock, b.Token)
	}
	if _, err := crypto.ParseSigningKey(b.SigningKey); err != nil {
		return Block{}, fmt.Errorf("%w: %v", ErrInvalidBlock, err)
	}
	return b, nil
}

// DeriveAuth returns the directory authorisation value for a token handed
// to friendUID.
func DeriveAuth(friendUID, token string) string {
	return crypto.SHA384Hex([]byte(friendUID), []byte(token))
}

// Result describes a completed handshake.
type Result struct {
	State   State
	Mask    string
	UID     string
	Address string
	// Auth is DeriveAuth of the token we handed out. It must be registered
	// with the directory server.
	Auth string
}

// record holds a friend written during an exchange so it can be undone.
type record struct {
	store   store.Store
	mask    string
	existed bool
}

// persist stores the friend's keys and both tokens.
func persist(st store.Store, uid string, theirs Block, ourToken string) (*record, error) {
	_, existed, err := st.FriendByUID(uid)
	if err != nil {
		return nil, err
	}
	mask, err := st.CreateFriend(uid)
	if err != nil {
		return nil, err
	}
	rec := &record{store: st, mask: mask, existed: existed}
	if err := st.SetFriendAuth(mask, theirs.Token, ourToken); err != nil {
		rec.rollback()
		return nil, err
	}
	if err := st.SetAuthority(mask, theirs.SigningKey, theirs.BoxKey); err != nil {
		rec.rollback()
		return nil, err
	}
	return rec, nil
}

// rollback removes a friend created by this exchange.
func (r *record) rollback() {
	if r == nil || r.existed {
		return
	}
	if err := r.store.DeleteFriend(r.mask); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "rollback",
			"mask":     r.mask,
			"error":    err.Error(),
		}).Error("Failed to remove partial friend record")
	}
}
