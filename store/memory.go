package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cbrunker/quip/crypto"
)

// snapshot is the complete profile state, encoded by the File store.
type snapshot struct {
	Account        *Account                `cbor:"account,omitempty"`
	Friends        map[string]*Friend      `cbor:"friends"`
	FriendRequests map[int64]FriendRequest `cbor:"friend_requests"`
	FileRequests   map[int64]FileRequest   `cbor:"file_requests"`
	History        []HistoryEntry          `cbor:"history"`
	NextID         int64                   `cbor:"next_id"`
}

func newSnapshot() *snapshot {
	return &snapshot{
		Friends:        make(map[string]*Friend),
		FriendRequests: make(map[int64]FriendRequest),
		FileRequests:   make(map[int64]FileRequest),
	}
}

// Memory is a Store held in memory. An optional persist hook receives the
// encoded state after every mutation while the lock is held.
type Memory struct {
	mu            sync.RWMutex
	state         *snapshot
	persist       func([]byte) error
	saved         []byte
	requestExpiry time.Duration
	fileExpiry    time.Duration
	timeProvider  crypto.TimeProvider
}

// NewMemory returns an empty in-memory store.
func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		state:         newSnapshot(),
		requestExpiry: DefaultRequestExpiry,
		fileExpiry:    DefaultFileExpiry,
		timeProvider:  crypto.DefaultTimeProvider{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// commit hands the mutated state to persist. When that fails the state
// reverts to the last one persisted, so memory never runs ahead of disk.
func (m *Memory) commit() error {
	if m.persist == nil {
		return nil
	}
	data, err := cbor.Marshal(m.state)
	if err == nil {
		err = m.persist(data)
	}
	if err != nil {
		if rerr := m.restore(); rerr != nil {
			logrus.WithFields(logrus.Fields{
				"function": "commit",
				"error":    rerr.Error(),
			}).Error("Failed to restore persisted state")
		}
		return err
	}
	m.saved = data
	return nil
}

func (m *Memory) restore() error {
	state := newSnapshot()
	if m.saved != nil {
		if err := cbor.Unmarshal(m.saved, state); err != nil {
			return fmt.Errorf("decode profile: %w", err)
		}
		fillSnapshot(state)
	}
	m.state = state
	return nil
}

func (m *Memory) nextID() int64 {
	m.state.NextID++
	return m.state.NextID
}

// Account returns the stored account.
func (m *Memory) Account() (Account, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state.Account == nil {
		return Account{}, false, nil
	}
	return *m.state.Account, true, nil
}

// SaveAccount replaces the stored account.
func (m *Memory) SaveAccount(acct Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Account = &acct
	return m.commit()
}

// UpdateAuth replaces the directory auth value.
func (m *Memory) UpdateAuth(auth string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Account == nil {
		return ErrNoAccount
	}
	m.state.Account.Auth = auth
	return m.commit()
}

// SetAvatar stores the local user's avatar.
func (m *Memory) SetAvatar(avatar []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Account == nil {
		return ErrNoAccount
	}
	m.state.Account.Avatar = append([]byte(nil), avatar...)
	return m.commit()
}

// DeleteAccount removes every record of the profile.
func (m *Memory) DeleteAccount() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = newSnapshot()
	return m.commit()
}

// CreateFriend returns the mask for uid, minting one if uid is new.
func (m *Memory) CreateFriend(uid string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for mask, f := range m.state.Friends {
		if f.UID == uid {
			return mask, nil
		}
	}
	mask := uuid.NewString()
	m.state.Friends[mask] = &Friend{Mask: mask, UID: uid}

	logrus.WithFields(logrus.Fields{
		"function": "CreateFriend",
		"mask":     mask,
	}).Debug("Created friend mask")
	if err := m.commit(); err != nil {
		return "", err
	}
	return mask, nil
}

// Friend returns the friend stored under mask.
func (m *Memory) Friend(mask string) (Friend, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.state.Friends[mask]
	if !ok {
		return Friend{}, false, nil
	}
	return *f, true, nil
}

// FriendByUID returns the friend with the given user id.
func (m *Memory) FriendByUID(uid string) (Friend, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, f := range m.state.Friends {
		if f.UID == uid {
			return *f, true, nil
		}
	}
	return Friend{}, false, nil
}

// Friends returns every friend ordered by mask.
func (m *Memory) Friends() ([]Friend, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Friend, 0, len(m.state.Friends))
	for _, f := range m.state.Friends {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Mask < out[j].Mask })
	return out, nil
}

func (m *Memory) mutateFriend(mask string, fn func(*Friend)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.state.Friends[mask]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFriend, mask)
	}
	fn(f)
	return m.commit()
}

// SetAuthority stores the friend's public keys.
func (m *Memory) SetAuthority(mask, signingKey string, boxKey [32]byte) error {
	return m.mutateFriend(mask, func(f *Friend) {
		f.SigningKey = signingKey
		f.BoxKey = boxKey
	})
}

// SetFriendAuth stores both handshake tokens.
func (m *Memory) SetFriendAuth(mask, authToken, sentToken string) error {
	return m.mutateFriend(mask, func(f *Friend) {
		f.AuthToken = authToken
		f.SentToken = sentToken
	})
}

// ClearSentToken forgets the token the friend presents on our behalf.
func (m *Memory) ClearSentToken(mask string) error {
	return m.mutateFriend(mask, func(f *Friend) {
		f.SentToken = ""
	})
}

// SetAddress stores the friend's last known host:port.
func (m *Memory) SetAddress(mask, address string) error {
	return m.mutateFriend(mask, func(f *Friend) {
		f.Address = address
	})
}

// SetFriendAvatar stores the friend's avatar and its checksum.
func (m *Memory) SetFriendAvatar(mask string, avatar []byte, checksum string) error {
	return m.mutateFriend(mask, func(f *Friend) {
		f.Avatar = append([]byte(nil), avatar...)
		f.AvatarChecksum = checksum
	})
}

// AuthTokens maps each friend's auth token to its mask.
func (m *Memory) AuthTokens() (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.state.Friends))
	for mask, f := range m.state.Friends {
		if f.AuthToken != "" {
			out[f.AuthToken] = mask
		}
	}
	return out, nil
}

// DeleteFriend removes a friend with its history, pending file requests and
// pending friend requests.
func (m *Memory) DeleteFriend(mask string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.state.Friends[mask]
	if !ok {
		return nil
	}
	delete(m.state.Friends, mask)

	history := m.state.History[:0]
	for _, h := range m.state.History {
		if h.Mask != mask {
			history = append(history, h)
		}
	}
	m.state.History = history

	for id, r := range m.state.FileRequests {
		if r.Mask == mask {
			delete(m.state.FileRequests, id)
		}
	}
	for id, r := range m.state.FriendRequests {
		if r.UID == f.UID {
			delete(m.state.FriendRequests, id)
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "DeleteFriend",
		"mask":     mask,
	}).Info("Deleted friend")
	return m.commit()
}

// StoreHistory appends a message to the history.
func (m *Memory) StoreHistory(entry HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.Time.IsZero() {
		entry.Time = m.timeProvider.Now()
	}
	entry.Message = append([]byte(nil), entry.Message...)
	m.state.History = append(m.state.History, entry)
	return m.commit()
}

// History returns up to limit of the most recent messages for mask, oldest
// first. A limit of zero returns everything.
func (m *Memory) History(mask string, limit int) ([]HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []HistoryEntry
	for _, h := range m.state.History {
		if h.Mask == mask {
			out = append(out, h)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// StoreFriendRequest stores a request and returns its row id.
func (m *Memory) StoreFriendRequest(req FriendRequest) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req.ID = m.nextID()
	if req.Created.IsZero() {
		req.Created = m.timeProvider.Now()
	}
	m.state.FriendRequests[req.ID] = req
	return req.ID, m.commit()
}

// FriendRequests returns unexpired requests in one direction keyed by user
// id. Expired requests are pruned.
func (m *Memory) FriendRequests(outgoing bool) (map[string]FriendRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.timeProvider.Now()
	pruned := false
	out := make(map[string]FriendRequest)
	for id, r := range m.state.FriendRequests {
		if now.Sub(r.Created) > m.requestExpiry {
			delete(m.state.FriendRequests, id)
			pruned = true
			continue
		}
		if r.Outgoing != outgoing {
			continue
		}
		if prev, ok := out[r.UID]; ok && prev.ID > r.ID {
			continue
		}
		out[r.UID] = r
	}
	if pruned {
		return out, m.commit()
	}
	return out, nil
}

// DeleteFriendRequests removes requests by row id.
func (m *Memory) DeleteFriendRequests(ids ...int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.state.FriendRequests, id)
	}
	return m.commit()
}

// DeleteFriendRequestsFor removes every request involving uid.
func (m *Memory) DeleteFriendRequestsFor(uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.state.FriendRequests {
		if r.UID == uid {
			delete(m.state.FriendRequests, id)
		}
	}
	return m.commit()
}

// StoreFileRequest stores a file request, replacing any earlier request for
// the same friend, checksum and direction.
func (m *Memory) StoreFileRequest(req FileRequest) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.state.FileRequests {
		if r.Mask == req.Mask && r.Checksum == req.Checksum && r.Outgoing == req.Outgoing {
			delete(m.state.FileRequests, id)
		}
	}
	req.ID = m.nextID()
	if req.Created.IsZero() {
		req.Created = m.timeProvider.Now()
	}
	m.state.FileRequests[req.ID] = req
	return req.ID, m.commit()
}

// FileRequest returns the unexpired request for mask and checksum.
func (m *Memory) FileRequest(mask, checksum string, outgoing bool) (FileRequest, bool, error) {
	reqs, err := m.FileRequests(outgoing)
	if err != nil {
		return FileRequest{}, false, err
	}
	for _, r := range reqs {
		if r.Mask == mask && r.Checksum == checksum {
			return r, true, nil
		}
	}
	return FileRequest{}, false, nil
}

// FileRequests returns unexpired requests in one direction ordered by row
// id. Expired requests are pruned.
func (m *Memory) FileRequests(outgoing bool) ([]FileRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.timeProvider.Now()
	pruned := false
	var out []FileRequest
	for id, r := range m.state.FileRequests {
		if now.Sub(r.Created) > m.fileExpiry {
			delete(m.state.FileRequests, id)
			pruned = true
			continue
		}
		if r.Outgoing == outgoing {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if pruned {
		return out, m.commit()
	}
	return out, nil
}

// DeleteFileRequests removes requests by row id.
func (m *Memory) DeleteFileRequests(ids ...int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.state.FileRequests, id)
	}
	return m.commit()
}
