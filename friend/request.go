package friend

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cbrunker/quip/crypto"
	"github.com/cbrunker/quip/limits"
	"github.com/cbrunker/quip/store"
)

// ErrInvalidUserID indicates a value that is not a canonical version 4 UUID
var ErrInvalidUserID = errors.New("invalid user id")

// ValidUUID reports whether s is a canonical lower-case version 4 UUID.
func ValidUUID(s string) bool {
	u, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return u.Version() == 4 && u.String() == s
}

// MessageHash is the request digest an initiator presents during the
// friend handshake.
func MessageHash(initiatorUID, message string) string {
	return crypto.SHA1Hex([]byte(initiatorUID), []byte(message))
}

// NewRequest validates a friend request for uid.
func NewRequest(uid, message string, outgoing bool) (store.FriendRequest, error) {
	if !ValidUUID(uid) {
		return store.FriendRequest{}, fmt.Errorf("%w: %q", ErrInvalidUserID, uid)
	}
	if err := limits.ValidateFriendRequest([]byte(message)); err != nil {
		return store.FriendRequest{}, err
	}
	return store.FriendRequest{UID: uid, Message: message, Outgoing: outgoing}, nil
}

// RequestHandler is called for each newly recorded incoming request.
type RequestHandler func(req store.FriendRequest)

// RequestManager tracks pending friend requests in the store.
type RequestManager struct {
	mu      sync.RWMutex
	store   store.Store
	handler RequestHandler
}

// NewRequestManager creates a RequestManager backed by s.
func NewRequestManager(s store.Store) *RequestManager {
	return &RequestManager{store: s}
}

// SetHandler sets the handler for new incoming requests.
func (m *RequestManager) SetHandler(handler RequestHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}

// RecordOutgoing validates and stores a request we sent.
func (m *RequestManager) RecordOutgoing(uid, message string) (store.FriendRequest, error) {
	req, err := NewRequest(uid, message, true)
	if err != nil {
		return req, err
	}
	if req.ID, err = m.store.StoreFriendRequest(req); err != nil {
		return req, err
	}
	return req, nil
}

// RecordIncoming stores requests not already known with the same user id
// and text, and returns the ones that were added.
func (m *RequestManager) RecordIncoming(reqs []store.FriendRequest) ([]store.FriendRequest, error) {
	known, err := m.store.FriendRequests(false)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	handler := m.handler
	m.mu.RUnlock()

	var added []store.FriendRequest
	for _, r := range reqs {
		if prev, ok := known[r.UID]; ok && prev.Message == r.Message {
			continue
		}
		if !ValidUUID(r.UID) {
			logrus.WithFields(logrus.Fields{
				"function": "RecordIncoming",
				"uid":      r.UID,
			}).Warn("Dropping friend request with invalid user id")
			continue
		}
		r.Outgoing = false
		r.ID, err = m.store.StoreFriendRequest(r)
		if err != nil {
			return added, err
		}
		known[r.UID] = r
		added = append(added, r)
		if handler != nil {
			handler(r)
		}
	}
	return added, nil
}

// Pending returns requests in one direction, oldest first.
func (m *RequestManager) Pending(outgoing bool) ([]store.FriendRequest, error) {
	reqs, err := m.store.FriendRequests(outgoing)
	if err != nil {
		return nil, err
	}
	out := make([]store.FriendRequest, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// RequestFor returns the request exchanged with uid, incoming first.
func (m *RequestManager) RequestFor(uid string) (store.FriendRequest, bool, error) {
	for _, outgoing := range []bool{false, true} {
		reqs, err := m.store.FriendRequests(outgoing)
		if err != nil {
			return store.FriendRequest{}, false, err
		}
		if r, ok := reqs[uid]; ok {
			return r, true, nil
		}
	}
	return store.FriendRequest{}, false, nil
}

// Match checks hash against the requests exchanged with initiatorUID in
// either direction.
func (m *RequestManager) Match(initiatorUID, hash string) (store.FriendRequest, bool, error) {
	for _, outgoing := range []bool{true, false} {
		reqs, err := m.store.FriendRequests(outgoing)
		if err != nil {
			return store.FriendRequest{}, false, err
		}
		r, ok := reqs[initiatorUID]
		if !ok {
			continue
		}
		expected := MessageHash(initiatorUID, r.Message)
		if subtle.ConstantTimeCompare([]byte(expected), []byte(hash)) == 1 {
			return r, true, nil
		}
	}
	return store.FriendRequest{}, false, nil
}

// Resolve removes every request exchanged with uid.
func (m *RequestManager) Resolve(uid string) error {
	return m.store.DeleteFriendRequestsFor(uid)
}
