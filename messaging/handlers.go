package messaging

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cbrunker/quip/crypto"
	"github.com/cbrunker/quip/limits"
	"github.com/cbrunker/quip/server"
	"github.com/cbrunker/quip/store"
	"github.com/cbrunker/quip/wire"
)

// Received is a message delivered by a friend.
type Received struct {
	UID     string
	Mask    string
	Message []byte
	Time    time.Time
}

// ReceiveHandler serves direct messages.
type ReceiveHandler struct {
	store        store.Store
	timeProvider crypto.TimeProvider

	mu        sync.RWMutex
	onMessage func(Received)
}

// NewReceiveHandler creates a ReceiveHandler.
func NewReceiveHandler(st store.Store, tp crypto.TimeProvider) *ReceiveHandler {
	if tp == nil {
		tp = crypto.DefaultTimeProvider{}
	}
	return &ReceiveHandler{store: st, timeProvider: tp}
}

// OnMessage sets the callback for stored messages.
func (h *ReceiveHandler) OnMessage(cb func(Received)) {
	h.mu.Lock()
	h.onMessage = cb
	h.mu.Unlock()
}

// Handle implements server.Handler. Empty messages are refused.
func (h *ReceiveHandler) Handle(ctx context.Context, req *server.Request) ([]byte, error) {
	if len(req.Payload) == 0 {
		return wire.Bool(false), nil
	}
	rec := Received{
		UID:     req.Origin,
		Mask:    req.Mask,
		Message: req.Payload,
		Time:    h.timeProvider.Now(),
	}
	err := h.store.StoreHistory(store.HistoryEntry{
		Mask:       req.Mask,
		Message:    req.Payload,
		FromFriend: true,
		Time:       rec.Time,
	})
	if err != nil {
		return nil, err
	}

	h.mu.RLock()
	cb := h.onMessage
	h.mu.RUnlock()
	if cb != nil {
		cb(rec)
	}
	return wire.Bool(true), nil
}

// AvatarHandler receives avatar updates from friends.
type AvatarHandler struct {
	store       store.Store
	readTimeout time.Duration

	mu       sync.RWMutex
	onAvatar func(uid, mask string)
}

// NewAvatarHandler creates an AvatarHandler.
func NewAvatarHandler(st store.Store) *AvatarHandler {
	return &AvatarHandler{store: st, readTimeout: DefaultReadTimeout}
}

// OnAvatar sets the callback for stored avatars.
func (h *AvatarHandler) OnAvatar(cb func(uid, mask string)) {
	h.mu.Lock()
	h.onAvatar = cb
	h.mu.Unlock()
}

// Handle implements server.Handler. It answers '0' when the offered
// checksum matches the stored avatar, otherwise reads the new avatar and
// answers with the checksum of what it stored.
func (h *AvatarHandler) Handle(ctx context.Context, req *server.Request) ([]byte, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "Handle",
		"origin":   req.Origin,
	})

	checksum := string(req.Payload)
	if len(checksum) != limits.ChecksumLength {
		logger.WithField("checksum", checksum).Warn("Invalid avatar checksum")
		return wire.Bool(false), nil
	}
	f, found, err := h.store.Friend(req.Mask)
	if err != nil {
		return nil, err
	}
	if found && f.AvatarChecksum == checksum {
		return wire.Bool(false), nil
	}

	conn := req.Conn
	if _, err := conn.Write(wire.Bool(true)); err != nil {
		return nil, err
	}
	conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	line, err := conn.Reader.ReadLine()
	if err != nil {
		return nil, err
	}
	size, err := strconv.Atoi(strings.TrimSpace(string(line)))
	if err != nil || limits.ValidateAvatar(size) != nil {
		logger.WithField("size", string(line)).Warn("Invalid avatar size")
		return wire.Bool(false), nil
	}
	if _, err := conn.Write(wire.Bool(true)); err != nil {
		return nil, err
	}

	conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	avatar, err := conn.Reader.ReadExact(size)
	if err != nil {
		return nil, err
	}
	stored := crypto.SHA1Hex(avatar)
	if err := h.store.SetFriendAvatar(req.Mask, avatar, stored); err != nil {
		return nil, err
	}
	logger.WithField("size", size).Info("Friend avatar updated")

	h.mu.RLock()
	cb := h.onAvatar
	h.mu.RUnlock()
	if cb != nil {
		cb(req.Origin, req.Mask)
	}
	return []byte(stored), nil
}
