package handshake

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cbrunker/quip/crypto"
	"github.com/cbrunker/quip/friend"
	"github.com/cbrunker/quip/limits"
	"github.com/cbrunker/quip/server"
	"github.com/cbrunker/quip/store"
	"github.com/cbrunker/quip/wire"
)

var refusal = wire.Line([]byte{wire.False})

// AuthHandler receives each completed responder-side handshake.
type AuthHandler func(res Result)

// Responder serves the unsigned friend acceptance command.
type Responder struct {
	identity *crypto.Identity
	store    store.Store
	requests *friend.RequestManager
	timeout  time.Duration

	mu     sync.RWMutex
	onAuth AuthHandler
}

// NewResponder creates a Responder for id.
func NewResponder(id *crypto.Identity, st store.Store, requests *friend.RequestManager) *Responder {
	return &Responder{
		identity: id,
		store:    st,
		requests: requests,
		timeout:  DefaultTimeout,
	}
}

// SetTimeout changes the per-read timeout.
func (r *Responder) SetTimeout(d time.Duration) {
	r.timeout = d
}

// SetAuthHandler sets the callback receiving completed handshakes.
func (r *Responder) SetAuthHandler(h AuthHandler) {
	r.mu.Lock()
	r.onAuth = h
	r.mu.Unlock()
}

// Handle implements server.Handler.
func (r *Responder) Handle(ctx context.Context, req *server.Request) ([]byte, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "Handle",
		"remote":   req.Remote.String(),
	})

	data := req.Payload
	if len(data) != RequestLength {
		logger.WithField("length", len(data)).Info("Invalid friend completion data")
		return refusal, nil
	}
	hash, uid := string(data[:limits.ChecksumLength]), string(data[limits.ChecksumLength:])
	if !friend.ValidUUID(uid) {
		logger.Info("Invalid user id in friend completion")
		return refusal, nil
	}
	logger = logger.WithField("peer", uid)

	if _, ok, err := r.requests.Match(uid, hash); err != nil {
		return nil, err
	} else if !ok {
		logger.Warn("No friend request matches the presented hash")
		return refusal, nil
	}

	ours := NewBlock(r.identity)
	conn := req.Conn
	if _, err := conn.Write(wire.LengthPrefixed(ours.Marshal())); err != nil {
		return nil, err
	}

	conn.SetReadDeadline(time.Now().Add(r.timeout))
	line, err := conn.Reader.ReadLine()
	if err != nil {
		return nil, err
	}
	if len(line) < 2 || line[0] != wire.True {
		logger.WithField("confirmation", string(line)).Warn("Friend completion not confirmed")
		return refusal, nil
	}
	port, err := strconv.Atoi(string(line[1:]))
	if err != nil || port <= 0 || port > 65535 {
		logger.WithField("confirmation", string(line)).Warn("Invalid listening port")
		return refusal, nil
	}

	data, err = conn.Reader.ReadLengthPrefixed(limits.MaxHandshakeBlock)
	if err != nil {
		return nil, err
	}
	theirs, err := ParseBlock(data)
	if err != nil {
		logger.WithError(err).Error("Invalid key block")
		return refusal, nil
	}

	rec, err := persist(r.store, uid, theirs, ours.Token)
	if err != nil {
		return nil, err
	}
	address := net.JoinHostPort(remoteHost(req.Remote), strconv.Itoa(port))
	if err := r.store.SetAddress(rec.mask, address); err != nil {
		rec.rollback()
		return nil, err
	}
	if err := r.requests.Resolve(uid); err != nil {
		logger.WithError(err).Warn("Failed to delete friend requests")
	}

	res := Result{
		State:   StateConfirmed,
		Mask:    rec.mask,
		UID:     uid,
		Address: address,
		Auth:    DeriveAuth(uid, ours.Token),
	}
	r.mu.RLock()
	h := r.onAuth
	r.mu.RUnlock()
	if h != nil {
		h(res)
	}

	logger.WithFields(crypto.Fingerprint("auth", []byte(res.Auth))).Info("Friendship established")
	return []byte{wire.True}, nil
}

func remoteHost(addr net.Addr) string {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
