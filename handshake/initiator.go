package handshake

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cbrunker/quip/crypto"
	"github.com/cbrunker/quip/friend"
	"github.com/cbrunker/quip/limits"
	"github.com/cbrunker/quip/qerr"
	"github.com/cbrunker/quip/store"
	"github.com/cbrunker/quip/transport"
	"github.com/cbrunker/quip/wire"
)

// Initiator runs the handshake from the side that received the request.
type Initiator struct {
	manager  *transport.Manager
	store    store.Store
	requests *friend.RequestManager
	port     int
	timeout  time.Duration
}

// NewInitiator creates an Initiator announcing port as our listening port.
func NewInitiator(m *transport.Manager, st store.Store, requests *friend.RequestManager, port int) *Initiator {
	return &Initiator{
		manager:  m,
		store:    st,
		requests: requests,
		port:     port,
		timeout:  DefaultTimeout,
	}
}

// SetTimeout changes the per-read timeout.
func (i *Initiator) SetTimeout(d time.Duration) {
	i.timeout = d
}

// Complete performs the handshake with peerUID. An empty address falls back
// to the address stored with the friend request.
func (i *Initiator) Complete(ctx context.Context, peerUID, address string) (Result, error) {
	res := Result{State: StateInit, UID: peerUID, Address: address}
	logger := logrus.WithFields(logrus.Fields{
		"function": "Complete",
		"peer":     peerUID,
	})

	id := i.manager.Identity()
	if id == nil {
		return res, qerr.New("handshake", peerUID, qerr.ErrNotLoggedIn)
	}
	req, found, err := i.requests.RequestFor(peerUID)
	if err != nil {
		return res, err
	}
	if !found {
		res.State = StateFailed
		return res, qerr.New("handshake", peerUID, fmt.Errorf("%w: no friend request", qerr.ErrFriendshipFailure))
	}
	if res.Address == "" {
		res.Address = req.Address
	}
	if res.Address == "" {
		res.State = StateFailed
		return res, qerr.New("handshake", peerUID, qerr.ErrMissingFriendAddress)
	}

	release := i.manager.Acquire(res.Address)
	defer release()

	rec, err := i.exchange(ctx, id, peerUID, req.Message, &res)
	if err != nil {
		res.State = StateFailed
		rec.rollback()
		i.manager.Close(res.Address)
		logger.WithError(err).Warn("Handshake failed")
		if qerr.Is(err, qerr.ErrConnectionFailure, qerr.ErrNotLoggedIn) {
			return res, err
		}
		return res, qerr.New("handshake", peerUID, fmt.Errorf("%w: %w", qerr.ErrFriendshipFailure, err))
	}

	if err := i.requests.Resolve(peerUID); err != nil {
		logger.WithError(err).Warn("Failed to delete friend requests")
	}
	res.State = StateConfirmed
	logger.WithField("mask", res.Mask).Info("Friendship established")
	return res, nil
}

func (i *Initiator) exchange(ctx context.Context, id *crypto.Identity, peerUID, message string, res *Result) (*record, error) {
	hash := friend.MessageHash(id.UID, message)
	err := i.manager.Send(ctx, transport.Message{
		Peer:    peerUID,
		Address: res.Address,
		Command: wire.FriendAccept,
		Payload: wire.Line([]byte(hash + id.UID)),
	})
	if err != nil {
		return nil, err
	}
	conn, err := i.manager.Stream(res.Address)
	if err != nil {
		return nil, err
	}

	conn.SetReadDeadline(time.Now().Add(i.timeout))
	data, err := conn.Reader.ReadLengthPrefixed(limits.MaxHandshakeBlock)
	if err != nil {
		return nil, transport.ReadError(res.Address, err)
	}
	theirs, err := ParseBlock(data)
	if err != nil {
		return nil, err
	}
	res.State = StateKeyExchange

	ours := NewBlock(id)
	rec, err := persist(i.store, peerUID, theirs, ours.Token)
	if err != nil {
		return nil, err
	}
	res.Mask = rec.mask
	res.Auth = DeriveAuth(peerUID, ours.Token)

	confirm := wire.Line([]byte(string(wire.True) + strconv.Itoa(i.port)))
	err = i.manager.Send(ctx, transport.Message{
		Peer:    peerUID,
		Address: res.Address,
		Payload: append(confirm, wire.LengthPrefixed(ours.Marshal())...),
	})
	if err != nil {
		return rec, err
	}

	conn.SetReadDeadline(time.Now().Add(i.timeout))
	ok, err := conn.Reader.ReadFlag()
	if err != nil {
		return rec, transport.ReadError(res.Address, err)
	}
	if !ok {
		return rec, fmt.Errorf("peer did not confirm storage")
	}
	if err := i.store.SetAddress(rec.mask, res.Address); err != nil {
		return rec, err
	}
	return rec, nil
}
