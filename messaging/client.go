package messaging

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

// DefaultReadTimeout bounds each acknowledgement read.
const DefaultReadTimeout = 10 * time.Second

// Client sends messages and avatars to friends.
type Client struct {
	manager      *transport.Manager
	store        store.Store
	timeProvider crypto.TimeProvider
	readTimeout  time.Duration
}

// NewClient creates a Client.
func NewClient(m *transport.Manager, st store.Store) *Client {
	return &Client{
		manager:      m,
		store:        st,
		timeProvider: crypto.DefaultTimeProvider{},
		readTimeout:  DefaultReadTimeout,
	}
}

// SetTimeProvider sets a custom time provider for deterministic testing.
func (c *Client) SetTimeProvider(tp crypto.TimeProvider) {
	c.timeProvider = tp
}

// SetReadTimeout changes the acknowledgement timeout.
func (c *Client) SetReadTimeout(d time.Duration) {
	c.readTimeout = d
}

// SendMessage delivers text to peer and waits for the acknowledgement. The
// message is stored in history once acknowledged.
func (c *Client) SendMessage(ctx context.Context, peer friend.Peer, text []byte) (*Message, error) {
	msg := NewMessage(peer.UID, text, c.timeProvider.Now())
	if err := limits.ValidateDirectMessage(text); err != nil {
		err = qerr.New("message", peer.UID, fmt.Errorf("%w: %v", qerr.ErrInvalidClientData, err))
		msg.fail(err)
		return msg, err
	}
	msg.SetState(MessageStateSending)

	release := c.manager.Acquire(peer.Address)
	defer release()

	ok, err := c.exchange(ctx, peer, wire.MessageSend, text)
	if err != nil {
		msg.fail(err)
		return msg, err
	}
	if !ok {
		err = qerr.New("message", peer.UID, fmt.Errorf("%w: message refused", qerr.ErrInvalidData))
		msg.fail(err)
		return msg, err
	}

	if err := c.store.StoreHistory(store.HistoryEntry{
		Mask:    peer.Mask,
		Message: text,
		Time:    msg.Sent,
	}); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "SendMessage",
			"peer":     peer.UID,
			"error":    err.Error(),
		}).Warn("Failed to store sent message")
	}
	msg.SetState(MessageStateDelivered)
	return msg, nil
}

// exchange sends a signed command and reads a one byte acknowledgement.
func (c *Client) exchange(ctx context.Context, peer friend.Peer, cmd wire.Command, payload []byte) (bool, error) {
	err := c.manager.Send(ctx, transport.Message{
		Peer:    peer.UID,
		Address: peer.Address,
		Command: cmd,
		Payload: payload,
		Sign:    true,
	})
	if err != nil {
		return false, err
	}
	return c.readFlag(peer)
}

func (c *Client) readFlag(peer friend.Peer) (bool, error) {
	conn, err := c.manager.Stream(peer.Address)
	if err != nil {
		return false, err
	}
	conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	ok, err := conn.Reader.ReadFlag()
	if err != nil {
		c.manager.Close(peer.Address)
		return false, qerr.New("read", peer.UID, transport.ReadError(peer.Address, err))
	}
	return ok, nil
}

// SendAvatar offers avatar to each peer and reports per user id whether the
// peer now holds it. A nil avatar sends the account avatar.
func (c *Client) SendAvatar(ctx context.Context, peers []friend.Peer, avatar []byte) (map[string]bool, error) {
	if avatar == nil {
		acct, found, err := c.store.Account()
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, qerr.New("avatar", "", qerr.ErrNotLoggedIn)
		}
		avatar = acct.Avatar
	}
	if err := limits.ValidateAvatar(len(avatar)); err != nil {
		return nil, qerr.New("avatar", "", fmt.Errorf("%w: %v", qerr.ErrInvalidClientData, err))
	}
	checksum := crypto.SHA1Hex(avatar)

	results := make(map[string]bool, len(peers))
	for _, peer := range peers {
		ok, err := c.sendAvatar(ctx, peer, avatar, checksum)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "SendAvatar",
				"peer":     peer.UID,
				"error":    err.Error(),
			}).Warn("Avatar not delivered")
		}
		results[peer.UID] = ok
	}
	return results, nil
}

func (c *Client) sendAvatar(ctx context.Context, peer friend.Peer, avatar []byte, checksum string) (bool, error) {
	release := c.manager.Acquire(peer.Address)
	defer release()

	changed, err := c.exchange(ctx, peer, wire.AvatarReceive, []byte(checksum))
	if err != nil {
		return false, err
	}
	if !changed {
		// the friend already holds this avatar
		return true, nil
	}

	err = c.manager.Send(ctx, transport.Message{
		Peer:    peer.UID,
		Address: peer.Address,
		Payload: wire.Line([]byte(strconv.Itoa(len(avatar)))),
	})
	if err != nil {
		return false, err
	}
	ok, err := c.readFlag(peer)
	if err != nil || !ok {
		return false, err
	}

	err = c.manager.Send(ctx, transport.Message{
		Peer:    peer.UID,
		Address: peer.Address,
		Payload: avatar,
	})
	if err != nil {
		return false, err
	}
	conn, err := c.manager.Stream(peer.Address)
	if err != nil {
		return false, err
	}
	conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	stored, err := conn.Reader.ReadExact(limits.ChecksumLength)
	if err != nil {
		c.manager.Close(peer.Address)
		return false, qerr.New("avatar", peer.UID, transport.ReadError(peer.Address, err))
	}
	if string(stored) != checksum {
		return false, qerr.New("avatar", peer.UID, fmt.Errorf("%w: stored checksum %s", qerr.ErrFileCorruption, stored))
	}
	return true, nil
}
