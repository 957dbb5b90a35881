package directory

import (
	"context"
	"strconv"
	"time"

	"github.com/cbrunker/quip/crypto"
	"github.com/cbrunker/quip/handshake"
	"github.com/cbrunker/quip/limits"
	"github.com/cbrunker/quip/qerr"
	"github.com/cbrunker/quip/store"
	"github.com/cbrunker/quip/wire"
)

// Offline record layout: auth value ‖ unix timestamp ‖ nonce ‖ ciphertext.
const (
	authLength      = 96
	timestampLength = 10
)

// maxRecord bounds a single relayed record.
const maxRecord = authLength + timestampLength + crypto.NonceSize + 16 + limits.MaxDirectMessage

// StoreMessage leaves a sealed message with the server for the friend at
// mask and records it in history.
func (c *Client) StoreMessage(ctx context.Context, mask string, message []byte) (bool, error) {
	if err := limits.ValidateDirectMessage(message); err != nil {
		return false, qerr.New("message store", mask, invalid("%v", err))
	}
	id := c.Identity()
	if id == nil {
		return false, qerr.New("message store", mask, qerr.ErrNotLoggedIn)
	}
	f, err := c.friend("message store", mask)
	if err != nil {
		return false, err
	}
	if !f.HasAuthority() {
		return false, qerr.New("message store", f.UID, qerr.ErrFriendshipFailure)
	}
	sealed, err := id.Seal(message, f.BoxKey)
	if err != nil {
		return false, err
	}

	token := handshake.DeriveAuth(id.UID, f.AuthToken)
	ok, err := c.authedBool(ctx, "message store", wire.MessageStore, []byte(f.UID), []byte(token), wire.LengthPrefixed(sealed))
	if err != nil || !ok {
		return false, err
	}
	err = c.cfg.Store.StoreHistory(store.HistoryEntry{
		Mask:    mask,
		Message: message,
		Time:    c.cfg.TimeProvider.Now(),
	})
	return true, err
}

// Messages collects relayed messages, opens them, stores them in history
// and returns them grouped by friend mask. Records from unknown senders are
// dropped.
func (c *Client) Messages(ctx context.Context) (map[string][]store.HistoryEntry, error) {
	logger := c.logger("Messages")
	id := c.Identity()
	creds, err := c.credentials()
	if err != nil || id == nil {
		return nil, qerr.New("messages get", "", qerr.ErrNotLoggedIn)
	}

	friends, err := c.cfg.Store.Friends()
	if err != nil {
		return nil, err
	}
	senders := make(map[string]store.Friend, len(friends))
	for _, f := range friends {
		if f.SentToken != "" {
			senders[handshake.DeriveAuth(f.UID, f.SentToken)] = f
		}
	}

	release := c.manager.Acquire(c.cfg.Address)
	defer release()
	if err := c.send(ctx, wire.MessagesGet, creds); err != nil {
		return nil, qerr.New("messages get", "", err)
	}

	out := make(map[string][]store.HistoryEntry)
	for {
		line, err := c.readLine()
		if err != nil {
			return out, qerr.New("messages get", "", err)
		}
		if len(line) == 0 || (len(line) == 1 && line[0] == wire.False) {
			return out, nil
		}
		size, err := strconv.Atoi(string(line))
		if err != nil || size < authLength+timestampLength || size > maxRecord {
			c.manager.Close(c.cfg.Address)
			return out, qerr.New("messages get", "", qerr.ErrInvalidData)
		}
		record, err := c.readExact(size)
		if err != nil {
			return out, qerr.New("messages get", "", err)
		}

		f, ok := senders[string(record[:authLength])]
		if !ok {
			logger.Warn("Dropping relayed message from unknown sender")
			continue
		}
		stamp, err := strconv.ParseInt(string(record[authLength:authLength+timestampLength]), 10, 64)
		if err != nil {
			logger.WithField("uid", f.UID).Warn("Dropping relayed message with bad timestamp")
			continue
		}
		text, err := id.OpenFrom(record[authLength+timestampLength:], f.BoxKey)
		if err != nil {
			logger.WithField("uid", f.UID).Warn("Dropping relayed message that failed to open")
			continue
		}
		entry := store.HistoryEntry{
			Mask:       f.Mask,
			Message:    text,
			FromFriend: true,
			Time:       time.Unix(stamp, 0),
		}
		if err := c.cfg.Store.StoreHistory(entry); err != nil {
			return out, err
		}
		out[f.Mask] = append(out[f.Mask], entry)
	}
}
