package quip

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/cbrunker/quip/file"
	"github.com/cbrunker/quip/friend"
	"github.com/cbrunker/quip/limits"
	"github.com/cbrunker/quip/messaging"
	"github.com/cbrunker/quip/qerr"
	"github.com/cbrunker/quip/store"
)

// SendMessage delivers text to the friend uid. When the friend cannot be
// reached and a directory session is open the message is left on the
// directory server instead and returned in the Relayed state.
func (q *Quip) SendMessage(ctx context.Context, uid string, text []byte) (*messaging.Message, error) {
	if _, err := q.components(); err != nil {
		return nil, qerr.New("message", uid, err)
	}
	q.mu.RLock()
	client := q.messages
	q.mu.RUnlock()

	var msg *messaging.Message
	p, err := q.withPeer(ctx, uid, func(p friend.Peer) error {
		var err error
		msg, err = client.SendMessage(ctx, p, text)
		return err
	})
	if err == nil || !retryable(err) || !q.dir.LoggedIn() || p.Mask == "" {
		return msg, err
	}

	ok, rerr := q.dir.StoreMessage(ctx, p.Mask, text)
	if rerr != nil || !ok {
		logrus.WithFields(logrus.Fields{
			"function": "SendMessage",
			"peer":     uid,
		}).Warn("Offline relay refused message")
		return msg, err
	}
	if msg == nil {
		msg = messaging.NewMessage(uid, text, q.options.TimeProvider.Now())
	}
	msg.SetState(messaging.MessageStateRelayed)
	logrus.WithFields(logrus.Fields{
		"function": "SendMessage",
		"peer":     uid,
	}).Info("Message left with directory server")
	return msg, nil
}

// OfflineMessages downloads messages friends left on the directory server
// while we were away, keyed by friend user id. Each message is also passed
// to the OnMessage callback.
func (q *Quip) OfflineMessages(ctx context.Context) (map[string][]store.HistoryEntry, error) {
	byMask, err := q.dir.Messages(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]store.HistoryEntry, len(byMask))
	for mask, entries := range byMask {
		p, ok := q.roster.ByMask(mask)
		if !ok {
			continue
		}
		out[p.UID] = entries
		for _, e := range entries {
			q.handleMessage(messaging.Received{UID: p.UID, Mask: mask, Message: e.Message, Time: e.Time})
		}
	}
	return out, nil
}

// OfferFile offers the file at path to uid and reports whether it was
// accepted.
func (q *Quip) OfferFile(ctx context.Context, uid, path string) (file.Offer, bool, error) {
	if _, err := q.components(); err != nil {
		return file.Offer{}, false, qerr.New("offer", uid, err)
	}
	q.mu.RLock()
	client := q.files
	q.mu.RUnlock()

	var (
		offer    file.Offer
		accepted bool
	)
	_, err := q.withPeer(ctx, uid, func(p friend.Peer) error {
		var err error
		offer, accepted, err = client.Offer(ctx, p, path)
		return err
	})
	return offer, accepted, err
}

// RetrieveFile downloads a file uid offered earlier. saveAs overrides the
// offered name. The offer is used up by the attempt whatever the outcome.
func (q *Quip) RetrieveFile(ctx context.Context, uid, checksum, saveAs string) (*file.Transfer, error) {
	if _, err := q.components(); err != nil {
		return nil, qerr.New("retrieve", uid, err)
	}
	q.mu.RLock()
	client := q.files
	q.mu.RUnlock()

	p, err := q.peer(ctx, uid)
	if err != nil {
		return nil, err
	}
	return client.Retrieve(ctx, p, checksum, saveAs)
}

// FileOffers lists unexpired file requests in one direction.
func (q *Quip) FileOffers(outgoing bool) ([]store.FileRequest, error) {
	return q.store.FileRequests(outgoing)
}

// SendAvatar replaces the account avatar when avatar is non-nil and pushes
// it to every friend with a known address. The result reports per user id
// whether the friend now holds the avatar.
func (q *Quip) SendAvatar(ctx context.Context, avatar []byte) (map[string]bool, error) {
	if _, err := q.components(); err != nil {
		return nil, qerr.New("avatar", "", err)
	}
	if avatar != nil {
		if err := limits.ValidateAvatar(len(avatar)); err != nil {
			return nil, qerr.New("avatar", "", fmt.Errorf("%w: %v", qerr.ErrInvalidClientData, err))
		}
		if err := q.store.SetAvatar(avatar); err != nil {
			return nil, err
		}
	}
	q.mu.RLock()
	client := q.messages
	q.mu.RUnlock()

	var peers []friend.Peer
	for _, p := range q.roster.Peers() {
		if p.Address != "" {
			peers = append(peers, p)
		}
	}
	return client.SendAvatar(ctx, peers, nil)
}

// SetFilePolicy decides which file offers are accepted. Every offer within
// MaxFileSize is accepted when no policy is set.
func (q *Quip) SetFilePolicy(p file.Policy) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.fileRequests == nil {
		return qerr.New("file policy", "", qerr.ErrNotLoggedIn)
	}
	q.fileRequests.SetPolicy(p)
	return nil
}
