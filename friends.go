package quip

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/cbrunker/quip/directory"
	"github.com/cbrunker/quip/friend"
	"github.com/cbrunker/quip/handshake"
	"github.com/cbrunker/quip/qerr"
	"github.com/cbrunker/quip/store"
)

// queueAuth remembers an authorisation value until it can be registered
// with the directory server.
func (q *Quip) queueAuth(auth string) {
	if auth == "" {
		return
	}
	q.pendingMu.Lock()
	q.pendingAuth = append(q.pendingAuth, auth)
	q.pendingMu.Unlock()
}

// PendingAuthTokens returns the authorisation values not yet registered
// with the directory server.
func (q *Quip) PendingAuthTokens() []string {
	q.pendingMu.Lock()
	defer q.pendingMu.Unlock()
	return append([]string(nil), q.pendingAuth...)
}

// FlushAuthTokens registers every queued authorisation value and returns
// how many were accepted. Values that fail stay queued.
func (q *Quip) FlushAuthTokens(ctx context.Context) (int, error) {
	if !q.dir.LoggedIn() {
		return 0, qerr.New("auth token set", "", qerr.ErrNotLoggedIn)
	}
	q.pendingMu.Lock()
	queued := q.pendingAuth
	q.pendingAuth = nil
	q.pendingMu.Unlock()

	var (
		failed []string
		errs   []error
	)
	for _, auth := range queued {
		ok, err := q.dir.AddAuthToken(ctx, auth)
		if err != nil || !ok {
			failed = append(failed, auth)
			if err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(failed) > 0 {
		q.pendingMu.Lock()
		q.pendingAuth = append(failed, q.pendingAuth...)
		q.pendingMu.Unlock()
	}
	return len(queued) - len(failed), errors.Join(errs...)
}

// SendFriendRequest asks uid to become a friend.
func (q *Quip) SendFriendRequest(ctx context.Context, uid, message string) (bool, error) {
	return q.dir.SendFriendRequest(ctx, uid, message)
}

// FriendRequests downloads incoming friend requests from the directory
// server. New requests are passed to the OnFriendRequest callback.
func (q *Quip) FriendRequests(ctx context.Context) ([]directory.Request, error) {
	return q.dir.FriendRequests(ctx)
}

// CompleteFriendship runs the handshake with uid, who must have sent or
// received a friend request. When the stored address no longer answers the
// request list is fetched again and the handshake retried once.
func (q *Quip) CompleteFriendship(ctx context.Context, uid string) (handshake.Result, error) {
	if _, err := q.components(); err != nil {
		return handshake.Result{}, qerr.New("handshake", uid, err)
	}
	q.mu.RLock()
	initiator := q.initiator
	q.mu.RUnlock()

	res, err := initiator.Complete(ctx, uid, "")
	if err != nil && retryable(err) && q.dir.LoggedIn() {
		if addr := q.requestAddress(ctx, uid); addr != "" && addr != res.Address {
			logrus.WithFields(logrus.Fields{
				"function": "CompleteFriendship",
				"peer":     uid,
				"address":  addr,
			}).Info("Retrying handshake at refreshed address")
			res, err = initiator.Complete(ctx, uid, addr)
		}
	}
	if err != nil {
		return res, err
	}

	q.handleFriendship(res)
	if q.dir.LoggedIn() {
		if _, err := q.FlushAuthTokens(ctx); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "CompleteFriendship",
				"peer":     uid,
				"error":    err.Error(),
			}).Warn("Authorisation token left queued")
		}
	}
	return res, nil
}

func (q *Quip) requestAddress(ctx context.Context, uid string) string {
	reqs, err := q.dir.FriendRequests(ctx)
	if err != nil {
		return ""
	}
	for _, r := range reqs {
		if r.UID == uid {
			return r.Address
		}
	}
	return ""
}

// Unfriend revokes the friend's authorisation, deletes everything stored
// for them and drops any open connection.
func (q *Quip) Unfriend(ctx context.Context, uid string) error {
	if !q.dir.LoggedIn() {
		return qerr.New("unfriend", uid, qerr.ErrNotLoggedIn)
	}
	p, err := q.roster.Lookup(uid)
	if err != nil && !errors.Is(err, qerr.ErrMissingFriendAddress) {
		return err
	}
	ok, err := q.dir.DeleteFriend(ctx, p.Mask)
	if err != nil {
		return err
	}
	if !ok {
		return qerr.New("unfriend", uid, fmt.Errorf("%w: revocation refused", qerr.ErrInvalidData))
	}
	q.mu.RLock()
	manager := q.manager
	q.mu.RUnlock()
	if manager != nil && p.Address != "" {
		manager.Close(p.Address)
	}
	return nil
}

// Friends returns the cached friend list ordered by user id.
func (q *Quip) Friends() []friend.Peer {
	return q.roster.Peers()
}

// RefreshFriends fetches current addresses and presence for every friend.
// Friends who have not authorised us are skipped.
func (q *Quip) RefreshFriends(ctx context.Context) error {
	for _, p := range q.roster.Peers() {
		_, err := q.dir.Details(ctx, p.Mask)
		if err == nil {
			continue
		}
		if errors.Is(err, qerr.ErrUnauthorised) {
			logrus.WithFields(logrus.Fields{
				"function": "RefreshFriends",
				"peer":     p.UID,
			}).Debug("Friend has not authorised us")
			continue
		}
		return err
	}
	return nil
}

// History returns up to limit stored messages exchanged with uid, oldest
// first.
func (q *Quip) History(uid string, limit int) ([]store.HistoryEntry, error) {
	p, err := q.roster.Lookup(uid)
	if err != nil && !errors.Is(err, qerr.ErrMissingFriendAddress) {
		return nil, err
	}
	return q.store.History(p.Mask, limit)
}

// peer resolves uid, asking the directory server for an address when none
// is known.
func (q *Quip) peer(ctx context.Context, uid string) (friend.Peer, error) {
	p, err := q.roster.Lookup(uid)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, qerr.ErrMissingFriendAddress) || !q.dir.LoggedIn() {
		return p, err
	}
	return q.refresh(ctx, p)
}

func (q *Quip) refresh(ctx context.Context, p friend.Peer) (friend.Peer, error) {
	if _, err := q.dir.Details(ctx, p.Mask); err != nil {
		return p, err
	}
	fresh, ok := q.roster.ByMask(p.Mask)
	if !ok {
		return p, qerr.New("lookup", p.UID, qerr.ErrMissingFriend)
	}
	if fresh.Address == "" {
		return fresh, qerr.New("lookup", p.UID, qerr.ErrMissingFriendAddress)
	}
	return fresh, nil
}

// withPeer runs fn against uid. A connection failure triggers one address
// refresh through the directory server and a single retry.
func (q *Quip) withPeer(ctx context.Context, uid string, fn func(friend.Peer) error) (friend.Peer, error) {
	p, err := q.peer(ctx, uid)
	if err != nil {
		return p, err
	}
	err = fn(p)
	if err == nil || !retryable(err) || !q.dir.LoggedIn() {
		return p, err
	}

	fresh, rerr := q.refresh(ctx, p)
	if rerr != nil {
		return p, err
	}
	if fresh.Address != p.Address {
		q.mu.RLock()
		manager := q.manager
		q.mu.RUnlock()
		manager.Close(p.Address)
	}
	logrus.WithFields(logrus.Fields{
		"function": "withPeer",
		"peer":     uid,
		"address":  fresh.Address,
	}).Debug("Retrying after address refresh")
	return fresh, fn(fresh)
}

func retryable(err error) bool {
	return qerr.Is(err, qerr.ErrConnectionFailure, qerr.ErrTimeout, qerr.ErrMissingFriendAddress)
}
