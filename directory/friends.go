package directory

import (
	"bytes"
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/cbrunker/quip/friend"
	"github.com/cbrunker/quip/handshake"
	"github.com/cbrunker/quip/qerr"
	"github.com/cbrunker/quip/store"
	"github.com/cbrunker/quip/wire"
)

// Detail is a friend's published address and presence.
type Detail struct {
	Address string
	Status  friend.Status
}

// Request is a friend request held by the directory server.
type Request struct {
	store.FriendRequest
	Status friend.Status
}

func (c *Client) friend(op, mask string) (store.Friend, error) {
	f, found, err := c.cfg.Store.Friend(mask)
	if err != nil {
		return f, err
	}
	if !found {
		return f, qerr.New(op, mask, qerr.ErrMissingFriend)
	}
	return f, nil
}

// Details looks up the current address and status of each friend and
// records the addresses locally.
func (c *Client) Details(ctx context.Context, masks ...string) (map[string]Detail, error) {
	uid := c.UID()
	details := make(map[string]Detail, len(masks))
	for _, mask := range masks {
		f, err := c.friend("details", mask)
		if err != nil {
			return details, err
		}
		token := handshake.DeriveAuth(uid, f.AuthToken)
		line, err := c.authed(ctx, "details", wire.DetailsGet, []byte(f.UID), []byte(token))
		if err != nil {
			return details, err
		}
		parts := bytes.Split(line, []byte(wire.ValueSeparator))
		if len(parts) != 3 {
			return details, qerr.New("details", f.UID, qerr.ErrUnauthorised)
		}
		code, err := strconv.ParseUint(string(parts[1]), 10, 32)
		if err != nil {
			return details, qerr.New("details", f.UID, qerr.ErrInvalidData)
		}
		d := Detail{Address: string(parts[0]), Status: friend.Status(code)}
		details[mask] = d

		if d.Address != "" {
			if err := c.cfg.Roster.SetAddress(mask, d.Address); err != nil {
				return details, err
			}
		}
		c.cfg.Roster.SetStatus(mask, d.Status)
	}
	return details, nil
}

// AddAuthToken registers an authorisation value with the server.
func (c *Client) AddAuthToken(ctx context.Context, auth string) (bool, error) {
	return c.authedBool(ctx, "auth token set", wire.AuthTokenSet, []byte(auth))
}

// AuthorizeFriend registers the value derived from the token handed to the
// friend at mask.
func (c *Client) AuthorizeFriend(ctx context.Context, mask string) (bool, error) {
	f, err := c.friend("auth token set", mask)
	if err != nil {
		return false, err
	}
	if f.SentToken == "" {
		return false, qerr.New("auth token set", f.UID, invalid("no token was handed out"))
	}
	return c.AddAuthToken(ctx, handshake.DeriveAuth(f.UID, f.SentToken))
}

// RevokeAuthToken withdraws the friend's authorisation and forgets the
// token handed out.
func (c *Client) RevokeAuthToken(ctx context.Context, mask string) (bool, error) {
	f, err := c.friend("auth token del", mask)
	if err != nil {
		return false, err
	}
	if f.SentToken == "" {
		return true, nil
	}
	ok, err := c.authedBool(ctx, "auth token del", wire.AuthTokenDel, []byte(handshake.DeriveAuth(f.UID, f.SentToken)))
	if err != nil || !ok {
		return false, err
	}
	return true, c.cfg.Store.ClearSentToken(mask)
}

// AuthTokens lists the authorisation values registered for this account.
func (c *Client) AuthTokens(ctx context.Context) ([]string, error) {
	line, err := c.authed(ctx, "auth token get", wire.AuthTokenGet)
	if err != nil {
		return nil, err
	}
	var tokens []string
	for _, t := range strings.Split(string(line), ":") {
		if t = strings.TrimSpace(t); t != "" {
			tokens = append(tokens, t)
		}
	}
	sort.Strings(tokens)
	return tokens, nil
}

// SendFriendRequest asks the server to deliver a friend request and keeps
// a local copy for the handshake.
func (c *Client) SendFriendRequest(ctx context.Context, uid, message string) (bool, error) {
	if _, err := c.credentials(); err != nil {
		return false, qerr.New("friend request", uid, err)
	}
	if uid == c.UID() {
		return false, qerr.New("friend request", uid, invalid("cannot befriend yourself"))
	}
	if _, err := c.cfg.Requests.RecordOutgoing(uid, message); err != nil {
		return false, qerr.New("friend request", uid, invalid("%v", err))
	}
	return c.authedBool(ctx, "friend request", wire.FriendRequest, []byte(uid), wire.Encode([]byte(message)))
}

// FriendRequests fetches incoming requests, records new ones locally and
// returns every request the server holds.
func (c *Client) FriendRequests(ctx context.Context) ([]Request, error) {
	line, err := c.authed(ctx, "friend requests", wire.FriendRequestsGet)
	if err != nil {
		return nil, err
	}

	var out []Request
	for _, entry := range bytes.Split(bytes.TrimSpace(line), []byte(wire.EntrySeparator)) {
		if len(entry) == 0 {
			continue
		}
		parts := bytes.Split(entry, []byte(wire.ValueSeparator))
		if len(parts) != 4 {
			c.logger("FriendRequests").WithField("entry", string(entry)).Warn("Skipping malformed friend request")
			continue
		}
		msg, err := wire.Decode(bytes.TrimSpace(parts[3]))
		if err != nil {
			c.logger("FriendRequests").WithField("uid", string(parts[0])).Warn("Skipping undecodable friend request")
			continue
		}
		code, _ := strconv.ParseUint(string(parts[2]), 10, 32)
		out = append(out, Request{
			FriendRequest: store.FriendRequest{
				UID:     string(parts[0]),
				Address: string(parts[1]),
				Message: string(msg),
			},
			Status: friend.Status(code),
		})
	}

	reqs := make([]store.FriendRequest, len(out))
	for i, r := range out {
		reqs[i] = r.FriendRequest
	}
	if _, err := c.cfg.Requests.RecordIncoming(reqs); err != nil {
		return nil, err
	}
	stored, err := c.cfg.Store.FriendRequests(false)
	if err != nil {
		return nil, err
	}
	for i := range out {
		if s, ok := stored[out[i].UID]; ok {
			out[i].ID = s.ID
			out[i].Created = s.Created
		}
	}
	return out, nil
}

// DeleteFriendRequest declines the incoming request from uid on the server
// and locally. It reports false when no such request is stored.
func (c *Client) DeleteFriendRequest(ctx context.Context, uid string) (bool, error) {
	if !friend.ValidUUID(uid) {
		return false, qerr.New("friend request del", uid, invalid("user id %q", uid))
	}
	stored, err := c.cfg.Store.FriendRequests(false)
	if err != nil {
		return false, err
	}
	req, ok := stored[uid]
	if !ok {
		c.logger("DeleteFriendRequest").WithField("uid", uid).Warn("Friend request does not exist")
		return false, nil
	}
	ok, err = c.authedBool(ctx, "friend request del", wire.FriendRequestDel, []byte(uid))
	if err != nil || !ok {
		return false, err
	}
	return true, c.cfg.Store.DeleteFriendRequests(req.ID)
}

// DeleteFriend revokes the friend's authorisation and then removes the
// friend with everything stored about them.
func (c *Client) DeleteFriend(ctx context.Context, mask string) (bool, error) {
	ok, err := c.RevokeAuthToken(ctx, mask)
	if err != nil || !ok {
		return false, err
	}
	if err := c.cfg.Roster.Remove(mask); err != nil {
		return false, err
	}
	return true, nil
}
