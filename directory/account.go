package directory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/cbrunker/quip/crypto"
	"github.com/cbrunker/quip/friend"
	"github.com/cbrunker/quip/limits"
	"github.com/cbrunker/quip/qerr"
	"github.com/cbrunker/quip/store"
	"github.com/cbrunker/quip/wire"
)

// ErrInviteRejected indicates the server refused an invite code
var ErrInviteRejected = errors.New("invite code rejected")

// CreateAccount registers a new account with the invite code and stores the
// new identity locally.
func (c *Client) CreateAccount(ctx context.Context, alias, invite string) (store.Account, error) {
	logger := c.logger("CreateAccount")
	release := c.manager.Acquire(c.cfg.Address)
	defer release()

	if err := c.send(ctx, wire.LoginNew); err != nil {
		return store.Account{}, qerr.New("create account", "", err)
	}
	if err := c.send(ctx, 0, []byte(invite)); err != nil {
		return store.Account{}, qerr.New("create account", "", err)
	}
	line, err := c.readLine()
	if err != nil {
		return store.Account{}, qerr.New("create account", "", err)
	}
	if len(line) == 1 && line[0] == wire.False {
		logger.Warn("Invite code rejected")
		return store.Account{}, qerr.New("create account", "", fmt.Errorf("%w: %w", qerr.ErrLoginFailure, ErrInviteRejected))
	}
	if len(line) != 2*limits.UUIDLength {
		logger.WithField("length", len(line)).Error("Invalid create account response")
		return store.Account{}, qerr.New("create account", "", qerr.ErrInvalidData)
	}
	uid, auth := string(line[:limits.UUIDLength]), string(line[limits.UUIDLength:])
	if !friend.ValidUUID(uid) || !friend.ValidUUID(auth) {
		return store.Account{}, qerr.New("create account", "", qerr.ErrInvalidData)
	}

	acct, id, err := c.saveAccount(uid, auth, alias)
	if err != nil {
		return store.Account{}, err
	}
	if err := c.send(ctx, 0, []byte(uid), []byte(auth)); err != nil {
		return acct, qerr.New("create account", uid, err)
	}
	line, err = c.readLine()
	if err != nil {
		return acct, qerr.New("create account", uid, err)
	}
	if !isTrue(line) {
		return acct, qerr.New("create account", uid, qerr.ErrLoginFailure)
	}

	c.mu.Lock()
	c.identity = id
	c.mu.Unlock()
	logger.WithField("uid", uid).Info("Account created")
	return acct, nil
}

func (c *Client) saveAccount(uid, auth, alias string) (store.Account, *crypto.Identity, error) {
	id, err := crypto.NewIdentity(uid)
	if err != nil {
		return store.Account{}, nil, err
	}
	acct := store.Account{
		UID:         uid,
		Auth:        auth,
		SigningSeed: id.Seed(),
		BoxPrivate:  id.BoxPrivate(),
		Alias:       alias,
	}
	if err := c.cfg.Store.SaveAccount(acct); err != nil {
		return store.Account{}, nil, err
	}
	return acct, id, nil
}

// Login authenticates the stored account, rotates its auth token and
// publishes the listening port and presence.
func (c *Client) Login(ctx context.Context, port int, status friend.Status) error {
	logger := c.logger("Login")
	acct, found, err := c.cfg.Store.Account()
	if err != nil {
		return err
	}
	if !found || acct.Auth == "" {
		return qerr.New("login", "", qerr.ErrLoginFailure)
	}

	release := c.manager.Acquire(c.cfg.Address)
	defer release()

	if err := c.send(ctx, wire.Login, []byte(acct.UID), []byte(acct.Auth)); err != nil {
		return qerr.New("login", acct.UID, err)
	}
	next, err := c.readLine()
	if err != nil {
		return qerr.New("login", acct.UID, err)
	}
	if _, perr := strconv.Atoi(string(bytes.TrimSpace(next))); perr == nil || len(next) == 0 {
		logger.Warn("Directory refused credentials")
		return qerr.New("login", acct.UID, qerr.ErrLoginFailure)
	}

	if err := c.send(ctx, 0, next); err != nil {
		return qerr.New("login", acct.UID, err)
	}
	line, err := c.readLine()
	if err != nil {
		return qerr.New("login", acct.UID, err)
	}
	if !isTrue(line) {
		return qerr.New("login", acct.UID, qerr.ErrLoginFailure)
	}

	presence := strconv.Itoa(port) + ":" + strconv.Itoa(port) + ":" + status.Code()
	if err := c.send(ctx, 0, []byte(presence)); err != nil {
		return qerr.New("login", acct.UID, err)
	}
	line, err = c.readLine()
	if err != nil {
		return qerr.New("login", acct.UID, err)
	}
	if !isTrue(line) {
		return qerr.New("login", acct.UID, qerr.ErrLoginFailure)
	}

	if err := c.cfg.Store.UpdateAuth(string(next)); err != nil {
		return err
	}
	c.mu.Lock()
	c.uid = acct.UID
	c.session = crypto.SHA384Hex(next)
	c.identity = crypto.LoadIdentity(acct.UID, acct.SigningSeed, acct.BoxPrivate)
	c.mu.Unlock()

	logger.WithField("uid", acct.UID).Info("Logged in")
	return nil
}

// Logout ends the session.
func (c *Client) Logout(ctx context.Context) (bool, error) {
	ok, err := c.authedBool(ctx, "logout", wire.Logout)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	c.session = ""
	c.mu.Unlock()
	return ok, nil
}

// SetStatus publishes a presence status.
func (c *Client) SetStatus(ctx context.Context, status friend.Status) (bool, error) {
	if _, err := friend.ParseStatus(status.Code()); err != nil {
		return false, qerr.New("set status", "", invalid("status %d", uint32(status)))
	}
	return c.authedBool(ctx, "set status", wire.StatusSet, []byte(status.Code()))
}

// DeleteAccount removes the account from the server and then locally.
func (c *Client) DeleteAccount(ctx context.Context) (bool, error) {
	acct, found, err := c.cfg.Store.Account()
	if err != nil {
		return false, err
	}
	creds, err := c.credentials()
	if err != nil || !found {
		return false, qerr.New("delete account", "", qerr.ErrNotLoggedIn)
	}
	line, err := c.call(ctx, "delete account", wire.LoginDelete, creds)
	if err != nil {
		return false, err
	}
	if !isTrue(line) {
		return false, nil
	}
	if err := c.cfg.Store.DeleteAccount(); err != nil {
		return false, err
	}
	c.mu.Lock()
	c.uid, c.session, c.identity = "", "", nil
	c.mu.Unlock()
	c.logger("DeleteAccount").WithField("uid", acct.UID).Info("Account deleted")
	return true, nil
}

// RecoveryEmail asks the server to mail a recovery code.
func (c *Client) RecoveryEmail(ctx context.Context, email string) (bool, error) {
	if email == "" || len(email) > limits.ProfileFieldLimits["email"] {
		return false, qerr.New("recovery email", "", invalid("email length %d", len(email)))
	}
	line, err := c.call(ctx, "recovery email", wire.RecoveryEmail, []byte(email))
	if err != nil {
		return false, err
	}
	return isTrue(line), nil
}

// Recover redeems a recovery code and stores the recovered account with a
// fresh identity. It reports false when the code is unknown.
func (c *Client) Recover(ctx context.Context, code string) (store.Account, bool, error) {
	if !friend.ValidUUID(code) {
		return store.Account{}, false, qerr.New("recover", "", invalid("recovery code %q", code))
	}
	line, err := c.call(ctx, "recover", wire.RecoveryCode, []byte(code))
	if err != nil {
		return store.Account{}, false, err
	}
	if len(line) <= 2 {
		return store.Account{}, false, nil
	}
	parts := bytes.Split(line, []byte(wire.ValueSeparator))
	if len(parts) != 3 {
		return store.Account{}, false, qerr.New("recover", "", qerr.ErrInvalidData)
	}
	uid, auth := string(parts[0]), string(parts[1])
	if !friend.ValidUUID(uid) || !friend.ValidUUID(auth) {
		return store.Account{}, false, nil
	}
	acct, id, err := c.saveAccount(uid, auth, string(parts[2]))
	if err != nil {
		return store.Account{}, false, err
	}
	c.mu.Lock()
	c.identity = id
	c.mu.Unlock()
	return acct, true, nil
}
