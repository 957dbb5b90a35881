package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbrunker/quip/crypto"
	"github.com/cbrunker/quip/friend"
	"github.com/cbrunker/quip/qerr"
	"github.com/cbrunker/quip/wire"
)

func TestCreateAccount(t *testing.T) {
	dir := newFakeDirectory(t)
	dir.handle(wire.LoginNew, func(s *session, args string) {
		assert.Empty(t, args)
		if s.line() != "INVITE-1" {
			s.write("0\n")
			return
		}
		s.write(aliceUID + initialAuth + "\n")
		if s.line() != aliceUID+initialAuth {
			s.write("0\n")
			return
		}
		s.write("1\n")
	})

	t.Run("accepted invite", func(t *testing.T) {
		c, st := newClient(t, dir)
		acct, err := c.CreateAccount(context.Background(), "alice", "INVITE-1")
		require.NoError(t, err)
		assert.Equal(t, aliceUID, acct.UID)
		assert.Equal(t, initialAuth, acct.Auth)

		stored, found, err := st.Account()
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "alice", stored.Alias)
		require.NotNil(t, c.Identity())
		assert.Equal(t, aliceUID, c.Identity().UID)
		assert.False(t, c.LoggedIn())
	})

	t.Run("rejected invite", func(t *testing.T) {
		c, st := newClient(t, dir)
		_, err := c.CreateAccount(context.Background(), "alice", "stale")
		assert.True(t, errors.Is(err, ErrInviteRejected))
		assert.True(t, errors.Is(err, qerr.ErrLoginFailure))
		_, found, err := st.Account()
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestLogin(t *testing.T) {
	dir := newFakeDirectory(t)
	presence := make(chan string, 1)
	acceptLogin(dir, presence)

	c, st := newClient(t, dir)
	id := saveAccount(t, st, aliceUID)
	require.NoError(t, c.Login(context.Background(), 22012, friend.StatusAway))

	assert.Equal(t, "22012:22012:8909812", <-presence)
	assert.True(t, c.LoggedIn())
	assert.Equal(t, aliceUID, c.UID())
	assert.Equal(t, id.SigningPublicHex(), c.Identity().SigningPublicHex())

	acct, _, err := st.Account()
	require.NoError(t, err)
	assert.Equal(t, rotatedAuth, acct.Auth)

	creds, err := c.credentials()
	require.NoError(t, err)
	assert.Equal(t, credentials(), string(creds))
}

func TestLoginFailures(t *testing.T) {
	t.Run("no account", func(t *testing.T) {
		c, _ := newClient(t, newFakeDirectory(t))
		err := c.Login(context.Background(), 22012, friend.StatusOnline)
		assert.True(t, errors.Is(err, qerr.ErrLoginFailure))
	})

	t.Run("refused credentials", func(t *testing.T) {
		dir := newFakeDirectory(t)
		dir.handle(wire.Login, func(s *session, args string) {
			s.write("0\n")
		})
		c, st := newClient(t, dir)
		saveAccount(t, st, aliceUID)
		err := c.Login(context.Background(), 22012, friend.StatusOnline)
		assert.True(t, errors.Is(err, qerr.ErrLoginFailure))
		assert.False(t, c.LoggedIn())

		acct, _, err := st.Account()
		require.NoError(t, err)
		assert.Equal(t, initialAuth, acct.Auth)
	})

	t.Run("session token mismatch", func(t *testing.T) {
		dir := newFakeDirectory(t)
		dir.handle(wire.Login, func(s *session, args string) {
			s.write(rotatedAuth + "\n")
			s.line()
			s.write("0\n")
		})
		c, st := newClient(t, dir)
		saveAccount(t, st, aliceUID)
		err := c.Login(context.Background(), 22012, friend.StatusOnline)
		assert.True(t, errors.Is(err, qerr.ErrLoginFailure))
	})
}

func TestSessionCommands(t *testing.T) {
	dir := newFakeDirectory(t)
	c, _, _ := loggedIn(t, dir)

	dir.handle(wire.StatusSet, func(s *session, args string) {
		assert.Equal(t, credentials()+"1248121", args)
		s.write("1\n")
	})
	ok, err := c.SetStatus(context.Background(), friend.StatusBusy)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = c.SetStatus(context.Background(), friend.Status(42))
	assert.True(t, errors.Is(err, qerr.ErrInvalidClientData))

	dir.handle(wire.Logout, func(s *session, args string) {
		assert.Equal(t, credentials(), args)
		s.write("1\n")
	})
	ok, err = c.Logout(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, c.LoggedIn())

	_, err = c.SetStatus(context.Background(), friend.StatusOnline)
	assert.True(t, errors.Is(err, qerr.ErrNotLoggedIn))

	// one connection served the whole session
	assert.Equal(t, 1, dir.connections())
}

func TestDeleteAccount(t *testing.T) {
	dir := newFakeDirectory(t)
	c, st, _ := loggedIn(t, dir)
	dir.handle(wire.LoginDelete, func(s *session, args string) {
		assert.Equal(t, credentials(), args)
		s.write("1\n")
	})

	ok, err := c.DeleteAccount(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, c.LoggedIn())
	_, found, err := st.Account()
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSentinelReply(t *testing.T) {
	dir := newFakeDirectory(t)
	c, _, _ := loggedIn(t, dir)

	// no handler: the fake answers with the invalid command sentinel and closes
	_, err := c.ClearInvites(context.Background())
	assert.True(t, errors.Is(err, qerr.ErrInvalidCommand))

	dir.handle(wire.InvitesClear, func(s *session, args string) {
		s.write("1\n")
	})
	ok, err := c.ClearInvites(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, dir.connections())
}

func TestRecovery(t *testing.T) {
	dir := newFakeDirectory(t)
	dir.handle(wire.RecoveryEmail, func(s *session, args string) {
		assert.Equal(t, "alice@example.com", args)
		s.write("1\n")
	})
	dir.handle(wire.RecoveryCode, func(s *session, args string) {
		if args != carolUID {
			s.write("0\n")
			return
		}
		s.write(aliceUID + wire.ValueSeparator + rotatedAuth + wire.ValueSeparator + "alice\n")
	})
	c, st := newClient(t, dir)

	ok, err := c.RecoveryEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = c.Recover(context.Background(), bobUID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = c.Recover(context.Background(), "not-a-code")
	assert.True(t, errors.Is(err, qerr.ErrInvalidClientData))

	acct, ok, err := c.Recover(context.Background(), carolUID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, aliceUID, acct.UID)
	assert.Equal(t, "alice", acct.Alias)

	stored, _, err := st.Account()
	require.NoError(t, err)
	assert.Equal(t, rotatedAuth, stored.Auth)
	restored := crypto.LoadIdentity(stored.UID, stored.SigningSeed, stored.BoxPrivate)
	assert.Equal(t, c.Identity().SigningPublicHex(), restored.SigningPublicHex())
}
