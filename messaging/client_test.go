package messaging

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbrunker/quip/crypto"
	"github.com/cbrunker/quip/friend"
	"github.com/cbrunker/quip/limits"
	"github.com/cbrunker/quip/qerr"
	"github.com/cbrunker/quip/store"
)

func TestSendMessageDelivered(t *testing.T) {
	tp := newMockTimeProvider()
	alice := newPeer(t, aliceUID, tp)
	bob := newPeer(t, bobUID, tp)
	bobPeer, alicePeer := befriend(t, alice, bob)

	msg, err := alice.client.SendMessage(context.Background(), bobPeer, []byte("hello bob"))
	require.NoError(t, err)
	assert.Equal(t, MessageStateDelivered, msg.GetState())

	got := bob.messages()
	require.Len(t, got, 1)
	assert.Equal(t, aliceUID, got[0].UID)
	assert.Equal(t, alicePeer.Mask, got[0].Mask)
	assert.Equal(t, []byte("hello bob"), got[0].Message)

	sent, err := alice.store.History(bobPeer.Mask, 0)
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.False(t, sent[0].FromFriend)
	assert.Equal(t, tp.currentTime, sent[0].Time)

	recv, err := bob.store.History(alicePeer.Mask, 0)
	require.NoError(t, err)
	require.Len(t, recv, 1)
	assert.True(t, recv[0].FromFriend)
	assert.Equal(t, []byte("hello bob"), recv[0].Message)
}

func TestSendMessageReusesConnection(t *testing.T) {
	alice := newPeer(t, aliceUID, nil)
	bob := newPeer(t, bobUID, nil)
	bobPeer, _ := befriend(t, alice, bob)

	for _, text := range []string{"one", "two", "three"} {
		_, err := alice.client.SendMessage(context.Background(), bobPeer, []byte(text))
		require.NoError(t, err)
	}
	assert.Len(t, bob.messages(), 3)
	history, err := alice.store.History(bobPeer.Mask, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, []byte("three"), history[1].Message)
}

func TestSendMessageTooLarge(t *testing.T) {
	alice := newPeer(t, aliceUID, nil)
	bob := newPeer(t, bobUID, nil)
	bobPeer, _ := befriend(t, alice, bob)

	_, err := alice.client.SendMessage(context.Background(), bobPeer, bytes.Repeat([]byte("x"), limits.MaxDirectMessage+1))
	assert.True(t, errors.Is(err, qerr.ErrInvalidClientData))
	assert.Empty(t, bob.messages())
}

func TestSendMessageUnknownSender(t *testing.T) {
	alice := newPeer(t, aliceUID, nil)
	bob := newPeer(t, bobUID, nil)
	// bob never stored alice's keys
	mask, err := alice.store.CreateFriend(bobUID)
	require.NoError(t, err)
	bobPeer := friend.Peer{UID: bobUID, Mask: mask, Address: bob.addr}

	msg, err := alice.client.SendMessage(context.Background(), bobPeer, []byte("hello"))
	assert.Error(t, err)
	assert.Equal(t, MessageStateFailed, msg.GetState())
	assert.Empty(t, bob.messages())

	history, err := alice.store.History(mask, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSendAvatar(t *testing.T) {
	alice := newPeer(t, aliceUID, nil)
	bob := newPeer(t, bobUID, nil)
	bobPeer, alicePeer := befriend(t, alice, bob)
	avatar := bytes.Repeat([]byte{0x89, 'P', 'N', 'G'}, 1000)

	results, err := alice.client.SendAvatar(context.Background(), []friend.Peer{bobPeer}, avatar)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{bobUID: true}, results)

	f, found, err := bob.store.Friend(alicePeer.Mask)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, avatar, f.Avatar)
	assert.Equal(t, crypto.SHA1Hex(avatar), f.AvatarChecksum)
	assert.Equal(t, []string{aliceUID}, bob.avatarUpdates())

	t.Run("unchanged avatar is not resent", func(t *testing.T) {
		results, err := alice.client.SendAvatar(context.Background(), []friend.Peer{bobPeer}, avatar)
		require.NoError(t, err)
		assert.True(t, results[bobUID])
		assert.Len(t, bob.avatarUpdates(), 1)
	})
}

func TestSendAvatarUsesAccountAvatar(t *testing.T) {
	alice := newPeer(t, aliceUID, nil)
	bob := newPeer(t, bobUID, nil)
	bobPeer, alicePeer := befriend(t, alice, bob)

	_, err := alice.client.SendAvatar(context.Background(), []friend.Peer{bobPeer}, nil)
	assert.True(t, errors.Is(err, qerr.ErrNotLoggedIn))

	require.NoError(t, alice.store.SaveAccount(store.Account{UID: aliceUID, Avatar: []byte("tiny")}))
	results, err := alice.client.SendAvatar(context.Background(), []friend.Peer{bobPeer}, nil)
	require.NoError(t, err)
	assert.True(t, results[bobUID])

	f, _, err := bob.store.Friend(alicePeer.Mask)
	require.NoError(t, err)
	assert.Equal(t, []byte("tiny"), f.Avatar)
}

func TestSendAvatarTooLarge(t *testing.T) {
	alice := newPeer(t, aliceUID, nil)
	bob := newPeer(t, bobUID, nil)
	bobPeer, _ := befriend(t, alice, bob)

	_, err := alice.client.SendAvatar(context.Background(), []friend.Peer{bobPeer}, make([]byte, limits.MaxAvatarSize))
	assert.True(t, errors.Is(err, qerr.ErrInvalidClientData))
	assert.Empty(t, bob.avatarUpdates())
}

func TestSendAvatarReportsUnreachablePeer(t *testing.T) {
	alice := newPeer(t, aliceUID, nil)
	bob := newPeer(t, bobUID, nil)
	bobPeer, _ := befriend(t, alice, bob)
	gone := friend.Peer{UID: "11111111-2222-4333-8444-555555555555", Mask: "nomask", Address: "127.0.0.1:1"}

	results, err := alice.client.SendAvatar(context.Background(), []friend.Peer{gone, bobPeer}, []byte("face"))
	require.NoError(t, err)
	assert.False(t, results[gone.UID])
	assert.True(t, results[bobUID])
}
