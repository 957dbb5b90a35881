package friend

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbrunker/quip/limits"
	"github.com/cbrunker/quip/store"
)

func TestValidUUID(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{aliceUID, true},
		{strings.ToUpper(aliceUID), false},
		{"{" + aliceUID + "}", false},
		{"urn:uuid:" + aliceUID, false},
		{"6ba7b810-9dad-11d1-80b4-00c04fd430c8", false},
		{"not-a-uuid", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidUUID(tt.in), tt.in)
	}
}

func TestMessageHash(t *testing.T) {
	assert.Equal(t, "ad00eb3e6fa91938b0c1d77a0048a81f9d20fd9f", MessageHash(aliceUID, "hello"))
	assert.NotEqual(t, MessageHash(aliceUID, "hello"), MessageHash(bobUID, "hello"))
}

func TestNewRequest(t *testing.T) {
	_, err := NewRequest("bob", "hi", true)
	assert.ErrorIs(t, err, ErrInvalidUserID)

	_, err = NewRequest(bobUID, strings.Repeat("x", limits.MaxFriendRequestMessage+1), true)
	assert.ErrorIs(t, err, limits.ErrMessageTooLarge)

	req, err := NewRequest(bobUID, "", true)
	require.NoError(t, err)
	assert.True(t, req.Outgoing)
}

func TestRequestManagerMatch(t *testing.T) {
	st := store.NewMemory()
	m := NewRequestManager(st)

	_, err := m.RecordOutgoing(bobUID, "hello bob")
	require.NoError(t, err)

	// bob initiates the handshake and proves he saw our text
	r, ok, err := m.Match(bobUID, MessageHash(bobUID, "hello bob"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello bob", r.Message)

	_, ok, err = m.Match(bobUID, MessageHash(aliceUID, "hello bob"))
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = m.Match(aliceUID, MessageHash(aliceUID, "hello bob"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Resolve(bobUID))
	_, ok, err = m.RequestFor(bobUID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordIncomingDeduplicates(t *testing.T) {
	st := store.NewMemory()
	m := NewRequestManager(st)

	var seen []string
	m.SetHandler(func(req store.FriendRequest) { seen = append(seen, req.UID) })

	batch := []store.FriendRequest{
		{UID: aliceUID, Message: "hi", Address: "203.0.113.5:22012"},
		{UID: "bogus", Message: "spam"},
	}
	added, err := m.RecordIncoming(batch)
	require.NoError(t, err)
	assert.Len(t, added, 1)

	added, err = m.RecordIncoming(batch)
	require.NoError(t, err)
	assert.Empty(t, added)
	assert.Equal(t, []string{aliceUID}, seen)

	pending, err := m.Pending(false)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.False(t, pending[0].Outgoing)

	r, ok, err := m.RequestFor(aliceUID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "203.0.113.5:22012", r.Address)
}
