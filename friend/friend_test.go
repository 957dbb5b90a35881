package friend

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbrunker/quip/qerr"
	"github.com/cbrunker/quip/store"
)

const (
	aliceUID = "0a1b2c3d-4e5f-4a6b-8c7d-9e0f1a2b3c4d"
	bobUID   = "6f1d3c2e-9b7a-4c1e-8f3a-2d5b6c7e8f90"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    Status
		wantErr bool
	}{
		{"online", StatusOnline, false},
		{"Busy", StatusBusy, false},
		{"7071170", StatusOnline, false},
		{"3201208", StatusInvisible, false},
		{"1234", 0, true},
		{"sleeping", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStatus(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownStatus)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, "5656232", StatusOffline.Code())
	assert.Equal(t, "away", StatusAway.String())
	assert.False(t, StatusInvisible.Reachable())
}

func TestRosterLookup(t *testing.T) {
	st := store.NewMemory()
	aliceMask, err := st.CreateFriend(aliceUID)
	require.NoError(t, err)
	require.NoError(t, st.SetAddress(aliceMask, "203.0.113.5:22012"))
	bobMask, err := st.CreateFriend(bobUID)
	require.NoError(t, err)

	r := NewRoster(st)
	require.NoError(t, r.Load())

	peer, err := r.Lookup(aliceUID)
	require.NoError(t, err)
	assert.Equal(t, aliceMask, peer.Mask)
	assert.Equal(t, "203.0.113.5:22012", peer.Address)

	peer, err = r.Lookup(bobUID)
	assert.True(t, errors.Is(err, qerr.ErrMissingFriendAddress))
	assert.Equal(t, bobMask, peer.Mask)

	_, err = r.Lookup("9d8c7b6a-5f4e-4d3c-9b2a-1f0e9d8c7b6a")
	assert.True(t, errors.Is(err, qerr.ErrMissingFriend))

	require.NoError(t, r.SetAddress(bobMask, "198.51.100.7:22012"))
	peer, err = r.Lookup(bobUID)
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.7:22012", peer.Address)

	stored, _, err := st.Friend(bobMask)
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.7:22012", stored.Address)
}

func TestRosterFallsBackToStore(t *testing.T) {
	st := store.NewMemory()
	r := NewRoster(st)
	require.NoError(t, r.Load())

	mask, err := st.CreateFriend(aliceUID)
	require.NoError(t, err)
	require.NoError(t, st.SetAddress(mask, "203.0.113.5:22012"))

	peer, err := r.Lookup(aliceUID)
	require.NoError(t, err)
	assert.Equal(t, mask, peer.Mask)

	_, ok := r.ByMask(mask)
	assert.True(t, ok)
}

func TestRosterStatusAndRemove(t *testing.T) {
	clock := &mockTimeProvider{fixedTime: time.Unix(1_700_000_000, 0)}
	st := store.NewMemory()
	mask, err := st.CreateFriend(aliceUID)
	require.NoError(t, err)
	require.NoError(t, st.SetAddress(mask, "203.0.113.5:22012"))

	r := NewRosterWithTimeProvider(st, clock)
	require.NoError(t, r.Load())

	peer, _ := r.ByMask(mask)
	assert.False(t, peer.IsOnline())

	clock.Advance(time.Minute)
	r.SetStatus(mask, StatusAway)
	peer, _ = r.ByMask(mask)
	assert.True(t, peer.IsOnline())
	assert.Equal(t, clock.Now(), peer.LastSeen)

	require.NoError(t, r.Remove(mask))
	_, ok := r.ByMask(mask)
	assert.False(t, ok)
	assert.Empty(t, r.Peers())
	_, found, err := st.Friend(mask)
	require.NoError(t, err)
	assert.False(t, found)
}
