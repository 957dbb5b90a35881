package server

import (
	"github.com/cbrunker/quip/store"
)

// PeerKey is what the dispatcher needs to authenticate a sender.
type PeerKey struct {
	Mask       string
	SigningKey string
}

// KeyResolver finds the signing key of a sender by user id.
type KeyResolver interface {
	ResolvePeer(uid string) (PeerKey, bool, error)
}

// StoreResolver resolves keys from friends in a store.
type StoreResolver struct {
	Store store.Store
}

// ResolvePeer returns the key of a friend who completed the handshake.
func (r StoreResolver) ResolvePeer(uid string) (PeerKey, bool, error) {
	f, found, err := r.Store.FriendByUID(uid)
	if err != nil || !found || !f.HasAuthority() {
		return PeerKey{}, false, err
	}
	return PeerKey{Mask: f.Mask, SigningKey: f.SigningKey}, true, nil
}
