// Package friend keeps the local view of a user's friends and pending
// friend requests.
//
// # Roster
//
// Roster caches the user id, mask and last known address of every friend on
// top of a store.Store. Lookup distinguishes an unknown friend
// (qerr.ErrMissingFriend) from a friend whose address is not yet known
// (qerr.ErrMissingFriendAddress); callers refresh addresses from the
// directory server and retry.
//
//	roster := friend.NewRoster(st)
//	if err := roster.Load(); err != nil {
//	    return err
//	}
//	peer, err := roster.Lookup(uid)
//
// # Requests
//
// Friend requests travel through the directory server as short texts of at
// most limits.MaxFriendRequestMessage bytes. RequestManager records them in
// the store and, during the friend handshake, proves knowledge of a request
// with MessageHash: the SHA-1 hex digest of the initiator's user id followed
// by the request text.
package friend
