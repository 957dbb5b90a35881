// Package directory is the client for the quip directory server.
//
// The directory server is the rendezvous point for accounts, presence,
// friend requests, profiles, invites and offline message relay. Every
// request is a raw line: an 8-digit command code followed by the user id,
// the session auth value and the command arguments. Boolean outcomes are
// answered with "1\n" or "0\n"; listings use the entry and value separators
// from package wire.
//
// A session begins with [Client.Login], which rotates the stored auth token
// and switches to the SHA-384 session value:
//
//	dc := directory.NewClient(directory.Config{Address: "dir.example:8822", Store: st})
//	if err := dc.Login(ctx, 22012, friend.StatusOnline); err != nil {
//	    return err
//	}
//	details, err := dc.Details(ctx, mask)
//
// Friend authorisation values sent to the server are derived from the raw
// handshake tokens with [handshake.DeriveAuth], never the tokens themselves.
package directory
