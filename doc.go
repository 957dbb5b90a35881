// Package quip implements a friend-to-friend messaging client and server.
//
// Every Quip instance is both a client and a server. Friends talk to each
// other directly over TLS with signed, hash-chained envelopes. A directory
// server holds accounts, presence, friend requests and messages left for
// friends who are offline.
//
// # Getting Started
//
// Open the encrypted local store, log in to the directory server and start
// accepting friends:
//
//	q, err := quip.Open(quip.NewOptions(), passphrase)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer q.Stop()
//
//	q.OnMessage(func(m messaging.Received) {
//	    fmt.Printf("%s: %s\n", m.UID, m.Message)
//	})
//
//	if err := q.Login(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	if err := q.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	_, err = q.SendMessage(ctx, friendUID, []byte("hello"))
//
// # Core Types
//
//   - [Quip]: facade wiring the store, directory client and peer server
//   - [Options]: configuration for a Quip instance
//
// # Friendship
//
// A friendship starts with [Quip.SendFriendRequest]. The receiving side sees
// the request through [Quip.FriendRequests] and accepts it with
// [Quip.CompleteFriendship], which connects to the requester and swaps
// signing keys, box keys and authorisation tokens. Each side then registers
// the token value with the directory server so the other can look up its
// address.
//
// # Delivery
//
// [Quip.SendMessage], [Quip.OfferFile], [Quip.RetrieveFile] and
// [Quip.SendAvatar] talk to friends directly. When a friend's address has
// changed the directory server is asked once for the new one. Messages that
// still cannot be delivered are sealed for the friend and left on the
// directory server; they are collected with [Quip.OfflineMessages].
//
// # Sub-packages
//
//   - wire: command codes and framing
//   - crypto: identities, signatures and sealed boxes
//   - hashchain: per-connection message chains
//   - store: account, friend and request persistence
//   - transport: peer connections and TLS
//   - server: peer listener and command routing
//   - friend, handshake: roster, requests and the key exchange
//   - file, messaging: transfers, messages and avatars
//   - directory: directory server client
//   - config: configuration files and environment overrides
package quip
