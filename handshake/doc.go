// Package handshake completes a friendship between two users who exchanged
// a friend request through the directory server.
//
// The initiator connects directly to the responder and proves it saw the
// request by sending friend.MessageHash of its user id and the request text.
// Both sides then swap a key Block (a fresh authorisation token, the
// signing public key and the box public key) as length-prefixed frames and
// confirm storage with a single '1' byte. Neither message is signed: the
// peers hold no keys for each other until the exchange completes.
//
// Each side stores the token it received as the friend's AuthToken and the
// token it handed out as SentToken, so after a successful exchange one
// side's SentToken equals the other side's AuthToken. DeriveAuth turns a
// handed-out token into the value registered with the directory server.
//
// A failed exchange leaves no partial friend record behind.
package handshake
