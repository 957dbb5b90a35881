// Package transport owns the TLS connections between quip peers.
//
// Manager keeps one connection per remote address and signs outgoing
// envelopes with the local identity. Each connection carries its own hash
// chain state, so a fresh connection always starts a fresh chain. A write
// that fails because the peer went away is retried once on a new connection
// with a recomputed chain and signature.
//
// Only Send opens connections. Stream fails with qerr.ErrConnectionFailure
// for an address that was never written to.
//
// PortMapper requests a best-effort TCP port mapping from a UPnP gateway.
package transport
