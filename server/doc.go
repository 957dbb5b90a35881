// Package server accepts peer connections and dispatches their commands.
//
// Each accepted connection runs one sequential loop: read an 8-byte command,
// read its body, authenticate it, call the handler, write the reply. Any
// failed check writes a category sentinel and closes the connection. No
// handler runs for a command that failed authentication.
//
// Signed bodies are checked in this order:
//
//	base85 decode          -> invalid command
//	origin key + signature -> invalid data
//	destination is self    -> invalid command
//	timestamp within skew  -> invalid command
//	hash chain continuity  -> invalid command
//	trailer matches header -> invalid data
//
// Commands registered with HandleUnsigned skip authentication and receive
// the raw line.
package server
