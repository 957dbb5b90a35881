// Package messaging delivers direct messages and avatars between friends.
//
// A message is a single signed RECV_MSG frame answered by a one byte
// acknowledgement. Both sides record the exchange in their local history
// once the friend has acknowledged it.
//
//	client := messaging.NewClient(manager, st)
//	msg, err := client.SendMessage(ctx, peer, []byte("hello"))
//	if err != nil {
//	    // msg.GetState() == messaging.MessageStateFailed
//	}
//
// Avatars are offered by checksum first so that an unchanged avatar is
// never resent:
//
//	client -> RECV_AVATAR(checksum)   server -> '0' unchanged | '1'
//	client -> "size\n"                server -> '0' too large | '1'
//	client -> avatar bytes            server -> checksum of stored avatar
//
// [ReceiveHandler] and [AvatarHandler] serve the two commands and are
// registered on a [server.Router].
package messaging
