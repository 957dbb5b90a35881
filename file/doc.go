// Package file transfers files between friends over their peer connection.
//
// # Offers
//
// The sender computes the SHA-1 checksum and size of a file and offers it
// with a signed file request. The receiver's RequestHandler stores an
// incoming request and answers with a single accept or deny byte; on accept
// the sender stores an outgoing request that keeps the full local path.
//
//	offer, accepted, err := client.Offer(ctx, peer, "/home/me/report.pdf")
//
// # Retrieval
//
// The receiver asks for the file by checksum. The sender's SendHandler
// checks the file still exists and is unchanged, then streams it raw in
// blocks of DefaultBlockSize bytes. Otherwise it answers with the
// Nonexistent or ModifiedFile sentinel. The receiver reads exactly the
// offered size in reads of at most Options.MaxChunk bytes, never overwrites
// an existing file, and verifies the checksum when Options.Verify is set.
//
//	t, err := client.Retrieve(ctx, peer, offer.Checksum, "")
//	if errors.Is(err, qerr.ErrFileCorruption) {
//	    // modified, removed, or damaged in transit
//	}
//
// Both sides delete the stored request after an attempt, successful or not.
//
// # Progress
//
// Transfer tracks bytes moved, speed and state. Register Options.OnTransfer
// to attach progress callbacks:
//
//	opts.OnTransfer = func(t *file.Transfer) {
//	    t.OnProgress(func(received uint64) {
//	        fmt.Printf("%.1f%%\n", t.Percent())
//	    })
//	}
package file
