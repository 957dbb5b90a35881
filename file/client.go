package file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cbrunker/quip/crypto"
	"github.com/cbrunker/quip/friend"
	"github.com/cbrunker/quip/limits"
	"github.com/cbrunker/quip/qerr"
	"github.com/cbrunker/quip/store"
	"github.com/cbrunker/quip/transport"
	"github.com/cbrunker/quip/wire"
)

// Defaults for the retrieving side.
const (
	DefaultReadTimeout  = 30 * time.Second
	DefaultProbeTimeout = 250 * time.Millisecond
)

// Options configures a Client.
type Options struct {
	DownloadDir  string
	MaxChunk     int
	Verify       bool
	ReadTimeout  time.Duration
	ProbeTimeout time.Duration
	// OnTransfer is called when a transfer starts so callers can attach
	// progress callbacks.
	OnTransfer func(t *Transfer)
}

// Client offers files to friends and retrieves accepted offers.
type Client struct {
	manager *transport.Manager
	store   store.Store
	opts    Options
}

// NewClient creates a Client.
func NewClient(m *transport.Manager, st store.Store, opts Options) *Client {
	if opts.DownloadDir == "" {
		opts.DownloadDir = "Downloads"
	}
	if opts.MaxChunk <= 0 {
		opts.MaxChunk = DefaultMaxChunk
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	return &Client{manager: m, store: st, opts: opts}
}

// Offer sends a file request for path to peer. When the peer accepts, an
// outgoing request keeping the full path is stored.
func (c *Client) Offer(ctx context.Context, peer friend.Peer, path string) (Offer, bool, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "Offer",
		"peer":     peer.UID,
		"path":     path,
	})

	clean, err := ValidatePath(path)
	if err != nil {
		return Offer{}, false, qerr.New("offer", peer.UID, fmt.Errorf("%w: %v", qerr.ErrInvalidClientData, err))
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return Offer{}, false, err
	}
	name := filepath.Base(abs)
	if len(name) > limits.MaxFileNameLength {
		return Offer{}, false, qerr.New("offer", peer.UID, fmt.Errorf("%w: %v", qerr.ErrInvalidClientData, ErrFileNameTooLong))
	}
	checksum, size, err := crypto.SHA1File(abs)
	if err != nil {
		return Offer{}, false, qerr.New("offer", peer.UID, fmt.Errorf("%w: %v", qerr.ErrInvalidClientData, err))
	}
	offer := Offer{Name: name, Size: size, Checksum: checksum}

	release := c.manager.Acquire(peer.Address)
	defer release()

	err = c.manager.Send(ctx, transport.Message{
		Peer:    peer.UID,
		Address: peer.Address,
		Command: wire.FileRequest,
		Payload: offer.Marshal(),
		Sign:    true,
	})
	if err != nil {
		return offer, false, err
	}
	conn, err := c.manager.Stream(peer.Address)
	if err != nil {
		return offer, false, err
	}
	conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	accepted, err := conn.Reader.ReadFlag()
	if err != nil {
		c.manager.Close(peer.Address)
		return offer, false, qerr.New("offer", peer.UID, transport.ReadError(peer.Address, err))
	}
	if !accepted {
		logger.Info("File offer declined")
		return offer, false, nil
	}

	_, err = c.store.StoreFileRequest(store.FileRequest{
		Mask:     peer.Mask,
		Checksum: checksum,
		Name:     abs,
		Size:     size,
		Outgoing: true,
	})
	if err != nil {
		return offer, true, err
	}
	logger.WithField("checksum", checksum).Info("File offer accepted")
	return offer, true, nil
}

// Retrieve downloads the accepted offer identified by checksum. saveAs
// overrides the offered name. The incoming request is removed whatever the
// outcome.
func (c *Client) Retrieve(ctx context.Context, peer friend.Peer, checksum, saveAs string) (*Transfer, error) {
	fr, found, err := c.store.FileRequest(peer.Mask, checksum, false)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, qerr.New("retrieve", peer.UID, fmt.Errorf("%w: no file request for %s", qerr.ErrInvalidClientData, checksum))
	}
	defer func() {
		if err := c.store.DeleteFileRequests(fr.ID); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Retrieve",
				"error":    err.Error(),
			}).Warn("Failed to delete file request")
		}
	}()

	name := fr.Name
	if saveAs != "" {
		if name, err = SafeName(saveAs); err != nil {
			return nil, qerr.New("retrieve", peer.UID, fmt.Errorf("%w: %v", qerr.ErrInvalidClientData, err))
		}
	}

	t := NewTransfer(peer.UID, checksum, uint64(fr.Size), Receiving)
	if c.opts.OnTransfer != nil {
		c.opts.OnTransfer(t)
	}

	release := c.manager.Acquire(peer.Address)
	defer release()

	err = c.receive(ctx, peer, fr, name, t)
	t.complete(err)
	if err != nil {
		return t, err
	}
	return t, nil
}

func (c *Client) receive(ctx context.Context, peer friend.Peer, fr store.FileRequest, name string, t *Transfer) error {
	err := c.manager.Send(ctx, transport.Message{
		Peer:    peer.UID,
		Address: peer.Address,
		Command: wire.FileSend,
		Payload: []byte(fr.Checksum),
		Sign:    true,
	})
	if err != nil {
		return err
	}
	conn, err := c.manager.Stream(peer.Address)
	if err != nil {
		return err
	}

	head, reusable, err := c.readHead(conn, fr.Size)
	if !reusable {
		defer c.manager.Close(peer.Address)
	}
	if err != nil {
		return qerr.New("retrieve", peer.UID, transport.ReadError(peer.Address, err))
	}

	dest, f, err := createDestination(c.opts.DownloadDir, name)
	if err != nil {
		return err
	}
	t.start(dest)

	remaining := fr.Size - int64(len(head))
	if _, err := f.Write(head); err != nil {
		return abandon(f, dest, err)
	}
	t.add(len(head))
	for remaining > 0 {
		n := int64(c.opts.MaxChunk)
		if remaining < n {
			n = remaining
		}
		conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		chunk, err := conn.Reader.ReadExact(int(n))
		if err != nil {
			c.manager.Close(peer.Address)
			return abandon(f, dest, qerr.New("retrieve", peer.UID, transport.ReadError(peer.Address, err)))
		}
		if _, err := f.Write(chunk); err != nil {
			return abandon(f, dest, err)
		}
		t.record(len(chunk))
		remaining -= n
	}
	if err := f.Close(); err != nil {
		os.Remove(dest)
		return err
	}

	if c.opts.Verify {
		sum, _, err := crypto.SHA1File(dest)
		if err != nil {
			return err
		}
		if sum != fr.Checksum {
			os.Remove(dest)
			return qerr.New("retrieve", peer.UID, fmt.Errorf("%w: checksum %s, expected %s", qerr.ErrFileCorruption, sum, fr.Checksum))
		}
	}
	return nil
}

// readHead reads the first bytes of the reply and recognises sentinels.
// Files shorter than a sentinel are probed for the remaining sentinel bytes;
// a probe that times out leaves the connection unusable.
func (c *Client) readHead(conn *transport.Conn, size int64) ([]byte, bool, error) {
	conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	if size >= limits.CommandLength {
		head, err := conn.Reader.ReadExact(limits.CommandLength)
		if err != nil {
			return nil, false, err
		}
		if err := sentinelError(head); err != nil {
			return nil, true, err
		}
		return head, true, nil
	}

	head, err := conn.Reader.ReadExact(int(size))
	if err != nil {
		return nil, false, err
	}
	if !sentinelPrefix(head) {
		return head, true, nil
	}
	conn.SetReadDeadline(time.Now().Add(c.opts.ProbeTimeout))
	rest, err := conn.Reader.ReadExact(limits.CommandLength - len(head))
	if err != nil {
		if qerr.Is(err, qerr.ErrTimeout) && len(rest) == 0 {
			return head, false, nil
		}
		return nil, false, err
	}
	if err := sentinelError(append(head, rest...)); err != nil {
		return nil, true, err
	}
	return nil, false, fmt.Errorf("%w: unexpected trailing data", qerr.ErrInvalidData)
}

var replySentinels = []wire.Command{wire.Nonexistent, wire.ModifiedFile, wire.InvalidCommand, wire.InvalidData, wire.Timeout}

func sentinelError(head []byte) error {
	for _, s := range replySentinels {
		if !bytes.Equal(head, s.Bytes()) {
			continue
		}
		if s == wire.Nonexistent || s == wire.ModifiedFile {
			return fmt.Errorf("%w: %w", qerr.ErrFileCorruption, s.Err())
		}
		return s.Err()
	}
	return nil
}

func sentinelPrefix(head []byte) bool {
	for _, s := range replySentinels {
		if bytes.HasPrefix(s.Bytes(), head) {
			return true
		}
	}
	return false
}

// createDestination opens dir/name, choosing a new name when it exists.
func createDestination(dir, name string) (string, *os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, err
	}
	dest := filepath.Join(dir, name)
	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err == nil {
		return dest, f, nil
	}
	if !errors.Is(err, os.ErrExist) {
		return "", nil, err
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	f, err = os.CreateTemp(dir, base+"-*"+ext)
	if err != nil {
		return "", nil, err
	}
	return f.Name(), f, nil
}

func abandon(f *os.File, path string, err error) error {
	f.Close()
	os.Remove(path)
	return err
}
