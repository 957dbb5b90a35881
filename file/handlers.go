package file

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cbrunker/quip/crypto"
	"github.com/cbrunker/quip/qerr"
	"github.com/cbrunker/quip/server"
	"github.com/cbrunker/quip/store"
	"github.com/cbrunker/quip/transport"
	"github.com/cbrunker/quip/wire"
)

// Incoming is an offer received from a friend.
type Incoming struct {
	UID  string
	Mask string
	ID   int64
	Offer
}

// Policy decides whether to accept an offer.
type Policy func(mask string, offer Offer) bool

// RequestHandler serves incoming file offers.
type RequestHandler struct {
	store   store.Store
	maxSize int64

	mu      sync.RWMutex
	policy  Policy
	onOffer func(Incoming)
}

// NewRequestHandler creates a RequestHandler. maxSize <= 0 disables the
// size limit.
func NewRequestHandler(st store.Store, maxSize int64) *RequestHandler {
	return &RequestHandler{store: st, maxSize: maxSize}
}

// SetPolicy sets the acceptance policy. Offers are accepted when unset.
func (h *RequestHandler) SetPolicy(p Policy) {
	h.mu.Lock()
	h.policy = p
	h.mu.Unlock()
}

// OnOffer sets the callback for accepted offers.
func (h *RequestHandler) OnOffer(cb func(Incoming)) {
	h.mu.Lock()
	h.onOffer = cb
	h.mu.Unlock()
}

// Handle implements server.Handler.
func (h *RequestHandler) Handle(ctx context.Context, req *server.Request) ([]byte, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "Handle",
		"origin":   req.Origin,
	})

	offer, err := ParseOffer(req.Payload)
	if err != nil {
		logger.WithError(err).Info("Invalid file offer")
		return wire.Bool(false), nil
	}
	if h.maxSize > 0 && offer.Size > h.maxSize {
		logger.WithField("size", offer.Size).Info("File offer exceeds size limit")
		return wire.Bool(false), nil
	}

	h.mu.RLock()
	policy, cb := h.policy, h.onOffer
	h.mu.RUnlock()
	if policy != nil && !policy(req.Mask, offer) {
		logger.WithField("name", offer.Name).Info("File offer declined by policy")
		return wire.Bool(false), nil
	}

	id, err := h.store.StoreFileRequest(store.FileRequest{
		Mask:     req.Mask,
		Checksum: offer.Checksum,
		Name:     offer.Name,
		Size:     offer.Size,
	})
	if err != nil {
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"name":     offer.Name,
		"size":     offer.Size,
		"checksum": offer.Checksum,
	}).Info("File offer stored")

	if cb != nil {
		cb(Incoming{UID: req.Origin, Mask: req.Mask, ID: id, Offer: offer})
	}
	return wire.Bool(true), nil
}

// SendHandler streams offered files to friends who retrieve them.
type SendHandler struct {
	store     store.Store
	blockSize int
}

// NewSendHandler creates a SendHandler writing blockSize bytes at a time.
func NewSendHandler(st store.Store, blockSize int) *SendHandler {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &SendHandler{store: st, blockSize: blockSize}
}

// Handle implements server.Handler. The stored request is removed whatever
// the outcome.
func (h *SendHandler) Handle(ctx context.Context, req *server.Request) ([]byte, error) {
	checksum := string(req.Payload)
	if !isChecksum(checksum) {
		return nil, fmt.Errorf("%w: checksum %q", qerr.ErrInvalidData, checksum)
	}
	logger := logrus.WithFields(logrus.Fields{
		"function": "Handle",
		"origin":   req.Origin,
		"checksum": checksum,
	})

	fr, found, err := h.store.FileRequest(req.Mask, checksum, true)
	if err != nil {
		return nil, err
	}
	if !found {
		logger.Warn("File transfer request does not exist")
		return wire.Nonexistent.Bytes(), nil
	}
	defer func() {
		if err := h.store.DeleteFileRequests(fr.ID); err != nil {
			logger.WithError(err).Warn("Failed to delete file request")
		}
	}()

	current, _, err := crypto.SHA1File(fr.Name)
	if os.IsNotExist(err) {
		logger.WithField("path", fr.Name).Warn("File no longer exists")
		return wire.Nonexistent.Bytes(), nil
	}
	if err != nil {
		return nil, err
	}
	if current != checksum {
		logger.WithFields(logrus.Fields{
			"path":    fr.Name,
			"current": current,
		}).Warn("File has been modified")
		return wire.ModifiedFile.Bytes(), nil
	}

	t := NewTransfer(req.Origin, checksum, uint64(fr.Size), Sending)
	t.start(fr.Name)
	err = h.stream(req.Conn, fr.Name, t)
	t.complete(err)
	return nil, err
}

func (h *SendHandler) stream(conn *transport.Conn, path string, t *Transfer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, h.blockSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			conn.SetWriteDeadline(time.Now().Add(transport.DefaultWriteTimeout))
			if _, werr := conn.Write(buf[:n]); werr != nil {
				return werr
			}
			t.record(n)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

