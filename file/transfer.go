package file

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cbrunker/quip/crypto"
)

// Defaults for retrieval and streaming.
const (
	// DefaultMaxChunk is the largest read a receiver performs before writing to disk.
	DefaultMaxChunk = 524288

	// DefaultBlockSize is the size of each write a sender performs.
	DefaultBlockSize = 4098
)

// Direction tells whether this side sends or receives the file.
type Direction uint8

const (
	Receiving Direction = iota
	Sending
)

// TransferState is the lifecycle of a Transfer.
type TransferState uint8

const (
	TransferPending TransferState = iota
	TransferRunning
	TransferDone
	TransferFailed
)

var stateNames = [...]string{"pending", "running", "done", "failed"}

func (s TransferState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Transfer follows one retrieval from either end. Exported fields are
// written only by the goroutine moving the file; read them after the
// transfer finished or through the accessor methods.
type Transfer struct {
	Peer      string
	Checksum  string
	Direction Direction
	// Path is the local file. A receiver sets it once a free destination
	// name has been chosen.
	Path        string
	FileSize    uint64
	State       TransferState
	Started     time.Time
	Transferred uint64
	Error       error

	mu         sync.Mutex
	clock      crypto.TimeProvider
	chunks     int
	onProgress func(uint64)
	onDone     func(error)
}

// NewTransfer returns a pending transfer of size bytes.
func NewTransfer(peer, checksum string, size uint64, dir Direction) *Transfer {
	return &Transfer{
		Peer:      peer,
		Checksum:  checksum,
		Direction: dir,
		FileSize:  size,
		clock:     crypto.DefaultTimeProvider{},
	}
}

// SetTimeProvider replaces the clock used for rate estimates.
func (t *Transfer) SetTimeProvider(tp crypto.TimeProvider) {
	t.mu.Lock()
	t.clock = tp
	t.mu.Unlock()
}

// OnProgress registers fn to receive the running byte count after each chunk.
func (t *Transfer) OnProgress(fn func(transferred uint64)) {
	t.mu.Lock()
	t.onProgress = fn
	t.mu.Unlock()
}

// OnComplete registers fn to run once with the final error, nil on success.
func (t *Transfer) OnComplete(fn func(error)) {
	t.mu.Lock()
	t.onDone = fn
	t.mu.Unlock()
}

func (t *Transfer) log(function string) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"function":  function,
		"peer":      t.Peer,
		"checksum":  t.Checksum,
		"direction": t.Direction,
	})
}

func (t *Transfer) start(path string) {
	t.mu.Lock()
	t.Path = path
	t.State = TransferRunning
	t.Started = t.clock.Now()
	t.mu.Unlock()

	t.log("start").WithFields(logrus.Fields{
		"path": path,
		"size": t.FileSize,
	}).Info("File transfer started")
}

// record counts one chunk of n bytes and reports progress.
func (t *Transfer) record(n int) {
	t.mu.Lock()
	t.chunks++
	t.Transferred += uint64(n)
	total, fn := t.Transferred, t.onProgress
	t.mu.Unlock()

	if fn != nil {
		fn(total)
	}
}

// add counts bytes that were consumed outside a chunk read.
func (t *Transfer) add(n int) {
	t.mu.Lock()
	t.Transferred += uint64(n)
	t.mu.Unlock()
}

func (t *Transfer) complete(err error) {
	t.mu.Lock()
	t.State = TransferDone
	if err != nil {
		t.State, t.Error = TransferFailed, err
	}
	total, fn := t.Transferred, t.onDone
	t.mu.Unlock()

	entry := t.log("complete").WithField("transferred", total)
	if err != nil {
		entry.WithError(err).Warn("File transfer failed")
	} else {
		entry.Info("File transfer completed")
	}
	if fn != nil {
		fn(err)
	}
}

// Chunks returns the number of chunk reads or writes so far.
func (t *Transfer) Chunks() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.chunks
}

// Percent returns completion in the range 0 to 100. An empty file is 100%
// once done.
func (t *Transfer) Percent() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.FileSize == 0 {
		if t.State == TransferDone {
			return 100
		}
		return 0
	}
	return 100 * float64(t.Transferred) / float64(t.FileSize)
}

// Rate returns the average throughput since the transfer started, in bytes
// per second.
func (t *Transfer) Rate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rate()
}

func (t *Transfer) rate() float64 {
	if t.Started.IsZero() {
		return 0
	}
	elapsed := t.clock.Since(t.Started).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(t.Transferred) / elapsed
}

// Remaining estimates the time left at the current rate. It is zero when
// the transfer is not running.
func (t *Transfer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.rate()
	if t.State != TransferRunning || r <= 0 || t.Transferred >= t.FileSize {
		return 0
	}
	left := float64(t.FileSize-t.Transferred) / r
	return time.Duration(left * float64(time.Second))
}
