package wire

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/cbrunker/quip/limits"
	"github.com/cbrunker/quip/qerr"
)

// Reader performs the bounded reads of the peer protocol over a stream.
type Reader struct {
	r       *bufio.Reader
	maxLine int
}

// NewReader wraps r with a Reader using limits.MaxLineLength.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 4096), maxLine: limits.MaxLineLength}
}

// Read implements io.Reader so buffered bytes are not lost when streaming.
func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	return n, classify(err)
}

// Buffered returns the number of bytes already read from the stream.
func (r *Reader) Buffered() int {
	return r.r.Buffered()
}

// ReadCommand reads exactly eight bytes and parses them as a command. The raw
// bytes are returned with the error so callers can report what arrived.
func (r *Reader) ReadCommand() (Command, []byte, error) {
	raw, err := r.ReadExact(limits.CommandLength)
	if err != nil {
		return 0, raw, err
	}
	cmd, err := ParseCommand(raw)
	return cmd, raw, err
}

// ReadLine reads up to and including a newline and returns the line without
// it. Lines longer than the bound fail with qerr.ErrInvalidData.
func (r *Reader) ReadLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.r.ReadSlice(End)
		if len(line)+len(chunk) > r.maxLine+1 {
			return nil, fmt.Errorf("%w: line exceeds %d bytes", qerr.ErrInvalidData, r.maxLine)
		}
		line = append(line, chunk...)
		if err == nil {
			return line[:len(line)-1], nil
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return line, classify(err)
		}
	}
}

// ReadExact reads exactly n bytes.
func (r *Reader) ReadExact(n int) ([]byte, error) {
	buf := make([]byte, n)
	read, err := io.ReadFull(r.r, buf)
	if err != nil {
		return buf[:read], classify(err)
	}
	return buf, nil
}

// ReadUpTo performs a single read of at most n bytes.
func (r *Reader) ReadUpTo(n int) ([]byte, error) {
	buf := make([]byte, n)
	read, err := r.r.Read(buf)
	if read > 0 {
		return buf[:read], nil
	}
	return nil, classify(err)
}

// ReadFlag reads a single boolean marker byte. A failure sentinel already
// buffered in place of the marker is consumed and returned as its error.
func (r *Reader) ReadFlag() (bool, error) {
	b, err := r.r.ReadByte()
	if err != nil {
		return false, classify(err)
	}
	if b != False && r.r.Buffered() >= limits.CommandLength-1 {
		rest, _ := r.r.Peek(limits.CommandLength - 1)
		cmd, err := ParseCommand(append([]byte{b}, rest...))
		if err == nil && cmd.Err() != nil {
			r.r.Discard(len(rest))
			return false, cmd.Err()
		}
	}
	return b == True, nil
}

// ReadLengthPrefixed reads a decimal length line then exactly that many
// bytes. Lengths above max fail with qerr.ErrInvalidData.
func (r *Reader) ReadLengthPrefixed(max int) ([]byte, error) {
	line, err := r.ReadLine()
	if err != nil {
		return nil, err
	}
	size, err := strconv.Atoi(string(bytes.TrimSpace(line)))
	if err != nil || size < 0 {
		return nil, fmt.Errorf("%w: bad length %q", qerr.ErrInvalidData, line)
	}
	if size > max {
		return nil, fmt.Errorf("%w: length %d exceeds %d", qerr.ErrInvalidData, size, max)
	}
	return r.ReadExact(size)
}

// classify maps deadline expiry onto qerr.ErrTimeout and leaves other
// errors untouched.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", qerr.ErrTimeout, err)
	}
	return err
}
