package file

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cbrunker/quip/limits"
	"github.com/cbrunker/quip/qerr"
	"github.com/cbrunker/quip/wire"
)

// Offer announces a file to a friend.
type Offer struct {
	Name     string
	Size     int64
	Checksum string
}

// Marshal returns name U+0092 size U+0092 checksum.
func (o Offer) Marshal() []byte {
	sep := []byte(wire.ValueSeparator)
	return bytes.Join([][]byte{
		[]byte(o.Name),
		[]byte(strconv.FormatInt(o.Size, 10)),
		[]byte(o.Checksum),
	}, sep)
}

// ParseOffer parses an offer and reduces its name to a safe base name.
func ParseOffer(data []byte) (Offer, error) {
	parts := bytes.Split(data, []byte(wire.ValueSeparator))
	if len(parts) != 3 {
		return Offer{}, fmt.Errorf("%w: offer has %d fields", qerr.ErrInvalidData, len(parts))
	}
	size, err := strconv.ParseInt(string(parts[1]), 10, 64)
	if err != nil || size < 0 {
		return Offer{}, fmt.Errorf("%w: offer size %q", qerr.ErrInvalidData, parts[1])
	}
	checksum := string(parts[2])
	if !isChecksum(checksum) {
		return Offer{}, fmt.Errorf("%w: offer checksum %q", qerr.ErrInvalidData, checksum)
	}
	name, err := SafeName(string(parts[0]))
	if err != nil {
		return Offer{}, fmt.Errorf("%w: offer name: %v", qerr.ErrInvalidData, err)
	}
	return Offer{Name: name, Size: size, Checksum: checksum}, nil
}

func isChecksum(s string) bool {
	if len(s) != limits.ChecksumLength {
		return false
	}
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

var (
	// ErrDirectoryTraversal reports a path that climbs out of its directory.
	ErrDirectoryTraversal = errors.New("path contains directory traversal")
	// ErrFileNameTooLong reports a name longer than limits.MaxFileNameLength.
	ErrFileNameTooLong = errors.New("file name too long")
)

// ValidatePath cleans a local path and rejects any ".." element.
func ValidatePath(path string) (string, error) {
	clean := filepath.Clean(path)
	for _, part := range strings.Split(filepath.ToSlash(clean), "/") {
		if part == ".." {
			return "", ErrDirectoryTraversal
		}
	}
	return clean, nil
}

// SafeName reduces a name chosen by a peer to a bare base name.
func SafeName(name string) (string, error) {
	base := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(name, "\\", "/")))
	switch {
	case base == "/" || base == "." || base == "..":
		return "", ErrDirectoryTraversal
	case len(base) > limits.MaxFileNameLength:
		return "", ErrFileNameTooLong
	}
	return base, nil
}
