package wire

import (
	"encoding/ascii85"
	"fmt"

	"github.com/cbrunker/quip/qerr"
)

// spaceGroup is the Ascii85 encoding of four space bytes.
const spaceGroup = "+<VdL"

// Encode returns the Ascii85 encoding of src. Four NUL bytes fold to 'z' and
// four spaces fold to 'y'.
func Encode(src []byte) []byte {
	out := make([]byte, 0, ascii85.MaxEncodedLen(len(src)))
	group := make([]byte, 5)
	for len(src) > 0 {
		n := 4
		if len(src) < n {
			n = len(src)
		}
		chunk := src[:n]
		src = src[n:]

		if n == 4 && string(chunk) == "    " {
			out = append(out, 'y')
			continue
		}
		w := ascii85.Encode(group, chunk)
		out = append(out, group[:w]...)
	}
	return out
}

// Decode reverses Encode. Whitespace is ignored. A fold character inside a
// group, or any other malformed input, yields qerr.ErrInvalidData.
func Decode(src []byte) ([]byte, error) {
	expanded := make([]byte, 0, len(src))
	pos := 0
	for _, c := range src {
		switch {
		case c <= ' ':
			continue
		case c == 'y' || c == 'z':
			if pos != 0 {
				return nil, fmt.Errorf("%w: %q inside base85 group", qerr.ErrInvalidData, c)
			}
			if c == 'y' {
				expanded = append(expanded, spaceGroup...)
			} else {
				expanded = append(expanded, c)
			}
		default:
			expanded = append(expanded, c)
			pos = (pos + 1) % 5
		}
	}
	if pos == 1 {
		return nil, fmt.Errorf("%w: truncated base85 group", qerr.ErrInvalidData)
	}

	dst := make([]byte, 4*len(expanded))
	n, _, err := ascii85.Decode(dst, expanded, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", qerr.ErrInvalidData, err)
	}
	return dst[:n], nil
}
