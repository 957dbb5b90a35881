package wire

import "strconv"

// SignedFrame returns cmd ‖ base85(signed) ‖ newline.
func SignedFrame(cmd Command, signed []byte) []byte {
	enc := Encode(signed)
	out := make([]byte, 0, 8+len(enc)+1)
	out = append(out, cmd.Bytes()...)
	out = append(out, enc...)
	return append(out, End)
}

// RawFrame returns payload prefixed by cmd when cmd is non-zero. No
// terminator is added.
func RawFrame(cmd Command, payload []byte) []byte {
	if cmd == 0 {
		return append([]byte(nil), payload...)
	}
	out := make([]byte, 0, 8+len(payload))
	out = append(out, cmd.Bytes()...)
	return append(out, payload...)
}

// LengthPrefixed returns the decimal length of data, a newline, then data.
func LengthPrefixed(data []byte) []byte {
	out := strconv.AppendInt(nil, int64(len(data)), 10)
	out = append(out, End)
	return append(out, data...)
}

// Line returns data terminated by a newline.
func Line(data []byte) []byte {
	out := make([]byte, 0, len(data)+1)
	out = append(out, data...)
	return append(out, End)
}
