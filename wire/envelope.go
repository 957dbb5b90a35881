package wire

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/cbrunker/quip/limits"
	"github.com/cbrunker/quip/qerr"
)

// Field widths of the signed envelope body.
const (
	TimestampLength = 10
	ChainLength     = limits.ChecksumLength
	IDLength        = limits.UUIDLength

	// MinEnvelopeLength is the size of an envelope with an empty payload.
	MinEnvelopeLength = TimestampLength + ChainLength + IDLength + limits.CommandLength + IDLength
)

// Envelope is the unit signed for every authenticated exchange. On the wire
// the fields appear as timestamp, chain, destination, payload, command, origin.
type Envelope struct {
	Timestamp   int64
	Chain       string
	Destination string
	Payload     []byte
	Command     Command
	Origin      string
}

// Body returns the bytes folded into the hash chain: payload then command.
func (e *Envelope) Body() []byte {
	return ChainInput(e.Payload, e.Command)
}

// ChainInput returns payload followed by the 8-byte command code.
func ChainInput(payload []byte, cmd Command) []byte {
	out := make([]byte, 0, len(payload)+limits.CommandLength)
	out = append(out, payload...)
	return append(out, cmd.Bytes()...)
}

// Marshal concatenates the envelope fields. Field widths are validated.
func (e *Envelope) Marshal() ([]byte, error) {
	if e.Timestamp < 0 || e.Timestamp > 9999999999 {
		return nil, fmt.Errorf("%w: timestamp %d out of range", qerr.ErrInvalidClientData, e.Timestamp)
	}
	if len(e.Chain) != ChainLength {
		return nil, fmt.Errorf("%w: chain length %d", qerr.ErrInvalidClientData, len(e.Chain))
	}
	if len(e.Destination) != IDLength || len(e.Origin) != IDLength {
		return nil, fmt.Errorf("%w: destination and origin must be %d bytes", qerr.ErrInvalidClientData, IDLength)
	}

	var buf bytes.Buffer
	buf.Grow(MinEnvelopeLength + len(e.Payload))
	fmt.Fprintf(&buf, "%0*d", TimestampLength, e.Timestamp)
	buf.WriteString(e.Chain)
	buf.WriteString(e.Destination)
	buf.Write(e.Payload)
	buf.Write(e.Command.Bytes())
	buf.WriteString(e.Origin)
	return buf.Bytes(), nil
}

// UnmarshalEnvelope splits a verified envelope body into its fields.
func UnmarshalEnvelope(b []byte) (*Envelope, error) {
	if len(b) < MinEnvelopeLength {
		return nil, fmt.Errorf("%w: envelope length %d below %d", qerr.ErrInvalidData, len(b), MinEnvelopeLength)
	}

	ts, err := strconv.ParseInt(string(b[:TimestampLength]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: timestamp: %v", qerr.ErrInvalidData, err)
	}
	rest := b[TimestampLength:]
	chain := string(rest[:ChainLength])
	rest = rest[ChainLength:]
	dest := string(rest[:IDLength])
	rest = rest[IDLength:]

	origin := string(rest[len(rest)-IDLength:])
	rest = rest[:len(rest)-IDLength]
	cmd, err := ParseCommand(rest[len(rest)-limits.CommandLength:])
	if err != nil {
		return nil, fmt.Errorf("%w: trailer: %v", qerr.ErrInvalidData, err)
	}
	payload := append([]byte(nil), rest[:len(rest)-limits.CommandLength]...)

	return &Envelope{
		Timestamp:   ts,
		Chain:       chain,
		Destination: dest,
		Payload:     payload,
		Command:     cmd,
		Origin:      origin,
	}, nil
}

// OriginOf returns the trailing origin id of an envelope, which a receiver
// needs before it can choose the key to verify with.
func OriginOf(b []byte) (string, error) {
	if len(b) < IDLength {
		return "", fmt.Errorf("%w: body too short for origin", qerr.ErrInvalidData)
	}
	return string(b[len(b)-IDLength:]), nil
}
