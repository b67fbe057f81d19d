package protocol

import (
	"encoding/binary"
	"fmt"
)

// Frame represents one protocol message: a command or a response.
type Frame struct {
	Code    byte   // Command id
	Payload []byte // Command/response payload
}

// String returns a debug representation of the frame
func (f Frame) String() string {
	return fmt.Sprintf("Frame{code=0x%02X, payload=%d bytes}", f.Code, len(f.Payload))
}

// Codec encodes and decodes frames for one chip variant. The preamble pair
// comes from the variant's protocol table; everything else is shared by the
// whole chip family.
type Codec struct {
	CommandPreamble  []byte
	ResponsePreamble []byte
}

// EncodeCommand serializes a command frame:
// preamble + LE u16 length (code + payload) + code + payload + checksum.
func (c Codec) EncodeCommand(f Frame) []byte {
	return c.encode(c.CommandPreamble, f)
}

// EncodeResponse serializes a response frame with the response preamble.
// Used by device simulators; the real device produces these.
func (c Codec) EncodeResponse(f Frame) []byte {
	return c.encode(c.ResponsePreamble, f)
}

func (c Codec) encode(preamble []byte, f Frame) []byte {
	out := make([]byte, 0, len(preamble)+2+1+len(f.Payload)+1)
	out = append(out, preamble...)
	out = binary.LittleEndian.AppendUint16(out, uint16(1+len(f.Payload)))
	out = append(out, f.Code)
	out = append(out, f.Payload...)
	out = append(out, Checksum(f.Code, f.Payload))
	return out
}

// Decode parses a single frame from data. Either preamble (command or
// response) is accepted, so decode(encode(f)) round-trips.
//
// Returns the frame and the total number of bytes it occupied. Fails with a
// FrameError of kind ErrKindPreamble when neither marker leads the buffer,
// ErrKindLength when fewer bytes are present than the length field declares,
// and ErrKindChecksum when the trailer does not match.
func (c Codec) Decode(data []byte) (Frame, int, error) {
	var preamble []byte
	switch {
	case hasPrefix(data, c.CommandPreamble):
		preamble = c.CommandPreamble
	case hasPrefix(data, c.ResponsePreamble):
		preamble = c.ResponsePreamble
	default:
		return Frame{}, 0, &FrameError{Kind: ErrKindPreamble}
	}

	body := data[len(preamble):]
	if len(body) < 2 {
		return Frame{}, 0, &FrameError{Kind: ErrKindLength, Want: 2, Got: len(body)}
	}
	length := int(binary.LittleEndian.Uint16(body))
	if length < 1 {
		return Frame{}, 0, &FrameError{Kind: ErrKindLength, Want: 1, Got: length}
	}
	// length covers code + payload; one checksum byte follows
	if len(body) < 2+length+1 {
		return Frame{}, 0, &FrameError{Kind: ErrKindLength, Want: length + 1, Got: len(body) - 2}
	}

	code := body[2]
	payload := body[3 : 2+length]
	received := body[2+length]
	if computed := Checksum(code, payload); computed != received {
		return Frame{}, 0, &FrameError{Kind: ErrKindChecksum, Want: int(computed), Got: int(received)}
	}

	consumed := len(preamble) + 2 + length + 1
	f := Frame{Code: code, Payload: append([]byte(nil), payload...)}
	return f, consumed, nil
}

func hasPrefix(data, prefix []byte) bool {
	if len(prefix) == 0 || len(data) < len(prefix) {
		return false
	}
	for i, b := range prefix {
		if data[i] != b {
			return false
		}
	}
	return true
}
