package protocol

import (
	"bytes"
	"testing"
)

func testCodec() Codec {
	return Codec{
		CommandPreamble:  []byte{0x01, 0xE0, 0xFC},
		ResponsePreamble: []byte{0x04, 0x0E},
	}
}

func TestChecksum(t *testing.T) {
	tests := []struct {
		name    string
		code    byte
		payload []byte
		want    byte
	}{
		{"empty payload", 0x00, nil, 0x00},
		{"code only", 0x0E, nil, 0x0E},
		{"code and one byte", 0x0E, []byte{0xA5}, 0x0E ^ 0xA5},
		{"self-cancelling payload", 0x10, []byte{0x55, 0x55}, 0x10},
		{"mixed", 0x07, []byte{0x01, 0x02, 0x03}, 0x07 ^ 0x01 ^ 0x02 ^ 0x03},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Checksum(tt.code, tt.payload); got != tt.want {
				t.Errorf("Checksum() = 0x%02X, want 0x%02X", got, tt.want)
			}
		})
	}
}

func TestRangeCRC(t *testing.T) {
	// hash/crc32 of "123456789" is the classic check value 0xCBF43926;
	// the device reports it without the final inversion.
	got := RangeCRC([]byte("123456789"))
	if want := uint32(0xCBF43926 ^ 0xFFFFFFFF); got != want {
		t.Errorf("RangeCRC() = 0x%08X, want 0x%08X", got, want)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	codec := testCodec()

	frames := []Frame{
		{Code: CodeLinkCheck},
		{Code: CodeReboot, Payload: []byte{RebootMagic}},
		{Code: CodeFlashRead4K, Payload: []byte{0x00, 0x10, 0x00, 0x00}},
		{Code: CodeFlashWrite4K, Payload: bytes.Repeat([]byte{0xA7}, 4100)},
		{Code: CodeCheckCRC, Payload: make([]byte, 8)},
	}

	for _, f := range frames {
		for name, encoded := range map[string][]byte{
			"command":  codec.EncodeCommand(f),
			"response": codec.EncodeResponse(f),
		} {
			got, consumed, err := codec.Decode(encoded)
			if err != nil {
				t.Fatalf("Decode(%s 0x%02X) error = %v", name, f.Code, err)
			}
			if consumed != len(encoded) {
				t.Errorf("Decode(%s 0x%02X) consumed = %d, want %d", name, f.Code, consumed, len(encoded))
			}
			if got.Code != f.Code || !bytes.Equal(got.Payload, f.Payload) {
				t.Errorf("Decode(%s 0x%02X) round trip mismatch", name, f.Code)
			}
		}
	}
}

func TestDecodeChecksumMismatch(t *testing.T) {
	codec := testCodec()
	f := Frame{Code: CodeFlashRead4K, Payload: []byte{0x00, 0x10, 0x00, 0x00}}
	encoded := codec.EncodeCommand(f)

	// Flipping any single payload byte must be caught by the checksum.
	payloadStart := len(codec.CommandPreamble) + 2 + 1
	for i := payloadStart; i < len(encoded)-1; i++ {
		corrupted := append([]byte(nil), encoded...)
		corrupted[i] ^= 0x20

		_, _, err := codec.Decode(corrupted)
		if err == nil {
			t.Fatalf("Decode() accepted frame with byte %d corrupted", i)
		}
		if !IsFrameError(err, ErrKindChecksum) {
			t.Errorf("Decode() error = %v, want checksum frame error", err)
		}
	}
}

func TestDecodeBadPreamble(t *testing.T) {
	codec := testCodec()
	data := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x00}

	_, _, err := codec.Decode(data)
	if !IsFrameError(err, ErrKindPreamble) {
		t.Errorf("Decode() error = %v, want preamble frame error", err)
	}
}

func TestDecodeIncomplete(t *testing.T) {
	codec := testCodec()
	encoded := codec.EncodeCommand(Frame{Code: CodeFlashRead4K, Payload: []byte{0x00, 0x10, 0x00, 0x00}})

	// Every truncation of a valid frame is reported as a length error so
	// the reader knows to wait for more bytes.
	for cut := 1; cut < len(encoded); cut++ {
		_, _, err := codec.Decode(encoded[:cut])
		if err == nil {
			t.Fatalf("Decode() accepted truncated frame of %d bytes", cut)
		}
		if cut > len(codec.CommandPreamble) && !IsFrameError(err, ErrKindLength) {
			t.Errorf("Decode(cut=%d) error = %v, want length frame error", cut, err)
		}
	}
}

func TestDecodeAcceptsEitherPreamble(t *testing.T) {
	codec := testCodec()
	f := Frame{Code: CodeLinkCheckResp, Payload: []byte{0x00}}

	cmd := codec.EncodeCommand(f)
	resp := codec.EncodeResponse(f)
	if bytes.Equal(cmd, resp) {
		t.Fatal("command and response encodings should differ in preamble")
	}
	for _, encoded := range [][]byte{cmd, resp} {
		if _, _, err := codec.Decode(encoded); err != nil {
			t.Errorf("Decode() error = %v", err)
		}
	}
}
