package rbl

import (
	"bytes"
	"hash/crc32"
	"reflect"
	"testing"
)

// buildContainer serializes a complete container for test dumps.
func buildContainer(name string, algo Algo, payload []byte) []byte {
	h := Header{
		Algo:        algo,
		Timestamp:   0x60000000,
		Name:        name,
		Version:     "1.0.0",
		SN:          "0123456789ABCDEF01234567",
		PayloadCRC:  crc32.ChecksumIEEE(payload),
		SizeRaw:     uint32(len(payload)),
		SizePackage: uint32(len(payload)),
	}
	return append(h.Encode(), payload...)
}

func erased(n int) []byte {
	return bytes.Repeat([]byte{0xFF}, n)
}

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := Header{
		Algo:        AlgoCryptXOR,
		Timestamp:   0x12345678,
		Name:        "app",
		Version:     "2.9.16",
		SN:          "sn-0001",
		PayloadCRC:  0xDEADBEEF,
		Hash:        0x0BADF00D,
		SizeRaw:     0x1000,
		SizePackage: 0x1100,
	}

	encoded := h.Encode()
	if len(encoded) != HeaderSize {
		t.Fatalf("Encode() = %d bytes, want %d", len(encoded), HeaderSize)
	}

	got, err := DecodeHeader(encoded)
	if err != nil {
		t.Fatalf("DecodeHeader() error = %v", err)
	}
	// InfoCRC is computed during Encode; align before comparing.
	h.InfoCRC = got.InfoCRC
	if !reflect.DeepEqual(got, h) {
		t.Errorf("DecodeHeader() = %+v, want %+v", got, h)
	}
}

func TestDecodeHeaderRejectsBadCRC(t *testing.T) {
	encoded := Header{Name: "app", SizeRaw: 16, SizePackage: 16}.Encode()
	encoded[12] ^= 0x01 // flip a name byte, invalidating the header CRC

	if _, err := DecodeHeader(encoded); err == nil {
		t.Error("DecodeHeader() should reject a corrupted header")
	}
}

func TestDecodeHeaderRejectsBadMagic(t *testing.T) {
	encoded := Header{Name: "app"}.Encode()
	encoded[0] = 'X'

	if _, err := DecodeHeader(encoded); err == nil {
		t.Error("DecodeHeader() should reject wrong magic")
	}
}

func TestAlgoString(t *testing.T) {
	tests := []struct {
		algo Algo
		want string
	}{
		{AlgoNone, "NONE"},
		{AlgoCryptXOR, "CRYPT_XOR"},
		{AlgoCryptAES256, "CRYPT_AES256"},
		{AlgoCompressGzip, "COMPRESS_GZIP"},
		{AlgoCompressQuickLZ, "COMPRESS_QUICKLZ"},
		{AlgoCompressFastLZ, "COMPRESS_FASTLZ"},
		{Algo(42), "Algo(42)"},
	}
	for _, tt := range tests {
		if got := tt.algo.String(); got != tt.want {
			t.Errorf("Algo(%d).String() = %q, want %q", uint32(tt.algo), got, tt.want)
		}
	}
}

func TestParseStockDumpLayout(t *testing.T) {
	// A 2 MiB dump shaped like a stock device: a bootloader container and
	// an app container whose declared size runs past the end of flash.
	dump := erased(0x200000)

	bootPayload := bytes.Repeat([]byte{0xB0}, 0xDD40)
	copy(dump[0x10F9A:], buildContainer("bootloader", AlgoNone, bootPayload))

	appPayload := bytes.Repeat([]byte{0xA9}, 0xFD340)
	copy(dump[0x129F0A:], buildContainer("app", AlgoNone, appPayload))

	containers := Parse(dump)
	if len(containers) != 2 {
		t.Fatalf("Parse() found %d containers, want 2", len(containers))
	}

	boot := containers[0]
	if boot.Offset != 0x10F9A {
		t.Errorf("containers[0].Offset = 0x%X, want 0x10F9A", boot.Offset)
	}
	if boot.Header.Name != "bootloader" || boot.Header.Algo != AlgoNone {
		t.Errorf("containers[0] = %s/%s, want bootloader/NONE", boot.Header.Name, boot.Header.Algo)
	}
	if boot.Header.SizePackage != 0xDD40 {
		t.Errorf("containers[0].SizePackage = 0x%X, want 0xDD40", boot.Header.SizePackage)
	}
	if boot.Truncated {
		t.Error("bootloader container should not be truncated")
	}
	if !boot.PayloadValid {
		t.Error("bootloader payload should pass its CRC")
	}
	if !bytes.Equal(boot.Payload, bootPayload) {
		t.Error("bootloader payload mismatch")
	}

	app := containers[1]
	if app.Offset != 0x129F0A {
		t.Errorf("containers[1].Offset = 0x%X, want 0x129F0A", app.Offset)
	}
	if app.Header.Name != "app" {
		t.Errorf("containers[1].Name = %q, want app", app.Header.Name)
	}
	if app.Header.SizePackage != 0xFD340 {
		t.Errorf("containers[1].SizePackage = 0x%X, want 0xFD340", app.Header.SizePackage)
	}
	// 0x129F0A + 96 + 0xFD340 overruns the 2 MiB dump.
	if !app.Truncated {
		t.Error("app container should be truncated")
	}
	if app.PayloadValid {
		t.Error("truncated payload must not be reported valid")
	}
	if want := 0x200000 - (0x129F0A + HeaderSize); len(app.Payload) != want {
		t.Errorf("truncated payload is %d bytes, want %d", len(app.Payload), want)
	}
}

func TestParseIsDeterministic(t *testing.T) {
	dump := erased(0x40000)
	copy(dump[0x1000:], buildContainer("app", AlgoNone, pattern(0x800)))
	copy(dump[0x2000:], buildContainer("extra", AlgoNone, pattern(0x100)))

	first := Parse(dump)
	second := Parse(dump)
	if !reflect.DeepEqual(first, second) {
		t.Error("Parse() results differ between runs over the same buffer")
	}
}

func TestScanSkipsFalseMagic(t *testing.T) {
	dump := erased(0x10000)
	// Bare magic bytes inside random content: no valid header follows, so
	// the scanner must pass over them.
	copy(dump[0x100:], Magic)
	copy(dump[0x2000:], buildContainer("app", AlgoNone, pattern(0x200)))

	containers := Parse(dump)
	if len(containers) != 1 {
		t.Fatalf("Parse() found %d containers, want 1", len(containers))
	}
	if containers[0].Offset != 0x2000 {
		t.Errorf("containers[0].Offset = 0x%X, want 0x2000", containers[0].Offset)
	}
}

func TestScanEarlyAbort(t *testing.T) {
	dump := erased(0x8000)
	copy(dump[0x0:], buildContainer("one", AlgoNone, pattern(0x100)))
	copy(dump[0x1000:], buildContainer("two", AlgoNone, pattern(0x100)))

	var seen []string
	for c := range Scan(dump) {
		seen = append(seen, c.Header.Name)
		break
	}
	if len(seen) != 1 || seen[0] != "one" {
		t.Errorf("early abort saw %v, want [one]", seen)
	}
}

func TestParsePaddingReconstruction(t *testing.T) {
	// Unencoded payloads carry PKCS#7-style padding which erased flash
	// clobbers to 0xFF. The parser reconstructs it before the CRC check.
	raw := pattern(0x7F9)
	pad := byte(0x800 - 0x7F9)
	padded := append(append([]byte(nil), raw...), bytes.Repeat([]byte{pad}, int(pad))...)

	h := Header{
		Algo:        AlgoNone,
		Name:        "app",
		PayloadCRC:  crc32.ChecksumIEEE(padded),
		SizeRaw:     uint32(len(raw)),
		SizePackage: uint32(len(padded)),
	}

	dump := erased(0x2000)
	copy(dump, h.Encode())
	copy(dump[HeaderSize:], raw)
	// Padding area stays 0xFF, as read back from flash.

	containers := Parse(dump)
	if len(containers) != 1 {
		t.Fatalf("Parse() found %d containers, want 1", len(containers))
	}
	c := containers[0]
	if !c.PayloadValid {
		t.Error("payload should validate after padding reconstruction")
	}
	if !bytes.Equal(c.Raw(), raw) {
		t.Error("Raw() should strip the package padding")
	}
}

func TestRebuildRoundTrips(t *testing.T) {
	payload := pattern(0x340)
	h := Header{
		Algo:    AlgoNone,
		Name:    "app",
		Version: "1.2.3",
	}

	rebuilt := Rebuild(h, payload)

	containers := Parse(rebuilt)
	if len(containers) != 1 {
		t.Fatalf("rebuilt container did not re-parse, found %d", len(containers))
	}
	c := containers[0]
	if c.Offset != 0 {
		t.Errorf("rebuilt container at offset %d, want 0", c.Offset)
	}
	if !c.PayloadValid {
		t.Error("rebuilt payload CRC should validate")
	}
	if c.Header.SizeRaw != uint32(len(payload)) || c.Header.SizePackage != uint32(len(payload)) {
		t.Error("rebuilt sizes should match the payload written")
	}
	if !bytes.Equal(c.Payload, payload) {
		t.Error("rebuilt payload mismatch")
	}
}

// pattern fills a buffer with a deterministic non-0xFF byte sequence.
func pattern(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i*11 + 5)
	}
	return out
}
