package rbl

import (
	"bytes"
	"hash/crc32"
	"testing"
)

func TestCRC16CheckValue(t *testing.T) {
	// CRC-16/CCITT-FALSE check value for "123456789".
	if got := CRC16([]byte("123456789")); got != 0x29B1 {
		t.Errorf("CRC16() = 0x%04X, want 0x29B1", got)
	}
}

func TestBlockCRCRoundTrip(t *testing.T) {
	payload := pattern(4 * BlockSize)

	withCRC := AppendBlockCRC(payload)
	if len(withCRC) != 4*BlockSizeWithCRC {
		t.Fatalf("AppendBlockCRC() = %d bytes, want %d", len(withCRC), 4*BlockSizeWithCRC)
	}

	stripped, bad := StripBlockCRC(withCRC)
	if bad != 0 {
		t.Errorf("StripBlockCRC() reported %d bad blocks, want 0", bad)
	}
	if !bytes.Equal(stripped, payload) {
		t.Error("StripBlockCRC() payload mismatch")
	}
}

func TestStripBlockCRCCountsBadBlocks(t *testing.T) {
	withCRC := AppendBlockCRC(pattern(3 * BlockSize))
	// Corrupt the second block's stored CRC.
	withCRC[BlockSizeWithCRC+BlockSize] ^= 0xFF

	stripped, bad := StripBlockCRC(withCRC)
	if bad != 1 {
		t.Errorf("StripBlockCRC() reported %d bad blocks, want 1", bad)
	}
	// Payload bytes still come through; the caller decides what to do.
	if len(stripped) != 3*BlockSize {
		t.Errorf("StripBlockCRC() = %d bytes, want %d", len(stripped), 3*BlockSize)
	}
}

func TestPayloadFromBlocks(t *testing.T) {
	raw := pattern(0x3E0)
	packaged := append(append([]byte(nil), raw...), bytes.Repeat([]byte{0x20}, 0x20)...)
	h := Header{
		Algo:        AlgoNone,
		Name:        "app",
		PayloadCRC:  crc32.ChecksumIEEE(packaged),
		SizeRaw:     uint32(len(raw)),
		SizePackage: uint32(len(packaged)),
	}

	// On flash the payload sits as checksummed blocks with the package
	// padding clobbered by erased flash, then erased filler to the end
	// of the partition.
	clobbered := append([]byte(nil), packaged...)
	for i := len(raw); i < len(clobbered); i++ {
		clobbered[i] = 0xFF
	}
	window := append(AppendBlockCRC(clobbered), erased(0x100)...)

	got, ok := h.PayloadFromBlocks(window)
	if !ok {
		t.Fatal("PayloadFromBlocks() should validate the reconstructed payload")
	}
	if !bytes.Equal(got, packaged) {
		t.Error("PayloadFromBlocks() payload mismatch")
	}

	if _, ok := h.PayloadFromBlocks(window[:0x40]); ok {
		t.Error("PayloadFromBlocks() should reject a window shorter than the package")
	}
}

func TestStripBlockCRCKeepsPartialTail(t *testing.T) {
	withCRC := AppendBlockCRC(pattern(BlockSize))
	tail := []byte{0x01, 0x02, 0x03}
	withCRC = append(withCRC, tail...)

	stripped, _ := StripBlockCRC(withCRC)
	if !bytes.Equal(stripped[BlockSize:], tail) {
		t.Error("StripBlockCRC() should keep a trailing partial block")
	}
}
