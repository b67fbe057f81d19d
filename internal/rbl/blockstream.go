package rbl

import (
	"encoding/binary"
	"hash/crc32"
)

// Code partitions are stored on flash as 34-byte blocks: 32 payload bytes
// followed by a big-endian CRC-16 computed over them. The bootloader
// verifies these CRCs when mapping the partition, so a dump of a code
// partition carries them inline.

// BlockSize is the payload size of one CRC-protected flash block.
const BlockSize = 32

// BlockSizeWithCRC is the on-flash size of one block including its CRC.
const BlockSizeWithCRC = BlockSize + 2

// CRC16 computes the CRC-16/CCITT-FALSE checksum the flash blocks use:
// polynomial 0x1021, initial value 0xFFFF, no reflection.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// CheckBlock reports whether the 32-byte block matches its stored CRC.
func CheckBlock(block, crc []byte) bool {
	if len(block) != BlockSize || len(crc) != 2 {
		return false
	}
	return CRC16(block) == binary.BigEndian.Uint16(crc)
}

// StripBlockCRC removes the interleaved CRC-16 bytes from a with-CRC
// stream, returning the concatenated payload blocks and the count of
// blocks whose CRC did not match. A trailing partial block is kept as is.
func StripBlockCRC(data []byte) (payload []byte, badBlocks int) {
	payload = make([]byte, 0, len(data)/BlockSizeWithCRC*BlockSize+BlockSize)
	for len(data) >= BlockSizeWithCRC {
		if !CheckBlock(data[:BlockSize], data[BlockSize:BlockSizeWithCRC]) {
			badBlocks++
		}
		payload = append(payload, data[:BlockSize]...)
		data = data[BlockSizeWithCRC:]
	}
	if len(data) > 0 {
		payload = append(payload, data...)
	}
	return payload, badBlocks
}

// PayloadFromBlocks extracts h's payload from a CRC-interleaved flash
// window, normally the whole partition the header names. The CRC-16 bytes
// are stripped, the payload is cut to the package size, unencoded padding
// is restored and the result is checked against the header's payload CRC.
// Reports false when the window is too short or the CRC does not match.
func (h Header) PayloadFromBlocks(window []byte) ([]byte, bool) {
	stripped, _ := StripBlockCRC(window)
	if int(h.SizePackage) > len(stripped) {
		return nil, false
	}
	payload := append([]byte(nil), stripped[:h.SizePackage]...)
	restorePadding(h, payload)
	if crc32.ChecksumIEEE(payload) != h.PayloadCRC {
		return nil, false
	}
	return payload, true
}

// AppendBlockCRC interleaves CRC-16 bytes into payload, producing the
// with-CRC representation. The payload length must be a multiple of
// BlockSize; callers pad with 0xFF first.
func AppendBlockCRC(payload []byte) []byte {
	out := make([]byte, 0, len(payload)/BlockSize*BlockSizeWithCRC)
	for len(payload) >= BlockSize {
		out = append(out, payload[:BlockSize]...)
		out = binary.BigEndian.AppendUint16(out, CRC16(payload[:BlockSize]))
		payload = payload[BlockSize:]
	}
	return out
}
