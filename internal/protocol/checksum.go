package protocol

import "hash/crc32"

// Checksum computes the 8-bit frame trailer over command id + payload.
// The bootloader uses an XOR running sum, not a cryptographic hash.
func Checksum(code byte, payload []byte) byte {
	sum := code
	for _, b := range payload {
		sum ^= b
	}
	return sum
}

// RangeCRC computes the CRC-32 variant the bootloader reports for flash
// ranges: polynomial 0xEDB88320, initial value 0xFFFFFFFF, no final XOR.
// Equivalent to the bit-inverse of the standard IEEE checksum.
func RangeCRC(data []byte) uint32 {
	return ^crc32.ChecksumIEEE(data)
}
