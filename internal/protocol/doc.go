// Package protocol implements the BK7231 bootloader ROM wire protocol framing.
//
// The bootloader exchanges byte-oriented frames over UART with this structure:
//   - Preamble: fixed marker bytes (0x01 0xE0 0xFC for commands,
//     0x04 0x0E for responses)
//   - Length: 2 bytes (little-endian), covering command id + payload
//   - Command id: 1 byte
//   - Payload: variable length
//   - Checksum: 1 byte (XOR running sum over command id + payload)
//
// The codec is a pure transformation layer: encoding and decoding never touch
// the transport. All I/O belongs to the link controller and the flash engine.
//
// Exact preamble bytes, command ids and the checksum algorithm are bootloader
// ROM constants and must match the hardware bit-for-bit; they are grouped per
// chip variant in the chip package and must never be tuned.
package protocol
