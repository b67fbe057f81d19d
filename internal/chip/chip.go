// Package chip holds the per-variant protocol tables for the BK7231 family.
//
// Preamble bytes, supported command sets, chunk size and bootloader
// identification CRCs are bootloader ROM constants. They are collected here,
// keyed by chip variant, so the rest of the code never hard-codes one
// variant's values.
package chip

import "fmt"

// Type identifies a chip variant by its SCTRL_CHIP_ID register value.
type Type uint32

const (
	BK7231Q Type = 0x7231
	BK7231T Type = 0x7231A
	BK7231N Type = 0x7231C
	BK7252  Type = 0x7252
)

// String returns the marketing name of the chip variant
func (t Type) String() string {
	switch t {
	case BK7231Q:
		return "BK7231Q"
	case BK7231T:
		return "BK7231T"
	case BK7231N:
		return "BK7231N"
	case BK7252:
		return "BK7252"
	default:
		return fmt.Sprintf("unknown(0x%X)", uint32(t))
	}
}

// Protocol is the wire-protocol table for one bootloader family.
type Protocol struct {
	// Name identifies the command set (FULL, BASIC_BEKEN, BASIC_TUYA).
	Name string

	// CommandPreamble and ResponsePreamble are the frame marker bytes.
	CommandPreamble  []byte
	ResponsePreamble []byte

	// ChunkSize is the native flash transfer unit; also the erase/page
	// unit writes must align to.
	ChunkSize int

	// Commands is the set of command ids this bootloader accepts.
	Commands map[byte]bool
}

// Supports reports whether the bootloader accepts the given command id.
func (p *Protocol) Supports(code byte) bool {
	return p.Commands[code]
}

func commandSet(codes ...byte) map[byte]bool {
	m := make(map[byte]bool, len(codes))
	for _, c := range codes {
		m[c] = true
	}
	return m
}

// The three known bootloader command sets. All share the same framing and
// 4 KiB flash pages; they differ only in which commands are implemented.
var (
	// Full is the BK7231N BootROM protocol.
	Full = &Protocol{
		Name:             "FULL",
		CommandPreamble:  []byte{0x01, 0xE0, 0xFC},
		ResponsePreamble: []byte{0x04, 0x0E},
		ChunkSize:        4096,
		Commands: commandSet(
			0x01, 0x03, 0x0E, 0x0F, 0x10, // WriteReg, ReadReg, Reboot, SetBaudRate, CheckCRC
			0x06, 0x07, 0x09, 0x0B, 0x0C, 0x0D, // flash read/write/erase/SR
		),
	}

	// BasicBeken is the minimal bootloader protocol on BK7231Q/BK7252.
	BasicBeken = &Protocol{
		Name:             "BASIC_BEKEN",
		CommandPreamble:  []byte{0x01, 0xE0, 0xFC},
		ResponsePreamble: []byte{0x04, 0x0E},
		ChunkSize:        4096,
		Commands: commandSet(
			0x0E, 0x0F, 0x10,
			0x06, 0x07, 0x09, 0x0B,
		),
	}

	// BasicTuya is the Tuya-built BK7231T bootloader; BasicBeken plus the
	// boot version query.
	BasicTuya = &Protocol{
		Name:             "BASIC_TUYA",
		CommandPreamble:  []byte{0x01, 0xE0, 0xFC},
		ResponsePreamble: []byte{0x04, 0x0E},
		ChunkSize:        4096,
		Commands: commandSet(
			0x0E, 0x0F, 0x10, 0x11,
			0x06, 0x07, 0x09, 0x0B,
		),
	}
)
