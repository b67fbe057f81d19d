// Package devicesim implements an in-memory BK7231 bootloader that speaks
// the real wire protocol through the transport.Transport interface.
//
// Tests drive the link controller and the flash engine against a Device
// instead of hardware. The simulator is deliberately strict: it decodes
// every command frame, verifies its checksum, and answers with properly
// framed responses, so protocol regressions surface as decode failures
// rather than silently passing.
package devicesim

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/tuya-cloudcutter/bk7231tools/internal/chip"
	"github.com/tuya-cloudcutter/bk7231tools/internal/protocol"
)

// FlashSize is the simulated flash capacity (2 MiB, the common part).
const FlashSize = 0x200000

// Device is a scripted BK7231 bootloader. It implements
// transport.Transport; bytes written to it are parsed as command frames and
// responses become readable.
//
// The zero value is not usable; construct with New.
type Device struct {
	Chip     chip.Type
	Protocol *chip.Protocol
	Version  string

	// Flash is the simulated flash array, FlashSize bytes, 0xFF-erased.
	Flash []byte

	// LinkChecksUntilAck makes the device ignore this many link-check
	// commands before acknowledging, simulating a chip that is still
	// booting. Zero answers immediately.
	LinkChecksUntilAck int

	// CorruptReadsAt makes the next N read responses for the given offset
	// carry flipped payload bytes, to exercise the engine's retry path.
	CorruptReadsAt map[uint32]int

	// FailWritesAt makes the next N write responses for the given offset
	// report a non-zero status.
	FailWritesAt map[uint32]int

	// SR is the simulated flash status register (8-bit); write-protect
	// bits live in 0b01111100.
	SR byte

	// BootCRC, when nonzero, is reported verbatim for the CRC query over
	// the first 256 bytes. It lets tests present a known bootloader
	// without carrying the bootloader image. The value is the raw
	// on-wire one, before the 0xFFFFFFFF normalization.
	BootCRC uint32

	// Call counters, for verifying chunk/attempt budgets.
	LinkChecks  int
	ChunkReads  int
	ChunkWrites int
	Erases      int
	CRCQueries  int
	Rebooted    bool

	codec protocol.Codec
	in    bytes.Buffer
	out   bytes.Buffer
}

// New returns a simulated device with erased flash.
func New(p *chip.Protocol, t chip.Type) *Device {
	flash := make([]byte, FlashSize)
	for i := range flash {
		flash[i] = 0xFF
	}
	return &Device{
		Chip:           t,
		Protocol:       p,
		Version:        "1.0.1",
		Flash:          flash,
		CorruptReadsAt: map[uint32]int{},
		FailWritesAt:   map[uint32]int{},
		codec: protocol.Codec{
			CommandPreamble:  p.CommandPreamble,
			ResponsePreamble: p.ResponsePreamble,
		},
	}
}

// LoadFlash copies data into the simulated flash at offset.
func (d *Device) LoadFlash(offset int, data []byte) {
	copy(d.Flash[offset:], data)
}

// Write feeds command bytes into the simulator.
func (d *Device) Write(p []byte) (int, error) {
	d.in.Write(p)
	d.process()
	return len(p), nil
}

// Read pops response bytes. Returns n == 0 when no response is pending,
// which the engine treats as a read timeout.
func (d *Device) Read(p []byte) (int, error) {
	if d.out.Len() == 0 {
		return 0, nil
	}
	return d.out.Read(p)
}

// SetReadTimeout is a no-op; the simulator never blocks.
func (d *Device) SetReadTimeout(time.Duration) error { return nil }

// Drain discards pending response bytes.
func (d *Device) Drain() error {
	d.out.Reset()
	return nil
}

// Close is a no-op.
func (d *Device) Close() error { return nil }

// process decodes complete command frames from the input buffer and
// enqueues responses. Incomplete frames stay buffered until more bytes
// arrive; garbage before a preamble is discarded one byte at a time, the
// way a real UART receiver resynchronizes.
func (d *Device) process() {
	for d.in.Len() > 0 {
		data := d.in.Bytes()
		frame, n, err := d.codec.Decode(data)
		if err != nil {
			if protocol.IsFrameError(err, protocol.ErrKindLength) {
				return // wait for the rest of the frame
			}
			d.in.Next(1)
			continue
		}
		d.in.Next(n)
		d.handle(frame)
	}
}

func (d *Device) handle(f protocol.Frame) {
	if !d.Protocol.Supports(f.Code) && f.Code != protocol.CodeLinkCheck {
		return // unknown command: real bootloaders stay silent
	}
	switch f.Code {
	case protocol.CodeLinkCheck:
		d.LinkChecks++
		if d.LinkChecks <= d.LinkChecksUntilAck {
			return
		}
		d.respond(protocol.CodeLinkCheckResp, []byte{0x00})

	case protocol.CodeFlashRead4K:
		d.ChunkReads++
		start := binary.LittleEndian.Uint32(f.Payload)
		data := d.flashRange(start, uint32(d.Protocol.ChunkSize))
		if d.CorruptReadsAt[start] > 0 {
			d.CorruptReadsAt[start]--
			data = append([]byte(nil), data...)
			data[0] ^= 0xFF
		}
		resp := make([]byte, 0, 5+len(data))
		resp = append(resp, protocol.StatusOK)
		resp = binary.LittleEndian.AppendUint32(resp, start)
		resp = append(resp, data...)
		d.respond(protocol.CodeFlashRead4K, resp)

	case protocol.CodeFlashWrite4K:
		d.ChunkWrites++
		start := binary.LittleEndian.Uint32(f.Payload)
		status := byte(protocol.StatusOK)
		if d.FailWritesAt[start] > 0 {
			d.FailWritesAt[start]--
			status = 0x01
		} else {
			copy(d.Flash[start:], f.Payload[4:])
		}
		resp := make([]byte, 0, 5)
		resp = append(resp, status)
		resp = binary.LittleEndian.AppendUint32(resp, start)
		d.respond(protocol.CodeFlashWrite4K, resp)

	case protocol.CodeFlashErase4K:
		d.Erases++
		start := binary.LittleEndian.Uint32(f.Payload)
		end := int(start) + d.Protocol.ChunkSize
		for i := int(start); i < end && i < len(d.Flash); i++ {
			d.Flash[i] = 0xFF
		}
		resp := make([]byte, 0, 5)
		resp = append(resp, protocol.StatusOK)
		resp = binary.LittleEndian.AppendUint32(resp, start)
		d.respond(protocol.CodeFlashErase4K, resp)

	case protocol.CodeCheckCRC:
		d.CRCQueries++
		start := binary.LittleEndian.Uint32(f.Payload[0:4])
		end := binary.LittleEndian.Uint32(f.Payload[4:8])
		if d.BootCRC != 0 && start == 0 && end == 256 {
			d.respond(protocol.CodeCheckCRC, binary.LittleEndian.AppendUint32(nil, d.BootCRC))
			return
		}
		// BK7231N computes the range end-inclusive, the others exclusive.
		if d.Chip == chip.BK7231N {
			end++
		}
		crc := protocol.RangeCRC(d.flashRange(start, end-start))
		resp := binary.LittleEndian.AppendUint32(nil, crc)
		d.respond(protocol.CodeCheckCRC, resp)

	case protocol.CodeFlashReadSR:
		// payload: register read opcode
		d.respond(protocol.CodeFlashReadSR, []byte{protocol.StatusOK, f.Payload[0], d.SR})

	case protocol.CodeFlashWriteSR:
		// payload: register write opcode + value
		d.SR = f.Payload[1]
		d.respond(protocol.CodeFlashWriteSR, []byte{protocol.StatusOK, f.Payload[0], d.SR})

	case protocol.CodeSetBaudRate:
		d.respond(protocol.CodeSetBaudRate, f.Payload)

	case protocol.CodeBootVersion:
		d.respond(protocol.CodeBootVersion, []byte(d.Version))

	case protocol.CodeReboot:
		if len(f.Payload) == 1 && f.Payload[0] == protocol.RebootMagic {
			d.Rebooted = true
		}
	}
}

func (d *Device) flashRange(start, length uint32) []byte {
	end := start + length
	if int(end) > len(d.Flash) {
		end = uint32(len(d.Flash))
	}
	if start >= end {
		return nil
	}
	return d.Flash[start:end]
}

func (d *Device) respond(code byte, payload []byte) {
	d.out.Write(d.codec.EncodeResponse(protocol.Frame{Code: code, Payload: payload}))
}
