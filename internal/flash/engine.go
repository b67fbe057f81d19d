// Package flash implements chunked flash access over an established link.
//
// Reads and writes are partitioned into the device's native 4 KiB pages.
// Every chunk exchange is verified against the device-reported CRC and
// retried up to the session's bounded retry count; exhausting the bound
// fails the whole operation loudly. A silently incomplete flash image is
// worse than a failed run.
package flash

import (
	"context"
	"encoding/binary"
	"fmt"

	"go.uber.org/zap"

	"github.com/tuya-cloudcutter/bk7231tools/internal/chip"
	"github.com/tuya-cloudcutter/bk7231tools/internal/link"
	"github.com/tuya-cloudcutter/bk7231tools/internal/logging"
	"github.com/tuya-cloudcutter/bk7231tools/internal/protocol"
)

// Region describes a contiguous byte range of a flash operation with named,
// validated fields instead of positional parameters.
type Region struct {
	// Start is the first flash offset touched. Writes require page
	// alignment; reads may start anywhere.
	Start uint32

	// Length is the number of bytes to transfer. For writes, zero means
	// "the remainder of the source after Skip".
	Length uint32

	// Skip discards this many leading bytes of the write source before
	// the first byte actually written. Ignored for reads.
	Skip uint32
}

// Engine issues chunked flash commands through a linked session.
type Engine struct {
	session *link.Session

	// OnProgress, when set, is called after every completed chunk with
	// the bytes finished so far and the total.
	OnProgress func(done, total int)

	// VerifyCRC enables per-chunk and whole-region CRC verification.
	// Disabling it is for recovering data from half-dead chips only.
	VerifyCRC bool
}

// NewEngine wraps a session. The session must already be linked; every
// operation re-checks and fails with link.ErrNotLinked otherwise.
func NewEngine(s *link.Session) *Engine {
	return &Engine{session: s, VerifyCRC: true}
}

func (e *Engine) pageSize() uint32 {
	return uint32(e.session.Protocol.ChunkSize)
}

// Read returns exactly length bytes starting at start. The range is read
// in device pages; boundary pages are fetched whole and sliced, so start
// and length need no alignment. Cancellation is honored between chunks and
// leaves the session linked.
func (e *Engine) Read(ctx context.Context, start, length uint32) ([]byte, error) {
	if err := e.session.RequireLinked(); err != nil {
		return nil, err
	}
	if length == 0 {
		return []byte{}, nil
	}

	page := e.pageSize()
	blockStart := start &^ (page - 1)
	offsetInPage := start - blockStart
	total := int(length)

	out := make([]byte, 0, length)
	remaining := length
	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := e.readPage(blockStart)
		if err != nil {
			return nil, err
		}
		// cut to the requested start offset and length
		slice := data[offsetInPage:]
		if uint32(len(slice)) > remaining {
			slice = slice[:remaining]
		}
		out = append(out, slice...)
		remaining -= uint32(len(slice))
		offsetInPage = 0
		blockStart += page
		e.reportProgress(len(out), total)
	}
	return out, nil
}

// readPage fetches and verifies one page, retrying up to the session's
// read retry bound.
func (e *Engine) readPage(start uint32) ([]byte, error) {
	retries := e.session.Options().ReadRetries
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		data, err := e.readPageOnce(start)
		if err == nil {
			return data, nil
		}
		lastErr = err
		logging.Warn("chunk read failed, retrying",
			zap.Uint32("offset", start), zap.Int("attempt", attempt), zap.Error(err))
	}
	return nil, &ChunkError{Op: "read", Offset: start, Attempts: retries + 1, Err: lastErr}
}

func (e *Engine) readPageOnce(start uint32) ([]byte, error) {
	payload := binary.LittleEndian.AppendUint32(nil, start)
	resp, err := e.session.Command(
		protocol.Frame{Code: protocol.CodeFlashRead4K, Payload: payload},
		protocol.CodeFlashRead4K)
	if err != nil {
		return nil, err
	}
	if len(resp.Payload) != 5+int(e.pageSize()) {
		return nil, fmt.Errorf("short read response: %d bytes", len(resp.Payload))
	}
	if resp.Payload[0] != protocol.StatusOK {
		return nil, fmt.Errorf("%w: 0x%02X", errChunkStatus, resp.Payload[0])
	}
	if echo := binary.LittleEndian.Uint32(resp.Payload[1:5]); echo != start {
		return nil, fmt.Errorf("%w: got 0x%06X", errChunkEcho, echo)
	}
	data := resp.Payload[5:]
	if e.VerifyCRC {
		if err := e.verifyRange(start, data); err != nil {
			return nil, err
		}
	}
	return data, nil
}

// Write programs source into flash starting at start, which must be page
// aligned. The source is sliced by region.Skip and region.Length first.
// Each page is erased, then transmitted unless its payload is entirely
// 0xFF: erased flash already reads as 0xFF, so empty pages are skipped to
// save transfer time.
func (e *Engine) Write(ctx context.Context, source []byte, region Region) error {
	if err := e.session.RequireLinked(); err != nil {
		return err
	}
	page := e.pageSize()
	if region.Start%page != 0 {
		return fmt.Errorf("%w: 0x%06X", ErrMisalignedWrite, region.Start)
	}

	data, err := sliceSource(source, region)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	if e.session.Protocol.Supports(protocol.CodeFlashReadSR) {
		if err := e.Unprotect(); err != nil {
			return fmt.Errorf("unprotecting flash: %w", err)
		}
	}

	total := len(data)
	addr := region.Start
	for done := 0; done < total; done += int(page) {
		if err := ctx.Err(); err != nil {
			return err
		}
		block := data[done:min(done+int(page), total)]
		if uint32(len(block)) < page {
			block = padPage(block, page)
		}

		if err := e.EraseBlock(addr); err != nil {
			return err
		}
		if !allFill(block) {
			if err := e.writePage(addr, block); err != nil {
				return err
			}
		}
		addr += page
		e.reportProgress(min(done+int(page), total), total)
	}

	if e.VerifyCRC {
		padded := uint32(len(data)+int(page)-1) &^ (page - 1)
		want := protocol.RangeCRC(padPage(data, padded))
		got, err := e.deviceRangeCRC(region.Start, region.Start+padded)
		if err != nil {
			return err
		}
		if got != want {
			return fmt.Errorf("region CRC mismatch after write: device 0x%08X, host 0x%08X", got, want)
		}
	}
	return nil
}

// sliceSource applies Skip and Length to the raw write source.
func sliceSource(source []byte, region Region) ([]byte, error) {
	if int(region.Skip) > len(source) {
		return nil, fmt.Errorf("skip 0x%X exceeds source size 0x%X", region.Skip, len(source))
	}
	data := source[region.Skip:]
	if region.Length > 0 {
		if int(region.Length) > len(data) {
			return nil, fmt.Errorf("length 0x%X exceeds source remainder 0x%X", region.Length, len(data))
		}
		data = data[:region.Length]
	}
	return data, nil
}

// writePage transmits one page with bounded retries. A failed verification
// erases the page again before retrying so the chip never accumulates
// partially-programmed bits.
func (e *Engine) writePage(start uint32, data []byte) error {
	retries := e.session.Options().WriteRetries
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			if err := e.EraseBlock(start); err != nil {
				return err
			}
		}
		err := e.writePageOnce(start, data)
		if err == nil {
			return nil
		}
		lastErr = err
		logging.Warn("chunk write failed, retrying",
			zap.Uint32("offset", start), zap.Int("attempt", attempt), zap.Error(err))
	}
	return &ChunkError{Op: "write", Offset: start, Attempts: retries + 1, Err: lastErr}
}

func (e *Engine) writePageOnce(start uint32, data []byte) error {
	payload := binary.LittleEndian.AppendUint32(nil, start)
	payload = append(payload, data...)
	resp, err := e.session.Command(
		protocol.Frame{Code: protocol.CodeFlashWrite4K, Payload: payload},
		protocol.CodeFlashWrite4K)
	if err != nil {
		return err
	}
	if len(resp.Payload) < 5 {
		return fmt.Errorf("short write response: %d bytes", len(resp.Payload))
	}
	if resp.Payload[0] != protocol.StatusOK {
		return fmt.Errorf("%w: 0x%02X", errChunkStatus, resp.Payload[0])
	}
	if echo := binary.LittleEndian.Uint32(resp.Payload[1:5]); echo != start {
		return fmt.Errorf("%w: got 0x%06X", errChunkEcho, echo)
	}
	if e.VerifyCRC {
		return e.verifyRange(start, data)
	}
	return nil
}

// EraseBlock erases the 4 KiB sector at start.
func (e *Engine) EraseBlock(start uint32) error {
	if err := e.session.RequireLinked(); err != nil {
		return err
	}
	payload := binary.LittleEndian.AppendUint32(nil, start)
	resp, err := e.session.Command(
		protocol.Frame{Code: protocol.CodeFlashErase4K, Payload: payload},
		protocol.CodeFlashErase4K)
	if err != nil {
		return err
	}
	if len(resp.Payload) >= 1 && resp.Payload[0] != protocol.StatusOK {
		return fmt.Errorf("erase at 0x%06X: %w: 0x%02X", start, errChunkStatus, resp.Payload[0])
	}
	return nil
}

// unprotectMask covers the block-protect bits of the flash status register.
const unprotectMask = 0b01111100

// Unprotect clears the write-protect bits of the flash status register.
// Only the full BootROM protocol exposes the SR commands; stock BK7231N
// bootloaders ship with protection enabled.
func (e *Engine) Unprotect() error {
	sr, err := e.readSR()
	if err != nil {
		return err
	}
	if sr&unprotectMask == 0 {
		return nil
	}
	if err := e.writeSR(sr &^ unprotectMask); err != nil {
		return err
	}
	check, err := e.readSR()
	if err != nil {
		return err
	}
	if check&unprotectMask != 0 {
		return fmt.Errorf("status register still protected: 0x%02X", check)
	}
	return nil
}

func (e *Engine) readSR() (byte, error) {
	// 0x05: flash Read Status Register opcode
	resp, err := e.session.Command(
		protocol.Frame{Code: protocol.CodeFlashReadSR, Payload: []byte{0x05}},
		protocol.CodeFlashReadSR)
	if err != nil {
		return 0, err
	}
	if len(resp.Payload) < 3 {
		return 0, fmt.Errorf("short SR read response: %d bytes", len(resp.Payload))
	}
	return resp.Payload[2], nil
}

func (e *Engine) writeSR(value byte) error {
	// 0x01: flash Write Status Register opcode
	resp, err := e.session.Command(
		protocol.Frame{Code: protocol.CodeFlashWriteSR, Payload: []byte{0x01, value}},
		protocol.CodeFlashWriteSR)
	if err != nil {
		return err
	}
	if len(resp.Payload) < 3 {
		return fmt.Errorf("short SR write response: %d bytes", len(resp.Payload))
	}
	return nil
}

// verifyRange compares the device CRC of [start, start+len(data)) against
// the CRC of the bytes the host holds.
func (e *Engine) verifyRange(start uint32, data []byte) error {
	got, err := e.deviceRangeCRC(start, start+uint32(len(data)))
	if err != nil {
		return err
	}
	if want := protocol.RangeCRC(data); got != want {
		return fmt.Errorf("%w at 0x%06X: device 0x%08X, host 0x%08X", errChunkCRC, start, got, want)
	}
	return nil
}

// deviceRangeCRC queries the device CRC for [start, end). The BK7231N
// BootROM computes ranges end-inclusive, so the request is narrowed by one
// byte there to cover the same span.
func (e *Engine) deviceRangeCRC(start, end uint32) (uint32, error) {
	if e.session.Chip == chip.BK7231N {
		end--
	}
	return e.session.RangeCRC(start, end)
}

func (e *Engine) reportProgress(done, total int) {
	if e.OnProgress != nil {
		e.OnProgress(done, total)
	}
}

// allFill reports whether every byte of the page is the erased-flash fill.
func allFill(data []byte) bool {
	for _, b := range data {
		if b != 0xFF {
			return false
		}
	}
	return true
}

// padPage extends data with 0xFF fill to the given size.
func padPage(data []byte, size uint32) []byte {
	if uint32(len(data)) >= size {
		return data
	}
	out := make([]byte, size)
	copy(out, data)
	for i := len(data); i < int(size); i++ {
		out[i] = 0xFF
	}
	return out
}
