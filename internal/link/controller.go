package link

import (
	"encoding/binary"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tuya-cloudcutter/bk7231tools/internal/chip"
	"github.com/tuya-cloudcutter/bk7231tools/internal/logging"
	"github.com/tuya-cloudcutter/bk7231tools/internal/protocol"
	"github.com/tuya-cloudcutter/bk7231tools/internal/transport"
)

// Connect drives the reset-and-sync handshake on tr and returns a linked
// Session. The transport becomes exclusively owned by the returned Session;
// on failure it is left open for the caller to close.
//
// The sync loop transmits link-check frames until the device acknowledges,
// the attempt cap is reached, or the time budget expires, whichever comes
// first. After linking it negotiates the requested baud rate and identifies
// the connected chip.
func Connect(tr transport.Transport, opts Options) (*Session, error) {
	s := NewSession(tr, opts)

	if err := s.sync(); err != nil {
		return nil, err
	}

	if opts.BaudRate != 0 && opts.BaudRate != transport.InitialBaudRate {
		if err := s.setBaudRate(opts.BaudRate); err != nil {
			return nil, fmt.Errorf("switching to %d baud: %w", opts.BaudRate, err)
		}
	}

	if err := s.identify(); err != nil {
		return nil, fmt.Errorf("identifying chip: %w", err)
	}
	return s, nil
}

// sync implements the Disconnected/Syncing/Linked transition.
func (s *Session) sync() error {
	clock := s.opts.Clock
	start := clock.Now()
	deadline := start.Add(s.opts.SyncTimeout)

	if err := s.tr.SetReadTimeout(s.opts.SyncPollTimeout); err != nil {
		return fmt.Errorf("configuring sync poll timeout: %w", err)
	}

	resetter, canReset := s.tr.(transport.Resetter)
	cmd := protocol.Frame{Code: protocol.CodeLinkCheck}

	attempts := 0
	for {
		if s.opts.MaxSyncAttempts > 0 && attempts >= s.opts.MaxSyncAttempts {
			break
		}
		if s.opts.SyncTimeout > 0 && !clock.Now().Before(deadline) {
			break
		}
		attempts++

		if s.opts.HardwareReset && canReset {
			if err := resetter.ResetChip(); err != nil {
				logging.Warn("hardware reset failed", zap.Error(err))
			}
		}

		resp, err := s.Command(cmd, protocol.CodeLinkCheckResp)
		if err != nil {
			continue // silence or noise: keep syncing
		}
		if len(resp.Payload) == 1 && resp.Payload[0] == 0x00 {
			s.linked = true
			break
		}
	}

	if !s.linked {
		return &TimeoutError{Attempts: attempts, Elapsed: clock.Now().Sub(start)}
	}

	// Flush the burst of queued acknowledgements a slow operator's
	// repeated power-cycles can leave behind.
	if err := s.tr.Drain(); err != nil {
		return fmt.Errorf("draining after sync: %w", err)
	}
	if err := s.tr.SetReadTimeout(s.opts.CommandTimeout); err != nil {
		return fmt.Errorf("configuring command timeout: %w", err)
	}
	logging.Info("link established", zap.Int("attempts", attempts))
	return nil
}

// setBaudRate negotiates a new line speed. The chip switches after a short
// delay, so the host must switch mid-exchange: after sending the command,
// before reading the echo response.
func (s *Session) setBaudRate(rate int) error {
	setter, ok := s.tr.(transport.BaudSetter)
	if !ok {
		return nil // in-memory transports have no line speed
	}

	const delayMs = 20
	payload := binary.LittleEndian.AppendUint32(nil, uint32(rate))
	payload = append(payload, delayMs)
	cmd := protocol.Frame{Code: protocol.CodeSetBaudRate, Payload: payload}

	encoded := s.codec.EncodeCommand(cmd)
	if _, err := s.tr.Write(encoded); err != nil {
		return err
	}
	s.opts.Clock.Sleep(delayMs * time.Millisecond / 2)
	if err := setter.SetBaud(rate); err != nil {
		return err
	}
	_, err := s.readResponse(protocol.CodeSetBaudRate)
	return err
}

// identify detects the connected chip variant: first by matching the
// bootloader CRC against the known table, then by probing how the chip
// computed that CRC (BK7231N BootROM includes the range end, others do
// not), and finally by asking for the boot version where supported.
func (s *Session) identify() error {
	rawCRC, err := s.RangeCRC(0, 256)
	if err != nil {
		return err
	}

	if bl := chip.Identify(rawCRC); bl != nil {
		s.Bootloader = bl
		s.Protocol = bl.Protocol
		s.Chip = bl.Chip
		s.ChipKnown = true
	} else {
		head, err := s.readPage(0)
		if err != nil {
			return err
		}
		switch rawCRC {
		case protocol.RangeCRC(head[0:257]):
			// An end-inclusive range CRC is itself the BK7231N BootROM
			// signature.
			s.Protocol = chip.Full
			s.Chip = chip.BK7231N
		case protocol.RangeCRC(head[0:256]):
			s.Protocol = chip.BasicBeken
		default:
			return fmt.Errorf("CRC mismatch while probing chip type: 0x%08X", rawCRC)
		}
	}

	if s.Protocol.Supports(protocol.CodeBootVersion) {
		resp, err := s.Command(protocol.Frame{Code: protocol.CodeBootVersion}, protocol.CodeBootVersion)
		if err != nil {
			return err
		}
		s.BootVersion = string(resp.Payload)
	}

	logging.Info("chip identified",
		zap.String("chip", s.Chip.String()),
		zap.String("protocol", s.Protocol.Name),
		zap.String("boot_version", s.BootVersion))
	return nil
}

// RangeCRC asks the device for the CRC of [start, end) as it reports it,
// without the XOR normalization applied for table lookups.
func (s *Session) RangeCRC(start, end uint32) (uint32, error) {
	payload := binary.LittleEndian.AppendUint32(nil, start)
	payload = binary.LittleEndian.AppendUint32(payload, end)
	resp, err := s.Command(protocol.Frame{Code: protocol.CodeCheckCRC, Payload: payload}, protocol.CodeCheckCRC)
	if err != nil {
		return 0, err
	}
	if len(resp.Payload) != 4 {
		return 0, fmt.Errorf("malformed CRC response: %d bytes", len(resp.Payload))
	}
	return binary.LittleEndian.Uint32(resp.Payload), nil
}

// readPage fetches one raw 4K flash page during identification, before the
// flash engine exists.
func (s *Session) readPage(start uint32) ([]byte, error) {
	payload := binary.LittleEndian.AppendUint32(nil, start)
	resp, err := s.Command(protocol.Frame{Code: protocol.CodeFlashRead4K, Payload: payload}, protocol.CodeFlashRead4K)
	if err != nil {
		return nil, err
	}
	if len(resp.Payload) < 5 {
		return nil, fmt.Errorf("malformed read response: %d bytes", len(resp.Payload))
	}
	return resp.Payload[5:], nil
}
