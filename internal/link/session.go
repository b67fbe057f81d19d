// Package link establishes and owns the synchronized connection to a BK7231
// bootloader.
//
// The handshake is a race against the chip's boot window: the controller
// transmits link-check frames until the device acknowledges or the budget
// runs out, optionally toggling the reset line between attempts. Once
// linked, the Session carries the command exchange primitive every flash
// operation is built on.
package link

import (
	"bytes"
	"fmt"

	"go.uber.org/zap"

	"github.com/tuya-cloudcutter/bk7231tools/internal/chip"
	"github.com/tuya-cloudcutter/bk7231tools/internal/logging"
	"github.com/tuya-cloudcutter/bk7231tools/internal/protocol"
	"github.com/tuya-cloudcutter/bk7231tools/internal/transport"
)

// Session is an established, synchronized link to one device over one
// exclusively-owned transport. No flash command may be issued before the
// handshake completes; the flash engine checks Linked first.
//
// A Session must not be used from two goroutines concurrently.
type Session struct {
	tr    transport.Transport
	codec protocol.Codec
	opts  Options

	linked bool

	// Identification, populated by Connect.
	Protocol    *chip.Protocol
	Chip        chip.Type
	ChipKnown   bool
	Bootloader  *chip.Bootloader
	BootVersion string
}

// NewSession wraps a transport without linking it. Connect performs the
// handshake; until then every flash operation is rejected with
// ErrNotLinked.
func NewSession(tr transport.Transport, opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	return &Session{
		tr: tr,
		// Framing constants are shared across the chip family; the variant
		// only narrows the command set, discovered after linking.
		codec: protocol.Codec{
			CommandPreamble:  chip.Full.CommandPreamble,
			ResponsePreamble: chip.Full.ResponsePreamble,
		},
		opts: opts,
	}
}

// Linked reports whether the handshake has completed.
func (s *Session) Linked() bool { return s.linked }

// RequireLinked fails with ErrNotLinked on an unlinked session.
func (s *Session) RequireLinked() error {
	if !s.linked {
		return ErrNotLinked
	}
	return nil
}

// Options returns the session's policy values.
func (s *Session) Options() Options { return s.opts }

// Close releases the transport. The session cannot be reused.
func (s *Session) Close() error {
	s.linked = false
	return s.tr.Close()
}

// Command sends one command frame and waits for a response frame carrying
// wantCode. Malformed bytes are skipped one at a time to resynchronize
// after line noise; frames with unexpected codes are discarded. Returns
// ErrResponseTimeout when the transport stops delivering bytes before a
// matching frame arrives.
func (s *Session) Command(f protocol.Frame, wantCode byte) (protocol.Frame, error) {
	if s.Protocol != nil && !s.Protocol.Supports(f.Code) && f.Code != protocol.CodeLinkCheck {
		return protocol.Frame{}, fmt.Errorf("command 0x%02X not implemented in protocol %s", f.Code, s.Protocol.Name)
	}

	encoded := s.codec.EncodeCommand(f)
	logging.LogFrame("tx", encoded)
	if _, err := s.tr.Write(encoded); err != nil {
		return protocol.Frame{}, fmt.Errorf("writing command 0x%02X: %w", f.Code, err)
	}
	return s.readResponse(wantCode)
}

func (s *Session) readResponse(wantCode byte) (protocol.Frame, error) {
	var buf bytes.Buffer
	chunk := make([]byte, 4096+64)
	for {
		n, err := s.tr.Read(chunk)
		if err != nil {
			return protocol.Frame{}, fmt.Errorf("reading response: %w", err)
		}
		if n > 0 {
			logging.LogFrame("rx", chunk[:n])
			buf.Write(chunk[:n])
		}

		for buf.Len() > 0 {
			frame, consumed, derr := s.codec.Decode(buf.Bytes())
			if derr != nil {
				if protocol.IsFrameError(derr, protocol.ErrKindLength) {
					break // incomplete: read more bytes
				}
				buf.Next(1) // resynchronize past noise
				continue
			}
			buf.Next(consumed)
			if frame.Code == wantCode {
				return frame, nil
			}
			// Mismatched frame: stale response from a previous exchange.
			logging.Debug("discarding frame with unexpected code",
				zap.Uint8("got", frame.Code), zap.Uint8("want", wantCode))
		}

		if n == 0 {
			// Transport read timeout elapsed with no matching frame.
			return protocol.Frame{}, ErrResponseTimeout
		}
	}
}
