// Package transport provides the byte-level serial link the protocol engine
// drives. It owns no protocol knowledge: framing, retries and timeout policy
// live in the link and flash packages.
package transport

import (
	"io"
	"time"
)

// Transport is a raw byte pipe to the device with a configurable read
// timeout. A Transport is exclusively owned by one Session at a time and
// must not be shared across goroutines.
type Transport interface {
	io.ReadWriteCloser

	// SetReadTimeout bounds every subsequent Read call. A Read that
	// delivers no bytes within the timeout returns with n == 0.
	SetReadTimeout(d time.Duration) error

	// Drain discards any buffered input so the next response is read from
	// a clean line. Restores the previously configured read timeout.
	Drain() error
}

// Resetter is implemented by transports wired to the chip's reset line.
// The link controller toggles it before sync attempts so the operator does
// not have to power-cycle the board by hand. Absence is not an error.
type Resetter interface {
	ResetChip() error
}

// BaudSetter is implemented by transports whose line speed can be changed
// after the link is up, matching the bootloader's SetBaudRate command.
type BaudSetter interface {
	SetBaud(rate int) error
}
