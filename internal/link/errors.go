package link

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotLinked is returned when a flash command is attempted on a session
// that never completed the handshake. The transport is not touched.
var ErrNotLinked = errors.New("session not linked")

// ErrResponseTimeout is returned by Session.Command when the device sent no
// well-formed response frame within the read timeout.
var ErrResponseTimeout = errors.New("no response received")

// TimeoutError is returned by Connect when the sync budget is exhausted
// without an acknowledgement from the device.
type TimeoutError struct {
	Attempts int
	Elapsed  time.Duration
}

// Error implements the error interface
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out linking with chip after %d attempts (%s)", e.Attempts, e.Elapsed)
}

// IsLinkTimeout reports whether err is a handshake timeout.
func IsLinkTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
