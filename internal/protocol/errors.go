package protocol

import "fmt"

// FrameErrorKind classifies frame decode failures.
type FrameErrorKind int

const (
	// ErrKindPreamble indicates the leading marker bytes were absent.
	// Used by callers to resynchronize after line noise.
	ErrKindPreamble FrameErrorKind = iota
	// ErrKindLength indicates the declared length does not match the
	// bytes actually present.
	ErrKindLength
	// ErrKindChecksum indicates the recomputed checksum differs from the
	// received one.
	ErrKindChecksum
)

// String returns a human-readable name for the error kind
func (k FrameErrorKind) String() string {
	switch k {
	case ErrKindPreamble:
		return "preamble mismatch"
	case ErrKindLength:
		return "length mismatch"
	case ErrKindChecksum:
		return "checksum mismatch"
	default:
		return fmt.Sprintf("FrameErrorKind(%d)", k)
	}
}

// FrameError is returned by Codec.Decode when a byte sequence cannot be
// decoded into a well-formed frame.
type FrameError struct {
	Kind FrameErrorKind
	// Want and Got carry the expected/observed value for the failing field:
	// byte counts for length errors, checksum bytes for checksum errors.
	Want int
	Got  int
}

// Error implements the error interface
func (e *FrameError) Error() string {
	switch e.Kind {
	case ErrKindLength:
		return fmt.Sprintf("frame %s: declared %d bytes, got %d", e.Kind, e.Want, e.Got)
	case ErrKindChecksum:
		return fmt.Sprintf("frame %s: computed 0x%02X, received 0x%02X", e.Kind, e.Want, e.Got)
	default:
		return fmt.Sprintf("frame %s", e.Kind)
	}
}

// IsFrameError reports whether err is a FrameError of the given kind.
func IsFrameError(err error, kind FrameErrorKind) bool {
	fe, ok := err.(*FrameError)
	return ok && fe.Kind == kind
}
