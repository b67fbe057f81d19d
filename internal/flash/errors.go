package flash

import (
	"errors"
	"fmt"
)

// ErrMisalignedWrite is returned when a write start offset is not a
// multiple of the device page size. Nothing is transmitted.
var ErrMisalignedWrite = errors.New("write start offset not aligned to page size")

// ChunkError reports a chunk exchange that kept failing after the bounded
// retries were exhausted. The offset names the failing page so the operator
// can decide whether to retry, re-seat the hardware, or give up.
type ChunkError struct {
	// Op is "read" or "write".
	Op     string
	Offset uint32
	// Attempts is the total number of exchanges tried for this chunk.
	Attempts int
	Err      error
}

// Error implements the error interface
func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %s failed at 0x%06X after %d attempts: %v", e.Op, e.Offset, e.Attempts, e.Err)
}

// Unwrap returns the underlying error for error chain inspection
func (e *ChunkError) Unwrap() error { return e.Err }

// IsChunkReadError reports whether err is an exhausted chunk read.
func IsChunkReadError(err error) bool {
	var ce *ChunkError
	return errors.As(err, &ce) && ce.Op == "read"
}

// IsChunkWriteError reports whether err is an exhausted chunk write.
func IsChunkWriteError(err error) bool {
	var ce *ChunkError
	return errors.As(err, &ce) && ce.Op == "write"
}

// errChunkCRC marks one failed verification attempt inside the retry loop.
var errChunkCRC = errors.New("chunk CRC mismatch")

// errChunkStatus marks a response whose status byte signalled failure.
var errChunkStatus = errors.New("device reported failure status")

// errChunkEcho marks a response echoing a different offset than requested.
var errChunkEcho = errors.New("response offset does not match request")
