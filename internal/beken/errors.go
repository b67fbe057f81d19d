package beken

import (
	"errors"
	"fmt"
)

// UnsupportedEncodingError reports a container encoding algorithm the
// decryption module has no cipher for. The payload is left untouched.
type UnsupportedEncodingError struct {
	Name string
}

func (e *UnsupportedEncodingError) Error() string {
	return fmt.Sprintf("unsupported payload encoding %q", e.Name)
}

// IsUnsupportedEncoding reports whether err is an UnsupportedEncodingError.
func IsUnsupportedEncoding(err error) bool {
	var target *UnsupportedEncodingError
	return errors.As(err, &target)
}

// InvalidPayloadLengthError reports an input whose length is not a
// multiple of the cipher block size.
type InvalidPayloadLengthError struct {
	Length   int
	Multiple int
}

func (e *InvalidPayloadLengthError) Error() string {
	return fmt.Sprintf("payload length %d is not a multiple of %d", e.Length, e.Multiple)
}

// IsInvalidPayloadLength reports whether err is an InvalidPayloadLengthError.
func IsInvalidPayloadLength(err error) bool {
	var target *InvalidPayloadLengthError
	return errors.As(err, &target)
}
