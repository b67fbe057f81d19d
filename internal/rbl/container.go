package rbl

import (
	"bytes"
	"hash/crc32"
	"iter"
)

// Container is one parsed RBL container found in a dump.
type Container struct {
	Header Header
	Offset int // byte offset of the header magic within the scanned buffer

	// Payload holds the packaged payload bytes as captured from the dump.
	// When Truncated is set it holds whatever remained before the buffer
	// ended and is shorter than Header.SizePackage.
	Payload []byte

	// Truncated marks a container whose declared package size extends
	// past the end of the scanned buffer.
	Truncated bool

	// PayloadValid reports whether the captured payload matched the
	// header's payload CRC. Always false for truncated containers.
	PayloadValid bool
}

// End returns the offset one past the captured payload.
func (c Container) End() int {
	return c.Offset + HeaderSize + len(c.Payload)
}

// Scan lazily yields containers found in buf in ascending offset order.
// A magic match only counts when the header CRC verifies, so random flash
// content containing the four magic bytes is skipped. The sequence is
// restartable and supports early abort through the iterator.
func Scan(buf []byte) iter.Seq[Container] {
	return func(yield func(Container) bool) {
		pos := 0
		for pos < len(buf) {
			i := bytes.Index(buf[pos:], Magic)
			if i < 0 {
				return
			}
			at := pos + i

			h, err := DecodeHeader(buf[at:])
			if err != nil {
				pos = at + 1
				continue
			}

			c := capture(h, buf, at)
			if !yield(c) {
				return
			}
			// Containers never nest, resume past the captured payload.
			pos = c.End()
			if pos <= at {
				pos = at + 1
			}
		}
	}
}

// Parse scans buf and collects every container found.
func Parse(buf []byte) []Container {
	var out []Container
	for c := range Scan(buf) {
		out = append(out, c)
	}
	return out
}

func capture(h Header, buf []byte, at int) Container {
	c := Container{Header: h, Offset: at}

	start := at + HeaderSize
	end := start + int(h.SizePackage)
	if end > len(buf) {
		c.Truncated = true
		if start < len(buf) {
			c.Payload = append([]byte(nil), buf[start:]...)
		}
		return c
	}

	c.Payload = append([]byte(nil), buf[start:end]...)
	restorePadding(h, c.Payload)
	c.PayloadValid = crc32.ChecksumIEEE(c.Payload) == h.PayloadCRC
	return c
}

// restorePadding rewrites the package padding of an unencoded payload.
// Unencoded payloads are stored with PKCS#7-style padding up to the package
// size, and dumps routinely have the pad bytes clobbered by erased flash,
// so they are reconstructed before any CRC check.
func restorePadding(h Header, payload []byte) {
	if h.Algo != AlgoNone || h.SizePackage <= h.SizeRaw || int(h.SizeRaw) > len(payload) {
		return
	}
	pad := byte(h.SizePackage - h.SizeRaw)
	for i := int(h.SizeRaw); i < len(payload); i++ {
		payload[i] = pad
	}
}

// Raw returns the payload with any package padding removed. For truncated
// containers it returns the captured bytes unchanged.
func (c Container) Raw() []byte {
	if c.Truncated || int(c.Header.SizeRaw) > len(c.Payload) {
		return c.Payload
	}
	return c.Payload[:c.Header.SizeRaw]
}

// Rebuild serializes a standalone container file for payload: the given
// header with its size and CRC fields recomputed for the payload actually
// written, followed by the payload itself. The result re-parses to an
// equivalent container at offset 0.
func Rebuild(h Header, payload []byte) []byte {
	h.SizeRaw = uint32(len(payload))
	h.SizePackage = uint32(len(payload))
	h.PayloadCRC = crc32.ChecksumIEEE(payload)

	out := make([]byte, 0, HeaderSize+len(payload))
	out = append(out, h.Encode()...)
	out = append(out, payload...)
	return out
}
