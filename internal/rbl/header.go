// Package rbl parses the RBL container format found in BK7231 flash dumps.
//
// An RBL container is a 96-byte fixed-layout header followed by the
// packaged payload. The header carries the partition name, the payload
// encoding algorithm, raw/packaged sizes, a payload CRC and its own CRC
// over the first 92 bytes. The header CRC doubles as the false-positive
// filter when scanning raw dumps for the magic bytes.
package rbl

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Magic is the container header marker.
var Magic = []byte{'R', 'B', 'L', 0x00}

// HeaderSize is the fixed encoded size of a container header.
const HeaderSize = 96

// Algo declares the transform applied to a container payload as stored.
type Algo uint32

const (
	AlgoNone            Algo = 0
	AlgoCryptXOR        Algo = 1
	AlgoCryptAES256     Algo = 2
	AlgoCompressGzip    Algo = 256
	AlgoCompressQuickLZ Algo = 512
	AlgoCompressFastLZ  Algo = 768
)

// String returns the algorithm name as the vendor SDK spells it
func (a Algo) String() string {
	switch a {
	case AlgoNone:
		return "NONE"
	case AlgoCryptXOR:
		return "CRYPT_XOR"
	case AlgoCryptAES256:
		return "CRYPT_AES256"
	case AlgoCompressGzip:
		return "COMPRESS_GZIP"
	case AlgoCompressQuickLZ:
		return "COMPRESS_QUICKLZ"
	case AlgoCompressFastLZ:
		return "COMPRESS_FASTLZ"
	default:
		return fmt.Sprintf("Algo(%d)", uint32(a))
	}
}

// Header is the decoded RBL container header.
type Header struct {
	Algo        Algo
	Timestamp   uint32
	Name        string // partition name, e.g. "app", "bootloader"
	Version     string
	SN          string
	PayloadCRC  uint32 // CRC-32 of the packaged payload
	Hash        uint32
	SizeRaw     uint32 // payload size before padding
	SizePackage uint32 // payload size as stored
	InfoCRC     uint32 // CRC-32 of the first 92 header bytes
}

// DecodeHeader parses a header from the first HeaderSize bytes of data.
// The magic and the header CRC are both verified; a CRC mismatch usually
// means the magic match was a coincidence in random flash content.
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("header needs %d bytes, got %d", HeaderSize, len(data))
	}
	if !bytes.Equal(data[0:4], Magic) {
		return Header{}, fmt.Errorf("bad container magic % X", data[0:4])
	}

	h := Header{
		Algo:        Algo(binary.LittleEndian.Uint32(data[4:8])),
		Timestamp:   binary.LittleEndian.Uint32(data[8:12]),
		Name:        cString(data[12:28]),
		Version:     cString(data[28:52]),
		SN:          cString(data[52:76]),
		PayloadCRC:  binary.LittleEndian.Uint32(data[76:80]),
		Hash:        binary.LittleEndian.Uint32(data[80:84]),
		SizeRaw:     binary.LittleEndian.Uint32(data[84:88]),
		SizePackage: binary.LittleEndian.Uint32(data[88:92]),
		InfoCRC:     binary.LittleEndian.Uint32(data[92:96]),
	}

	if computed := crc32.ChecksumIEEE(data[:92]); computed != h.InfoCRC {
		return Header{}, fmt.Errorf("header CRC mismatch: stored 0x%08X, computed 0x%08X", h.InfoCRC, computed)
	}
	return h, nil
}

// Encode serializes the header, recomputing the header CRC from the other
// fields. Name/version/serial strings are truncated to their field widths.
func (h Header) Encode() []byte {
	out := make([]byte, HeaderSize)
	copy(out[0:4], Magic)
	binary.LittleEndian.PutUint32(out[4:8], uint32(h.Algo))
	binary.LittleEndian.PutUint32(out[8:12], h.Timestamp)
	putCString(out[12:28], h.Name)
	putCString(out[28:52], h.Version)
	putCString(out[52:76], h.SN)
	binary.LittleEndian.PutUint32(out[76:80], h.PayloadCRC)
	binary.LittleEndian.PutUint32(out[80:84], h.Hash)
	binary.LittleEndian.PutUint32(out[84:88], h.SizeRaw)
	binary.LittleEndian.PutUint32(out[88:92], h.SizePackage)
	binary.LittleEndian.PutUint32(out[92:96], crc32.ChecksumIEEE(out[:92]))
	return out
}

func cString(field []byte) string {
	if i := bytes.IndexByte(field, 0x00); i >= 0 {
		field = field[:i]
	}
	return string(field)
}

func putCString(field []byte, s string) {
	copy(field, s)
}
