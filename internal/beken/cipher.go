// Package beken implements the XOR keystream cipher the Beken bootloader
// applies to code partitions, plus payload decryption dispatch by the RBL
// encoding algorithm.
//
// The cipher derives a 32-bit mask for every word from the word's absolute
// flash-mapped address and four device coefficients, so decryption needs
// the partition's mapped address as the stream offset. Encryption and
// decryption are the same operation.
package beken

import "encoding/binary"

// BlockLength is the cipher block size in bytes. Inputs must be padded to
// a multiple of it; Pad appends 0xFF fill the way the flashing tools do.
const BlockLength = 32

const wordSize = 4

// Cipher holds one coefficient set.
type Cipher struct {
	coef [4]uint32
}

// codePartitionCoefficients is the coefficient set Beken ships for code
// partitions, common to stock BK7231 bootloaders.
var codePartitionCoefficients = [4]uint32{0x510FB093, 0xA3CBEADC, 0x5993A17E, 0xC7ADEB03}

// NewCipher returns a cipher for an explicit coefficient set.
func NewCipher(coefficients [4]uint32) *Cipher {
	return &Cipher{coef: coefficients}
}

// NewCodeCipher returns the cipher for stock code partitions.
func NewCodeCipher() *Cipher {
	return NewCipher(codePartitionCoefficients)
}

// Encrypt transforms data in 32-byte blocks. streamOffset is the absolute
// address of data[0] in the cipher stream, normally the partition's mapped
// address. The input length must be a multiple of BlockLength.
func (c *Cipher) Encrypt(data []byte, streamOffset uint32) ([]byte, error) {
	if len(data)%BlockLength != 0 {
		return nil, &InvalidPayloadLengthError{Length: len(data), Multiple: BlockLength}
	}
	out := make([]byte, len(data))
	for i := 0; i < len(data); i += wordSize {
		word := binary.LittleEndian.Uint32(data[i : i+wordSize])
		enc := c.encryptWord(streamOffset+uint32(i), word)
		binary.LittleEndian.PutUint32(out[i:i+wordSize], enc)
	}
	return out, nil
}

// Decrypt is the inverse of Encrypt. The cipher is an XOR mask keyed by
// the word address, so the two are the same transform.
func (c *Cipher) Decrypt(data []byte, streamOffset uint32) ([]byte, error) {
	return c.Encrypt(data, streamOffset)
}

// Pad extends data with 0xFF bytes up to a BlockLength boundary.
func (c *Cipher) Pad(data []byte) []byte {
	rem := len(data) % BlockLength
	if rem == 0 {
		return data
	}
	out := make([]byte, len(data), len(data)+BlockLength-rem)
	copy(out, data)
	for len(out)%BlockLength != 0 {
		out = append(out, 0xFF)
	}
	return out
}

func (c *Cipher) encryptWord(index, word uint32) uint32 {
	coef3 := c.coef[3]

	var bit1, bit2, bit4, bit8 bool
	if high := coef3 & 0xFF000000; high == 0xFF000000 || high == 0 {
		bit1, bit2, bit4, bit8 = true, true, true, true
	}
	bit1 = bit1 || coef3&1 != 0
	bit2 = bit2 || coef3&2 != 0
	bit4 = bit4 || coef3&4 != 0
	bit8 = bit8 || coef3&8 != 0

	sel15 := (coef3 >> 5) & 3
	sel16 := (coef3 >> 8) & 3
	sel32 := (coef3 >> 11) & 3

	idx16 := uint32(uint16(index >> 16))
	idxSeq := uint32(uint16(index >> 8))

	var pn15Word uint32
	switch sel15 {
	case 0:
		pn15Word = (idx16&0xFF + uint32(uint16(index>>24<<8))) ^ uint32(uint16(index))
	case 1:
		pn15Word = idx16&0xFF + uint32(uint16(index>>24<<8))
		pn15Word ^= idxSeq&0xFF + uint32(uint16(index<<8))
	case 2:
		pn15Word = (idx16>>8 + uint32(uint16(index>>16<<8))) ^ uint32(uint16(index))
	default:
		pn15Word = idx16>>8 + uint32(uint16(index>>16<<8))
		pn15Word ^= idxSeq&0xFF + uint32(uint16(index<<8))
	}

	pn16Word := (index >> sel16) & 0x1FFFF

	var pn32Word uint32
	switch sel32 {
	case 0:
		pn32Word = index
	case 1:
		pn32Word = index>>8 | index<<24
	case 2:
		pn32Word = index>>16 | index<<16
	default:
		pn32Word = index>>24 | index<<8
	}

	pn15Mask := uint32(uint16(c.coef[1]>>16 ^ pn15Word))

	pn16Mask := (c.coef[1] & 0xFF) + ((c.coef[1]>>8)&0xFF)*0x200
	pn16Mask += ((coef3 >> 4) & 1) * 0x100
	pn16Mask ^= pn16Word

	pn32Mask := pn32Word ^ c.coef[0]

	pn15Val := generatePN15(pn15Mask, bit1)
	pn16Val := generatePN16(pn16Mask, bit2)
	pn32Val := generatePN32(pn32Mask, bit4)

	var finalVal uint32
	if !bit8 {
		finalVal = c.coef[2]
	}

	mask := pn15Val*0x10000 + pn16Val
	return mask ^ pn32Val ^ finalVal ^ word
}

func generatePN15(indexMask uint32, skip bool) uint32 {
	if skip {
		return 0
	}
	shift5 := uint32(uint16(indexMask >> 5))
	nibble := shift5 & 0xF

	lhs := uint32(uint16(indexMask>>7) + uint16(indexMask*0x200))
	rhs := uint32(uint16(shift5*0x1000)) + uint32(uint16(nibble*0x100)) +
		(shift5*0x10)&0xFF + nibble
	rhs &= 0x6371

	return uint32(uint16(lhs ^ rhs))
}

func generatePN16(indexMask uint32, skip bool) uint32 {
	if skip {
		return 0
	}
	part := (indexMask>>13)&1 + ((indexMask>>9)&1)*2 + ((indexMask>>5)&1)*4 + ((indexMask>>1)&1)*8

	lhs := (indexMask&0x3FF)<<7 + (indexMask>>10)&0x7F
	rhs := (((indexMask>>4)&1)*0x10000 + part*0x1000 + part*0x111) & 0x13659

	return lhs ^ rhs
}

func generatePN32(indexMask uint32, skip bool) uint32 {
	if skip {
		return 0
	}
	lhs := indexMask>>0xF | indexMask<<0x11
	start := indexMask >> 2 & 0xF
	rhs := start*0x10000000 + start*0x01000000 + start*0x00100000 +
		start*0x00010000 + start*0x00001111
	rhs &= 0xE519A4F1

	return lhs ^ rhs
}
