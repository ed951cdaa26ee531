package section

import (
	"math"
)

const (
	// Bit masks of a block record flag word
	CodecMask   = 0x0000000F // Mask for the block codec (bits 0-3)
	PresentMask = 0x00000010 // Mask for the present bit (bit 4)

	// MagicIDX is "IDX1" read as a big-endian word.
	MagicIDX = 0x49445831
	// Version is the binary header version.
	Version = 6
)

// Header geometry, in 32-bit words
const (
	WordSize    = 4                 // bytes per header word
	PrefixWords = 10                // words before the first block record
	RecordWords = 10                // words per block record
	PrefixSize  = PrefixWords * WordSize
	RecordSize  = RecordWords * WordSize
	MaxLength   = math.MaxUint32 // largest block length a record can hold
)

// Word positions inside the prefix
const (
	prefixMagic      = 0
	prefixVersion    = 1
	prefixBPF        = 2
	prefixVarCount   = 3
	prefixCodec      = 4
	prefixChecksum   = 5
	prefixBPB        = 6
	prefixDataOffset = 7
)

// Word positions inside a block record. With the prefix in front, the first
// record's offset words are words 11 and 12 of the header, its length word
// 14 and its flag word 15.
const (
	recordOffsetHigh = 1
	recordOffsetLow  = 2
	recordLength     = 4
	recordFlag       = 5
)
