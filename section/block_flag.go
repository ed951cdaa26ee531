package section

import (
	"github.com/arloliu/idxio/errs"
	"github.com/arloliu/idxio/format"
)

// BlockFlag is the packed flag word of a block record.
//
// Bits 0-3 hold the format.CompressionType the block was stored with, bit 4
// is set when the block exists in the file and bits 5-31 are reserved and
// must be 0.
type BlockFlag uint32

var validCodecs = map[uint32]struct{}{
	uint32(format.CompressionNone): {},
	uint32(format.CompressionZstd): {},
	uint32(format.CompressionS2):   {},
	uint32(format.CompressionLZ4):  {},
}

// NewBlockFlag returns the flag of a present block stored with codec.
func NewBlockFlag(codec format.CompressionType) BlockFlag {
	var f BlockFlag
	f.SetCodec(codec)
	f.SetPresent(true)

	return f
}

// Codec returns the block codec from bits 0-3.
func (f BlockFlag) Codec() format.CompressionType {
	return format.CompressionType(f & CodecMask)
}

// SetCodec sets the block codec in bits 0-3.
func (f *BlockFlag) SetCodec(codec format.CompressionType) {
	*f &^= CodecMask
	*f |= BlockFlag(codec) & CodecMask
}

// IsPresent returns whether the block exists in the file.
func (f BlockFlag) IsPresent() bool {
	return f&PresentMask != 0
}

// SetPresent sets or clears the present bit.
func (f *BlockFlag) SetPresent(present bool) {
	if present {
		*f |= PresentMask
	} else {
		*f &^= PresentMask
	}
}

// Validate checks that an absent block carries no other bits and a present
// block names a known codec.
func (f BlockFlag) Validate() error {
	if !f.IsPresent() {
		if f != 0 {
			return errs.ErrInvalidHeaderFlag
		}

		return nil
	}

	if f&^(CodecMask|PresentMask) != 0 {
		return errs.ErrInvalidHeaderFlag
	}
	if _, ok := validCodecs[uint32(f&CodecMask)]; !ok {
		return errs.ErrInvalidHeaderFlag
	}

	return nil
}
