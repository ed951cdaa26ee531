package endian

import (
	"fmt"
	"math/bits"

	"github.com/arloliu/idxio/errs"
)

// ReverseValues reverses the byte order of every width-byte value in buf, in place.
//
// Parameters:
//   - buf: Packed values, len(buf) must be a multiple of width
//   - width: Value width in bytes (1, 2, 4 or 8)
//
// Returns:
//   - error: ErrHZ wrapped error for unsupported widths or ragged buffers
func ReverseValues(buf []byte, width int) error {
	if width <= 0 || len(buf)%width != 0 {
		return fmt.Errorf("%w: cannot reverse %d bytes as %d-byte values", errs.ErrHZ, len(buf), width)
	}

	switch width {
	case 1:
		return nil
	case 2:
		for i := 0; i < len(buf); i += 2 {
			buf[i], buf[i+1] = buf[i+1], buf[i]
		}
	case 4:
		le := GetLittleEndianEngine()
		for i := 0; i < len(buf); i += 4 {
			le.PutUint32(buf[i:], bits.ReverseBytes32(le.Uint32(buf[i:])))
		}
	case 8:
		le := GetLittleEndianEngine()
		for i := 0; i < len(buf); i += 8 {
			le.PutUint64(buf[i:], bits.ReverseBytes64(le.Uint64(buf[i:])))
		}
	default:
		return fmt.Errorf("%w: unsupported value width %d", errs.ErrHZ, width)
	}

	return nil
}
