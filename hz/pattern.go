// Package hz implements the hierarchical Z-order (HZ) addressing of an IDX
// dataset.
//
// A bit pattern such as "V012012" assigns every bit position of the HZ index
// to a spatial dimension. Position 1 is the coarsest bit and position MaxH the
// finest. HZ indices lie in [0, 2^MaxH); index 0 is level 0 and every other
// index hz belongs to level bits.Len64(hz), so level h holds the indices
// [2^(h-1), 2^h) and every level doubles the sample count of the one before.
package hz

import (
	"fmt"
	"strings"

	"github.com/arloliu/idxio/errs"
	"github.com/arloliu/idxio/geom"
)

// MaxBits is the largest supported MaxH.
const MaxBits = 62

// Pattern is a parsed, fully expanded bit pattern. The zero value is the
// pattern "V" of a single-sample dataset.
type Pattern struct {
	bits []uint8 // bits[0] unused, bits[1..maxh] are dimension numbers
	dims int
}

// ParsePattern parses an explicit pattern such as "V0120120". MaxH is the
// number of digits after the leading 'V'.
//
// Returns:
//   - Pattern: Parsed pattern
//   - error: errs.ErrInvalidBitPattern if the string is malformed or uses a
//     repeating run, which needs ParsePatternN
func ParsePattern(s string) (Pattern, error) {
	if strings.ContainsAny(s, "{}") {
		return Pattern{}, fmt.Errorf("%w: %q has a repeating run, the length must be given", errs.ErrInvalidBitPattern, s)
	}

	return ParsePatternN(s, len(s)-1)
}

// ParsePatternN parses a pattern and expands it to exactly maxh bit positions.
//
// The pattern may end in a repeating run enclosed in braces, e.g. "V{012}",
// which is cycled for every position past the explicit prefix. A pattern
// without a run must hold at least maxh digits; extra digits are ignored.
//
// Parameters:
//   - s: Pattern string, starting with 'V'
//   - maxh: Number of bit positions, at most MaxBits
//
// Returns:
//   - Pattern: Expanded pattern
//   - error: errs.ErrInvalidBitPattern on malformed input
func ParsePatternN(s string, maxh int) (Pattern, error) {
	if len(s) == 0 || s[0] != 'V' {
		return Pattern{}, fmt.Errorf("%w: %q must start with 'V'", errs.ErrInvalidBitPattern, s)
	}
	if maxh < 0 || maxh > MaxBits {
		return Pattern{}, fmt.Errorf("%w: maxh %d out of range [0, %d]", errs.ErrInvalidBitPattern, maxh, MaxBits)
	}

	open := strings.IndexByte(s, '{')
	closing := strings.IndexByte(s, '}')
	switch {
	case open < 0 && closing >= 0, open >= 0 && closing < open+2, closing >= 0 && closing != len(s)-1:
		return Pattern{}, fmt.Errorf("%w: %q has a malformed repeating run", errs.ErrInvalidBitPattern, s)
	case open < 0 && len(s)-1 < maxh:
		return Pattern{}, fmt.Errorf("%w: %q is shorter than maxh %d", errs.ErrInvalidBitPattern, s, maxh)
	}

	p := Pattern{bits: make([]uint8, maxh+1), dims: 1}
	for n := 1; n <= maxh; n++ {
		c := regexBit(s, n, open, closing)
		if c < '0' || c >= '0'+geom.MaxDims {
			return Pattern{}, fmt.Errorf("%w: %q has invalid digit %q", errs.ErrInvalidBitPattern, s, c)
		}
		d := c - '0'
		p.bits[n] = d
		p.dims = max(p.dims, int(d)+1)
	}

	return p, nil
}

// regexBit returns the pattern character of bit position n, cycling the
// repeating run [open+1, closing) for positions past the prefix.
func regexBit(s string, n, open, closing int) byte {
	if open < 0 {
		return s[n]
	}

	start := open + 1
	length := closing - start
	if n+1 < start {
		return s[n]
	}

	return s[start+(n+1-start)%length]
}

// MustParsePattern is like ParsePattern but panics on error. It is meant for
// constant patterns in tests and examples.
func MustParsePattern(s string) Pattern {
	p, err := ParsePattern(s)
	if err != nil {
		panic(err)
	}

	return p
}

// MaxH returns the number of bit positions.
func (p Pattern) MaxH() int {
	if len(p.bits) == 0 {
		return 0
	}

	return len(p.bits) - 1
}

// Bit returns the dimension interleaved at bit position i, 1 <= i <= MaxH.
func (p Pattern) Bit(i int) int {
	return int(p.bits[i])
}

// Dims returns the number of dimensions the pattern addresses.
func (p Pattern) Dims() int {
	if p.dims == 0 {
		return 1
	}

	return p.dims
}

// BitCount returns how many bit positions interleave dimension d.
func (p Pattern) BitCount(d int) int {
	n := 0
	for i := 1; i <= p.MaxH(); i++ {
		if int(p.bits[i]) == d {
			n++
		}
	}

	return n
}

// Bounds returns the power-of-two extent addressed by the pattern.
func (p Pattern) Bounds() geom.Point {
	b := geom.Extent()
	for i := 1; i <= p.MaxH(); i++ {
		b[p.bits[i]] <<= 1
	}

	return b
}

// ValidateFor checks that the pattern addresses exactly the power-of-two
// rounded extent of bounds.
//
// Returns:
//   - error: errs.ErrInvalidBitPattern when any dimension's bit count does not
//     match its extent
func (p Pattern) ValidateFor(bounds geom.Point) error {
	want := geom.Pow2Extent(bounds)
	have := p.Bounds()
	if want != have {
		return fmt.Errorf("%w: %s addresses %v, box needs %v", errs.ErrInvalidBitPattern, p, have, want)
	}

	return nil
}

// String returns the expanded pattern, e.g. "V012012".
func (p Pattern) String() string {
	var sb strings.Builder
	sb.Grow(p.MaxH() + 1)
	sb.WriteByte('V')
	for i := 1; i <= p.MaxH(); i++ {
		sb.WriteByte('0' + p.bits[i])
	}

	return sb.String()
}
