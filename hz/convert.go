package hz

import (
	"math/bits"

	"github.com/arloliu/idxio/geom"
)

// HzToXYZ converts an HZ index to the coordinate it addresses.
//
// The index is shifted left behind a sentinel bit until the sentinel reaches
// bit MaxH, then its bits are dealt out least significant first to the
// dimensions named by the pattern, from position MaxH down.
func (p Pattern) HzToXYZ(hzaddr uint64) geom.Point {
	maxh := p.MaxH()
	last := uint64(1) << maxh

	v := hzaddr<<1 | 1
	for v&last == 0 {
		v <<= 1
	}
	v &= last - 1

	var pt geom.Point
	var cnt [geom.MaxDims]uint
	for i := maxh; v != 0; i-- {
		d := p.bits[i]
		pt[d] |= (v & 1) << cnt[d]
		cnt[d]++
		v >>= 1
	}

	return pt
}

// XYZToHz converts a coordinate to its HZ index. It is the inverse of
// HzToXYZ for every coordinate inside Bounds.
func (p Pattern) XYZToHz(pt geom.Point) uint64 {
	maxh := p.MaxH()

	var z uint64
	cnt := uint(0)
	for i := maxh; i >= 1 && pt != (geom.Point{}); i-- {
		d := p.bits[i]
		z |= (pt[d] & 1) << cnt
		pt[d] >>= 1
		cnt++
	}

	z |= uint64(1) << maxh
	for z&1 == 0 {
		z >>= 1
	}

	return z >> 1
}

// Level returns the resolution level of an HZ index: floor(log2(hz))+1, or 0
// for index 0.
func Level(hzaddr uint64) int {
	return bits.Len64(hzaddr)
}

// LevelFromBlock returns the resolution level of the finest samples stored in
// a block of 2^bpb samples. Block 0 holds levels 0 through bpb and reports 0;
// every other block holds a single level, Level(block << bpb).
func LevelFromBlock(block uint64, bpb int) int {
	if block == 0 {
		return 0
	}

	return bits.Len64(block) + bpb
}
