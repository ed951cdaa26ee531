package hz

import (
	"github.com/arloliu/idxio/geom"
)

// ZStart returns the first HZ index of level h.
func ZStart(h int) uint64 {
	if h == 0 {
		return 0
	}

	return uint64(1) << (h - 1)
}

// ZEnd returns the last HZ index of level h.
func ZEnd(h int) uint64 {
	if h == 0 {
		return 0
	}

	return uint64(1)<<h - 1
}

// ZDelta returns the per-dimension stride between neighbouring samples of
// level h. Level 0 holds a single sample and its stride spans Bounds.
func (p Pattern) ZDelta(h int) geom.Point {
	delta := geom.Extent()
	for k := max(h, 1); k <= p.MaxH(); k++ {
		delta[p.bits[k]] <<= 1
	}

	return delta
}

// LevelOrigin returns the coordinate of the first sample of level h.
func (p Pattern) LevelOrigin(h int) geom.Point {
	return p.HzToXYZ(ZStart(h))
}

// LevelRange describes the samples of one level that fall inside a box.
//
// The samples form a lattice from First to Last (inclusive) with stride
// Delta. StartHz and EndHz bound their HZ indices; the indices in between
// that belong to lattice points outside the box are gaps.
type LevelRange struct {
	Level   int
	First   geom.Point
	Last    geom.Point
	Delta   geom.Point
	Samples geom.Point
	StartHz uint64
	EndHz   uint64
}

// Slots returns the number of HZ indices in [StartHz, EndHz].
func (r LevelRange) Slots() uint64 {
	return r.EndHz - r.StartHz + 1
}

// Count returns the number of lattice samples inside the box.
func (r LevelRange) Count() uint64 {
	return r.Samples.Volume()
}

// Dense reports whether every index in [StartHz, EndHz] is a sample inside
// the box.
func (r LevelRange) Dense() bool {
	return r.Count() == r.Slots()
}

// ForEach calls fn for every lattice sample in row-major order, dimension 0
// fastest, with its coordinate and HZ index.
func (r LevelRange) ForEach(p Pattern, fn func(pt geom.Point, hzaddr uint64)) {
	var step geom.Point
	pt := r.First
	for {
		fn(pt, p.XYZToHz(pt))

		d := 0
		for ; d < geom.MaxDims; d++ {
			step[d]++
			if step[d] < r.Samples[d] {
				pt[d] += r.Delta[d]
				break
			}
			step[d] = 0
			pt[d] = r.First[d]
		}
		if d == geom.MaxDims {
			return
		}
	}
}

// AlignLevel intersects the lattice of level h with box.
//
// Parameters:
//   - h: Level, 0 <= h <= MaxH
//   - box: Half-open box in global coordinates
//
// Returns:
//   - LevelRange: First and last lattice points inside the box, per-dimension
//     sample counts and the HZ range they span
//   - bool: false when no sample of the level lies in the box
func (p Pattern) AlignLevel(h int, box geom.Box) (LevelRange, bool) {
	r := LevelRange{
		Level: h,
		First: p.LevelOrigin(h),
		Delta: p.ZDelta(h),
	}

	bounds := p.Bounds()
	for d := range geom.MaxDims {
		lo := box.Offset[d]
		hi := min(box.Offset[d]+box.Size[d], bounds[d])
		o, delta := r.First[d], r.Delta[d]

		first := o
		if lo > o {
			first = o + (lo-o+delta-1)/delta*delta
		}
		if first >= hi {
			return LevelRange{}, false
		}
		n := (hi-1-first)/delta + 1

		r.First[d] = first
		r.Last[d] = first + (n-1)*delta
		r.Samples[d] = n
	}

	r.StartHz = p.XYZToHz(r.First)
	r.EndHz = p.XYZToHz(r.Last)

	return r, true
}
