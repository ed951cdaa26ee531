// Package geom provides the N-dimensional points and boxes of the global
// index space, and row-major copies between boxes.
//
// Boxes are half-open: a Box covers Offset[d] <= x < Offset[d]+Size[d] in
// every dimension. Unused dimensions have offset 0 and size 1, so every
// algorithm can iterate all MaxDims dimensions uniformly. Row-major order
// means dimension 0 varies fastest.
package geom

import (
	"fmt"
	"strings"
)

// MaxDims is the maximum number of dimensions of a dataset.
const MaxDims = 5

// Point is a coordinate or an extent in the global index space.
type Point [MaxDims]uint64

// Pt builds a point from leading coordinates; the rest are 0.
func Pt(xs ...uint64) Point {
	var p Point
	copy(p[:], xs)

	return p
}

// Extent builds an extent from leading sizes; the rest are 1.
func Extent(xs ...uint64) Point {
	p := Point{1, 1, 1, 1, 1}
	copy(p[:], xs)

	return p
}

// Volume returns the product of all components.
func (p Point) Volume() uint64 {
	v := uint64(1)
	for _, x := range p {
		v *= x
	}

	return v
}

// Add returns p + o component-wise.
func (p Point) Add(o Point) Point {
	for d := range p {
		p[d] += o[d]
	}

	return p
}

// Sub returns p - o component-wise. Callers guarantee o <= p.
func (p Point) Sub(o Point) Point {
	for d := range p {
		p[d] -= o[d]
	}

	return p
}

func (p Point) String() string {
	parts := make([]string, MaxDims)
	for d, x := range p {
		parts[d] = fmt.Sprint(x)
	}

	return "(" + strings.Join(parts, " ") + ")"
}

// Box is a half-open axis-aligned box.
type Box struct {
	Offset Point
	Size   Point
}

// NewBox builds a box from an offset and a size.
func NewBox(offset, size Point) Box {
	return Box{Offset: offset, Size: size}
}

// End returns the exclusive upper corner.
func (b Box) End() Point {
	return b.Offset.Add(b.Size)
}

// Volume returns the number of samples in the box.
func (b Box) Volume() uint64 {
	return b.Size.Volume()
}

// Empty reports whether the box holds no sample.
func (b Box) Empty() bool {
	for _, s := range b.Size {
		if s == 0 {
			return true
		}
	}

	return false
}

// Intersects reports whether the two boxes share at least one sample.
func (b Box) Intersects(o Box) bool {
	_, ok := b.Intersect(o)
	return ok
}

// Intersect returns the common part of two boxes.
func (b Box) Intersect(o Box) (Box, bool) {
	var r Box
	for d := range MaxDims {
		lo := max(b.Offset[d], o.Offset[d])
		hi := min(b.Offset[d]+b.Size[d], o.Offset[d]+o.Size[d])
		if hi <= lo {
			return Box{}, false
		}
		r.Offset[d] = lo
		r.Size[d] = hi - lo
	}

	return r, true
}

// Contains reports whether p lies in the box.
func (b Box) Contains(p Point) bool {
	for d := range MaxDims {
		if p[d] < b.Offset[d] || p[d] >= b.Offset[d]+b.Size[d] {
			return false
		}
	}

	return true
}

// ContainsBox reports whether o lies entirely in b.
func (b Box) ContainsBox(o Box) bool {
	for d := range MaxDims {
		if o.Offset[d] < b.Offset[d] || o.Offset[d]+o.Size[d] > b.Offset[d]+b.Size[d] {
			return false
		}
	}

	return true
}

// Index returns the row-major position of p inside the box.
func (b Box) Index(p Point) uint64 {
	idx := uint64(0)
	for d := MaxDims - 1; d >= 0; d-- {
		idx = idx*b.Size[d] + (p[d] - b.Offset[d])
	}

	return idx
}

// Translate returns the box moved by -origin. Callers guarantee origin <= Offset.
func (b Box) Translate(origin Point) Box {
	return Box{Offset: b.Offset.Sub(origin), Size: b.Size}
}

func (b Box) String() string {
	return fmt.Sprintf("%v+%v", b.Offset, b.Size)
}
