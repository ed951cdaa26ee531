// Package synth generates deterministic grid datasets for the command line
// tool and the demos, and checks read data against them.
package synth

import (
	"encoding/binary"
	"math"
	"slices"

	"github.com/arloliu/idxio"
	"github.com/arloliu/idxio/format"
	"github.com/arloliu/idxio/geom"
)

// Scalar is the single float64 variable of the basic scenario.
var Scalar = []idxio.Variable{{Name: "pressure", Type: format.Float64}}

// Mixed holds vector, scalar, integer and tensor variables.
var Mixed = []idxio.Variable{
	{Name: "position", Type: format.Float64x3},
	{Name: "density", Type: format.Float64},
	{Name: "energy", Type: format.Float64},
	{Name: "temperature", Type: format.Float64},
	{Name: "id", Type: format.Int32},
	{Name: "stress", Type: format.Float64x9},
}

// Value is the value of component comp of variable v at global row-major
// index idx.
func Value(idx uint64, v, comp int) float64 {
	return float64(100 + idx + uint64(v)*7 + uint64(comp)*3)
}

// PutValue stores x into buf as one value of kind k in host byte order.
// Integer kinds truncate.
func PutValue(buf []byte, k format.Kind, x float64) {
	switch k {
	case format.KindFloat64:
		binary.NativeEndian.PutUint64(buf, math.Float64bits(x))
	case format.KindFloat32:
		binary.NativeEndian.PutUint32(buf, math.Float32bits(float32(x)))
	case format.KindInt8, format.KindUint8:
		buf[0] = byte(int64(x))
	case format.KindInt16, format.KindUint16:
		binary.NativeEndian.PutUint16(buf, uint16(int64(x)))
	case format.KindInt32, format.KindUint32:
		binary.NativeEndian.PutUint32(buf, uint32(int64(x)))
	case format.KindInt64, format.KindUint64:
		binary.NativeEndian.PutUint64(buf, uint64(int64(x)))
	}
}

// Fill returns a patch over box holding Value at every sample of a dataset
// with the given bounds.
func Fill(box geom.Box, bounds geom.Point, vars []idxio.Variable) idxio.Patch {
	p := idxio.NewPatch(box, vars)
	domain := geom.NewBox(geom.Pt(), bounds)
	for v, vr := range vars {
		sb := uint64(vr.Type.BytesPerSample())
		width := vr.Type.Kind.Bits() / 8
		geom.ForEachRow(box, func(start geom.Point) {
			pt := start
			for x := range box.Size[0] {
				pt[0] = start[0] + x
				off := box.Index(pt) * sb
				idx := domain.Index(pt)
				for c := range vr.Type.ValuesPerSample {
					PutValue(p.Data[v][off+uint64(c*width):], vr.Type.Kind, Value(idx, v, c))
				}
			}
		})
	}

	return p
}

// Result counts the samples checked by Verify.
type Result struct {
	Compared   uint64
	Mismatched uint64
}

// Add accumulates o into r.
func (r *Result) Add(o Result) {
	r.Compared += o.Compared
	r.Mismatched += o.Mismatched
}

// Verify compares every sample of p with the generated values. A sample
// mismatches when any of its bytes differ.
func Verify(p idxio.Patch, bounds geom.Point, vars []idxio.Variable) Result {
	want := Fill(p.Box, bounds, vars)
	var res Result
	for v, vr := range vars {
		sb := vr.Type.BytesPerSample()
		got := p.Data[v]
		exp := want.Data[v]
		for off := 0; off+sb <= len(exp); off += sb {
			res.Compared++
			if off+sb > len(got) || !slices.Equal(got[off:off+sb], exp[off:off+sb]) {
				res.Mismatched++
			}
		}
	}

	return res
}

// Decompose splits bounds into n boxes of nearly equal size. The prime
// factors of n, largest first, are spent on the dimension with the
// largest cell extent. Boxes come out in row-major order of the cells.
func Decompose(bounds geom.Point, n int) []geom.Box {
	if n < 1 {
		return nil
	}

	counts := geom.Extent()
	for _, f := range primeFactors(n) {
		best := 0
		for d := range geom.MaxDims {
			if bounds[d]/counts[d] > bounds[best]/counts[best] {
				best = d
			}
		}
		counts[best] *= uint64(f)
	}

	out := make([]geom.Box, 0, n)
	cells := geom.NewBox(geom.Pt(), counts)
	geom.ForEachRow(cells, func(start geom.Point) {
		for x := range counts[0] {
			cell := start
			cell[0] = x
			var b geom.Box
			for d := range geom.MaxDims {
				lo, hi := split(bounds[d], counts[d], cell[d])
				b.Offset[d] = lo
				b.Size[d] = hi - lo
			}
			out = append(out, b)
		}
	})

	return out
}

// split returns the range of part i when extent is cut into n parts whose
// sizes differ by at most one.
func split(extent, n, i uint64) (uint64, uint64) {
	q, r := extent/n, extent%n
	lo := i*q + min(i, r)
	hi := lo + q
	if i < r {
		hi++
	}

	return lo, hi
}

func primeFactors(n int) []int {
	var out []int
	for f := 2; f*f <= n; f++ {
		for n%f == 0 {
			out = append(out, f)
			n /= f
		}
	}
	if n > 1 {
		out = append(out, n)
	}
	slices.Reverse(out)

	return out
}
