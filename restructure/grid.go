// Package restructure regroups arbitrarily owned patches into regular
// super-patches, one per owning rank, and scatters them back on read.
//
// The global box is cut into a grid of power-of-two cells. Cell i is owned by
// rank i*(nprocs/cells); every rank holding a patch that intersects the cell
// ships the intersection to the owner, which assembles a row-major buffer
// over the cell. Cells on the upper boundary of the box are clipped to it.
package restructure

import (
	"context"
	"fmt"

	"github.com/arloliu/idxio/comm"
	"github.com/arloliu/idxio/errs"
	"github.com/arloliu/idxio/geom"
	"github.com/arloliu/idxio/hz"
)

// Grid is the regular decomposition of a box into super-patch cells.
type Grid struct {
	Bounds    geom.Point
	PatchSize geom.Point
	Count     geom.Point
	Nprocs    int
}

// Total returns the number of cells.
func (g Grid) Total() int {
	return int(g.Count.Volume())
}

// Cell returns the box of cell i, clipped to Bounds, and whether it was
// clipped.
func (g Grid) Cell(i int) (geom.Box, bool) {
	var b geom.Box
	boundary := false
	idx := uint64(i)
	for d := range geom.MaxDims {
		c := idx % g.Count[d]
		idx /= g.Count[d]

		b.Offset[d] = c * g.PatchSize[d]
		b.Size[d] = g.PatchSize[d]
		if b.Offset[d]+b.Size[d] > g.Bounds[d] {
			b.Size[d] = g.Bounds[d] - b.Offset[d]
			boundary = true
		}
	}

	return b, boundary
}

// Owner returns the rank owning cell i.
func (g Grid) Owner(i int) int {
	return i * (g.Nprocs / g.Total())
}

// CellRange returns the cells intersecting box as a box of cell coordinates.
func (g Grid) CellRange(box geom.Box) geom.Box {
	var r geom.Box
	for d := range geom.MaxDims {
		lo := box.Offset[d] / g.PatchSize[d]
		hi := geom.CeilDiv(box.Offset[d]+box.Size[d], g.PatchSize[d])
		r.Offset[d] = lo
		r.Size[d] = hi - lo
	}

	return r
}

// CellsOf returns the indices of the cells intersecting box, ascending.
func (g Grid) CellsOf(box geom.Box) []int {
	r := g.CellRange(box)
	if r.Empty() {
		return nil
	}

	counts := geom.NewBox(geom.Pt(), g.Count)
	var out []int
	geom.ForEachRow(r, func(start geom.Point) {
		base := counts.Index(start)
		for x := range r.Size[0] {
			out = append(out, int(base+x))
		}
	})

	return out
}

func (g Grid) String() string {
	return fmt.Sprintf("grid{bounds %v, patch %v, count %v, nprocs %d}", g.Bounds, g.PatchSize, g.Count, g.Nprocs)
}

// newGrid derives the cell count for a patch size, first rounding the size
// up to a multiple of chunk.
func newGrid(bounds, ps, chunk geom.Point, nprocs int) Grid {
	g := Grid{Bounds: bounds, Nprocs: nprocs}
	for d := range geom.MaxDims {
		c := max(chunk[d], 1)
		ps[d] = max(geom.CeilDiv(max(ps[d], 1), c)*c, 1)
		g.PatchSize[d] = ps[d]
		g.Count[d] = geom.CeilDiv(bounds[d], ps[d])
	}

	return g
}

// GridFromPattern sizes the cells by halving the power-of-two bounds along
// the first log2(pow2(nprocs)) bits of the pattern, using one bit fewer
// until there are at most nprocs cells. Cells then follow the pattern's
// coarsest splits, so aggregators read contiguous block runs.
func GridFromPattern(bounds geom.Point, p hz.Pattern, chunk geom.Point, nprocs int) Grid {
	pow2 := geom.Pow2Extent(bounds)
	for bits := min(geom.Log2(geom.Pow2Ceil(uint64(nprocs))), p.MaxH()); ; bits-- {
		ps := pow2
		for i := 1; i <= bits; i++ {
			ps[p.Bit(i)] /= 2
		}

		g := newGrid(bounds, ps, chunk, nprocs)
		if g.Total() <= nprocs || bits == 0 {
			return g
		}
	}
}

// GridFromBox starts from a caller-chosen cell size, rounded up to powers of
// two, and doubles it one dimension at a time, round robin over the
// dimensions that still have more than one cell, until there are at most
// nprocs cells.
func GridFromBox(bounds, size, chunk geom.Point, nprocs int) Grid {
	ps := geom.Pow2Extent(size)
	g := newGrid(bounds, ps, chunk, nprocs)
	for d := 0; g.Total() > nprocs; d = (d + 1) % geom.MaxDims {
		if g.Count[d] <= 1 {
			continue
		}
		ps[d] = g.PatchSize[d] * 2
		g = newGrid(bounds, ps, chunk, nprocs)
	}

	return g
}

// GridFromPatches uses the power-of-two rounded largest first-patch extent
// over all ranks as the starting cell size of GridFromBox.
func GridFromPatches(ctx context.Context, c *comm.Comm, bounds geom.Point, patches []geom.Box, chunk geom.Point) (Grid, error) {
	var local [geom.MaxDims]uint64
	if len(patches) > 0 {
		local = patches[0].Size
	}

	all, err := comm.AllgatherUint64s(ctx, c, local[:])
	if err != nil {
		return Grid{}, err
	}

	size := geom.Extent()
	for r, vals := range all {
		if len(vals) != geom.MaxDims {
			return Grid{}, fmt.Errorf("%w: rank %d sent %d extents", errs.ErrSizeMismatch, r, len(vals))
		}
		for d := range geom.MaxDims {
			size[d] = max(size[d], vals[d])
		}
	}

	return GridFromBox(bounds, size, chunk, c.Size()), nil
}
