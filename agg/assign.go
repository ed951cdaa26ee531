// Package agg moves HZ ordered samples between the ranks that produced them
// and the aggregator ranks that own file regions.
//
// A dataset's present blocks are grouped into slots: (file, variable, part),
// where the parts split a file's present blocks into AggregationFactor
// contiguous ranges. Slot s of S is aggregated by rank s*nprocs/S. Every
// rank computes the assignment from the same global layout, so no
// coordination is needed to agree on it.
//
// Blocks inside a file are compacted: absent blocks take no space, and the
// variables follow each other, each holding its present blocks in ascending
// order.
package agg

import (
	"fmt"

	"github.com/arloliu/idxio/errs"
	"github.com/arloliu/idxio/format"
	"github.com/arloliu/idxio/layout"
	"github.com/arloliu/idxio/section"
)

// Geometry describes the file layout shared by every rank.
type Geometry struct {
	MaxH          int
	BitsPerBlock  int
	BlocksPerFile int
	// SampleBytes is the size of one HZ sample of every variable of the
	// dataset, after chunking and the sample codec.
	SampleBytes       []int
	Compression       format.CompressionType
	HeaderAlign       int
	AggregationFactor int
}

// Validate checks that the geometry describes a writable file set.
func (g Geometry) Validate() error {
	switch {
	case g.BitsPerBlock < 1 || g.BitsPerBlock > 30:
		return fmt.Errorf("%w: bits per block %d", errs.ErrInvalidOption, g.BitsPerBlock)
	case g.BlocksPerFile < 1:
		return fmt.Errorf("%w: blocks per file %d", errs.ErrInvalidOption, g.BlocksPerFile)
	case len(g.SampleBytes) == 0:
		return fmt.Errorf("%w: no variables", errs.ErrInvalidOption)
	case g.AggregationFactor < 1:
		return fmt.Errorf("%w: aggregation factor %d", errs.ErrInvalidOption, g.AggregationFactor)
	}
	for v, sb := range g.SampleBytes {
		if sb < 1 {
			return fmt.Errorf("%w: variable %d has %d byte samples", errs.ErrInvalidOption, v, sb)
		}
		if uint64(g.BlockBytes(v)) > section.MaxLength {
			return fmt.Errorf("%w: variable %d blocks of %d bytes", errs.ErrInvalidOption, v, g.BlockBytes(v))
		}
	}

	return nil
}

// VarCount returns the number of variables of the file set.
func (g Geometry) VarCount() int {
	return len(g.SampleBytes)
}

// BlockSamples returns the number of HZ indices of one block.
func (g Geometry) BlockSamples() uint64 {
	return uint64(1) << min(g.BitsPerBlock, max(g.MaxH, 0))
}

// BlockBytes returns the uncompressed size of one block of variable v.
func (g Geometry) BlockBytes(v int) int {
	return int(g.BlockSamples()) * g.SampleBytes[v]
}

// HeaderSize returns the aligned size of a file header.
func (g Geometry) HeaderSize() int {
	return section.HeaderSize(g.BlocksPerFile, g.VarCount(), g.HeaderAlign)
}

// NewHeader returns an empty header for one file of the set.
func (g Geometry) NewHeader() *section.FileHeader {
	return section.NewFileHeader(g.BlocksPerFile, g.BitsPerBlock, g.VarCount(), g.Compression, g.HeaderAlign)
}

// Part is one aggregation slot: a contiguous range of the present blocks of
// one file for one variable.
type Part struct {
	File int
	Var  int
	Part int
	// First and Count index the present blocks of File.
	First int
	Count int
	// Aggregator is the rank that owns the slot.
	Aggregator int
}

// Assignment maps the present blocks of a global layout onto aggregators.
type Assignment struct {
	geo    Geometry
	layout *layout.Layout
	stats  layout.Stats
	nprocs int
	// fileSlot is the position of every existing file in stats.Existing.
	fileSlot map[int]int
}

// Assign computes the aggregation slots of a global layout for nprocs ranks.
func Assign(l *layout.Layout, g Geometry, nprocs int) *Assignment {
	st := l.Stats(g.BlocksPerFile)
	a := &Assignment{
		geo:      g,
		layout:   l,
		stats:    st,
		nprocs:   nprocs,
		fileSlot: make(map[int]int, len(st.Existing)),
	}
	for k, f := range st.Existing {
		a.fileSlot[f] = k
	}

	return a
}

// Stats returns the per-file statistics of the layout.
func (a *Assignment) Stats() layout.Stats {
	return a.stats
}

// Slots returns the total number of slots.
func (a *Assignment) Slots() int {
	return len(a.stats.Existing) * a.geo.VarCount() * a.geo.AggregationFactor
}

func (a *Assignment) slot(file, v, part int) (int, bool) {
	k, ok := a.fileSlot[file]
	if !ok {
		return 0, false
	}

	return (k*a.geo.VarCount()+v)*a.geo.AggregationFactor + part, true
}

// Aggregator returns the rank owning slot (file, v, part), or -1 when the
// file holds no present block.
func (a *Assignment) Aggregator(file, v, part int) int {
	s, ok := a.slot(file, v, part)
	if !ok {
		return -1
	}

	return s * a.nprocs / a.Slots()
}

// HeaderWriter returns the rank that writes the header of file.
func (a *Assignment) HeaderWriter(file int) int {
	return a.Aggregator(file, 0, 0)
}

// partRange returns the present block range [first, first+count) of part p
// of a file with n present blocks.
func partRange(n, af, p int) (int, int) {
	first := p * n / af
	return first, (p+1)*n/af - first
}

// partOf returns the part holding present block idx of a file with n
// present blocks.
func partOf(n, af, idx int) int {
	return ((idx+1)*af - 1) / n
}

// Parts returns the non-empty parts of (file, v) in ascending order.
func (a *Assignment) Parts(file, v int) []Part {
	if _, ok := a.fileSlot[file]; !ok {
		return nil
	}

	n := a.stats.BCPF[file]
	parts := make([]Part, 0, a.geo.AggregationFactor)
	for p := range a.geo.AggregationFactor {
		first, count := partRange(n, a.geo.AggregationFactor, p)
		if count == 0 {
			continue
		}
		parts = append(parts, Part{
			File:       file,
			Var:        v,
			Part:       p,
			First:      first,
			Count:      count,
			Aggregator: a.Aggregator(file, v, p),
		})
	}

	return parts
}

// Owned returns the non-empty parts aggregated by rank, ordered by file,
// variable and part.
func (a *Assignment) Owned(rank int) []Part {
	var owned []Part
	for _, f := range a.stats.Existing {
		for v := range a.geo.VarCount() {
			for _, p := range a.Parts(f, v) {
				if p.Aggregator == rank {
					owned = append(owned, p)
				}
			}
		}
	}

	return owned
}

// Locate returns the file of present block b, its position among the
// file's present blocks and its part.
//
// Returns:
//   - file, idx, part: Position of the block
//   - error: errs.ErrIO when b is not present in the layout
func (a *Assignment) Locate(b uint64) (int, int, int, error) {
	if !a.layout.IsPresent(b) {
		return 0, 0, 0, fmt.Errorf("%w: block %d is not in the layout", errs.ErrIO, b)
	}

	bpf := a.geo.BlocksPerFile
	file := a.stats.FileOf(b)
	idx := int(b - uint64(file)*uint64(bpf) - a.layout.NegativeOffset(bpf, b))

	return file, idx, partOf(a.stats.BCPF[file], a.geo.AggregationFactor, idx), nil
}

// VarBase returns the offset of the first block of variable v in file for
// uncompressed data sets.
func (a *Assignment) VarBase(file, v int) uint64 {
	off := uint64(a.geo.HeaderSize())
	for u := range v {
		off += uint64(a.stats.BCPF[file]) * uint64(a.geo.BlockBytes(u))
	}

	return off
}

// BlockOffset returns the offset of present block idx of variable v in file
// for uncompressed data sets.
func (a *Assignment) BlockOffset(file, v, idx int) uint64 {
	return a.VarBase(file, v) + uint64(idx)*uint64(a.geo.BlockBytes(v))
}

// ReadAggregator returns the rank serving reads of (file, v) for a dataset
// of fileCount files. Every file has a reader, existing or not.
func ReadAggregator(file, v, fileCount, varCount, nprocs int) int {
	return (file*varCount + v) * nprocs / (fileCount * varCount)
}
