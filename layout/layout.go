// Package layout decides which blocks of an IDX dataset a box touches.
//
// A block is a run of 2^bpb consecutive HZ indices; block b covers
// [b<<bpb, (b+1)<<bpb). Block 0 holds every level up to bpb and every other
// block holds samples of a single level, so block levels run from 0 (block 0)
// to maxh-bpb and level i >= 1 holds the blocks [2^(i-1), 2^i).
//
// A Layout records the present blocks in a roaring bitmap. Files store only
// present blocks, so the byte position of a block depends on how many blocks
// before it in the same file are absent (NegativeOffset).
package layout

import (
	"fmt"
	"math"
	"sort"

	"github.com/RoaringBitmap/roaring"

	"github.com/arloliu/idxio/errs"
	"github.com/arloliu/idxio/geom"
	"github.com/arloliu/idxio/hz"
)

// Resolution is an inclusive range of HZ levels.
type Resolution struct {
	From int
	To   int
}

// FullResolution returns the range of every level of a maxh-bit dataset.
func FullResolution(maxh int) Resolution {
	return Resolution{From: 0, To: maxh}
}

// Contains reports whether level h is in the range.
func (r Resolution) Contains(h int) bool {
	return h >= r.From && h <= r.To
}

// Clamp restricts the range to the levels of a maxh-bit dataset.
func (r Resolution) Clamp(maxh int) Resolution {
	return Resolution{From: max(r.From, 0), To: min(r.To, maxh)}
}

func (r Resolution) String() string {
	return fmt.Sprintf("[%d, %d]", r.From, r.To)
}

// Layout is the set of present blocks of a dataset with a given maxh and
// bits per block.
type Layout struct {
	maxh    int
	bpb     int
	present *roaring.Bitmap
	sorted  []uint64 // lazily built from present, nil when stale
}

// New returns an empty layout.
//
// Parameters:
//   - maxh: Number of bit positions of the pattern
//   - bpb: Bits per block; when maxh <= bpb the whole dataset is block 0
func New(maxh, bpb int) *Layout {
	return &Layout{maxh: maxh, bpb: bpb, present: roaring.NewBitmap()}
}

// MaxH returns the pattern length the layout was built for.
func (l *Layout) MaxH() int {
	return l.maxh
}

// BitsPerBlock returns the block size exponent.
func (l *Layout) BitsPerBlock() int {
	return l.bpb
}

// Levels returns the number of block levels, max(1, maxh-bpb+1). Block 0
// is level 0; level i >= 1 holds the 2^(i-1) blocks of HZ level bpb+i.
func (l *Layout) Levels() int {
	return max(1, l.maxh-l.bpb+1)
}

// TotalBlocks returns the number of blocks of the full dataset.
func (l *Layout) TotalBlocks() uint64 {
	if l.maxh <= l.bpb {
		return 1
	}

	return uint64(1) << (l.maxh - l.bpb)
}

// BlockLevel returns the block level of block b.
func BlockLevel(b uint64) int {
	if b == 0 {
		return 0
	}

	return hz.Level(b)
}

// Create computes the blocks holding at least one sample of box in the
// levels of res.
//
// Block 0 holds every level up to bpb. It is present when res reaches one of
// those levels and the box holds one of their samples.
//
// Parameters:
//   - box: Half-open box in global coordinates
//   - p: Bit pattern of the dataset
//   - bpb: Bits per block
//   - res: Levels to cover
//
// Returns:
//   - *Layout: Present blocks
//   - error: errs.ErrInvalidBox when block numbers do not fit in 32 bits
func Create(box geom.Box, p hz.Pattern, bpb int, res Resolution) (*Layout, error) {
	l := New(p.MaxH(), bpb)
	if p.MaxH()-bpb > 32 {
		return nil, fmt.Errorf("%w: %d block bits exceed 32", errs.ErrInvalidBox, p.MaxH()-bpb)
	}

	res = res.Clamp(p.MaxH())
	for h := res.From; h <= res.To; h++ {
		r, ok := p.AlignLevel(h, box)
		if !ok {
			continue
		}

		if h <= bpb {
			l.Add(0)
			continue
		}

		l.addLevel(p, r, box)
	}

	return l, nil
}

// addLevel records the blocks of one level above bpb. Only blocks between the
// level's first and last sample in the box are candidates; each candidate is
// kept when its sample lattice intersects the box.
func (l *Layout) addLevel(p hz.Pattern, r hz.LevelRange, box geom.Box) {
	end := box.End()
	firstBlock := r.StartHz >> l.bpb
	lastBlock := r.EndHz >> l.bpb
	for b := firstBlock; b <= lastBlock; b++ {
		if r.Dense() || blockIntersects(p, b, l.bpb, r.Delta, box.Offset, end) {
			l.Add(b)
		}
	}
}

// blockIntersects reports whether block b has a lattice sample inside
// [lo, hi). The samples of a block form a full lattice box between the
// coordinates of its first and last HZ index.
func blockIntersects(p hz.Pattern, b uint64, bpb int, delta, lo, hi geom.Point) bool {
	from := p.HzToXYZ(b << bpb)
	to := p.HzToXYZ((b+1)<<bpb - 1)
	for d := range geom.MaxDims {
		first := from[d]
		if lo[d] > first {
			first += (lo[d] - first + delta[d] - 1) / delta[d] * delta[d]
		}
		if first > to[d] || first >= hi[d] {
			return false
		}
	}

	return true
}

// Add marks block b present.
func (l *Layout) Add(b uint64) {
	l.present.Add(uint32(b))
	l.sorted = nil
}

// IsPresent reports whether block b is present.
func (l *Layout) IsPresent(b uint64) bool {
	if b > math.MaxUint32 {
		return false
	}

	return l.present.Contains(uint32(b))
}

// Count returns the number of present blocks.
func (l *Layout) Count() uint64 {
	return l.present.GetCardinality()
}

// Blocks returns the present blocks in ascending order. The slice is shared
// and must not be modified.
func (l *Layout) Blocks() []uint64 {
	if l.sorted == nil {
		arr := l.present.ToArray()
		l.sorted = make([]uint64, len(arr))
		for i, b := range arr {
			l.sorted[i] = uint64(b)
		}
	}

	return l.sorted
}

// LevelBlocks returns the present blocks of block level i in ascending order.
func (l *Layout) LevelBlocks(i int) []uint64 {
	lo, hi := levelSpan(i)
	return l.rangeBlocks(lo, hi)
}

// BlockCount returns the number of present blocks of block level i.
func (l *Layout) BlockCount(i int) int {
	return len(l.LevelBlocks(i))
}

func levelSpan(i int) (uint64, uint64) {
	if i == 0 {
		return 0, 1
	}

	return uint64(1) << (i - 1), uint64(1) << i
}

// rangeBlocks returns the present blocks in [lo, hi).
func (l *Layout) rangeBlocks(lo, hi uint64) []uint64 {
	blocks := l.Blocks()
	i := sort.Search(len(blocks), func(i int) bool { return blocks[i] >= lo })
	j := sort.Search(len(blocks), func(j int) bool { return blocks[j] >= hi })

	return blocks[i:j:j]
}

// FileBlocks returns the present blocks of file f in ascending order.
func (l *Layout) FileBlocks(bpf int, f int) []uint64 {
	lo := uint64(f) * uint64(bpf)

	return l.rangeBlocks(lo, lo+uint64(bpf))
}

// NegativeOffset returns how many blocks before b in b's file are absent.
// The compacted position of a present block inside its file is
// b - firstBlockOfFile - NegativeOffset(bpf, b).
func (l *Layout) NegativeOffset(bpf int, b uint64) uint64 {
	first := b / uint64(bpf) * uint64(bpf)
	present := uint64(len(l.rangeBlocks(first, b)))

	return b - first - present
}

// Union adds the blocks of others to l.
//
// Returns:
//   - error: errs.ErrSizeMismatch when a layout has another maxh or bpb
func (l *Layout) Union(others ...*Layout) error {
	for _, o := range others {
		if o.maxh != l.maxh || o.bpb != l.bpb {
			return fmt.Errorf("%w: layout (%d, %d) vs (%d, %d)", errs.ErrSizeMismatch, l.maxh, l.bpb, o.maxh, o.bpb)
		}
		l.present.Or(o.present)
	}
	l.sorted = nil

	return nil
}

// Clone returns a deep copy.
func (l *Layout) Clone() *Layout {
	return &Layout{maxh: l.maxh, bpb: l.bpb, present: l.present.Clone()}
}

// MarshalBinary serializes the present blocks.
func (l *Layout) MarshalBinary() ([]byte, error) {
	return l.present.ToBytes()
}

// UnmarshalBinary replaces the present blocks with serialized ones.
func (l *Layout) UnmarshalBinary(data []byte) error {
	bm := roaring.NewBitmap()
	if err := bm.UnmarshalBinary(data); err != nil {
		return fmt.Errorf("%w: layout bitmap: %w", errs.ErrComm, err)
	}
	l.present = bm
	l.sorted = nil

	return nil
}
