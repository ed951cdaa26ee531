// Package hzbuf converts row-major sample buffers into HZ ordered level
// buffers and back.
//
// Encoding one variable runs three stages:
//
//	chunk   groups ChunkSize^N samples into one HZ sample
//	codec   converts every value with a fixed-width SampleCodec
//	encode  scatters HZ samples into the slot range of every level
//
// Decode runs the same stages in reverse. Each stage can be switched off
// with Stages; a disabled chunk or codec stage passes its input through and
// a disabled encode stage leaves the level buffers zeroed.
//
// A Level holds every HZ index in [StartHz, EndHz] of the box, including the
// gaps that belong to lattice points outside it. Present marks the slots
// that hold a sample of the box, and Runs groups them for the aggregation
// exchange.
package hzbuf

import (
	"fmt"

	"github.com/RoaringBitmap/roaring"

	"github.com/arloliu/idxio/errs"
	"github.com/arloliu/idxio/geom"
	"github.com/arloliu/idxio/hz"
	"github.com/arloliu/idxio/layout"
)

// MaxLevelSlots bounds the slot range of a single level.
const MaxLevelSlots = 1<<32 - 1

// Level is the HZ ordered data of one level inside a box.
type Level struct {
	Range   hz.LevelRange
	Data    []byte
	Present *roaring.Bitmap
}

// Run is a range of consecutive present HZ indices.
type Run struct {
	Start uint64
	Count uint64
}

// End returns the HZ index past the run.
func (r Run) End() uint64 {
	return r.Start + r.Count
}

// Slot returns the bytes of HZ index hzaddr, which must lie in the range.
func (l *Level) Slot(hzaddr uint64, sampleBytes int) []byte {
	off := (hzaddr - l.Range.StartHz) * uint64(sampleBytes)
	return l.Data[off : off+uint64(sampleBytes)]
}

// Runs returns the present indices as ascending runs.
func (l *Level) Runs() []Run {
	if l.Range.Dense() {
		return []Run{{Start: l.Range.StartHz, Count: l.Range.Slots()}}
	}

	var runs []Run
	for _, off := range l.Present.ToArray() {
		hzaddr := l.Range.StartHz + uint64(off)
		if n := len(runs); n > 0 && runs[n-1].End() == hzaddr {
			runs[n-1].Count++
			continue
		}
		runs = append(runs, Run{Start: hzaddr, Count: 1})
	}

	return runs
}

// Buffer holds the levels of one variable inside a box of HZ samples.
type Buffer struct {
	Pattern     hz.Pattern
	Box         geom.Box
	SampleBytes int
	Res         layout.Resolution
	// Levels is indexed by level; levels outside Res or without a sample in
	// Box are nil.
	Levels []*Level
}

// New allocates the zeroed levels of box in the resolution range.
//
// Parameters:
//   - p: Bit pattern of the HZ sample space
//   - box: Box of HZ samples, inside p.Bounds()
//   - sampleBytes: Bytes per HZ sample
//   - res: Levels to allocate
//
// Returns:
//   - *Buffer: Buffer with Present set for every sample of box
//   - error: errs.ErrOutOfBounds when box leaves the pattern bounds, or
//     errs.ErrHZ when a level spans more than MaxLevelSlots indices
func New(p hz.Pattern, box geom.Box, sampleBytes int, res layout.Resolution) (*Buffer, error) {
	if !geom.NewBox(geom.Pt(), p.Bounds()).ContainsBox(box) {
		return nil, fmt.Errorf("%w: %v outside %v", errs.ErrOutOfBounds, box, p.Bounds())
	}

	res = res.Clamp(p.MaxH())
	b := &Buffer{
		Pattern:     p,
		Box:         box,
		SampleBytes: sampleBytes,
		Res:         res,
		Levels:      make([]*Level, p.MaxH()+1),
	}
	if box.Empty() {
		return b, nil
	}

	for h := res.From; h <= res.To; h++ {
		r, ok := p.AlignLevel(h, box)
		if !ok {
			continue
		}
		if r.Slots() > MaxLevelSlots {
			return nil, fmt.Errorf("%w: level %d spans %d indices", errs.ErrHZ, h, r.Slots())
		}

		lvl := &Level{
			Range:   r,
			Data:    make([]byte, r.Slots()*uint64(sampleBytes)),
			Present: roaring.NewBitmap(),
		}
		if r.Dense() {
			for off := range uint32(r.Slots()) {
				lvl.Present.Add(off)
			}
		} else {
			r.ForEach(p, func(_ geom.Point, hzaddr uint64) {
				lvl.Present.Add(uint32(hzaddr - r.StartHz))
			})
		}
		b.Levels[h] = lvl
	}

	return b, nil
}

// Size returns the total bytes held by the levels.
func (b *Buffer) Size() uint64 {
	n := uint64(0)
	for _, l := range b.Levels {
		if l != nil {
			n += uint64(len(l.Data))
		}
	}

	return n
}

// Samples returns the number of present samples over all levels.
func (b *Buffer) Samples() uint64 {
	n := uint64(0)
	for _, l := range b.Levels {
		if l != nil {
			n += l.Present.GetCardinality()
		}
	}

	return n
}
