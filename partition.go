package idxio

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/arloliu/idxio/comm"
	"github.com/arloliu/idxio/errs"
	"github.com/arloliu/idxio/fileio"
	"github.com/arloliu/idxio/geom"
	"github.com/arloliu/idxio/hz"
	"github.com/arloliu/idxio/hzbuf"
)

// partition is one cell of the partition grid.
type partition struct {
	index int
	box   geom.Box
}

// partitionSize returns the extent of one partition: the bounds divided by
// the partition count, rounded up to a multiple of the chunk size.
func partitionSize(bounds, count, chunk geom.Point) geom.Point {
	var size geom.Point
	for d := range geom.MaxDims {
		n := geom.CeilDiv(bounds[d], max(count[d], 1))
		c := max(chunk[d], 1)
		size[d] = max(geom.CeilDiv(n, c)*c, 1)
	}

	return size
}

// partitions lists the non-empty partitions of the dataset in index order.
// Partition i sits at the row-major position i of the partition grid,
// dimension 0 fastest; partitions past the bounds are left out.
func (f *File) partitions() (geom.Point, []partition) {
	count := f.meta.PartitionCount
	size := partitionSize(f.meta.Bounds, count, f.chunk())

	var out []partition
	for i := range int(count.Volume()) {
		var b geom.Box
		idx := uint64(i)
		empty := false
		for d := range geom.MaxDims {
			n := max(count[d], 1)
			c := idx % n
			idx /= n

			b.Offset[d] = c * size[d]
			if b.Offset[d] >= f.meta.Bounds[d] {
				empty = true
				break
			}
			b.Size[d] = min(size[d], f.meta.Bounds[d]-b.Offset[d])
		}
		if !empty {
			out = append(out, partition{index: i, box: b})
		}
	}

	return size, out
}

// partitionOf returns the index of the partition holding pt.
func partitionOf(pt, size, count geom.Point) int {
	idx := 0
	for d := geom.MaxDims - 1; d >= 0; d-- {
		idx = idx*int(max(count[d], 1)) + int(pt[d]/size[d])
	}

	return idx
}

func (f *File) globalTarget() gridTarget {
	_, parts := f.partitions()
	tg := gridTarget{bounds: f.meta.Bounds, pattern: f.pattern}
	for _, p := range parts {
		tg.sets = append(tg.sets, fileSet{paths: f.paths.Partition(p.index), region: p.box})
	}

	return tg
}

func (f *File) writeGlobalPartition(ctx context.Context, patches []Patch) error {
	boxes, data := patchBuffers(patches)
	return f.writeGrid(ctx, f.c, f.globalTarget(), boxes, data)
}

func (f *File) readGlobalPartition(ctx context.Context, patches []Patch) error {
	boxes, data := patchBuffers(patches)
	return f.readGrid(ctx, f.c, f.globalTarget(), boxes, data)
}

// writeLocalPartition splits the ranks by the partition holding their
// first patch and writes every partition as an independent dataset in
// partition coordinates. All patches of a rank must lie in one partition.
func (f *File) writeLocalPartition(ctx context.Context, patches []Patch) error {
	size, parts := f.partitions()
	count := f.meta.PartitionCount

	color := comm.Undefined
	var part partition
	if len(patches) > 0 {
		color = partitionOf(patches[0].Box.Offset, size, count)
		for _, p := range parts {
			if p.index == color {
				part = p
			}
		}
		for i, p := range patches {
			if !part.box.ContainsBox(p.Box) {
				return fmt.Errorf("%w: patch %d %v is not inside partition %d %v", errs.ErrInvalidBox, i, p.Box, color, part.box)
			}
		}
	}

	sub, err := f.c.Split(ctx, color, f.c.Rank())
	if err != nil || sub == nil {
		return err
	}

	p, err := hz.Guess(f.opts.guess, hzbuf.ChunkBounds(part.box.Size, f.chunk()))
	if err != nil {
		return err
	}
	paths := f.paths.Partition(color)
	paths.Template = fileio.Template(p.MaxH(), f.meta.BitsPerBlock)

	boxes := make([]geom.Box, len(patches))
	data := make([][][]byte, len(patches))
	for i, patch := range patches {
		boxes[i] = patch.Box.Translate(part.box.Offset)
		data[i] = patch.Data
	}

	tg := gridTarget{
		bounds:  part.box.Size,
		pattern: p,
		sets:    []fileSet{{paths: paths, region: geom.NewBox(geom.Pt(), part.box.Size)}},
	}
	if err := f.writeGrid(ctx, sub, tg, boxes, data); err != nil {
		return err
	}

	if sub.Rank() != 0 {
		return nil
	}

	pm := *f.meta
	pm.Bounds = part.box.Size
	pm.PartitionIndex = color
	pm.PartitionSize = size
	pm.PartitionOffset = part.box.Offset
	pm.Bits = p.String()
	pm.Template = paths.Template
	pm.Cores = sub.Size()
	pm.FirstTime = f.step
	pm.LastTime = f.step
	if f.first >= 0 {
		pm.FirstTime, pm.LastTime = min(f.first, f.step), max(f.last, f.step)
	}

	f.logger.Debug("partition written",
		zap.Int("partition", color),
		zap.Stringer("offset", part.box.Offset),
		zap.String("bits", pm.Bits),
		zap.Int("ranks", sub.Size()))

	return pm.WriteFile(paths.MetadataFile())
}

// readLocalPartition reads every partition in turn with the full
// communicator. Each partition's metadata gives its bit pattern and
// offset; partitions without metadata were never written and are skipped.
func (f *File) readLocalPartition(ctx context.Context, patches []Patch) error {
	_, parts := f.partitions()

	for _, part := range parts {
		paths := f.paths.Partition(part.index)
		pm, err := shareMetadata(ctx, f.c, paths.MetadataFile(), false)
		if err != nil {
			return err
		}
		if pm == nil {
			continue
		}
		p, err := pm.Pattern()
		if err != nil {
			return err
		}
		paths.Template = pm.Template
		paths.BlocksPerFile = pm.BlocksPerFile
		pbox := geom.NewBox(pm.PartitionOffset, pm.Bounds)

		var (
			boxes   []geom.Box
			data    [][][]byte
			sources []int
			inters  []geom.Box
		)
		for i, patch := range patches {
			inter, ok := patch.Box.Intersect(pbox)
			if !ok {
				continue
			}
			boxes = append(boxes, inter.Translate(pbox.Offset))
			data = append(data, NewPatch(inter, f.meta.Fields).Data)
			sources = append(sources, i)
			inters = append(inters, inter)
		}

		tg := gridTarget{
			bounds:  pm.Bounds,
			pattern: p,
			sets:    []fileSet{{paths: paths, region: geom.NewBox(geom.Pt(), pm.Bounds)}},
		}
		if err := f.readGrid(ctx, f.c, tg, boxes, data); err != nil {
			return fmt.Errorf("partition %d: %w", part.index, err)
		}

		for k, i := range sources {
			dst := patches[i]
			for v, vr := range f.meta.Fields {
				if err := geom.CopyBox(dst.Data[v], dst.Box, data[k][v], inters[k], inters[k], vr.Type.BytesPerSample()); err != nil {
					return fmt.Errorf("%w: %w", errs.ErrRestructure, err)
				}
			}
		}
	}

	return nil
}
