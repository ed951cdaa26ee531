package idxio

import (
	"context"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/arloliu/idxio/agg"
	"github.com/arloliu/idxio/comm"
	"github.com/arloliu/idxio/endian"
	"github.com/arloliu/idxio/fileio"
	"github.com/arloliu/idxio/format"
	"github.com/arloliu/idxio/geom"
	"github.com/arloliu/idxio/hz"
	"github.com/arloliu/idxio/hzbuf"
	"github.com/arloliu/idxio/layout"
	"github.com/arloliu/idxio/restructure"
)

// fileSet is one set of block files and the part of the domain it holds.
type fileSet struct {
	paths  fileio.Paths
	region geom.Box
}

// gridTarget is a domain with its bit pattern, stored in one or more file
// sets sharing that pattern.
type gridTarget struct {
	bounds  geom.Point
	pattern hz.Pattern
	sets    []fileSet
}

// ownedRegion is the part of owned super-patch owned that falls in a file
// set.
type ownedRegion struct {
	owned int
	box   geom.Box
}

func ownedRegions(plan *restructure.Plan, set geom.Box) []ownedRegion {
	var out []ownedRegion
	for o, sp := range plan.Owned {
		if box, ok := sp.Box.Intersect(set); ok {
			out = append(out, ownedRegion{owned: o, box: box})
		}
	}

	return out
}

// chunk returns the chunk size in effect for the dataset.
func (f *File) chunk() geom.Point {
	if !f.opts.stages.Chunk {
		return geom.Extent()
	}

	return f.meta.ChunkSize
}

// flip reports whether stored samples use the opposite byte order.
func (f *File) flip() bool {
	return !endian.CompareNativeEndian(f.meta.Endian)
}

// codecFor returns the sample codec of values of kind k. The metadata
// records the codec as the bit rate of float64 values; kinds the codec does
// not apply to are stored as is.
func codecFor(k format.Kind, bitRate int) hzbuf.SampleCodec {
	codec, err := hzbuf.CodecForBitRate(k, bitRate)
	if err != nil {
		return hzbuf.Identity
	}
	if _, err := codec.Width(k); err != nil {
		return hzbuf.Identity
	}

	return codec
}

func (f *File) hzOptions(v, maxh int) hzbuf.Options {
	dt := f.meta.Fields[v].Type

	return hzbuf.Options{
		Type:       dt,
		ChunkSize:  f.chunk(),
		Codec:      codecFor(dt.Kind, f.meta.BitRate),
		FlipEndian: f.flip(),
		Stages:     f.opts.stages,
		Res:        f.opts.resolution(maxh),
	}
}

func (f *File) geometry(p hz.Pattern, af int) (agg.Geometry, error) {
	sb := make([]int, len(f.meta.Fields))
	for v := range sb {
		n, err := f.hzOptions(v, p.MaxH()).SampleBytes()
		if err != nil {
			return agg.Geometry{}, err
		}
		sb[v] = n
	}

	return agg.Geometry{
		MaxH:              p.MaxH(),
		BitsPerBlock:      f.meta.BitsPerBlock,
		BlocksPerFile:     f.meta.BlocksPerFile,
		SampleBytes:       sb,
		Compression:       f.meta.Compression,
		HeaderAlign:       f.opts.headerAlign,
		AggregationFactor: af,
	}, nil
}

// batches splits the variables into the rounds of the pipeline.
func (f *File) batches() [][]int {
	n := len(f.meta.Fields)
	size := f.opts.pipeLength
	if size <= 0 || size > n {
		size = n
	}

	var out [][]int
	for start := 0; start < n; start += size {
		vars := make([]int, 0, size)
		for v := start; v < min(start+size, n); v++ {
			vars = append(vars, v)
		}
		out = append(out, vars)
	}

	return out
}

// sampleBytes returns the row-major sample sizes of vars.
func (f *File) sampleBytes(vars []int) []int {
	out := make([]int, len(vars))
	for k, v := range vars {
		out[k] = f.meta.Fields[v].Type.BytesPerSample()
	}

	return out
}

// selectVars returns the buffers of vars of every patch.
func selectVars(data [][][]byte, vars []int) [][][]byte {
	out := make([][][]byte, len(data))
	for i := range data {
		out[i] = make([][]byte, len(vars))
		for k, v := range vars {
			out[i][k] = data[i][v]
		}
	}

	return out
}

// grid returns the super-patch grid of a target: cells of the configured
// restructure box, or cells following the bit pattern.
func (f *File) grid(c *comm.Comm, tg gridTarget) restructure.Grid {
	if f.opts.restructureBox.Volume() > 0 {
		return restructure.GridFromBox(tg.bounds, f.opts.restructureBox, f.chunk(), c.Size())
	}

	return restructure.GridFromPattern(tg.bounds, tg.pattern, f.chunk(), c.Size())
}

// writeGrid runs the write pipeline over boxes, given in the coordinates of
// the target.
func (f *File) writeGrid(ctx context.Context, c *comm.Comm, tg gridTarget, boxes []geom.Box, data [][][]byte) (err error) {
	start := time.Now()
	plan, err := restructure.BuildPlan(ctx, c, f.grid(c, tg), boxes, f.opts.rstCase)
	if err != nil {
		return err
	}
	geo, err := f.geometry(tg.pattern, f.opts.aggFactor)
	if err != nil {
		return err
	}
	res := f.opts.resolution(tg.pattern.MaxH())

	writers := make([]*agg.Writer, len(tg.sets))
	defer func() {
		for _, w := range writers {
			if w != nil {
				err = multierr.Append(err, w.Abort())
			}
		}
	}()

	regions := make([][]ownedRegion, len(tg.sets))
	for s, set := range tg.sets {
		regions[s] = ownedRegions(plan, set.region)

		local := layout.New(tg.pattern.MaxH(), geo.BitsPerBlock)
		for _, r := range regions[s] {
			cb, err := hzbuf.ChunkBox(r.box, f.chunk())
			if err != nil {
				return err
			}
			l, err := layout.Create(cb, tg.pattern, geo.BitsPerBlock, res)
			if err != nil {
				return err
			}
			if err := local.Union(l); err != nil {
				return err
			}
		}
		global, err := layout.Gather(ctx, c, local)
		if err != nil {
			return err
		}
		if writers[s], err = agg.NewWriter(c, geo, global, set.paths, f.step, f.logger); err != nil {
			return err
		}
	}
	layoutDone := time.Now()

	for _, vars := range f.batches() {
		owned, err := plan.Write(ctx, c, f.sampleBytes(vars), selectVars(data, vars))
		if err != nil {
			return err
		}

		for s, w := range writers {
			bufs := make([][]*hzbuf.Buffer, len(vars))
			for k, v := range vars {
				opts := f.hzOptions(v, tg.pattern.MaxH())
				for _, r := range regions[s] {
					buf, err := hzbuf.Encode(tg.pattern, owned[r.owned][k], plan.Owned[r.owned].Box, r.box, opts)
					if err != nil {
						return err
					}
					bufs[k] = append(bufs[k], buf)
				}
			}
			if err := w.Write(ctx, vars, bufs); err != nil {
				return err
			}
		}
	}

	var cerr error
	for s, w := range writers {
		cerr = multierr.Append(cerr, w.Close())
		writers[s] = nil
	}
	if cerr != nil {
		return cerr
	}

	f.logger.Debug("grid write",
		zap.Int("rank", c.Rank()),
		zap.Int("step", f.step),
		zap.Stringer("case", plan.Case),
		zap.Int("owned", len(plan.Owned)),
		zap.Int("file sets", len(tg.sets)),
		zap.Duration("layout", layoutDone.Sub(start)),
		zap.Duration("elapsed", time.Since(start)))

	return nil
}

// readGrid runs the read pipeline into boxes, given in the coordinates of
// the target.
func (f *File) readGrid(ctx context.Context, c *comm.Comm, tg gridTarget, boxes []geom.Box, data [][][]byte) error {
	start := time.Now()
	plan, err := restructure.BuildPlan(ctx, c, f.grid(c, tg), boxes, f.opts.rstCase)
	if err != nil {
		return err
	}
	geo, err := f.geometry(tg.pattern, 1)
	if err != nil {
		return err
	}
	res := f.opts.resolution(tg.pattern.MaxH())

	readers := make([]*agg.Reader, len(tg.sets))
	regions := make([][]ownedRegion, len(tg.sets))
	for s, set := range tg.sets {
		regions[s] = ownedRegions(plan, set.region)
		if readers[s], err = agg.NewReader(c, geo, set.paths, f.step, f.logger); err != nil {
			return err
		}
	}

	for _, vars := range f.batches() {
		sb := f.sampleBytes(vars)
		owned := make([][][]byte, len(plan.Owned))
		for o, sp := range plan.Owned {
			owned[o] = make([][]byte, len(vars))
			for k := range vars {
				owned[o][k] = make([]byte, sp.Box.Volume()*uint64(sb[k]))
			}
		}

		for s, r := range readers {
			bufs := make([][]*hzbuf.Buffer, len(vars))
			for k := range vars {
				for _, reg := range regions[s] {
					cb, err := hzbuf.ChunkBox(reg.box, f.chunk())
					if err != nil {
						return err
					}
					buf, err := hzbuf.New(tg.pattern, cb, geo.SampleBytes[vars[k]], res)
					if err != nil {
						return err
					}
					bufs[k] = append(bufs[k], buf)
				}
			}
			if err := r.Read(ctx, vars, bufs); err != nil {
				return err
			}

			for k, v := range vars {
				opts := f.hzOptions(v, tg.pattern.MaxH())
				for i, reg := range regions[s] {
					if err := hzbuf.Decode(bufs[k][i], owned[reg.owned][k], plan.Owned[reg.owned].Box, reg.box, opts); err != nil {
						return err
					}
				}
			}
		}

		if err := plan.Read(ctx, c, sb, owned, selectVars(data, vars)); err != nil {
			return err
		}
	}

	f.logger.Debug("grid read",
		zap.Int("rank", c.Rank()),
		zap.Int("step", f.step),
		zap.Stringer("resolution", res),
		zap.Int("owned", len(plan.Owned)),
		zap.Duration("elapsed", time.Since(start)))

	return nil
}

// patchBuffers splits patches into their boxes and buffers.
func patchBuffers(patches []Patch) ([]geom.Box, [][][]byte) {
	boxes := make([]geom.Box, len(patches))
	data := make([][][]byte, len(patches))
	for i, p := range patches {
		boxes[i] = p.Box
		data[i] = p.Data
	}

	return boxes, data
}

func (f *File) idxTarget() gridTarget {
	return gridTarget{
		bounds:  f.meta.Bounds,
		pattern: f.pattern,
		sets:    []fileSet{{paths: f.paths, region: geom.NewBox(geom.Pt(), f.meta.Bounds)}},
	}
}

func (f *File) writeIDX(ctx context.Context, patches []Patch) error {
	boxes, data := patchBuffers(patches)
	return f.writeGrid(ctx, f.c, f.idxTarget(), boxes, data)
}

func (f *File) readIDX(ctx context.Context, patches []Patch) error {
	boxes, data := patchBuffers(patches)
	return f.readGrid(ctx, f.c, f.idxTarget(), boxes, data)
}
