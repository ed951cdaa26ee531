package agg

import (
	"context"
	"fmt"
	"os"
	"slices"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/arloliu/idxio/comm"
	"github.com/arloliu/idxio/compress"
	"github.com/arloliu/idxio/errs"
	"github.com/arloliu/idxio/fileio"
	"github.com/arloliu/idxio/format"
	"github.com/arloliu/idxio/hzbuf"
	"github.com/arloliu/idxio/internal/pool"
	"github.com/arloliu/idxio/layout"
	"github.com/arloliu/idxio/section"
)

// Writer writes the HZ buffers of one time step into a file set.
//
// Variables are written in batches of ascending variable numbers; headers
// are written by Close once every variable went through.
type Writer struct {
	c      *comm.Comm
	geo    Geometry
	assign *Assignment
	paths  fileio.Paths
	step   int
	files  *fileio.Files
	logger *zap.Logger

	// headers holds the header of every file this rank writes the header of.
	headers map[int]*section.FileHeader
	// cursor is the next free offset of every existing file when
	// compressing.
	cursor  map[int]uint64
	nextVar int
	stats   compress.CompressionStats
}

// NewWriter prepares the write of time step t of a file set whose present
// blocks are given by global, the union of every rank's layout.
//
// Parameters:
//   - c: Communicator of every rank writing the file set
//   - g: File geometry
//   - global: Global layout, identical on every rank
//   - paths: Location of the file set
//   - t: Time step
//   - logger: Debug logger; nil disables logging
func NewWriter(c *comm.Comm, g Geometry, global *layout.Layout, paths fileio.Paths, t int, logger *zap.Logger) (*Writer, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	w := &Writer{
		c:       c,
		geo:     g,
		assign:  Assign(global, g, c.Size()),
		paths:   paths,
		step:    t,
		files:   fileio.NewFiles(true),
		logger:  logger.With(zap.Int("rank", c.Rank())),
		headers: make(map[int]*section.FileHeader),
		cursor:  make(map[int]uint64),
		stats:   compress.CompressionStats{Algorithm: g.Compression},
	}
	for _, f := range w.assign.Stats().Existing {
		if w.assign.HeaderWriter(f) == c.Rank() {
			w.headers[f] = g.NewHeader()
		}
		w.cursor[f] = uint64(g.HeaderSize())
	}

	return w, nil
}

// Assignment returns the aggregation slots of the file set.
func (w *Writer) Assignment() *Assignment {
	return w.assign
}

// partBuffer is the aggregation buffer of one owned part.
type partBuffer struct {
	part Part
	buf  *pool.ByteBuffer
}

// Write aggregates and writes a batch of variables.
//
// Parameters:
//   - ctx: Context of the collective calls
//   - vars: Ascending variable numbers, following the previous batch
//   - bufs: Local HZ buffers, indexed [batch variable][buffer]
//
// Returns:
//   - error: errs.ErrInvalidOption for out-of-order batches, communication,
//     compression or I/O errors
func (w *Writer) Write(ctx context.Context, vars []int, bufs [][]*hzbuf.Buffer) error {
	if len(vars) != len(bufs) {
		return fmt.Errorf("%w: %d variables with %d buffer sets", errs.ErrInvalidOption, len(vars), len(bufs))
	}
	for i, v := range vars {
		if v != w.nextVar+i || v >= w.geo.VarCount() {
			return fmt.Errorf("%w: variable %d out of order", errs.ErrInvalidOption, v)
		}
	}
	if len(vars) == 0 {
		return nil
	}

	start := time.Now()
	send, err := w.pack(vars, bufs)
	if err != nil {
		return err
	}
	recv, err := w.c.Alltoallv(ctx, send)
	if err != nil {
		return err
	}
	w.logger.Debug("aggregation exchange", zap.Ints("vars", vars), zap.Duration("elapsed", time.Since(start)))

	owned := w.ownedParts(vars)
	defer func() {
		for _, pb := range owned {
			pool.PutBlockBuffer(pb.buf)
		}
	}()
	if err := w.unpack(owned, recv); err != nil {
		return err
	}

	start = time.Now()
	if w.geo.Compression == format.CompressionNone {
		err = w.writePlain(vars, owned)
	} else {
		err = w.writeCompressed(ctx, vars, owned)
	}
	if err != nil {
		return err
	}
	w.logger.Debug("aggregation write", zap.Ints("vars", vars), zap.Int("parts", len(owned)), zap.Duration("elapsed", time.Since(start)))
	w.nextVar += len(vars)

	return nil
}

// pack encodes the present runs of every local buffer as records addressed
// to the aggregator of their block.
func (w *Writer) pack(vars []int, bufs [][]*hzbuf.Buffer) ([][]byte, error) {
	send := make([][]byte, w.c.Size())
	bs := w.geo.BlockSamples()
	for i, v := range vars {
		sb := w.geo.SampleBytes[v]
		for _, buf := range bufs[i] {
			if buf.SampleBytes != sb {
				return nil, fmt.Errorf("%w: variable %d buffer of %d byte samples, want %d", errs.ErrIO, v, buf.SampleBytes, sb)
			}
			for _, lvl := range buf.Levels {
				if lvl == nil {
					continue
				}
				for _, run := range lvl.Runs() {
					base := (run.Start - lvl.Range.StartHz) * uint64(sb)
					err := splitRun(run, v, bs, func(r record, skip uint64) error {
						file, _, part, err := w.assign.Locate(r.Block)
						if err != nil {
							return err
						}
						dst := w.assign.Aggregator(file, v, part)
						from := base + skip*uint64(sb)
						send[dst] = r.appendTo(send[dst])
						send[dst] = append(send[dst], lvl.Data[from:from+uint64(r.Count)*uint64(sb)]...)

						return nil
					})
					if err != nil {
						return nil, err
					}
				}
			}
		}
	}

	return send, nil
}

func (w *Writer) ownedParts(vars []int) []partBuffer {
	var owned []partBuffer
	for _, p := range w.assign.Owned(w.c.Rank()) {
		if !slices.Contains(vars, p.Var) {
			continue
		}
		owned = append(owned, partBuffer{
			part: p,
			buf:  pool.GetBlockBuffer(p.Count * w.geo.BlockBytes(p.Var)),
		})
	}

	return owned
}

// unpack copies received records into the part buffers.
func (w *Writer) unpack(owned []partBuffer, recv [][]byte) error {
	type key struct{ file, v, part int }
	index := make(map[key]*partBuffer, len(owned))
	for i := range owned {
		p := owned[i].part
		index[key{p.File, p.Var, p.Part}] = &owned[i]
	}

	for src, payload := range recv {
		err := forEachRecord(payload, w.geo.SampleBytes, true, func(r record, data []byte) error {
			file, idx, part, err := w.assign.Locate(r.Block)
			if err != nil {
				return err
			}
			pb, ok := index[key{file, int(r.Var), part}]
			if !ok {
				return fmt.Errorf("%w: rank %d sent block %d of variable %d to a non-aggregator", errs.ErrComm, src, r.Block, r.Var)
			}
			sb := w.geo.SampleBytes[r.Var]
			off := (idx-pb.part.First)*w.geo.BlockBytes(int(r.Var)) + int(r.Offset)*sb
			copy(pb.buf.Bytes()[off:], data)

			return nil
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// writePlain writes every part at its fixed offset.
func (w *Writer) writePlain(vars []int, owned []partBuffer) error {
	for _, pb := range owned {
		p := pb.part
		f, err := w.dataFile(p.File)
		if err != nil {
			return err
		}
		if err := fileio.WriteFull(f, pb.buf.Bytes(), int64(w.assign.BlockOffset(p.File, p.Var, p.First))); err != nil {
			return err
		}
	}

	for f, h := range w.headers {
		blocks := w.assign.layout.FileBlocks(w.geo.BlocksPerFile, f)
		for _, v := range vars {
			bb := uint32(w.geo.BlockBytes(v))
			for idx, b := range blocks {
				*h.Record(int(b)-f*w.geo.BlocksPerFile, v) = section.BlockRecord{
					Offset: w.assign.BlockOffset(f, v, idx),
					Length: bb,
					Flag:   section.NewBlockFlag(format.CompressionNone),
				}
			}
		}
	}

	return nil
}

// writeCompressed compresses every block of the owned parts, shares the
// compressed sizes with every rank and writes each part at the offset that
// follows all lower variables and parts of its file.
func (w *Writer) writeCompressed(ctx context.Context, vars []int, owned []partBuffer) error {
	payloads := make([][][]byte, len(owned))
	var sizes []uint64
	for i, pb := range owned {
		bb := w.geo.BlockBytes(pb.part.Var)
		data := pb.buf.Bytes()
		payloads[i] = make([][]byte, pb.part.Count)
		for j := range pb.part.Count {
			block := data[j*bb : (j+1)*bb]
			packed, ct, err := compress.CompressBlock(w.geo.Compression, block)
			if err != nil {
				return err
			}
			payloads[i][j] = packed
			sizes = append(sizes, uint64(len(packed))<<8|uint64(ct))
			w.stats.Add(bb, len(packed))
		}
	}

	all, err := comm.AllgatherUint64s(ctx, w.c, sizes)
	if err != nil {
		return err
	}

	// sizes of every part of the batch, keyed by slot
	type key struct{ file, v, part int }
	partSizes := make(map[key][]uint64)
	for r, vals := range all {
		for _, p := range w.assign.Owned(r) {
			if !slices.Contains(vars, p.Var) {
				continue
			}
			if len(vals) < p.Count {
				return fmt.Errorf("%w: rank %d sent %d block sizes", errs.ErrSizeMismatch, r, len(all[r]))
			}
			partSizes[key{p.File, p.Var, p.Part}] = vals[:p.Count]
			vals = vals[p.Count:]
		}
	}

	partOffset := make(map[key]uint64)
	for _, f := range w.assign.Stats().Existing {
		blocks := w.assign.layout.FileBlocks(w.geo.BlocksPerFile, f)
		h := w.headers[f]
		for _, v := range vars {
			for _, p := range w.assign.Parts(f, v) {
				k := key{f, v, p.Part}
				partOffset[k] = w.cursor[f]
				for j, packed := range partSizes[k] {
					length := packed >> 8
					if h != nil {
						*h.Record(int(blocks[p.First+j])-f*w.geo.BlocksPerFile, v) = section.BlockRecord{
							Offset: w.cursor[f],
							Length: uint32(length),
							Flag:   section.NewBlockFlag(format.CompressionType(packed & 0xFF)),
						}
					}
					w.cursor[f] += length
				}
			}
		}
	}

	for i, pb := range owned {
		p := pb.part
		f, err := w.dataFile(p.File)
		if err != nil {
			return err
		}
		off := partOffset[key{p.File, p.Var, p.Part}]
		for _, packed := range payloads[i] {
			if err := fileio.WriteFull(f, packed, int64(off)); err != nil {
				return err
			}
			off += uint64(len(packed))
		}
	}

	return nil
}

func (w *Writer) dataFile(file int) (*os.File, error) {
	path, err := w.paths.DataFile(w.step, file)
	if err != nil {
		return nil, err
	}

	return w.files.Get(path)
}

// Close writes the headers this rank is responsible for and closes every
// file. Close must be called once every variable was written.
func (w *Writer) Close() error {
	var err error
	if w.nextVar != w.geo.VarCount() {
		err = fmt.Errorf("%w: closed after %d of %d variables", errs.ErrInvalidOption, w.nextVar, w.geo.VarCount())
	} else {
		for file, h := range w.headers {
			f, ferr := w.dataFile(file)
			if ferr != nil {
				err = multierr.Append(err, ferr)
				continue
			}
			err = multierr.Append(err, fileio.WriteHeader(f, h))
		}
	}

	if w.stats.Blocks > 0 {
		w.logger.Debug("block compression",
			zap.Stringer("codec", w.stats.Algorithm),
			zap.Int("blocks", w.stats.Blocks),
			zap.Float64("ratio", w.stats.CompressionRatio()),
		)
	}

	return multierr.Append(err, w.files.Close())
}

// Abort closes every file without writing headers, for a write that failed
// part way.
func (w *Writer) Abort() error {
	return w.files.Close()
}
