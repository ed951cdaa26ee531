package agg

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/arloliu/idxio/comm"
	"github.com/arloliu/idxio/compress"
	"github.com/arloliu/idxio/errs"
	"github.com/arloliu/idxio/fileio"
	"github.com/arloliu/idxio/hzbuf"
	"github.com/arloliu/idxio/section"
)

// Reader fills HZ buffers from the file set of one time step.
//
// Every (file, variable) pair has a read aggregator. Ranks send it the HZ
// runs they need; the aggregator reads the file header and the touched
// blocks once and answers every request. Missing files and absent blocks
// read as zeros.
type Reader struct {
	c         *comm.Comm
	geo       Geometry
	paths     fileio.Paths
	step      int
	fileCount int
	logger    *zap.Logger
}

// NewReader prepares reads of time step t.
func NewReader(c *comm.Comm, g Geometry, paths fileio.Paths, t int, logger *zap.Logger) (*Reader, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	blocks := uint64(1)
	if g.MaxH > g.BitsPerBlock {
		blocks = uint64(1) << (g.MaxH - g.BitsPerBlock)
	}
	fileCount := int((blocks + uint64(g.BlocksPerFile) - 1) / uint64(g.BlocksPerFile))

	return &Reader{
		c:         c,
		geo:       g,
		paths:     paths,
		step:      t,
		fileCount: fileCount,
		logger:    logger.With(zap.Int("rank", c.Rank())),
	}, nil
}

func (r *Reader) aggregator(block uint64, v int) (int, int) {
	file := int(block / uint64(r.geo.BlocksPerFile))
	return file, ReadAggregator(file, v, r.fileCount, r.geo.VarCount(), r.c.Size())
}

// pendingCopy is where the answer to one request lands.
type pendingCopy struct {
	dst []byte
}

// Read fills the present slots of bufs. It is collective: every rank of
// the communicator calls it with the same vars.
//
// Parameters:
//   - ctx: Context of the collective calls
//   - vars: Variable numbers
//   - bufs: HZ buffers to fill, indexed [batch variable][buffer]
func (r *Reader) Read(ctx context.Context, vars []int, bufs [][]*hzbuf.Buffer) error {
	if len(vars) != len(bufs) {
		return fmt.Errorf("%w: %d variables with %d buffer sets", errs.ErrInvalidOption, len(vars), len(bufs))
	}

	start := time.Now()
	requests := make([][]byte, r.c.Size())
	copies := make([][]pendingCopy, r.c.Size())
	bs := r.geo.BlockSamples()
	for i, v := range vars {
		if v < 0 || v >= r.geo.VarCount() {
			return fmt.Errorf("%w: variable %d of %d", errs.ErrUnknownVariable, v, r.geo.VarCount())
		}
		sb := r.geo.SampleBytes[v]
		for _, buf := range bufs[i] {
			if buf.SampleBytes != sb {
				return fmt.Errorf("%w: variable %d buffer of %d byte samples, want %d", errs.ErrIO, v, buf.SampleBytes, sb)
			}
			for _, lvl := range buf.Levels {
				if lvl == nil {
					continue
				}
				for _, run := range lvl.Runs() {
					base := (run.Start - lvl.Range.StartHz) * uint64(sb)
					err := splitRun(run, v, bs, func(rec record, skip uint64) error {
						_, dst := r.aggregator(rec.Block, v)
						from := base + skip*uint64(sb)
						requests[dst] = rec.appendTo(requests[dst])
						copies[dst] = append(copies[dst], pendingCopy{dst: lvl.Data[from : from+uint64(rec.Count)*uint64(sb)]})

						return nil
					})
					if err != nil {
						return err
					}
				}
			}
		}
	}

	recv, err := r.c.Alltoallv(ctx, requests)
	if err != nil {
		return err
	}

	answers, err := r.serve(recv)
	if err != nil {
		return err
	}

	replies, err := r.c.Alltoallv(ctx, answers)
	if err != nil {
		return err
	}

	for src, reply := range replies {
		for _, pc := range copies[src] {
			if len(reply) < len(pc.dst) {
				return fmt.Errorf("%w: short reply from rank %d", errs.ErrComm, src)
			}
			copy(pc.dst, reply)
			reply = reply[len(pc.dst):]
		}
	}
	r.logger.Debug("aggregated read", zap.Ints("vars", vars), zap.Duration("elapsed", time.Since(start)))

	return nil
}

// blockSource reads and caches the blocks of the files served by this rank.
type blockSource struct {
	r       *Reader
	files   *fileio.Files
	headers map[int]*section.FileHeader
	missing map[int]bool
	blocks  map[blockKey][]byte
}

type blockKey struct {
	block uint64
	v     int
}

func (s *blockSource) header(file int) (*os.File, *section.FileHeader, error) {
	if s.missing[file] {
		return nil, nil, nil
	}

	path, err := s.r.paths.DataFile(s.r.step, file)
	if err != nil {
		return nil, nil, err
	}
	if !fileio.Exists(path) {
		s.missing[file] = true
		return nil, nil, nil
	}
	f, err := s.files.Get(path)
	if err != nil {
		return nil, nil, err
	}

	h, ok := s.headers[file]
	if !ok {
		if h, err = fileio.ReadHeader(f); err != nil {
			return nil, nil, fmt.Errorf("read header of %s: %w", path, err)
		}
		if int(h.VarCount) != s.r.geo.VarCount() || int(h.BlocksPerFile) != s.r.geo.BlocksPerFile {
			return nil, nil, fmt.Errorf("%w: %s holds %d variables of %d blocks", errs.ErrInvalidHeaderSize, path, h.VarCount, h.BlocksPerFile)
		}
		s.headers[file] = h
	}

	return f, h, nil
}

// block returns the uncompressed bytes of block b of variable v, or nil
// when the block is absent.
func (s *blockSource) block(b uint64, v int) ([]byte, error) {
	key := blockKey{b, v}
	if data, ok := s.blocks[key]; ok {
		return data, nil
	}

	bpf := uint64(s.r.geo.BlocksPerFile)
	file := int(b / bpf)
	f, h, err := s.header(file)
	if err != nil || h == nil {
		return nil, err
	}

	rec := h.Record(int(b%bpf), v)
	if err := rec.Flag.Validate(); err != nil {
		return nil, err
	}
	if !rec.IsPresent() {
		s.blocks[key] = nil
		return nil, nil
	}

	payload := make([]byte, rec.Length)
	if err := fileio.ReadFull(f, payload, int64(rec.Offset)); err != nil {
		return nil, err
	}
	data := make([]byte, s.r.geo.BlockBytes(v))
	if err := compress.DecompressBlock(rec.Flag.Codec(), payload, data); err != nil {
		return nil, fmt.Errorf("block %d of variable %d: %w", b, v, err)
	}
	s.blocks[key] = data

	return data, nil
}

// serve answers the requests received from every rank, in request order.
func (r *Reader) serve(recv [][]byte) (answers [][]byte, err error) {
	src := &blockSource{
		r:       r,
		files:   fileio.NewFiles(false),
		headers: make(map[int]*section.FileHeader),
		missing: make(map[int]bool),
		blocks:  make(map[blockKey][]byte),
	}
	defer func() {
		if cerr := src.files.Close(); cerr != nil {
			answers = nil
			err = multierr.Append(err, cerr)
		}
	}()

	answers = make([][]byte, len(recv))
	for from, payload := range recv {
		err := forEachRecord(payload, r.geo.SampleBytes, false, func(rec record, _ []byte) error {
			sb := r.geo.SampleBytes[rec.Var]
			n := int(rec.Count) * sb
			if uint64(rec.Offset)+uint64(rec.Count) > r.geo.BlockSamples() {
				return fmt.Errorf("%w: request past block %d", errs.ErrComm, rec.Block)
			}

			data, err := src.block(rec.Block, int(rec.Var))
			if err != nil {
				return err
			}
			if data == nil {
				answers[from] = append(answers[from], make([]byte, n)...)
				return nil
			}
			off := int(rec.Offset) * sb
			answers[from] = append(answers[from], data[off:off+n]...)

			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return answers, nil
}
