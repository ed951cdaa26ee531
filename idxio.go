// Package idxio reads and writes IDX datasets from many cooperating ranks.
//
// An IDX dataset is a regular grid of samples stored in Z-order (HZ order)
// across a bounded set of block files, so that coarse resolutions can be
// read without touching the fine levels. Every rank of a comm.Comm owns a
// few patches of the global grid; a collective Write restructures them into
// regular super-patches, converts those to HZ order, aggregates the blocks
// of every file on a few ranks and writes them. Read is the mirror image
// and works with any number of ranks and any patch decomposition.
//
// A minimal write:
//
//	err := comm.Run(ctx, 8, func(ctx context.Context, c *comm.Comm) error {
//		f, err := idxio.Create(c, "out/data.idx", geom.Extent(64, 64, 64), vars)
//		if err != nil {
//			return err
//		}
//		if err := f.Write(ctx, []idxio.Patch{patch}); err != nil {
//			return err
//		}
//
//		return f.Close(ctx)
//	})
//
// Besides the plain layout, datasets can be split into partitions
// (format.ModeGlobalPartition, format.ModeLocalPartition), stored as raw
// row-major super-patches (format.ModeRaw) or hold particles
// (format.ModeParticle).
package idxio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"slices"

	"go.uber.org/zap"

	"github.com/arloliu/idxio/comm"
	"github.com/arloliu/idxio/endian"
	"github.com/arloliu/idxio/errs"
	"github.com/arloliu/idxio/fileio"
	"github.com/arloliu/idxio/format"
	"github.com/arloliu/idxio/geom"
	"github.com/arloliu/idxio/hz"
	"github.com/arloliu/idxio/hzbuf"
	"github.com/arloliu/idxio/internal/options"
	"github.com/arloliu/idxio/metadata"
)

// Variable is a named field of a dataset.
type Variable = metadata.Variable

// Patch is a box of samples owned by the caller. Data holds one row-major
// buffer per variable in host byte order, dimension 0 fastest. The engine
// does not retain patch memory after a call.
type Patch struct {
	Box  geom.Box
	Data [][]byte
}

// NewPatch allocates zeroed buffers for every variable over box.
func NewPatch(box geom.Box, vars []Variable) Patch {
	p := Patch{Box: box, Data: make([][]byte, len(vars))}
	for v, vr := range vars {
		p.Data[v] = make([]byte, box.Volume()*uint64(vr.Type.BytesPerSample()))
	}

	return p
}

// File is an open dataset on one rank. Every rank of the communicator
// holds its own File; Write, Read and Close are collective.
type File struct {
	c       *comm.Comm
	opts    *fileOptions
	meta    *metadata.Metadata
	paths   fileio.Paths
	pattern hz.Pattern
	logger  *zap.Logger

	step  int
	first int
	last  int
	dirty bool
}

// Create starts a new dataset at path. Nothing is written before the first
// Write or Close.
//
// Parameters:
//   - c: Communicator of every rank taking part
//   - path: Metadata file, conventionally ending in ".idx"
//   - bounds: Extent of the dataset in samples; zero extents count as 1
//   - vars: Variables of the dataset
//   - opts: Dataset and runtime options
//
// Returns:
//   - *File: Dataset handle of the calling rank
//   - error: errs.ErrInvalidOption, errs.ErrInvalidDataType or
//     errs.ErrInvalidBitPattern wrapped errors
func Create(c *comm.Comm, path string, bounds geom.Point, vars []Variable, opts ...Option) (*File, error) {
	o := defaultOptions()
	if err := options.Apply(o, opts...); err != nil {
		return nil, err
	}
	if err := checkVariables(vars); err != nil {
		return nil, err
	}
	for d := range geom.MaxDims {
		bounds[d] = max(bounds[d], 1)
	}

	m := metadata.New()
	m.Mode = o.mode
	m.Bounds = bounds
	m.Fields = slices.Clone(vars)
	m.Cores = c.Size()
	m.BitsPerBlock = o.bitsPerBlock
	m.BlocksPerFile = o.blocksPerFile
	m.Compression = o.compression
	m.ChunkSize = o.chunk()
	m.RestructureBox = o.restructureBox
	m.FirstTime, m.LastTime = o.timeStep, o.timeStep
	if o.mode.IsPartitioned() {
		m.PartitionCount = o.partitionCount
	}

	codec := o.sampleCodec
	if !o.stages.Compress {
		codec = hzbuf.Identity
	}
	if bits, err := hzbuf.BitRate(codec, format.KindFloat64); err == nil {
		m.BitRate = bits
	}

	if o.flipEndian {
		if o.mode == format.ModeParticle {
			return nil, invalid("flip endian in %v mode", o.mode)
		}
		m.Endian = endian.GetBigEndianEngine()
		if !endian.IsNativeLittleEndian() {
			m.Endian = endian.GetLittleEndianEngine()
		}
	}

	f := &File{c: c, opts: o, meta: m, logger: o.logger, step: o.timeStep, first: -1, last: -1, dirty: true}

	switch o.mode {
	case format.ModeParticle:
		if _, err := f.schema(); err != nil {
			return nil, err
		}
	case format.ModeRaw:
		m.ChunkSize = geom.Extent()
	default:
		p, err := choosePattern(o, bounds, m.ChunkSize)
		if err != nil {
			return nil, err
		}
		m.Bits = p.String()
		m.Template = fileio.Template(p.MaxH(), m.BitsPerBlock)
		f.pattern = p
	}
	f.paths = fileio.NewPaths(path, m.Template, m.BlocksPerFile)

	f.logger.Debug("dataset created",
		zap.String("path", path),
		zap.Stringer("mode", m.Mode),
		zap.Stringer("bounds", m.Bounds),
		zap.String("bits", m.Bits),
		zap.Int("ranks", c.Size()))

	return f, nil
}

// Open reads the metadata of an existing dataset. It is collective: rank 0
// reads the file and shares it. Dataset parameters come from the metadata;
// of opts only the runtime options (logger, pipe length, resolution, time
// step, restructuring, stages, aggregation, position variable) apply.
func Open(ctx context.Context, c *comm.Comm, path string, opts ...Option) (*File, error) {
	o := defaultOptions()
	if err := options.Apply(o, opts...); err != nil {
		return nil, err
	}

	m, err := shareMetadata(ctx, c, path, true)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	f := &File{c: c, opts: o, meta: m, logger: o.logger, step: m.FirstTime, first: m.FirstTime, last: m.LastTime}
	if o.stepSet {
		f.step = o.timeStep
	}
	switch m.Mode {
	case format.ModeParticle:
		if _, err := f.schema(); err != nil {
			return nil, err
		}
	case format.ModeRaw:
	default:
		if f.pattern, err = m.Pattern(); err != nil {
			return nil, err
		}
		if err := f.pattern.ValidateFor(hzbuf.ChunkBounds(m.Bounds, m.ChunkSize)); err != nil {
			return nil, err
		}
	}
	f.paths = fileio.NewPaths(path, m.Template, m.BlocksPerFile)

	f.logger.Debug("dataset opened",
		zap.String("path", path),
		zap.Stringer("mode", m.Mode),
		zap.Stringer("bounds", m.Bounds),
		zap.Int("first", m.FirstTime),
		zap.Int("last", m.LastTime))

	return f, nil
}

// Metadata returns the dataset description. Callers must not modify it.
func (f *File) Metadata() *metadata.Metadata {
	return f.meta
}

// TimeStep returns the time step of the next Write or Read.
func (f *File) TimeStep() int {
	return f.step
}

// SetTimeStep selects the time step of the following calls.
func (f *File) SetTimeStep(t int) error {
	if t < 0 {
		return invalid("time step %d", t)
	}
	f.step = t

	return nil
}

// Close writes the metadata file of a created or written dataset on rank 0
// and waits for every rank. It is collective.
func (f *File) Close(ctx context.Context) error {
	if f.dirty && f.c.Rank() == 0 {
		m := *f.meta
		if f.first >= 0 {
			m.FirstTime, m.LastTime = f.first, f.last
		}
		if err := m.WriteFile(f.paths.MetadataFile()); err != nil {
			return err
		}
	}

	return f.c.Barrier(ctx)
}

// Write stores the local patches at the current time step. It is
// collective: every rank calls it, with or without patches.
//
// Returns:
//   - error: errs.ErrPatchBuffer for mis-sized buffers, errs.ErrInvalidBox
//     for patches outside the dataset, or a stage error
func (f *File) Write(ctx context.Context, patches []Patch) error {
	if err := f.checkPatches(patches); err != nil {
		return err
	}

	var err error
	switch f.meta.Mode {
	case format.ModeIDX:
		err = f.writeIDX(ctx, patches)
	case format.ModeGlobalPartition:
		err = f.writeGlobalPartition(ctx, patches)
	case format.ModeLocalPartition:
		err = f.writeLocalPartition(ctx, patches)
	case format.ModeRaw:
		err = f.writeRaw(ctx, patches)
	default:
		return invalid("grid write in %v mode", f.meta.Mode)
	}
	if err != nil {
		return err
	}
	f.written()

	return nil
}

// Read fills the local patches from the current time step. It is
// collective. Every sample of the patches is overwritten; samples that were
// never written read as zero.
func (f *File) Read(ctx context.Context, patches []Patch) error {
	if err := f.checkPatches(patches); err != nil {
		return err
	}
	for _, p := range patches {
		for _, data := range p.Data {
			clear(data)
		}
	}

	switch f.meta.Mode {
	case format.ModeIDX:
		return f.readIDX(ctx, patches)
	case format.ModeGlobalPartition:
		return f.readGlobalPartition(ctx, patches)
	case format.ModeLocalPartition:
		return f.readLocalPartition(ctx, patches)
	case format.ModeRaw:
		return f.readRaw(ctx, patches)
	default:
		return invalid("grid read in %v mode", f.meta.Mode)
	}
}

func (f *File) written() {
	f.dirty = true
	if f.first < 0 || f.step < f.first {
		f.first = f.step
	}
	f.last = max(f.last, f.step)
}

func checkVariables(vars []Variable) error {
	if len(vars) == 0 {
		return invalid("no variables")
	}
	seen := make(map[string]bool, len(vars))
	for _, v := range vars {
		if !v.Type.Valid() {
			return fmt.Errorf("%w: variable %q of type %v", errs.ErrInvalidDataType, v.Name, v.Type)
		}
		if v.Name == "" || seen[v.Name] {
			return invalid("variable name %q", v.Name)
		}
		seen[v.Name] = true
	}

	return nil
}

func (f *File) checkPatches(patches []Patch) error {
	domain := geom.NewBox(geom.Pt(), f.meta.Bounds)
	for i, p := range patches {
		if p.Box.Empty() || !domain.ContainsBox(p.Box) {
			return fmt.Errorf("%w: patch %d %v outside %v", errs.ErrInvalidBox, i, p.Box, domain)
		}
		if len(p.Data) != len(f.meta.Fields) {
			return fmt.Errorf("%w: patch %d has %d variables, want %d", errs.ErrPatchBuffer, i, len(p.Data), len(f.meta.Fields))
		}
		for v, vr := range f.meta.Fields {
			if want := p.Box.Volume() * uint64(vr.Type.BytesPerSample()); uint64(len(p.Data[v])) != want {
				return fmt.Errorf("%w: patch %d variable %q has %d bytes, want %d", errs.ErrPatchBuffer, i, vr.Name, len(p.Data[v]), want)
			}
		}
	}

	return nil
}

// choosePattern parses the configured bit pattern or guesses one for the
// chunked extent of bounds.
func choosePattern(o *fileOptions, bounds, chunk geom.Point) (hz.Pattern, error) {
	cb := hzbuf.ChunkBounds(bounds, chunk)
	if o.bits == "" {
		return hz.Guess(o.guess, cb)
	}

	p, err := hz.ParsePattern(o.bits)
	if err != nil {
		return hz.Pattern{}, err
	}
	if err := p.ValidateFor(cb); err != nil {
		return hz.Pattern{}, err
	}

	return p, nil
}

// shareMetadata reads a metadata file on rank 0 and shares it with every
// rank of c. A missing optional file yields nil metadata.
func shareMetadata(ctx context.Context, c *comm.Comm, path string, required bool) (*metadata.Metadata, error) {
	var data []byte
	if c.Rank() == 0 && (required || fileio.Exists(path)) {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errs.ErrIO, err)
		}
		data = raw
	}

	all, err := c.Allgather(ctx, data)
	if err != nil {
		return nil, err
	}
	if len(all[0]) == 0 {
		if required {
			return nil, fmt.Errorf("%w: %s is empty", errs.ErrMalformedMetadata, path)
		}

		return nil, nil
	}

	m, err := metadata.Parse(bytes.NewReader(all[0]))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return m, nil
}
