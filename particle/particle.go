// Package particle stores unstructured point data, one file per patch.
//
// A particle patch is a physical box holding Count particles; every
// variable has Count samples, one of them (the position variable) holding
// the particle coordinates as float32 or float64 values. Patch files hold
// the variables one after the other, and rank 0 writes a patch table with
// the physical box and particle count of every patch. A box query reads
// only the patches whose box intersects the query and keeps the particles
// whose position lies in it, lower bounds inclusive and upper bounds
// exclusive.
package particle

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/arloliu/idxio/comm"
	"github.com/arloliu/idxio/endian"
	"github.com/arloliu/idxio/errs"
	"github.com/arloliu/idxio/fileio"
	"github.com/arloliu/idxio/format"
	"github.com/arloliu/idxio/geom"
	"github.com/arloliu/idxio/raw"
)

// Patch is a set of particles inside a physical box.
type Patch struct {
	Box   geom.PhysicalBox
	Count int
	// Data holds Count samples per variable, in the caller's byte order.
	Data [][]byte
}

// Schema describes the variables of a particle dataset.
type Schema struct {
	Types []format.DataType
	// Position is the index of the variable holding the coordinates.
	Position int
}

// Validate checks the position variable.
func (s Schema) Validate() error {
	if s.Position < 0 || s.Position >= len(s.Types) {
		return fmt.Errorf("%w: position variable %d of %d", errs.ErrInvalidOption, s.Position, len(s.Types))
	}
	pos := s.Types[s.Position]
	if !pos.Valid() || (pos.Kind != format.KindFloat32 && pos.Kind != format.KindFloat64) || pos.ValuesPerSample > geom.MaxDims {
		return fmt.Errorf("%w: position variable of type %v", errs.ErrInvalidDataType, pos)
	}

	return nil
}

// Dims returns the number of coordinates per particle.
func (s Schema) Dims() int {
	return s.Types[s.Position].ValuesPerSample
}

func (s Schema) sampleBytes() []int {
	out := make([]int, len(s.Types))
	for v, dt := range s.Types {
		out[v] = dt.BytesPerSample()
	}

	return out
}

func (s Schema) check(p Patch) error {
	if p.Count < 0 || len(p.Data) != len(s.Types) {
		return fmt.Errorf("%w: particle patch with %d variables, want %d", errs.ErrPatchBuffer, len(p.Data), len(s.Types))
	}
	for v, sb := range s.sampleBytes() {
		if want := p.Count * sb; len(p.Data[v]) != want {
			return fmt.Errorf("%w: variable %d has %d bytes for %d particles, want %d", errs.ErrPatchBuffer, v, len(p.Data[v]), p.Count, want)
		}
	}

	return nil
}

// position decodes the coordinates of particle i.
func (s Schema) position(data []byte, i int, dst []float64) {
	engine := endian.GetNativeEngine()
	pos := s.Types[s.Position]
	width := pos.Kind.Bits() / 8
	base := i * pos.BytesPerSample()
	for d := range dst {
		off := base + d*width
		if pos.Kind == format.KindFloat64 {
			dst[d] = math.Float64frombits(engine.Uint64(data[off:]))
		} else {
			dst[d] = float64(math.Float32frombits(engine.Uint32(data[off:])))
		}
	}
}

func encodeBox(b geom.PhysicalBox) (offset, size [geom.MaxDims]uint64) {
	for d := range geom.MaxDims {
		offset[d] = math.Float64bits(b.Offset[d])
		size[d] = math.Float64bits(b.Size[d])
	}

	return offset, size
}

func decodeBox(e fileio.PatchEntry) geom.PhysicalBox {
	var b geom.PhysicalBox
	for d := range geom.MaxDims {
		b.Offset[d] = math.Float64frombits(e.Offset[d])
		b.Size[d] = math.Float64frombits(e.Size[d])
	}

	return b
}

// Write stores the particle patches of the calling rank and the patch table
// of time step t. It is collective.
//
// Parameters:
//   - ctx: Context of the collective calls
//   - c: Communicator of every writing rank
//   - paths: Location of the dataset
//   - t: Time step
//   - s: Variables of the dataset
//   - patches: Local particle patches
//   - logger: Debug logger; nil disables logging
func Write(ctx context.Context, c *comm.Comm, paths fileio.Paths, t int, s Schema, patches []Patch, logger *zap.Logger) (err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := s.Validate(); err != nil {
		return err
	}
	for _, p := range patches {
		if err := s.check(p); err != nil {
			return err
		}
	}

	start := time.Now()
	files := fileio.NewFiles(true)
	defer func() {
		err = multierr.Append(err, files.Close())
	}()

	entries := make([]fileio.PatchEntry, len(patches))
	total := 0
	for i, p := range patches {
		f, err := files.Get(paths.PatchFile(t, c.Rank(), i))
		if err != nil {
			return err
		}

		off := int64(0)
		for _, data := range p.Data {
			if err := fileio.WriteFull(f, data, off); err != nil {
				return err
			}
			off += int64(len(data))
		}

		offset, size := encodeBox(p.Box)
		entries[i] = fileio.PatchEntry{Offset: offset, Size: size, Count: uint64(p.Count)}
		total += p.Count
	}

	all, err := comm.AllgatherUint64s(ctx, c, fileio.FlattenEntries(entries))
	if err != nil {
		return err
	}
	if c.Rank() == 0 {
		table := make(fileio.PatchTable, len(all))
		for r, words := range all {
			if table[r], err = fileio.UnflattenEntries(words); err != nil {
				return err
			}
		}
		if err := fileio.WritePatchTable(paths.SideFile(t), table); err != nil {
			return err
		}
	}
	if err := c.Barrier(ctx); err != nil {
		return err
	}

	logger.Debug("particle write",
		zap.Int("rank", c.Rank()),
		zap.Int("patches", len(patches)),
		zap.Int("particles", total),
		zap.Duration("elapsed", time.Since(start)))

	return nil
}

// Read returns the particles of time step t whose position lies in query.
// It is collective; every rank may pass its own query.
//
// Parameters:
//   - ctx: Context of the collective calls
//   - c: Communicator of every reading rank
//   - paths: Location of the dataset
//   - t: Time step
//   - s: Variables of the dataset
//   - query: Half-open physical box
//   - logger: Debug logger; nil disables logging
//
// Returns:
//   - Patch: The matching particles, with query as box, in stored order
//   - error: errs.ErrShortRead when a stored file is shorter than its table
//     entry, I/O or communication errors
func Read(ctx context.Context, c *comm.Comm, paths fileio.Paths, t int, s Schema, query geom.PhysicalBox, logger *zap.Logger) (out Patch, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := s.Validate(); err != nil {
		return Patch{}, err
	}

	start := time.Now()
	table, err := raw.ReadTable(ctx, c, paths, t)
	if err != nil {
		return Patch{}, err
	}

	files := fileio.NewFiles(false)
	defer func() {
		err = multierr.Append(err, files.Close())
	}()

	out = Patch{Box: query, Data: make([][]byte, len(s.Types))}
	sampleBytes := s.sampleBytes()
	pos := make([]float64, s.Dims())
	scanned := 0
	for r, list := range table {
		for j, e := range list {
			if e.Count == 0 || !decodeBox(e).Intersects(query, s.Dims()) {
				continue
			}

			f, err := files.Get(paths.PatchFile(t, r, j))
			if err != nil {
				return Patch{}, err
			}
			stored, err := readPatch(f, int(e.Count), sampleBytes)
			if err != nil {
				return Patch{}, fmt.Errorf("particle patch %d_%d: %w", r, j, err)
			}
			scanned += int(e.Count)

			for i := range int(e.Count) {
				s.position(stored[s.Position], i, pos)
				if !query.ContainsPoint(pos) {
					continue
				}
				for v, sb := range sampleBytes {
					out.Data[v] = append(out.Data[v], stored[v][i*sb:(i+1)*sb]...)
				}
				out.Count++
			}
		}
	}

	logger.Debug("particle read",
		zap.Int("rank", c.Rank()),
		zap.Int("scanned", scanned),
		zap.Int("matched", out.Count),
		zap.Duration("elapsed", time.Since(start)))

	return out, nil
}

// readPatch reads every variable of a stored patch of count particles.
func readPatch(f io.ReaderAt, count int, sampleBytes []int) ([][]byte, error) {
	out := make([][]byte, len(sampleBytes))
	off := int64(0)
	for v, sb := range sampleBytes {
		out[v] = make([]byte, count*sb)
		if err := fileio.ReadFull(f, out[v], off); err != nil {
			return nil, err
		}
		off += int64(len(out[v]))
	}

	return out, nil
}
