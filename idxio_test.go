package idxio

import (
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/idxio/comm"
	"github.com/arloliu/idxio/endian"
	"github.com/arloliu/idxio/errs"
	"github.com/arloliu/idxio/fileio"
	"github.com/arloliu/idxio/format"
	"github.com/arloliu/idxio/geom"
	"github.com/arloliu/idxio/hz"
	"github.com/arloliu/idxio/hzbuf"
	"github.com/arloliu/idxio/metadata"
)

var scalar = []Variable{{Name: "pressure", Type: format.Float64}}

var mixed = []Variable{
	{Name: "position", Type: format.Float64x3},
	{Name: "density", Type: format.Float64},
	{Name: "energy", Type: format.Float64},
	{Name: "temperature", Type: format.Float64},
	{Name: "id", Type: format.Int32},
	{Name: "stress", Type: format.Float64x9},
}

// value is the expected value of component comp of variable v at global
// row-major index idx. Values stay below 2^24 so every kind holds them
// exactly.
func value(idx uint64, v, comp int) float64 {
	return float64(100 + idx + uint64(v)*7 + uint64(comp)*3)
}

func putValue(buf []byte, k format.Kind, x float64) {
	switch k {
	case format.KindFloat64:
		binary.NativeEndian.PutUint64(buf, math.Float64bits(x))
	case format.KindFloat32:
		binary.NativeEndian.PutUint32(buf, math.Float32bits(float32(x)))
	case format.KindInt32:
		binary.NativeEndian.PutUint32(buf, uint32(int32(x)))
	default:
		panic("unsupported kind in test")
	}
}

// fillPatch returns a patch over box holding value() at every sample of a
// dataset of the given bounds.
func fillPatch(box geom.Box, bounds geom.Point, vars []Variable) Patch {
	p := NewPatch(box, vars)
	domain := geom.NewBox(geom.Pt(), bounds)
	for v, vr := range vars {
		sb := vr.Type.BytesPerSample()
		width := vr.Type.Kind.Bits() / 8
		geom.ForEachRow(box, func(start geom.Point) {
			pt := start
			for x := range box.Size[0] {
				pt[0] = start[0] + x
				off := box.Index(pt) * uint64(sb)
				for c := range vr.Type.ValuesPerSample {
					putValue(p.Data[v][off+uint64(c*width):], vr.Type.Kind, value(domain.Index(pt), v, c))
				}
			}
		})
	}

	return p
}

// grid splits bounds into n[0] x n[1] x n[2] equal boxes and returns them
// in row-major order.
func grid(bounds geom.Point, n [3]uint64) []geom.Box {
	size := geom.Extent(bounds[0]/n[0], bounds[1]/n[1], bounds[2]/n[2])
	var out []geom.Box
	for z := range n[2] {
		for y := range n[1] {
			for x := range n[0] {
				out = append(out, geom.NewBox(geom.Pt(x*size[0], y*size[1], z*size[2]), size))
			}
		}
	}

	return out
}

// slabs splits bounds into n z slabs of nearly equal height.
func slabs(bounds geom.Point, n int) []geom.Box {
	out := make([]geom.Box, n)
	off := uint64(0)
	for i := range n {
		h := bounds[2] / uint64(n)
		if uint64(i) < bounds[2]%uint64(n) {
			h++
		}
		out[i] = geom.NewBox(geom.Pt(0, 0, off), geom.Extent(bounds[0], bounds[1], h))
		off += h
	}

	return out
}

// writeDataset writes one patch per box, patches[r] going to rank r.
func writeDataset(t *testing.T, path string, bounds geom.Point, vars []Variable, patches [][]geom.Box, opts ...Option) {
	t.Helper()
	err := comm.Run(context.Background(), len(patches), func(ctx context.Context, c *comm.Comm) error {
		f, err := Create(c, path, bounds, vars, opts...)
		if err != nil {
			return err
		}
		local := make([]Patch, 0, len(patches[c.Rank()]))
		for _, b := range patches[c.Rank()] {
			local = append(local, fillPatch(b, bounds, vars))
		}
		if err := f.Write(ctx, local); err != nil {
			return err
		}

		return f.Close(ctx)
	})
	require.NoError(t, err)
}

// readDataset reads one patch per box with len(patches) ranks and returns
// the patches of every rank.
func readDataset(t *testing.T, path string, patches [][]geom.Box, opts ...Option) [][]Patch {
	t.Helper()
	var mu sync.Mutex
	out := make([][]Patch, len(patches))
	err := comm.Run(context.Background(), len(patches), func(ctx context.Context, c *comm.Comm) error {
		f, err := Open(ctx, c, path, opts...)
		if err != nil {
			return err
		}
		local := make([]Patch, 0, len(patches[c.Rank()]))
		for _, b := range patches[c.Rank()] {
			local = append(local, NewPatch(b, f.Metadata().Fields))
		}
		if err := f.Read(ctx, local); err != nil {
			return err
		}

		mu.Lock()
		out[c.Rank()] = local
		mu.Unlock()

		return f.Close(ctx)
	})
	require.NoError(t, err)

	return out
}

func onePerRank(boxes []geom.Box) [][]geom.Box {
	out := make([][]geom.Box, len(boxes))
	for i, b := range boxes {
		out[i] = []geom.Box{b}
	}

	return out
}

// requireSamples compares every read patch with the expected values.
func requireSamples(t *testing.T, bounds geom.Point, vars []Variable, got [][]Patch) {
	t.Helper()
	for r, patches := range got {
		for i, p := range patches {
			want := fillPatch(p.Box, bounds, vars)
			for v := range vars {
				require.Equal(t, want.Data[v], p.Data[v], "rank %d patch %d variable %s", r, i, vars[v].Name)
			}
		}
	}
}

func TestScenarioA(t *testing.T) {
	bounds := geom.Extent(64, 64, 64)
	path := filepath.Join(t.TempDir(), "scenario_a.idx")
	boxes := onePerRank(grid(bounds, [3]uint64{2, 2, 2}))

	writeDataset(t, path, bounds, scalar, boxes)
	got := readDataset(t, path, boxes)

	domain := geom.NewBox(geom.Pt(), bounds)
	compared, mismatched := 0, 0
	for _, patches := range got {
		for _, p := range patches {
			geom.ForEachRow(p.Box, func(start geom.Point) {
				pt := start
				for x := range p.Box.Size[0] {
					pt[0] = start[0] + x
					off := p.Box.Index(pt) * 8
					have := math.Float64frombits(binary.NativeEndian.Uint64(p.Data[0][off:]))
					if have != value(domain.Index(pt), 0, 0) {
						mismatched++
					}
					compared++
				}
			})
		}
	}
	require.Equal(t, 0, mismatched)
	require.Equal(t, 64*64*64, compared)
}

func TestScenarioB(t *testing.T) {
	bounds := geom.Extent(64, 64, 64)
	path := filepath.Join(t.TempDir(), "scenario_b.idx")
	boxes := onePerRank(grid(bounds, [3]uint64{2, 2, 2}))

	writeDataset(t, path, bounds, mixed, boxes)
	requireSamples(t, bounds, mixed, readDataset(t, path, boxes))
}

func TestRepartitionedRead(t *testing.T) {
	bounds := geom.Extent(32, 32, 16)
	path := filepath.Join(t.TempDir(), "repartition.idx")

	// four writers with two patches each
	cells := grid(bounds, [3]uint64{2, 2, 2})
	writers := make([][]geom.Box, 4)
	for i, b := range cells {
		writers[i%4] = append(writers[i%4], b)
	}
	writeDataset(t, path, bounds, mixed, writers, WithCompression(format.CompressionZstd), WithBitsPerBlock(8), WithBlocksPerFile(4))

	for _, readers := range [][][]geom.Box{
		onePerRank(slabs(bounds, 3)),
		onePerRank([]geom.Box{geom.NewBox(geom.Pt(), bounds)}),
		onePerRank(grid(bounds, [3]uint64{1, 4, 1})),
	} {
		requireSamples(t, bounds, mixed, readDataset(t, path, readers))
	}
}

func TestCompressionRoundTrip(t *testing.T) {
	bounds := geom.Extent(32, 32, 16)
	boxes := onePerRank(grid(bounds, [3]uint64{2, 2, 1}))
	vars := []Variable{
		{Name: "a", Type: format.Float64},
		{Name: "b", Type: format.Int32},
		{Name: "c", Type: format.DataType{Kind: format.KindFloat32, ValuesPerSample: 3}},
	}

	tests := []struct {
		name string
		ct   format.CompressionType
		af   int
	}{
		{"none", format.CompressionNone, 1},
		{"zstd", format.CompressionZstd, 1},
		{"s2", format.CompressionS2, 2},
		{"lz4", format.CompressionLZ4, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "data.idx")
			writeDataset(t, path, bounds, vars, boxes,
				WithCompression(tt.ct),
				WithAggregationFactor(tt.af),
				WithBitsPerBlock(10),
				WithBlocksPerFile(2))
			requireSamples(t, bounds, vars, readDataset(t, path, onePerRank(slabs(bounds, 2))))
		})
	}
}

func TestNonPowerOfTwoDomain(t *testing.T) {
	bounds := geom.Extent(20, 12, 10)
	path := filepath.Join(t.TempDir(), "odd.idx")
	writers := onePerRank([]geom.Box{
		geom.NewBox(geom.Pt(0, 0, 0), geom.Extent(20, 12, 3)),
		geom.NewBox(geom.Pt(0, 0, 3), geom.Extent(7, 12, 7)),
		geom.NewBox(geom.Pt(7, 0, 3), geom.Extent(13, 12, 7)),
	})

	writeDataset(t, path, bounds, mixed, writers, WithBitsPerBlock(6))
	requireSamples(t, bounds, mixed, readDataset(t, path, onePerRank(slabs(bounds, 4))))
}

func TestChunkedWithSampleCodec(t *testing.T) {
	bounds := geom.Extent(32, 32, 16)
	path := filepath.Join(t.TempDir(), "chunked.idx")
	boxes := onePerRank(grid(bounds, [3]uint64{2, 2, 1}))

	writeDataset(t, path, bounds, mixed, boxes,
		WithChunkSize(geom.Extent(4, 4, 2)),
		WithSampleCodec(hzbuf.Float64To32),
		WithCompression(format.CompressionS2))

	got := readDataset(t, path, onePerRank(slabs(bounds, 3)))
	requireSamples(t, bounds, mixed, got)

	m, err := metadata.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, 32, m.BitRate)
	require.Equal(t, geom.Extent(4, 4, 2), m.ChunkSize)
}

func TestPipeLength(t *testing.T) {
	bounds := geom.Extent(16, 16, 16)
	boxes := onePerRank(grid(bounds, [3]uint64{2, 1, 2}))

	for _, pl := range []int{1, 2, 4} {
		path := filepath.Join(t.TempDir(), "pipe.idx")
		writeDataset(t, path, bounds, mixed, boxes, WithPipeLength(pl))
		requireSamples(t, bounds, mixed, readDataset(t, path, onePerRank(slabs(bounds, 2)), WithPipeLength(3)))
	}
}

func TestLowResolutionRead(t *testing.T) {
	bounds := geom.Extent(32, 32, 32)
	path := filepath.Join(t.TempDir(), "progressive.idx")
	boxes := onePerRank(grid(bounds, [3]uint64{2, 2, 1}))
	writeDataset(t, path, bounds, scalar, boxes, WithBitsPerBlock(9))

	m, err := metadata.ReadFile(path)
	require.NoError(t, err)
	p, err := m.Pattern()
	require.NoError(t, err)
	to := p.MaxH() - 4

	got := readDataset(t, path, boxes, WithResolution(0, to))

	domain := geom.NewBox(geom.Pt(), bounds)
	coarse := 0
	for _, patches := range got {
		for _, patch := range patches {
			geom.ForEachRow(patch.Box, func(start geom.Point) {
				pt := start
				for x := range patch.Box.Size[0] {
					pt[0] = start[0] + x
					have := math.Float64frombits(binary.NativeEndian.Uint64(patch.Data[0][patch.Box.Index(pt)*8:]))
					want := 0.0
					if hz.Level(p.XYZToHz(pt)) <= to {
						want = value(domain.Index(pt), 0, 0)
						coarse++
					}
					if have != want {
						t.Fatalf("sample %v: got %v, want %v", pt, have, want)
					}
				}
			})
		}
	}
	require.Equal(t, 1<<to, coarse)
}

func TestFlipEndian(t *testing.T) {
	bounds := geom.Extent(16, 16, 8)
	path := filepath.Join(t.TempDir(), "flipped.idx")
	boxes := onePerRank(grid(bounds, [3]uint64{2, 1, 1}))

	writeDataset(t, path, bounds, mixed, boxes, WithFlipEndian(true))

	m, err := metadata.ReadFile(path)
	require.NoError(t, err)
	require.False(t, endian.CompareNativeEndian(m.Endian))

	requireSamples(t, bounds, mixed, readDataset(t, path, onePerRank(slabs(bounds, 3))))
}

func TestTimeSteps(t *testing.T) {
	bounds := geom.Extent(16, 16, 16)
	path := filepath.Join(t.TempDir(), "steps.idx")
	boxes := onePerRank(grid(bounds, [3]uint64{1, 1, 2}))

	err := comm.Run(context.Background(), 2, func(ctx context.Context, c *comm.Comm) error {
		f, err := Create(c, path, bounds, scalar, WithTimeStep(3))
		if err != nil {
			return err
		}
		for _, step := range []int{3, 4, 5} {
			if err := f.SetTimeStep(step); err != nil {
				return err
			}
			box := boxes[c.Rank()][0]
			p := fillPatch(box, bounds, scalar)
			// shift every step by a distinct constant
			for i := 0; i < len(p.Data[0]); i += 8 {
				x := math.Float64frombits(binary.NativeEndian.Uint64(p.Data[0][i:]))
				binary.NativeEndian.PutUint64(p.Data[0][i:], math.Float64bits(x+float64(step)*1000))
			}
			if err := f.Write(ctx, []Patch{p}); err != nil {
				return err
			}
		}

		return f.Close(ctx)
	})
	require.NoError(t, err)

	m, err := metadata.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, 3, m.FirstTime)
	require.Equal(t, 5, m.LastTime)
	for _, step := range []int{3, 4, 5} {
		require.DirExists(t, filepath.Join(filepath.Dir(path), "steps", fileio.TimeDir(step)))
	}

	var mu sync.Mutex
	firsts := make(map[int]float64)
	err = comm.Run(context.Background(), 1, func(ctx context.Context, c *comm.Comm) error {
		f, err := Open(ctx, c, path)
		if err != nil {
			return err
		}
		if f.TimeStep() != 3 {
			return invalid("opened at step %d", f.TimeStep())
		}
		for _, step := range []int{3, 4, 5} {
			if err := f.SetTimeStep(step); err != nil {
				return err
			}
			p := NewPatch(geom.NewBox(geom.Pt(), bounds), scalar)
			if err := f.Read(ctx, []Patch{p}); err != nil {
				return err
			}
			mu.Lock()
			firsts[step] = math.Float64frombits(binary.NativeEndian.Uint64(p.Data[0]))
			mu.Unlock()
		}

		return f.Close(ctx)
	})
	require.NoError(t, err)
	require.Equal(t, map[int]float64{3: 3100, 4: 4100, 5: 5100}, firsts)
}

func TestGlobalPartition(t *testing.T) {
	bounds := geom.Extent(32, 32, 16)
	path := filepath.Join(t.TempDir(), "global.idx")
	boxes := onePerRank(grid(bounds, [3]uint64{2, 2, 2}))

	writeDataset(t, path, bounds, mixed, boxes,
		WithIOMode(format.ModeGlobalPartition),
		WithPartitionCount(geom.Extent(2, 2, 1)),
		WithAggregationFactor(2))

	for i := range 4 {
		require.DirExists(t, filepath.Join(filepath.Dir(path), "global_"+strconv.Itoa(i)))
	}
	requireSamples(t, bounds, mixed, readDataset(t, path, onePerRank(slabs(bounds, 3))))
}

func TestLocalPartition(t *testing.T) {
	bounds := geom.Extent(32, 32, 16)
	path := filepath.Join(t.TempDir(), "local.idx")
	// two ranks per 16x16x16 partition, each holding a z half
	boxes := onePerRank(grid(bounds, [3]uint64{2, 2, 2}))

	writeDataset(t, path, bounds, mixed, boxes,
		WithIOMode(format.ModeLocalPartition),
		WithPartitionCount(geom.Extent(2, 2, 1)))

	for i := range 4 {
		pm, err := metadata.ReadFile(filepath.Join(filepath.Dir(path), "local_"+strconv.Itoa(i)+".idx"))
		require.NoError(t, err)
		assert.Equal(t, i, pm.PartitionIndex)
		assert.Equal(t, geom.Extent(16, 16, 16), pm.Bounds)
		assert.Equal(t, geom.Pt(uint64(i%2)*16, uint64(i/2)*16, 0), pm.PartitionOffset)
		assert.Equal(t, 2, pm.Cores)
	}

	requireSamples(t, bounds, mixed, readDataset(t, path, onePerRank(slabs(bounds, 3))))
	requireSamples(t, bounds, mixed, readDataset(t, path, boxes))
}

func TestLocalPartitionRejectsStraddlingPatch(t *testing.T) {
	bounds := geom.Extent(32, 32, 16)
	path := filepath.Join(t.TempDir(), "local.idx")

	err := comm.Run(context.Background(), 1, func(ctx context.Context, c *comm.Comm) error {
		f, err := Create(c, path, bounds, scalar,
			WithIOMode(format.ModeLocalPartition),
			WithPartitionCount(geom.Extent(2, 1, 1)))
		if err != nil {
			return err
		}

		return f.Write(ctx, []Patch{fillPatch(geom.NewBox(geom.Pt(), bounds), bounds, scalar)})
	})
	require.ErrorIs(t, err, errs.ErrInvalidBox)
}

func TestRawMode(t *testing.T) {
	bounds := geom.Extent(24, 16, 8)
	boxes := onePerRank(grid(bounds, [3]uint64{2, 2, 1}))

	for _, flip := range []bool{false, true} {
		path := filepath.Join(t.TempDir(), "raw.idx")
		writeDataset(t, path, bounds, mixed, boxes, WithIOMode(format.ModeRaw), WithFlipEndian(flip))

		m, err := metadata.ReadFile(path)
		require.NoError(t, err)
		require.Equal(t, format.ModeRaw, m.Mode)
		require.NotZero(t, m.RestructureBox.Volume())

		requireSamples(t, bounds, mixed, readDataset(t, path, onePerRank(slabs(bounds, 3))))
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	bounds := geom.Extent(16, 16, 16)
	path := filepath.Join(t.TempDir(), "meta.idx")
	writeDataset(t, path, bounds, mixed, onePerRank([]geom.Box{geom.NewBox(geom.Pt(), bounds)}),
		WithBitsPerBlock(8),
		WithBlocksPerFile(8),
		WithCompression(format.CompressionLZ4))

	var opened [2][]Variable
	err := comm.Run(context.Background(), 2, func(ctx context.Context, c *comm.Comm) error {
		f, err := Open(ctx, c, path)
		if err != nil {
			return err
		}
		opened[c.Rank()] = f.Metadata().Fields

		return f.Close(ctx)
	})
	require.NoError(t, err)

	for r := range opened {
		if diff := cmp.Diff(mixed, opened[r]); diff != "" {
			t.Fatalf("rank %d fields mismatch (-want +got):\n%s", r, diff)
		}
	}

	m, err := metadata.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, 8, m.BitsPerBlock)
	require.Equal(t, 8, m.BlocksPerFile)
	require.Equal(t, format.CompressionLZ4, m.Compression)
	require.Equal(t, 1, m.Cores)
}

func TestCreateErrors(t *testing.T) {
	c := comm.NewWorld(1).Comm(0)
	path := filepath.Join(t.TempDir(), "bad.idx")
	bounds := geom.Extent(16, 16, 16)

	tests := []struct {
		name string
		vars []Variable
		opts []Option
		want error
	}{
		{"no variables", nil, nil, errs.ErrInvalidOption},
		{"invalid type", []Variable{{Name: "x", Type: format.DataType{Kind: format.KindInt32, ValuesPerSample: 9}}}, nil, errs.ErrInvalidDataType},
		{"duplicate name", []Variable{scalar[0], scalar[0]}, nil, errs.ErrInvalidOption},
		{"bits per block", scalar, []Option{WithBitsPerBlock(0)}, errs.ErrInvalidOption},
		{"blocks per file", scalar, []Option{WithBlocksPerFile(3)}, errs.ErrInvalidOption},
		{"chunk size", scalar, []Option{WithChunkSize(geom.Extent(3, 4, 4))}, errs.ErrChunkSize},
		{"bit pattern", scalar, []Option{WithBitPattern("V0101")}, errs.ErrInvalidBitPattern},
		{"compression", scalar, []Option{WithCompression(format.CompressionType(9))}, errs.ErrUnknownCodec},
		{"resolution", scalar, []Option{WithResolution(4, 2)}, errs.ErrInvalidOption},
		{"particle position", scalar, []Option{WithIOMode(format.ModeParticle), WithPositionVariable(1)}, errs.ErrInvalidOption},
		{"particle flip", scalar, []Option{WithIOMode(format.ModeParticle), WithFlipEndian(true)}, errs.ErrInvalidOption},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Create(c, path, bounds, tt.vars, tt.opts...)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestWriteErrors(t *testing.T) {
	bounds := geom.Extent(16, 16, 16)
	path := filepath.Join(t.TempDir(), "bad.idx")

	tests := []struct {
		name  string
		patch Patch
		want  error
	}{
		{"outside", fillPatch(geom.NewBox(geom.Pt(8, 0, 0), geom.Extent(16, 4, 4)), geom.Extent(24, 16, 16), scalar), errs.ErrInvalidBox},
		{"short buffer", Patch{Box: geom.NewBox(geom.Pt(), geom.Extent(4, 4, 4)), Data: [][]byte{make([]byte, 10)}}, errs.ErrPatchBuffer},
		{"variables", Patch{Box: geom.NewBox(geom.Pt(), geom.Extent(4, 4, 4))}, errs.ErrPatchBuffer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := comm.Run(context.Background(), 1, func(ctx context.Context, c *comm.Comm) error {
				f, err := Create(c, path, bounds, scalar)
				if err != nil {
					return err
				}

				return f.Write(ctx, []Patch{tt.patch})
			})
			require.ErrorIs(t, err, tt.want)
		})
	}

	err := comm.Run(context.Background(), 1, func(ctx context.Context, c *comm.Comm) error {
		f, err := Create(c, path, bounds, scalar, WithIOMode(format.ModeRaw))
		if err != nil {
			return err
		}

		return f.WriteParticles(ctx, nil)
	})
	require.ErrorIs(t, err, errs.ErrInvalidOption)
}

func TestOpenMissing(t *testing.T) {
	err := comm.Run(context.Background(), 2, func(ctx context.Context, c *comm.Comm) error {
		_, err := Open(ctx, c, filepath.Join(t.TempDir(), "missing.idx"))
		return err
	})
	require.ErrorIs(t, err, errs.ErrIO)
}

func TestMissingStepReadsZero(t *testing.T) {
	bounds := geom.Extent(8, 8, 8)
	path := filepath.Join(t.TempDir(), "zero.idx")
	writeDataset(t, path, bounds, scalar, onePerRank([]geom.Box{geom.NewBox(geom.Pt(), bounds)}))

	got := readDataset(t, path, onePerRank([]geom.Box{geom.NewBox(geom.Pt(), bounds)}), WithTimeStep(7))
	require.Equal(t, make([]byte, 8*8*8*8), got[0][0].Data[0])

	_, err := os.Stat(filepath.Join(filepath.Dir(path), "zero", fileio.TimeDir(7)))
	require.True(t, os.IsNotExist(err))
}
