package particle

import (
	"context"
	"encoding/binary"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/idxio/comm"
	"github.com/arloliu/idxio/errs"
	"github.com/arloliu/idxio/fileio"
	"github.com/arloliu/idxio/format"
	"github.com/arloliu/idxio/geom"
)

var schema = Schema{
	Types:    []format.DataType{format.Float64x3, format.Int32, format.Float32},
	Position: 0,
}

type point struct {
	pos  [3]float64
	id   int32
	mass float32
}

// generate places 512 particles on a half-unit lattice inside the 4x4x4
// box of patch j of rank r.
func generate(r, j int) (geom.PhysicalBox, []point) {
	var box geom.PhysicalBox
	box.Offset = [geom.MaxDims]float64{float64(r * 4), float64(j * 4), 0}
	box.Size = [geom.MaxDims]float64{4, 4, 4, 1, 1}

	pts := make([]point, 0, 512)
	for k := range 512 {
		id := int32(r*10000 + j*1000 + k)
		pts = append(pts, point{
			pos: [3]float64{
				box.Offset[0] + float64(k%8)*0.5,
				box.Offset[1] + float64(k/8%8)*0.5,
				float64(k/64) * 0.5,
			},
			id:   id,
			mass: float32(id) * 0.5,
		})
	}

	return box, pts
}

func encode(box geom.PhysicalBox, pts []point) Patch {
	p := Patch{Box: box, Count: len(pts), Data: make([][]byte, 3)}
	for _, pt := range pts {
		for _, x := range pt.pos {
			p.Data[0] = binary.NativeEndian.AppendUint64(p.Data[0], math.Float64bits(x))
		}
		p.Data[1] = binary.NativeEndian.AppendUint32(p.Data[1], uint32(pt.id))
		p.Data[2] = binary.NativeEndian.AppendUint32(p.Data[2], math.Float32bits(pt.mass))
	}

	return p
}

func decode(p Patch) []point {
	pts := make([]point, p.Count)
	for i := range pts {
		for d := range 3 {
			pts[i].pos[d] = math.Float64frombits(binary.NativeEndian.Uint64(p.Data[0][(3*i+d)*8:]))
		}
		pts[i].id = int32(binary.NativeEndian.Uint32(p.Data[1][4*i:]))
		pts[i].mass = math.Float32frombits(binary.NativeEndian.Uint32(p.Data[2][4*i:]))
	}

	return pts
}

func writeParticles(t *testing.T, paths fileio.Paths, nprocs int) []point {
	t.Helper()
	var all []point
	for r := range nprocs {
		for j := range 2 {
			_, pts := generate(r, j)
			all = append(all, pts...)
		}
	}

	err := comm.Run(context.Background(), nprocs, func(ctx context.Context, c *comm.Comm) error {
		patches := make([]Patch, 2)
		for j := range patches {
			patches[j] = encode(generate(c.Rank(), j))
		}

		return Write(ctx, c, paths, 0, schema, patches, nil)
	})
	require.NoError(t, err)

	return all
}

func TestBoxQuery(t *testing.T) {
	paths := fileio.NewPaths(filepath.Join(t.TempDir(), "particles.idx"), "", 0)
	all := writeParticles(t, paths, 3)

	queries := []geom.PhysicalBox{
		{Offset: [geom.MaxDims]float64{2, 1, 1}, Size: [geom.MaxDims]float64{6, 4, 2, 1, 1}},
		{Offset: [geom.MaxDims]float64{0, 0, 0}, Size: [geom.MaxDims]float64{12, 8, 4, 1, 1}},
		{Offset: [geom.MaxDims]float64{3.5, 3.5, 1.5}, Size: [geom.MaxDims]float64{0.5, 0.5, 0.5, 1, 1}},
		{Offset: [geom.MaxDims]float64{20, 0, 0}, Size: [geom.MaxDims]float64{4, 4, 4, 1, 1}},
	}

	// two readers, each running every query
	var mu sync.Mutex
	got := make(map[[2]int][]point)
	err := comm.Run(context.Background(), 2, func(ctx context.Context, c *comm.Comm) error {
		for q, query := range queries {
			p, err := Read(ctx, c, paths, 0, schema, query, nil)
			if err != nil {
				return err
			}
			mu.Lock()
			got[[2]int{c.Rank(), q}] = decode(p)
			mu.Unlock()
		}

		return nil
	})
	require.NoError(t, err)

	for q, query := range queries {
		var want []point
		for _, pt := range all {
			lo, hi := query.Offset, query.Offset
			for d := range 3 {
				hi[d] += query.Size[d]
			}
			if pt.pos[0] >= lo[0] && pt.pos[0] < hi[0] &&
				pt.pos[1] >= lo[1] && pt.pos[1] < hi[1] &&
				pt.pos[2] >= lo[2] && pt.pos[2] < hi[2] {
				want = append(want, pt)
			}
		}
		if want == nil {
			want = []point{}
		}

		for r := range 2 {
			require.Equal(t, want, got[[2]int{r, q}], "reader %d query %d", r, q)
		}
	}

	require.Len(t, got[[2]int{0, 1}], len(all))
	require.Len(t, got[[2]int{0, 2}], 1)
}

func TestSchemaValidate(t *testing.T) {
	require.NoError(t, schema.Validate())
	require.Equal(t, 3, schema.Dims())

	bad := Schema{Types: []format.DataType{format.Int32}}
	require.ErrorIs(t, bad.Validate(), errs.ErrInvalidDataType)

	missing := Schema{Types: []format.DataType{format.Float64}, Position: 2}
	require.ErrorIs(t, missing.Validate(), errs.ErrInvalidOption)
}

func TestWriteErrors(t *testing.T) {
	paths := fileio.NewPaths(filepath.Join(t.TempDir(), "particles.idx"), "", 0)

	err := comm.Run(context.Background(), 1, func(ctx context.Context, c *comm.Comm) error {
		box, pts := generate(0, 0)
		p := encode(box, pts)
		p.Count++

		return Write(ctx, c, paths, 0, schema, []Patch{p}, nil)
	})
	require.ErrorIs(t, err, errs.ErrPatchBuffer)

	err = comm.Run(context.Background(), 1, func(ctx context.Context, c *comm.Comm) error {
		_, err := Read(ctx, c, paths, 3, schema, geom.PhysicalBox{}, nil)
		return err
	})
	require.ErrorIs(t, err, errs.ErrIO)
}
