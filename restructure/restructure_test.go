package restructure

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/idxio/comm"
	"github.com/arloliu/idxio/errs"
	"github.com/arloliu/idxio/geom"
	"github.com/arloliu/idxio/hz"
)

func TestGridFromPattern(t *testing.T) {
	p := hz.MustParsePattern("V012012012012012012")
	bounds := geom.Extent(64, 64, 64)

	g := GridFromPattern(bounds, p, geom.Extent(), 8)
	require.Equal(t, geom.Extent(32, 32, 32), g.PatchSize)
	require.Equal(t, 8, g.Total())

	g = GridFromPattern(bounds, p, geom.Extent(), 6)
	require.Equal(t, geom.Extent(32, 32, 64), g.PatchSize)
	require.Equal(t, 4, g.Total())
	require.Equal(t, 0, g.Owner(0))
	require.Equal(t, 3, g.Owner(3))

	g = GridFromPattern(bounds, p, geom.Extent(), 1)
	require.Equal(t, 1, g.Total())

	// chunking rounds cells up
	g = GridFromPattern(bounds, p, geom.Extent(8, 8, 8), 64*64)
	require.Equal(t, geom.Extent(8, 8, 8), g.PatchSize)
}

func TestGridFromBox(t *testing.T) {
	bounds := geom.Extent(64, 64, 64)

	g := GridFromBox(bounds, geom.Extent(20, 20, 20), geom.Extent(), 8)
	require.Equal(t, geom.Extent(32, 32, 32), g.PatchSize)

	g = GridFromBox(bounds, geom.Extent(20, 20, 20), geom.Extent(), 2)
	require.Equal(t, geom.Extent(64, 64, 32), g.PatchSize)
	require.Equal(t, 2, g.Total())
	require.Equal(t, 1, g.Owner(1))
}

func TestGridCells(t *testing.T) {
	g := newGrid(geom.Extent(10, 10), geom.Extent(4, 4), geom.Extent(), 9)
	require.Equal(t, geom.Extent(3, 3), g.Count)

	box, boundary := g.Cell(2)
	require.Equal(t, geom.NewBox(geom.Pt(8, 0), geom.Extent(2, 4)), box)
	require.True(t, boundary)

	box, boundary = g.Cell(4)
	require.Equal(t, geom.NewBox(geom.Pt(4, 4), geom.Extent(4, 4)), box)
	require.False(t, boundary)

	require.Equal(t, []int{0, 1, 3, 4}, g.CellsOf(geom.NewBox(geom.Pt(3, 3), geom.Extent(2, 2))))
	require.Equal(t, []int{8}, g.CellsOf(geom.NewBox(geom.Pt(9, 9), geom.Extent(1, 1))))
}

// fill returns a buffer of box whose samples hold their global row-major
// index in bounds plus one, as little-endian uint32.
func fill(bounds geom.Point, box geom.Box) []byte {
	all := geom.NewBox(geom.Pt(), bounds)
	buf := make([]byte, box.Volume()*4)
	geom.ForEachRow(box, func(start geom.Point) {
		for x := range box.Size[0] {
			pt := start
			pt[0] += x
			binary.LittleEndian.PutUint32(buf[box.Index(pt)*4:], uint32(all.Index(pt)+1))
		}
	})

	return buf
}

type restructureResult struct {
	plan  *Plan
	owned [][][]byte
	back  [][][]byte
}

func runRestructure(t *testing.T, n int, bounds geom.Point, g Grid, patches [][]geom.Box, force Case) []restructureResult {
	t.Helper()

	results := make([]restructureResult, n)
	var mu sync.Mutex
	err := comm.Run(context.Background(), n, func(ctx context.Context, c *comm.Comm) error {
		local := patches[c.Rank()]
		plan, err := BuildPlan(ctx, c, g, local, force)
		if err != nil {
			return err
		}

		data := make([][][]byte, len(local))
		back := make([][][]byte, len(local))
		for i, b := range local {
			data[i] = [][]byte{fill(bounds, b), make([]byte, b.Volume()*2)}
			back[i] = [][]byte{make([]byte, b.Volume()*4), make([]byte, b.Volume()*2)}
		}

		owned, err := plan.Write(ctx, c, []int{4, 2}, data)
		if err != nil {
			return err
		}
		if err := plan.Read(ctx, c, []int{4, 2}, owned, back); err != nil {
			return err
		}

		mu.Lock()
		results[c.Rank()] = restructureResult{plan: plan, owned: owned, back: back}
		mu.Unlock()

		return nil
	})
	require.NoError(t, err)

	return results
}

func checkConservation(t *testing.T, bounds geom.Point, patches [][]geom.Box, results []restructureResult) {
	t.Helper()

	want := make(map[uint32]bool)
	for _, list := range patches {
		for _, b := range list {
			buf := fill(bounds, b)
			for i := 0; i < len(buf); i += 4 {
				want[binary.LittleEndian.Uint32(buf[i:])] = true
			}
		}
	}

	got := make(map[uint32]int)
	for _, r := range results {
		for o, sp := range r.plan.Owned {
			buf := r.owned[o][0]
			require.Equal(t, sp.Box.Volume()*4, uint64(len(buf)))
			for i := 0; i < len(buf); i += 4 {
				if v := binary.LittleEndian.Uint32(buf[i:]); v != 0 {
					got[v]++
				}
			}
			// the super-patch holds each sample at its own coordinate
			require.Equal(t, fill(bounds, sp.Box), maskCovered(bounds, sp, buf))
		}
	}

	require.Len(t, got, len(want))
	for v, n := range got {
		require.True(t, want[v], "sample %d was never written", v)
		require.Equal(t, 1, n, "sample %d received %d times", v, n)
	}

	for rank, r := range results {
		for i, b := range patches[rank] {
			require.Equal(t, fill(bounds, b), r.back[i][0], "rank %d patch %d", rank, i)
		}
	}
}

// maskCovered fills the uncovered samples of a super-patch buffer with the
// expected value so that buffers compare whole.
func maskCovered(bounds geom.Point, sp *SuperPatch, buf []byte) []byte {
	out := append([]byte(nil), buf...)
	expect := fill(bounds, sp.Box)
	for i := 0; i < len(out); i += 4 {
		if binary.LittleEndian.Uint32(out[i:]) == 0 {
			copy(out[i:i+4], expect[i:i+4])
		}
	}

	return out
}

func TestSinglePatchConservation(t *testing.T) {
	bounds := geom.Extent(12, 10, 6)
	// uneven patches that straddle cells
	patches := [][]geom.Box{
		{geom.NewBox(geom.Pt(0, 0, 0), geom.Extent(5, 10, 6))},
		{geom.NewBox(geom.Pt(5, 0, 0), geom.Extent(7, 4, 6))},
		{geom.NewBox(geom.Pt(5, 4, 0), geom.Extent(7, 6, 3))},
		{geom.NewBox(geom.Pt(5, 4, 3), geom.Extent(7, 6, 3))},
		{},
	}
	p, err := hz.Guess(hz.GuessBalanced, bounds)
	require.NoError(t, err)
	g := GridFromPattern(bounds, p, geom.Extent(), len(patches))

	results := runRestructure(t, len(patches), bounds, g, patches, CaseAuto)
	require.Equal(t, CaseSingle, results[0].plan.Case)
	checkConservation(t, bounds, patches, results)
}

func TestMixedPatchCounts(t *testing.T) {
	bounds := geom.Extent(16, 16, 4)
	patches := [][]geom.Box{
		{geom.NewBox(geom.Pt(0, 0, 0), geom.Extent(8, 8, 4)), geom.NewBox(geom.Pt(8, 0, 0), geom.Extent(3, 8, 4))},
		{geom.NewBox(geom.Pt(11, 0, 0), geom.Extent(5, 8, 4))},
		{geom.NewBox(geom.Pt(0, 8, 0), geom.Extent(16, 3, 4)), geom.NewBox(geom.Pt(0, 11, 0), geom.Extent(16, 5, 2))},
		{geom.NewBox(geom.Pt(0, 11, 2), geom.Extent(16, 5, 2))},
	}
	g := GridFromBox(bounds, geom.Extent(4, 4, 4), geom.Extent(), len(patches))

	results := runRestructure(t, len(patches), bounds, g, patches, CaseAuto)
	require.Equal(t, CaseMulti, results[0].plan.Case)
	checkConservation(t, bounds, patches, results)
}

func TestCasesAgree(t *testing.T) {
	bounds := geom.Extent(16, 16, 16)
	var patches [][]geom.Box
	for z := uint64(0); z < 16; z += 8 {
		for y := uint64(0); y < 16; y += 8 {
			for x := uint64(0); x < 16; x += 8 {
				patches = append(patches, []geom.Box{geom.NewBox(geom.Pt(x+1, y, z), geom.Extent(7, 8, 8))})
			}
		}
	}
	patches = append(patches, []geom.Box{})
	p, err := hz.Guess(hz.GuessBalanced, bounds)
	require.NoError(t, err)
	g := GridFromPattern(bounds, p, geom.Extent(), len(patches))

	single := runRestructure(t, len(patches), bounds, g, patches, CaseSingle)
	multi := runRestructure(t, len(patches), bounds, g, patches, CaseMulti)
	for r := range patches {
		require.Equal(t, CaseSingle, single[r].plan.Case)
		require.Equal(t, CaseMulti, multi[r].plan.Case)
		if diff := cmp.Diff(single[r].plan.Supers, multi[r].plan.Supers); diff != "" {
			t.Fatalf("rank %d plans differ (-single +multi):\n%s", r, diff)
		}
		require.Equal(t, single[r].owned, multi[r].owned)
	}
	checkConservation(t, bounds, patches, single)
}

func TestBuildPlanErrors(t *testing.T) {
	bounds := geom.Extent(8, 8)
	g := GridFromBox(bounds, geom.Extent(4, 4), geom.Extent(), 2)

	tests := []struct {
		name    string
		patches [][]geom.Box
		force   Case
		want    error
	}{
		{
			name: "overlap",
			patches: [][]geom.Box{
				{geom.NewBox(geom.Pt(0, 0), geom.Extent(5, 8))},
				{geom.NewBox(geom.Pt(4, 0), geom.Extent(4, 8))},
			},
			force: CaseAuto,
			want:  errs.ErrPatchOverlap,
		},
		{
			name: "out of bounds",
			patches: [][]geom.Box{
				{geom.NewBox(geom.Pt(0, 0), geom.Extent(9, 8))},
				{},
			},
			force: CaseAuto,
			want:  errs.ErrInvalidBox,
		},
		{
			name: "single case forced with many patches",
			patches: [][]geom.Box{
				{geom.NewBox(geom.Pt(0, 0), geom.Extent(4, 8)), geom.NewBox(geom.Pt(4, 0), geom.Extent(4, 4))},
				{geom.NewBox(geom.Pt(4, 4), geom.Extent(4, 4))},
			},
			force: CaseSingle,
			want:  errs.ErrRestructure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := comm.Run(context.Background(), 2, func(ctx context.Context, c *comm.Comm) error {
				_, err := BuildPlan(ctx, c, g, tt.patches[c.Rank()], tt.force)

				return err
			})
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestWriteRejectsBadBuffers(t *testing.T) {
	bounds := geom.Extent(4, 4)
	g := GridFromBox(bounds, geom.Extent(4, 4), geom.Extent(), 1)
	err := comm.Run(context.Background(), 1, func(ctx context.Context, c *comm.Comm) error {
		plan, err := BuildPlan(ctx, c, g, []geom.Box{geom.NewBox(geom.Pt(), geom.Extent(4, 4))}, CaseAuto)
		if err != nil {
			return err
		}
		_, err = plan.Write(ctx, c, []int{8}, [][][]byte{{make([]byte, 7)}})

		return err
	})
	require.ErrorIs(t, err, errs.ErrPatchBuffer)
}
