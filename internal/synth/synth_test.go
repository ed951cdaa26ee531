package synth

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/idxio/geom"
)

func TestDecomposeCoversBounds(t *testing.T) {
	tests := []struct {
		bounds geom.Point
		n      int
	}{
		{geom.Extent(64, 64, 64), 8},
		{geom.Extent(65, 33, 17), 6},
		{geom.Extent(10, 10), 7},
		{geom.Extent(5, 5, 5), 1},
	}
	for _, tt := range tests {
		boxes := Decompose(tt.bounds, tt.n)
		require.Len(t, boxes, tt.n)

		var total uint64
		for i, a := range boxes {
			total += a.Volume()
			for _, b := range boxes[i+1:] {
				require.False(t, a.Intersects(b), "%v overlaps %v", a, b)
			}
		}
		require.Equal(t, tt.bounds.Volume(), total)
	}

	boxes := Decompose(geom.Extent(64, 64, 64), 8)
	for _, b := range boxes {
		require.Equal(t, geom.Extent(32, 32, 32), b.Size)
	}
	require.Equal(t, geom.Pt(32, 0, 0), boxes[1].Offset)
}

func TestVerify(t *testing.T) {
	bounds := geom.Extent(8, 8, 8)
	box := geom.NewBox(geom.Pt(2, 2, 2), geom.Extent(3, 4, 5))

	p := Fill(box, bounds, Mixed)
	res := Verify(p, bounds, Mixed)
	require.Equal(t, uint64(0), res.Mismatched)
	require.Equal(t, box.Volume()*uint64(len(Mixed)), res.Compared)

	p.Data[1][0] ^= 0xff
	p.Data[5][len(p.Data[5])-1] ^= 0x01
	res = Verify(p, bounds, Mixed)
	require.Equal(t, uint64(2), res.Mismatched)

	var sum Result
	sum.Add(res)
	sum.Add(Result{Compared: 1})
	require.Equal(t, res.Compared+1, sum.Compared)
}
