package hzbuf

import (
	"fmt"

	"github.com/arloliu/idxio/errs"
	"github.com/arloliu/idxio/geom"
)

// CheckChunkSize verifies that every extent of c is a power of two. Zero
// extents count as 1.
func CheckChunkSize(c geom.Point) error {
	c = normalizeChunk(c)
	for d := range geom.MaxDims {
		if !geom.IsPow2(c[d]) {
			return fmt.Errorf("%w: %v", errs.ErrChunkSize, c)
		}
	}

	return nil
}

// normalizeChunk replaces zero extents with 1.
func normalizeChunk(c geom.Point) geom.Point {
	for d := range geom.MaxDims {
		c[d] = max(c[d], 1)
	}

	return c
}

// ChunkBounds returns the extent of the HZ sample grid of a dataset with
// sample bounds and chunk size c.
func ChunkBounds(bounds, c geom.Point) geom.Point {
	c = normalizeChunk(c)
	var out geom.Point
	for d := range geom.MaxDims {
		out[d] = geom.CeilDiv(bounds[d], c[d])
	}

	return out
}

// ChunkBox returns the HZ sample box covering box. The offset of box must be
// chunk aligned; a partial chunk at its upper end rounds up.
func ChunkBox(box geom.Box, c geom.Point) (geom.Box, error) {
	c = normalizeChunk(c)
	if err := CheckChunkSize(c); err != nil {
		return geom.Box{}, err
	}

	var out geom.Box
	for d := range geom.MaxDims {
		if box.Offset[d]%c[d] != 0 {
			return geom.Box{}, fmt.Errorf("%w: box %v is not aligned to chunk %v", errs.ErrChunk, box, c)
		}
		out.Offset[d] = box.Offset[d] / c[d]
		out.Size[d] = geom.CeilDiv(box.Size[d], c[d])
	}

	return out, nil
}

func trivialChunk(c geom.Point) bool {
	return normalizeChunk(c).Volume() == 1
}

// chunkIndex returns the byte position of sample pt of box inside the
// chunked buffer over cbox.
func chunkIndex(pt geom.Point, cbox geom.Box, c geom.Point, sampleBytes int) int {
	var cp, q geom.Point
	for d := range geom.MaxDims {
		cp[d] = pt[d] / c[d]
		q[d] = pt[d] % c[d]
	}
	inner := geom.NewBox(geom.Pt(), c)
	slot := cbox.Index(cp)*c.Volume() + inner.Index(q)

	return int(slot) * sampleBytes
}

// chunk regroups a row-major buffer over box into one sample per chunk, each
// holding the chunk's samples in row-major order. Samples of partial chunks
// that fall outside box stay zero.
func chunk(src []byte, box geom.Box, c geom.Point, sampleBytes int) (geom.Box, []byte, error) {
	c = normalizeChunk(c)
	cbox, err := ChunkBox(box, c)
	if err != nil {
		return geom.Box{}, nil, err
	}

	out := make([]byte, cbox.Volume()*c.Volume()*uint64(sampleBytes))
	geom.ForEachRow(box, func(start geom.Point) {
		s := int(box.Index(start)) * sampleBytes
		pt := start
		for x := range box.Size[0] {
			pt[0] = start[0] + x
			d := chunkIndex(pt, cbox, c, sampleBytes)
			copy(out[d:d+sampleBytes], src[s:s+sampleBytes])
			s += sampleBytes
		}
	})

	return cbox, out, nil
}

// unchunk is the inverse of chunk: it writes the samples of box held by
// chunked into dst, a row-major buffer over box.
func unchunk(dst []byte, box geom.Box, c geom.Point, sampleBytes int, chunked []byte) error {
	c = normalizeChunk(c)
	cbox, err := ChunkBox(box, c)
	if err != nil {
		return err
	}
	if want := cbox.Volume() * c.Volume() * uint64(sampleBytes); uint64(len(chunked)) < want {
		return fmt.Errorf("%w: chunked buffer of %d bytes, want %d", errs.ErrChunk, len(chunked), want)
	}

	geom.ForEachRow(box, func(start geom.Point) {
		d := int(box.Index(start)) * sampleBytes
		pt := start
		for x := range box.Size[0] {
			pt[0] = start[0] + x
			s := chunkIndex(pt, cbox, c, sampleBytes)
			copy(dst[d:d+sampleBytes], chunked[s:s+sampleBytes])
			d += sampleBytes
		}
	})

	return nil
}
