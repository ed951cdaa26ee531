package geom

import "fmt"

// ForEachRow calls fn with the first point of every dimension-0 row of
// region, in row-major order.
func ForEachRow(region Box, fn func(start Point)) {
	if region.Empty() {
		return
	}

	p := region.Offset
	end := region.End()
	for {
		fn(p)

		d := 1
		for ; d < MaxDims; d++ {
			p[d]++
			if p[d] < end[d] {
				break
			}
			p[d] = region.Offset[d]
		}
		if d == MaxDims {
			return
		}
	}
}

// CopyBox copies the samples of region from a row-major buffer laid out
// over srcBox into a row-major buffer laid out over dstBox. region must lie
// in both boxes.
func CopyBox(dst []byte, dstBox Box, src []byte, srcBox Box, region Box, elemSize int) error {
	if !dstBox.ContainsBox(region) || !srcBox.ContainsBox(region) {
		return fmt.Errorf("region %v outside %v or %v", region, dstBox, srcBox)
	}
	if uint64(len(dst)) < dstBox.Volume()*uint64(elemSize) || uint64(len(src)) < srcBox.Volume()*uint64(elemSize) {
		return fmt.Errorf("buffer too small for %v -> %v", srcBox, dstBox)
	}

	rowBytes := int(region.Size[0]) * elemSize
	ForEachRow(region, func(start Point) {
		s := int(srcBox.Index(start)) * elemSize
		d := int(dstBox.Index(start)) * elemSize
		copy(dst[d:d+rowBytes], src[s:s+rowBytes])
	})

	return nil
}

// Pack returns the samples of region as a dense row-major buffer.
func Pack(src []byte, srcBox Box, region Box, elemSize int) ([]byte, error) {
	out := make([]byte, region.Volume()*uint64(elemSize))
	if err := CopyBox(out, region, src, srcBox, region, elemSize); err != nil {
		return nil, err
	}

	return out, nil
}

// Unpack writes a dense row-major buffer of region into dst laid out over dstBox.
func Unpack(dst []byte, dstBox Box, packed []byte, region Box, elemSize int) error {
	return CopyBox(dst, dstBox, packed, region, region, elemSize)
}
