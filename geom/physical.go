package geom

// PhysicalBox is a half-open box in physical (floating point) space, used
// to describe particle patches and box queries.
type PhysicalBox struct {
	Offset [MaxDims]float64
	Size   [MaxDims]float64
}

// Intersects reports whether the boxes overlap over the first dims dimensions.
func (b PhysicalBox) Intersects(o PhysicalBox, dims int) bool {
	for d := range dims {
		if b.Offset[d]+b.Size[d] <= o.Offset[d] || o.Offset[d]+o.Size[d] <= b.Offset[d] {
			return false
		}
	}

	return true
}

// ContainsPoint reports whether pos lies in the box, lower bound inclusive
// and upper bound exclusive, over len(pos) dimensions.
func (b PhysicalBox) ContainsPoint(pos []float64) bool {
	for d, x := range pos {
		if d >= MaxDims {
			break
		}
		if x < b.Offset[d] || x >= b.Offset[d]+b.Size[d] {
			return false
		}
	}

	return true
}
