package restructure

import (
	"context"
	"fmt"

	"github.com/arloliu/idxio/comm"
	"github.com/arloliu/idxio/errs"
	"github.com/arloliu/idxio/geom"
	"github.com/arloliu/idxio/internal/pool"
)

// PatchRef addresses patch Index of rank Rank in an Arena.
type PatchRef struct {
	Rank  int
	Index int
}

func (r PatchRef) String() string {
	return fmt.Sprintf("%d/%d", r.Rank, r.Index)
}

// Arena holds the extents of every rank's patches for one call. It is built
// collectively and identical on every rank.
type Arena struct {
	patches [][]geom.Box
}

// NewArena builds an arena from per-rank patch lists.
func NewArena(patches [][]geom.Box) *Arena {
	return &Arena{patches: patches}
}

// GatherArena exchanges the local patch extents of every rank.
func GatherArena(ctx context.Context, c *comm.Comm, local []geom.Box) (*Arena, error) {
	vals, release := pool.GetUint64Slice(len(local) * 2 * geom.MaxDims)
	defer release()
	for i, b := range local {
		copy(vals[i*2*geom.MaxDims:], b.Offset[:])
		copy(vals[(2*i+1)*geom.MaxDims:], b.Size[:])
	}

	all, err := comm.AllgatherUint64s(ctx, c, vals)
	if err != nil {
		return nil, err
	}

	a := &Arena{patches: make([][]geom.Box, len(all))}
	for r, v := range all {
		if len(v)%(2*geom.MaxDims) != 0 {
			return nil, fmt.Errorf("%w: rank %d sent %d patch words", errs.ErrSizeMismatch, r, len(v))
		}
		for i := 0; i < len(v); i += 2 * geom.MaxDims {
			var b geom.Box
			copy(b.Offset[:], v[i:i+geom.MaxDims])
			copy(b.Size[:], v[i+geom.MaxDims:i+2*geom.MaxDims])
			a.patches[r] = append(a.patches[r], b)
		}
	}

	return a, nil
}

// Ranks returns the number of ranks.
func (a *Arena) Ranks() int {
	return len(a.patches)
}

// Count returns the number of patches of rank r.
func (a *Arena) Count(r int) int {
	return len(a.patches[r])
}

// MaxCount returns the largest patch count of any rank.
func (a *Arena) MaxCount() int {
	n := 0
	for _, p := range a.patches {
		n = max(n, len(p))
	}

	return n
}

// Box returns the extent of a patch.
func (a *Arena) Box(ref PatchRef) geom.Box {
	return a.patches[ref.Rank][ref.Index]
}

// Validate checks that every patch is non-empty, lies in bounds and
// overlaps no other patch.
func (a *Arena) Validate(bounds geom.Point) error {
	all := geom.NewBox(geom.Pt(), bounds)
	var refs []PatchRef
	for r, list := range a.patches {
		for i, b := range list {
			if b.Empty() || !all.ContainsBox(b) {
				return fmt.Errorf("%w: patch %d/%d %v outside %v", errs.ErrInvalidBox, r, i, b, all)
			}
			refs = append(refs, PatchRef{Rank: r, Index: i})
		}
	}

	for i, x := range refs {
		for _, y := range refs[i+1:] {
			if a.Box(x).Intersects(a.Box(y)) {
				return fmt.Errorf("%w: %v and %v", errs.ErrPatchOverlap, x, y)
			}
		}
	}

	return nil
}
