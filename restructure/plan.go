package restructure

import (
	"context"
	"fmt"
	"slices"

	"github.com/arloliu/idxio/comm"
	"github.com/arloliu/idxio/errs"
	"github.com/arloliu/idxio/geom"
)

// Case selects the plan builder.
type Case int

const (
	// CaseAuto picks CaseSingle when no rank has more than one patch.
	CaseAuto Case = iota - 1
	// CaseSingle handles at most one patch per rank.
	CaseSingle
	// CaseMulti handles any number of patches per rank.
	CaseMulti
)

func (c Case) String() string {
	switch c {
	case CaseAuto:
		return "auto"
	case CaseSingle:
		return "single"
	case CaseMulti:
		return "multi"
	default:
		return fmt.Sprintf("Case(%d)", int(c))
	}
}

// Region is the part of a source patch that falls inside a super-patch.
type Region struct {
	Source PatchRef
	Box    geom.Box
}

// SuperPatch is a grid cell that receives at least one region.
type SuperPatch struct {
	Cell     int
	Box      geom.Box
	Owner    int
	Boundary bool
	Regions  []Region
}

// Transfer is the part of a local patch that belongs to a cell owned by
// Peer.
type Transfer struct {
	Patch int
	Cell  int
	Peer  int
	Box   geom.Box
}

// Plan is the restructuring plan of one rank. Every rank derives the
// super-patch list identically; Owned and Transfers are the rank's share.
type Plan struct {
	Grid      Grid
	Case      Case
	Arena     *Arena
	Rank      int
	Supers    []*SuperPatch
	Owned     []*SuperPatch
	Transfers []Transfer
}

// BuildPlan gathers the patch extents of every rank and computes the plan.
//
// Parameters:
//   - ctx: Context of the collective calls
//   - c: Communicator of every participating rank
//   - g: Cell grid, identical on every rank
//   - local: Extents of the caller's patches
//   - force: CaseAuto, or a case to use regardless of the patch counts
//
// Returns:
//   - *Plan: Plan of the caller
//   - error: errs.ErrInvalidBox, errs.ErrPatchOverlap or errs.ErrRestructure
//     when the patches cannot be restructured
func BuildPlan(ctx context.Context, c *comm.Comm, g Grid, local []geom.Box, force Case) (*Plan, error) {
	arena, err := GatherArena(ctx, c, local)
	if err != nil {
		return nil, err
	}
	if err := arena.Validate(g.Bounds); err != nil {
		return nil, err
	}

	cs := CaseSingle
	if arena.MaxCount() > 1 {
		cs = CaseMulti
	}
	if force != CaseAuto {
		if force == CaseSingle && cs == CaseMulti {
			return nil, fmt.Errorf("%w: single patch case forced with %d patches on a rank", errs.ErrRestructure, arena.MaxCount())
		}
		cs = force
	}

	var supers []*SuperPatch
	switch cs {
	case CaseSingle:
		supers = planSingle(g, arena)
	case CaseMulti:
		supers = planMulti(g, arena)
	default:
		return nil, fmt.Errorf("%w: unknown case %v", errs.ErrRestructure, cs)
	}

	p := &Plan{Grid: g, Case: cs, Arena: arena, Rank: c.Rank(), Supers: supers}
	for _, sp := range supers {
		if sp.Owner == p.Rank {
			p.Owned = append(p.Owned, sp)
		}
		for _, r := range sp.Regions {
			if r.Source.Rank == p.Rank {
				p.Transfers = append(p.Transfers, Transfer{Patch: r.Source.Index, Cell: sp.Cell, Peer: sp.Owner, Box: r.Box})
			}
		}
	}
	slices.SortFunc(p.Transfers, func(a, b Transfer) int {
		if a.Patch != b.Patch {
			return a.Patch - b.Patch
		}

		return a.Cell - b.Cell
	})

	return p, nil
}

// planSingle scans every cell against the single patch of every rank.
func planSingle(g Grid, a *Arena) []*SuperPatch {
	var supers []*SuperPatch
	for cell := range g.Total() {
		box, boundary := g.Cell(cell)
		sp := &SuperPatch{Cell: cell, Box: box, Owner: g.Owner(cell), Boundary: boundary}
		for r := range a.Ranks() {
			if a.Count(r) == 0 {
				continue
			}
			ref := PatchRef{Rank: r}
			if inter, ok := box.Intersect(a.Box(ref)); ok {
				sp.Regions = append(sp.Regions, Region{Source: ref, Box: inter})
			}
		}
		if len(sp.Regions) > 0 {
			supers = append(supers, sp)
		}
	}

	return supers
}

// planMulti walks every patch of every rank and distributes it over the
// cells it touches.
func planMulti(g Grid, a *Arena) []*SuperPatch {
	byCell := make(map[int]*SuperPatch)
	for r := range a.Ranks() {
		for i := range a.Count(r) {
			ref := PatchRef{Rank: r, Index: i}
			pbox := a.Box(ref)
			for _, cell := range g.CellsOf(pbox) {
				box, boundary := g.Cell(cell)
				inter, ok := box.Intersect(pbox)
				if !ok {
					continue
				}
				sp, ok := byCell[cell]
				if !ok {
					sp = &SuperPatch{Cell: cell, Box: box, Owner: g.Owner(cell), Boundary: boundary}
					byCell[cell] = sp
				}
				sp.Regions = append(sp.Regions, Region{Source: ref, Box: inter})
			}
		}
	}

	supers := make([]*SuperPatch, 0, len(byCell))
	for _, sp := range byCell {
		supers = append(supers, sp)
	}
	slices.SortFunc(supers, func(x, y *SuperPatch) int { return x.Cell - y.Cell })

	return supers
}

// tag identifies the message carrying patch index's region of cell.
func (p *Plan) tag(cell, index int) int {
	return cell*max(p.Arena.MaxCount(), 1) + index
}
