package restructure

import (
	"context"
	"fmt"

	"github.com/arloliu/idxio/comm"
	"github.com/arloliu/idxio/errs"
	"github.com/arloliu/idxio/geom"
)

// checkBuffers verifies that bufs[i][v] holds boxes[i] at sampleBytes[v].
func checkBuffers(what string, boxes []geom.Box, sampleBytes []int, bufs [][][]byte) error {
	if len(bufs) != len(boxes) {
		return fmt.Errorf("%w: %d %s buffers for %d boxes", errs.ErrPatchBuffer, len(bufs), what, len(boxes))
	}
	for i, b := range boxes {
		if len(bufs[i]) != len(sampleBytes) {
			return fmt.Errorf("%w: %s %d has %d variables, want %d", errs.ErrPatchBuffer, what, i, len(bufs[i]), len(sampleBytes))
		}
		for v, sb := range sampleBytes {
			if want := b.Volume() * uint64(sb); uint64(len(bufs[i][v])) != want {
				return fmt.Errorf("%w: %s %d variable %d has %d bytes, want %d", errs.ErrPatchBuffer, what, i, v, len(bufs[i][v]), want)
			}
		}
	}

	return nil
}

func (p *Plan) localBoxes() []geom.Box {
	boxes := make([]geom.Box, p.Arena.Count(p.Rank))
	for i := range boxes {
		boxes[i] = p.Arena.Box(PatchRef{Rank: p.Rank, Index: i})
	}

	return boxes
}

func packRegion(bufs [][]byte, bufBox, region geom.Box, sampleBytes []int) ([]byte, error) {
	size := uint64(0)
	for _, sb := range sampleBytes {
		size += region.Volume() * uint64(sb)
	}

	out := make([]byte, 0, size)
	for v, sb := range sampleBytes {
		packed, err := geom.Pack(bufs[v], bufBox, region, sb)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errs.ErrRestructure, err)
		}
		out = append(out, packed...)
	}

	return out, nil
}

func unpackRegion(bufs [][]byte, bufBox, region geom.Box, sampleBytes []int, payload []byte) error {
	off := uint64(0)
	for v, sb := range sampleBytes {
		n := region.Volume() * uint64(sb)
		if off+n > uint64(len(payload)) {
			return fmt.Errorf("%w: region %v payload of %d bytes", errs.ErrPatchBuffer, region, len(payload))
		}
		if err := geom.Unpack(bufs[v], bufBox, payload[off:off+n], region, sb); err != nil {
			return fmt.Errorf("%w: %w", errs.ErrRestructure, err)
		}
		off += n
	}
	if off != uint64(len(payload)) {
		return fmt.Errorf("%w: region %v payload of %d bytes, want %d", errs.ErrPatchBuffer, region, len(payload), off)
	}

	return nil
}

// Write assembles the owned super-patches from the local patches of every
// rank.
//
// The owner posts a receive for every remote region, every other rank
// packs the rows of its regions and sends them, and a single WaitAll
// completes the exchange. Local regions are copied directly.
//
// Parameters:
//   - ctx: Context of the exchange
//   - c: Communicator the plan was built on
//   - sampleBytes: Bytes per sample of every variable
//   - local: Row-major buffers of the local patches, indexed [patch][variable]
//
// Returns:
//   - [][][]byte: Buffers of the owned super-patches, indexed [owned][variable]
//   - error: errs.ErrPatchBuffer for mis-sized buffers, or communication errors
func (p *Plan) Write(ctx context.Context, c *comm.Comm, sampleBytes []int, local [][][]byte) ([][][]byte, error) {
	localBoxes := p.localBoxes()
	if err := checkBuffers("patch", localBoxes, sampleBytes, local); err != nil {
		return nil, err
	}

	out := make([][][]byte, len(p.Owned))
	type pending struct {
		req    *comm.Request
		owned  int
		region Region
	}
	var recvs []pending
	for o, sp := range p.Owned {
		out[o] = make([][]byte, len(sampleBytes))
		for v, sb := range sampleBytes {
			out[o][v] = make([]byte, sp.Box.Volume()*uint64(sb))
		}

		for _, r := range sp.Regions {
			if r.Source.Rank != p.Rank {
				recvs = append(recvs, pending{req: c.Irecv(r.Source.Rank, p.tag(sp.Cell, r.Source.Index)), owned: o, region: r})
				continue
			}
			src := localBoxes[r.Source.Index]
			for v, sb := range sampleBytes {
				if err := geom.CopyBox(out[o][v], sp.Box, local[r.Source.Index][v], src, r.Box, sb); err != nil {
					return nil, fmt.Errorf("%w: %w", errs.ErrRestructure, err)
				}
			}
		}
	}

	reqs := make([]*comm.Request, 0, len(recvs)+len(p.Transfers))
	for _, t := range p.Transfers {
		if t.Peer == p.Rank {
			continue
		}
		payload, err := packRegion(local[t.Patch], localBoxes[t.Patch], t.Box, sampleBytes)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, c.Isend(ctx, t.Peer, p.tag(t.Cell, t.Patch), payload))
	}
	for _, r := range recvs {
		reqs = append(reqs, r.req)
	}
	if err := c.WaitAll(ctx, reqs...); err != nil {
		return nil, err
	}

	for _, r := range recvs {
		sp := p.Owned[r.owned]
		if err := unpackRegion(out[r.owned], sp.Box, r.region.Box, sampleBytes, r.req.Data); err != nil {
			return nil, err
		}
	}

	return out, nil
}

// Read scatters the owned super-patches back into the local patches of
// every rank. It is the reverse of Write: owners send, patch holders
// receive.
//
// Parameters:
//   - ctx: Context of the exchange
//   - c: Communicator the plan was built on
//   - sampleBytes: Bytes per sample of every variable
//   - owned: Buffers of the owned super-patches, indexed [owned][variable]
//   - local: Destination buffers of the local patches, indexed [patch][variable]
func (p *Plan) Read(ctx context.Context, c *comm.Comm, sampleBytes []int, owned [][][]byte, local [][][]byte) error {
	localBoxes := p.localBoxes()
	if err := checkBuffers("patch", localBoxes, sampleBytes, local); err != nil {
		return err
	}
	ownedBoxes := make([]geom.Box, len(p.Owned))
	for o, sp := range p.Owned {
		ownedBoxes[o] = sp.Box
	}
	if err := checkBuffers("super-patch", ownedBoxes, sampleBytes, owned); err != nil {
		return err
	}

	var reqs []*comm.Request
	for o, sp := range p.Owned {
		for _, r := range sp.Regions {
			if r.Source.Rank == p.Rank {
				dst := localBoxes[r.Source.Index]
				for v, sb := range sampleBytes {
					if err := geom.CopyBox(local[r.Source.Index][v], dst, owned[o][v], sp.Box, r.Box, sb); err != nil {
						return fmt.Errorf("%w: %w", errs.ErrRestructure, err)
					}
				}

				continue
			}

			payload, err := packRegion(owned[o], sp.Box, r.Box, sampleBytes)
			if err != nil {
				return err
			}
			reqs = append(reqs, c.Isend(ctx, r.Source.Rank, p.tag(sp.Cell, r.Source.Index), payload))
		}
	}

	type pending struct {
		req *comm.Request
		t   Transfer
	}
	var recvs []pending
	for _, t := range p.Transfers {
		if t.Peer == p.Rank {
			continue
		}
		req := c.Irecv(t.Peer, p.tag(t.Cell, t.Patch))
		recvs = append(recvs, pending{req: req, t: t})
		reqs = append(reqs, req)
	}
	if err := c.WaitAll(ctx, reqs...); err != nil {
		return err
	}

	for _, r := range recvs {
		if err := unpackRegion(local[r.t.Patch], localBoxes[r.t.Patch], r.t.Box, sampleBytes, r.req.Data); err != nil {
			return err
		}
	}

	return nil
}
