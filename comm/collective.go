package comm

import (
	"context"
	"fmt"
	"slices"

	"github.com/arloliu/idxio/endian"
	"github.com/arloliu/idxio/errs"
)

var wire = endian.GetBigEndianEngine()

func (c *Comm) aborted() error {
	select {
	case <-c.world.done:
		return c.world.abortErr()
	default:
		return nil
	}
}

// Allgather sends data to every rank and returns every rank's contribution,
// indexed by rank. The caller's own slot is a copy of data.
func (c *Comm) Allgather(ctx context.Context, data []byte) ([][]byte, error) {
	return c.allgatherTag(ctx, tagAllgather, data)
}

// Alltoallv sends send[i] to rank i and returns the payloads received from
// every rank, indexed by source.
//
// Returns:
//   - [][]byte: Received payloads
//   - error: errs.ErrSizeMismatch if len(send) is not the communicator size
func (c *Comm) Alltoallv(ctx context.Context, send [][]byte) ([][]byte, error) {
	if len(send) != len(c.ranks) {
		return nil, fmt.Errorf("%w: alltoallv with %d buffers on %d ranks", errs.ErrSizeMismatch, len(send), len(c.ranks))
	}
	if err := c.aborted(); err != nil {
		return nil, err
	}

	for dst, data := range send {
		if dst != c.rank {
			c.post(dst, tagAlltoallv, data)
		}
	}

	out := make([][]byte, len(c.ranks))
	for src := range c.ranks {
		if src == c.rank {
			out[src] = slices.Clone(send[src])
			continue
		}

		msg, err := c.take(ctx, src, tagAlltoallv)
		if err != nil {
			return nil, err
		}
		out[src] = msg
	}

	return out, nil
}

// Barrier blocks until every rank of the communicator has entered it.
func (c *Comm) Barrier(ctx context.Context) error {
	_, err := c.Allgather(ctx, nil)
	return err
}

// Split partitions the communicator. Ranks passing the same color join one
// new communicator, ordered by key and then by their rank in c. Ranks
// passing Undefined get a nil Comm.
func (c *Comm) Split(ctx context.Context, color, key int) (*Comm, error) {
	msg := wire.AppendUint64(nil, uint64(int64(color)))
	msg = wire.AppendUint64(msg, uint64(int64(key)))

	all, err := c.allgatherTag(ctx, tagSplit, msg)
	if err != nil {
		return nil, err
	}

	seq := c.splitSeq
	c.splitSeq++
	if color == Undefined {
		return nil, nil
	}

	type member struct{ rank, key int }
	var members []member
	for r, m := range all {
		if len(m) != 16 {
			return nil, fmt.Errorf("%w: split payload of %d bytes", errs.ErrSizeMismatch, len(m))
		}
		if int(int64(wire.Uint64(m))) == color {
			members = append(members, member{rank: r, key: int(int64(wire.Uint64(m[8:])))})
		}
	}
	slices.SortStableFunc(members, func(a, b member) int {
		if a.key != b.key {
			return a.key - b.key
		}

		return a.rank - b.rank
	})

	sub := &Comm{
		world: c.world,
		id:    c.world.allocID(splitKey{parent: c.id, seq: seq, color: color}),
		ranks: make([]int, len(members)),
	}
	for i, m := range members {
		sub.ranks[i] = c.ranks[m.rank]
		if m.rank == c.rank {
			sub.rank = i
		}
	}

	return sub, nil
}

func (c *Comm) allgatherTag(ctx context.Context, tag int, data []byte) ([][]byte, error) {
	if err := c.aborted(); err != nil {
		return nil, err
	}

	for dst := range c.ranks {
		if dst != c.rank {
			c.post(dst, tag, data)
		}
	}

	out := make([][]byte, len(c.ranks))
	for src := range c.ranks {
		if src == c.rank {
			out[src] = append([]byte{}, data...)
			continue
		}

		msg, err := c.take(ctx, src, tag)
		if err != nil {
			return nil, err
		}
		out[src] = msg
	}

	return out, nil
}
