package comm

import (
	"context"
	"fmt"

	"github.com/arloliu/idxio/errs"
	"github.com/arloliu/idxio/internal/pool"
)

// Op is a reduction operator for AllreduceUint64.
type Op uint8

const (
	OpMax Op = iota
	OpMin
	OpSum
	OpOr
)

func (op Op) apply(a, b uint64) uint64 {
	switch op {
	case OpMin:
		return min(a, b)
	case OpSum:
		return a + b
	case OpOr:
		return a | b
	default:
		return max(a, b)
	}
}

// AllreduceUint64 reduces v over every rank of c with op and returns the
// result on every rank.
func AllreduceUint64(ctx context.Context, c *Comm, v uint64, op Op) (uint64, error) {
	all, err := AllgatherUint64s(ctx, c, []uint64{v})
	if err != nil {
		return 0, err
	}

	acc := all[0][0]
	for _, vals := range all[1:] {
		acc = op.apply(acc, vals[0])
	}

	return acc, nil
}

// AllgatherUint64s gathers a slice of integers from every rank, indexed by
// rank.
func AllgatherUint64s(ctx context.Context, c *Comm, vals []uint64) ([][]uint64, error) {
	bb := pool.GetMessageBuffer()
	defer pool.PutMessageBuffer(bb)
	for _, v := range vals {
		bb.B = wire.AppendUint64(bb.B, v)
	}

	raw, err := c.Allgather(ctx, bb.B)
	if err != nil {
		return nil, err
	}

	out := make([][]uint64, len(raw))
	for r, b := range raw {
		if len(b)%8 != 0 {
			return nil, fmt.Errorf("%w: %d bytes from rank %d", errs.ErrSizeMismatch, len(b), r)
		}
		out[r] = make([]uint64, len(b)/8)
		for i := range out[r] {
			out[r][i] = wire.Uint64(b[i*8:])
		}
	}

	return out, nil
}
