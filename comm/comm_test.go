package comm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/idxio/errs"
)

func TestSendRecvOrder(t *testing.T) {
	err := Run(context.Background(), 2, func(ctx context.Context, c *Comm) error {
		if c.Rank() == 0 {
			for i := range 5 {
				if err := c.Send(ctx, 1, 7, []byte{byte(i)}); err != nil {
					return err
				}
			}

			return c.Send(ctx, 1, 8, []byte("other tag"))
		}

		other, err := c.Recv(ctx, 0, 8)
		if err != nil {
			return err
		}
		if string(other) != "other tag" {
			return fmt.Errorf("unexpected payload %q", other)
		}
		for i := range 5 {
			msg, err := c.Recv(ctx, 0, 7)
			if err != nil {
				return err
			}
			if msg[0] != byte(i) {
				return fmt.Errorf("message %d arrived as %d", i, msg[0])
			}
		}

		return nil
	})
	require.NoError(t, err)
}

func TestSendCopiesBuffer(t *testing.T) {
	err := Run(context.Background(), 2, func(ctx context.Context, c *Comm) error {
		if c.Rank() == 0 {
			buf := []byte{1, 2, 3}
			req := c.Isend(ctx, 1, 0, buf)
			buf[0] = 9

			return c.WaitAll(ctx, req)
		}

		req := c.Irecv(0, 0)
		if err := c.WaitAll(ctx, req); err != nil {
			return err
		}
		if req.Data[0] != 1 {
			return fmt.Errorf("sender buffer was shared: %v", req.Data)
		}

		return nil
	})
	require.NoError(t, err)
}

func TestCollectives(t *testing.T) {
	const n = 5
	var mu sync.Mutex
	gathered := make([][][]byte, n)
	exchanged := make([][][]byte, n)
	maxes := make([]uint64, n)
	sums := make([]uint64, n)

	err := Run(context.Background(), n, func(ctx context.Context, c *Comm) error {
		all, err := c.Allgather(ctx, []byte{byte(c.Rank() * 10)})
		if err != nil {
			return err
		}

		send := make([][]byte, c.Size())
		for dst := range send {
			send[dst] = []byte{byte(c.Rank()), byte(dst)}
		}
		recv, err := c.Alltoallv(ctx, send)
		if err != nil {
			return err
		}

		if err := c.Barrier(ctx); err != nil {
			return err
		}

		mx, err := AllreduceUint64(ctx, c, uint64(c.Rank()*3), OpMax)
		if err != nil {
			return err
		}
		sum, err := AllreduceUint64(ctx, c, uint64(c.Rank()), OpSum)
		if err != nil {
			return err
		}

		mu.Lock()
		gathered[c.Rank()] = all
		exchanged[c.Rank()] = recv
		maxes[c.Rank()] = mx
		sums[c.Rank()] = sum
		mu.Unlock()

		return nil
	})
	require.NoError(t, err)

	for r := range n {
		for src := range n {
			require.Equal(t, []byte{byte(src * 10)}, gathered[r][src])
			require.Equal(t, []byte{byte(src), byte(r)}, exchanged[r][src])
		}
		require.Equal(t, uint64(12), maxes[r])
		require.Equal(t, uint64(10), sums[r])
	}
}

func TestSplit(t *testing.T) {
	const n = 6
	type view struct{ rank, size, sum int }
	var mu sync.Mutex
	views := make([]view, n)

	err := Run(context.Background(), n, func(ctx context.Context, c *Comm) error {
		color := c.Rank() % 2
		if c.Rank() == 5 {
			color = Undefined
		}

		// reverse the order inside each color
		sub, err := c.Split(ctx, color, -c.Rank())
		if err != nil {
			return err
		}
		if sub == nil {
			mu.Lock()
			views[c.Rank()] = view{rank: -1}
			mu.Unlock()

			return nil
		}

		sum, err := AllreduceUint64(ctx, sub, uint64(c.Rank()), OpSum)
		if err != nil {
			return err
		}

		mu.Lock()
		views[c.Rank()] = view{rank: sub.Rank(), size: sub.Size(), sum: int(sum)}
		mu.Unlock()

		return nil
	})
	require.NoError(t, err)

	require.Equal(t, view{rank: 2, size: 3, sum: 6}, views[0])
	require.Equal(t, view{rank: 1, size: 2, sum: 4}, views[1])
	require.Equal(t, view{rank: 1, size: 3, sum: 6}, views[2])
	require.Equal(t, view{rank: 0, size: 2, sum: 4}, views[3])
	require.Equal(t, view{rank: 0, size: 3, sum: 6}, views[4])
	require.Equal(t, view{rank: -1}, views[5])
}

func TestRunAbortsOnFailure(t *testing.T) {
	boom := errors.New("boom")
	var mu sync.Mutex
	var blocked []error

	err := Run(context.Background(), 4, func(ctx context.Context, c *Comm) error {
		if c.Rank() == 2 {
			return fmt.Errorf("%w: %w", errs.ErrIO, boom)
		}

		// never satisfied: rank 2 does not take part
		_, err := c.Allgather(ctx, nil)
		mu.Lock()
		blocked = append(blocked, err)
		mu.Unlock()

		return err
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, errs.CodeIO, errs.CodeOf(err))
	require.Len(t, blocked, 3)
	for _, e := range blocked {
		require.Error(t, e)
	}
}

func TestRunRecoversPanic(t *testing.T) {
	err := Run(context.Background(), 2, func(ctx context.Context, c *Comm) error {
		if c.Rank() == 1 {
			panic("bad rank")
		}
		_, err := c.Recv(ctx, 1, 0)

		return err
	})
	require.ErrorIs(t, err, errs.ErrComm)
}

func TestInvalidArguments(t *testing.T) {
	require.ErrorIs(t, Run(context.Background(), 0, nil), errs.ErrInvalidRank)

	err := Run(context.Background(), 2, func(ctx context.Context, c *Comm) error {
		if err := c.Send(ctx, 2, 0, nil); !errors.Is(err, errs.ErrInvalidRank) {
			return fmt.Errorf("expected invalid rank, got %w", err)
		}
		if err := c.Send(ctx, 0, -1, nil); !errors.Is(err, errs.ErrInvalidOption) {
			return fmt.Errorf("expected invalid tag, got %w", err)
		}
		_, err := c.Alltoallv(ctx, make([][]byte, 3))
		if !errors.Is(err, errs.ErrSizeMismatch) {
			return fmt.Errorf("expected size mismatch, got %w", err)
		}

		return nil
	})
	require.NoError(t, err)
}
