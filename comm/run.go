package comm

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/arloliu/idxio/errs"
)

// RankFunc is the body of one rank.
type RankFunc func(ctx context.Context, c *Comm) error

// Run starts n ranks, each calling fn with its world communicator, and waits
// for all of them.
//
// The first rank to fail aborts the world; the ranks blocked in a
// communication call then fail with errs.ErrAborted. Run returns the error
// of the rank that failed first.
//
// Parameters:
//   - ctx: Parent context of every rank
//   - n: Number of ranks, at least 1
//   - fn: Rank body
//
// Returns:
//   - error: First rank failure, or nil when every rank succeeded
func Run(ctx context.Context, n int, fn RankFunc) error {
	if n < 1 {
		return fmt.Errorf("%w: %d ranks", errs.ErrInvalidRank, n)
	}

	w := NewWorld(n)
	g, gctx := errgroup.WithContext(ctx)
	for rank := range n {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%w: rank %d panicked: %v", errs.ErrComm, rank, r)
				}
				if err != nil {
					w.Abort(fmt.Errorf("rank %d: %w", rank, err))
				}
			}()

			return fn(gctx, w.Comm(rank))
		})
	}

	err := g.Wait()
	if cause := w.Cause(); cause != nil {
		return cause
	}

	return err
}
