package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arloliu/idxio"
	"github.com/arloliu/idxio/comm"
	"github.com/arloliu/idxio/errs"
	"github.com/arloliu/idxio/internal/synth"
)

type readCommand struct {
	env      *environment
	dataset  datasetFlags
	verify   bool
	allSteps bool
}

func newReadCommand(env *environment) *cobra.Command {
	r := &readCommand{env: env}
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read a grid dataset and verify generated values",
		Long: `Read a grid dataset with a regular decomposition over the given
number of ranks. With --verify, every sample is compared with the values
"idxio write" generates; disable it for other datasets or for reads below
full resolution.`,
		Args: cobra.NoArgs,
		RunE: r.run,
	}
	r.dataset.register(cmd)
	cmd.Flags().BoolVar(&r.verify, "verify", true, "compare samples with generated values")
	cmd.Flags().BoolVar(&r.allSteps, "all-steps", false, "read every stored time step")

	return cmd
}

func (r *readCommand) run(cmd *cobra.Command, _ []string) error {
	if r.dataset.ranks < 1 {
		return fmt.Errorf("%w: ranks must be positive", errs.ErrInvalidOption)
	}

	logger := r.env.logger
	var (
		mu    sync.Mutex
		total synth.Result
		steps int
	)
	start := time.Now()

	err := comm.Run(cmd.Context(), r.dataset.ranks, func(ctx context.Context, c *comm.Comm) error {
		opts, err := r.dataset.options(logger, c.Rank())
		if err != nil {
			return err
		}
		f, err := idxio.Open(ctx, c, r.dataset.path, opts...)
		if err != nil {
			return err
		}
		meta := f.Metadata()
		box := synth.Decompose(meta.Bounds, c.Size())[c.Rank()]

		first, last := f.TimeStep(), f.TimeStep()
		if r.allSteps {
			first, last = meta.FirstTime, meta.LastTime
		}

		var local synth.Result
		for t := first; t <= last; t++ {
			if err := f.SetTimeStep(t); err != nil {
				return err
			}
			patch := idxio.NewPatch(box, meta.Fields)
			if err := f.Read(ctx, []idxio.Patch{patch}); err != nil {
				return err
			}
			if r.verify {
				local.Add(synth.Verify(patch, meta.Bounds, meta.Fields))
			}
		}

		mu.Lock()
		total.Add(local)
		steps = last - first + 1
		mu.Unlock()

		return f.Close(ctx)
	})
	if err != nil {
		return err
	}

	logger.Info("Dataset read",
		zap.String("path", r.dataset.path),
		zap.Int("ranks", r.dataset.ranks),
		zap.Int("steps", steps),
		zap.Uint64("compared", total.Compared),
		zap.Uint64("mismatched", total.Mismatched),
		zap.Duration("elapsed", time.Since(start)))
	if total.Mismatched > 0 {
		return fmt.Errorf("%w: %d of %d samples differ", errs.ErrIO, total.Mismatched, total.Compared)
	}

	return nil
}
