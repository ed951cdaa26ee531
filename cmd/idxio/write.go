package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arloliu/idxio"
	"github.com/arloliu/idxio/comm"
	"github.com/arloliu/idxio/errs"
	"github.com/arloliu/idxio/internal/synth"
	"github.com/arloliu/idxio/metadata"
)

type datasetFlags struct {
	path   string
	config string
	ranks  int
}

func (d *datasetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&d.path, "path", "", "path of the .idx metadata file")
	cmd.Flags().StringVar(&d.config, "config", "", "optional YAML file of dataset options")
	cmd.Flags().IntVar(&d.ranks, "ranks", 4, "number of ranks")
	_ = cmd.MarkFlagRequired("path")
}

// options loads the config file, if any, and adds a rank logger.
func (d *datasetFlags) options(logger *zap.Logger, rank int) ([]idxio.Option, error) {
	var opts []idxio.Option
	if d.config != "" {
		cfg, err := idxio.LoadConfig(d.config)
		if err != nil {
			return nil, err
		}
		if opts, err = cfg.Options(); err != nil {
			return nil, err
		}
	}

	return append(opts, idxio.WithLogger(logger.With(zap.Int("rank", rank)))), nil
}

type writeCommand struct {
	env     *environment
	dataset datasetFlags
	dims    []uint
	vars    string
	fields  string
	steps   int
}

func newWriteCommand(env *environment) *cobra.Command {
	w := &writeCommand{env: env}
	cmd := &cobra.Command{
		Use:   "write",
		Short: "Write a generated grid dataset",
		Long: `Write a generated grid dataset. Every rank owns one box of a
regular decomposition of the domain and fills it with values derived from
the global sample index, so "idxio read" can verify them.`,
		Args: cobra.NoArgs,
		RunE: w.run,
	}
	w.dataset.register(cmd)
	cmd.Flags().UintSliceVar(&w.dims, "dims", []uint{64, 64, 64}, "domain extents")
	cmd.Flags().StringVar(&w.vars, "vars", "scalar", "variable set: scalar or mixed")
	cmd.Flags().StringVar(&w.fields, "fields", "", "file with a (fields) variable list, overrides --vars")
	cmd.Flags().IntVar(&w.steps, "steps", 1, "number of consecutive time steps")

	return cmd
}

func (w *writeCommand) variables() ([]idxio.Variable, error) {
	if w.fields != "" {
		f, err := os.Open(w.fields)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errs.ErrIO, err)
		}
		defer f.Close()

		return metadata.ParseVariableList(f)
	}

	switch w.vars {
	case "scalar":
		return synth.Scalar, nil
	case "mixed":
		return synth.Mixed, nil
	default:
		return nil, fmt.Errorf("%w: variable set %q", errs.ErrInvalidOption, w.vars)
	}
}

func (w *writeCommand) run(cmd *cobra.Command, _ []string) error {
	bounds, err := dimsPoint(w.dims)
	if err != nil {
		return err
	}
	vars, err := w.variables()
	if err != nil {
		return err
	}
	if w.dataset.ranks < 1 || w.steps < 1 {
		return fmt.Errorf("%w: ranks and steps must be positive", errs.ErrInvalidOption)
	}

	boxes := synth.Decompose(bounds, w.dataset.ranks)
	logger := w.env.logger
	start := time.Now()

	err = comm.Run(cmd.Context(), w.dataset.ranks, func(ctx context.Context, c *comm.Comm) error {
		opts, err := w.dataset.options(logger, c.Rank())
		if err != nil {
			return err
		}
		f, err := idxio.Create(c, w.dataset.path, bounds, vars, opts...)
		if err != nil {
			return err
		}
		patch := synth.Fill(boxes[c.Rank()], bounds, vars)

		for i := range w.steps {
			if i > 0 {
				if err := f.SetTimeStep(f.TimeStep() + 1); err != nil {
					return err
				}
			}
			if err := f.Write(ctx, []idxio.Patch{patch}); err != nil {
				return err
			}
		}

		return f.Close(ctx)
	})
	if err != nil {
		return err
	}

	var bytes uint64
	for _, v := range vars {
		bytes += bounds.Volume() * uint64(v.Type.BytesPerSample())
	}
	elapsed := time.Since(start)
	logger.Info("Dataset written",
		zap.String("path", w.dataset.path),
		zap.Stringer("bounds", bounds),
		zap.Int("ranks", w.dataset.ranks),
		zap.Int("steps", w.steps),
		zap.Uint64("bytes_per_step", bytes),
		zap.Duration("elapsed", elapsed),
		zap.Float64("mib_per_sec", float64(bytes)*float64(w.steps)/(1<<20)/elapsed.Seconds()))

	return nil
}
