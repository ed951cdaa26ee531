// Command idxio writes, reads and inspects IDX datasets. Ranks run as
// goroutines of one process.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/arloliu/idxio/errs"
	"github.com/arloliu/idxio/geom"
	"github.com/arloliu/idxio/internal/logging"
)

func main() {
	env := &environment{logger: logging.New(os.Stderr, zapcore.InfoLevel)}
	if err := newCommand(env).ExecuteContext(context.Background()); err != nil {
		env.logger.Error("Command failed", zap.Stringer("code", errs.CodeOf(err)), zap.Error(err))
		os.Exit(1)
	}
}

// environment is shared by every sub-command.
type environment struct {
	logLevel string
	logger   *zap.Logger
}

func newCommand(env *environment) *cobra.Command {
	base := &cobra.Command{
		Use:           "idxio",
		Short:         "Parallel IDX dataset tool",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, err := logging.ParseLevel(env.logLevel)
			if err != nil {
				return err
			}
			env.logger = logging.New(cmd.ErrOrStderr(), level)

			return nil
		},
	}
	base.PersistentFlags().StringVar(&env.logLevel, "log-level", "info", "log level: debug, info, warn or error")

	subCommands := []*cobra.Command{
		newWriteCommand(env),
		newReadCommand(env),
		newInfoCommand(env),
	}
	base.AddCommand(subCommands...)

	return base
}

// dimsPoint converts a --dims flag into an extent.
func dimsPoint(dims []uint) (geom.Point, error) {
	if len(dims) == 0 || len(dims) > geom.MaxDims {
		return geom.Point{}, fmt.Errorf("%w: %d dims", errs.ErrInvalidOption, len(dims))
	}
	out := make([]uint64, len(dims))
	for i, d := range dims {
		if d == 0 {
			return geom.Point{}, fmt.Errorf("%w: zero extent in dims", errs.ErrInvalidOption)
		}
		out[i] = uint64(d)
	}

	return geom.Extent(out...), nil
}
