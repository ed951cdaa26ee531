package main

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arloliu/idxio/errs"
	"github.com/arloliu/idxio/fileio"
	"github.com/arloliu/idxio/metadata"
)

func newInfoCommand(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "info <path.idx>",
		Short: "Print the metadata and file statistics of a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := metadata.ReadFile(args[0])
			if err != nil {
				return err
			}
			stats, err := scanDataset(args[0])
			if err != nil {
				return err
			}
			env.logger.Debug("Scanned dataset", zap.String("path", args[0]))

			return printInfo(cmd.OutOrStdout(), meta, stats)
		},
	}
}

// stepStats sums the files of one time step.
type stepStats struct {
	dir   string
	files int
	bytes int64
}

// scanDataset walks the data directories of the dataset and its partitions
// and groups the files by time step directory.
func scanDataset(path string) ([]stepStats, error) {
	paths := fileio.NewPaths(path, "", 0)
	roots, err := filepath.Glob(filepath.Join(paths.Dir, paths.Base+"*"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrIO, err)
	}

	byStep := make(map[string]*stepStats)
	for _, root := range roots {
		if fi, err := os.Stat(root); err != nil || !fi.IsDir() {
			continue
		}
		err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			step := timeDirOf(root, p)
			if step == "" {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			s, ok := byStep[step]
			if !ok {
				s = &stepStats{dir: step}
				byStep[step] = s
			}
			s.files++
			s.bytes += fi.Size()

			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errs.ErrIO, err)
		}
	}

	out := make([]stepStats, 0, len(byStep))
	for _, s := range byStep {
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b stepStats) int {
		return strings.Compare(a.dir, b.dir)
	})

	return out, nil
}

// timeDirOf returns the time step directory of a file below root.
func timeDirOf(root, p string) string {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return ""
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, "time") {
			return part
		}
	}

	return ""
}

func printInfo(w io.Writer, m *metadata.Metadata, stats []stepStats) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	row := func(key string, val any) {
		fmt.Fprintf(tw, "%s\t%v\n", key, val)
	}

	row("version", m.Version)
	row("mode", m.Mode)
	row("bounds", m.Bounds)
	row("bits", m.Bits)
	row("bits per block", m.BitsPerBlock)
	row("blocks per file", m.BlocksPerFile)
	row("compression", m.Compression)
	row("bit rate", m.BitRate)
	row("chunk size", m.ChunkSize)
	row("endian", m.Endian)
	if m.Mode.IsPartitioned() {
		row("partitions", m.PartitionCount)
	}
	row("time", fmt.Sprintf("%d..%d", m.FirstTime, m.LastTime))
	for _, v := range m.Fields {
		row("field "+v.Name, v.Type)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tFILES\tBYTES")
	for _, s := range stats {
		fmt.Fprintf(tw, "%s\t%d\t%d\n", s.dir, s.files, s.bytes)
	}

	return tw.Flush()
}
