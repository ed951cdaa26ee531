// Package raw stores row-major patches without HZ ordering.
//
// Every patch is written to its own file "<rank>_<index>" in the time step
// directory, holding the variables one after the other. Rank 0 also writes
// the patch table (fileio.PatchTable) listing the box and byte size of
// every patch of every rank. A read consults only the table, so a dataset
// written by P ranks can be read back by any number of ranks with any
// patch decomposition.
package raw

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/arloliu/idxio/comm"
	"github.com/arloliu/idxio/errs"
	"github.com/arloliu/idxio/fileio"
	"github.com/arloliu/idxio/geom"
)

// patchBytes returns the stored size of a patch over box.
func patchBytes(box geom.Box, sampleBytes []int) uint64 {
	n := uint64(0)
	for _, sb := range sampleBytes {
		n += box.Volume() * uint64(sb)
	}

	return n
}

func checkBuffers(boxes []geom.Box, sampleBytes []int, data [][][]byte) error {
	if len(data) != len(boxes) {
		return fmt.Errorf("%w: %d buffers for %d patches", errs.ErrPatchBuffer, len(data), len(boxes))
	}
	for i, b := range boxes {
		if len(data[i]) != len(sampleBytes) {
			return fmt.Errorf("%w: patch %d has %d variables, want %d", errs.ErrPatchBuffer, i, len(data[i]), len(sampleBytes))
		}
		for v, sb := range sampleBytes {
			if want := b.Volume() * uint64(sb); uint64(len(data[i][v])) != want {
				return fmt.Errorf("%w: patch %d variable %d has %d bytes, want %d", errs.ErrPatchBuffer, i, v, len(data[i][v]), want)
			}
		}
	}

	return nil
}

// Write stores the patches of the calling rank and the patch table of time
// step t. It is collective: every rank of c must call it, with or without
// patches.
//
// Parameters:
//   - ctx: Context of the collective calls
//   - c: Communicator of every writing rank
//   - paths: Location of the dataset
//   - t: Time step
//   - boxes: Extents of the local patches, usually the owned super-patches
//   - sampleBytes: Bytes per sample of every variable
//   - data: Row-major buffers, indexed [patch][variable]
//   - logger: Debug logger; nil disables logging
//
// Returns:
//   - error: errs.ErrPatchBuffer for mis-sized buffers, I/O or communication
//     errors
func Write(ctx context.Context, c *comm.Comm, paths fileio.Paths, t int, boxes []geom.Box, sampleBytes []int, data [][][]byte, logger *zap.Logger) (err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := checkBuffers(boxes, sampleBytes, data); err != nil {
		return err
	}

	start := time.Now()
	files := fileio.NewFiles(true)
	defer func() {
		err = multierr.Append(err, files.Close())
	}()

	entries := make([]fileio.PatchEntry, len(boxes))
	for i, box := range boxes {
		f, err := files.Get(paths.PatchFile(t, c.Rank(), i))
		if err != nil {
			return err
		}

		off := int64(0)
		for v := range sampleBytes {
			if err := fileio.WriteFull(f, data[i][v], off); err != nil {
				return err
			}
			off += int64(len(data[i][v]))
		}
		entries[i] = fileio.PatchEntry{Offset: box.Offset, Size: box.Size, Count: uint64(off)}
	}

	all, err := comm.AllgatherUint64s(ctx, c, fileio.FlattenEntries(entries))
	if err != nil {
		return err
	}
	if c.Rank() == 0 {
		table := make(fileio.PatchTable, len(all))
		for r, words := range all {
			if table[r], err = fileio.UnflattenEntries(words); err != nil {
				return err
			}
		}
		if err := fileio.WritePatchTable(paths.SideFile(t), table); err != nil {
			return err
		}
	}
	if err := c.Barrier(ctx); err != nil {
		return err
	}

	logger.Debug("raw write",
		zap.Int("rank", c.Rank()),
		zap.Int("patches", len(boxes)),
		zap.Duration("elapsed", time.Since(start)))

	return nil
}

// ReadTable reads the patch table of time step t on rank 0 and shares it
// with every rank of c.
func ReadTable(ctx context.Context, c *comm.Comm, paths fileio.Paths, t int) (fileio.PatchTable, error) {
	var data []byte
	if c.Rank() == 0 {
		table, err := fileio.ReadPatchTable(paths.SideFile(t))
		if err != nil {
			return nil, err
		}
		data = table.Bytes()
	}

	all, err := c.Allgather(ctx, data)
	if err != nil {
		return nil, err
	}

	return fileio.ParsePatchTable(all[0])
}

// Read fills the local patches from the stored patches of time step t. It
// is collective. Samples of a local patch that no stored patch covers are
// left untouched.
//
// Parameters:
//   - ctx: Context of the collective calls
//   - c: Communicator of every reading rank; its size need not match the
//     writer's
//   - paths: Location of the dataset
//   - t: Time step
//   - boxes: Extents of the local patches
//   - sampleBytes: Bytes per sample of every variable
//   - data: Destination row-major buffers, indexed [patch][variable]
//   - logger: Debug logger; nil disables logging
//
// Returns:
//   - error: errs.ErrPatchBuffer for mis-sized buffers or a table written
//     with other variables, I/O or communication errors
func Read(ctx context.Context, c *comm.Comm, paths fileio.Paths, t int, boxes []geom.Box, sampleBytes []int, data [][][]byte, logger *zap.Logger) (err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := checkBuffers(boxes, sampleBytes, data); err != nil {
		return err
	}

	start := time.Now()
	table, err := ReadTable(ctx, c, paths, t)
	if err != nil {
		return err
	}

	files := fileio.NewFiles(false)
	defer func() {
		err = multierr.Append(err, files.Close())
	}()

	reads := 0
	for r, list := range table {
		for j, e := range list {
			stored := geom.NewBox(e.Offset, e.Size)
			if want := patchBytes(stored, sampleBytes); e.Count != want {
				return fmt.Errorf("%w: stored patch %d_%d has %d bytes, want %d", errs.ErrPatchBuffer, r, j, e.Count, want)
			}

			for i, box := range boxes {
				inter, ok := box.Intersect(stored)
				if !ok {
					continue
				}
				f, err := files.Get(paths.PatchFile(t, r, j))
				if err != nil {
					return err
				}
				if err := readRegion(f, stored, box, inter, sampleBytes, data[i]); err != nil {
					return fmt.Errorf("patch %d_%d: %w", r, j, err)
				}
				reads++
			}
		}
	}

	logger.Debug("raw read",
		zap.Int("rank", c.Rank()),
		zap.Int("writers", len(table)),
		zap.Int("regions", reads),
		zap.Duration("elapsed", time.Since(start)))

	return nil
}

// readRegion reads the rows of region from a stored patch file straight
// into the destination buffers.
func readRegion(f io.ReaderAt, stored, dst, region geom.Box, sampleBytes []int, bufs [][]byte) error {
	base := uint64(0)
	for v, sb := range sampleBytes {
		rowBytes := region.Size[0] * uint64(sb)

		var rerr error
		geom.ForEachRow(region, func(p geom.Point) {
			if rerr != nil {
				return
			}
			d := dst.Index(p) * uint64(sb)
			s := base + stored.Index(p)*uint64(sb)
			rerr = fileio.ReadFull(f, bufs[v][d:d+rowBytes], int64(s))
		})
		if rerr != nil {
			return rerr
		}
		base += stored.Volume() * uint64(sb)
	}

	return nil
}
