package layout

import (
	"context"
	"fmt"

	"github.com/arloliu/idxio/comm"
	"github.com/arloliu/idxio/errs"
)

// Stats summarizes how the present blocks of a layout spread over files.
type Stats struct {
	BlocksPerFile int
	// FileCount is the number of files of the full dataset.
	FileCount int
	// BCPF is the number of present blocks of every file.
	BCPF []int
	// LBI is the last present block of every file, -1 for empty files.
	LBI []int64
	// Existing lists the files holding at least one present block.
	Existing []int
}

// Stats computes the per-file statistics for files of bpf blocks.
func (l *Layout) Stats(bpf int) Stats {
	total := l.TotalBlocks()
	n := int((total + uint64(bpf) - 1) / uint64(bpf))
	st := Stats{
		BlocksPerFile: bpf,
		FileCount:     n,
		BCPF:          make([]int, n),
		LBI:           make([]int64, n),
	}
	for f := range st.LBI {
		st.LBI[f] = -1
	}

	for _, b := range l.Blocks() {
		f := int(b / uint64(bpf))
		if f >= n {
			continue
		}
		st.BCPF[f]++
		st.LBI[f] = int64(b)
	}
	for f, c := range st.BCPF {
		if c > 0 {
			st.Existing = append(st.Existing, f)
		}
	}

	return st
}

// FileOf returns the file holding block b.
func (s Stats) FileOf(b uint64) int {
	return int(b / uint64(s.BlocksPerFile))
}

// Gather returns the union of the local layouts of every rank of c. Every
// rank gets an identical layout.
//
// Returns:
//   - *Layout: Global layout
//   - error: errs.ErrComm on communication or decoding failures
func Gather(ctx context.Context, c *comm.Comm, local *Layout) (*Layout, error) {
	data, err := local.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("%w: marshal layout: %w", errs.ErrComm, err)
	}

	all, err := c.Allgather(ctx, data)
	if err != nil {
		return nil, err
	}

	global := New(local.maxh, local.bpb)
	for _, raw := range all {
		part := New(local.maxh, local.bpb)
		if err := part.UnmarshalBinary(raw); err != nil {
			return nil, err
		}
		if err := global.Union(part); err != nil {
			return nil, err
		}
	}

	return global, nil
}
