// Package comm provides the message-passing communicator the engine runs on.
//
// A World is a fixed set of ranks, each a goroutine started by Run. Ranks
// talk through a Comm: point-to-point Send/Recv, their non-blocking forms
// completed by WaitAll, and collectives (Allgather, Alltoallv, Barrier,
// Split). Every rank of a Comm must call the collectives in the same order.
//
// Execution is fail-stop: when any rank's function returns an error the
// World is aborted and every blocked call on every rank returns
// errs.ErrAborted.
package comm

import (
	"context"
	"fmt"
	"sync"

	"github.com/arloliu/idxio/errs"
)

// Undefined is the Split color of ranks that join no new communicator.
const Undefined = -1

// reserved tags of the collectives; user tags must be >= 0.
const (
	tagAllgather = -1 - iota
	tagAlltoallv
	tagSplit
)

// World is the set of ranks of one job.
type World struct {
	size    int
	boxes   []*mailbox
	done    chan struct{}
	once    sync.Once
	cause   error
	mu      sync.Mutex
	nextID  uint64
	splitID map[splitKey]uint64
}

type splitKey struct {
	parent uint64
	seq    uint64
	color  int
}

// NewWorld creates a world of n ranks. Most callers use Run instead.
func NewWorld(n int) *World {
	w := &World{
		size:    n,
		boxes:   make([]*mailbox, n),
		done:    make(chan struct{}),
		nextID:  1,
		splitID: make(map[splitKey]uint64),
	}
	for i := range w.boxes {
		w.boxes[i] = newMailbox()
	}

	return w
}

// Size returns the number of ranks.
func (w *World) Size() int {
	return w.size
}

// Comm returns the world communicator of rank.
func (w *World) Comm(rank int) *Comm {
	ranks := make([]int, w.size)
	for i := range ranks {
		ranks[i] = i
	}

	return &Comm{world: w, id: 0, rank: rank, ranks: ranks}
}

// Abort aborts the world with cause. Only the first cause is kept.
func (w *World) Abort(cause error) {
	w.once.Do(func() {
		w.mu.Lock()
		w.cause = cause
		w.mu.Unlock()
		close(w.done)
	})
}

// Cause returns the error the world was aborted with, or nil.
func (w *World) Cause() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.cause
}

func (w *World) abortErr() error {
	return fmt.Errorf("%w: %v", errs.ErrAborted, w.Cause())
}

func (w *World) allocID(k splitKey) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	id, ok := w.splitID[k]
	if !ok {
		id = w.nextID
		w.nextID++
		w.splitID[k] = id
	}

	return id
}

// Comm is one rank's view of a communicator. A Comm is used by a single
// goroutine.
type Comm struct {
	world    *World
	id       uint64
	rank     int
	ranks    []int // communicator rank -> world rank
	splitSeq uint64
}

// Rank returns the rank of the caller in the communicator.
func (c *Comm) Rank() int {
	return c.rank
}

// Size returns the number of ranks in the communicator.
func (c *Comm) Size() int {
	return len(c.ranks)
}

// WorldRank returns the world rank of communicator rank r.
func (c *Comm) WorldRank(r int) int {
	return c.ranks[r]
}

func (c *Comm) checkRank(r int) error {
	if r < 0 || r >= len(c.ranks) {
		return fmt.Errorf("%w: %d not in [0, %d)", errs.ErrInvalidRank, r, len(c.ranks))
	}

	return nil
}

func (c *Comm) post(dst, tag int, data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)
	c.world.boxes[c.ranks[dst]].push(msgKey{comm: c.id, src: c.rank, tag: tag}, buf)
}

func (c *Comm) take(ctx context.Context, src, tag int) ([]byte, error) {
	return c.world.boxes[c.ranks[c.rank]].pop(ctx, c.world, msgKey{comm: c.id, src: src, tag: tag})
}

// Send delivers a copy of data to rank dst. It never blocks on the receiver.
//
// Returns:
//   - error: errs.ErrInvalidRank for a bad rank, errs.ErrInvalidOption for a
//     negative tag, errs.ErrAborted if the world was aborted
func (c *Comm) Send(_ context.Context, dst, tag int, data []byte) error {
	if err := c.checkRank(dst); err != nil {
		return err
	}
	if tag < 0 {
		return fmt.Errorf("%w: negative tag %d", errs.ErrInvalidOption, tag)
	}

	select {
	case <-c.world.done:
		return c.world.abortErr()
	default:
	}
	c.post(dst, tag, data)

	return nil
}

// Recv blocks until a message from src with tag arrives.
func (c *Comm) Recv(ctx context.Context, src, tag int) ([]byte, error) {
	if err := c.checkRank(src); err != nil {
		return nil, err
	}

	return c.take(ctx, src, tag)
}

// Request is a pending non-blocking operation. Data holds the received
// payload after WaitAll returns.
type Request struct {
	recv bool
	done bool
	peer int
	tag  int
	err  error
	Data []byte
}

// Isend starts a send. The data is copied before Isend returns.
func (c *Comm) Isend(ctx context.Context, dst, tag int, data []byte) *Request {
	return &Request{peer: dst, tag: tag, err: c.Send(ctx, dst, tag, data)}
}

// Irecv starts a receive from src with tag, completed by WaitAll.
func (c *Comm) Irecv(src, tag int) *Request {
	r := &Request{recv: true, peer: src, tag: tag}
	if err := c.checkRank(src); err != nil {
		r.err = err
	}

	return r
}

// WaitAll completes every request, in any order, and returns the first
// failure.
func (c *Comm) WaitAll(ctx context.Context, reqs ...*Request) error {
	for _, r := range reqs {
		if r.err != nil {
			return r.err
		}
		if !r.recv || r.done {
			continue
		}

		data, err := c.take(ctx, r.peer, r.tag)
		if err != nil {
			return err
		}
		r.Data = data
		r.done = true
	}

	return nil
}
