package comm

import (
	"context"
	"sync"
)

type msgKey struct {
	comm uint64
	src  int
	tag  int
}

type queue struct {
	items  [][]byte
	notify chan struct{}
}

// mailbox holds the undelivered messages of one world rank. Messages with the
// same key are delivered in send order.
type mailbox struct {
	mu     sync.Mutex
	queues map[msgKey]*queue
}

func newMailbox() *mailbox {
	return &mailbox{queues: make(map[msgKey]*queue)}
}

func (m *mailbox) queue(k msgKey) *queue {
	q, ok := m.queues[k]
	if !ok {
		q = &queue{notify: make(chan struct{})}
		m.queues[k] = q
	}

	return q
}

func (m *mailbox) push(k msgKey, data []byte) {
	m.mu.Lock()
	q := m.queue(k)
	q.items = append(q.items, data)
	close(q.notify)
	q.notify = make(chan struct{})
	m.mu.Unlock()
}

// pop blocks until a message with key k arrives, ctx is done or the world is
// aborted.
func (m *mailbox) pop(ctx context.Context, w *World, k msgKey) ([]byte, error) {
	for {
		m.mu.Lock()
		q := m.queue(k)
		if len(q.items) > 0 {
			data := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			m.mu.Unlock()

			return data, nil
		}
		notify := q.notify
		m.mu.Unlock()

		select {
		case <-notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-w.done:
			return nil, w.abortErr()
		}
	}
}
