package blockproc

import (
	"sync"

	"github.com/scendere/scendere-node/core/blocks"
)

// DefaultMaxQueue is the queue-size flow-control threshold: full() trips
// once incoming+forced holds this many blocks.
const DefaultMaxQueue = 65536

// queue is a bounded dual-queue: forced (locally originated, or
// re-queued after a rollback) drains ahead of incoming (network-sourced),
// and both are plain FIFO within themselves.
type queue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	incoming []*blocks.Block
	forced   []*blocks.Block
	max      int
	closed   bool
}

func newQueue(max int) *queue {
	if max <= 0 {
		max = DefaultMaxQueue
	}
	q := &queue{max: max}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Add appends b to the incoming (network-sourced) queue.
func (q *queue) Add(b *blocks.Block) {
	q.mu.Lock()
	q.incoming = append(q.incoming, b)
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Force appends b to the forced (locally originated / rollback-driven)
// queue, which always drains before incoming.
func (q *queue) Force(b *blocks.Block) {
	q.mu.Lock()
	q.forced = append(q.forced, b)
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Full reports whether the combined queue size is at or over its flow
// control threshold; producers should check before offering more work.
func (q *queue) Full() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.incoming)+len(q.forced) >= q.max
}

// HalfFull is the soft backpressure signal network inbound paths use to
// start dropping non-essential messages.
func (q *queue) HalfFull() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.incoming)+len(q.forced) >= q.max/2
}

// Len returns the combined queue depth.
func (q *queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.incoming) + len(q.forced)
}

// drain removes up to n blocks, forced first, for one processing batch.
func (q *queue) drain(n int) []*blocks.Block {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*blocks.Block, 0, n)
	for len(out) < n && len(q.forced) > 0 {
		out = append(out, q.forced[0])
		q.forced = q.forced[1:]
	}
	for len(out) < n && len(q.incoming) > 0 {
		out = append(out, q.incoming[0])
		q.incoming = q.incoming[1:]
	}
	return out
}

// waitNonEmpty blocks until at least one block is queued or Close is
// called, returning false in the latter case.
func (q *queue) waitNonEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.incoming) == 0 && len(q.forced) == 0 && !q.closed {
		q.cond.Wait()
	}
	return !q.closed
}

// Close unblocks any waiter permanently, used on shutdown.
func (q *queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}
