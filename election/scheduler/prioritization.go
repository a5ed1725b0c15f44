// Package scheduler admits ledger-confirmed-dependents blocks into new
// elections at a bounded rate, grounded on the reference node's
// election_scheduler and its bucketed prioritization queue.
package scheduler

import (
	"container/heap"

	"github.com/scendere/scendere-node/core/blocks"
	"github.com/scendere/scendere-node/core/types"
)

// BucketCount matches the reference node's prioritization bucket count:
// one bucket per possible Amount.BitLen() value, 0 through 128.
const BucketCount = 129

type bucketEntry struct {
	time  uint64
	block *blocks.Block
}

// bucketHeap is a min-heap on time: the oldest (smallest modified time)
// entry in a bucket is always its root.
type bucketHeap []bucketEntry

func (h bucketHeap) Len() int            { return len(h) }
func (h bucketHeap) Less(i, j int) bool  { return h[i].time < h[j].time }
func (h bucketHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *bucketHeap) Push(x interface{}) { *h = append(*h, x.(bucketEntry)) }
func (h *bucketHeap) Pop() interface{} {
	old := *h
	n := len(old)
	last := old[n-1]
	*h = old[:n-1]
	return last
}

// Prioritization is a bounded, bucketed priority queue of blocks awaiting
// an election, mirroring the reference node's prioritization class: each
// bucket holds blocks whose account balance falls in the same magnitude
// class (Amount.BitLen()), and Top round-robins across non-empty buckets
// so no single large-balance account can starve every other account's
// elections.
type Prioritization struct {
	buckets          [BucketCount]bucketHeap
	seen             map[types.BlockHash]struct{}
	maxPerBucket     int
	current          int
	size             int
	roundRobinOffset int
}

// NewPrioritization builds an empty queue. maxPerBucket of zero means
// unbounded; a positive limit caps each bucket independently, evicting
// its highest-time (most recently modified) entry once the cap is
// exceeded so the oldest blocks in a bucket are the ones that survive.
func NewPrioritization(maxPerBucket int) *Prioritization {
	return &Prioritization{
		seen:         make(map[types.BlockHash]struct{}),
		maxPerBucket: maxPerBucket,
	}
}

func bucketIndex(balance types.Amount) int {
	n := balance.BitLen()
	if n >= BucketCount {
		n = BucketCount - 1
	}
	return n
}

// Push admits b, associated with accountModified (the account's
// last-modified clock, used as the bucket's time order) and balance (the
// account's balance, used to pick the bucket). A block already present
// by hash is a no-op.
func (p *Prioritization) Push(accountModified uint64, balance types.Amount, b *blocks.Block) error {
	hash, err := b.Hash()
	if err != nil {
		return err
	}
	if _, ok := p.seen[hash]; ok {
		return nil
	}
	idx := bucketIndex(balance)
	h := &p.buckets[idx]
	heap.Push(h, bucketEntry{time: accountModified, block: b})
	p.seen[hash] = struct{}{}
	p.size++

	if p.maxPerBucket > 0 && h.Len() > p.maxPerBucket {
		// Trim the bucket down to its cap by evicting the highest-time
		// (most recently modified) entry, keeping the oldest blocks
		// first in line for an election.
		worst := 0
		for i := 1; i < h.Len(); i++ {
			if (*h)[i].time > (*h)[worst].time {
				worst = i
			}
		}
		evicted := (*h)[worst]
		heap.Remove(h, worst)
		if evictedHash, err := evicted.block.Hash(); err == nil {
			delete(p.seen, evictedHash)
		}
		p.size--
	}
	return nil
}

// nextNonEmpty returns the bucket index at or after from (wrapping) that
// currently holds an entry, or -1 if every bucket is empty.
func (p *Prioritization) nextNonEmpty(from int) int {
	for i := 0; i < BucketCount; i++ {
		idx := (from + i) % BucketCount
		if p.buckets[idx].Len() > 0 {
			return idx
		}
	}
	return -1
}

// Top returns the next block in round-robin bucket order without
// removing it, or nil if the queue is empty.
func (p *Prioritization) Top() *blocks.Block {
	idx := p.nextNonEmpty(p.current)
	if idx < 0 {
		return nil
	}
	return p.buckets[idx][0].block
}

// Pop removes the block Top would return, advancing the round-robin
// cursor to the following bucket.
func (p *Prioritization) Pop() {
	idx := p.nextNonEmpty(p.current)
	if idx < 0 {
		return
	}
	top := heap.Pop(&p.buckets[idx]).(bucketEntry)
	if hash, err := top.block.Hash(); err == nil {
		delete(p.seen, hash)
	}
	p.size--
	p.current = (idx + 1) % BucketCount
}

// Size returns the total number of blocks queued across every bucket.
func (p *Prioritization) Size() int {
	return p.size
}

// Empty reports whether every bucket is empty.
func (p *Prioritization) Empty() bool {
	return p.size == 0
}

// BucketSize returns how many blocks are queued in the bucket at idx,
// for diagnostics and tests.
func (p *Prioritization) BucketSize(idx int) int {
	if idx < 0 || idx >= BucketCount {
		return 0
	}
	return p.buckets[idx].Len()
}
