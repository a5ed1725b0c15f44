package election

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/scendere/scendere-node/core/types"
)

// RepIndex assigns every representative account a dense uint32 index the
// first time it is seen, so a per-election participant set can be kept as
// a compact roaring bitmap instead of a hash set of 32-byte accounts.
// Shared across every election in a Container.
type RepIndex struct {
	mu      sync.Mutex
	byAcct  map[types.Account]uint32
	byIndex []types.Account
}

// NewRepIndex returns an empty index.
func NewRepIndex() *RepIndex {
	return &RepIndex{byAcct: make(map[types.Account]uint32)}
}

// IndexOf returns a's dense index, assigning a new one if a has not been
// seen before.
func (r *RepIndex) IndexOf(a types.Account) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.byAcct[a]; ok {
		return i
	}
	i := uint32(len(r.byIndex))
	r.byAcct[a] = i
	r.byIndex = append(r.byIndex, a)
	return i
}

// AccountAt reverses IndexOf.
func (r *RepIndex) AccountAt(i uint32) (types.Account, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(i) >= len(r.byIndex) {
		return types.Account{}, false
	}
	return r.byIndex[i], true
}

// participants is the per-election compact record of which
// representatives, by RepIndex index, have voted at all for this
// election's root, independent of which hash they supported. Election.Vote
// marks it; no other package reads it.
type participants struct {
	bitmap *roaring.Bitmap
}

func newParticipants() *participants {
	return &participants{bitmap: roaring.New()}
}

func (p *participants) mark(idx uint32) {
	p.bitmap.Add(idx)
}

func (p *participants) has(idx uint32) bool {
	return p.bitmap.Contains(idx)
}

func (p *participants) count() uint64 {
	return p.bitmap.GetCardinality()
}
