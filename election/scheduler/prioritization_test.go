package scheduler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scendere/scendere-node/core/blocks"
	"github.com/scendere/scendere-node/core/types"
)

func block(dest byte, balance uint64) *blocks.Block {
	return &blocks.Block{
		Type:        blocks.TypeSend,
		Previous:    types.Hash32{dest},
		Destination: types.Account{dest},
		Balance:     types.NewAmount(balance),
	}
}

func TestPrioritization_ConstructionIsEmpty(t *testing.T) {
	p := NewPrioritization(0)
	require.True(t, p.Empty())
	require.Equal(t, 0, p.Size())
}

func TestPrioritization_TopOrdersByTimeWithinBucket(t *testing.T) {
	p := NewPrioritization(0)
	// Same balance magnitude (bucket) for both, older one must come first.
	require.NoError(t, p.Push(1100, types.NewAmount(1<<20), block(1, 1)))
	require.NoError(t, p.Push(1000, types.NewAmount(1<<20), block(2, 1)))

	first := p.Top()
	require.NotNil(t, first)
	h, err := first.Hash()
	require.NoError(t, err)
	want, err := block(2, 1).Hash()
	require.NoError(t, err)
	require.Equal(t, want, h)
}

func TestPrioritization_PushDuplicateIsNoop(t *testing.T) {
	p := NewPrioritization(0)
	b := block(1, 1)
	require.NoError(t, p.Push(1000, types.NewAmount(10), b))
	require.NoError(t, p.Push(1000, types.NewAmount(10), b))
	require.Equal(t, 1, p.Size())
}

func TestPrioritization_RoundRobinsAcrossBuckets(t *testing.T) {
	p := NewPrioritization(0)
	small := block(1, 1)
	big := block(2, 1)
	require.NoError(t, p.Push(1000, types.NewAmount(1), small))     // tiny bucket
	require.NoError(t, p.Push(1000, types.NewAmount(1<<40), big))   // large bucket

	seen := map[types.BlockHash]bool{}
	for i := 0; i < 2; i++ {
		top := p.Top()
		require.NotNil(t, top)
		h, err := top.Hash()
		require.NoError(t, err)
		seen[h] = true
		p.Pop()
	}
	require.True(t, p.Empty())
	smallHash, _ := small.Hash()
	bigHash, _ := big.Hash()
	require.True(t, seen[smallHash])
	require.True(t, seen[bigHash])
}

func TestPrioritization_TrimEvictsNewestInBucket(t *testing.T) {
	p := NewPrioritization(1)
	older := block(1, 1)
	newer := block(2, 1)
	require.NoError(t, p.Push(1000, types.NewAmount(1<<20), older))
	require.NoError(t, p.Push(1100, types.NewAmount(1<<20), newer))

	require.Equal(t, 1, p.Size())
	top := p.Top()
	h, err := top.Hash()
	require.NoError(t, err)
	wantHash, err := older.Hash()
	require.NoError(t, err)
	require.Equal(t, wantHash, h)
}

func TestPrioritization_PopRemovesAndAdvances(t *testing.T) {
	p := NewPrioritization(0)
	require.NoError(t, p.Push(1000, types.NewAmount(5), block(1, 1)))
	require.False(t, p.Empty())
	p.Pop()
	require.True(t, p.Empty())
}
