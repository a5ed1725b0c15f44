package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scendere/scendere-node/core/types"
)

func root(b byte) types.Root {
	var r types.Root
	r[0] = b
	return r
}

func hash(b byte) types.BlockHash {
	var h types.BlockHash
	h[0] = b
	return h
}

func vote(account byte) *types.Vote {
	var v types.Vote
	v.Account[0] = account
	return &v
}

func TestHistory_AddSameHashAccumulatesPerAccount(t *testing.T) {
	h, err := New(0)
	require.NoError(t, err)

	require.False(t, h.Exists(root(1)))
	require.False(t, h.Exists(root(2)))
	require.Empty(t, h.Votes(root(1)))
	require.Empty(t, h.Votes(root(2)))

	vote1a := vote(0)
	require.Equal(t, 0, h.Size())
	h.Add(root(1), hash(2), vote1a)
	require.Equal(t, 1, h.Size())
	require.True(t, h.Exists(root(1)))
	require.False(t, h.Exists(root(2)))

	votes1a := h.Votes(root(1))
	require.Len(t, votes1a, 1)
	require.Len(t, h.VotesFor(root(1), hash(2)), 1)
	require.Empty(t, h.VotesFor(root(1), hash(1)))
	require.Empty(t, h.VotesFor(root(1), hash(3)))
	require.Empty(t, h.Votes(root(2)))
	require.Same(t, vote1a, votes1a[0])

	// Adding another vote for the same (root, hash) from the same
	// account replaces the prior entry rather than accumulating.
	vote1b := vote(0)
	h.Add(root(1), hash(2), vote1b)
	votes1b := h.Votes(root(1))
	require.Len(t, votes1b, 1)
	require.Same(t, vote1b, votes1b[0])

	// A different account voting the same hash at the same root
	// accumulates alongside the existing entry.
	vote2 := vote(1)
	require.Equal(t, 1, h.Size())
	h.Add(root(1), hash(2), vote2)
	require.Equal(t, 2, h.Size())
	votes2 := h.Votes(root(1))
	require.Len(t, votes2, 2)
	require.Contains(t, votes2, vote1b)
	require.Contains(t, votes2, vote2)

	// Voting a DIFFERENT hash at the same root discards everything
	// recorded for that root and starts over.
	vote3 := vote(2)
	h.Add(root(1), hash(3), vote3)
	require.Equal(t, 1, h.Size())
	votes3 := h.Votes(root(1))
	require.Len(t, votes3, 1)
	require.Same(t, vote3, votes3[0])
}

func TestHistory_Erase(t *testing.T) {
	h, err := New(0)
	require.NoError(t, err)
	h.Add(root(1), hash(2), vote(0))
	require.True(t, h.Exists(root(1)))

	h.Erase(root(1))
	require.False(t, h.Exists(root(1)))
	require.Equal(t, 0, h.Size())
}

func TestHistory_EvictsLeastRecentlyTouchedRootOverCapacity(t *testing.T) {
	h, err := New(1)
	require.NoError(t, err)

	h.Add(root(1), hash(1), vote(0))
	h.Add(root(2), hash(2), vote(0))

	require.False(t, h.Exists(root(1)))
	require.True(t, h.Exists(root(2)))
}

func TestSpacing_Basic(t *testing.T) {
	s := NewSpacing(100 * time.Millisecond)
	require.Equal(t, 0, s.Size())
	require.True(t, s.Votable(root(1), hash(3)))

	s.Flag(root(1), hash(3))
	require.Equal(t, 1, s.Size())
	require.True(t, s.Votable(root(1), hash(3)))
	require.False(t, s.Votable(root(1), hash(4)))

	s.Flag(root(2), hash(5))
	require.Equal(t, 2, s.Size())
}

func TestSpacing_Prune(t *testing.T) {
	length := 20 * time.Millisecond
	s := NewSpacing(length)

	s.Flag(root(1), hash(3))
	require.Equal(t, 1, s.Size())

	time.Sleep(length + 5*time.Millisecond)
	s.Flag(root(2), hash(4))
	require.Equal(t, 1, s.Size())
}
