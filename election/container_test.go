package election

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scendere/scendere-node/core/types"
)

func TestContainer_InsertThenFindReturnsSameElection(t *testing.T) {
	c := NewContainer(fakeWeights{}, StaticQuorum{D: types.NewAmount(1)})
	genesis := sendBlock(t, types.Hash32{0x9}, 0x50, 1)

	e1, inserted, err := c.Insert(1, genesis, BehaviorNormal, nil, nil)
	require.NoError(t, err)
	require.True(t, inserted)

	e2, inserted, err := c.Insert(1, genesis, BehaviorNormal, nil, nil)
	require.NoError(t, err)
	require.False(t, inserted)
	require.Same(t, e1, e2)

	found := c.Find(genesis.QualifiedRoot())
	require.Same(t, e1, found)
	require.Equal(t, 1, c.Len())
}

func TestContainer_Sweep_RemovesExpiredElections(t *testing.T) {
	c := NewContainer(fakeWeights{}, StaticQuorum{D: types.NewAmount(1000)})
	genesis := sendBlock(t, types.Hash32{0xa}, 0x51, 1)

	e, _, err := c.Insert(1, genesis, BehaviorNormal, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())

	e.TransitionActive()
	e.confirmationRequestCount = ActiveRequestCountMinimum + 1
	e.start = e.start.Add(-24 * BaseLatency)

	done := c.Sweep()
	require.Len(t, done, 1)
	require.Equal(t, 0, c.Len())
	require.True(t, e.Failed())
}

func TestContainer_FindByHash_LocatesElectionTrackingBlock(t *testing.T) {
	c := NewContainer(fakeWeights{}, StaticQuorum{D: types.NewAmount(1)})
	genesis := sendBlock(t, types.Hash32{0xd}, 0x52, 1)

	e, _, err := c.Insert(1, genesis, BehaviorNormal, nil, nil)
	require.NoError(t, err)

	hash, err := genesis.Hash()
	require.NoError(t, err)
	require.Same(t, e, c.FindByHash(hash))
	require.Nil(t, c.FindByHash(types.Hash32{0xff}))
}

func TestContainer_Active_OnlyListsLiveElections(t *testing.T) {
	c := NewContainer(fakeWeights{acct(1): types.NewAmount(100)}, StaticQuorum{D: types.NewAmount(50)})
	g1 := sendBlock(t, types.Hash32{0xb}, 0x60, 1)
	g2 := sendBlock(t, types.Hash32{0xc}, 0x61, 1)

	_, _, err := c.Insert(1, g1, BehaviorNormal, nil, nil)
	require.NoError(t, err)
	e2, _, err := c.Insert(1, g2, BehaviorNormal, nil, nil)
	require.NoError(t, err)

	hash2, err := g2.Hash()
	require.NoError(t, err)
	e2.Vote(acct(1), types.NewTimestamp(1), hash2)
	require.True(t, e2.Confirmed())

	active := c.Active()
	require.Len(t, active, 1)
	require.Equal(t, g1.QualifiedRoot(), active[0].QualifiedRoot)
}
