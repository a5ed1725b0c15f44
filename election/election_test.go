package election

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scendere/scendere-node/core/blocks"
	"github.com/scendere/scendere-node/core/types"
)

func sendBlock(t *testing.T, previous types.BlockHash, dest byte, balance uint64) *blocks.Block {
	t.Helper()
	return &blocks.Block{
		Type:        blocks.TypeSend,
		Previous:    previous,
		Destination: acct(dest),
		Balance:     types.NewAmount(balance),
	}
}

func TestElection_VoteReachesQuorum_Confirms(t *testing.T) {
	genesis := sendBlock(t, types.Hash32{0x1}, 0x10, 100)
	weights := fakeWeights{acct(1): types.NewAmount(60), acct(2): types.NewAmount(40)}
	quorum := StaticQuorum{D: types.NewAmount(50)}

	var confirmed *blocks.Block
	var statusType StatusType
	e, err := New(1, genesis, weights, quorum, NewRepIndex(), func(b *blocks.Block, st StatusType) {
		confirmed = b
		statusType = st
	}, nil, BehaviorNormal)
	require.NoError(t, err)

	hash, err := genesis.Hash()
	require.NoError(t, err)

	res := e.Vote(acct(1), types.NewTimestamp(1), hash)
	require.True(t, res.Processed)
	require.True(t, e.Confirmed())
	require.NotNil(t, confirmed)
	require.Equal(t, StatusActiveConfirmedQuorum, statusType)
}

func TestElection_FinalVotesConfirmAsFinalQuorum(t *testing.T) {
	genesis := sendBlock(t, types.Hash32{0x2}, 0x11, 50)
	weights := fakeWeights{acct(3): types.NewAmount(100)}
	quorum := StaticQuorum{D: types.NewAmount(80)}

	var statusType StatusType
	e, err := New(1, genesis, weights, quorum, NewRepIndex(), func(b *blocks.Block, st StatusType) {
		statusType = st
	}, nil, BehaviorNormal)
	require.NoError(t, err)

	hash, err := genesis.Hash()
	require.NoError(t, err)

	res := e.Vote(acct(3), types.NewTimestamp(1).Final(), hash)
	require.True(t, res.Processed)
	require.True(t, e.Confirmed())
	require.Equal(t, StatusActiveConfirmedQuorumFinal, statusType)
}

func TestElection_Vote_StaleRejected(t *testing.T) {
	genesis := sendBlock(t, types.Hash32{0x3}, 0x12, 10)
	weights := fakeWeights{acct(1): types.NewAmount(1)}
	quorum := StaticQuorum{D: types.NewAmount(1000)}
	e, err := New(1, genesis, weights, quorum, NewRepIndex(), nil, nil, BehaviorNormal)
	require.NoError(t, err)
	hash, err := genesis.Hash()
	require.NoError(t, err)

	res := e.Vote(acct(1), types.NewTimestamp(5), hash)
	require.True(t, res.Processed)

	res = e.Vote(acct(1), types.NewTimestamp(3), hash)
	require.False(t, res.Processed)
	require.False(t, res.Replay)
}

func TestElection_Vote_FinalUpgradeSameHashAccepted(t *testing.T) {
	genesis := sendBlock(t, types.Hash32{0x4}, 0x13, 10)
	weights := fakeWeights{acct(1): types.NewAmount(1)}
	quorum := StaticQuorum{D: types.NewAmount(1000)}
	e, err := New(1, genesis, weights, quorum, NewRepIndex(), nil, nil, BehaviorNormal)
	require.NoError(t, err)
	hash, err := genesis.Hash()
	require.NoError(t, err)

	res := e.Vote(acct(1), types.NewTimestamp(5), hash)
	require.True(t, res.Processed)

	// Same clock, but upgraded to final for the same hash: must be
	// accepted even though it does not strictly increase the clock.
	res = e.Vote(acct(1), types.NewTimestamp(5).Final(), hash)
	require.True(t, res.Processed)

	votes := e.Votes()
	require.True(t, votes[acct(1)].Timestamp.IsFinal())
}

func TestElection_TransitionActive(t *testing.T) {
	genesis := sendBlock(t, types.Hash32{0x5}, 0x14, 10)
	weights := fakeWeights{}
	quorum := StaticQuorum{D: types.NewAmount(1)}
	e, err := New(1, genesis, weights, quorum, NewRepIndex(), nil, nil, BehaviorNormal)
	require.NoError(t, err)
	require.Equal(t, StatePassive, e.State())
	e.TransitionActive()
	require.Equal(t, StateActive, e.State())
}

func TestElection_Publish_DuplicateRejected(t *testing.T) {
	genesis := sendBlock(t, types.Hash32{0x6}, 0x15, 10)
	weights := fakeWeights{}
	quorum := StaticQuorum{D: types.NewAmount(1)}
	e, err := New(1, genesis, weights, quorum, NewRepIndex(), nil, nil, BehaviorNormal)
	require.NoError(t, err)

	ok, err := e.Publish(genesis)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestElection_Publish_ReplaceByWeight(t *testing.T) {
	genesis := sendBlock(t, types.Hash32{0x7}, 0x16, 10)
	weights := fakeWeights{acct(9): types.NewAmount(500)}
	quorum := StaticQuorum{D: types.NewAmount(100000)}
	e, err := New(1, genesis, weights, quorum, NewRepIndex(), nil, nil, BehaviorNormal)
	require.NoError(t, err)

	// Fill the election to MaxBlocks with zero-weight competitors.
	var last types.BlockHash
	for i := 0; i < MaxBlocks-1; i++ {
		b := sendBlock(t, types.Hash32{0x7}, byte(0x20+i), uint64(10-i))
		ok, err := e.Publish(b)
		require.NoError(t, err)
		require.True(t, ok)
		last, err = b.Hash()
		require.NoError(t, err)
	}
	require.Equal(t, MaxBlocks, len(e.Blocks()))

	heavy := sendBlock(t, types.Hash32{0x7}, 0x30, 999)
	heavyHash, err := heavy.Hash()
	require.NoError(t, err)

	// A vote for the not-yet-published heavy block arrives first (e.g.
	// forwarded from a peer that already saw it); it still counts toward
	// replace-by-weight once heavy is offered.
	e.Vote(acct(9), types.NewTimestamp(1), heavyHash)

	ok, err := e.Publish(heavy)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, MaxBlocks, len(e.Blocks()))
	require.NotNil(t, e.Find(heavyHash))
	_ = last
}

func TestElection_Publish_RejectsWhenNotHeavierThanLowest(t *testing.T) {
	genesis := sendBlock(t, types.Hash32{0x8}, 0x40, 10)
	weights := fakeWeights{}
	quorum := StaticQuorum{D: types.NewAmount(1)}
	e, err := New(1, genesis, weights, quorum, NewRepIndex(), nil, nil, BehaviorNormal)
	require.NoError(t, err)

	for i := 0; i < MaxBlocks-1; i++ {
		b := sendBlock(t, types.Hash32{0x8}, byte(0x41+i), uint64(10-i))
		ok, err := e.Publish(b)
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.Equal(t, MaxBlocks, len(e.Blocks()))

	// Every existing block has zero tally; an unvoted newcomer also has
	// zero tally, so it must not displace anything.
	newcomer := sendBlock(t, types.Hash32{0x8}, 0x99, 1)
	ok, err := e.Publish(newcomer)
	require.NoError(t, err)
	require.False(t, ok)
}
