package confheight

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scendere/scendere-node/core/blocks"
	"github.com/scendere/scendere-node/core/types"
	"github.com/scendere/scendere-node/ledger"
	"github.com/scendere/scendere-node/store"
)

func TestProcessor_CementsReceiveAndItsSource(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	a := newKeypair(t)
	b := newKeypair(t)

	openA := openAccount(t, l, s, a, types.Blake2b256([]byte("genesis")), types.NewAmount(1000))
	openAHash, err := openA.Hash()
	require.NoError(t, err)

	send := &blocks.Block{Type: blocks.TypeSend, Previous: openAHash, Destination: b.account, Balance: types.NewAmount(400)}
	sign(t, a, send)
	require.NoError(t, store.Update(ctx, s, func(tx store.WriteTransaction) error {
		res, err := l.Process(tx, send)
		require.NoError(t, err)
		require.Equal(t, ledger.Progress, res)
		return nil
	}))
	sendHash, err := send.Hash()
	require.NoError(t, err)

	openB := openAccount(t, l, s, b, sendHash, types.NewAmount(600))
	openBHash, err := openB.Hash()
	require.NoError(t, err)

	p := New(l, s)
	var cemented []types.BlockHash
	p.ObserveCemented(func(blk *blocks.Block, account types.Account, height uint64) {
		h, err := blk.Hash()
		require.NoError(t, err)
		cemented = append(cemented, h)
	})

	p.Add(openB)
	n, err := p.ProcessOne(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.ElementsMatch(t, []types.BlockHash{openAHash, sendHash, openBHash}, cemented)

	require.NoError(t, store.View(ctx, s, func(tx store.ReadTransaction) error {
		infoA, err := l.GetConfirmationHeight(tx, a.account)
		require.NoError(t, err)
		require.Equal(t, uint64(2), infoA.Height)
		require.Equal(t, sendHash, infoA.Frontier)

		infoB, err := l.GetConfirmationHeight(tx, b.account)
		require.NoError(t, err)
		require.Equal(t, uint64(1), infoB.Height)
		require.Equal(t, openBHash, infoB.Frontier)
		return nil
	}))
}

func TestProcessor_AlreadyCementedFiresObserver(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	a := newKeypair(t)
	openA := openAccount(t, l, s, a, types.Blake2b256([]byte("genesis")), types.NewAmount(1000))

	p := New(l, s)
	p.Add(openA)
	n, err := p.ProcessOne(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	var alreadyCemented []types.BlockHash
	p.ObserveAlreadyCemented(func(hash types.BlockHash) {
		alreadyCemented = append(alreadyCemented, hash)
	})
	openAHash, err := openA.Hash()
	require.NoError(t, err)

	p.Add(openA)
	n, err = p.ProcessOne(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.Equal(t, []types.BlockHash{openAHash}, alreadyCemented)
}

func TestSelectMode(t *testing.T) {
	require.Equal(t, ModeUnbounded, SelectMode(500, 0, 1000))
	require.Equal(t, ModeBounded, SelectMode(2000, 0, 1000))
	// Above the cutoff, if cemented_count has nearly caught up with the
	// uncemented backlog, prefer unbounded again rather than thrash modes.
	require.Equal(t, ModeUnbounded, SelectMode(2000, 1000, 1000))
}
