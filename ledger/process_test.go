package ledger

import (
	"context"
	"math"
	"testing"

	"github.com/scendere/scendere-node/core/blocks"
	"github.com/scendere/scendere-node/core/epoch"
	"github.com/scendere/scendere-node/core/types"
	"github.com/scendere/scendere-node/core/work"
	"github.com/scendere/scendere-node/store"
	"github.com/stretchr/testify/require"
)

func putGenesisPending(t *testing.T, l *Ledger, s store.Store, dest types.Account, sourceHash types.BlockHash, amount types.Amount) {
	t.Helper()
	require.NoError(t, store.Update(context.Background(), s, func(tx store.WriteTransaction) error {
		return l.PutPending(tx, PendingKey{Destination: dest, SendHash: sourceHash}, PendingInfo{Amount: amount, Epoch: epoch.Epoch0})
	}))
}

func TestProcessOpen_Progress(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	a := newKeypair(t)
	sourceHash := types.Blake2b256([]byte("genesis-send"))
	putGenesisPending(t, l, s, a.account, sourceHash, types.NewAmount(100))

	open := &blocks.Block{Type: blocks.TypeOpen, Source: sourceHash, Representative: a.account, Account: a.account}
	sign(t, a, open)

	var res Result
	require.NoError(t, store.Update(ctx, s, func(tx store.WriteTransaction) error {
		var err error
		res, err = l.Process(tx, open)
		return err
	}))
	require.Equal(t, Progress, res)

	require.NoError(t, store.View(ctx, s, func(tx store.ReadTransaction) error {
		info, err := l.GetAccountInfo(tx, a.account)
		require.NoError(t, err)
		require.Equal(t, uint64(1), info.BlockCount)
		require.Equal(t, 0, info.Balance.Cmp(types.NewAmount(100)))
		ok, err := l.PendingExists(tx, PendingKey{Destination: a.account, SendHash: sourceHash})
		require.NoError(t, err)
		require.False(t, ok)
		return nil
	}))
	require.Equal(t, 0, l.Weight(a.account).Cmp(types.NewAmount(100)))
}

func TestProcessOpen_Fork(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	a := newKeypair(t)
	source1 := types.Blake2b256([]byte("source-1"))
	source2 := types.Blake2b256([]byte("source-2"))
	putGenesisPending(t, l, s, a.account, source1, types.NewAmount(10))
	putGenesisPending(t, l, s, a.account, source2, types.NewAmount(10))

	first := &blocks.Block{Type: blocks.TypeOpen, Source: source1, Representative: a.account, Account: a.account}
	sign(t, a, first)
	require.NoError(t, store.Update(ctx, s, func(tx store.WriteTransaction) error {
		res, err := l.Process(tx, first)
		require.NoError(t, err)
		require.Equal(t, Progress, res)
		return nil
	}))

	second := &blocks.Block{Type: blocks.TypeOpen, Source: source2, Representative: a.account, Account: a.account}
	sign(t, a, second)
	require.NoError(t, store.Update(ctx, s, func(tx store.WriteTransaction) error {
		res, err := l.Process(tx, second)
		require.NoError(t, err)
		require.Equal(t, Fork, res)
		return nil
	}))
}

func TestProcessOpen_BadSignature(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	a := newKeypair(t)
	wrongSigner := newKeypair(t)
	sourceHash := types.Blake2b256([]byte("source"))
	putGenesisPending(t, l, s, a.account, sourceHash, types.NewAmount(10))

	open := &blocks.Block{Type: blocks.TypeOpen, Source: sourceHash, Representative: a.account, Account: a.account}
	sign(t, wrongSigner, open)

	require.NoError(t, store.Update(ctx, s, func(tx store.WriteTransaction) error {
		res, err := l.Process(tx, open)
		require.NoError(t, err)
		require.Equal(t, BadSignature, res)
		return nil
	}))
}

func TestProcessOpen_GapSource(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	a := newKeypair(t)
	open := &blocks.Block{Type: blocks.TypeOpen, Source: types.Blake2b256([]byte("nowhere")), Representative: a.account, Account: a.account}
	sign(t, a, open)

	require.NoError(t, store.Update(ctx, s, func(tx store.WriteTransaction) error {
		res, err := l.Process(tx, open)
		require.NoError(t, err)
		require.Equal(t, GapSource, res)
		return nil
	}))
}

func TestProcessOpen_InsufficientWork(t *testing.T) {
	l, s := newTestLedger(t)
	l.Thresholds = work.Thresholds{Epoch1: math.MaxUint64, Epoch2: math.MaxUint64, Epoch2Receive: math.MaxUint64, Base: math.MaxUint64}
	ctx := context.Background()
	a := newKeypair(t)
	sourceHash := types.Blake2b256([]byte("source"))
	putGenesisPending(t, l, s, a.account, sourceHash, types.NewAmount(10))

	open := &blocks.Block{Type: blocks.TypeOpen, Source: sourceHash, Representative: a.account, Account: a.account}
	sign(t, a, open)

	require.NoError(t, store.Update(ctx, s, func(tx store.WriteTransaction) error {
		res, err := l.Process(tx, open)
		require.NoError(t, err)
		require.Equal(t, InsufficientWork, res)
		return nil
	}))
}

func TestProcessOpen_OpenedBurnAccount(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	a := newKeypair(t)
	l.BurnAccount = a.account
	sourceHash := types.Blake2b256([]byte("source"))
	putGenesisPending(t, l, s, a.account, sourceHash, types.NewAmount(10))

	open := &blocks.Block{Type: blocks.TypeOpen, Source: sourceHash, Representative: a.account, Account: a.account}
	sign(t, a, open)

	require.NoError(t, store.Update(ctx, s, func(tx store.WriteTransaction) error {
		res, err := l.Process(tx, open)
		require.NoError(t, err)
		require.Equal(t, OpenedBurnAccount, res)
		return nil
	}))
}

// openAccount opens a via a legacy open block funded by amount and
// returns the resulting open block hash.
func openAccount(t *testing.T, l *Ledger, s store.Store, a keypair, amount types.Amount) types.BlockHash {
	t.Helper()
	ctx := context.Background()
	sourceHash := types.Blake2b256([]byte("genesis-for-"), a.account[:])
	putGenesisPending(t, l, s, a.account, sourceHash, amount)
	open := &blocks.Block{Type: blocks.TypeOpen, Source: sourceHash, Representative: a.account, Account: a.account}
	sign(t, a, open)
	var hash types.BlockHash
	require.NoError(t, store.Update(ctx, s, func(tx store.WriteTransaction) error {
		res, err := l.Process(tx, open)
		if err != nil {
			return err
		}
		require.Equal(t, Progress, res)
		hash, err = open.Hash()
		return err
	}))
	return hash
}

func TestProcessSendReceiveChange_FullCycle(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	a := newKeypair(t)
	b := newKeypair(t)
	openHash := openAccount(t, l, s, a, types.NewAmount(100))

	send := &blocks.Block{Type: blocks.TypeSend, Previous: openHash, Destination: b.account, Balance: types.NewAmount(60)}
	sign(t, a, send)
	var sendHash types.BlockHash
	require.NoError(t, store.Update(ctx, s, func(tx store.WriteTransaction) error {
		res, err := l.Process(tx, send)
		if err != nil {
			return err
		}
		require.Equal(t, Progress, res)
		sendHash, err = send.Hash()
		return err
	}))
	require.NoError(t, store.View(ctx, s, func(tx store.ReadTransaction) error {
		info, err := l.GetAccountInfo(tx, a.account)
		require.NoError(t, err)
		require.Equal(t, 0, info.Balance.Cmp(types.NewAmount(60)))
		pending, err := l.GetPending(tx, PendingKey{Destination: b.account, SendHash: sendHash})
		require.NoError(t, err)
		require.Equal(t, 0, pending.Amount.Cmp(types.NewAmount(40)))
		return nil
	}))

	receive := &blocks.Block{Type: blocks.TypeOpen, Source: sendHash, Representative: b.account, Account: b.account}
	sign(t, b, receive)
	require.NoError(t, store.Update(ctx, s, func(tx store.WriteTransaction) error {
		res, err := l.Process(tx, receive)
		require.NoError(t, err)
		require.Equal(t, Progress, res)
		return nil
	}))
	require.Equal(t, 0, l.Weight(b.account).Cmp(types.NewAmount(40)))
	require.Equal(t, 0, l.Weight(a.account).Cmp(types.NewAmount(60)))

	change := &blocks.Block{Type: blocks.TypeChange, Previous: sendHash, Representative: b.account}
	sign(t, a, change)
	require.NoError(t, store.Update(ctx, s, func(tx store.WriteTransaction) error {
		res, err := l.Process(tx, change)
		require.NoError(t, err)
		require.Equal(t, Progress, res)
		return nil
	}))
	require.Equal(t, 0, l.Weight(b.account).Cmp(types.NewAmount(100)))
	require.True(t, l.Weight(a.account).IsZero())
}

func TestProcessSend_NegativeSpend(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	a := newKeypair(t)
	b := newKeypair(t)
	openHash := openAccount(t, l, s, a, types.NewAmount(50))

	send := &blocks.Block{Type: blocks.TypeSend, Previous: openHash, Destination: b.account, Balance: types.NewAmount(50)}
	sign(t, a, send)
	require.NoError(t, store.Update(ctx, s, func(tx store.WriteTransaction) error {
		res, err := l.Process(tx, send)
		require.NoError(t, err)
		require.Equal(t, NegativeSpend, res)
		return nil
	}))
}

func TestProcessSend_GapPrevious(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	a := newKeypair(t)
	b := newKeypair(t)
	send := &blocks.Block{Type: blocks.TypeSend, Previous: types.Blake2b256([]byte("missing")), Destination: b.account, Balance: types.NewAmount(1)}
	sign(t, a, send)
	require.NoError(t, store.Update(ctx, s, func(tx store.WriteTransaction) error {
		res, err := l.Process(tx, send)
		require.NoError(t, err)
		require.Equal(t, GapPrevious, res)
		return nil
	}))
}
