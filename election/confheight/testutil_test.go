package confheight

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scendere/scendere-node/core/blocks"
	"github.com/scendere/scendere-node/core/epoch"
	"github.com/scendere/scendere-node/core/types"
	"github.com/scendere/scendere-node/core/work"
	"github.com/scendere/scendere-node/ledger"
	"github.com/scendere/scendere-node/store"
	"github.com/scendere/scendere-node/store/boltstore"
)

type keypair struct {
	account types.Account
	priv    ed25519.PrivateKey
}

func newKeypair(t *testing.T) keypair {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	var acct types.Account
	copy(acct[:], pub)
	return keypair{account: acct, priv: priv}
}

func sign(t *testing.T, k keypair, b *blocks.Block) {
	t.Helper()
	h, err := b.Hash()
	require.NoError(t, err)
	b.Signature = types.Sign(k.priv, h[:])
}

func newTestLedger(t *testing.T) (*ledger.Ledger, store.Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "confheight.db")
	s, err := boltstore.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return ledger.New(s, epoch.NewRegistry(), work.Thresholds{}), s
}

// openAccount admits an Open block crediting dest with amount from a
// pending entry keyed by sourceHash, returning the new open block.
func openAccount(t *testing.T, l *ledger.Ledger, s store.Store, dest keypair, sourceHash types.BlockHash, amount types.Amount) *blocks.Block {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Update(ctx, s, func(tx store.WriteTransaction) error {
		return l.PutPending(tx, ledger.PendingKey{Destination: dest.account, SendHash: sourceHash}, ledger.PendingInfo{Amount: amount, Epoch: epoch.Epoch0})
	}))

	open := &blocks.Block{Type: blocks.TypeOpen, Representative: dest.account, Account: dest.account, Source: sourceHash}
	sign(t, dest, open)
	require.NoError(t, store.Update(ctx, s, func(tx store.WriteTransaction) error {
		res, err := l.Process(tx, open)
		require.NoError(t, err)
		require.Equal(t, ledger.Progress, res)
		return nil
	}))
	return open
}
