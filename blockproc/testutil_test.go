package blockproc

import (
	"crypto/ed25519"
	"crypto/rand"
	"path/filepath"
	"testing"

	"github.com/scendere/scendere-node/core/blocks"
	"github.com/scendere/scendere-node/core/epoch"
	"github.com/scendere/scendere-node/core/types"
	"github.com/scendere/scendere-node/core/work"
	"github.com/scendere/scendere-node/ledger"
	"github.com/scendere/scendere-node/store"
	"github.com/scendere/scendere-node/store/boltstore"
	"github.com/stretchr/testify/require"
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

func newTestProcessor(t *testing.T, maxQueue int) (*Processor, *ledger.Ledger, store.Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blockproc.db")
	s, err := boltstore.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	l := ledger.New(s, epoch.NewRegistry(), work.Thresholds{})
	return New(l, s, maxQueue), l, s
}
