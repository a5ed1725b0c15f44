package ledger

import (
	"crypto/ed25519"
	"crypto/rand"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/scendere/scendere-node/core/blocks"
	"github.com/scendere/scendere-node/core/epoch"
	"github.com/scendere/scendere-node/core/types"
	"github.com/scendere/scendere-node/core/work"
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

// sign computes b's hash and signs it with k, the step a wallet performs
// before ever handing a block to the ledger.
func sign(t *testing.T, k keypair, b *blocks.Block) {
	t.Helper()
	h, err := b.Hash()
	require.NoError(t, err)
	b.Signature = types.Sign(k.priv, h[:])
}

// newTestLedger builds a Ledger over a fresh on-disk bolt store with
// zero work thresholds, so any nonce (including the unset zero value)
// satisfies Threshold and tests don't need to mine real proof of work.
func newTestLedger(t *testing.T) (*Ledger, store.Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := boltstore.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	l := New(s, epoch.NewRegistry(), work.Thresholds{})
	return l, s
}

// requireBlockEqual compares every field of want and got, failing with
// a spew.Sdump dump of both sides so a mismatched field (signature,
// sideband, balance) is legible instead of buried in require.Equal's
// default %+v rendering.
func requireBlockEqual(t *testing.T, want, got *blocks.Block) {
	t.Helper()
	if !reflect.DeepEqual(want, got) {
		t.Fatalf("blocks differ:\nwant:\n%s\ngot:\n%s", spew.Sdump(want), spew.Sdump(got))
	}
}
