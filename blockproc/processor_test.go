package blockproc

import (
	"context"
	"testing"

	"github.com/scendere/scendere-node/core/blocks"
	"github.com/scendere/scendere-node/core/epoch"
	"github.com/scendere/scendere-node/core/types"
	"github.com/scendere/scendere-node/ledger"
	"github.com/scendere/scendere-node/store"
	"github.com/stretchr/testify/require"
)

func TestProcessor_GapThenResolve_RequeuesDependent(t *testing.T) {
	p, l, s := newTestProcessor(t, 100)
	ctx := context.Background()
	a := newKeypair(t)
	b := newKeypair(t)

	open := &blocks.Block{Type: blocks.TypeOpen, Representative: a.account, Account: a.account, Source: types.Blake2b256([]byte("genesis"))}
	sign(t, a, open)
	openHash, err := open.Hash()
	require.NoError(t, err)

	require.NoError(t, store.Update(ctx, s, func(tx store.WriteTransaction) error {
		return l.PutPending(tx, ledger.PendingKey{Destination: a.account, SendHash: open.Source}, ledger.PendingInfo{Amount: types.NewAmount(100), Epoch: epoch.Epoch0})
	}))

	send := &blocks.Block{Type: blocks.TypeSend, Previous: openHash, Destination: b.account, Balance: types.NewAmount(40)}
	sign(t, a, send)

	var events []Event
	p.Observe(func(ev Event) { events = append(events, ev) })

	require.True(t, p.Add(send))
	n, err := p.ProcessBatch(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, events, 1)
	require.Equal(t, ledger.GapPrevious, events[0].Result)

	require.True(t, p.Add(open))
	n, err = p.ProcessBatch(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, ledger.Progress, events[len(events)-1].Result)
	// Resolving the open should have requeued the previously gapped send
	// onto the forced queue.
	require.Equal(t, 1, p.Queue.Len())

	n, err = p.ProcessBatch(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, ledger.Progress, events[len(events)-1].Result)
}

func TestProcessor_QueueFull_AddRejected(t *testing.T) {
	p, _, _ := newTestProcessor(t, 2)
	a := newKeypair(t)
	b1 := &blocks.Block{Type: blocks.TypeSend, Previous: types.Blake2b256([]byte("1")), Destination: a.account, Balance: types.NewAmount(1)}
	b2 := &blocks.Block{Type: blocks.TypeSend, Previous: types.Blake2b256([]byte("2")), Destination: a.account, Balance: types.NewAmount(1)}
	b3 := &blocks.Block{Type: blocks.TypeSend, Previous: types.Blake2b256([]byte("3")), Destination: a.account, Balance: types.NewAmount(1)}

	require.True(t, p.Add(b1))
	require.True(t, p.Add(b2))
	require.False(t, p.Add(b3))
	require.True(t, p.Queue.Full())
}

func TestProcessor_EmptyBatchIsNoop(t *testing.T) {
	p, _, _ := newTestProcessor(t, 10)
	n, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, n)
}
