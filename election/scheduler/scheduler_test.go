package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scendere/scendere-node/core/types"
	"github.com/scendere/scendere-node/election"
	"github.com/scendere/scendere-node/store"
)

func TestScheduler_ActivateEnqueuesDependentsConfirmedBlock(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	a := newKeypair(t)
	openA := openAccount(t, l, s, a, types.Blake2b256([]byte("genesis")), types.NewAmount(1000))
	openHash, err := openA.Hash()
	require.NoError(t, err)

	c := &fakeContainer{}
	sc := New(l, c, 10)

	require.NoError(t, store.View(ctx, s, func(tx store.ReadTransaction) error {
		return sc.Activate(tx, a.account)
	}))

	require.Equal(t, 1, sc.Size())
	top := sc.prio.Top()
	require.NotNil(t, top)
	h, err := top.Hash()
	require.NoError(t, err)
	require.Equal(t, openHash, h)
}

func TestScheduler_ManualDrainsBeforePriority(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	a := newKeypair(t)
	openA := openAccount(t, l, s, a, types.Blake2b256([]byte("genesis")), types.NewAmount(1000))

	c := &fakeContainer{}
	sc := New(l, c, 10)
	require.NoError(t, store.View(ctx, s, func(tx store.ReadTransaction) error {
		return sc.Activate(tx, a.account)
	}))
	require.Equal(t, 1, sc.Size())

	b2 := newKeypair(t)
	openB := openAccount(t, l, s, b2, types.Blake2b256([]byte("genesis-b")), types.NewAmount(500))
	sc.Manual(openB, election.BehaviorNormal, nil)

	go sc.Run()
	defer sc.Stop()

	require.Eventually(t, func() bool {
		return len(c.inserts) == 2
	}, time.Second, time.Millisecond)

	manualHash, err := openB.Hash()
	require.NoError(t, err)
	firstHash, err := c.inserts[0].Hash()
	require.NoError(t, err)
	require.Equal(t, manualHash, firstHash)

	priorityHash, err := openA.Hash()
	require.NoError(t, err)
	secondHash, err := c.inserts[1].Hash()
	require.NoError(t, err)
	require.Equal(t, priorityHash, secondHash)
}

func TestScheduler_NoVacancyBlocksPriorityAdmission(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	a := newKeypair(t)
	openA := openAccount(t, l, s, a, types.Blake2b256([]byte("genesis")), types.NewAmount(1000))
	_ = openA

	c := &fakeContainer{activeLen: 10}
	sc := New(l, c, 10)
	require.NoError(t, store.View(ctx, s, func(tx store.ReadTransaction) error {
		return sc.Activate(tx, a.account)
	}))

	go sc.Run()
	defer sc.Stop()

	time.Sleep(20 * time.Millisecond)
	require.Empty(t, c.inserts)
	require.Equal(t, 1, sc.Size())
}
