package blocks

import (
	"testing"

	"github.com/scendere/scendere-node/core/epoch"
	"github.com/scendere/scendere-node/core/types"
	"github.com/stretchr/testify/require"
)

func TestBlock_MarshalUnmarshalRoundTrip(t *testing.T) {
	cases := []*Block{
		{
			Type:           TypeOpen,
			Source:         types.Blake2b256([]byte("source")),
			Representative: types.Blake2b256([]byte("rep")),
			Account:        types.Blake2b256([]byte("account")),
		},
		{
			Type:        TypeSend,
			Previous:    types.Blake2b256([]byte("prev")),
			Destination: types.Blake2b256([]byte("dest")),
			Balance:     types.NewAmount(100),
		},
		{
			Type:     TypeReceive,
			Previous: types.Blake2b256([]byte("prev")),
			Source:   types.Blake2b256([]byte("source")),
		},
		{
			Type:           TypeChange,
			Previous:       types.Blake2b256([]byte("prev")),
			Representative: types.Blake2b256([]byte("rep2")),
		},
		{
			Type:           TypeState,
			Account:        types.Blake2b256([]byte("account")),
			Previous:       types.Blake2b256([]byte("prev")),
			Representative: types.Blake2b256([]byte("rep")),
			Balance:        types.NewAmount(55),
			Link:           types.Blake2b256([]byte("link")),
		},
	}
	for _, b := range cases {
		t.Run(b.Type.String(), func(t *testing.T) {
			h1, err := b.Hash()
			require.NoError(t, err)

			raw, err := b.Marshal()
			require.NoError(t, err)

			decoded, err := Unmarshal(raw)
			require.NoError(t, err)
			h2, err := decoded.Hash()
			require.NoError(t, err)
			require.Equal(t, h1, h2, "round trip must preserve hash")
			require.Equal(t, b.Signature, decoded.Signature)
			require.Equal(t, b.Work, decoded.Work)
		})
	}
}

func TestBlock_RootIsAccountForOpen(t *testing.T) {
	b := &Block{Type: TypeOpen, Account: types.Blake2b256([]byte("acct"))}
	require.Equal(t, b.Account, b.Root())
}

func TestBlock_RootIsPreviousOtherwise(t *testing.T) {
	b := &Block{Type: TypeSend, Previous: types.Blake2b256([]byte("prev"))}
	require.Equal(t, b.Previous, b.Root())
}

func TestClassifyState_Send(t *testing.T) {
	b := &Block{Type: TypeState, Balance: types.NewAmount(5), Link: types.Blake2b256([]byte("dest"))}
	d, delta := ClassifyState(b, types.NewAmount(10), false)
	require.True(t, d.IsSend)
	require.Equal(t, deltaDecrease, delta)
}

func TestClassifyState_Receive(t *testing.T) {
	b := &Block{Type: TypeState, Balance: types.NewAmount(15), Link: types.Blake2b256([]byte("src-block"))}
	d, _ := ClassifyState(b, types.NewAmount(10), false)
	require.True(t, d.IsReceive)
}

func TestClassifyState_ChangeWhenLinkZero(t *testing.T) {
	b := &Block{Type: TypeState, Balance: types.NewAmount(10), Link: types.ZeroHash}
	d, delta := ClassifyState(b, types.NewAmount(10), false)
	require.False(t, d.IsSend)
	require.False(t, d.IsReceive)
	require.False(t, d.IsEpoch)
	require.Equal(t, deltaUnchanged, delta)
}

func TestClassifyState_Epoch(t *testing.T) {
	b := &Block{Type: TypeState, Balance: types.NewAmount(10), Link: types.Blake2b256([]byte("epoch v1 block"))}
	d, _ := ClassifyState(b, types.NewAmount(10), true)
	require.True(t, d.IsEpoch)
	require.False(t, d.IsSend)
	require.False(t, d.IsReceive)
}

func TestSideband_MarshalUnmarshalRoundTrip(t *testing.T) {
	sb := &Sideband{
		Successor:   types.Blake2b256([]byte("succ")),
		Account:     types.Blake2b256([]byte("acct")),
		Balance:     types.NewAmount(42),
		Height:      7,
		Timestamp:   123456,
		Details:     Details{Epoch: epoch.Epoch1, IsSend: true},
		SourceEpoch: epoch.Epoch0,
	}
	raw := MarshalSideband(TypeSend, sb)
	got, err := UnmarshalSideband(TypeSend, raw)
	require.NoError(t, err)
	require.Equal(t, sb.Successor, got.Successor)
	require.Equal(t, sb.Account, got.Account)
	require.Equal(t, 0, sb.Balance.Cmp(got.Balance))
	require.Equal(t, sb.Height, got.Height)
	require.Equal(t, sb.Timestamp, got.Timestamp)
	require.Equal(t, sb.Details, got.Details)
	require.Equal(t, sb.SourceEpoch, got.SourceEpoch)
}

func TestSideband_OpenBlockOmitsAccount(t *testing.T) {
	sb := &Sideband{Balance: types.NewAmount(1), Height: 1}
	raw := MarshalSideband(TypeOpen, sb)
	require.Len(t, raw, sidebandEncodedLen(TypeOpen))
	require.Less(t, sidebandEncodedLen(TypeOpen), sidebandEncodedLen(TypeSend))
}
