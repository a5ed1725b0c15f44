package epoch

import (
	"testing"

	"github.com/scendere/scendere-node/core/types"
	"github.com/stretchr/testify/require"
)

func TestIsSequential(t *testing.T) {
	require.True(t, IsSequential(Epoch0, Epoch1))
	require.True(t, IsSequential(Epoch1, Epoch2))
	require.False(t, IsSequential(Epoch0, Epoch2), "must reject skipping a version")
	require.False(t, IsSequential(Unspecified, Epoch0), "must reject upgrading from below epoch_0")
}

func TestNormalized(t *testing.T) {
	require.Equal(t, uint8(0), Normalized(Epoch0))
	require.Equal(t, uint8(1), Normalized(Epoch1))
	require.Equal(t, uint8(2), Normalized(Epoch2))
}

func TestRegistry_LinkRoundTrip(t *testing.T) {
	r := NewRegistry()
	signer := types.Blake2b256([]byte("epoch-signer-1"))
	link := types.Blake2b256([]byte("epoch v1 block"))
	r.Add(Epoch1, signer, link)

	require.True(t, r.IsEpochLink(link))
	got, ok := r.EpochForLink(link)
	require.True(t, ok)
	require.Equal(t, Epoch1, got)

	gotSigner, ok := r.Signer(Epoch1)
	require.True(t, ok)
	require.Equal(t, signer, gotSigner)

	require.False(t, r.IsEpochLink(types.Blake2b256([]byte("not an epoch link"))))
}

func TestRegistry_AddDuplicatePanics(t *testing.T) {
	r := NewRegistry()
	r.Add(Epoch1, types.Account{}, types.Link{1})
	require.Panics(t, func() {
		r.Add(Epoch1, types.Account{}, types.Link{2})
	})
}
