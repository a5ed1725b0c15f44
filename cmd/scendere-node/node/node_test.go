package node

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/scendere/scendere-node/cmd/scendere-node/flags"
	"github.com/scendere/scendere-node/config"
	"github.com/scendere/scendere-node/core/blocks"
	"github.com/scendere/scendere-node/core/types"
	"github.com/scendere/scendere-node/p2p/peer"
)

func cliContext(t *testing.T, set func(*flag.FlagSet)) *cli.Context {
	app := cli.NewApp()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	for _, f := range flags.All {
		require.NoError(t, f.Apply(fs))
	}
	if set != nil {
		set(fs)
	}
	return cli.NewContext(app, fs, nil)
}

func TestLoadConfig_DefaultsToLiveProfile(t *testing.T) {
	ctx := cliContext(t, nil)

	c, err := loadConfig(ctx)
	require.NoError(t, err)
	require.Equal(t, config.Default(), c)
}

func TestLoadConfig_DevProfile(t *testing.T) {
	ctx := cliContext(t, func(fs *flag.FlagSet) {
		require.NoError(t, fs.Set(flags.Network.Name, "dev"))
	})

	c, err := loadConfig(ctx)
	require.NoError(t, err)
	require.Equal(t, config.Dev(), c)
}

func TestLoadConfig_OverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "constants.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_hashes_per_vote: 7\n"), 0o600))

	ctx := cliContext(t, func(fs *flag.FlagSet) {
		require.NoError(t, fs.Set(flags.ConfigFile.Name, path))
	})

	c, err := loadConfig(ctx)
	require.NoError(t, err)
	require.Equal(t, 7, c.MaxHashesPerVote)
	require.Equal(t, config.Default().WireVersionMax, c.WireVersionMax)
}

func TestLoadConfig_MissingFileErrors(t *testing.T) {
	ctx := cliContext(t, func(fs *flag.FlagSet) {
		require.NoError(t, fs.Set(flags.ConfigFile.Name, filepath.Join(t.TempDir(), "missing.yaml")))
	})

	_, err := loadConfig(ctx)
	require.Error(t, err)
}

func TestDecodeSeed(t *testing.T) {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i)
	}
	hexSeed := "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

	seed, err := decodeSeed(hexSeed)
	require.NoError(t, err)
	require.Equal(t, raw, seed[:])
}

func TestDecodeSeed_WrongLength(t *testing.T) {
	_, err := decodeSeed("aabbcc")
	require.Error(t, err)
}

func TestDecodeSeed_InvalidHex(t *testing.T) {
	_, err := decodeSeed("not-hex-at-all-zz")
	require.Error(t, err)
}

func TestBlockAccount_OpenAndStateCarryAccountDirectly(t *testing.T) {
	var want types.Account
	want[0] = 0x42

	open := &blocks.Block{Type: blocks.TypeOpen, Account: want}
	require.Equal(t, want, blockAccount(open))

	state := &blocks.Block{Type: blocks.TypeState, Account: want}
	require.Equal(t, want, blockAccount(state))
}

func TestBlockAccount_LegacyBlockComesFromSideband(t *testing.T) {
	var want types.Account
	want[0] = 0x7

	send := &blocks.Block{Type: blocks.TypeSend, Sideband: &blocks.Sideband{Account: want}}
	require.Equal(t, want, blockAccount(send))
}

func TestBlockAccount_LegacyBlockWithoutSidebandIsZero(t *testing.T) {
	send := &blocks.Block{Type: blocks.TypeSend}
	require.Equal(t, types.Account{}, blockAccount(send))
}

func TestVoteChannel_StringDelegatesToKey(t *testing.T) {
	// voteChannel.String must equal the embedded Channel's Key so
	// vote/processor can use it the same way p2p keys channels by peer.
	ch := peer.NewChannel("peer-1", nil, nil)
	vc := voteChannel{ch}
	require.Equal(t, ch.Key(), vc.String())
}
