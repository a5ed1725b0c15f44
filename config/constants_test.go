package config

import (
	"testing"

	"github.com/stretchr/testify/require"
	yamlv2 "gopkg.in/yaml.v2"

	"github.com/scendere/scendere-node/core/types"
)

func TestDefault_HasSaneRelativeMagnitudes(t *testing.T) {
	c := Default()
	require.Equal(t, "live", c.NetworkID)
	require.True(t, c.OnlineWeightMinimum.Cmp(c.VoteMinimum) > 0,
		"online weight minimum must dwarf a single vote's minimum balance")
	require.Equal(t, uint8(34), c.OnlineWeightQuorumPercent)
}

func TestDev_LowersWorkDifficultyAndOnlineWeightMinimum(t *testing.T) {
	c := Dev()
	require.Equal(t, "dev", c.NetworkID)
	require.True(t, c.Work.Base < Default().Work.Base,
		"dev thresholds must be easier to satisfy than live thresholds")
	require.True(t, c.OnlineWeightMinimum.Cmp(Default().OnlineWeightMinimum) < 0)
}

func TestLoad_OverridesOnlyGivenFields(t *testing.T) {
	base := Default()
	raw := []byte(`
network_id: custom
max_hashes_per_vote: 7
`)
	c, err := Load(raw, base)
	require.NoError(t, err)
	require.Equal(t, "custom", c.NetworkID)
	require.Equal(t, 7, c.MaxHashesPerVote)
	// Untouched fields keep the base value.
	require.Equal(t, base.OnlineWeightQuorumPercent, c.OnlineWeightQuorumPercent)
	require.Equal(t, base.BandwidthRate, c.BandwidthRate)
}

func TestLoad_ParsesGenesisAndAmountFields(t *testing.T) {
	var account types.Account
	account[0] = 0xAB
	raw := []byte(`
genesis:
  account: "` + account.String() + `"
vote_minimum: "123456789"
`)
	c, err := Load(raw, Default())
	require.NoError(t, err)
	require.Equal(t, account, c.Genesis.Account)
	require.Equal(t, "123456789", c.VoteMinimum.String())
}

func TestLoad_RejectsMalformedYAML(t *testing.T) {
	_, err := Load([]byte("not: [valid"), Default())
	require.Error(t, err)
}

// genesisFixture mirrors the handful of fields a genesis test vector
// needs, parsed directly with gopkg.in/yaml.v2 (the library Load itself
// sits on top of via github.com/ghodss/yaml) rather than through
// Constants, to check the raw fixture shape independent of Load's
// JSON-tag-driven field mapping.
type genesisFixture struct {
	Account     string `yaml:"account"`
	Balance     string `yaml:"balance"`
	NetworkName string `yaml:"network_name"`
}

func TestGenesisFixture_ParsesWithYAMLv2(t *testing.T) {
	raw := []byte(`
account: ben_1111111111111111111111111111111111111111111111111111hifc8npp
balance: "340282366920938463463374607431768211455"
network_name: live
`)
	var fixture genesisFixture
	require.NoError(t, yamlv2.Unmarshal(raw, &fixture))
	require.Equal(t, "live", fixture.NetworkName)
	require.Equal(t, "340282366920938463463374607431768211455", fixture.Balance)
}
