// Package config centralizes the node's tunable constants behind one
// Constants value threaded through construction, rather than each
// package reaching for a mutable global the way the reference node's
// network_params singleton does. Mirrors the teacher's BeaconConfig()
// global-free accessor shape: a Constants is built once (Default,
// Dev, or Load from YAML) and passed down, not mutated in place.
package config

import (
	"time"

	"github.com/ghodss/yaml"

	"github.com/scendere/scendere-node/core/types"
	"github.com/scendere/scendere-node/core/work"
)

// Genesis describes the single account the ledger is seeded from: an
// open block with no predecessor, covering the network's entire
// initial supply.
type Genesis struct {
	Account        types.Account   `json:"account"`
	Representative types.Account   `json:"representative"`
	Balance        types.Amount    `json:"balance"`
	Signature      types.Signature `json:"signature"`
	Work           uint64          `json:"work"`
}

// Constants bundles every network-wide tunable this node's packages
// accept as a constructor argument instead of reading from a package
// global: quorum/weight parameters, wire protocol bounds, work
// difficulty thresholds and per-component rate limits.
type Constants struct {
	NetworkID string `json:"network_id"`

	Genesis Genesis `json:"genesis"`

	VoteMinimum               types.Amount  `json:"vote_minimum"`
	OnlineWeightMinimum       types.Amount  `json:"online_weight_minimum"`
	OnlineWeightQuorumPercent uint8         `json:"online_weight_quorum_percent"`
	OnlineWeightPeriod        time.Duration `json:"online_weight_period"`
	MaxWeightSamples          int           `json:"max_weight_samples"`

	MaxHashesPerVote int `json:"max_hashes_per_vote"`

	WireVersionMax   uint8 `json:"wire_version_max"`
	WireVersionUsing uint8 `json:"wire_version_using"`
	WireVersionMin   uint8 `json:"wire_version_min"`

	Work work.Thresholds `json:"work"`

	BandwidthRate  float64 `json:"bandwidth_rate"`
	BandwidthBurst int64   `json:"bandwidth_burst"`

	MaxBlockBroadcasts    int `json:"max_block_broadcasts"`
	MaxElectionRequests   int `json:"max_election_requests"`
	MaxElectionBroadcasts int `json:"max_election_broadcasts"`

	// MaxActiveElections bounds how many elections election.Container
	// admits concurrently; election/scheduler throttles new admissions
	// on vacancy against this figure.
	MaxActiveElections int `json:"max_active_elections"`

	MaxQueue        int    `json:"max_queue"`
	UnboundedCutoff uint64 `json:"unbounded_cutoff"`
	FilterSize      int    `json:"filter_size"`
}

// Default returns the live-network constants: conservative quorum and
// rate-limit values suitable for a production deployment. Individual
// values mirror the Default* constants already declared next to the
// components they configure (vote/onlinereps.OnlineWeightQuorumPercent,
// blockproc.DefaultMaxQueue, p2p/peer.DefaultBandwidthRate/Burst, and so
// on), collected here so a single Constants value can be threaded
// through the whole node instead of each package reaching for its own
// default independently.
func Default() Constants {
	return Constants{
		NetworkID: "live",

		// VoteMinimum/OnlineWeightMinimum are expressed in whole raw
		// units rather than the reference node's native 128-bit raw
		// balance literals: types.Amount only constructs from a uint64
		// or a big-endian byte-16 array, and no byte-exact genesis/
		// threshold constant survived retrieval to source either form
		// from. The quorum percentage and relative magnitude (online
		// weight minimum far exceeds vote minimum) are what the
		// election and onlinereps packages actually depend on.
		VoteMinimum:               types.NewAmount(1_000_000),
		OnlineWeightMinimum:       types.NewAmount(60_000_000_000),
		OnlineWeightQuorumPercent: 34,
		OnlineWeightPeriod:        5 * time.Minute,
		MaxWeightSamples:          4032,

		MaxHashesPerVote: 12,

		WireVersionMax:   19,
		WireVersionUsing: 19,
		WireVersionMin:   18,

		// These live-network difficulty thresholds are harder than
		// work.DevThresholds() (used by Dev below, and grounded exactly
		// on the reference node's dev-network test fixtures) but are
		// themselves an invented placeholder: no byte-exact live
		// threshold constant survived retrieval to ground these
		// against, only the dev fixture's.
		Work: work.Thresholds{
			Epoch1:        0xfffffff000000000,
			Epoch2:        0xfffffffc00000000,
			Epoch2Receive: 0xffffff0000000000,
			Base:          0xfffffffc00000000,
			Entry:         0xfffffff000000000,
		},

		BandwidthRate:  5 * 1024 * 1024,
		BandwidthBurst: 10 * 1024 * 1024,

		MaxBlockBroadcasts:    32,
		MaxElectionRequests:   30,
		MaxElectionBroadcasts: 10,

		// No byte-exact figure for this survived retrieval either;
		// 5000 matches the rough order of magnitude the reference
		// node's own default active-elections ceiling uses.
		MaxActiveElections: 5000,

		MaxQueue:        65536,
		UnboundedCutoff: 1000000,
		FilterSize:      4096,
	}
}

// Dev returns constants tuned for local development: a low-difficulty
// work threshold (work.DevThresholds) and a much lower online-weight
// minimum so a handful of local nodes can reach quorum, matching the
// reference node's dev network profile.
func Dev() Constants {
	c := Default()
	c.NetworkID = "dev"
	c.Work = work.DevThresholds()
	c.OnlineWeightMinimum = types.NewAmount(1)
	return c
}

// Load parses a YAML-encoded Constants document, starting from base so
// any field the document omits keeps base's value (typically
// config.Default() or config.Dev()).
func Load(raw []byte, base Constants) (Constants, error) {
	c := base
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return Constants{}, err
	}
	return c, nil
}
