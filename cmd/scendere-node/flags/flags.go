// Package flags declares the command-line flags cmd/scendere-node reads,
// mirroring the reference entrypoint's direct-flag-read shape (no
// altsrc, no flag groups) rather than routing every value through a
// secondary config object before it reaches the node constructor.
package flags

import "github.com/urfave/cli/v2"

// DataDir is where the bolt-backed ledger store and wallet keys live.
var DataDir = &cli.StringFlag{
	Name:  "datadir",
	Usage: "Directory to store the ledger database and wallet keys",
	Value: "./scendere-data",
}

// Network selects which config.Constants profile the node boots with.
var Network = &cli.StringFlag{
	Name:  "network",
	Usage: "Network profile: \"live\" or \"dev\"",
	Value: "live",
}

// ConfigFile optionally overrides fields of the selected network profile
// from a YAML document, the same file shape config.Load parses.
var ConfigFile = &cli.StringFlag{
	Name:  "config-file",
	Usage: "Path to a YAML file overriding network constants",
}

// ListenAddrs are the libp2p multiaddrs the node listens on.
var ListenAddrs = &cli.StringSliceFlag{
	Name:  "listen-addr",
	Usage: "libp2p multiaddr to listen on (repeatable)",
	Value: cli.NewStringSlice("/ip4/0.0.0.0/tcp/0"),
}

// Seed, hex-encoded, seeds deterministic wallet key derivation. Empty
// disables DeterministicInsert.
var Seed = &cli.StringFlag{
	Name:  "wallet-seed",
	Usage: "Hex-encoded 32-byte seed for deterministic wallet key derivation",
}

// All is the full flag set the top-level App registers.
var All = []cli.Flag{
	DataDir,
	Network,
	ConfigFile,
	ListenAddrs,
	Seed,
}
