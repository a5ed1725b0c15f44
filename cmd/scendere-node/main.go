// Command scendere-node runs a single delegated-proof-of-stake
// block-lattice node: ledger storage, election/voting and the libp2p
// transport, configured from CLI flags and an optional YAML constants
// file. Mirrors the reference entrypoint's urfave/cli/v2 shape (a flat
// flag set, one Action) rather than a cobra/subcommand tree.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/scendere/scendere-node/cmd/scendere-node/flags"
	"github.com/scendere/scendere-node/cmd/scendere-node/node"
)

var log = logrus.WithField("prefix", "main")

func main() {
	app := &cli.App{
		Name:  "scendere-node",
		Usage: "run a scendere block-lattice node",
		Flags: flags.All,
		Action: func(cliCtx *cli.Context) error {
			n, err := node.New(cliCtx)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			n.Start(ctx)
			n.Close()
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("scendere-node exited with an error")
	}
}
