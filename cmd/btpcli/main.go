package main

import (
	"context"
	"fmt"
	"os"

	"github.com/interledger-deprecated/ilp-plugin-payment-channel-framework/btpplugin"
	"github.com/urfave/cli"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[btpcli] %v\n", err)
	os.Exit(1)
}

// getPlugin builds a connected client-mode plugin from the global flags.
// The returned cleanup must be invoked once the command is done.
func getPlugin(ctx *cli.Context) (*btpplugin.Plugin, func()) {
	server := ctx.GlobalString("server")
	if server == "" {
		fatal(fmt.Errorf("a --server btp+ws(s) uri is required"))
	}

	plugin, err := btpplugin.New(btpplugin.Config{
		Server:     server,
		Prefix:     ctx.GlobalString("prefix"),
		MaxBalance: ctx.GlobalInt64("maxbalance"),
		MinBalance: ctx.GlobalInt64("minbalance"),
	})
	if err != nil {
		fatal(err)
	}

	if err := plugin.Connect(context.Background()); err != nil {
		fatal(err)
	}

	cleanUp := func() {
		plugin.Disconnect(context.Background())
	}
	return plugin, cleanUp
}

func main() {
	app := cli.NewApp()
	app.Name = "btpcli"
	app.Version = "0.1.0"
	app.Usage = "control plane for a BTP payment channel peer"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "server",
			Usage: "btp+ws(s)://user:token@host:port uri of the peer",
		},
		cli.StringFlag{
			Name:  "prefix",
			Value: "example.",
			Usage: "ledger prefix both accounts live under",
		},
		cli.Int64Flag{
			Name:  "maxbalance",
			Value: 1000000,
			Usage: "upper bound on the incoming escrowed balance",
		},
		cli.Int64Flag{
			Name:  "minbalance",
			Value: -1000000,
			Usage: "lower bound on the outgoing balance",
		},
	}
	app.Commands = []cli.Command{
		sendTransferCommand,
		fulfillCommand,
		rejectCommand,
		balanceCommand,
		infoCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
