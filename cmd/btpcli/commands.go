package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/interledger-deprecated/ilp-plugin-payment-channel-framework/btpplugin"
	"github.com/interledger-deprecated/ilp-plugin-payment-channel-framework/btpwire"
	"github.com/interledger-deprecated/ilp-plugin-payment-channel-framework/transferlog"
	"github.com/urfave/cli"
)

var sendTransferCommand = cli.Command{
	Name:      "sendtransfer",
	Usage:     "Escrow a conditional transfer towards the peer.",
	ArgsUsage: "amount condition",
	Description: "Prepares a transfer of the given amount behind the " +
		"given base64url SHA-256 condition. The transfer expires " +
		"after --expiry seconds unless the peer presents the " +
		"preimage first.",
	Flags: []cli.Flag{
		cli.Int64Flag{
			Name:  "expiry",
			Value: 60,
			Usage: "seconds until the escrow is reclaimed",
		},
	},
	Action: sendTransfer,
}

func sendTransfer(ctx *cli.Context) error {
	args := ctx.Args()
	if len(args) != 2 {
		cli.ShowCommandHelp(ctx, "sendtransfer")
		return fmt.Errorf("amount and condition are required")
	}

	var amount uint64
	if _, err := fmt.Sscanf(args[0], "%d", &amount); err != nil {
		return fmt.Errorf("invalid amount %q: %v", args[0], err)
	}
	condition, err := btpplugin.ParseFulfillment(args[1])
	if err != nil {
		return fmt.Errorf("invalid condition: %v", err)
	}

	plugin, cleanUp := getPlugin(ctx)
	defer cleanUp()

	transfer := &transferlog.Transfer{
		ID:                 uuid.NewString(),
		Amount:             amount,
		ExecutionCondition: condition,
		ExpiresAt: time.Now().Add(time.Duration(
			ctx.Int64("expiry")) * time.Second),
	}
	if err := plugin.SendTransfer(transfer); err != nil {
		return err
	}

	fmt.Printf("prepared transfer %v for %d\n", transfer.ID, amount)
	return nil
}

var fulfillCommand = cli.Command{
	Name:      "fulfill",
	Usage:     "Fulfill an incoming transfer with its preimage.",
	ArgsUsage: "transfer-id fulfillment",
	Action:    fulfill,
}

func fulfill(ctx *cli.Context) error {
	args := ctx.Args()
	if len(args) != 2 {
		cli.ShowCommandHelp(ctx, "fulfill")
		return fmt.Errorf("transfer id and fulfillment are required")
	}

	plugin, cleanUp := getPlugin(ctx)
	defer cleanUp()

	if err := plugin.FulfillCondition(args[0], args[1]); err != nil {
		return err
	}

	fmt.Printf("fulfilled transfer %v, balance now %v\n", args[0],
		plugin.GetBalance())
	return nil
}

var rejectCommand = cli.Command{
	Name:      "reject",
	Usage:     "Reject an incoming prepared transfer.",
	ArgsUsage: "transfer-id [reason]",
	Action:    reject,
}

func reject(ctx *cli.Context) error {
	args := ctx.Args()
	if len(args) < 1 {
		cli.ShowCommandHelp(ctx, "reject")
		return fmt.Errorf("a transfer id is required")
	}

	reason := "rejected by operator"
	if len(args) > 1 {
		reason = args[1]
	}

	plugin, cleanUp := getPlugin(ctx)
	defer cleanUp()

	err := plugin.RejectIncomingTransfer(args[0],
		&btpplugin.RejectionReason{
			Code:        btpwire.CodeNotAcceptedError.String(),
			Name:        btpwire.NameNotAcceptedError,
			TriggeredAt: time.Now(),
			Data:        reason,
		})
	if err != nil {
		return err
	}

	fmt.Printf("rejected transfer %v\n", args[0])
	return nil
}

var balanceCommand = cli.Command{
	Name:  "balance",
	Usage: "Show the local and the peer's view of the balance.",
	Action: func(ctx *cli.Context) error {
		plugin, cleanUp := getPlugin(ctx)
		defer cleanUp()

		fmt.Printf("local:  %v\n", plugin.GetBalance())

		peerBalance, err := plugin.GetPeerBalance()
		if err != nil {
			return err
		}
		fmt.Printf("peer:   %v\n", peerBalance)
		fmt.Printf("limit:  %v\n", plugin.GetLimit())
		return nil
	},
}

var infoCommand = cli.Command{
	Name:  "info",
	Usage: "Query the peer's plugin info document.",
	Action: func(ctx *cli.Context) error {
		plugin, cleanUp := getPlugin(ctx)
		defer cleanUp()

		response, err := plugin.SendRequest([]btpwire.ProtocolData{{
			Name:        "info",
			ContentType: btpwire.ContentTypeOctetStream,
		}})
		if err != nil {
			return err
		}
		if len(response) == 0 {
			return fmt.Errorf("peer returned no info")
		}

		var pretty map[string]interface{}
		if err := json.Unmarshal(response[0].Data, &pretty); err != nil {
			return err
		}
		out, err := json.MarshalIndent(pretty, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}
