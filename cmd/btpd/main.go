package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/btcsuite/btclog"
	"github.com/interledger-deprecated/ilp-plugin-payment-channel-framework/btpdb"
	"github.com/interledger-deprecated/ilp-plugin-payment-channel-framework/btpplugin"
	"github.com/interledger-deprecated/ilp-plugin-payment-channel-framework/btprpc"
	"github.com/interledger-deprecated/ilp-plugin-payment-channel-framework/btpwire"
	"github.com/interledger-deprecated/ilp-plugin-payment-channel-framework/transferlog"
)

// btpd runs a server-mode BTP plugin: it accepts one peer over a websocket,
// keeps the conditional transfer ledger durable on disk, and logs the
// transfer lifecycle.
func btpdMain() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	setupLoggers(cfg.Debug)

	pluginCfg := btpplugin.Config{
		Listener: &btpplugin.ListenerConfig{
			Port:        cfg.Port,
			TLSCertPath: cfg.TLSCert,
			TLSKeyPath:  cfg.TLSKey,
		},
		Prefix:         cfg.Prefix,
		MaxBalance:     cfg.MaxBalance,
		MinBalance:     cfg.MinBalance,
		IncomingSecret: cfg.Secret,
		Info: map[string]interface{}{
			"prefix": cfg.Prefix,
		},
	}

	if cfg.DataDir != "" {
		db, err := btpdb.Open(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("unable to open database: %v", err)
		}
		defer db.Close()
		pluginCfg.Store = db
	}

	plugin, err := btpplugin.New(pluginCfg)
	if err != nil {
		return err
	}

	// Surface the transfer lifecycle on the console.
	events := plugin.Events()
	events.SubscribeIncomingPrepare(func(e *btpplugin.TransferEvent) {
		fmt.Printf("incoming prepare %v amount %d\n", e.Transfer.ID,
			e.Transfer.Amount)
	})
	events.SubscribeIncomingCancel(func(e *btpplugin.TransferEvent) {
		fmt.Printf("incoming transfer %v expired\n", e.Transfer.ID)
	})
	events.SubscribeOutgoingFulfill(func(e *btpplugin.TransferEvent) {
		fmt.Printf("outgoing transfer %v fulfilled, balance %v\n",
			e.Transfer.ID, plugin.GetBalance())
	})

	if err := plugin.Connect(context.Background()); err != nil {
		return err
	}
	fmt.Printf("btpd listening on %v as %v\n", plugin.ListenAddr(),
		plugin.Account())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("shutting down")
	return plugin.Disconnect(context.Background())
}

// setupLoggers points every package logger at the console.
func setupLoggers(debug bool) {
	backend := btclog.NewBackend(os.Stderr)

	level := btclog.LevelInfo
	if debug {
		level = btclog.LevelDebug
	}

	for _, setup := range []struct {
		tag string
		use func(btclog.Logger)
	}{
		{"BTPW", btpwire.UseLogger},
		{"TLOG", transferlog.UseLogger},
		{"BRPC", btprpc.UseLogger},
		{"PLGN", btpplugin.UseLogger},
	} {
		logger := backend.Logger(setup.tag)
		logger.SetLevel(level)
		setup.use(logger)
	}
}

func main() {
	if err := btpdMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
