package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	flags "github.com/jessevdk/go-flags"
)

const (
	defaultDataDirname = "data"
	defaultPort        = 9000
	defaultPrefix      = "example."
	defaultMaxBalance  = 1000000
	defaultMinBalance  = -1000000
)

// config defines the configuration options for btpd.
//
// See loadConfig for further details regarding the configuration loading
// process.
type config struct {
	Port    int    `long:"port" description:"TCP port to accept BTP peers on"`
	TLSCert string `long:"tlscert" description:"Path to the TLS certificate, enables wss together with tlskey"`
	TLSKey  string `long:"tlskey" description:"Path to the TLS key"`

	Prefix string `long:"prefix" description:"Ledger prefix both accounts live under, must end with a dot"`
	Secret string `long:"secret" description:"Shared secret peers must present during the auth handshake"`

	MaxBalance int64 `long:"maxbalance" description:"Upper bound on the incoming escrowed balance"`
	MinBalance int64 `long:"minbalance" description:"Lower bound on the outgoing balance, normally negative"`

	DataDir string `long:"datadir" description:"Directory holding the transfer log database; empty disables persistence"`

	Debug bool `long:"debug" description:"Enable debug logging"`
}

// loadConfig initializes and parses the config using command line options.
func loadConfig() (*config, error) {
	cfg := config{
		Port:       defaultPort,
		Prefix:     defaultPrefix,
		MaxBalance: defaultMaxBalance,
		MinBalance: defaultMinBalance,
	}

	if _, err := flags.Parse(&cfg); err != nil {
		return nil, err
	}

	if cfg.Secret == "" {
		return nil, fmt.Errorf("a --secret is required to " +
			"authenticate peers")
	}
	if !strings.HasSuffix(cfg.Prefix, ".") {
		return nil, fmt.Errorf("--prefix must end with a dot")
	}
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("--tlscert and --tlskey must be set " +
			"together")
	}

	if cfg.DataDir != "" {
		cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = strings.Replace(path, "~", homeDir, 1)
		}
	}
	return filepath.Clean(os.ExpandEnv(path))
}
