package main

import (
	"os"

	"github.com/spf13/cobra"

	"papertrade/pkg/papertrade"
)

var rootCmd = &cobra.Command{
	Use:   "papertrade-cli",
	Short: "Command-line client for the papertrade ledger",
	Long: `papertrade-cli talks to a running papertrade-server over HTTP.

Examples:
  papertrade-cli open --user alice --cash 10000
  papertrade-cli quote AAPL
  papertrade-cli buy AAPL 10 --user alice
  papertrade-cli portfolio --user alice
  papertrade-cli export --db data/papertrade.db --out data`,
	SilenceUsage: true,
}

var (
	serverURL string
	userID    string
)

func init() {
	defaultURL := "http://localhost:8080"
	if u := os.Getenv("PAPERTRADE_URL"); u != "" {
		defaultURL = u
	}
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", defaultURL, "papertrade-server base URL")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", os.Getenv("PAPERTRADE_USER"), "user ID")
}

func newClient() *papertrade.Client {
	return papertrade.NewClient(serverURL)
}
