package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	serverURL string
	token     string
	timeout   int
	debug     bool
)

var rootCmd = &cobra.Command{
	Use:   "watchpost-cli",
	Short: "Operate a watchpost daemon over its HTTP API",
	Long: `watchpost-cli talks to the dashboard API of a running watchpost daemon.

The server and token default to WATCHPOST_SERVER and WATCHPOST_TOKEN, which
may also be set in a .env file. Get a token with "watchpost-cli login".`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Daemon base URL (default $WATCHPOST_SERVER or http://localhost:5000)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "Bearer token (default $WATCHPOST_TOKEN)")
	rootCmd.PersistentFlags().IntVar(&timeout, "timeout", 30, "Request timeout in seconds")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Print HTTP requests and responses")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()

	if serverURL == "" {
		serverURL = os.Getenv("WATCHPOST_SERVER")
	}
	if serverURL == "" {
		serverURL = "http://localhost:5000"
	}
	if token == "" {
		token = os.Getenv("WATCHPOST_TOKEN")
	}
}

func newClientFromFlags() *Client {
	return NewClient(serverURL, token, timeout, debug)
}
