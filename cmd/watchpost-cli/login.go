package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Get a dashboard token",
	Long: `Log in with the dashboard credentials and print a bearer token.

Example:
  export WATCHPOST_TOKEN=$(watchpost-cli login --username admin --password secret)`,
	RunE: runLogin,
}

func init() {
	rootCmd.AddCommand(loginCmd)
	loginCmd.Flags().String("username", "admin", "Dashboard username")
	loginCmd.Flags().String("password", "", "Dashboard password (default $WATCHPOST_PASSWORD)")
}

func runLogin(cmd *cobra.Command, args []string) error {
	username := mustGetString(cmd, "username")
	password := mustGetString(cmd, "password")
	if password == "" {
		password = os.Getenv("WATCHPOST_PASSWORD")
	}
	if password == "" {
		return fmt.Errorf("--password is required")
	}

	resp, err := newClientFromFlags().Login(cmd.Context(), username, password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Token valid until %s\n", resp.ExpiresAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Println(resp.Token)
	return nil
}
