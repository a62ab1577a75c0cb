// Package commands implements the redline CLI: one-shot correction checks
// and ignore-rule management against a running redlined server.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// serverURL is the redlined server base URL.
	serverURL string

	// authToken is the bearer token identifying the user.
	authToken string

	// outputFormat controls output format (text, json).
	outputFormat string
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "redline",
	Short: "Inline correction CLI",
	Long: `Redline checks text for spelling and grammar issues against a
running redlined server and manages the per-user ignore rules that suppress
unwanted corrections.`,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&serverURL, "server", "",
		"redlined server URL (default: $REDLINE_SERVER or "+
			"http://localhost:8433)",
	)
	rootCmd.PersistentFlags().StringVar(
		&authToken, "token", "",
		"Bearer token (default: $REDLINE_TOKEN)",
	)
	rootCmd.PersistentFlags().StringVar(
		&outputFormat, "format", "text",
		"Output format: text, json",
	)

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(ignoresCmd)
	rootCmd.AddCommand(versionCmd)
}
