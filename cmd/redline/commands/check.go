package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// checkCmd runs a one-shot correction check on a file.
var checkCmd = &cobra.Command{
	Use:   "check <file>",
	Short: "Check a file for correction issues",
	Long: `Check sends the file contents to the redlined server and prints
every flagged issue with its suggestions. Use "-" to read from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	var (
		text []byte
		err  error
	)
	if args[0] == "-" {
		text, err = io.ReadAll(os.Stdin)
	} else {
		text, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	client, err := getClient()
	if err != nil {
		return err
	}

	issues, err := client.Check(context.Background(), string(text))
	if err != nil {
		return fmt.Errorf("check failed: %w", err)
	}

	switch outputFormat {
	case "json":
		return outputJSON(issues)

	default:
		if len(issues) == 0 {
			fmt.Println("No issues found.")
			return nil
		}

		fmt.Printf("Issues (%d):\n\n", len(issues))
		for _, iss := range issues {
			fmt.Printf("  [%s] %q at offset %d\n", iss.Type,
				iss.Token, iss.Offset)
			if len(iss.Suggestions) > 0 {
				fmt.Printf("    suggestions: %s\n",
					strings.Join(iss.Suggestions, ", "))
			}
		}
	}

	return nil
}
