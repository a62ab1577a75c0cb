package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// ignoresCmd groups the ignore-rule management subcommands.
var ignoresCmd = &cobra.Command{
	Use:   "ignores",
	Short: "Manage ignore rules",
	Long: `Ignore rules permanently suppress corrections for a (token, type)
pair. Rules are stored server-side per user and apply to every session.`,
}

var ignoresListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ignore rules",
	RunE:  runIgnoresList,
}

var ignoresAddCmd = &cobra.Command{
	Use:   "add <token> <type>",
	Short: "Add an ignore rule",
	Args:  cobra.ExactArgs(2),
	RunE:  runIgnoresAdd,
}

var ignoresRemoveCmd = &cobra.Command{
	Use:   "remove <rule-id>",
	Short: "Remove an ignore rule by ID",
	Args:  cobra.ExactArgs(1),
	RunE:  runIgnoresRemove,
}

var ignoresClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all ignore rules",
	RunE:  runIgnoresClear,
}

func init() {
	ignoresCmd.AddCommand(ignoresListCmd)
	ignoresCmd.AddCommand(ignoresAddCmd)
	ignoresCmd.AddCommand(ignoresRemoveCmd)
	ignoresCmd.AddCommand(ignoresClearCmd)
}

func runIgnoresList(cmd *cobra.Command, args []string) error {
	client, err := getClient()
	if err != nil {
		return err
	}

	rules, err := client.ListRules(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list ignore rules: %w", err)
	}

	switch outputFormat {
	case "json":
		return outputJSON(rules)

	default:
		if len(rules) == 0 {
			fmt.Println("No ignore rules.")
			return nil
		}

		fmt.Printf("Ignore rules (%d):\n\n", len(rules))
		for _, r := range rules {
			fmt.Printf("  %s\n", r.ID)
			fmt.Printf("    %q (%s), created %s\n", r.Token,
				r.Type, r.CreatedAt.Format(time.RFC3339))
		}
	}

	return nil
}

func runIgnoresAdd(cmd *cobra.Command, args []string) error {
	client, err := getClient()
	if err != nil {
		return err
	}

	rule, err := client.CreateRule(context.Background(), args[0], args[1])
	if err != nil {
		return fmt.Errorf("failed to add ignore rule: %w", err)
	}

	if outputFormat == "json" {
		return outputJSON(rule)
	}

	fmt.Printf("Added ignore rule %s for %q (%s).\n", rule.ID, rule.Token,
		rule.Type)

	return nil
}

func runIgnoresRemove(cmd *cobra.Command, args []string) error {
	client, err := getClient()
	if err != nil {
		return err
	}

	if err := client.DeleteRule(context.Background(), args[0]); err != nil {
		return fmt.Errorf("failed to remove ignore rule: %w", err)
	}

	fmt.Printf("Removed ignore rule %s.\n", args[0])

	return nil
}

func runIgnoresClear(cmd *cobra.Command, args []string) error {
	client, err := getClient()
	if err != nil {
		return err
	}

	if err := client.DeleteAllRules(context.Background()); err != nil {
		return fmt.Errorf("failed to clear ignore rules: %w", err)
	}

	fmt.Println("Cleared all ignore rules.")

	return nil
}
