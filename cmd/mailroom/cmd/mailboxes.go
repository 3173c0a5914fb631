package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

var mailboxesJSON bool

var mailboxesCmd = &cobra.Command{
	Use:     "mailboxes",
	Aliases: []string{"mb"},
	Short:   "Manage the registered mailboxes",
}

var mailboxesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered mailboxes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLogin(func(env *clientEnv) error {
			list, err := env.console.Mailboxes(cmd.Context())
			if err != nil {
				return env.apiError("list mailboxes", err)
			}
			return printMailboxes(cmd.OutOrStdout(), list, env.console.State().ActiveMailbox)
		})
	},
}

var mailboxesAddCmd = &cobra.Command{
	Use:   "add <address>",
	Short: "Register a mailbox",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLogin(func(env *clientEnv) error {
			list, err := env.console.AddMailbox(cmd.Context(), args[0])
			if err != nil {
				return env.apiError("add mailbox", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%d mailbox(es))\n", strings.TrimSpace(args[0]), len(list))
			return nil
		})
	},
}

var mailboxesRemoveCmd = &cobra.Command{
	Use:     "remove <address>",
	Aliases: []string{"rm"},
	Short:   "Unregister a mailbox",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLogin(func(env *clientEnv) error {
			address := strings.TrimSpace(args[0])
			list, err := env.console.RemoveMailbox(cmd.Context(), address)
			if err != nil {
				return env.apiError("remove mailbox", err)
			}
			if strings.EqualFold(env.console.State().ActiveMailbox, address) {
				if err := env.console.Exit(); err != nil {
					logger.Warn("clear active mailbox", "error", err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s (%d mailbox(es) left)\n", address, len(list))
			return nil
		})
	},
}

// withLogin opens the client and runs fn when a token is loaded.
func withLogin(fn func(env *clientEnv) error) error {
	env, err := openClient(logger)
	if err != nil {
		return err
	}
	defer env.Close()
	if err := env.requireLogin(); err != nil {
		return err
	}
	return fn(env)
}

func printMailboxes(w io.Writer, list []string, active string) error {
	if mailboxesJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"mailboxes": list, "active": active})
	}
	if len(list) == 0 {
		fmt.Fprintln(w, "No mailboxes registered. Use 'mailroom mailboxes add <address>' to add one.")
		return nil
	}
	for _, mb := range list {
		marker := "  "
		if strings.EqualFold(mb, active) {
			marker = "* "
		}
		fmt.Fprintf(w, "%s%s\n", marker, mb)
	}
	fmt.Fprintf(w, "\n%d mailbox(es)\n", len(list))
	return nil
}

func init() {
	mailboxesListCmd.Flags().BoolVar(&mailboxesJSON, "json", false, "Output as JSON")
	mailboxesCmd.AddCommand(mailboxesListCmd, mailboxesAddCmd, mailboxesRemoveCmd)
	rootCmd.AddCommand(mailboxesCmd)
}
