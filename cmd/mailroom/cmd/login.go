package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var (
	loginUsername string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to the mailroom server",
	Long: `Authenticate as the administrator and store the token in the system
keyring. Missing credentials are prompted for when running in a terminal.

Examples:
  mailroom login
  mailroom login --username admin --server https://mail-admin.example.com`,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openClient(logger)
		if err != nil {
			return err
		}
		defer env.Close()

		if loginUsername == "" || loginPassword == "" {
			if !isatty.IsTerminal(os.Stdin.Fd()) {
				return errors.New("--username and --password are required when not running in a terminal")
			}
			form := huh.NewForm(huh.NewGroup(
				huh.NewInput().Title("Username").Value(&loginUsername).Validate(nonEmpty("username")),
				huh.NewInput().Title("Password").EchoMode(huh.EchoModePassword).Value(&loginPassword).Validate(nonEmpty("password")),
			))
			if err := form.RunWithContext(cmd.Context()); err != nil {
				return err
			}
		}

		if err := env.console.Login(cmd.Context(), loginUsername, loginPassword); err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Logged in to %s\n", env.client.BaseURL())
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored token",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openClient(logger)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.console.Logout(); err != nil {
			return fmt.Errorf("logout: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Logged out of %s\n", env.client.BaseURL())
		return nil
	},
}

func nonEmpty(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

func init() {
	loginCmd.Flags().StringVarP(&loginUsername, "username", "u", "", "admin username")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "admin password (prompted when omitted)")
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}
