package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mailroom/mailroom/internal/config"
	"github.com/mailroom/mailroom/internal/fileutil"
)

// Version is set at build time.
var Version = "dev"

var (
	cfgFile   string
	serverURL string
	verbose   bool
	cfg       *config.Config
	logger    *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "mailroom",
	Short: "Shared mailbox administration for Google Workspace",
	Long: `mailroom lets a single administrator manage a set of Google Workspace
mailboxes: browse folders, search, archive or delete in bulk, and send mail
as any managed address.

Run 'mailroom serve' on a host with the Workspace service account, then
'mailroom login' and 'mailroom tui' from any terminal.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}

		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = newLogger(os.Stderr, level)

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if serverURL != "" {
			cfg.Client.URL = serverURL
		}

		if err := fileutil.MkdirPrivate(cfg.HomeDir); err != nil {
			return fmt.Errorf("create home directory %s: %w", cfg.HomeDir, err)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "mailroom %s\n", Version)
	},
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Execute runs the root command with a background context.
// Prefer ExecuteContext for signal-aware execution.
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the root command with the given context,
// enabling graceful shutdown when the context is cancelled.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.mailroom/config.toml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "mailroom server URL (overrides [client] url)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.AddCommand(versionCmd)
}
