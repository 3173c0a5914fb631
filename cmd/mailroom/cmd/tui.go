package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/mailroom/mailroom/internal/fileutil"
	"github.com/mailroom/mailroom/internal/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Open the interactive terminal UI",
	Long: `Open the interactive terminal UI against the configured server.

Navigation:
  ↑/k, ↓/j    Move up/down
  Enter       Open mailbox / show message
  Esc         Go back
  1-7         Switch folder
  /           Search, F for structured filters
  n, p        Next / previous page

Actions:
  Space       Toggle selection
  A           Select all
  a, #        Archive / delete selected
  s           Star / unstar
  c           Compose
  D           Campaign dashboard
  t           Toggle theme
  q           Quit

Logs are written to mailroom-tui.log in the mailroom home directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
			return fmt.Errorf("tui requires a terminal")
		}

		logPath := filepath.Join(cfg.HomeDir, "mailroom-tui.log")
		logFile, err := fileutil.OpenPrivate(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer logFile.Close()
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		tuiLogger := newLogger(logFile, level)

		env, err := openClient(tuiLogger)
		if err != nil {
			return err
		}
		defer env.Close()

		model := tui.New(env.console, tui.Options{
			Version: Version,
			Timeout: cfg.Client.Timeout,
		})
		p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(cmd.Context()))
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("run tui: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tuiCmd)
}
