package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

func TestExecuteContextCancellationPropagates(t *testing.T) {
	root := &cobra.Command{Use: "mailroom", SilenceUsage: true, SilenceErrors: true}
	started := make(chan struct{})
	root.AddCommand(&cobra.Command{
		Use: "wait",
		RunE: func(cmd *cobra.Command, args []string) error {
			close(started)
			select {
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			case <-time.After(5 * time.Second):
				return nil
			}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		root.SetArgs([]string{"wait"})
		done <- root.ExecuteContext(ctx)
	}()

	<-started
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("command did not observe cancellation")
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"serve", "tui", "login", "logout", "mailboxes", "messages", "send", "version"}
	have := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Errorf("command %q not registered", name)
		}
	}

	sub := make(map[string]bool)
	for _, c := range mailboxesCmd.Commands() {
		sub[c.Name()] = true
	}
	for _, name := range []string{"list", "add", "remove"} {
		if !sub[name] {
			t.Errorf("mailboxes %s not registered", name)
		}
	}
}

func TestVersionSkipsConfig(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("version: %v", err)
	}
	if got := buf.String(); got != "mailroom dev\n" {
		t.Errorf("output = %q", got)
	}
}
