package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/mailroom/mailroom/internal/analytics"
	"github.com/mailroom/mailroom/internal/api"
	"github.com/mailroom/mailroom/internal/config"
	"github.com/mailroom/mailroom/internal/fileutil"
	"github.com/mailroom/mailroom/internal/gmail"
	"github.com/mailroom/mailroom/internal/oauth"
	"github.com/mailroom/mailroom/internal/scheduler"
	"github.com/mailroom/mailroom/internal/store"
)

var serveDemo bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the mailroom API server",
	Long: `Run the HTTP API that the terminal client talks to.

The server impersonates each managed mailbox through a Google Workspace
service account with domain-wide delegation. Point [gmail]
service_account_file (or GMAIL_SERVICE_ACCOUNT_FILE) at its JSON key.

When [analytics] names a Notion database, the campaign dashboard is
refreshed on the configured cron schedule:
  [analytics]
  notion_secret = "secret_..."
  database_id = "..."
  schedule = "*/30 * * * *"

Use --demo to serve seeded in-memory mailboxes without Google access.
Use Ctrl+C to stop the server gracefully.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveDemo, "demo", false, "serve seeded demo mailboxes instead of Gmail")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if err := fileutil.MkdirPrivate(cfg.Data.DataDir); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.Data.DataDir, err)
	}
	s, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer s.Close()

	if err := s.InitSchema(); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	if err := fileutil.ChmodPrivate(cfg.DatabasePath()); err != nil {
		logger.Warn("restrict database", "error", err)
	}

	clients, closeClients, err := gmailClients()
	if err != nil {
		return err
	}
	defer closeClients()

	var opts []api.Option
	var sched *scheduler.Scheduler
	if cfg.Analytics.Enabled() {
		svc := analyticsService(cfg, s)
		opts = append(opts, api.WithDashboards(svc))

		sched = scheduler.New().WithLogger(logger)
		if err := sched.AddJob(api.AnalyticsJob, cfg.Analytics.Schedule, svc.RefreshJob); err != nil {
			return fmt.Errorf("schedule analytics refresh: %w", err)
		}
		opts = append(opts, api.WithScheduler(sched))
		sched.Start()

		go func() {
			if _, err := svc.Refresh(ctx); err != nil {
				logger.Warn("initial analytics refresh failed", "error", err)
			}
		}()
	}

	apiServer := api.NewServer(cfg, s, clients, logger, opts...)

	serverErr := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "mailroom server started\n")
	fmt.Fprintf(out, "  API server: http://%s\n", cfg.ListenAddr())
	fmt.Fprintf(out, "  Database: %s\n", cfg.DatabasePath())
	if serveDemo {
		fmt.Fprintln(out, "  Mode: demo mailboxes")
	}
	if sched != nil {
		for _, st := range sched.Status() {
			fmt.Fprintf(out, "  %s refresh: next at %s\n", st.Name, st.NextRun.Local().Format("2006-01-02 15:04:05"))
		}
	}
	if cfg.InsecureAdmin() {
		fmt.Fprintln(out, "\nWarning: the built-in admin password or secret key is in use.")
	}
	fmt.Fprintln(out, "\nPress Ctrl+C to stop.")

	var runErr error
	select {
	case err := <-serverErr:
		logger.Error("API server error", "error", err)
		runErr = fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
		logger.Info("shutting down", "reason", context.Cause(ctx))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown error", "error", err)
	}

	if sched != nil {
		select {
		case <-sched.Stop().Done():
		case <-time.After(30 * time.Second):
			logger.Warn("scheduler did not stop within 30 seconds")
		}
	}
	return runErr
}

// gmailClients picks the mailbox backend: demo data, delegated Gmail
// access, or a backend that reports the missing service account on every
// mailbox call.
func gmailClients() (api.GmailClients, func(), error) {
	if serveDemo {
		return api.NewDemoClients(time.Now), func() {}, nil
	}

	mgr, err := oauth.NewManager(cfg.Gmail.ServiceAccountFile, logger)
	if errors.Is(err, oauth.ErrNoServiceAccount) {
		logger.Warn("no service account configured; mailbox endpoints will fail",
			"path", cfg.Gmail.ServiceAccountFile)
		return api.Unavailable(err), func() {}, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load service account: %w", err)
	}
	logger.Info("using service account", "client_email", mgr.ClientEmail())

	clients := api.NewDelegatedClients(mgr, cfg.Gmail.RateLimitQPS, logger,
		gmail.WithConcurrency(cfg.Gmail.Concurrency))
	return clients, func() {
		if err := clients.Close(); err != nil {
			logger.Warn("close gmail clients", "error", err)
		}
	}, nil
}

func analyticsService(cfg *config.Config, s *store.Store) *analytics.Service {
	notion := analytics.NewClient(cfg.Analytics.NotionSecret, cfg.Analytics.DatabaseID, cfg.Analytics.APIVersion,
		analytics.Schema(cfg.Analytics.Schema),
		analytics.WithLogger(logger))
	notFound := func(err error) bool { return errors.Is(err, store.ErrNotFound) }
	return analytics.NewService(notion, s, notFound, logger)
}
