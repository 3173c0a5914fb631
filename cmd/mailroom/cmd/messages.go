package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mailroom/mailroom/internal/mailbox"
)

// messageFlags holds the filter flags of the messages command.
type messageFlags struct {
	folder        string
	query         string
	from          string
	to            string
	subject       string
	after         string
	before        string
	inFolder      string
	hasAttachment bool
	page          int
	pageSize      int
	json          bool
}

var msgFlags messageFlags

var messagesCmd = &cobra.Command{
	Use:   "messages <mailbox>",
	Short: "List one page of a mailbox",
	Long: `List one page of threads from a managed mailbox.

Free text and the structured flags are combined the same way as the TUI's
search and filter form.

Examples:
  mailroom messages ops@corp.example
  mailroom messages ops@corp.example --folder sent --page 2
  mailroom messages ops@corp.example --from priya --after 2024-01-01 --has-attachment
  mailroom messages ops@corp.example --query "invoice" --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		folder, filters, err := msgFlags.filters()
		if err != nil {
			return err
		}
		if msgFlags.page < 1 {
			return fmt.Errorf("--page must be at least 1")
		}
		pageSize := msgFlags.pageSize
		if pageSize <= 0 {
			pageSize = cfg.Client.PageSize
		}

		return withLogin(func(env *clientEnv) error {
			s := mailbox.NewSession(strings.TrimSpace(args[0]), env.client,
				mailbox.WithPageSize(pageSize),
				mailbox.WithLogger(logger))
			defer s.Close()

			if err := loadPage(cmd.Context(), s, folder, msgFlags.query, filters, msgFlags.page); err != nil {
				return env.apiError("list messages", err)
			}
			if msgFlags.json {
				return outputThreadsJSON(cmd.OutOrStdout(), s)
			}
			outputThreadsTable(cmd.OutOrStdout(), s)
			return nil
		})
	},
}

// filters validates the flags and converts them to a folder and filter set.
func (f messageFlags) filters() (mailbox.Folder, mailbox.FilterSet, error) {
	folder := mailbox.FolderInbox
	if f.folder != "" {
		var err error
		if folder, err = mailbox.ParseFolder(f.folder); err != nil {
			return 0, mailbox.FilterSet{}, err
		}
	}

	fs := mailbox.FilterSet{
		From:          f.from,
		To:            f.to,
		Subject:       f.subject,
		HasAttachment: f.hasAttachment,
	}
	var err error
	if fs.DateStart, err = parseDateFlag("after", f.after); err != nil {
		return 0, fs, err
	}
	if fs.DateEnd, err = parseDateFlag("before", f.before); err != nil {
		return 0, fs, err
	}
	if f.inFolder != "" {
		in, err := mailbox.ParseFolder(f.inFolder)
		if err != nil {
			return 0, fs, err
		}
		fs.Folder = in.Ptr()
	}
	return folder, fs, nil
}

func parseDateFlag(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation("2006-01-02", value, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: expected YYYY-MM-DD, got %q", name, value)
	}
	return t, nil
}

// loadPage drives a session to the requested page the same way the TUI
// does: folder first, then the query, then one NextPage per extra page.
func loadPage(ctx context.Context, s *mailbox.Session, folder mailbox.Folder, text string, fs mailbox.FilterSet, page int) error {
	fetch := s.SelectFolder(folder)
	if strings.TrimSpace(text) != "" || !fs.IsZero() {
		if f := s.CommitQuery(text, fs); f != nil {
			fetch = f
		}
	}
	if err := runFetch(ctx, s, fetch); err != nil {
		return err
	}
	for s.Page() < page {
		next, err := s.NextPage()
		if errors.Is(err, mailbox.ErrNoNextPage) {
			return fmt.Errorf("only %d page(s) available", s.Page())
		}
		if err != nil {
			return err
		}
		if err := runFetch(ctx, s, next); err != nil {
			return err
		}
	}
	return nil
}

func runFetch(ctx context.Context, s *mailbox.Session, f *mailbox.Fetch) error {
	if f == nil {
		return nil
	}
	s.Apply(f.Run(ctx))
	return s.Err()
}

func outputThreadsTable(w io.Writer, s *mailbox.Session) {
	threads := s.Threads()
	if len(threads) == 0 {
		fmt.Fprintf(w, "No messages in %s.\n", s.Folder().Label())
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tFROM\tSUBJECT\tFLAGS")
	fmt.Fprintln(tw, "──\t────\t────\t───────\t─────")
	for _, t := range threads {
		date := "-"
		if !t.Timestamp.IsZero() {
			date = t.Timestamp.Local().Format("2006-01-02 15:04")
		}
		var flags string
		if t.Starred {
			flags += "*"
		}
		if t.HasAttachments {
			flags += "@"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", t.ID, date, truncate(t.From, 30), truncate(t.Subject, 50), flags)
	}
	tw.Flush()

	r := s.Range()
	fmt.Fprintf(w, "\n%s: %d–%d of %d, page %d", s.Folder().Label(), r.Start, r.End, r.Total, s.Page())
	if s.HasNext() {
		fmt.Fprintf(w, " (use --page %d for more)", s.Page()+1)
	}
	fmt.Fprintln(w)
	if q := s.ActiveQuery(); q != "" {
		fmt.Fprintf(w, "Query: %s\n", q)
	}
}

func outputThreadsJSON(w io.Writer, s *mailbox.Session) error {
	threads := s.Threads()
	items := make([]map[string]any, len(threads))
	for i, t := range threads {
		atts := make([]map[string]any, len(t.Attachments))
		for j, a := range t.Attachments {
			atts[j] = map[string]any{
				"id":        a.ID,
				"filename":  a.Filename,
				"mime_type": a.MimeType,
				"size":      a.Size,
				"url":       s.AttachmentURL(a),
			}
		}
		items[i] = map[string]any{
			"id":              t.ID,
			"from":            t.From,
			"to":              t.To,
			"subject":         t.Subject,
			"snippet":         t.Snippet,
			"date":            t.Timestamp.Format(time.RFC3339),
			"starred":         t.Starred,
			"has_attachments": t.HasAttachments,
			"attachments":     atts,
		}
	}
	r := s.Range()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"mailbox":  s.Mailbox(),
		"folder":   s.Folder().Key(),
		"query":    s.ActiveQuery(),
		"page":     s.Page(),
		"has_next": s.HasNext(),
		"start":    r.Start,
		"end":      r.End,
		"total":    r.Total,
		"messages": items,
	})
}

// truncate shortens s to max runes, marking the cut with "...".
func truncate(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

func init() {
	f := messagesCmd.Flags()
	f.StringVar(&msgFlags.folder, "folder", "inbox", "folder: inbox, sent, drafts, starred, archive, spam, deleted")
	f.StringVarP(&msgFlags.query, "query", "q", "", "free-text search")
	f.StringVar(&msgFlags.from, "from", "", "sender filter")
	f.StringVar(&msgFlags.to, "to", "", "recipient filter")
	f.StringVar(&msgFlags.subject, "subject", "", "subject filter")
	f.StringVar(&msgFlags.after, "after", "", "messages on or after date (YYYY-MM-DD)")
	f.StringVar(&msgFlags.before, "before", "", "messages on or before date (YYYY-MM-DD)")
	f.StringVar(&msgFlags.inFolder, "in", "", "restrict the search to a folder")
	f.BoolVar(&msgFlags.hasAttachment, "has-attachment", false, "only messages with attachments")
	f.IntVar(&msgFlags.page, "page", 1, "page number")
	f.IntVarP(&msgFlags.pageSize, "limit", "n", 0, "page size (default: [client] page_size)")
	f.BoolVar(&msgFlags.json, "json", false, "Output as JSON")
	rootCmd.AddCommand(messagesCmd)
}
