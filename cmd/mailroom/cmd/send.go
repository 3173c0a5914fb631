package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mailroom/mailroom/internal/mailbox"
)

type sendFlags struct {
	to       string
	cc       string
	bcc      string
	subject  string
	body     string
	bodyFile string
	attach   []string
}

var sndFlags sendFlags

var sendCmd = &cobra.Command{
	Use:   "send <mailbox>",
	Short: "Send a message as a managed mailbox",
	Long: `Send a message from a managed mailbox.

The body comes from --body, or from --body-file ("-" reads stdin).

Examples:
  mailroom send ops@corp.example --to priya@northwind.example --subject "Invoice" --body "Attached." --attach invoice.pdf
  echo "Hello" | mailroom send ops@corp.example --to a@b.example --subject Hi --body-file -`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := sndFlags.readBody(cmd.InOrStdin())
		if err != nil {
			return err
		}
		return withLogin(func(env *clientEnv) error {
			c := mailbox.NewCompose(strings.TrimSpace(args[0]), env.client, logger)
			id, err := sendDraft(cmd.Context(), c, sndFlags, body)
			if err != nil {
				return env.apiError("send", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent message %s\n", id)
			return nil
		})
	},
}

func (f sendFlags) readBody(stdin io.Reader) (string, error) {
	switch {
	case f.bodyFile == "":
		return f.body, nil
	case f.body != "":
		return "", fmt.Errorf("use either --body or --body-file, not both")
	case f.bodyFile == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read body from stdin: %w", err)
		}
		return string(data), nil
	default:
		data, err := os.ReadFile(f.bodyFile)
		if err != nil {
			return "", fmt.Errorf("read body: %w", err)
		}
		return string(data), nil
	}
}

// sendDraft fills a compose from the flags and sends it synchronously.
func sendDraft(ctx context.Context, c *mailbox.Compose, f sendFlags, body string) (string, error) {
	c.Open()
	if err := c.Update(func(d *mailbox.ComposeDraft) {
		d.To = f.to
		d.Cc = f.cc
		d.Bcc = f.bcc
		d.Subject = f.subject
		d.Body = body
	}); err != nil {
		return "", err
	}
	for _, path := range f.attach {
		if err := c.AttachFile(path); err != nil {
			return "", fmt.Errorf("attach %s: %w", path, err)
		}
	}

	send, err := c.Submit()
	if err != nil {
		return "", err
	}
	c.Settle(send.Run(ctx))
	if err := c.Err(); err != nil {
		return "", err
	}
	return c.LastSentID(), nil
}

func init() {
	f := sendCmd.Flags()
	f.StringVar(&sndFlags.to, "to", "", "recipients, comma separated")
	f.StringVar(&sndFlags.cc, "cc", "", "Cc recipients")
	f.StringVar(&sndFlags.bcc, "bcc", "", "Bcc recipients")
	f.StringVarP(&sndFlags.subject, "subject", "s", "", "subject")
	f.StringVarP(&sndFlags.body, "body", "b", "", "plain-text body")
	f.StringVar(&sndFlags.bodyFile, "body-file", "", "read the body from a file (- for stdin)")
	f.StringSliceVarP(&sndFlags.attach, "attach", "a", nil, "file to attach (repeatable)")
	rootCmd.AddCommand(sendCmd)
}
