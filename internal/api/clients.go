package api

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/mailroom/mailroom/internal/gmail"
)

// GmailClients hands out a Gmail API bound to one mailbox.
type GmailClients interface {
	ForMailbox(ctx context.Context, mailbox string) (gmail.API, error)
}

// TokenSources mints delegated credentials per mailbox.
type TokenSources interface {
	TokenSource(ctx context.Context, mailbox string) (oauth2.TokenSource, error)
}

// DelegatedClients builds one REST client per mailbox, impersonating it
// through a service account with domain-wide delegation.
type DelegatedClients struct {
	tokens  TokenSources
	qps     float64
	opts    []gmail.ClientOption
	logger  *slog.Logger
	mu      sync.Mutex
	clients map[string]*gmail.Client
}

// NewDelegatedClients creates the client cache. Each mailbox gets its own
// rate limiter at qps.
func NewDelegatedClients(tokens TokenSources, qps float64, logger *slog.Logger, opts ...gmail.ClientOption) *DelegatedClients {
	if logger == nil {
		logger = slog.Default()
	}
	return &DelegatedClients{
		tokens:  tokens,
		qps:     qps,
		opts:    opts,
		logger:  logger,
		clients: make(map[string]*gmail.Client),
	}
}

// ForMailbox returns the cached client for mailbox, creating it on first use.
func (d *DelegatedClients) ForMailbox(ctx context.Context, mailbox string) (gmail.API, error) {
	key := strings.ToLower(strings.TrimSpace(mailbox))

	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.clients[key]; ok {
		return c, nil
	}
	ts, err := d.tokens.TokenSource(ctx, key)
	if err != nil {
		return nil, err
	}
	opts := append([]gmail.ClientOption{
		gmail.WithRateLimiter(gmail.NewRateLimiter(d.qps)),
		gmail.WithLogger(d.logger.With("mailbox", key)),
	}, d.opts...)
	c := gmail.NewClient(ts, opts...)
	d.clients[key] = c
	return c, nil
}

// Close releases every cached client.
func (d *DelegatedClients) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var errs []error
	for key, c := range d.clients {
		errs = append(errs, c.Close())
		delete(d.clients, key)
	}
	return errors.Join(errs...)
}

// DemoClients serves an in-memory seeded mailbox per address.
type DemoClients struct {
	now   func() time.Time
	mu    sync.Mutex
	boxes map[string]*gmail.MockAPI
}

// NewDemoClients creates demo mailboxes seeded relative to now.
func NewDemoClients(now func() time.Time) *DemoClients {
	if now == nil {
		now = time.Now
	}
	return &DemoClients{now: now, boxes: make(map[string]*gmail.MockAPI)}
}

// ForMailbox returns the demo mailbox for address, seeding it on first use.
func (d *DemoClients) ForMailbox(_ context.Context, mailbox string) (gmail.API, error) {
	key := strings.ToLower(strings.TrimSpace(mailbox))
	d.mu.Lock()
	defer d.mu.Unlock()
	box, ok := d.boxes[key]
	if !ok {
		box = gmail.NewDemoMailbox(key, d.now())
		d.boxes[key] = box
	}
	return box, nil
}

// Unavailable returns a GmailClients that fails every lookup with err,
// for servers started without a service account.
func Unavailable(err error) GmailClients {
	return unavailable{err: err}
}

type unavailable struct{ err error }

func (u unavailable) ForMailbox(context.Context, string) (gmail.API, error) {
	return nil, u.err
}
