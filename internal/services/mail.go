package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/oauth2"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/braidchat/switchboard/internal/execctx"
	"github.com/braidchat/switchboard/internal/logging"
	"github.com/braidchat/switchboard/internal/realtime"
	"github.com/braidchat/switchboard/internal/store"
)

const (
	mailServiceID = "mail"

	// maxThreadResults caps a single search so a card stays readable.
	maxThreadResults = 10
)

// Thread is one mail search hit.
type Thread struct {
	ID      string `json:"id"`
	Snippet string `json:"snippet"`
}

// ThreadSearcher runs a mail search on behalf of a linked account.
type ThreadSearcher interface {
	SearchThreads(ctx context.Context, account *store.LinkedAccount, query string) ([]Thread, error)
}

// Mail answers mail-addressed connection messages with a card listing
// matching threads, delivered to every open connection of the user.
type Mail struct {
	accounts store.AccountStore
	searcher ThreadSearcher
	deliver  Deliverer
	logger   *slog.Logger

	mu          sync.Mutex
	lastQueries map[string]string
}

func NewMail(accounts store.AccountStore, searcher ThreadSearcher, deliverer Deliverer, logger *slog.Logger) *Mail {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mail{
		accounts:    accounts,
		searcher:    searcher,
		deliver:     deliverer,
		logger:      logging.WithService(logger, mailServiceID),
		lastQueries: make(map[string]string),
	}
}

func (m *Mail) ID() string { return mailServiceID }

func (m *Mail) Descriptor() Descriptor {
	return Descriptor{ID: mailServiceID, Name: "Gmail"}
}

func (m *Mail) OAuthScopes() []string {
	return []string{gmail.GmailReadonlyScope}
}

func (m *Mail) HandleMessage(ec *execctx.Context, msg *realtime.ServiceMessage) error {
	query, _ := msg.Envelope.Details["query"].(string)
	if query == "" {
		return fmt.Errorf("mail message without a query")
	}

	ctx := context.Background()
	account, err := m.lookupAccount(ctx, ec.UserID(), msg.AccountID)
	if err != nil {
		return err
	}

	threads, err := m.searcher.SearchThreads(ctx, account, query)
	if err != nil {
		return fmt.Errorf("searching threads: %w", err)
	}

	m.mu.Lock()
	m.lastQueries[ec.UserID()] = query
	m.mu.Unlock()

	card := realtime.Envelope{
		Type:      realtime.TypeCard,
		ServiceID: mailServiceID,
		AccountID: msg.AccountID,
		Details: map[string]interface{}{
			"query":   query,
			"threads": threads,
		},
	}
	if _, err := m.deliver.Deliver(ctx, ec, card, true); err != nil {
		return fmt.Errorf("delivering mail card: %w", err)
	}
	m.logger.Debug("delivered mail card",
		logging.ContextID(ec.ID()),
		logging.UserHash(ec.UserID()),
		slog.Int("threads", len(threads)),
	)
	return nil
}

func (m *Mail) HandleConnectionClosed(ec *execctx.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lastQueries, ec.UserID())
}

// LastQuery returns the user's most recent search, if any connection of
// theirs is still open.
func (m *Mail) LastQuery(userID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.lastQueries[userID]
	return q, ok
}

func (m *Mail) lookupAccount(ctx context.Context, userID, accountID string) (*store.LinkedAccount, error) {
	account, err := m.accounts.FindByUser(ctx, store.ProviderGoogle, userID)
	if err != nil {
		return nil, fmt.Errorf("looking up linked account: %w", err)
	}
	if account.ExternalID != accountID {
		return nil, fmt.Errorf("message addresses unlinked account %q", accountID)
	}
	if !account.HasService(mailServiceID) {
		return nil, fmt.Errorf("account %q is not linked for mail", accountID)
	}
	return account, nil
}

// GoogleThreadSearcher searches Gmail with the linked account's stored
// credential.
type GoogleThreadSearcher struct{}

func (GoogleThreadSearcher) SearchThreads(ctx context.Context, account *store.LinkedAccount, query string) ([]Thread, error) {
	token := &oauth2.Token{
		AccessToken:  account.AccessToken,
		RefreshToken: account.RefreshToken,
		Expiry:       account.TokenExpiry,
	}
	svc, err := gmail.NewService(ctx, option.WithTokenSource(oauth2.StaticTokenSource(token)))
	if err != nil {
		return nil, fmt.Errorf("creating gmail service: %w", err)
	}

	res, err := svc.Users.Threads.List("me").
		Q(query).
		MaxResults(maxThreadResults).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("listing threads: %w", err)
	}

	threads := make([]Thread, 0, len(res.Threads))
	for _, t := range res.Threads {
		threads = append(threads, Thread{ID: t.Id, Snippet: t.Snippet})
	}
	return threads, nil
}
