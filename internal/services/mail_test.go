package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/braidchat/switchboard/internal/execctx"
	"github.com/braidchat/switchboard/internal/realtime"
	"github.com/braidchat/switchboard/internal/store"
)

type fakeThreadSearcher struct {
	threads []Thread
	err     error
	queries []string
}

func (f *fakeThreadSearcher) SearchThreads(_ context.Context, _ *store.LinkedAccount, query string) ([]Thread, error) {
	f.queries = append(f.queries, query)
	return f.threads, f.err
}

type fakeDeliverer struct {
	envelopes []realtime.Envelope
	userIDs   []string
	multicast []bool
}

func (f *fakeDeliverer) Deliver(_ context.Context, ec *execctx.Context, env realtime.Envelope, multicast bool) (int, error) {
	f.envelopes = append(f.envelopes, env)
	f.userIDs = append(f.userIDs, ec.UserID())
	f.multicast = append(f.multicast, multicast)
	return 1, nil
}

func linkGoogleAccount(t *testing.T, accounts store.AccountStore, userID, externalID string, services ...string) {
	t.Helper()
	require.NoError(t, accounts.Upsert(context.Background(), &store.LinkedAccount{
		Provider:    store.ProviderGoogle,
		UserID:      userID,
		ExternalID:  externalID,
		Services:    services,
		AccessToken: "tok",
		TokenExpiry: time.Now().Add(time.Hour),
	}))
}

func connContext(userID string) *execctx.Context {
	ec := execctx.New(execctx.KindConnection, nil, nil)
	ec.BindUser(userID)
	return ec
}

func mailMessage(accountID, query string) *realtime.ServiceMessage {
	details := map[string]interface{}{}
	if query != "" {
		details["query"] = query
	}
	return &realtime.ServiceMessage{
		ServiceID: "mail",
		AccountID: accountID,
		Envelope: realtime.Envelope{
			Type:      "card",
			ServiceID: "mail",
			AccountID: accountID,
			Details:   details,
		},
	}
}

func TestMailDeliversCard(t *testing.T) {
	accounts := store.NewMemory()
	linkGoogleAccount(t, accounts, "u-1", "ext-1", "mail")
	searcher := &fakeThreadSearcher{threads: []Thread{
		{ID: "t-1", Snippet: "quarterly numbers"},
		{ID: "t-2", Snippet: "re: quarterly numbers"},
	}}
	deliverer := &fakeDeliverer{}
	mail := NewMail(accounts, searcher, deliverer, nil)

	err := mail.HandleMessage(connContext("u-1"), mailMessage("ext-1", "quarterly"))
	require.NoError(t, err)

	assert.Equal(t, []string{"quarterly"}, searcher.queries)
	require.Len(t, deliverer.envelopes, 1)
	env := deliverer.envelopes[0]
	assert.Equal(t, realtime.TypeCard, env.Type)
	assert.Equal(t, "mail", env.ServiceID)
	assert.Equal(t, "ext-1", env.AccountID)
	assert.Equal(t, "quarterly", env.Details["query"])
	assert.Equal(t, searcher.threads, env.Details["threads"])
	assert.Equal(t, []string{"u-1"}, deliverer.userIDs)
	assert.Equal(t, []bool{true}, deliverer.multicast)

	q, ok := mail.LastQuery("u-1")
	require.True(t, ok)
	assert.Equal(t, "quarterly", q)
}

func TestMailRejectsMissingQuery(t *testing.T) {
	accounts := store.NewMemory()
	linkGoogleAccount(t, accounts, "u-1", "ext-1", "mail")
	mail := NewMail(accounts, &fakeThreadSearcher{}, &fakeDeliverer{}, nil)

	err := mail.HandleMessage(connContext("u-1"), mailMessage("ext-1", ""))
	require.Error(t, err)
}

func TestMailRejectsUnlinkedUser(t *testing.T) {
	mail := NewMail(store.NewMemory(), &fakeThreadSearcher{}, &fakeDeliverer{}, nil)

	err := mail.HandleMessage(connContext("u-1"), mailMessage("ext-1", "q"))
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMailRejectsWrongAccount(t *testing.T) {
	accounts := store.NewMemory()
	linkGoogleAccount(t, accounts, "u-1", "ext-1", "mail")
	deliverer := &fakeDeliverer{}
	mail := NewMail(accounts, &fakeThreadSearcher{}, deliverer, nil)

	err := mail.HandleMessage(connContext("u-1"), mailMessage("ext-other", "q"))
	require.Error(t, err)
	assert.Empty(t, deliverer.envelopes)
}

func TestMailRejectsAccountWithoutMailService(t *testing.T) {
	accounts := store.NewMemory()
	linkGoogleAccount(t, accounts, "u-1", "ext-1", "drive")
	mail := NewMail(accounts, &fakeThreadSearcher{}, &fakeDeliverer{}, nil)

	err := mail.HandleMessage(connContext("u-1"), mailMessage("ext-1", "q"))
	require.Error(t, err)
}

func TestMailConnectionClosedForgetsQuery(t *testing.T) {
	accounts := store.NewMemory()
	linkGoogleAccount(t, accounts, "u-1", "ext-1", "mail")
	mail := NewMail(accounts, &fakeThreadSearcher{}, &fakeDeliverer{}, nil)

	require.NoError(t, mail.HandleMessage(connContext("u-1"), mailMessage("ext-1", "q")))
	_, ok := mail.LastQuery("u-1")
	require.True(t, ok)

	mail.HandleConnectionClosed(connContext("u-1"))
	_, ok = mail.LastQuery("u-1")
	assert.False(t, ok)
}

func TestMailScopes(t *testing.T) {
	mail := NewMail(store.NewMemory(), &fakeThreadSearcher{}, &fakeDeliverer{}, nil)
	assert.Equal(t, []string{"https://www.googleapis.com/auth/gmail.readonly"}, mail.OAuthScopes())
	assert.Equal(t, "mail", mail.ID())
}
