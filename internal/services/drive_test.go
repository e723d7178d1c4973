package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/braidchat/switchboard/internal/realtime"
	"github.com/braidchat/switchboard/internal/store"
)

type fakeFileSearcher struct {
	files   []File
	err     error
	queries []string
}

func (f *fakeFileSearcher) SearchFiles(_ context.Context, _ *store.LinkedAccount, query string) ([]File, error) {
	f.queries = append(f.queries, query)
	return f.files, f.err
}

func driveMessage(accountID, query string) *realtime.ServiceMessage {
	details := map[string]interface{}{}
	if query != "" {
		details["query"] = query
	}
	return &realtime.ServiceMessage{
		ServiceID: "drive",
		AccountID: accountID,
		Envelope: realtime.Envelope{
			Type:      "card",
			ServiceID: "drive",
			AccountID: accountID,
			Details:   details,
		},
	}
}

func TestDriveDeliversCard(t *testing.T) {
	accounts := store.NewMemory()
	linkGoogleAccount(t, accounts, "u-1", "ext-1", "drive")
	searcher := &fakeFileSearcher{files: []File{
		{ID: "f-1", Name: "roadmap.pdf", MimeType: "application/pdf"},
	}}
	deliverer := &fakeDeliverer{}
	d := NewDrive(accounts, searcher, deliverer, nil)

	err := d.HandleMessage(connContext("u-1"), driveMessage("ext-1", "roadmap"))
	require.NoError(t, err)

	assert.Equal(t, []string{"roadmap"}, searcher.queries)
	require.Len(t, deliverer.envelopes, 1)
	env := deliverer.envelopes[0]
	assert.Equal(t, realtime.TypeCard, env.Type)
	assert.Equal(t, "drive", env.ServiceID)
	assert.Equal(t, searcher.files, env.Details["files"])
	assert.Equal(t, []bool{true}, deliverer.multicast)
}

func TestDriveRejectsAccountWithoutDriveService(t *testing.T) {
	accounts := store.NewMemory()
	linkGoogleAccount(t, accounts, "u-1", "ext-1", "mail")
	d := NewDrive(accounts, &fakeFileSearcher{}, &fakeDeliverer{}, nil)

	err := d.HandleMessage(connContext("u-1"), driveMessage("ext-1", "roadmap"))
	require.Error(t, err)
}

func TestDriveRejectsMissingQuery(t *testing.T) {
	accounts := store.NewMemory()
	linkGoogleAccount(t, accounts, "u-1", "ext-1", "drive")
	d := NewDrive(accounts, &fakeFileSearcher{}, &fakeDeliverer{}, nil)

	err := d.HandleMessage(connContext("u-1"), driveMessage("ext-1", ""))
	require.Error(t, err)
}

func TestDriveScopes(t *testing.T) {
	d := NewDrive(store.NewMemory(), &fakeFileSearcher{}, &fakeDeliverer{}, nil)
	assert.Equal(t, []string{"https://www.googleapis.com/auth/drive.metadata.readonly"}, d.OAuthScopes())
	assert.Equal(t, "drive", d.ID())
}
