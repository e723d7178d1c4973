package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/oauth2"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/braidchat/switchboard/internal/execctx"
	"github.com/braidchat/switchboard/internal/logging"
	"github.com/braidchat/switchboard/internal/realtime"
	"github.com/braidchat/switchboard/internal/store"
)

const (
	driveServiceID = "drive"

	maxFileResults = 10
)

// File is one drive search hit.
type File struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MimeType    string `json:"mimeType"`
	WebViewLink string `json:"webViewLink,omitempty"`
}

// FileSearcher runs a file search on behalf of a linked account.
type FileSearcher interface {
	SearchFiles(ctx context.Context, account *store.LinkedAccount, query string) ([]File, error)
}

// Drive answers drive-addressed connection messages with a card listing
// matching files.
type Drive struct {
	accounts store.AccountStore
	searcher FileSearcher
	deliver  Deliverer
	logger   *slog.Logger
}

func NewDrive(accounts store.AccountStore, searcher FileSearcher, deliverer Deliverer, logger *slog.Logger) *Drive {
	if logger == nil {
		logger = slog.Default()
	}
	return &Drive{
		accounts: accounts,
		searcher: searcher,
		deliver:  deliverer,
		logger:   logging.WithService(logger, driveServiceID),
	}
}

func (d *Drive) ID() string { return driveServiceID }

func (d *Drive) Descriptor() Descriptor {
	return Descriptor{ID: driveServiceID, Name: "Google Drive"}
}

func (d *Drive) OAuthScopes() []string {
	return []string{drive.DriveMetadataReadonlyScope}
}

func (d *Drive) HandleMessage(ec *execctx.Context, msg *realtime.ServiceMessage) error {
	query, _ := msg.Envelope.Details["query"].(string)
	if query == "" {
		return fmt.Errorf("drive message without a query")
	}

	ctx := context.Background()
	account, err := d.accounts.FindByUser(ctx, store.ProviderGoogle, ec.UserID())
	if err != nil {
		return fmt.Errorf("looking up linked account: %w", err)
	}
	if account.ExternalID != msg.AccountID {
		return fmt.Errorf("message addresses unlinked account %q", msg.AccountID)
	}
	if !account.HasService(driveServiceID) {
		return fmt.Errorf("account %q is not linked for drive", msg.AccountID)
	}

	files, err := d.searcher.SearchFiles(ctx, account, query)
	if err != nil {
		return fmt.Errorf("searching files: %w", err)
	}

	card := realtime.Envelope{
		Type:      realtime.TypeCard,
		ServiceID: driveServiceID,
		AccountID: msg.AccountID,
		Details: map[string]interface{}{
			"query": query,
			"files": files,
		},
	}
	if _, err := d.deliver.Deliver(ctx, ec, card, true); err != nil {
		return fmt.Errorf("delivering drive card: %w", err)
	}
	d.logger.Debug("delivered drive card",
		logging.ContextID(ec.ID()),
		logging.UserHash(ec.UserID()),
		slog.Int("files", len(files)),
	)
	return nil
}

// HandleConnectionClosed is a no-op; drive keeps no per-connection state.
func (d *Drive) HandleConnectionClosed(*execctx.Context) {}

// GoogleFileSearcher searches Drive metadata with the linked account's
// stored credential.
type GoogleFileSearcher struct{}

func (GoogleFileSearcher) SearchFiles(ctx context.Context, account *store.LinkedAccount, query string) ([]File, error) {
	token := &oauth2.Token{
		AccessToken:  account.AccessToken,
		RefreshToken: account.RefreshToken,
		Expiry:       account.TokenExpiry,
	}
	svc, err := drive.NewService(ctx, option.WithTokenSource(oauth2.StaticTokenSource(token)))
	if err != nil {
		return nil, fmt.Errorf("creating drive service: %w", err)
	}

	escaped := strings.ReplaceAll(query, `'`, `\'`)
	call := svc.Files.List().
		Context(ctx).
		Q(fmt.Sprintf("name contains '%s' and trashed=false", escaped)).
		PageSize(maxFileResults).
		Fields("files(id, name, mimeType, webViewLink)")
	res, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}

	files := make([]File, 0, len(res.Files))
	for _, f := range res.Files {
		files = append(files, File{
			ID:          f.Id,
			Name:        f.Name,
			MimeType:    f.MimeType,
			WebViewLink: f.WebViewLink,
		})
	}
	return files, nil
}
