package gmail

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/mailspend/mailspend/pkg/api"
)

// ClientProvider supplies authorized HTTP clients per account. The
// credential provider implements it.
type ClientProvider interface {
	Client(ctx context.Context, accountID string) (*http.Client, error)
}

// Opener opens Gmail mailboxes using per-account credentials.
type Opener struct {
	clients ClientProvider
	logger  *slog.Logger
}

// NewOpener creates a mailbox opener.
func NewOpener(clients ClientProvider, logger *slog.Logger) *Opener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Opener{clients: clients, logger: logger}
}

// Open returns a mailbox bound to the account's credential. Credential
// errors (api.ErrNoCredential, api.ErrRevoked) pass through unchanged.
func (o *Opener) Open(ctx context.Context, accountID string) (api.Mailbox, error) {
	httpClient, err := o.clients.Client(ctx, accountID)
	if err != nil {
		return nil, err
	}

	return New(ctx, httpClient, o.logger.With("account_id", accountID))
}
