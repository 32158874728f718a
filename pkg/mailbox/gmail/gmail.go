// Package gmail implements the mailbox API on top of Gmail.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/avast/retry-go"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/mailspend/mailspend/pkg/api"
)

const (
	gmailUser = "me"

	retryAttempts = 2
	retryDelay    = 5 * time.Second
)

// Mailbox talks to the Gmail API for one account.
type Mailbox struct {
	svc    *gmail.Service
	logger *slog.Logger
}

// New creates a Gmail mailbox from an authorized HTTP client.
func New(ctx context.Context, httpClient *http.Client, logger *slog.Logger) (*Mailbox, error) {
	if logger == nil {
		logger = slog.Default()
	}

	svc, err := gmail.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("creating gmail service: %w", err)
	}

	return &Mailbox{svc: svc, logger: logger}, nil
}

// Search returns the message IDs of the first result page for the query.
func (m *Mailbox) Search(ctx context.Context, query string) ([]string, error) {
	var resp *gmail.ListMessagesResponse

	err := retry.Do(
		func() error {
			var err error
			resp, err = m.svc.Users.Messages.List(gmailUser).Q(query).Context(ctx).Do()
			return err
		},
		retry.RetryIf(isRateLimited),
		retry.Attempts(retryAttempts),
		retry.Delay(retryDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, classify("listing messages", err)
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, msg := range resp.Messages {
		ids = append(ids, msg.Id)
	}

	m.logger.Debug("searched mailbox", "query", query, "count", len(ids))
	return ids, nil
}

// Message fetches one message and decodes its MIME part tree.
func (m *Mailbox) Message(ctx context.Context, id string) (*api.RawMessage, error) {
	var msg *gmail.Message

	err := retry.Do(
		func() error {
			var err error
			msg, err = m.svc.Users.Messages.Get(gmailUser, id).Format("full").Context(ctx).Do()
			return err
		},
		retry.RetryIf(isRateLimited),
		retry.Attempts(retryAttempts),
		retry.Delay(retryDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, classify(fmt.Sprintf("getting message %s", id), err)
	}

	raw := &api.RawMessage{
		ID:         msg.Id,
		Headers:    make(map[string]string),
		ReceivedAt: time.Unix(msg.InternalDate/1000, 0),
	}
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			if _, seen := raw.Headers[h.Name]; !seen {
				raw.Headers[h.Name] = h.Value
			}
		}
		raw.Payload = decodePart(msg.Payload)
	}

	return raw, nil
}

// Profile returns the mailbox owner address.
func (m *Mailbox) Profile(ctx context.Context) (string, error) {
	profile, err := m.svc.Users.GetProfile(gmailUser).Context(ctx).Do()
	if err != nil {
		return "", classify("getting profile", err)
	}
	return profile.EmailAddress, nil
}

func decodePart(p *gmail.MessagePart) *api.MessagePart {
	part := &api.MessagePart{
		MimeType: p.MimeType,
	}
	if p.Body != nil && p.Body.Data != "" {
		part.Body = decodeBody(p.Body.Data)
	}
	for _, child := range p.Parts {
		part.Parts = append(part.Parts, decodePart(child))
	}
	return part
}

func decodeBody(data string) string {
	b, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		// Gmail emits unpadded base64url for some parts.
		b, err = base64.RawURLEncoding.DecodeString(data)
		if err != nil {
			return ""
		}
	}
	return string(b)
}

func isRateLimited(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusTooManyRequests
}

// classify maps Gmail API failures onto the pipeline error taxonomy.
// Errors already carrying a credential sentinel pass through unchanged:
// a mid-run refresh failure surfaces via the oauth2 transport wrapping
// api.ErrRevoked, and stacking ErrSourceUnavailable on top would make
// the error satisfy both sentinels. Auth failures mean the grant is
// gone; everything else is transient.
func classify(op string, err error) error {
	if errors.Is(err, api.ErrRevoked) || errors.Is(err, api.ErrNoCredential) {
		return fmt.Errorf("%s: %w", op, err)
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusUnauthorized {
		return fmt.Errorf("%s: %w: %w", op, api.ErrRevoked, err)
	}
	return fmt.Errorf("%s: %w: %w", op, api.ErrSourceUnavailable, err)
}
