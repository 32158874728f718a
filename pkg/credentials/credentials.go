// Package credentials implements the credential provider: durable
// storage of per-account OAuth tokens and transparent refresh. No other
// component reads or writes credentials directly.
package credentials

import (
	_ "embed"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/mailspend/mailspend/pkg/api"
)

//go:embed 001_create_credentials.sql
var migrationSQL string

// expirySlack refreshes tokens slightly before their stated expiry so a
// token handed out is valid for the duration of a message fetch.
const expirySlack = 30 * time.Second

// OAuthConfig builds an oauth2 config from a Google client secret file.
func OAuthConfig(secretsPath string, scopes ...string) (*oauth2.Config, error) {
	b, err := os.ReadFile(secretsPath)
	if err != nil {
		return nil, fmt.Errorf("reading client secret file: %w", err)
	}

	cfg, err := google.ConfigFromJSON(b, scopes...)
	if err != nil {
		return nil, fmt.Errorf("parsing client secret: %w", err)
	}

	return cfg, nil
}

// Store persists credentials in PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates the store and runs its migration.
func NewStore(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := pool.Exec(ctx, migrationSQL); err != nil {
		return nil, fmt.Errorf("migrating oauth_credentials: %w", err)
	}

	return &Store{pool: pool, logger: logger}, nil
}

// Get loads the credential for an account. Returns api.ErrNoCredential
// if the account never connected a mailbox.
func (s *Store) Get(ctx context.Context, accountID string) (api.Credential, error) {
	var cred api.Credential
	err := s.pool.QueryRow(ctx, `
		SELECT account_id, access_token, refresh_token, token_type, scope, expiry
		FROM oauth_credentials
		WHERE account_id = $1
	`, accountID).Scan(
		&cred.AccountID,
		&cred.AccessToken,
		&cred.RefreshToken,
		&cred.TokenType,
		&cred.Scope,
		&cred.Expiry,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return api.Credential{}, fmt.Errorf("account %s: %w", accountID, api.ErrNoCredential)
	}
	if err != nil {
		return api.Credential{}, fmt.Errorf("loading credential: %w", err)
	}

	return cred, nil
}

// Save upserts the credential for an account. The replacement is atomic:
// readers observe either the prior credential or the new one.
func (s *Store) Save(ctx context.Context, cred api.Credential) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO oauth_credentials (account_id, access_token, refresh_token, token_type, scope, expiry)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_type = EXCLUDED.token_type,
			scope = EXCLUDED.scope,
			expiry = EXCLUDED.expiry,
			updated_at = NOW()
	`, cred.AccountID, cred.AccessToken, cred.RefreshToken, cred.TokenType, cred.Scope, cred.Expiry)
	if err != nil {
		return fmt.Errorf("saving credential: %w", err)
	}

	return nil
}

// Delete removes the credential for an account (user disconnect).
func (s *Store) Delete(ctx context.Context, accountID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM oauth_credentials WHERE account_id = $1`, accountID); err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}
	return nil
}

// Accounts lists all accounts with a stored credential.
func (s *Store) Accounts(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT account_id FROM oauth_credentials ORDER BY account_id`)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	var accounts []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		accounts = append(accounts, id)
	}

	return accounts, rows.Err()
}

// Provider supplies valid, auto-refreshing credentials.
type Provider struct {
	store  *Store
	oauth  *oauth2.Config
	logger *slog.Logger
}

// NewProvider creates a credential provider backed by the store.
func NewProvider(store *Store, oauthCfg *oauth2.Config, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}

	return &Provider{store: store, oauth: oauthCfg, logger: logger}
}

// Credential returns a valid credential for the account, refreshing and
// persisting it first when expired. Refresh failures propagate as
// api.ErrRevoked: the user must reconnect.
func (p *Provider) Credential(ctx context.Context, accountID string) (api.Credential, error) {
	cred, err := p.store.Get(ctx, accountID)
	if err != nil {
		return api.Credential{}, err
	}

	if cred.Expiry.After(time.Now().Add(expirySlack)) {
		return cred, nil
	}

	return p.refresh(ctx, cred)
}

func (p *Provider) refresh(ctx context.Context, cred api.Credential) (api.Credential, error) {
	p.logger.Debug("refreshing access token", "account_id", cred.AccountID)

	src := p.oauth.TokenSource(ctx, &oauth2.Token{
		RefreshToken: cred.RefreshToken,
		TokenType:    cred.TokenType,
	})

	tok, err := src.Token()
	if err != nil {
		return api.Credential{}, fmt.Errorf("refreshing token for %s: %w: %w", cred.AccountID, api.ErrRevoked, err)
	}

	refreshed := api.Credential{
		AccountID:    cred.AccountID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Scope:        cred.Scope,
		Expiry:       tok.Expiry,
	}
	// Google omits the refresh token from refresh responses.
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = cred.RefreshToken
	}

	if err := p.store.Save(ctx, refreshed); err != nil {
		return api.Credential{}, err
	}

	return refreshed, nil
}

// Client returns an HTTP client authorized for the account. The token
// source re-resolves through the provider, so refreshes during a long
// import run are persisted like any other.
func (p *Provider) Client(ctx context.Context, accountID string) (*http.Client, error) {
	cred, err := p.Credential(ctx, accountID)
	if err != nil {
		return nil, err
	}

	base := &accountTokenSource{provider: p, accountID: accountID}
	src := oauth2.ReuseTokenSource(tokenOf(cred), base)

	return oauth2.NewClient(ctx, src), nil
}

// accountTokenSource resolves tokens through the provider so that every
// refresh goes through the store.
type accountTokenSource struct {
	provider  *Provider
	accountID string
}

func (s *accountTokenSource) Token() (*oauth2.Token, error) {
	cred, err := s.provider.Credential(context.Background(), s.accountID)
	if err != nil {
		return nil, err
	}
	return tokenOf(cred), nil
}

func tokenOf(cred api.Credential) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		TokenType:    cred.TokenType,
		Expiry:       cred.Expiry,
	}
}
