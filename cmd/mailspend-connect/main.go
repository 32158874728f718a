// Command mailspend-connect walks through the browser OAuth flow for a
// Gmail mailbox and stores the granted credential, keyed by the mailbox
// address. Run it once per account before triggering imports.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"google.golang.org/api/gmail/v1"

	"github.com/mailspend/mailspend/pkg/api"
	"github.com/mailspend/mailspend/pkg/client"
	"github.com/mailspend/mailspend/pkg/config"
	"github.com/mailspend/mailspend/pkg/credentials"
	"github.com/mailspend/mailspend/pkg/logging"
	gmailbox "github.com/mailspend/mailspend/pkg/mailbox/gmail"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogJSON)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	oauthCfg, err := credentials.OAuthConfig(cfg.SecretsFilePath, gmail.GmailReadonlyScope)
	if err != nil {
		return err
	}

	tok, err := client.Authorize(ctx, oauthCfg, logger)
	if err != nil {
		return fmt.Errorf("authorization failed: %w", err)
	}
	if tok.RefreshToken == "" {
		logger.Warn("no refresh token granted; revoke prior access at https://myaccount.google.com/permissions and reconnect")
	}

	// The mailbox address is the account identity.
	mb, err := gmailbox.New(ctx, oauthCfg.Client(ctx, tok), logger)
	if err != nil {
		return err
	}
	address, err := mb.Profile(ctx)
	if err != nil {
		return fmt.Errorf("resolving mailbox address: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.Postgres.ConnString())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	store, err := credentials.NewStore(ctx, pool, logger)
	if err != nil {
		return err
	}
	if err := store.Save(ctx, api.Credential{
		AccountID:    address,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Scope:        gmail.GmailReadonlyScope,
		Expiry:       tok.Expiry,
	}); err != nil {
		return err
	}

	fmt.Printf("\nConnected mailbox: %s\n", address)
	fmt.Println("Trigger an import with:")
	fmt.Printf("  curl -X POST http://localhost%s/api/accounts/%s/import\n", cfg.HTTPAddr, address)
	return nil
}
