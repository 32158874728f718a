// Command mailspend runs the email-to-expense ingestion service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"google.golang.org/api/gmail/v1"

	"github.com/mailspend/mailspend/internal/daemon"
	"github.com/mailspend/mailspend/internal/metrics"
	"github.com/mailspend/mailspend/internal/server"
	"github.com/mailspend/mailspend/pkg/config"
	"github.com/mailspend/mailspend/pkg/credentials"
	"github.com/mailspend/mailspend/pkg/dedupe"
	"github.com/mailspend/mailspend/pkg/expense"
	"github.com/mailspend/mailspend/pkg/importer"
	"github.com/mailspend/mailspend/pkg/ledger"
	"github.com/mailspend/mailspend/pkg/logging"
	gmailbox "github.com/mailspend/mailspend/pkg/mailbox/gmail"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.LogLevel, cfg.LogJSON)

	if err := run(cfg, logger); err != nil {
		logger.Error("service failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	pool, err := newPool(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	credStore, err := credentials.NewStore(ctx, pool, logger.With("component", "credentials"))
	if err != nil {
		return err
	}
	ledgerStore, err := ledger.New(ctx, pool, logger.With("component", "ledger"))
	if err != nil {
		return err
	}
	expenseStore, err := expense.New(ctx, pool, logger.With("component", "expenses"))
	if err != nil {
		return err
	}

	oauthCfg, err := credentials.OAuthConfig(cfg.SecretsFilePath, gmail.GmailReadonlyScope)
	if err != nil {
		return err
	}

	provider := credentials.NewProvider(credStore, oauthCfg, logger.With("component", "credentials"))
	opener := gmailbox.NewOpener(provider, logger.With("component", "gmail"))
	judge := dedupe.New(expenseStore, ledgerStore, logger.With("component", "dedupe"))

	imp := importer.New(
		opener,
		importer.NewLocator(nil, logger.With("component", "locator")),
		ledgerStore,
		expenseStore,
		judge,
		cfg.Cooldown(),
		logger.With("component", "importer"),
	)

	m := metrics.New()

	if cfg.ImportIntervalMinutes > 0 {
		d := daemon.New(credStore, imp, m, cfg.ImportIntervalMinutes, logger.With("component", "daemon"))
		if err := d.Start(); err != nil {
			return err
		}
		defer d.Stop()
	}

	srv := server.New(imp, m, logger.With("component", "http"))
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}

	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("service stopped")
	return nil
}

func newPool(ctx context.Context, cfg config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Postgres.ConnString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logger.Info("connected to PostgreSQL",
		"host", cfg.Postgres.Host,
		"database", cfg.Postgres.Database,
	)
	return pool, nil
}
