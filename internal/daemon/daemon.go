// Package daemon runs periodic imports for every connected account.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mailspend/mailspend/internal/metrics"
	"github.com/mailspend/mailspend/pkg/api"
)

// AccountSource lists the accounts with stored credentials.
type AccountSource interface {
	Accounts(ctx context.Context) ([]string, error)
}

// ImportRunner triggers one import run per account.
type ImportRunner interface {
	Run(ctx context.Context, accountID string) (api.RunSummary, error)
}

// Daemon triggers imports on a fixed schedule. Per-account single-flight
// and cooldown stay with the orchestrator; the daemon just asks and
// accepts "try later".
type Daemon struct {
	cron     *cron.Cron
	accounts AccountSource
	importer ImportRunner
	metrics  *metrics.Metrics
	interval int
	logger   *slog.Logger
}

// New creates a daemon firing every intervalMinutes.
func New(accounts AccountSource, importer ImportRunner, m *metrics.Metrics, intervalMinutes int, logger *slog.Logger) *Daemon {
	if logger == nil {
		logger = slog.Default()
	}

	return &Daemon{
		cron:     cron.New(),
		accounts: accounts,
		importer: importer,
		metrics:  m,
		interval: intervalMinutes,
		logger:   logger,
	}
}

// Start schedules the periodic imports.
func (d *Daemon) Start() error {
	schedule := fmt.Sprintf("@every %dm", d.interval)
	if _, err := d.cron.AddFunc(schedule, d.runAll); err != nil {
		return fmt.Errorf("scheduling imports: %w", err)
	}

	d.cron.Start()
	d.logger.Info("import daemon started", "interval_minutes", d.interval)
	return nil
}

// Stop halts the schedule and waits for an in-flight cycle to finish.
func (d *Daemon) Stop() {
	<-d.cron.Stop().Done()
	d.logger.Info("import daemon stopped")
}

func (d *Daemon) runAll() {
	ctx := context.Background()

	accounts, err := d.accounts.Accounts(ctx)
	if err != nil {
		d.logger.Error("listing accounts failed", "error", err)
		return
	}

	for _, accountID := range accounts {
		start := time.Now()
		summary, err := d.importer.Run(ctx, accountID)

		var running *api.AlreadyRunningError
		switch {
		case errors.As(err, &running):
			d.logger.Debug("import not due", "account_id", accountID, "cooldown_remaining", running.CooldownRemaining)
			d.metrics.Imports.WithLabelValues(metrics.ResultRejected).Inc()

		case err != nil:
			d.logger.Warn("scheduled import failed", "account_id", accountID, "error", err)
			d.metrics.ObserveRun(summary, metrics.ResultFailed, time.Since(start))

		default:
			d.metrics.ObserveRun(summary, metrics.ResultCompleted, time.Since(start))
		}
	}
}
