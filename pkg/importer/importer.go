// Package importer orchestrates one end-to-end import run per
// invocation: locate candidate messages, fetch and extract each one
// strictly in order, judge duplicates, and give every fresh message
// exactly one ledger entry.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mailspend/mailspend/pkg/api"
	"github.com/mailspend/mailspend/pkg/extract"
)

// Judge is the duplicate decision the orchestrator consults before
// creating an expense.
type Judge interface {
	IsDuplicate(ctx context.Context, accountID string, c api.CandidateExpense, messageID string) (bool, error)
}

// Importer coordinates the pipeline. It is the only writer of expenses
// and ledger entries during a run, and enforces single-flight plus a
// cooldown window per account. Runs for different accounts proceed
// independently.
type Importer struct {
	opener   api.MailboxOpener
	locator  *Locator
	ledger   api.Ledger
	store    api.ExpenseStore
	judge    Judge
	cooldown time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	active   map[string]time.Time // account -> run start; presence is the single-flight lock
	finished map[string]time.Time

	now func() time.Time
}

// New creates an importer.
func New(opener api.MailboxOpener, locator *Locator, ledger api.Ledger, store api.ExpenseStore, judge Judge, cooldown time.Duration, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Importer{
		opener:   opener,
		locator:  locator,
		ledger:   ledger,
		store:    store,
		judge:    judge,
		cooldown: cooldown,
		logger:   logger,
		active:   make(map[string]time.Time),
		finished: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Status reports whether a run is active for the account and how much
// cooldown remains after the last run.
func (i *Importer) Status(accountID string) api.RunStatus {
	i.mu.Lock()
	defer i.mu.Unlock()

	if _, running := i.active[accountID]; running {
		return api.RunStatus{Running: true}
	}
	return api.RunStatus{CooldownRemaining: i.cooldownRemainingLocked(accountID)}
}

func (i *Importer) cooldownRemainingLocked(accountID string) time.Duration {
	end, ok := i.finished[accountID]
	if !ok {
		return 0
	}
	if rem := i.cooldown - i.now().Sub(end); rem > 0 {
		return rem
	}
	return 0
}

// Run performs one import for the account and returns its summary.
//
// It fails with *api.AlreadyRunningError while a run for the account is
// active or its cooldown has not elapsed. Account-level failures
// (api.ErrNoCredential, api.ErrRevoked, api.ErrSourceUnavailable at the
// locator stage) abort the run; ledger entries already written for
// earlier messages remain valid.
func (i *Importer) Run(ctx context.Context, accountID string) (api.RunSummary, error) {
	if err := i.acquire(accountID); err != nil {
		return api.RunSummary{}, err
	}
	defer i.release(accountID)

	logger := i.logger.With("account_id", accountID)
	logger.Info("import started")

	summary, err := i.run(ctx, accountID, logger)
	if err != nil {
		logger.Warn("import aborted", "error", err)
		return summary, err
	}

	logger.Info("import finished",
		"candidates", summary.TotalCandidates,
		"recorded", summary.Recorded,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
	)
	return summary, nil
}

func (i *Importer) acquire(accountID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if _, running := i.active[accountID]; running {
		return &api.AlreadyRunningError{AccountID: accountID}
	}
	if rem := i.cooldownRemainingLocked(accountID); rem > 0 {
		return &api.AlreadyRunningError{AccountID: accountID, CooldownRemaining: rem}
	}

	i.active[accountID] = i.now()
	return nil
}

func (i *Importer) release(accountID string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	delete(i.active, accountID)
	i.finished[accountID] = i.now()
}

func (i *Importer) run(ctx context.Context, accountID string, logger *slog.Logger) (api.RunSummary, error) {
	var summary api.RunSummary

	mb, err := i.opener.Open(ctx, accountID)
	if err != nil {
		return summary, err
	}

	ids, err := i.locator.FindCandidates(ctx, mb)
	if err != nil {
		return summary, err
	}
	summary.TotalCandidates = len(ids)

	// Strictly sequential: deterministic ledger ordering matters more
	// than throughput here.
	for _, id := range ids {
		seen, err := i.ledger.HasProcessed(ctx, accountID, id)
		if err != nil {
			return summary, err
		}
		if seen {
			logger.Debug("message already processed", "message_id", id)
			summary.Skipped++
			continue
		}

		outcome, err := i.processMessage(ctx, accountID, mb, id, logger)
		if err != nil {
			return summary, err
		}

		switch outcome {
		case api.OutcomeRecorded:
			summary.Recorded++
		case api.OutcomeSkipped:
			summary.Skipped++
		case api.OutcomeFailed:
			summary.Failed++
		}
	}

	return summary, nil
}

// processMessage resolves one fresh message to exactly one ledger entry
// and returns its outcome. Per-message failures (fetch failure,
// unusable extraction) are recorded and never abort the run; only
// infrastructure errors propagate.
func (i *Importer) processMessage(ctx context.Context, accountID string, mb api.Mailbox, id string, logger *slog.Logger) (api.Outcome, error) {
	msg, err := mb.Message(ctx, id)
	if err != nil {
		logger.Warn("message fetch failed", "message_id", id, "error", err)
		return i.record(ctx, api.ProcessingRecord{
			AccountID: accountID,
			MessageID: id,
			Outcome:   api.OutcomeFailed,
		}, logger)
	}

	subject := msg.Header("Subject")
	sender := msg.Header("From")

	text := extract.PlainText(msg)
	if text == "" {
		logger.Debug("no extractable content", "message_id", id, "subject", subject)
		return i.record(ctx, api.ProcessingRecord{
			AccountID: accountID,
			MessageID: id,
			Subject:   subject,
			Sender:    sender,
			Outcome:   api.OutcomeSkipped,
		}, logger)
	}

	candidate := extract.Extract(text, msg.Headers, msg.ReceivedAt)

	dup, err := i.judge.IsDuplicate(ctx, accountID, candidate, id)
	if err != nil {
		return "", err
	}
	if dup {
		logger.Debug("duplicate candidate", "message_id", id, "title", candidate.Title)
		return i.record(ctx, api.ProcessingRecord{
			AccountID: accountID,
			MessageID: id,
			Subject:   subject,
			Sender:    sender,
			Outcome:   api.OutcomeSkipped,
		}, logger)
	}

	if !candidate.Usable() {
		logger.Debug("unusable candidate", "message_id", id, "amount", candidate.Amount)
		return i.record(ctx, api.ProcessingRecord{
			AccountID: accountID,
			MessageID: id,
			Subject:   subject,
			Sender:    sender,
			Outcome:   api.OutcomeFailed,
		}, logger)
	}

	expenseID, err := i.store.Create(ctx, accountID, candidate, id)
	if err != nil {
		logger.Warn("expense creation failed", "message_id", id, "error", err)
		return i.record(ctx, api.ProcessingRecord{
			AccountID: accountID,
			MessageID: id,
			Subject:   subject,
			Sender:    sender,
			Outcome:   api.OutcomeFailed,
		}, logger)
	}

	logger.Info("expense recorded",
		"message_id", id,
		"expense_id", expenseID,
		"title", candidate.Title,
		"amount", candidate.Amount,
		"vendor", candidate.Vendor,
	)
	return i.record(ctx, api.ProcessingRecord{
		AccountID: accountID,
		MessageID: id,
		Subject:   subject,
		Sender:    sender,
		Outcome:   api.OutcomeRecorded,
		ExpenseID: expenseID,
	}, logger)
}

// record writes the ledger entry. A lost write race is benign: the pair
// already has its one entry, so the outcome stands and the run goes on.
func (i *Importer) record(ctx context.Context, rec api.ProcessingRecord, logger *slog.Logger) (api.Outcome, error) {
	rec.ProcessedAt = i.now()

	err := i.ledger.Record(ctx, rec)
	if errors.Is(err, api.ErrAlreadyRecorded) {
		logger.Debug("ledger write raced", "message_id", rec.MessageID)
		return rec.Outcome, nil
	}
	if err != nil {
		return "", fmt.Errorf("ledger write for %s: %w", rec.MessageID, err)
	}

	return rec.Outcome, nil
}
