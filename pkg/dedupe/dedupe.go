// Package dedupe decides whether a candidate expense represents an
// already-recorded expense. The heuristic favors precision: skipping a
// legitimate new expense is preferred over creating a duplicate.
package dedupe

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mailspend/mailspend/pkg/api"
)

const (
	// fuzzyPrefixLen is how many leading title characters the fuzzy
	// check compares, case-insensitively.
	fuzzyPrefixLen = 20

	// fuzzyWindow bounds the fuzzy check to recent expenses.
	fuzzyWindow = 24 * time.Hour
)

// Judge runs the duplicate checks against the expense store and the
// processing ledger.
type Judge struct {
	store  api.ExpenseStore
	ledger api.Ledger
	logger *slog.Logger
	now    func() time.Time
}

// New creates a duplicate judge.
func New(store api.ExpenseStore, ledger api.Ledger, logger *slog.Logger) *Judge {
	if logger == nil {
		logger = slog.Default()
	}

	return &Judge{
		store:  store,
		ledger: ledger,
		logger: logger,
		now:    time.Now,
	}
}

// IsDuplicate runs three independent checks; any one positive means
// duplicate:
//
//  1. exact: same title and amount on the same calendar day;
//  2. message-linked: this (account, message) pair already produced a
//     recorded expense, even if the upstream ledger check was bypassed;
//  3. fuzzy: same amount and the same leading 20 title characters
//     (case-insensitive) within the trailing 24 hours.
func (j *Judge) IsDuplicate(ctx context.Context, accountID string, c api.CandidateExpense, messageID string) (bool, error) {
	exact, err := j.store.FindSimilar(ctx, accountID, api.SimilarFilter{
		Title:     c.Title,
		Amount:    c.Amount,
		SameDayAs: c.OccurredAt,
	})
	if err != nil {
		return false, fmt.Errorf("exact duplicate check: %w", err)
	}
	if exact != nil {
		j.logger.Debug("duplicate: exact match", "account_id", accountID, "expense_id", exact.ID)
		return true, nil
	}

	recorded, err := j.ledger.HasRecordedExpense(ctx, accountID, messageID)
	if err != nil {
		return false, fmt.Errorf("message-linked duplicate check: %w", err)
	}
	if recorded {
		j.logger.Debug("duplicate: message already recorded", "account_id", accountID, "message_id", messageID)
		return true, nil
	}

	prefix := c.Title
	if runes := []rune(prefix); len(runes) > fuzzyPrefixLen {
		prefix = string(runes[:fuzzyPrefixLen])
	}
	fuzzy, err := j.store.FindSimilar(ctx, accountID, api.SimilarFilter{
		TitlePrefix: prefix,
		Amount:      c.Amount,
		After:       j.now().Add(-fuzzyWindow),
	})
	if err != nil {
		return false, fmt.Errorf("fuzzy duplicate check: %w", err)
	}
	if fuzzy != nil {
		j.logger.Debug("duplicate: fuzzy recency match", "account_id", accountID, "expense_id", fuzzy.ID)
		return true, nil
	}

	return false, nil
}
