// Package ledger implements the durable per-(account, message)
// processing record store backing the pipeline's at-most-once
// guarantee.
package ledger

import (
	_ "embed"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mailspend/mailspend/pkg/api"
)

//go:embed 001_create_processed_messages.sql
var migrationSQL string

// Store is the PostgreSQL-backed ledger. The (account_id, message_id)
// primary key is the idempotency authority: inserts race safely and the
// loser observes api.ErrAlreadyRecorded.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates the ledger store and runs its migration.
func New(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := pool.Exec(ctx, migrationSQL); err != nil {
		return nil, fmt.Errorf("migrating processed_messages: %w", err)
	}

	return &Store{pool: pool, logger: logger}, nil
}

// HasProcessed reports whether the pair has a ledger entry of any
// outcome.
func (s *Store) HasProcessed(ctx context.Context, accountID, messageID string) (bool, error) {
	var seen bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM processed_messages
			WHERE account_id = $1 AND message_id = $2
		)
	`, accountID, messageID).Scan(&seen)
	if err != nil {
		return false, fmt.Errorf("checking processed message: %w", err)
	}
	return seen, nil
}

// HasRecordedExpense reports whether the pair was processed with
// outcome recorded.
func (s *Store) HasRecordedExpense(ctx context.Context, accountID, messageID string) (bool, error) {
	var recorded bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM processed_messages
			WHERE account_id = $1 AND message_id = $2 AND outcome = $3
		)
	`, accountID, messageID, string(api.OutcomeRecorded)).Scan(&recorded)
	if err != nil {
		return false, fmt.Errorf("checking recorded message: %w", err)
	}
	return recorded, nil
}

// Record writes the entry for the pair. When an entry already exists the
// insert is a no-op and Record returns api.ErrAlreadyRecorded; the first
// entry is never overwritten.
func (s *Store) Record(ctx context.Context, rec api.ProcessingRecord) error {
	processedAt := rec.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now()
	}

	var expenseID *string
	if rec.ExpenseID != "" {
		expenseID = &rec.ExpenseID
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO processed_messages (account_id, message_id, subject, sender, outcome, expense_id, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (account_id, message_id) DO NOTHING
	`, rec.AccountID, rec.MessageID, rec.Subject, rec.Sender, string(rec.Outcome), expenseID, processedAt)
	if err != nil {
		return fmt.Errorf("recording message %s: %w", rec.MessageID, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("message %s for %s: %w", rec.MessageID, rec.AccountID, api.ErrAlreadyRecorded)
	}

	s.logger.Debug("recorded message",
		"account_id", rec.AccountID,
		"message_id", rec.MessageID,
		"outcome", rec.Outcome,
	)
	return nil
}

// Clear deletes all ledger entries for an account. Testing only: normal
// operation never deletes ledger rows.
func (s *Store) Clear(ctx context.Context, accountID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM processed_messages WHERE account_id = $1`, accountID); err != nil {
		return fmt.Errorf("clearing ledger for %s: %w", accountID, err)
	}
	return nil
}
