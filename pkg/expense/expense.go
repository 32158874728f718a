// Package expense provides the PostgreSQL expense store consumed by the
// ingestion pipeline: creation of imported expenses and the similarity
// lookups the duplicate judge needs.
package expense

import (
	_ "embed"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mailspend/mailspend/pkg/api"
)

//go:embed 001_create_expenses.sql
var migrationSQL string

// Store persists expenses in PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates the expense store and runs its migration.
func New(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := pool.Exec(ctx, migrationSQL); err != nil {
		return nil, fmt.Errorf("migrating expenses: %w", err)
	}

	return &Store{pool: pool, logger: logger}, nil
}

// Create persists a new expense from a candidate and returns its ID.
func (s *Store) Create(ctx context.Context, accountID string, c api.CandidateExpense, sourceMessageID string) (string, error) {
	id := uuid.NewString()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO expenses (id, account_id, title, amount, vendor, occurred_at, source_message_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, accountID, c.Title, c.Amount, c.Vendor, c.OccurredAt, sourceMessageID)
	if err != nil {
		return "", fmt.Errorf("creating expense: %w", err)
	}

	s.logger.Debug("created expense",
		"account_id", accountID,
		"expense_id", id,
		"amount", c.Amount,
	)
	return id, nil
}

// FindSimilar returns one expense matching the filter, or nil when none
// exists.
func (s *Store) FindSimilar(ctx context.Context, accountID string, f api.SimilarFilter) (*api.Expense, error) {
	conds := []string{"account_id = $1", "amount = $2"}
	args := []any{accountID, f.Amount}

	if f.Title != "" {
		args = append(args, f.Title)
		conds = append(conds, fmt.Sprintf("title = $%d", len(args)))
	}
	if f.TitlePrefix != "" {
		args = append(args, strings.ToLower(f.TitlePrefix))
		conds = append(conds, fmt.Sprintf("LOWER(LEFT(title, %d)) = $%d", len([]rune(f.TitlePrefix)), len(args)))
	}
	if !f.SameDayAs.IsZero() {
		args = append(args, f.SameDayAs)
		conds = append(conds, fmt.Sprintf("DATE(occurred_at) = DATE($%d::timestamptz)", len(args)))
	}
	if !f.After.IsZero() {
		args = append(args, f.After)
		conds = append(conds, fmt.Sprintf("occurred_at >= $%d", len(args)))
	}

	query := fmt.Sprintf(`
		SELECT id, account_id, title, amount, vendor, occurred_at
		FROM expenses
		WHERE %s
		ORDER BY occurred_at DESC
		LIMIT 1
	`, strings.Join(conds, " AND "))

	var e api.Expense
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&e.ID, &e.AccountID, &e.Title, &e.Amount, &e.Vendor, &e.OccurredAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding similar expense: %w", err)
	}

	return &e, nil
}
