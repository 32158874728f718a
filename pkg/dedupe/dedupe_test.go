package dedupe

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/mailspend/mailspend/pkg/api"
)

type memStore struct {
	expenses []api.Expense
	err      error
}

func (s *memStore) Create(context.Context, string, api.CandidateExpense, string) (string, error) {
	return "", errors.New("not used")
}

func (s *memStore) FindSimilar(_ context.Context, accountID string, f api.SimilarFilter) (*api.Expense, error) {
	if s.err != nil {
		return nil, s.err
	}
	for i := range s.expenses {
		e := s.expenses[i]
		if e.AccountID != accountID || e.Amount != f.Amount {
			continue
		}
		if f.Title != "" && e.Title != f.Title {
			continue
		}
		if f.TitlePrefix != "" && !strings.HasPrefix(strings.ToLower(e.Title), strings.ToLower(f.TitlePrefix)) {
			continue
		}
		if !f.SameDayAs.IsZero() {
			y1, m1, d1 := e.OccurredAt.Date()
			y2, m2, d2 := f.SameDayAs.Date()
			if y1 != y2 || m1 != m2 || d1 != d2 {
				continue
			}
		}
		if !f.After.IsZero() && e.OccurredAt.Before(f.After) {
			continue
		}
		return &e, nil
	}
	return nil, nil
}

type spyLedger struct {
	recorded      bool
	recordedCalls int
}

func (l *spyLedger) HasProcessed(context.Context, string, string) (bool, error) {
	return false, nil
}

func (l *spyLedger) HasRecordedExpense(context.Context, string, string) (bool, error) {
	l.recordedCalls++
	return l.recorded, nil
}

func (l *spyLedger) Record(context.Context, api.ProcessingRecord) error {
	return errors.New("not used")
}

func newTestJudge(store api.ExpenseStore, ledger api.Ledger, now time.Time) *Judge {
	j := New(store, ledger, slog.New(slog.NewTextHandler(io.Discard, nil)))
	j.now = func() time.Time { return now }
	return j
}

func TestIsDuplicate_ExactSameDayMatch(t *testing.T) {
	now := time.Date(2024, 6, 10, 18, 0, 0, 0, time.UTC)
	store := &memStore{expenses: []api.Expense{{
		ID:         "e1",
		AccountID:  "acct1",
		Title:      "Coffee Shop",
		Amount:     150,
		OccurredAt: time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC),
	}}}
	ledger := &spyLedger{}
	j := newTestJudge(store, ledger, now)

	candidate := api.CandidateExpense{
		Title:      "Coffee Shop",
		Amount:     150,
		OccurredAt: time.Date(2024, 6, 10, 17, 30, 0, 0, time.UTC),
	}
	dup, err := j.IsDuplicate(context.Background(), "acct1", candidate, "m1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dup {
		t.Error("same title, amount and day must be a duplicate")
	}
	if ledger.recordedCalls != 0 {
		t.Errorf("exact match should short-circuit before the ledger check, got %d calls", ledger.recordedCalls)
	}
}

func TestIsDuplicate_MessageAlreadyRecorded(t *testing.T) {
	now := time.Date(2024, 6, 10, 18, 0, 0, 0, time.UTC)
	j := newTestJudge(&memStore{}, &spyLedger{recorded: true}, now)

	dup, err := j.IsDuplicate(context.Background(), "acct1", api.CandidateExpense{
		Title:  "Anything",
		Amount: 99,
	}, "m1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dup {
		t.Error("a message that already produced an expense is always a duplicate")
	}
}

func TestIsDuplicate_FuzzyRecentMatch(t *testing.T) {
	now := time.Date(2024, 6, 11, 1, 0, 0, 0, time.UTC)
	store := &memStore{expenses: []api.Expense{{
		ID:         "e1",
		AccountID:  "acct1",
		Title:      "Payment to Acme Corporation Services",
		Amount:     2500,
		OccurredAt: now.Add(-3 * time.Hour), // previous calendar day
	}}}
	j := newTestJudge(store, &spyLedger{}, now)

	candidate := api.CandidateExpense{
		Title:      "Payment to Acme Corp - June invoice",
		Amount:     2500,
		OccurredAt: now,
	}
	dup, err := j.IsDuplicate(context.Background(), "acct1", candidate, "m1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dup {
		t.Error("matching amount and leading title characters within 24h must be a duplicate")
	}
}

func TestIsDuplicate_FuzzyIgnoresOldExpenses(t *testing.T) {
	now := time.Date(2024, 6, 11, 12, 0, 0, 0, time.UTC)
	store := &memStore{expenses: []api.Expense{{
		ID:         "e1",
		AccountID:  "acct1",
		Title:      "Payment to Acme Corporation Services",
		Amount:     2500,
		OccurredAt: now.Add(-30 * time.Hour),
	}}}
	j := newTestJudge(store, &spyLedger{}, now)

	candidate := api.CandidateExpense{
		Title:      "Payment to Acme Corp - July invoice",
		Amount:     2500,
		OccurredAt: now,
	}
	dup, err := j.IsDuplicate(context.Background(), "acct1", candidate, "m1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dup {
		t.Error("expenses outside the 24h window must not trigger the fuzzy check")
	}
}

func TestIsDuplicate_DifferentAmountIsNotDuplicate(t *testing.T) {
	now := time.Date(2024, 6, 10, 18, 0, 0, 0, time.UTC)
	store := &memStore{expenses: []api.Expense{{
		ID:         "e1",
		AccountID:  "acct1",
		Title:      "Coffee Shop",
		Amount:     150,
		OccurredAt: now.Add(-time.Hour),
	}}}
	j := newTestJudge(store, &spyLedger{}, now)

	dup, err := j.IsDuplicate(context.Background(), "acct1", api.CandidateExpense{
		Title:      "Coffee Shop",
		Amount:     151,
		OccurredAt: now,
	}, "m1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dup {
		t.Error("same title with a different amount is a new expense")
	}
}

func TestIsDuplicate_OtherAccountDoesNotMatch(t *testing.T) {
	now := time.Date(2024, 6, 10, 18, 0, 0, 0, time.UTC)
	store := &memStore{expenses: []api.Expense{{
		ID:         "e1",
		AccountID:  "acct2",
		Title:      "Coffee Shop",
		Amount:     150,
		OccurredAt: now,
	}}}
	j := newTestJudge(store, &spyLedger{}, now)

	dup, err := j.IsDuplicate(context.Background(), "acct1", api.CandidateExpense{
		Title:      "Coffee Shop",
		Amount:     150,
		OccurredAt: now,
	}, "m1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dup {
		t.Error("duplicate checks must stay scoped to the account")
	}
}

func TestIsDuplicate_StoreErrorPropagates(t *testing.T) {
	wantErr := errors.New("connection refused")
	j := newTestJudge(&memStore{err: wantErr}, &spyLedger{}, time.Now())

	_, err := j.IsDuplicate(context.Background(), "acct1", api.CandidateExpense{Amount: 10}, "m1")
	if !errors.Is(err, wantErr) {
		t.Fatalf("got %v, want wrapped store error", err)
	}
}
