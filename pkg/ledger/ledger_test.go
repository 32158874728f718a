package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mailspend/mailspend/pkg/api"
)

func testStore(t *testing.T) (*Store, string) {
	t.Helper()

	host := os.Getenv("TEST_POSTGRES_HOST")
	if host == "" {
		t.Skip("TEST_POSTGRES_HOST not set, skipping integration test")
	}

	conn := fmt.Sprintf("postgres://%s:%s@%s:5432/%s?sslmode=disable",
		os.Getenv("TEST_POSTGRES_USER"),
		os.Getenv("TEST_POSTGRES_PASSWORD"),
		host,
		os.Getenv("TEST_POSTGRES_DB"),
	)

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, conn)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(pool.Close)

	store, err := New(ctx, pool, slog.New(slog.NewTextHandler(os.Stdout, nil)))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	accountID := fmt.Sprintf("test-acct-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		if err := store.Clear(context.Background(), accountID); err != nil {
			t.Errorf("cleanup failed: %v", err)
		}
	})
	return store, accountID
}

func TestRecordAndHasProcessed(t *testing.T) {
	store, accountID := testStore(t)
	ctx := context.Background()

	rec := api.ProcessingRecord{
		AccountID: accountID,
		MessageID: "msg-1",
		Subject:   "Your receipt",
		Sender:    "orders@cafe.in",
		Outcome:   api.OutcomeRecorded,
		ExpenseID: uuid.NewString(),
	}
	if err := store.Record(ctx, rec); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	seen, err := store.HasProcessed(ctx, accountID, "msg-1")
	if err != nil {
		t.Fatalf("HasProcessed failed: %v", err)
	}
	if !seen {
		t.Error("recorded message should be processed")
	}

	recorded, err := store.HasRecordedExpense(ctx, accountID, "msg-1")
	if err != nil {
		t.Fatalf("HasRecordedExpense failed: %v", err)
	}
	if !recorded {
		t.Error("recorded outcome should report a recorded expense")
	}

	seen, err = store.HasProcessed(ctx, accountID, "msg-unknown")
	if err != nil {
		t.Fatalf("HasProcessed failed: %v", err)
	}
	if seen {
		t.Error("unknown message must not be processed")
	}
}

func TestRecord_FirstEntryIsPermanent(t *testing.T) {
	store, accountID := testStore(t)
	ctx := context.Background()

	first := api.ProcessingRecord{
		AccountID: accountID,
		MessageID: "msg-1",
		Subject:   "Newsletter",
		Sender:    "news@letter.com",
		Outcome:   api.OutcomeSkipped,
	}
	if err := store.Record(ctx, first); err != nil {
		t.Fatalf("first record failed: %v", err)
	}

	// A second insert for the pair must not overwrite, whatever the
	// outcome claims.
	second := first
	second.Outcome = api.OutcomeRecorded
	second.ExpenseID = uuid.NewString()
	err := store.Record(ctx, second)
	if !errors.Is(err, api.ErrAlreadyRecorded) {
		t.Fatalf("got %v, want ErrAlreadyRecorded", err)
	}

	recorded, err := store.HasRecordedExpense(ctx, accountID, "msg-1")
	if err != nil {
		t.Fatalf("HasRecordedExpense failed: %v", err)
	}
	if recorded {
		t.Error("losing insert must not change the stored outcome")
	}
}

func TestRecord_ConcurrentInsertsOneWinner(t *testing.T) {
	store, accountID := testStore(t)
	ctx := context.Background()

	const workers = 8
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.Record(ctx, api.ProcessingRecord{
				AccountID: accountID,
				MessageID: "msg-race",
				Subject:   "Receipt",
				Sender:    "pos@cafe.in",
				Outcome:   api.OutcomeRecorded,
				ExpenseID: uuid.NewString(),
			})
		}(i)
	}
	wg.Wait()

	winners := 0
	for i, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, api.ErrAlreadyRecorded):
		default:
			t.Errorf("worker %d: unexpected error %v", i, err)
		}
	}
	if winners != 1 {
		t.Errorf("got %d winning inserts, want exactly 1", winners)
	}
}

func TestHasRecordedExpense_OutcomeFilter(t *testing.T) {
	store, accountID := testStore(t)
	ctx := context.Background()

	if err := store.Record(ctx, api.ProcessingRecord{
		AccountID: accountID,
		MessageID: "msg-failed",
		Outcome:   api.OutcomeFailed,
	}); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	seen, err := store.HasProcessed(ctx, accountID, "msg-failed")
	if err != nil {
		t.Fatalf("HasProcessed failed: %v", err)
	}
	if !seen {
		t.Error("failed message should still be processed")
	}

	recorded, err := store.HasRecordedExpense(ctx, accountID, "msg-failed")
	if err != nil {
		t.Fatalf("HasRecordedExpense failed: %v", err)
	}
	if recorded {
		t.Error("failed outcome must not count as a recorded expense")
	}
}
