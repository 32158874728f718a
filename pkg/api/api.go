// Package api defines the core types, interfaces and error taxonomy for
// the mailspend ingestion pipeline.
package api

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for account-level failures. Callers classify with
// errors.Is; lower layers wrap the underlying cause with %w.
var (
	// ErrNoCredential means the account never connected a mailbox.
	ErrNoCredential = errors.New("no credential for account")

	// ErrRevoked means the stored credential is invalid beyond refresh.
	// The user must reconnect; the pipeline never retries this itself.
	ErrRevoked = errors.New("credential revoked")

	// ErrSourceUnavailable is a transient mailbox API or network failure.
	ErrSourceUnavailable = errors.New("mail source unavailable")

	// ErrAlreadyRecorded signals a benign race on a ledger write: the
	// (account, message) pair already has a record. Callers swallow it.
	ErrAlreadyRecorded = errors.New("message already recorded")
)

// AlreadyRunningError is returned by the orchestrator when an import for
// the account is active or its cooldown window has not elapsed. It is a
// "try later" signal, not a failure.
type AlreadyRunningError struct {
	AccountID         string
	CooldownRemaining time.Duration
}

func (e *AlreadyRunningError) Error() string {
	if e.CooldownRemaining > 0 {
		return fmt.Sprintf("import for %s unavailable, retry in %s", e.AccountID, e.CooldownRemaining.Round(time.Second))
	}
	return fmt.Sprintf("import for %s already running", e.AccountID)
}

// Credential is an OAuth credential scoped to one mailbox owner. It is
// owned exclusively by the credential provider and mutated only on
// refresh.
type Credential struct {
	AccountID    string
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	Expiry       time.Time
}

// RawMessage is a fetched mail message with its decoded MIME part tree.
// It is transient per-run and never persisted.
type RawMessage struct {
	ID         string
	Headers    map[string]string
	ReceivedAt time.Time
	Payload    *MessagePart
}

// Header returns a header value by name, or "" if absent.
func (m *RawMessage) Header(name string) string {
	if m == nil {
		return ""
	}
	return m.Headers[name]
}

// MessagePart is one node of a MIME part tree. Body holds the decoded
// part content.
type MessagePart struct {
	MimeType string
	Body     string
	Parts    []*MessagePart
}

// CandidateExpense is a transaction record extracted from message text.
// It is consumed immediately by the duplicate judge and, if accepted,
// becomes the basis of a persisted expense.
type CandidateExpense struct {
	Title      string
	Amount     float64
	Vendor     string
	OccurredAt time.Time
}

// Usable reports whether the candidate carries an amount worth
// recording. A candidate with a non-positive amount is never recorded.
func (c CandidateExpense) Usable() bool {
	return c.Amount > 0
}

// Outcome classifies how a message was resolved.
type Outcome string

const (
	OutcomeRecorded Outcome = "recorded"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

// ProcessingRecord is the permanent per-(account, message) ledger entry.
// At most one exists per pair, ever.
type ProcessingRecord struct {
	AccountID   string
	MessageID   string
	Subject     string
	Sender      string
	Outcome     Outcome
	ExpenseID   string
	ProcessedAt time.Time
}

// Expense is a persisted expense as seen by the duplicate judge.
type Expense struct {
	ID         string
	AccountID  string
	Title      string
	Amount     float64
	Vendor     string
	OccurredAt time.Time
}

// SimilarFilter describes an expense lookup used by the duplicate judge.
// Zero-valued fields are ignored.
type SimilarFilter struct {
	// Title matches exactly (case-sensitive) when non-empty.
	Title string
	// TitlePrefix matches the leading characters case-insensitively
	// when non-empty.
	TitlePrefix string
	// Amount matches exactly.
	Amount float64
	// SameDayAs restricts to expenses dated within that calendar day.
	SameDayAs time.Time
	// After restricts to expenses dated at or after the instant.
	After time.Time
}

// RunSummary is the result of one orchestrated import run.
type RunSummary struct {
	Recorded        int `json:"recorded"`
	Skipped         int `json:"skipped"`
	Failed          int `json:"failed"`
	TotalCandidates int `json:"total_candidates"`
}

// RunStatus reports the orchestrator state for one account.
type RunStatus struct {
	Running           bool          `json:"running"`
	CooldownRemaining time.Duration `json:"-"`
}

// Mailbox is the remote mail API for a single connected account.
type Mailbox interface {
	// Search returns message IDs matching the query, first page only.
	Search(ctx context.Context, query string) ([]string, error)
	// Message fetches one message with its decoded MIME tree.
	Message(ctx context.Context, id string) (*RawMessage, error)
	// Profile returns the mailbox owner address.
	Profile(ctx context.Context) (string, error)
}

// MailboxOpener opens a Mailbox for an account using its stored
// credential.
type MailboxOpener interface {
	Open(ctx context.Context, accountID string) (Mailbox, error)
}

// Ledger is the durable per-(account, message) processing record store:
// the system's sole authority on "has this message ever been seen".
type Ledger interface {
	HasProcessed(ctx context.Context, accountID, messageID string) (bool, error)
	// HasRecordedExpense reports whether the pair was processed with
	// outcome recorded, independent of HasProcessed.
	HasRecordedExpense(ctx context.Context, accountID, messageID string) (bool, error)
	// Record writes exactly one entry for the pair. A second write for
	// the same pair fails with ErrAlreadyRecorded and leaves the first
	// entry untouched.
	Record(ctx context.Context, rec ProcessingRecord) error
}

// ExpenseStore is the expense persistence collaborator.
type ExpenseStore interface {
	Create(ctx context.Context, accountID string, c CandidateExpense, sourceMessageID string) (string, error)
	// FindSimilar returns a matching expense or nil when none exists.
	FindSimilar(ctx context.Context, accountID string, f SimilarFilter) (*Expense, error)
}
