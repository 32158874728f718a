package importer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mailspend/mailspend/pkg/api"
)

// DefaultQueries is the ordered list of mailbox search expressions.
// Expressions run narrowest first; the first one returning any match
// wins. Broader queries are a fallback, not an accumulation. The last
// expression is recency-bounded so a cold mailbox never sweeps its full
// history.
var DefaultQueries = []string{
	`subject:(receipt OR invoice OR "payment confirmation" OR "order confirmation")`,
	`"payment received" OR "payment successful" OR "transaction alert" OR "has been charged"`,
	`(receipt OR invoice OR payment OR charged OR debited) newer_than:30d`,
}

// Locator finds candidate message IDs in a mailbox.
type Locator struct {
	queries []string
	logger  *slog.Logger
}

// NewLocator creates a locator. An empty query list means
// DefaultQueries.
func NewLocator(queries []string, logger *slog.Logger) *Locator {
	if len(queries) == 0 {
		queries = DefaultQueries
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Locator{queries: queries, logger: logger}
}

// FindCandidates runs the query list in order and returns the IDs of
// the first expression with at least one match, deduplicated and in
// mailbox order. No matches across all expressions is an empty result,
// not an error. Search failures pass through untouched so the caller
// can classify them.
func (l *Locator) FindCandidates(ctx context.Context, mb api.Mailbox) ([]string, error) {
	for _, query := range l.queries {
		ids, err := mb.Search(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("query %q: %w", query, err)
		}
		if len(ids) == 0 {
			continue
		}

		l.logger.Debug("query matched", "query", query, "count", len(ids))
		return dedupeIDs(ids), nil
	}

	return nil, nil
}

// dedupeIDs returns a fresh slice; the input, which the mailbox
// implementation may retain, is left untouched.
func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
