package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fortunecoin/backend/internal/models"
)

const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// Query selects a window of one account's entries in creation order.
// AfterSeq is the cursor returned by the previous page.
type Query struct {
	Since    time.Time
	AfterSeq int64
	Limit    int
}

// Normalize clamps Limit into [1, MaxPageSize].
func (q Query) Normalize() Query {
	if q.Limit <= 0 {
		q.Limit = DefaultPageSize
	}
	if q.Limit > MaxPageSize {
		q.Limit = MaxPageSize
	}
	if q.AfterSeq < 0 {
		q.AfterSeq = 0
	}
	return q
}

// Page is one slice of entries. NextCursor is 0 when the scan is finished.
type Page struct {
	Entries    []models.LedgerEntry `json:"entries"`
	NextCursor int64                `json:"next_cursor,omitempty"`
}

// Store is the read side of the append-only ledger. Appends happen only
// inside balance mutations so an entry never exists without its effect.
type Store interface {
	Entries(ctx context.Context, accountID uuid.UUID, q Query) (Page, error)
	Entry(ctx context.Context, entryID string) (*models.LedgerEntry, error)
	EntryByIdempotencyKey(ctx context.Context, accountID uuid.UUID, key string) (*models.LedgerEntry, error)
}

// PageOf builds a Page from up to q.Limit+1 rows fetched in seq order.
func PageOf(rows []models.LedgerEntry, q Query) Page {
	if len(rows) > q.Limit {
		rows = rows[:q.Limit]
		return Page{Entries: rows, NextCursor: rows[len(rows)-1].Seq}
	}
	return Page{Entries: rows}
}

// Walk visits every entry of the account in creation order, page by page.
func Walk(ctx context.Context, s Store, accountID uuid.UUID, since time.Time, fn func(models.LedgerEntry) error) error {
	q := Query{Since: since, Limit: MaxPageSize}
	for {
		page, err := s.Entries(ctx, accountID, q)
		if err != nil {
			return err
		}
		for _, e := range page.Entries {
			if err := fn(e); err != nil {
				return err
			}
		}
		if page.NextCursor == 0 {
			return nil
		}
		q.AfterSeq = page.NextCursor
	}
}
