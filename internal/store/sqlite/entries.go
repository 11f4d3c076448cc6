package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/fortunecoin/backend/internal/ledger"
	"github.com/fortunecoin/backend/internal/models"
)

func (s *Store) Entries(ctx context.Context, accountID uuid.UUID, q ledger.Query) (ledger.Page, error) {
	q = q.Normalize()
	var since int64
	if !q.Since.IsZero() {
		since = q.Since.UnixNano()
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+entryColumns+` FROM ledger_entries
		WHERE account_id = ? AND seq > ? AND created_at >= ?
		ORDER BY seq
		LIMIT ?`, accountID, q.AfterSeq, since, q.Limit+1)
	if err != nil {
		return ledger.Page{}, ledger.Unavailable("list entries", err)
	}
	defer rows.Close()
	var out []models.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return ledger.Page{}, ledger.Unavailable("list entries", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return ledger.Page{}, ledger.Unavailable("list entries", err)
	}
	return ledger.PageOf(out, q), nil
}

func (s *Store) Entry(ctx context.Context, entryID string) (*models.LedgerEntry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = ?`, entryID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrEntryNotFound
	}
	if err != nil {
		return nil, ledger.Unavailable("get entry", err)
	}
	return e, nil
}

func (s *Store) EntryByIdempotencyKey(ctx context.Context, accountID uuid.UUID, key string) (*models.LedgerEntry, error) {
	if key == "" {
		return nil, ledger.ErrEntryNotFound
	}
	e, err := scanEntry(s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM ledger_entries
		WHERE account_id = ? AND idempotency_key = ?`, accountID, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrEntryNotFound
	}
	if err != nil {
		return nil, ledger.Unavailable("get entry by key", err)
	}
	return e, nil
}
