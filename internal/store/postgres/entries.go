package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fortunecoin/backend/internal/ledger"
	"github.com/fortunecoin/backend/internal/models"
)

func (s *Store) Entries(ctx context.Context, accountID uuid.UUID, q ledger.Query) (ledger.Page, error) {
	q = q.Normalize()
	var since *time.Time
	if !q.Since.IsZero() {
		since = &q.Since
	}
	rows, err := s.pool.Query(ctx, `SELECT `+entryColumns+` FROM ledger_entries
		WHERE account_id = $1 AND seq > $2 AND ($3::timestamptz IS NULL OR created_at >= $3)
		ORDER BY seq
		LIMIT $4`, accountID, q.AfterSeq, since, q.Limit+1)
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
	e, err := scanEntry(s.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1`, entryID))
	if errors.Is(err, pgx.ErrNoRows) {
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
	e, err := scanEntry(s.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries
		WHERE account_id = $1 AND idempotency_key = $2`, accountID, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrEntryNotFound
	}
	if err != nil {
		return nil, ledger.Unavailable("get entry by key", err)
	}
	return e, nil
}
