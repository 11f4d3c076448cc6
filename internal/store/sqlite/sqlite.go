// Package sqlite is a single-node store on modernc.org/sqlite. One
// connection and immediate transactions serialize writers, so each
// conditional update is atomic without row locks.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/fortunecoin/backend/internal/ledger"
	"github.com/fortunecoin/backend/internal/models"
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database file at path.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, ledger.Unavailable("open", err)
	}
	db.SetMaxOpenConns(1)
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return ledger.Unavailable("migrate", fmt.Errorf("statement %d: %w", i, err))
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ledger.Unavailable("ping", s.db.PingContext(ctx))
}

func (s *Store) Close() error { return s.db.Close() }

// inTx runs fn in an immediate transaction. The transaction is rolled back
// before errors are mapped so the single connection is free for lookups.
func (s *Store) inTx(ctx context.Context, op string, accountID uuid.UUID, key string, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Unavailable(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return s.mapErr(ctx, op, accountID, key, err)
	}
	if err := tx.Commit(); err != nil {
		return s.mapErr(ctx, op, accountID, key, err)
	}
	return nil
}

func (s *Store) mapErr(ctx context.Context, op string, accountID uuid.UUID, key string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed: ledger_entries.account_id") && key != "":
		orig, lerr := s.EntryByIdempotencyKey(ctx, accountID, key)
		if lerr != nil {
			return lerr
		}
		return &ledger.DuplicateError{Key: key, Original: orig}
	case strings.Contains(msg, "CHECK constraint failed"):
		return ledger.Invariant(accountID, "%s: %s", op, msg)
	}
	return ledger.Unavailable(op, err)
}

func (s *Store) checkKey(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, key string) error {
	if key == "" {
		return nil
	}
	e, err := scanEntry(tx.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM ledger_entries
		WHERE account_id = ? AND idempotency_key = ?`, accountID, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	return &ledger.DuplicateError{Key: key, Original: e}
}

func (s *Store) insertEntry(ctx context.Context, tx *sql.Tx, e *models.LedgerEntry) error {
	var prev int64
	err := tx.QueryRowContext(ctx, `
		SELECT resulting_balance FROM ledger_entries
		WHERE account_id = ? AND unit = ? AND action = ?
		ORDER BY seq DESC LIMIT 1
	`, e.AccountID, string(e.Unit), string(e.Action)).Scan(&prev)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if err := ledger.CheckLink(e.AccountID, e.Counter(), prev, e.Amount, e.ResultingBalance); err != nil {
		return err
	}
	e.CreatedAt = s.now().UTC()
	return tx.QueryRowContext(ctx, `
		INSERT INTO ledger_entries (id, account_id, kind, unit, action, amount, resulting_balance, reason,
			idempotency_key, ref_entry_id, actor_id, quota_day, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING seq
	`, e.ID, e.AccountID, string(e.Kind), string(e.Unit), string(e.Action), e.Amount, e.ResultingBalance, e.Reason,
		nullable(e.IdempotencyKey), e.RefEntryID, e.ActorID, string(e.QuotaDay), e.CreatedAt.UnixNano()).Scan(&e.Seq)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*models.LedgerEntry, error) {
	var (
		e                       models.LedgerEntry
		kind, unit, action, day string
		key                     sql.NullString
		created                 int64
	)
	err := row.Scan(&e.Seq, &e.ID, &e.AccountID, &kind, &unit, &action, &e.Amount, &e.ResultingBalance, &e.Reason,
		&key, &e.RefEntryID, &e.ActorID, &day, &created)
	if err != nil {
		return nil, err
	}
	e.Kind = models.EntryKind(kind)
	e.Unit = models.Unit(unit)
	e.Action = models.ActionType(action)
	e.QuotaDay = models.Day(day)
	e.IdempotencyKey = key.String
	e.CreatedAt = fromNanos(created)
	return &e, nil
}

func scanRight(row rowScanner) (*models.ExtraRight, error) {
	var (
		r           models.ExtraRight
		action, day string
		consumedAt  sql.NullInt64
		created     int64
	)
	if err := row.Scan(&r.ID, &r.AccountID, &action, &day, &r.Consumed, &consumedAt, &r.PurchaseEntryID, &created); err != nil {
		return nil, err
	}
	r.Action = models.ActionType(action)
	r.RedeemableOn = models.Day(day)
	r.CreatedAt = fromNanos(created)
	if consumedAt.Valid {
		t := fromNanos(consumedAt.Int64)
		r.ConsumedAt = &t
	}
	return &r, nil
}

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
