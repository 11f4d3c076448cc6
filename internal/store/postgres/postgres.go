// Package postgres is the production store. Every balance mutation is one
// transaction built on conditional updates and row locks, always taking the
// account row before its quota rows so concurrent writers cannot deadlock.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fortunecoin/backend/internal/ledger"
	"github.com/fortunecoin/backend/internal/models"
)

type Store struct {
	pool  *pgxpool.Pool
	owned bool
}

// New wraps a pool the caller owns.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open creates and pings a pool for dsn. Close releases it.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, ledger.Unavailable("open", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, ledger.Unavailable("ping", err)
	}
	return &Store{pool: pool, owned: true}, nil
}

// Pool exposes the pool for components sharing the database, such as the job queue.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) Migrate(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ledger.Unavailable("migrate", err)
	}
	defer tx.Rollback(ctx)
	for i, stmt := range migrations {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return ledger.Unavailable("migrate", fmt.Errorf("statement %d: %w", i, err))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return ledger.Unavailable("migrate", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ledger.Unavailable("ping", s.pool.Ping(ctx))
}

func (s *Store) Close() error {
	if s.owned {
		s.pool.Close()
	}
	return nil
}

// inTx runs fn in a transaction and maps driver errors into the ledger
// taxonomy. A unique violation on the idempotency constraint turns into a
// DuplicateError carrying the committed original.
func (s *Store) inTx(ctx context.Context, op string, accountID uuid.UUID, key string, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ledger.Unavailable(op, err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return s.mapErr(ctx, op, accountID, key, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return s.mapErr(ctx, op, accountID, key, err)
	}
	return nil
}

func (s *Store) mapErr(ctx context.Context, op string, accountID uuid.UUID, key string, err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return ledger.Unavailable(op, err)
	}
	switch pgErr.Code {
	case "23505":
		if pgErr.ConstraintName == idempotencyConstraint && key != "" {
			orig, lerr := s.EntryByIdempotencyKey(ctx, accountID, key)
			if lerr != nil {
				return lerr
			}
			return &ledger.DuplicateError{Key: key, Original: orig}
		}
	case "23514":
		return ledger.Invariant(accountID, "%s: %s", op, pgErr.Message)
	case "23503":
		return ledger.ErrAccountNotFound
	}
	return ledger.Unavailable(op, err)
}

// checkKey fails fast when the idempotency key is already recorded.
func (s *Store) checkKey(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, key string) error {
	if key == "" {
		return nil
	}
	e, err := scanEntry(tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries
		WHERE account_id = $1 AND idempotency_key = $2`, accountID, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	return &ledger.DuplicateError{Key: key, Original: e}
}

// insertEntry appends e after verifying it continues its counter's chain.
// The caller holds the row lock of the counter being changed.
func (s *Store) insertEntry(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error {
	var prev int64
	err := tx.QueryRow(ctx, `
		SELECT resulting_balance FROM ledger_entries
		WHERE account_id = $1 AND unit = $2 AND action = $3
		ORDER BY seq DESC LIMIT 1
	`, e.AccountID, string(e.Unit), string(e.Action)).Scan(&prev)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	if err := ledger.CheckLink(e.AccountID, e.Counter(), prev, e.Amount, e.ResultingBalance); err != nil {
		return err
	}
	return tx.QueryRow(ctx, `
		INSERT INTO ledger_entries (id, account_id, kind, unit, action, amount, resulting_balance, reason,
			idempotency_key, ref_entry_id, actor_id, quota_day)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING seq, created_at
	`, e.ID, e.AccountID, string(e.Kind), string(e.Unit), string(e.Action), e.Amount, e.ResultingBalance, e.Reason,
		nullable(e.IdempotencyKey), e.RefEntryID, e.ActorID, string(e.QuotaDay)).Scan(&e.Seq, &e.CreatedAt)
}

func scanEntry(row pgx.Row) (*models.LedgerEntry, error) {
	var (
		e                       models.LedgerEntry
		kind, unit, action, day string
		key                     *string
	)
	err := row.Scan(&e.Seq, &e.ID, &e.AccountID, &kind, &unit, &action, &e.Amount, &e.ResultingBalance, &e.Reason,
		&key, &e.RefEntryID, &e.ActorID, &day, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.Kind = models.EntryKind(kind)
	e.Unit = models.Unit(unit)
	e.Action = models.ActionType(action)
	e.QuotaDay = models.Day(day)
	if key != nil {
		e.IdempotencyKey = *key
	}
	return &e, nil
}

func scanRight(row pgx.Row) (*models.ExtraRight, error) {
	var (
		r           models.ExtraRight
		action, day string
		consumedAt  *time.Time
	)
	if err := row.Scan(&r.ID, &r.AccountID, &action, &day, &r.Consumed, &consumedAt, &r.PurchaseEntryID, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Action = models.ActionType(action)
	r.RedeemableOn = models.Day(day)
	r.ConsumedAt = consumedAt
	return &r, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
