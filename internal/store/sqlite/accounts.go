package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/fortunecoin/backend/internal/balance"
	"github.com/fortunecoin/backend/internal/ledger"
	"github.com/fortunecoin/backend/internal/models"
)

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) OpenAccount(ctx context.Context, accountID uuid.UUID) (*models.Account, error) {
	if accountID == uuid.Nil {
		return nil, ledger.ErrInvalidRequest
	}
	now := s.now().UnixNano()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, accountID, now, now)
	if err != nil {
		return nil, ledger.Unavailable("open account", err)
	}
	return s.Account(ctx, accountID)
}

func (s *Store) Account(ctx context.Context, accountID uuid.UUID) (*models.Account, error) {
	a, err := getAccount(ctx, s.db, accountID)
	if err != nil {
		return nil, ledger.Unavailable("get account", err)
	}
	return a, nil
}

func getAccount(ctx context.Context, q querier, accountID uuid.UUID) (*models.Account, error) {
	var (
		a                models.Account
		day              string
		created, updated int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, coin_balance, quota_day, created_at, updated_at FROM accounts WHERE id = ?
	`, accountID).Scan(&a.ID, &a.CoinBalance, &day, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	a.QuotaDay = models.Day(day)
	a.CreatedAt = fromNanos(created)
	a.UpdatedAt = fromNanos(updated)

	rows, err := q.QueryContext(ctx, `SELECT action, remaining FROM account_quotas WHERE account_id = ?`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	a.FreeQuota = make(map[models.ActionType]int64)
	for rows.Next() {
		var (
			action    string
			remaining int64
		)
		if err := rows.Scan(&action, &remaining); err != nil {
			return nil, err
		}
		a.FreeQuota[models.ActionType(action)] = remaining
	}
	return &a, rows.Err()
}

func (s *Store) ListAccounts(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM accounts ORDER BY id`)
	if err != nil {
		return nil, ledger.Unavailable("list accounts", err)
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, ledger.Unavailable("list accounts", err)
		}
		ids = append(ids, id)
	}
	return ids, ledger.Unavailable("list accounts", rows.Err())
}

func currentValue(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, c models.Counter) (int64, error) {
	var coins int64
	err := tx.QueryRowContext(ctx, `SELECT coin_balance FROM accounts WHERE id = ?`, accountID).Scan(&coins)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ledger.ErrAccountNotFound
	}
	if err != nil || c.Unit == models.UnitCoin {
		return coins, err
	}
	var remaining int64
	err = tx.QueryRowContext(ctx, `SELECT remaining FROM account_quotas WHERE account_id = ? AND action = ?`,
		accountID, string(c.Action)).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return remaining, err
}

func addQuota(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, action models.ActionType, delta int64) (int64, error) {
	var remaining int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO account_quotas (account_id, action, remaining) VALUES (?, ?, ?)
		ON CONFLICT (account_id, action) DO UPDATE SET remaining = remaining + excluded.remaining
		RETURNING remaining
	`, accountID, string(action), delta).Scan(&remaining)
	return remaining, err
}

func (s *Store) TryDebit(ctx context.Context, req balance.DebitRequest) (balance.Outcome, error) {
	if err := req.Validate(); err != nil {
		return balance.Outcome{}, err
	}
	var out balance.Outcome
	err := s.inTx(ctx, "debit", req.AccountID, req.IdempotencyKey, func(tx *sql.Tx) error {
		if err := s.checkKey(ctx, tx, req.AccountID, req.IdempotencyKey); err != nil {
			return err
		}
		var (
			newBalance int64
			err        error
		)
		if req.Source.Kind == balance.SourceCoins {
			err = tx.QueryRowContext(ctx, `
				UPDATE accounts SET coin_balance = coin_balance - ?, updated_at = ?
				WHERE id = ? AND coin_balance >= ?
				RETURNING coin_balance
			`, req.Amount, s.now().UnixNano(), req.AccountID, req.Amount).Scan(&newBalance)
		} else {
			err = tx.QueryRowContext(ctx, `
				UPDATE account_quotas SET remaining = remaining - ?
				WHERE account_id = ? AND action = ? AND remaining >= ?
				RETURNING remaining
			`, req.Amount, req.AccountID, string(req.Source.Action), req.Amount).Scan(&newBalance)
		}
		if errors.Is(err, sql.ErrNoRows) {
			cur, err := currentValue(ctx, tx, req.AccountID, req.Source.Counter())
			if err != nil {
				return err
			}
			out = balance.Outcome{Applied: false, Balance: cur}
			return nil
		}
		if err != nil {
			return err
		}
		e := balance.DebitEntry(req, newBalance)
		if err := s.insertEntry(ctx, tx, &e); err != nil {
			return err
		}
		out = balance.Outcome{Applied: true, Balance: newBalance, Entry: &e}
		return nil
	})
	return out, err
}

func (s *Store) Credit(ctx context.Context, req balance.CreditRequest) (balance.Outcome, error) {
	if err := req.Validate(); err != nil {
		return balance.Outcome{}, err
	}
	var out balance.Outcome
	err := s.inTx(ctx, "credit", req.AccountID, req.IdempotencyKey, func(tx *sql.Tx) error {
		if err := s.checkKey(ctx, tx, req.AccountID, req.IdempotencyKey); err != nil {
			return err
		}
		if _, err := currentValue(ctx, tx, req.AccountID, models.Counter{Unit: models.UnitCoin}); err != nil {
			return err
		}
		var (
			newBalance int64
			err        error
		)
		if req.Source.Kind == balance.SourceCoins {
			err = tx.QueryRowContext(ctx, `
				UPDATE accounts SET coin_balance = coin_balance + ?, updated_at = ?
				WHERE id = ?
				RETURNING coin_balance
			`, req.Amount, s.now().UnixNano(), req.AccountID).Scan(&newBalance)
		} else {
			newBalance, err = addQuota(ctx, tx, req.AccountID, req.Source.Action, req.Amount)
		}
		if err != nil {
			return err
		}
		e := balance.CreditEntry(req, newBalance)
		if err := s.insertEntry(ctx, tx, &e); err != nil {
			return err
		}
		out = balance.Outcome{Applied: true, Balance: newBalance, Entry: &e}
		return nil
	})
	return out, err
}

func (s *Store) ResetQuota(ctx context.Context, accountID uuid.UUID, day models.Day, defaults map[models.ActionType]int64) ([]models.LedgerEntry, error) {
	var written []models.LedgerEntry
	err := s.inTx(ctx, "reset quota", accountID, "", func(tx *sql.Tx) error {
		a, err := getAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if !a.QuotaDay.Before(day) {
			return nil
		}
		for _, action := range balance.SortedActions(defaults) {
			allowance := defaults[action]
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO account_quotas (account_id, action, remaining) VALUES (?, ?, ?)
				ON CONFLICT (account_id, action) DO UPDATE SET remaining = excluded.remaining
			`, accountID, string(action), allowance); err != nil {
				return err
			}
			e := balance.ResetEntry(accountID, action, a.FreeQuota[action], allowance, day)
			if err := s.insertEntry(ctx, tx, &e); err != nil {
				return err
			}
			written = append(written, e)
		}
		_, err = tx.ExecContext(ctx, `UPDATE accounts SET quota_day = ?, updated_at = ? WHERE id = ?`,
			string(day), s.now().UnixNano(), accountID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return written, nil
}
