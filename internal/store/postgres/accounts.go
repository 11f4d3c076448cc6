package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fortunecoin/backend/internal/balance"
	"github.com/fortunecoin/backend/internal/ledger"
	"github.com/fortunecoin/backend/internal/models"
)

func (s *Store) OpenAccount(ctx context.Context, accountID uuid.UUID) (*models.Account, error) {
	if accountID == uuid.Nil {
		return nil, ledger.ErrInvalidRequest
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (id) VALUES ($1)
		ON CONFLICT (id) DO NOTHING
	`, accountID)
	if err != nil {
		return nil, ledger.Unavailable("open account", err)
	}
	return s.Account(ctx, accountID)
}

func (s *Store) Account(ctx context.Context, accountID uuid.UUID) (*models.Account, error) {
	a, err := getAccount(ctx, s.pool, accountID)
	if err != nil {
		return nil, ledger.Unavailable("get account", err)
	}
	return a, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func getAccount(ctx context.Context, q querier, accountID uuid.UUID) (*models.Account, error) {
	var (
		a   models.Account
		day string
	)
	err := q.QueryRow(ctx, `
		SELECT id, coin_balance, quota_day, created_at, updated_at
		FROM accounts WHERE id = $1
	`, accountID).Scan(&a.ID, &a.CoinBalance, &day, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	a.QuotaDay = models.Day(day)
	a.FreeQuota, err = getQuotas(ctx, q, accountID, false)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func getQuotas(ctx context.Context, q querier, accountID uuid.UUID, forUpdate bool) (map[models.ActionType]int64, error) {
	sql := `SELECT action, remaining FROM account_quotas WHERE account_id = $1 ORDER BY action`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, sql, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[models.ActionType]int64)
	for rows.Next() {
		var (
			action    string
			remaining int64
		)
		if err := rows.Scan(&action, &remaining); err != nil {
			return nil, err
		}
		out[models.ActionType(action)] = remaining
	}
	return out, rows.Err()
}

func (s *Store) ListAccounts(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM accounts ORDER BY id`)
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

// lockAccount takes the account row lock that orders every multi-row mutation.
func lockAccount(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (coins int64, day models.Day, err error) {
	var d string
	err = tx.QueryRow(ctx, `SELECT coin_balance, quota_day FROM accounts WHERE id = $1 FOR UPDATE`, accountID).Scan(&coins, &d)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, "", ledger.ErrAccountNotFound
	}
	return coins, models.Day(d), err
}

// currentValue reads a counter after a conditional update matched no row.
func currentValue(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, c models.Counter) (int64, error) {
	var coins int64
	err := tx.QueryRow(ctx, `SELECT coin_balance FROM accounts WHERE id = $1`, accountID).Scan(&coins)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ledger.ErrAccountNotFound
	}
	if err != nil || c.Unit == models.UnitCoin {
		return coins, err
	}
	var remaining int64
	err = tx.QueryRow(ctx, `SELECT remaining FROM account_quotas WHERE account_id = $1 AND action = $2`,
		accountID, string(c.Action)).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return remaining, err
}

// addQuota adds delta to a quota row, creating it at delta when missing.
func addQuota(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, action models.ActionType, delta int64) (int64, error) {
	var remaining int64
	err := tx.QueryRow(ctx, `
		INSERT INTO account_quotas (account_id, action, remaining) VALUES ($1, $2, $3)
		ON CONFLICT (account_id, action) DO UPDATE SET remaining = account_quotas.remaining + EXCLUDED.remaining
		RETURNING remaining
	`, accountID, string(action), delta).Scan(&remaining)
	return remaining, err
}

func (s *Store) TryDebit(ctx context.Context, req balance.DebitRequest) (balance.Outcome, error) {
	if err := req.Validate(); err != nil {
		return balance.Outcome{}, err
	}
	var out balance.Outcome
	err := s.inTx(ctx, "debit", req.AccountID, req.IdempotencyKey, func(tx pgx.Tx) error {
		if err := s.checkKey(ctx, tx, req.AccountID, req.IdempotencyKey); err != nil {
			return err
		}
		var (
			newBalance int64
			err        error
		)
		if req.Source.Kind == balance.SourceCoins {
			err = tx.QueryRow(ctx, `
				UPDATE accounts SET coin_balance = coin_balance - $1, updated_at = now()
				WHERE id = $2 AND coin_balance >= $1
				RETURNING coin_balance
			`, req.Amount, req.AccountID).Scan(&newBalance)
		} else {
			// Account row before quota row, the order every other writer uses.
			if _, _, err := lockAccount(ctx, tx, req.AccountID); err != nil {
				return err
			}
			err = tx.QueryRow(ctx, `
				UPDATE account_quotas SET remaining = remaining - $1
				WHERE account_id = $2 AND action = $3 AND remaining >= $1
				RETURNING remaining
			`, req.Amount, req.AccountID, string(req.Source.Action)).Scan(&newBalance)
		}
		if errors.Is(err, pgx.ErrNoRows) {
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
	err := s.inTx(ctx, "credit", req.AccountID, req.IdempotencyKey, func(tx pgx.Tx) error {
		if err := s.checkKey(ctx, tx, req.AccountID, req.IdempotencyKey); err != nil {
			return err
		}
		if _, _, err := lockAccount(ctx, tx, req.AccountID); err != nil {
			return err
		}
		var (
			newBalance int64
			err        error
		)
		if req.Source.Kind == balance.SourceCoins {
			err = tx.QueryRow(ctx, `
				UPDATE accounts SET coin_balance = coin_balance + $1, updated_at = now()
				WHERE id = $2
				RETURNING coin_balance
			`, req.Amount, req.AccountID).Scan(&newBalance)
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
	err := s.inTx(ctx, "reset quota", accountID, "", func(tx pgx.Tx) error {
		_, stored, err := lockAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}
		// A concurrent reset that won the lock already advanced the day.
		if !stored.Before(day) {
			return nil
		}
		current, err := getQuotas(ctx, tx, accountID, true)
		if err != nil {
			return err
		}
		for _, action := range balance.SortedActions(defaults) {
			allowance := defaults[action]
			if _, err := tx.Exec(ctx, `
				INSERT INTO account_quotas (account_id, action, remaining) VALUES ($1, $2, $3)
				ON CONFLICT (account_id, action) DO UPDATE SET remaining = EXCLUDED.remaining
			`, accountID, string(action), allowance); err != nil {
				return err
			}
			e := balance.ResetEntry(accountID, action, current[action], allowance, day)
			if err := s.insertEntry(ctx, tx, &e); err != nil {
				return err
			}
			written = append(written, e)
		}
		_, err = tx.Exec(ctx, `UPDATE accounts SET quota_day = $2, updated_at = now() WHERE id = $1`, accountID, string(day))
		return err
	})
	if err != nil {
		return nil, err
	}
	return written, nil
}
