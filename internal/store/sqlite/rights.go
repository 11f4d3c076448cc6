package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/fortunecoin/backend/internal/balance"
	"github.com/fortunecoin/backend/internal/ledger"
	"github.com/fortunecoin/backend/internal/models"
	"github.com/fortunecoin/backend/internal/rights"
)

func (s *Store) ScheduleExtraRights(ctx context.Context, req rights.PurchaseRequest) (rights.Schedule, error) {
	if err := req.Validate(); err != nil {
		return rights.Schedule{}, err
	}
	var out rights.Schedule
	err := s.inTx(ctx, "schedule extra rights", req.AccountID, req.IdempotencyKey, func(tx *sql.Tx) error {
		if err := s.checkKey(ctx, tx, req.AccountID, req.IdempotencyKey); err != nil {
			return err
		}
		var newBalance int64
		err := tx.QueryRowContext(ctx, `
			UPDATE accounts SET coin_balance = coin_balance - ?, updated_at = ?
			WHERE id = ? AND coin_balance >= ?
			RETURNING coin_balance
		`, req.TotalCost, s.now().UnixNano(), req.AccountID, req.TotalCost).Scan(&newBalance)
		if errors.Is(err, sql.ErrNoRows) {
			if _, err := currentValue(ctx, tx, req.AccountID, models.Counter{Unit: models.UnitCoin}); err != nil {
				return err
			}
			return ledger.ErrInsufficientCoins
		}
		if err != nil {
			return err
		}

		rows, err := tx.QueryContext(ctx, `
			SELECT redeemable_on FROM extra_rights
			WHERE account_id = ? AND action = ? AND redeemable_on > ?
		`, req.AccountID, string(req.Action), string(req.Today))
		if err != nil {
			return err
		}
		taken := make(map[models.Day]bool)
		for rows.Next() {
			var d string
			if err := rows.Scan(&d); err != nil {
				rows.Close()
				return err
			}
			taken[models.Day(d)] = true
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		e := balance.DebitEntry(balance.DebitRequest{
			AccountID:      req.AccountID,
			Source:         balance.Coins(),
			Amount:         req.TotalCost,
			Reason:         req.Reason(),
			IdempotencyKey: req.IdempotencyKey,
			ActorID:        req.ActorID,
			QuotaDay:       req.Today,
		}, newBalance)
		if err := s.insertEntry(ctx, tx, &e); err != nil {
			return err
		}

		created := rights.NewRights(req, rights.PlanDays(req.Today, req.Count, taken), e.ID)
		for i := range created {
			r := &created[i]
			r.CreatedAt = e.CreatedAt
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO extra_rights (id, account_id, action, redeemable_on, purchase_entry_id, created_at)
				VALUES (?, ?, ?, ?, ?, ?)
			`, r.ID, r.AccountID, string(r.Action), string(r.RedeemableOn), r.PurchaseEntryID, r.CreatedAt.UnixNano()); err != nil {
				return err
			}
		}
		out = rights.Schedule{Action: req.Action, Count: req.Count, Rights: created, Entry: &e, Balance: newBalance}
		return nil
	})
	return out, err
}

func (s *Store) RedeemExtraRight(ctx context.Context, accountID uuid.UUID, action models.ActionType, day models.Day) (*models.ExtraRight, *models.LedgerEntry, error) {
	var (
		right *models.ExtraRight
		grant *models.LedgerEntry
	)
	err := s.inTx(ctx, "redeem extra right", accountID, "", func(tx *sql.Tx) error {
		if _, err := currentValue(ctx, tx, accountID, models.Counter{Unit: models.UnitCoin}); err != nil {
			return err
		}
		r, err := scanRight(tx.QueryRowContext(ctx, `SELECT `+rightColumns+` FROM extra_rights
			WHERE account_id = ? AND action = ? AND redeemable_on = ? AND consumed = 0`,
			accountID, string(action), string(day)))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		remaining, err := addQuota(ctx, tx, accountID, action, 1)
		if err != nil {
			return err
		}
		e := rights.RedeemEntry(*r, remaining)
		if err := s.insertEntry(ctx, tx, &e); err != nil {
			return err
		}
		consumedAt := e.CreatedAt
		if _, err := tx.ExecContext(ctx, `UPDATE extra_rights SET consumed = 1, consumed_at = ? WHERE id = ?`,
			consumedAt.UnixNano(), r.ID); err != nil {
			return err
		}
		r.Consumed = true
		r.ConsumedAt = &consumedAt
		right, grant = r, &e
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return right, grant, nil
}

func (s *Store) ExtraRights(ctx context.Context, accountID uuid.UUID) ([]models.ExtraRight, error) {
	return s.queryRights(ctx, `SELECT `+rightColumns+` FROM extra_rights
		WHERE account_id = ? ORDER BY redeemable_on, action`, accountID)
}

func (s *Store) ExtraRightsByPurchase(ctx context.Context, accountID uuid.UUID, purchaseEntryID string) ([]models.ExtraRight, error) {
	return s.queryRights(ctx, `SELECT `+rightColumns+` FROM extra_rights
		WHERE account_id = ? AND purchase_entry_id = ? ORDER BY redeemable_on`, accountID, purchaseEntryID)
}

func (s *Store) queryRights(ctx context.Context, query string, args ...any) ([]models.ExtraRight, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ledger.Unavailable("list extra rights", err)
	}
	defer rows.Close()
	var out []models.ExtraRight
	for rows.Next() {
		r, err := scanRight(rows)
		if err != nil {
			return nil, ledger.Unavailable("list extra rights", err)
		}
		out = append(out, *r)
	}
	return out, ledger.Unavailable("list extra rights", rows.Err())
}

func (s *Store) PruneExtraRights(ctx context.Context, cutoff models.Day) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM extra_rights WHERE redeemable_on < ?`, string(cutoff))
	if err != nil {
		return 0, ledger.Unavailable("prune extra rights", err)
	}
	n, err := res.RowsAffected()
	return n, ledger.Unavailable("prune extra rights", err)
}
