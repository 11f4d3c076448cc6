package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

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
	err := s.inTx(ctx, "schedule extra rights", req.AccountID, req.IdempotencyKey, func(tx pgx.Tx) error {
		if err := s.checkKey(ctx, tx, req.AccountID, req.IdempotencyKey); err != nil {
			return err
		}
		var newBalance int64
		err := tx.QueryRow(ctx, `
			UPDATE accounts SET coin_balance = coin_balance - $1, updated_at = now()
			WHERE id = $2 AND coin_balance >= $1
			RETURNING coin_balance
		`, req.TotalCost, req.AccountID).Scan(&newBalance)
		if errors.Is(err, pgx.ErrNoRows) {
			if _, err := currentValue(ctx, tx, req.AccountID, models.Counter{Unit: models.UnitCoin}); err != nil {
				return err
			}
			return ledger.ErrInsufficientCoins
		}
		if err != nil {
			return err
		}

		taken, err := takenDays(ctx, tx, req)
		if err != nil {
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
			if err := tx.QueryRow(ctx, `
				INSERT INTO extra_rights (id, account_id, action, redeemable_on, purchase_entry_id)
				VALUES ($1, $2, $3, $4, $5)
				RETURNING created_at
			`, r.ID, r.AccountID, string(r.Action), string(r.RedeemableOn), r.PurchaseEntryID).Scan(&r.CreatedAt); err != nil {
				return err
			}
		}
		out = rights.Schedule{Action: req.Action, Count: req.Count, Rights: created, Entry: &e, Balance: newBalance}
		return nil
	})
	return out, err
}

func takenDays(ctx context.Context, tx pgx.Tx, req rights.PurchaseRequest) (map[models.Day]bool, error) {
	rows, err := tx.Query(ctx, `
		SELECT redeemable_on FROM extra_rights
		WHERE account_id = $1 AND action = $2 AND redeemable_on > $3
	`, req.AccountID, string(req.Action), string(req.Today))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	taken := make(map[models.Day]bool)
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		taken[models.Day(d)] = true
	}
	return taken, rows.Err()
}

func (s *Store) RedeemExtraRight(ctx context.Context, accountID uuid.UUID, action models.ActionType, day models.Day) (*models.ExtraRight, *models.LedgerEntry, error) {
	// Most requests have nothing to redeem; skip the locking transaction for them.
	var pending bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM extra_rights
			WHERE account_id = $1 AND action = $2 AND redeemable_on = $3 AND NOT consumed)
	`, accountID, string(action), string(day)).Scan(&pending)
	if err != nil {
		return nil, nil, ledger.Unavailable("redeem extra right", err)
	}
	if !pending {
		return nil, nil, nil
	}

	var (
		right *models.ExtraRight
		grant *models.LedgerEntry
	)
	err = s.inTx(ctx, "redeem extra right", accountID, "", func(tx pgx.Tx) error {
		if _, _, err := lockAccount(ctx, tx, accountID); err != nil {
			return err
		}
		r, err := scanRight(tx.QueryRow(ctx, `SELECT `+rightColumns+` FROM extra_rights
			WHERE account_id = $1 AND action = $2 AND redeemable_on = $3 AND NOT consumed
			FOR UPDATE`, accountID, string(action), string(day)))
		if errors.Is(err, pgx.ErrNoRows) {
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
		if err := tx.QueryRow(ctx, `
			UPDATE extra_rights SET consumed = true, consumed_at = now() WHERE id = $1
			RETURNING consumed_at
		`, r.ID).Scan(&r.ConsumedAt); err != nil {
			return err
		}
		r.Consumed = true
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
		WHERE account_id = $1 ORDER BY redeemable_on, action`, accountID)
}

func (s *Store) ExtraRightsByPurchase(ctx context.Context, accountID uuid.UUID, purchaseEntryID string) ([]models.ExtraRight, error) {
	return s.queryRights(ctx, `SELECT `+rightColumns+` FROM extra_rights
		WHERE account_id = $1 AND purchase_entry_id = $2 ORDER BY redeemable_on`, accountID, purchaseEntryID)
}

func (s *Store) queryRights(ctx context.Context, sql string, args ...any) ([]models.ExtraRight, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
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
	tag, err := s.pool.Exec(ctx, `DELETE FROM extra_rights WHERE redeemable_on < $1`, string(cutoff))
	if err != nil {
		return 0, ledger.Unavailable("prune extra rights", err)
	}
	return tag.RowsAffected(), nil
}
