// Package entitlement decides whether an account may perform a chargeable
// action and debits the source that pays for it: free quota first, then coins.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/fortunecoin/backend/internal/balance"
	"github.com/fortunecoin/backend/internal/ledger"
	"github.com/fortunecoin/backend/internal/models"
	"github.com/fortunecoin/backend/internal/quota"
)

// Balances is the subset of the balance accessor the resolver needs.
type Balances interface {
	Account(ctx context.Context, accountID uuid.UUID) (*models.Account, error)
	TryDebit(ctx context.Context, req balance.DebitRequest) (balance.Outcome, error)
	ResetQuota(ctx context.Context, accountID uuid.UUID, day models.Day, defaults map[models.ActionType]int64) ([]models.LedgerEntry, error)
}

type Redeemer interface {
	RedeemExtraRight(ctx context.Context, accountID uuid.UUID, action models.ActionType, day models.Day) (*models.ExtraRight, *models.LedgerEntry, error)
}

type EntryLookup interface {
	EntryByIdempotencyKey(ctx context.Context, accountID uuid.UUID, key string) (*models.LedgerEntry, error)
}

type Request struct {
	AccountID      uuid.UUID
	Action         models.ActionType
	IdempotencyKey string
	ActorID        string
}

// Decision is the terminal state of one request: Granted from a source, or
// denied. Effects lists every entry written while deciding, in order.
type Decision struct {
	Granted       bool                 `json:"granted"`
	Source        balance.SourceKind   `json:"source,omitempty"`
	Action        models.ActionType    `json:"action"`
	CoinBalance   int64                `json:"coin_balance"`
	FreeRemaining int64                `json:"free_remaining"`
	Entry         *models.LedgerEntry  `json:"entry,omitempty"`
	Effects       []models.LedgerEntry `json:"-"`
	RightRedeemed bool                 `json:"right_redeemed,omitempty"`
	Replayed      bool                 `json:"replayed,omitempty"`
}

// Err returns ledger.ErrInsufficientEntitlement for a denial.
func (d Decision) Err() error {
	if d.Granted {
		return nil
	}
	return ledger.ErrInsufficientEntitlement
}

type Resolver struct {
	balances Balances
	rights   Redeemer
	entries  EntryLookup
	clock    quota.Clock
	catalog  *Catalog
	logger   *slog.Logger
}

func NewResolver(balances Balances, rights Redeemer, entries EntryLookup, clock quota.Clock, catalog *Catalog, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Resolver{balances: balances, rights: rights, entries: entries, clock: clock, catalog: catalog, logger: logger}
}

func (r *Resolver) Catalog() *Catalog { return r.catalog }

// Resolve runs the decision procedure. A denial is a Decision with
// Granted=false and a nil error; errors are infrastructure or invariant
// failures and are never reported as a denial. Nothing is retried here.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Decision, error) {
	policy, ok := r.catalog.Policy(req.Action)
	if !ok {
		return Decision{}, fmt.Errorf("%w: unknown action %q", ledger.ErrInvalidRequest, req.Action)
	}

	if req.IdempotencyKey != "" {
		orig, err := r.entries.EntryByIdempotencyKey(ctx, req.AccountID, req.IdempotencyKey)
		switch {
		case err == nil:
			return replay(req.Action, orig), nil
		case !errors.Is(err, ledger.ErrEntryNotFound):
			return Decision{}, err
		}
	}

	acct, err := r.balances.Account(ctx, req.AccountID)
	if err != nil {
		return Decision{}, err
	}
	d := Decision{Action: req.Action, CoinBalance: acct.CoinBalance, FreeRemaining: acct.FreeRemaining(req.Action)}

	// The day boundary reset must land before any quota check.
	today := r.clock.Today()
	if quota.IsNewDay(r.clock, acct) {
		resets, err := r.balances.ResetQuota(ctx, req.AccountID, today, r.catalog.DailyAllowances())
		if err != nil {
			return Decision{}, err
		}
		d.Effects = append(d.Effects, resets...)
	}

	right, grant, err := r.rights.RedeemExtraRight(ctx, req.AccountID, req.Action, today)
	if err != nil {
		return Decision{}, err
	}
	if right != nil {
		d.RightRedeemed = true
		d.Effects = append(d.Effects, *grant)
		r.logger.Debug("extra right redeemed", "account_id", req.AccountID, "action", req.Action, "right_id", right.ID)
	}

	out, err := r.balances.TryDebit(ctx, balance.DebitRequest{
		AccountID:      req.AccountID,
		Source:         balance.FreeQuota(req.Action),
		Amount:         1,
		Reason:         "action " + string(req.Action),
		IdempotencyKey: req.IdempotencyKey,
		ActorID:        req.ActorID,
		QuotaDay:       today,
	})
	if orig, dup := ledger.AsDuplicate(err); dup {
		return replay(req.Action, orig), nil
	}
	if err != nil {
		return Decision{}, err
	}
	if out.Applied {
		d.Granted = true
		d.Source = balance.SourceFreeQuota
		d.FreeRemaining = out.Balance
		d.Entry = out.Entry
		d.Effects = append(d.Effects, *out.Entry)
		return d, nil
	}
	d.FreeRemaining = 0

	out, err = r.balances.TryDebit(ctx, balance.DebitRequest{
		AccountID:      req.AccountID,
		Source:         balance.Coins(),
		Amount:         policy.CoinCost,
		Reason:         "action " + string(req.Action),
		IdempotencyKey: req.IdempotencyKey,
		ActorID:        req.ActorID,
		QuotaDay:       today,
	})
	if orig, dup := ledger.AsDuplicate(err); dup {
		return replay(req.Action, orig), nil
	}
	if err != nil {
		return Decision{}, err
	}
	if out.Applied {
		d.Granted = true
		d.Source = balance.SourceCoins
		d.CoinBalance = out.Balance
		d.Entry = out.Entry
		d.Effects = append(d.Effects, *out.Entry)
		return d, nil
	}

	r.logger.Debug("entitlement denied", "account_id", req.AccountID, "action", req.Action, "coin_balance", d.CoinBalance, "coin_cost", policy.CoinCost)
	return d, nil
}

func replay(action models.ActionType, orig *models.LedgerEntry) Decision {
	d := Decision{Granted: true, Action: action, Entry: orig, Replayed: true}
	if orig == nil {
		return d
	}
	d.Source = balance.SourceOf(orig).Kind
	if orig.Unit == models.UnitCoin {
		d.CoinBalance = orig.ResultingBalance
	} else {
		d.FreeRemaining = orig.ResultingBalance
	}
	return d
}
