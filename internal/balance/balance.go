// Package balance defines the atomic, conditional operations that move an
// account's coin balance and free quota. Each operation appends its ledger
// entry in the same unit of work as the projection update.
package balance

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/fortunecoin/backend/internal/ledger"
	"github.com/fortunecoin/backend/internal/models"
)

type SourceKind string

const (
	SourceFreeQuota SourceKind = "FREE_QUOTA"
	SourceCoins     SourceKind = "COINS"
)

// Source is the counter a debit or credit applies to.
type Source struct {
	Kind   SourceKind        `json:"kind"`
	Action models.ActionType `json:"action,omitempty"`
}

func FreeQuota(a models.ActionType) Source { return Source{Kind: SourceFreeQuota, Action: a} }

func Coins() Source { return Source{Kind: SourceCoins} }

// SourceOf returns the source an entry was written against.
func SourceOf(e *models.LedgerEntry) Source {
	if e.Unit == models.UnitQuota {
		return FreeQuota(e.Action)
	}
	return Coins()
}

func (s Source) Unit() models.Unit {
	if s.Kind == SourceFreeQuota {
		return models.UnitQuota
	}
	return models.UnitCoin
}

// Counter returns the ledger counter the source maps to.
func (s Source) Counter() models.Counter {
	if s.Kind == SourceFreeQuota {
		return models.Counter{Unit: models.UnitQuota, Action: s.Action}
	}
	return models.Counter{Unit: models.UnitCoin}
}

func (s Source) Validate() error {
	switch s.Kind {
	case SourceCoins:
		return nil
	case SourceFreeQuota:
		if !s.Action.Valid() {
			return fmt.Errorf("%w: unknown action %q", ledger.ErrInvalidRequest, s.Action)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown source %q", ledger.ErrInvalidRequest, s.Kind)
}

func (s Source) String() string {
	if s.Kind == SourceFreeQuota {
		return string(s.Kind) + "(" + string(s.Action) + ")"
	}
	return string(s.Kind)
}

type DebitRequest struct {
	AccountID      uuid.UUID
	Source         Source
	Amount         int64
	Reason         string
	IdempotencyKey string
	ActorID        string
	QuotaDay       models.Day
}

func (r DebitRequest) Validate() error {
	if r.AccountID == uuid.Nil {
		return fmt.Errorf("%w: missing account id", ledger.ErrInvalidRequest)
	}
	if r.Amount <= 0 {
		return ledger.ErrInvalidAmount
	}
	return r.Source.Validate()
}

type CreditRequest struct {
	AccountID      uuid.UUID
	Source         Source
	Amount         int64
	Kind           models.EntryKind
	Reason         string
	IdempotencyKey string
	RefEntryID     string
	ActorID        string
	QuotaDay       models.Day
}

func (r CreditRequest) Validate() error {
	if r.AccountID == uuid.Nil {
		return fmt.Errorf("%w: missing account id", ledger.ErrInvalidRequest)
	}
	if r.Amount <= 0 {
		return ledger.ErrInvalidAmount
	}
	switch r.Kind {
	case models.EntryGrant, models.EntryAdminGrant, models.EntryPurchase, models.EntryRefund:
	default:
		return fmt.Errorf("%w: %q is not a credit kind", ledger.ErrInvalidRequest, r.Kind)
	}
	return r.Source.Validate()
}

// Outcome is the result of a debit or credit. Applied is false when a
// conditional debit found too little balance; nothing was written then.
type Outcome struct {
	Applied  bool                `json:"applied"`
	Balance  int64               `json:"balance"`
	Entry    *models.LedgerEntry `json:"entry,omitempty"`
	Replayed bool                `json:"replayed,omitempty"`
}

// ReplayedOutcome builds the outcome reported for a repeated idempotency token.
func ReplayedOutcome(orig *models.LedgerEntry) Outcome {
	return Outcome{Applied: true, Balance: orig.ResultingBalance, Entry: orig, Replayed: true}
}

// Accessor is the only way balances change. Implementations must make
// every method a single atomic unit that is linearizable per account.
type Accessor interface {
	Account(ctx context.Context, accountID uuid.UUID) (*models.Account, error)
	OpenAccount(ctx context.Context, accountID uuid.UUID) (*models.Account, error)
	ListAccounts(ctx context.Context) ([]uuid.UUID, error)

	// TryDebit subtracts Amount only if the counter holds at least Amount.
	TryDebit(ctx context.Context, req DebitRequest) (Outcome, error)

	// Credit adds Amount to the counter and records an entry of req.Kind.
	Credit(ctx context.Context, req CreditRequest) (Outcome, error)

	// ResetQuota sets every action in defaults to its daily allowance and
	// advances the account's quota day, but only if the stored day is older
	// than day. It returns the RESET entries written, none when it was a no-op.
	ResetQuota(ctx context.Context, accountID uuid.UUID, day models.Day, defaults map[models.ActionType]int64) ([]models.LedgerEntry, error)
}
