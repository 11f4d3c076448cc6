package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fortunecoin/backend/internal/balance"
	"github.com/fortunecoin/backend/internal/entitlement"
	"github.com/fortunecoin/backend/internal/events"
	"github.com/fortunecoin/backend/internal/ledger"
	"github.com/fortunecoin/backend/internal/metrics"
	"github.com/fortunecoin/backend/internal/models"
	"github.com/fortunecoin/backend/internal/quota"
	"github.com/fortunecoin/backend/internal/rights"
)

var (
	// ErrForbidden is returned when the actor may not touch the account.
	ErrForbidden = errors.New("forbidden")
	// ErrAdminOnly is returned for operations reserved to administrators.
	ErrAdminOnly = fmt.Errorf("%w: admin only", ErrForbidden)
)

// Idempotency key namespaces. Keys are unique per account across every
// operation, so each operation prefixes the caller's token.
const (
	keyDebit    = "debit:"
	keyRights   = "rights:"
	keyGrant    = "grant:"
	keyPurchase = "purchase:"
	keyRefund   = "refund:"
)

// Backend is everything CoinService needs from a store.
type Backend interface {
	balance.Accessor
	ledger.Store
	rights.Store
}

// CoinService is the entry point for every balance-changing request. It
// authorizes the actor, delegates to the resolver or the store, and fans
// the resulting ledger entries out to metrics and events.
type CoinService struct {
	Store     Backend
	Resolver  *entitlement.Resolver
	Scheduler *rights.Scheduler
	Clock     quota.Clock
	Events    events.Emitter
	Logger    *slog.Logger
}

// NewCoinService wires the resolver and scheduler over store.
func NewCoinService(store Backend, clock quota.Clock, catalog *entitlement.Catalog, emitter events.Emitter, logger *slog.Logger) *CoinService {
	if logger == nil {
		logger = slog.Default()
	}
	if emitter == nil {
		emitter = events.Discard{}
	}
	return &CoinService{
		Store:     store,
		Resolver:  entitlement.NewResolver(store, store, store, clock, catalog, logger),
		Scheduler: rights.NewScheduler(store, clock, logger),
		Clock:     clock,
		Events:    emitter,
		Logger:    logger,
	}
}

func (s *CoinService) Catalog() *entitlement.Catalog { return s.Resolver.Catalog() }

// OpenAccount creates the account if missing. Users may only open their own.
func (s *CoinService) OpenAccount(ctx context.Context, actor models.Actor, accountID uuid.UUID) (*models.Account, error) {
	if !actor.CanActOn(accountID) {
		return nil, ErrForbidden
	}
	return s.Store.OpenAccount(ctx, accountID)
}

// Account returns the balance projection, with today's quota reset applied
// lazily in the view when the stored quota day is stale.
func (s *CoinService) Account(ctx context.Context, actor models.Actor, accountID uuid.UUID) (*models.Account, error) {
	if !actor.CanActOn(accountID) {
		return nil, ErrForbidden
	}
	a, err := s.Store.Account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if quota.IsNewDay(s.Clock, a) {
		a.FreeQuota = s.Catalog().DailyAllowances()
		a.QuotaDay = s.Clock.Today()
	}
	return a, nil
}

// History returns one page of the account's ledger, oldest first.
func (s *CoinService) History(ctx context.Context, actor models.Actor, accountID uuid.UUID, q ledger.Query) (ledger.Page, error) {
	if !actor.CanActOn(accountID) {
		return ledger.Page{}, ErrForbidden
	}
	if _, err := s.Store.Account(ctx, accountID); err != nil {
		return ledger.Page{}, err
	}
	return s.Store.Entries(ctx, accountID, q)
}

func (s *CoinService) ExtraRights(ctx context.Context, actor models.Actor, accountID uuid.UUID) ([]models.ExtraRight, error) {
	if !actor.CanActOn(accountID) {
		return nil, ErrForbidden
	}
	return s.Store.ExtraRights(ctx, accountID)
}

// CheckAndDebit decides and pays for one action. A denial is returned as a
// Decision with Granted=false and a nil error.
func (s *CoinService) CheckAndDebit(ctx context.Context, actor models.Actor, accountID uuid.UUID, action models.ActionType, key string) (d entitlement.Decision, err error) {
	defer func(start time.Time) { metrics.ObserveOp("check_and_debit", start, err) }(time.Now())
	if !actor.CanActOn(accountID) {
		return entitlement.Decision{}, ErrForbidden
	}

	d, err = s.Resolver.Resolve(ctx, entitlement.Request{
		AccountID:      accountID,
		Action:         action,
		IdempotencyKey: namespaced(keyDebit, key),
		ActorID:        actor.String(),
	})
	if err != nil {
		s.logFailure(ctx, "check and debit", accountID, err)
		return d, err
	}
	s.publish(d.Effects...)
	metrics.EntitlementDecisions.WithLabelValues(string(action), outcome(d)).Inc()
	return d, nil
}

// ScheduleExtraRights sells count extra rights for action at the catalog price.
func (s *CoinService) ScheduleExtraRights(ctx context.Context, actor models.Actor, accountID uuid.UUID, action models.ActionType, count int, key string) (sched rights.Schedule, err error) {
	defer func(start time.Time) { metrics.ObserveOp("schedule_extra_rights", start, err) }(time.Now())
	if !actor.CanActOn(accountID) {
		return rights.Schedule{}, ErrForbidden
	}
	cost, err := s.Catalog().ExtraRightsCost(action, count)
	if err != nil {
		return rights.Schedule{}, fmt.Errorf("%w: %v", ledger.ErrInvalidRequest, err)
	}

	sched, err = s.Scheduler.Purchase(ctx, accountID, action, count, cost, namespaced(keyRights, key), actor.String())
	if err != nil {
		s.logFailure(ctx, "schedule extra rights", accountID, err)
		return sched, err
	}
	if !sched.Replayed {
		s.publish(*sched.Entry)
		metrics.ExtraRightsScheduled.WithLabelValues(string(action)).Add(float64(len(sched.Rights)))
	}
	return sched, nil
}

// GrantAdmin credits coins by hand. Reason is mandatory so every manual
// grant is explained in the ledger.
func (s *CoinService) GrantAdmin(ctx context.Context, actor models.Actor, accountID uuid.UUID, amount int64, reason, key string) (balance.Outcome, error) {
	if !actor.IsAdmin() {
		return balance.Outcome{}, ErrAdminOnly
	}
	if strings.TrimSpace(reason) == "" {
		return balance.Outcome{}, fmt.Errorf("%w: reason is required", ledger.ErrInvalidRequest)
	}
	return s.credit(ctx, "admin_grant", balance.CreditRequest{
		AccountID:      accountID,
		Source:         balance.Coins(),
		Amount:         amount,
		Kind:           models.EntryAdminGrant,
		Reason:         reason,
		IdempotencyKey: namespaced(keyGrant, key),
		ActorID:        actor.String(),
	})
}

// RecordPurchase credits coins bought through the payment provider. The
// provider's payment id is the idempotency key, so redelivered webhooks
// credit once. The account is opened if this is its first purchase.
func (s *CoinService) RecordPurchase(ctx context.Context, actor models.Actor, accountID uuid.UUID, coins int64, paymentID string) (balance.Outcome, error) {
	if !actor.IsAdmin() {
		return balance.Outcome{}, ErrAdminOnly
	}
	if strings.TrimSpace(paymentID) == "" {
		return balance.Outcome{}, fmt.Errorf("%w: payment id is required", ledger.ErrInvalidRequest)
	}
	if _, err := s.Store.OpenAccount(ctx, accountID); err != nil {
		return balance.Outcome{}, err
	}
	return s.credit(ctx, "purchase", balance.CreditRequest{
		AccountID:      accountID,
		Source:         balance.Coins(),
		Amount:         coins,
		Kind:           models.EntryPurchase,
		Reason:         "purchase " + paymentID,
		IdempotencyKey: keyPurchase + paymentID,
		ActorID:        actor.String(),
	})
}

// Refund reverses a DEBIT entry once. Free quota is only given back while
// the debit's quota day is still current; after a reset the unit is gone.
func (s *CoinService) Refund(ctx context.Context, actor models.Actor, entryID, reason string) (balance.Outcome, error) {
	if !actor.IsAdmin() {
		return balance.Outcome{}, ErrAdminOnly
	}
	if err := models.ValidateID(entryID, models.PrefixLedgerEntry); err != nil {
		return balance.Outcome{}, fmt.Errorf("%w: %v", ledger.ErrInvalidRequest, err)
	}
	orig, err := s.Store.Entry(ctx, entryID)
	if err != nil {
		return balance.Outcome{}, err
	}
	if orig.Kind != models.EntryDebit {
		return balance.Outcome{}, fmt.Errorf("%w: entry is %s", ledger.ErrNotRefundable, orig.Kind)
	}
	src := balance.SourceOf(orig)
	switch src.Kind {
	case balance.SourceCoins:
		// Rights already scheduled cannot be taken back.
		if _, _, bought := rights.PurchaseOf(*orig); bought {
			return balance.Outcome{}, fmt.Errorf("%w: entry paid for extra rights", ledger.ErrNotRefundable)
		}
	case balance.SourceFreeQuota:
		a, err := s.Store.Account(ctx, orig.AccountID)
		if err != nil {
			return balance.Outcome{}, err
		}
		if a.QuotaDay != orig.QuotaDay || quota.IsNewDay(s.Clock, a) {
			return balance.Outcome{}, fmt.Errorf("%w: quota day %s has ended", ledger.ErrNotRefundable, orig.QuotaDay)
		}
	}
	if strings.TrimSpace(reason) == "" {
		reason = "refund " + orig.ID
	}
	return s.credit(ctx, "refund", balance.CreditRequest{
		AccountID:      orig.AccountID,
		Source:         src,
		Amount:         -orig.Amount,
		Kind:           models.EntryRefund,
		Reason:         reason,
		IdempotencyKey: keyRefund + orig.ID,
		RefEntryID:     orig.ID,
		ActorID:        actor.String(),
		QuotaDay:       orig.QuotaDay,
	})
}

func (s *CoinService) credit(ctx context.Context, op string, req balance.CreditRequest) (out balance.Outcome, err error) {
	defer func(start time.Time) { metrics.ObserveOp(op, start, err) }(time.Now())

	out, err = s.Store.Credit(ctx, req)
	if orig, dup := ledger.AsDuplicate(err); dup && orig != nil {
		return balance.ReplayedOutcome(orig), nil
	}
	if err != nil {
		s.logFailure(ctx, op, req.AccountID, err)
		return out, err
	}
	s.publish(*out.Entry)
	s.Logger.Info("credit applied", "op", op, "account_id", req.AccountID, "amount", req.Amount, "balance", out.Balance, "actor", req.ActorID)
	return out, nil
}

func (s *CoinService) publish(entries ...models.LedgerEntry) {
	for _, e := range entries {
		metrics.LedgerEntries.WithLabelValues(string(e.Kind), string(e.Unit)).Inc()
		s.Events.Emit(events.FromEntry(e))
	}
}

func (s *CoinService) logFailure(ctx context.Context, op string, accountID uuid.UUID, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvariantViolation):
		s.Logger.ErrorContext(ctx, "ledger invariant violated", "op", op, "account_id", accountID, "error", err)
	case errors.Is(err, ledger.ErrStoreUnavailable):
		s.Logger.WarnContext(ctx, "store unavailable", "op", op, "account_id", accountID, "error", err)
	}
}

func namespaced(prefix, key string) string {
	if key == "" {
		return ""
	}
	return prefix + key
}

func outcome(d entitlement.Decision) string {
	switch {
	case d.Replayed:
		return "replayed"
	case !d.Granted:
		return "denied"
	case d.Source == balance.SourceFreeQuota:
		return "free_quota"
	}
	return "coins"
}
