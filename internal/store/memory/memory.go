// Package memory is an in-process store. A single mutex serializes every
// mutation, which makes each operation trivially atomic and linearizable.
// It is meant for tests, local development and single-instance demos.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fortunecoin/backend/internal/balance"
	"github.com/fortunecoin/backend/internal/ledger"
	"github.com/fortunecoin/backend/internal/models"
	"github.com/fortunecoin/backend/internal/rights"
)

var errClosed = errors.New("memory store closed")

type Option func(*Store)

// WithNow overrides the timestamp source for created_at fields.
func WithNow(fn func() time.Time) Option {
	return func(s *Store) { s.now = fn }
}

type Store struct {
	mu     sync.Mutex
	now    func() time.Time
	closed bool

	accounts map[uuid.UUID]*models.Account
	entries  []models.LedgerEntry
	byID     map[string]int
	byKey    map[uuid.UUID]map[string]int
	last     map[uuid.UUID]map[models.Counter]int64
	rights   map[string]*models.ExtraRight
}

func New(opts ...Option) *Store {
	s := &Store{
		now:      time.Now,
		accounts: make(map[uuid.UUID]*models.Account),
		byID:     make(map[string]int),
		byKey:    make(map[uuid.UUID]map[string]int),
		last:     make(map[uuid.UUID]map[models.Counter]int64),
		rights:   make(map[string]*models.ExtraRight),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) Migrate(context.Context) error { return nil }

func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ledger.Unavailable("ping", errClosed)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// lock acquires the store mutex; callers must unlock only when it returns nil.
func (s *Store) lock(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return ledger.Unavailable(op, err)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ledger.Unavailable(op, errClosed)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Accounts
// ---------------------------------------------------------------------------

func (s *Store) OpenAccount(ctx context.Context, accountID uuid.UUID) (*models.Account, error) {
	if accountID == uuid.Nil {
		return nil, ledger.ErrInvalidRequest
	}
	if err := s.lock(ctx, "open account"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	if a, ok := s.accounts[accountID]; ok {
		return a.Clone(), nil
	}
	now := s.now()
	a := &models.Account{ID: accountID, FreeQuota: map[models.ActionType]int64{}, CreatedAt: now, UpdatedAt: now}
	s.accounts[accountID] = a
	return a.Clone(), nil
}

func (s *Store) Account(ctx context.Context, accountID uuid.UUID) (*models.Account, error) {
	if err := s.lock(ctx, "get account"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return a.Clone(), nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]uuid.UUID, error) {
	if err := s.lock(ctx, "list accounts"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(s.accounts))
	for id := range s.accounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

// ---------------------------------------------------------------------------
// Balance mutations
// ---------------------------------------------------------------------------

func (s *Store) TryDebit(ctx context.Context, req balance.DebitRequest) (balance.Outcome, error) {
	if err := req.Validate(); err != nil {
		return balance.Outcome{}, err
	}
	if err := s.lock(ctx, "debit"); err != nil {
		return balance.Outcome{}, err
	}
	defer s.mu.Unlock()

	a, ok := s.accounts[req.AccountID]
	if !ok {
		return balance.Outcome{}, ledger.ErrAccountNotFound
	}
	if err := s.checkKeyLocked(req.AccountID, req.IdempotencyKey); err != nil {
		return balance.Outcome{}, err
	}
	cur := counterValue(a, req.Source.Counter())
	if cur < req.Amount {
		return balance.Outcome{Applied: false, Balance: cur}, nil
	}
	e := balance.DebitEntry(req, cur-req.Amount)
	if err := s.checkLocked(&e); err != nil {
		return balance.Outcome{}, err
	}
	s.commitLocked(a, &e)
	return balance.Outcome{Applied: true, Balance: e.ResultingBalance, Entry: &e}, nil
}

func (s *Store) Credit(ctx context.Context, req balance.CreditRequest) (balance.Outcome, error) {
	if err := req.Validate(); err != nil {
		return balance.Outcome{}, err
	}
	if err := s.lock(ctx, "credit"); err != nil {
		return balance.Outcome{}, err
	}
	defer s.mu.Unlock()

	a, ok := s.accounts[req.AccountID]
	if !ok {
		return balance.Outcome{}, ledger.ErrAccountNotFound
	}
	if err := s.checkKeyLocked(req.AccountID, req.IdempotencyKey); err != nil {
		return balance.Outcome{}, err
	}
	cur := counterValue(a, req.Source.Counter())
	e := balance.CreditEntry(req, cur+req.Amount)
	if err := s.checkLocked(&e); err != nil {
		return balance.Outcome{}, err
	}
	s.commitLocked(a, &e)
	return balance.Outcome{Applied: true, Balance: e.ResultingBalance, Entry: &e}, nil
}

func (s *Store) ResetQuota(ctx context.Context, accountID uuid.UUID, day models.Day, defaults map[models.ActionType]int64) ([]models.LedgerEntry, error) {
	if err := s.lock(ctx, "reset quota"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	if !a.QuotaDay.Before(day) {
		return nil, nil
	}

	batch := make([]models.LedgerEntry, 0, len(defaults))
	for _, action := range balance.SortedActions(defaults) {
		e := balance.ResetEntry(accountID, action, a.FreeQuota[action], defaults[action], day)
		if err := s.checkLocked(&e); err != nil {
			return nil, err
		}
		batch = append(batch, e)
	}
	for i := range batch {
		s.commitLocked(a, &batch[i])
	}
	a.QuotaDay = day
	return batch, nil
}

// ---------------------------------------------------------------------------
// Extra rights
// ---------------------------------------------------------------------------

func (s *Store) ScheduleExtraRights(ctx context.Context, req rights.PurchaseRequest) (rights.Schedule, error) {
	if err := req.Validate(); err != nil {
		return rights.Schedule{}, err
	}
	if err := s.lock(ctx, "schedule extra rights"); err != nil {
		return rights.Schedule{}, err
	}
	defer s.mu.Unlock()

	a, ok := s.accounts[req.AccountID]
	if !ok {
		return rights.Schedule{}, ledger.ErrAccountNotFound
	}
	if err := s.checkKeyLocked(req.AccountID, req.IdempotencyKey); err != nil {
		return rights.Schedule{}, err
	}
	if a.CoinBalance < req.TotalCost {
		return rights.Schedule{}, ledger.ErrInsufficientCoins
	}

	taken := make(map[models.Day]bool)
	for _, r := range s.rights {
		if r.AccountID == req.AccountID && r.Action == req.Action && req.Today.Before(r.RedeemableOn) {
			taken[r.RedeemableOn] = true
		}
	}

	e := balance.DebitEntry(balance.DebitRequest{
		AccountID:      req.AccountID,
		Source:         balance.Coins(),
		Amount:         req.TotalCost,
		Reason:         req.Reason(),
		IdempotencyKey: req.IdempotencyKey,
		ActorID:        req.ActorID,
		QuotaDay:       req.Today,
	}, a.CoinBalance-req.TotalCost)
	if err := s.checkLocked(&e); err != nil {
		return rights.Schedule{}, err
	}
	s.commitLocked(a, &e)

	created := rights.NewRights(req, rights.PlanDays(req.Today, req.Count, taken), e.ID)
	for i := range created {
		created[i].CreatedAt = e.CreatedAt
		r := created[i]
		s.rights[r.ID] = &r
	}
	return rights.Schedule{Action: req.Action, Count: req.Count, Rights: created, Entry: &e, Balance: e.ResultingBalance}, nil
}

func (s *Store) RedeemExtraRight(ctx context.Context, accountID uuid.UUID, action models.ActionType, day models.Day) (*models.ExtraRight, *models.LedgerEntry, error) {
	if err := s.lock(ctx, "redeem extra right"); err != nil {
		return nil, nil, err
	}
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return nil, nil, ledger.ErrAccountNotFound
	}
	var target *models.ExtraRight
	for _, r := range s.rights {
		if r.AccountID == accountID && r.Action == action && r.RedeemableOn == day && !r.Consumed {
			target = r
			break
		}
	}
	if target == nil {
		return nil, nil, nil
	}

	e := rights.RedeemEntry(*target, a.FreeQuota[action]+1)
	if err := s.checkLocked(&e); err != nil {
		return nil, nil, err
	}
	s.commitLocked(a, &e)
	now := e.CreatedAt
	target.Consumed = true
	target.ConsumedAt = &now
	cp := *target
	return &cp, &e, nil
}

func (s *Store) ExtraRights(ctx context.Context, accountID uuid.UUID) ([]models.ExtraRight, error) {
	return s.listRights(ctx, func(r *models.ExtraRight) bool { return r.AccountID == accountID })
}

func (s *Store) ExtraRightsByPurchase(ctx context.Context, accountID uuid.UUID, purchaseEntryID string) ([]models.ExtraRight, error) {
	return s.listRights(ctx, func(r *models.ExtraRight) bool {
		return r.AccountID == accountID && r.PurchaseEntryID == purchaseEntryID
	})
}

func (s *Store) listRights(ctx context.Context, keep func(*models.ExtraRight) bool) ([]models.ExtraRight, error) {
	if err := s.lock(ctx, "list extra rights"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	var out []models.ExtraRight
	for _, r := range s.rights {
		if keep(r) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RedeemableOn != out[j].RedeemableOn {
			return out[i].RedeemableOn < out[j].RedeemableOn
		}
		return out[i].Action < out[j].Action
	})
	return out, nil
}

func (s *Store) PruneExtraRights(ctx context.Context, cutoff models.Day) (int64, error) {
	if err := s.lock(ctx, "prune extra rights"); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.rights {
		if r.RedeemableOn.Before(cutoff) {
			delete(s.rights, id)
			n++
		}
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Ledger reads
// ---------------------------------------------------------------------------

func (s *Store) Entries(ctx context.Context, accountID uuid.UUID, q ledger.Query) (ledger.Page, error) {
	q = q.Normalize()
	if err := s.lock(ctx, "list entries"); err != nil {
		return ledger.Page{}, err
	}
	defer s.mu.Unlock()
	var rows []models.LedgerEntry
	for _, e := range s.entries {
		if e.AccountID != accountID || e.Seq <= q.AfterSeq {
			continue
		}
		if !q.Since.IsZero() && e.CreatedAt.Before(q.Since) {
			continue
		}
		rows = append(rows, e)
		if len(rows) > q.Limit {
			break
		}
	}
	return ledger.PageOf(rows, q), nil
}

func (s *Store) Entry(ctx context.Context, entryID string) (*models.LedgerEntry, error) {
	if err := s.lock(ctx, "get entry"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	i, ok := s.byID[entryID]
	if !ok {
		return nil, ledger.ErrEntryNotFound
	}
	e := s.entries[i]
	return &e, nil
}

func (s *Store) EntryByIdempotencyKey(ctx context.Context, accountID uuid.UUID, key string) (*models.LedgerEntry, error) {
	if err := s.lock(ctx, "get entry by key"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	i, ok := s.byKey[accountID][key]
	if !ok || key == "" {
		return nil, ledger.ErrEntryNotFound
	}
	e := s.entries[i]
	return &e, nil
}

// ---------------------------------------------------------------------------
// Append helpers (mu held)
// ---------------------------------------------------------------------------

func (s *Store) checkKeyLocked(accountID uuid.UUID, key string) error {
	if key == "" {
		return nil
	}
	if i, ok := s.byKey[accountID][key]; ok {
		e := s.entries[i]
		return &ledger.DuplicateError{Key: key, Original: &e}
	}
	return nil
}

// checkLocked verifies e continues its counter's chain.
func (s *Store) checkLocked(e *models.LedgerEntry) error {
	prev := s.last[e.AccountID][e.Counter()]
	return ledger.CheckLink(e.AccountID, e.Counter(), prev, e.Amount, e.ResultingBalance)
}

// commitLocked assigns seq and timestamp, appends e and applies it to the projection.
func (s *Store) commitLocked(a *models.Account, e *models.LedgerEntry) {
	e.Seq = int64(len(s.entries) + 1)
	e.CreatedAt = s.now()
	s.entries = append(s.entries, *e)
	s.byID[e.ID] = len(s.entries) - 1
	if e.IdempotencyKey != "" {
		if s.byKey[e.AccountID] == nil {
			s.byKey[e.AccountID] = make(map[string]int)
		}
		s.byKey[e.AccountID][e.IdempotencyKey] = len(s.entries) - 1
	}
	if s.last[e.AccountID] == nil {
		s.last[e.AccountID] = make(map[models.Counter]int64)
	}
	s.last[e.AccountID][e.Counter()] = e.ResultingBalance

	if e.Unit == models.UnitCoin {
		a.CoinBalance = e.ResultingBalance
	} else {
		a.FreeQuota[e.Action] = e.ResultingBalance
	}
	a.UpdatedAt = e.CreatedAt
}

func counterValue(a *models.Account, c models.Counter) int64 {
	if c.Unit == models.UnitCoin {
		return a.CoinBalance
	}
	return a.FreeQuota[c.Action]
}
