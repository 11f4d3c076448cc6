package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/fortunecoin/backend/internal/balance"
	"github.com/fortunecoin/backend/internal/ledger"
	"github.com/fortunecoin/backend/internal/models"
	"github.com/fortunecoin/backend/internal/store"
	"github.com/fortunecoin/backend/internal/store/storetest"
)

func newTestDB(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return newTestDB(t) })
}

func TestMigrateTwice(t *testing.T) {
	s := newTestDB(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate() error: %v", err)
	}
}

func TestReopenKeepsLedger(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")
	id := uuid.New()

	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := s.OpenAccount(ctx, id); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Credit(ctx, balance.CreditRequest{AccountID: id, Source: balance.Coins(), Amount: 42, Kind: models.EntryPurchase}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	a, err := s.Account(ctx, id)
	if err != nil {
		t.Fatalf("Account() error: %v", err)
	}
	if a.CoinBalance != 42 {
		t.Errorf("CoinBalance = %d, want 42", a.CoinBalance)
	}
}

func TestProjectionDriftIsInvariantViolation(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	id := uuid.New()
	if _, err := s.OpenAccount(ctx, id); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Credit(ctx, balance.CreditRequest{AccountID: id, Source: balance.Coins(), Amount: 50, Kind: models.EntryPurchase}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE accounts SET coin_balance = 70 WHERE id = ?`, id); err != nil {
		t.Fatal(err)
	}

	_, err := s.TryDebit(ctx, balance.DebitRequest{AccountID: id, Source: balance.Coins(), Amount: 10})
	if !errors.Is(err, ledger.ErrInvariantViolation) {
		t.Fatalf("TryDebit() error = %v, want invariant violation", err)
	}

	a, err := s.Account(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if a.CoinBalance != 70 {
		t.Errorf("CoinBalance = %d, want 70 (rolled back)", a.CoinBalance)
	}
}
