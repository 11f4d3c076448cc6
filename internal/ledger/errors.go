package ledger

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/fortunecoin/backend/internal/models"
)

var (
	// ErrInsufficientEntitlement means neither free quota nor coins cover the action.
	ErrInsufficientEntitlement = errors.New("ledger: insufficient entitlement")

	// ErrInsufficientCoins is returned when a coin debit would go negative.
	ErrInsufficientCoins = errors.New("ledger: insufficient coins")

	// ErrStoreUnavailable wraps every persistence failure. It is never a denial.
	ErrStoreUnavailable = errors.New("ledger: store unavailable")

	// ErrDuplicateRequest means the idempotency token was already used.
	ErrDuplicateRequest = errors.New("ledger: duplicate request")

	// ErrInvariantViolation aborts an operation whose result would break the ledger.
	ErrInvariantViolation = errors.New("ledger: invariant violation")

	ErrAccountNotFound = errors.New("ledger: account not found")
	ErrEntryNotFound   = errors.New("ledger: entry not found")
	ErrInvalidAmount   = errors.New("ledger: amount must be positive")
	ErrInvalidRequest  = errors.New("ledger: invalid request")
	ErrNotRefundable   = errors.New("ledger: entry is not refundable")
)

// StoreError records the failing store operation.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("ledger: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStoreUnavailable }

// Unavailable wraps a backend error as StoreUnavailable unless it already
// carries a domain meaning.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsDomainError(err) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// DuplicateError carries the entry recorded by the first request with the same token.
type DuplicateError struct {
	Key      string
	Original *models.LedgerEntry
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("ledger: duplicate request %q", e.Key)
}

func (e *DuplicateError) Is(target error) bool { return target == ErrDuplicateRequest }

// InvariantError describes a broken ledger or projection invariant.
type InvariantError struct {
	AccountID uuid.UUID
	Detail    string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("ledger: invariant violation on account %s: %s", e.AccountID, e.Detail)
}

func (e *InvariantError) Is(target error) bool { return target == ErrInvariantViolation }

func Invariant(accountID uuid.UUID, format string, args ...any) error {
	return &InvariantError{AccountID: accountID, Detail: fmt.Sprintf(format, args...)}
}

// AsDuplicate returns the original entry if err is a duplicate request.
func AsDuplicate(err error) (*models.LedgerEntry, bool) {
	var dup *DuplicateError
	if errors.As(err, &dup) {
		return dup.Original, true
	}
	return nil, false
}

// IsRetryable reports whether the caller may retry with the same idempotency token.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// IsUserFacing reports whether err is an expected outcome to show the end user.
func IsUserFacing(err error) bool {
	return errors.Is(err, ErrInsufficientEntitlement) || errors.Is(err, ErrInsufficientCoins)
}

// IsDomainError reports whether err already belongs to the ledger taxonomy.
func IsDomainError(err error) bool {
	for _, target := range []error{
		ErrInsufficientEntitlement, ErrInsufficientCoins, ErrStoreUnavailable,
		ErrDuplicateRequest, ErrInvariantViolation, ErrAccountNotFound,
		ErrEntryNotFound, ErrInvalidAmount, ErrInvalidRequest, ErrNotRefundable,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
