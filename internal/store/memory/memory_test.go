package memory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortunecoin/backend/internal/ledger"
	"github.com/fortunecoin/backend/internal/store"
	"github.com/fortunecoin/backend/internal/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return New()
	})
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	s := New()
	require.NoError(t, s.Close())

	_, err := s.Account(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ledger.ErrStoreUnavailable)
	assert.ErrorIs(t, s.Ping(context.Background()), ledger.ErrStoreUnavailable)
}

func TestCancelledContextIsUnavailable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().OpenAccount(ctx, uuid.New())
	assert.ErrorIs(t, err, ledger.ErrStoreUnavailable)
	assert.True(t, ledger.IsRetryable(err))
}
