package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortunecoin/backend/internal/models"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []BalanceChanged
	err    error
	block  chan struct{}
}

func (p *recordingPublisher) Publish(_ context.Context, ev BalanceChanged) error {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func TestFromEntry(t *testing.T) {
	e := models.LedgerEntry{
		ID: "le_1", AccountID: uuid.New(), Kind: models.EntryGrant, Unit: models.UnitCoin,
		Amount: 200, ResultingBalance: 205, Reason: "bonus", CreatedAt: time.Now(),
	}
	ev := FromEntry(e)
	assert.Equal(t, e.AccountID, ev.AccountID)
	assert.Equal(t, int64(205), ev.NewBalance)
	assert.Equal(t, int64(200), ev.Delta)
	assert.Equal(t, "bonus", ev.Reason)
}

func TestDispatcherDeliversToEveryPublisher(t *testing.T) {
	a, b := &recordingPublisher{}, &recordingPublisher{}
	d := NewDispatcher([]Publisher{a, b}, WithWorkers(1))

	for i := 0; i < 10; i++ {
		require.True(t, d.Emit(BalanceChanged{AccountID: uuid.New(), NewBalance: int64(i)}))
	}
	d.Close()

	assert.Equal(t, 10, a.count())
	assert.Equal(t, 10, b.count())
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	p := &recordingPublisher{block: make(chan struct{})}
	var dropped atomic.Int32
	d := NewDispatcher([]Publisher{p}, WithBuffer(1), WithWorkers(1),
		WithDropHook(func(BalanceChanged, string) { dropped.Add(1) }))

	// The worker takes the first event and blocks; the second fills the buffer.
	assert.True(t, d.Emit(BalanceChanged{}))
	require.Eventually(t, func() bool { return len(d.ch) == 0 }, time.Second, time.Millisecond)
	assert.True(t, d.Emit(BalanceChanged{}))
	assert.False(t, d.Emit(BalanceChanged{}), "emit must not block on a full buffer")
	assert.Equal(t, int32(1), dropped.Load())

	close(p.block)
	d.Close()
	assert.Equal(t, 2, p.count())
	assert.False(t, d.Emit(BalanceChanged{}), "closed dispatcher rejects events")
}

func TestDispatcherPublishFailureIsNotFatal(t *testing.T) {
	p := &recordingPublisher{err: errors.New("redis down")}
	var reasons []string
	var mu sync.Mutex
	d := NewDispatcher([]Publisher{p}, WithDropHook(func(_ BalanceChanged, reason string) {
		mu.Lock()
		reasons = append(reasons, reason)
		mu.Unlock()
	}))
	d.Emit(BalanceChanged{})
	d.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"publish_failed"}, reasons)
}

func TestRedisPublisherChannel(t *testing.T) {
	id := uuid.MustParse("7b0c7f5e-4f7e-4c55-9b43-5a5d0b1f4f11")
	p := NewRedisPublisher(nil, "")
	assert.Equal(t, "balance:7b0c7f5e-4f7e-4c55-9b43-5a5d0b1f4f11", p.Channel(BalanceChanged{AccountID: id}))
}
