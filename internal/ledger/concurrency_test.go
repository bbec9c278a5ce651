package ledger

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhalpert/optiondesk/internal/models"
)

// Concurrent buys must never overdraft: validation and mutation happen under
// one critical section, so with 1000 of buying power and 200-cost orders,
// exactly five can ever fill no matter the interleaving.
func TestConcurrentBuysCannotOverdraft(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portfolio.json")
	l, err := New(path, Config{StartingCash: 1_000, MarginMultiple: 1})
	require.NoError(t, err)

	c, err := models.NewContract("XYZ", "2026-10-16", 150, models.OptionTypeCall)
	require.NoError(t, err)

	const attempts = 10
	results := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = l.ApplyBuy(c, "order", 1, 2.00, time.Now().UTC())
		}(i)
	}
	wg.Wait()

	fills := 0
	for _, err := range results {
		if err == nil {
			fills++
		} else {
			assert.ErrorIs(t, err, ErrInsufficientBuyingPower)
		}
	}
	assert.Equal(t, 5, fills, "exactly five 200-cost orders fit in 1000 of buying power")

	snap := l.AccountSnapshot()
	assert.InDelta(t, 0, snap.BuyingPower, 1e-6)
	assert.GreaterOrEqual(t, snap.Cash, 0.0)

	pos, ok := l.Position(c.OCCSymbol())
	require.True(t, ok)
	assert.Equal(t, 5, pos.Quantity)
	assert.Len(t, l.Transactions(), 5)
}

// Reads during writes must see consistent snapshots, not torn state.
func TestConcurrentReadsDuringWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portfolio.json")
	l, err := New(path, Config{})
	require.NoError(t, err)

	c, err := models.NewContract("XYZ", "2026-10-16", 150, models.OptionTypeCall)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			_, _ = l.ApplyBuy(c, "order", 1, 1.00, time.Now().UTC())
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			snap := l.AccountSnapshot()
			// Every accepted buy moves cash and buying power in lockstep.
			assert.InDelta(t, snap.BuyingPower-snap.Cash, 100_000, 1e-6)
			_ = l.Positions()
			_ = l.Transactions()
		}
	}()
	wg.Wait()

	pos, ok := l.Position(c.OCCSymbol())
	require.True(t, ok)
	assert.Equal(t, 20, pos.Quantity)
}
