package idempotency

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckAndReserveLifecycle(t *testing.T) {
	t.Parallel()

	l := NewMemLedger(24 * time.Hour)
	ctx := context.Background()

	dec, err := l.CheckAndReserve(ctx, "k-1")
	require.NoError(t, err)
	assert.Equal(t, NotSeen, dec.State)

	dec, err = l.CheckAndReserve(ctx, "k-1")
	require.NoError(t, err)
	assert.Equal(t, SeenPending, dec.State)

	require.NoError(t, l.Complete(ctx, "k-1", Result{OrderID: "o-1", Status: "FULFILLED"}))

	dec, err = l.CheckAndReserve(ctx, "k-1")
	require.NoError(t, err)
	require.Equal(t, SeenCompleted, dec.State)
	assert.Equal(t, "o-1", dec.Result.OrderID)
	assert.Equal(t, "FULFILLED", dec.Result.Status)
}

func TestConcurrentClaimSingleWinner(t *testing.T) {
	t.Parallel()

	l := NewMemLedger(24 * time.Hour)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dec, err := l.CheckAndReserve(ctx, "abc-123")
			require.NoError(t, err)
			if dec.State == NotSeen {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}

func TestForgetFreesOnlyPendingKeys(t *testing.T) {
	t.Parallel()

	l := NewMemLedger(24 * time.Hour)
	ctx := context.Background()

	_, err := l.CheckAndReserve(ctx, "k-1")
	require.NoError(t, err)
	require.NoError(t, l.Forget(ctx, "k-1"))

	// The key was forgotten; a retry claims it again.
	dec, err := l.CheckAndReserve(ctx, "k-1")
	require.NoError(t, err)
	assert.Equal(t, NotSeen, dec.State)

	require.NoError(t, l.Complete(ctx, "k-1", Result{OrderID: "o-1", Status: "FULFILLED"}))
	require.NoError(t, l.Forget(ctx, "k-1"))

	// A completed key survives Forget.
	dec, err = l.CheckAndReserve(ctx, "k-1")
	require.NoError(t, err)
	assert.Equal(t, SeenCompleted, dec.State)
}

func TestSweepExpiredPrunesOldKeys(t *testing.T) {
	t.Parallel()

	l := NewMemLedger(time.Hour)
	ctx := context.Background()

	_, err := l.CheckAndReserve(ctx, "k-old")
	require.NoError(t, err)
	require.NoError(t, l.Complete(ctx, "k-old", Result{OrderID: "o-1", Status: "FULFILLED"}))

	n, err := l.SweepExpired(ctx, time.Now().UTC().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	dec, err := l.CheckAndReserve(ctx, "k-old")
	require.NoError(t, err)
	assert.Equal(t, NotSeen, dec.State)
}
