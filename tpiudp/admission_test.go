package tpiudp

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmissionGate_BelowCeiling(t *testing.T) {
	gate := newAdmissionGate(3)

	for i := 0; i < 3; i++ {
		require.NoError(t, gate.admit(context.Background()))
	}
	assert.Equal(t, 3, gate.inflightCount())
	assert.Equal(t, 0, gate.queuedCount())

	gate.release()
	assert.Equal(t, 2, gate.inflightCount())
}

func TestAdmissionGate_QueuesAboveCeiling(t *testing.T) {
	gate := newAdmissionGate(1)
	require.NoError(t, gate.admit(context.Background()))

	admitted := make(chan struct{})
	go func() {
		_ = gate.admit(context.Background())
		close(admitted)
	}()

	// the second caller must suspend, not fail
	select {
	case <-admitted:
		t.Fatal("caller admitted above the ceiling")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 1, gate.queuedCount())

	gate.release()

	select {
	case <-admitted:
	case <-time.After(time.Second):
		t.Fatal("queued caller not resumed by release")
	}

	// the slot was handed over, not freed
	assert.Equal(t, 1, gate.inflightCount())
	assert.Equal(t, 0, gate.queuedCount())
}

func TestAdmissionGate_FIFOOrder(t *testing.T) {
	gate := newAdmissionGate(1)
	require.NoError(t, gate.admit(context.Background()))

	const waiters = 5
	var order []int
	var mu sync.Mutex
	var done sync.WaitGroup

	for i := 0; i < waiters; i++ {
		done.Add(1)
		go func(id int) {
			defer done.Done()
			require.NoError(t, gate.admit(context.Background()))
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			gate.release()
		}(i)
		// wait until this caller is queued before starting the next, so arrival
		// order is deterministic
		require.Eventually(t, func() bool { return gate.queuedCount() == i+1 }, time.Second, time.Millisecond)
	}

	gate.release()
	done.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestAdmissionGate_NeverExceedsCeiling(t *testing.T) {
	const ceiling = 4
	gate := newAdmissionGate(ceiling)

	var inflight atomic.Int64
	var peak atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, gate.admit(context.Background()))

			n := inflight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inflight.Add(-1)
			gate.release()
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(ceiling))
	assert.Equal(t, 0, gate.inflightCount())
	assert.Equal(t, 0, gate.queuedCount())
}

func TestAdmissionGate_ContextCancelWhileQueued(t *testing.T) {
	gate := newAdmissionGate(1)
	require.NoError(t, gate.admit(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- gate.admit(ctx)
	}()

	require.Eventually(t, func() bool { return gate.queuedCount() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled waiter not released")
	}

	// releasing the original slot must skip the abandoned waiter
	gate.release()
	assert.Equal(t, 0, gate.inflightCount())

	// and the gate still works afterwards
	require.NoError(t, gate.admit(context.Background()))
	assert.Equal(t, 1, gate.inflightCount())
	gate.release()
}
