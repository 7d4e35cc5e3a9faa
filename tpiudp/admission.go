package tpiudp

import (
	"context"
	"sync"

	"github.com/dalictl/go-tpi/internal/queue"
)

// admissionWaiter is one suspended caller in the admission queue.
type admissionWaiter struct {
	// ready is closed when a freed slot is handed to this waiter.
	ready chan struct{}
	// abandoned is set (under the gate mutex) when the waiter gave up before
	// receiving a slot; release skips abandoned waiters.
	abandoned bool
}

// admissionGate bounds the number of in-flight requests on one controller.
// Callers above the ceiling queue FIFO and are resumed one at a time as slots free.
// Gates of different controllers are fully independent.
type admissionGate struct {
	mu       sync.Mutex
	ceiling  int
	inflight int
	waiters  queue.Queue[*admissionWaiter]
}

func newAdmissionGate(ceiling int) *admissionGate {
	return &admissionGate{
		ceiling: ceiling,
		waiters: queue.NewSliceQueue[*admissionWaiter](8),
	}
}

// admit acquires an in-flight slot, suspending the caller in FIFO order when the
// ceiling is reached. A waiter resumed by release owns the freed slot directly and
// does not re-check the ceiling.
//
// ctx is the engine lifetime context; the only way a waiter fails is the engine
// shutting down.
func (g *admissionGate) admit(ctx context.Context) error {
	g.mu.Lock()
	if g.inflight < g.ceiling {
		g.inflight++
		g.mu.Unlock()

		return nil
	}

	w := &admissionWaiter{ready: make(chan struct{})}
	g.waiters.Enqueue(w)
	g.mu.Unlock()

	select {
	case <-w.ready:
		return nil

	case <-ctx.Done():
		g.mu.Lock()
		select {
		case <-w.ready:
			// a slot was handed over concurrently with the shutdown;
			// pass it on so the accounting stays balanced
			g.releaseLocked()
		default:
			w.abandoned = true
		}
		g.mu.Unlock()

		return ctx.Err()
	}
}

// release frees one in-flight slot. If a live waiter is queued, the slot is handed
// to the head of the queue instead of lowering the in-flight count.
func (g *admissionGate) release() {
	g.mu.Lock()
	g.releaseLocked()
	g.mu.Unlock()
}

func (g *admissionGate) releaseLocked() {
	for {
		w, ok := g.waiters.Dequeue()
		if !ok {
			g.inflight--
			return
		}
		if w.abandoned {
			continue
		}

		// hand the slot over; inflight stays constant
		close(w.ready)

		return
	}
}

// inflightCount returns the current number of admitted requests.
func (g *admissionGate) inflightCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.inflight
}

// queuedCount returns the number of suspended callers, abandoned waiters included.
func (g *admissionGate) queuedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.waiters.Length()
}
