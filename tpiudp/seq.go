package tpiudp

import (
	"context"
	"crypto/rand"
	"io"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/dalictl/go-tpi/tpi"
)

// seqSpace is the size of the sequence-number space. Sequence numbers are a single
// byte shared across all controllers, since every response arrives on one socket.
const seqSpace = 256

// seqWrapRetries bounds how many full scans of an exhausted sequence space are
// attempted (with escalating backoff) before the request is abandoned.
const seqWrapRetries = 4

// seqBackoffBase is the delay after the first fruitless full scan; it doubles on
// each subsequent scan.
const seqBackoffBase = 1 * time.Millisecond

// seqAllocator assigns sequence numbers to in-flight requests, guaranteeing
// uniqueness among all currently outstanding requests in the process.
//
// It keeps a monotonic counter modulo 256 and treats the pending-request table as
// the per-sequence "in use" flag: allocation probes forward from the counter until
// an unoccupied slot is claimed.
type seqAllocator struct {
	counter atomic.Uint32
	pending *xsync.MapOf[byte, *pendingRequest]
}

// newSeqAllocator creates an allocator backed by the given pending-request table.
// The counter starts at a cryptographically random value, like any correlation ID.
func newSeqAllocator(pending *xsync.MapOf[byte, *pendingRequest]) *seqAllocator {
	a := &seqAllocator{pending: pending}

	var buf [4]byte
	if _, err := io.ReadFull(rand.Reader, buf[:]); err == nil {
		a.counter.Store(uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24)
	}

	return a
}

// allocate claims a free sequence number and registers pr under it in one step.
//
// If a full wrap of the space finds no free slot, it backs off with escalating
// delay and rescans; after seqWrapRetries fruitless scans the request is abandoned
// with ErrSequenceExhausted (a timeout-class failure). The caller still owns its
// admission slot on every return path and must release it.
func (a *seqAllocator) allocate(ctx context.Context, pr *pendingRequest) (byte, error) {
	backoff := seqBackoffBase

	for attempt := 0; attempt < seqWrapRetries; attempt++ {
		for i := 0; i < seqSpace; i++ {
			seq := byte(a.counter.Add(1))
			if _, loaded := a.pending.LoadOrStore(seq, pr); !loaded {
				return seq, nil
			}
		}

		// full wrap with every slot occupied
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return 0, tpi.ErrClientClosed
		case <-timer.C:
		}
		backoff *= 2
	}

	return 0, tpi.ErrSequenceExhausted
}
