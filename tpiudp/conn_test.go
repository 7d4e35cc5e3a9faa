package tpiudp

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dalictl/go-tpi/tpi"
)

func TestSend_RoundTrip(t *testing.T) {
	fake, ctrl := newFakeController(t, respondAnswer([]byte{0xFE}))
	client := openTestClient(t, ctrl)

	resp, err := client.Send(ctrl, 0x04, []byte{0x07, 0x00, 0x00, 0x00})
	require.NoError(t, err)
	assert.Equal(t, tpi.ResponseAnswer, resp.Code)
	assert.Equal(t, []byte{0xFE}, resp.Data)

	frames := fake.receivedFrames()
	require.Len(t, frames, 1)
	frame := frames[0]
	require.Len(t, frame, 8)
	assert.Equal(t, tpi.MagicByte, frame[0])
	assert.Equal(t, byte(0x04), frame[2])
	assert.Equal(t, []byte{0x07, 0x00, 0x00, 0x00}, frame[3:7])
	assert.Equal(t, tpi.Checksum(frame[:7]), frame[7])
	assert.Equal(t, frame[1], resp.Seq)

	assert.Equal(t, uint64(1), client.GetMetrics().FrameSendCount.Load())
	assert.Equal(t, uint64(1), client.GetMetrics().FrameRecvCount.Load())
}

func TestSend_RetransmitsIdenticalFrame(t *testing.T) {
	// the first transmission is dropped; the retransmission is answered
	var calls int
	var mu sync.Mutex
	fake, ctrl := newFakeController(t, func(frame []byte) []byte {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			return nil
		}

		return buildResp(tpi.ResponseOK, frame[1], nil)
	})
	client := openTestClient(t, ctrl)

	resp, err := client.Send(ctrl, 0x06, []byte{0x01, 0x00, 0x00, 0x00})
	require.NoError(t, err)
	assert.Equal(t, tpi.ResponseOK, resp.Code)

	frames := fake.receivedFrames()
	require.Len(t, frames, 2)
	assert.Equal(t, frames[0], frames[1], "retransmission must be byte-identical, same sequence number included")

	assert.Equal(t, uint64(1), client.GetMetrics().RetryCount.Load())
	assert.Equal(t, uint64(0), client.GetMetrics().TimeoutCount.Load())
}

func TestSend_TimeoutAfterRetryBudget(t *testing.T) {
	fake, ctrl := newFakeController(t, silent)
	client := openTestClient(t, ctrl) // retry limit 1

	_, err := client.Send(ctrl, 0x06, []byte{0x01, 0x00, 0x00, 0x00})
	require.ErrorIs(t, err, tpi.ErrTimeout)

	// initial transmission plus one retry
	assert.Len(t, fake.receivedFrames(), 2)
	assert.Equal(t, uint64(1), client.GetMetrics().TimeoutCount.Load())

	// the failed request must have released its sequence and admission slot
	assert.Equal(t, 0, client.pending.Size())
}

func TestSend_MalformedResponseRejectsWithoutRetry(t *testing.T) {
	fake, ctrl := newFakeController(t, func(frame []byte) []byte {
		resp := buildResp(tpi.ResponseOK, frame[1], nil)
		resp[len(resp)-1] ^= 0xFF // corrupt the checksum

		return resp
	})
	client := openTestClient(t, ctrl)

	_, err := client.Send(ctrl, 0x06, []byte{0x01, 0x00, 0x00, 0x00})
	require.ErrorIs(t, err, tpi.ErrMalformedResponse)

	// the remote did answer; retrying could execute the command twice
	assert.Len(t, fake.receivedFrames(), 1)
	assert.Equal(t, uint64(1), client.GetMetrics().MalformedCount.Load())
}

func TestSend_NotOpen(t *testing.T) {
	_, ctrl := newFakeController(t, respondOK)

	cfg, err := NewClientConfig()
	require.NoError(t, err)
	client, err := NewClient(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, client.AddController(ctrl))

	_, err = client.Send(ctrl, 0x06, nil)
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestSend_UnknownController(t *testing.T) {
	_, ctrl := newFakeController(t, respondOK)
	client := openTestClient(t, ctrl)

	other, err := tpi.NewController(99, "127.0.0.1", 5108, "")
	require.NoError(t, err)

	_, err = client.Send(other, 0x06, nil)
	assert.ErrorIs(t, err, ErrUnknownController)
}

func TestSend_ConcurrentRequestsGetDistinctSequences(t *testing.T) {
	var mu sync.Mutex
	seqs := make(map[byte]int)
	_, ctrl := newFakeController(t, func(frame []byte) []byte {
		mu.Lock()
		seqs[frame[1]]++
		mu.Unlock()

		// delay the answer so the requests overlap
		time.Sleep(20 * time.Millisecond)

		return buildResp(tpi.ResponseOK, frame[1], nil)
	})
	client := openTestClient(t, ctrl, WithMaxInflight(8), WithResponseTimeout(500*time.Millisecond))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Send(ctrl, 0x06, []byte{0x01, 0x00, 0x00, 0x00})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seqs, 8, "every concurrent request must use its own sequence number")
	for seq, n := range seqs {
		assert.Equal(t, 1, n, "seq %d transmitted more than once", seq)
	}
}

func TestSend_AdmissionBoundsInflight(t *testing.T) {
	var outstanding, peak atomic.Int64
	_, ctrl := newFakeController(t, func(frame []byte) []byte {
		n := outstanding.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		outstanding.Add(-1)

		return buildResp(tpi.ResponseOK, frame[1], nil)
	})
	client := openTestClient(t, ctrl, WithMaxInflight(2), WithResponseTimeout(time.Second))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Send(ctrl, 0x06, []byte{0x01, 0x00, 0x00, 0x00})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(2), "frames on the wire must never exceed the ceiling")
}

func TestClose_FailsInflightRequests(t *testing.T) {
	_, ctrl := newFakeController(t, silent)
	client := openTestClient(t, ctrl, WithResponseTimeout(5*time.Second), WithRetryLimit(0))

	errCh := make(chan error, 1)
	go func() {
		_, err := client.Send(ctrl, 0x06, []byte{0x01, 0x00, 0x00, 0x00})
		errCh <- err
	}()

	// let the request get in flight before closing
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, client.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, tpi.ErrClientClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight request not released by Close")
	}
}

func TestControllerByMAC(t *testing.T) {
	_, ctrl := newFakeController(t, respondOK)
	client := openTestClient(t, ctrl)

	assert.Same(t, ctrl, client.ControllerByMAC("0C-47-C9-12-34-AB"))
	assert.Nil(t, client.ControllerByMAC("ff:ff:ff:ff:ff:ff"))
	assert.Nil(t, client.ControllerByMAC("garbage"))
}

func TestAddController_DuplicateID(t *testing.T) {
	_, ctrl := newFakeController(t, respondOK)
	client := openTestClient(t, ctrl)

	dup, err := tpi.NewController(ctrl.ID(), "127.0.0.1", 4000, "")
	require.NoError(t, err)
	assert.Error(t, client.AddController(dup))
}
