package tpiudp

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dalictl/go-tpi/tpi"
)

const fakeMAC = "0c:47:c9:12:34:ab"

// fakeController is a loopback UDP endpoint standing in for a real controller.
// Every received command frame is recorded and passed to the handler; a non-nil
// handler result is sent back to the origin of the frame.
type fakeController struct {
	t    *testing.T
	conn *net.UDPConn

	mu     sync.Mutex
	frames [][]byte

	handler func(frame []byte) []byte

	wg sync.WaitGroup
}

// newFakeController binds a loopback socket and returns the fake together with a
// Controller registration pointing at it.
func newFakeController(t *testing.T, handler func(frame []byte) []byte) (*fakeController, *tpi.Controller) {
	t.Helper()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)

	f := &fakeController{t: t, conn: conn, handler: handler}
	f.wg.Add(1)
	go f.serve()

	port := conn.LocalAddr().(*net.UDPAddr).Port
	ctrl, err := tpi.NewController(1, "127.0.0.1", port, fakeMAC)
	require.NoError(t, err)

	t.Cleanup(f.close)

	return f, ctrl
}

func (f *fakeController) serve() {
	defer f.wg.Done()

	buf := make([]byte, 2048)
	for {
		n, addr, err := f.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}

		frame := make([]byte, n)
		copy(frame, buf[:n])

		f.mu.Lock()
		f.frames = append(f.frames, frame)
		f.mu.Unlock()

		if resp := f.handler(frame); resp != nil {
			_, _ = f.conn.WriteToUDP(resp, addr)
		}
	}
}

func (f *fakeController) close() {
	_ = f.conn.Close()
	f.wg.Wait()
}

// receivedFrames returns a snapshot of all command frames received so far.
func (f *fakeController) receivedFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	frames := make([][]byte, len(f.frames))
	copy(frames, f.frames)

	return frames
}

// buildResp assembles a response frame with a correct trailing checksum.
func buildResp(code tpi.ResponseCode, seq byte, data []byte) []byte {
	frame := []byte{byte(code), seq, byte(len(data))}
	frame = append(frame, data...)
	frame = append(frame, tpi.Checksum(frame))

	return frame
}

// respondOK acknowledges every command frame.
func respondOK(frame []byte) []byte {
	return buildResp(tpi.ResponseOK, frame[1], nil)
}

// respondAnswer returns a handler answering every command with the given data.
func respondAnswer(data []byte) func(frame []byte) []byte {
	return func(frame []byte) []byte {
		return buildResp(tpi.ResponseAnswer, frame[1], data)
	}
}

// silent ignores every command frame.
func silent(frame []byte) []byte {
	return nil
}

// openTestClient creates a client with short timeouts, registers ctrl and opens it.
func openTestClient(t *testing.T, ctrl *tpi.Controller, opts ...ClientOption) *Client {
	t.Helper()

	opts = append([]ClientOption{
		WithResponseTimeout(100 * time.Millisecond),
		WithRetryLimit(1),
	}, opts...)

	cfg, err := NewClientConfig(opts...)
	require.NoError(t, err)

	client, err := NewClient(context.Background(), cfg)
	require.NoError(t, err)

	if ctrl != nil {
		require.NoError(t, client.AddController(ctrl))
	}
	require.NoError(t, client.Open())

	t.Cleanup(func() { _ = client.Close() })

	return client
}
