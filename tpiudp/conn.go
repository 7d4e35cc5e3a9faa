package tpiudp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/dalictl/go-tpi/internal/pool"
	"github.com/dalictl/go-tpi/logger"
	"github.com/dalictl/go-tpi/tpi"
)

// ErrNotOpen indicates that the client has not been opened yet.
var ErrNotOpen = errors.New("client not open")

// ErrUnknownController indicates that the controller was not registered with the client.
var ErrUnknownController = errors.New("controller not registered")

// sendResult resolves one pending request, either with a validated response or with
// a terminal error.
type sendResult struct {
	resp *tpi.Response
	err  error
}

// pendingRequest is the tracker record of one in-flight request, keyed by its
// sequence number. It exists from admission+allocation until resolution, rejection
// or retry exhaustion.
type pendingRequest struct {
	controller *tpi.Controller
	result     chan sendResult
}

// controllerEntry binds a registered controller to its resolved endpoint and its
// admission gate.
type controllerEntry struct {
	ctrl *tpi.Controller
	addr *net.UDPAddr
	gate *admissionGate
}

// Client is the TPI protocol engine: it frames and transmits command datagrams to
// any number of controllers over one shared UDP socket, correlates inbound response
// datagrams back to the originating requests by sequence number, bounds in-flight
// load per controller, and retries on loss.
//
// All engine state (sequence table, admission gates, socket) is owned by the Client
// instance; nothing is process-global.
type Client struct {
	pctx      context.Context
	ctx       context.Context
	ctxCancel context.CancelFunc
	cfg       *ClientConfig
	logger    logger.Logger

	conn      *net.UDPConn // shared command socket
	connMutex sync.Mutex

	entriesMu sync.RWMutex
	entries   map[int]*controllerEntry
	byMAC     *xsync.MapOf[string, *tpi.Controller]

	pending *xsync.MapOf[byte, *pendingRequest]
	seq     *seqAllocator

	taskMgr *tpi.TaskManager
	opened  atomic.Bool

	metrics ClientMetrics
}

// NewClient creates a new Client with the given context and configuration.
// Controllers are registered with AddController; the socket is bound by Open.
func NewClient(ctx context.Context, cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		return nil, ErrClientConfigNil
	}

	c := &Client{
		pctx:    ctx,
		cfg:     cfg,
		logger:  cfg.logger,
		entries: make(map[int]*controllerEntry),
		byMAC:   xsync.NewMapOf[string, *tpi.Controller](),
		pending: xsync.NewMapOf[byte, *pendingRequest](),
		taskMgr: tpi.NewTaskManager(ctx, cfg.logger),
	}
	c.seq = newSeqAllocator(c.pending)
	c.createContext()

	return c, nil
}

// createContext creates a new engine context derived from the parent context.
func (c *Client) createContext() {
	c.ctx, c.ctxCancel = context.WithCancel(c.pctx)
}

// AddController registers a controller with the engine, resolving its command
// endpoint and creating its admission gate. Registration is required before any
// send; the same registry attributes inbound event frames in the Listener.
func (c *Client) AddController(ctrl *tpi.Controller) error {
	if ctrl == nil {
		return errors.New("controller is nil")
	}

	addr, err := net.ResolveUDPAddr("udp4", ctrl.Addr())
	if err != nil {
		return fmt.Errorf("resolve controller %d endpoint: %w", ctrl.ID(), err)
	}

	c.entriesMu.Lock()
	defer c.entriesMu.Unlock()

	if _, exists := c.entries[ctrl.ID()]; exists {
		return fmt.Errorf("controller id %d already registered", ctrl.ID())
	}

	c.entries[ctrl.ID()] = &controllerEntry{
		ctrl: ctrl,
		addr: addr,
		gate: newAdmissionGate(c.cfg.maxInflight),
	}
	if ctrl.MAC() != "" {
		c.byMAC.Store(ctrl.MAC(), ctrl)
	}

	return nil
}

// Controllers returns all registered controllers.
func (c *Client) Controllers() []*tpi.Controller {
	c.entriesMu.RLock()
	defer c.entriesMu.RUnlock()

	ctrls := make([]*tpi.Controller, 0, len(c.entries))
	for _, entry := range c.entries {
		ctrls = append(ctrls, entry.ctrl)
	}

	return ctrls
}

// ControllerByMAC resolves a registered controller by its normalized hardware
// address, or nil if no controller carries that address.
func (c *Client) ControllerByMAC(mac string) *tpi.Controller {
	normalized, err := tpi.NormalizeMAC(mac)
	if err != nil {
		return nil
	}

	if ctrl, ok := c.byMAC.Load(normalized); ok {
		return ctrl
	}

	return nil
}

// GetLogger returns the logger associated with the client.
func (c *Client) GetLogger() logger.Logger {
	return c.logger
}

// GetMetrics returns the metrics associated with the client.
func (c *Client) GetMetrics() *ClientMetrics {
	return &c.metrics
}

// Config returns the client configuration.
func (c *Client) Config() *ClientConfig {
	return c.cfg
}

// Open binds the shared command socket and starts the response receiver.
func (c *Client) Open() error {
	if c.opened.Load() {
		return nil
	}

	c.createContext()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return fmt.Errorf("bind command socket: %w", err)
	}

	c.connMutex.Lock()
	c.conn = conn
	c.connMutex.Unlock()

	if err := c.taskMgr.StartReceiver("responseReceiver", c.receiverTask, nil); err != nil {
		_ = conn.Close()
		return err
	}

	c.opened.Store(true)
	c.logger.Debug("client opened", "local_addr", conn.LocalAddr().String())

	return nil
}

// Close shuts the engine down: it fails all in-flight requests and queued waiters
// with ErrClientClosed, closes the socket, and waits for the receiver to terminate.
func (c *Client) Close() error {
	if !c.opened.CompareAndSwap(true, false) {
		return nil
	}

	c.logger.Debug("start client close process")

	if c.ctxCancel != nil {
		c.ctxCancel()
	}

	c.connMutex.Lock()
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Error("failed to close command socket", "method", "Close", "error", err)
		}
	}
	c.connMutex.Unlock()

	c.dropAllPending()

	c.taskMgr.Stop()
	c.taskMgr.Wait()

	c.logger.Debug("client closed")

	return nil
}

// Send transmits one command to the controller and waits for its response: admit →
// allocate sequence → register → transmit → timer, retransmitting the identical
// frame on each timeout up to the retry limit.
//
// Failures are one of the taxonomy classes: tpi.ErrTimeout (retry budget or
// sequence space exhausted), tpi.ErrMalformedResponse (the controller answered, but
// the frame failed validation; never retried), or a transport error (terminal).
func (c *Client) Send(ctrl *tpi.Controller, command byte, data []byte) (*tpi.Response, error) {
	if !c.opened.Load() {
		return nil, ErrNotOpen
	}

	entry := c.entry(ctrl)
	if entry == nil {
		return nil, fmt.Errorf("%w: id %d", ErrUnknownController, ctrl.ID())
	}

	if err := entry.gate.admit(c.ctx); err != nil {
		return nil, tpi.ErrClientClosed
	}
	defer entry.gate.release()

	pr := &pendingRequest{
		controller: ctrl,
		result:     make(chan sendResult, 1),
	}

	seq, err := c.seq.allocate(c.ctx, pr)
	if err != nil {
		if errors.Is(err, tpi.ErrSequenceExhausted) {
			c.metrics.incTimeoutCount()
		}

		return nil, err
	}
	defer c.clearPending(seq, pr)

	frame := tpi.BuildCommandFrame(seq, command, data)

	c.metrics.incInflightCount()
	defer c.metrics.decInflightCount()

	if c.logger.Level() == logger.DebugLevel {
		c.logger.Debug("send command frame",
			"controller", ctrl.ID(), "seq", seq, "command", command, "len", len(frame))
	}

	timeouts := 0
	for {
		if err := c.transmit(frame, entry.addr); err != nil {
			// transport-level failure is terminal, no retry
			c.logger.Error("failed to transmit frame",
				"method", "Send", "controller", ctrl.ID(), "seq", seq, "error", err)

			return nil, err
		}
		c.metrics.incFrameSendCount()

		timer := pool.GetTimer(c.cfg.responseTimeout)

		select {
		case <-c.ctx.Done():
			pool.PutTimer(timer)
			return nil, tpi.ErrClientClosed

		case res := <-pr.result:
			pool.PutTimer(timer)
			return res.resp, res.err

		case <-timer.C:
			pool.PutTimer(timer)

			timeouts++
			if timeouts > c.cfg.retryLimit {
				c.metrics.incTimeoutCount()
				c.logger.Warn("request timed out",
					"controller", ctrl.ID(), "seq", seq, "command", command, "retries", c.cfg.retryLimit)

				return nil, fmt.Errorf("%w: seq %d after %d retries", tpi.ErrTimeout, seq, c.cfg.retryLimit)
			}

			// retransmit the identical frame with the same sequence number
			c.metrics.incRetryCount()
			if c.logger.Level() == logger.DebugLevel {
				c.logger.Debug("retransmit frame", "controller", ctrl.ID(), "seq", seq, "attempt", timeouts)
			}
		}
	}
}

// entry returns the registry entry of ctrl, or nil if not registered.
func (c *Client) entry(ctrl *tpi.Controller) *controllerEntry {
	if ctrl == nil {
		return nil
	}

	c.entriesMu.RLock()
	defer c.entriesMu.RUnlock()

	entry := c.entries[ctrl.ID()]
	if entry == nil || entry.ctrl != ctrl {
		return nil
	}

	return entry
}

// transmit writes one datagram to the controller's endpoint.
func (c *Client) transmit(frame []byte, addr *net.UDPAddr) error {
	c.connMutex.Lock()
	conn := c.conn
	c.connMutex.Unlock()

	if conn == nil {
		return ErrNotOpen
	}

	_, err := conn.WriteToUDP(frame, addr)

	return err
}

// clearPending removes the tracker entry for seq, but only while it still belongs
// to pr. By then the sequence may have been recycled to an unrelated request;
// deleting blindly would orphan that request.
func (c *Client) clearPending(seq byte, pr *pendingRequest) {
	c.pending.Compute(seq, func(old *pendingRequest, loaded bool) (*pendingRequest, bool) {
		if loaded && old == pr {
			return nil, true
		}

		return old, !loaded
	})
}

// dropAllPending fails every in-flight request with ErrClientClosed.
func (c *Client) dropAllPending() {
	c.pending.Range(func(seq byte, pr *pendingRequest) bool {
		select {
		case pr.result <- sendResult{err: tpi.ErrClientClosed}:
		default:
		}
		c.pending.Delete(seq)

		return true
	})
}

// receiverTask reads response datagrams from the shared socket and resolves the
// matching pending requests.
func (c *Client) receiverTask(buf []byte) bool {
	c.connMutex.Lock()
	conn := c.conn
	c.connMutex.Unlock()

	if conn == nil {
		return false
	}

	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		if errors.Is(err, net.ErrClosed) || c.ctx.Err() != nil {
			return false
		}
		c.logger.Error("failed to read response datagram", "method", "receiverTask", "error", err)

		return true
	}

	// the receive buffer is reused on the next iteration
	frame := make([]byte, n)
	copy(frame, buf[:n])

	resp, err := tpi.DecodeResponse(frame)
	if err != nil {
		c.metrics.incMalformedCount()
		c.rejectMalformed(frame, err)

		return true
	}

	c.metrics.incFrameRecvCount()
	c.resolve(resp)

	return true
}

// resolve delivers a validated response to its pending request. Responses without
// a matching pending entry (late duplicates after resolution or timeout) are dropped.
func (c *Client) resolve(resp *tpi.Response) {
	pr, ok := c.pending.Load(resp.Seq)
	if !ok {
		c.logger.Debug("response without pending request, dropped", "seq", resp.Seq, "code", resp.Code.String())
		return
	}

	select {
	case pr.result <- sendResult{resp: resp}:
	default:
		// a result is already buffered; duplicate response, drop
	}
}

// rejectMalformed handles a frame that failed validation. If the frame still
// carries a recognizable sequence number with a pending request, that caller is
// rejected with the validation error; the remote did answer, so retrying could
// double-execute the command. Otherwise the frame is logged and dropped, since the
// sender cannot be identified safely.
func (c *Client) rejectMalformed(frame []byte, decodeErr error) {
	if len(frame) >= 2 {
		if pr, ok := c.pending.Load(frame[1]); ok {
			c.logger.Warn("malformed response for pending request",
				"seq", frame[1], "controller", pr.controller.ID(), "error", decodeErr)

			select {
			case pr.result <- sendResult{err: decodeErr}:
			default:
			}

			return
		}
	}

	c.logger.Warn("malformed response frame dropped", "len", len(frame), "error", decodeErr)
}
