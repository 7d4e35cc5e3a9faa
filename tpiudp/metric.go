package tpiudp

import (
	"sync/atomic"
)

// ClientMetrics contains atomic metrics for a client.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type ClientMetrics struct {
	// FrameSendCount indicates the number of command frames transmitted,
	// retransmissions included.
	FrameSendCount atomic.Uint64
	// FrameRecvCount indicates the number of valid response frames received.
	FrameRecvCount atomic.Uint64
	// RetryCount indicates the number of retransmissions.
	RetryCount atomic.Uint64
	// TimeoutCount indicates the number of requests that exhausted the retry budget.
	TimeoutCount atomic.Uint64
	// MalformedCount indicates the number of inbound frames dropped by validation,
	// command and event path combined.
	MalformedCount atomic.Uint64
	// InflightCount indicates the number of requests currently awaiting a response.
	InflightCount atomic.Int64

	// EventRecvCount indicates the number of valid event frames received.
	EventRecvCount atomic.Uint64
	// EventDropCount indicates the number of event frames dropped before dispatch.
	EventDropCount atomic.Uint64
	// EventDispatchCount indicates the number of events dispatched to handlers.
	EventDispatchCount atomic.Uint64
}

func (m *ClientMetrics) incFrameSendCount() {
	m.FrameSendCount.Add(1)
}

func (m *ClientMetrics) incFrameRecvCount() {
	m.FrameRecvCount.Add(1)
}

func (m *ClientMetrics) incRetryCount() {
	m.RetryCount.Add(1)
}

func (m *ClientMetrics) incTimeoutCount() {
	m.TimeoutCount.Add(1)
}

func (m *ClientMetrics) incMalformedCount() {
	m.MalformedCount.Add(1)
}

func (m *ClientMetrics) incInflightCount() {
	m.InflightCount.Add(1)
}

func (m *ClientMetrics) decInflightCount() {
	m.InflightCount.Add(-1)
}

func (m *ClientMetrics) incEventRecvCount() {
	m.EventRecvCount.Add(1)
}

func (m *ClientMetrics) incEventDropCount() {
	m.EventDropCount.Add(1)
}

func (m *ClientMetrics) incEventDispatchCount() {
	m.EventDispatchCount.Add(1)
}
