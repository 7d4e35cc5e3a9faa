package tpiudp

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/dalictl/go-tpi/logger"
	"github.com/dalictl/go-tpi/tpi"
)

// ErrClientConfigNil indicates that a nil ClientConfig was provided.
var ErrClientConfigNil = errors.New("client config is nil")

// ClientConfig represents the per-process configuration of the protocol engine.
type ClientConfig struct {
	// responseTimeout defines how long to wait for a response datagram before a
	// retransmission. Defaults to 1 second, empirically the minimum that avoids
	// premature timeouts.
	responseTimeout time.Duration

	// retryLimit defines how many times a timed-out frame is retransmitted before
	// the request fails with a timeout. Defaults to 5.
	retryLimit int

	// maxInflight defines the per-controller ceiling of concurrently in-flight
	// requests. Excess callers queue FIFO. Defaults to 8.
	maxInflight int

	// eventUnicast selects unicast event delivery. When false (the default),
	// events are received from the well-known multicast group.
	eventUnicast bool

	// listenHost is the local address the event listener binds to in unicast mode.
	// Defaults to the unspecified address.
	listenHost string

	// listenPort is the local port the event listener binds to in unicast mode.
	// Defaults to the well-known event port.
	listenPort int

	// logger provides a logger instance for engine events and errors.
	logger logger.Logger
}

// NewClientConfig creates an engine configuration with default values, then applies
// the provided options.
//
// See the documentation of the various WithXXX functions for available options.
func NewClientConfig(opts ...ClientOption) (*ClientConfig, error) {
	cfg := &ClientConfig{
		responseTimeout: 1 * time.Second,
		retryLimit:      5,
		maxInflight:     8,
		eventUnicast:    false,
		listenHost:      "0.0.0.0",
		listenPort:      tpi.DefaultEventPort,
		logger:          logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

// ResponseTimeout returns the configured response timeout.
func (cfg *ClientConfig) ResponseTimeout() time.Duration { return cfg.responseTimeout }

// RetryLimit returns the configured retry ceiling.
func (cfg *ClientConfig) RetryLimit() int { return cfg.retryLimit }

// MaxInflight returns the per-controller in-flight ceiling.
func (cfg *ClientConfig) MaxInflight() int { return cfg.maxInflight }

// ClientOption represents a functional option for configuring a ClientConfig.
type ClientOption interface {
	apply(*ClientConfig) error
}

type clientOptFunc struct {
	name      string
	applyFunc func(*ClientConfig) error
}

func (c *clientOptFunc) apply(cfg *ClientConfig) error { return c.applyFunc(cfg) }

func newClientOptFunc(name string, f func(*ClientConfig) error) *clientOptFunc {
	return &clientOptFunc{name: name, applyFunc: f}
}

// WithResponseTimeout sets the response timeout armed for every transmission attempt.
// An error is returned if the timeout is outside [10ms, 30s] or the configuration is nil.
//
// The default value is 1 second.
func WithResponseTimeout(val time.Duration) ClientOption {
	return newClientOptFunc("WithResponseTimeout", func(cfg *ClientConfig) error {
		if cfg == nil {
			return ErrClientConfigNil
		}

		if val < 10*time.Millisecond || val > 30*time.Second {
			return errors.New("response timeout out of range [0.01, 30]")
		}
		cfg.responseTimeout = val

		return nil
	})
}

// WithRetryLimit sets how many retransmissions of an unanswered frame are attempted
// before the request fails with a timeout. A limit of 0 disables retransmission.
// An error is returned if the limit is outside [0, 20] or the configuration is nil.
//
// The default value is 5.
func WithRetryLimit(val int) ClientOption {
	return newClientOptFunc("WithRetryLimit", func(cfg *ClientConfig) error {
		if cfg == nil {
			return ErrClientConfigNil
		}

		if val < 0 || val > 20 {
			return errors.New("retry limit out of range [0, 20]")
		}
		cfg.retryLimit = val

		return nil
	})
}

// WithMaxInflight sets the per-controller ceiling of concurrently in-flight requests.
// Callers above the ceiling queue FIFO until a slot frees.
// An error is returned if the ceiling is outside [1, 64] or the configuration is nil.
//
// The default value is 8.
func WithMaxInflight(val int) ClientOption {
	return newClientOptFunc("WithMaxInflight", func(cfg *ClientConfig) error {
		if cfg == nil {
			return ErrClientConfigNil
		}

		if val < 1 || val > 64 {
			return errors.New("max inflight out of range [1, 64]")
		}
		cfg.maxInflight = val

		return nil
	})
}

// WithMulticastEvents selects multicast event delivery: the listener joins the
// well-known multicast group on the well-known event port.
//
// This is the default delivery mode.
func WithMulticastEvents() ClientOption {
	return newClientOptFunc("WithMulticastEvents", func(cfg *ClientConfig) error {
		if cfg == nil {
			return ErrClientConfigNil
		}

		cfg.eventUnicast = false

		return nil
	})
}

// WithUnicastEvents selects unicast event delivery: every controller is instructed
// to direct its event stream to host:port, and the listener binds there.
//
// host may be an IP address or the empty string for the unspecified address.
// An error is returned if host is not a valid IP, port is out of range, or the
// configuration is nil.
func WithUnicastEvents(host string, port int) ClientOption {
	return newClientOptFunc("WithUnicastEvents", func(cfg *ClientConfig) error {
		if cfg == nil {
			return ErrClientConfigNil
		}

		if host == "" {
			host = "0.0.0.0"
		}
		if ip := net.ParseIP(host); ip == nil {
			return fmt.Errorf("invalid listen host %q", host)
		}
		if port < 1 || port > 65535 {
			return errors.New("listen port out of range [1, 65535]")
		}

		cfg.eventUnicast = true
		cfg.listenHost = host
		cfg.listenPort = port

		return nil
	})
}

// WithLogger sets the logger for the engine.
// An error is returned if the logger or the configuration is nil.
//
// The default logger is the global logger instance.
func WithLogger(l logger.Logger) ClientOption {
	return newClientOptFunc("WithLogger", func(cfg *ClientConfig) error {
		if cfg == nil {
			return ErrClientConfigNil
		}
		if l == nil {
			return errors.New("logger is nil")
		}

		cfg.logger = l

		return nil
	})
}
