// Package config loads driver configuration from YAML files and turns it into
// client options and controller registrations.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dalictl/go-tpi/tpi"
	"github.com/dalictl/go-tpi/tpiudp"
)

// Event delivery mode names accepted in the events.mode field.
const (
	ModeMulticast = "multicast"
	ModeUnicast   = "unicast"
)

// ControllerConfig describes one controller registration.
type ControllerConfig struct {
	// ID is the caller-chosen controller identifier, unique within the file.
	ID int `yaml:"id"`
	// Host is the controller's IP address or hostname.
	Host string `yaml:"host"`
	// Port is the controller's command port. Zero selects the protocol default.
	Port int `yaml:"port"`
	// MAC is the controller's hardware address, accepted with or without
	// separators.
	MAC string `yaml:"mac"`
}

// EventConfig describes how the event listener receives the event stream.
type EventConfig struct {
	// Mode is "multicast" (the default) or "unicast".
	Mode string `yaml:"mode"`
	// ListenAddress is the local address to bind in unicast mode. Empty means
	// all interfaces.
	ListenAddress string `yaml:"listen_address"`
	// ListenPort is the local port to bind in unicast mode. Zero selects the
	// protocol default.
	ListenPort int `yaml:"listen_port"`
}

// Config is the root of the YAML configuration file.
type Config struct {
	Controllers []ControllerConfig `yaml:"controllers"`
	Events      EventConfig        `yaml:"events"`

	// ResponseTimeoutMS is the per-attempt response timeout in milliseconds.
	// Zero selects the default.
	ResponseTimeoutMS int `yaml:"response_timeout_ms"`
	// RetryLimit is the number of retransmissions after the first attempt.
	// A pointer so an explicit retry_limit: 0 is distinguishable from an
	// absent field; nil selects the default.
	RetryLimit *int `yaml:"retry_limit"`
	// MaxInflight caps concurrent outstanding requests per controller. Zero
	// selects the default.
	MaxInflight int `yaml:"max_inflight"`
}

// Load reads and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	return Read(f)
}

// Read parses and validates YAML configuration from r.
func Read(r io.Reader) (*Config, error) {
	var cfg Config

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Controllers) == 0 {
		return errors.New("config: no controllers defined")
	}

	seen := make(map[int]bool, len(c.Controllers))
	for i, ctrl := range c.Controllers {
		if ctrl.Host == "" {
			return fmt.Errorf("config: controller %d: host is required", i)
		}
		if seen[ctrl.ID] {
			return fmt.Errorf("config: duplicate controller id %d", ctrl.ID)
		}
		seen[ctrl.ID] = true

		if ctrl.MAC != "" {
			if _, err := tpi.NormalizeMAC(ctrl.MAC); err != nil {
				return fmt.Errorf("config: controller %d: %w", i, err)
			}
		}
	}

	if c.RetryLimit != nil && *c.RetryLimit < 0 {
		return fmt.Errorf("config: retry_limit must not be negative, got %d", *c.RetryLimit)
	}

	switch c.Events.Mode {
	case "", ModeMulticast, ModeUnicast:
	default:
		return fmt.Errorf("config: unknown events.mode %q", c.Events.Mode)
	}

	return nil
}

// ClientOptions converts the file's settings into client options, leaving
// defaults in place for absent fields.
func (c *Config) ClientOptions() []tpiudp.ClientOption {
	var opts []tpiudp.ClientOption

	if c.ResponseTimeoutMS > 0 {
		opts = append(opts, tpiudp.WithResponseTimeout(time.Duration(c.ResponseTimeoutMS)*time.Millisecond))
	}
	if c.RetryLimit != nil {
		opts = append(opts, tpiudp.WithRetryLimit(*c.RetryLimit))
	}
	if c.MaxInflight > 0 {
		opts = append(opts, tpiudp.WithMaxInflight(c.MaxInflight))
	}

	if c.Events.Mode == ModeUnicast {
		host := c.Events.ListenAddress
		if host == "" {
			host = "0.0.0.0"
		}
		port := c.Events.ListenPort
		if port == 0 {
			port = tpi.DefaultEventPort
		}
		opts = append(opts, tpiudp.WithUnicastEvents(host, port))
	} else {
		opts = append(opts, tpiudp.WithMulticastEvents())
	}

	return opts
}

// BuildControllers turns the controller entries into registrations for the
// client.
func (c *Config) BuildControllers() ([]*tpi.Controller, error) {
	ctrls := make([]*tpi.Controller, 0, len(c.Controllers))

	for i, cc := range c.Controllers {
		ctrl, err := tpi.NewController(cc.ID, cc.Host, cc.Port, cc.MAC)
		if err != nil {
			return nil, fmt.Errorf("config: controller %d: %w", i, err)
		}
		ctrls = append(ctrls, ctrl)
	}

	return ctrls, nil
}
