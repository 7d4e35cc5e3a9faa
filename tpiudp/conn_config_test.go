package tpiudp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientConfig_Defaults(t *testing.T) {
	cfg, err := NewClientConfig()
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.ResponseTimeout())
	assert.Equal(t, 5, cfg.RetryLimit())
	assert.Equal(t, 8, cfg.MaxInflight())
	assert.False(t, cfg.eventUnicast)
}

func TestNewClientConfig_Options(t *testing.T) {
	cfg, err := NewClientConfig(
		WithResponseTimeout(250*time.Millisecond),
		WithRetryLimit(0),
		WithMaxInflight(1),
		WithUnicastEvents("10.0.0.5", 7000),
	)
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.ResponseTimeout())
	assert.Equal(t, 0, cfg.RetryLimit())
	assert.Equal(t, 1, cfg.MaxInflight())
	assert.True(t, cfg.eventUnicast)
	assert.Equal(t, "10.0.0.5", cfg.listenHost)
	assert.Equal(t, 7000, cfg.listenPort)
}

func TestNewClientConfig_InvalidOptions(t *testing.T) {
	tests := []struct {
		description string
		opt         ClientOption
	}{
		{description: "timeout too short", opt: WithResponseTimeout(5 * time.Millisecond)},
		{description: "timeout too long", opt: WithResponseTimeout(time.Minute)},
		{description: "negative retry limit", opt: WithRetryLimit(-1)},
		{description: "retry limit too high", opt: WithRetryLimit(21)},
		{description: "zero inflight ceiling", opt: WithMaxInflight(0)},
		{description: "inflight ceiling too high", opt: WithMaxInflight(65)},
		{description: "bad listen host", opt: WithUnicastEvents("not-an-ip", 7000)},
		{description: "listen port out of range", opt: WithUnicastEvents("10.0.0.5", 0)},
		{description: "nil logger", opt: WithLogger(nil)},
	}

	for _, test := range tests {
		_, err := NewClientConfig(test.opt)
		assert.Error(t, err, test.description)
	}
}

func TestWithUnicastEvents_EmptyHostIsUnspecified(t *testing.T) {
	cfg, err := NewClientConfig(WithUnicastEvents("", 7000))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.listenHost)
}
