package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dalictl/go-tpi/tpiudp"
)

const fullConfig = `
controllers:
  - id: 1
    host: 192.168.1.10
    mac: "0c:47:c9:12:34:ab"
  - id: 2
    host: 192.168.1.11
    port: 5200
    mac: "0c-47-c9-12-34-ac"
events:
  mode: unicast
  listen_address: 192.168.1.20
  listen_port: 7000
response_timeout_ms: 500
retry_limit: 2
max_inflight: 4
`

func TestRead(t *testing.T) {
	cfg, err := Read(strings.NewReader(fullConfig))
	require.NoError(t, err)

	require.Len(t, cfg.Controllers, 2)
	assert.Equal(t, 1, cfg.Controllers[0].ID)
	assert.Equal(t, "192.168.1.10", cfg.Controllers[0].Host)
	assert.Equal(t, 0, cfg.Controllers[0].Port)
	assert.Equal(t, 5200, cfg.Controllers[1].Port)

	assert.Equal(t, ModeUnicast, cfg.Events.Mode)
	assert.Equal(t, "192.168.1.20", cfg.Events.ListenAddress)
	assert.Equal(t, 7000, cfg.Events.ListenPort)

	assert.Equal(t, 500, cfg.ResponseTimeoutMS)
	require.NotNil(t, cfg.RetryLimit)
	assert.Equal(t, 2, *cfg.RetryLimit)
	assert.Equal(t, 4, cfg.MaxInflight)
}

func TestRead_Invalid(t *testing.T) {
	tests := []struct {
		description string
		input       string
	}{
		{description: "no controllers", input: "controllers: []"},
		{
			description: "missing host",
			input:       "controllers:\n  - id: 1\n    mac: \"0c47c91234ab\"",
		},
		{
			description: "duplicate id",
			input: "controllers:\n" +
				"  - {id: 1, host: a.example, mac: \"0c47c91234ab\"}\n" +
				"  - {id: 1, host: b.example, mac: \"0c47c91234ac\"}",
		},
		{
			description: "bad hardware address",
			input:       "controllers:\n  - {id: 1, host: a.example, mac: nope}",
		},
		{
			description: "unknown event mode",
			input: "controllers:\n  - {id: 1, host: a.example, mac: \"0c47c91234ab\"}\n" +
				"events:\n  mode: broadcast",
		},
		{
			description: "negative retry limit",
			input: "controllers:\n  - {id: 1, host: a.example, mac: \"0c47c91234ab\"}\n" +
				"retry_limit: -1",
		},
		{
			description: "unknown field",
			input: "controllers:\n  - {id: 1, host: a.example, mac: \"0c47c91234ab\"}\n" +
				"retry_limi: 3",
		},
		{description: "not yaml", input: "{{"},
	}

	for _, test := range tests {
		_, err := Read(strings.NewReader(test.input))
		assert.Error(t, err, test.description)
	}
}

func TestRead_MACOptional(t *testing.T) {
	cfg, err := Read(strings.NewReader("controllers:\n  - {id: 1, host: a.example}"))
	require.NoError(t, err)

	ctrls, err := cfg.BuildControllers()
	require.NoError(t, err)
	assert.Empty(t, ctrls[0].MAC())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tpi.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fullConfig), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Controllers, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestClientOptions(t *testing.T) {
	cfg, err := Read(strings.NewReader(fullConfig))
	require.NoError(t, err)

	clientCfg, err := tpiudp.NewClientConfig(cfg.ClientOptions()...)
	require.NoError(t, err)

	assert.Equal(t, 500*time.Millisecond, clientCfg.ResponseTimeout())
	assert.Equal(t, 2, clientCfg.RetryLimit())
	assert.Equal(t, 4, clientCfg.MaxInflight())
}

func TestClientOptions_Defaults(t *testing.T) {
	cfg, err := Read(strings.NewReader(
		"controllers:\n  - {id: 1, host: a.example, mac: \"0c47c91234ab\"}"))
	require.NoError(t, err)

	clientCfg, err := tpiudp.NewClientConfig(cfg.ClientOptions()...)
	require.NoError(t, err)

	assert.Equal(t, time.Second, clientCfg.ResponseTimeout())
	assert.Equal(t, 5, clientCfg.RetryLimit())
	assert.Equal(t, 8, clientCfg.MaxInflight())
}

func TestBuildControllers(t *testing.T) {
	cfg, err := Read(strings.NewReader(fullConfig))
	require.NoError(t, err)

	ctrls, err := cfg.BuildControllers()
	require.NoError(t, err)
	require.Len(t, ctrls, 2)

	assert.Equal(t, "192.168.1.10:5108", ctrls[0].Addr(), "default command port filled in")
	assert.Equal(t, "192.168.1.11:5200", ctrls[1].Addr())
	assert.Equal(t, "0c47c91234ac", ctrls[1].MAC())
}
