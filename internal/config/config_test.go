package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dut-service/internal/model"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: dut-service\n"))
	require.NoError(t, err)

	dut, err := cfg.DUTConfig()
	require.NoError(t, err)
	assert.Equal(t, model.DefaultDUTConfig(), dut)
	assert.Equal(t, "0.0.0.0:8085", cfg.GetServerAddr())
	assert.Equal(t, 30*time.Second, cfg.Monitor.HealthInterval)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, 24, cfg.Discovery.SweepPrefix)
	assert.Equal(t, 300*time.Millisecond, cfg.Discovery.SweepTimeout)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
dut:
  host: 10.0.0.5
  port: 6000
  protocol: udp
  timeout_ms: 250
  retry_count: 0
  cli:
    port: 2323
    prompt: "switch#"
    username: admin
    password: secret
logging:
  level: debug
  format: console
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	dut, err := cfg.DUTConfig()
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", dut.Host)
	assert.Equal(t, 6000, dut.Port)
	assert.Equal(t, model.ProtocolUDP, dut.Protocol)
	assert.Equal(t, 250*time.Millisecond, dut.Timeout)
	assert.Equal(t, 0, dut.RetryCount)
	assert.Equal(t, 2323, dut.CLIPort)
	assert.Equal(t, "switch#", dut.CLIPrompt)
	assert.Equal(t, "admin", dut.CLIUsername)
	assert.Equal(t, "secret", dut.CLIPassword)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadRejectsInvalidDUT(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "zero timeout", body: "dut:\n  timeout_ms: 0\n"},
		{name: "negative retries", body: "dut:\n  retry_count: -1\n"},
		{name: "unknown protocol", body: "dut:\n  protocol: sctp\n"},
		{name: "bad log level", body: "logging:\n  level: loud\n"},
		{name: "ping command too large", body: "monitor:\n  ping_command: 300\n"},
		{name: "sweep too wide", body: "discovery:\n  sweep_prefix: 8\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("DUT_SERVICE_DUT_HOST", "172.16.0.9")
	t.Setenv("DUT_SERVICE_DUT_RETRY_COUNT", "5")

	cfg, err := Load(writeConfig(t, "dut:\n  host: 10.0.0.1\n"))
	require.NoError(t, err)
	assert.Equal(t, "172.16.0.9", cfg.DUT.Host)
	assert.Equal(t, 5, cfg.DUT.RetryCount)
}

func TestFlagOverride(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--dut-host", "127.0.0.1", "--log-level", "warn"}))

	cfg, err := LoadWithFlags(writeConfig(t, "dut:\n  host: 10.0.0.1\n  port: 7000\n"), fs)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.DUT.Host)
	assert.Equal(t, 7000, cfg.DUT.Port, "unset flags must not override the file")
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestWriteYAMLMasksPassword(t *testing.T) {
	cfg, err := Load(writeConfig(t, "dut:\n  cli:\n    username: root\n    password: hunter2\n"))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, cfg.WriteYAML(&buf))
	assert.NotContains(t, buf.String(), "hunter2")
	assert.Contains(t, buf.String(), "username: root")
	assert.Equal(t, "hunter2", cfg.DUT.CLI.Password)
}
