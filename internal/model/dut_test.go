package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultDUTConfigIsValid(t *testing.T) {
	cfg := DefaultDUTConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "192.168.1.100:5000", cfg.Address())
	assert.Equal(t, "192.168.1.100:23", cfg.CLIAddress())
	assert.Equal(t, "DUT>", cfg.Prompt())
	assert.False(t, cfg.HasCLICredentials())
}

func TestDUTConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*DUTConfig)
		wantErr string
	}{
		{name: "zero timeout", mutate: func(c *DUTConfig) { c.Timeout = 0 }, wantErr: "timeout"},
		{name: "negative timeout", mutate: func(c *DUTConfig) { c.Timeout = -time.Second }, wantErr: "timeout"},
		{name: "negative retries", mutate: func(c *DUTConfig) { c.RetryCount = -1 }, wantErr: "retry"},
		{name: "zero retries allowed", mutate: func(c *DUTConfig) { c.RetryCount = 0 }},
		{name: "missing host", mutate: func(c *DUTConfig) { c.Host = "" }, wantErr: "host"},
		{name: "port out of range", mutate: func(c *DUTConfig) { c.Port = 70000 }, wantErr: "port"},
		{name: "unknown protocol", mutate: func(c *DUTConfig) { c.Protocol = "SCTP" }, wantErr: "unsupported"},
		{name: "raw needs interface", mutate: func(c *DUTConfig) { c.Protocol = ProtocolRawEthernet; c.Interface = "" }, wantErr: "interface"},
		{name: "raw ignores host", mutate: func(c *DUTConfig) { c.Protocol = ProtocolRawEthernet; c.Host = "" }},
		{name: "serial needs port", mutate: func(c *DUTConfig) { c.Protocol = ProtocolSerial }, wantErr: "serial port"},
		{name: "bad cli port", mutate: func(c *DUTConfig) { c.CLIPort = -2 }, wantErr: "cli port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultDUTConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseProtocolKind(t *testing.T) {
	tests := map[string]ProtocolKind{
		"tcp":          ProtocolTCP,
		"UDP":          ProtocolUDP,
		"raw_ethernet": ProtocolRawEthernet,
		"raw":          ProtocolRawEthernet,
		" serial ":     ProtocolSerial,
	}
	for in, want := range tests {
		got, err := ParseProtocolKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseProtocolKind("carrier-pigeon")
	assert.Error(t, err)
}

func TestEndpoint(t *testing.T) {
	cfg := DefaultDUTConfig()
	assert.Equal(t, "192.168.1.100:5000", cfg.Endpoint())

	cfg.Protocol = ProtocolRawEthernet
	assert.Equal(t, "eth0", cfg.Endpoint())

	cfg.Protocol = ProtocolSerial
	cfg.SerialPort = "/dev/ttyUSB0"
	assert.Equal(t, "/dev/ttyUSB0", cfg.Endpoint())
}
