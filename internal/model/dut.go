// internal/model/dut.go
package model

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// ProtocolKind selects the data transport used to reach the DUT
type ProtocolKind string

const (
	ProtocolTCP         ProtocolKind = "TCP"
	ProtocolUDP         ProtocolKind = "UDP"
	ProtocolRawEthernet ProtocolKind = "RAW_ETHERNET"
	ProtocolSerial      ProtocolKind = "SERIAL"
)

// ParseProtocolKind accepts the lower-case names used in config files ("tcp", "raw_ethernet").
func ParseProtocolKind(s string) (ProtocolKind, error) {
	switch kind := ProtocolKind(strings.ToUpper(strings.TrimSpace(s))); kind {
	case ProtocolTCP, ProtocolUDP, ProtocolRawEthernet, ProtocolSerial:
		return kind, nil
	case "RAW", "ETHERNET":
		return ProtocolRawEthernet, nil
	default:
		return "", fmt.Errorf("unsupported protocol: %q", s)
	}
}

// ConnectionState is the lifecycle state of the data link
type ConnectionState string

const (
	ConnectionDisconnected ConnectionState = "DISCONNECTED"
	ConnectionConnecting   ConnectionState = "CONNECTING"
	ConnectionConnected    ConnectionState = "CONNECTED"
)

// CLISessionState is the lifecycle state of the interactive console
type CLISessionState string

const (
	CLIDisconnected   CLISessionState = "DISCONNECTED"
	CLIAwaitingBanner CLISessionState = "AWAITING_BANNER"
	CLIAuthenticating CLISessionState = "AUTHENTICATING"
	CLIReady          CLISessionState = "READY"
)

// Defaults used when a field is left empty
const (
	DefaultHost       = "192.168.1.100"
	DefaultPort       = 5000
	DefaultTimeout    = 1000 * time.Millisecond
	DefaultRetryCount = 3
	DefaultCLIPort    = 23
	DefaultCLIPrompt  = "DUT>"
	DefaultInterface  = "eth0"
	DefaultBaudRate   = 115200
)

// DUTConfig describes how to reach one device under test.
// It is built once and treated as read-only afterwards.
type DUTConfig struct {
	Host       string        `json:"host"`
	Port       int           `json:"port"`
	Protocol   ProtocolKind  `json:"protocol"`
	Timeout    time.Duration `json:"timeout"`
	RetryCount int           `json:"retry_count"`

	CLIPort     int    `json:"cli_port"`
	CLIPrompt   string `json:"cli_prompt"`
	CLIUsername string `json:"cli_username,omitempty"`
	CLIPassword string `json:"-"`

	Interface string `json:"interface,omitempty"`
	// DestinationMAC enables Ethernet framing on the raw link when set
	DestinationMAC string `json:"destination_mac,omitempty"`

	SerialPort string `json:"serial_port,omitempty"`
	BaudRate   int    `json:"baud_rate,omitempty"`
}

// DefaultDUTConfig returns the configuration used when nothing is overridden
func DefaultDUTConfig() DUTConfig {
	return DUTConfig{
		Host:       DefaultHost,
		Port:       DefaultPort,
		Protocol:   ProtocolTCP,
		Timeout:    DefaultTimeout,
		RetryCount: DefaultRetryCount,
		CLIPort:    DefaultCLIPort,
		CLIPrompt:  DefaultCLIPrompt,
		Interface:  DefaultInterface,
		BaudRate:   DefaultBaudRate,
	}
}

// Validate checks the invariants every transport relies on
func (c DUTConfig) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.RetryCount < 0 {
		return fmt.Errorf("retry count must not be negative, got %d", c.RetryCount)
	}

	switch c.Protocol {
	case ProtocolTCP, ProtocolUDP:
		if c.Host == "" {
			return fmt.Errorf("host is required for %s", c.Protocol)
		}
		if c.Port <= 0 || c.Port > 65535 {
			return fmt.Errorf("port out of range: %d", c.Port)
		}
	case ProtocolRawEthernet:
		if c.Interface == "" {
			return fmt.Errorf("interface is required for %s", c.Protocol)
		}
		if c.DestinationMAC != "" {
			if _, err := net.ParseMAC(c.DestinationMAC); err != nil {
				return fmt.Errorf("invalid destination mac: %w", err)
			}
		}
	case ProtocolSerial:
		if c.SerialPort == "" {
			return fmt.Errorf("serial port is required for %s", c.Protocol)
		}
		if c.BaudRate <= 0 {
			return fmt.Errorf("baud rate must be positive, got %d", c.BaudRate)
		}
	default:
		return fmt.Errorf("unsupported protocol: %q", c.Protocol)
	}

	if c.CLIPort < 0 || c.CLIPort > 65535 {
		return fmt.Errorf("cli port out of range: %d", c.CLIPort)
	}
	return nil
}

// Address returns the data endpoint as host:port
func (c DUTConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// CLIAddress returns the console endpoint as host:port
func (c DUTConfig) CLIAddress() string {
	port := c.CLIPort
	if port == 0 {
		port = DefaultCLIPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Prompt returns the configured CLI prompt or the default
func (c DUTConfig) Prompt() string {
	if c.CLIPrompt == "" {
		return DefaultCLIPrompt
	}
	return c.CLIPrompt
}

// HasCLICredentials reports whether the console expects a login exchange
func (c DUTConfig) HasCLICredentials() bool {
	return c.CLIUsername != ""
}

// Endpoint describes the data link for logs and status output
func (c DUTConfig) Endpoint() string {
	switch c.Protocol {
	case ProtocolRawEthernet:
		return c.Interface
	case ProtocolSerial:
		return c.SerialPort
	default:
		return c.Address()
	}
}
