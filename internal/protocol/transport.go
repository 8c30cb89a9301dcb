// internal/protocol/transport.go
package protocol

import (
	"context"
	"net"
	"time"

	"dut-service/internal/model"
)

// DefaultReceiveSize is used when Receive is called with maxBytes <= 0
const DefaultReceiveSize = 4096

// DefaultRetryDelay is the fixed pause between TCP connect attempts
const DefaultRetryDelay = 500 * time.Millisecond

// Transport is a data link to the DUT
type Transport interface {
	// Connection lifecycle
	Connect(ctx context.Context) error
	Close() error
	IsOpen() bool

	// Data communication. Receive returns ErrTimeout when nothing
	// arrives within the timeout and ErrClosed when the link is gone.
	Send(ctx context.Context, data []byte) error
	Receive(ctx context.Context, maxBytes int) ([]byte, error)
	SendAndReceive(ctx context.Context, data []byte, maxBytes int, measureLatency bool) ([]byte, time.Duration, error)

	// Receive window, applied to every subsequent operation
	SetTimeout(timeout time.Duration)
	Timeout() time.Duration

	// Protocol information
	Kind() model.ProtocolKind
	Endpoint() string

	// Diagnostics
	Stats() Stats
	ResetStats()
}

// Stats provides transport-level statistics
type Stats struct {
	PacketsSent     uint64        `json:"packets_sent"`
	PacketsReceived uint64        `json:"packets_received"`
	BytesSent       uint64        `json:"bytes_sent"`
	BytesReceived   uint64        `json:"bytes_received"`
	Errors          uint64        `json:"errors"`
	Timeouts        uint64        `json:"timeouts"`
	AverageLatency  time.Duration `json:"average_latency"`
	LastActivity    time.Time     `json:"last_activity"`
	IsConnected     bool          `json:"is_connected"`
}

// Option customises transport construction
type Option func(*options)

type options struct {
	retryDelay time.Duration
	dial       func(ctx context.Context, network, address string) (net.Conn, error)
}

func defaultOptions() options {
	return options{retryDelay: DefaultRetryDelay}
}

// WithRetryDelay overrides the pause between TCP connect attempts
func WithRetryDelay(d time.Duration) Option {
	return func(o *options) { o.retryDelay = d }
}

// WithDialer replaces the network dialer used by TCP and UDP transports
func WithDialer(dial func(ctx context.Context, network, address string) (net.Conn, error)) Option {
	return func(o *options) { o.dial = dial }
}
