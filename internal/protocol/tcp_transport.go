// internal/protocol/tcp_transport.go
package protocol

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"dut-service/internal/model"
	"dut-service/internal/retry"
)

// TCPTransport is a stream link to the DUT data port
type TCPTransport struct {
	baseTransport
	config     model.DUTConfig
	retryDelay time.Duration
	dial       func(ctx context.Context, network, address string) (net.Conn, error)
}

// NewTCPTransport creates a new TCP transport
func NewTCPTransport(config model.DUTConfig, logger *zap.Logger, opts ...Option) *TCPTransport {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	tt := &TCPTransport{
		config:     config,
		retryDelay: o.retryDelay,
		dial:       o.dial,
	}
	tt.init(model.ProtocolTCP, config.Address(), config.Timeout, logger)

	if tt.dial == nil {
		dialer := &net.Dialer{KeepAlive: 30 * time.Second}
		tt.dial = dialer.DialContext
	}
	return tt
}

// Connect dials the DUT, making at most RetryCount attempts with a fixed
// pause in between. Each attempt is bounded by the configured timeout.
func (tt *TCPTransport) Connect(ctx context.Context) error {
	tt.mutex.Lock()
	defer tt.mutex.Unlock()

	if tt.isOpen {
		return nil
	}

	tt.logger.Info("Opening TCP connection",
		zap.Int("retry_count", tt.config.RetryCount),
		zap.Duration("timeout", tt.timeout),
	)

	var conn net.Conn
	backoff := retry.Fixed(tt.retryDelay, tt.config.RetryCount)
	attempts, err := backoff.Do(ctx, func(attempt int) error {
		dialCtx, cancel := context.WithTimeout(ctx, tt.timeout)
		defer cancel()

		c, err := tt.dial(dialCtx, "tcp", tt.endpoint)
		if err != nil {
			tt.logger.Warn("Connection attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		tt.stats.recordError()
		tt.logger.Error("Failed to open TCP connection", zap.Int("attempts", attempts), zap.Error(err))
		return &ConnectError{Protocol: model.ProtocolTCP, Addr: tt.endpoint, Attempts: attempts, Err: err}
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	tt.attach(conn)
	tt.logger.Info("TCP connection opened successfully", zap.Int("attempts", attempts))
	return nil
}

// LocalAddr returns the local socket address, or nil when closed
func (tt *TCPTransport) LocalAddr() net.Addr {
	tt.mutex.RLock()
	defer tt.mutex.RUnlock()
	if c, ok := tt.link.(net.Conn); ok {
		return c.LocalAddr()
	}
	return nil
}
