// internal/protocol/udp_transport.go
package protocol

import (
	"context"
	"net"

	"go.uber.org/zap"

	"dut-service/internal/model"
)

// UDPTransport sends datagrams to a fixed default destination
type UDPTransport struct {
	baseTransport
	config model.DUTConfig
	dial   func(ctx context.Context, network, address string) (net.Conn, error)
}

// NewUDPTransport creates a new UDP transport
func NewUDPTransport(config model.DUTConfig, logger *zap.Logger, opts ...Option) *UDPTransport {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	ut := &UDPTransport{config: config, dial: o.dial}
	ut.init(model.ProtocolUDP, config.Address(), config.Timeout, logger)

	if ut.dial == nil {
		ut.dial = (&net.Dialer{}).DialContext
	}
	return ut
}

// Connect binds the socket to the DUT address. No packets are exchanged,
// so this only fails for unresolvable addresses.
func (ut *UDPTransport) Connect(ctx context.Context) error {
	ut.mutex.Lock()
	defer ut.mutex.Unlock()

	if ut.isOpen {
		return nil
	}

	conn, err := ut.dial(ctx, "udp", ut.endpoint)
	if err != nil {
		ut.stats.recordError()
		ut.logger.Error("Failed to configure UDP socket", zap.Error(err))
		return &ConnectError{Protocol: model.ProtocolUDP, Addr: ut.endpoint, Attempts: 1, Err: err}
	}

	ut.attach(conn)
	ut.logger.Info("UDP socket configured", zap.String("local", conn.LocalAddr().String()))
	return nil
}
