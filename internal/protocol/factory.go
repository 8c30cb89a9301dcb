// internal/protocol/factory.go
package protocol

import (
	"fmt"

	"go.uber.org/zap"

	"dut-service/internal/model"
)

// NewTransport creates the transport matching config.Protocol
func NewTransport(config model.DUTConfig, logger *zap.Logger, opts ...Option) (Transport, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dut config: %w", err)
	}

	switch config.Protocol {
	case model.ProtocolTCP:
		return NewTCPTransport(config, logger, opts...), nil
	case model.ProtocolUDP:
		return NewUDPTransport(config, logger, opts...), nil
	case model.ProtocolRawEthernet:
		return NewRawEthernetTransport(config, logger), nil
	case model.ProtocolSerial:
		return NewSerialTransport(config, logger), nil
	default:
		return nil, fmt.Errorf("unsupported protocol type: %s", config.Protocol)
	}
}
