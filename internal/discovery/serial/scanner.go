// internal/discovery/serial/scanner.go
package serial

import (
	"context"
	"fmt"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"dut-service/internal/discovery"
	"dut-service/internal/model"
)

// Scanner lists serial consoles a DUT may be attached to
type Scanner struct {
	logger   *zap.Logger
	baudRate int
	list     func() ([]string, error)
}

// NewScanner creates a serial port scanner. Found ports are reported
// with baudRate.
func NewScanner(logger *zap.Logger, baudRate int) *Scanner {
	if baudRate <= 0 {
		baudRate = model.DefaultBaudRate
	}
	return &Scanner{
		logger:   logger.With(zap.String("scanner", "serial")),
		baudRate: baudRate,
		list:     serial.GetPortsList,
	}
}

func (s *Scanner) Type() string { return "serial" }

func (s *Scanner) IsAvailable() bool { return true }

func (s *Scanner) Scan(ctx context.Context) ([]*discovery.Endpoint, error) {
	ports, err := s.list()
	if err != nil {
		return nil, fmt.Errorf("failed to get serial ports: %w", err)
	}
	if len(ports) == 0 {
		s.logger.Debug("No serial ports found")
		return nil, nil
	}

	found := make([]*discovery.Endpoint, 0, len(ports))
	for _, port := range ports {
		if err := ctx.Err(); err != nil {
			return found, err
		}
		found = append(found, &discovery.Endpoint{
			Protocol: model.ProtocolSerial,
			Address:  port,
			Details:  map[string]interface{}{"baud_rate": s.baudRate},
		})
	}
	return found, nil
}
