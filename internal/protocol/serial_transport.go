// internal/protocol/serial_transport.go
package protocol

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"dut-service/internal/model"
)

// SerialTransport talks to a DUT console or data port over a UART
type SerialTransport struct {
	baseTransport
	config model.DUTConfig
	open   func(name string, mode *serial.Mode) (serial.Port, error)
}

// NewSerialTransport creates a new serial transport
func NewSerialTransport(config model.DUTConfig, logger *zap.Logger) *SerialTransport {
	st := &SerialTransport{config: config, open: serial.Open}
	st.init(model.ProtocolSerial, config.SerialPort, config.Timeout, logger)
	return st
}

// Connect opens the port at 8N1 with the configured baud rate
func (st *SerialTransport) Connect(ctx context.Context) error {
	st.mutex.Lock()
	defer st.mutex.Unlock()

	if st.isOpen {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	st.logger.Info("Opening serial port", zap.Int("baud_rate", st.config.BaudRate))

	mode := &serial.Mode{
		BaudRate: st.config.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := st.open(st.config.SerialPort, mode)
	if err != nil {
		st.stats.recordError()
		st.logger.Error("Failed to open serial port", zap.Error(err))
		var pe *serial.PortError
		if errors.As(err, &pe) && pe.Code() == serial.PermissionDenied {
			err = errors.Join(ErrPermissionDenied, err)
		}
		return &ConnectError{Protocol: model.ProtocolSerial, Addr: st.endpoint, Attempts: 1, Err: err}
	}

	st.attach(&serialLink{port: port})
	st.logger.Info("Serial port opened successfully")
	return nil
}

// serialLink adapts serial.Port to deadline based I/O. The port reports
// a read timeout as (0, nil), which is turned into os.ErrDeadlineExceeded.
type serialLink struct {
	port serial.Port
}

func (s *serialLink) Read(p []byte) (int, error) {
	n, err := s.port.Read(p)
	if err != nil {
		var pe *serial.PortError
		if errors.As(err, &pe) && pe.Code() == serial.PortClosed {
			return n, net.ErrClosed
		}
		return n, err
	}
	if n == 0 {
		return 0, os.ErrDeadlineExceeded
	}
	return n, nil
}

func (s *serialLink) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *serialLink) Close() error {
	return s.port.Close()
}

func (s *serialLink) SetReadDeadline(t time.Time) error {
	if t.IsZero() {
		return s.port.SetReadTimeout(serial.NoTimeout)
	}
	d := time.Until(t)
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return s.port.SetReadTimeout(d)
}

// SetWriteDeadline is a no-op: UART writes drain at line rate
func (s *serialLink) SetWriteDeadline(time.Time) error {
	return nil
}
