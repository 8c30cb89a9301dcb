// internal/protocol/raw_transport.go
package protocol

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"

	"dut-service/internal/model"
	"dut-service/pkg/packet"
)

// RawEthernetTransport exchanges frames on a named interface. When a
// destination MAC is configured, payloads are wrapped in Ethernet II
// frames of type packet.EtherTypeDUT and only matching frames are
// delivered by Receive. Without one, bytes pass through unmodified.
type RawEthernetTransport struct {
	baseTransport
	config model.DUTConfig
	dstMAC net.HardwareAddr
}

// NewRawEthernetTransport creates a new raw Ethernet transport
func NewRawEthernetTransport(config model.DUTConfig, logger *zap.Logger) *RawEthernetTransport {
	rt := &RawEthernetTransport{config: config}
	rt.init(model.ProtocolRawEthernet, config.Interface, config.Timeout, logger)
	return rt
}

// Connect opens and binds the packet socket. Without privileges this
// fails with ErrPermissionDenied.
func (rt *RawEthernetTransport) Connect(ctx context.Context) error {
	rt.mutex.Lock()
	defer rt.mutex.Unlock()

	if rt.isOpen {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if rt.config.DestinationMAC != "" {
		mac, err := net.ParseMAC(rt.config.DestinationMAC)
		if err != nil {
			return &ConnectError{Protocol: model.ProtocolRawEthernet, Addr: rt.endpoint, Attempts: 1, Err: err}
		}
		rt.dstMAC = mac
	}

	iface, err := net.InterfaceByName(rt.config.Interface)
	if err != nil {
		rt.stats.recordError()
		return &ConnectError{Protocol: model.ProtocolRawEthernet, Addr: rt.endpoint, Attempts: 1,
			Err: fmt.Errorf("lookup interface: %w", err)}
	}

	l, err := openPacketSocket(iface)
	if err != nil {
		rt.stats.recordError()
		if Classify(err) == ErrPermissionDenied {
			rt.logger.Error("Raw sockets require elevated privileges", zap.Error(err))
			err = fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		} else {
			rt.logger.Error("Raw socket creation failed", zap.Error(err))
		}
		return &ConnectError{Protocol: model.ProtocolRawEthernet, Addr: rt.endpoint, Attempts: 1, Err: err}
	}

	if rt.dstMAC != nil {
		l = &ethernetLink{link: l, local: iface.HardwareAddr, remote: rt.dstMAC}
	}

	rt.attach(l)
	rt.logger.Info("Raw Ethernet socket bound",
		zap.Int("ifindex", iface.Index),
		zap.String("mac", iface.HardwareAddr.String()),
		zap.Bool("framed", rt.dstMAC != nil),
	)
	return nil
}

// ethernetLink frames writes and filters reads for one peer
type ethernetLink struct {
	link
	local  net.HardwareAddr
	remote net.HardwareAddr
}

func (e *ethernetLink) Write(p []byte) (int, error) {
	frame, err := packet.BuildEthernetFrame(e.remote, e.local, packet.EtherTypeDUT, p)
	if err != nil {
		return 0, err
	}
	if _, err := e.link.Write(frame); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Read skips frames that are not DUT frames from the configured peer,
// including copies of our own outgoing frames, and strips the padding of
// short frames. The read deadline bounds the whole loop.
func (e *ethernetLink) Read(p []byte) (int, error) {
	buf := make([]byte, 65536)
	for {
		n, err := e.link.Read(buf)
		if err != nil {
			return 0, err
		}
		frame, err := packet.ParseEthernetFrame(buf[:n])
		if err != nil || frame.EtherType != packet.EtherTypeDUT {
			continue
		}
		if !macEqual(frame.Source, e.remote) {
			continue
		}
		return copy(p, packet.StripPadding(frame.Payload)), nil
	}
}

func macEqual(a, b net.HardwareAddr) bool {
	return a.String() == b.String()
}
