//go:build !linux

// internal/protocol/raw_socket_other.go
package protocol

import (
	"fmt"
	"net"
)

func openPacketSocket(iface *net.Interface) (link, error) {
	return nil, fmt.Errorf("raw ethernet on %s: %w", iface.Name, ErrUnsupported)
}
