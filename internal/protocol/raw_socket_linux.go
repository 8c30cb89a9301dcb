//go:build linux

// internal/protocol/raw_socket_linux.go
package protocol

import (
	"encoding/binary"
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// openPacketSocket creates a non-blocking AF_PACKET socket bound to iface.
// Wrapping the descriptor in *os.File puts it on the runtime poller, so
// read and write deadlines work as they do for net.Conn.
func openPacketSocket(iface *net.Interface) (link, error) {
	proto := htons(unix.ETH_P_ALL)

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, int(proto))
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}

	addr := &unix.SockaddrLinklayer{Protocol: proto, Ifindex: iface.Index}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", iface.Name, err)
	}

	f := os.NewFile(uintptr(fd), "packet:"+iface.Name)
	if f == nil {
		unix.Close(fd)
		return nil, fmt.Errorf("wrap packet socket for %s", iface.Name)
	}
	return f, nil
}

func htons(v uint16) uint16 {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return binary.NativeEndian.Uint16(b[:])
}
