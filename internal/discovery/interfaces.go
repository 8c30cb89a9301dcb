// internal/discovery/interfaces.go
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"

	"dut-service/internal/model"
)

// ErrInterfaceNotFound is returned for an unknown interface name
var ErrInterfaceNotFound = errors.New("interface not found")

// InterfaceInfo describes a local network interface
type InterfaceInfo struct {
	Name  string   `json:"name"`
	IPv4  string   `json:"ipv4,omitempty"`
	IPv6  []string `json:"ipv6,omitempty"`
	MAC   string   `json:"mac,omitempty"`
	MTU   int      `json:"mtu"`
	Up    bool     `json:"up"`
	Index int      `json:"index"`
}

// ListInterfaces returns the names of all local interfaces
func ListInterfaces() ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}

	names := make([]string, 0, len(ifaces))
	for _, ifc := range ifaces {
		names = append(names, ifc.Name)
	}
	return names, nil
}

// GetInterfaceInfo returns addressing details for one interface.
// IPv4 is the first IPv4 address, empty when the interface has none.
func GetInterfaceInfo(name string) (*InterfaceInfo, error) {
	ifc, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInterfaceNotFound, name)
	}
	return describe(ifc)
}

func describe(ifc *net.Interface) (*InterfaceInfo, error) {
	info := &InterfaceInfo{
		Name:  ifc.Name,
		MAC:   ifc.HardwareAddr.String(),
		MTU:   ifc.MTU,
		Up:    ifc.Flags&net.FlagUp != 0,
		Index: ifc.Index,
	}

	addrs, err := ifc.Addrs()
	if err != nil {
		return nil, fmt.Errorf("addresses of %s: %w", ifc.Name, err)
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			if info.IPv4 == "" {
				info.IPv4 = ip4.String()
			}
			continue
		}
		info.IPv6 = append(info.IPv6, ipNet.IP.String())
	}
	return info, nil
}

// NICScanner reports interfaces usable for raw Ethernet links: up,
// not loopback and with a hardware address.
type NICScanner struct{}

func (NICScanner) Type() string      { return "nic" }
func (NICScanner) IsAvailable() bool { return true }

func (NICScanner) Scan(ctx context.Context) ([]*Endpoint, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}

	var found []*Endpoint
	for i := range ifaces {
		if err := ctx.Err(); err != nil {
			return found, err
		}
		ifc := &ifaces[i]
		if ifc.Flags&net.FlagUp == 0 || ifc.Flags&net.FlagLoopback != 0 || len(ifc.HardwareAddr) == 0 {
			continue
		}
		info, err := describe(ifc)
		if err != nil {
			continue
		}
		found = append(found, &Endpoint{
			Protocol: model.ProtocolRawEthernet,
			Address:  info.Name,
			Details: map[string]interface{}{
				"mac":  info.MAC,
				"ipv4": info.IPv4,
				"mtu":  info.MTU,
			},
		})
	}
	return found, nil
}
