// pkg/packet/ethernet.go
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

const (
	// EtherTypeDUT is the local experimental EtherType used for DUT frames on raw links.
	EtherTypeDUT layers.EthernetType = 0x88B5
	// MinEthernetPayload is the size short payloads are zero padded to on the wire
	MinEthernetPayload = 46
)

var ErrNotEthernet = errors.New("not an ethernet frame")

// BuildEthernetFrame wraps payload in an Ethernet II header.
func BuildEthernetFrame(dst, src net.HardwareAddr, etherType layers.EthernetType, payload []byte) ([]byte, error) {
	if len(dst) != 6 || len(src) != 6 {
		return nil, fmt.Errorf("invalid mac address length: dst=%d src=%d", len(dst), len(src))
	}

	eth := &layers.Ethernet{
		SrcMAC:       src,
		DstMAC:       dst,
		EthernetType: etherType,
	}

	buffer := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := gopacket.SerializeLayers(buffer, opts, eth, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("serialize ethernet frame: %w", err)
	}
	return buffer.Bytes(), nil
}

// EthernetFrame is the decoded view of a raw link frame
type EthernetFrame struct {
	Source      net.HardwareAddr
	Destination net.HardwareAddr
	EtherType   layers.EthernetType
	Payload     []byte
}

// ParseEthernetFrame decodes an Ethernet II header and returns its payload.
func ParseEthernetFrame(data []byte) (*EthernetFrame, error) {
	pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.NoCopy)
	layer := pkt.Layer(layers.LayerTypeEthernet)
	if layer == nil {
		if errLayer := pkt.ErrorLayer(); errLayer != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotEthernet, errLayer.Error())
		}
		return nil, ErrNotEthernet
	}

	eth := layer.(*layers.Ethernet)
	return &EthernetFrame{
		Source:      eth.SrcMAC,
		Destination: eth.DstMAC,
		EtherType:   eth.EthernetType,
		Payload:     eth.Payload,
	}, nil
}

// StripPadding drops the zero padding an Ethernet link adds after a short
// DUT packet. The word after the packet is kept as its checksum when it
// verifies or is non-zero; padding is always zero. Anything that is not a
// complete DUT packet of at most MinEthernetPayload bytes is returned as is.
func StripPadding(payload []byte) []byte {
	if len(payload) < HeaderSize || len(payload) > MinEthernetPayload {
		return payload
	}
	if binary.BigEndian.Uint16(payload[0:2]) != Marker {
		return payload
	}

	end := HeaderSize + int(binary.BigEndian.Uint16(payload[5:7]))
	if end > len(payload) {
		return payload
	}
	if end+ChecksumSize <= len(payload) {
		sum := binary.BigEndian.Uint16(payload[end : end+ChecksumSize])
		if sum != 0 || sum == Checksum(payload[:end]) {
			return payload[:end+ChecksumSize]
		}
	}
	return payload[:end]
}
