// pkg/packet/codec.go
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Wire layout: marker(2) | command(1) | sequence(2) | length(2) | payload | [checksum(2)]
const (
	Marker         uint16 = 0xAA55
	HeaderSize            = 7
	ChecksumSize          = 2
	MinPacketSize         = HeaderSize + ChecksumSize
	MaxPayloadSize        = 0xFFFF
)

// ErrPayloadTooLarge is returned by Encode when the payload does not fit the length field.
var ErrPayloadTooLarge = errors.New("payload too large")

// Packet is a decoded DUT protocol frame
type Packet struct {
	Command       byte   `json:"command"`
	Sequence      uint16 `json:"sequence"`
	Length        uint16 `json:"length"`
	Payload       []byte `json:"payload"`
	Checksum      uint16 `json:"checksum,omitempty"`
	HasChecksum   bool   `json:"has_checksum"`
	ChecksumValid bool   `json:"checksum_valid"`
}

// Encode builds a frame for the given command, payload and sequence number.
func Encode(command byte, payload []byte, sequence uint16, includeChecksum bool) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(payload), MaxPayloadSize)
	}

	size := HeaderSize + len(payload)
	if includeChecksum {
		size += ChecksumSize
	}

	buf := make([]byte, HeaderSize+len(payload), size)
	binary.BigEndian.PutUint16(buf[0:2], Marker)
	buf[2] = command
	binary.BigEndian.PutUint16(buf[3:5], sequence)
	binary.BigEndian.PutUint16(buf[5:7], uint16(len(payload)))
	copy(buf[HeaderSize:], payload)

	if includeChecksum {
		buf = binary.BigEndian.AppendUint16(buf, Checksum(buf))
	}
	return buf, nil
}

// Decode parses a frame. A checksum mismatch is reported through
// ChecksumValid and is not an error.
func Decode(data []byte) (*Packet, error) {
	if len(data) < MinPacketSize {
		return nil, &DecodeError{Kind: TooShort, Have: len(data), Want: MinPacketSize}
	}

	if marker := binary.BigEndian.Uint16(data[0:2]); marker != Marker {
		return nil, &DecodeError{Kind: BadMarker, Marker: marker}
	}

	pkt := &Packet{
		Command:  data[2],
		Sequence: binary.BigEndian.Uint16(data[3:5]),
		Length:   binary.BigEndian.Uint16(data[5:7]),
	}

	end := HeaderSize + int(pkt.Length)
	if end > len(data) {
		return nil, &DecodeError{Kind: Truncated, Have: len(data) - HeaderSize, Want: int(pkt.Length)}
	}

	pkt.Payload = make([]byte, pkt.Length)
	copy(pkt.Payload, data[HeaderSize:end])

	if len(data)-end >= ChecksumSize {
		pkt.HasChecksum = true
		pkt.Checksum = binary.BigEndian.Uint16(data[end : end+ChecksumSize])
		pkt.ChecksumValid = pkt.Checksum == Checksum(data[:end])
	}

	return pkt, nil
}

// Checksum returns the one's complement of the 16-bit big-endian word sum of data.
// An odd trailing byte is the high byte of a final word.
func Checksum(data []byte) uint16 {
	var sum uint32
	n := len(data)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(data[i])<<8 | uint32(data[i+1])
	}
	if n%2 == 1 {
		sum += uint32(data[n-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}

// Size returns the encoded size of the packet.
func (p *Packet) Size() int {
	size := HeaderSize + len(p.Payload)
	if p.HasChecksum {
		size += ChecksumSize
	}
	return size
}

func (p *Packet) String() string {
	return fmt.Sprintf("packet(cmd=0x%02X seq=%d len=%d checksum_valid=%t)",
		p.Command, p.Sequence, p.Length, p.ChecksumValid)
}
