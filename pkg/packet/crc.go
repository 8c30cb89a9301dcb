// pkg/packet/crc.go
package packet

import (
	"encoding/binary"
	"hash/crc32"
)

// CRC32Size is the length of a trailing payload CRC
const CRC32Size = 4

// CRC32 returns the IEEE CRC-32 of data (reflected polynomial 0xEDB88320).
func CRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// VerifyCRC32 reports whether data matches the expected CRC-32.
func VerifyCRC32(data []byte, expected uint32) bool {
	return CRC32(data) == expected
}

// AppendCRC32 returns a copy of payload followed by its big-endian CRC-32.
func AppendCRC32(payload []byte) []byte {
	out := make([]byte, len(payload), len(payload)+CRC32Size)
	copy(out, payload)
	return binary.BigEndian.AppendUint32(out, CRC32(payload))
}

// SplitCRC32 separates a payload built by AppendCRC32 into its data and
// reports whether the trailing CRC matches. Payloads shorter than the
// CRC are returned whole with ok false.
func SplitCRC32(payload []byte) (data []byte, ok bool) {
	if len(payload) < CRC32Size {
		return payload, false
	}
	data = payload[:len(payload)-CRC32Size]
	return data, VerifyCRC32(data, binary.BigEndian.Uint32(payload[len(data):]))
}
