package packet

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeLayout(t *testing.T) {
	frame, err := Encode(0x10, []byte{0x01, 0x02}, 0x0304, false)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0x55, 0x10, 0x03, 0x04, 0x00, 0x02, 0x01, 0x02}, frame)

	withSum, err := Encode(0x10, []byte{0x01, 0x02}, 0x0304, true)
	require.NoError(t, err)
	require.Len(t, withSum, len(frame)+ChecksumSize)
	assert.Equal(t, frame, withSum[:len(frame)])
	assert.Equal(t, Checksum(frame), uint16(withSum[len(frame)])<<8|uint16(withSum[len(frame)+1]))
}

func TestEncodePayloadTooLarge(t *testing.T) {
	_, err := Encode(0x01, make([]byte, MaxPayloadSize+1), 0, true)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		command  byte
		payload  []byte
		sequence uint16
	}{
		{name: "empty payload", command: 0x00, payload: []byte{}, sequence: 0},
		{name: "single byte", command: 0x01, payload: []byte{0x42}, sequence: 1},
		{name: "binary data", command: 0x7F, payload: []byte{0x00, 0xFF, 0x7F, 0x80}, sequence: 0xFFFF},
		{name: "text", command: 0xA5, payload: []byte("status?"), sequence: 1234},
		{name: "large", command: 0xFF, payload: bytes.Repeat([]byte{0xAA}, 4096), sequence: 42},
		{name: "max size", command: 0x02, payload: bytes.Repeat([]byte{0x5A}, MaxPayloadSize), sequence: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := Encode(tt.command, tt.payload, tt.sequence, true)
			require.NoError(t, err)

			pkt, err := Decode(frame)
			require.NoError(t, err)

			assert.Equal(t, tt.command, pkt.Command)
			assert.Equal(t, tt.sequence, pkt.Sequence)
			assert.Equal(t, uint16(len(tt.payload)), pkt.Length)
			assert.True(t, bytes.Equal(tt.payload, pkt.Payload))
			assert.True(t, pkt.HasChecksum)
			assert.True(t, pkt.ChecksumValid)
			assert.Equal(t, len(frame), pkt.Size())
		})
	}
}

func TestDecodeWithoutChecksum(t *testing.T) {
	frame, err := Encode(0x03, []byte{0x01, 0x02, 0x03}, 9, false)
	require.NoError(t, err)

	pkt, err := Decode(frame)
	require.NoError(t, err)
	assert.False(t, pkt.HasChecksum)
	assert.False(t, pkt.ChecksumValid)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, pkt.Payload)
}

func TestDecodeChecksumMismatchIsFlag(t *testing.T) {
	frame, err := Encode(0x20, []byte("hello"), 5, true)
	require.NoError(t, err)
	frame[len(frame)-1] ^= 0xFF

	pkt, err := Decode(frame)
	require.NoError(t, err)
	assert.True(t, pkt.HasChecksum)
	assert.False(t, pkt.ChecksumValid)
	assert.Equal(t, []byte("hello"), pkt.Payload)
}

func TestDecodeTooShort(t *testing.T) {
	for n := 0; n < MinPacketSize; n++ {
		data := bytes.Repeat([]byte{0xAA}, n)
		_, err := Decode(data)
		require.Error(t, err, "length %d", n)
		assert.True(t, IsDecodeError(err, TooShort), "length %d: %v", n, err)
	}
}

func TestDecodeBadMarker(t *testing.T) {
	frame, err := Encode(0x01, []byte{0x01, 0x02}, 1, true)
	require.NoError(t, err)
	frame[0] = 0x55
	frame[1] = 0xAA

	_, err = Decode(frame)
	var de *DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, BadMarker, de.Kind)
	assert.Equal(t, uint16(0x55AA), de.Marker)
}

func TestDecodeTruncated(t *testing.T) {
	// declares 16 payload bytes, carries 4
	data := []byte{0xAA, 0x55, 0x01, 0x00, 0x01, 0x00, 0x10, 0x01, 0x02, 0x03, 0x04}

	_, err := Decode(data)
	assert.ErrorIs(t, err, &DecodeError{Kind: Truncated})
	assert.False(t, IsDecodeError(err, TooShort))
}

func TestDecodeArbitraryInputNeverPanics(t *testing.T) {
	inputs := [][]byte{
		nil,
		{0xAA},
		{0xAA, 0x55},
		{0xAA, 0x55, 0x00, 0x00, 0x00, 0xFF, 0xFF, 0x00, 0x00},
		bytes.Repeat([]byte{0xFF}, 64),
		{0xAA, 0x55, 0x01, 0x00, 0x01, 0x00, 0x00, 0x00},
	}
	for _, in := range inputs {
		assert.NotPanics(t, func() { _, _ = Decode(in) })
	}
}

func TestChecksumKnownValues(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint16
	}{
		{name: "empty", data: nil, want: 0xFFFF},
		{name: "single word", data: []byte{0x00, 0x01}, want: 0xFFFE},
		{name: "odd byte is high byte", data: []byte{0x01}, want: 0xFEFF},
		{name: "carry folds", data: []byte{0xFF, 0xFF, 0x00, 0x01}, want: 0xFFFE},
		{name: "marker", data: []byte{0xAA, 0x55}, want: 0x55AA},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Checksum(tt.data))
		})
	}
}

func TestChecksumDeterministic(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	assert.Equal(t, Checksum(data), Checksum(append([]byte(nil), data...)))
}

func TestChecksumDetectsSingleBitFlips(t *testing.T) {
	data := []byte{0xAA, 0x55, 0x10, 0x00, 0x07, 0x00, 0x03, 0xDE, 0xAD, 0xBE}
	base := Checksum(data)

	for i := range data {
		for bit := 0; bit < 8; bit++ {
			flipped := append([]byte(nil), data...)
			flipped[i] ^= 1 << bit
			assert.NotEqual(t, base, Checksum(flipped), "byte %d bit %d", i, bit)
		}
	}
}

func TestCRC32(t *testing.T) {
	// standard check value for "123456789"
	assert.Equal(t, uint32(0xCBF43926), CRC32([]byte("123456789")))
	assert.True(t, VerifyCRC32([]byte("123456789"), 0xCBF43926))
	assert.False(t, VerifyCRC32([]byte("123456780"), 0xCBF43926))
}

func TestAppendCRC32(t *testing.T) {
	payload := []byte("123456789")
	out := AppendCRC32(payload)
	assert.Equal(t, append([]byte("123456789"), 0xCB, 0xF4, 0x39, 0x26), out)
	assert.Equal(t, []byte("123456789"), payload, "input untouched")

	data, ok := SplitCRC32(out)
	assert.True(t, ok)
	assert.Equal(t, payload, data)

	out[0] ^= 0x01
	_, ok = SplitCRC32(out)
	assert.False(t, ok)

	data, ok = SplitCRC32([]byte{0x01, 0x02})
	assert.False(t, ok)
	assert.Equal(t, []byte{0x01, 0x02}, data)

	// empty payload still carries a crc
	data, ok = SplitCRC32(AppendCRC32(nil))
	assert.True(t, ok)
	assert.Empty(t, data)
}
