package tpi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMAC = [6]byte{0x0C, 0x47, 0xC9, 0x12, 0x34, 0xAB}

func TestDecodeEventFrame(t *testing.T) {
	frame, err := DecodeEventFrame(BuildEventFrame(testMAC, 3, EventGroupLevel, []byte{200}))
	require.NoError(t, err)

	assert.Equal(t, "0c47c91234ab", frame.MAC)
	assert.Equal(t, uint16(3), frame.Target)
	assert.Equal(t, EventGroupLevel, frame.Code)
	assert.Equal(t, []byte{200}, frame.Payload)
}

func TestDecodeEventFrame_EmptyPayload(t *testing.T) {
	frame, err := DecodeEventFrame(BuildEventFrame(testMAC, 70, EventButtonPress, nil))
	require.NoError(t, err)

	assert.Equal(t, uint16(70), frame.Target)
	assert.Equal(t, EventButtonPress, frame.Code)
	assert.Empty(t, frame.Payload)
}

func TestDecodeEventFrame_Malformed(t *testing.T) {
	valid := BuildEventFrame(testMAC, 3, EventGroupLevel, []byte{200})

	badMagic := append([]byte(nil), valid...)
	badMagic[0] = 0x00

	badChecksum := append([]byte(nil), valid...)
	badChecksum[len(badChecksum)-1] ^= 0xFF

	tests := []struct {
		description string
		input       []byte
	}{
		{description: "empty", input: nil},
		{description: "wrong magic", input: badMagic},
		{description: "truncated below minimum", input: valid[:10]},
		{description: "checksum mismatch", input: badChecksum},
	}

	for _, test := range tests {
		frame, err := DecodeEventFrame(test.input)
		assert.Nil(t, frame, test.description)
		assert.ErrorIs(t, err, ErrMalformedEvent, test.description)
	}
}

func TestDecodeEventFrame_LengthMismatch(t *testing.T) {
	raw := BuildEventFrame(testMAC, 5, EventLevelChange, []byte{128})
	raw[11] = 9 // declared payload length disagrees with the actual one
	raw[len(raw)-1] = Checksum(raw[:len(raw)-1])

	frame, err := DecodeEventFrame(raw)
	require.ErrorIs(t, err, ErrEventLengthMismatch)
	require.NotNil(t, frame, "mismatched length still yields a usable frame")
	assert.Equal(t, EventLevelChange, frame.Code)
	assert.Equal(t, []byte{128}, frame.Payload)
}

func TestEventMode_ByteRoundTrip(t *testing.T) {
	// the round trip is the identity for every byte value; undefined high bits a
	// controller reports must be written back unchanged
	for b := 0; b < 256; b++ {
		mode := EventModeFromByte(byte(b))
		assert.Equal(t, byte(b), mode.ToByte(), "mode byte 0x%02X", b)
	}
}

func TestEventMode_ZeroValueHasNoReservedBits(t *testing.T) {
	assert.Equal(t, byte(0x08), EventMode{}.ToByte())
	assert.Equal(t, byte(0x00), EventMode{Multicast: true}.ToByte())
}

func TestEventMode_MulticastBitInversion(t *testing.T) {
	// the wire bit is set when multicast is disabled
	assert.True(t, EventModeFromByte(0x00).Multicast)
	assert.False(t, EventModeFromByte(0x08).Multicast)

	assert.Zero(t, EventMode{Multicast: true}.ToByte()&0x08)
	assert.NotZero(t, EventMode{Multicast: false}.ToByte()&0x08)
}

func TestEventMask(t *testing.T) {
	mask := NewEventMask(EventButtonPress, EventColourChange)

	assert.True(t, mask.Has(EventButtonPress))
	assert.True(t, mask.Has(EventColourChange))
	assert.False(t, mask.Has(EventOccupancy))

	mask.Set(EventOccupancy)
	assert.True(t, mask.Has(EventOccupancy))

	mask.Clear(EventButtonPress)
	assert.False(t, mask.Has(EventButtonPress))

	hi, lo := mask.Bytes()
	assert.Equal(t, mask, EventMaskFromBytes(hi, lo))
}

func TestEventMask_IgnoresUnknownCodes(t *testing.T) {
	var mask EventMask
	mask.Set(EventCode(0x42))

	assert.Zero(t, mask)
	assert.False(t, mask.Has(EventCode(0x42)))
}

func TestEventCode_String(t *testing.T) {
	assert.Equal(t, "button-press", EventButtonPress.String())
	assert.Equal(t, "group-level-change", EventGroupLevel.String())
	assert.Equal(t, "profile-change", EventProfileChange.String())
	assert.Equal(t, "unknown(0x42)", EventCode(0x42).String())
}
