package tpi

import (
	"encoding/binary"
	"fmt"
)

// Event stream well-known endpoints.
const (
	// MulticastGroup is the fixed multicast group controllers emit events to.
	MulticastGroup = "239.255.90.67"
	// DefaultEventPort is the well-known UDP port of the event stream.
	DefaultEventPort = 6969
)

// Event frame magic pair, the fixed first two bytes of every event frame.
const (
	EventMagic0 byte = 0x5A
	EventMagic1 byte = 0x43
)

// MaxSystemVariable is the highest valid system-variable index.
const MaxSystemVariable = 143

// minEventLength is the smallest valid event frame:
// MAGIC2(2) + MAC(6) + TARGET(2) + CODE(1) + LEN(1) + CHECKSUM(1) with no payload.
const minEventLength = 13

// EventCode identifies the kind of an event frame.
type EventCode byte

const (
	EventButtonPress    EventCode = 0x00
	EventButtonHold     EventCode = 0x01
	EventAbsoluteInput  EventCode = 0x02
	EventLevelChange    EventCode = 0x03
	EventGroupLevel     EventCode = 0x04
	EventSceneChange    EventCode = 0x05
	EventOccupancy      EventCode = 0x06
	EventSystemVariable EventCode = 0x07
	EventColourChange   EventCode = 0x08
	EventProfileChange  EventCode = 0x09
)

// eventCodeCount is the number of named event kinds; also the width of an EventMask.
const eventCodeCount = 10

// String returns the name of the event code.
func (c EventCode) String() string {
	names := [eventCodeCount]string{
		"button-press", "button-hold", "absolute-input", "level-change",
		"group-level-change", "scene-change", "occupancy", "system-variable-change",
		"colour-change", "profile-change",
	}
	if int(c) < len(names) {
		return names[c]
	}

	return fmt.Sprintf("unknown(0x%02X)", byte(c))
}

// EventMode is the controller's event emission mode, a single configuration byte on
// the wire. Note the inversion: the multicast bit is set when multicast is DISABLED.
type EventMode struct {
	// Enabled reports whether event emission is enabled at all.
	Enabled bool
	// Filtering reports whether the event filter (EventMask) is applied.
	Filtering bool
	// Unicast reports whether events are sent to the configured unicast target.
	Unicast bool
	// Multicast reports whether events are sent to the multicast group.
	Multicast bool

	// reserved carries the undefined high bits of the wire byte, so a mode read
	// from a controller writes back exactly the byte that was received.
	reserved byte
}

const (
	eventModeEnabledBit   byte = 1 << 0
	eventModeFilteringBit byte = 1 << 1
	eventModeUnicastBit   byte = 1 << 2
	// Set on the wire when multicast emission is disabled.
	eventModeMulticastOffBit byte = 1 << 3

	eventModeReservedMask byte = 0xF0
)

// EventModeFromByte decodes the wire byte, preserving the inverted multicast bit.
// Undefined high bits are carried through unchanged, so ToByte returns the exact
// byte this was decoded from.
func EventModeFromByte(b byte) EventMode {
	return EventMode{
		Enabled:   b&eventModeEnabledBit != 0,
		Filtering: b&eventModeFilteringBit != 0,
		Unicast:   b&eventModeUnicastBit != 0,
		Multicast: b&eventModeMulticastOffBit == 0,
		reserved:  b & eventModeReservedMask,
	}
}

// ToByte encodes the mode to its wire byte, preserving the inverted multicast bit.
func (m EventMode) ToByte() byte {
	var b byte
	if m.Enabled {
		b |= eventModeEnabledBit
	}
	if m.Filtering {
		b |= eventModeFilteringBit
	}
	if m.Unicast {
		b |= eventModeUnicastBit
	}
	if !m.Multicast {
		b |= eventModeMulticastOffBit
	}

	return b | m.reserved
}

// EventMask is a bitset over the ten named event kinds, packed into a double byte
// on the wire. Bit n corresponds to EventCode n.
type EventMask uint16

// NewEventMask creates a mask with the given kinds enabled.
func NewEventMask(codes ...EventCode) EventMask {
	var m EventMask
	for _, c := range codes {
		m.Set(c)
	}

	return m
}

// EventMaskFromBytes creates a mask from the packed big-endian double byte.
func EventMaskFromBytes(hi, lo byte) EventMask {
	return EventMask(uint16(hi)<<8 | uint16(lo))
}

// Has reports whether the kind is enabled in the mask.
func (m EventMask) Has(c EventCode) bool {
	return int(c) < eventCodeCount && m&(1<<c) != 0
}

// Set enables the kind in the mask. Codes outside the named set are ignored.
func (m *EventMask) Set(c EventCode) {
	if int(c) < eventCodeCount {
		*m |= 1 << c
	}
}

// Clear disables the kind in the mask.
func (m *EventMask) Clear(c EventCode) {
	*m &^= 1 << c
}

// Bytes returns the packed big-endian double byte.
func (m EventMask) Bytes() (hi, lo byte) {
	return byte(m >> 8), byte(m)
}

// EventFrame is a decoded inbound event frame. The originating controller is
// identified only by its hardware address; resolution against configured
// controllers happens in the listener.
type EventFrame struct {
	// MAC is the normalized hardware address of the emitting controller.
	MAC string
	// Target is the raw big-endian wire target. Its interpretation depends on Code.
	Target uint16
	// Code is the event kind.
	Code EventCode
	// Payload is the event data. It aliases the input buffer.
	Payload []byte
}

// DecodeEventFrame validates and decodes an inbound event frame:
// [magic pair, MAC(6), target(2, big-endian), code, payloadLength, payload..., checksum].
//
// A missing or wrong magic pair, a frame below the minimum length, or a checksum
// mismatch returns a nil frame and ErrMalformedEvent. A declared payload length that
// disagrees with the actual payload returns the decoded frame together with
// ErrEventLengthMismatch; callers should warn and proceed.
func DecodeEventFrame(buf []byte) (*EventFrame, error) {
	if len(buf) < 2 || buf[0] != EventMagic0 || buf[1] != EventMagic1 {
		return nil, fmt.Errorf("%w: bad magic", ErrMalformedEvent)
	}

	if len(buf) < minEventLength {
		return nil, fmt.Errorf("%w: frame length %d below minimum %d", ErrMalformedEvent, len(buf), minEventLength)
	}

	if sum := Checksum(buf[:len(buf)-1]); sum != buf[len(buf)-1] {
		return nil, fmt.Errorf("%w: checksum mismatch, calculated 0x%02X, received 0x%02X", ErrMalformedEvent, sum, buf[len(buf)-1])
	}

	frame := &EventFrame{
		MAC:     fmt.Sprintf("%012x", buf[2:8]),
		Target:  binary.BigEndian.Uint16(buf[8:10]),
		Code:    EventCode(buf[10]),
		Payload: buf[12 : len(buf)-1],
	}

	if int(buf[11]) != len(frame.Payload) {
		return frame, fmt.Errorf("%w: declared %d, actual %d", ErrEventLengthMismatch, buf[11], len(frame.Payload))
	}

	return frame, nil
}

// BuildEventFrame builds a complete event frame from its fields. It is primarily
// useful for controller simulators and tests.
func BuildEventFrame(mac [6]byte, target uint16, code EventCode, payload []byte) []byte {
	frame := make([]byte, 0, minEventLength+len(payload))
	frame = append(frame, EventMagic0, EventMagic1)
	frame = append(frame, mac[:]...)
	frame = binary.BigEndian.AppendUint16(frame, target)
	frame = append(frame, byte(code), byte(len(payload)))
	frame = append(frame, payload...)
	frame = append(frame, Checksum(frame))

	return frame
}
