package tpi

import "fmt"

// MagicByte is the fixed first byte of every command frame.
const MagicByte byte = 0x04

// DefaultCommandPort is the well-known UDP port controllers listen on for command frames.
const DefaultCommandPort = 5108

// minResponseLength is the smallest valid response frame:
// CODE(1) + SEQ(1) + LEN(1) + CHECKSUM(1) with an empty data section.
const minResponseLength = 4

// ResponseCode is the first byte of a response frame. The set is closed; any other
// value makes the frame invalid.
type ResponseCode byte

const (
	// ResponseOK acknowledges a command that carries no answer payload.
	ResponseOK ResponseCode = 0xA0
	// ResponseAnswer carries the answer to a query in the data section.
	ResponseAnswer ResponseCode = 0xA1
	// ResponseNoAnswer is a negative or empty result.
	ResponseNoAnswer ResponseCode = 0xA2
	// ResponseError carries a controller error code in the first data byte.
	// An empty data section on ResponseError means "no such value", not a failure.
	ResponseError ResponseCode = 0xA3
)

// IsValid reports whether rc belongs to the closed response-code set.
func (rc ResponseCode) IsValid() bool {
	return rc >= ResponseOK && rc <= ResponseError
}

// String returns the protocol name of the response code.
func (rc ResponseCode) String() string {
	switch rc {
	case ResponseOK:
		return "OK"
	case ResponseAnswer:
		return "ANSWER"
	case ResponseNoAnswer:
		return "NO_ANSWER"
	case ResponseError:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", byte(rc))
	}
}

// Checksum returns the XOR of every byte in buf. A frame's trailing checksum byte
// equals the checksum of all preceding bytes.
func Checksum(buf []byte) byte {
	var sum byte
	for _, b := range buf {
		sum ^= b
	}

	return sum
}

// BuildCommandFrame builds a complete outbound command frame:
// [MagicByte, seq, command, data..., checksum].
func BuildCommandFrame(seq byte, command byte, data []byte) []byte {
	frame := make([]byte, 0, 4+len(data))
	frame = append(frame, MagicByte, seq, command)
	frame = append(frame, data...)
	frame = append(frame, Checksum(frame))

	return frame
}

// Response is a validated inbound response frame.
type Response struct {
	Code ResponseCode
	Seq  byte
	Data []byte
}

// DecodeResponse validates and decodes an inbound response frame:
// [code, seq, dataLength, data..., checksum].
//
// It returns ErrMalformedResponse (wrapped with the reason) if the frame is shorter
// than the minimum, the declared data length does not match the frame length, the
// trailing checksum does not equal the XOR of all prior bytes, or the response code
// is outside the closed set. The returned Data aliases buf.
func DecodeResponse(buf []byte) (*Response, error) {
	if len(buf) < minResponseLength {
		return nil, fmt.Errorf("%w: frame length %d below minimum %d", ErrMalformedResponse, len(buf), minResponseLength)
	}

	if sum := Checksum(buf[:len(buf)-1]); sum != buf[len(buf)-1] {
		return nil, fmt.Errorf("%w: checksum mismatch, calculated 0x%02X, received 0x%02X", ErrMalformedResponse, sum, buf[len(buf)-1])
	}

	dataLen := int(buf[2])
	if minResponseLength+dataLen != len(buf) {
		return nil, fmt.Errorf("%w: declared data length %d does not match frame length %d", ErrMalformedResponse, dataLen, len(buf))
	}

	code := ResponseCode(buf[0])
	if !code.IsValid() {
		return nil, fmt.Errorf("%w: unknown response code 0x%02X", ErrMalformedResponse, buf[0])
	}

	return &Response{
		Code: code,
		Seq:  buf[1],
		Data: buf[3 : 3+dataLen],
	}, nil
}
