package tpiudp

import (
	"fmt"
	"net"

	"github.com/dalictl/go-tpi/colour"
	"github.com/dalictl/go-tpi/tpi"
)

// Command codes of the TPI command catalogue. The catalogue is open-ended; the
// engine itself only depends on the TPI event commands.
const (
	cmdQueryControllerVersion byte = 0x00
	cmdQueryControllerLabel   byte = 0x01
	cmdQueryGroupLabel        byte = 0x02
	cmdQuerySceneNumbers      byte = 0x03
	cmdQueryDALIArcLevel      byte = 0x04
	cmdDALIArcLevel           byte = 0x05
	cmdDALIOn                 byte = 0x06
	cmdDALIOff                byte = 0x07
	cmdDALIRecallScene        byte = 0x08
	cmdDALIStopFade           byte = 0x09
	cmdQueryOccupancy         byte = 0x0A
	cmdSetColour              byte = 0x0B
	cmdQueryColour            byte = 0x0C

	cmdSetTPIEventUnicastAddress byte = 0x40
	cmdSetTPIEventEmit           byte = 0x41
	cmdQueryTPIEventEmit         byte = 0x42
	cmdSetTPIEventFilter         byte = 0x43
	cmdQueryTPIEventFilter       byte = 0x44
)

// MaxArcLevel is the highest settable DALI arc level; 255 is the protocol's
// "no change" sentinel and is never sent.
const MaxArcLevel = 254

// sendBasic transmits a fixed-payload frame: the target byte followed by up to 3
// data bytes, right-aligned and zero-padded to exactly 3.
func (c *Client) sendBasic(ctrl *tpi.Controller, command byte, target byte, data ...byte) (*tpi.Response, error) {
	if len(data) > 3 {
		return nil, fmt.Errorf("basic command 0x%02X carries %d data bytes, maximum is 3", command, len(data))
	}

	payload := make([]byte, 4)
	payload[0] = target
	copy(payload[4-len(data):], data)

	return c.Send(ctrl, command, payload)
}

// sendDynamic transmits a variable-payload frame: the target byte, a length byte,
// and the payload itself.
func (c *Client) sendDynamic(ctrl *tpi.Controller, command byte, target byte, data []byte) (*tpi.Response, error) {
	if len(data) > 255 {
		return nil, fmt.Errorf("dynamic command 0x%02X payload of %d bytes exceeds 255", command, len(data))
	}

	payload := make([]byte, 0, 2+len(data))
	payload = append(payload, target, byte(len(data)))
	payload = append(payload, data...)

	return c.Send(ctrl, command, payload)
}

// decodeAck decodes a response when a bare acknowledgement is expected:
// OK is true, NO_ANSWER false, an empty ERROR is the absent-value false, a
// non-empty ERROR is a controller error, and an ANSWER is a contract violation.
func decodeAck(resp *tpi.Response) (bool, error) {
	switch resp.Code {
	case tpi.ResponseOK:
		return true, nil
	case tpi.ResponseNoAnswer:
		return false, nil
	case tpi.ResponseError:
		if len(resp.Data) == 0 {
			return false, nil
		}

		return false, tpi.NewControllerError(resp.Data[0])
	default: // ANSWER
		return false, fmt.Errorf("%w: expected acknowledgement, got %s with %d data bytes",
			tpi.ErrUnexpectedResponse, resp.Code, len(resp.Data))
	}
}

// decodeAnswer decodes a response when an answer payload is expected. ok is false
// for the two absent-value cases (NO_ANSWER, empty ERROR).
func decodeAnswer(resp *tpi.Response) (data []byte, ok bool, err error) {
	switch resp.Code {
	case tpi.ResponseAnswer:
		return resp.Data, true, nil
	case tpi.ResponseNoAnswer:
		return nil, false, nil
	case tpi.ResponseError:
		if len(resp.Data) == 0 {
			return nil, false, nil
		}

		return nil, false, tpi.NewControllerError(resp.Data[0])
	default: // OK
		return nil, false, fmt.Errorf("%w: expected answer, got %s", tpi.ErrUnexpectedResponse, resp.Code)
	}
}

// decodeAnswerByte decodes an answer that must be exactly one payload byte.
func decodeAnswerByte(resp *tpi.Response) (byte, bool, error) {
	data, ok, err := decodeAnswer(resp)
	if err != nil || !ok {
		return 0, ok, err
	}
	if len(data) != 1 {
		return 0, false, fmt.Errorf("%w: expected a single answer byte, got %d", tpi.ErrUnexpectedResponse, len(data))
	}

	return data[0], true, nil
}

// SendBasicAck sends a fixed-payload command that only acknowledges.
func (c *Client) SendBasicAck(ctrl *tpi.Controller, command byte, target byte, data ...byte) (bool, error) {
	resp, err := c.sendBasic(ctrl, command, target, data...)
	if err != nil {
		return false, err
	}

	return decodeAck(resp)
}

// SendBasicByte sends a fixed-payload query whose answer is a single integer byte.
// ok is false when the controller has no value to report.
func (c *Client) SendBasicByte(ctrl *tpi.Controller, command byte, target byte, data ...byte) (byte, bool, error) {
	resp, err := c.sendBasic(ctrl, command, target, data...)
	if err != nil {
		return 0, false, err
	}

	return decodeAnswerByte(resp)
}

// SendBasicBool sends a fixed-payload query whose answer is a single boolean byte.
func (c *Client) SendBasicBool(ctrl *tpi.Controller, command byte, target byte, data ...byte) (value bool, ok bool, err error) {
	b, ok, err := c.SendBasicByte(ctrl, command, target, data...)

	return b != 0, ok, err
}

// SendBasicString sends a fixed-payload query whose answer is UTF-8 text.
func (c *Client) SendBasicString(ctrl *tpi.Controller, command byte, target byte, data ...byte) (string, bool, error) {
	resp, err := c.sendBasic(ctrl, command, target, data...)
	if err != nil {
		return "", false, err
	}

	raw, ok, err := decodeAnswer(resp)
	if err != nil || !ok {
		return "", ok, err
	}

	return string(raw), true, nil
}

// SendBasicBytes sends a fixed-payload query whose answer is an opaque byte string.
func (c *Client) SendBasicBytes(ctrl *tpi.Controller, command byte, target byte, data ...byte) ([]byte, bool, error) {
	resp, err := c.sendBasic(ctrl, command, target, data...)
	if err != nil {
		return nil, false, err
	}

	return decodeAnswer(resp)
}

// SendDynamic sends a variable-payload command. Both OK and ANSWER are success (OK
// may carry bytes); a NO_ANSWER with a nonzero payload is itself an error.
func (c *Client) SendDynamic(ctrl *tpi.Controller, command byte, target byte, payload []byte) (data []byte, ok bool, err error) {
	resp, err := c.sendDynamic(ctrl, command, target, payload)
	if err != nil {
		return nil, false, err
	}

	switch resp.Code {
	case tpi.ResponseOK, tpi.ResponseAnswer:
		return resp.Data, true, nil
	case tpi.ResponseNoAnswer:
		if len(resp.Data) != 0 {
			return nil, false, fmt.Errorf("%w: NO_ANSWER carries %d data bytes", tpi.ErrUnexpectedResponse, len(resp.Data))
		}

		return nil, false, nil
	default: // ERROR
		if len(resp.Data) == 0 {
			return nil, false, nil
		}

		return nil, false, tpi.NewControllerError(resp.Data[0])
	}
}

// DALIArcLevel sets the arc level (0-254) of a control gear, group or broadcast address.
func (c *Client) DALIArcLevel(addr tpi.Address, level int) (bool, error) {
	if level < 0 || level > MaxArcLevel {
		return false, fmt.Errorf("arc level %d out of range [0, %d]", level, MaxArcLevel)
	}

	return c.SendBasicAck(addr.Controller(), cmdDALIArcLevel, addr.ECGOrGroup(), byte(level))
}

// DALIOn recalls the last active level of the addressed gear.
func (c *Client) DALIOn(addr tpi.Address) (bool, error) {
	return c.SendBasicAck(addr.Controller(), cmdDALIOn, addr.ECGOrGroup())
}

// DALIOff switches the addressed gear off.
func (c *Client) DALIOff(addr tpi.Address) (bool, error) {
	return c.SendBasicAck(addr.Controller(), cmdDALIOff, addr.ECGOrGroup())
}

// DALIRecallScene recalls scene (0-15) on the addressed gear.
func (c *Client) DALIRecallScene(addr tpi.Address, scene int) (bool, error) {
	if scene < 0 || scene > 15 {
		return false, fmt.Errorf("scene %d out of range [0, 15]", scene)
	}

	return c.SendBasicAck(addr.Controller(), cmdDALIRecallScene, addr.ECGOrGroup(), byte(scene))
}

// DALIStopFade aborts a running fade on the addressed gear.
func (c *Client) DALIStopFade(addr tpi.Address) (bool, error) {
	return c.SendBasicAck(addr.Controller(), cmdDALIStopFade, addr.ECGOrGroup())
}

// QueryDALIArcLevel queries the current arc level of the addressed gear.
// ok is false when the level is unknown.
func (c *Client) QueryDALIArcLevel(addr tpi.Address) (byte, bool, error) {
	return c.SendBasicByte(addr.Controller(), cmdQueryDALIArcLevel, addr.ECGOrGroup())
}

// QueryGroupLabel queries the configured label of a group address.
// ok is false when no label is set; an unset label is not an error.
func (c *Client) QueryGroupLabel(addr tpi.Address) (string, bool, error) {
	return c.SendBasicString(addr.Controller(), cmdQueryGroupLabel, addr.ECGOrGroup())
}

// QuerySceneNumbers queries the list of scenes programmed on the addressed gear.
func (c *Client) QuerySceneNumbers(addr tpi.Address) ([]byte, bool, error) {
	return c.SendBasicBytes(addr.Controller(), cmdQuerySceneNumbers, addr.ECGOrGroup())
}

// QueryOccupancy queries the occupancy state reported by a sensor instance.
func (c *Client) QueryOccupancy(inst tpi.Instance) (bool, bool, error) {
	addr := inst.Address()

	return c.SendBasicBool(addr.Controller(), cmdQueryOccupancy, addr.Device(), inst.Number())
}

// QueryControllerVersion queries the controller's firmware version bytes.
func (c *Client) QueryControllerVersion(ctrl *tpi.Controller) ([]byte, bool, error) {
	return c.SendBasicBytes(ctrl, cmdQueryControllerVersion, 0)
}

// QueryControllerLabel queries the controller's configured label.
func (c *Client) QueryControllerLabel(ctrl *tpi.Controller) (string, bool, error) {
	return c.SendBasicString(ctrl, cmdQueryControllerLabel, 0)
}

// SetColour sets the colour of the addressed gear. The payload is the target byte
// followed by the colour's tagged wire encoding.
func (c *Client) SetColour(addr tpi.Address, col colour.Colour) (bool, error) {
	payload := make([]byte, 0, 8)
	payload = append(payload, addr.ECGOrGroup())
	payload = append(payload, col.Encode()...)

	resp, err := c.Send(addr.Controller(), cmdSetColour, payload)
	if err != nil {
		return false, err
	}

	return decodeAck(resp)
}

// QueryColour queries the current colour of the addressed gear.
func (c *Client) QueryColour(addr tpi.Address) (colour.Colour, bool, error) {
	data, ok, err := c.SendBasicBytes(addr.Controller(), cmdQueryColour, addr.ECGOrGroup())
	if err != nil || !ok {
		return colour.Colour{}, ok, err
	}

	col, err := colour.Decode(data)
	if err != nil {
		return colour.Colour{}, false, fmt.Errorf("%w: %s", tpi.ErrUnexpectedResponse, err)
	}

	return col, true, nil
}

// SetTPIEventUnicastAddress instructs the controller to direct its event stream to
// ip:port. Only IPv4 targets are representable on the wire.
func (c *Client) SetTPIEventUnicastAddress(ctrl *tpi.Controller, ip net.IP, port int) (bool, error) {
	ip4 := ip.To4()
	if ip4 == nil {
		return false, fmt.Errorf("event unicast target %s is not an IPv4 address", ip)
	}
	if port < 0 || port > 65535 {
		return false, fmt.Errorf("event unicast port %d out of range [0, 65535]", port)
	}

	payload := make([]byte, 0, 6)
	payload = append(payload, ip4...)
	payload = append(payload, byte(port>>8), byte(port))

	_, ok, err := c.SendDynamic(ctrl, cmdSetTPIEventUnicastAddress, 0, payload)

	return ok, err
}

// ClearTPIEventUnicastAddress clears the controller's configured unicast event
// target by sending the all-zero address and port.
func (c *Client) ClearTPIEventUnicastAddress(ctrl *tpi.Controller) (bool, error) {
	return c.SetTPIEventUnicastAddress(ctrl, net.IPv4zero, 0)
}

// SetTPIEventEmit sets the controller's event emission mode.
func (c *Client) SetTPIEventEmit(ctrl *tpi.Controller, mode tpi.EventMode) (bool, error) {
	return c.SendBasicAck(ctrl, cmdSetTPIEventEmit, 0, mode.ToByte())
}

// QueryTPIEventEmit queries the controller's event emission mode.
func (c *Client) QueryTPIEventEmit(ctrl *tpi.Controller) (tpi.EventMode, bool, error) {
	b, ok, err := c.SendBasicByte(ctrl, cmdQueryTPIEventEmit, 0)
	if err != nil || !ok {
		return tpi.EventMode{}, ok, err
	}

	return tpi.EventModeFromByte(b), true, nil
}

// SetTPIEventFilter sets the controller's event filter mask.
func (c *Client) SetTPIEventFilter(ctrl *tpi.Controller, mask tpi.EventMask) (bool, error) {
	hi, lo := mask.Bytes()

	return c.SendBasicAck(ctrl, cmdSetTPIEventFilter, 0, hi, lo)
}

// QueryTPIEventFilter queries the controller's event filter mask.
func (c *Client) QueryTPIEventFilter(ctrl *tpi.Controller) (tpi.EventMask, bool, error) {
	data, ok, err := c.SendBasicBytes(ctrl, cmdQueryTPIEventFilter, 0)
	if err != nil || !ok {
		return 0, ok, err
	}
	if len(data) != 2 {
		return 0, false, fmt.Errorf("%w: expected a double-byte mask, got %d bytes", tpi.ErrUnexpectedResponse, len(data))
	}

	return tpi.EventMaskFromBytes(data[0], data[1]), true, nil
}
