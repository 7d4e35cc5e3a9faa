package tpi

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Controller identifies one remote TPI endpoint. It is immutable after construction
// and typically lives for the whole process.
type Controller struct {
	id   int
	host string
	port int
	mac  string // normalized lowercase hex, empty if not configured
}

// NewController creates a Controller with the given process-unique id and host.
//
// A port of 0 selects DefaultCommandPort. The hardware address mac is optional and
// is used solely to attribute inbound event frames; when set it must contain 12 hex
// digits, separators (":", "-", ".") are ignored and case is insignificant.
func NewController(id int, host string, port int, mac string) (*Controller, error) {
	if id < 0 {
		return nil, fmt.Errorf("controller id %d is negative", id)
	}
	if host == "" {
		return nil, fmt.Errorf("controller host is empty")
	}
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("controller port %d out of range [0, 65535]", port)
	}
	if port == 0 {
		port = DefaultCommandPort
	}

	normalized := ""
	if mac != "" {
		var err error
		normalized, err = NormalizeMAC(mac)
		if err != nil {
			return nil, err
		}
	}

	return &Controller{id: id, host: host, port: port, mac: normalized}, nil
}

// ID returns the process-unique controller identifier.
func (c *Controller) ID() int { return c.id }

// Host returns the controller's network host.
func (c *Controller) Host() string { return c.host }

// Port returns the controller's UDP command port.
func (c *Controller) Port() int { return c.port }

// MAC returns the normalized hardware address, or an empty string if none was configured.
func (c *Controller) MAC() string { return c.mac }

// Addr returns the controller's command endpoint as host:port.
func (c *Controller) Addr() string {
	return net.JoinHostPort(c.host, strconv.Itoa(c.port))
}

// NormalizeMAC lowercases mac and strips ":", "-" and "." separators.
// It returns an error unless exactly 12 hex digits remain.
func NormalizeMAC(mac string) (string, error) {
	replacer := strings.NewReplacer(":", "", "-", "", ".", "")
	normalized := strings.ToLower(replacer.Replace(mac))

	if len(normalized) != 12 {
		return "", fmt.Errorf("hardware address %q is not 6 bytes", mac)
	}
	for _, r := range normalized {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return "", fmt.Errorf("hardware address %q contains non-hex characters", mac)
		}
	}

	return normalized, nil
}

// AddressKind is the variant tag of an Address.
type AddressKind byte

const (
	// KindBroadcast addresses every control gear on the bus.
	KindBroadcast AddressKind = iota
	// KindControlGear addresses one lighting load (0-63).
	KindControlGear
	// KindControlDevice addresses one accessory/sensor device (0-63).
	KindControlDevice
	// KindGroup addresses a DALI group (0-15).
	KindGroup
)

// String returns the name of the address kind.
func (k AddressKind) String() string {
	switch k {
	case KindBroadcast:
		return "broadcast"
	case KindControlGear:
		return "control-gear"
	case KindControlDevice:
		return "control-device"
	case KindGroup:
		return "group"
	default:
		return "unknown"
	}
}

// broadcastTarget is the fixed wire target of a broadcast address.
const broadcastTarget byte = 255

// ecdWireOffset is added to a control-device or group number in wire slots that
// overlay the control-gear range.
const ecdWireOffset byte = 64

// Address identifies a protocol target on one controller's DALI bus.
// The target range is validated against the variant at construction.
type Address struct {
	controller *Controller
	kind       AddressKind
	target     byte
}

// NewBroadcast creates a broadcast address on ctrl. The target is fixed.
func NewBroadcast(ctrl *Controller) Address {
	return Address{controller: ctrl, kind: KindBroadcast, target: broadcastTarget}
}

// NewControlGear creates a control-gear address with target in [0, 63].
func NewControlGear(ctrl *Controller, target int) (Address, error) {
	if target < 0 || target > 63 {
		return Address{}, fmt.Errorf("control gear target %d out of range [0, 63]", target)
	}

	return Address{controller: ctrl, kind: KindControlGear, target: byte(target)}, nil
}

// NewControlDevice creates a control-device address with target in [0, 63].
func NewControlDevice(ctrl *Controller, target int) (Address, error) {
	if target < 0 || target > 63 {
		return Address{}, fmt.Errorf("control device target %d out of range [0, 63]", target)
	}

	return Address{controller: ctrl, kind: KindControlDevice, target: byte(target)}, nil
}

// NewGroup creates a group address with target in [0, 15].
func NewGroup(ctrl *Controller, target int) (Address, error) {
	if target < 0 || target > 15 {
		return Address{}, fmt.Errorf("group target %d out of range [0, 15]", target)
	}

	return Address{controller: ctrl, kind: KindGroup, target: byte(target)}, nil
}

// Controller returns the owning controller.
func (a Address) Controller() *Controller { return a.controller }

// Kind returns the address variant.
func (a Address) Kind() AddressKind { return a.kind }

// Target returns the numeric target of the address.
func (a Address) Target() byte { return a.target }

// ECGOrGroup returns the wire encoding for command slots that accept control gear,
// groups or broadcast: the gear number as-is, the group number offset by 64, or the
// fixed broadcast target. The wire protocol overlays these ranges.
//
// Requesting this encoding for a control-device address is a programming error and panics.
func (a Address) ECGOrGroup() byte {
	switch a.kind {
	case KindControlGear:
		return a.target
	case KindGroup:
		return a.target + ecdWireOffset
	case KindBroadcast:
		return broadcastTarget
	default:
		panic(fmt.Sprintf("tpi: %s address has no control-gear/group wire encoding", a.kind))
	}
}

// Device returns the wire encoding for command slots that address a control device
// (the device number offset by 64).
//
// Requesting this encoding for any other variant is a programming error and panics.
func (a Address) Device() byte {
	if a.kind != KindControlDevice {
		panic(fmt.Sprintf("tpi: %s address has no control-device wire encoding", a.kind))
	}

	return a.target + ecdWireOffset
}

// String returns kind/target, e.g. "group/7".
func (a Address) String() string {
	return fmt.Sprintf("%s/%d", a.kind, a.target)
}

// InstanceType tags the sub-device function an Instance represents.
type InstanceType byte

const (
	InstancePushButton InstanceType = iota
	InstanceAbsoluteInput
	InstanceOccupancySensor
	InstanceLightSensor
	InstanceGeneralSensor
)

// String returns the name of the instance type.
func (t InstanceType) String() string {
	switch t {
	case InstancePushButton:
		return "push-button"
	case InstanceAbsoluteInput:
		return "absolute-input"
	case InstanceOccupancySensor:
		return "occupancy-sensor"
	case InstanceLightSensor:
		return "light-sensor"
	case InstanceGeneralSensor:
		return "general-sensor"
	default:
		return "unknown"
	}
}

// Instance is a sub-device accessory (e.g. a button) hosted on a control device,
// addressed by an instance number in [0, 31].
type Instance struct {
	address Address
	typ     InstanceType
	number  byte
}

// NewInstance creates an Instance on the given control-device address.
func NewInstance(address Address, typ InstanceType, number int) (Instance, error) {
	if address.Kind() != KindControlDevice {
		return Instance{}, fmt.Errorf("instance requires a control-device address, got %s", address.Kind())
	}
	if typ > InstanceGeneralSensor {
		return Instance{}, fmt.Errorf("unknown instance type %d", typ)
	}
	if number < 0 || number > 31 {
		return Instance{}, fmt.Errorf("instance number %d out of range [0, 31]", number)
	}

	return Instance{address: address, typ: typ, number: byte(number)}, nil
}

// Address returns the hosting control-device address.
func (i Instance) Address() Address { return i.address }

// Type returns the instance type tag.
func (i Instance) Type() InstanceType { return i.typ }

// Number returns the instance number.
func (i Instance) Number() byte { return i.number }

// String returns address:type/number, e.g. "control-device/5:push-button/2".
func (i Instance) String() string {
	return fmt.Sprintf("%s:%s/%d", i.address, i.typ, i.number)
}
