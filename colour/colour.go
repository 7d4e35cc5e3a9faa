// Package colour implements the tagged colour wire encoding used by TPI colour
// commands and colour-change events, and HSV conversions for the variants that
// support them.
//
// A colour on the wire is a type tag byte followed by up to 6 value bytes. Unused
// trailing bytes are padded with the reserved "no value" byte 0xFF; any value byte
// that would itself equal 0xFF is clamped to 0xFE to stay distinguishable from the
// padding sentinel.
package colour

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Kind is the colour-space variant tag. The values are the wire tag bytes.
type Kind byte

const (
	// KindXY is a CIE 1931 xy chromaticity pair, two 16-bit coordinates.
	KindXY Kind = 0x10
	// KindTC is a correlated colour temperature in Kelvin.
	KindTC Kind = 0x20
	// KindRGBWAF is six 8-bit channel values: red, green, blue, white, amber, freecolour.
	KindRGBWAF Kind = 0x80
)

// String returns the name of the colour kind.
func (k Kind) String() string {
	switch k {
	case KindXY:
		return "xy"
	case KindTC:
		return "colour-temperature"
	case KindRGBWAF:
		return "rgbwaf"
	default:
		return fmt.Sprintf("unknown(0x%02X)", byte(k))
	}
}

// Kelvin range accepted by the TC variant.
const (
	MinKelvin = 1000
	MaxKelvin = 20000
)

// padByte is the reserved "no value" byte used to fill unused value slots.
const padByte byte = 0xFF

// clampByte is substituted for any value byte that would collide with padByte.
const clampByte byte = 0xFE

// encodedSize is the fixed size of an encoded colour: tag byte plus 6 value bytes.
const encodedSize = 7

// ErrUnsupportedConversion is returned by HSV conversions on variants that have no
// defined HSV mapping (colour temperature).
var ErrUnsupportedConversion = errors.New("colour variant does not support HSV conversion")

// ErrInvalidEncoding is returned when a colour wire encoding cannot be decoded.
var ErrInvalidEncoding = errors.New("invalid colour encoding")

// Colour is a tagged variant over the three wire encodings. Exactly one variant is
// populated per instance, selected by Kind.
type Colour struct {
	kind Kind

	kelvin uint16  // KindTC
	x, y   uint16  // KindXY
	rgbwaf [6]byte // KindRGBWAF
}

// NewKelvin creates a colour-temperature colour. kelvin must be in [1000, 20000].
func NewKelvin(kelvin int) (Colour, error) {
	if kelvin < MinKelvin || kelvin > MaxKelvin {
		return Colour{}, fmt.Errorf("colour temperature %d out of range [%d, %d]", kelvin, MinKelvin, MaxKelvin)
	}

	return Colour{kind: KindTC, kelvin: uint16(kelvin)}, nil
}

// NewXY creates a CIE xy colour. Both coordinates must be in [0, 65535].
func NewXY(x, y int) (Colour, error) {
	if x < 0 || x > math.MaxUint16 {
		return Colour{}, fmt.Errorf("x coordinate %d out of range [0, 65535]", x)
	}
	if y < 0 || y > math.MaxUint16 {
		return Colour{}, fmt.Errorf("y coordinate %d out of range [0, 65535]", y)
	}

	return Colour{kind: KindXY, x: uint16(x), y: uint16(y)}, nil
}

// NewRGBWAF creates an RGBWAF colour. Every channel must be in [0, 255].
func NewRGBWAF(r, g, b, w, a, f int) (Colour, error) {
	channels := [6]int{r, g, b, w, a, f}
	var c Colour
	c.kind = KindRGBWAF
	for i, v := range channels {
		if v < 0 || v > 255 {
			return Colour{}, fmt.Errorf("channel %d value %d out of range [0, 255]", i, v)
		}
		c.rgbwaf[i] = byte(v)
	}

	return c, nil
}

// Kind returns the populated variant.
func (c Colour) Kind() Kind { return c.kind }

// Kelvin returns the colour temperature. Valid only for KindTC.
func (c Colour) Kelvin() int { return int(c.kelvin) }

// XY returns the chromaticity coordinates. Valid only for KindXY.
func (c Colour) XY() (x, y int) { return int(c.x), int(c.y) }

// RGBWAF returns the six channel values. Valid only for KindRGBWAF.
func (c Colour) RGBWAF() [6]byte { return c.rgbwaf }

// String returns a human-readable form of the colour.
func (c Colour) String() string {
	switch c.kind {
	case KindTC:
		return fmt.Sprintf("%dK", c.kelvin)
	case KindXY:
		return fmt.Sprintf("xy(%d, %d)", c.x, c.y)
	case KindRGBWAF:
		v := c.rgbwaf
		return fmt.Sprintf("rgbwaf(%d, %d, %d, %d, %d, %d)", v[0], v[1], v[2], v[3], v[4], v[5])
	default:
		return "colour(unset)"
	}
}

// Encode returns the 7-byte wire encoding: the tag byte, the variant's value bytes
// with 0xFF clamped to 0xFE, and 0xFF padding for unused trailing slots.
func (c Colour) Encode() []byte {
	buf := make([]byte, encodedSize)
	buf[0] = byte(c.kind)
	for i := 1; i < encodedSize; i++ {
		buf[i] = padByte
	}

	switch c.kind {
	case KindTC:
		binary.BigEndian.PutUint16(buf[1:3], c.kelvin)
		clamp(buf[1:3])
	case KindXY:
		binary.BigEndian.PutUint16(buf[1:3], c.x)
		binary.BigEndian.PutUint16(buf[3:5], c.y)
		clamp(buf[1:5])
	case KindRGBWAF:
		copy(buf[1:], c.rgbwaf[:])
		clamp(buf[1:])
	}

	return buf
}

// clamp replaces value bytes that collide with the padding sentinel.
func clamp(buf []byte) {
	for i, b := range buf {
		if b == padByte {
			buf[i] = clampByte
		}
	}
}

// Decode decodes a colour wire encoding. buf must start with a known tag byte and
// carry at least the variant's value bytes; trailing padding is ignored.
func Decode(buf []byte) (Colour, error) {
	if len(buf) == 0 {
		return Colour{}, fmt.Errorf("%w: empty buffer", ErrInvalidEncoding)
	}

	switch Kind(buf[0]) {
	case KindTC:
		if len(buf) < 3 {
			return Colour{}, fmt.Errorf("%w: colour temperature needs 2 value bytes", ErrInvalidEncoding)
		}
		kelvin := binary.BigEndian.Uint16(buf[1:3])
		if kelvin < MinKelvin || kelvin > MaxKelvin {
			return Colour{}, fmt.Errorf("%w: colour temperature %d out of range", ErrInvalidEncoding, kelvin)
		}

		return Colour{kind: KindTC, kelvin: kelvin}, nil

	case KindXY:
		if len(buf) < 5 {
			return Colour{}, fmt.Errorf("%w: xy needs 4 value bytes", ErrInvalidEncoding)
		}

		return Colour{
			kind: KindXY,
			x:    binary.BigEndian.Uint16(buf[1:3]),
			y:    binary.BigEndian.Uint16(buf[3:5]),
		}, nil

	case KindRGBWAF:
		if len(buf) < encodedSize {
			return Colour{}, fmt.Errorf("%w: rgbwaf needs 6 value bytes", ErrInvalidEncoding)
		}
		var c Colour
		c.kind = KindRGBWAF
		copy(c.rgbwaf[:], buf[1:7])

		return c, nil

	default:
		return Colour{}, fmt.Errorf("%w: unknown tag 0x%02X", ErrInvalidEncoding, buf[0])
	}
}

// ToHSV converts the colour to hue [0, 360), saturation [0, 1] and value [0, 1].
// It is defined for the RGBWAF and xy variants; colour temperature returns
// ErrUnsupportedConversion.
func (c Colour) ToHSV() (h, s, v float64, err error) {
	switch c.kind {
	case KindRGBWAF:
		r := float64(c.rgbwaf[0]) / 255
		g := float64(c.rgbwaf[1]) / 255
		b := float64(c.rgbwaf[2]) / 255

		h, s, v = rgbToHSV(r, g, b)

		return h, s, v, nil

	case KindXY:
		r, g, b := xyToRGB(float64(c.x)/math.MaxUint16, float64(c.y)/math.MaxUint16)
		h, s, v = rgbToHSV(r, g, b)

		return h, s, v, nil

	default:
		return 0, 0, 0, ErrUnsupportedConversion
	}
}

// FromHSV builds a colour of the given kind from hue [0, 360), saturation [0, 1]
// and value [0, 1]. Only KindRGBWAF and KindXY are supported.
func FromHSV(kind Kind, h, s, v float64) (Colour, error) {
	r, g, b := hsvToRGB(h, s, v)

	switch kind {
	case KindRGBWAF:
		return NewRGBWAF(int(math.Round(r*255)), int(math.Round(g*255)), int(math.Round(b*255)), 0, 0, 0)

	case KindXY:
		x, y := rgbToXY(r, g, b)

		return NewXY(int(math.Round(x*math.MaxUint16)), int(math.Round(y*math.MaxUint16)))

	default:
		return Colour{}, ErrUnsupportedConversion
	}
}

// rgbToHSV converts normalized [0, 1] RGB to HSV.
func rgbToHSV(r, g, b float64) (h, s, v float64) {
	maxC := math.Max(r, math.Max(g, b))
	minC := math.Min(r, math.Min(g, b))
	delta := maxC - minC

	v = maxC
	if maxC > 0 {
		s = delta / maxC
	}

	if delta == 0 {
		return 0, s, v
	}

	switch maxC {
	case r:
		h = 60 * math.Mod((g-b)/delta, 6)
	case g:
		h = 60 * ((b-r)/delta + 2)
	default:
		h = 60 * ((r-g)/delta + 4)
	}

	if h < 0 {
		h += 360
	}

	return h, s, v
}

// hsvToRGB converts HSV to normalized [0, 1] RGB.
func hsvToRGB(h, s, v float64) (r, g, b float64) {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}

	c := v * s
	x := c * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := v - c

	switch {
	case h < 60:
		r, g, b = c, x, 0
	case h < 120:
		r, g, b = x, c, 0
	case h < 180:
		r, g, b = 0, c, x
	case h < 240:
		r, g, b = 0, x, c
	case h < 300:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}

	return r + m, g + m, b + m
}

// xyToRGB converts CIE 1931 xy chromaticity (at full luminance) to gamma-corrected
// sRGB, scaled so the largest channel is 1.
func xyToRGB(x, y float64) (r, g, b float64) {
	if y == 0 {
		return 0, 0, 0
	}

	// xyY -> XYZ with Y = 1
	xx := x / y
	zz := (1 - x - y) / y

	// XYZ -> linear sRGB (D65)
	r = xx*3.2406 + 1.0*-1.5372 + zz*-0.4986
	g = xx*-0.9689 + 1.0*1.8758 + zz*0.0415
	b = xx*0.0557 + 1.0*-0.2040 + zz*1.0570

	maxC := math.Max(r, math.Max(g, b))
	if maxC > 1 {
		r /= maxC
		g /= maxC
		b /= maxC
	}

	return gamma(clamp01(r)), gamma(clamp01(g)), gamma(clamp01(b))
}

// rgbToXY converts gamma-corrected sRGB to CIE 1931 xy chromaticity.
func rgbToXY(r, g, b float64) (x, y float64) {
	r = linear(r)
	g = linear(g)
	b = linear(b)

	xx := r*0.4124 + g*0.3576 + b*0.1805
	yy := r*0.2126 + g*0.7152 + b*0.0722
	zz := r*0.0193 + g*0.1192 + b*0.9505

	sum := xx + yy + zz
	if sum == 0 {
		// achromatic black maps to the D65 white point
		return 0.3127, 0.3290
	}

	return xx / sum, yy / sum
}

func gamma(v float64) float64 {
	if v <= 0.0031308 {
		return 12.92 * v
	}

	return 1.055*math.Pow(v, 1/2.4) - 0.055
}

func linear(v float64) float64 {
	if v <= 0.04045 {
		return v / 12.92
	}

	return math.Pow((v+0.055)/1.055, 2.4)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
