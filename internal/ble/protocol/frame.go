// Package protocol encodes Hello Fairy lamp commands into the fixed-length
// frames written to the lamp's control characteristic.
//
// Every frame is STX | LEN | CMD | PARAM... | ETX. The encoders are pure and
// safe for concurrent use.
package protocol

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Framing bytes and command classes.
const (
	STX byte = 0xaa
	ETX byte = 0xbb

	CmdPower byte = 0x01
	CmdColor byte = 0x07
)

// Frame lengths for this protocol generation.
const (
	PowerFrameLen = 5
	ColorFrameLen = 11
)

// Scale of the saturation and value fields of a color frame.
const (
	MaxSaturation = 1000
	MaxValue      = 1000
)

// Frame is one encoded command, written once to the control characteristic.
type Frame []byte

// String returns the frame as lowercase hex, e.g. "aa020101bb".
func (f Frame) String() string {
	return hex.EncodeToString(f)
}

// ReferenceColorFrame is the brightness/color frame captured from the vendor
// app. It decodes as hue 20, saturation 1000, value 908.
var ReferenceColorFrame = Frame{0xaa, 0x03, 0x07, 0x01, 0x00, 0x14, 0x03, 0xe8, 0x03, 0x8c, 0xbb}

// ColorParams is the decoded payload of a brightness/color frame.
type ColorParams struct {
	Hue        uint16 // degrees, 0..359
	Saturation uint16 // 0..MaxSaturation
	Value      uint16 // 0..MaxValue, brightness*10
}

// EncodePower returns the 5-byte power frame.
//
//	on:  aa 02 01 01 bb
//	off: aa 02 01 00 bb
func EncodePower(on bool) Frame {
	var state byte
	if on {
		state = 0x01
	}
	return Frame{STX, 0x02, CmdPower, state, ETX}
}

// EncodeBrightnessColor returns the 11-byte brightness/color frame.
//
//	aa 03 07 01 | hue (2) | saturation (2) | value (2) | bb
//
// All parameters are big-endian. brightness is expected in 0..100 and is not
// clamped here.
func EncodeBrightnessColor(brightness int, red, green, blue uint8) Frame {
	hue, sat := hueSaturation(red, green, blue)
	f := make(Frame, ColorFrameLen)
	f[0] = STX
	f[1] = 0x03
	f[2] = CmdColor
	f[3] = 0x01
	binary.BigEndian.PutUint16(f[4:6], hue)
	binary.BigEndian.PutUint16(f[6:8], sat)
	binary.BigEndian.PutUint16(f[8:10], uint16(brightness*10))
	f[10] = ETX
	return f
}

// DecodeBrightnessColor parses the payload of a brightness/color frame.
func DecodeBrightnessColor(f Frame) (ColorParams, error) {
	if len(f) != ColorFrameLen {
		return ColorParams{}, fmt.Errorf("protocol: color frame must be %d bytes, got %d", ColorFrameLen, len(f))
	}
	if f[0] != STX || f[10] != ETX {
		return ColorParams{}, errors.New("protocol: color frame has bad framing bytes")
	}
	if f[2] != CmdColor {
		return ColorParams{}, fmt.Errorf("protocol: command class 0x%02x is not a color frame", f[2])
	}
	return ColorParams{
		Hue:        binary.BigEndian.Uint16(f[4:6]),
		Saturation: binary.BigEndian.Uint16(f[6:8]),
		Value:      binary.BigEndian.Uint16(f[8:10]),
	}, nil
}

// ParseHex decodes a hex string into a frame. Spaces, colons and dashes are
// ignored. The result must start with STX and end with ETX.
func ParseHex(s string) (Frame, error) {
	clean := strings.NewReplacer(" ", "", ":", "", "-", "").Replace(strings.TrimSpace(s))
	raw, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("protocol: decode hex: %w", err)
	}
	if len(raw) < 3 {
		return nil, fmt.Errorf("protocol: frame too short (%d bytes)", len(raw))
	}
	if raw[0] != STX || raw[len(raw)-1] != ETX {
		return nil, fmt.Errorf("protocol: frame must start with %02x and end with %02x", STX, ETX)
	}
	return Frame(raw), nil
}

// hueSaturation converts an RGB triple to hue in degrees and saturation
// scaled to MaxSaturation.
func hueSaturation(red, green, blue uint8) (uint16, uint16) {
	r, g, b := float64(red), float64(green), float64(blue)
	hi := math.Max(r, math.Max(g, b))
	lo := math.Min(r, math.Min(g, b))
	delta := hi - lo
	if hi == 0 || delta == 0 {
		return 0, 0
	}

	var h float64
	switch hi {
	case r:
		h = math.Mod((g-b)/delta, 6)
	case g:
		h = (b-r)/delta + 2
	default:
		h = (r-g)/delta + 4
	}
	h = math.Round(h * 60)
	if h < 0 {
		h += 360
	}
	if h >= 360 {
		h -= 360
	}

	s := math.Round(delta / hi * MaxSaturation)
	return uint16(h), uint16(s)
}
