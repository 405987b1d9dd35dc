package lamp

import (
	"fmt"
	"time"
)

// State is the connection state of a lamp.
type State int

const (
	// Disconnected: no radio connection.
	Disconnected State = iota
	// Unpaired: radio connection up, pairing signal not yet sent.
	Unpaired
	// Pairing: pairing signal sent, waiting out the pairing delay.
	Pairing
	// Paired: commands can be written.
	Paired
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Unpaired:
		return "unpaired"
	case Pairing:
		return "pairing"
	case Paired:
		return "paired"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Color is an RGB triple.
type Color struct {
	R, G, B uint8
}

func (c Color) String() string {
	return fmt.Sprintf("(%d,%d,%d)", c.R, c.G, c.B)
}

// Snapshot is a point-in-time copy of a lamp's state.
//
// On, Brightness and Color are what was last commanded. The protocol has no
// read-back, so Verified is always false and CommandedAt is the time of the
// last successful write that changed them (zero if none).
type Snapshot struct {
	Address     string
	Name        string
	State       State
	Available   bool
	On          bool
	Brightness  int
	Color       Color
	Verified    bool
	CommandedAt time.Time
}

// ClampBrightness limits b to 0..100.
func ClampBrightness(b int) int {
	return min(100, max(0, b))
}

// ClampColor builds a Color, limiting each channel to 0..255.
func ClampColor(r, g, b int) Color {
	return Color{R: clampByte(r), G: clampByte(g), B: clampByte(b)}
}

func clampByte(v int) uint8 {
	return uint8(min(255, max(0, v)))
}
