package bridge

import (
	"time"

	"github.com/chaz8081/fairyctl/internal/lamp"
	"github.com/chaz8081/fairyctl/internal/mqtt"
)

// RGB is the color object used in command and state payloads.
type RGB struct {
	R int `json:"r"`
	G int `json:"g"`
	B int `json:"b"`
}

// Command is a Home Assistant JSON-schema light command.
type Command struct {
	State      string `json:"state,omitempty"`      // "ON" or "OFF"
	Brightness *int   `json:"brightness,omitempty"` // 0..255
	Color      *RGB   `json:"color,omitempty"`
}

// State is the retained state payload. The lamp cannot report its own
// state, so Verified is always false.
type State struct {
	State       string     `json:"state"`
	Brightness  int        `json:"brightness"`
	ColorMode   string     `json:"color_mode"`
	Color       RGB        `json:"color"`
	Verified    bool       `json:"verified"`
	CommandedAt *time.Time `json:"commanded_at,omitempty"`
}

type availability struct {
	Topic string `json:"topic"`
}

type device struct {
	Identifiers  []string    `json:"identifiers"`
	Connections  [][2]string `json:"connections"`
	Name         string      `json:"name"`
	Manufacturer string      `json:"manufacturer"`
	Model        string      `json:"model"`
}

// discovery is the Home Assistant MQTT discovery config for one light.
type discovery struct {
	Name                string         `json:"name"`
	UniqueID            string         `json:"unique_id"`
	Schema              string         `json:"schema"`
	CommandTopic        string         `json:"command_topic"`
	StateTopic          string         `json:"state_topic"`
	Availability        []availability `json:"availability"`
	AvailabilityMode    string         `json:"availability_mode"`
	Brightness          bool           `json:"brightness"`
	BrightnessScale     int            `json:"brightness_scale"`
	SupportedColorModes []string       `json:"supported_color_modes"`
	Device              device         `json:"device"`
}

// ToLampBrightness maps 0..255 to the lamp's 0..100, rounding.
func ToLampBrightness(v int) int {
	v = min(255, max(0, v))
	return (v*100 + 127) / 255
}

// FromLampBrightness maps the lamp's 0..100 to 0..255, rounding.
func FromLampBrightness(v int) int {
	v = lamp.ClampBrightness(v)
	return (v*255 + 50) / 100
}

func newState(s lamp.Snapshot) State {
	st := State{
		State:      "OFF",
		Brightness: FromLampBrightness(s.Brightness),
		ColorMode:  "rgb",
		Color:      RGB{R: int(s.Color.R), G: int(s.Color.G), B: int(s.Color.B)},
		Verified:   s.Verified,
	}
	if s.On {
		st.State = "ON"
	}
	if !s.CommandedAt.IsZero() {
		at := s.CommandedAt.UTC()
		st.CommandedAt = &at
	}
	return st
}

func newDiscovery(topics mqtt.Topics, id, name, address string) discovery {
	return discovery{
		Name:         name,
		UniqueID:     "fairyctl_" + id,
		Schema:       "json",
		CommandTopic: topics.Command(id),
		StateTopic:   topics.State(id),
		Availability: []availability{
			{Topic: topics.BridgeStatus()},
			{Topic: topics.Availability(id)},
		},
		AvailabilityMode:    "all",
		Brightness:          true,
		BrightnessScale:     255,
		SupportedColorModes: []string{"rgb"},
		Device: device{
			Identifiers:  []string{"fairyctl_" + id},
			Connections:  [][2]string{{"mac", address}},
			Name:         name,
			Manufacturer: "HelloFairy",
			Model:        "HelloFairy Model",
		},
	}
}
