package mqtt

import (
	"fmt"
	"strings"
)

// Availability payloads.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// Topics builds the topics used by the bridge.
//
//	topics := mqtt.Topics{Prefix: "fairyctl", Discovery: "homeassistant"}
//	topics.State("f82441e63e39") // "fairyctl/f82441e63e39/state"
type Topics struct {
	Prefix    string
	Discovery string
}

// Command returns the topic lamp commands arrive on.
func (t Topics) Command(objectID string) string {
	return fmt.Sprintf("%s/%s/set", t.Prefix, objectID)
}

// State returns the retained state topic for a lamp.
func (t Topics) State(objectID string) string {
	return fmt.Sprintf("%s/%s/state", t.Prefix, objectID)
}

// Availability returns the retained availability topic for a lamp.
func (t Topics) Availability(objectID string) string {
	return fmt.Sprintf("%s/%s/availability", t.Prefix, objectID)
}

// BridgeStatus returns the bridge's own online/offline topic. It carries the
// Last Will.
func (t Topics) BridgeStatus() string {
	return t.Prefix + "/bridge/status"
}

// LightConfig returns the Home Assistant discovery topic for a light.
func (t Topics) LightConfig(objectID string) string {
	return fmt.Sprintf("%s/light/%s/config", t.Discovery, objectID)
}

// ObjectID turns a BLE address into a topic-safe identifier:
// "F8:24:41:E6:3E:39" becomes "f82441e63e39".
func ObjectID(address string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(address) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
