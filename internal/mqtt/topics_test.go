package mqtt

import "testing"

func TestTopics(t *testing.T) {
	topics := Topics{Prefix: "fairyctl", Discovery: "homeassistant"}
	id := "f82441e63e39"

	tests := []struct {
		name, got, want string
	}{
		{"command", topics.Command(id), "fairyctl/f82441e63e39/set"},
		{"state", topics.State(id), "fairyctl/f82441e63e39/state"},
		{"availability", topics.Availability(id), "fairyctl/f82441e63e39/availability"},
		{"bridge status", topics.BridgeStatus(), "fairyctl/bridge/status"},
		{"discovery", topics.LightConfig(id), "homeassistant/light/f82441e63e39/config"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s topic = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestObjectID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"F8:24:41:E6:3E:39", "f82441e63e39"},
		{"48-53-52-01-d6-40", "48535201d640"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ObjectID(tt.in); got != tt.want {
			t.Errorf("ObjectID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
