package domain

import (
	"bytes"
	"encoding/json"
)

// ResetSignal is the leave notice. A guest sends its participant name to the
// host; a host sends a null name to every guest.
type ResetSignal struct {
	Disconnection *string `json:"disconnection"`
}

func GuestLeft(name string) ResetSignal { return ResetSignal{Disconnection: &name} }
func HostLeft() ResetSignal             { return ResetSignal{} }

// FromHost reports whether the notice was sent by a departing host.
func (s ResetSignal) FromHost() bool { return s.Disconnection == nil }

// Participant returns the departing guest's name, or "" for a host notice.
func (s ResetSignal) Participant() string {
	if s.Disconnection == nil {
		return ""
	}
	return *s.Disconnection
}

func (s ResetSignal) Encode() []byte {
	b, _ := json.Marshal(s)
	return b
}

// ParseResetSignal reports whether data is a leave notice. Any other JSON
// object, or a payload that is not JSON at all, yields ok=false.
func ParseResetSignal(data []byte) (ResetSignal, bool) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return ResetSignal{}, false
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return ResetSignal{}, false
	}
	raw, ok := probe["disconnection"]
	if !ok {
		return ResetSignal{}, false
	}
	var s ResetSignal
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return s, true
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return ResetSignal{}, false
	}
	s.Disconnection = &name
	return s, true
}
