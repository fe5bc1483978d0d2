package zwave

import (
	"encoding/json"
	"fmt"
	"time"
)

// MQTT payloads exchanged with the Z-Wave gateway.

// Driver events published on {prefix}/driver.
const (
	DriverReady        = "ready"
	DriverFailed       = "failed"
	DriverScanComplete = "scan_complete"
)

// Node events published on {prefix}/node/{id}/info.
const (
	NodeAdded   = "added"
	NodeReady   = "ready"
	NodeRemoved = "removed"
)

// DriverMessage reports the state of the gateway's Z-Wave driver.
type DriverMessage struct {
	Event  string `json:"event"`
	HomeID string `json:"home_id,omitempty"`
	Error  string `json:"error,omitempty"`
}

// InfoMessage reports a node being added, becoming ready or being removed.
// The descriptive fields are only set on NodeReady.
type InfoMessage struct {
	Event          string `json:"event"`
	Manufacturer   string `json:"manufacturer,omitempty"`
	ManufacturerID string `json:"manufacturer_id,omitempty"`
	Product        string `json:"product,omitempty"`
	ProductType    string `json:"product_type,omitempty"`
	ProductID      string `json:"product_id,omitempty"`
	Type           string `json:"type,omitempty"`
	Name           string `json:"name,omitempty"`
	Location       string `json:"location,omitempty"`
}

// ValueMessage is the retained state of one value on
// {prefix}/node/{id}/value/{cc}/{index}. An empty payload means the value
// was removed.
type ValueMessage struct {
	Label    string `json:"label"`
	Value    any    `json:"value"`
	Units    string `json:"units,omitempty"`
	ReadOnly bool   `json:"read_only,omitempty"`
}

// SetMessage asks the gateway to write a value.
type SetMessage struct {
	ID        string    `json:"id"`
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// PollMessage turns polling of a command class on or off.
type PollMessage struct {
	Enabled bool `json:"enabled"`
}

func parseDriver(payload []byte) (DriverMessage, error) {
	var msg DriverMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, fmt.Errorf("%w: driver: %w", ErrInvalidPayload, err)
	}
	switch msg.Event {
	case DriverReady, DriverFailed, DriverScanComplete:
		return msg, nil
	default:
		return msg, fmt.Errorf("%w: unknown driver event %q", ErrInvalidPayload, msg.Event)
	}
}

func parseInfo(payload []byte) (InfoMessage, error) {
	var msg InfoMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, fmt.Errorf("%w: node info: %w", ErrInvalidPayload, err)
	}
	switch msg.Event {
	case NodeAdded, NodeReady, NodeRemoved:
		return msg, nil
	default:
		return msg, fmt.Errorf("%w: unknown node event %q", ErrInvalidPayload, msg.Event)
	}
}

// parseValue returns ok=false for an empty (removal) payload.
func parseValue(payload []byte) (msg ValueMessage, ok bool, err error) {
	if len(payload) == 0 {
		return msg, false, nil
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, false, fmt.Errorf("%w: value: %w", ErrInvalidPayload, err)
	}
	if msg.Label == "" {
		return msg, false, fmt.Errorf("%w: value without label", ErrInvalidPayload)
	}
	return msg, true, nil
}

// Command classes polled by default: binary and multilevel switches.
const (
	CommandClassSwitchBinary     = 0x25
	CommandClassSwitchMultilevel = 0x26
)

var commandClassNames = map[int]string{
	0x20: "Basic",
	0x25: "SwitchBinary",
	0x26: "SwitchMultilevel",
	0x27: "SwitchAll",
	0x30: "SensorBinary",
	0x31: "SensorMultilevel",
	0x32: "Meter",
	0x43: "ThermostatSetpoint",
	0x70: "Configuration",
	0x71: "Alarm",
	0x72: "ManufacturerSpecific",
	0x80: "Battery",
	0x84: "WakeUp",
	0x85: "Association",
	0x86: "Version",
}

// CommandClassName returns a readable name for a command class id.
func CommandClassName(cc int) string {
	if name, ok := commandClassNames[cc]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", cc)
}
