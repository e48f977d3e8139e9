package switcher

import (
	"net"
	"strings"
)

// DeviceRef names a physical switch: either a normalised device id
// ("a1b2c3") or an IPv4 address. Build one with ParseDeviceRef.
type DeviceRef string

// IsAddress reports whether the reference is an IP address rather than an id.
func (r DeviceRef) IsAddress() bool {
	return net.ParseIP(string(r)) != nil
}

// String returns the normalised reference.
func (r DeviceRef) String() string {
	return string(r)
}

// Action is an operation requested on a device.
type Action string

// Supported actions.
const (
	ActionOn          Action = "on"
	ActionOff         Action = "off"
	ActionStatus      Action = "status"
	ActionTemperature Action = "temperature"
	ActionBreeze      Action = "breeze"
)

// DeviceState is the power state reported by a device.
type DeviceState string

// Device states.
const (
	StateOn      DeviceState = "on"
	StateOff     DeviceState = "off"
	StateUnknown DeviceState = "unknown"
)

// ParseDeviceState maps a reported state to a DeviceState.
// Anything other than on/off (case-insensitive) is StateUnknown.
func ParseDeviceState(s string) DeviceState {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on":
		return StateOn
	case "off":
		return StateOff
	default:
		return StateUnknown
	}
}

// DeviceType is the product family of a device.
type DeviceType string

// Known device families.
const (
	TypeWaterHeater DeviceType = "water_heater"
	TypePowerPlug   DeviceType = "power_plug"
	TypeBreeze      DeviceType = "breeze"
	TypeRunner      DeviceType = "runner"
)

// ThermostatMode is the operating mode of a Breeze air conditioner.
type ThermostatMode string

// Breeze modes.
const (
	ModeAuto ThermostatMode = "auto"
	ModeDry  ThermostatMode = "dry"
	ModeFan  ThermostatMode = "fan"
	ModeCool ThermostatMode = "cool"
	ModeHeat ThermostatMode = "heat"
)

// FanLevel is the fan speed of a Breeze air conditioner.
type FanLevel string

// Breeze fan levels.
const (
	FanLow    FanLevel = "low"
	FanMedium FanLevel = "medium"
	FanHigh   FanLevel = "high"
	FanAuto   FanLevel = "auto"
)

// Swing is the louvre swing setting.
type Swing string

// Swing settings.
const (
	SwingOn  Swing = "on"
	SwingOff Swing = "off"
)

// Params carries the optional parameters of a Command.
type Params struct {
	// TimerMinutes switches the device off again after this many minutes.
	// Zero means no timer. Only valid with ActionOn.
	TimerMinutes int `json:"timer_minutes,omitempty"`
}

// Command is the validated, per-request representation of a client's
// requested device action. It is discarded once the response is written.
type Command struct {
	Device DeviceRef `json:"device"`
	Action Action    `json:"action"`
	Params Params    `json:"params"`
}

// BreezeCommand drives a Breeze air conditioner through one of its IR remotes.
type BreezeCommand struct {
	Host        string         `json:"host"`
	DeviceID    DeviceRef      `json:"device_id"`
	DeviceKey   string         `json:"-"`
	RemoteID    string         `json:"remote_id"`
	State       DeviceState    `json:"state"`
	Mode        ThermostatMode `json:"mode"`
	Temperature int            `json:"temperature"`
	FanLevel    FanLevel       `json:"fan_level"`
	Swing       Swing          `json:"swing"`
}

// Session is what an Adapter hands back from Locate: enough to address the
// device for the rest of one request.
type Session struct {
	DeviceID string     `json:"device_id"`
	Host     string     `json:"host,omitempty"`
	Type     DeviceType `json:"type,omitempty"`
	Name     string     `json:"name,omitempty"`
	Key      string     `json:"-"`
}

// ThermostatStatus is the Breeze part of a DeviceStatus.
type ThermostatStatus struct {
	Mode              ThermostatMode `json:"mode"`
	TargetTemperature int            `json:"target_temperature"`
	FanLevel          FanLevel       `json:"fan_level"`
	Swing             Swing          `json:"swing"`
}

// DeviceStatus is a point-in-time reading of one device.
type DeviceStatus struct {
	DeviceID         string            `json:"device_id"`
	Name             string            `json:"name,omitempty"`
	Type             DeviceType        `json:"type,omitempty"`
	Host             string            `json:"host,omitempty"`
	State            DeviceState       `json:"state"`
	Temperature      *float64          `json:"temperature,omitempty"`
	RemainingSeconds *int              `json:"remaining_seconds,omitempty"`
	Thermostat       *ThermostatStatus `json:"thermostat,omitempty"`
}

// Result is the outcome of Adapter.Send.
type Result struct {
	Action Action        `json:"action"`
	State  DeviceState   `json:"state"`
	Status *DeviceStatus `json:"status,omitempty"`
}
