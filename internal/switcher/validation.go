package switcher

import (
	"fmt"
	"math"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Timer bounds for ActionOn, in minutes. Switcher timers must end within a day.
const (
	minTimerMinutes = 1
	maxTimerMinutes = 1439
)

// Breeze remote temperature range in degrees Celsius.
const (
	minBreezeTemperature = 16
	maxBreezeTemperature = 30
)

// Defaults the Breeze remote still needs when switching off.
const (
	breezeOffMode        = ModeCool
	breezeOffFan         = FanMedium
	breezeOffTemperature = 23
)

var (
	deviceIDPattern      = regexp.MustCompile(`^[0-9a-fA-F]{6}$`)
	deviceIDColonPattern = regexp.MustCompile(`^[0-9a-fA-F]{2}(:[0-9a-fA-F]{2}){2}$`)
	deviceKeyPattern     = regexp.MustCompile(`^[0-9a-fA-F]{2}$`)
)

// breezeRequiredKeys are checked in this order, matching the error message.
var breezeRequiredKeys = []string{"device_id", "device_key", "remote_id", "state"}

// breezeOnKeys are additionally required when state is ON.
var breezeOnKeys = []string{"mode", "temp", "fan"}

// ParseDeviceRef validates and normalises a device reference.
//
// Accepted forms: "a1b2c3", "A1:B2:C3" and IPv4 addresses. Ids are returned
// lower case without separators.
func ParseDeviceRef(raw string) (DeviceRef, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", invalid(CodeMissingDeviceID, "device", "device id is required")
	}

	if ip := net.ParseIP(raw); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return DeviceRef(v4.String()), nil
		}
		return "", invalid(CodeInvalidDeviceID, "device", "only IPv4 device addresses are supported")
	}

	switch {
	case deviceIDPattern.MatchString(raw):
		return DeviceRef(strings.ToLower(raw)), nil
	case deviceIDColonPattern.MatchString(raw):
		return DeviceRef(strings.ToLower(strings.ReplaceAll(raw, ":", ""))), nil
	default:
		return "", invalid(CodeInvalidDeviceID, "device", "%q is not a device id or IPv4 address", raw)
	}
}

// ParseAction validates a device action taken from the request path.
// "turn_on" and "turn_off" are accepted as aliases.
func ParseAction(raw string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "on", "turn_on":
		return ActionOn, nil
	case "off", "turn_off":
		return ActionOff, nil
	default:
		return "", invalid(CodeUnknownAction, "action", "unknown action %q (want on or off)", raw)
	}
}

// ParseCommand builds a control Command from the path device, path action and
// query string. Only the "timer" query parameter is recognised.
func ParseCommand(device, action string, query url.Values) (Command, error) {
	ref, err := ParseDeviceRef(device)
	if err != nil {
		return Command{}, err
	}

	act, err := ParseAction(action)
	if err != nil {
		return Command{}, err
	}

	cmd := Command{Device: ref, Action: act}

	if raw := query.Get("timer"); raw != "" {
		if act != ActionOn {
			return Command{}, invalid(CodeInvalidParameter, "timer", "timer is only valid with the on action")
		}
		minutes, convErr := strconv.Atoi(raw)
		if convErr != nil {
			return Command{}, invalid(CodeInvalidParameter, "timer", "timer must be a whole number of minutes")
		}
		if minutes < minTimerMinutes || minutes > maxTimerMinutes {
			return Command{}, invalid(CodeInvalidParameter, "timer", "timer must be between %d and %d minutes", minTimerMinutes, maxTimerMinutes)
		}
		cmd.Params.TimerMinutes = minutes
	}

	return cmd, nil
}

// ParseStatusCommand builds the Command for a status read of one device.
func ParseStatusCommand(device string) (Command, error) {
	ref, err := ParseDeviceRef(device)
	if err != nil {
		return Command{}, err
	}
	return Command{Device: ref, Action: ActionStatus}, nil
}

// ParseBreezeCommand validates a decoded JSON body for breeze control.
//
// Rules:
//   - device_id, device_key, remote_id and state are required
//   - state is ON or OFF (case-insensitive)
//   - ON additionally requires mode, temp and fan
//   - OFF fills mode=cool, fan=medium, temp=23 as the remote still needs them
//   - ip is optional and defaults to defaultHost
func ParseBreezeCommand(body map[string]any, defaultHost string) (BreezeCommand, error) {
	if body == nil {
		return BreezeCommand{}, invalid(CodeInvalidBody, "", "request body must be a JSON object")
	}

	for _, key := range breezeRequiredKeys {
		if _, ok := body[key]; !ok {
			return BreezeCommand{}, invalid(CodeMissingParameter, key, "missing required keys: %s", strings.Join(breezeRequiredKeys, ", "))
		}
	}

	var cmd BreezeCommand

	rawID, err := stringField(body, "device_id")
	if err != nil {
		return BreezeCommand{}, err
	}
	if cmd.DeviceID, err = ParseDeviceRef(rawID); err != nil {
		return BreezeCommand{}, err
	}
	if cmd.DeviceID.IsAddress() {
		return BreezeCommand{}, invalid(CodeInvalidDeviceID, "device_id", "device_id must be a device id, use ip for the address")
	}

	if cmd.DeviceKey, err = stringField(body, "device_key"); err != nil {
		return BreezeCommand{}, err
	}
	if !deviceKeyPattern.MatchString(cmd.DeviceKey) {
		return BreezeCommand{}, invalid(CodeInvalidParameter, "device_key", "device_key must be two hex digits")
	}
	cmd.DeviceKey = strings.ToLower(cmd.DeviceKey)

	if cmd.RemoteID, err = stringField(body, "remote_id"); err != nil {
		return BreezeCommand{}, err
	}
	if strings.TrimSpace(cmd.RemoteID) == "" {
		return BreezeCommand{}, invalid(CodeInvalidParameter, "remote_id", "remote_id must not be empty")
	}

	rawState, err := stringField(body, "state")
	if err != nil {
		return BreezeCommand{}, err
	}
	switch strings.ToUpper(rawState) {
	case "ON":
		cmd.State = StateOn
	case "OFF":
		cmd.State = StateOff
	default:
		return BreezeCommand{}, invalid(CodeInvalidParameter, "state", "invalid state, must be 'ON' or 'OFF'")
	}

	cmd.Host = defaultHost
	if _, ok := body["ip"]; ok {
		host, hostErr := stringField(body, "ip")
		if hostErr != nil {
			return BreezeCommand{}, hostErr
		}
		if host = strings.TrimSpace(host); host != "" {
			cmd.Host = host
		}
	}

	cmd.Swing = SwingOn

	if cmd.State == StateOff {
		cmd.Mode = breezeOffMode
		cmd.FanLevel = breezeOffFan
		cmd.Temperature = breezeOffTemperature
		return cmd, nil
	}

	for _, key := range breezeOnKeys {
		if _, ok := body[key]; !ok {
			return BreezeCommand{}, invalid(CodeMissingParameter, key, "missing required key for ON state: %s", key)
		}
	}

	if cmd.Mode, err = parseMode(body); err != nil {
		return BreezeCommand{}, err
	}
	if cmd.FanLevel, err = parseFan(body); err != nil {
		return BreezeCommand{}, err
	}
	if cmd.Temperature, err = parseTemperature(body["temp"]); err != nil {
		return BreezeCommand{}, err
	}

	return cmd, nil
}

func stringField(body map[string]any, key string) (string, error) {
	s, ok := body[key].(string)
	if !ok {
		return "", invalid(CodeInvalidParameter, key, "%s must be a string", key)
	}
	return s, nil
}

func parseMode(body map[string]any) (ThermostatMode, error) {
	raw, err := stringField(body, "mode")
	if err != nil {
		return "", err
	}
	switch mode := ThermostatMode(strings.ToLower(raw)); mode {
	case ModeAuto, ModeDry, ModeFan, ModeCool, ModeHeat:
		return mode, nil
	default:
		return "", invalid(CodeInvalidParameter, "mode", "invalid mode %q (want AUTO, DRY, FAN, COOL or HEAT)", raw)
	}
}

func parseFan(body map[string]any) (FanLevel, error) {
	raw, err := stringField(body, "fan")
	if err != nil {
		return "", err
	}
	switch fan := FanLevel(strings.ToLower(raw)); fan {
	case FanLow, FanMedium, FanHigh, FanAuto:
		return fan, nil
	default:
		return "", invalid(CodeInvalidParameter, "fan", "invalid fan %q (want LOW, MEDIUM, HIGH or AUTO)", raw)
	}
}

// parseTemperature accepts a JSON number or a numeric string holding a whole degree.
func parseTemperature(v any) (int, error) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, invalid(CodeInvalidParameter, "temp", "temp must be a number")
		}
		f = parsed
	default:
		return 0, invalid(CodeInvalidParameter, "temp", "temp must be a number")
	}

	if f != math.Trunc(f) {
		return 0, invalid(CodeInvalidParameter, "temp", "temp must be a whole number of degrees")
	}
	temp := int(f)
	if temp < minBreezeTemperature || temp > maxBreezeTemperature {
		return 0, invalid(CodeInvalidParameter, "temp", "temp must be between %d and %d", minBreezeTemperature, maxBreezeTemperature)
	}
	return temp, nil
}

// String renders a command for logs.
func (c Command) String() string {
	if c.Params.TimerMinutes > 0 {
		return fmt.Sprintf("%s %s timer=%dm", c.Action, c.Device, c.Params.TimerMinutes)
	}
	return fmt.Sprintf("%s %s", c.Action, c.Device)
}
