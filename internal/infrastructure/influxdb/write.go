package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/iyuvalk/switcher-breeze-rest/internal/switcher"
)

// Measurement names.
const (
	MeasurementDevice  = "switcher_device"
	MeasurementCommand = "switcher_command"
)

// WriteDeviceStatus records a device reading.
//
// The write is non-blocking; data is batched and sent asynchronously.
// State is written as 1 (on) or 0 (off); unknown states write no state field.
//
// Parameters:
//   - status: Reading returned by the adapter (nil is ignored)
func (c *Client) WriteDeviceStatus(status *switcher.DeviceStatus) {
	if !c.IsConnected() || status == nil {
		return
	}

	tags := map[string]string{
		"device_id": status.DeviceID,
	}
	if status.Type != "" {
		tags["type"] = string(status.Type)
	}

	fields := make(map[string]interface{}, 3)
	switch status.State {
	case switcher.StateOn:
		fields["state"] = 1
	case switcher.StateOff:
		fields["state"] = 0
	}
	if status.Temperature != nil {
		fields["temperature"] = *status.Temperature
	}
	if status.RemainingSeconds != nil {
		fields["remaining_seconds"] = *status.RemainingSeconds
	}
	if status.Thermostat != nil {
		fields["target_temperature"] = status.Thermostat.TargetTemperature
	}
	if len(fields) == 0 {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(MeasurementDevice, tags, fields, time.Now()))
}

// WriteCommand records one device call.
//
// Parameters:
//   - deviceID: Normalised device id
//   - action: Action attempted
//   - outcome: success, invalid or failed
//   - elapsed: Time spent waiting for the adapter
func (c *Client) WriteCommand(deviceID string, action switcher.Action, outcome string, elapsed time.Duration) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		MeasurementCommand,
		map[string]string{
			"device_id": deviceID,
			"action":    string(action),
			"outcome":   outcome,
		},
		map[string]interface{}{
			"duration_ms": elapsed.Milliseconds(),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}
