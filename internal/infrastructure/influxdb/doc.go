// Package influxdb records switcher telemetry in InfluxDB.
//
// Two measurements are written:
//   - switcher_device: state, temperature and remaining timer of a device
//     every time a request reads or changes it
//   - switcher_command: one point per device call with its outcome and duration
//
// Telemetry is a side channel of the facade. Points are batched in the
// background, a batch InfluxDB rejects is logged and counted, and neither
// ever changes the response to a device request. A nil *Client is valid
// and drops every point, so callers don't check whether InfluxDB is enabled.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, log)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteDeviceStatus(status)
package influxdb
