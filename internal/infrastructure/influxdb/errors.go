package influxdb

import "errors"

var (
	// ErrTelemetryDisabled is returned by Connect when influxdb.enabled is false.
	ErrTelemetryDisabled = errors.New("influxdb: telemetry disabled")

	// ErrTelemetryUnreachable is returned when the server does not answer a
	// ping or reports itself unhealthy. At startup it is fatal; on /health it
	// only marks the service degraded, device requests are unaffected.
	ErrTelemetryUnreachable = errors.New("influxdb: telemetry server unreachable")

	// ErrTelemetryClosed is returned by HealthCheck after Close.
	ErrTelemetryClosed = errors.New("influxdb: telemetry client closed")
)
