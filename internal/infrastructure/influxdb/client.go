package influxdb

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/iyuvalk/switcher-breeze-rest/internal/infrastructure/config"
	"github.com/iyuvalk/switcher-breeze-rest/internal/infrastructure/logging"
)

const (
	pingTimeout = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// Client sends device telemetry to InfluxDB.
//
// Telemetry never holds up or fails a device request. Points are batched
// and written in the background; a failed batch is logged and counted by
// FailedWrites. A nil or closed Client drops every point.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   *logging.Logger

	closed atomic.Bool
	failed atomic.Int64
	done   chan struct{}
}

// Connect pings the server and starts the batching writer.
//
// Parameters:
//   - ctx: Bounds the initial ping
//   - cfg: influxdb section of the config
//   - logger: Receives failed batch reports
//
// Returns:
//   - *Client: Ready client
//   - error: ErrTelemetryDisabled or ErrTelemetryUnreachable
func Connect(ctx context.Context, cfg config.InfluxDBConfig, logger *logging.Logger) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrTelemetryDisabled
	}
	if logger == nil {
		logger = logging.Default()
	}

	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(defaultBatchSize)).
		SetFlushInterval(uint(defaultFlushInterval.Milliseconds()))
	if cfg.BatchSize > 0 {
		opts.SetBatchSize(uint(cfg.BatchSize)) //nolint:gosec // checked positive
	}
	if cfg.FlushInterval > 0 {
		opts.SetFlushInterval(uint(cfg.FlushInterval) * 1000) //nolint:gosec // seconds to ms, checked positive
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	if err := ping(ctx, client); err != nil {
		client.Close()
		return nil, err
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		logger:   logger.With("component", "telemetry", "bucket", cfg.Bucket),
		done:     make(chan struct{}),
	}
	go c.watchErrors(c.writeAPI.Errors())

	return c, nil
}

func ping(ctx context.Context, client influxdb2.Client) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTelemetryUnreachable, err)
	}
	if !healthy {
		return fmt.Errorf("%w: server reports unhealthy", ErrTelemetryUnreachable)
	}
	return nil
}

// watchErrors drains failed batch reports until the write API closes.
func (c *Client) watchErrors(errs <-chan error) {
	defer close(c.done)
	for err := range errs {
		n := c.failed.Add(1)
		c.logger.Warn("telemetry batch not written", "error", err, "failed_batches", n)
	}
}

// FailedWrites returns how many batches InfluxDB rejected or never received.
func (c *Client) FailedWrites() int64 {
	if c == nil {
		return 0
	}
	return c.failed.Load()
}

// Close flushes buffered points and stops the writer. Safe on nil and
// more than once.
func (c *Client) Close() error {
	if c == nil || !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	// Client.Close flushes and closes the write API, which ends watchErrors
	c.client.Close()
	<-c.done
	return nil
}

// HealthCheck pings the server. A failure degrades /health only.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrTelemetryClosed
	}
	return ping(ctx, c.client)
}

// IsConnected reports whether the client accepts points.
func (c *Client) IsConnected() bool {
	return c != nil && !c.closed.Load()
}

// Flush blocks until buffered points are sent. No-op on nil or closed.
func (c *Client) Flush() {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.Flush()
}
