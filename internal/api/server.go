package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iyuvalk/switcher-breeze-rest/internal/infrastructure/config"
	"github.com/iyuvalk/switcher-breeze-rest/internal/infrastructure/influxdb"
	"github.com/iyuvalk/switcher-breeze-rest/internal/infrastructure/logging"
	"github.com/iyuvalk/switcher-breeze-rest/internal/infrastructure/mqtt"
	"github.com/iyuvalk/switcher-breeze-rest/internal/journal"
	"github.com/iyuvalk/switcher-breeze-rest/internal/switcher"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// defaultDiscoveryWindow is how long the scan endpoints listen when
// Deps.DiscoveryWindow is unset.
const defaultDiscoveryWindow = 10 * time.Second

// EventPublisher forwards device.command events to the message bus.
// *mqtt.Client satisfies it.
type EventPublisher interface {
	PublishJSON(topic string, v any) error
}

// HealthChecker is a dependency reported on /health.
// *database.DB, *mqtt.Client and *influxdb.Client satisfy it.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger

	// Adapter performs every device call. Required.
	Adapter switcher.Adapter

	// Journal records device calls. Optional; history is 404 without it.
	Journal *journal.Writer

	// Telemetry writes device readings to InfluxDB. Optional.
	Telemetry *influxdb.Client

	// Events publishes device.command events. Optional.
	Events EventPublisher
	Topics mqtt.Topics

	// Metrics is created when nil.
	Metrics *Metrics

	// Checks are reported on /health by name.
	Checks map[string]HealthChecker

	DiscoveryWindow time.Duration
	BreezeHost      string
	Version         string
}

// Server is the HTTP facade in front of the device adapter.
//
// It manages the HTTP listener, routes, middleware and the WebSocket hub.
// It keeps no device state between requests.
type Server struct {
	cfg             config.APIConfig
	wsCfg           config.WebSocketConfig
	secCfg          config.SecurityConfig
	logger          *logging.Logger
	adapter         switcher.Adapter
	journal         *journal.Writer
	telemetry       *influxdb.Client
	events          EventPublisher
	topics          mqtt.Topics
	metrics         *Metrics
	checks          map[string]HealthChecker
	discoveryWindow time.Duration
	breezeHost      string
	version         string
	hub             *Hub
	upgrader        *websocket.Upgrader
	router          http.Handler
	server          *http.Server
	listener        net.Listener
	cancel          context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called, but Handler() is
// usable immediately.
//
// Parameters:
//   - deps: Required dependencies (logger, adapter) plus optional collaborators
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Adapter == nil {
		return nil, fmt.Errorf("device adapter is required")
	}

	s := &Server{
		cfg:             deps.Config,
		wsCfg:           deps.WS,
		secCfg:          deps.Security,
		logger:          deps.Logger,
		adapter:         deps.Adapter,
		journal:         deps.Journal,
		telemetry:       deps.Telemetry,
		events:          deps.Events,
		topics:          deps.Topics,
		metrics:         deps.Metrics,
		checks:          deps.Checks,
		discoveryWindow: deps.DiscoveryWindow,
		breezeHost:      deps.BreezeHost,
		version:         deps.Version,
	}

	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	if s.journal != nil {
		s.metrics.watchJournal(s.journal)
	}
	if s.telemetry != nil {
		s.metrics.watchTelemetry(s.telemetry)
	}
	if s.discoveryWindow <= 0 {
		s.discoveryWindow = defaultDiscoveryWindow
	}
	if s.topics.Prefix == "" {
		s.topics = mqtt.NewTopics(mqtt.DefaultTopicPrefix)
	}

	s.hub = NewHub(s.wsCfg, s.logger)
	s.upgrader = s.newUpgrader()
	s.router = s.buildRouter()

	return s, nil
}

// Handler returns the routed HTTP handler with the full middleware chain.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listener and serves HTTP in a background goroutine.
// It returns once the port is bound so callers see bind errors directly.
//
// Parameters:
//   - ctx: Parent context for the WebSocket hub
//
// Returns:
//   - error: If the listener cannot be bound (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("binding %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	go func() {
		var serveErr error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", ln.Addr().String(),
				"cert", s.cfg.TLS.CertFile,
			)
			serveErr = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			serveErr = s.server.Serve(ln)
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", serveErr)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Disconnect WebSocket clients first; Shutdown does not wait for hijacked connections
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
