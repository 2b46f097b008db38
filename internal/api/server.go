// Package api provides the HTTP surface of the bridge: Tesla-Fleet-shaped
// endpoints for evcc and TeslaMate-style consumers, direct entity routes,
// a WebSocket state feed, health probes, and Prometheus metrics.
//
// The server follows the same lifecycle pattern as the other components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/evbridge/tesla-ble-bridge/internal/entity"
	"github.com/evbridge/tesla-ble-bridge/internal/espnative"
	"github.com/evbridge/tesla-ble-bridge/internal/infrastructure/config"
	"github.com/evbridge/tesla-ble-bridge/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Vehicle is the per-vehicle surface the API serves from.
// *vehicle.Session satisfies it through the adapter in cmd/teslabridge.
type Vehicle interface {
	ID() string
	Status() string
	Ready() bool
	Entities() []entity.Entity
	Entity(objectID string) (entity.Entity, error)
	DeviceInfo() espnative.DeviceInfo
	ExecuteCommand(ctx context.Context, command string, body map[string]any) error
}

// Fleet resolves VINs to vehicles.
type Fleet interface {
	Resolve(vin string) (Vehicle, error)
	Vehicles() []Vehicle
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Logger   *logging.Logger
	Fleet    Fleet
	Notifier *entity.Notifier // optional: feeds the WebSocket hub
	Version  string
}

// Server is the HTTP API server for the bridge.
//
// It manages the HTTP listener, routes, middleware, and the WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg     config.APIConfig
	logger  *logging.Logger
	fleet   Fleet
	version string

	notifier    *entity.Notifier
	hub         *hub
	unsubscribe func()

	server *http.Server
	cancel context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Fleet == nil {
		return nil, fmt.Errorf("fleet is required")
	}

	return &Server{
		cfg:      deps.Config,
		logger:   deps.Logger,
		fleet:    deps.Fleet,
		notifier: deps.Notifier,
		version:  deps.Version,
	}, nil
}

// Start begins listening for HTTP connections.
//
// It builds the router, starts the WebSocket hub, and launches the HTTP
// listener in a background goroutine. The server is stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.hub = newHub(s.logger)
	go s.hub.run(srvCtx)
	if s.notifier != nil {
		s.unsubscribe = s.notifier.Subscribe(s.hub.broadcastEvent)
	}

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server listening", "address", s.server.Addr)
	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
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
