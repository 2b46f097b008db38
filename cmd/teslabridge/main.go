// Tesla BLE Bridge
//
// This is the main entry point for the Tesla BLE bridge. The bridge
// connects to one or more ESP32 BLE controllers over the ESPHome native
// API, mirrors their entities into an in-memory snapshot, and exposes
// that snapshot over a Tesla-Fleet-shaped HTTP API and retained MQTT
// topics so chargers and automations keep working while the car sleeps.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/evbridge/tesla-ble-bridge/internal/api"
	"github.com/evbridge/tesla-ble-bridge/internal/entity"
	"github.com/evbridge/tesla-ble-bridge/internal/espnative"
	"github.com/evbridge/tesla-ble-bridge/internal/infrastructure/config"
	"github.com/evbridge/tesla-ble-bridge/internal/infrastructure/logging"
	"github.com/evbridge/tesla-ble-bridge/internal/infrastructure/mqtt"
	"github.com/evbridge/tesla-ble-bridge/internal/mqttbridge"
	"github.com/evbridge/tesla-ble-bridge/internal/vehicle"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Tesla BLE bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath, "vehicles", len(cfg.Vehicles))

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Build vehicle sessions (they do not connect yet)
	manager := vehicle.NewManager(cfg)
	manager.SetLogger(log)
	defer func() {
		log.Info("stopping vehicle sessions")
		if closeErr := manager.Close(); closeErr != nil {
			log.Error("error closing vehicle manager", "error", closeErr)
		}
	}()

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enable {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		publisher := mqttbridge.New(mqttClient, manager.Notifier())
		publisher.SetLogger(log)
		publisher.SetAliases(cfg.MQTT.Aliases)
		publisher.SetDispatcher(func(ctx context.Context, vin, command string, body map[string]any) error {
			s, getErr := manager.Get(vin)
			if getErr != nil {
				return getErr
			}
			return s.ExecuteCommand(ctx, command, body)
		})
		if startErr := publisher.Start(); startErr != nil {
			return fmt.Errorf("starting MQTT publisher: %w", startErr)
		}
		defer func() {
			log.Info("stopping MQTT publisher")
			if closeErr := publisher.Close(); closeErr != nil {
				log.Error("error closing MQTT publisher", "error", closeErr)
			}
		}()
	} else {
		log.Info("MQTT disabled")
	}

	// Start connecting to the controllers
	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("starting vehicle sessions: %w", err)
	}

	// Start the HTTP API
	server, err := api.New(api.Deps{
		Config:   cfg.API,
		Logger:   log,
		Fleet:    &managerFleet{manager: manager},
		Notifier: manager.Notifier(),
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. MQTT publisher, then MQTT client (if enabled)
	// 3. Vehicle sessions

	log.Info("Tesla BLE bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses TESLABRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("TESLABRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// managerFleet adapts the vehicle manager to the API's Fleet interface.
type managerFleet struct {
	manager *vehicle.Manager
}

// Resolve implements api.Fleet.
func (f *managerFleet) Resolve(vin string) (api.Vehicle, error) {
	s, err := f.manager.Get(vin)
	if err != nil {
		return nil, err
	}
	return &sessionVehicle{session: s}, nil
}

// Vehicles implements api.Fleet.
func (f *managerFleet) Vehicles() []api.Vehicle {
	sessions := f.manager.List()
	out := make([]api.Vehicle, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, &sessionVehicle{session: s})
	}
	return out
}

// sessionVehicle adapts a vehicle session to the API's Vehicle interface.
// The session exposes its registry and state machine directly; the API
// wants a flatter read surface.
type sessionVehicle struct {
	session *vehicle.Session
}

func (v *sessionVehicle) ID() string { return v.session.ID() }

func (v *sessionVehicle) Status() string { return string(v.session.State()) }

func (v *sessionVehicle) Ready() bool { return v.session.State() == vehicle.StateReady }

func (v *sessionVehicle) Entities() []entity.Entity { return v.session.Registry().List() }

func (v *sessionVehicle) Entity(objectID string) (entity.Entity, error) {
	return v.session.Registry().GetByObjectID(objectID)
}

func (v *sessionVehicle) DeviceInfo() espnative.DeviceInfo { return v.session.DeviceInfo() }

func (v *sessionVehicle) ExecuteCommand(ctx context.Context, command string, body map[string]any) error {
	return v.session.ExecuteCommand(ctx, command, body)
}
