package vehicle

import (
	"context"
	"fmt"
	"strings"

	"github.com/evbridge/tesla-ble-bridge/internal/entity"
	"github.com/evbridge/tesla-ble-bridge/internal/infrastructure/config"
	"github.com/evbridge/tesla-ble-bridge/internal/metrics"
)

// Manager owns all vehicle sessions and resolves VINs to them.
//
// One shared Notifier fans out change events from every session, so
// consumers (MQTT publisher, websocket hub) subscribe once.
type Manager struct {
	sessions map[string]*Session
	order    []string
	notifier *entity.Notifier
	logger   Logger
}

// NewManager builds sessions for every configured vehicle.
// Sessions do not connect until Start is called.
func NewManager(cfg *config.Config) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session, len(cfg.Vehicles)),
		notifier: entity.NewNotifier(),
		logger:   noopLogger{},
	}
	m.notifier.SetOnDrop(func() { metrics.NotifierDropsTotal.Inc() })

	for i := range cfg.Vehicles {
		vc := cfg.Vehicles[i]
		s := NewSession(vc, entity.NewRegistry(), m.notifier, cfg.Commands.Overrides)
		m.sessions[s.ID()] = s
		m.order = append(m.order, s.ID())
	}

	return m
}

// SetLogger sets the logger for the manager and all sessions.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
	m.notifier.SetLogger(logger)
	for _, s := range m.sessions {
		s.SetLogger(logger)
		s.registry.SetLogger(logger)
	}
}

// Start launches every session's supervisor.
//
// A session that cannot start (unsupported encryption config) fails the
// whole startup; partial fleets are more confusing than a crash at boot.
func (m *Manager) Start(ctx context.Context) error {
	for _, id := range m.order {
		if err := m.sessions[id].Start(ctx); err != nil {
			return fmt.Errorf("starting vehicle %s: %w", id, err)
		}
		m.logger.Info("vehicle session started", "vehicle", id)
	}
	return nil
}

// Close stops all sessions and the shared notifier.
func (m *Manager) Close() error {
	for _, s := range m.sessions {
		s.Close()
	}
	m.notifier.Close()
	return nil
}

// Get resolves a VIN (or "default") to its session.
//
// Matching is case-insensitive. A single-vehicle bridge configured
// without a VIN answers to any identifier, matching how one-car setups
// address their bridge by whatever VIN the client believes in.
func (m *Manager) Get(vin string) (*Session, error) {
	id := strings.ToUpper(vin)
	if vin == "default" || vin == "" {
		id = "default"
	}

	if s, ok := m.sessions[id]; ok {
		return s, nil
	}

	if len(m.order) == 1 {
		if s, ok := m.sessions["default"]; ok {
			return s, nil
		}
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownVehicle, vin)
}

// List returns all sessions in configuration order.
func (m *Manager) List() []*Session {
	out := make([]*Session, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.sessions[id])
	}
	return out
}

// Notifier returns the shared change-event notifier.
func (m *Manager) Notifier() *entity.Notifier {
	return m.notifier
}
