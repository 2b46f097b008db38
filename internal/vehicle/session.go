package vehicle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/evbridge/tesla-ble-bridge/internal/entity"
	"github.com/evbridge/tesla-ble-bridge/internal/espnative"
	"github.com/evbridge/tesla-ble-bridge/internal/infrastructure/config"
	"github.com/evbridge/tesla-ble-bridge/internal/metrics"
)

// ConnState is the lifecycle state of a vehicle session.
type ConnState string

// Session states. READY is the only state that accepts commands; reads
// are served from the cached snapshot in every state.
const (
	// StateConnecting: no snapshot yet, first connection in progress.
	StateConnecting ConnState = "connecting"

	// StateReady: connected, discovered, streaming state updates.
	StateReady ConnState = "ready"

	// StateDegraded: connection lost but a previous snapshot is being
	// served while the supervisor reconnects.
	StateDegraded ConnState = "degraded"

	// StateStopped: Close was called.
	StateStopped ConnState = "stopped"
)

// Logger defines the logging interface used by the vehicle package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Command timing constants.
const (
	// commandAckTimeout bounds the post-command acknowledgement ping.
	commandAckTimeout = 5 * time.Second

	// pingInterval is the keepalive cadence while connected.
	pingInterval = 30 * time.Second

	// pingTimeout bounds a single keepalive round trip.
	pingTimeout = 10 * time.Second
)

// Session owns one vehicle: its connection lifecycle, entity registry,
// and command execution.
//
// Thread Safety:
//   - All public methods are safe for concurrent use.
//   - Commands are serialised: one in flight per session.
type Session struct {
	cfg      config.VehicleConfig
	id       string
	registry *entity.Registry
	notifier *entity.Notifier
	bindings map[string]binding

	// Connection state
	stateMu   sync.RWMutex
	state     ConnState
	lastError error

	// Active client, swapped by the supervisor on reconnect.
	clientMu sync.RWMutex
	client   *espnative.Client

	// Controller identity from the last successful handshake.
	deviceMu   sync.RWMutex
	deviceInfo espnative.DeviceInfo

	// commandMu serialises command execution.
	commandMu sync.Mutex

	done *closeOnce
	wg   sync.WaitGroup

	logger Logger
}

// NewSession creates a session for one configured vehicle.
// Start must be called to begin connecting.
func NewSession(cfg config.VehicleConfig, registry *entity.Registry, notifier *entity.Notifier, overrides map[string]config.CommandBinding) *Session {
	return &Session{
		cfg:      cfg,
		id:       cfg.ID(),
		registry: registry,
		notifier: notifier,
		bindings: buildBindings(overrides),
		state:    StateConnecting,
		done:     newCloseOnce(),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the session.
func (s *Session) SetLogger(logger Logger) {
	s.logger = logger
}

// Start launches the connection supervisor.
//
// Vehicles configured with a Noise encryption key fail here: the bridge
// only speaks the plaintext transport, and connecting anyway would stall
// on the first frame.
func (s *Session) Start(ctx context.Context) error {
	if s.cfg.EncryptionKey != "" {
		return fmt.Errorf("%w (vehicle %s)", ErrEncryptionUnsupported, s.id)
	}

	s.wg.Add(1)
	go s.supervise(ctx)
	return nil
}

// Close stops the supervisor and disconnects.
// Safe to call multiple times.
func (s *Session) Close() error {
	s.done.Close()

	if client := s.getClient(); client != nil {
		client.Close()
	}

	s.wg.Wait()
	s.setState(StateStopped, nil)
	return nil
}

// ID returns the vehicle's external identifier (upper-cased VIN or "default").
func (s *Session) ID() string {
	return s.id
}

// State returns the current session state.
func (s *Session) State() ConnState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// LastError returns the most recent connection error, if any.
func (s *Session) LastError() error {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.lastError
}

// Registry returns the vehicle's entity registry.
func (s *Session) Registry() *entity.Registry {
	return s.registry
}

// DeviceInfo returns the controller identity from the last handshake.
// Zero value until the first successful connection.
func (s *Session) DeviceInfo() espnative.DeviceInfo {
	s.deviceMu.RLock()
	defer s.deviceMu.RUnlock()
	return s.deviceInfo
}

// ExecuteCommand runs one Fleet command against the vehicle.
//
// The command name is resolved through the binding table (or directly to
// an entity), the bound action is sent, and a ping round trip confirms
// the device processed it before returning. Commands are rejected with
// ErrNotReady unless the session is READY.
func (s *Session) ExecuteCommand(ctx context.Context, command string, body map[string]any) error {
	start := time.Now()
	err := s.executeCommand(ctx, command, body)
	metrics.CommandsTotal.WithLabelValues(s.id, command, outcomeLabel(err)).Inc()
	metrics.CommandDuration.WithLabelValues(command).Observe(time.Since(start).Seconds())

	if err != nil {
		s.logger.Warn("command failed", "vehicle", s.id, "command", command, "error", err)
		return err
	}
	s.logger.Info("command executed", "vehicle", s.id, "command", command)
	return nil
}

func (s *Session) executeCommand(ctx context.Context, command string, body map[string]any) error {
	if s.State() != StateReady {
		return fmt.Errorf("%w: vehicle %s is %s", ErrNotReady, s.id, s.State())
	}

	// One command in flight per session; the device processes serially
	// anyway and interleaved ack pings would be ambiguous.
	s.commandMu.Lock()
	defer s.commandMu.Unlock()

	b, err := s.resolveBinding(command)
	if err != nil {
		return err
	}

	e, err := s.registry.GetByObjectID(b.entity)
	if err != nil {
		return fmt.Errorf("%w: %q (command %s)", ErrUnknownEntity, b.entity, command)
	}

	client := s.getClient()
	if client == nil || !client.IsConnected() {
		return fmt.Errorf("%w: vehicle %s has no connection", ErrNotReady, s.id)
	}

	if err := s.dispatch(client, b, e, body); err != nil {
		return err
	}

	// Command frames carry no acknowledgement; a ping round trip after
	// the send confirms the device consumed everything before it.
	ackCtx, cancel := context.WithTimeout(ctx, commandAckTimeout)
	defer cancel()
	if err := client.Ping(ackCtx); err != nil {
		return fmt.Errorf("%w: %s on %s: %w", ErrCommandTimeout, command, s.id, err)
	}

	return nil
}

// dispatch validates the entity kind against the action and sends the frame.
func (s *Session) dispatch(client *espnative.Client, b binding, e entity.Entity, body map[string]any) error {
	switch b.action {
	case actionPress:
		if e.Kind != entity.KindButton {
			return fmt.Errorf("%w: cannot press %s %q", ErrUnsupportedAction, e.Kind, e.ObjectID)
		}
		if err := client.ButtonCommand(e.Key); err != nil {
			return fmt.Errorf("%w: %w", ErrDeviceRejected, err)
		}

	case actionSwitchOn, actionSwitchOff, actionSwitch:
		if e.Kind != entity.KindSwitch {
			return fmt.Errorf("%w: cannot switch %s %q", ErrUnsupportedAction, e.Kind, e.ObjectID)
		}
		var on bool
		switch b.action {
		case actionSwitchOn:
			on = true
		case actionSwitchOff:
			on = false
		default:
			var err error
			on, err = extractBool(body, b.params)
			if err != nil {
				return err
			}
		}
		if err := client.SwitchCommand(e.Key, on); err != nil {
			return fmt.Errorf("%w: %w", ErrDeviceRejected, err)
		}

	case actionNumber:
		if e.Kind != entity.KindNumber {
			return fmt.Errorf("%w: cannot set %s %q", ErrUnsupportedAction, e.Kind, e.ObjectID)
		}
		value, err := extractNumber(body, b.params)
		if err != nil {
			return err
		}
		if e.MaxValue > e.MinValue && (value < e.MinValue || value > e.MaxValue) {
			return fmt.Errorf("%w: %v outside [%v, %v] for %q",
				ErrValueOutOfRange, value, e.MinValue, e.MaxValue, e.ObjectID)
		}
		if err := client.NumberCommand(e.Key, value); err != nil {
			return fmt.Errorf("%w: %w", ErrDeviceRejected, err)
		}

	case actionLock, actionUnlock:
		if e.Kind != entity.KindLock {
			return fmt.Errorf("%w: cannot lock %s %q", ErrUnsupportedAction, e.Kind, e.ObjectID)
		}
		lockCmd := espnative.LockLock
		if b.action == actionUnlock {
			lockCmd = espnative.LockUnlock
		}
		if err := client.LockCommand(e.Key, lockCmd); err != nil {
			return fmt.Errorf("%w: %w", ErrDeviceRejected, err)
		}

	default:
		return fmt.Errorf("%w: action %q", ErrUnsupportedAction, b.action)
	}

	return nil
}

// outcomeLabel maps an execution error onto a metrics outcome label.
func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotReady):
		return "not_ready"
	case errors.Is(err, ErrUnknownCommand), errors.Is(err, ErrUnknownEntity):
		return "unknown"
	case errors.Is(err, ErrCommandTimeout):
		return "timeout"
	case errors.Is(err, ErrDeviceRejected):
		return "rejected"
	case errors.Is(err, ErrUnsupportedAction), errors.Is(err, ErrValueOutOfRange):
		return "invalid"
	default:
		return "error"
	}
}

// setState transitions the session state, records it in metrics, and
// publishes a status event when the state actually changed.
func (s *Session) setState(state ConnState, err error) {
	s.stateMu.Lock()
	changed := s.state != state
	s.state = state
	if err != nil {
		s.lastError = err
	}
	s.stateMu.Unlock()

	metrics.ConnectionState.WithLabelValues(s.id).Set(stateValue(state))

	if changed && s.notifier != nil {
		s.notifier.Publish(entity.Event{
			Type:      entity.EventStatusChanged,
			VehicleID: s.id,
			Status:    string(state),
			Timestamp: time.Now(),
		})
	}
}

func stateValue(state ConnState) float64 {
	switch state {
	case StateReady:
		return metrics.StateValueReady
	case StateDegraded:
		return metrics.StateValueDegraded
	case StateConnecting:
		return metrics.StateValueConnecting
	default:
		return metrics.StateValueStopped
	}
}

func (s *Session) getClient() *espnative.Client {
	s.clientMu.RLock()
	defer s.clientMu.RUnlock()
	return s.client
}

func (s *Session) setClient(client *espnative.Client) {
	s.clientMu.Lock()
	s.client = client
	s.clientMu.Unlock()
}

func (s *Session) isClosed() bool {
	select {
	case <-s.done.Done():
		return true
	default:
		return false
	}
}
