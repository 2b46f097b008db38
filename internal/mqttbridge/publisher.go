// Package mqttbridge mirrors the cached vehicle state onto MQTT.
//
// Every entity change and connection-state transition is published as a
// retained message, so subscribers (evcc, Home Assistant, dashboards)
// get the full current snapshot the moment they connect, even while the
// vehicle itself is asleep. Commands published to the per-vehicle command
// topics are dispatched the same way the HTTP command endpoint does.
package mqttbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/evbridge/tesla-ble-bridge/internal/entity"
	"github.com/evbridge/tesla-ble-bridge/internal/infrastructure/mqtt"
	"github.com/evbridge/tesla-ble-bridge/internal/metrics"
)

// commandTimeout bounds one MQTT-initiated command dispatch.
const commandTimeout = 30 * time.Second

// Broker is the MQTT surface the publisher needs. *mqtt.Client satisfies it.
type Broker interface {
	PublishRetained(topic string, payload []byte) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	Topics() mqtt.Topics
	QoS() byte
	IsConnected() bool
}

// Dispatcher executes one vehicle command received over MQTT.
type Dispatcher func(ctx context.Context, vin, command string, body map[string]any) error

// Logger defines the logging interface used by the publisher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Publisher subscribes to the change notifier and republishes events as
// retained MQTT messages.
type Publisher struct {
	broker   Broker
	notifier *entity.Notifier
	dispatch Dispatcher
	aliases  map[string]string

	unsubscribe  func()
	commandTopic string
	logger       Logger
}

// New creates a publisher wired to the given broker and notifier.
// Start must be called to begin publishing.
func New(broker Broker, notifier *entity.Notifier) *Publisher {
	return &Publisher{
		broker:   broker,
		notifier: notifier,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the publisher.
func (p *Publisher) SetLogger(logger Logger) {
	p.logger = logger
}

// SetAliases renames entities on their MQTT topics, keyed by object_id.
// Must be called before Start.
func (p *Publisher) SetAliases(aliases map[string]string) {
	p.aliases = aliases
}

// SetDispatcher enables the command intake: messages on
// {base}/{vin}/command/{name} are executed through the given dispatcher.
// Must be called before Start.
func (p *Publisher) SetDispatcher(d Dispatcher) {
	p.dispatch = d
}

// Start subscribes to change events and, when a dispatcher is set, to the
// vehicle command topics. The bridge's own online/offline announcements
// are handled by the MQTT client (including the LWT), so the publisher
// only covers per-vehicle topics.
func (p *Publisher) Start() error {
	p.unsubscribe = p.notifier.Subscribe(p.handle)

	if p.dispatch != nil {
		topic := p.broker.Topics().CommandWildcard()
		if err := p.broker.Subscribe(topic, p.broker.QoS(), p.handleCommand); err != nil {
			p.unsubscribe()
			p.unsubscribe = nil
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
		p.commandTopic = topic
	}

	p.logger.Info("MQTT publisher started")
	return nil
}

// Close stops republishing events and tears down the command intake.
func (p *Publisher) Close() error {
	if p.unsubscribe != nil {
		p.unsubscribe()
		p.unsubscribe = nil
	}
	if p.commandTopic != "" {
		// Best effort; the broker connection may already be gone.
		if err := p.broker.Unsubscribe(p.commandTopic); err != nil {
			p.logger.Debug("unsubscribe failed", "topic", p.commandTopic, "error", err)
		}
		p.commandTopic = ""
	}
	return nil
}

// handleCommand runs one command published to {base}/{vin}/command/{name}.
// The payload is the same JSON body the HTTP command endpoint takes; an
// empty payload means no arguments.
func (p *Publisher) handleCommand(topic string, payload []byte) error {
	vin, command, ok := p.broker.Topics().ParseCommand(topic)
	if !ok {
		return fmt.Errorf("unexpected command topic %q", topic)
	}

	body := map[string]any{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &body); err != nil {
			return fmt.Errorf("command payload on %s: %w", topic, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := p.dispatch(ctx, vin, command, body); err != nil {
		return fmt.Errorf("command %s for %s: %w", command, vin, err)
	}

	p.logger.Info("MQTT command executed", "vehicle", vin, "command", command)
	return nil
}

// handle republishes one notifier event. Runs on the notifier's dispatch
// goroutine, so it must not block; Publish has a bounded wait built in.
func (p *Publisher) handle(ev entity.Event) {
	topics := p.broker.Topics()

	var topic string
	var payload []byte

	switch ev.Type {
	case entity.EventEntityChanged:
		if ev.Entity.Value.IsMissing() {
			return
		}
		name := ev.Entity.ObjectID
		if alias, ok := p.aliases[name]; ok {
			name = alias
		}
		topic = topics.EntityState(ev.VehicleID, name)
		payload = []byte(formatValue(ev.Entity.Value))

	case entity.EventStatusChanged:
		topic = topics.VehicleStatus(ev.VehicleID)
		payload = []byte(ev.Status)

	default:
		return
	}

	if err := p.broker.PublishRetained(topic, payload); err != nil {
		metrics.MQTTPublishesTotal.WithLabelValues("error").Inc()
		p.logger.Debug("MQTT publish failed", "topic", topic, "error", err)
		return
	}

	metrics.MQTTPublishesTotal.WithLabelValues("ok").Inc()
	p.logger.Debug("published", "topic", topic, "payload", string(payload))
}

// formatValue renders an entity value as a plain MQTT payload.
// Numbers drop trailing zeros so "16" is published instead of "16.000000".
func formatValue(v entity.Value) string {
	switch v.Type {
	case entity.ValueBool:
		return strconv.FormatBool(v.Bool)
	case entity.ValueFloat:
		return strconv.FormatFloat(v.Float, 'f', -1, 64)
	case entity.ValueText:
		return v.Text
	default:
		return ""
	}
}
