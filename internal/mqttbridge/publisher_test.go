package mqttbridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/evbridge/tesla-ble-bridge/internal/entity"
	"github.com/evbridge/tesla-ble-bridge/internal/infrastructure/mqtt"
)

type published struct {
	topic   string
	payload string
}

// fakeBroker records retained publishes and subscriptions.
type fakeBroker struct {
	mu            sync.Mutex
	messages      []published
	failNext      bool
	subscriptions map[string]mqtt.MessageHandler
}

func (f *fakeBroker) PublishRetained(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return mqtt.ErrNotConnected
	}
	f.messages = append(f.messages, published{topic: topic, payload: string(payload)})
	return nil
}

func (f *fakeBroker) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscriptions == nil {
		f.subscriptions = make(map[string]mqtt.MessageHandler)
	}
	f.subscriptions[topic] = handler
	return nil
}

func (f *fakeBroker) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subscriptions, topic)
	return nil
}

func (f *fakeBroker) Topics() mqtt.Topics { return mqtt.NewTopics("evcc/tesla") }

func (f *fakeBroker) QoS() byte { return 1 }

func (f *fakeBroker) IsConnected() bool { return true }

func (f *fakeBroker) handler(topic string) mqtt.MessageHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscriptions[topic]
}

func (f *fakeBroker) snapshot() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]published, len(f.messages))
	copy(out, f.messages)
	return out
}

// waitFor polls until cond is true or the timeout expires. Events travel
// through the notifier's dispatch goroutine, so arrival is asynchronous.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestPublisherEntityChanges(t *testing.T) {
	broker := &fakeBroker{}
	notifier := entity.NewNotifier()
	defer notifier.Close()

	p := New(broker, notifier)
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer p.Close()

	notifier.Publish(entity.Event{
		Type:      entity.EventEntityChanged,
		VehicleID: "5YJ3TEST",
		Entity: entity.Entity{
			ObjectID: "charging_amps",
			Value:    entity.FloatValue(16),
		},
	})

	waitFor(t, func() bool { return len(broker.snapshot()) >= 1 })

	msgs := broker.snapshot()
	if msgs[0].topic != "evcc/tesla/5YJ3TEST/charging_amps" {
		t.Errorf("topic = %q", msgs[0].topic)
	}
	if msgs[0].payload != "16" {
		t.Errorf("payload = %q, want trimmed number", msgs[0].payload)
	}
}

func TestPublisherAliasedTopics(t *testing.T) {
	broker := &fakeBroker{}
	notifier := entity.NewNotifier()
	defer notifier.Close()

	p := New(broker, notifier)
	p.SetAliases(map[string]string{"battery_level": "soc"})
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer p.Close()

	notifier.Publish(entity.Event{
		Type:      entity.EventEntityChanged,
		VehicleID: "5YJ3TEST",
		Entity: entity.Entity{
			ObjectID: "battery_level",
			Value:    entity.FloatValue(72),
		},
	})
	notifier.Publish(entity.Event{
		Type:      entity.EventEntityChanged,
		VehicleID: "5YJ3TEST",
		Entity: entity.Entity{
			ObjectID: "charging_amps",
			Value:    entity.FloatValue(16),
		},
	})

	waitFor(t, func() bool { return len(broker.snapshot()) >= 2 })

	msgs := broker.snapshot()
	if msgs[0].topic != "evcc/tesla/5YJ3TEST/soc" || msgs[0].payload != "72" {
		t.Errorf("aliased message = %+v", msgs[0])
	}
	// Entities without an alias keep their object_id.
	if msgs[1].topic != "evcc/tesla/5YJ3TEST/charging_amps" {
		t.Errorf("unaliased topic = %q", msgs[1].topic)
	}
}

func TestPublisherStatusChanges(t *testing.T) {
	broker := &fakeBroker{}
	notifier := entity.NewNotifier()
	defer notifier.Close()

	p := New(broker, notifier)
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer p.Close()

	notifier.Publish(entity.Event{
		Type:      entity.EventStatusChanged,
		VehicleID: "5YJ3TEST",
		Status:    "degraded",
	})

	waitFor(t, func() bool { return len(broker.snapshot()) >= 1 })

	msgs := broker.snapshot()
	if msgs[0].topic != "evcc/tesla/5YJ3TEST/status" || msgs[0].payload != "degraded" {
		t.Errorf("status message = %+v", msgs[0])
	}
}

func TestPublisherSkipsMissingValues(t *testing.T) {
	broker := &fakeBroker{}
	notifier := entity.NewNotifier()
	defer notifier.Close()

	p := New(broker, notifier)
	p.Start()
	defer p.Close()

	notifier.Publish(entity.Event{
		Type:      entity.EventEntityChanged,
		VehicleID: "5YJ3TEST",
		Entity:    entity.Entity{ObjectID: "battery_level", Value: entity.MissingValue()},
	})
	notifier.Publish(entity.Event{
		Type:      entity.EventEntityChanged,
		VehicleID: "5YJ3TEST",
		Entity:    entity.Entity{ObjectID: "charging", Value: entity.BoolValue(true)},
	})

	waitFor(t, func() bool { return len(broker.snapshot()) >= 1 })

	// Only the charging event survives; the missing value was dropped.
	msgs := broker.snapshot()
	if len(msgs) != 1 {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[0].topic != "evcc/tesla/5YJ3TEST/charging" || msgs[0].payload != "true" {
		t.Errorf("entity message = %+v", msgs[0])
	}
}

func TestPublisherStopsAfterClose(t *testing.T) {
	broker := &fakeBroker{}
	notifier := entity.NewNotifier()
	defer notifier.Close()

	p := New(broker, notifier)
	p.Start()
	p.Close()

	notifier.Publish(entity.Event{
		Type:      entity.EventStatusChanged,
		VehicleID: "5YJ3TEST",
		Status:    "ready",
	})

	// Give dispatch a moment; nothing should arrive.
	time.Sleep(50 * time.Millisecond)
	if msgs := broker.snapshot(); len(msgs) != 0 {
		t.Errorf("messages after Close = %+v", msgs)
	}
}

func TestPublisherCommandDispatch(t *testing.T) {
	broker := &fakeBroker{}
	notifier := entity.NewNotifier()
	defer notifier.Close()

	type call struct {
		vin     string
		command string
		body    map[string]any
	}
	var mu sync.Mutex
	var calls []call

	p := New(broker, notifier)
	p.SetDispatcher(func(_ context.Context, vin, command string, body map[string]any) error {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, call{vin: vin, command: command, body: body})
		return nil
	})
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer p.Close()

	h := broker.handler("evcc/tesla/+/command/+")
	if h == nil {
		t.Fatal("no command subscription registered")
	}

	if err := h("evcc/tesla/5YJ3TEST/command/charge_start", nil); err != nil {
		t.Fatalf("empty-body command error: %v", err)
	}
	if err := h("evcc/tesla/5YJ3TEST/command/set_charging_amps", []byte(`{"charging_amps": 16}`)); err != nil {
		t.Fatalf("command with body error: %v", err)
	}
	if err := h("evcc/tesla/5YJ3TEST/command/charge_start", []byte(`not json`)); err == nil {
		t.Error("expected error for malformed payload")
	}
	if err := h("evcc/tesla/garbage", nil); err == nil {
		t.Error("expected error for unparseable topic")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 2 {
		t.Fatalf("dispatch calls = %+v", calls)
	}
	if calls[0].vin != "5YJ3TEST" || calls[0].command != "charge_start" || len(calls[0].body) != 0 {
		t.Errorf("first call = %+v", calls[0])
	}
	if calls[1].command != "set_charging_amps" || calls[1].body["charging_amps"] != float64(16) {
		t.Errorf("second call = %+v", calls[1])
	}
}

func TestPublisherWithoutDispatcherSkipsSubscribe(t *testing.T) {
	broker := &fakeBroker{}
	notifier := entity.NewNotifier()
	defer notifier.Close()

	p := New(broker, notifier)
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer p.Close()

	if h := broker.handler("evcc/tesla/+/command/+"); h != nil {
		t.Error("command subscription registered without a dispatcher")
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		value entity.Value
		want  string
	}{
		{entity.BoolValue(true), "true"},
		{entity.BoolValue(false), "false"},
		{entity.FloatValue(16), "16"},
		{entity.FloatValue(21.5), "21.5"},
		{entity.TextValue("locked"), "locked"},
		{entity.MissingValue(), ""},
	}

	for _, tt := range tests {
		if got := formatValue(tt.value); got != tt.want {
			t.Errorf("formatValue(%+v) = %q, want %q", tt.value, got, tt.want)
		}
	}
}
