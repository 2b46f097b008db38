package entity

import (
	"errors"
	"testing"
	"time"
)

func discoverySnapshot() []Entity {
	return []Entity{
		{Key: 1, ObjectID: "battery_level", Name: "Battery Level", Kind: KindSensor, Unit: "%"},
		{Key: 2, ObjectID: "charger", Name: "Charger", Kind: KindSwitch},
		{Key: 3, ObjectID: "charging_amps", Name: "Charging Amps", Kind: KindNumber, MinValue: 0, MaxValue: 32, Step: 1},
		{Key: 4, ObjectID: "wake_up", Name: "Wake Up", Kind: KindButton},
	}
}

func TestReplaceAllAndList(t *testing.T) {
	r := NewRegistry()
	r.ReplaceAll(discoverySnapshot())

	if r.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", r.Len())
	}

	list := r.List()
	wantOrder := []string{"battery_level", "charger", "charging_amps", "wake_up"}
	for i, want := range wantOrder {
		if list[i].ObjectID != want {
			t.Errorf("List()[%d] = %q, want %q (discovery order)", i, list[i].ObjectID, want)
		}
	}
}

func TestApplyStateChangeDetection(t *testing.T) {
	r := NewRegistry()
	r.ReplaceAll(discoverySnapshot())
	now := time.Now()

	e, changed, err := r.ApplyState(1, FloatValue(72), now)
	if err != nil {
		t.Fatalf("ApplyState() error: %v", err)
	}
	if !changed {
		t.Error("first state report should count as changed")
	}
	if e.Value.Float != 72 {
		t.Errorf("value = %v, want 72", e.Value.Float)
	}

	// Same value again: no change.
	_, changed, err = r.ApplyState(1, FloatValue(72), now.Add(time.Second))
	if err != nil {
		t.Fatalf("ApplyState() error: %v", err)
	}
	if changed {
		t.Error("identical value should not count as changed")
	}

	// Different value: change.
	_, changed, _ = r.ApplyState(1, FloatValue(73), now.Add(2*time.Second))
	if !changed {
		t.Error("new value should count as changed")
	}
}

func TestApplyStateUnknownKey(t *testing.T) {
	r := NewRegistry()
	r.ReplaceAll(discoverySnapshot())

	_, _, err := r.ApplyState(999, BoolValue(true), time.Now())
	if !errors.Is(err, ErrUnknownKey) {
		t.Errorf("expected ErrUnknownKey, got %v", err)
	}
}

func TestReplaceAllPreservesValues(t *testing.T) {
	r := NewRegistry()
	r.ReplaceAll(discoverySnapshot())
	r.ApplyState(2, BoolValue(true), time.Now())

	// Rediscovery after reconnect: same keys, no values attached yet.
	r.ReplaceAll(discoverySnapshot())

	e, err := r.GetByKey(2)
	if err != nil {
		t.Fatalf("GetByKey() error: %v", err)
	}
	if e.Value.Type != ValueBool || !e.Value.Bool {
		t.Error("rediscovery should preserve the previous value for surviving keys")
	}
}

func TestGetByObjectID(t *testing.T) {
	r := NewRegistry()
	r.ReplaceAll(discoverySnapshot())

	e, err := r.GetByObjectID("charging_amps")
	if err != nil {
		t.Fatalf("GetByObjectID() error: %v", err)
	}
	if e.Key != 3 || e.Kind != KindNumber {
		t.Errorf("unexpected entity: %+v", e)
	}

	if _, err := r.GetByObjectID("flux_capacitor"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListReturnsCopies(t *testing.T) {
	r := NewRegistry()
	r.ReplaceAll(discoverySnapshot())

	list := r.List()
	list[0].Value = FloatValue(999)

	e, _ := r.GetByKey(1)
	if !e.Value.IsMissing() {
		t.Error("mutating a listed entity must not affect the registry")
	}
}

func TestValueEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"both missing", MissingValue(), MissingValue(), true},
		{"same float", FloatValue(1.5), FloatValue(1.5), true},
		{"different float", FloatValue(1.5), FloatValue(2.5), false},
		{"same bool", BoolValue(true), BoolValue(true), true},
		{"different bool", BoolValue(true), BoolValue(false), false},
		{"same text", TextValue("Charging"), TextValue("Charging"), true},
		{"different type", FloatValue(1), TextValue("1"), false},
		{"missing vs float", MissingValue(), FloatValue(0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
		})
	}
}
