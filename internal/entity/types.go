package entity

import "time"

// Kind classifies an entity by the ESPHome component that exposes it.
type Kind string

// Entity kinds reported by the controller during discovery.
const (
	KindBinarySensor Kind = "binary_sensor"
	KindSensor       Kind = "sensor"
	KindTextSensor   Kind = "text_sensor"
	KindSwitch       Kind = "switch"
	KindButton       Kind = "button"
	KindNumber       Kind = "number"
	KindLock         Kind = "lock"
)

// ValueType discriminates the active variant of a Value.
type ValueType int

// Value variants. ValueNone marks an entity whose state has not yet been
// reported, or was reported as missing by the device.
const (
	ValueNone ValueType = iota
	ValueBool
	ValueFloat
	ValueText
)

// Value is the state of one entity. Exactly one variant is active,
// selected by Type. The zero Value means "no state yet".
type Value struct {
	Type  ValueType
	Bool  bool
	Float float64
	Text  string
}

// BoolValue returns a boolean Value.
func BoolValue(b bool) Value { return Value{Type: ValueBool, Bool: b} }

// FloatValue returns a numeric Value.
func FloatValue(f float64) Value { return Value{Type: ValueFloat, Float: f} }

// TextValue returns a string Value.
func TextValue(s string) Value { return Value{Type: ValueText, Text: s} }

// MissingValue returns a Value representing an absent state.
func MissingValue() Value { return Value{Type: ValueNone} }

// Equal reports whether two values are the same variant with the same payload.
func (v Value) Equal(other Value) bool {
	if v.Type != other.Type {
		return false
	}
	switch v.Type {
	case ValueBool:
		return v.Bool == other.Bool
	case ValueFloat:
		return v.Float == other.Float
	case ValueText:
		return v.Text == other.Text
	default:
		return true
	}
}

// IsMissing reports whether no state has been recorded for this value.
func (v Value) IsMissing() bool { return v.Type == ValueNone }

// Interface returns the value as a plain Go type suitable for JSON
// encoding: bool, float64, string, or nil when missing.
func (v Value) Interface() any {
	switch v.Type {
	case ValueBool:
		return v.Bool
	case ValueFloat:
		return v.Float
	case ValueText:
		return v.Text
	default:
		return nil
	}
}

// Entity is one discovered data point or control on the vehicle controller.
//
// The Key is the device-assigned 32-bit identity used in state and command
// frames. The ObjectID is the stable human-readable name ("charging_amps",
// "battery_level") used in HTTP routes, MQTT topics, and command bindings.
type Entity struct {
	Key         uint32    `json:"key"`
	ObjectID    string    `json:"object_id"`
	Name        string    `json:"name"`
	UniqueID    string    `json:"unique_id,omitempty"`
	Kind        Kind      `json:"kind"`
	Unit        string    `json:"unit,omitempty"`
	DeviceClass string    `json:"device_class,omitempty"`
	Value       Value     `json:"-"`
	UpdatedAt   time.Time `json:"updated_at,omitzero"`

	// Number traits, populated only for KindNumber.
	MinValue float64 `json:"min_value,omitempty"`
	MaxValue float64 `json:"max_value,omitempty"`
	Step     float64 `json:"step,omitempty"`
}

// Clone returns an independent copy of the entity.
// Entities hold only value fields, so a shallow copy is a full copy;
// the method exists so callers never hand out registry-owned pointers.
func (e *Entity) Clone() Entity {
	return *e
}

// StateJSON returns the entity's value as a plain Go type for JSON encoding.
func (e *Entity) StateJSON() any {
	return e.Value.Interface()
}
