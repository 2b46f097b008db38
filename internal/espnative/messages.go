package espnative

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Message type identifiers from the ESPHome api.proto schema.
// Only the subset the bridge needs is listed; unknown inbound types are
// skipped by the receive loop.
const (
	msgHelloRequest        = 1
	msgHelloResponse       = 2
	msgConnectRequest      = 3
	msgConnectResponse     = 4
	msgDisconnectRequest   = 5
	msgDisconnectResponse  = 6
	msgPingRequest         = 7
	msgPingResponse        = 8
	msgDeviceInfoRequest   = 9
	msgDeviceInfoResponse  = 10
	msgListEntitiesRequest = 11

	msgListEntitiesBinarySensor = 12
	msgListEntitiesSensor       = 16
	msgListEntitiesSwitch       = 17
	msgListEntitiesTextSensor   = 18
	msgListEntitiesDone         = 19

	msgSubscribeStatesRequest = 20
	msgBinarySensorState      = 21
	msgSensorState            = 25
	msgSwitchState            = 26
	msgTextSensorState        = 27

	msgSwitchCommandRequest = 33

	msgListEntitiesNumber   = 49
	msgNumberState          = 50
	msgNumberCommandRequest = 51

	msgListEntitiesLock   = 58
	msgLockState          = 59
	msgLockCommandRequest = 60

	msgListEntitiesButton   = 61
	msgButtonCommandRequest = 62
)

// EntityKind names the ESPHome component class of a discovered entity.
type EntityKind string

// Entity kinds the bridge understands.
const (
	KindBinarySensor EntityKind = "binary_sensor"
	KindSensor       EntityKind = "sensor"
	KindTextSensor   EntityKind = "text_sensor"
	KindSwitch       EntityKind = "switch"
	KindButton       EntityKind = "button"
	KindNumber       EntityKind = "number"
	KindLock         EntityKind = "lock"
)

// LockCommand values from the api.proto LockCommand enum.
const (
	LockUnlock uint32 = 0
	LockLock   uint32 = 1
	LockOpen   uint32 = 2
)

// HelloResponse carries the controller's protocol version and identity.
type HelloResponse struct {
	APIVersionMajor uint32
	APIVersionMinor uint32
	ServerInfo      string
	Name            string
}

// DeviceInfo describes the controller, reported once per connection.
type DeviceInfo struct {
	UsesPassword    bool   `json:"uses_password"`
	Name            string `json:"name"`
	MACAddress      string `json:"mac_address"`
	ESPHomeVersion  string `json:"esphome_version"`
	CompilationTime string `json:"compilation_time"`
	Model           string `json:"model"`
	HasDeepSleep    bool   `json:"has_deep_sleep"`
	ProjectName     string `json:"project_name"`
	ProjectVersion  string `json:"project_version"`
}

// EntityInfo is one entry of the controller's entity list.
type EntityInfo struct {
	Kind        EntityKind
	ObjectID    string
	Key         uint32
	Name        string
	UniqueID    string
	Icon        string
	Unit        string
	DeviceClass string

	// Number traits.
	MinValue float64
	MaxValue float64
	Step     float64
}

// StateType discriminates the payload of a StateUpdate.
type StateType int

// State payload variants.
const (
	StateBool StateType = iota
	StateFloat
	StateText
)

// StateUpdate is one decoded state frame.
type StateUpdate struct {
	Key     uint32
	Kind    EntityKind
	Type    StateType
	Bool    bool
	Float   float64
	Text    string
	Missing bool
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

func encodeHelloRequest(clientInfo string, major, minor uint32) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, clientInfo)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(major))
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(minor))
	return b
}

func encodeConnectRequest(password string) []byte {
	if password == "" {
		return nil
	}
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, password)
	return b
}

func encodeSwitchCommand(key uint32, state bool) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, key)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, boolToVarint(state))
	return b
}

func encodeButtonCommand(key uint32) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, key)
	return b
}

func encodeNumberCommand(key uint32, state float64) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, key)
	b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(float32(state)))
	return b
}

func encodeLockCommand(key uint32, command uint32) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, key)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(command))
	return b
}

func boolToVarint(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

// fieldVisitor receives each field of a protobuf payload. Raw holds the
// field's wire value: varint/fixed32 fields get the numeric value, bytes
// fields get the slice.
type fieldVisitor func(num protowire.Number, typ protowire.Type, varint uint64, bytes []byte) error

// walkFields iterates a protobuf payload, skipping unknown wire types.
func walkFields(payload []byte, visit fieldVisitor) error {
	b := payload
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformedFrame, protowire.ParseError(n))
		}
		b = b[n:]

		var varint uint64
		var raw []byte
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrMalformedFrame, protowire.ParseError(n))
			}
			varint, b = v, b[n:]
		case protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrMalformedFrame, protowire.ParseError(n))
			}
			varint, b = uint64(v), b[n:]
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrMalformedFrame, protowire.ParseError(n))
			}
			varint, b = v, b[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrMalformedFrame, protowire.ParseError(n))
			}
			raw, b = v, b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrMalformedFrame, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}

		if err := visit(num, typ, varint, raw); err != nil {
			return err
		}
	}
	return nil
}

func float32FromBits(v uint64) float64 {
	return float64(math.Float32frombits(uint32(v)))
}

func decodeHelloResponse(payload []byte) (HelloResponse, error) {
	var out HelloResponse
	err := walkFields(payload, func(num protowire.Number, _ protowire.Type, varint uint64, bytes []byte) error {
		switch num {
		case 1:
			out.APIVersionMajor = uint32(varint)
		case 2:
			out.APIVersionMinor = uint32(varint)
		case 3:
			out.ServerInfo = string(bytes)
		case 4:
			out.Name = string(bytes)
		}
		return nil
	})
	return out, err
}

// decodeConnectResponse returns whether the controller rejected the password.
func decodeConnectResponse(payload []byte) (invalidPassword bool, err error) {
	err = walkFields(payload, func(num protowire.Number, _ protowire.Type, varint uint64, _ []byte) error {
		if num == 1 {
			invalidPassword = varint != 0
		}
		return nil
	})
	return invalidPassword, err
}

func decodeDeviceInfo(payload []byte) (DeviceInfo, error) {
	var out DeviceInfo
	err := walkFields(payload, func(num protowire.Number, _ protowire.Type, varint uint64, bytes []byte) error {
		switch num {
		case 1:
			out.UsesPassword = varint != 0
		case 2:
			out.Name = string(bytes)
		case 3:
			out.MACAddress = string(bytes)
		case 4:
			out.ESPHomeVersion = string(bytes)
		case 5:
			out.CompilationTime = string(bytes)
		case 6:
			out.Model = string(bytes)
		case 7:
			out.HasDeepSleep = varint != 0
		case 8:
			out.ProjectName = string(bytes)
		case 9:
			out.ProjectVersion = string(bytes)
		}
		return nil
	})
	return out, err
}

// listEntityKinds maps list-entities message types to entity kinds.
var listEntityKinds = map[uint64]EntityKind{
	msgListEntitiesBinarySensor: KindBinarySensor,
	msgListEntitiesSensor:       KindSensor,
	msgListEntitiesSwitch:       KindSwitch,
	msgListEntitiesTextSensor:   KindTextSensor,
	msgListEntitiesNumber:       KindNumber,
	msgListEntitiesLock:         KindLock,
	msgListEntitiesButton:       KindButton,
}

// decodeEntityInfo parses one list-entities response.
//
// Fields 1-4 (object_id, key, name, unique_id) are shared across all
// entity kinds; higher field numbers diverge per kind and are switched
// accordingly.
func decodeEntityInfo(kind EntityKind, payload []byte) (EntityInfo, error) {
	out := EntityInfo{Kind: kind}
	err := walkFields(payload, func(num protowire.Number, _ protowire.Type, varint uint64, bytes []byte) error {
		switch num {
		case 1:
			out.ObjectID = string(bytes)
			return nil
		case 2:
			out.Key = uint32(varint)
			return nil
		case 3:
			out.Name = string(bytes)
			return nil
		case 4:
			out.UniqueID = string(bytes)
			return nil
		}

		switch kind {
		case KindBinarySensor:
			if num == 5 {
				out.DeviceClass = string(bytes)
			}
		case KindSensor:
			switch num {
			case 5:
				out.Icon = string(bytes)
			case 6:
				out.Unit = string(bytes)
			case 9:
				out.DeviceClass = string(bytes)
			}
		case KindSwitch, KindTextSensor, KindLock:
			if num == 5 {
				out.Icon = string(bytes)
			}
		case KindButton:
			switch num {
			case 5:
				out.Icon = string(bytes)
			case 6:
				out.DeviceClass = string(bytes)
			}
		case KindNumber:
			switch num {
			case 5:
				out.Icon = string(bytes)
			case 6:
				out.MinValue = float32FromBits(varint)
			case 7:
				out.MaxValue = float32FromBits(varint)
			case 8:
				out.Step = float32FromBits(varint)
			}
		}
		return nil
	})
	return out, err
}

// stateKinds maps state message types to entity kinds.
var stateKinds = map[uint64]EntityKind{
	msgBinarySensorState: KindBinarySensor,
	msgSensorState:       KindSensor,
	msgSwitchState:       KindSwitch,
	msgTextSensorState:   KindTextSensor,
	msgNumberState:       KindNumber,
	msgLockState:         KindLock,
}

// decodeStateUpdate parses one state response frame.
func decodeStateUpdate(msgType uint64, payload []byte) (StateUpdate, error) {
	kind, ok := stateKinds[msgType]
	if !ok {
		return StateUpdate{}, fmt.Errorf("%w: not a state message type %d", ErrMalformedFrame, msgType)
	}

	out := StateUpdate{Kind: kind}
	err := walkFields(payload, func(num protowire.Number, _ protowire.Type, varint uint64, bytes []byte) error {
		switch num {
		case 1:
			out.Key = uint32(varint)
		case 2:
			switch kind {
			case KindBinarySensor, KindSwitch:
				out.Type = StateBool
				out.Bool = varint != 0
			case KindSensor, KindNumber:
				out.Type = StateFloat
				out.Float = float32FromBits(varint)
			case KindTextSensor:
				out.Type = StateText
				out.Text = string(bytes)
			case KindLock:
				// LockState enum: report the raw state as a float for
				// uniform handling; the session maps it to text.
				out.Type = StateFloat
				out.Float = float64(varint)
			}
		case 3:
			out.Missing = varint != 0
		}
		return nil
	})
	return out, err
}
