package espnative

import (
	"math"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

// buildPayload assembles a protobuf payload from field appenders, standing
// in for the device side of the wire.
type payloadBuilder struct {
	b []byte
}

func (p *payloadBuilder) str(num protowire.Number, v string) *payloadBuilder {
	p.b = protowire.AppendTag(p.b, num, protowire.BytesType)
	p.b = protowire.AppendString(p.b, v)
	return p
}

func (p *payloadBuilder) varint(num protowire.Number, v uint64) *payloadBuilder {
	p.b = protowire.AppendTag(p.b, num, protowire.VarintType)
	p.b = protowire.AppendVarint(p.b, v)
	return p
}

func (p *payloadBuilder) fixed32(num protowire.Number, v uint32) *payloadBuilder {
	p.b = protowire.AppendTag(p.b, num, protowire.Fixed32Type)
	p.b = protowire.AppendFixed32(p.b, v)
	return p
}

func (p *payloadBuilder) float(num protowire.Number, v float32) *payloadBuilder {
	return p.fixed32(num, math.Float32bits(v))
}

func TestDecodeHelloResponse(t *testing.T) {
	var pb payloadBuilder
	pb.varint(1, 1).varint(2, 10).str(3, "ESPHome 2024.6.0").str(4, "tesla-ble")

	hello, err := decodeHelloResponse(pb.b)
	if err != nil {
		t.Fatalf("decodeHelloResponse() error: %v", err)
	}
	if hello.APIVersionMajor != 1 || hello.APIVersionMinor != 10 {
		t.Errorf("version = %d.%d, want 1.10", hello.APIVersionMajor, hello.APIVersionMinor)
	}
	if hello.Name != "tesla-ble" {
		t.Errorf("name = %q", hello.Name)
	}
}

func TestDecodeConnectResponse(t *testing.T) {
	var pb payloadBuilder
	pb.varint(1, 1)
	invalid, err := decodeConnectResponse(pb.b)
	if err != nil {
		t.Fatalf("decodeConnectResponse() error: %v", err)
	}
	if !invalid {
		t.Error("expected invalid_password = true")
	}

	// Empty payload means accepted.
	invalid, err = decodeConnectResponse(nil)
	if err != nil || invalid {
		t.Errorf("empty payload: invalid=%v err=%v", invalid, err)
	}
}

func TestDecodeDeviceInfo(t *testing.T) {
	var pb payloadBuilder
	pb.varint(1, 1).
		str(2, "tesla-ble").
		str(3, "AA:BB:CC:DD:EE:FF").
		str(4, "2024.6.0").
		str(6, "esp32dev").
		str(8, "yoziru.esphome-tesla-ble")

	info, err := decodeDeviceInfo(pb.b)
	if err != nil {
		t.Fatalf("decodeDeviceInfo() error: %v", err)
	}
	if !info.UsesPassword {
		t.Error("uses_password not decoded")
	}
	if info.MACAddress != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("mac = %q", info.MACAddress)
	}
	if info.ProjectName != "yoziru.esphome-tesla-ble" {
		t.Errorf("project = %q", info.ProjectName)
	}
}

func TestDecodeEntityInfoNumber(t *testing.T) {
	var pb payloadBuilder
	pb.str(1, "charging_amps").
		fixed32(2, 0xdeadbeef).
		str(3, "Charging Amps").
		str(4, "tesla_charging_amps").
		float(6, 0).
		float(7, 32).
		float(8, 1)

	info, err := decodeEntityInfo(KindNumber, pb.b)
	if err != nil {
		t.Fatalf("decodeEntityInfo() error: %v", err)
	}
	if info.ObjectID != "charging_amps" || info.Key != 0xdeadbeef {
		t.Errorf("identity mismatch: %+v", info)
	}
	if info.MinValue != 0 || info.MaxValue != 32 || info.Step != 1 {
		t.Errorf("traits = [%v, %v, %v], want [0, 32, 1]", info.MinValue, info.MaxValue, info.Step)
	}
}

func TestDecodeEntityInfoSensorSkipsUnknownFields(t *testing.T) {
	var pb payloadBuilder
	pb.str(1, "battery_level").
		fixed32(2, 7).
		str(3, "Battery Level").
		str(6, "%").
		str(9, "battery").
		varint(12, 3).  // entity_category, unknown to this decoder
		str(42, "junk") // future firmware field

	info, err := decodeEntityInfo(KindSensor, pb.b)
	if err != nil {
		t.Fatalf("decodeEntityInfo() error: %v", err)
	}
	if info.Unit != "%" || info.DeviceClass != "battery" {
		t.Errorf("sensor fields not decoded: %+v", info)
	}
}

func TestDecodeStateUpdates(t *testing.T) {
	tests := []struct {
		name    string
		msgType uint64
		build   func() []byte
		check   func(t *testing.T, u StateUpdate)
	}{
		{
			name:    "sensor float",
			msgType: msgSensorState,
			build: func() []byte {
				var pb payloadBuilder
				pb.fixed32(1, 7).float(2, 72.5)
				return pb.b
			},
			check: func(t *testing.T, u StateUpdate) {
				if u.Key != 7 || u.Type != StateFloat || u.Float != 72.5 {
					t.Errorf("unexpected update: %+v", u)
				}
			},
		},
		{
			name:    "sensor missing state",
			msgType: msgSensorState,
			build: func() []byte {
				var pb payloadBuilder
				pb.fixed32(1, 7).varint(3, 1)
				return pb.b
			},
			check: func(t *testing.T, u StateUpdate) {
				if !u.Missing {
					t.Error("missing_state not decoded")
				}
			},
		},
		{
			name:    "switch bool",
			msgType: msgSwitchState,
			build: func() []byte {
				var pb payloadBuilder
				pb.fixed32(1, 9).varint(2, 1)
				return pb.b
			},
			check: func(t *testing.T, u StateUpdate) {
				if u.Type != StateBool || !u.Bool {
					t.Errorf("unexpected update: %+v", u)
				}
			},
		},
		{
			name:    "text sensor",
			msgType: msgTextSensorState,
			build: func() []byte {
				var pb payloadBuilder
				pb.fixed32(1, 11).str(2, "Charging")
				return pb.b
			},
			check: func(t *testing.T, u StateUpdate) {
				if u.Type != StateText || u.Text != "Charging" {
					t.Errorf("unexpected update: %+v", u)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := decodeStateUpdate(tt.msgType, tt.build())
			if err != nil {
				t.Fatalf("decodeStateUpdate() error: %v", err)
			}
			tt.check(t, u)
		})
	}
}

func TestEncodeCommandsRoundTrip(t *testing.T) {
	// Decode our own command encodings with protowire to confirm layout.
	b := encodeNumberCommand(0xcafe, 16)

	num, typ, n := protowire.ConsumeTag(b)
	if num != 1 || typ != protowire.Fixed32Type {
		t.Fatalf("field 1 tag = (%d, %v)", num, typ)
	}
	b = b[n:]
	key, n := protowire.ConsumeFixed32(b)
	if key != 0xcafe {
		t.Errorf("key = %#x", key)
	}
	b = b[n:]

	num, typ, n = protowire.ConsumeTag(b)
	if num != 2 || typ != protowire.Fixed32Type {
		t.Fatalf("field 2 tag = (%d, %v)", num, typ)
	}
	b = b[n:]
	bits, _ := protowire.ConsumeFixed32(b)
	if math.Float32frombits(bits) != 16 {
		t.Errorf("value = %v, want 16", math.Float32frombits(bits))
	}

	// Switch-off still encodes field 2 explicitly so the device does not
	// fall back to its default.
	b = encodeSwitchCommand(1, false)
	_, _, n = protowire.ConsumeTag(b)
	b = b[n:]
	_, n = protowire.ConsumeFixed32(b)
	b = b[n:]
	num, typ, n = protowire.ConsumeTag(b)
	if num != 2 || typ != protowire.VarintType {
		t.Fatalf("switch off: field 2 tag = (%d, %v)", num, typ)
	}
	b = b[n:]
	if v, _ := protowire.ConsumeVarint(b); v != 0 {
		t.Errorf("switch off state = %d, want 0", v)
	}
}
