package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeConfig writes a temporary config file and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

const validConfig = `
vehicles:
  - vin: 5YJ3E1EA7KF000000
    host: 192.168.1.50
    password: secret
mqtt:
  enable: true
  broker:
    host: broker.local
    port: 1883
  base_topic: evcc/tesla
api:
  port: 8080
logging:
  level: debug
`

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if len(cfg.Vehicles) != 1 {
		t.Fatalf("expected 1 vehicle, got %d", len(cfg.Vehicles))
	}
	v := cfg.Vehicles[0]
	if v.Host != "192.168.1.50" {
		t.Errorf("host = %q", v.Host)
	}
	if v.Port != 6053 {
		t.Errorf("expected default port 6053, got %d", v.Port)
	}
	if v.ID() != "5YJ3E1EA7KF000000" {
		t.Errorf("ID() = %q", v.ID())
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("mqtt host = %q", cfg.MQTT.Broker.Host)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q", cfg.Logging.Level)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "vehicles:\n  - host: esp32.local\n"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.MQTT.BaseTopic != "evcc/tesla" {
		t.Errorf("base topic = %q, want default evcc/tesla", cfg.MQTT.BaseTopic)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("api port = %d, want 8080", cfg.API.Port)
	}
	if got := cfg.Vehicles[0].GetInitialDelay(); got != time.Second {
		t.Errorf("initial delay = %v, want 1s", got)
	}
	if got := cfg.Vehicles[0].GetMaxDelay(); got != 2*time.Minute {
		t.Errorf("max delay = %v, want 2m", got)
	}
	if cfg.Vehicles[0].ID() != "default" {
		t.Errorf("ID() = %q, want default", cfg.Vehicles[0].ID())
	}
	if cfg.MQTT.Aliases["battery_level"] != "soc" {
		t.Errorf("topic aliases = %v, want battery_level published as soc", cfg.MQTT.Aliases)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TESLABRIDGE_MQTT_HOST", "env-broker")
	t.Setenv("TESLABRIDGE_API_PORT", "9090")
	t.Setenv("TESLABRIDGE_MQTT_BASE_TOPIC", "home/tesla")

	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.MQTT.Broker.Host != "env-broker" {
		t.Errorf("mqtt host = %q, want env-broker", cfg.MQTT.Broker.Host)
	}
	if cfg.API.Port != 9090 {
		t.Errorf("api port = %d, want 9090", cfg.API.Port)
	}
	if cfg.MQTT.BaseTopic != "home/tesla" {
		t.Errorf("base topic = %q, want home/tesla", cfg.MQTT.BaseTopic)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "no vehicles",
			yaml:    "api:\n  port: 8080\n",
			wantErr: "at least one vehicle",
		},
		{
			name:    "missing host",
			yaml:    "vehicles:\n  - vin: VIN123\n",
			wantErr: "host is required",
		},
		{
			name: "duplicate vins",
			yaml: "vehicles:\n" +
				"  - {vin: VIN123, host: a}\n" +
				"  - {vin: vin123, host: b}\n",
			wantErr: "duplicated",
		},
		{
			name: "multiple vehicles need vins",
			yaml: "vehicles:\n" +
				"  - {vin: VIN123, host: a}\n" +
				"  - {host: b}\n",
			wantErr: "vin is required",
		},
		{
			name: "bad qos",
			yaml: "vehicles:\n  - host: a\nmqtt:\n  qos: 5\n",
			wantErr: "qos",
		},
		{
			name: "bad command action",
			yaml: "vehicles:\n  - host: a\ncommands:\n  overrides:\n    foo:\n      entity: bar\n      action: wiggle\n",
			wantErr: "not recognised",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
