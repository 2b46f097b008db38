package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Tesla BLE bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Vehicles []VehicleConfig `yaml:"vehicles"`
	MQTT     MQTTConfig      `yaml:"mqtt"`
	API      APIConfig       `yaml:"api"`
	Logging  LoggingConfig   `yaml:"logging"`
	Commands CommandsConfig  `yaml:"commands"`
}

// VehicleConfig describes one ESP32 controller and the vehicle behind it.
// Immutable after load; each entry owns exactly one supervisor + registry pair.
type VehicleConfig struct {
	// VIN is the external vehicle identifier used in HTTP routes and MQTT topics.
	// If empty, the vehicle is addressable as "default".
	VIN string `yaml:"vin"`

	// Host and Port locate the ESPHome native API endpoint on the controller.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Password is the native API password (may be empty).
	Password string `yaml:"password"`

	// EncryptionKey is the Noise PSK for encrypted native API transport.
	// Encrypted transport is not supported; a non-empty key fails at connect
	// time rather than silently connecting plaintext.
	EncryptionKey string `yaml:"encryption_key"`

	// Reconnect tunes the per-vehicle reconnection backoff.
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig contains reconnection backoff settings for a device session.
type ReconnectConfig struct {
	// InitialDelay is the first retry delay in seconds. Default: 1.
	InitialDelay int `yaml:"initial_delay"`

	// MaxDelay caps the exponential backoff, in seconds. Default: 120.
	MaxDelay int `yaml:"max_delay"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	// Enable turns the MQTT publisher on. The HTTP surface works without it.
	Enable    bool             `yaml:"enable"`
	Broker    MQTTBrokerConfig `yaml:"broker"`
	Auth      MQTTAuthConfig   `yaml:"auth"`
	QoS       int              `yaml:"qos"`
	BaseTopic string           `yaml:"base_topic"`

	// Aliases renames selected entities on their MQTT topics, keyed by
	// object_id. By default the firmware's battery_level publishes as
	// "soc", the name charging dashboards conventionally subscribe to.
	Aliases map[string]string `yaml:"topic_aliases"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// CommandsConfig allows overriding or extending the built-in Fleet
// command-to-entity mapping table. Keys are Fleet command names.
type CommandsConfig struct {
	Overrides map[string]CommandBinding `yaml:"overrides"`
}

// CommandBinding points a Fleet command at a device entity.
type CommandBinding struct {
	// Entity is the object_id of the target entity on the controller.
	Entity string `yaml:"entity"`

	// Action is one of "press", "switch_on", "switch_off", "switch",
	// "number", "lock", "unlock".
	Action string `yaml:"action"`

	// Param names the JSON body field carrying the value for "switch" and
	// "number" actions (e.g. "percent" for set_charge_limit).
	Param string `yaml:"param"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: TESLABRIDGE_SECTION_KEY
// For example: TESLABRIDGE_MQTT_HOST, TESLABRIDGE_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)
	applyVehicleDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Enable: true,
			Broker: MQTTBrokerConfig{
				Host:     "mqtt",
				Port:     1883,
				ClientID: "tesla-ble-bridge",
			},
			QoS:       1,
			BaseTopic: "evcc/tesla",
			Aliases: map[string]string{
				"battery_level": "soc",
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyVehicleDefaults fills per-vehicle defaults left unset in the file.
func applyVehicleDefaults(cfg *Config) {
	for i := range cfg.Vehicles {
		v := &cfg.Vehicles[i]
		if v.Port == 0 {
			v.Port = 6053
		}
		if v.Reconnect.InitialDelay == 0 {
			v.Reconnect.InitialDelay = 1
		}
		if v.Reconnect.MaxDelay == 0 {
			v.Reconnect.MaxDelay = 120
		}
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: TESLABRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("TESLABRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("TESLABRIDGE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("TESLABRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("TESLABRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("TESLABRIDGE_MQTT_BASE_TOPIC"); v != "" {
		cfg.MQTT.BaseTopic = v
	}

	// API
	if v := os.Getenv("TESLABRIDGE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("TESLABRIDGE_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// Logging
	if v := os.Getenv("TESLABRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if len(c.Vehicles) == 0 {
		errs = append(errs, "vehicles: at least one vehicle is required")
	}

	seen := make(map[string]bool, len(c.Vehicles))
	for i, v := range c.Vehicles {
		if v.Host == "" {
			errs = append(errs, fmt.Sprintf("vehicles[%d].host is required", i))
		}
		if v.Port < 1 || v.Port > 65535 {
			errs = append(errs, fmt.Sprintf("vehicles[%d].port must be between 1 and 65535", i))
		}
		vin := strings.ToUpper(v.VIN)
		if vin != "" && seen[vin] {
			errs = append(errs, fmt.Sprintf("vehicles[%d].vin %q is duplicated", i, v.VIN))
		}
		seen[vin] = true
	}
	if len(c.Vehicles) > 1 {
		for i, v := range c.Vehicles {
			if v.VIN == "" {
				errs = append(errs, fmt.Sprintf("vehicles[%d].vin is required when multiple vehicles are configured", i))
			}
		}
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enable && c.MQTT.BaseTopic == "" {
		errs = append(errs, "mqtt.base_topic is required when mqtt is enabled")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	for name, b := range c.Commands.Overrides {
		switch b.Action {
		case "press", "switch_on", "switch_off", "switch", "number", "lock", "unlock":
		default:
			errs = append(errs, fmt.Sprintf("commands.overrides[%s].action %q is not recognised", name, b.Action))
		}
		if b.Entity == "" {
			errs = append(errs, fmt.Sprintf("commands.overrides[%s].entity is required", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetInitialDelay returns the vehicle's initial reconnect delay as a Duration.
func (v *VehicleConfig) GetInitialDelay() time.Duration {
	return time.Duration(v.Reconnect.InitialDelay) * time.Second
}

// GetMaxDelay returns the vehicle's maximum reconnect delay as a Duration.
func (v *VehicleConfig) GetMaxDelay() time.Duration {
	return time.Duration(v.Reconnect.MaxDelay) * time.Second
}

// ID returns the external identifier for this vehicle: the upper-cased VIN,
// or "default" when no VIN is configured.
func (v *VehicleConfig) ID() string {
	if v.VIN == "" {
		return "default"
	}
	return strings.ToUpper(v.VIN)
}
