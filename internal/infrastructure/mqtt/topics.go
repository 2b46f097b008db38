package mqtt

import (
	"fmt"
	"strings"
)

// Topics builds MQTT topic names under the configured base topic.
// Using these helpers keeps topic naming consistent between the publisher
// and anything subscribing downstream (evcc, Home Assistant, dashboards).
//
// The scheme is flat: {base}/{vehicle}/{field}
//
//	topics := mqtt.NewTopics("evcc/tesla")
//	topics.EntityState("5YJ3E1EA7KF000000", "battery_level")
//	// Returns: "evcc/tesla/5YJ3E1EA7KF000000/battery_level"
type Topics struct {
	base string
}

// NewTopics creates a topic builder rooted at the given base topic.
// The base must not have a trailing slash.
func NewTopics(base string) Topics {
	return Topics{base: base}
}

// EntityState returns the retained topic for a single entity value.
//
// Example: evcc/tesla/5YJ3E1EA7KF000000/charging_amps
func (t Topics) EntityState(vehicleID, objectID string) string {
	return fmt.Sprintf("%s/%s/%s", t.base, vehicleID, objectID)
}

// VehicleStatus returns the retained topic for a vehicle's connection state.
//
// Example: evcc/tesla/5YJ3E1EA7KF000000/status
func (t Topics) VehicleStatus(vehicleID string) string {
	return fmt.Sprintf("%s/%s/status", t.base, vehicleID)
}

// BridgeStatus returns the topic carrying the bridge's own online/offline
// state. The LWT is registered against this topic so subscribers can tell
// a crashed bridge from a sleeping vehicle.
//
// Example: evcc/tesla/bridge/status
func (t Topics) BridgeStatus() string {
	return fmt.Sprintf("%s/bridge/status", t.base)
}

// AllVehicleStates returns a pattern matching every published entity value.
//
// Pattern: {base}/+/+
func (t Topics) AllVehicleStates() string {
	return fmt.Sprintf("%s/+/+", t.base)
}

// VehicleCommand returns the topic a command for one vehicle arrives on.
//
// Example: evcc/tesla/5YJ3E1EA7KF000000/command/charge_start
func (t Topics) VehicleCommand(vehicleID, command string) string {
	return fmt.Sprintf("%s/%s/command/%s", t.base, vehicleID, command)
}

// CommandWildcard returns a pattern matching every vehicle command topic.
//
// Pattern: {base}/+/command/+
func (t Topics) CommandWildcard() string {
	return fmt.Sprintf("%s/+/command/+", t.base)
}

// ParseCommand extracts the vehicle ID and command name from a topic
// matched by CommandWildcard.
func (t Topics) ParseCommand(topic string) (vehicleID, command string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.base+"/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] != "command" || parts[0] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[0], parts[2], true
}
