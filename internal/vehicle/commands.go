package vehicle

import (
	"fmt"

	"github.com/evbridge/tesla-ble-bridge/internal/entity"
	"github.com/evbridge/tesla-ble-bridge/internal/infrastructure/config"
)

// Command actions. These mirror the accepted values of
// commands.overrides[].action in config.yaml.
const (
	actionPress     = "press"
	actionSwitchOn  = "switch_on"
	actionSwitchOff = "switch_off"
	actionSwitch    = "switch" // on/off taken from the request body
	actionNumber    = "number" // value taken from the request body
	actionLock      = "lock"
	actionUnlock    = "unlock"
)

// binding maps one Fleet command name onto a device entity action.
type binding struct {
	entity string
	action string

	// params lists the body fields that may carry the value, in priority
	// order. Fleet clients are inconsistent about field naming, so several
	// aliases are accepted.
	params []string
}

// defaultBindings is the built-in Fleet command table, matching the entity
// object IDs exposed by the tesla-ble ESPHome firmware. Entries can be
// overridden or extended through commands.overrides in config.yaml.
var defaultBindings = map[string]binding{
	"wake_up": {entity: "wake_up", action: actionPress},

	"charge_start": {entity: "charger", action: actionSwitchOn},
	"charge_stop":  {entity: "charger", action: actionSwitchOff},

	"set_charging_amps": {entity: "charging_amps", action: actionNumber, params: []string{"charging_amps"}},
	"set_charge_limit":  {entity: "charging_limit", action: actionNumber, params: []string{"percent", "charge_limit", "charging_limit"}},

	"auto_conditioning_start": {entity: "climate", action: actionSwitchOn},
	"auto_conditioning_stop":  {entity: "climate", action: actionSwitchOff},

	"charge_port_door_open":  {entity: "charge_port", action: actionSwitchOn},
	"charge_port_door_close": {entity: "charge_port", action: actionSwitchOff},

	"flash_lights":       {entity: "flash_light", action: actionPress},
	"honk_horn":          {entity: "sound_horn", action: actionPress},
	"unlock_charge_port": {entity: "unlock_charge_port", action: actionPress},

	"set_sentry_mode": {entity: "sentry_mode", action: actionSwitch, params: []string{"on"}},

	"door_lock":   {entity: "doors", action: actionLock},
	"door_unlock": {entity: "doors", action: actionUnlock},
}

// buildBindings merges config overrides into the default command table.
func buildBindings(overrides map[string]config.CommandBinding) map[string]binding {
	out := make(map[string]binding, len(defaultBindings)+len(overrides))
	for name, b := range defaultBindings {
		out[name] = b
	}
	for name, o := range overrides {
		b := binding{entity: o.Entity, action: o.Action}
		if o.Param != "" {
			b.params = []string{o.Param}
		}
		out[name] = b
	}
	return out
}

// resolveBinding finds the binding for a command name.
//
// Commands without a table entry fall back to direct entity addressing:
// if the name matches an entity object ID, a kind-appropriate action is
// synthesised (press for buttons, body-driven switch/number otherwise).
func (s *Session) resolveBinding(command string) (binding, error) {
	if b, ok := s.bindings[command]; ok {
		return b, nil
	}

	e, err := s.registry.GetByObjectID(command)
	if err != nil {
		return binding{}, fmt.Errorf("%w: %q", ErrUnknownCommand, command)
	}

	switch e.Kind {
	case entity.KindButton:
		return binding{entity: command, action: actionPress}, nil
	case entity.KindSwitch:
		return binding{entity: command, action: actionSwitch, params: []string{"on", "state"}}, nil
	case entity.KindNumber:
		return binding{entity: command, action: actionNumber, params: []string{"value"}}, nil
	default:
		return binding{}, fmt.Errorf("%w: entity %q is a %s", ErrUnsupportedAction, command, e.Kind)
	}
}

// extractBool pulls a boolean out of the request body using the binding's
// parameter aliases. JSON booleans and the strings "true"/"false" are
// accepted; Fleet clients send both.
func extractBool(body map[string]any, params []string) (bool, error) {
	for _, p := range params {
		raw, ok := body[p]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			switch v {
			case "true", "True":
				return true, nil
			case "false", "False":
				return false, nil
			}
		}
		return false, fmt.Errorf("%w: field %q is not a boolean", ErrUnsupportedAction, p)
	}
	return false, fmt.Errorf("%w: body needs one of %v", ErrUnsupportedAction, params)
}

// extractNumber pulls a numeric value out of the request body.
// JSON numbers arrive as float64; integer strings are tolerated.
func extractNumber(body map[string]any, params []string) (float64, error) {
	for _, p := range params {
		raw, ok := body[p]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		}
		return 0, fmt.Errorf("%w: field %q is not a number", ErrUnsupportedAction, p)
	}
	return 0, fmt.Errorf("%w: body needs one of %v", ErrUnsupportedAction, params)
}
