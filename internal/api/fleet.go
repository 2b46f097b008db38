package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// waitPollInterval and waitPollAttempts bound the best-effort ?wait=true
// confirmation loop after charge_start / charge_stop.
const (
	waitPollInterval = time.Second
	waitPollAttempts = 10
)

// fleetResp wraps data in the Fleet API response envelope.
func fleetResp(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, map[string]any{"response": data})
}

// resolve looks up the vehicle for a request, writing the error response
// itself on failure.
func (s *Server) resolve(w http.ResponseWriter, vin string) (Vehicle, bool) {
	v, err := s.fleet.Resolve(vin)
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	return v, true
}

// decodeBody parses an optional JSON object body. An empty body yields an
// empty map, matching clients that POST commands without parameters.
func decodeBody(r *http.Request) (map[string]any, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return map[string]any{}, nil
	}

	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, err
	}
	return body, nil
}

// entityValue returns an entity's JSON-ready value, or nil when the
// entity is unknown or has no state yet.
func entityValue(v Vehicle, objectID string) any {
	e, err := v.Entity(objectID)
	if err != nil {
		return nil
	}
	return e.Value.Interface()
}

// entityBool coerces an entity value to bool. Lock entities report text
// states, so "locked" counts as true.
func entityBool(v Vehicle, objectID string) bool {
	switch val := entityValue(v, objectID).(type) {
	case bool:
		return val
	case float64:
		return val != 0
	case string:
		return val == "locked" || val == "true" || val == "on"
	default:
		return false
	}
}

// handleFleetVehicles lists all vehicles in Fleet list shape.
func (s *Server) handleFleetVehicles(w http.ResponseWriter, r *http.Request) {
	vehicles := s.fleet.Vehicles()

	list := make([]map[string]any, 0, len(vehicles))
	for _, v := range vehicles {
		state := "asleep"
		if v.Ready() {
			state = "online"
		}
		list = append(list, map[string]any{
			"vin":          v.ID(),
			"display_name": v.DeviceInfo().Name,
			"state":        state,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"response": list,
		"count":    len(list),
	})
}

// handleVehicleData serves GET /api/1/vehicles/{vin}/vehicle_data.
//
// The endpoints query parameter selects which sections to include
// (comma-separated); absent means all supported sections.
func (s *Server) handleVehicleData(w http.ResponseWriter, r *http.Request) {
	v, ok := s.resolve(w, chi.URLParam(r, "vin"))
	if !ok {
		return
	}

	wanted := map[string]bool{"charge_state": true, "climate_state": true}
	if raw := r.URL.Query().Get("endpoints"); raw != "" {
		wanted = make(map[string]bool)
		for _, ep := range strings.Split(raw, ",") {
			wanted[strings.TrimSpace(ep)] = true
		}
	}

	data := map[string]any{"vin": v.ID()}
	if wanted["charge_state"] {
		data["charge_state"] = buildChargeState(v)
	}
	if wanted["climate_state"] {
		data["climate_state"] = buildClimateState(v)
	}

	fleetResp(w, data)
}

// buildChargeState assembles the Fleet charge_state section from the
// cached entity snapshot.
func buildChargeState(v Vehicle) map[string]any {
	chargingState := "Stopped"
	if entityBool(v, "charging") {
		chargingState = "Charging"
	}
	return map[string]any{
		"battery_level":          entityValue(v, "battery_level"),
		"charge_port_door_open":  entityValue(v, "charge_port_door_open"),
		"charging_state":         chargingState,
		"charge_limit_soc":       entityValue(v, "charging_limit"),
		"charge_current_request": entityValue(v, "charging_amps"),
	}
}

// buildClimateState assembles the Fleet climate_state section.
func buildClimateState(v Vehicle) map[string]any {
	return map[string]any{
		"inside_temp":             entityValue(v, "inside_temp"),
		"outside_temp":            entityValue(v, "outside_temp"),
		"is_auto_conditioning_on": entityValue(v, "is_auto_conditioning_on"),
	}
}

// handleBodyControllerState serves the Fleet body controller shape.
// Sleep status is derived from the link: an unreachable BLE proxy means
// the car took it down, which means the car is asleep.
func (s *Server) handleBodyControllerState(w http.ResponseWriter, r *http.Request) {
	v, ok := s.resolve(w, chi.URLParam(r, "vin"))
	if !ok {
		return
	}

	lockState := "VEHICLELOCKSTATE_UNLOCKED"
	if entityBool(v, "vehicle_locked") {
		lockState = "VEHICLELOCKSTATE_LOCKED"
	}
	sleepStatus := "VEHICLE_SLEEP_STATUS_ASLEEP"
	if v.Ready() {
		sleepStatus = "VEHICLE_SLEEP_STATUS_AWAKE"
	}

	fleetResp(w, map[string]any{
		"vehicleLockState":   lockState,
		"vehicleSleepStatus": sleepStatus,
		"userPresence":       "VEHICLE_USER_PRESENCE_UNKNOWN",
	})
}

// handleWakeUp serves POST /api/1/vehicles/{vin}/wake_up and the flat
// /vehicle/wake_up route (where the VIN param is empty and resolves to
// the default vehicle).
func (s *Server) handleWakeUp(w http.ResponseWriter, r *http.Request) {
	v, ok := s.resolve(w, chi.URLParam(r, "vin"))
	if !ok {
		return
	}

	if err := v.ExecuteCommand(r.Context(), "wake_up", nil); err != nil {
		writeDomainError(w, err)
		return
	}
	fleetResp(w, map[string]any{"result": true})
}

// handleCommand serves POST /api/1/vehicles/{vin}/command/{command}.
//
// With ?wait=true, charge_start and charge_stop poll the charging state
// until it matches or ~10 seconds pass. The wait is best effort: a
// timeout still returns success because the command itself was accepted.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	v, ok := s.resolve(w, chi.URLParam(r, "vin"))
	if !ok {
		return
	}
	command := chi.URLParam(r, "command")

	body, err := decodeBody(r)
	if err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := v.ExecuteCommand(r.Context(), command, body); err != nil {
		writeDomainError(w, err)
		return
	}

	if r.URL.Query().Get("wait") == "true" && (command == "charge_start" || command == "charge_stop") {
		s.awaitChargingState(r, v, command == "charge_start")
	}

	fleetResp(w, map[string]any{"result": true})
}

// awaitChargingState polls the charging entity until it reaches the
// target state, the attempt budget runs out, or the request is cancelled.
func (s *Server) awaitChargingState(r *http.Request, v Vehicle, target bool) {
	for i := 0; i < waitPollAttempts; i++ {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(waitPollInterval):
		}
		if entityBool(v, "charging") == target {
			return
		}
	}
}

// handleProxyVersion mimics the tesla-http-proxy version endpoint so
// clients probing for a proxy accept the bridge.
func (s *Server) handleProxyVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}
