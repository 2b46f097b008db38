package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/evbridge/tesla-ble-bridge/internal/entity"
)

// vehicleStatus is the bridge-native status document for one vehicle.
type vehicleStatus struct {
	VIN         string `json:"vin"`
	Status      string `json:"status"`
	Ready       bool   `json:"ready"`
	EntityCount int    `json:"entity_count"`
	Device      any    `json:"device,omitempty"`
}

func statusDoc(v Vehicle) vehicleStatus {
	doc := vehicleStatus{
		VIN:         v.ID(),
		Status:      v.Status(),
		Ready:       v.Ready(),
		EntityCount: len(v.Entities()),
	}
	if info := v.DeviceInfo(); info.Name != "" {
		doc.Device = info
	}
	return doc
}

// handleVehicleStatuses serves GET /api/v1/vehicles.
func (s *Server) handleVehicleStatuses(w http.ResponseWriter, r *http.Request) {
	vehicles := s.fleet.Vehicles()
	out := make([]vehicleStatus, 0, len(vehicles))
	for _, v := range vehicles {
		out = append(out, statusDoc(v))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleVehicleStatus serves GET /api/v1/vehicles/{vin}/status.
func (s *Server) handleVehicleStatus(w http.ResponseWriter, r *http.Request) {
	v, ok := s.resolve(w, chi.URLParam(r, "vin"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, statusDoc(v))
}

// entityDoc is one entity with its current value attached.
type entityDoc struct {
	ObjectID    string  `json:"object_id"`
	Name        string  `json:"name"`
	Kind        string  `json:"kind"`
	Unit        string  `json:"unit,omitempty"`
	DeviceClass string  `json:"device_class,omitempty"`
	Value       any     `json:"value"`
	UpdatedAt   any     `json:"updated_at,omitempty"`
	MinValue    float64 `json:"min_value,omitempty"`
	MaxValue    float64 `json:"max_value,omitempty"`
	Step        float64 `json:"step,omitempty"`
}

func newEntityDoc(e entity.Entity) entityDoc {
	doc := entityDoc{
		ObjectID:    e.ObjectID,
		Name:        e.Name,
		Kind:        string(e.Kind),
		Unit:        e.Unit,
		DeviceClass: e.DeviceClass,
		Value:       e.Value.Interface(),
		MinValue:    e.MinValue,
		MaxValue:    e.MaxValue,
		Step:        e.Step,
	}
	if !e.UpdatedAt.IsZero() {
		doc.UpdatedAt = e.UpdatedAt
	}
	return doc
}

// handleEntities serves the full entity snapshot for one vehicle. It
// backs both /api/v1/vehicles/{vin}/entities and the flat /entities
// route, where the missing VIN resolves to the default vehicle.
func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	v, ok := s.resolve(w, chi.URLParam(r, "vin"))
	if !ok {
		return
	}

	entities := v.Entities()
	out := make([]entityDoc, 0, len(entities))
	for _, e := range entities {
		out = append(out, newEntityDoc(e))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleEntity serves GET /api/v1/vehicles/{vin}/entities/{objectID}.
func (s *Server) handleEntity(w http.ResponseWriter, r *http.Request) {
	v, ok := s.resolve(w, chi.URLParam(r, "vin"))
	if !ok {
		return
	}

	e, err := v.Entity(chi.URLParam(r, "objectID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newEntityDoc(e))
}

// handleState serves GET .../state/{objectID}: just the name and its
// current value. On the flat route the missing VIN resolves to the
// default vehicle.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	v, ok := s.resolve(w, chi.URLParam(r, "vin"))
	if !ok {
		return
	}

	e, err := v.Entity(chi.URLParam(r, "objectID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"name":  e.ObjectID,
		"value": e.Value.Interface(),
	})
}

// handleButtonPress serves POST /button/{objectID}/press. The object ID
// resolves through the command fallback, which presses button entities.
func (s *Server) handleButtonPress(w http.ResponseWriter, r *http.Request) {
	s.flatCommand(w, r, chi.URLParam(r, "objectID"), nil)
}

// handleSwitchWrite serves POST /switch/{objectID} with {"state": bool}.
func (s *Server) handleSwitchWrite(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	s.flatCommand(w, r, chi.URLParam(r, "objectID"), body)
}

// handleNumberWrite serves POST /number/{objectID} with {"value": n}.
func (s *Server) handleNumberWrite(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	s.flatCommand(w, r, chi.URLParam(r, "objectID"), body)
}

// handleBattery serves GET /vehicle/battery.
func (s *Server) handleBattery(w http.ResponseWriter, r *http.Request) {
	v, ok := s.resolve(w, "default")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"battery_level": entityValue(v, "battery_level"),
	})
}

// handleCharger serves POST /vehicle/charger with {"state": bool}.
func (s *Server) handleCharger(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	s.flatCommand(w, r, "charger", body)
}

// handleChargingAmps serves POST /vehicle/charging_amps with
// {"charging_amps": n}.
func (s *Server) handleChargingAmps(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	s.flatCommand(w, r, "set_charging_amps", body)
}

// handleChargingLimit serves POST /vehicle/charging_limit with
// {"percent": n}.
func (s *Server) handleChargingLimit(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	s.flatCommand(w, r, "set_charge_limit", body)
}

// flatCommand executes a command against the default vehicle and writes
// a plain {"result": true} on success.
func (s *Server) flatCommand(w http.ResponseWriter, r *http.Request, command string, body map[string]any) {
	v, ok := s.resolve(w, "default")
	if !ok {
		return
	}

	if err := v.ExecuteCommand(r.Context(), command, body); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": true})
}
