package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/evbridge/tesla-ble-bridge/internal/entity"
	"github.com/evbridge/tesla-ble-bridge/internal/vehicle"
)

// Error is the standard API error response body.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes returned by the API.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeUnavailable    = "unavailable"
	ErrCodeDeviceRejected = "device_rejected"
	ErrCodeTimeout        = "timeout"
	ErrCodeInternal       = "internal_error"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a standard error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeInternalError(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
}

// writeDomainError translates errors from the vehicle layer onto HTTP
// status codes. Unknown names are 404s, bad values are 400s, and
// connection trouble maps to the gateway family because the bridge is a
// proxy in front of the controller.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, vehicle.ErrUnknownVehicle),
		errors.Is(err, vehicle.ErrUnknownEntity),
		errors.Is(err, vehicle.ErrUnknownCommand),
		errors.Is(err, entity.ErrNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())

	case errors.Is(err, vehicle.ErrUnsupportedAction),
		errors.Is(err, vehicle.ErrValueOutOfRange):
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())

	case errors.Is(err, vehicle.ErrDeviceRejected):
		writeError(w, http.StatusBadGateway, ErrCodeDeviceRejected, err.Error())

	case errors.Is(err, vehicle.ErrCommandTimeout):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, err.Error())

	case errors.Is(err, vehicle.ErrNotReady):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())

	default:
		writeInternalError(w)
	}
}
