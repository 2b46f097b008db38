package vehicle

import "errors"

// Domain-specific errors for vehicle operations. The API layer maps these
// onto HTTP status codes, so use errors.Is() rather than string matching.
var (
	// ErrUnknownVehicle is returned when no configured vehicle matches the VIN.
	ErrUnknownVehicle = errors.New("vehicle: unknown vehicle")

	// ErrUnknownEntity is returned when a command's target entity is not
	// in the current discovery snapshot.
	ErrUnknownEntity = errors.New("vehicle: unknown entity")

	// ErrUnknownCommand is returned when no binding matches a command name.
	ErrUnknownCommand = errors.New("vehicle: unknown command")

	// ErrUnsupportedAction is returned when a command body is malformed or
	// the bound entity kind cannot perform the requested action.
	ErrUnsupportedAction = errors.New("vehicle: unsupported action")

	// ErrValueOutOfRange is returned when a number command falls outside
	// the entity's advertised min/max.
	ErrValueOutOfRange = errors.New("vehicle: value out of range")

	// ErrNotReady is returned for commands while the session is not READY.
	// State reads still succeed from the cached snapshot.
	ErrNotReady = errors.New("vehicle: session not ready")

	// ErrCommandTimeout is returned when the post-command acknowledgement
	// round trip does not complete in time.
	ErrCommandTimeout = errors.New("vehicle: command timed out")

	// ErrDeviceRejected is returned when the controller connection accepted
	// the link but the command could not be delivered.
	ErrDeviceRejected = errors.New("vehicle: device rejected command")

	// ErrEncryptionUnsupported is returned at startup for vehicles
	// configured with a Noise encryption key.
	ErrEncryptionUnsupported = errors.New("vehicle: encrypted native API transport is not supported")
)
