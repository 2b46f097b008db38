package espnative

import "errors"

// Domain-specific errors for native API operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConnectionFailed is returned when the TCP connection cannot be established.
	ErrConnectionFailed = errors.New("espnative: connection failed")

	// ErrHandshakeFailed is returned when the Hello/Connect exchange fails.
	ErrHandshakeFailed = errors.New("espnative: handshake failed")

	// ErrInvalidPassword is returned when the controller rejects the API password.
	ErrInvalidPassword = errors.New("espnative: invalid password")

	// ErrEncryptionRequired is returned when the controller expects the
	// Noise-encrypted transport, which this client does not speak.
	ErrEncryptionRequired = errors.New("espnative: device requires encrypted transport")

	// ErrNotConnected is returned when attempting operations on a closed client.
	ErrNotConnected = errors.New("espnative: not connected")

	// ErrFrameTooLarge is returned when a frame exceeds the size limit.
	ErrFrameTooLarge = errors.New("espnative: frame exceeds size limit")

	// ErrMalformedFrame is returned when a frame cannot be parsed.
	ErrMalformedFrame = errors.New("espnative: malformed frame")

	// ErrTimeout is returned when a request gets no response in time.
	ErrTimeout = errors.New("espnative: request timed out")
)
