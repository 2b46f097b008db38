// Package espnative implements the client side of the ESPHome native API,
// the TCP protocol spoken by ESP32 controllers on port 6053.
//
// The protocol is length-prefixed protobuf. Each frame is:
//
//	[0x00][varint payload size][varint message type][payload]
//
// Messages are encoded and decoded field-by-field with encoding/protowire
// against the ESPHome api.proto schema; unknown fields are skipped, so the
// client tolerates firmware newer than this package. Only the plaintext
// transport is supported. A controller configured with a Noise encryption
// key answers the first frame with a 0x01 indicator, which surfaces as
// ErrEncryptionRequired rather than a hang.
//
// The Client owns one connection: Dial performs the Hello/Connect
// handshake, a single receive goroutine routes expected responses and
// pushes state frames onto a bounded channel, and server-initiated pings
// are answered inline. Reconnection policy lives a layer up, in the
// vehicle session supervisor.
package espnative
