// Package entity holds the cached view of a vehicle controller's data
// points and the change-notification fanout built on top of it.
//
// Each configured vehicle owns one Registry. Discovery populates it with
// the full entity list (sensors, switches, buttons, numbers) reported by
// the ESP32 controller; subsequent state frames merge into the snapshot
// through ApplyState, which also performs change detection. Every read
// path (HTTP handlers, MQTT publisher, websocket feed) serves from the
// registry, never from the device, so a sleeping vehicle still answers
// with its last known state.
//
// The Notifier decouples the session's receive path from consumers:
// changed values are queued and fanned out from a dedicated goroutine,
// with a bounded queue that drops the oldest event under backpressure.
package entity
