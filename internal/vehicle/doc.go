// Package vehicle manages the lifecycle of each configured vehicle: the
// connection supervisor, the cached entity snapshot, and Fleet command
// execution.
//
// Each vehicle gets one Session. A supervisor goroutine dials the ESP32
// controller, runs discovery into the entity registry, subscribes to
// state streaming, and reconnects with exponential backoff when the link
// drops. The session is READY while connected and DEGRADED while
// reconnecting; reads are served from the cached snapshot in both states,
// because a sleeping Tesla takes its BLE proxy down with it for hours at
// a time.
//
// Fleet command names (wake_up, charge_start, set_charging_amps, ...) are
// resolved through a binding table onto entity actions: button presses,
// switch writes, and number writes. The table ships with defaults for the
// tesla-ble firmware and accepts overrides from config.yaml. Because the
// native API does not acknowledge commands, execution ends with a ping
// round trip that confirms the device consumed the command frame.
package vehicle
