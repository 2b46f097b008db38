// Package mqtt wraps the Eclipse Paho MQTT client for the bridge's
// publishing needs.
//
// The bridge publishes retained entity values under a configurable base
// topic so consumers like evcc pick up the latest snapshot on subscribe.
// The wrapper adds connection-state tracking, automatic re-subscription
// after broker reconnects, panic-isolated message handlers, and a Last
// Will registered on the bridge status topic so downstream systems can
// distinguish a crashed bridge from a sleeping vehicle.
//
// Topic layout (base topic "evcc/tesla" shown):
//
//	evcc/tesla/bridge/status        bridge online/offline (LWT)
//	evcc/tesla/{vin}/status         per-vehicle connection state
//	evcc/tesla/{vin}/{object_id}    individual entity values, retained
package mqtt
