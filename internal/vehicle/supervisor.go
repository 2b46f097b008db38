package vehicle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/evbridge/tesla-ble-bridge/internal/entity"
	"github.com/evbridge/tesla-ble-bridge/internal/espnative"
	"github.com/evbridge/tesla-ble-bridge/internal/metrics"
)

// supervise owns the connect/serve/reconnect cycle for one vehicle.
//
// It runs until Close or context cancellation. Each failed attempt backs
// off exponentially up to the configured maximum; only a cycle that
// reached READY resets the backoff, so a controller that accepts the
// handshake but keeps failing discovery still backs off fully.
func (s *Session) supervise(ctx context.Context) {
	defer s.wg.Done()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.GetInitialDelay()
	bo.MaxInterval = s.cfg.GetMaxDelay()
	bo.MaxElapsedTime = 0 // retry forever; the vehicle sleeps for hours
	bo.Reset()

	for {
		if s.isClosed() || ctx.Err() != nil {
			return
		}

		ready, err := s.runOnce(ctx)
		if s.isClosed() || ctx.Err() != nil {
			return
		}
		if ready {
			bo.Reset()
		}

		// Keep serving the old snapshot while reconnecting.
		if s.registry.Len() > 0 {
			s.setState(StateDegraded, err)
		} else {
			s.setState(StateConnecting, err)
		}

		wait := bo.NextBackOff()
		s.logger.Warn("connection attempt failed",
			"vehicle", s.id,
			"error", err,
			"retry_in", wait.String(),
		)

		select {
		case <-s.done.Done():
			return
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// runOnce performs one full connection cycle: dial, handshake, discovery,
// subscription, then state consumption until the connection drops.
//
// Returns whether the cycle reached READY, and the terminating error.
// A dial that succeeds but then fails before READY counts as a failed
// cycle for backoff purposes.
func (s *Session) runOnce(ctx context.Context) (bool, error) {
	client, err := espnative.Dial(ctx, espnative.Config{
		Host:       s.cfg.Host,
		Port:       s.cfg.Port,
		Password:   s.cfg.Password,
		ClientInfo: "tesla-ble-bridge",
	})
	if err != nil {
		if errors.Is(err, espnative.ErrInvalidPassword) {
			// Credentials will not fix themselves, but an OTA update can
			// change them on the device, so keep retrying at full backoff.
			s.logger.Error("controller rejected password", "vehicle", s.id)
		}
		return false, err
	}
	if logger, ok := s.logger.(espnative.Logger); ok {
		client.SetLogger(logger)
	}
	s.setClient(client)

	info, err := client.DeviceInfo(ctx)
	if err != nil {
		client.Close()
		return false, fmt.Errorf("fetching device info: %w", err)
	}
	s.deviceMu.Lock()
	s.deviceInfo = info
	s.deviceMu.Unlock()

	entities, err := client.ListEntities(ctx)
	if err != nil {
		client.Close()
		return false, fmt.Errorf("entity discovery: %w", err)
	}
	s.registry.ReplaceAll(convertEntities(entities))
	metrics.EntityCount.WithLabelValues(s.id).Set(float64(len(entities)))

	if err := client.SubscribeStates(); err != nil {
		client.Close()
		return false, fmt.Errorf("subscribing to states: %w", err)
	}

	s.setState(StateReady, nil)
	metrics.ReconnectsTotal.WithLabelValues(s.id).Inc()
	s.logger.Info("vehicle connected",
		"vehicle", s.id,
		"device", info.Name,
		"esphome_version", info.ESPHomeVersion,
		"entities", len(entities),
	)

	return true, s.consume(ctx, client)
}

// consume pumps state updates into the registry until the connection
// drops or shutdown is requested.
func (s *Session) consume(ctx context.Context, client *espnative.Client) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done.Done():
			client.Close()
			return nil

		case <-ctx.Done():
			client.Close()
			return ctx.Err()

		case <-client.Done():
			return fmt.Errorf("connection lost")

		case update := <-client.States():
			s.applyUpdate(update)

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			err := client.Ping(pingCtx)
			cancel()
			if err != nil {
				client.Close()
				return fmt.Errorf("keepalive: %w", err)
			}
		}
	}
}

// applyUpdate merges one state frame into the registry and notifies on change.
func (s *Session) applyUpdate(update espnative.StateUpdate) {
	value := convertValue(update)

	e, changed, err := s.registry.ApplyState(update.Key, value, time.Now())
	if err != nil {
		// Keys outside the snapshot happen briefly around rediscovery.
		s.logger.Debug("state for unknown key", "vehicle", s.id, "key", update.Key)
		return
	}

	metrics.StateUpdatesTotal.WithLabelValues(s.id).Inc()

	if changed && s.notifier != nil {
		s.notifier.Publish(entity.Event{
			Type:      entity.EventEntityChanged,
			VehicleID: s.id,
			Entity:    e,
			Timestamp: time.Now(),
		})
	}
}

// lockStateNames maps the ESPHome LockState enum onto readable values.
var lockStateNames = map[int]string{
	0: "none",
	1: "locked",
	2: "unlocked",
	3: "jammed",
	4: "locking",
	5: "unlocking",
}

// convertValue translates a wire-level state update into a registry value.
func convertValue(update espnative.StateUpdate) entity.Value {
	if update.Missing {
		return entity.MissingValue()
	}

	if update.Kind == espnative.KindLock {
		if name, ok := lockStateNames[int(update.Float)]; ok {
			return entity.TextValue(name)
		}
		return entity.TextValue("unknown")
	}

	switch update.Type {
	case espnative.StateBool:
		return entity.BoolValue(update.Bool)
	case espnative.StateFloat:
		return entity.FloatValue(update.Float)
	case espnative.StateText:
		return entity.TextValue(update.Text)
	default:
		return entity.MissingValue()
	}
}

// convertEntities translates discovery results into registry entities,
// preserving device order.
func convertEntities(infos []espnative.EntityInfo) []entity.Entity {
	out := make([]entity.Entity, 0, len(infos))
	for _, info := range infos {
		out = append(out, entity.Entity{
			Key:         info.Key,
			ObjectID:    info.ObjectID,
			Name:        info.Name,
			UniqueID:    info.UniqueID,
			Kind:        entity.Kind(info.Kind),
			Unit:        info.Unit,
			DeviceClass: info.DeviceClass,
			MinValue:    info.MinValue,
			MaxValue:    info.MaxValue,
			Step:        info.Step,
		})
	}
	return out
}
