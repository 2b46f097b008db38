package entity

import (
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry holds the entity snapshot for one vehicle.
//
// Discovery replaces the whole set via ReplaceAll; state frames then merge
// into it through ApplyState. Reads always return copies so callers can
// never mutate registry-owned entries.
//
// All public methods are thread-safe.
type Registry struct {
	mu       sync.RWMutex
	byKey    map[uint32]*Entity
	byObject map[string]*Entity
	order    []uint32 // discovery order, for stable listings
	logger   Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byKey:    make(map[uint32]*Entity),
		byObject: make(map[string]*Entity),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// ReplaceAll swaps the entire entity set for a fresh discovery snapshot.
//
// Values carried by the incoming entities are kept as-is; entities that
// survive rediscovery with the same key inherit their previous value so a
// reconnect does not blank out state the device has not re-sent yet.
func (r *Registry) ReplaceAll(entities []Entity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.byKey
	r.byKey = make(map[uint32]*Entity, len(entities))
	r.byObject = make(map[string]*Entity, len(entities))
	r.order = make([]uint32, 0, len(entities))

	for i := range entities {
		e := entities[i] // copy
		if prev, ok := old[e.Key]; ok && e.Value.IsMissing() {
			e.Value = prev.Value
			e.UpdatedAt = prev.UpdatedAt
		}
		if _, dup := r.byKey[e.Key]; dup {
			r.logger.Warn("duplicate entity key in discovery, keeping first", "key", e.Key, "object_id", e.ObjectID)
			continue
		}
		r.byKey[e.Key] = &e
		r.byObject[e.ObjectID] = &e
		r.order = append(r.order, e.Key)
	}

	r.logger.Info("entity snapshot replaced", "count", len(r.order))
}

// ApplyState merges a state report into the registry.
//
// Returns the updated entity (a copy) and whether the value actually
// changed. Updates for keys outside the current snapshot return
// ErrUnknownKey; the caller decides whether that is worth a warning.
func (r *Registry) ApplyState(key uint32, value Value, at time.Time) (Entity, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byKey[key]
	if !ok {
		return Entity{}, false, fmt.Errorf("%w: %d", ErrUnknownKey, key)
	}

	changed := !e.Value.Equal(value)
	e.Value = value
	e.UpdatedAt = at

	return e.Clone(), changed, nil
}

// GetByKey retrieves an entity by its device-assigned key.
// The returned entity is a copy; callers can safely modify it.
func (r *Registry) GetByKey(key uint32) (Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byKey[key]
	if !ok {
		return Entity{}, fmt.Errorf("%w: %d", ErrUnknownKey, key)
	}
	return e.Clone(), nil
}

// GetByObjectID retrieves an entity by its object ID.
// Returns ErrNotFound if no entity matches.
func (r *Registry) GetByObjectID(objectID string) (Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byObject[objectID]
	if !ok {
		return Entity{}, fmt.Errorf("%w: %q", ErrNotFound, objectID)
	}
	return e.Clone(), nil
}

// List returns all entities in discovery order.
// The returned entities are copies; callers can safely modify them.
func (r *Registry) List() []Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entity, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.byKey[key].Clone())
	}
	return out
}

// Len returns the number of entities in the current snapshot.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKey)
}

// Clear drops the entire snapshot.
// Used when a vehicle is removed, not on reconnect: a reconnecting
// session keeps serving the previous snapshot until rediscovery lands.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byKey = make(map[uint32]*Entity)
	r.byObject = make(map[string]*Entity)
	r.order = nil
}
