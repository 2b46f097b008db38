package entity

import (
	"sync"
	"time"
)

// EventType classifies notifier events.
type EventType string

// Event types delivered to subscribers.
const (
	// EventEntityChanged fires when an entity's value actually changed.
	EventEntityChanged EventType = "entity_changed"

	// EventStatusChanged fires when a vehicle's connection state moves.
	EventStatusChanged EventType = "status_changed"
)

// Event is one change notification.
type Event struct {
	Type      EventType
	VehicleID string
	Entity    Entity // populated for EventEntityChanged
	Status    string // populated for EventStatusChanged
	Timestamp time.Time
}

// Handler receives events. Handlers run on the notifier's dispatch
// goroutine and must not block; slow consumers should buffer internally.
type Handler func(Event)

// queueSize bounds the pending event queue. A full queue drops the oldest
// event rather than blocking the session's receive path.
const queueSize = 256

// Notifier fans out change events to subscribers.
//
// Events are queued and dispatched from a single goroutine, so handlers
// for one subscriber always observe events in publish order. A panicking
// handler is isolated and logged; it cannot take down dispatch.
type Notifier struct {
	mu       sync.RWMutex
	handlers map[int]Handler
	nextID   int
	closed   bool

	queue chan Event
	done  chan struct{}
	wg    sync.WaitGroup

	logger Logger
	onDrop func()

	droppedMu sync.Mutex
	dropped   uint64
}

// NewNotifier creates a notifier and starts its dispatch goroutine.
func NewNotifier() *Notifier {
	n := &Notifier{
		handlers: make(map[int]Handler),
		queue:    make(chan Event, queueSize),
		done:     make(chan struct{}),
		logger:   noopLogger{},
	}
	n.wg.Add(1)
	go n.dispatchLoop()
	return n
}

// SetLogger sets the logger for the notifier.
func (n *Notifier) SetLogger(logger Logger) {
	n.mu.Lock()
	n.logger = logger
	n.mu.Unlock()
}

// SetOnDrop registers a callback invoked once per dropped event, for
// surfacing drops in metrics without coupling this package to a
// metrics library.
func (n *Notifier) SetOnDrop(fn func()) {
	n.mu.Lock()
	n.onDrop = fn
	n.mu.Unlock()
}

// Subscribe registers a handler and returns an unsubscribe function.
func (n *Notifier) Subscribe(h Handler) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	n.handlers[id] = h

	return func() {
		n.mu.Lock()
		delete(n.handlers, id)
		n.mu.Unlock()
	}
}

// Publish queues an event for delivery.
//
// Never blocks: if the queue is full the oldest pending event is dropped
// and a warning logged. Returns ErrNotifierClosed after Close.
func (n *Notifier) Publish(ev Event) error {
	n.mu.RLock()
	closed := n.closed
	logger := n.logger
	onDrop := n.onDrop
	n.mu.RUnlock()
	if closed {
		return ErrNotifierClosed
	}

	for {
		select {
		case n.queue <- ev:
			return nil
		default:
			// Queue full: drop the oldest and retry.
			select {
			case old := <-n.queue:
				n.droppedMu.Lock()
				n.dropped++
				total := n.dropped
				n.droppedMu.Unlock()
				if onDrop != nil {
					onDrop()
				}
				logger.Warn("event queue full, dropping oldest",
					"dropped_type", old.Type,
					"dropped_vehicle", old.VehicleID,
					"total_dropped", total,
				)
			default:
			}
		}
	}
}

// SubscriberCount returns the number of registered handlers.
func (n *Notifier) SubscriberCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.handlers)
}

// Dropped returns the number of events discarded due to queue overflow.
func (n *Notifier) Dropped() uint64 {
	n.droppedMu.Lock()
	defer n.droppedMu.Unlock()
	return n.dropped
}

// Close stops dispatch after draining queued events.
// Publish calls after Close return ErrNotifierClosed.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	n.mu.Unlock()

	close(n.done)
	n.wg.Wait()
}

// dispatchLoop delivers queued events until Close, then drains the queue.
func (n *Notifier) dispatchLoop() {
	defer n.wg.Done()

	for {
		select {
		case ev := <-n.queue:
			n.deliver(ev)
		case <-n.done:
			for {
				select {
				case ev := <-n.queue:
					n.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

// deliver invokes every handler for one event with panic isolation.
func (n *Notifier) deliver(ev Event) {
	n.mu.RLock()
	handlers := make([]Handler, 0, len(n.handlers))
	for _, h := range n.handlers {
		handlers = append(handlers, h)
	}
	logger := n.logger
	n.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("event handler panic recovered",
						"event_type", ev.Type,
						"vehicle", ev.VehicleID,
						"panic", r,
					)
				}
			}()
			h(ev)
		}()
	}
}
