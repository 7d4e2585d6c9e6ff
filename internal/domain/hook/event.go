package hook

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a transient plugin lifecycle notification, queued by the
// host and drained by the background agent.
type Event struct {
	ID      string
	Type    string
	Plugin  string
	Payload map[string]any
	Time    time.Time
	Source  string
}

// NewEvent builds an event originating from the plugin manager.
func NewEvent(eventType, plugin string, payload map[string]any) Event {
	return Event{
		ID:      uuid.NewString(),
		Type:    eventType,
		Plugin:  plugin,
		Payload: payload,
		Time:    time.Now(),
		Source:  "plugin_manager",
	}
}

// EventHandler consumes a drained event.
type EventHandler func(Event)

// Queue is a channel-fed event queue. Enqueue never blocks the
// lifecycle path: when the buffer is full the oldest behavior is to
// drop the event with a log entry rather than stall a caller. Events
// are dispatched in enqueue order within one drain cycle; events
// enqueued during dispatch land in the next cycle.
type Queue struct {
	logger *slog.Logger
	ch     chan Event

	mu       sync.Mutex
	handlers map[string][]EventHandler
}

// NewQueue creates an event queue with the given buffer size.
func NewQueue(logger *slog.Logger, size int) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	if size <= 0 {
		size = 256
	}
	return &Queue{
		logger:   logger.With("component", "events"),
		ch:       make(chan Event, size),
		handlers: make(map[string][]EventHandler),
	}
}

// Subscribe registers a handler for an event type.
func (q *Queue) Subscribe(eventType string, handler EventHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[eventType] = append(q.handlers[eventType], handler)
}

// Emit enqueues an event without blocking.
func (q *Queue) Emit(e Event) {
	select {
	case q.ch <- e:
	default:
		q.logger.Warn("event queue full, dropping event", "type", e.Type, "plugin", e.Plugin)
	}
}

// Wait returns the channel the agent selects on; a receive wakes the
// drain cycle without polling.
func (q *Queue) Wait() <-chan Event {
	return q.ch
}

// Drain dispatches first and every other currently-queued event to the
// subscribed handlers. A handler panic is logged and dispatch
// continues.
func (q *Queue) Drain(first Event) {
	q.dispatch(first)
	for {
		select {
		case e := <-q.ch:
			q.dispatch(e)
		default:
			return
		}
	}
}

func (q *Queue) dispatch(e Event) {
	q.mu.Lock()
	handlers := make([]EventHandler, len(q.handlers[e.Type]))
	copy(handlers, q.handlers[e.Type])
	q.mu.Unlock()

	for _, handler := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					q.logger.Error("event handler panicked", "type", e.Type, "panic", r)
				}
			}()
			handler(e)
		}()
	}
}
