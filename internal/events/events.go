// Package events provides the in-process bus on which the watchdog daemon
// announces faults and app changes, and the webhooks that forward them.
package events

import (
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// EventType identifies a specific event category.
type EventType string

// Watchdog events.
const (
	WatchdogExpired     EventType = "WATCHDOG_EXPIRED"
	WatchdogDoubleFault EventType = "WATCHDOG_DOUBLE_FAULT"
	ExternalKickFailed  EventType = "EXTERNAL_KICK_FAILED"
)

// App events.
const (
	AppInstalled   EventType = "APP_INSTALLED"
	AppUninstalled EventType = "APP_UNINSTALLED"
)

// AllEventTypes lists every event the daemon publishes.
var AllEventTypes = []EventType{
	WatchdogExpired,
	WatchdogDoubleFault,
	ExternalKickFailed,
	AppInstalled,
	AppUninstalled,
}

// Known reports whether t is an event the daemon publishes.
func Known(t EventType) bool {
	for _, k := range AllEventTypes {
		if k == t {
			return true
		}
	}
	return false
}

// Event carries data from a published event.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]string
}

// HandlerFunc processes an event.
type HandlerFunc func(Event)

type subscription struct {
	id      uint64
	handler HandlerFunc
}

// Bus is the central event dispatcher. It is safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	subs   map[EventType][]subscription
	nextID uint64
	logger *slog.Logger
}

// NewBus creates a new event bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[EventType][]subscription),
		logger: logger,
	}
}

// Subscribe registers a handler for the given event type and returns an ID
// for Unsubscribe.
func (b *Bus) Subscribe(eventType EventType, handler HandlerFunc) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs[eventType] = append(b.subs[eventType], subscription{id: b.nextID, handler: handler})
	return b.nextID
}

// Unsubscribe removes a subscription by ID.
func (b *Bus) Unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for eventType, subs := range b.subs {
		for i, s := range subs {
			if s.id != id {
				continue
			}
			b.subs[eventType] = append(subs[:i:i], subs[i+1:]...)
			if len(b.subs[eventType]) == 0 {
				delete(b.subs, eventType)
			}
			return
		}
	}
}

// Publish calls every subscriber of the event type synchronously, in
// registration order. Handlers run on the publisher's goroutine, which for
// watchdog events is the registry reactor, so they must not block. A
// panicking handler is recovered and logged.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	subs := b.subs[event.Type]
	if len(subs) == 0 {
		b.mu.RUnlock()
		return
	}
	handlers := make([]subscription, len(subs))
	copy(handlers, subs)
	b.mu.RUnlock()

	for _, s := range handlers {
		b.safeCall(s.handler, event)
	}
}

func (b *Bus) safeCall(handler HandlerFunc, event Event) {
	defer func() {
		if r := recover(); r != nil && b.logger != nil {
			b.logger.Error("event handler panicked", "event", string(event.Type), "panic", r)
		}
	}()
	handler(event)
}

// SubscriberCount returns the number of subscribers for an event type.
func (b *Bus) SubscriberCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[eventType])
}

// Reporter publishes watchdog expiries on the bus. It is the daemon's
// default fault reporter.
type Reporter struct {
	Bus *Bus
}

// WatchdogTimedOut publishes WATCHDOG_EXPIRED for pid.
func (r Reporter) WatchdogTimedOut(pid int) {
	r.Bus.Publish(Event{
		Type: WatchdogExpired,
		Data: map[string]string{"pid": strconv.Itoa(pid)},
	})
}
