// Package events provides the typed publish/subscribe broadcaster for
// the SDK's fixed set of lifecycle and action events.
package events

import (
	"sync"

	"go.uber.org/zap"

	"github.com/narvar/shipping-protection-sdk/protection"
)

// Listener receives an event name with its payload. Listeners run on
// the emitting goroutine; panics are recovered so a faulty host
// listener can never break SDK dispatch.
type Listener func(name protection.Event, payload protection.Payload)

// AmbientSink receives a copy of every emitted event regardless of
// subscriptions, mirroring the document-level re-dispatch the web
// embedding performs for passive observers.
type AmbientSink func(name protection.Event, payload protection.Payload)

type subscription struct {
	id int
	fn Listener
}

// Bus is a broadcaster keyed by event name. The listener set is
// guarded by a RWMutex; Emit snapshots the subscriptions and invokes
// them outside the lock so listeners may subscribe or unsubscribe
// reentrantly.
type Bus struct {
	mu      sync.RWMutex
	nextID  int
	byEvent map[protection.Event][]subscription
	ambient AmbientSink
	logger  *zap.Logger
}

// NewBus constructs an empty bus. A nil logger is replaced with a nop.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		byEvent: make(map[protection.Event][]subscription),
		logger:  logger,
	}
}

// SetAmbientSink installs or clears the passive observer sink.
func (b *Bus) SetAmbientSink(sink AmbientSink) {
	b.mu.Lock()
	b.ambient = sink
	b.mu.Unlock()
}

// On registers listener for name and returns a subscription ID for Off.
func (b *Bus) On(name protection.Event, listener Listener) int {
	if listener == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.byEvent[name] = append(b.byEvent[name], subscription{id: id, fn: listener})
	return id
}

// Off removes the subscription with the given ID from name.
func (b *Bus) Off(name protection.Event, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.byEvent[name]
	for i, sub := range subs {
		if sub.id == id {
			b.byEvent[name] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Emit delivers payload to every listener registered for name and then
// to the ambient sink. Listener panics are recovered and logged.
func (b *Bus) Emit(name protection.Event, payload protection.Payload) {
	if payload == nil {
		payload = protection.Payload{}
	}

	b.mu.RLock()
	subs := make([]subscription, len(b.byEvent[name]))
	copy(subs, b.byEvent[name])
	ambient := b.ambient
	b.mu.RUnlock()

	for _, sub := range subs {
		b.safeDispatch(name, payload, sub.fn)
	}
	if ambient != nil {
		b.safeDispatch(name, payload, Listener(ambient))
	}
}

// RemoveAll drops every subscription and the ambient sink.
func (b *Bus) RemoveAll() {
	b.mu.Lock()
	b.byEvent = make(map[protection.Event][]subscription)
	b.ambient = nil
	b.mu.Unlock()
}

func (b *Bus) safeDispatch(name protection.Event, payload protection.Payload, fn Listener) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("event listener panicked",
				zap.String("event", string(name)),
				zap.Any("panic", r))
		}
	}()
	fn(name, payload)
}
