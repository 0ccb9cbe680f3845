/*
The broker tracks who is listening for what on a connection. There are two
listener tables: an internal one keyed by event name, used for the
connection's own traffic, and a per-channel one for application events. Each
table slot holds exactly one handler; binding again on the same key replaces
whatever was there.

Lookups happen under the lock, handler invocations never do, so a handler is
free to call back into the connection.
*/
package broker

import (
	"encoding/json"
	"reflect"
	"sync"
)

type EventHandler func(data json.RawMessage)

type Broker struct {
	lock sync.RWMutex

	// connection-internal listeners, keyed by event name
	internal map[string]EventHandler

	// channel-scoped listeners, keyed by channel name then event name
	channels map[string]map[string]EventHandler
}

func New() *Broker {
	return &Broker{
		internal: make(map[string]EventHandler),
		channels: make(map[string]map[string]EventHandler),
	}
}

// On registers an internal listener for an event, replacing any previous one
func (b *Broker) On(event string, handler EventHandler) {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.internal[event] = handler
}

// Off removes the internal listener for an event. When a handler is given,
// the entry only goes away if it holds that same function; a nil handler
// removes unconditionally.
func (b *Broker) Off(event string, handler EventHandler) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if handler == nil {
		delete(b.internal, event)
		return
	}

	if registered, ok := b.internal[event]; ok && sameHandler(registered, handler) {
		delete(b.internal, event)
	}
}

// Bind registers a channel-scoped listener, creating the channel's table on
// first use
func (b *Broker) Bind(channelName string, event string, handler EventHandler) {
	b.lock.Lock()
	defer b.lock.Unlock()

	listeners, ok := b.channels[channelName]
	if !ok {
		listeners = make(map[string]EventHandler)
		b.channels[channelName] = listeners
	}

	listeners[event] = handler
}

// UnbindAll drops a channel's whole listener table
func (b *Broker) UnbindAll(channelName string) {
	b.lock.Lock()
	defer b.lock.Unlock()

	delete(b.channels, channelName)
}

// ClearInternal drops every internal listener
func (b *Broker) ClearInternal() {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.internal = make(map[string]EventHandler)
}

// DirectEvent hands the payload to the internal listener for the event,
// reporting whether one ran
func (b *Broker) DirectEvent(event string, data json.RawMessage) bool {
	b.lock.RLock()
	handler, ok := b.internal[event]
	b.lock.RUnlock()

	if !ok {
		return false
	}

	handler(data)
	return true
}

// DirectMessage hands the payload to the listener bound for that channel and
// event, reporting whether one ran
func (b *Broker) DirectMessage(channelName string, event string, data json.RawMessage) bool {
	b.lock.RLock()
	var handler EventHandler
	listeners, ok := b.channels[channelName]
	if ok {
		handler, ok = listeners[event]
	}
	b.lock.RUnlock()

	if !ok {
		return false
	}

	handler(data)
	return true
}

// Two handlers are the same when they point at the same function
func sameHandler(a EventHandler, b EventHandler) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}
