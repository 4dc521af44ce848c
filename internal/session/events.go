package session

import (
	"sync"

	"github.com/docchat-ai/rag-chat/internal/model"
)

// EventType identifies a category of store change.
type EventType string

const (
	EventSessionCreated         EventType = "session_created"
	EventMessageAdded           EventType = "message_added"
	EventMessageUpdated         EventType = "message_updated"
	EventCitationsAdded         EventType = "citations_added"
	EventConnectionStateChanged EventType = "connection_state_changed"
)

// Event carries a snapshot of the change that triggered it. Message and
// Citations are copies; handlers cannot mutate store state through them.
type Event struct {
	Type      EventType
	SessionID string
	Message   *model.Message
	Citations []model.Citation
	ConnState model.ConnState
}

// Handler receives store events. Handlers run synchronously on the mutating
// goroutine, after the store lock is released. A panicking handler is
// recovered and logged; it does not affect other handlers.
type Handler func(Event)

// Subscription is the unsubscribe handle returned by Subscribe.
type Subscription struct {
	once  sync.Once
	store *Store
	event EventType
	id    uint64
}

// Unsubscribe removes the handler. Safe to call more than once.
func (sub *Subscription) Unsubscribe() {
	sub.once.Do(func() {
		sub.store.mu.Lock()
		defer sub.store.mu.Unlock()
		if handlers, ok := sub.store.subs[sub.event]; ok {
			delete(handlers, sub.id)
		}
	})
}

// Subscribe registers a handler for one event type and returns its
// unsubscribe handle. Multiple handlers per event are permitted.
func (s *Store) Subscribe(event EventType, h Handler) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subs[event] == nil {
		s.subs[event] = make(map[uint64]Handler)
	}
	s.nextSubID++
	id := s.nextSubID
	s.subs[event][id] = h

	return &Subscription{store: s, event: event, id: id}
}

// handlersFor snapshots the handler list for an event. Callers must hold the
// store lock.
func (s *Store) handlersFor(event EventType) []Handler {
	handlers := make([]Handler, 0, len(s.subs[event]))
	for _, h := range s.subs[event] {
		handlers = append(handlers, h)
	}
	return handlers
}

// dispatch invokes handlers outside the store lock, recovering panics so one
// bad subscriber cannot break the others or the mutating caller.
func (s *Store) dispatch(handlers []Handler, ev Event) {
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("session event handler panicked",
						"event", string(ev.Type), "panic", r)
				}
			}()
			h(ev)
		}()
	}
}
