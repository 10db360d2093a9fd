// Package events delivers realtime broker messages to registered observers.
package events

import (
	"strings"
	"time"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"
)

// Kind classifies a message by its topic.
type Kind string

const (
	KindShadow  Kind = "shadow"
	KindEvent   Kind = "event"
	KindUnknown Kind = "unknown"
)

// Message is one parsed realtime message. Payload holds the decoded JSON value: usually a
// map[string]any, but arrays, scalars and nil are delivered as the broker sent them.
type Message struct {
	Topic      string
	Payload    any
	ReceivedAt time.Time
}

// Kind reports whether the message is a shadow update or a station event.
func (m Message) Kind() Kind {
	switch {
	case strings.Contains(m.Topic, "shadow/name/"):
		return KindShadow
	case strings.HasPrefix(m.Topic, "@xsense/events"):
		return KindEvent
	}
	return KindUnknown
}

// Handler observes messages. Handlers run on the delivering goroutine and should not block.
type Handler func(Message)

// Hub fans messages out to every subscribed handler.
type Hub struct {
	handlers cmap.ConcurrentMap[string, Handler]
	logger   zerolog.Logger
}

// NewHub creates an empty Hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{handlers: cmap.New[Handler](), logger: logger}
}

// Subscribe registers h and returns a function that removes it again.
func (h *Hub) Subscribe(handler Handler) (unsubscribe func()) {
	id := uuid.NewString()
	h.handlers.Set(id, handler)
	return func() { h.handlers.Remove(id) }
}

// Emit delivers msg to all handlers. A panicking handler is logged and does not stop delivery
// to the others.
func (h *Hub) Emit(msg Message) {
	for _, handler := range h.handlers.Items() {
		h.deliver(handler, msg)
	}
}

func (h *Hub) deliver(handler Handler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().Interface("panic", r).Str("topic", msg.Topic).Msg("Message handler panicked")
		}
	}()
	handler(msg)
}

// Len returns the number of subscribed handlers.
func (h *Hub) Len() int {
	return h.handlers.Count()
}
