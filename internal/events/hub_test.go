package events

import (
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestHub_SubscribeEmitUnsubscribe(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	var a, b atomic.Int32

	cancelA := hub.Subscribe(func(Message) { a.Add(1) })
	hub.Subscribe(func(Message) { b.Add(1) })
	assert.Equal(t, 2, hub.Len())

	hub.Emit(Message{Topic: "t"})
	cancelA()
	hub.Emit(Message{Topic: "t"})

	assert.EqualValues(t, 1, a.Load())
	assert.EqualValues(t, 2, b.Load())
	assert.Equal(t, 1, hub.Len())
}

func TestHub_PanickingHandlerDoesNotStopDelivery(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	var delivered atomic.Bool
	hub.Subscribe(func(Message) { panic("boom") })
	hub.Subscribe(func(Message) { delivered.Store(true) })

	assert.NotPanics(t, func() { hub.Emit(Message{Topic: "t"}) })
	assert.True(t, delivered.Load())
}

func TestMessage_Kind(t *testing.T) {
	assert.Equal(t, KindShadow, Message{Topic: "$aws/things/H1_S1/shadow/name/2nd_mainpage/update"}.Kind())
	assert.Equal(t, KindEvent, Message{Topic: "@xsense/events/1/H1/H1_S1"}.Kind())
	assert.Equal(t, KindUnknown, Message{Topic: "other"}.Kind())
}
