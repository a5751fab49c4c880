package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus()

	var got []Event
	cancel := bus.Subscribe(func(evt Event) { got = append(got, evt) })

	bus.Publish(Event{Kind: KindSessionExpired, Message: "session expired"})
	assert.Len(t, got, 1)
	assert.Equal(t, KindSessionExpired, got[0].Kind)

	cancel()
	bus.Publish(Event{Kind: KindConnectivityChanged, Online: true})
	assert.Len(t, got, 1, "cancelled subscriber must not receive")

	// Cancel twice is a no-op.
	cancel()
}

func TestBusMultipleSubscribers(t *testing.T) {
	bus := NewBus()

	var a, b int
	bus.Subscribe(func(Event) { a++ })
	bus.Subscribe(func(Event) { b++ })

	bus.Publish(Event{Kind: KindSessionExpired})
	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
}
