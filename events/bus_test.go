package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBus_PublishInSubscriptionOrder(t *testing.T) {
	bus := NewBus()

	var got []string
	bus.Subscribe(TopicTokenExpired, func(Event) { got = append(got, "first") })
	bus.Subscribe(TopicTokenExpired, func(Event) { got = append(got, "second") })
	bus.Subscribe(TopicCurrencyChanged, func(Event) { got = append(got, "other") })

	bus.Publish(NewEvent(TopicTokenExpired, nil))

	assert.Equal(t, []string{"first", "second"}, got)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()

	calls := 0
	unsubscribe := bus.Subscribe(TopicTokenExpired, func(Event) { calls++ })
	assert.Equal(t, 1, bus.Subscribers(TopicTokenExpired))

	unsubscribe()
	unsubscribe()
	bus.Publish(Event{Topic: TopicTokenExpired})

	assert.Zero(t, calls)
	assert.Zero(t, bus.Subscribers(TopicTokenExpired))
}

func TestBus_HandlerMayUnsubscribeDuringDelivery(t *testing.T) {
	bus := NewBus()

	var unsubscribe func()
	calls := 0
	unsubscribe = bus.Subscribe(TopicTokenExpired, func(Event) {
		calls++
		unsubscribe()
	})

	bus.Publish(Event{Topic: TopicTokenExpired})
	bus.Publish(Event{Topic: TopicTokenExpired})

	assert.Equal(t, 1, calls)
}

func TestEvent_GetString(t *testing.T) {
	e := NewEvent(TopicTokenExpired, map[string]interface{}{"trigger": "timer", "n": 1})

	assert.Equal(t, "timer", e.GetString("trigger"))
	assert.Empty(t, e.GetString("n"))
	assert.Empty(t, e.GetString("missing"))
	assert.False(t, e.Timestamp.IsZero())
}
