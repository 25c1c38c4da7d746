package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(4)
	defer cancel()

	bus.Publish(Event{Type: DataRefreshed})

	select {
	case e := <-ch:
		assert.Equal(t, DataRefreshed, e.Type)
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.At.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewBus()
	_, cancel := bus.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(Event{Type: DataChanged, Kind: "product"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	require.Equal(t, 1, bus.Subscribers())

	cancel()
	cancel() // second call is a no-op
	assert.Equal(t, 0, bus.Subscribers())

	_, open := <-ch
	assert.False(t, open)

	bus.Publish(Event{Type: DataRefreshed})
}

func TestEvent_For(t *testing.T) {
	open := Event{Type: DataChanged}
	scoped := Event{Type: DataRefreshed, Scope: "session:a"}

	assert.True(t, open.For(""))
	assert.True(t, open.For("session:a"))
	assert.True(t, scoped.For("session:a"))
	assert.False(t, scoped.For("session:b"))
	assert.False(t, scoped.For(""))
}
