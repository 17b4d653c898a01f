package events

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversToSubscriber(t *testing.T) {
	bus := NewBus(8)
	defer bus.Stop()

	got := make(chan Event, 1)
	bus.Subscribe(EventTypeTaskCompleted, func(e Event) { got <- e })

	bus.Publish(Event{
		Type: EventTypeTaskCompleted,
		Data: map[string]interface{}{"task_id": "abc"},
	})

	select {
	case e := <-got:
		assert.Equal(t, "abc", e.Data["task_id"])
		assert.False(t, e.Timestamp.IsZero(), "publish fills a missing timestamp")
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus(16)

	var order []string
	done := make(chan struct{})
	bus.Subscribe(EventTypeTaskStatusChanged, func(e Event) {
		order = append(order, e.Data["to"].(string))
		if len(order) == 3 {
			close(done)
		}
	})

	for _, to := range []string{"running", "paused", "running"} {
		bus.Publish(NewTaskStatusChangedEvent("id", "name", "x", to))
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("events not delivered")
	}
	bus.Stop()
	assert.Equal(t, []string{"running", "paused", "running"}, order)
}

func TestBusOnlyMatchingTypeDelivered(t *testing.T) {
	bus := NewBus(8)
	defer bus.Stop()

	var calls int32
	bus.Subscribe(EventTypeDeviceError, func(e Event) { atomic.AddInt32(&calls, 1) })

	bus.Publish(NewSceneChangedEvent("a", "b"))
	bus.Publish(NewTaskStatusChangedEvent("id", "n", "a", "b"))
	time.Sleep(50 * time.Millisecond)

	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus(8)
	defer bus.Stop()

	var calls int32
	id := bus.Subscribe(EventTypeSceneChanged, func(e Event) { atomic.AddInt32(&calls, 1) })
	require.Equal(t, 1, bus.SubscriberCount(EventTypeSceneChanged))

	bus.Unsubscribe(id)
	assert.Zero(t, bus.SubscriberCount(EventTypeSceneChanged))

	bus.Publish(NewSceneChangedEvent("a", "b"))
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestBusStopDrainsQueue(t *testing.T) {
	bus := NewBus(16)

	var delivered int32
	bus.Subscribe(EventTypeTaskCompleted, func(e Event) {
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&delivered, 1)
	})

	for i := 0; i < 10; i++ {
		bus.Publish(Event{Type: EventTypeTaskCompleted})
	}
	bus.Stop()

	assert.Equal(t, int32(10), atomic.LoadInt32(&delivered))
}

func TestBusHandlerPanicDoesNotKillDispatch(t *testing.T) {
	bus := NewBus(8)
	defer bus.Stop()

	got := make(chan struct{}, 1)
	bus.Subscribe(EventTypeTaskFailed, func(e Event) { panic("bad handler") })
	bus.Subscribe(EventTypeTaskFailed, func(e Event) { got <- struct{}{} })

	bus.Publish(NewTaskFailedEvent("id", "name", "boom", 3))

	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("second handler not reached after panic")
	}
}
