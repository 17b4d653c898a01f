package events

import (
	"fmt"
	"sync"
	"time"
)

// subscription pairs a handler with its identity
type subscription struct {
	id      SubscriptionID
	handler Handler
}

// DefaultBus is the channel-backed implementation of Bus
type DefaultBus struct {
	subscribers map[EventType][]subscription
	mu          sync.RWMutex

	queue  chan Event
	stopCh chan struct{}
	wg     sync.WaitGroup

	nextSubID SubscriptionID
	subMu     sync.Mutex
}

// NewBus creates a bus with the given queue buffer size and starts
// its dispatch goroutine
func NewBus(bufferSize int) *DefaultBus {
	bus := &DefaultBus{
		subscribers: make(map[EventType][]subscription),
		queue:       make(chan Event, bufferSize),
		stopCh:      make(chan struct{}),
		nextSubID:   1,
	}

	bus.wg.Add(1)
	go bus.processEvents()

	return bus
}

// Subscribe registers a handler for a specific event type
func (b *DefaultBus) Subscribe(eventType EventType, handler Handler) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subMu.Lock()
	subID := b.nextSubID
	b.nextSubID++
	b.subMu.Unlock()

	b.subscribers[eventType] = append(b.subscribers[eventType], subscription{
		id:      subID,
		handler: handler,
	})
	return subID
}

// Unsubscribe removes a subscription by ID
func (b *DefaultBus) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscribers {
		for i, sub := range subs {
			if sub.id == id {
				b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish queues an event for dispatch, blocking until queued
func (b *DefaultBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.queue <- event:
	case <-b.stopCh:
		// Bus stopped; the event is dropped
	}
}

// Stop stops the bus and drains remaining events
func (b *DefaultBus) Stop() {
	close(b.stopCh)
	b.wg.Wait()
}

func (b *DefaultBus) processEvents() {
	defer b.wg.Done()

	for {
		select {
		case event := <-b.queue:
			b.dispatch(event)

		case <-b.stopCh:
			for {
				select {
				case event := <-b.queue:
					b.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

func (b *DefaultBus) dispatch(event Event) {
	b.mu.RLock()
	subs := b.subscribers[event.Type]
	handlers := make([]Handler, len(subs))
	for i, sub := range subs {
		handlers[i] = sub.handler
	}
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.safeCall(handler, event)
	}
}

// safeCall invokes a handler with panic recovery so a bad subscriber
// cannot take down the dispatch loop
func (b *DefaultBus) safeCall(handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Printf("[events] handler panic for %v: %v\n", event.Type, r)
		}
	}()
	handler(event)
}

// SubscriberCount returns the number of subscribers for an event type
func (b *DefaultBus) SubscriberCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[eventType])
}
