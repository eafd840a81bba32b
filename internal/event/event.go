// Package event provides the in-process pub/sub bus that decouples the
// proposal state machine from its side-effect consumers (reminder
// scheduler, websocket broadcaster). The authoritative state change
// commits first; subscribers act on the published fact afterwards, so a
// slow or failing consumer never rolls back a confirmation.
package event

import (
	"log"
	"sync"
	"time"
)

const subscriberQueueSize = 20

type EventType string

type SubscriberId int

type Event struct {
	Timestamp time.Time
	Data      any
	Type      EventType
}

func NewEvent(eventType EventType, eventData any) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      eventData,
	}
}

type EventBus struct {
	subscribers map[EventType]map[SubscriberId]chan Event
	lastSubId   SubscriberId
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType]map[SubscriberId]chan Event),
	}
}

// Subscribe registers a subscriber for the given event type and returns the
// subscriber ID and a channel events are delivered on.
func (e *EventBus) Subscribe(eventType EventType) (SubscriberId, <-chan Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastSubId++
	subId := e.lastSubId

	if _, ok := e.subscribers[eventType]; !ok {
		e.subscribers[eventType] = make(map[SubscriberId]chan Event)
	}

	ch := make(chan Event, subscriberQueueSize)
	e.subscribers[eventType][subId] = ch

	return subId, ch
}

// SubscribeFunc registers a handler function for the given event type. The
// handler runs in its own goroutine and receives events in publish order.
func (e *EventBus) SubscribeFunc(eventType EventType, handlerFunc func(Event)) SubscriberId {
	subId, ch := e.Subscribe(eventType)

	go func() {
		for evt := range ch {
			handlerFunc(evt)
		}
	}()

	return subId
}

// Unsubscribe removes a subscriber and closes its channel.
func (e *EventBus) Unsubscribe(eventType EventType, subId SubscriberId) {
	e.mu.Lock()
	defer e.mu.Unlock()

	subs, ok := e.subscribers[eventType]

	if !ok {
		return
	}

	if ch, ok := subs[subId]; ok {
		delete(subs, subId)
		close(ch)
	}
}

// Publish delivers an event to all subscribers of its type. Delivery is
// non-blocking: a subscriber whose queue is full misses the event, which is
// logged. Publishers run on request goroutines and must not stall on a
// stuck consumer.
func (e *EventBus) Publish(eventType EventType, evt Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for subId, ch := range e.subscribers[eventType] {
		select {
		case ch <- evt:
		default:
			log.Printf("Event %s dropped for slow subscriber %d", eventType, subId)
		}
	}
}
