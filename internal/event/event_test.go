package event_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/sfoufcat/slimcircle/internal/event"
)

func TestEventBusSingleSubscriber(t *testing.T) {
	var testEvtData int = 42
	var testEvtType event.EventType = "test.event"
	eb := event.NewEventBus()
	_, subCh := eb.Subscribe(testEvtType)
	eb.Publish(testEvtType, event.NewEvent(testEvtType, testEvtData))
	select {
	case evt, ok := <-subCh:
		if !ok {
			t.Fatalf("event channel closed unexpectedly")
		}
		if v, ok := evt.Data.(int); !ok || v != testEvtData {
			t.Fatalf("did not get expected event, got %v", evt.Data)
		}
	case <-time.After(1 * time.Second):
		t.Fatalf("timeout waiting for event")
	}
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	var testEvtType event.EventType = "test.event"
	eb := event.NewEventBus()
	_, sub1Ch := eb.Subscribe(testEvtType)
	_, sub2Ch := eb.Subscribe(testEvtType)
	eb.Publish(testEvtType, event.NewEvent(testEvtType, nil))
	for _, ch := range []<-chan event.Event{sub1Ch, sub2Ch} {
		select {
		case _, ok := <-ch:
			if !ok {
				t.Fatalf("event channel closed unexpectedly")
			}
		case <-time.After(1 * time.Second):
			t.Fatalf("timeout waiting for event")
		}
	}
}

func TestEventBusSubscribeFunc(t *testing.T) {
	var counter int64
	var testEvtType event.EventType = "test.event"
	eb := event.NewEventBus()
	eb.SubscribeFunc(testEvtType, func(evt event.Event) {
		atomic.AddInt64(&counter, 1)
	})
	eb.Publish(testEvtType, event.NewEvent(testEvtType, nil))
	eb.Publish(testEvtType, event.NewEvent(testEvtType, nil))
	deadline := time.Now().Add(1 * time.Second)
	for atomic.LoadInt64(&counter) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for handler, got %d events", atomic.LoadInt64(&counter))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	var testEvtType event.EventType = "test.event"
	eb := event.NewEventBus()
	subId, subCh := eb.Subscribe(testEvtType)
	eb.Unsubscribe(testEvtType, subId)
	if _, ok := <-subCh; ok {
		t.Fatalf("expected channel to be closed after unsubscribe")
	}
	// Publishing with no subscribers must not panic.
	eb.Publish(testEvtType, event.NewEvent(testEvtType, nil))
}
