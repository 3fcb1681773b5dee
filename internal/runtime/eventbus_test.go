package runtime

import (
	"sync"
	"testing"
	"time"
)

func TestEventBus_Subscribe(t *testing.T) {
	eb := NewEventBus(nil)
	called := false

	eb.Subscribe(EventFrameDropped, func(e Event) {
		called = true
	})

	eb.Publish(Event{Type: EventFrameDropped})

	if !called {
		t.Error("handler was not called")
	}
}

func TestEventBus_SubscribeAll(t *testing.T) {
	eb := NewEventBus(nil)
	count := 0

	eb.SubscribeAll(func(e Event) {
		count++
	})

	eb.Publish(Event{Type: EventFrameDropped})
	eb.Publish(Event{Type: EventCycleSkipped})
	eb.Publish(Event{Type: EventAnalysisUpdated})

	if count != 3 {
		t.Errorf("expected 3 calls, got %d", count)
	}
}

func TestEventBus_PublishWithData(t *testing.T) {
	eb := NewEventBus(nil)
	var received Event

	eb.Subscribe(EventProviderFailed, func(e Event) {
		received = e
	})

	eb.PublishWithData(EventProviderFailed, map[string]any{"provider": "gemini", "reason": "timeout"})

	if received.Data["provider"] != "gemini" || received.Data["reason"] != "timeout" {
		t.Errorf("data not properly passed: %+v", received.Data)
	}
}

func TestEventBus_TimestampFromClock(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eb := NewEventBus(func() time.Time { return at })
	var received Event

	eb.Subscribe(EventKeyInfoAdded, func(e Event) {
		received = e
	})
	eb.Publish(Event{Type: EventKeyInfoAdded})

	if !received.Timestamp.Equal(at) {
		t.Errorf("timestamp not set from clock: %v", received.Timestamp)
	}

	preset := at.Add(-time.Hour)
	eb.Publish(Event{Type: EventKeyInfoAdded, Timestamp: preset})
	if !received.Timestamp.Equal(preset) {
		t.Error("explicit timestamp was overwritten")
	}
}

func TestEventBus_DifferentEventTypes(t *testing.T) {
	eb := NewEventBus(nil)
	droppedCalled := false
	failedCalled := false

	eb.Subscribe(EventFrameDropped, func(e Event) {
		droppedCalled = true
	})
	eb.Subscribe(EventCycleFailed, func(e Event) {
		failedCalled = true
	})

	eb.Publish(Event{Type: EventFrameDropped})

	if !droppedCalled {
		t.Error("frame_dropped handler was not called")
	}
	if failedCalled {
		t.Error("cycle_failed handler should not have been called")
	}
}

func TestEventBus_ConcurrentPublish(t *testing.T) {
	eb := NewEventBus(nil)
	counter := NewCounter()
	eb.SubscribeAll(counter.Handle)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			eb.Publish(Event{Type: EventFrameDropped})
		}()
	}
	wg.Wait()

	if got := counter.Count(EventFrameDropped); got != 100 {
		t.Errorf("expected 100 events, got %d", got)
	}
	if snap := counter.Snapshot(); len(snap) != 1 {
		t.Errorf("unexpected snapshot %v", snap)
	}
}
