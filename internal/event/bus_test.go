package event

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBus_Subscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var received Event
	var wg sync.WaitGroup
	wg.Add(1)

	unsub := bus.Subscribe(ReconnectionScheduled, func(e Event) {
		received = e
		wg.Done()
	})
	defer unsub()

	bus.Publish(Event{
		Type: ReconnectionScheduled,
		Data: ReconnectionScheduledData{ServerName: "calc", Attempt: 0, DelayMs: 500},
	})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if received.Type != ReconnectionScheduled {
			t.Errorf("got type %v, want ReconnectionScheduled", received.Type)
		}
		data, ok := received.Data.(ReconnectionScheduledData)
		if !ok {
			t.Fatalf("payload type %T", received.Data)
		}
		if data.ServerName != "calc" || data.DelayMs != 500 {
			t.Errorf("unexpected payload %+v", data)
		}
	case <-time.After(time.Second):
		t.Fatal("event never delivered")
	}
}

func TestBus_SubscribeOnlyMatchingType(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var count atomic.Int64
	bus.Subscribe(ReconnectionCancelled, func(Event) {
		count.Add(1)
	})

	bus.PublishSync(Event{Type: ReconnectionScheduled})
	bus.PublishSync(Event{Type: ToolRegistered})
	bus.PublishSync(Event{Type: ReconnectionCancelled})

	if got := count.Load(); got != 1 {
		t.Errorf("subscriber called %d times, want 1", got)
	}
}

func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var count atomic.Int64
	bus.SubscribeAll(func(Event) {
		count.Add(1)
	})

	bus.PublishSync(Event{Type: ReconnectionScheduled})
	bus.PublishSync(Event{Type: ToolRegistered})
	bus.PublishSync(Event{Type: ServerConnected})

	if got := count.Load(); got != 3 {
		t.Errorf("global subscriber called %d times, want 3", got)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var count atomic.Int64
	unsub := bus.Subscribe(ToolRegistered, func(Event) {
		count.Add(1)
	})

	bus.PublishSync(Event{Type: ToolRegistered})
	unsub()
	bus.PublishSync(Event{Type: ToolRegistered})

	if got := count.Load(); got != 1 {
		t.Errorf("subscriber called %d times after unsubscribe, want 1", got)
	}
}

func TestBus_PublishAfterClose(t *testing.T) {
	bus := NewBus()

	var count atomic.Int64
	bus.Subscribe(ToolRegistered, func(Event) {
		count.Add(1)
	})

	if err := bus.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Must not panic and must not deliver.
	bus.PublishSync(Event{Type: ToolRegistered})
	if got := count.Load(); got != 0 {
		t.Errorf("delivered %d events after close", got)
	}

	// Subscribing after close is a no-op.
	unsub := bus.Subscribe(ToolRegistered, func(Event) {})
	unsub()
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var count atomic.Int64
	bus.Subscribe(ReconnectionScheduled, func(Event) {
		count.Add(1)
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.PublishSync(Event{Type: ReconnectionScheduled})
		}()
	}
	wg.Wait()

	if got := count.Load(); got != 50 {
		t.Errorf("delivered %d events, want 50", got)
	}
}

func TestGlobalBus_Reset(t *testing.T) {
	var count atomic.Int64
	Subscribe(ToolRegistered, func(Event) {
		count.Add(1)
	})

	PublishSync(Event{Type: ToolRegistered})
	Reset()
	PublishSync(Event{Type: ToolRegistered})

	if got := count.Load(); got != 1 {
		t.Errorf("subscriber survived Reset: called %d times", got)
	}
}
