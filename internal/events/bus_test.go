package events

import (
	"sync"
	"testing"
	"time"
)

func TestNilBus(t *testing.T) {
	var b *Bus
	b.Publish(Event{Source: SourceAgent, Kind: KindRequestStart})
	b.Emit(SourceOrders, KindOrderCreated, nil)
	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() on nil bus = %d, want 0", got)
	}
}

func TestEmit_StampsAndDelivers(t *testing.T) {
	b := New()
	ch := b.Subscribe(8)
	defer b.Unsubscribe(ch)

	before := time.Now()
	b.Emit(SourceOrders, KindOrderCreated, map[string]any{"order_number": "ORDER-260101120000"})

	select {
	case got := <-ch:
		if got.Source != SourceOrders || got.Kind != KindOrderCreated {
			t.Errorf("got %s/%s, want %s/%s", got.Source, got.Kind, SourceOrders, KindOrderCreated)
		}
		if got.Timestamp.Before(before) {
			t.Errorf("timestamp %v earlier than publish time %v", got.Timestamp, before)
		}
		if got.Data["order_number"] != "ORDER-260101120000" {
			t.Errorf("order_number = %v", got.Data["order_number"])
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishMultipleSubscribers(t *testing.T) {
	b := New()
	const n = 5
	channels := make([]<-chan Event, n)
	for i := range n {
		channels[i] = b.Subscribe(8)
	}
	defer func() {
		for _, ch := range channels {
			b.Unsubscribe(ch)
		}
	}()

	b.Publish(Event{Source: SourceTelegram, Kind: KindMessageReceived})

	for i, ch := range channels {
		select {
		case got := <-ch:
			if got.Kind != KindMessageReceived {
				t.Errorf("subscriber %d: kind = %q", i, got.Kind)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: timed out", i)
		}
	}
}

func TestDropOnFull(t *testing.T) {
	b := New()
	ch := b.Subscribe(1)
	defer b.Unsubscribe(ch)

	b.Publish(Event{Kind: "first"})
	b.Publish(Event{Kind: "second"})

	got := <-ch
	if got.Kind != "first" {
		t.Errorf("got %q, want first", got.Kind)
	}
	select {
	case extra := <-ch:
		t.Errorf("expected second event to be dropped, got %q", extra.Kind)
	default:
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch := b.Subscribe(1)
	b.Unsubscribe(ch)
	b.Unsubscribe(ch)

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Unsubscribe")
	}
	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", got)
	}
	b.Publish(Event{Kind: "after"})
}

func TestConcurrentPublishSubscribe(t *testing.T) {
	b := New()
	var wg sync.WaitGroup

	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch := b.Subscribe(4)
			for range 10 {
				b.Emit(SourceAgent, KindToolCall, nil)
			}
			b.Unsubscribe(ch)
		}()
	}
	wg.Wait()

	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", got)
	}
}
