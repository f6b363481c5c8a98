// Package events provides a publish/subscribe bus for operational
// events. The agent loop, the order service and the transports publish;
// the MQTT publisher subscribes. Publishing on a nil *Bus is a no-op, so
// components never need guard checks.
package events

import (
	"sync"
	"time"
)

// Sources.
const (
	SourceAgent    = "agent"
	SourceOrders   = "orders"
	SourceTelegram = "telegram"
	SourceWeb      = "web"
	SourceIngest   = "ingest"
	SourceHealth   = "health"
)

// Kinds.
const (
	// KindRequestStart: request_id, conversation_id, channel.
	KindRequestStart = "request_start"
	// KindLLMCall: request_id, iter, model.
	KindLLMCall = "llm_call"
	// KindLLMResponse: request_id, iter, model, tokens_in, tokens_out, decision.
	KindLLMResponse = "llm_response"
	// KindToolCall: request_id, tool.
	KindToolCall = "tool_call"
	// KindToolDone: request_id, tool, ok, duration_ms.
	KindToolDone = "tool_done"
	// KindRequestComplete: request_id, iterations, state, elapsed_ms.
	KindRequestComplete = "request_complete"

	// KindOrderCreated: order_number, customer_name, detail_items, total, status.
	KindOrderCreated = "order_created"
	// KindOrderStatusChanged: order_number, status.
	KindOrderStatusChanged = "order_status_changed"

	// KindMessageReceived: conversation_id, message_len.
	KindMessageReceived = "message_received"
	// KindConversationReset: conversation_id.
	KindConversationReset = "conversation_reset"
	// KindHandoff: conversation_id.
	KindHandoff = "handoff"

	// KindIngestComplete: source, chunks.
	KindIngestComplete = "ingest_complete"

	// KindServiceHealth: service, up, error.
	KindServiceHealth = "service_health"
)

// Event is a single operational event.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast bus. Slow subscribers miss events
// rather than blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend lets Unsubscribe accept the receive-only view handed
	// out by Subscribe.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers, dropping it for any
// subscriber whose buffer is full. Safe on a nil receiver.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Emit stamps and publishes an event. Safe on a nil receiver.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	if b == nil {
		return
	}
	b.Publish(Event{
		Timestamp: time.Now(),
		Source:    source,
		Kind:      kind,
		Data:      data,
	})
}

// Subscribe returns a channel that receives published events. Callers
// must Unsubscribe when done.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes its channel. Repeated
// calls are no-ops.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
