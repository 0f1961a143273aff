// Package stream pushes order lifecycle events to live subscribers.
package stream

import (
	"log"
	"sync"
	"sync/atomic"
)

// Sink is one delivery target for status events. The websocket layer
// adapts connections to this interface.
type Sink interface {
	Send(v any) error
	Close() error
}

// Event mirrors one pipeline stage transition on the wire.
type Event struct {
	Status        string  `json:"status"`
	OrderID       string  `json:"orderId,omitempty"`
	Message       string  `json:"message,omitempty"`
	Data          any     `json:"data,omitempty"`
	TxHash        string  `json:"txHash,omitempty"`
	ExecutedPrice float64 `json:"executedPrice,omitempty"`
	Dex           string  `json:"dex,omitempty"`
	Error         string  `json:"error,omitempty"`
}

// Broadcaster holds at most one live sink per order id. Publishing is
// best-effort: events for unbound orders are dropped, and send failures
// are logged but never surface to the caller.
type Broadcaster struct {
	mu     sync.Mutex
	sinks  map[string]Sink
	closed bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{sinks: make(map[string]Sink)}
}

// Bind installs sink as the subscriber for orderID, closing and evicting
// any previous one first.
func (b *Broadcaster) Bind(orderID string, sink Sink) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = sink.Close()
		return
	}
	existing := b.sinks[orderID]
	b.sinks[orderID] = sink
	b.mu.Unlock()

	if existing != nil && existing != sink {
		if err := existing.Close(); err != nil {
			log.Printf("stream: close replaced sink for %s: %v", orderID, err)
		}
	}
}

// Unbind removes sink for orderID, but only if it is still the current
// one; a sink replaced by a later Bind must not evict its successor.
func (b *Broadcaster) Unbind(orderID string, sink Sink) {
	b.mu.Lock()
	if b.sinks[orderID] == sink {
		delete(b.sinks, orderID)
	}
	b.mu.Unlock()
}

// Publish delivers the event to the order's subscriber if one is bound.
// No buffering or replay: a subscriber connecting later never sees it.
func (b *Broadcaster) Publish(orderID string, ev Event) {
	b.mu.Lock()
	sink := b.sinks[orderID]
	b.mu.Unlock()

	if sink == nil {
		b.dropped.Add(1)
		return
	}

	if err := sink.Send(ev); err != nil {
		b.dropped.Add(1)
		log.Printf("stream: send to %s failed: %v", orderID, err)
		return
	}
	b.published.Add(1)
}

// Stats reports delivered and dropped event counts.
func (b *Broadcaster) Stats() (published, dropped uint64) {
	return b.published.Load(), b.dropped.Load()
}

// Close shuts every live sink and rejects further binds.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	sinks := b.sinks
	b.sinks = make(map[string]Sink)
	b.closed = true
	b.mu.Unlock()

	for id, s := range sinks {
		if err := s.Close(); err != nil {
			log.Printf("stream: close sink for %s: %v", id, err)
		}
	}
}
