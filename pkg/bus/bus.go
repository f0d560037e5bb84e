// Package bus holds the two FIFO queues connecting the engine's workers: the
// incoming queue of normalized events and the outgoing queue of pending
// replies. Both preserve enqueue order and never drop entries; a full queue
// blocks the publisher until the consumer catches up or the context ends.
package bus

import (
	"context"
	"sync"
)

const defaultCapacity = 100

// Subscriber is a named tap on a message stream. Taps are observers only:
// every published item is copied to all taps, and a slow tap drops rather
// than stalling the primary consumer.
type Subscriber struct {
	Name string
	ch   chan interface{}
}

type MessageBus struct {
	inbound  chan Event
	outbound chan OutboundMessage

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	done      chan struct{}

	inboundSubs  []*Subscriber
	outboundSubs []*Subscriber
}

func NewMessageBus() *MessageBus {
	return NewMessageBusSize(defaultCapacity, defaultCapacity)
}

// NewMessageBusSize builds a bus with explicit queue capacities. Zero or
// negative falls back to the default.
func NewMessageBusSize(inboundCap, outboundCap int) *MessageBus {
	if inboundCap <= 0 {
		inboundCap = defaultCapacity
	}
	if outboundCap <= 0 {
		outboundCap = defaultCapacity
	}
	return &MessageBus{
		inbound:  make(chan Event, inboundCap),
		outbound: make(chan OutboundMessage, outboundCap),
		done:     make(chan struct{}),
	}
}

// --- Fan-out subscriptions ---

// SubscribeInboundTap creates a named subscriber that receives copies of all
// inbound events. The returned channel is buffered; slow consumers drop.
func (mb *MessageBus) SubscribeInboundTap(name string) <-chan interface{} {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	sub := &Subscriber{Name: name, ch: make(chan interface{}, 64)}
	mb.inboundSubs = append(mb.inboundSubs, sub)
	return sub.ch
}

// SubscribeOutboundTap creates a named subscriber for outbound messages.
func (mb *MessageBus) SubscribeOutboundTap(name string) <-chan interface{} {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	sub := &Subscriber{Name: name, ch: make(chan interface{}, 64)}
	mb.outboundSubs = append(mb.outboundSubs, sub)
	return sub.ch
}

func (mb *MessageBus) fanOutInbound(ev Event) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	for _, sub := range mb.inboundSubs {
		select {
		case sub.ch <- ev:
		default: // slow subscribers drop, never stall the publisher
		}
	}
}

func (mb *MessageBus) fanOutOutbound(msg OutboundMessage) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	for _, sub := range mb.outboundSubs {
		select {
		case sub.ch <- msg:
		default:
		}
	}
}

// --- Publish / consume ---

// PublishInbound appends an event to the incoming queue, blocking while the
// queue is full. Returns false if the bus closed or the context ended first.
func (mb *MessageBus) PublishInbound(ctx context.Context, ev Event) bool {
	if mb.isClosed() {
		return false
	}
	mb.fanOutInbound(ev)
	select {
	case mb.inbound <- ev:
		return true
	case <-mb.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// ConsumeInbound blocks for the next event in FIFO order.
func (mb *MessageBus) ConsumeInbound(ctx context.Context) (Event, bool) {
	select {
	case ev := <-mb.inbound:
		return ev, true
	case <-ctx.Done():
		return Event{}, false
	}
}

// PublishOutbound appends a message to the outgoing queue, blocking while the
// queue is full. Returns false if the bus closed or the context ended first.
func (mb *MessageBus) PublishOutbound(ctx context.Context, msg OutboundMessage) bool {
	if mb.isClosed() {
		return false
	}
	mb.fanOutOutbound(msg)
	select {
	case mb.outbound <- msg:
		return true
	case <-mb.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// ConsumeOutbound blocks for the next pending message in FIFO order.
func (mb *MessageBus) ConsumeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg := <-mb.outbound:
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}

// TryConsumeOutbound pops the next pending message without blocking. Used by
// flush to drain whatever is queued right now.
func (mb *MessageBus) TryConsumeOutbound() (OutboundMessage, bool) {
	select {
	case msg := <-mb.outbound:
		return msg, true
	default:
		return OutboundMessage{}, false
	}
}

// OutboundLen reports how many messages are currently queued.
func (mb *MessageBus) OutboundLen() int { return len(mb.outbound) }

func (mb *MessageBus) isClosed() bool {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	return mb.closed
}

// Close rejects further publishes and closes all subscriber taps. Queued
// items stay consumable so a shutdown flush can still drain them.
func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		mb.mu.Lock()
		mb.closed = true
		for _, sub := range mb.inboundSubs {
			close(sub.ch)
		}
		for _, sub := range mb.outboundSubs {
			close(sub.ch)
		}
		mb.mu.Unlock()
		close(mb.done)
	})
}
