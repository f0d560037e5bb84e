package bus

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestInboundFIFO(t *testing.T) {
	mb := NewMessageBus()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ev := Event{ChatID: "1", Kind: EventText, Payload: fmt.Sprintf("msg-%d", i)}
		if !mb.PublishInbound(ctx, ev) {
			t.Fatalf("publish %d failed", i)
		}
	}

	for i := 0; i < 5; i++ {
		ev, ok := mb.ConsumeInbound(ctx)
		if !ok {
			t.Fatalf("consume %d failed", i)
		}
		if want := fmt.Sprintf("msg-%d", i); ev.Payload != want {
			t.Errorf("position %d: got %q, want %q", i, ev.Payload, want)
		}
	}
}

func TestOutboundFIFO(t *testing.T) {
	mb := NewMessageBus()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		msg := OutboundMessage{ID: fmt.Sprintf("id-%d", i), ChatID: "1", Text: "x"}
		if !mb.PublishOutbound(ctx, msg) {
			t.Fatalf("publish %d failed", i)
		}
	}

	for i := 0; i < 3; i++ {
		msg, ok := mb.ConsumeOutbound(ctx)
		if !ok {
			t.Fatalf("consume %d failed", i)
		}
		if want := fmt.Sprintf("id-%d", i); msg.ID != want {
			t.Errorf("position %d: got %q, want %q", i, msg.ID, want)
		}
	}
}

func TestPublishBlocksWhenFull(t *testing.T) {
	mb := NewMessageBusSize(1, 1)
	ctx := context.Background()

	if !mb.PublishInbound(ctx, Event{Payload: "first"}) {
		t.Fatal("first publish failed")
	}

	published := make(chan bool, 1)
	go func() {
		published <- mb.PublishInbound(ctx, Event{Payload: "second"})
	}()

	select {
	case <-published:
		t.Fatal("publish on a full queue should block")
	case <-time.After(20 * time.Millisecond):
	}

	if ev, ok := mb.ConsumeInbound(ctx); !ok || ev.Payload != "first" {
		t.Fatalf("unexpected head: %+v ok=%v", ev, ok)
	}

	select {
	case ok := <-published:
		if !ok {
			t.Error("blocked publish should succeed after drain")
		}
	case <-time.After(time.Second):
		t.Fatal("blocked publish never completed")
	}
}

func TestPublishCanceledContext(t *testing.T) {
	mb := NewMessageBusSize(1, 1)
	if !mb.PublishOutbound(context.Background(), OutboundMessage{ID: "a"}) {
		t.Fatal("first publish failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if mb.PublishOutbound(ctx, OutboundMessage{ID: "b"}) {
		t.Error("publish with canceled context on a full queue should fail")
	}
}

func TestConsumeCanceledContext(t *testing.T) {
	mb := NewMessageBus()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, ok := mb.ConsumeInbound(ctx); ok {
		t.Error("consume with canceled context should fail")
	}
	if _, ok := mb.ConsumeOutbound(ctx); ok {
		t.Error("consume with canceled context should fail")
	}
}

func TestTryConsumeOutbound(t *testing.T) {
	mb := NewMessageBus()

	if _, ok := mb.TryConsumeOutbound(); ok {
		t.Error("empty queue should return ok=false")
	}

	mb.PublishOutbound(context.Background(), OutboundMessage{ID: "a"})
	msg, ok := mb.TryConsumeOutbound()
	if !ok || msg.ID != "a" {
		t.Errorf("got %+v ok=%v", msg, ok)
	}
}

func TestTapsReceiveCopies(t *testing.T) {
	mb := NewMessageBus()
	inTap := mb.SubscribeInboundTap("audit-in")
	outTap := mb.SubscribeOutboundTap("audit-out")
	ctx := context.Background()

	mb.PublishInbound(ctx, Event{ChatID: "7", Payload: "hello"})
	mb.PublishOutbound(ctx, OutboundMessage{ID: "m1", ChatID: "7"})

	select {
	case raw := <-inTap:
		ev, ok := raw.(Event)
		if !ok || ev.Payload != "hello" {
			t.Errorf("inbound tap got %#v", raw)
		}
	case <-time.After(time.Second):
		t.Fatal("inbound tap received nothing")
	}

	select {
	case raw := <-outTap:
		msg, ok := raw.(OutboundMessage)
		if !ok || msg.ID != "m1" {
			t.Errorf("outbound tap got %#v", raw)
		}
	case <-time.After(time.Second):
		t.Fatal("outbound tap received nothing")
	}

	// Primary consumers still see everything the taps saw.
	if ev, ok := mb.ConsumeInbound(ctx); !ok || ev.Payload != "hello" {
		t.Errorf("primary inbound got %+v ok=%v", ev, ok)
	}
	if msg, ok := mb.ConsumeOutbound(ctx); !ok || msg.ID != "m1" {
		t.Errorf("primary outbound got %+v ok=%v", msg, ok)
	}
}

func TestCloseRejectsPublishKeepsQueue(t *testing.T) {
	mb := NewMessageBus()
	ctx := context.Background()

	mb.PublishOutbound(ctx, OutboundMessage{ID: "queued"})
	tap := mb.SubscribeOutboundTap("t")

	mb.Close()
	mb.Close() // idempotent

	if mb.PublishOutbound(ctx, OutboundMessage{ID: "late"}) {
		t.Error("publish after close should fail")
	}
	if _, open := <-tap; open {
		t.Error("tap channel should be closed")
	}

	// Items published before close stay drainable for the shutdown flush.
	msg, ok := mb.TryConsumeOutbound()
	if !ok || msg.ID != "queued" {
		t.Errorf("got %+v ok=%v, want queued item", msg, ok)
	}
	if mb.OutboundLen() != 0 {
		t.Errorf("OutboundLen = %d, want 0", mb.OutboundLen())
	}
}
