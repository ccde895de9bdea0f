package engine_test

import (
	"context"
	"runtime"
	"testing"
	"time"

	"cobsdaq/pkg/engine"
	"cobsdaq/pkg/protocol"
)

func TestHubDoesNotBlockOnSlowConsumer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := engine.NewHub(engine.WithBroadcastBuffer(1), engine.WithClientBuffer(1))
	go hub.Run(ctx)

	fast := hub.SubscribeWithBuffer(128)
	slow := hub.SubscribeWithBuffer(1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			ev := engine.Event{Record: &protocol.SampleRecord{Seq: uint64(i)}}
			for !hub.TryPublish(ev) {
				runtime.Gosched()
			}
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatalf("publish blocked on slow consumer")
	}

	received := 0
	timeout := time.After(1 * time.Second)
	for received < 50 {
		select {
		case <-fast:
			received++
		case <-timeout:
			t.Fatalf("fast consumer timeout after %d events", received)
		}
	}

	count := 0
	for {
		select {
		case <-slow:
			count++
		default:
			if count > 1 {
				t.Fatalf("slow consumer received %d events, expected at most 1", count)
			}
			return
		}
	}
}

func TestHubTryPublishNeverBlocks(t *testing.T) {
	hub := engine.NewHub(engine.WithBroadcastBuffer(1))
	if !hub.TryPublish(engine.Event{}) {
		t.Fatalf("first publish should fit the buffer")
	}
	if hub.TryPublish(engine.Event{}) {
		t.Fatalf("second publish should be dropped while the hub is not running")
	}
}

func TestHubSubscribeAfterRunReturned(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := engine.NewHub()
	go hub.Run(ctx)
	cancel()
	<-hub.Done()

	got := make(chan chan engine.Event, 1)
	go func() { got <- hub.Subscribe() }()

	select {
	case sub := <-got:
		if _, ok := <-sub; ok {
			t.Fatalf("subscription after stop should be closed")
		}
		hub.Unsubscribe(sub)
	case <-time.After(time.Second):
		t.Fatalf("Subscribe blocked after Run returned")
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := engine.NewHub()
	go hub.Run(ctx)

	sub := hub.Subscribe()
	hub.Unsubscribe(sub)
	select {
	case _, ok := <-sub:
		if ok {
			t.Fatalf("unexpected event after unsubscribe")
		}
	case <-time.After(time.Second):
		t.Fatalf("channel not closed by Unsubscribe")
	}
}
