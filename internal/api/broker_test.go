package api

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()
	rid := "r1"
	ch := b.Subscribe(rid)

	evt := SSEEvent{Type: "test.event", Data: map[string]any{"x": 1}}
	b.Publish(rid, evt)
	b.Publish("other", SSEEvent{Type: "ignored"})

	select {
	case got := <-ch:
		if got.Type != evt.Type {
			t.Fatalf("got type %s, want %s", got.Type, evt.Type)
		}
		if got.Data["x"].(int) != 1 {
			t.Fatalf("bad payload: %+v", got.Data)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}

	b.Unsubscribe(rid, ch)
	b.Unsubscribe(rid, ch) // second call is a no-op
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	b.Publish(rid, evt) // no subscribers left
}

func TestRedisBrokerRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	b := NewRedisBrokerClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	ch := b.Subscribe("r9")
	b.Publish("r9", SSEEvent{Type: "route.adjusted", Data: map[string]any{"reason": "running_late"}})

	select {
	case got := <-ch:
		if got.Type != "route.adjusted" || got.Data["reason"] != "running_late" {
			t.Fatalf("got %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for redis event")
	}

	b.Unsubscribe("r9", ch)
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}
}
