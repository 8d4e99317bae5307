package chat

import (
	"context"
	"testing"
	"time"
)

func TestMemoryTransportFansOutToAllSubscribers(t *testing.T) {
	transport := NewMemoryTransport(4)
	ctx := context.Background()

	first, err := transport.Subscribe(ctx, "ops-admin")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer first.Close()
	second, err := transport.Subscribe(ctx, "ops-admin")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer second.Close()
	other, err := transport.Subscribe(ctx, "warden-admin")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer other.Close()

	payload := Broadcast{Channel: "ops-admin", SenderID: "alice", Body: "hello"}
	if err := transport.Publish(ctx, "ops-admin", payload); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for _, sub := range []Subscription{first, second} {
		select {
		case got := <-sub.Events():
			if got.Body != "hello" || got.SenderID != "alice" {
				t.Fatalf("unexpected broadcast: %+v", got)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for broadcast")
		}
	}

	select {
	case got := <-other.Events():
		t.Fatalf("unexpected broadcast on other channel: %+v", got)
	default:
	}
}

func TestMemoryTransportDropsWhenSubscriberIsFull(t *testing.T) {
	transport := NewMemoryTransport(1)
	ctx := context.Background()

	sub, err := transport.Subscribe(ctx, "ops-admin")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	for i := 0; i < 3; i++ {
		if err := transport.Publish(ctx, "ops-admin", Broadcast{Channel: "ops-admin", Body: "msg"}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	received := 0
	for {
		select {
		case <-sub.Events():
			received++
			continue
		default:
		}
		break
	}
	if received != 1 {
		t.Fatalf("expected exactly 1 buffered broadcast, got %d", received)
	}
}

func TestMemorySubscriptionCloseIsIdempotent(t *testing.T) {
	transport := NewMemoryTransport(1)
	sub, err := transport.Subscribe(context.Background(), "ops-admin")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	sub.Close()
	sub.Close()

	if _, open := <-sub.Events(); open {
		t.Fatal("expected events channel to be closed")
	}

	// Publishing after close must not panic or deliver.
	if err := transport.Publish(context.Background(), "ops-admin", Broadcast{Channel: "ops-admin", Body: "late"}); err != nil {
		t.Fatalf("publish after close: %v", err)
	}
}

func TestMemoryTransportRejectsEmptyChannel(t *testing.T) {
	transport := NewMemoryTransport(1)
	if _, err := transport.Subscribe(context.Background(), ""); err == nil {
		t.Fatal("expected subscribe error for empty channel")
	}
	if err := transport.Publish(context.Background(), "", Broadcast{}); err == nil {
		t.Fatal("expected publish error for empty channel")
	}
}
