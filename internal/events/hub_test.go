package events

import (
	"context"
	"testing"
	"time"

	"feedline.org/internal/feed"
	"feedline.org/internal/ids"
)

func TestHubDeliversToAllSubscribers(t *testing.T) {
	h := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := h.Subscribe(ctx)
	b := h.Subscribe(ctx)
	evt := feed.Event{Action: feed.EventCreated, PostID: ids.New()}
	h.Publish(evt)

	for _, ch := range []<-chan feed.Event{a, b} {
		select {
		case got := <-ch:
			if got.PostID != evt.PostID || got.Action != feed.EventCreated {
				t.Fatalf("unexpected event %+v", got)
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	h := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := h.Subscribe(ctx)
	for i := 0; i < bufferSize+5; i++ {
		h.Publish(feed.Event{Action: feed.EventUpdated})
	}
	if got := len(ch); got != bufferSize {
		t.Fatalf("buffered=%d, want %d", got, bufferSize)
	}
}

func TestHubUnsubscribesOnCancel(t *testing.T) {
	h := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch := h.Subscribe(ctx)
	if h.Subscribers() != 1 {
		t.Fatalf("subscribers=%d, want 1", h.Subscribers())
	}
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
	if h.Subscribers() != 0 {
		t.Fatalf("subscribers=%d after cancel", h.Subscribers())
	}
	h.Publish(feed.Event{Action: feed.EventDeleted})
}
