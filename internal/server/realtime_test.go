package server

import (
	"context"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/marquee/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/friends"
)

func TestRealtimeDispatcherPublishesToSubscriber(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "Ripley@example.com")
	defer cleanup()

	dispatcher.Notify(friends.Event{
		Type:        friends.EventRequested,
		UserEmail:   "ripley@example.com",
		FriendEmail: "hicks@example.com",
		Status:      catalog.FriendStatusPending,
		OccurredAt:  time.Now().UTC(),
	})

	select {
	case received := <-stream:
		if received.Type != friends.EventRequested {
			t.Fatalf("expected event type %s, got %s", friends.EventRequested, received.Type)
		}
		if received.FriendEmail != "hicks@example.com" {
			t.Fatalf("unexpected friend email %s", received.FriendEmail)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected realtime event within deadline")
	}
}

func TestRealtimeDispatcherIsolatedByUser(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	userStream, cleanup := dispatcher.Subscribe(ctx, "ripley@example.com")
	defer cleanup()
	otherStream, otherCleanup := dispatcher.Subscribe(ctx, "hicks@example.com")
	defer otherCleanup()

	dispatcher.Notify(friends.Event{Type: friends.EventRemoved, UserEmail: "hicks@example.com", FriendEmail: "ripley@example.com"})

	select {
	case <-userStream:
		t.Fatal("did not expect realtime event for unrelated user")
	case <-time.After(200 * time.Millisecond):
	}

	select {
	case event := <-otherStream:
		if event.UserEmail != "hicks@example.com" {
			t.Fatalf("expected hicks, received %s", event.UserEmail)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected realtime event for subscribed user")
	}
}

func TestRealtimeDispatcherReleasesSubscriberOnCancel(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())

	_, cleanup := dispatcher.Subscribe(ctx, "ripley@example.com")
	if dispatcher.subscriberCount("ripley@example.com") != 1 {
		t.Fatalf("expected one subscriber")
	}
	cancel()

	deadline := time.Now().Add(500 * time.Millisecond)
	for dispatcher.subscriberCount("ripley@example.com") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected subscriber to be released after cancel")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cleanup()
}
