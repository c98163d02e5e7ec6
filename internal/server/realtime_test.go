package server

import (
	"context"
	"testing"
	"time"
)

func TestDispatcherDeliversToOrgSubscribers(testContext *testing.T) {
	dispatcher := NewChangeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "org-1")
	defer cleanup()
	otherStream, otherCleanup := dispatcher.Subscribe(ctx, "org-2")
	defer otherCleanup()

	dispatcher.Publish(ChangeMessage{
		OrgID:     "org-1",
		EventType: ChangeEventKnowledgeBase,
		Entity:    "faqs",
		IDs:       []string{"faq-1"},
		Timestamp: time.Now(),
	})

	select {
	case message := <-stream:
		if message.Entity != "faqs" || len(message.IDs) != 1 {
			testContext.Fatalf("unexpected message: %+v", message)
		}
	case <-time.After(time.Second):
		testContext.Fatalf("expected message on org-1 stream")
	}

	select {
	case message := <-otherStream:
		testContext.Fatalf("unexpected cross-org delivery: %+v", message)
	default:
	}
}

func TestDispatcherDropsWhenSubscriberSaturated(testContext *testing.T) {
	dispatcher := NewChangeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, cleanup := dispatcher.Subscribe(ctx, "org-1")
	defer cleanup()

	// More messages than the buffer holds; Publish must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			dispatcher.Publish(ChangeMessage{
				OrgID:     "org-1",
				EventType: ChangeEventKnowledgeBase,
				Entity:    "sections",
			})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		testContext.Fatalf("publish blocked on saturated subscriber")
	}
}

func TestDispatcherUnsubscribesOnContextCancel(testContext *testing.T) {
	dispatcher := NewChangeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())

	_, cleanup := dispatcher.Subscribe(ctx, "org-1")
	defer cleanup()
	cancel()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		dispatcher.mu.RLock()
		remaining := len(dispatcher.subscribers["org-1"])
		dispatcher.mu.RUnlock()
		if remaining == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	testContext.Fatalf("expected subscriber cleanup after context cancel")
}

func TestDispatcherIgnoresEmptyScope(testContext *testing.T) {
	dispatcher := NewChangeDispatcher()

	stream, cleanup := dispatcher.Subscribe(context.Background(), "")
	defer cleanup()

	if _, open := <-stream; open {
		testContext.Fatalf("expected closed stream for empty org id")
	}

	// Publishing without a scope is a no-op.
	dispatcher.Publish(ChangeMessage{EventType: ChangeEventKnowledgeBase})
}
