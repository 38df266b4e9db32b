package sink

import (
	"testing"
	"time"

	"github.com/kerbside-data/passage.report/internal/fusion"
)

func TestHub_DeliversToSubscribers(t *testing.T) {
	hub := NewHub(4)
	firstID, first := hub.Subscribe()
	defer hub.Unsubscribe(firstID)
	secondID, second := hub.Subscribe()
	defer hub.Unsubscribe(secondID)

	hub.Publish(sampleEvent("evt-1"))

	for name, ch := range map[string]chan fusion.ConsolidatedEvent{"first": first, "second": second} {
		select {
		case event := <-ch:
			if event.CorrelationID != "evt-1" {
				t.Errorf("%s subscriber got %s, want evt-1", name, event.CorrelationID)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s subscriber never received the event", name)
		}
	}
}

// TestHub_SkipsFullSubscriber verifies a stalled subscriber loses events
// while one that keeps draining sees everything.
func TestHub_SkipsFullSubscriber(t *testing.T) {
	hub := NewHub(1)
	slowID, slow := hub.Subscribe()
	defer hub.Unsubscribe(slowID)
	fastID, fast := hub.Subscribe()
	defer hub.Unsubscribe(fastID)

	hub.Publish(sampleEvent("evt-1"))
	<-fast
	hub.Publish(sampleEvent("evt-2"))

	if event := <-fast; event.CorrelationID != "evt-2" {
		t.Errorf("fast subscriber got %s, want evt-2", event.CorrelationID)
	}
	if event := <-slow; event.CorrelationID != "evt-1" {
		t.Errorf("slow subscriber got %s, want evt-1", event.CorrelationID)
	}
	if hub.Skipped() != 1 {
		t.Errorf("Skipped = %d, want 1", hub.Skipped())
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := NewHub(0)
	id, ch := hub.Subscribe()
	if hub.Subscribers() != 1 {
		t.Fatalf("Subscribers = %d, want 1", hub.Subscribers())
	}

	hub.Unsubscribe(id)
	if hub.Subscribers() != 0 {
		t.Errorf("Subscribers = %d, want 0", hub.Subscribers())
	}
	if _, ok := <-ch; ok {
		t.Error("channel still open after Unsubscribe")
	}

	// Publishing with no subscribers and double unsubscribe are no-ops.
	hub.Publish(sampleEvent("evt-1"))
	hub.Unsubscribe(id)
}
