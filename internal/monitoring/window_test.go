package monitoring

import (
	"testing"
	"time"
)

func TestSlidingWindow_RecordAndSnapshot(t *testing.T) {
	w := newSlidingWindow(time.Minute, 6)
	w.recordMessage(false)
	w.recordMessage(true)
	w.recordFailureOnly()

	msgs, fails := w.snapshot()
	if msgs != 2 {
		t.Fatalf("messages = %d, want 2", msgs)
	}
	if fails != 2 {
		t.Fatalf("failures = %d, want 2", fails)
	}
}

func TestHistory_IncrementAndSince(t *testing.T) {
	h := newHistory(10)
	now := time.Now()
	h.increment(minuteSlot(now), "received")
	h.increment(minuteSlot(now), "success")

	points := h.since(minuteSlot(now).Add(-time.Minute))
	if len(points) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(points))
	}
	if points[0].Received != 1 || points[0].Success != 1 {
		t.Fatalf("got %+v", points[0])
	}
}

func TestHistory_TrimsOldestBeyondMaxSlots(t *testing.T) {
	h := newHistory(2)
	base := minuteSlot(time.Now())
	h.increment(base, "received")
	h.increment(base.Add(time.Minute), "received")
	h.increment(base.Add(2*time.Minute), "received")

	if len(h.order) != 2 {
		t.Fatalf("expected 2 retained slots, got %d", len(h.order))
	}
	if _, ok := h.counts[base]; ok {
		t.Fatal("oldest slot should have been trimmed")
	}
}
