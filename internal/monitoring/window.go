package monitoring

import (
	"sync"
	"time"
)

// slidingWindow is a fixed-bucket ring buffer tracking message/failure
// counts over a rolling duration, generalized from the teacher's
// slo.SlidingWindow (one bucket per second, 60 buckets) to the monitoring
// service's 60-second recent window.
type slidingWindow struct {
	mu        sync.Mutex
	buckets   []counts
	bucketDur time.Duration
	idx       int
	lastAdv   time.Time
}

type counts struct {
	messages int64
	failures int64
}

func newSlidingWindow(window time.Duration, numBuckets int) *slidingWindow {
	return &slidingWindow{
		buckets:   make([]counts, numBuckets),
		bucketDur: window / time.Duration(numBuckets),
		lastAdv:   time.Now(),
	}
}

// recordMessage increments the total-message counter for the current
// bucket. If isFailure is true the failure counter is also incremented.
// RecordRoutingDecision calls it with isFailure=false; forward failures
// are added later through recordFailureOnly (see RecordForwardResults in
// service.go for why partial_success is not counted there).
func (w *slidingWindow) recordMessage(isFailure bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.advance()
	w.buckets[w.idx].messages++
	if isFailure {
		w.buckets[w.idx].failures++
	}
}

// recordFailureOnly increments only the failure counter, for outcomes
// that were already counted as a message elsewhere (forward results are
// recorded against a message already counted at ingest time).
func (w *slidingWindow) recordFailureOnly() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.advance()
	w.buckets[w.idx].failures++
}

func (w *slidingWindow) snapshot() (messages, failures int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.advance()
	for _, b := range w.buckets {
		messages += b.messages
		failures += b.failures
	}
	return
}

func (w *slidingWindow) advance() {
	now := time.Now()
	elapsed := now.Sub(w.lastAdv)
	if elapsed < w.bucketDur {
		return
	}
	steps := int(elapsed / w.bucketDur)
	if steps > len(w.buckets) {
		steps = len(w.buckets)
	}
	for i := 0; i < steps; i++ {
		w.idx = (w.idx + 1) % len(w.buckets)
		w.buckets[w.idx] = counts{}
	}
	w.lastAdv = now
}

// minuteSlot rounds t down to the minute, matching the original service's
// minute-granular history keying.
func minuteSlot(t time.Time) time.Time {
	return t.Truncate(time.Minute)
}

// minuteCounts is one slot of the 24h history ring.
type minuteCounts struct {
	Received int64
	Success  int64
	Failed   int64
}

// history is an insertion-ordered, size-bounded map of minute slot ->
// counts, generalizing the original's OrderedDict + deque combination
// (_history / _history_order) with the trim-oldest-on-overflow behavior.
type history struct {
	mu       sync.Mutex
	order    []time.Time
	counts   map[time.Time]*minuteCounts
	maxSlots int
}

func newHistory(maxSlots int) *history {
	return &history{counts: make(map[time.Time]*minuteCounts), maxSlots: maxSlots}
}

func (h *history) increment(slot time.Time, field string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.counts[slot]
	if !ok {
		c = &minuteCounts{}
		h.counts[slot] = c
		h.order = append(h.order, slot)
		h.trim()
	}
	switch field {
	case "received":
		c.Received++
	case "success":
		c.Success++
	case "failed":
		c.Failed++
	}
}

func (h *history) trim() {
	for len(h.order) > h.maxSlots {
		oldest := h.order[0]
		h.order = h.order[1:]
		delete(h.counts, oldest)
	}
}

// since returns every slot >= cutoff, sorted ascending by timestamp.
func (h *history) since(cutoff time.Time) []HistoryPoint {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []HistoryPoint
	for _, slot := range h.order {
		if slot.Before(cutoff) {
			continue
		}
		c := h.counts[slot]
		out = append(out, HistoryPoint{
			Timestamp: slot,
			Received:  c.Received,
			Success:   c.Success,
			Failed:    c.Failed,
		})
	}
	return out
}

// HistoryPoint is one minute-granular sample returned by GetMetricsHistory.
type HistoryPoint struct {
	Timestamp time.Time
	Received  int64
	Success   int64
	Failed    int64
}
