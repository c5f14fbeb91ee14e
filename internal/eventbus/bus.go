// Package eventbus implements the gateway's internal publish/subscribe
// backbone: adapters publish ingress events, the pipeline orchestrator and
// monitoring service subscribe to them, and nothing in the data plane talks
// to anything else directly. It is constructed explicitly and passed to
// every component that needs it — there is no package-level singleton.
package eventbus

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/wudi/protogate/internal/logging"
)

// Topic names the canonical events flowing across the bus.
type Topic string

const (
	TopicRawFrameReceived   Topic = "raw_frame_received"
	TopicMessageParsed      Topic = "message_parsed"
	TopicRoutingDecision    Topic = "routing_decision"
	TopicForwardResult      Topic = "forward_result"
	TopicConfigUpdated      Topic = "config_updated"
	TopicAdapterStateChange Topic = "adapter_state_change"
)

// Handler processes one published event. Handlers for a given topic are
// invoked one at a time, in subscription order, on a dedicated per-topic
// goroutine — never concurrently with each other. A handler that panics
// is recovered and logged; it never reaches the publisher and never
// prevents subsequent handlers (on this or later events) from running.
type Handler func(ctx context.Context, event Event)

// Event is the envelope carried across the bus; Payload is
// topic-specific (an *envelope.Envelope, a routing decision, etc).
type Event struct {
	Topic   Topic
	Payload interface{}
}

type subscription struct {
	id      int
	handler Handler
}

// delivery pairs one published event with the subscriber snapshot taken
// at publish time, so two concurrent Publish calls on the same topic are
// queued and delivered FIFO regardless of who subscribes/unsubscribes in
// between.
type delivery struct {
	event Event
	subs  []subscription
}

// queueDepth bounds each topic's delivery queue. Publish blocks if a
// topic's queue is full; in practice queues drain far faster than
// adapters can produce frames, so this only applies backpressure under
// sustained handler overload.
const queueDepth = 256

// Bus is a lightweight topic-keyed pub/sub dispatcher. Each topic has its
// own FIFO delivery queue drained by a single worker goroutine, so
// handlers on one topic never race each other and a slow/panicking
// handler on one topic never blocks another topic's delivery.
type Bus struct {
	mu     sync.Mutex
	subs   map[Topic][]subscription
	nextID int
	queues map[Topic]chan delivery

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a Bus bound to a parent context; canceling it (or calling
// Stop) stops accepting new publishes and drains in-flight deliveries.
func New(parent context.Context) *Bus {
	ctx, cancel := context.WithCancel(parent)
	return &Bus{
		subs:   make(map[Topic][]subscription),
		queues: make(map[Topic]chan delivery),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Subscribe registers a handler for a topic and returns an unsubscribe
// function.
func (b *Bus) Subscribe(topic Topic, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[topic] = append(b.subs[topic], subscription{id: id, handler: h})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[topic]
		for i, s := range subs {
			if s.id == id {
				b.subs[topic] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish enqueues an event for delivery to every current subscriber of
// its topic, in subscription order. Delivery happens on a per-topic
// worker goroutine FIFO relative to every other Publish on the same
// topic; Publish itself does not wait for handlers to run.
func (b *Bus) Publish(topic Topic, payload interface{}) {
	b.mu.Lock()
	select {
	case <-b.ctx.Done():
		b.mu.Unlock()
		return
	default:
	}

	subs := b.subs[topic]
	if len(subs) == 0 {
		b.mu.Unlock()
		return
	}
	subsCopy := make([]subscription, len(subs))
	copy(subsCopy, subs)

	q, ok := b.queues[topic]
	if !ok {
		q = make(chan delivery, queueDepth)
		b.queues[topic] = q
		b.wg.Add(1)
		go b.worker(topic, q)
	}
	b.mu.Unlock()

	q <- delivery{event: Event{Topic: topic, Payload: payload}, subs: subsCopy}
}

// worker drains one topic's delivery queue, invoking every subscriber for
// each queued event synchronously and in order before moving to the next
// event. It exits once the bus context is canceled and the queue is
// empty.
func (b *Bus) worker(topic Topic, q chan delivery) {
	defer b.wg.Done()
	for {
		select {
		case d := <-q:
			for _, s := range d.subs {
				b.invoke(s.handler, d.event)
			}
		case <-b.ctx.Done():
			for {
				select {
				case d := <-q:
					for _, s := range d.subs {
						b.invoke(s.handler, d.event)
					}
				default:
					return
				}
			}
		}
	}
}

// invoke calls a single handler, recovering and logging any panic so it
// never propagates to the publisher or stops subsequent handlers.
func (b *Bus) invoke(h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("eventbus: handler panicked, continuing",
				zap.String("topic", string(event.Topic)), zap.Any("panic", r))
		}
	}()
	h(b.ctx, event)
}

// Stop cancels the bus context and blocks (bounded by the caller's ctx)
// until every topic's worker has drained its queue and exited.
func (b *Bus) Stop(ctx context.Context) error {
	b.cancel()
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
