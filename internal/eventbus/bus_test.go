package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	bus := New(context.Background())
	defer bus.Stop(context.Background())

	var mu sync.Mutex
	var got []interface{}
	var wg sync.WaitGroup
	wg.Add(2)

	bus.Subscribe(TopicMessageParsed, func(_ context.Context, e Event) {
		mu.Lock()
		got = append(got, e.Payload)
		mu.Unlock()
		wg.Done()
	})
	bus.Subscribe(TopicMessageParsed, func(_ context.Context, e Event) {
		wg.Done()
	})

	bus.Publish(TopicMessageParsed, "hello")

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handlers did not run in time")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("got = %v, want [hello]", got)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := New(context.Background())
	defer bus.Stop(context.Background())

	var calls int
	var mu sync.Mutex
	unsub := bus.Subscribe(TopicConfigUpdated, func(_ context.Context, _ Event) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	unsub()
	bus.Publish(TopicConfigUpdated, nil)
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Fatalf("calls = %d, want 0 after unsubscribe", calls)
	}
}

func TestStopDrainsInFlightHandlers(t *testing.T) {
	bus := New(context.Background())
	started := make(chan struct{})
	release := make(chan struct{})
	bus.Subscribe(TopicForwardResult, func(_ context.Context, _ Event) {
		close(started)
		<-release
	})
	bus.Publish(TopicForwardResult, nil)
	<-started

	stopped := make(chan error, 1)
	go func() { stopped <- bus.Stop(context.Background()) }()

	select {
	case <-stopped:
		t.Fatal("Stop returned before handler finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	if err := <-stopped; err != nil {
		t.Fatalf("Stop() err = %v", err)
	}
}
