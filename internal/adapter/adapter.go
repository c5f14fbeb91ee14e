// Package adapter implements the gateway's ingress side (C4): one
// implementation per wire protocol, each normalizing whatever it accepts
// into an envelope.Envelope and publishing it onto the event bus. None of
// them know about routing, transforming, or forwarding — that is the
// pipeline orchestrator's job.
package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wudi/protogate/internal/envelope"
	"github.com/wudi/protogate/internal/eventbus"
	"github.com/wudi/protogate/internal/frameschema"
	"github.com/wudi/protogate/internal/logging"

	"go.uber.org/zap"
)

// Adapter is the common lifecycle every ingress implementation exposes.
// Start must block until the adapter is actually listening (or fail
// fast); Stop must release the listening socket/connection before
// returning.
type Adapter interface {
	Name() string
	Protocol() envelope.Protocol
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Stats() Stats
}

// Stats mirrors the counters the original per-adapter get_stats()
// exposed, generalized across protocols.
type Stats struct {
	MessagesReceived  int64
	BytesReceived     int64
	ParseErrors       int64
	ActiveConnections int
	TotalConnections  int64
}

// Config is the common configuration every adapter accepts; protocol
// specific fields live on each adapter's constructor instead of being
// crammed into one struct.
type Config struct {
	Name         string
	DataSourceID string
	IsActive     bool

	// Schema, when non-nil, is used to auto-parse every received frame
	// before publishing. A nil Schema means adapters publish raw bytes
	// only, leaving parsing to a downstream pipeline stage.
	Schema *frameschema.Parser
}

// publish builds an envelope from a raw frame, attempts a schema parse
// when one is configured, and publishes it to the bus under the topic
// appropriate to the outcome.
func publish(bus *eventbus.Bus, cfg Config, proto envelope.Protocol, raw []byte, srcAddr string, srcPort int, connID, topic string, headers ...map[string]string) envelope.Envelope {
	env := envelope.Envelope{
		MessageID:      uuid.NewString(),
		Timestamp:      time.Now(),
		SourceProtocol: proto,
		DataSourceID:   cfg.DataSourceID,
		SourceAddress:  srcAddr,
		SourcePort:     srcPort,
		RawData:        raw,
		AdapterName:    cfg.Name,
		ConnectionID:   connID,
		Topic:          topic,
	}
	if len(headers) > 0 {
		env.Headers = headers[0]
	}

	if cfg.Schema != nil {
		v, err := cfg.Schema.Parse(raw)
		if err != nil {
			env = env.WithParseError(err.Error())
			logging.Warn("adapter: frame parse failed",
				zap.String("adapter", cfg.Name), zap.Error(err))
			bus.Publish(eventbus.TopicRawFrameReceived, &env)
			return env
		}
		env = env.WithParsed(v)
		bus.Publish(eventbus.TopicMessageParsed, &env)
		return env
	}

	bus.Publish(eventbus.TopicRawFrameReceived, &env)
	return env
}

// statsCounter is embedded by every adapter implementation for uniform
// atomic-free counting guarded by a single mutex — adapters have modest
// throughput relative to routing/forwarding, so a mutex here is simpler
// than per-field atomics.
type statsCounter struct {
	mu    sync.Mutex
	stats Stats
}

func (s *statsCounter) recordMessage(n int) {
	s.mu.Lock()
	s.stats.MessagesReceived++
	s.stats.BytesReceived += int64(n)
	s.mu.Unlock()
}

func (s *statsCounter) recordParseError() {
	s.mu.Lock()
	s.stats.ParseErrors++
	s.mu.Unlock()
}

func (s *statsCounter) connectionOpened() {
	s.mu.Lock()
	s.stats.ActiveConnections++
	s.stats.TotalConnections++
	s.mu.Unlock()
}

func (s *statsCounter) connectionClosed() {
	s.mu.Lock()
	s.stats.ActiveConnections--
	s.mu.Unlock()
}

func (s *statsCounter) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// errAlreadyRunning builds the error Start returns when called on a
// running adapter.
func errAlreadyRunning(name string) error {
	return fmt.Errorf("adapter %q is already running", name)
}
