// Package monitoring implements the Monitoring Service (C10): a 60-second
// rolling window of recent throughput, a 24-hour minute-granular history
// ring, a message-id index used to correlate forward results back to the
// message that produced them, and a pluggable log sink for durable
// per-message audit records.
package monitoring

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wudi/protogate/internal/cache"
	"github.com/wudi/protogate/internal/envelope"
	"github.com/wudi/protogate/internal/logging"
)

// Outcome is the terminal state of one message's forward attempts.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeFailed         Outcome = "failed"
	OutcomePartialSuccess Outcome = "partial_success"
)

const (
	recentWindow      = 60 * time.Second
	recentBuckets     = 60
	historyMaxSlots   = 24 * 60 // one day of one-minute slots
	messageIndexTTL   = 5 * time.Minute
	messageIndexLimit = 100_000
)

// indexEntry is what the message-id index keeps per in-flight message, so
// RecordForwardResults can look up protocol/source context recorded at
// ingest time without re-parsing the envelope.
type indexEntry struct {
	SourceProtocol envelope.Protocol
	DataSourceID   string
	LogID          string
	ReceivedAt     time.Time
}

// Service aggregates routing and forwarding outcomes into the counters
// exposed by GetRuntimeMetrics/GetMetricsHistory. It holds no reference to
// the event bus, routing engine, or forwarder manager — pipeline wires it
// in explicitly by calling RecordRoutingDecision/RecordForwardResults from
// its own subscription handlers.
type Service struct {
	recent  *slidingWindow
	history *history
	index   *cache.TTLIndex[indexEntry]
	sink    LogSink
	metrics *promMetrics

	totalReceived atomic.Int64
	totalSuccess  atomic.Int64
	totalFailed   atomic.Int64

	mu      sync.Mutex
	started time.Time
}

// New constructs a Service. sink may be nil, in which case message-level
// log records are dropped (counters still work) — callers that need
// durable audit logs pass a *PostgresSink or another LogSink
// implementation.
func New(sink LogSink) *Service {
	if sink == nil {
		sink = NoopSink{}
	}
	return &Service{
		recent:  newSlidingWindow(recentWindow, recentBuckets),
		history: newHistory(historyMaxSlots),
		index:   cache.NewTTLIndex[indexEntry](messageIndexLimit, messageIndexTTL),
		sink:    sink,
		metrics: newPromMetrics(),
		started: time.Now(),
	}
}

// RecordRoutingDecision records that a message was received and routed
// (possibly to zero targets), indexing it so a later RecordForwardResults
// call for the same message id can be attributed correctly.
func (s *Service) RecordRoutingDecision(ctx context.Context, env *envelope.Envelope, matchedRuleIDs, targetIDs []string) {
	now := time.Now()
	logID := uuid.NewString()

	s.totalReceived.Add(1)
	s.recent.recordMessage(false)
	s.history.increment(minuteSlot(now), "received")
	s.metrics.received.WithLabelValues(string(env.SourceProtocol), env.DataSourceID).Inc()

	s.index.Set(env.MessageID, indexEntry{
		SourceProtocol: env.SourceProtocol,
		DataSourceID:   env.DataSourceID,
		LogID:          logID,
		ReceivedAt:     now,
	})

	status := "no_target"
	if len(targetIDs) > 0 {
		status = "awaiting_forward"
	}
	entry := MessageLogEntry{
		LogID:          logID,
		MessageID:      env.MessageID,
		SourceProtocol: string(env.SourceProtocol),
		DataSourceID:   env.DataSourceID,
		RawSize:        len(env.RawData),
		MatchedRules:   len(matchedRuleIDs),
		TargetCount:    len(targetIDs),
		Status:         status,
		CreatedAt:      now,
	}
	if err := s.sink.WriteLog(ctx, entry); err != nil {
		logging.Warn("monitoring: write log entry failed", zap.String("message_id", env.MessageID), zap.Error(err))
	}
}

// ForwardResult is one target's outcome for a previously-routed message.
type ForwardResult struct {
	TargetID string
	Success  bool
	Error    string
}

// RecordForwardResults derives an overall Outcome from per-target results
// (all succeeded -> success, all failed -> failed, mixed -> partial
// success) and updates counters accordingly.
//
// The 60-second recent window intentionally does NOT count
// partial_success toward failures: a message that reached at least one
// target is not a clean failure, and double-counting it as both "routed"
// (already counted at RecordRoutingDecision time) and "failed" here would
// overstate the failure rate. The 24-hour history ring keeps the original
// behavior of counting both failed and partial_success toward its Failed
// field, since that ring is a coarse audit trail rather than an alerting
// signal.
func (s *Service) RecordForwardResults(ctx context.Context, messageID string, results []ForwardResult) {
	outcome := deriveOutcome(results)
	now := time.Now()

	switch outcome {
	case OutcomeSuccess:
		s.totalSuccess.Add(1)
		s.history.increment(minuteSlot(now), "success")
	case OutcomeFailed, OutcomePartialSuccess:
		s.totalFailed.Add(1)
		s.history.increment(minuteSlot(now), "failed")
		if outcome == OutcomeFailed {
			s.recent.recordFailureOnly()
		}
	}

	entry, ok := s.index.Get(messageID)
	if !ok {
		logging.Warn("monitoring: forward result for unknown message id", zap.String("message_id", messageID))
		return
	}
	s.metrics.forwarded.WithLabelValues(string(entry.SourceProtocol), string(outcome)).Add(float64(len(results)))

	if err := s.sink.UpdateLog(ctx, entry.LogID, LogUpdate{
		Status:    string(outcome),
		UpdatedAt: now,
	}); err != nil {
		logging.Warn("monitoring: update log entry failed", zap.String("message_id", messageID), zap.Error(err))
	}
}

func deriveOutcome(results []ForwardResult) Outcome {
	if len(results) == 0 {
		return OutcomeFailed
	}
	successes, failures := 0, 0
	for _, r := range results {
		if r.Success {
			successes++
		} else {
			failures++
		}
	}
	switch {
	case failures == 0:
		return OutcomeSuccess
	case successes == 0:
		return OutcomeFailed
	default:
		return OutcomePartialSuccess
	}
}

// RuntimeMetrics is the instantaneous snapshot returned by
// GetRuntimeMetrics.
type RuntimeMetrics struct {
	UptimeSeconds    float64
	TotalReceived    int64
	TotalSuccess     int64
	TotalFailed      int64
	RecentMessages   int64
	RecentFailures   int64
	RecentErrorRate  float64
	MessageIndexSize int
}

// GetRuntimeMetrics returns the current counters plus the 60-second
// rolling error rate.
func (s *Service) GetRuntimeMetrics() RuntimeMetrics {
	recentMsgs, recentFails := s.recent.snapshot()
	var errRate float64
	if recentMsgs > 0 {
		errRate = float64(recentFails) / float64(recentMsgs)
	}
	return RuntimeMetrics{
		UptimeSeconds:    time.Since(s.started).Seconds(),
		TotalReceived:    s.totalReceived.Load(),
		TotalSuccess:     s.totalSuccess.Load(),
		TotalFailed:      s.totalFailed.Load(),
		RecentMessages:   recentMsgs,
		RecentFailures:   recentFails,
		RecentErrorRate:  errRate,
		MessageIndexSize: s.index.Len(),
	}
}

// GetMetricsHistory returns minute-granular samples covering the last
// `lookback` duration, oldest first.
func (s *Service) GetMetricsHistory(lookback time.Duration) []HistoryPoint {
	cutoff := minuteSlot(time.Now().Add(-lookback))
	return s.history.since(cutoff)
}
