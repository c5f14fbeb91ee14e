package monitoring

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/wudi/protogate/internal/envelope"
)

// fakeSink records every call instead of touching a database, so these
// tests exercise the Service's bookkeeping without a live Postgres.
type fakeSink struct {
	mu      sync.Mutex
	written []MessageLogEntry
	updated []string
}

func (f *fakeSink) WriteLog(_ context.Context, entry MessageLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, entry)
	return nil
}

func (f *fakeSink) UpdateLog(_ context.Context, logID string, _ LogUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, logID)
	return nil
}

func TestRecordRoutingDecision_IncrementsReceivedAndIndexes(t *testing.T) {
	sink := &fakeSink{}
	svc := New(sink)

	env := &envelope.Envelope{MessageID: "m1", SourceProtocol: envelope.ProtocolMQTT, DataSourceID: "ds1"}
	svc.RecordRoutingDecision(context.Background(), env, []string{"r1"}, []string{"t1"})

	m := svc.GetRuntimeMetrics()
	if m.TotalReceived != 1 {
		t.Fatalf("TotalReceived = %d, want 1", m.TotalReceived)
	}
	if _, ok := svc.index.Get("m1"); !ok {
		t.Fatal("expected message id to be indexed")
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.written) != 1 {
		t.Fatalf("expected one log entry written, got %d", len(sink.written))
	}
}

func TestRecordRoutingDecision_StatusReflectsTargetMatch(t *testing.T) {
	sink := &fakeSink{}
	svc := New(sink)

	env := &envelope.Envelope{MessageID: "m-no-target", SourceProtocol: envelope.ProtocolHTTP}
	svc.RecordRoutingDecision(context.Background(), env, nil, nil)

	env2 := &envelope.Envelope{MessageID: "m-matched", SourceProtocol: envelope.ProtocolHTTP}
	svc.RecordRoutingDecision(context.Background(), env2, []string{"r1"}, []string{"t1"})

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.written) != 2 {
		t.Fatalf("expected two log entries written, got %d", len(sink.written))
	}
	if sink.written[0].Status != "no_target" {
		t.Fatalf("status = %q, want no_target for a decision with no matched targets", sink.written[0].Status)
	}
	if sink.written[1].Status != "awaiting_forward" {
		t.Fatalf("status = %q, want awaiting_forward for a decision with matched targets", sink.written[1].Status)
	}
}

func TestRecordForwardResults_AllSucceed(t *testing.T) {
	svc := New(nil)
	env := &envelope.Envelope{MessageID: "m2", SourceProtocol: envelope.ProtocolHTTP}
	svc.RecordRoutingDecision(context.Background(), env, nil, []string{"t1"})

	svc.RecordForwardResults(context.Background(), "m2", []ForwardResult{{TargetID: "t1", Success: true}})

	m := svc.GetRuntimeMetrics()
	if m.TotalSuccess != 1 || m.TotalFailed != 0 {
		t.Fatalf("got success=%d failed=%d, want success=1 failed=0", m.TotalSuccess, m.TotalFailed)
	}
}

func TestRecordForwardResults_AllFail(t *testing.T) {
	svc := New(nil)
	env := &envelope.Envelope{MessageID: "m3", SourceProtocol: envelope.ProtocolTCP}
	svc.RecordRoutingDecision(context.Background(), env, nil, []string{"t1"})

	svc.RecordForwardResults(context.Background(), "m3", []ForwardResult{{TargetID: "t1", Success: false, Error: "timeout"}})

	m := svc.GetRuntimeMetrics()
	if m.TotalFailed != 1 {
		t.Fatalf("TotalFailed = %d, want 1", m.TotalFailed)
	}
	if m.RecentFailures != 1 {
		t.Fatalf("RecentFailures = %d, want 1 for a clean failure", m.RecentFailures)
	}
}

func TestRecordForwardResults_PartialSuccessNotCountedAsRecentFailure(t *testing.T) {
	svc := New(nil)
	env := &envelope.Envelope{MessageID: "m4", SourceProtocol: envelope.ProtocolUDP}
	svc.RecordRoutingDecision(context.Background(), env, nil, []string{"t1", "t2"})

	svc.RecordForwardResults(context.Background(), "m4", []ForwardResult{
		{TargetID: "t1", Success: true},
		{TargetID: "t2", Success: false, Error: "refused"},
	})

	m := svc.GetRuntimeMetrics()
	if m.TotalFailed != 1 {
		t.Fatalf("partial success should still count toward TotalFailed, got %d", m.TotalFailed)
	}
	if m.RecentFailures != 0 {
		t.Fatalf("partial success must not count as a recent-window failure, got %d", m.RecentFailures)
	}
}

func TestDeriveOutcome(t *testing.T) {
	cases := []struct {
		name    string
		results []ForwardResult
		want    Outcome
	}{
		{"empty", nil, OutcomeFailed},
		{"all success", []ForwardResult{{Success: true}, {Success: true}}, OutcomeSuccess},
		{"all failed", []ForwardResult{{Success: false}, {Success: false}}, OutcomeFailed},
		{"mixed", []ForwardResult{{Success: true}, {Success: false}}, OutcomePartialSuccess},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := deriveOutcome(c.results); got != c.want {
				t.Fatalf("deriveOutcome = %v, want %v", got, c.want)
			}
		})
	}
}

func TestGetMetricsHistory_ReturnsRecordedSlot(t *testing.T) {
	svc := New(nil)
	env := &envelope.Envelope{MessageID: "m5", SourceProtocol: envelope.ProtocolHTTP}
	svc.RecordRoutingDecision(context.Background(), env, nil, nil)

	points := svc.GetMetricsHistory(time.Hour)
	if len(points) != 1 {
		t.Fatalf("expected 1 history point, got %d", len(points))
	}
	if points[0].Received != 1 {
		t.Fatalf("Received = %d, want 1", points[0].Received)
	}
}

func TestRecordForwardResults_UnknownMessageIDIsSafe(t *testing.T) {
	svc := New(nil)
	svc.RecordForwardResults(context.Background(), "never-seen", []ForwardResult{{Success: true}})
	m := svc.GetRuntimeMetrics()
	if m.TotalSuccess != 1 {
		t.Fatalf("counters should still update even when the message id isn't indexed, got %d", m.TotalSuccess)
	}
}
