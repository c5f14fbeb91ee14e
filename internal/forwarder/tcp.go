package forwarder

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/protogate/internal/dto"
	"github.com/wudi/protogate/internal/logging"
	"github.com/wudi/protogate/internal/retry"
)

// TCPForwarder keeps one persistent connection to a target and writes
// each payload as newline-delimited JSON. A failed write drops the
// connection; the next attempt (a retry within the same Forward, or a
// later Forward call) dials a fresh one.
type TCPForwarder struct {
	statCounters
	stateHolder

	targetID string
	address  string
	timeout  time.Duration
	policy   *retry.Policy

	mu   sync.Mutex
	conn net.Conn
}

func NewTCPForwarder(target dto.TargetSystem) *TCPForwarder {
	timeout := target.Forwarder.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	f := &TCPForwarder{
		targetID: target.ID,
		address:  target.Endpoint,
		timeout:  timeout,
		policy:   retry.NewPolicy(target.Forwarder),
	}
	f.set(StateDisconnected)
	return f
}

func (f *TCPForwarder) TargetID() string { return f.targetID }
func (f *TCPForwarder) Stats() Stats     { return f.statCounters.snapshot() }

func (f *TCPForwarder) connectLocked(ctx context.Context) error {
	if f.conn != nil {
		return nil
	}
	f.set(StateConnecting)
	d := net.Dialer{Timeout: f.timeout}
	conn, err := d.DialContext(ctx, "tcp", f.address)
	if err != nil {
		f.set(StateError)
		return err
	}
	f.conn = conn
	f.set(StateConnected)
	logging.Info("tcp forwarder connected", zap.String("target", f.targetID), zap.String("address", f.address))
	return nil
}

func (f *TCPForwarder) disconnectLocked() {
	if f.conn != nil {
		_ = f.conn.Close()
		f.conn = nil
	}
	f.set(StateDisconnected)
}

func (f *TCPForwarder) Forward(ctx context.Context, payload map[string]interface{}) Result {
	start := time.Now()
	f.recordAttempt()

	body, err := json.Marshal(prepareJSONPayload(payload))
	if err != nil {
		f.recordOutcome(false, time.Since(start))
		return Result{TargetID: f.targetID, Success: false, Error: fmt.Sprintf("marshal payload: %v", err)}
	}
	body = append(body, '\n')

	attemptCount := 0
	sendErr := f.policy.Execute(ctx, func(error) bool { return true }, func(ctx context.Context) error {
		attemptCount++
		f.mu.Lock()
		defer f.mu.Unlock()

		if err := f.connectLocked(ctx); err != nil {
			return err
		}
		if d, ok := ctx.Deadline(); ok {
			_ = f.conn.SetWriteDeadline(d)
		} else {
			_ = f.conn.SetWriteDeadline(time.Now().Add(f.timeout))
		}
		if _, err := f.conn.Write(body); err != nil {
			f.disconnectLocked()
			return err
		}
		return nil
	})

	duration := time.Since(start)
	f.recordOutcome(sendErr == nil, duration)

	retries := 0
	if attemptCount > 0 {
		retries = attemptCount - 1
	}
	if sendErr != nil {
		return Result{TargetID: f.targetID, Success: false, Error: sendErr.Error(), RetryCount: retries, Duration: duration}
	}
	return Result{TargetID: f.targetID, Success: true, RetryCount: retries, Duration: duration}
}

func (f *TCPForwarder) ForwardBatch(ctx context.Context, payloads []map[string]interface{}) []Result {
	results := make([]Result, len(payloads))
	for i, p := range payloads {
		results[i] = f.Forward(ctx, p)
	}
	return results
}

func (f *TCPForwarder) Close(ctx context.Context) error {
	f.set(StateClosing)
	f.mu.Lock()
	f.disconnectLocked()
	f.mu.Unlock()
	return nil
}
