package forwarder

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/wudi/protogate/internal/dto"
	"github.com/wudi/protogate/internal/retry"
)

// UDPForwarder sends each payload as a single datagram. UDP is
// connectionless on the wire, but net.Dial("udp", ...) still gives us a
// fixed-destination socket we can reuse across sends instead of
// resolving the address every time.
type UDPForwarder struct {
	statCounters
	stateHolder

	targetID string
	address  string
	timeout  time.Duration
	policy   *retry.Policy

	mu   sync.Mutex
	conn net.Conn
}

func NewUDPForwarder(target dto.TargetSystem) *UDPForwarder {
	timeout := target.Forwarder.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	f := &UDPForwarder{
		targetID: target.ID,
		address:  target.Endpoint,
		timeout:  timeout,
		policy:   retry.NewPolicy(target.Forwarder),
	}
	f.set(StateDisconnected)
	return f
}

func (f *UDPForwarder) TargetID() string { return f.targetID }
func (f *UDPForwarder) Stats() Stats     { return f.statCounters.snapshot() }

func (f *UDPForwarder) connectLocked() error {
	if f.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout("udp", f.address, f.timeout)
	if err != nil {
		f.set(StateError)
		return err
	}
	f.conn = conn
	f.set(StateConnected)
	return nil
}

func (f *UDPForwarder) Forward(ctx context.Context, payload map[string]interface{}) Result {
	start := time.Now()
	f.recordAttempt()

	body, err := json.Marshal(prepareJSONPayload(payload))
	if err != nil {
		f.recordOutcome(false, time.Since(start))
		return Result{TargetID: f.targetID, Success: false, Error: fmt.Sprintf("marshal payload: %v", err)}
	}

	attemptCount := 0
	sendErr := f.policy.Execute(ctx, func(error) bool { return true }, func(ctx context.Context) error {
		attemptCount++
		f.mu.Lock()
		defer f.mu.Unlock()

		if err := f.connectLocked(); err != nil {
			return err
		}
		if _, err := f.conn.Write(body); err != nil {
			_ = f.conn.Close()
			f.conn = nil
			f.set(StateError)
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

func (f *UDPForwarder) ForwardBatch(ctx context.Context, payloads []map[string]interface{}) []Result {
	results := make([]Result, len(payloads))
	for i, p := range payloads {
		results[i] = f.Forward(ctx, p)
	}
	return results
}

func (f *UDPForwarder) Close(ctx context.Context) error {
	f.set(StateClosing)
	f.mu.Lock()
	if f.conn != nil {
		_ = f.conn.Close()
		f.conn = nil
	}
	f.mu.Unlock()
	f.set(StateDisconnected)
	return nil
}
