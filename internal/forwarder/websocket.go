package forwarder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wudi/protogate/internal/dto"
	"github.com/wudi/protogate/internal/logging"
	"github.com/wudi/protogate/internal/retry"
)

// WebSocketForwarder keeps a persistent client connection to a target
// and sends each payload as a single text frame. A send failure or a
// closed connection drops the socket so the next attempt reconnects.
// No ping/pong heartbeat is run: a dead connection is noticed only when
// a send on it fails.
type WebSocketForwarder struct {
	statCounters
	stateHolder

	targetID string
	url      string
	headers  http.Header
	timeout  time.Duration
	policy   *retry.Policy

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewWebSocketForwarder(target dto.TargetSystem) *WebSocketForwarder {
	timeout := target.Forwarder.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	headers := http.Header{}
	for k, v := range target.Auth.CustomHeaders {
		headers.Set(k, v)
	}
	f := &WebSocketForwarder{
		targetID: target.ID,
		url:      target.Endpoint,
		headers:  headers,
		timeout:  timeout,
		policy:   retry.NewPolicy(target.Forwarder),
	}
	f.set(StateDisconnected)
	return f
}

func (f *WebSocketForwarder) TargetID() string { return f.targetID }
func (f *WebSocketForwarder) Stats() Stats     { return f.statCounters.snapshot() }

func (f *WebSocketForwarder) connectLocked(ctx context.Context) error {
	if f.conn != nil {
		return nil
	}
	f.set(StateConnecting)
	dialer := websocket.Dialer{HandshakeTimeout: f.timeout}
	conn, _, err := dialer.DialContext(ctx, f.url, f.headers)
	if err != nil {
		f.set(StateError)
		return err
	}
	f.conn = conn
	f.set(StateConnected)
	logging.Info("websocket forwarder connected", zap.String("target", f.targetID), zap.String("url", f.url))
	return nil
}

func (f *WebSocketForwarder) disconnectLocked() {
	if f.conn != nil {
		_ = f.conn.Close()
		f.conn = nil
	}
	f.set(StateDisconnected)
}

func (f *WebSocketForwarder) Forward(ctx context.Context, payload map[string]interface{}) Result {
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

		if err := f.connectLocked(ctx); err != nil {
			return err
		}
		_ = f.conn.SetWriteDeadline(time.Now().Add(f.timeout))
		if err := f.conn.WriteMessage(websocket.TextMessage, body); err != nil {
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

func (f *WebSocketForwarder) ForwardBatch(ctx context.Context, payloads []map[string]interface{}) []Result {
	results := make([]Result, len(payloads))
	for i, p := range payloads {
		results[i] = f.Forward(ctx, p)
	}
	return results
}

func (f *WebSocketForwarder) Close(ctx context.Context) error {
	f.set(StateClosing)
	f.mu.Lock()
	f.disconnectLocked()
	f.mu.Unlock()
	return nil
}
