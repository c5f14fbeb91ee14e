package forwarder

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/wudi/protogate/internal/dto"
	"github.com/wudi/protogate/internal/logging"
	"github.com/wudi/protogate/internal/retry"
)

// AMQPForwarder publishes each payload to a configured RabbitMQ
// exchange/routing-key. A supplemental sixth forwarder protocol not
// present in the original gateway.
type AMQPForwarder struct {
	statCounters
	stateHolder

	targetID   string
	url        string
	exchange   string
	routingKey string
	timeout    time.Duration
	policy     *retry.Policy

	mu   sync.Mutex
	conn *amqp091.Connection
	ch   *amqp091.Channel
}

func NewAMQPForwarder(target dto.TargetSystem) *AMQPForwarder {
	timeout := target.Forwarder.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	f := &AMQPForwarder{
		targetID:   target.ID,
		url:        target.Endpoint,
		exchange:   target.Forwarder.Exchange,
		routingKey: target.Forwarder.RoutingKey,
		timeout:    timeout,
		policy:     retry.NewPolicy(target.Forwarder),
	}
	f.set(StateDisconnected)
	return f
}

func (f *AMQPForwarder) TargetID() string { return f.targetID }
func (f *AMQPForwarder) Stats() Stats     { return f.statCounters.snapshot() }

func (f *AMQPForwarder) connectLocked() error {
	if f.conn != nil && !f.conn.IsClosed() {
		return nil
	}
	f.set(StateConnecting)

	conn, err := amqp091.Dial(f.url)
	if err != nil {
		f.set(StateError)
		return fmt.Errorf("amqp connect: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		f.set(StateError)
		return fmt.Errorf("amqp channel: %w", err)
	}

	f.conn = conn
	f.ch = ch
	f.set(StateConnected)
	logging.Info("amqp forwarder connected", zap.String("target", f.targetID), zap.String("exchange", f.exchange))
	return nil
}

func (f *AMQPForwarder) disconnectLocked() {
	if f.ch != nil {
		_ = f.ch.Close()
		f.ch = nil
	}
	if f.conn != nil {
		_ = f.conn.Close()
		f.conn = nil
	}
	f.set(StateDisconnected)
}

func (f *AMQPForwarder) Forward(ctx context.Context, payload map[string]interface{}) Result {
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
		publishCtx, cancel := context.WithTimeout(ctx, f.timeout)
		defer cancel()
		err := f.ch.PublishWithContext(publishCtx, f.exchange, f.routingKey, false, false, amqp091.Publishing{
			ContentType: "application/json",
			Body:        body,
		})
		if err != nil {
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

func (f *AMQPForwarder) ForwardBatch(ctx context.Context, payloads []map[string]interface{}) []Result {
	results := make([]Result, len(payloads))
	for i, p := range payloads {
		results[i] = f.Forward(ctx, p)
	}
	return results
}

func (f *AMQPForwarder) Close(ctx context.Context) error {
	f.set(StateClosing)
	f.mu.Lock()
	f.disconnectLocked()
	f.mu.Unlock()
	return nil
}
