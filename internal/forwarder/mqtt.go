package forwarder

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/wudi/protogate/internal/dto"
	"github.com/wudi/protogate/internal/logging"
	"github.com/wudi/protogate/internal/retry"
)

// MQTTForwarder publishes each payload to a (possibly templated) topic
// on a broker, reconnecting lazily on the next Forward after any
// publish failure.
type MQTTForwarder struct {
	statCounters
	stateHolder

	targetID      string
	brokerAddress string
	topicTemplate string
	qos           byte
	username      string
	password      string
	timeout       time.Duration
	policy        *retry.Policy

	mu     sync.Mutex
	client mqtt.Client
}

func NewMQTTForwarder(target dto.TargetSystem) *MQTTForwarder {
	timeout := target.Forwarder.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	topic := target.Forwarder.TopicTemplate
	if topic == "" {
		topic = target.Endpoint // fall back to a fixed topic, e.g. "sensors/out"
	}
	f := &MQTTForwarder{
		targetID:      target.ID,
		brokerAddress: target.Endpoint,
		topicTemplate: topic,
		qos:           byte(target.Forwarder.QoS),
		username:      target.Auth.Username,
		password:      target.Auth.Password,
		timeout:       timeout,
		policy:        retry.NewPolicy(target.Forwarder),
	}
	f.set(StateDisconnected)
	return f
}

func (f *MQTTForwarder) TargetID() string { return f.targetID }
func (f *MQTTForwarder) Stats() Stats     { return f.statCounters.snapshot() }

func (f *MQTTForwarder) connectLocked(ctx context.Context) error {
	if f.client != nil && f.client.IsConnected() {
		return nil
	}
	f.set(StateConnecting)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", f.brokerAddress))
	opts.SetClientID(fmt.Sprintf("protogate-fwd-%s", f.targetID))
	if f.username != "" {
		opts.SetUsername(f.username)
		opts.SetPassword(f.password)
	}
	opts.SetConnectTimeout(f.timeout)
	opts.SetAutoReconnect(false)
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logging.Warn("mqtt forwarder connection lost", zap.String("target", f.targetID), zap.Error(err))
		f.set(StateError)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(f.timeout) {
		f.set(StateError)
		return fmt.Errorf("mqtt forwarder %q: connect timed out", f.targetID)
	}
	if err := token.Error(); err != nil {
		f.set(StateError)
		return err
	}

	f.client = client
	f.set(StateConnected)
	logging.Info("mqtt forwarder connected", zap.String("target", f.targetID), zap.String("broker", f.brokerAddress))
	return nil
}

func (f *MQTTForwarder) disconnectLocked() {
	if f.client != nil {
		f.client.Disconnect(250)
		f.client = nil
	}
	f.set(StateDisconnected)
}

// resolveTopic fills {placeholder} tokens in the topic template from
// payload fields, then strips any placeholders left unresolved.
func resolveTopic(template string, payload map[string]interface{}) string {
	if !strings.Contains(template, "{") {
		return template
	}
	replacements := map[string]string{
		"source_id":   stringField(payload, "data_source_id", "source_id"),
		"source_name": stringField(payload, "source_name", "adapter_name"),
		"protocol":    stringField(payload, "source_protocol"),
		"target_id":   stringField(payload, "target_id"),
		"message_id":  stringField(payload, "message_id"),
	}
	topic := template
	for key, value := range replacements {
		if value == "" {
			continue
		}
		topic = strings.ReplaceAll(topic, "{"+key+"}", value)
	}
	for {
		open := strings.Index(topic, "{")
		if open < 0 {
			break
		}
		end := strings.Index(topic[open:], "}")
		if end < 0 {
			break
		}
		topic = topic[:open] + topic[open+end+1:]
	}
	topic = strings.NewReplacer("{", "", "}", "").Replace(topic)
	if topic == "" {
		return template
	}
	return topic
}

func stringField(payload map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := payload[k]; ok && v != nil {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
			return fmt.Sprintf("%v", v)
		}
	}
	return ""
}

func (f *MQTTForwarder) Forward(ctx context.Context, payload map[string]interface{}) Result {
	start := time.Now()
	f.recordAttempt()

	body, err := json.Marshal(prepareJSONPayload(payload))
	if err != nil {
		f.recordOutcome(false, time.Since(start))
		return Result{TargetID: f.targetID, Success: false, Error: fmt.Sprintf("marshal payload: %v", err)}
	}
	topic := resolveTopic(f.topicTemplate, payload)

	attemptCount := 0
	sendErr := f.policy.Execute(ctx, func(error) bool { return true }, func(ctx context.Context) error {
		attemptCount++
		f.mu.Lock()
		defer f.mu.Unlock()

		if err := f.connectLocked(ctx); err != nil {
			return err
		}
		token := f.client.Publish(topic, f.qos, false, body)
		if !token.WaitTimeout(f.timeout) {
			f.disconnectLocked()
			return fmt.Errorf("mqtt publish timed out")
		}
		if err := token.Error(); err != nil {
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

func (f *MQTTForwarder) ForwardBatch(ctx context.Context, payloads []map[string]interface{}) []Result {
	results := make([]Result, len(payloads))
	for i, p := range payloads {
		results[i] = f.Forward(ctx, p)
	}
	return results
}

func (f *MQTTForwarder) Close(ctx context.Context) error {
	f.set(StateClosing)
	f.mu.Lock()
	f.disconnectLocked()
	f.mu.Unlock()
	return nil
}
