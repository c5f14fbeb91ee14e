package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/wudi/protogate/internal/envelope"
	"github.com/wudi/protogate/internal/eventbus"
	"github.com/wudi/protogate/internal/logging"
)

// MQTTAdapter subscribes to a set of topics (wildcards allowed) on a
// broker and publishes one envelope per received message. Unlike the
// stream-oriented adapters, MQTT payloads are already self-delimited by
// the broker, so there is no framing step. When Config.Schema is set the
// payload is parsed with it; the envelope is published on
// TopicRawFrameReceived whether or not the parse succeeded.
type MQTTAdapter struct {
	statsCounter

	cfg        Config
	brokerHost string
	brokerPort int
	topics     []string
	clientID   string
	username   string
	password   string
	qos        byte

	bus *eventbus.Bus

	mu               sync.Mutex
	client           mqtt.Client
	running          bool
	connected        bool
	connectionLostCt int64
}

func NewMQTTAdapter(cfg Config, bus *eventbus.Bus, brokerHost string, brokerPort int, topics []string, clientID, username, password string, qos byte) *MQTTAdapter {
	if clientID == "" {
		clientID = fmt.Sprintf("protogate-%s", cfg.Name)
	}
	return &MQTTAdapter{
		cfg:        cfg,
		bus:        bus,
		brokerHost: brokerHost,
		brokerPort: brokerPort,
		topics:     topics,
		clientID:   clientID,
		username:   username,
		password:   password,
		qos:        qos,
	}
}

func (a *MQTTAdapter) Name() string               { return a.cfg.Name }
func (a *MQTTAdapter) Protocol() envelope.Protocol { return envelope.ProtocolMQTT }
func (a *MQTTAdapter) Stats() Stats                { return a.statsCounter.snapshot() }

func (a *MQTTAdapter) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return errAlreadyRunning(a.cfg.Name)
	}
	a.running = true
	a.mu.Unlock()

	connected := make(chan error, 1)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", a.brokerHost, a.brokerPort))
	opts.SetClientID(a.clientID)
	if a.username != "" {
		opts.SetUsername(a.username)
		opts.SetPassword(a.password)
	}
	opts.SetAutoReconnect(true)
	opts.OnConnect = func(c mqtt.Client) {
		a.mu.Lock()
		a.connected = true
		a.mu.Unlock()
		for _, topic := range a.topics {
			if token := c.Subscribe(topic, a.qos, a.onMessage); token.Wait() && token.Error() != nil {
				logging.Warn("mqtt adapter subscribe failed",
					zap.String("adapter", a.cfg.Name), zap.String("topic", topic), zap.Error(token.Error()))
			} else {
				logging.Info("mqtt adapter subscribed", zap.String("adapter", a.cfg.Name), zap.String("topic", topic))
			}
		}
		select {
		case connected <- nil:
		default:
		}
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		a.mu.Lock()
		a.connected = false
		a.connectionLostCt++
		a.mu.Unlock()
		logging.Warn("mqtt adapter connection lost", zap.String("adapter", a.cfg.Name), zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	a.mu.Lock()
	a.client = client
	a.mu.Unlock()

	token := client.Connect()
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			select {
			case connected <- err:
			default:
			}
		}
	}()

	select {
	case err := <-connected:
		if err != nil {
			a.mu.Lock()
			a.running = false
			a.mu.Unlock()
			return fmt.Errorf("mqtt adapter %q: connect failed: %w", a.cfg.Name, err)
		}
	case <-time.After(15 * time.Second):
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
		return fmt.Errorf("mqtt adapter %q: connect timed out", a.cfg.Name)
	case <-ctx.Done():
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
		return ctx.Err()
	}

	logging.Info("mqtt adapter started",
		zap.String("adapter", a.cfg.Name), zap.String("broker", fmt.Sprintf("%s:%d", a.brokerHost, a.brokerPort)))
	return nil
}

func (a *MQTTAdapter) onMessage(_ mqtt.Client, msg mqtt.Message) {
	payload := msg.Payload()
	env := envelope.Envelope{
		Timestamp:      time.Now(),
		SourceProtocol: envelope.ProtocolMQTT,
		DataSourceID:   a.cfg.DataSourceID,
		RawData:        payload,
		AdapterName:    a.cfg.Name,
		Topic:          msg.Topic(),
		QoS:            int(msg.Qos()),
	}
	env.MessageID = newConnID()

	if a.cfg.Schema != nil {
		if v, err := a.cfg.Schema.Parse(payload); err == nil {
			env = env.WithParsed(v)
		} else {
			env = env.WithParseError(err.Error())
			a.recordParseError()
		}
	}

	a.recordMessage(len(payload))
	a.bus.Publish(eventbus.TopicRawFrameReceived, &env)
}

func (a *MQTTAdapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	client := a.client
	a.client = nil
	a.connected = false
	a.mu.Unlock()

	if client != nil {
		client.Disconnect(250)
	}

	logging.Info("mqtt adapter stopped", zap.String("adapter", a.cfg.Name))
	return nil
}
