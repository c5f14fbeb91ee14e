// Package pipeline implements the orchestrator (C9): it subscribes to the
// envelopes adapters publish, resolves any frame that arrived unparsed or
// encrypted, hands the result to the routing engine, forwards to the
// matched targets, and records both outcomes with the monitoring service.
// Nothing else in the gateway wires these packages together — adapters,
// routing, transform, crypto, and the forwarder manager each know nothing
// about one another.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/protogate/internal/crypto"
	"github.com/wudi/protogate/internal/dto"
	"github.com/wudi/protogate/internal/envelope"
	"github.com/wudi/protogate/internal/eventbus"
	"github.com/wudi/protogate/internal/forwarder"
	"github.com/wudi/protogate/internal/forwardermanager"
	"github.com/wudi/protogate/internal/frameschema"
	"github.com/wudi/protogate/internal/logging"
	"github.com/wudi/protogate/internal/monitoring"
	"github.com/wudi/protogate/internal/routing"

	"github.com/google/uuid"
)

// Pipeline wires the event bus to the routing engine and forwarder
// manager. Crypto is optional: a nil Service means encrypted payloads are
// routed with their encrypted_payload field left untouched.
type Pipeline struct {
	bus        *eventbus.Bus
	routing    *routing.Engine
	forwarders *forwardermanager.Manager
	monitoring *monitoring.Service
	crypto     *crypto.Service

	mu      sync.RWMutex
	schemas map[string]*frameschema.Parser // frame schema id -> parser, for the manual process path

	unsubRaw    func()
	unsubParsed func()
}

// Deps collects the already-constructed collaborators a Pipeline wires
// together. Every field is constructed and owned by the caller (typically
// cmd/protogate/main.go); Pipeline never builds its own collaborators.
type Deps struct {
	Bus        *eventbus.Bus
	Routing    *routing.Engine
	Forwarders *forwardermanager.Manager
	Monitoring *monitoring.Service
	Crypto     *crypto.Service // optional
}

func New(deps Deps) *Pipeline {
	return &Pipeline{
		bus:        deps.Bus,
		routing:    deps.Routing,
		forwarders: deps.Forwarders,
		monitoring: deps.Monitoring,
		crypto:     deps.Crypto,
		schemas:    make(map[string]*frameschema.Parser),
	}
}

// Start subscribes to every topic an adapter can publish an envelope to.
// It never blocks; handlers run on the bus's own dispatch goroutines.
func (p *Pipeline) Start(ctx context.Context) error {
	p.unsubRaw = p.bus.Subscribe(eventbus.TopicRawFrameReceived, p.handleRaw)
	p.unsubParsed = p.bus.Subscribe(eventbus.TopicMessageParsed, p.handleParsed)
	logging.Info("pipeline started")
	return nil
}

// Stop unsubscribes from the bus. It does not stop the bus itself or any
// adapter; those are owned and stopped independently by main.
func (p *Pipeline) Stop(ctx context.Context) error {
	if p.unsubRaw != nil {
		p.unsubRaw()
	}
	if p.unsubParsed != nil {
		p.unsubParsed()
	}
	logging.Info("pipeline stopped")
	return nil
}

// RegisterFrameSchema makes a frame schema available to the manual
// ProcessMessage path under its configured id.
func (p *Pipeline) RegisterFrameSchema(schema dto.FrameSchema) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.schemas[schema.ID] = frameschema.New(schema)
}

// UnregisterFrameSchema removes a previously registered frame schema.
func (p *Pipeline) UnregisterFrameSchema(schemaID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.schemas, schemaID)
}

// UpdateRoutingRules delegates to the routing engine, replacing its whole
// rule set (the engine has no incremental add/remove; it always swaps in
// a full, freshly-sorted snapshot).
func (p *Pipeline) UpdateRoutingRules(rules []dto.RoutingRule) {
	p.routing.Update(rules)
}

// RegisterTargetSystem delegates to the forwarder manager.
func (p *Pipeline) RegisterTargetSystem(target dto.TargetSystem) {
	p.forwarders.RegisterTarget(target)
}

// UnregisterTargetSystem delegates to the forwarder manager.
func (p *Pipeline) UnregisterTargetSystem(targetID string) {
	p.forwarders.UnregisterTarget(targetID)
}

// handleParsed is reached for envelopes an adapter already ran through a
// registered frame schema successfully; it only needs decryption (if any)
// before routing.
func (p *Pipeline) handleParsed(ctx context.Context, event eventbus.Event) {
	env, ok := event.Payload.(*envelope.Envelope)
	if !ok {
		return
	}
	p.route(ctx, p.decryptIfNeeded(*env))
}

// handleRaw is reached both for envelopes that failed schema parsing
// (ParseError set — routed anyway so routing rules matching on protocol
// or source can still catch them, mirroring the original's
// best-effort routing of unparseable frames) and for envelopes from
// adapters with no configured schema, whose RawData is assumed to be
// JSON text and is decoded here.
func (p *Pipeline) handleRaw(ctx context.Context, event eventbus.Event) {
	env, ok := event.Payload.(*envelope.Envelope)
	if !ok {
		return
	}
	if env.ParseError != nil {
		p.route(ctx, *env)
		return
	}

	parsed, err := decodeJSONEnvelope(*env)
	if err != nil {
		msg := fmt.Sprintf("json decode: %v", err)
		logging.Warn("pipeline: raw frame is not valid JSON and no frame schema applied",
			zap.String("data_source", env.DataSourceID), zap.Error(err))
		p.route(ctx, env.WithParseError(msg))
		return
	}
	p.route(ctx, p.decryptIfNeeded(parsed))
}

func decodeJSONEnvelope(env envelope.Envelope) (envelope.Envelope, error) {
	var raw interface{}
	if err := json.Unmarshal(env.RawData, &raw); err != nil {
		return env, err
	}
	return env.WithParsed(envelope.FromInterface(raw)), nil
}

// decryptIfNeeded unwraps an envelope whose parsed data is exactly an
// encrypted_payload object, replacing it with the decrypted fields. An
// envelope without that shape, or with no crypto service configured, is
// returned unchanged.
func (p *Pipeline) decryptIfNeeded(env envelope.Envelope) envelope.Envelope {
	if p.crypto == nil || env.ParsedData == nil {
		return env
	}
	m, ok := env.ParsedData.Map()
	if !ok {
		return env
	}
	wrapped, ok := m["encrypted_payload"]
	if !ok {
		return env
	}
	msg, err := toEncryptedMessage(wrapped)
	if err != nil {
		logging.Warn("pipeline: malformed encrypted_payload", zap.Error(err))
		return env
	}
	fields, err := p.crypto.UnwrapPayload(msg)
	if err != nil {
		logging.Warn("pipeline: decrypt failed", zap.String("message_id", env.MessageID), zap.Error(err))
		return env
	}
	return env.WithParsed(envelope.FromInterface(fields))
}

func toEncryptedMessage(v envelope.Value) (*crypto.EncryptedMessage, error) {
	raw, err := json.Marshal(v.ToInterface())
	if err != nil {
		return nil, err
	}
	var msg crypto.EncryptedMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	if msg.Ciphertext == "" || msg.Nonce == "" {
		return nil, fmt.Errorf("missing ciphertext/nonce")
	}
	return &msg, nil
}

// route evaluates the routing engine, records the decision, and forwards
// to every matched target.
func (p *Pipeline) route(ctx context.Context, env envelope.Envelope) {
	decision := p.routing.Route(&env)
	if p.monitoring != nil {
		p.monitoring.RecordRoutingDecision(ctx, &env, decision.MatchedRuleIDs, decision.TargetIDs)
	}
	if len(decision.TargetIDs) == 0 {
		return
	}
	p.forwarders.ForwardToTargets(ctx, &env, decision.TargetIDs)
}

// ProcessMessage runs the manual, synchronous path used by HTTP/test
// entry points that hand the pipeline a raw frame directly rather than
// going through an adapter: parse it against a registered frame schema,
// route it, forward it, and return every result instead of only
// publishing to the bus.
func (p *Pipeline) ProcessMessage(ctx context.Context, raw []byte, frameSchemaID string, source SourceInfo) (*routing.Decision, []forwarder.Result, error) {
	p.mu.RLock()
	parser, ok := p.schemas[frameSchemaID]
	p.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("pipeline: frame schema %q not registered", frameSchemaID)
	}

	v, err := parser.Parse(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline: parse frame: %w", err)
	}

	messageID := source.MessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}
	env := envelope.Envelope{
		MessageID:      messageID,
		Timestamp:      time.Now(),
		SourceProtocol: envelope.Protocol(strings.ToUpper(source.Protocol)),
		DataSourceID:   source.DataSourceID,
		SourceAddress:  source.SourceAddress,
		AdapterName:    source.AdapterName,
		RawData:        raw,
	}
	env = env.WithParsed(v)
	env = p.decryptIfNeeded(env)

	decision := p.routing.Route(&env)
	if p.monitoring != nil {
		p.monitoring.RecordRoutingDecision(ctx, &env, decision.MatchedRuleIDs, decision.TargetIDs)
	}
	if len(decision.TargetIDs) == 0 {
		return &decision, nil, nil
	}
	results := p.forwarders.ForwardToTargets(ctx, &env, decision.TargetIDs)
	return &decision, results, nil
}

// SourceInfo carries the metadata ProcessMessage needs to build an
// envelope for a manually-submitted frame, in place of the connection
// context an adapter would normally supply.
type SourceInfo struct {
	MessageID     string
	Protocol      string
	DataSourceID  string
	SourceAddress string
	AdapterName   string
}
