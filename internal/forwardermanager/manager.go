// Package forwardermanager implements the ForwarderManager (C8): it
// owns one forwarder per registered target system, applies each
// target's Transformer and (optionally) envelope-encryption before
// handing a payload to the forwarder, fans out concurrently to every
// matched target, and reports outcomes to the monitoring service.
package forwardermanager

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wudi/protogate/internal/crypto"
	"github.com/wudi/protogate/internal/dto"
	"github.com/wudi/protogate/internal/envelope"
	"github.com/wudi/protogate/internal/forwarder"
	"github.com/wudi/protogate/internal/logging"
	"github.com/wudi/protogate/internal/monitoring"
	"github.com/wudi/protogate/internal/transform"
)

// Manager tracks target systems and their forwarders, transforming and
// (optionally) encrypting each payload before delivery.
type Manager struct {
	crypto     *crypto.Service
	monitoring *monitoring.Service

	mu         sync.RWMutex
	targets    map[string]dto.TargetSystem
	forwarders map[string]forwarder.Forwarder
	lastError  map[string]string
}

// New builds a Manager. cryptoSvc may be nil when no target has
// encryption enabled.
func New(cryptoSvc *crypto.Service, monitoringSvc *monitoring.Service) *Manager {
	return &Manager{
		crypto:     cryptoSvc,
		monitoring: monitoringSvc,
		targets:    make(map[string]dto.TargetSystem),
		forwarders: make(map[string]forwarder.Forwarder),
		lastError:  make(map[string]string),
	}
}

// RegisterTarget adds or replaces a target system and (re)builds its
// forwarder. A protocol this manager cannot build a forwarder for is
// recorded as a last error rather than causing registration to fail,
// mirroring the original's best-effort target registration.
func (m *Manager) RegisterTarget(target dto.TargetSystem) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.forwarders[target.ID]; ok {
		_ = existing.Close(context.Background())
	}

	m.targets[target.ID] = target
	fw, err := buildForwarder(target)
	if err != nil {
		delete(m.forwarders, target.ID)
		m.lastError[target.ID] = err.Error()
		logging.Warn("forwarder manager: target not initialized",
			zap.String("target", target.ID), zap.Error(err))
		return
	}
	m.forwarders[target.ID] = fw
	delete(m.lastError, target.ID)
}

// UnregisterTarget closes and forgets a target system.
func (m *Manager) UnregisterTarget(targetID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if fw, ok := m.forwarders[targetID]; ok {
		_ = fw.Close(context.Background())
		delete(m.forwarders, targetID)
	}
	delete(m.targets, targetID)
	delete(m.lastError, targetID)
}

func buildForwarder(target dto.TargetSystem) (forwarder.Forwarder, error) {
	switch envelope.Protocol(strings.ToUpper(target.Protocol)) {
	case envelope.ProtocolHTTP:
		return forwarder.NewHTTPForwarder(target), nil
	case envelope.ProtocolTCP:
		return forwarder.NewTCPForwarder(target), nil
	case envelope.ProtocolUDP:
		return forwarder.NewUDPForwarder(target), nil
	case envelope.ProtocolWebSocket:
		return forwarder.NewWebSocketForwarder(target), nil
	case envelope.ProtocolMQTT:
		return forwarder.NewMQTTForwarder(target), nil
	case envelope.ProtocolAMQP:
		return forwarder.NewAMQPForwarder(target), nil
	default:
		return nil, fmt.Errorf("unsupported target protocol: %q", target.Protocol)
	}
}

// ForwardToTargets transforms, optionally encrypts, and delivers env to
// every target in targetIDs concurrently, then reports the batch to the
// monitoring service.
func (m *Manager) ForwardToTargets(ctx context.Context, env *envelope.Envelope, targetIDs []string) []forwarder.Result {
	results := make([]forwarder.Result, len(targetIDs))

	g, gctx := errgroup.WithContext(ctx)
	for i, targetID := range targetIDs {
		i, targetID := i, targetID
		g.Go(func() error {
			results[i] = m.forwardToSingleTarget(gctx, env, targetID)
			return nil
		})
	}
	_ = g.Wait() // forwardToSingleTarget never returns an error to the group

	if m.monitoring != nil {
		monResults := make([]monitoring.ForwardResult, len(results))
		for i, r := range results {
			monResults[i] = monitoring.ForwardResult{TargetID: r.TargetID, Success: r.Success, Error: r.Error}
		}
		m.monitoring.RecordForwardResults(ctx, env.MessageID, monResults)
	}

	return results
}

func (m *Manager) forwardToSingleTarget(ctx context.Context, env *envelope.Envelope, targetID string) forwarder.Result {
	m.mu.RLock()
	target, hasTarget := m.targets[targetID]
	fw, hasForwarder := m.forwarders[targetID]
	m.mu.RUnlock()

	if !hasTarget {
		return forwarder.Result{TargetID: targetID, Success: false, Error: fmt.Sprintf("target system %s not found", targetID)}
	}
	if !target.IsActive {
		return forwarder.Result{TargetID: targetID, Success: false, Error: fmt.Sprintf("target system %s is inactive", targetID)}
	}
	if !hasForwarder {
		m.mu.RLock()
		lastErr := m.lastError[targetID]
		m.mu.RUnlock()
		if lastErr == "" {
			lastErr = fmt.Sprintf("forwarder for %s not available", targetID)
		}
		return forwarder.Result{TargetID: targetID, Success: false, Error: lastErr}
	}

	payload, err := transform.Apply(env, target.Transform)
	if err != nil {
		return forwarder.Result{TargetID: targetID, Success: false, Error: fmt.Sprintf("transform: %v", err)}
	}
	if payload["target_id"] == nil {
		payload["target_id"] = targetID
	}

	if target.Forwarder.EncryptionEnabled {
		if m.crypto == nil {
			return forwarder.Result{TargetID: targetID, Success: false, Error: "encryption enabled but no crypto service configured"}
		}
		wrapped, err := m.crypto.WrapPayload(payload)
		if err != nil {
			return forwarder.Result{TargetID: targetID, Success: false, Error: fmt.Sprintf("encrypt: %v", err)}
		}
		wrapped["target_id"] = targetID
		payload = wrapped
	}

	return fw.Forward(ctx, payload)
}

// Stats summarizes current registrations for observability endpoints.
type Stats struct {
	TotalTargets  int
	ActiveTargets int
	LastErrors    map[string]string
}

func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	active := 0
	for _, t := range m.targets {
		if t.IsActive {
			active++
		}
	}
	lastErrors := make(map[string]string, len(m.lastError))
	for k, v := range m.lastError {
		lastErrors[k] = v
	}
	return Stats{TotalTargets: len(m.targets), ActiveTargets: active, LastErrors: lastErrors}
}

// Close closes every registered forwarder.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, fw := range m.forwarders {
		if err := fw.Close(ctx); err != nil {
			logging.Warn("forwarder manager: close failed", zap.String("target", id), zap.Error(err))
		}
	}
	m.forwarders = make(map[string]forwarder.Forwarder)
	m.targets = make(map[string]dto.TargetSystem)
	m.lastError = make(map[string]string)
	return nil
}
