// Package forwarder implements the egress side (C7): one implementation
// per target protocol, each responsible for delivering a transformed
// payload to a target system, retrying transient failures, and tracking
// a connection state machine for anything that holds a persistent
// connection.
package forwarder

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wudi/protogate/internal/dto"
)

// State is a forwarder's connection lifecycle. HTTPForwarder always
// reports StateConnected. The others (TCP, UDP, WebSocket, MQTT, AMQP)
// start in StateDisconnected, report StateConnected once a connection is
// up, StateError after a failed dial or send, and StateClosing while
// Close runs; all of them except UDP also report StateConnecting while
// dialing.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Result is one target's outcome for one forwarded message, mirroring
// the original ForwardResult schema.
type Result struct {
	TargetID   string
	Success    bool
	StatusCode int
	Error      string
	RetryCount int
	Duration   time.Duration
}

// Forwarder delivers payloads to a single target system.
type Forwarder interface {
	TargetID() string
	State() State
	Forward(ctx context.Context, payload map[string]interface{}) Result
	ForwardBatch(ctx context.Context, payloads []map[string]interface{}) []Result
	Close(ctx context.Context) error
	Stats() Stats
}

// Stats mirrors the original's get_stats(): attempted/succeeded/failed
// counters plus a running average duration.
type Stats struct {
	Attempted       int64
	Succeeded       int64
	Failed          int64
	TotalDurationMS int64
}

func (s Stats) SuccessRate() float64 {
	if s.Attempted == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Attempted)
}

func (s Stats) AvgDurationMS() float64 {
	if s.Attempted == 0 {
		return 0
	}
	return float64(s.TotalDurationMS) / float64(s.Attempted)
}

// statCounters is embedded by every concrete forwarder.
type statCounters struct {
	attempted atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	totalMS   atomic.Int64
}

func (c *statCounters) recordAttempt() { c.attempted.Add(1) }

func (c *statCounters) recordOutcome(success bool, d time.Duration) {
	c.totalMS.Add(d.Milliseconds())
	if success {
		c.succeeded.Add(1)
	} else {
		c.failed.Add(1)
	}
}

func (c *statCounters) snapshot() Stats {
	return Stats{
		Attempted:       c.attempted.Load(),
		Succeeded:       c.succeeded.Load(),
		Failed:          c.failed.Load(),
		TotalDurationMS: c.totalMS.Load(),
	}
}

// stateHolder is embedded by stateful forwarders to provide a
// mutex-guarded current State.
type stateHolder struct {
	mu    sync.Mutex
	state State
}

func (h *stateHolder) set(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

func (h *stateHolder) get() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// State reports the current connection state, satisfying Forwarder.
func (h *stateHolder) State() State { return h.get() }

// buildAuthHeader returns the header name/value pair an AuthConfig
// contributes to an outbound request, or ("", "") when it contributes
// none (basic auth is applied via the HTTP client's request, not a
// header, so it is handled separately by the HTTP forwarder).
func buildAuthHeader(auth dto.AuthConfig) (string, string, error) {
	switch auth.Type {
	case dto.AuthAPIKey:
		return auth.APIKeyHeader, auth.APIKeyValue, nil
	case dto.AuthBearer:
		token := auth.Token
		if auth.BearerJWT != nil {
			signed, err := signBearerJWT(*auth.BearerJWT)
			if err != nil {
				return "", "", err
			}
			token = signed
		}
		return "Authorization", "Bearer " + token, nil
	default:
		return "", "", nil
	}
}

// signBearerJWT mints a short-lived HS256 token for targets that expect
// gateway-issued bearer credentials rather than a long-lived static
// token.
func signBearerJWT(cfg dto.BearerJWTConfig) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": cfg.Issuer,
		"sub": cfg.Subject,
		"aud": cfg.Audience,
		"iat": now.Unix(),
		"exp": now.Add(cfg.TTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.Secret))
}
