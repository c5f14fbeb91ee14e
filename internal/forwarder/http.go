package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/wudi/protogate/internal/dto"
	"github.com/wudi/protogate/internal/logging"
	"github.com/wudi/protogate/internal/retry"
)

// HTTPForwarder delivers payloads as a JSON request body to a target
// HTTP(S) endpoint. It is stateless: every Forward call is an
// independent request, so it never transitions through the connecting
// states of the stateful forwarders.
type HTTPForwarder struct {
	statCounters

	targetID string
	url      string
	method   string
	auth     dto.AuthConfig
	policy   *retry.Policy
	breaker  *gobreaker.CircuitBreaker[*http.Response]

	client *http.Client
}

// NewHTTPForwarder builds an HTTP forwarder for the given target. Every
// request is sent with POST; the target configuration has no method
// setting.
func NewHTTPForwarder(target dto.TargetSystem) *HTTPForwarder {
	timeout := target.Forwarder.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	f := &HTTPForwarder{
		targetID: target.ID,
		url:      target.Endpoint,
		method:   http.MethodPost,
		auth:     target.Auth,
		policy:   retry.NewPolicy(target.Forwarder),
		client:   &http.Client{Timeout: timeout},
	}

	settings := gobreaker.Settings{
		Name:        fmt.Sprintf("http-forwarder:%s", target.ID),
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn("forwarder circuit breaker state change",
				zap.String("target", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	f.breaker = gobreaker.NewCircuitBreaker[*http.Response](settings)
	return f
}

func (f *HTTPForwarder) TargetID() string { return f.targetID }
func (f *HTTPForwarder) State() State     { return StateConnected }
func (f *HTTPForwarder) Stats() Stats     { return f.statCounters.snapshot() }

func (f *HTTPForwarder) Forward(ctx context.Context, payload map[string]interface{}) Result {
	start := time.Now()
	f.recordAttempt()

	prepared := prepareJSONPayload(payload)
	body, err := json.Marshal(prepared)
	if err != nil {
		f.recordOutcome(false, time.Since(start))
		return Result{TargetID: f.targetID, Success: false, Error: fmt.Sprintf("marshal payload: %v", err)}
	}

	headerName, headerValue, err := buildAuthHeader(f.auth)
	if err != nil {
		f.recordOutcome(false, time.Since(start))
		return Result{TargetID: f.targetID, Success: false, Error: fmt.Sprintf("build auth header: %v", err)}
	}

	var retries int
	var statusCode int
	var respSnippet string

	attempt := func(ctx context.Context) error {
		resp, err := f.breaker.Execute(func() (*http.Response, error) {
			req, err := http.NewRequestWithContext(ctx, f.method, f.url, bytes.NewReader(body))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "application/json")
			if headerName != "" {
				req.Header.Set(headerName, headerValue)
			}
			if f.auth.Type == dto.AuthBasic {
				req.SetBasicAuth(f.auth.Username, f.auth.Password)
			}
			for k, v := range f.auth.CustomHeaders {
				req.Header.Set(k, v)
			}
			return f.client.Do(req)
		})
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		statusCode = resp.StatusCode
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		respSnippet = string(snippet)

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("http %d: %s", resp.StatusCode, respSnippet)
		}
		return nil
	}

	isRetryable := func(err error) bool {
		// 4xx responses are permanent failures; everything else (network
		// errors, 5xx, breaker-open) is worth retrying.
		return statusCode == 0 || statusCode >= 500
	}

	attemptCount := 0
	err = f.policy.Execute(ctx, isRetryable, func(ctx context.Context) error {
		if attemptCount > 0 {
			logging.Warn("http forwarder retrying",
				zap.String("target", f.targetID), zap.Int("attempt", attemptCount+1))
		}
		attemptCount++
		return attempt(ctx)
	})
	if attemptCount > 0 {
		retries = attemptCount - 1
	}

	duration := time.Since(start)
	f.recordOutcome(err == nil, duration)

	if err != nil {
		return Result{
			TargetID:   f.targetID,
			Success:    false,
			StatusCode: statusCode,
			Error:      err.Error(),
			RetryCount: retries,
			Duration:   duration,
		}
	}
	return Result{
		TargetID:   f.targetID,
		Success:    true,
		StatusCode: statusCode,
		RetryCount: retries,
		Duration:   duration,
	}
}

func (f *HTTPForwarder) ForwardBatch(ctx context.Context, payloads []map[string]interface{}) []Result {
	results := make([]Result, len(payloads))
	for i, p := range payloads {
		results[i] = f.Forward(ctx, p)
	}
	return results
}

func (f *HTTPForwarder) Close(ctx context.Context) error {
	f.client.CloseIdleConnections()
	return nil
}
