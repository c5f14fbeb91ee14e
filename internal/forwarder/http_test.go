package forwarder

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wudi/protogate/internal/dto"
)

func TestHTTPForwarder_ForwardSucceeds(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer static-token" {
			t.Errorf("missing auth header, got %q", r.Header.Get("Authorization"))
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	target := dto.TargetSystem{
		ID:       "t1",
		Endpoint: srv.URL,
		Auth:     dto.AuthConfig{Type: dto.AuthBearer, Token: "static-token"},
		Forwarder: dto.ForwarderConfig{
			Timeout:    2 * time.Second,
			RetryCount: 2,
			RetryDelay: time.Millisecond,
		},
	}
	f := NewHTTPForwarder(target)

	res := f.Forward(context.Background(), map[string]interface{}{"x": 1})
	if !res.Success {
		t.Fatalf("Forward() = %+v, want success", res)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("StatusCode = %d, want 200", res.StatusCode)
	}
	_ = gotBody

	stats := f.Stats()
	if stats.Attempted != 1 || stats.Succeeded != 1 {
		t.Fatalf("Stats = %+v, want 1 attempted/succeeded", stats)
	}
}

func TestHTTPForwarder_RetriesOn500ThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	target := dto.TargetSystem{
		ID:       "t2",
		Endpoint: srv.URL,
		Forwarder: dto.ForwarderConfig{
			Timeout:    2 * time.Second,
			RetryCount: 3,
			RetryDelay: time.Millisecond,
		},
	}
	f := NewHTTPForwarder(target)

	res := f.Forward(context.Background(), map[string]interface{}{"x": 1})
	if !res.Success {
		t.Fatalf("Forward() = %+v, want eventual success", res)
	}
	if res.RetryCount != 2 {
		t.Fatalf("RetryCount = %d, want 2", res.RetryCount)
	}
}

func TestHTTPForwarder_DoesNotRetryOn400(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	target := dto.TargetSystem{
		ID:       "t3",
		Endpoint: srv.URL,
		Forwarder: dto.ForwarderConfig{
			Timeout:    2 * time.Second,
			RetryCount: 3,
			RetryDelay: time.Millisecond,
		},
	}
	f := NewHTTPForwarder(target)

	res := f.Forward(context.Background(), map[string]interface{}{"x": 1})
	if res.Success {
		t.Fatal("Forward() succeeded, want failure on 400")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1 (no retry on 4xx)", calls.Load())
	}
}

func TestHTTPForwarder_ForwardBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	target := dto.TargetSystem{
		ID:       "t4",
		Endpoint: srv.URL,
		Forwarder: dto.ForwarderConfig{Timeout: 2 * time.Second},
	}
	f := NewHTTPForwarder(target)

	results := f.ForwardBatch(context.Background(), []map[string]interface{}{
		{"a": 1}, {"b": 2},
	})
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	for _, r := range results {
		if !r.Success {
			t.Errorf("result %+v not successful", r)
		}
	}
}

func TestPrepareJSONPayload_ConvertsBytesAndNested(t *testing.T) {
	in := map[string]interface{}{
		"raw":   []byte("hi"),
		"empty": []byte{},
		"nested": map[string]interface{}{
			"list": []interface{}{[]byte("a"), 1, "s"},
		},
	}
	out := prepareJSONPayload(in).(map[string]interface{})
	if out["raw"] != "aGk=" {
		t.Errorf("raw = %v, want base64 of 'hi'", out["raw"])
	}
	if out["empty"] != "" {
		t.Errorf("empty = %v, want empty string", out["empty"])
	}
	nested := out["nested"].(map[string]interface{})
	list := nested["list"].([]interface{})
	if list[0] != "YQ==" {
		t.Errorf("list[0] = %v, want base64 of 'a'", list[0])
	}
}
