package forwarder

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wudi/protogate/internal/dto"
)

func TestWebSocketForwarder_ForwardSendsTextFrame(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, data, err := conn.ReadMessage()
		if err == nil {
			received <- string(data)
		}
	}))
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):]
	target := dto.TargetSystem{
		ID:       "ws1",
		Endpoint: wsURL,
		Forwarder: dto.ForwarderConfig{
			Timeout:    2 * time.Second,
			RetryCount: 1,
			RetryDelay: time.Millisecond,
		},
	}
	f := NewWebSocketForwarder(target)
	defer f.Close(context.Background())

	res := f.Forward(context.Background(), map[string]interface{}{"x": 1})
	if !res.Success {
		t.Fatalf("Forward() = %+v, want success", res)
	}

	select {
	case data := <-received:
		if data != `{"x":1}` {
			t.Fatalf("received = %q", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestWebSocketForwarder_ForwardFailsOnBadURL(t *testing.T) {
	target := dto.TargetSystem{
		ID:       "ws2",
		Endpoint: "ws://127.0.0.1:1", // nothing listening
		Forwarder: dto.ForwarderConfig{
			Timeout:    200 * time.Millisecond,
			RetryCount: 0,
			RetryDelay: time.Millisecond,
		},
	}
	f := NewWebSocketForwarder(target)
	defer f.Close(context.Background())

	res := f.Forward(context.Background(), map[string]interface{}{"x": 1})
	if res.Success {
		t.Fatal("Forward() succeeded, want failure")
	}
}
