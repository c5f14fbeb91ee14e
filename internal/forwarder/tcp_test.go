package forwarder

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/wudi/protogate/internal/dto"
)

func TestTCPForwarder_ForwardWritesNewlineDelimitedJSON(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		received <- line
	}()

	target := dto.TargetSystem{
		ID:       "tcp1",
		Endpoint: ln.Addr().String(),
		Forwarder: dto.ForwarderConfig{
			Timeout:    2 * time.Second,
			RetryCount: 1,
			RetryDelay: time.Millisecond,
		},
	}
	f := NewTCPForwarder(target)
	defer f.Close(context.Background())

	res := f.Forward(context.Background(), map[string]interface{}{"x": 1})
	if !res.Success {
		t.Fatalf("Forward() = %+v, want success", res)
	}
	if f.State() != StateConnected {
		t.Fatalf("State() = %v, want connected", f.State())
	}

	select {
	case line := <-received:
		if line != "{\"x\":1}\n" {
			t.Fatalf("received = %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for data")
	}
}

func TestTCPForwarder_ForwardFailsWhenUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close() // nothing listening now

	target := dto.TargetSystem{
		ID:       "tcp2",
		Endpoint: addr,
		Forwarder: dto.ForwarderConfig{
			Timeout:    200 * time.Millisecond,
			RetryCount: 1,
			RetryDelay: time.Millisecond,
		},
	}
	f := NewTCPForwarder(target)
	defer f.Close(context.Background())

	res := f.Forward(context.Background(), map[string]interface{}{"x": 1})
	if res.Success {
		t.Fatal("Forward() succeeded, want failure against closed listener")
	}
	if f.State() != StateError {
		t.Fatalf("State() = %v, want error", f.State())
	}
}
