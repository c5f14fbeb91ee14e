package forwarder

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/wudi/protogate/internal/dto"
)

func TestUDPForwarder_ForwardSendsDatagram(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	target := dto.TargetSystem{
		ID:       "udp1",
		Endpoint: conn.LocalAddr().String(),
		Forwarder: dto.ForwarderConfig{
			Timeout:    2 * time.Second,
			RetryCount: 1,
			RetryDelay: time.Millisecond,
		},
	}
	f := NewUDPForwarder(target)
	defer f.Close(context.Background())

	res := f.Forward(context.Background(), map[string]interface{}{"x": 1})
	if !res.Success {
		t.Fatalf("Forward() = %+v, want success", res)
	}

	buf := make([]byte, 256)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != `{"x":1}` {
		t.Fatalf("datagram = %q", buf[:n])
	}
}
