package adapter

import (
	"context"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/wudi/protogate/internal/envelope"
	"github.com/wudi/protogate/internal/eventbus"
	"github.com/wudi/protogate/internal/logging"
)

// UDPAdapter listens on a single UDP socket and publishes one envelope
// per received datagram. Ported from the original's asyncio
// DatagramProtocol: every inbound packet is a complete message, there is
// no connection state to track.
type UDPAdapter struct {
	statsCounter

	cfg            Config
	listenAddress  string
	listenPort     int
	bufferSize     int

	bus *eventbus.Bus

	mu      sync.Mutex
	conn    *net.UDPConn
	running bool
	actual  int

	wg sync.WaitGroup
}

// NewUDPAdapter constructs a UDP adapter. listenPort 0 lets the kernel
// pick an ephemeral port, discoverable afterward via ActualPort.
func NewUDPAdapter(cfg Config, bus *eventbus.Bus, listenAddress string, listenPort, bufferSize int) *UDPAdapter {
	if bufferSize <= 0 {
		bufferSize = 8192
	}
	return &UDPAdapter{
		cfg:           cfg,
		bus:           bus,
		listenAddress: listenAddress,
		listenPort:    listenPort,
		bufferSize:    bufferSize,
	}
}

func (a *UDPAdapter) Name() string                 { return a.cfg.Name }
func (a *UDPAdapter) Protocol() envelope.Protocol   { return envelope.ProtocolUDP }
func (a *UDPAdapter) Stats() Stats                  { return a.statsCounter.snapshot() }

// ActualPort returns the bound port, useful when listenPort was 0.
func (a *UDPAdapter) ActualPort() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.actual
}

func (a *UDPAdapter) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return errAlreadyRunning(a.cfg.Name)
	}

	addr := &net.UDPAddr{IP: net.ParseIP(a.listenAddress), Port: a.listenPort}
	if addr.IP == nil {
		addr.IP = net.IPv4zero
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		a.mu.Unlock()
		return err
	}
	a.conn = conn
	a.actual = conn.LocalAddr().(*net.UDPAddr).Port
	a.running = true
	a.mu.Unlock()

	logging.Info("udp adapter started",
		zap.String("adapter", a.cfg.Name), zap.Int("port", a.actual))

	a.wg.Add(1)
	go a.readLoop(ctx)
	return nil
}

func (a *UDPAdapter) readLoop(ctx context.Context) {
	defer a.wg.Done()
	buf := make([]byte, a.bufferSize)
	for {
		n, addr, err := a.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			a.mu.Lock()
			stillRunning := a.running
			a.mu.Unlock()
			if !stillRunning {
				return
			}
			logging.Warn("udp adapter read error", zap.String("adapter", a.cfg.Name), zap.Error(err))
			continue
		}

		frame := make([]byte, n)
		copy(frame, buf[:n])
		env := publish(a.bus, a.cfg, envelope.ProtocolUDP, frame, addr.IP.String(), addr.Port, "", "")
		a.recordMessage(n)
		if env.ParseError != nil {
			a.recordParseError()
		}
	}
}

func (a *UDPAdapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	done := make(chan struct{})
	go func() { a.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	logging.Info("udp adapter stopped", zap.String("adapter", a.cfg.Name))
	return nil
}
