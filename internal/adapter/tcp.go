package adapter

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/wudi/protogate/internal/dto"
	"github.com/wudi/protogate/internal/envelope"
	"github.com/wudi/protogate/internal/eventbus"
	"github.com/wudi/protogate/internal/frameschema"
	"github.com/wudi/protogate/internal/logging"
)

// TCPAdapter accepts long-lived TCP connections and splits each
// connection's byte stream into frames using a frameschema.Splitter
// (fixed/variable/delimited framing) before publishing one envelope per
// frame. Connections are tracked by id so MaxConnections can be enforced,
// mirroring the original adapter's connection bookkeeping.
type TCPAdapter struct {
	statsCounter

	cfg           Config
	listenAddress string
	listenPort    int
	bufferSize    int
	maxConns      int
	schema        dto.FrameSchema
	hasSchema     bool

	bus *eventbus.Bus

	mu       sync.Mutex
	listener net.Listener
	running  bool
	actual   int
	conns    map[string]net.Conn

	wg sync.WaitGroup
}

// NewTCPAdapter constructs a TCP adapter. When schema is non-nil, each
// connection's byte stream is split into frames with a fresh
// frameschema.Splitter before being handed to publish(); when nil, every
// Read() chunk is published as its own frame verbatim, suited to
// upstream protocols (length-prefixed JSON, line-delimited text) that
// already frame themselves.
func NewTCPAdapter(cfg Config, bus *eventbus.Bus, listenAddress string, listenPort, bufferSize, maxConns int, schema *dto.FrameSchema) *TCPAdapter {
	if bufferSize <= 0 {
		bufferSize = 8192
	}
	if maxConns <= 0 {
		maxConns = 100
	}
	a := &TCPAdapter{
		cfg:           cfg,
		bus:           bus,
		listenAddress: listenAddress,
		listenPort:    listenPort,
		bufferSize:    bufferSize,
		maxConns:      maxConns,
		conns:         make(map[string]net.Conn),
	}
	if schema != nil {
		a.schema = *schema
		a.hasSchema = true
	}
	return a
}

func (a *TCPAdapter) Name() string               { return a.cfg.Name }
func (a *TCPAdapter) Protocol() envelope.Protocol { return envelope.ProtocolTCP }
func (a *TCPAdapter) Stats() Stats                { return a.statsCounter.snapshot() }

func (a *TCPAdapter) ActualPort() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.actual
}

func (a *TCPAdapter) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return errAlreadyRunning(a.cfg.Name)
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(a.listenAddress, portString(a.listenPort)))
	if err != nil {
		a.mu.Unlock()
		return err
	}
	a.listener = ln
	a.actual = ln.Addr().(*net.TCPAddr).Port
	a.running = true
	a.mu.Unlock()

	logging.Info("tcp adapter started", zap.String("adapter", a.cfg.Name), zap.Int("port", a.actual))

	a.wg.Add(1)
	go a.acceptLoop(ctx)
	return nil
}

func (a *TCPAdapter) acceptLoop(ctx context.Context) {
	defer a.wg.Done()
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			a.mu.Lock()
			running := a.running
			a.mu.Unlock()
			if !running {
				return
			}
			logging.Warn("tcp adapter accept error", zap.String("adapter", a.cfg.Name), zap.Error(err))
			return
		}

		a.mu.Lock()
		if len(a.conns) >= a.maxConns {
			a.mu.Unlock()
			logging.Warn("tcp adapter rejected connection: max connections reached",
				zap.String("adapter", a.cfg.Name), zap.Int("max", a.maxConns))
			_ = conn.Close()
			continue
		}
		connID := newConnID()
		a.conns[connID] = conn
		a.mu.Unlock()

		a.connectionOpened()
		a.wg.Add(1)
		go a.handleConn(ctx, connID, conn)
	}
}

func (a *TCPAdapter) handleConn(ctx context.Context, connID string, conn net.Conn) {
	defer a.wg.Done()
	defer func() {
		_ = conn.Close()
		a.mu.Lock()
		delete(a.conns, connID)
		a.mu.Unlock()
		a.connectionClosed()
	}()

	remoteHost, remotePort := splitHostPort(conn.RemoteAddr().String())
	reader := bufio.NewReaderSize(conn, a.bufferSize)
	buf := make([]byte, a.bufferSize)

	var splitter *frameschema.Splitter
	if a.hasSchema {
		splitter = frameschema.NewSplitter(a.schema)
	}

	emit := func(frame []byte) {
		env := publish(a.bus, a.cfg, envelope.ProtocolTCP, frame, remoteHost, remotePort, connID, "")
		a.recordMessage(len(frame))
		if env.ParseError != nil {
			a.recordParseError()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := reader.Read(buf)
		if n > 0 {
			if splitter != nil {
				splitter.Feed(buf[:n])
				for {
					frame, ok := splitter.Next()
					if !ok {
						break
					}
					emit(frame)
				}
			} else {
				frame := make([]byte, n)
				copy(frame, buf[:n])
				emit(frame)
			}
		}
		if err != nil {
			if err != io.EOF {
				logging.Warn("tcp adapter read error", zap.String("adapter", a.cfg.Name), zap.Error(err))
			}
			return
		}
	}
}

func (a *TCPAdapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	ln := a.listener
	a.listener = nil
	conns := make([]net.Conn, 0, len(a.conns))
	for _, c := range a.conns {
		conns = append(conns, c)
	}
	a.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	for _, c := range conns {
		_ = c.Close()
	}

	done := make(chan struct{})
	go func() { a.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	logging.Info("tcp adapter stopped", zap.String("adapter", a.cfg.Name))
	return nil
}
