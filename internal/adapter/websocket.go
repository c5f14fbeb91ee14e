package adapter

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wudi/protogate/internal/envelope"
	"github.com/wudi/protogate/internal/eventbus"
	"github.com/wudi/protogate/internal/logging"
)

// WebSocketAdapter upgrades HTTP connections on a configured endpoint and
// publishes one envelope per inbound text or binary frame. Connection
// accept/close is owned entirely by this adapter (unlike the original,
// which left it to the surrounding web framework), since Go has no
// equivalent ambient request-scoped connection object to borrow.
type WebSocketAdapter struct {
	statsCounter

	cfg           Config
	listenAddress string
	listenPort    int
	endpoint      string
	maxConns      int

	bus      *eventbus.Bus
	upgrader websocket.Upgrader

	mu      sync.Mutex
	server  *http.Server
	actual  int
	running bool
	conns   map[string]*websocket.Conn
}

func NewWebSocketAdapter(cfg Config, bus *eventbus.Bus, listenAddress string, listenPort int, endpoint string, maxConns int) *WebSocketAdapter {
	if maxConns <= 0 {
		maxConns = 100
	}
	return &WebSocketAdapter{
		cfg:           cfg,
		bus:           bus,
		listenAddress: listenAddress,
		listenPort:    listenPort,
		endpoint:      endpoint,
		maxConns:      maxConns,
		conns:         make(map[string]*websocket.Conn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (a *WebSocketAdapter) Name() string               { return a.cfg.Name }
func (a *WebSocketAdapter) Protocol() envelope.Protocol { return envelope.ProtocolWebSocket }
func (a *WebSocketAdapter) Stats() Stats                { return a.statsCounter.snapshot() }

func (a *WebSocketAdapter) ActualPort() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.actual
}

func (a *WebSocketAdapter) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return errAlreadyRunning(a.cfg.Name)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(a.endpoint, a.handleUpgrade)

	ln, err := net.Listen("tcp", net.JoinHostPort(a.listenAddress, portString(a.listenPort)))
	if err != nil {
		a.mu.Unlock()
		return err
	}
	a.actual = ln.Addr().(*net.TCPAddr).Port
	a.server = &http.Server{Handler: mux}
	a.running = true
	a.mu.Unlock()

	go func() {
		if err := a.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			logging.Warn("websocket adapter serve error", zap.String("adapter", a.cfg.Name), zap.Error(err))
		}
	}()

	logging.Info("websocket adapter started",
		zap.String("adapter", a.cfg.Name), zap.Int("port", a.actual), zap.String("endpoint", a.endpoint))
	return nil
}

func (a *WebSocketAdapter) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	if len(a.conns) >= a.maxConns {
		a.mu.Unlock()
		http.Error(w, "max connections reached", http.StatusServiceUnavailable)
		return
	}
	a.mu.Unlock()

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("websocket upgrade failed", zap.String("adapter", a.cfg.Name), zap.Error(err))
		return
	}

	connID := newConnID()
	a.mu.Lock()
	a.conns[connID] = conn
	a.mu.Unlock()
	a.connectionOpened()

	host, _ := splitHostPort(r.RemoteAddr)

	defer func() {
		_ = conn.Close()
		a.mu.Lock()
		delete(a.conns, connID)
		a.mu.Unlock()
		a.connectionClosed()
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		env := publish(a.bus, a.cfg, envelope.ProtocolWebSocket, data, host, 0, connID, a.endpoint)
		a.recordMessage(len(data))
		if env.ParseError != nil {
			a.recordParseError()
		}
	}
}

func (a *WebSocketAdapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	server := a.server
	a.server = nil
	conns := make([]*websocket.Conn, 0, len(a.conns))
	for _, c := range a.conns {
		conns = append(conns, c)
	}
	a.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logging.Info("websocket adapter stopped", zap.String("adapter", a.cfg.Name))
	return nil
}
