package adapter

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/wudi/protogate/internal/envelope"
	"github.com/wudi/protogate/internal/errors"
	"github.com/wudi/protogate/internal/eventbus"
	"github.com/wudi/protogate/internal/logging"
	"github.com/wudi/protogate/internal/securityheaders"
)

// HTTPAdapter exposes one configurable endpoint (method + path) that
// accepts request bodies as raw frames. It runs its own net/http server
// via httprouter rather than registering into a shared mux, so each HTTP
// adapter instance owns an independent listen address/port exactly like
// the UDP/TCP adapters.
type HTTPAdapter struct {
	statsCounter

	cfg           Config
	listenAddress string
	listenPort    int
	endpoint      string
	method        string

	bus *eventbus.Bus

	securityHeaders *securityheaders.Compiled

	mu      sync.Mutex
	server  *http.Server
	actual  int
	running bool
}

// WithSecurityHeaders attaches a compiled security-headers set applied to
// every acknowledgement response. Passing nil disables it.
func (a *HTTPAdapter) WithSecurityHeaders(h *securityheaders.Compiled) *HTTPAdapter {
	a.securityHeaders = h
	return a
}

// NewHTTPAdapter constructs an HTTP ingress adapter. endpoint is the
// request path (e.g. "/api/data") and method is the HTTP verb it
// accepts; any other verb/path receives 404/405.
func NewHTTPAdapter(cfg Config, bus *eventbus.Bus, listenAddress string, listenPort int, endpoint, method string) *HTTPAdapter {
	if method == "" {
		method = http.MethodPost
	}
	return &HTTPAdapter{
		cfg:           cfg,
		bus:           bus,
		listenAddress: listenAddress,
		listenPort:    listenPort,
		endpoint:      endpoint,
		method:        method,
	}
}

func (a *HTTPAdapter) Name() string               { return a.cfg.Name }
func (a *HTTPAdapter) Protocol() envelope.Protocol { return envelope.ProtocolHTTP }
func (a *HTTPAdapter) Stats() Stats                { return a.statsCounter.snapshot() }

func (a *HTTPAdapter) ActualPort() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.actual
}

func (a *HTTPAdapter) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return errAlreadyRunning(a.cfg.Name)
	}

	router := httprouter.New()
	router.Handle(a.method, a.endpoint, a.handle)
	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errors.ErrNotFound.WriteJSON(w)
	})
	router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errors.ErrMethodNotAllowed.WriteJSON(w)
	})

	ln, err := net.Listen("tcp", net.JoinHostPort(a.listenAddress, portString(a.listenPort)))
	if err != nil {
		a.mu.Unlock()
		return err
	}
	a.actual = ln.Addr().(*net.TCPAddr).Port
	a.server = &http.Server{Handler: router}
	a.running = true
	a.mu.Unlock()

	go func() {
		if err := a.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			logging.Warn("http adapter serve error", zap.String("adapter", a.cfg.Name), zap.Error(err))
		}
	}()

	logging.Info("http adapter started",
		zap.String("adapter", a.cfg.Name), zap.Int("port", a.actual), zap.String("endpoint", a.endpoint))
	return nil
}

func (a *HTTPAdapter) handle(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		if a.securityHeaders != nil {
			a.securityHeaders.Apply(w.Header())
		}
		errors.Wrap(err, http.StatusBadRequest, "failed to read request body").WriteJSON(w)
		return
	}

	host, _, splitErr := net.SplitHostPort(r.RemoteAddr)
	if splitErr != nil {
		host = r.RemoteAddr
	}

	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	env := publish(a.bus, a.cfg, envelope.ProtocolHTTP, body, host, 0, "", a.endpoint, headers)
	a.recordMessage(len(body))
	if env.ParseError != nil {
		a.recordParseError()
	}

	if a.securityHeaders != nil {
		a.securityHeaders.Apply(w.Header())
	}
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte(`{"status":"accepted","message_id":"` + env.MessageID + `"}`))
}

func (a *HTTPAdapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	server := a.server
	a.server = nil
	a.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logging.Info("http adapter stopped", zap.String("adapter", a.cfg.Name))
	return nil
}
