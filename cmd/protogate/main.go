// Command protogate runs the protocol gateway: it loads a YAML
// configuration, wires up the event bus, routing engine, forwarder
// manager, and pipeline orchestrator, starts one ingress adapter per
// configured listener, and serves a metrics/health endpoint until
// interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wudi/protogate/internal/adapter"
	"github.com/wudi/protogate/internal/config"
	"github.com/wudi/protogate/internal/crypto"
	"github.com/wudi/protogate/internal/dto"
	"github.com/wudi/protogate/internal/eventbus"
	"github.com/wudi/protogate/internal/forwardermanager"
	"github.com/wudi/protogate/internal/frameschema"
	"github.com/wudi/protogate/internal/logging"
	"github.com/wudi/protogate/internal/monitoring"
	"github.com/wudi/protogate/internal/pipeline"
	"github.com/wudi/protogate/internal/routing"
	"github.com/wudi/protogate/internal/securityheaders"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/gateway.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	validateOnly := flag.Bool("validate", false, "Validate configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("protogate %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *validateOnly {
		fmt.Println("configuration is valid")
		os.Exit(0)
	}

	logger, closer, err := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Output:     cfg.Logging.Output,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		LocalTime:  cfg.Logging.LocalTime,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)
	if closer != nil {
		defer closer.Close()
	}
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, err := buildGateway(cfg, *configPath)
	if err != nil {
		logging.Error("failed to build gateway", zap.Error(err))
		os.Exit(1)
	}

	if err := gw.Start(ctx); err != nil {
		logging.Error("failed to start gateway", zap.Error(err))
		os.Exit(1)
	}

	logging.Info("protogate started", zap.String("version", version), zap.String("config", *configPath))

	<-ctx.Done()
	logging.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	gw.Stop(shutdownCtx)
	logging.Info("protogate stopped")
}

// gateway bundles every long-lived component main.go constructs, so
// Start/Stop have one place to sequence bring-up and teardown.
type gateway struct {
	bus        *eventbus.Bus
	forwarders *forwardermanager.Manager
	pipeline   *pipeline.Pipeline
	adapters   []adapter.Adapter
	watcher    *config.Watcher

	metricsServer *http.Server
}

func buildGateway(cfg *config.Config, configPath string) (*gateway, error) {
	bus := eventbus.New(context.Background())

	sink, err := buildSink(cfg.Monitoring.Sink)
	if err != nil {
		return nil, fmt.Errorf("build monitoring sink: %w", err)
	}
	monitoringSvc := monitoring.New(sink)

	var cryptoSvc *crypto.Service
	if cfg.Encryption.Enabled {
		cryptoSvc, err = crypto.New(cfg.Encryption.MasterKey)
		if err != nil {
			return nil, fmt.Errorf("build crypto service: %w", err)
		}
	}

	routingEngine := routing.New(toRoutingRules(cfg.RoutingRules))

	forwarders := forwardermanager.New(cryptoSvc, monitoringSvc)
	for _, t := range cfg.Targets {
		if !t.IsActive {
			continue
		}
		forwarders.RegisterTarget(config.ToTargetSystemDTO(t))
	}

	pl := pipeline.New(pipeline.Deps{
		Bus:        bus,
		Routing:    routingEngine,
		Forwarders: forwarders,
		Monitoring: monitoringSvc,
		Crypto:     cryptoSvc,
	})
	for _, s := range cfg.FrameSchemas {
		pl.RegisterFrameSchema(config.ToFrameSchemaDTO(s))
	}

	var secHeaders *securityheaders.Compiled
	if cfg.Server.SecurityHeaders.Enabled {
		secHeaders = securityheaders.New(cfg.Server.SecurityHeaders)
	}

	adapters, err := buildAdapters(cfg, bus, secHeaders)
	if err != nil {
		return nil, fmt.Errorf("build adapters: %w", err)
	}

	watcher, err := config.NewWatcher(configPath)
	if err != nil {
		logging.Warn("config watcher disabled", zap.Error(err))
		watcher = nil
	}
	if watcher != nil {
		watcher.OnChange(func(newCfg *config.Config) {
			pl.UpdateRoutingRules(toRoutingRules(newCfg.RoutingRules))
			for _, s := range newCfg.FrameSchemas {
				pl.RegisterFrameSchema(config.ToFrameSchemaDTO(s))
			}
			for _, t := range newCfg.Targets {
				if t.IsActive {
					pl.RegisterTargetSystem(config.ToTargetSystemDTO(t))
				} else {
					pl.UnregisterTargetSystem(t.ID)
				}
			}
			logging.Info("configuration reloaded: routing rules, frame schemas, and targets updated")
		})
	}

	metricsServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.MetricsAddress, fmt.Sprintf("%d", cfg.Server.MetricsPort)),
		Handler: buildMetricsMux(),
	}

	return &gateway{
		bus:           bus,
		forwarders:    forwarders,
		pipeline:      pl,
		adapters:      adapters,
		watcher:       watcher,
		metricsServer: metricsServer,
	}, nil
}

func buildMetricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func buildSink(cfg config.SinkConfig) (monitoring.LogSink, error) {
	switch cfg.Type {
	case "", "none":
		return monitoring.NoopSink{}, nil
	case "postgres":
		pool, err := pgxpool.New(context.Background(), cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres sink: %w", err)
		}
		sink := monitoring.NewPostgresSink(pool)
		if cfg.FireAndForget {
			return monitoring.WithFireAndForget(sink), nil
		}
		return sink, nil
	default:
		return nil, fmt.Errorf("unknown monitoring sink type %q", cfg.Type)
	}
}

func buildAdapters(cfg *config.Config, bus *eventbus.Bus, secHeaders *securityheaders.Compiled) ([]adapter.Adapter, error) {
	schemasByID := make(map[string]config.FrameSchemaConfig, len(cfg.FrameSchemas))
	for _, s := range cfg.FrameSchemas {
		schemasByID[s.ID] = s
	}

	adapters := make([]adapter.Adapter, 0, len(cfg.Adapters))
	for _, a := range cfg.Adapters {
		if !a.IsActive {
			continue
		}
		acfg := adapter.Config{
			Name:         a.Name,
			DataSourceID: a.DataSourceID,
			IsActive:     a.IsActive,
		}

		var parsedSchema *dto.FrameSchema
		if a.FrameSchemaID != "" {
			schemaCfg, ok := schemasByID[a.FrameSchemaID]
			if !ok {
				return nil, fmt.Errorf("adapter %q: frame schema %q not found", a.Name, a.FrameSchemaID)
			}
			s := config.ToFrameSchemaDTO(schemaCfg)
			parsedSchema = &s
			acfg.Schema = frameschema.New(s)
		}

		switch a.Protocol {
		case "udp":
			adapters = append(adapters, adapter.NewUDPAdapter(acfg, bus, a.ListenAddress, a.ListenPort, a.ReadBufferSize))
		case "tcp":
			adapters = append(adapters, adapter.NewTCPAdapter(acfg, bus, a.ListenAddress, a.ListenPort, a.ReadBufferSize, a.MaxConnections, parsedSchema))
		case "http":
			httpAdapter := adapter.NewHTTPAdapter(acfg, bus, a.ListenAddress, a.ListenPort, a.Endpoint, a.Method)
			if secHeaders != nil {
				httpAdapter.WithSecurityHeaders(secHeaders)
			}
			adapters = append(adapters, httpAdapter)
		case "websocket":
			adapters = append(adapters, adapter.NewWebSocketAdapter(acfg, bus, a.ListenAddress, a.ListenPort, a.Endpoint, a.MaxConnections))
		case "mqtt":
			adapters = append(adapters, adapter.NewMQTTAdapter(acfg, bus, a.BrokerAddress, a.ListenPort, a.Topics, a.Name, a.Username, a.Password, byte(a.QoS)))
		default:
			return nil, fmt.Errorf("adapter %q: unsupported protocol %q", a.Name, a.Protocol)
		}
	}
	return adapters, nil
}

func toRoutingRules(rules []config.RoutingRuleConfig) []dto.RoutingRule {
	out := make([]dto.RoutingRule, len(rules))
	for i, r := range rules {
		out[i] = config.ToRoutingRuleDTO(r)
	}
	return out
}

func (g *gateway) Start(ctx context.Context) error {
	if err := g.pipeline.Start(ctx); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}
	for _, a := range g.adapters {
		if err := a.Start(ctx); err != nil {
			return fmt.Errorf("start adapter %q: %w", a.Name(), err)
		}
	}
	if g.watcher != nil {
		if err := g.watcher.Start(); err != nil {
			logging.Warn("failed to start config watcher", zap.Error(err))
		}
	}
	go func() {
		if err := g.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Warn("metrics server error", zap.Error(err))
		}
	}()
	return nil
}

func (g *gateway) Stop(ctx context.Context) {
	if g.watcher != nil {
		if err := g.watcher.Stop(); err != nil {
			logging.Warn("failed to stop config watcher", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := g.metricsServer.Shutdown(shutdownCtx); err != nil {
		logging.Warn("metrics server shutdown error", zap.Error(err))
	}
	cancel()

	for _, a := range g.adapters {
		if err := a.Stop(ctx); err != nil {
			logging.Warn("adapter stop error", zap.String("adapter", a.Name()), zap.Error(err))
		}
	}
	if err := g.forwarders.Close(ctx); err != nil {
		logging.Warn("forwarder manager close error", zap.Error(err))
	}
	if err := g.pipeline.Stop(ctx); err != nil {
		logging.Warn("pipeline stop error", zap.Error(err))
	}
	if err := g.bus.Stop(ctx); err != nil {
		logging.Warn("event bus stop error", zap.Error(err))
	}
}
