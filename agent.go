// Package agent assembles the paradrop edge agent: the update pipeline, the
// chute registry, the host configuration store, synchronization with the
// management server, and the local operator API.
package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/paradrop/agent/internal/bridge"
	"github.com/paradrop/agent/internal/chute"
	cfg "github.com/paradrop/agent/internal/config"
	"github.com/paradrop/agent/internal/configd"
	"github.com/paradrop/agent/internal/hostconfig"
	"github.com/paradrop/agent/internal/history"
	"github.com/paradrop/agent/internal/logger"
	"github.com/paradrop/agent/internal/manager"
	"github.com/paradrop/agent/internal/metrics"
	"github.com/paradrop/agent/internal/notify"
	"github.com/paradrop/agent/internal/pdserver"
	"github.com/paradrop/agent/internal/server"
	"github.com/paradrop/agent/internal/store"
	"github.com/paradrop/agent/internal/store/factory"
	"github.com/paradrop/agent/internal/update"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Chute = chute.Chute

type Update = update.Update

type Result = update.Result

type Runtime = chute.Runtime

type Config = cfg.FileConfig

// LoadConfig reads and validates the agent configuration at path.
func LoadConfig(path string) (*Config, error) {
	return cfg.Load(path)
}

// Agent wires the subsystems together and owns their lifecycles.
type Agent struct {
	cfg       *Config
	logger    *slog.Logger
	logCloser io.Closer

	chutes   chute.Store
	outcomes store.Store
	machine  *update.Machine
	bridge   *bridge.Bridge
	sync     *manager.Manager

	listener *notify.Listener
	httpSrv  *http.Server
}

// New assembles an agent from config. runtime executes chute sandboxes; pass
// chute.NoopRuntime{} on devices where execution is delegated.
func New(c *Config, runtime Runtime) (*Agent, error) {
	log, closer := logger.New(logger.Config{
		Path:       c.Log.Path,
		Level:      c.Log.Level,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
	})

	chutes, err := chute.NewBoltStore(c.Host.RegistryPath)
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, fmt.Errorf("open chute registry: %w", err)
	}

	var outcomes store.Store
	if c.Store.DSN != "" {
		outcomes, err = factory.NewFromDSN(c.Store.DSN)
		if err != nil {
			_ = chutes.Close()
			if closer != nil {
				_ = closer.Close()
			}
			return nil, fmt.Errorf("open outcome store: %w", err)
		}
	}

	var reload configd.Client = configd.NopClient{}
	if c.Host.ConfigdSocket != "" {
		reload = configd.NewSocketClient(c.Host.ConfigdSocket)
	}

	var reg update.Registry
	cm := chute.NewModule(chutes, runtime)
	reg.Register(cm, cm.Ops()...)
	hm := hostconfig.NewModule(c.Host.ConfigDir, reload)
	reg.Register(hm, hm.Ops()...)

	machine := update.NewMachine(&reg, log)

	var sinks []history.Sink
	for _, s := range c.Sinks {
		switch s.Type {
		case "clickhouse":
			sinks = append(sinks, history.NewClickHouseSink(s.URL, s.Table))
		case "opensearch":
			sinks = append(sinks, history.NewOpenSearchSink(s.URL, s.Table))
		}
	}

	remote := pdserver.New(pdserver.Config{
		BaseURL:  c.Server.BaseURL,
		RouterID: c.RouterID,
		Token:    c.Server.Token,
		Logger:   log,
		Insecure: c.Server.Insecure,
		TLS: &pdserver.TLSClientConfig{
			Enabled: c.Server.CACert != "",
			CACert:  c.Server.CACert,
		},
	})

	sync := manager.New(manager.Options{
		Server:         remote,
		Machine:        machine,
		Chutes:         chutes,
		Outcomes:       outcomes,
		Sinks:          sinks,
		RouterID:       c.RouterID,
		PollInterval:   c.Server.PollInterval,
		ReportAttempts: c.Server.ReportAttempts,
		ReportInterval: c.Server.ReportInterval,
		Logger:         log,
	})

	return &Agent{
		cfg:       c,
		logger:    log,
		logCloser: closer,
		chutes:    chutes,
		outcomes:  outcomes,
		machine:   machine,
		bridge:    bridge.New(machine, log),
		sync:      sync,
	}, nil
}

// Logger returns the agent's root logger.
func (a *Agent) Logger() *slog.Logger { return a.logger }

// Bridge exposes the local update entry point for embedders.
func (a *Agent) Bridge() *bridge.Bridge { return a.bridge }

// Start brings up the local API, the push listener, and the first fetch.
func (a *Agent) Start(ctx context.Context) error {
	if a.outcomes != nil {
		if err := a.outcomes.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("outcome store schema: %w", err)
		}
	}
	if a.cfg.Metrics.Enabled {
		if err := metrics.RegisterDefault(); err != nil {
			a.logger.Warn("metrics registration failed", "err", err)
		}
		go func() {
			if err := ServeMetrics(a.cfg.Metrics.Listen); err != nil {
				a.logger.Error("metrics server stopped", "err", err)
			}
		}()
	}

	router := server.NewRouter(a.bridge, a.chutes, a.sync, a.outcomes, a.cfg.RouterID, a.cfg.API.BasePath)
	a.httpSrv = server.NewServer(a.cfg.API.Listen, router)

	if a.cfg.MQTT.Broker != "" {
		l, err := notify.NewListener(notify.Config{
			Broker:      a.cfg.MQTT.Broker,
			Username:    a.cfg.MQTT.Username,
			Password:    a.cfg.MQTT.Password,
			TopicPrefix: a.cfg.MQTT.TopicPrefix,
			RouterID:    a.cfg.RouterID,
		}, func() {
			go a.sync.StartUpdate(context.Background(), false)
		}, a.logger)
		if err != nil {
			// Polling still covers us; push is an optimization.
			a.logger.Warn("push channel unavailable", "err", err)
		} else {
			a.listener = l
		}
	}

	go a.sync.StartUpdate(ctx, false)
	a.logger.Info("agent started", "router", a.cfg.RouterID, "listen", a.cfg.API.Listen)
	return nil
}

// Stop shuts the agent down in reverse start order.
func (a *Agent) Stop() {
	if a.listener != nil {
		a.listener.Stop()
	}
	a.sync.Stop()
	if a.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.httpSrv.Shutdown(ctx)
		cancel()
	}
	if a.outcomes != nil {
		_ = a.outcomes.Close()
	}
	_ = a.chutes.Close()
	a.logger.Info("agent stopped")
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the
// default registry. It runs in the caller goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
