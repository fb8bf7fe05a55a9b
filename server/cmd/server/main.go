package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/appars/gpc-digitaltwin/pkg/twin"
	"github.com/appars/gpc-digitaltwin/server/internal/alerts"
	"github.com/appars/gpc-digitaltwin/server/internal/api"
	"github.com/appars/gpc-digitaltwin/server/internal/auth"
	"github.com/appars/gpc-digitaltwin/server/internal/config"
	"github.com/appars/gpc-digitaltwin/server/internal/history"
	"github.com/appars/gpc-digitaltwin/server/internal/ingest"
	"github.com/appars/gpc-digitaltwin/server/internal/kpi"
	"github.com/appars/gpc-digitaltwin/server/internal/metrics"
	"github.com/appars/gpc-digitaltwin/server/internal/receiver"
	"github.com/appars/gpc-digitaltwin/server/internal/sink"
	"github.com/appars/gpc-digitaltwin/server/internal/store"
	"github.com/appars/gpc-digitaltwin/server/internal/ws"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "config/twin.yaml", "path to config file; empty uses built-in defaults")
	flag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("twin-server starting", "config", *configPath)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	lvl, _ := config.ParseLevel(cfg.Server.LogLevel) // validated by Load
	level.Set(lvl)

	slog.Info("config loaded",
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"setpoint_policy", cfg.Twin.SetpointPolicy,
		"history_capacity", cfg.Twin.HistoryCapacity,
		"mqtt", cfg.MQTT.Enabled,
		"influx", cfg.Influx.Enabled,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, *configPath, level); err != nil {
		slog.Error("twin-server stopped", "err", err)
		os.Exit(1)
	}
	slog.Info("twin-server shut down")
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Defaults(), nil
	}
	return config.Load(path)
}

func run(ctx context.Context, cfg *config.Config, configPath string, level *slog.LevelVar) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// State store seeded with the default machine state.
	policy, err := store.ParsePolicy(cfg.Twin.SetpointPolicy)
	if err != nil {
		return err
	}
	initial := twin.DefaultSnapshot()
	initial.Running = cfg.Twin.StartRunning
	st := store.New(kpi.With(cfg.Thresholds), policy, initial)

	ring := history.New(cfg.Twin.HistoryCapacity)
	alertEngine := alerts.New(cfg.Alerts)

	opts := ingest.Options{
		LockTimeout: cfg.Server.LockTimeout,
		Observers:   []ingest.Observer{alertEngine},
		Metrics:     m,
	}

	var mirror *sink.Sink
	if cfg.Influx.Enabled {
		mirror = sink.Dial(cfg.Influx, m)
		defer mirror.Close()
		opts.Sink = mirror
		hctx, hcancel := context.WithTimeout(ctx, 3*time.Second)
		if err := sink.Health(hctx, cfg.Influx); err != nil {
			slog.Warn("influx not reachable; rows will be dropped until it is", "url", cfg.Influx.URL, "err", err)
		}
		hcancel()
	}

	gw := ingest.New(st, ring, opts)

	authCfg := cfg.Server.Auth
	guard := auth.APIKey(authCfg.Mode, authCfg.EffectiveHeader(), authCfg.Key())

	// WebSocket hub: views and command events to every subscriber, commands
	// back into the gateway only from connections that present the API key.
	hub := ws.New(gw, ws.Options{
		SendBuffer: cfg.Twin.SendBuffer,
		Metrics:    m,
		Authorize:  auth.Check(authCfg.Mode, authCfg.EffectiveHeader(), authCfg.Key()),
	})
	hub.SetCommandHandler(gw)
	gw.SetPublisher(hub)

	// MQTT producers and command relay.
	if cfg.MQTT.Enabled {
		rcv := receiver.Dial(cfg.MQTT, gw)
		if err := rcv.Start(); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
		defer rcv.Close()
		hub.AddRelay(rcv)
		slog.Info("mqtt receiver started", "broker", cfg.MQTT.Broker, "topic", twin.TelemetryTopic(cfg.MQTT.TopicPrefix))
	}

	apiHandler := api.New(api.Deps{
		Gateway:     gw,
		Alerts:      alertEngine,
		Subscribers: hub,
		LogLevel:    level,
		Gatherer:    reg,
		Auth:        guard,
	})

	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", apiHandler)
	httpMux.Handle("/admin/", apiHandler)
	httpMux.Handle("/ws/stream", hub)
	httpMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	if mirror != nil {
		g.Go(func() error {
			mirror.Run(gctx)
			return nil
		})
	}

	if configPath != "" {
		g.Go(func() error {
			err := config.Watch(gctx, configPath, func(next *config.Config) {
				reload(next, st, alertEngine, level)
			})
			if err != nil {
				slog.Warn("config watch stopped", "err", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("twin-server shutting down")
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		return httpSrv.Shutdown(sctx)
	})

	return g.Wait()
}

// reload applies the hot-reloadable parts of a changed config file:
// thresholds, log level and alert rules. Everything else needs a restart.
func reload(cfg *config.Config, st *store.Store, engine *alerts.Engine, level *slog.LevelVar) {
	st.SetKPIFunc(kpi.With(cfg.Thresholds))
	engine.Reload(cfg.Alerts)
	if lvl, err := config.ParseLevel(cfg.Server.LogLevel); err == nil {
		level.Set(lvl)
	}
	slog.Info("config reloaded",
		"log_level", cfg.Server.LogLevel,
		"rules", len(cfg.Alerts.Rules),
		"webhooks", len(cfg.Alerts.Webhooks),
	)
}
