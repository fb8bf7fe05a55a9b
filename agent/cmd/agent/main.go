package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/sync/errgroup"

	"github.com/appars/gpc-digitaltwin/agent/internal/config"
	"github.com/appars/gpc-digitaltwin/agent/internal/control"
	"github.com/appars/gpc-digitaltwin/agent/internal/shipper"
	"github.com/appars/gpc-digitaltwin/agent/internal/sim"
	"github.com/appars/gpc-digitaltwin/pkg/twin"
)

const mqttQuiesceMs = 250

func main() {
	configPath := flag.String("config", "config/twin.yaml", "path to config file; empty uses built-in defaults")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("twin-agent starting", "config", *configPath)

	cfg := config.Defaults()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			slog.Error("failed to load config", "err", err)
			os.Exit(1)
		}
	}
	a := cfg.Agent
	slog.Info("config loaded",
		"machine_id", a.MachineID,
		"server_url", a.ServerURL,
		"transport", a.Transport,
		"interval", a.Interval,
		"buffer_size", a.BufferSize,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	run(ctx, a, *configPath)
	slog.Info("twin-agent shut down")
}

func run(ctx context.Context, a config.AgentConfig, configPath string) {
	simulator := sim.New(a.Seed, twin.Setpoints{Speed: a.Setpoints.Speed, Valve: a.Setpoints.Valve})

	// HTTP is always available; with the mqtt transport it covers broker
	// outages.
	var sender shipper.Sender = shipper.NewHTTPSender(a)
	if a.Transport == config.TransportMQTT {
		opts := shipper.MQTTOptions(a).SetOnConnectHandler(func(c mqtt.Client) {
			if err := control.SubscribeMQTT(c, a.MQTT.TopicPrefix, a.MQTT.QoS, simulator); err != nil {
				slog.Error("mqtt command subscription failed", "err", err)
			}
		})
		client := mqtt.NewClient(opts)
		// With connect retry enabled the token only completes once the broker
		// answers, so it is not waited on.
		client.Connect()
		defer client.Disconnect(mqttQuiesceMs)

		sender = &shipper.Fallback{
			Primary:   shipper.NewMQTTSender(client, a.MQTT.TopicPrefix, a.MachineID, a.MQTT.QoS),
			Secondary: sender,
		}
		slog.Info("mqtt transport enabled", "broker", a.MQTT.Broker, "topic", twin.MachineTelemetryTopic(a.MQTT.TopicPrefix, a.MachineID))
	}

	ship := shipper.New(sender, a.BufferSize)

	header := http.Header{}
	if a.ServerAuth.Mode == "apikey" {
		header.Set(a.ServerAuth.EffectiveHeader(), a.ServerAuth.Key())
	}
	listener := control.NewListener(a.StreamURL(), header, simulator)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ship.Run(gctx)
		return nil
	})

	g.Go(func() error {
		listener.Run(gctx)
		return nil
	})

	if configPath != "" {
		last := a.Setpoints
		g.Go(func() error {
			err := config.Watch(gctx, configPath, func(updated *config.Config) {
				last = reloadSetpoints(simulator, last, updated.Agent.Setpoints)
			})
			if err != nil {
				slog.Error("config watcher stopped", "err", err)
			}
			return nil
		})
	}

	// Sample loop: one sample per interval while the machine runs.
	g.Go(func() error {
		ticker := time.NewTicker(a.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				p, ok := simulator.Next()
				if !ok {
					continue
				}
				ship.Ship(p)
				slog.Debug("sample queued",
					"speed", p.Oper.Speed,
					"flow", p.Oper.Flow,
					"sent", ship.Sent(),
					"dropped", ship.Dropped(),
				)
			}
		}
	})

	_ = g.Wait()
	slog.Info("twin-agent shutting down", "sent", ship.Sent(), "dropped", ship.Dropped())
}

// reloadSetpoints applies setpoints from a reloaded file only when they
// differ from the previous file, so an unrelated edit does not undo an
// operator command.
func reloadSetpoints(s *sim.Simulator, prev, next config.SetpointConfig) config.SetpointConfig {
	if prev == next {
		return prev
	}
	ev := twin.CommandEvent{Action: twin.ActionSet, Running: s.Running()}
	if next.Speed != prev.Speed {
		ev.Speed = twin.Float(next.Speed)
	}
	if next.Valve != prev.Valve {
		ev.Valve = twin.Float(next.Valve)
	}
	s.Apply(ev)
	return next
}
