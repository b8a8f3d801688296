package main

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/bus"
	"github.com/ambonmud/server/internal/clock"
	"github.com/ambonmud/server/internal/config"
	"github.com/ambonmud/server/internal/engine"
	"github.com/ambonmud/server/internal/gateway"
	"github.com/ambonmud/server/internal/id"
	"github.com/ambonmud/server/internal/metrics"
	"github.com/ambonmud/server/internal/persist"
	"github.com/ambonmud/server/internal/scripting"
	"github.com/ambonmud/server/internal/world"
)

// busDepth sizes the local event queues. Inbound absorbs client bursts up to
// a few ticks' worth; outbound absorbs one broadcast-heavy tick.
const busDepth = 4096

// runStandalone wires engine and gateway into one process over the local bus.
func runStandalone(ctx context.Context, cfg *config.Config, log *zap.Logger, met *metrics.Metrics) error {
	w, err := world.Load(cfg.Server.WorldDir)
	if err != nil {
		return err
	}
	repo, err := persist.Open(ctx, *cfg, log)
	if err != nil {
		return err
	}
	defer repo.Close(context.Background())

	scripts, err := scripting.NewEngine(cfg.Server.ScriptsDir, log)
	if err != nil {
		return err
	}
	defer scripts.Close()

	in := bus.NewLocalInbound(busDepth, nil)
	out := bus.NewLocalOutbound(busDepth, nil)

	eng, err := engine.New(engine.Options{
		Config:  cfg,
		World:   w,
		Repo:    repo,
		Inbound: in,
		Out:     out,
		Clock:   clock.NewSystem(),
		Log:     log,
		Metrics: met,
		Scripts: scripts,
	})
	if err != nil {
		return err
	}

	gw := gateway.New(gateway.Options{
		Config:    cfg,
		Log:       log,
		Metrics:   met,
		Allocator: id.NewCounter(),
	})
	gw.AddLink(gateway.NewBusLink(cfg.Sharding.EngineID, in))
	defer gw.Shutdown()

	// Outbound pump: engine events flow to the gateway's dispatch.
	go func() {
		for {
			ev, err := out.Receive(ctx)
			if err != nil {
				return
			}
			gw.Deliver(ev)
		}
	}()

	if err := serveTransports(ctx, cfg, gw, log); err != nil {
		return err
	}

	err = eng.Run(ctx)
	if err == context.Canceled {
		log.Info("standalone stopped")
		return nil
	}
	return err
}

// serveTransports starts the telnet and WebSocket listeners.
func serveTransports(ctx context.Context, cfg *config.Config, gw *gateway.Gateway, log *zap.Logger) error {
	telnetLis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.TelnetPort))
	if err != nil {
		return fmt.Errorf("telnet listen: %w", err)
	}
	go func() {
		if err := gateway.NewTelnetServer(gw).Serve(ctx, telnetLis); err != nil {
			log.Error("telnet server failed", zap.Error(err))
		}
	}()

	webLis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.WebPort))
	if err != nil {
		return fmt.Errorf("web listen: %w", err)
	}
	go func() {
		if err := gateway.NewWebServer(gw).Serve(ctx, webLis); err != nil {
			log.Error("web server failed", zap.Error(err))
		}
	}()
	return nil
}
