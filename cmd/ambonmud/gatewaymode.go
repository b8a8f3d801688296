package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/clock"
	"github.com/ambonmud/server/internal/config"
	"github.com/ambonmud/server/internal/gateway"
	"github.com/ambonmud/server/internal/id"
	"github.com/ambonmud/server/internal/kvstore"
	"github.com/ambonmud/server/internal/metrics"
	"github.com/ambonmud/server/internal/shard"
)

// runGateway terminates clients and streams their events to the engines.
func runGateway(ctx context.Context, cfg *config.Config, log *zap.Logger, met *metrics.Metrics) error {
	alloc, err := sessionAllocator(ctx, cfg, log)
	if err != nil {
		return err
	}

	gw := gateway.New(gateway.Options{
		Config:    cfg,
		Log:       log,
		Metrics:   met,
		Allocator: alloc,
	})
	defer gw.Shutdown()

	// A link that exhausts its reconnect budget is fatal: the whole gateway
	// terminates rather than limping along with a dead engine.
	linkDown := make(chan error, 1)
	for engineID, addr := range engineEndpoints(cfg) {
		link, err := gateway.DialStreamLink(ctx, engineID, addr, cfg.Gateway.Reconnect, gw.Deliver, func(err error) {
			select {
			case linkDown <- fmt.Errorf("engine %s unreachable: %w", engineID, err):
			default:
			}
		}, log)
		if err != nil {
			return fmt.Errorf("link to engine %s at %s: %w", engineID, addr, err)
		}
		gw.AddLink(link)
		log.Info("engine link established", zap.String("engine", engineID), zap.String("addr", addr))
	}

	if err := serveTransports(ctx, cfg, gw, log); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		log.Info("gateway stopped")
		return nil
	case err := <-linkDown:
		return fmt.Errorf("engine link exhausted reconnect attempts: %w", err)
	}
}

// engineEndpoints maps engine id -> gRPC address. The static zone table is
// authoritative when present; otherwise the single configured engine serves
// everything.
func engineEndpoints(cfg *config.Config) map[string]string {
	endpoints := make(map[string]string)
	if len(cfg.Sharding.StaticZones) > 0 {
		for _, a := range shard.NewStaticRegistry(cfg.Sharding).AllAssignments() {
			endpoints[a.EngineID] = a.Addr
		}
		return endpoints
	}
	endpoints[cfg.Sharding.EngineID] = fmt.Sprintf("%s:%d", cfg.GRPC.Client.Host, cfg.GRPC.Client.Port)
	return endpoints
}

// sessionAllocator picks the id scheme: a plain counter for a lone gateway,
// snowflake ids behind an exclusive gateway-id lease for fleets.
func sessionAllocator(ctx context.Context, cfg *config.Config, log *zap.Logger) (id.SessionAllocator, error) {
	if !cfg.Gateway.Snowflake.Enabled {
		return id.NewCounter(), nil
	}

	clk := clock.NewSystem()
	kv := kvstore.NewMemory(clk)
	lease, err := id.AcquireGatewayLease(kv, uint16(cfg.Gateway.ID), uuid.NewString(), cfg.Gateway.Snowflake.IDLeaseTTL.Duration)
	if err != nil {
		return nil, err
	}
	go lease.KeepAlive(ctx, func(err error) {
		log.Error("gateway id lease lost; session allocation unsafe", zap.Error(err))
	})
	return id.NewSnowflake(uint16(cfg.Gateway.ID), clk), nil
}
