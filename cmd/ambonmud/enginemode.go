package main

import (
	"context"
	"fmt"
	"net"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/bus"
	"github.com/ambonmud/server/internal/clock"
	"github.com/ambonmud/server/internal/config"
	"github.com/ambonmud/server/internal/engine"
	"github.com/ambonmud/server/internal/id"
	"github.com/ambonmud/server/internal/kvstore"
	"github.com/ambonmud/server/internal/metrics"
	"github.com/ambonmud/server/internal/persist"
	"github.com/ambonmud/server/internal/rpc"
	"github.com/ambonmud/server/internal/scripting"
	"github.com/ambonmud/server/internal/shard"
	"github.com/ambonmud/server/internal/world"
)

// runEngine serves this shard's owned zones to gateways over gRPC and, when
// the inter-engine bus is enabled, joins the peer mesh for handoffs and
// global commands.
func runEngine(ctx context.Context, cfg *config.Config, log *zap.Logger, met *metrics.Metrics) error {
	full, err := world.Load(cfg.Server.WorldDir)
	if err != nil {
		return err
	}
	owned := ownedZones(cfg, full)
	if len(owned) == 0 {
		return fmt.Errorf("engine %s owns no zones; set sharding.owned_zones", cfg.Sharding.EngineID)
	}
	w := full.Subset(owned)

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

	services, err := buildShardServices(ctx, cfg, owned, log)
	if err != nil {
		return err
	}

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
		Shard:   services,
	})
	if err != nil {
		return err
	}

	grpcLis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Server.Port))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	go func() {
		if err := rpc.NewServer(in, out, log).Serve(ctx, grpcLis); err != nil {
			log.Error("rpc server failed", zap.Error(err))
		}
	}()

	err = eng.Run(ctx)
	if err == context.Canceled {
		log.Info("engine stopped", zap.String("engine_id", cfg.Sharding.EngineID))
		return nil
	}
	return err
}

// ownedZones resolves this engine's zone set: the explicit config list, or
// every zone in the world when the list is empty and no registry is in play.
func ownedZones(cfg *config.Config, w *world.World) []id.ZoneID {
	if len(cfg.Sharding.OwnedZones) > 0 {
		zones := make([]id.ZoneID, 0, len(cfg.Sharding.OwnedZones))
		for _, z := range cfg.Sharding.OwnedZones {
			zones = append(zones, id.ZoneID(z))
		}
		return zones
	}
	if len(cfg.Sharding.StaticZones) == 0 {
		return w.Zones
	}
	var zones []id.ZoneID
	for z, addr := range cfg.Sharding.StaticZones {
		if addr == cfg.Sharding.EngineAddr || addr == cfg.Sharding.EngineID {
			zones = append(zones, id.ZoneID(z))
		}
	}
	return zones
}

// buildShardServices assembles the cross-engine plumbing. Claiming owned
// zones is fatal on conflict: two engines must never simulate the same
// SINGLE_OWNER zone.
func buildShardServices(ctx context.Context, cfg *config.Config, owned []id.ZoneID, log *zap.Logger) (*engine.ShardServices, error) {
	clk := clock.NewSystem()
	kv := kvstore.NewMemory(clk)

	var registry shard.Registry
	if len(cfg.Sharding.StaticZones) > 0 {
		registry = shard.NewStaticRegistry(cfg.Sharding)
	} else {
		registry = shard.NewLeasedRegistry(kv, cfg.Sharding)
	}
	if err := registry.ClaimZones(cfg.Sharding.EngineID, cfg.Sharding.EngineAddr, owned); err != nil {
		return nil, fmt.Errorf("zone claim: %w", err)
	}

	services := &engine.ShardServices{
		Registry:  registry,
		Tracker:   shard.NewHandoffTracker(),
		Locations: shard.NewLocationIndex(kv, cfg.Sharding.LeaseTTL.Duration),
		Board:     shard.NewLoadBoard(kv, cfg.Sharding.Selection.LoadTTL.Duration, clk),
	}
	services.Selector = shard.NewSelector(services.Board, clk.NowMillis())

	if cfg.Bus.Enabled {
		pub, sub, err := openAMQP(cfg.Bus)
		if err != nil {
			return nil, err
		}
		peer, err := shard.NewPeer(ctx, shard.PeerConfig{
			EngineID:      cfg.Sharding.EngineID,
			Secret:        cfg.Bus.SharedSecret,
			ChannelPrefix: cfg.Bus.EngineChannel,
			Publisher:     pub,
			Subscriber:    sub,
			Registry:      registry,
			Log:           log.Named("peer"),
		})
		if err != nil {
			return nil, err
		}
		services.Peer = peer
	}
	return services, nil
}

// openAMQP connects the durable pub/sub pair backing the inter-engine mesh.
func openAMQP(cfg config.BusConfig) (message.Publisher, message.Subscriber, error) {
	amqpCfg := amqp.NewDurablePubSubConfig(cfg.AMQPURI,
		amqp.GenerateQueueNameTopicNameWithSuffix(cfg.InstanceID))
	wmLog := watermill.NopLogger{}

	pub, err := amqp.NewPublisher(amqpCfg, wmLog)
	if err != nil {
		return nil, nil, fmt.Errorf("amqp publisher: %w", err)
	}
	sub, err := amqp.NewSubscriber(amqpCfg, wmLog)
	if err != nil {
		return nil, nil, fmt.Errorf("amqp subscriber: %w", err)
	}
	return pub, sub, nil
}
