package engine

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/ambonmud/server/internal/clock"
	"github.com/ambonmud/server/internal/config"
	"github.com/ambonmud/server/internal/kvstore"
	"github.com/ambonmud/server/internal/shard"
)

// TestTellFallsBackToBroadcast plants a stale location index entry pointing
// at the sender's own engine, so delivery can only succeed through the
// broadcast path and its receipt.
func TestTellFallsBackToBroadcast(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ps := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	reg := shard.NewStaticRegistry(config.ShardingConfig{
		StaticZones: map[string]string{"hubz": "e1", "cavez": "e2"},
	})
	clk := clock.NewManual(1_000_000)
	locs := shard.NewLocationIndex(kvstore.NewMemory(clk), time.Hour)
	locs.Publish("Bel", shard.Location{EngineID: "e1", SessionID: 99})

	h1 := newShardHarness(t, testWorld(), clk, &ShardServices{
		Peer:      testPeer(t, ctx, "e1", ps, reg),
		Registry:  reg,
		Tracker:   shard.NewHandoffTracker(),
		Locations: locs,
	}, func(c *config.Config) { c.Sharding.EngineID = "e1" })
	h2 := newShardHarness(t, testWorld(), clk, &ShardServices{
		Peer:     testPeer(t, ctx, "e2", ps, reg),
		Registry: reg,
		Tracker:  shard.NewHandoffTracker(),
	}, func(c *config.Config) { c.Sharding.EngineID = "e2" })

	h1.enterPlayer(1, "Ama", "WARRIOR")
	h2.enterPlayer(2, "Bel", "WARRIOR")
	h1.reset()
	h2.reset()

	h1.line(1, "tell Bel hi there")

	// Broadcast, remote delivery, and the receipt all ride the async
	// pub/sub; tick both engines until the confirmation lands.
	deadline := time.Now().Add(5 * time.Second)
	for !h1.sawText(1, `You tell Bel, "hi there"`) {
		if time.Now().After(deadline) {
			t.Fatal("sender never got the delivery confirmation")
		}
		time.Sleep(2 * time.Millisecond)
		h2.tick()
		h1.tick()
	}
	h2.mustSee(2, `Ama tells you, "hi there"`)
}

func TestTellUnknownNameReportsAfterWindow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ps := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	reg := shard.NewStaticRegistry(config.ShardingConfig{
		StaticZones: map[string]string{"hubz": "e1", "cavez": "e2"},
	})
	clk := clock.NewManual(1_000_000)
	h := newShardHarness(t, testWorld(), clk, &ShardServices{
		Peer:     testPeer(t, ctx, "e1", ps, reg),
		Registry: reg,
		Tracker:  shard.NewHandoffTracker(),
	}, func(c *config.Config) { c.Sharding.EngineID = "e1" })

	h.enterPlayer(1, "Ama", "WARRIOR")
	h.reset()

	h.line(1, "tell Ghost hello")
	if h.sawText(1, "No one by that name is listening.") {
		t.Fatal("tell failed before the collect window elapsed")
	}

	h.clk.Advance(600 * time.Millisecond)
	h.tick()
	h.mustSee(1, "No one by that name is listening.")
}

// TestWhoNotesUnreachableEngines runs a who against a registry that lists a
// second engine which never answers.
func TestWhoNotesUnreachableEngines(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ps := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	reg := shard.NewStaticRegistry(config.ShardingConfig{
		StaticZones: map[string]string{"hubz": "e1", "cavez": "e2"},
	})
	clk := clock.NewManual(1_000_000)
	h := newShardHarness(t, testWorld(), clk, &ShardServices{
		Peer:     testPeer(t, ctx, "e1", ps, reg),
		Registry: reg,
		Tracker:  shard.NewHandoffTracker(),
	}, func(c *config.Config) { c.Sharding.EngineID = "e1" })

	h.enterPlayer(1, "Ama", "WARRIOR")
	h.reset()

	h.line(1, "who")
	h.clk.Advance(600 * time.Millisecond)
	h.tick()
	h.mustSee(1, "Ama")
	h.mustSee(1, "Some servers are unreachable")
}
