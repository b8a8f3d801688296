package shard

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/clock"
	"github.com/ambonmud/server/internal/config"
	"github.com/ambonmud/server/internal/id"
	"github.com/ambonmud/server/internal/kvstore"
	"github.com/ambonmud/server/internal/player"
)

func TestMessageRoundTrip(t *testing.T) {
	msgs := []Message{
		PlayerHandoff{
			HandoffID:  "h1",
			SessionID:  42,
			FromEngine: "e1",
			TargetRoom: "cavez:mouth",
			Record:     player.Record{ID: "p1", Name: "Ama", Level: 3},
			Runtime: HandoffRuntime{
				HP: 7, Mana: 4, Level: 3, XPTotal: 200,
				WebSession: true,
				Inventory:  []player.ItemRecord{{InstanceID: "hubz:i1", TemplateID: "rusty_sword"}},
				Equipped:   map[string]player.ItemRecord{"weapon": {InstanceID: "hubz:i2", TemplateID: "dagger"}},
			},
		},
		HandoffAck{HandoffID: "h1", SessionID: 42, Accepted: true},
		HandoffAck{HandoffID: "h2", SessionID: 43, Accepted: false, Reason: "unknown room"},
		TellMessage{FromName: "Ama", ToName: "Bel", Text: "hi", RequestID: "t1", ReplyTo: "e1"},
		TellDelivered{RequestID: "t1", ToName: "Bel"},
		GlobalBroadcast{Channel: "gossip", FromName: "Ama", Text: "hello all"},
		WhoRequest{RequestID: "r1", ReplyTo: "e1"},
		WhoResponse{RequestID: "r1", EngineID: "e2", Names: []string{"Bel", "Cor"}},
		SessionRedirect{SessionID: 42, TargetEngine: "e2"},
		TransferRequest{PlayerName: "Bel", TargetRoom: "hubz:square", RequestedBy: "Ama"},
		KickRequest{PlayerName: "Bel", RequestedBy: "Ama", Reason: "afk"},
	}
	for _, m := range msgs {
		f, err := Encode(m)
		if err != nil {
			t.Fatalf("Encode(%T): %v", m, err)
		}
		back, err := Decode(f)
		if err != nil {
			t.Fatalf("Decode(%T): %v", m, err)
		}
		if !reflect.DeepEqual(m, back) {
			t.Errorf("round trip %T:\n got %#v\nwant %#v", m, back, m)
		}
	}
}

func TestStaticRegistry(t *testing.T) {
	r := NewStaticRegistry(config.ShardingConfig{
		StaticZones:     map[string]string{"hubz": "e1", "cavez": "e2"},
		ReplicatedZones: []string{"arena"},
	})

	a, ok := r.OwnerOf("hubz")
	if !ok || a.EngineID != "e1" {
		t.Errorf("OwnerOf(hubz) = %+v, %v", a, ok)
	}
	if _, ok := r.OwnerOf("nowhere"); ok {
		t.Error("OwnerOf(nowhere) should be false")
	}
	if r.Mode("arena") != ReplicatedEntry || r.Mode("hubz") != SingleOwner {
		t.Error("zone modes wrong")
	}
}

func TestLeasedRegistry(t *testing.T) {
	clk := clock.NewManual(1_000_000)
	kv := kvstore.NewMemory(clk)
	cfg := config.ShardingConfig{
		LeaseTTL:        config.Duration{Duration: 10 * time.Second},
		ReplicatedZones: []string{"arena"},
	}
	r := NewLeasedRegistry(kv, cfg)

	if err := r.ClaimZones("e1", "host1:9000", []id.ZoneID{"hubz", "arena"}); err != nil {
		t.Fatalf("ClaimZones e1: %v", err)
	}
	// Second engine cannot take a SINGLE_OWNER zone.
	if err := r.ClaimZones("e2", "host2:9000", []id.ZoneID{"hubz"}); err == nil {
		t.Error("e2 claimed an owned zone")
	}
	// But can join a replicated one.
	if err := r.ClaimZones("e2", "host2:9000", []id.ZoneID{"arena"}); err != nil {
		t.Fatalf("ClaimZones e2 arena: %v", err)
	}
	if got := len(r.Claimants("arena")); got != 2 {
		t.Errorf("arena claimants = %d, want 2", got)
	}

	// Renewal keeps the lease alive past the original TTL.
	clk.Advance(8 * time.Second)
	if err := r.RenewLease("e1"); err != nil {
		t.Fatalf("RenewLease: %v", err)
	}
	clk.Advance(8 * time.Second)
	if _, ok := r.OwnerOf("hubz"); !ok {
		t.Error("renewed lease expired")
	}

	// Without renewal the claim lapses and renewal reports the loss.
	clk.Advance(20 * time.Second)
	if _, ok := r.OwnerOf("hubz"); ok {
		t.Error("stale lease still owns hubz")
	}
	if err := r.RenewLease("e1"); err == nil {
		t.Error("renewing an expired lease should error")
	}
}

func TestLocationIndex(t *testing.T) {
	clk := clock.NewManual(1_000_000)
	kv := kvstore.NewMemory(clk)
	x := NewLocationIndex(kv, 5*time.Second)

	x.Publish("Ama", Location{EngineID: "e1", SessionID: 42})
	loc, ok := x.Lookup("ama")
	if !ok || loc.EngineID != "e1" || loc.SessionID != 42 {
		t.Errorf("Lookup = %+v, %v", loc, ok)
	}

	clk.Advance(6 * time.Second)
	if _, ok := x.Lookup("ama"); ok {
		t.Error("entry survived past TTL without heartbeat")
	}

	x.Publish("Ama", Location{EngineID: "e2", SessionID: 43})
	x.Remove("AMA")
	if _, ok := x.Lookup("ama"); ok {
		t.Error("entry survived Remove")
	}
}

func TestSelectorPrefersLowerLoad(t *testing.T) {
	clk := clock.NewManual(1_000_000)
	kv := kvstore.NewMemory(clk)
	board := NewLoadBoard(kv, time.Minute, clk)
	board.Publish(LoadSnapshot{EngineID: "busy", ActiveSessions: 100})
	board.Publish(LoadSnapshot{EngineID: "idle", ActiveSessions: 1})

	sel := NewSelector(board, 1)
	candidates := []Assignment{
		{Zone: "arena", EngineID: "busy"},
		{Zone: "arena", EngineID: "idle"},
	}
	// Two candidates means both are always sampled; the idle one must win
	// every time.
	for i := 0; i < 20; i++ {
		got, ok := sel.Pick(candidates)
		if !ok || got.EngineID != "idle" {
			t.Fatalf("Pick = %+v, %v; want idle", got, ok)
		}
	}
}

func TestSelectorFallsBackWithoutTelemetry(t *testing.T) {
	clk := clock.NewManual(1_000_000)
	board := NewLoadBoard(kvstore.NewMemory(clk), time.Minute, clk)
	sel := NewSelector(board, 7)
	candidates := []Assignment{{EngineID: "a"}, {EngineID: "b"}}
	if _, ok := sel.Pick(candidates); !ok {
		t.Error("Pick with no telemetry should still choose")
	}
	if _, ok := sel.Pick(nil); ok {
		t.Error("Pick of nothing should report false")
	}
}

func TestHandoffTracker(t *testing.T) {
	tr := NewHandoffTracker()
	var committed, rolledBack int

	tr.Begin("h1", 42, 1000, func() { committed++ }, func() { rolledBack++ })
	if !tr.Pending(42) || tr.InTransit() != 1 {
		t.Fatal("handoff not pending after Begin")
	}

	if !tr.Ack("h1") {
		t.Fatal("Ack returned false for a pending handoff")
	}
	if committed != 1 || rolledBack != 0 {
		t.Fatalf("after ack: committed=%d rolledBack=%d", committed, rolledBack)
	}
	// Re-sent ack after commit is ignored.
	if tr.Ack("h1") {
		t.Error("duplicate ack was not ignored")
	}
	if committed != 1 {
		t.Error("duplicate ack ran commit again")
	}

	tr.Begin("h2", 43, 2000, func() { committed++ }, func() { rolledBack++ })
	if n := tr.Expire(1500); n != 0 {
		t.Errorf("Expire before deadline rolled back %d", n)
	}
	if n := tr.Expire(2000); n != 1 {
		t.Errorf("Expire at deadline rolled back %d, want 1", n)
	}
	if rolledBack != 1 {
		t.Error("rollback did not run")
	}
	// Ack after expiry is ignored.
	if tr.Ack("h2") {
		t.Error("ack after rollback was accepted")
	}
}

func TestPeerDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ps := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})

	reg := NewStaticRegistry(config.ShardingConfig{
		StaticZones: map[string]string{"cavez": "e2"},
	})

	newPeer := func(engineID string) *Peer {
		p, err := NewPeer(ctx, PeerConfig{
			EngineID:      engineID,
			Secret:        "s3cret",
			ChannelPrefix: "test.engines",
			Publisher:     ps,
			Subscriber:    ps,
			Registry:      reg,
			Log:           zap.NewNop(),
		})
		if err != nil {
			t.Fatalf("NewPeer(%s): %v", engineID, err)
		}
		return p
	}
	e1 := newPeer("e1")
	e2 := newPeer("e2")

	if err := e1.SendToZone("cavez", TellMessage{FromName: "Ama", ToName: "Bel", Text: "hi"}); err != nil {
		t.Fatalf("SendToZone: %v", err)
	}
	select {
	case in := <-e2.Incoming():
		if in.From != "e1" {
			t.Errorf("sender = %q, want e1", in.From)
		}
		if tm, ok := in.Msg.(TellMessage); !ok || tm.ToName != "Bel" {
			t.Errorf("message = %#v", in.Msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("direct message never arrived")
	}

	// Broadcast reaches the other engine but never echoes back to self.
	if err := e1.Broadcast(GlobalBroadcast{Channel: "gossip", FromName: "Ama", Text: "yo"}); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	select {
	case in := <-e2.Incoming():
		if _, ok := in.Msg.(GlobalBroadcast); !ok {
			t.Errorf("broadcast decoded as %#v", in.Msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast never arrived")
	}
	select {
	case in := <-e1.Incoming():
		t.Errorf("own broadcast echoed back: %#v", in.Msg)
	case <-time.After(100 * time.Millisecond):
	}
}
