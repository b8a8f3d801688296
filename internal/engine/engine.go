// Package engine runs the simulation: one goroutine owns all world and
// session state, advanced by a fixed tick. Everything reaches it as events
// through the bus; everything leaves the same way.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/ambonmud/server/internal/bus"
	"github.com/ambonmud/server/internal/clock"
	"github.com/ambonmud/server/internal/config"
	"github.com/ambonmud/server/internal/event"
	"github.com/ambonmud/server/internal/gmcp"
	"github.com/ambonmud/server/internal/id"
	"github.com/ambonmud/server/internal/metrics"
	"github.com/ambonmud/server/internal/persist"
	"github.com/ambonmud/server/internal/player"
	"github.com/ambonmud/server/internal/scripting"
	"github.com/ambonmud/server/internal/shard"
	"github.com/ambonmud/server/internal/world"
)

// ShardServices bundles the cross-engine plumbing. Nil in standalone mode;
// individual fields may be nil when a deployment opts out of a piece.
type ShardServices struct {
	Peer      *shard.Peer
	Registry  shard.Registry
	Tracker   *shard.HandoffTracker
	Locations *shard.LocationIndex
	Board     *shard.LoadBoard
	Selector  *shard.Selector
}

type Options struct {
	Config  *config.Config
	World   *world.World
	Repo    *persist.Coalescer
	Inbound bus.Inbound
	Out     bus.Outbound
	Clock   clock.Clock
	Log     *zap.Logger
	Metrics *metrics.Metrics
	Scripts *scripting.Engine
	Shard   *ShardServices
	// Seed fixes the RNG for tests; 0 means seed from the clock.
	Seed int64
}

// Engine is the single-threaded simulation core. No method on it is safe to
// call from outside its goroutine except Run and Stop.
type Engine struct {
	cfg     *config.Config
	log     *zap.Logger
	clk     clock.Clock
	world   *world.World
	repo    *persist.Coalescer
	prog    *player.Progression
	in      bus.Inbound
	out     bus.Outbound
	met     *metrics.Metrics
	scripts *scripting.Engine
	shard   *ShardServices

	sessions *Registry
	mobs     *Mobs
	items    *Items
	sched    *Scheduler
	gmcp     *gmcp.Emitter
	auth     *authPool
	loginSem *semaphore.Weighted
	rng      *rand.Rand

	groupSeq     uint64
	pendingWho   map[string]*whoQuery
	pendingTells map[string]*tellQuery
	tick         uint64
	stopping     bool
}

func New(opts Options) (*Engine, error) {
	if opts.Config == nil || opts.World == nil || opts.Repo == nil {
		return nil, errors.New("engine: config, world, and repo are required")
	}
	if opts.Inbound == nil || opts.Out == nil {
		return nil, errors.New("engine: both bus sides are required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewSystem()
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop()
	}
	seed := opts.Seed
	if seed == 0 {
		seed = opts.Clock.NowMillis()
	}

	e := &Engine{
		cfg:          opts.Config,
		log:          opts.Log.Named("engine"),
		clk:          opts.Clock,
		world:        opts.World,
		repo:         opts.Repo,
		prog:         player.NewProgression(opts.Config.Progression),
		in:           opts.Inbound,
		out:          opts.Out,
		met:          opts.Metrics,
		scripts:      opts.Scripts,
		shard:        opts.Shard,
		sessions:     NewRegistry(),
		mobs:         NewMobs(),
		items:        NewItems(opts.World),
		sched:        NewScheduler(),
		gmcp:         gmcp.NewEmitter(),
		auth:         newAuthPool(opts.Config.Login.AuthThreads),
		loginSem:     semaphore.NewWeighted(int64(opts.Config.Login.MaxConcurrentLogins)),
		rng:          rand.New(rand.NewSource(seed)),
		pendingWho:   make(map[string]*whoQuery),
		pendingTells: make(map[string]*tellQuery),
	}
	e.sched.OnPanic = func(r any) {
		e.met.SubsystemRecoveries.Add(context.Background(), 1, metric.WithAttributes(metrics.Subsystem("scheduler")))
		e.log.Error("scheduled callback panic recovered", zap.Any("panic", r))
	}
	e.populateWorld()
	e.scheduleZoneResets()
	return e, nil
}

func (e *Engine) engineID() string {
	if e.shard != nil && e.shard.Peer != nil {
		return e.shard.Peer.EngineID()
	}
	return e.cfg.Sharding.EngineID
}

// populateWorld performs the initial spawn pass from the world's tables.
func (e *Engine) populateWorld() {
	for _, ms := range e.world.MobSpawns {
		m := e.mobs.Spawn(ms, e.nextWanderTime())
		for _, tid := range ms.Inventory {
			if inst, ok := e.items.Create(m.Room.Zone(), tid); ok {
				e.items.PlaceInMob(inst.ID, m.ID)
			}
		}
	}
	for _, is := range e.world.ItemSpawns {
		if e.items.Adopt(is.ItemID, is.TemplateID) {
			e.items.PlaceInRoom(is.ItemID, is.RoomID)
		}
	}
	e.log.Info("world populated",
		zap.Int("rooms", len(e.world.Rooms)),
		zap.Int("mobs", len(e.mobs.All())),
		zap.Int("zones", len(e.world.Zones)))
}

// Run drives the tick loop until ctx is cancelled. Blocking call.
func (e *Engine) Run(ctx context.Context) error {
	interval := e.cfg.Server.TickMillis.Duration
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.log.Info("engine running",
		zap.Duration("tick", interval),
		zap.String("engine_id", e.engineID()))

	for {
		select {
		case <-ctx.Done():
			e.shutdown(context.Background())
			return ctx.Err()
		case <-ticker.C:
			start := e.clk.Monotonic()
			e.RunTick(ctx)
			elapsed := e.clk.Monotonic() - start
			e.met.TickDuration.Record(ctx, elapsed.Seconds())
			if elapsed > 2*interval {
				e.met.TickOverruns.Add(ctx, 1)
				e.log.Warn("tick overrun",
					zap.Duration("elapsed", elapsed),
					zap.Duration("budget", interval),
					zap.Uint64("tick", e.tick))
			}
		}
	}
}

// shutdown flushes dirty records and notifies connected players. The repo
// itself is closed by the composition root.
func (e *Engine) shutdown(ctx context.Context) {
	e.stopping = true
	for _, s := range e.sessions.All() {
		if s.Phase == phasePlaying {
			e.persistSession(s)
			e.sendInfo(s.ID, "The world fades. Come back soon.")
			e.closeSession(s.ID, "server shutdown")
		}
	}
	if err := e.repo.Flush(ctx); err != nil {
		e.log.Error("final flush failed", zap.Error(err))
	}
	e.auth.close()
}

// RunTick advances the simulation by one tick. Exported so tests can drive
// the engine with a manual clock instead of a ticker.
func (e *Engine) RunTick(ctx context.Context) {
	e.tick++

	e.runSubsystem(ctx, "inbound", func() { e.drainInbound(ctx) })
	if e.shard != nil && e.shard.Peer != nil {
		e.runSubsystem(ctx, "peer", func() { e.drainPeer() })
	}
	e.runSubsystem(ctx, "auth", func() { e.drainAuth(ctx) })

	e.runSubsystem(ctx, "mob_ai", e.tickMobAI)
	e.runSubsystem(ctx, "combat", e.tickCombat)
	e.runSubsystem(ctx, "effects", e.tickEffects)
	e.runSubsystem(ctx, "regen", e.tickRegen)

	e.runSubsystem(ctx, "scheduler", func() {
		_, deferred := e.sched.RunDue(e.clk.NowMillis(), e.cfg.Engine.Scheduler.MaxCallbacksPerTick)
		if deferred > 0 {
			e.met.SchedulerDrops.Add(ctx, int64(deferred))
		}
	})

	if e.shard != nil && e.shard.Tracker != nil {
		e.runSubsystem(ctx, "handoff", func() { e.expireHandoffs(ctx) })
	}

	e.runSubsystem(ctx, "gmcp", e.flushGmcp)

	if e.shard != nil && e.shard.Board != nil {
		e.publishLoad()
	}
}

// runSubsystem isolates one tick phase: a panic inside it is logged and
// counted, and the remaining phases still run.
func (e *Engine) runSubsystem(ctx context.Context, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.met.SubsystemRecoveries.Add(ctx, 1, metric.WithAttributes(metrics.Subsystem(name)))
			e.log.Error("subsystem panic recovered",
				zap.String("subsystem", name),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())))
		}
	}()
	fn()
}

// drainInbound consumes at most max_inbound_events_per_tick events so a
// flood cannot starve the simulation phases.
func (e *Engine) drainInbound(ctx context.Context) {
	for i := 0; i < e.cfg.Server.MaxInboundEventsPerTick; i++ {
		ev, ok := e.in.TryReceive()
		if !ok {
			return
		}
		e.dispatchInbound(ctx, ev)
	}
}

func (e *Engine) dispatchInbound(ctx context.Context, ev event.Inbound) {
	switch ev := ev.(type) {
	case event.Connected:
		e.handleConnected(ctx, ev)
	case event.Disconnected:
		e.handleDisconnected(ev.SessionID, ev.Reason)
	case event.LineReceived:
		e.handleLine(ev.SessionID, ev.Line)
	case event.GmcpReceived:
		e.handleGmcpControl(ev)
	default:
		e.log.Warn("unknown inbound event", zap.String("type", fmt.Sprintf("%T", ev)))
	}
}

func (e *Engine) handleLine(sid id.SessionID, line string) {
	s, ok := e.sessions.Get(sid)
	if !ok {
		// Stale event for a session already gone; drop silently.
		return
	}
	switch s.Phase {
	case phaseLogin:
		e.handleLoginLine(s, line)
	case phasePlaying:
		e.handleCommand(s, line)
	}
}

func (e *Engine) nextWanderTime() int64 {
	mc := e.cfg.Engine.Mob
	span := mc.MaxWanderDelay.Duration - mc.MinWanderDelay.Duration
	d := mc.MinWanderDelay.Duration
	if span > 0 {
		d += time.Duration(e.rng.Int63n(int64(span)))
	}
	return e.clk.NowMillis() + d.Milliseconds()
}

// persistSession captures the live state into the record and hands it to the
// write-behind layer.
func (e *Engine) persistSession(s *Session) {
	if s.Player == nil || s.Record == nil {
		return
	}
	s.Record.CaptureFrom(s.Player, e.clk.Now())
	s.Record.Inventory = e.captureInventory(s)
	s.Record.Equipment = e.captureEquipment(s)
	if err := e.repo.Save(context.Background(), s.Record); err != nil {
		e.log.Error("save failed", zap.String("player", s.Player.Name), zap.Error(err))
	}
}

func (e *Engine) captureInventory(s *Session) []player.ItemRecord {
	out := make([]player.ItemRecord, 0, len(s.Player.Inventory))
	for _, iid := range s.Player.Inventory {
		inst, ok := e.items.Get(iid)
		if !ok {
			continue
		}
		out = append(out, player.ItemRecord{InstanceID: string(inst.ID), TemplateID: inst.TemplateID})
	}
	return out
}

func (e *Engine) captureEquipment(s *Session) map[string]player.ItemRecord {
	out := make(map[string]player.ItemRecord, len(s.Player.Equipped))
	for slot, iid := range s.Player.Equipped {
		inst, ok := e.items.Get(iid)
		if !ok {
			continue
		}
		out[string(slot)] = player.ItemRecord{InstanceID: string(inst.ID), TemplateID: inst.TemplateID}
	}
	return out
}
