package engine

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/event"
	"github.com/ambonmud/server/internal/gmcp"
	"github.com/ambonmud/server/internal/id"
	"github.com/ambonmud/server/internal/player"
	"github.com/ambonmud/server/internal/shard"
	"github.com/ambonmud/server/internal/world"
)

// maxPeerMessagesPerTick bounds inter-engine message handling the same way
// inbound events are bounded.
const maxPeerMessagesPerTick = 64

// beginHandoff transfers a player crossing into a zone another engine owns.
// The record is flushed durably first; the session stays parked here until
// the target acks or the deadline rolls it back.
func (e *Engine) beginHandoff(s *Session, to id.RoomID, dir world.Direction) {
	if e.shard == nil || e.shard.Peer == nil || e.shard.Registry == nil || e.shard.Tracker == nil {
		e.sendError(s.ID, "The way "+dir.String()+" shimmers but does not yield.")
		return
	}
	if e.shard.Tracker.Pending(s.ID) {
		e.sendError(s.ID, "You are already between worlds.")
		return
	}

	target, ok := e.pickTargetEngine(to.Zone())
	if !ok || target.EngineID == e.engineID() {
		e.sendError(s.ID, "The way "+dir.String()+" shimmers but does not yield.")
		return
	}

	ctx := context.Background()
	s.Record.CaptureFrom(s.Player, e.clk.Now())
	s.Record.RoomID = to
	s.Record.Inventory = e.captureInventory(s)
	s.Record.Equipment = e.captureEquipment(s)
	if err := e.repo.Save(ctx, s.Record); err != nil {
		e.log.Error("handoff save failed", zap.String("player", s.Player.Name), zap.Error(err))
		e.sendError(s.ID, "The way "+dir.String()+" shimmers but does not yield.")
		return
	}
	if err := e.repo.FlushOne(ctx, string(s.Record.ID)); err != nil {
		e.log.Error("handoff flush failed", zap.String("player", s.Player.Name), zap.Error(err))
		e.sendError(s.ID, "The way "+dir.String()+" shimmers but does not yield.")
		return
	}

	hid := uuid.NewString()
	msg := shard.PlayerHandoff{
		HandoffID:  hid,
		SessionID:  s.ID,
		FromEngine: e.engineID(),
		TargetRoom: to,
		Record:     *s.Record.Clone(),
		Runtime: shard.HandoffRuntime{
			HP:          s.Player.HP,
			Mana:        s.Player.Mana,
			Level:       s.Player.Level,
			XPTotal:     s.Player.XPTotal,
			Attr:        s.Player.Attr,
			AnsiEnabled: s.Ansi,
			WebSession:  s.Web,
			IsStaff:     s.Player.IsStaff,
			Inventory:   e.captureInventory(s),
			Equipped:    e.captureEquipment(s),
		},
	}
	if err := e.shard.Peer.SendToEngine(target.EngineID, msg); err != nil {
		e.met.BusPublishFailures.Add(ctx, 1)
		e.log.Error("handoff send failed",
			zap.String("player", s.Player.Name),
			zap.String("target_engine", target.EngineID),
			zap.Error(err))
		e.sendError(s.ID, "The way "+dir.String()+" shimmers but does not yield.")
		return
	}

	e.disengage(s)
	e.clearEffects(s)
	e.leaveGroup(s, true)
	e.broadcastRoom(s.Player.RoomID, s.Player.Name+" leaves "+dir.String()+".", s.ID)
	s.Phase = phaseClosing // parked; input is dropped until resolution

	deadline := e.clk.NowMillis() + e.cfg.Engine.HandoffTimeout.Milliseconds()
	e.shard.Tracker.Begin(hid, s.ID, deadline,
		func() { e.commitHandoff(s, target.EngineID) },
		func() { e.rollbackHandoff(s, dir) },
	)
	e.log.Info("handoff started",
		zap.String("handoff_id", hid),
		zap.String("player", s.Player.Name),
		zap.String("target_engine", target.EngineID),
		zap.String("target_room", string(to)))
}

// pickTargetEngine resolves the owning engine for a zone, using power-of-two
// selection among claimants for replicated zones.
func (e *Engine) pickTargetEngine(zone id.ZoneID) (shard.Assignment, bool) {
	reg := e.shard.Registry
	if reg.Mode(zone) == shard.SingleOwner {
		return reg.OwnerOf(zone)
	}
	claimants := reg.Claimants(zone)
	if len(claimants) == 0 {
		return shard.Assignment{}, false
	}
	if e.shard.Selector != nil {
		return e.shard.Selector.Pick(claimants)
	}
	return claimants[0], true
}

// commitHandoff runs when the target acks: point the gateway at the new
// engine and drop all local state. The location index is the target's to
// update.
func (e *Engine) commitHandoff(s *Session, targetEngine string) {
	e.emit(event.SessionRedirect{SessionID: s.ID, TargetEngineID: targetEngine})
	for _, iid := range s.Player.Inventory {
		e.items.Destroy(iid)
	}
	for _, iid := range s.Player.Equipped {
		e.items.Destroy(iid)
	}
	e.gmcp.Drop(s.ID)
	e.met.ActiveSessions.Add(context.Background(), -1)
	e.sessions.Remove(s.ID)
	e.log.Info("handoff committed",
		zap.String("player", s.Player.Name),
		zap.String("target_engine", targetEngine))
}

// rollbackHandoff restores the parked session after a timeout or rejection.
func (e *Engine) rollbackHandoff(s *Session, dir world.Direction) {
	if _, ok := e.sessions.Get(s.ID); !ok {
		return // disconnected while in transit
	}
	s.Phase = phasePlaying
	e.sendError(s.ID, "The way "+dir.String()+" shimmers but does not yield.")
	e.prompt(s.ID)
	e.log.Warn("handoff rolled back", zap.String("player", s.Player.Name))
}

// expireHandoffs rolls back everything past its ack deadline.
func (e *Engine) expireHandoffs(ctx context.Context) {
	if n := e.shard.Tracker.Expire(e.clk.NowMillis()); n > 0 {
		e.met.HandoffTimeouts.Add(ctx, int64(n))
	}
}

// drainPeer consumes a bounded batch of inter-engine messages.
func (e *Engine) drainPeer() {
	for i := 0; i < maxPeerMessagesPerTick; i++ {
		select {
		case in := <-e.shard.Peer.Incoming():
			e.handlePeerMessage(in)
		default:
			return
		}
	}
}

func (e *Engine) handlePeerMessage(in shard.Incoming) {
	switch msg := in.Msg.(type) {
	case shard.PlayerHandoff:
		e.admitHandoff(msg)
	case shard.HandoffAck:
		if msg.Accepted {
			e.shard.Tracker.Ack(msg.HandoffID)
		} else {
			e.log.Warn("handoff rejected",
				zap.String("handoff_id", msg.HandoffID),
				zap.String("reason", msg.Reason))
			e.shard.Tracker.Reject(msg.HandoffID)
		}
	case shard.TellMessage:
		if target, ok := e.sessions.ByName(msg.ToName); ok && target.Phase == phasePlaying {
			e.sendText(target.ID, msg.FromName+` tells you, "`+msg.Text+`"`)
			e.pushComm(target.ID, "tell", msg.FromName, msg.Text)
			e.prompt(target.ID)
			if msg.ReplyTo != "" && msg.ReplyTo != e.engineID() {
				err := e.shard.Peer.SendToEngine(msg.ReplyTo, shard.TellDelivered{
					RequestID: msg.RequestID,
					ToName:    target.Player.Name,
				})
				if err != nil {
					e.log.Warn("tell receipt failed", zap.Error(err))
				}
			}
		}
	case shard.TellDelivered:
		if q, ok := e.pendingTells[msg.RequestID]; ok {
			delete(e.pendingTells, msg.RequestID)
			if cur, ok := e.sessions.Get(q.sid); ok && cur.Phase == phasePlaying {
				e.sendText(cur.ID, "You tell "+msg.ToName+`, "`+q.text+`"`)
				e.prompt(cur.ID)
			}
		}
	case shard.GlobalBroadcast:
		e.deliverChannel(msg.Channel, msg.FromName, msg.Text, 0)
	case shard.WhoRequest:
		err := e.shard.Peer.SendToEngine(msg.ReplyTo, shard.WhoResponse{
			RequestID: msg.RequestID,
			EngineID:  e.engineID(),
			Names:     e.localWhoNames(),
		})
		if err != nil {
			e.log.Warn("who response failed", zap.Error(err))
		}
	case shard.WhoResponse:
		if q, ok := e.pendingWho[msg.RequestID]; ok {
			q.names = append(q.names, msg.Names...)
			delete(q.waiting, msg.EngineID)
		}
	case shard.TransferRequest:
		if victim, ok := e.sessions.ByName(msg.PlayerName); ok && victim.Phase == phasePlaying {
			if e.world.Room(msg.TargetRoom) == nil {
				return
			}
			e.disengage(victim)
			e.sendInfo(victim.ID, "A great hand plucks you from where you stood.")
			e.movePlayerTo(victim, msg.TargetRoom)
			e.prompt(victim.ID)
		}
	case shard.KickRequest:
		if victim, ok := e.sessions.ByName(msg.PlayerName); ok {
			reason := msg.Reason
			if reason == "" {
				reason = "removed"
			}
			e.sendInfo(victim.ID, "Your soul is claimed from elsewhere.")
			e.closeSession(victim.ID, reason)
			e.removeSession(victim, true)
		}
	default:
		e.log.Warn("unhandled peer message", zap.String("from", in.From))
	}
}

// admitHandoff installs a player arriving from another engine.
func (e *Engine) admitHandoff(msg shard.PlayerHandoff) {
	nack := func(reason string) {
		err := e.shard.Peer.SendToEngine(msg.FromEngine, shard.HandoffAck{
			HandoffID: msg.HandoffID,
			SessionID: msg.SessionID,
			Accepted:  false,
			Reason:    reason,
		})
		if err != nil {
			e.log.Warn("handoff nack failed", zap.Error(err))
		}
	}

	if e.world.Room(msg.TargetRoom) == nil {
		nack("room not owned here")
		return
	}
	if _, exists := e.sessions.Get(msg.SessionID); exists {
		nack("session already present")
		return
	}

	rec := msg.Record.Clone()
	s := &Session{
		ID:        msg.SessionID,
		Ansi:      msg.Runtime.AnsiEnabled,
		Web:       msg.Runtime.WebSession,
		Phase:     phasePlaying,
		Record:    rec,
		Cooldowns: make(map[string]int64),
	}
	st := &player.State{
		SessionID: s.ID,
		Equipped:  make(map[world.EquipSlot]id.ItemID),
	}
	rec.ApplyTo(st)
	st.RoomID = msg.TargetRoom
	st.HP = msg.Runtime.HP
	st.Mana = msg.Runtime.Mana
	st.Level = msg.Runtime.Level
	st.XPTotal = msg.Runtime.XPTotal
	st.Attr = msg.Runtime.Attr
	st.IsStaff = msg.Runtime.IsStaff
	st.Ansi = msg.Runtime.AnsiEnabled
	st.KnownAbilities = player.LearnedAbilities(e.cfg.Engine.Abilities, st.Level, st.Class)

	for _, ir := range msg.Runtime.Inventory {
		iid := id.ItemID(ir.InstanceID)
		if e.items.Adopt(iid, ir.TemplateID) {
			e.items.PlaceInInventory(iid, s.ID)
			st.Inventory = append(st.Inventory, iid)
		}
	}
	for slot, ir := range msg.Runtime.Equipped {
		iid := id.ItemID(ir.InstanceID)
		if e.items.Adopt(iid, ir.TemplateID) {
			e.items.PlaceInSlot(iid, s.ID, world.EquipSlot(slot))
			st.Equipped[world.EquipSlot(slot)] = iid
		}
	}

	e.sessions.Add(s)
	e.sessions.EnterWorld(s, st)
	if s.Web {
		e.gmcp.Subscribe(s.ID, gmcp.CoreSet()...)
	}
	e.met.ActiveSessions.Add(context.Background(), 1)
	if e.shard.Locations != nil {
		e.shard.Locations.Publish(st.Name, shard.Location{EngineID: e.engineID(), SessionID: s.ID})
	}

	err := e.shard.Peer.SendToEngine(msg.FromEngine, shard.HandoffAck{
		HandoffID: msg.HandoffID,
		SessionID: msg.SessionID,
		Accepted:  true,
	})
	if err != nil {
		e.log.Error("handoff ack failed", zap.String("handoff_id", msg.HandoffID), zap.Error(err))
	}

	e.broadcastRoom(st.RoomID, st.Name+" arrives.", s.ID)
	e.showRoom(s)
	e.gmcp.MarkDirty(s.ID, gmcp.CharVitals)
	e.pushRoomInfo(s)
	e.prompt(s.ID)
	e.log.Info("handoff admitted",
		zap.String("handoff_id", msg.HandoffID),
		zap.String("player", st.Name),
		zap.String("from_engine", msg.FromEngine))
}

// publishLoad refreshes this engine's load snapshot for peer selection.
func (e *Engine) publishLoad() {
	inTransit := 0
	if e.shard.Tracker != nil {
		inTransit = e.shard.Tracker.InTransit()
	}
	e.shard.Board.Publish(shard.LoadSnapshot{
		EngineID:       e.engineID(),
		ActiveSessions: e.sessions.Playing(),
		InTransit:      inTransit,
		AtMillis:       e.clk.NowMillis(),
	})
}
