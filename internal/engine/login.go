package engine

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/event"
	"github.com/ambonmud/server/internal/gmcp"
	"github.com/ambonmud/server/internal/id"
	"github.com/ambonmud/server/internal/metrics"
	"github.com/ambonmud/server/internal/persist"
	"github.com/ambonmud/server/internal/player"
	"github.com/ambonmud/server/internal/shard"
	"github.com/ambonmud/server/internal/world"
)

// loginStage is the state of the login funnel FSM. Password verification and
// hashing run on the auth pool; the *Pending stages wait for those results.
type loginStage int

const (
	stageName loginStage = iota
	stagePassword
	stagePasswordPending
	stageCreateConfirm
	stageNewPassword
	stageNewPasswordPending
	stageRace
	stageClass
)

type loginState struct {
	Stage   loginStage
	Name    string
	Record  *player.Record // existing account being verified
	Retries int
	Race    string
	// holdsSem marks that this session occupies a login slot; released once
	// on world entry or session removal.
	holdsSem bool
}

func (e *Engine) handleConnected(ctx context.Context, ev event.Connected) {
	if !e.loginSem.TryAcquire(1) {
		e.met.AuthRejections.Add(ctx, 1, metric.WithAttributes(metrics.Reason("saturated")))
		e.emit(event.SendError{SessionID: ev.SessionID, Text: "The gates are crowded beyond measure. Return in a moment."})
		e.emit(event.Close{SessionID: ev.SessionID, Reason: "login saturated"})
		return
	}

	s := &Session{
		ID:        ev.SessionID,
		Ansi:      ev.DefaultAnsi,
		Web:       ev.WebSession,
		Phase:     phaseLogin,
		Login:     &loginState{Stage: stageName, holdsSem: true},
		Cooldowns: make(map[string]int64),
	}
	e.sessions.Add(s)
	e.met.ActiveSessions.Add(ctx, 1)

	if s.Web {
		e.gmcp.Subscribe(s.ID, gmcp.CoreSet()...)
	}
	e.emit(event.ShowLoginScreen{SessionID: s.ID})
	e.sendText(s.ID, "By what name are you known?")
}

func (e *Engine) handleDisconnected(sid id.SessionID, reason string) {
	s, ok := e.sessions.Get(sid)
	if !ok {
		return
	}
	e.log.Info("session closed",
		zap.Uint64("session", uint64(sid)),
		zap.String("reason", reason))
	e.removeSession(s, true)
}

// removeSession tears down every trace of a session. announce controls the
// room departure broadcast (handoffs leave quietly on this side).
func (e *Engine) removeSession(s *Session, announce bool) {
	if s.Login != nil && s.Login.holdsSem {
		e.loginSem.Release(1)
		s.Login.holdsSem = false
	}
	if s.Phase == phasePlaying && s.Player != nil {
		e.persistSession(s)
		e.disengageMobs(s.ID)
		e.clearEffects(s)
		e.leaveGroup(s, true)
		if announce {
			e.broadcastRoom(s.Player.RoomID, s.Player.Name+" has left the realm.", s.ID)
		}
		if e.shard != nil && e.shard.Locations != nil {
			e.shard.Locations.Remove(s.Player.Name)
		}
		// Carried items evaporate with the session; the record keeps them.
		for _, iid := range s.Player.Inventory {
			e.items.Destroy(iid)
		}
		for _, iid := range s.Player.Equipped {
			e.items.Destroy(iid)
		}
	}
	s.Phase = phaseClosing
	e.gmcp.Drop(s.ID)
	e.met.ActiveSessions.Add(context.Background(), -1)
	e.sessions.Remove(s.ID)
}

func (e *Engine) handleLoginLine(s *Session, line string) {
	line = strings.TrimSpace(line)
	ls := s.Login

	switch ls.Stage {
	case stageName:
		e.loginName(s, line)
	case stagePassword:
		e.loginPassword(s, line)
	case stagePasswordPending, stageNewPasswordPending:
		e.sendText(s.ID, "Patience.")
	case stageCreateConfirm:
		switch strings.ToLower(line) {
		case "y", "yes":
			e.sendText(s.ID, "Choose a password:")
			ls.Stage = stageNewPassword
		case "n", "no":
			ls.Name = ""
			ls.Stage = stageName
			e.sendText(s.ID, "By what name are you known?")
		default:
			e.sendText(s.ID, "Answer y or n.")
		}
	case stageNewPassword:
		if err := player.ValidatePassword(line); err != nil {
			e.sendError(s.ID, err.Error())
			e.sendText(s.ID, "Choose a password:")
			return
		}
		if !e.auth.submit(authRequest{sid: s.ID, kind: authHash, password: line}) {
			e.sendError(s.ID, "The scribes are overwhelmed. Try again.")
			return
		}
		ls.Stage = stageNewPasswordPending
	case stageRace:
		e.loginRace(s, line)
	case stageClass:
		e.loginClass(s, line)
	}
}

func (e *Engine) loginName(s *Session, name string) {
	if err := player.ValidateName(name); err != nil {
		e.sendError(s.ID, err.Error())
		e.sendText(s.ID, "By what name are you known?")
		return
	}
	rec, err := e.repo.FindByName(context.Background(), name)
	if err != nil {
		e.log.Error("name lookup failed", zap.String("name", name), zap.Error(err))
		e.sendError(s.ID, "The archives are unreachable. Try again shortly.")
		return
	}
	ls := s.Login
	ls.Name = name
	if rec == nil {
		ls.Stage = stageCreateConfirm
		e.sendText(s.ID, "No hero by that name walks these lands. Create "+name+"? (y/n)")
		return
	}
	ls.Record = rec
	ls.Stage = stagePassword
	e.sendText(s.ID, "Password:")
}

func (e *Engine) loginPassword(s *Session, password string) {
	ls := s.Login
	if !e.auth.submit(authRequest{sid: s.ID, kind: authVerify, password: password, hash: ls.Record.PasswordHash}) {
		e.sendError(s.ID, "The gatekeeper is busy. Try again.")
		return
	}
	ls.Stage = stagePasswordPending
}

func (e *Engine) loginRace(s *Session, choice string) {
	if _, ok := player.RaceAttributes(choice); !ok {
		e.sendText(s.ID, "Choose a race: "+strings.Join(player.Races, ", "))
		return
	}
	s.Login.Race = strings.ToLower(choice)
	s.Login.Stage = stageClass
	e.sendText(s.ID, "Choose a class: "+strings.Join(e.classNames(), ", "))
}

func (e *Engine) loginClass(s *Session, choice string) {
	class := strings.ToUpper(strings.TrimSpace(choice))
	if _, ok := e.cfg.Progression.Classes[class]; !ok {
		e.sendText(s.ID, "Choose a class: "+strings.Join(e.classNames(), ", "))
		return
	}
	e.createCharacter(s, class)
}

func (e *Engine) classNames() []string {
	out := make([]string, 0, len(e.cfg.Progression.Classes))
	for name := range e.cfg.Progression.Classes {
		out = append(out, strings.ToLower(name))
	}
	sort.Strings(out)
	return out
}

// drainAuth collects finished KDF work and resumes the waiting FSMs.
func (e *Engine) drainAuth(ctx context.Context) {
	for _, res := range e.auth.drain() {
		s, ok := e.sessions.Get(res.sid)
		if !ok || s.Phase != phaseLogin {
			continue
		}
		switch res.kind {
		case authVerify:
			e.finishVerify(ctx, s, res.ok)
		case authHash:
			e.finishHash(s, res.hash, res.err)
		}
	}
}

func (e *Engine) finishVerify(ctx context.Context, s *Session, ok bool) {
	ls := s.Login
	if !ok {
		ls.Retries++
		if ls.Retries > e.cfg.Login.MaxWrongPasswordRetries {
			e.met.AuthRejections.Add(ctx, 1, metric.WithAttributes(metrics.Reason("bad_password")))
			e.sendError(s.ID, "Too many failures. The gate closes.")
			e.closeSession(s.ID, "authentication failed")
			return
		}
		e.sendError(s.ID, "That is not the word. Password:")
		ls.Stage = stagePassword
		return
	}
	e.takeOver(ls.Record.Name)
	e.enterWorld(s, ls.Record)
}

func (e *Engine) finishHash(s *Session, hash string, err error) {
	ls := s.Login
	if err != nil {
		e.log.Error("password hash failed", zap.Error(err))
		e.sendError(s.ID, "Something went wrong. Choose a password:")
		ls.Stage = stageNewPassword
		return
	}
	ls.Record = &player.Record{
		Name:         ls.Name,
		PasswordHash: hash,
	}
	ls.Stage = stageRace
	e.sendText(s.ID, "Choose a race: "+strings.Join(player.Races, ", "))
}

func (e *Engine) createCharacter(s *Session, class string) {
	ls := s.Login
	attr, _ := player.RaceAttributes(ls.Race)
	hpPer, manaPer := e.prog.VitalsPerLevel(class)
	now := e.clk.Now()

	rec := ls.Record
	rec.RoomID = e.world.StartRoom
	rec.Race = ls.Race
	rec.Class = class
	rec.Attr = attr
	rec.MaxHP = 10 + hpPer + (attr.Constitution - 10)
	rec.HP = rec.MaxHP
	rec.MaxMana = 10 + manaPer + (attr.Intelligence - 10)
	rec.Mana = rec.MaxMana
	rec.Level = 1
	rec.Gold = 20
	rec.CreatedAt = now
	rec.LastSeenAt = now
	rec.AnsiEnabled = s.Ansi

	created, err := e.repo.Create(context.Background(), rec)
	if err == persist.ErrNameTaken {
		e.sendError(s.ID, "That name was claimed while you dallied. By what name are you known?")
		*ls = loginState{Stage: stageName, holdsSem: ls.holdsSem}
		return
	}
	if err != nil {
		e.log.Error("character create failed", zap.String("name", rec.Name), zap.Error(err))
		e.sendError(s.ID, "The archives refuse your name. Try again later.")
		e.closeSession(s.ID, "create failed")
		return
	}
	e.log.Info("character created",
		zap.String("name", created.Name),
		zap.String("class", created.Class),
		zap.String("race", created.Race))
	e.enterWorld(s, created)
}

// takeOver evicts any live session already holding the account, locally or on
// a peer engine. Last login wins.
func (e *Engine) takeOver(name string) {
	if old, ok := e.sessions.ByName(name); ok {
		e.sendInfo(old.ID, "Your soul is claimed from elsewhere.")
		e.closeSession(old.ID, "session takeover")
		e.removeSession(old, false)
		return
	}
	if e.shard == nil || e.shard.Locations == nil || e.shard.Peer == nil {
		return
	}
	if loc, ok := e.shard.Locations.Lookup(name); ok && loc.EngineID != e.engineID() {
		_ = e.shard.Peer.SendToEngine(loc.EngineID, shard.KickRequest{
			PlayerName:  name,
			RequestedBy: "takeover",
		})
	}
}

// enterWorld promotes an authenticated session into the simulation.
func (e *Engine) enterWorld(s *Session, rec *player.Record) {
	ls := s.Login
	if ls.holdsSem {
		e.loginSem.Release(1)
		ls.holdsSem = false
	}
	s.Login = nil
	s.Record = rec

	st := &player.State{
		SessionID: s.ID,
		Equipped:  make(map[world.EquipSlot]id.ItemID),
	}
	rec.ApplyTo(st)
	if e.world.Room(st.RoomID) == nil {
		// Saved room no longer exists (world edit or foreign zone).
		st.RoomID = e.world.StartRoom
	}
	st.KnownAbilities = player.LearnedAbilities(e.cfg.Engine.Abilities, st.Level, st.Class)
	s.Ansi = rec.AnsiEnabled

	for _, ir := range rec.Inventory {
		iid := id.ItemID(ir.InstanceID)
		if e.items.Adopt(iid, ir.TemplateID) {
			e.items.PlaceInInventory(iid, s.ID)
			st.Inventory = append(st.Inventory, iid)
		}
	}
	for slot, ir := range rec.Equipment {
		iid := id.ItemID(ir.InstanceID)
		if e.items.Adopt(iid, ir.TemplateID) {
			e.items.PlaceInSlot(iid, s.ID, world.EquipSlot(slot))
			st.Equipped[world.EquipSlot(slot)] = iid
		}
	}

	e.sessions.EnterWorld(s, st)
	if e.shard != nil && e.shard.Locations != nil {
		e.shard.Locations.Publish(st.Name, shard.Location{EngineID: e.engineID(), SessionID: s.ID})
	}

	e.emit(event.SetAnsi{SessionID: s.ID, Enabled: s.Ansi})
	e.sendInfo(s.ID, "Welcome, "+st.Name+". The realm of "+e.cfg.Server.Name+" awaits.")
	e.broadcastRoom(st.RoomID, st.Name+" steps into the world.", s.ID)
	e.showRoom(s)
	e.gmcp.MarkDirty(s.ID, gmcp.CharVitals)
	e.pushRoomInfo(s)
	e.prompt(s.ID)
	e.log.Info("player entered world",
		zap.String("name", st.Name),
		zap.Uint64("session", uint64(s.ID)),
		zap.Int("level", st.Level))
}

// handleGmcpControl services subscription management from the client.
func (e *Engine) handleGmcpControl(ev event.GmcpReceived) {
	s, ok := e.sessions.Get(ev.SessionID)
	if !ok {
		return
	}
	var pkgs []string
	if len(ev.Payload) > 0 {
		if err := json.Unmarshal(ev.Payload, &pkgs); err != nil {
			e.log.Debug("malformed gmcp control payload", zap.Uint64("session", uint64(s.ID)))
			return
		}
	}
	switch ev.Package {
	case "Core.Supports.Set":
		e.gmcp.Drop(s.ID)
		e.gmcp.Subscribe(s.ID, pkgs...)
	case "Core.Supports.Add":
		e.gmcp.Subscribe(s.ID, pkgs...)
	case "Core.Supports.Remove":
		e.gmcp.Unsubscribe(s.ID, pkgs...)
	}
}
