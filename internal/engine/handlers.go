package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ambonmud/server/internal/command"
	"github.com/ambonmud/server/internal/event"
	"github.com/ambonmud/server/internal/gmcp"
	"github.com/ambonmud/server/internal/id"
	"github.com/ambonmud/server/internal/world"
)

// handleCommand parses and dispatches one input line from a playing session.
// Every path ends with a prompt unless the session left this engine.
func (e *Engine) handleCommand(s *Session, line string) {
	cmd := command.Parse(line)
	e.dispatchCommand(s, cmd)
	if cur, ok := e.sessions.Get(s.ID); ok && cur.Phase == phasePlaying {
		e.prompt(s.ID)
	}
}

func (e *Engine) dispatchCommand(s *Session, cmd command.Command) {
	switch c := cmd.(type) {
	case command.Noop:
	case command.Unknown:
		e.sendError(s.ID, "Huh? ("+c.Verb+" is not a command; try help)")
	case command.Invalid:
		e.sendError(s.ID, "Usage: "+c.Usage)

	case command.Move:
		e.cmdMove(s, c.Dir)
	case command.Look:
		e.cmdLook(s, c.Target)

	case command.Say:
		e.cmdSay(s, c.Text)
	case command.Tell:
		e.cmdTell(s, c.Target, c.Text)
	case command.Gossip:
		e.cmdGossip(s, c.Text)
	case command.Emote:
		e.cmdEmote(s, c.Text)
	case command.Whisper:
		e.cmdWhisper(s, c.Target, c.Text)
	case command.Shout:
		e.cmdShout(s, c.Text)
	case command.OOC:
		e.cmdOOC(s, c.Text)
	case command.GroupTell:
		e.cmdGroupTell(s, c.Text)

	case command.Get:
		e.cmdGet(s, c.Item)
	case command.Drop:
		e.cmdDrop(s, c.Item)
	case command.Wear:
		e.cmdWear(s, c.Item)
	case command.RemoveWorn:
		e.cmdRemove(s, c.Item)
	case command.Inventory:
		e.cmdInventory(s)
	case command.Equipment:
		e.cmdEquipment(s)
	case command.Use:
		e.cmdUse(s, c.Item)
	case command.Give:
		e.cmdGive(s, c.Target, c.Item)

	case command.Kill:
		e.cmdKill(s, c.Target)
	case command.Flee:
		e.cmdFlee(s)
	case command.Cast:
		e.castAbility(s, c.Ability, c.Target)

	case command.Score:
		e.cmdScore(s)
	case command.Balance:
		e.sendText(s.ID, fmt.Sprintf("You are carrying %d gold coins.", s.Player.Gold))
	case command.Achievements:
		e.cmdAchievements(s)
	case command.Effects:
		e.cmdEffects(s)
	case command.Spells:
		e.cmdSpells(s)
	case command.QuestLog:
		e.cmdQuestLog(s)
	case command.Who:
		e.cmdWho(s)

	case command.Buy:
		e.cmdBuy(s, c.Item)
	case command.Sell:
		e.cmdSell(s, c.Item)
	case command.ListGoods:
		e.cmdListGoods(s)

	case command.GroupInvite:
		e.cmdGroupInvite(s, c.Target)
	case command.GroupAccept:
		e.cmdGroupAccept(s)
	case command.GroupLeave:
		e.cmdGroupLeave(s)
	case command.GroupKick:
		e.cmdGroupKick(s, c.Target)

	case command.Talk:
		e.cmdTalk(s, c.Target)
	case command.Choice:
		e.cmdChoice(s, c.Option)

	case command.Goto:
		e.staffOnly(s, func() { e.cmdGoto(s, c.Room) })
	case command.Transfer:
		e.staffOnly(s, func() { e.cmdTransfer(s, c.Player, c.Room) })
	case command.Spawn:
		e.staffOnly(s, func() { e.cmdSpawn(s, c.MobTemplate) })
	case command.Smite:
		e.staffOnly(s, func() { e.cmdSmite(s, c.Target) })
	case command.KickPlayer:
		e.staffOnly(s, func() { e.cmdKickPlayer(s, c.Player) })
	case command.Shutdown:
		e.staffOnly(s, func() { e.cmdShutdown(s) })

	case command.Help:
		e.cmdHelp(s, c.Topic)
	case command.Clear:
		e.emit(event.ClearScreen{SessionID: s.ID})
	case command.Colors:
		e.cmdColors(s)
	case command.Ansi:
		s.Ansi = c.Enabled
		s.Player.Ansi = c.Enabled
		e.emit(event.SetAnsi{SessionID: s.ID, Enabled: c.Enabled})
		if c.Enabled {
			e.sendInfo(s.ID, "ANSI color enabled.")
		} else {
			e.sendInfo(s.ID, "ANSI color disabled.")
		}
	case command.Phase:
		e.sendText(s.ID, fmt.Sprintf("Engine %s, tick %d.", e.engineID(), e.tick))
	case command.Quit:
		e.cmdQuit(s)

	default:
		e.sendError(s.ID, "That command is not wired up yet.")
	}
}

func (e *Engine) staffOnly(s *Session, fn func()) {
	if !s.Player.IsStaff {
		e.sendError(s.ID, "Huh? (that is not a command; try help)")
		return
	}
	fn()
}

// cmdMove walks an exit. Crossing a zone boundary hands the player to the
// owning engine instead of moving locally.
func (e *Engine) cmdMove(s *Session, dir world.Direction) {
	if s.Fighting != "" {
		e.sendError(s.ID, "You are fighting! Try flee.")
		return
	}
	if s.stunned() {
		e.sendError(s.ID, "You are stunned and cannot move!")
		return
	}
	if s.rooted() {
		e.sendError(s.ID, "Your legs refuse. Something roots you in place.")
		return
	}
	room := e.world.Room(s.Player.RoomID)
	if room == nil {
		e.movePlayerTo(s, e.world.StartRoom)
		return
	}
	to, ok := room.Exits[dir]
	if !ok {
		e.sendError(s.ID, "You cannot go "+dir.String()+".")
		return
	}
	if e.world.CrossZone(room.ID, to) && e.world.Room(to) == nil {
		e.beginHandoff(s, to, dir)
		return
	}
	e.broadcastRoom(room.ID, s.Player.Name+" leaves "+dir.String()+".", s.ID)
	e.movePlayerTo(s, to)
	e.broadcastRoom(to, s.Player.Name+" arrives from the "+dir.Opposite().String()+".", s.ID)
}

// movePlayerTo relocates a player and shows the new room.
func (e *Engine) movePlayerTo(s *Session, to id.RoomID) {
	e.sessions.MoveTo(s, to)
	if s.Dialogue != nil {
		s.Dialogue = nil
	}
	e.showRoom(s)
	e.pushRoomInfo(s)
}

// showRoom renders the room: title, description, exits, items, mobs, players.
func (e *Engine) showRoom(s *Session) {
	room := e.world.Room(s.Player.RoomID)
	if room == nil {
		e.sendError(s.ID, "You float in the void.")
		return
	}
	e.sendText(s.ID, room.Title)
	if room.Description != "" {
		e.sendText(s.ID, room.Description)
	}
	e.sendText(s.ID, "Exits: "+exitList(room))

	for _, iid := range e.items.InRoom(room.ID) {
		if tmpl, ok := e.items.Template(iid); ok {
			e.sendText(s.ID, "  "+tmpl.Name+" lies here.")
		}
	}
	for _, m := range e.mobs.InRoom(room.ID) {
		e.sendText(s.ID, "  "+m.Name()+" is here.")
	}
	for _, other := range e.sessions.InRoom(room.ID) {
		if other.ID != s.ID && other.Phase == phasePlaying {
			e.sendText(s.ID, "  "+other.Player.Name+" is here.")
		}
	}
}

func exitList(room *world.Room) string {
	if len(room.Exits) == 0 {
		return "none"
	}
	dirs := make([]string, 0, len(room.Exits))
	for d := range room.Exits {
		dirs = append(dirs, d.String())
	}
	sort.Strings(dirs)
	return strings.Join(dirs, ", ")
}

// cmdLook shows the room, or examines a named mob, item, or player.
func (e *Engine) cmdLook(s *Session, target string) {
	if target == "" {
		e.showRoom(s)
		return
	}
	rid := s.Player.RoomID
	if m, ok := e.mobs.MatchInRoom(rid, target); ok {
		e.sendText(s.ID, fmt.Sprintf("%s. (%d/%d hp)", m.Name(), m.HP, m.MaxHP))
		if m.IsVendor() {
			e.sendText(s.ID, m.Name()+" looks ready to trade. (try list)")
		}
		if m.Spawn.DialogueScript != "" {
			e.sendText(s.ID, m.Name()+" looks ready to talk. (try talk)")
		}
		return
	}
	if iid, ok := e.items.MatchInRoom(rid, target); ok {
		if tmpl, ok := e.items.Template(iid); ok {
			e.sendText(s.ID, describeItem(tmpl))
			return
		}
	}
	if iid, ok := e.items.MatchIn(s.Player.Inventory, target); ok {
		if tmpl, ok := e.items.Template(iid); ok {
			e.sendText(s.ID, describeItem(tmpl))
			return
		}
	}
	for _, other := range e.sessions.InRoom(rid) {
		if other.ID != s.ID && other.Phase == phasePlaying &&
			strings.Contains(strings.ToLower(other.Player.Name), strings.ToLower(target)) {
			e.sendText(s.ID, fmt.Sprintf("%s, a level %d %s %s.", other.Player.Name, other.Player.Level, other.Player.Race, strings.ToLower(other.Player.Class)))
			return
		}
	}
	e.sendError(s.ID, "You see no "+target+" here.")
}

func describeItem(tmpl world.ItemTemplate) string {
	var b strings.Builder
	b.WriteString(tmpl.Name)
	b.WriteString(".")
	if tmpl.Slot != world.SlotNone {
		fmt.Fprintf(&b, " Worn on: %s.", tmpl.Slot)
	}
	if tmpl.DamageBonus > 0 {
		fmt.Fprintf(&b, " Damage +%d.", tmpl.DamageBonus)
	}
	if tmpl.ArmorBonus > 0 {
		fmt.Fprintf(&b, " Armor +%d.", tmpl.ArmorBonus)
	}
	return b.String()
}

func (e *Engine) cmdKill(s *Session, target string) {
	if s.stunned() {
		e.sendError(s.ID, "You are stunned!")
		return
	}
	m, ok := e.mobs.MatchInRoom(s.Player.RoomID, target)
	if !ok {
		e.sendError(s.ID, "You see no "+target+" here.")
		return
	}
	e.startCombat(s, m)
}

// cmdFlee breaks combat through a random exit. Rooted players cannot flee.
func (e *Engine) cmdFlee(s *Session) {
	if s.Fighting == "" {
		e.sendError(s.ID, "You are not fighting anything.")
		return
	}
	if s.rooted() {
		e.sendError(s.ID, "You cannot flee while rooted!")
		return
	}
	room := e.world.Room(s.Player.RoomID)
	if room == nil {
		return
	}
	exits := make([]exitChoice, 0, len(room.Exits))
	for dir, to := range room.Exits {
		if e.world.Room(to) != nil {
			exits = append(exits, exitChoice{dir: dir, to: to})
		}
	}
	if len(exits) == 0 {
		e.sendError(s.ID, "There is nowhere to run!")
		return
	}
	pick := exits[e.rng.Intn(len(exits))]
	e.disengage(s)
	e.sendText(s.ID, "You flee "+pick.dir.String()+"!")
	e.broadcastRoom(room.ID, s.Player.Name+" flees "+pick.dir.String()+"!", s.ID)
	e.movePlayerTo(s, pick.to)
	e.gmcp.MarkDirty(s.ID, gmcp.CharStatus)
}

func (e *Engine) cmdScore(s *Session) {
	st := s.Player
	next := e.prog.XPRequired(st.Level + 1)
	e.sendText(s.ID, fmt.Sprintf("%s, level %d %s %s", st.Name, st.Level, st.Race, strings.ToLower(st.Class)))
	e.sendText(s.ID, fmt.Sprintf("HP %d/%d  Mana %d/%d  Gold %d", st.HP, st.MaxHP, st.Mana, st.MaxMana, st.Gold))
	if st.Level < e.prog.MaxLevel() {
		e.sendText(s.ID, fmt.Sprintf("XP %d (%d to level %d)", st.XPTotal, next-st.XPTotal, st.Level+1))
	} else {
		e.sendText(s.ID, fmt.Sprintf("XP %d (maximum level)", st.XPTotal))
	}
	a := st.Attr
	e.sendText(s.ID, fmt.Sprintf("Str %d Dex %d Con %d Int %d Wis %d Cha %d",
		a.Strength, a.Dexterity, a.Constitution, a.Intelligence, a.Wisdom, a.Charisma))
}

func (e *Engine) cmdAchievements(s *Session) {
	if len(s.Record.Achievements) == 0 {
		e.sendText(s.ID, "You have earned no achievements yet.")
		return
	}
	e.sendText(s.ID, "Achievements:")
	for _, a := range s.Record.Achievements {
		e.sendText(s.ID, "  "+a)
	}
}

func (e *Engine) cmdEffects(s *Session) {
	if len(s.Effects) == 0 {
		e.sendText(s.ID, "You are not affected by anything.")
		return
	}
	now := e.clk.NowMillis()
	e.sendText(s.ID, "Active effects:")
	for _, fx := range s.Effects {
		remaining := float64(fx.ExpiresAt-now) / 1000.0
		if fx.Stacks > 1 {
			e.sendText(s.ID, fmt.Sprintf("  %s (x%d) - %.0fs", fx.Cfg.DisplayName, fx.Stacks, remaining))
		} else {
			e.sendText(s.ID, fmt.Sprintf("  %s - %.0fs", fx.Cfg.DisplayName, remaining))
		}
	}
}

func (e *Engine) cmdSpells(s *Session) {
	if len(s.Player.KnownAbilities) == 0 {
		e.sendText(s.ID, "You know no abilities.")
		return
	}
	ids := make([]string, 0, len(s.Player.KnownAbilities))
	for aid := range s.Player.KnownAbilities {
		ids = append(ids, aid)
	}
	sort.Strings(ids)
	now := e.clk.NowMillis()
	e.sendText(s.ID, "Known abilities:")
	for _, aid := range ids {
		ab := e.cfg.Engine.Abilities[aid]
		line := fmt.Sprintf("  %-12s %s (mana %d, cooldown %s)", aid, ab.DisplayName, ab.ManaCost, ab.Cooldown)
		if ready := s.Cooldowns[aid]; ready > now {
			line += fmt.Sprintf(" [ready in %.1fs]", float64(ready-now)/1000.0)
		}
		e.sendText(s.ID, line)
	}
}

func (e *Engine) cmdQuestLog(s *Session) {
	if len(s.Record.QuestProgress) == 0 {
		e.sendText(s.ID, "Your quest log is empty.")
		return
	}
	ids := make([]string, 0, len(s.Record.QuestProgress))
	for qid := range s.Record.QuestProgress {
		ids = append(ids, qid)
	}
	sort.Strings(ids)
	e.sendText(s.ID, "Quests:")
	for _, qid := range ids {
		e.sendText(s.ID, fmt.Sprintf("  %s: %s", qid, s.Record.QuestProgress[qid]))
	}
}

func (e *Engine) cmdHelp(s *Session, topic string) {
	switch strings.ToLower(topic) {
	case "":
		e.sendText(s.ID, "Commands: north south east west up down, look, say, tell, gossip,")
		e.sendText(s.ID, "  get, drop, wear, remove, inventory, equipment, use, give,")
		e.sendText(s.ID, "  kill, flee, cast, spells, effects, score, who, quests,")
		e.sendText(s.ID, "  buy, sell, list, group, gtell, talk, choice, ansi, quit")
		e.sendText(s.ID, "Try help <command> for details.")
	case "cast":
		e.sendText(s.ID, "cast <ability> [target] - invoke a known ability. See: spells")
	case "group":
		e.sendText(s.ID, "group invite <player>, group accept, group leave, group kick <player>")
	case "talk":
		e.sendText(s.ID, "talk <npc> starts a conversation; choice <n> picks an option.")
	default:
		e.sendText(s.ID, "No help on that topic.")
	}
}

func (e *Engine) cmdColors(s *Session) {
	if !s.Ansi {
		e.sendText(s.ID, "ANSI is off. Try: ansi on")
		return
	}
	e.sendText(s.ID, "Color palette test follows; if you see raw codes, turn ansi off.")
	e.sendText(s.ID, "\x1b[31mred\x1b[0m \x1b[32mgreen\x1b[0m \x1b[33myellow\x1b[0m \x1b[34mblue\x1b[0m \x1b[35mmagenta\x1b[0m \x1b[36mcyan\x1b[0m")
}

func (e *Engine) cmdQuit(s *Session) {
	if s.Fighting != "" {
		e.sendError(s.ID, "You cannot quit while fighting!")
		return
	}
	e.sendInfo(s.ID, "Farewell, "+s.Player.Name+". The realm will remember you.")
	e.closeSession(s.ID, "quit")
	e.removeSession(s, true)
}
