package engine

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/scripting"
)

func (e *Engine) scriptPlayerInfo(s *Session) scripting.PlayerInfo {
	return scripting.PlayerInfo{
		Name:  s.Player.Name,
		Class: s.Player.Class,
		Level: s.Player.Level,
		Quest: s.Record.QuestProgress,
	}
}

// cmdTalk opens a dialogue with a scripted NPC in the room.
func (e *Engine) cmdTalk(s *Session, target string) {
	if e.scripts == nil {
		e.sendError(s.ID, "No one here has anything to say.")
		return
	}
	m, ok := e.mobs.MatchInRoom(s.Player.RoomID, target)
	if !ok {
		e.sendError(s.ID, "You see no "+target+" here.")
		return
	}
	script := m.Spawn.DialogueScript
	if script == "" || !e.scripts.Has(script) {
		e.sendText(s.ID, m.Name()+" has nothing to say to you.")
		return
	}
	node, err := e.scripts.Start(script, e.scriptPlayerInfo(s))
	if err != nil {
		e.log.Error("dialogue start failed",
			zap.String("script", script),
			zap.Error(err))
		e.sendError(s.ID, m.Name()+" mumbles incoherently.")
		return
	}
	e.renderDialogue(s, m, script, node)
}

// cmdChoice picks a numbered option in the open conversation.
func (e *Engine) cmdChoice(s *Session, option int) {
	d := s.Dialogue
	if d == nil {
		e.sendError(s.ID, "You are not talking to anyone. (try talk <npc>)")
		return
	}
	if option < 1 || option > d.Options {
		e.sendError(s.ID, fmt.Sprintf("Pick a choice between 1 and %d.", d.Options))
		return
	}
	m, ok := e.mobs.Get(d.MobID)
	if !ok || m.Room != s.Player.RoomID {
		s.Dialogue = nil
		e.sendError(s.ID, "Your conversation partner is gone.")
		return
	}
	node, err := e.scripts.Choose(d.Script, e.scriptPlayerInfo(s), option)
	if err != nil {
		e.log.Error("dialogue choice failed",
			zap.String("script", d.Script),
			zap.Int("option", option),
			zap.Error(err))
		s.Dialogue = nil
		e.sendError(s.ID, m.Name()+" loses the thread of the conversation.")
		return
	}
	e.renderDialogue(s, m, d.Script, node)
}

// renderDialogue shows the node and applies any quest progress it carries.
func (e *Engine) renderDialogue(s *Session, m *Mob, script string, node scripting.Node) {
	if node.Text != "" {
		e.sendText(s.ID, m.Name()+` says, "`+node.Text+`"`)
	}
	if node.Quest != nil {
		if s.Record.QuestProgress == nil {
			s.Record.QuestProgress = make(map[string]string)
		}
		prev := s.Record.QuestProgress[node.Quest.ID]
		s.Record.QuestProgress[node.Quest.ID] = node.Quest.State
		if prev == "" {
			e.sendInfo(s.ID, "Quest started: "+node.Quest.ID)
		} else {
			e.sendInfo(s.ID, "Quest updated: "+node.Quest.ID+" ("+node.Quest.State+")")
		}
		e.persistSession(s)
	}
	if node.End || len(node.Options) == 0 {
		s.Dialogue = nil
		return
	}
	for i, opt := range node.Options {
		e.sendText(s.ID, fmt.Sprintf("  %d) %s", i+1, opt))
	}
	e.sendText(s.ID, "(choice <n> to answer)")
	s.Dialogue = &dialogueState{Script: script, MobID: m.ID, Options: len(node.Options)}
}
