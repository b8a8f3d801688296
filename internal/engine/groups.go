package engine

import (
	"strings"
)

// Groups are engine-local: membership does not survive a zone handoff, which
// keeps ownership of group state unambiguous.

func (e *Engine) groupMembers(gid uint64) []*Session {
	if gid == 0 {
		return nil
	}
	var out []*Session
	for _, s := range e.sessions.All() {
		if s.Phase == phasePlaying && s.GroupID == gid {
			out = append(out, s)
		}
	}
	return out
}

func (e *Engine) cmdGroupInvite(s *Session, targetName string) {
	target, ok := e.sessions.ByName(targetName)
	if !ok || target.Phase != phasePlaying {
		e.sendError(s.ID, "No one by that name is here to invite.")
		return
	}
	if target.ID == s.ID {
		e.sendError(s.ID, "You are already your own best company.")
		return
	}
	if target.GroupID != 0 {
		e.sendError(s.ID, target.Player.Name+" is already in a group.")
		return
	}
	if s.GroupID == 0 {
		e.groupSeq++
		s.GroupID = e.groupSeq
	}
	target.PendingInvite = s.GroupID
	e.sendText(s.ID, "You invite "+target.Player.Name+" to your group.")
	e.sendText(target.ID, s.Player.Name+" invites you to join their group. (group accept)")
	e.prompt(target.ID)
}

func (e *Engine) cmdGroupAccept(s *Session) {
	if s.PendingInvite == 0 {
		e.sendError(s.ID, "You have no pending invitation.")
		return
	}
	gid := s.PendingInvite
	s.PendingInvite = 0
	members := e.groupMembers(gid)
	if len(members) == 0 {
		e.sendError(s.ID, "That group has dissolved.")
		return
	}
	s.GroupID = gid
	e.sendText(s.ID, "You join the group.")
	for _, m := range members {
		e.sendText(m.ID, s.Player.Name+" joins your group.")
		e.prompt(m.ID)
	}
}

func (e *Engine) cmdGroupLeave(s *Session) {
	if s.GroupID == 0 {
		e.sendError(s.ID, "You are not in a group.")
		return
	}
	e.sendText(s.ID, "You leave the group.")
	e.leaveGroup(s, true)
}

// leaveGroup detaches the session and notifies remaining members. A group of
// one dissolves silently.
func (e *Engine) leaveGroup(s *Session, announce bool) {
	gid := s.GroupID
	s.GroupID = 0
	s.PendingInvite = 0
	if gid == 0 {
		return
	}
	for _, m := range e.groupMembers(gid) {
		if announce {
			e.sendText(m.ID, s.Player.Name+" has left the group.")
			e.prompt(m.ID)
		}
	}
}

func (e *Engine) cmdGroupKick(s *Session, targetName string) {
	if s.GroupID == 0 {
		e.sendError(s.ID, "You are not in a group.")
		return
	}
	for _, m := range e.groupMembers(s.GroupID) {
		if m.ID == s.ID || !strings.EqualFold(m.Player.Name, targetName) {
			continue
		}
		m.GroupID = 0
		e.sendText(m.ID, "You have been removed from the group.")
		e.prompt(m.ID)
		e.sendText(s.ID, m.Player.Name+" is removed from the group.")
		return
	}
	e.sendError(s.ID, "No such member in your group.")
}

func (e *Engine) cmdGroupTell(s *Session, text string) {
	if s.GroupID == 0 {
		e.sendError(s.ID, "You are not in a group.")
		return
	}
	for _, m := range e.groupMembers(s.GroupID) {
		if m.ID == s.ID {
			e.sendText(m.ID, `You tell the group, "`+text+`"`)
		} else {
			e.sendText(m.ID, s.Player.Name+` tells the group, "`+text+`"`)
			e.prompt(m.ID)
		}
	}
}
