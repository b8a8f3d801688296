// Package command turns raw input lines into typed commands. Parsing is
// pure: no registries, no session state, no side effects.
package command

import (
	"github.com/ambonmud/server/internal/world"
)

// Command is the closed set of parsed player commands. The dispatcher
// type-switches over these.
type Command interface{ isCommand() }

// Noop is an empty input line.
type Noop struct{}

// Unknown is input whose verb matched nothing.
type Unknown struct{ Verb string }

// Invalid is a recognized verb with malformed arguments.
type Invalid struct{ Usage string }

// Movement and look.

type Move struct{ Dir world.Direction }
type Look struct{ Target string } // empty target means the room

// Communication.

type Say struct{ Text string }
type Tell struct {
	Target string
	Text   string
}
type Gossip struct{ Text string }
type Emote struct{ Text string }
type Whisper struct {
	Target string
	Text   string
}
type Shout struct{ Text string }
type OOC struct{ Text string }
type GroupTell struct{ Text string }

// Items.

type Get struct{ Item string }
type Drop struct{ Item string }
type Wear struct{ Item string }
type RemoveWorn struct{ Item string }
type Inventory struct{}
type Equipment struct{}
type Use struct{ Item string }
type Give struct {
	Target string
	Item   string
}

// Combat.

type Kill struct{ Target string }
type Flee struct{}
type Cast struct {
	Ability string
	Target  string // empty for SELF-target abilities
}

// Character sheet.

type Score struct{}
type Balance struct{}
type Achievements struct{}
type Effects struct{}
type Spells struct{}
type QuestLog struct{}
type Who struct{}

// Economy.

type Buy struct{ Item string }
type Sell struct{ Item string }
type ListGoods struct{}

// Groups.

type GroupInvite struct{ Target string }
type GroupAccept struct{}
type GroupLeave struct{}
type GroupKick struct{ Target string }

// Dialogue.

type Talk struct{ Target string }
type Choice struct{ Option int }

// Staff-gated.

type Goto struct{ Room string }
type Transfer struct {
	Player string
	Room   string // empty means "to me"
}
type Spawn struct{ MobTemplate string }
type Smite struct{ Target string }
type KickPlayer struct{ Player string }
type Shutdown struct{}

// UI.

type Help struct{ Topic string }
type Clear struct{}
type Colors struct{}
type Ansi struct{ Enabled bool }
type Phase struct{}
type Quit struct{}

func (Noop) isCommand()         {}
func (Unknown) isCommand()      {}
func (Invalid) isCommand()      {}
func (Move) isCommand()         {}
func (Look) isCommand()         {}
func (Say) isCommand()          {}
func (Tell) isCommand()         {}
func (Gossip) isCommand()       {}
func (Emote) isCommand()        {}
func (Whisper) isCommand()      {}
func (Shout) isCommand()        {}
func (OOC) isCommand()          {}
func (GroupTell) isCommand()    {}
func (Get) isCommand()          {}
func (Drop) isCommand()         {}
func (Wear) isCommand()         {}
func (RemoveWorn) isCommand()   {}
func (Inventory) isCommand()    {}
func (Equipment) isCommand()    {}
func (Use) isCommand()          {}
func (Give) isCommand()         {}
func (Kill) isCommand()         {}
func (Flee) isCommand()         {}
func (Cast) isCommand()         {}
func (Score) isCommand()        {}
func (Balance) isCommand()      {}
func (Achievements) isCommand() {}
func (Effects) isCommand()      {}
func (Spells) isCommand()       {}
func (QuestLog) isCommand()     {}
func (Who) isCommand()          {}
func (Buy) isCommand()          {}
func (Sell) isCommand()         {}
func (ListGoods) isCommand()    {}
func (GroupInvite) isCommand()  {}
func (GroupAccept) isCommand()  {}
func (GroupLeave) isCommand()   {}
func (GroupKick) isCommand()    {}
func (Talk) isCommand()         {}
func (Choice) isCommand()       {}
func (Goto) isCommand()         {}
func (Transfer) isCommand()     {}
func (Spawn) isCommand()        {}
func (Smite) isCommand()        {}
func (KickPlayer) isCommand()   {}
func (Shutdown) isCommand()     {}
func (Help) isCommand()         {}
func (Clear) isCommand()        {}
func (Colors) isCommand()       {}
func (Ansi) isCommand()         {}
func (Phase) isCommand()        {}
func (Quit) isCommand()         {}
