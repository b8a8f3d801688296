package command

import (
	"strconv"
	"strings"

	"github.com/ambonmud/server/internal/world"
)

// Parse maps one input line to a Command. The verb is case-insensitive;
// argument text keeps its original casing.
func Parse(line string) Command {
	line = strings.TrimSpace(line)
	if line == "" {
		return Noop{}
	}

	verb, rest := splitVerb(line)
	verb = strings.ToLower(verb)

	if dir, ok := world.ParseDirection(verb); ok {
		return Move{Dir: dir}
	}

	switch verb {
	case "go":
		if dir, ok := world.ParseDirection(strings.ToLower(rest)); ok {
			return Move{Dir: dir}
		}
		return Invalid{Usage: "go <north|south|east|west|up|down>"}

	case "look", "l":
		return Look{Target: rest}

	case "say", "'":
		if rest == "" {
			return Invalid{Usage: "say <message>"}
		}
		return Say{Text: rest}
	case "tell", "t":
		target, text := splitVerb(rest)
		if target == "" || text == "" {
			return Invalid{Usage: "tell <player> <message>"}
		}
		return Tell{Target: target, Text: text}
	case "gossip", "gos":
		if rest == "" {
			return Invalid{Usage: "gossip <message>"}
		}
		return Gossip{Text: rest}
	case "emote", ":":
		if rest == "" {
			return Invalid{Usage: "emote <action>"}
		}
		return Emote{Text: rest}
	case "whisper", "whis":
		target, text := splitVerb(rest)
		if target == "" || text == "" {
			return Invalid{Usage: "whisper <player> <message>"}
		}
		return Whisper{Target: target, Text: text}
	case "shout":
		if rest == "" {
			return Invalid{Usage: "shout <message>"}
		}
		return Shout{Text: rest}
	case "ooc":
		if rest == "" {
			return Invalid{Usage: "ooc <message>"}
		}
		return OOC{Text: rest}
	case "gtell", "gt", "gsay":
		if rest == "" {
			return Invalid{Usage: "gtell <message>"}
		}
		return GroupTell{Text: rest}

	case "get", "take":
		if rest == "" {
			return Invalid{Usage: "get <item>"}
		}
		return Get{Item: rest}
	case "drop":
		if rest == "" {
			return Invalid{Usage: "drop <item>"}
		}
		return Drop{Item: rest}
	case "wear", "wield", "equip":
		if rest == "" {
			return Invalid{Usage: "wear <item>"}
		}
		return Wear{Item: rest}
	case "remove", "unequip":
		if rest == "" {
			return Invalid{Usage: "remove <item>"}
		}
		return RemoveWorn{Item: rest}
	case "inventory", "inv", "i":
		return Inventory{}
	case "equipment", "eq":
		return Equipment{}
	case "use", "quaff", "drink":
		if rest == "" {
			return Invalid{Usage: "use <item>"}
		}
		return Use{Item: rest}
	case "give":
		// give <item> to <player> | give <item> <player>
		item, target, ok := splitGive(rest)
		if !ok {
			return Invalid{Usage: "give <item> to <player>"}
		}
		return Give{Target: target, Item: item}

	case "kill", "k", "attack", "fight":
		if rest == "" {
			return Invalid{Usage: "kill <target>"}
		}
		return Kill{Target: rest}
	case "flee":
		return Flee{}
	case "cast", "c":
		ability, target := splitVerb(rest)
		if ability == "" {
			return Invalid{Usage: "cast <spell> [target]"}
		}
		return Cast{Ability: strings.ToLower(ability), Target: target}

	case "score", "sc", "stats":
		return Score{}
	case "balance", "gold":
		return Balance{}
	case "achievements", "ach":
		return Achievements{}
	case "effects", "affects", "aff":
		return Effects{}
	case "spells", "abilities":
		return Spells{}
	case "quests", "questlog", "qlog":
		return QuestLog{}
	case "who":
		return Who{}

	case "buy":
		if rest == "" {
			return Invalid{Usage: "buy <item>"}
		}
		return Buy{Item: rest}
	case "sell":
		if rest == "" {
			return Invalid{Usage: "sell <item>"}
		}
		return Sell{Item: rest}
	case "list", "shop":
		return ListGoods{}

	case "group", "party":
		return parseGroup(rest)

	case "talk":
		if rest == "" {
			return Invalid{Usage: "talk <npc>"}
		}
		return Talk{Target: rest}
	case "choice", "ch":
		n, err := strconv.Atoi(rest)
		if err != nil || n < 1 {
			return Invalid{Usage: "choice <number>"}
		}
		return Choice{Option: n}

	case "goto":
		if rest == "" {
			return Invalid{Usage: "goto <room>"}
		}
		return Goto{Room: rest}
	case "transfer":
		p, room := splitVerb(rest)
		if p == "" {
			return Invalid{Usage: "transfer <player> [room]"}
		}
		return Transfer{Player: p, Room: room}
	case "spawn":
		if rest == "" {
			return Invalid{Usage: "spawn <mob template>"}
		}
		return Spawn{MobTemplate: rest}
	case "smite":
		if rest == "" {
			return Invalid{Usage: "smite <target>"}
		}
		return Smite{Target: rest}
	case "kick":
		if rest == "" {
			return Invalid{Usage: "kick <player>"}
		}
		return KickPlayer{Player: rest}
	case "shutdown":
		return Shutdown{}

	case "help", "?":
		return Help{Topic: strings.ToLower(rest)}
	case "clear", "cls":
		return Clear{}
	case "colors", "colours":
		return Colors{}
	case "ansi":
		switch strings.ToLower(rest) {
		case "on":
			return Ansi{Enabled: true}
		case "off":
			return Ansi{Enabled: false}
		}
		return Invalid{Usage: "ansi <on|off>"}
	case "phase":
		return Phase{}
	case "quit", "logout":
		return Quit{}
	}

	return Unknown{Verb: verb}
}

func parseGroup(rest string) Command {
	sub, arg := splitVerb(rest)
	switch strings.ToLower(sub) {
	case "invite":
		if arg == "" {
			return Invalid{Usage: "group invite <player>"}
		}
		return GroupInvite{Target: arg}
	case "accept", "join":
		return GroupAccept{}
	case "leave":
		return GroupLeave{}
	case "kick":
		if arg == "" {
			return Invalid{Usage: "group kick <player>"}
		}
		return GroupKick{Target: arg}
	}
	return Invalid{Usage: "group <invite|accept|leave|kick>"}
}

// splitVerb cuts the first whitespace-delimited word off the line.
func splitVerb(line string) (verb, rest string) {
	line = strings.TrimSpace(line)
	if i := strings.IndexAny(line, " \t"); i >= 0 {
		return line[:i], strings.TrimSpace(line[i+1:])
	}
	return line, ""
}

// splitGive handles both "give sword to Bob" and "give sword Bob". The
// item name may span several words when "to" separates it from the target.
func splitGive(rest string) (item, target string, ok bool) {
	if rest == "" {
		return "", "", false
	}
	fields := strings.Fields(rest)
	for i, f := range fields {
		if strings.EqualFold(f, "to") && i > 0 && i < len(fields)-1 {
			return strings.Join(fields[:i], " "), strings.Join(fields[i+1:], " "), true
		}
	}
	if len(fields) < 2 {
		return "", "", false
	}
	return strings.Join(fields[:len(fields)-1], " "), fields[len(fields)-1], true
}
