// Package scripting runs NPC dialogue trees and quest hooks in Lua. Scripts
// register themselves at load time; the engine calls into them when a player
// talks to an NPC or picks a dialogue option.
package scripting

import (
	"fmt"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// PlayerInfo is the read-only view of a player a script receives.
type PlayerInfo struct {
	Name  string
	Class string
	Level int
	Quest map[string]string // quest id -> state
}

// QuestUpdate is a quest progress change requested by a script.
type QuestUpdate struct {
	ID    string
	State string
}

// Node is one step of a dialogue: what the NPC says and the numbered
// options offered. End marks the conversation finished.
type Node struct {
	Text    string
	Options []string
	Quest   *QuestUpdate
	End     bool
}

// Engine wraps a single gopher-lua VM holding all registered dialogues.
// Single-goroutine access only (engine tick).
type Engine struct {
	vm        *lua.LState
	log       *zap.Logger
	dialogues map[string]*lua.LTable
}

// NewEngine creates the VM, installs the registration API, and loads every
// .lua file from scriptsDir. A missing directory yields an engine with no
// dialogues, not an error.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{SkipOpenLibs: false})
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log, dialogues: make(map[string]*lua.LTable)}

	vm.SetGlobal("register_dialogue", vm.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		tbl := L.CheckTable(2)
		e.dialogues[name] = tbl
		return 0
	}))

	if err := e.loadDir(scriptsDir); err != nil {
		vm.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// Has reports whether a dialogue with this name was registered.
func (e *Engine) Has(name string) bool {
	_, ok := e.dialogues[name]
	return ok
}

// Start begins a conversation: calls the dialogue's start(player) function.
func (e *Engine) Start(name string, p PlayerInfo) (Node, error) {
	return e.call(name, "start", p, 0)
}

// Choose advances a conversation with the player's numbered pick.
func (e *Engine) Choose(name string, p PlayerInfo, option int) (Node, error) {
	return e.call(name, "choose", p, option)
}

func (e *Engine) call(name, fnName string, p PlayerInfo, option int) (Node, error) {
	tbl, ok := e.dialogues[name]
	if !ok {
		return Node{}, fmt.Errorf("no dialogue %q", name)
	}
	fn := tbl.RawGetString(fnName)
	if fn == lua.LNil {
		return Node{}, fmt.Errorf("dialogue %q has no %s function", name, fnName)
	}

	args := []lua.LValue{e.playerTable(p)}
	if fnName == "choose" {
		args = append(args, lua.LNumber(option))
	}
	if err := e.vm.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...); err != nil {
		e.log.Error("lua dialogue error",
			zap.String("dialogue", name), zap.String("fn", fnName), zap.Error(err))
		return Node{}, fmt.Errorf("dialogue %q: %w", name, err)
	}
	result := e.vm.Get(-1)
	e.vm.Pop(1)

	rt, ok := result.(*lua.LTable)
	if !ok {
		return Node{}, fmt.Errorf("dialogue %q %s returned non-table", name, fnName)
	}
	return nodeFromTable(rt), nil
}

func (e *Engine) playerTable(p PlayerInfo) *lua.LTable {
	t := e.vm.NewTable()
	t.RawSetString("name", lua.LString(p.Name))
	t.RawSetString("class", lua.LString(p.Class))
	t.RawSetString("level", lua.LNumber(p.Level))
	q := e.vm.NewTable()
	for k, v := range p.Quest {
		q.RawSetString(k, lua.LString(v))
	}
	t.RawSetString("quest", q)
	return t
}

func nodeFromTable(rt *lua.LTable) Node {
	n := Node{
		Text: lua.LVAsString(rt.RawGetString("text")),
		End:  rt.RawGetString("finish") == lua.LTrue,
	}
	if opts, ok := rt.RawGetString("options").(*lua.LTable); ok {
		opts.ForEach(func(_, v lua.LValue) {
			n.Options = append(n.Options, lua.LVAsString(v))
		})
	}
	if q, ok := rt.RawGetString("quest").(*lua.LTable); ok {
		n.Quest = &QuestUpdate{
			ID:    lua.LVAsString(q.RawGetString("id")),
			State: lua.LVAsString(q.RawGetString("state")),
		}
	}
	return n
}

// Close shuts the VM down.
func (e *Engine) Close() {
	e.vm.Close()
}
