package scripting

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

const innkeeperScript = `
register_dialogue("innkeeper", {
	start = function(player)
		if player.quest["rats"] == "done" then
			return { text = "My hero! The cellar is quiet at last.", finish = true }
		end
		return {
			text = "Welcome, " .. player.name .. ". Rats have overrun my cellar.",
			options = { "I will deal with them.", "Not my problem." },
		}
	end,
	choose = function(player, n)
		if n == 1 then
			return {
				text = "Bless you. Come back when it is done.",
				quest = { id = "rats", state = "started" },
				finish = true,
			}
		end
		return { text = "Suit yourself.", finish = true }
	end,
})
`

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "innkeeper.lua"), []byte(innkeeperScript), 0o644); err != nil {
		t.Fatal(err)
	}
	e, err := NewEngine(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func TestDialogueStartAndChoose(t *testing.T) {
	e := newTestEngine(t)
	if !e.Has("innkeeper") {
		t.Fatal("innkeeper dialogue not registered")
	}

	p := PlayerInfo{Name: "Ama", Class: "WARRIOR", Level: 1, Quest: map[string]string{}}
	node, err := e.Start("innkeeper", p)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if node.End || len(node.Options) != 2 {
		t.Fatalf("start node = %+v, want 2 options and not finished", node)
	}

	node, err = e.Choose("innkeeper", p, 1)
	if err != nil {
		t.Fatalf("Choose: %v", err)
	}
	if !node.End {
		t.Error("accepting the quest should end the conversation")
	}
	if node.Quest == nil || node.Quest.ID != "rats" || node.Quest.State != "started" {
		t.Errorf("quest update = %+v, want rats/started", node.Quest)
	}
}

func TestDialogueBranchesOnQuestState(t *testing.T) {
	e := newTestEngine(t)
	p := PlayerInfo{Name: "Ama", Quest: map[string]string{"rats": "done"}}
	node, err := e.Start("innkeeper", p)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !node.End || len(node.Options) != 0 {
		t.Errorf("completed-quest node = %+v, want terminal node", node)
	}
}

func TestUnknownDialogue(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.Start("nobody", PlayerInfo{}); err == nil {
		t.Error("Start(unknown) should error")
	}
}

func TestMissingScriptsDirIsEmpty(t *testing.T) {
	e, err := NewEngine(filepath.Join(t.TempDir(), "absent"), zap.NewNop())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer e.Close()
	if e.Has("anything") {
		t.Error("empty engine claims a dialogue")
	}
}
