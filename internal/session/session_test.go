package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kayz/tavernkit/internal/config"
	"github.com/kayz/tavernkit/internal/persist"
	"github.com/kayz/tavernkit/internal/promptbuild"
	"github.com/kayz/tavernkit/internal/regexscript"
	"github.com/kayz/tavernkit/internal/worldinfo"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadRequestYAMLUsesJSONNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "req.yaml")
	writeFile(t, path, `
api: textgenerationwebui
options:
  maxContext: preset
  presetName: Default
characters:
  - name: Mia
    mes_example: "<START>"
activeCharacter: 0
chat:
  - name: User
    mes: hi
    is_user: true
profile: local
`)
	req, data, err := LoadRequest(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if req.API != promptbuild.APITextCompletion || !req.Options.MaxContext.IsPreset() || req.Options.PresetName != "Default" {
		t.Fatalf("req = %+v", req)
	}
	if len(req.Characters) != 1 || req.Characters[0].MesExample != "<START>" || *req.ActiveCharacter != 0 {
		t.Fatalf("characters = %+v", req.Characters)
	}
	if len(req.Chat) != 1 || !req.Chat[0].IsUser || req.Profile != "local" {
		t.Fatalf("chat = %+v", req.Chat)
	}
	if !strings.Contains(string(data), `"presetName":"Default"`) {
		t.Fatalf("json = %s", data)
	}
}

func TestParseRequestRejectsBadMaxContext(t *testing.T) {
	if _, err := ParseRequest([]byte(`{"options":{"maxContext":"huge"}}`)); err == nil {
		t.Fatalf("expected error")
	}
}

func TestAPIOrDefault(t *testing.T) {
	req := &Request{}
	if got := req.APIOrDefault(""); got != promptbuild.APIChatCompletion {
		t.Fatalf("got %q", got)
	}
	req.API = promptbuild.APITextCompletion
	if got := req.APIOrDefault(""); got != promptbuild.APITextCompletion {
		t.Fatalf("got %q", got)
	}
	if got := req.APIOrDefault("openai"); got != "openai" {
		t.Fatalf("got %q", got)
	}
}

func TestNewHostWiresStores(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "worlds", "Keep.json"), `{"entries":{"0":{"key":["castle"],"content":"The keep stands.","order":10}}}`)
	writeFile(t, filepath.Join(root, "regex.json"), `[{"scriptName":"shout","findRegex":"/hello/g","replaceString":"HELLO","placement":[1]}]`)

	store, err := persist.NewStore(filepath.Join(root, "chat.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	if _, err := store.GetOrCreateChat("c1", "Mia"); err != nil {
		t.Fatalf("chat: %v", err)
	}
	for _, m := range []promptbuild.ChatMessage{
		{Name: "User", Mes: "we see the castle", IsUser: true},
		{Name: "Mia", Mes: "it is tall"},
	} {
		rec, err := promptbuild.NewChatRecord(m)
		if err != nil {
			t.Fatalf("record: %v", err)
		}
		if _, err := store.AddChatMessage("c1", rec); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	cfg := config.DefaultConfig()
	cfg.PromptBuild.RootDir = root
	cfg.PromptBuild.RegexFile = "regex.json"

	active := 0
	req := &Request{
		Characters:      []promptbuild.Character{{Name: "Mia", World: "Keep"}},
		ActiveCharacter: &active,
		ChatID:          "c1",
		UserName:        "Sam",
	}
	host, err := NewHost(cfg, req, store)
	if err != nil {
		t.Fatalf("new host: %v", err)
	}
	if len(host.Messages) != 2 || host.Messages[0].Mes != "we see the castle" {
		t.Fatalf("messages = %+v", host.Messages)
	}
	if host.UserName() != "Sam" {
		t.Fatalf("user = %q", host.UserName())
	}
	if host.WorldInfo == nil {
		t.Fatalf("world info not wired")
	}
	wi, err := host.WorldInfoPrompt(context.Background(), []string{"it is tall", "we see the castle"}, 4096, true)
	if err != nil {
		t.Fatalf("world info: %v", err)
	}
	if wi.Before != "The keep stands." {
		t.Fatalf("world info = %+v", wi)
	}
	got := host.RegexedString("hello hello", regexscript.PlacementUserInput, regexscript.Options{})
	if got != "HELLO HELLO" {
		t.Fatalf("regex = %q", got)
	}
}

func TestNewHostChatIDNeedsStore(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.PromptBuild.RootDir = t.TempDir()
	if _, err := NewHost(cfg, &Request{ChatID: "c1"}, nil); err == nil {
		t.Fatalf("expected error without a chat store")
	}
}

func TestNewHostInlineEntriesOnly(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.PromptBuild.RootDir = t.TempDir()
	req := &Request{}
	req.WorldInfo.Entries = []worldinfo.Entry{{UID: 0, Constant: true, Content: "always"}}
	host, err := NewHost(cfg, req, nil)
	if err != nil {
		t.Fatalf("new host: %v", err)
	}
	wi, err := host.WorldInfoPrompt(context.Background(), nil, 4096, true)
	if err != nil || wi.Before != "always" {
		t.Fatalf("wi = %+v, err = %v", wi, err)
	}
}
