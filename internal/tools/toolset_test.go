package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kayz/tavernkit/internal/config"
	"github.com/kayz/tavernkit/internal/persist"
	"github.com/mark3labs/mcp-go/mcp"
)

func newTestToolset(t *testing.T) (*Toolset, string) {
	t.Helper()
	root := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.PromptBuild.RootDir = root
	store, err := persist.NewStore(filepath.Join(root, "tk.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewToolset(cfg, store), root
}

func callTool(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatalf("empty tool result")
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content = %T", res.Content[0])
	}
	return text.Text
}

func TestBuildPromptTool(t *testing.T) {
	ts, _ := newTestToolset(t)
	request := `{
		"characters": [{"name": "Mia", "description": "A quiet archivist."}],
		"activeCharacter": 0,
		"chat": [{"name": "User", "mes": "Hello", "is_user": true}]
	}`
	res, err := ts.BuildPrompt(context.Background(), callTool(map[string]any{"request": request, "api": "openai"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.IsError {
		t.Fatalf("tool error: %s", resultText(t, res))
	}
	var out struct {
		Result []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"result"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Result) == 0 || out.Result[len(out.Result)-1].Content != "Hello" {
		t.Fatalf("result = %+v", out.Result)
	}
}

func TestBuildPromptToolErrors(t *testing.T) {
	ts, _ := newTestToolset(t)
	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing request", map[string]any{}},
		{"bad json", map[string]any{"request": "{"}},
		{"bad api", map[string]any{"request": "{}", "api": "kobold"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ts.BuildPrompt(context.Background(), callTool(tt.args))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !res.IsError {
				t.Fatalf("expected tool error")
			}
		})
	}
}

func TestCountTokensTool(t *testing.T) {
	ts, _ := newTestToolset(t)
	res, _ := ts.CountTokens(context.Background(), callTool(map[string]any{"text": "abcdefgh"}))
	if got := resultText(t, res); got != "2" {
		t.Fatalf("count = %s", got)
	}
	res, _ = ts.CountTokens(context.Background(), callTool(nil))
	if !res.IsError {
		t.Fatalf("expected error without text")
	}
}

func TestListPresetsAndWorlds(t *testing.T) {
	ts, root := newTestToolset(t)
	write := func(rel, content string) {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	write("presets/context/Plain.json", `{"name":"Plain","story_string":"{{description}}"}`)
	write("worlds/Keep.json", `{"entries":{"0":{"key":["a"],"content":"x"},"1":{"key":["b"],"content":"y"}}}`)

	res, _ := ts.ListPresets(context.Background(), callTool(map[string]any{"kind": "context"}))
	if got := resultText(t, res); !strings.Contains(got, `"Plain"`) {
		t.Fatalf("presets = %s", got)
	}
	res, _ = ts.ListPresets(context.Background(), callTool(map[string]any{"kind": "nope"}))
	if !res.IsError {
		t.Fatalf("expected unknown kind error")
	}

	res, _ = ts.ListWorlds(context.Background(), callTool(nil))
	if got := resultText(t, res); !strings.Contains(got, `"name": "Keep"`) || !strings.Contains(got, `"entries": 2`) {
		t.Fatalf("worlds = %s", got)
	}
}

func TestGetSettingsTool(t *testing.T) {
	ts, _ := newTestToolset(t)
	ts.store.Set("ext", map[string]any{"version": "1.0.0"})
	if err := ts.store.Persist(); err != nil {
		t.Fatalf("persist: %v", err)
	}

	res, _ := ts.GetSettings(context.Background(), callTool(nil))
	if got := resultText(t, res); !strings.Contains(got, `"ext"`) {
		t.Fatalf("keys = %s", got)
	}
	res, _ = ts.GetSettings(context.Background(), callTool(map[string]any{"key": "ext"}))
	if got := resultText(t, res); !strings.Contains(got, `"version": "1.0.0"`) {
		t.Fatalf("settings = %s", got)
	}
	res, _ = ts.GetSettings(context.Background(), callTool(map[string]any{"key": "missing"}))
	if !res.IsError {
		t.Fatalf("expected missing key error")
	}
}

func TestAuditPruneTool(t *testing.T) {
	ts, root := newTestToolset(t)
	dir := filepath.Join(root, "audit")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	old := filepath.Join(dir, "promptbuild-2020-01-01.jsonl")
	fresh := filepath.Join(dir, "promptbuild-fresh.jsonl")
	other := filepath.Join(dir, "notes.txt")
	for _, p := range []string{old, fresh, other} {
		if err := os.WriteFile(p, []byte("{}\n"), 0644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	past := time.Now().AddDate(0, 0, -90)
	for _, p := range []string{old, other} {
		if err := os.Chtimes(p, past, past); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	res, _ := ts.AuditListOld(context.Background(), callTool(nil))
	if got := resultText(t, res); !strings.Contains(got, "promptbuild-2020-01-01.jsonl") || strings.Contains(got, "notes.txt") {
		t.Fatalf("list = %s", got)
	}

	res, _ = ts.AuditPrune(context.Background(), callTool(map[string]any{"dry_run": true}))
	if got := resultText(t, res); !strings.HasPrefix(got, "[DRY RUN]") {
		t.Fatalf("dry run = %s", got)
	}
	if _, err := os.Stat(old); err != nil {
		t.Fatalf("dry run removed file: %v", err)
	}

	if _, err := ts.AuditPrune(context.Background(), callTool(map[string]any{"days": 30.0})); err != nil {
		t.Fatalf("prune: %v", err)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("old audit log kept: %v", err)
	}
	for _, p := range []string{fresh, other} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("%s removed: %v", p, err)
		}
	}
}
