// Package tools exposes prompt assembly and its stores as MCP tools.
package tools

import (
	"context"
	"fmt"

	"github.com/kayz/tavernkit/internal/config"
	"github.com/kayz/tavernkit/internal/logger"
	"github.com/kayz/tavernkit/internal/persist"
	"github.com/kayz/tavernkit/internal/promptbuild"
	"github.com/kayz/tavernkit/internal/session"
	"github.com/kayz/tavernkit/internal/tokenizer"
	"github.com/kayz/tavernkit/internal/worldinfo"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Toolset serves tool calls against one config and one SQLite store.
type Toolset struct {
	cfg   *config.Config
	store *persist.Store
}

func NewToolset(cfg *config.Config, store *persist.Store) *Toolset {
	return &Toolset{cfg: cfg, store: store}
}

// Register adds every tool to s.
func (t *Toolset) Register(s *server.MCPServer) {
	s.AddTool(mcp.NewTool("build_prompt",
		mcp.WithDescription("Assemble a prompt from a JSON build request and return the messages and warnings"),
		mcp.WithString("request", mcp.Required(), mcp.Description("Build request as JSON")),
		mcp.WithString("api", mcp.Description("textgenerationwebui or openai; overrides the request")),
	), t.BuildPrompt)

	s.AddTool(mcp.NewTool("count_tokens",
		mcp.WithDescription("Estimate the token count of a text"),
		mcp.WithString("text", mcp.Required(), mcp.Description("Text to count")),
	), t.CountTokens)

	s.AddTool(mcp.NewTool("list_presets",
		mcp.WithDescription("List installed presets, optionally of one kind"),
		mcp.WithString("kind", mcp.Description("textgenerationwebui, openai, instruct, context or sysprompt")),
	), t.ListPresets)

	s.AddTool(mcp.NewTool("list_worlds",
		mcp.WithDescription("List installed world info books"),
	), t.ListWorlds)

	s.AddTool(mcp.NewTool("get_settings",
		mcp.WithDescription("Read the stored settings of an extension, or list the stored keys when no key is given"),
		mcp.WithString("key", mcp.Description("Extension settings key")),
	), t.GetSettings)

	s.AddTool(mcp.NewTool("list_chats",
		mcp.WithDescription("List stored chats, most recent first"),
	), t.ListChats)

	s.AddTool(mcp.NewTool("audit_list_old",
		mcp.WithDescription("List prompt audit logs not modified for a number of days"),
		mcp.WithNumber("days", mcp.Description("Minimum age in days (default: audit retention)")),
	), t.AuditListOld)

	s.AddTool(mcp.NewTool("audit_prune",
		mcp.WithDescription("Delete prompt audit logs older than a number of days"),
		mcp.WithNumber("days", mcp.Description("Minimum age in days (default: audit retention)")),
		mcp.WithBoolean("dry_run", mcp.Description("Only report what would be deleted")),
	), t.AuditPrune)
}

// BuildPrompt runs the prompt assembler on a request passed as JSON
func (t *Toolset) BuildPrompt(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw := stringArg(req, "request")
	if raw == "" {
		return mcp.NewToolResultError("request is required"), nil
	}
	buildReq, err := session.ParseRequest([]byte(raw))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var history promptbuild.HistoryStore
	if t.store != nil {
		history = t.store
	}
	host, err := session.NewHost(t.cfg, buildReq, history)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	api := buildReq.APIOrDefault(stringArg(req, "api"))
	res, err := promptbuild.NewBuilder(t.cfg.PromptBuild, host).Build(ctx, api, buildReq.Options)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("build failed: %v", err)), nil
	}
	logger.Debug("[MCP] build_prompt: %d messages, %d warnings", len(res.Messages), len(res.Warnings))
	return jsonResult(res)
}

// CountTokens estimates tokens with the same counter the assembler budgets with
func (t *Toolset) CountTokens(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, ok := req.Params.Arguments["text"].(string)
	if !ok {
		return mcp.NewToolResultError("text is required"), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%d", tokenizer.Count(text))), nil
}

// ListPresets lists preset names by kind
func (t *Toolset) ListPresets(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pb := t.cfg.PromptBuild
	lib, err := promptbuild.LoadPresetDir(session.Resolve(pb.RootDir, pb.PresetsDir))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	kinds := promptbuild.PresetKinds()
	if k := stringArg(req, "kind"); k != "" {
		found := false
		for _, kind := range kinds {
			if string(kind) == k {
				found = true
			}
		}
		if !found {
			return mcp.NewToolResultError(fmt.Sprintf("unknown preset kind: %s", k)), nil
		}
		kinds = []promptbuild.PresetKind{promptbuild.PresetKind(k)}
	}

	out := make(map[string][]string, len(kinds))
	for _, kind := range kinds {
		names := lib.Names(kind)
		if names == nil {
			names = []string{}
		}
		out[string(kind)] = names
	}
	return jsonResult(out)
}

// ListWorlds lists the world info books found in the world info dir
func (t *Toolset) ListWorlds(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pb := t.cfg.PromptBuild
	lib, err := worldinfo.LoadDir(session.Resolve(pb.RootDir, pb.WorldInfoDir))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	type world struct {
		Name    string `json:"name"`
		Entries int    `json:"entries"`
	}
	out := []world{}
	for _, name := range lib.Names() {
		b, _ := lib.Book(name)
		out = append(out, world{Name: name, Entries: len(b.Entries)})
	}
	return jsonResult(out)
}

// GetSettings returns one extension's stored settings blob
func (t *Toolset) GetSettings(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if t.store == nil {
		return mcp.NewToolResultError("no settings store is open"), nil
	}
	key := stringArg(req, "key")
	if key == "" {
		keys, err := t.store.SettingsKeys()
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if keys == nil {
			keys = []string{}
		}
		return jsonResult(keys)
	}
	blob, ok := t.store.Get(key)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("no settings stored for %s", key)), nil
	}
	return jsonResult(blob)
}

// ListChats lists stored chats
func (t *Toolset) ListChats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if t.store == nil {
		return mcp.NewToolResultError("no chat store is open"), nil
	}
	chats, err := t.store.ListChats()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	type chat struct {
		ID        string `json:"id"`
		Character string `json:"character"`
		UpdatedAt string `json:"updated_at"`
	}
	out := make([]chat, 0, len(chats))
	for _, c := range chats {
		out = append(out, chat{ID: c.ID, Character: c.CharacterName, UpdatedAt: c.UpdatedAt.Format("2006-01-02 15:04:05")})
	}
	return jsonResult(out)
}
