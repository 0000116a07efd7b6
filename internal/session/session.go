// Package session turns a request file plus the configured preset, world
// info and chat stores into a prompt assembler host.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kayz/tavernkit/internal/config"
	"github.com/kayz/tavernkit/internal/logger"
	"github.com/kayz/tavernkit/internal/promptbuild"
	"github.com/kayz/tavernkit/internal/regexscript"
	"github.com/kayz/tavernkit/internal/worldinfo"
	"gopkg.in/yaml.v3"
)

// WorldInfo names the lorebooks attached to the session.
type WorldInfo struct {
	Include []worldinfo.Source `json:"include,omitempty"`
	Global  []string           `json:"global,omitempty"`
	Chat    string             `json:"chat,omitempty"`
	Persona string             `json:"persona,omitempty"`
	// Entries are inline entries scanned along with the attached books.
	Entries []worldinfo.Entry `json:"entries,omitempty"`
}

// Request is everything one prompt build needs besides configuration.
type Request struct {
	API     string                   `json:"api"`
	Options promptbuild.BuildOptions `json:"options"`

	UserName        string                         `json:"userName,omitempty"`
	Characters      []promptbuild.Character        `json:"characters"`
	ActiveCharacter *int                           `json:"activeCharacter,omitempty"`
	Group           string                         `json:"group,omitempty"`
	GroupPrompts    []promptbuild.GroupDepthPrompt `json:"groupPrompts,omitempty"`
	PowerUser       promptbuild.PowerUserSettings  `json:"powerUser"`

	// Chat is used as is. When empty and ChatID is set, history is read from
	// the chat store, at most HistoryLimit messages (0 = all).
	Chat         []promptbuild.ChatMessage     `json:"chat,omitempty"`
	ChatID       string                        `json:"chatId,omitempty"`
	HistoryLimit int                           `json:"historyLimit,omitempty"`
	AuthorNote   promptbuild.AuthorNote        `json:"authorNote"`
	Extensions   []promptbuild.ExtensionPrompt `json:"extensionPrompts,omitempty"`
	WorldInfo    WorldInfo                     `json:"worldInfo"`

	// Generation settings, used by the generate command.
	Profile   string `json:"profile,omitempty"`
	MaxTokens int    `json:"maxTokens,omitempty"`
	Stream    bool   `json:"stream,omitempty"`
}

// LoadRequest reads a request from a JSON or YAML file and returns it with
// its JSON encoding.
func LoadRequest(path string) (*Request, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read request: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		// YAML goes through JSON so the json tags and custom decoders apply.
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, nil, fmt.Errorf("parse request: %w", err)
		}
		if data, err = json.Marshal(doc); err != nil {
			return nil, nil, fmt.Errorf("parse request: %w", err)
		}
	}
	req, err := ParseRequest(data)
	if err != nil {
		return nil, nil, err
	}
	return req, data, nil
}

// ParseRequest decodes a JSON request.
func ParseRequest(data []byte) (*Request, error) {
	req := &Request{}
	if err := json.Unmarshal(data, req); err != nil {
		return nil, fmt.Errorf("parse request: %w", err)
	}
	return req, nil
}

// Resolve makes a config path absolute against root.
func Resolve(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	if root == "" {
		root = "."
	}
	return filepath.Join(root, p)
}

// NewHost builds a StaticHost for req. history may be nil when req carries
// its own chat.
func NewHost(cfg *config.Config, req *Request, history promptbuild.HistoryStore) (*promptbuild.StaticHost, error) {
	pb := cfg.PromptBuild
	presets, err := promptbuild.LoadPresetDir(Resolve(pb.RootDir, pb.PresetsDir))
	if err != nil {
		return nil, err
	}

	hostCfg := cfg.Host
	if req.UserName != "" {
		hostCfg.UserName = req.UserName
	}
	host := promptbuild.NewStaticHost(hostCfg, presets)
	host.Characters = req.Characters
	host.ActiveCharacter = req.ActiveCharacter
	host.Group = req.Group
	host.GroupPrompts = req.GroupPrompts
	host.PowerUsers = req.PowerUser
	host.Note = req.AuthorNote
	host.Extensions = req.Extensions
	host.FilesDir = Resolve(pb.RootDir, pb.FilesDir)

	host.Messages = req.Chat
	if len(host.Messages) == 0 && req.ChatID != "" {
		if history == nil {
			return nil, fmt.Errorf("chat %s requested but no chat store is open", req.ChatID)
		}
		msgs, err := promptbuild.LoadChatHistory(history, req.ChatID, req.HistoryLimit)
		if err != nil {
			return nil, err
		}
		host.Messages = msgs
	}

	if pb.RegexFile != "" {
		scripts, err := regexscript.LoadFile(Resolve(pb.RootDir, pb.RegexFile))
		if err != nil {
			return nil, err
		}
		host.Regex = regexscript.NewEngine(scripts...)
	}

	scanner, err := newScanner(cfg, req, host)
	if err != nil {
		return nil, err
	}
	if scanner != nil {
		host.WorldInfo = scanner
	}
	return host, nil
}

func newScanner(cfg *config.Config, req *Request, host *promptbuild.StaticHost) (*worldinfo.Scanner, error) {
	wi := req.WorldInfo
	src := worldinfo.Sources{Global: wi.Global, Chat: wi.Chat, Persona: wi.Persona}
	if ch, ok := host.Character(req.Options.TargetCharacterID); ok {
		src.CharacterBook = ch.World
		src.CharacterExtra = ch.ExtraBooks
	}
	attached := src.CharacterBook != "" || len(src.CharacterExtra) > 0 || len(src.Global) > 0 || src.Chat != "" || src.Persona != ""
	if !attached && len(wi.Entries) == 0 {
		return nil, nil
	}

	entries := append([]worldinfo.Entry(nil), wi.Entries...)
	if attached {
		lib, err := worldinfo.LoadDir(Resolve(cfg.PromptBuild.RootDir, cfg.PromptBuild.WorldInfoDir))
		if err != nil {
			return nil, err
		}
		include := wi.Include
		if len(include) == 0 {
			include = []worldinfo.Source{worldinfo.SourceAll}
		}
		byWorld := worldinfo.ActiveEntries(include, src, lib)
		entries = append(entries, worldinfo.Flatten(byWorld)...)
		logger.Debug("World info: %d worlds, %d entries", len(byWorld), len(entries))
	}
	return worldinfo.NewScanner(entries, cfg.Host.WorldInfoDepth, cfg.Host.WorldInfoBudget), nil
}

// APIOrDefault picks override, then the request's API, then chat completion.
func (r *Request) APIOrDefault(override string) string {
	switch {
	case override != "":
		return override
	case r.API != "":
		return r.API
	default:
		return promptbuild.APIChatCompletion
	}
}
