package promptbuild

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/kayz/tavernkit/internal/logger"
)

// ErrPresetNotFound is returned by lookups that require a preset to exist.
var ErrPresetNotFound = errors.New("preset not found")

// PresetKind names a preset family. Each kind is a subdirectory of the presets dir.
type PresetKind string

const (
	KindTextCompletion PresetKind = "textgenerationwebui"
	KindChatCompletion PresetKind = "openai"
	KindInstruct       PresetKind = "instruct"
	KindContext        PresetKind = "context"
	KindSysprompt      PresetKind = "sysprompt"
)

var presetKinds = []PresetKind{KindTextCompletion, KindChatCompletion, KindInstruct, KindContext, KindSysprompt}

// PresetKinds lists every preset family in directory load order.
func PresetKinds() []PresetKind {
	return append([]PresetKind(nil), presetKinds...)
}

type TextCompletionPreset struct {
	Name        string   `json:"name" yaml:"name"`
	MaxLength   *int     `json:"max_length,omitempty" yaml:"max_length,omitempty"`
	GenAmount   int      `json:"genamt,omitempty" yaml:"genamt,omitempty"`
	Temperature float64  `json:"temp,omitempty" yaml:"temp,omitempty"`
	TopP        float64  `json:"top_p,omitempty" yaml:"top_p,omitempty"`
	StopStrings []string `json:"stopping_strings,omitempty" yaml:"stopping_strings,omitempty"`
}

// PromptConfig is one prompt defined by a chat-completion preset.
type PromptConfig struct {
	Name              string `json:"name,omitempty" yaml:"name,omitempty"`
	Identifier        string `json:"identifier" yaml:"identifier"`
	Role              string `json:"role,omitempty" yaml:"role,omitempty"`
	Content           string `json:"content" yaml:"content"`
	SystemPrompt      bool   `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	InjectionPosition int    `json:"injection_position,omitempty" yaml:"injection_position,omitempty"`
	InjectionDepth    int    `json:"injection_depth,omitempty" yaml:"injection_depth,omitempty"`
	ForbidOverrides   bool   `json:"forbid_overrides,omitempty" yaml:"forbid_overrides,omitempty"`
	Marker            bool   `json:"marker,omitempty" yaml:"marker,omitempty"`
}

type PromptOrderEntry struct {
	Identifier string `json:"identifier" yaml:"identifier"`
	Enabled    bool   `json:"enabled" yaml:"enabled"`
}

// PromptOrder is the slot order a preset uses for one character.
type PromptOrder struct {
	CharacterID int                `json:"character_id" yaml:"character_id"`
	Order       []PromptOrderEntry `json:"order" yaml:"order"`
}

type ChatCompletionPreset struct {
	Name                 string         `json:"name" yaml:"name"`
	ChatCompletionSource string         `json:"chat_completion_source,omitempty" yaml:"chat_completion_source,omitempty"`
	OpenAIModel          string         `json:"openai_model,omitempty" yaml:"openai_model,omitempty"`
	OpenAIMaxContext     *int           `json:"openai_max_context,omitempty" yaml:"openai_max_context,omitempty"`
	OpenAIMaxTokens      int            `json:"openai_max_tokens,omitempty" yaml:"openai_max_tokens,omitempty"`
	Temperature          float64        `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	TopP                 float64        `json:"top_p,omitempty" yaml:"top_p,omitempty"`
	StreamOpenAI         bool           `json:"stream_openai,omitempty" yaml:"stream_openai,omitempty"`
	ImpersonationPrompt  string         `json:"impersonation_prompt,omitempty" yaml:"impersonation_prompt,omitempty"`
	NewChatPrompt        string         `json:"new_chat_prompt,omitempty" yaml:"new_chat_prompt,omitempty"`
	NewGroupChatPrompt   string         `json:"new_group_chat_prompt,omitempty" yaml:"new_group_chat_prompt,omitempty"`
	NewExampleChatPrompt string         `json:"new_example_chat_prompt,omitempty" yaml:"new_example_chat_prompt,omitempty"`
	WIFormat             string         `json:"wi_format,omitempty" yaml:"wi_format,omitempty"`
	ScenarioFormat       string         `json:"scenario_format,omitempty" yaml:"scenario_format,omitempty"`
	PersonalityFormat    string         `json:"personality_format,omitempty" yaml:"personality_format,omitempty"`
	GroupNudgePrompt     string         `json:"group_nudge_prompt,omitempty" yaml:"group_nudge_prompt,omitempty"`
	Prompts              []PromptConfig `json:"prompts,omitempty" yaml:"prompts,omitempty"`
	PromptOrder          []PromptOrder  `json:"prompt_order,omitempty" yaml:"prompt_order,omitempty"`
}

// Prompt returns the preset's prompt with the given identifier.
func (p *ChatCompletionPreset) Prompt(identifier string) (PromptConfig, bool) {
	for _, pc := range p.Prompts {
		if pc.Identifier == identifier {
			return pc, true
		}
	}
	return PromptConfig{}, false
}

// PromptOrderFor picks the order declared for characterID, falling back to the
// first declared order.
func (p *ChatCompletionPreset) PromptOrderFor(characterID *int) (PromptOrder, bool) {
	if characterID != nil {
		for _, po := range p.PromptOrder {
			if po.CharacterID == *characterID {
				return po, true
			}
		}
	}
	if len(p.PromptOrder) > 0 {
		return p.PromptOrder[0], true
	}
	return PromptOrder{}, false
}

type InstructPreset struct {
	Name                 string `json:"name" yaml:"name"`
	Enabled              bool   `json:"enabled" yaml:"enabled"`
	InputSequence        string `json:"input_sequence,omitempty" yaml:"input_sequence,omitempty"`
	InputSuffix          string `json:"input_suffix,omitempty" yaml:"input_suffix,omitempty"`
	OutputSequence       string `json:"output_sequence,omitempty" yaml:"output_sequence,omitempty"`
	OutputSuffix         string `json:"output_suffix,omitempty" yaml:"output_suffix,omitempty"`
	SystemSequence       string `json:"system_sequence,omitempty" yaml:"system_sequence,omitempty"`
	SystemSuffix         string `json:"system_suffix,omitempty" yaml:"system_suffix,omitempty"`
	SystemSequencePrefix string `json:"system_sequence_prefix,omitempty" yaml:"system_sequence_prefix,omitempty"`
	SystemSequenceSuffix string `json:"system_sequence_suffix,omitempty" yaml:"system_sequence_suffix,omitempty"`
	StopSequence         string `json:"stop_sequence,omitempty" yaml:"stop_sequence,omitempty"`
	Wrap                 bool   `json:"wrap" yaml:"wrap"`
	Macro                bool   `json:"macro" yaml:"macro"`
	NamesBehavior        string `json:"names_behavior,omitempty" yaml:"names_behavior,omitempty"`
	SkipExamples         bool   `json:"skip_examples,omitempty" yaml:"skip_examples,omitempty"`
}

type ContextPreset struct {
	Name             string `json:"name" yaml:"name"`
	StoryString      string `json:"story_string" yaml:"story_string"`
	ExampleSeparator string `json:"example_separator,omitempty" yaml:"example_separator,omitempty"`
	ChatStart        string `json:"chat_start,omitempty" yaml:"chat_start,omitempty"`
}

type SyspromptPreset struct {
	Name        string `json:"name" yaml:"name"`
	Content     string `json:"content" yaml:"content"`
	PostHistory string `json:"post_history,omitempty" yaml:"post_history,omitempty"`
}

// PresetLibrary holds presets by kind and name.
type PresetLibrary struct {
	mu         sync.RWMutex
	text       map[string]*TextCompletionPreset
	chat       map[string]*ChatCompletionPreset
	instruct   map[string]*InstructPreset
	contexts   map[string]*ContextPreset
	sysprompts map[string]*SyspromptPreset
}

func NewPresetLibrary() *PresetLibrary {
	return &PresetLibrary{
		text:       map[string]*TextCompletionPreset{},
		chat:       map[string]*ChatCompletionPreset{},
		instruct:   map[string]*InstructPreset{},
		contexts:   map[string]*ContextPreset{},
		sysprompts: map[string]*SyspromptPreset{},
	}
}

// LoadPresetDir reads <dir>/<kind>/*.{json,yaml,yml}. Missing kind directories
// are skipped. A preset without a name takes its file name.
func LoadPresetDir(dir string) (*PresetLibrary, error) {
	lib := NewPresetLibrary()
	for _, kind := range presetKinds {
		kindDir := filepath.Join(dir, string(kind))
		entries, err := os.ReadDir(kindDir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("list presets %s: %w", kindDir, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !isPresetFile(entry.Name()) {
				continue
			}
			path := filepath.Join(kindDir, entry.Name())
			if err := lib.loadFile(kind, path); err != nil {
				return nil, err
			}
		}
	}
	logger.Debug("Loaded presets from %s: %d text, %d chat, %d instruct, %d context, %d sysprompt",
		dir, len(lib.text), len(lib.chat), len(lib.instruct), len(lib.contexts), len(lib.sysprompts))
	return lib, nil
}

func isPresetFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	default:
		return false
	}
}

func decodePreset(path string, data []byte, out any) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, out)
	default:
		return json.Unmarshal(data, out)
	}
}

func (l *PresetLibrary) loadFile(kind PresetKind, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read preset %s: %w", path, err)
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	switch kind {
	case KindTextCompletion:
		var p TextCompletionPreset
		if err := decodePreset(path, data, &p); err != nil {
			return fmt.Errorf("parse preset %s: %w", path, err)
		}
		if p.Name == "" {
			p.Name = stem
		}
		return l.AddTextCompletion(&p)
	case KindChatCompletion:
		var p ChatCompletionPreset
		if err := decodePreset(path, data, &p); err != nil {
			return fmt.Errorf("parse preset %s: %w", path, err)
		}
		if p.Name == "" {
			p.Name = stem
		}
		if err := validateChatCompletionPreset(&p); err != nil {
			return fmt.Errorf("invalid preset %s: %w", path, err)
		}
		return l.AddChatCompletion(&p)
	case KindInstruct:
		var p InstructPreset
		if err := decodePreset(path, data, &p); err != nil {
			return fmt.Errorf("parse preset %s: %w", path, err)
		}
		if p.Name == "" {
			p.Name = stem
		}
		return l.AddInstruct(&p)
	case KindContext:
		var p ContextPreset
		if err := decodePreset(path, data, &p); err != nil {
			return fmt.Errorf("parse preset %s: %w", path, err)
		}
		if p.Name == "" {
			p.Name = stem
		}
		return l.AddContext(&p)
	case KindSysprompt:
		var p SyspromptPreset
		if err := decodePreset(path, data, &p); err != nil {
			return fmt.Errorf("parse preset %s: %w", path, err)
		}
		if p.Name == "" {
			p.Name = stem
		}
		return l.AddSysprompt(&p)
	default:
		return fmt.Errorf("unsupported preset kind: %s", kind)
	}
}

func validateChatCompletionPreset(p *ChatCompletionPreset) error {
	seen := make(map[string]struct{}, len(p.Prompts))
	for _, pc := range p.Prompts {
		id := strings.TrimSpace(pc.Identifier)
		if id == "" {
			return fmt.Errorf("prompt identifier is required")
		}
		if _, exists := seen[id]; exists {
			return fmt.Errorf("duplicate prompt identifier: %s", id)
		}
		seen[id] = struct{}{}
		if pc.Role != "" && normalizeRole(pc.Role, "") == "" {
			return fmt.Errorf("prompt %s has unsupported role: %s", id, pc.Role)
		}
	}
	for i, po := range p.PromptOrder {
		for _, entry := range po.Order {
			if strings.TrimSpace(entry.Identifier) == "" {
				return fmt.Errorf("prompt_order[%d] has an entry without identifier", i)
			}
		}
	}
	return nil
}

func requireName(kind PresetKind, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%s preset name is required", kind)
	}
	return nil
}

func (l *PresetLibrary) AddTextCompletion(p *TextCompletionPreset) error {
	if err := requireName(KindTextCompletion, p.Name); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.text[p.Name] = p
	return nil
}

func (l *PresetLibrary) AddChatCompletion(p *ChatCompletionPreset) error {
	if err := requireName(KindChatCompletion, p.Name); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.chat[p.Name] = p
	return nil
}

func (l *PresetLibrary) AddInstruct(p *InstructPreset) error {
	if err := requireName(KindInstruct, p.Name); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.instruct[p.Name] = p
	return nil
}

func (l *PresetLibrary) AddContext(p *ContextPreset) error {
	if err := requireName(KindContext, p.Name); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.contexts[p.Name] = p
	return nil
}

func (l *PresetLibrary) AddSysprompt(p *SyspromptPreset) error {
	if err := requireName(KindSysprompt, p.Name); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sysprompts[p.Name] = p
	return nil
}

func (l *PresetLibrary) TextCompletionPreset(name string) (*TextCompletionPreset, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.text[name]
	return p, ok
}

func (l *PresetLibrary) ChatCompletionPreset(name string) (*ChatCompletionPreset, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.chat[name]
	return p, ok
}

func (l *PresetLibrary) InstructPreset(name string) (*InstructPreset, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.instruct[name]
	return p, ok
}

func (l *PresetLibrary) ContextPreset(name string) (*ContextPreset, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.contexts[name]
	return p, ok
}

func (l *PresetLibrary) SyspromptPreset(name string) (*SyspromptPreset, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.sysprompts[name]
	return p, ok
}

// Names lists the preset names of one kind, sorted.
func (l *PresetLibrary) Names(kind PresetKind) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var names []string
	switch kind {
	case KindTextCompletion:
		for n := range l.text {
			names = append(names, n)
		}
	case KindChatCompletion:
		for n := range l.chat {
			names = append(names, n)
		}
	case KindInstruct:
		for n := range l.instruct {
			names = append(names, n)
		}
	case KindContext:
		for n := range l.contexts {
			names = append(names, n)
		}
	case KindSysprompt:
		for n := range l.sysprompts {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}
