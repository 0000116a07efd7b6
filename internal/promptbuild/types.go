package promptbuild

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Supported backend families.
const (
	APITextCompletion = "textgenerationwebui"
	APIChatCompletion = "openai"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of an assembled prompt.
type Message struct {
	Role           string `json:"role"`
	Content        string `json:"content"`
	IgnoreInstruct bool   `json:"ignoreInstruct,omitempty"`
}

// Result is the output of Build. Warnings describe degraded paths.
type Result struct {
	Messages []Message `json:"result"`
	Warnings []string  `json:"warnings"`
}

type maxContextKind int

const (
	maxContextDefault maxContextKind = iota
	maxContextActive
	maxContextPreset
	maxContextValue
)

// MaxContext selects where the context window size comes from. The zero value
// uses the host's active size.
type MaxContext struct {
	kind  maxContextKind
	value int
}

func MaxContextActive() MaxContext      { return MaxContext{kind: maxContextActive} }
func MaxContextPreset() MaxContext      { return MaxContext{kind: maxContextPreset} }
func MaxContextValue(n int) MaxContext  { return MaxContext{kind: maxContextValue, value: n} }
func (m MaxContext) Value() (int, bool) { return m.value, m.kind == maxContextValue }
func (m MaxContext) IsPreset() bool     { return m.kind == maxContextPreset }
func (m MaxContext) IsDefault() bool    { return m.kind == maxContextDefault }

// UnmarshalJSON accepts a number, "active" or "preset".
func (m *MaxContext) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*m = MaxContextValue(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("max context must be a number, \"active\" or \"preset\": %s", string(data))
	}
	switch strings.ToLower(s) {
	case "", "null":
		*m = MaxContext{}
	case "active":
		*m = MaxContextActive()
	case "preset":
		*m = MaxContextPreset()
	default:
		return fmt.Errorf("unknown max context mode %q", s)
	}
	return nil
}

func (m MaxContext) MarshalJSON() ([]byte, error) {
	switch m.kind {
	case maxContextActive:
		return json.Marshal("active")
	case maxContextPreset:
		return json.Marshal("preset")
	case maxContextValue:
		return json.Marshal(m.value)
	default:
		return []byte("null"), nil
	}
}

// MessageRange selects chat messages by index. End is inclusive; a nil End
// runs to the last message. {-1, -1} selects nothing.
type MessageRange struct {
	Start int  `json:"start"`
	End   *int `json:"end,omitempty"`
}

// BuildOptions configures one Build call.
type BuildOptions struct {
	TargetCharacterID     *int          `json:"targetCharacterId,omitempty"`
	PresetName            string        `json:"presetName,omitempty"`
	InstructName          string        `json:"instructName,omitempty"`
	ContextName           string        `json:"contextName,omitempty"`
	SyspromptName         string        `json:"syspromptName,omitempty"`
	MaxContext            MaxContext    `json:"maxContext,omitempty"`
	IncludeNames          bool          `json:"includeNames,omitempty"`
	IgnoreCharacterFields bool          `json:"ignoreCharacterFields,omitempty"`
	IgnoreAuthorNote      bool          `json:"ignoreAuthorNote,omitempty"`
	IgnoreWorldInfo       bool          `json:"ignoreWorldInfo,omitempty"`
	MessageIndexesBetween *MessageRange `json:"messageIndexesBetween,omitempty"`
}

// ChatMessage is a stored chat entry as the host keeps it.
type ChatMessage struct {
	Name     string    `json:"name"`
	Mes      string    `json:"mes"`
	IsUser   bool      `json:"is_user"`
	IsSystem bool      `json:"is_system"`
	Extra    ChatExtra `json:"extra"`
}

type ChatExtra struct {
	// ToolInvocations is non-nil when the message carries tool calls, even if empty.
	ToolInvocations []json.RawMessage `json:"tool_invocations"`
	AppendTitle     bool              `json:"append_title,omitempty"`
	Title           string            `json:"title,omitempty"`
	TokenCount      int               `json:"token_count,omitempty"`
	File            *ChatFile         `json:"file,omitempty"`
}

// ChatFile is an attachment whose text is prepended to the message.
type ChatFile struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// CharacterFields are the card fields used in prompts.
type CharacterFields struct {
	Description string `json:"description"`
	Personality string `json:"personality"`
	Persona     string `json:"persona"`
	Scenario    string `json:"scenario"`
	MesExamples string `json:"mesExamples"`
	System      string `json:"system"`
	Jailbreak   string `json:"jailbreak"`
}

// Character is a stored character card.
type Character struct {
	Name                    string       `json:"name"`
	Description             string       `json:"description"`
	Personality             string       `json:"personality"`
	Scenario                string       `json:"scenario"`
	MesExample              string       `json:"mes_example"`
	SystemPrompt            string       `json:"system_prompt"`
	PostHistoryInstructions string       `json:"post_history_instructions"`
	DepthPrompt             *DepthPrompt `json:"depth_prompt,omitempty"`
	World                   string       `json:"world,omitempty"`
	ExtraBooks              []string     `json:"extra_books,omitempty"`
}

// DepthPrompt is a character note injected at a depth from the end of chat.
type DepthPrompt struct {
	Prompt string `json:"prompt"`
	Depth  *int   `json:"depth,omitempty"`
	Role   string `json:"role,omitempty"`
}

// GroupDepthPrompt is a member's depth prompt inside a group chat.
type GroupDepthPrompt struct {
	Depth int    `json:"depth"`
	Text  string `json:"text"`
	Role  string `json:"role"`
}

// WorldInfoExample is example dialogue contributed by world info.
type WorldInfoExample struct {
	Content  string         `json:"content"`
	Position AnchorPosition `json:"position"`
}

// WorldInfoDepth groups entries injected at one depth with one role.
type WorldInfoDepth struct {
	Depth   int        `json:"depth"`
	Role    PromptRole `json:"role"`
	Entries []string   `json:"entries"`
}

// WorldInfoResult is what a world info scan contributes to a prompt.
type WorldInfoResult struct {
	String   string             `json:"worldInfoString"`
	Before   string             `json:"worldInfoBefore"`
	After    string             `json:"worldInfoAfter"`
	Examples []WorldInfoExample `json:"worldInfoExamples"`
	Depth    []WorldInfoDepth   `json:"worldInfoDepth"`
	ANBefore []string           `json:"anBefore"`
	ANAfter  []string           `json:"anAfter"`
}

// ExtensionPrompt is a fragment registered by an extension. Filter, when set,
// must report true for the prompt to be injected.
type ExtensionPrompt struct {
	Key      string              `json:"key"`
	Value    string              `json:"value"`
	Position ExtensionPromptType `json:"position"`
	Depth    int                 `json:"depth"`
	Scan     bool                `json:"scan,omitempty"`
	Role     PromptRole          `json:"role"`
	Filter   PromptFilter        `json:"-"`
}

// AuthorNote is the chat's author's note metadata.
type AuthorNote struct {
	Prompt   string              `json:"prompt"`
	Interval int                 `json:"interval"`
	Position ExtensionPromptType `json:"position"`
	Depth    int                 `json:"depth"`
	Role     PromptRole          `json:"role"`
}

// PowerUserSettings are the host-wide user preferences the assembler reads.
type PowerUserSettings struct {
	PreferCharacterPrompt      bool            `json:"prefer_character_prompt"`
	PersonaDescription         string          `json:"persona_description"`
	PersonaDescriptionPosition PersonaPosition `json:"persona_description_position"`
	ExampleSeparator           string          `json:"example_separator,omitempty"`
}
