package promptbuild

import (
	"context"

	"github.com/kayz/tavernkit/internal/regexscript"
)

// CharacterSource resolves character cards. A nil id means the active character.
type CharacterSource interface {
	CharacterCardFields(ctx context.Context, characterID *int) (CharacterFields, error)
	Character(characterID *int) (*Character, bool)
	ActiveCharacterID() *int
	// SelectedGroup reports the open group chat, if any.
	SelectedGroup() (string, bool)
	GroupDepthPrompts(group string, characterID *int) []GroupDepthPrompt
}

// ChatSource exposes the open chat and its metadata.
type ChatSource interface {
	Chat() []ChatMessage
	AuthorNote() AuthorNote
	// ExtensionPrompts returns registered extension prompts in registration order.
	ExtensionPrompts() []ExtensionPrompt
}

type WorldInfoSource interface {
	// WorldInfoPrompt scans chat (newest first) and returns the activated entries.
	WorldInfoPrompt(ctx context.Context, chat []string, maxContext int, dryRun bool) (WorldInfoResult, error)
}

// PresetSource looks presets up by name. *PresetLibrary implements it.
type PresetSource interface {
	TextCompletionPreset(name string) (*TextCompletionPreset, bool)
	ChatCompletionPreset(name string) (*ChatCompletionPreset, bool)
	InstructPreset(name string) (*InstructPreset, bool)
	ContextPreset(name string) (*ContextPreset, bool)
	SyspromptPreset(name string) (*SyspromptPreset, bool)
}

// TextHooks are the text transforms the host applies while assembling.
type TextHooks interface {
	RegexedString(text string, placement regexscript.Placement, opts regexscript.Options) string
	AppendFileContent(ctx context.Context, msg ChatMessage, text string) (string, error)
	// SubstituteParams expands macros; extra values override the host's own.
	SubstituteParams(text string, extra map[string]string) string
	RenderStoryString(params StoryStringParams, instruct *InstructPreset, template string) (string, error)
}

// Environment is host-wide state.
type Environment interface {
	MaxContextSize() int
	ToolCallingSupported() bool
	WorldInfoIncludeNames() bool
	UserName() string
	PowerUser() PowerUserSettings
	// PrepareChatCompletion builds a chat-completion prompt with the host's
	// current preset.
	PrepareChatCompletion(ctx context.Context, req ChatCompletionRequest) ([]Message, error)
}

// Host is everything Build needs from its surroundings.
type Host interface {
	CharacterSource
	ChatSource
	WorldInfoSource
	PresetSource
	TextHooks
	Environment
}

// ChatCompletionRequest is handed to the host when the named preset cannot be used.
type ChatCompletionRequest struct {
	CharacterName      string
	CharDescription    string
	CharPersonality    string
	Scenario           string
	WorldInfoBefore    string
	WorldInfoAfter     string
	SystemOverride     string
	JailbreakOverride  string
	PersonaDescription string
	ExtensionPrompts   []ExtensionPrompt
	Messages           []Message
	MessageExamples    []string
}
