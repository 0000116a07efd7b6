package promptbuild

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kayz/tavernkit/internal/config"
	"github.com/kayz/tavernkit/internal/regexscript"
)

// Defaults used by StaticHost when it assembles a chat-completion prompt itself.
const (
	DefaultMainPrompt           = "Write {{char}}'s next reply in a fictional chat between {{char}} and {{user}}."
	DefaultNewExampleChatPrompt = "[Example Chat]"
)

// StaticHost is a Host backed by plain data. Zero-valued fields behave as an
// empty chat with no characters.
type StaticHost struct {
	*PresetLibrary

	Config     config.HostConfig
	PowerUsers PowerUserSettings

	Characters      []Character
	ActiveCharacter *int
	Group           string
	GroupPrompts    []GroupDepthPrompt

	Messages   []ChatMessage
	Note       AuthorNote
	Extensions []ExtensionPrompt

	// WorldInfo scans lorebooks; nil means no world info.
	WorldInfo WorldInfoSource
	Regex     *regexscript.Engine
	// FilesDir resolves attachments that carry a name but no inline text.
	FilesDir string
	// Fallback replaces the built-in chat-completion assembly when set.
	Fallback func(ctx context.Context, req ChatCompletionRequest) ([]Message, error)
}

var _ Host = (*StaticHost)(nil)

func NewStaticHost(cfg config.HostConfig, presets *PresetLibrary) *StaticHost {
	if presets == nil {
		presets = NewPresetLibrary()
	}
	return &StaticHost{PresetLibrary: presets, Config: cfg}
}

func (h *StaticHost) Character(characterID *int) (*Character, bool) {
	id := characterID
	if id == nil {
		id = h.ActiveCharacter
	}
	if id == nil || *id < 0 || *id >= len(h.Characters) {
		return nil, false
	}
	return &h.Characters[*id], true
}

func (h *StaticHost) CharacterCardFields(_ context.Context, characterID *int) (CharacterFields, error) {
	user := h.UserName()
	fields := CharacterFields{}
	ch, ok := h.Character(characterID)
	charName := ""
	if ok {
		charName = ch.Name
		fields = CharacterFields{
			Description: baseChatReplace(ch.Description, user, charName),
			Personality: baseChatReplace(ch.Personality, user, charName),
			Scenario:    baseChatReplace(ch.Scenario, user, charName),
			MesExamples: baseChatReplace(ch.MesExample, user, charName),
			System:      baseChatReplace(ch.SystemPrompt, user, charName),
			Jailbreak:   baseChatReplace(ch.PostHistoryInstructions, user, charName),
		}
	}
	fields.Persona = baseChatReplace(h.PowerUsers.PersonaDescription, user, charName)
	return fields, nil
}

func (h *StaticHost) ActiveCharacterID() *int { return h.ActiveCharacter }

func (h *StaticHost) SelectedGroup() (string, bool) { return h.Group, h.Group != "" }

func (h *StaticHost) GroupDepthPrompts(string, *int) []GroupDepthPrompt { return h.GroupPrompts }

func (h *StaticHost) Chat() []ChatMessage { return h.Messages }

func (h *StaticHost) AuthorNote() AuthorNote { return h.Note }

func (h *StaticHost) ExtensionPrompts() []ExtensionPrompt { return h.Extensions }

func (h *StaticHost) WorldInfoPrompt(ctx context.Context, chat []string, maxContext int, dryRun bool) (WorldInfoResult, error) {
	if h.WorldInfo == nil {
		return WorldInfoResult{}, nil
	}
	return h.WorldInfo.WorldInfoPrompt(ctx, chat, maxContext, dryRun)
}

func (h *StaticHost) RegexedString(text string, placement regexscript.Placement, opts regexscript.Options) string {
	if h.Regex == nil {
		return text
	}
	if opts.Macros == nil {
		opts.Macros = h.names()
	}
	return h.Regex.Apply(text, placement, opts)
}

// AppendFileContent prepends the message's attachment text.
func (h *StaticHost) AppendFileContent(_ context.Context, msg ChatMessage, text string) (string, error) {
	file := msg.Extra.File
	if file == nil {
		return text, nil
	}
	fileText := file.Text
	if fileText == "" && file.Name != "" && h.FilesDir != "" {
		data, err := os.ReadFile(filepath.Join(h.FilesDir, filepath.Base(file.Name)))
		if err != nil {
			return "", fmt.Errorf("read attachment %s: %w", file.Name, err)
		}
		fileText = string(data)
	}
	if fileText == "" {
		return text, nil
	}
	return fileText + "\n\n" + text, nil
}

func (h *StaticHost) names() map[string]string {
	vars := map[string]string{"user": h.UserName()}
	if ch, ok := h.Character(nil); ok {
		vars["char"] = ch.Name
	}
	return vars
}

func (h *StaticHost) SubstituteParams(text string, extra map[string]string) string {
	vars := h.names()
	if ch, ok := h.Character(nil); ok {
		vars["description"] = ch.Description
		vars["personality"] = ch.Personality
		vars["scenario"] = ch.Scenario
		vars["mesExamples"] = ch.MesExample
	}
	vars["persona"] = h.PowerUsers.PersonaDescription
	for k, v := range extra {
		vars[k] = v
	}
	return ExpandMacros(text, vars)
}

func (h *StaticHost) RenderStoryString(params StoryStringParams, instruct *InstructPreset, template string) (string, error) {
	names := map[string]string{"user": params.User, "char": params.Char}
	return RenderStoryString(template, params, instruct, func(s string) string {
		return h.SubstituteParams(s, names)
	})
}

func (h *StaticHost) MaxContextSize() int { return h.Config.MaxContext }

func (h *StaticHost) ToolCallingSupported() bool { return h.Config.ToolCalling }

func (h *StaticHost) WorldInfoIncludeNames() bool { return h.Config.WorldInfoIncludeNames }

func (h *StaticHost) UserName() string {
	if h.Config.UserName == "" {
		return "User"
	}
	return h.Config.UserName
}

func (h *StaticHost) PowerUser() PowerUserSettings { return h.PowerUsers }

// PrepareChatCompletion lays the request out in the usual slot order: main,
// world info before, persona, card, world info after, examples, chat, then
// post-history instructions.
func (h *StaticHost) PrepareChatCompletion(ctx context.Context, req ChatCompletionRequest) ([]Message, error) {
	if h.Fallback != nil {
		return h.Fallback(ctx, req)
	}
	user := h.UserName()
	vars := map[string]string{"user": user, "char": req.CharacterName}

	var out []Message
	system := func(content string) {
		if content != "" {
			out = append(out, Message{Role: RoleSystem, Content: h.SubstituteParams(content, vars)})
		}
	}
	main := DefaultMainPrompt
	if req.SystemOverride != "" {
		main = req.SystemOverride
	}
	system(main)
	system(req.WorldInfoBefore)
	system(req.PersonaDescription)
	system(req.CharDescription)
	if req.CharPersonality != "" {
		system(req.CharacterName + "'s personality: " + req.CharPersonality)
	}
	if req.Scenario != "" {
		system("Scenario: " + req.Scenario)
	}
	system(req.WorldInfoAfter)
	out = append(out, exampleMessages(req.MessageExamples, user, req.CharacterName, DefaultNewExampleChatPrompt)...)
	out = append(out, req.Messages...)
	system(req.JailbreakOverride)
	return out, nil
}
