package promptbuild

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kayz/tavernkit/internal/config"
	"github.com/kayz/tavernkit/internal/logger"
)

// ErrUnsupportedAPI is returned by Build for any api other than the two
// supported backend families.
var ErrUnsupportedAPI = errors.New("unsupported API")

// Builder assembles prompts from the host's character, chat, world info and presets.
type Builder struct {
	cfg  config.PromptBuildConfig
	host Host
}

// NewBuilder creates a new Builder from config.
func NewBuilder(cfg config.PromptBuildConfig, host Host) *Builder {
	if cfg.RootDir == "" {
		cfg.RootDir = "."
	}
	return &Builder{cfg: cfg, host: host}
}

// assembly carries one Build call's intermediate state.
type assembly struct {
	api        string
	opts       BuildOptions
	fields     CharacterFields
	userName   string
	charName   string
	instruct   *InstructPreset
	examples   []string
	maxContext int
	chat       []ChatMessage
	wi         WorldInfoResult
	messages   []Message
	warnings   []string
}

func (a *assembly) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	logger.Warn("%s", msg)
	a.warnings = append(a.warnings, msg)
}

func (a *assembly) isInstruct() bool {
	return a.instruct != nil && a.instruct.Enabled
}

func (a *assembly) result() Result {
	msgs := a.messages
	if msgs == nil {
		msgs = []Message{}
	}
	return Result{Messages: msgs, Warnings: a.warnings}
}

// Build assembles the prompt for api ("textgenerationwebui" or "openai").
func (b *Builder) Build(ctx context.Context, api string, opts BuildOptions) (Result, error) {
	if api != APITextCompletion && api != APIChatCompletion {
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedAPI, api)
	}
	h := b.host
	a := &assembly{api: api, opts: opts, warnings: []string{}}

	if !opts.IgnoreCharacterFields {
		fields, err := h.CharacterCardFields(ctx, opts.TargetCharacterID)
		if err != nil {
			return Result{}, fmt.Errorf("load character fields: %w", err)
		}
		a.fields = fields
	}
	a.userName = h.UserName()
	if ch, ok := h.Character(opts.TargetCharacterID); ok {
		a.charName = ch.Name
	}
	if api == APITextCompletion {
		if p, ok := h.InstructPreset(opts.InstructName); ok {
			a.instruct = p
		}
	}
	a.examples = parseMesExamples(a.fields.MesExamples, a.isInstruct(), b.exampleSeparator())

	a.maxContext = b.maxContext(api, opts)
	if a.maxContext <= 0 {
		return a.result(), nil
	}

	chat := visibleChat(sliceChat(h.Chat(), opts.MessageIndexesBetween), h.ToolCallingSupported())
	chat, err := b.prepareChat(ctx, chat)
	if err != nil {
		return Result{}, err
	}
	a.chat = chat

	if !opts.IgnoreWorldInfo {
		scan := worldInfoScanText(a.chat, h.WorldInfoIncludeNames())
		wi, err := h.WorldInfoPrompt(ctx, scan, a.maxContext, false)
		if err != nil {
			return Result{}, fmt.Errorf("world info: %w", err)
		}
		a.wi = wi
	}
	b.mergeWorldInfoExamples(a)

	if api == APITextCompletion {
		if err := b.buildTextCompletion(ctx, a); err != nil {
			return Result{}, err
		}
	} else {
		done, err := b.buildChatCompletion(ctx, a)
		if err != nil {
			return Result{}, err
		}
		if done {
			return b.finish(a), nil
		}
	}

	if err := b.injectExtensionPrompts(ctx, a); err != nil {
		return Result{}, err
	}
	b.injectWorldInfoDepth(a)
	b.injectDepthPrompts(a)
	b.injectAuthorNote(a)

	return b.finish(a), nil
}

func (b *Builder) finish(a *assembly) Result {
	res := a.result()
	if b.cfg.AuditEnabled {
		if err := b.writeAuditRecord(a.api, a.opts, res); err != nil {
			logger.Warn("Prompt audit record not written: %v", err)
		}
	}
	return res
}

func (b *Builder) exampleSeparator() string {
	sep := b.host.PowerUser().ExampleSeparator
	if sep == "" {
		return ""
	}
	return b.host.SubstituteParams(sep, nil)
}

// maxContext resolves the context window for this build.
func (b *Builder) maxContext(api string, opts BuildOptions) int {
	if n, ok := opts.MaxContext.Value(); ok {
		return n
	}
	if !opts.MaxContext.IsPreset() || opts.PresetName == "" {
		return b.host.MaxContextSize()
	}

	var size *int
	if api == APITextCompletion {
		if p, ok := b.host.TextCompletionPreset(opts.PresetName); ok {
			size = p.MaxLength
		}
	} else if p, ok := b.host.ChatCompletionPreset(opts.PresetName); ok {
		size = p.OpenAIMaxContext
	}
	if size == nil {
		return b.host.MaxContextSize()
	}
	return *size
}

func (b *Builder) mergeWorldInfoExamples(a *assembly) {
	for _, ex := range a.wi.Examples {
		if ex.Content == "" {
			continue
		}
		formatted := baseChatReplace(ex.Content, a.userName, a.charName)
		blocks := parseMesExamples(formatted, a.isInstruct(), b.exampleSeparator())
		if ex.Position == AnchorBefore {
			a.examples = append(append([]string{}, blocks...), a.examples...)
		} else {
			a.examples = append(a.examples, blocks...)
		}
	}
}

func (b *Builder) appendChat(a *assembly) {
	a.messages = append(a.messages, BudgetedChat(a.chat, a.maxContext, a.opts.IncludeNames)...)
}

// injectExtensionPrompts splices generic extension prompts. Prompts handled
// elsewhere, empty prompts and in-chat prompts are skipped.
func (b *Builder) injectExtensionPrompts(ctx context.Context, a *assembly) error {
	for _, p := range b.host.ExtensionPrompts() {
		if _, known := knownExtensionPrompts[p.Key]; known {
			continue
		}
		if p.Value == "" {
			continue
		}
		if p.Position != ExtensionPromptBeforePrompt && p.Position != ExtensionPromptInPrompt {
			continue
		}
		if p.Filter != nil {
			if err := ctx.Err(); err != nil {
				return err
			}
			ok, err := p.Filter(ctx)
			if err != nil {
				logger.Warn("Extension prompt %s filter failed: %v", p.Key, err)
				continue
			}
			if !ok {
				continue
			}
		}

		msg := Message{Role: p.Role.String(), Content: p.Value}
		if p.Position == ExtensionPromptBeforePrompt {
			a.messages = insertAt(a.messages, p.Depth, msg)
		} else {
			a.messages = insertFromEnd(a.messages, p.Depth, msg)
		}
	}
	return nil
}

func (b *Builder) injectWorldInfoDepth(a *assembly) {
	for _, d := range a.wi.Depth {
		a.messages = insertFromEnd(a.messages, d.Depth, Message{
			Role:    d.Role.String(),
			Content: strings.Join(d.Entries, "\n"),
		})
	}
}

// injectDepthPrompts places group member notes, or the character's own depth
// prompt outside a group.
func (b *Builder) injectDepthPrompts(a *assembly) {
	if a.opts.IgnoreCharacterFields {
		return
	}
	h := b.host
	if group, ok := h.SelectedGroup(); ok {
		if prompts := h.GroupDepthPrompts(group, h.ActiveCharacterID()); len(prompts) > 0 {
			for _, p := range prompts {
				if p.Text == "" {
					continue
				}
				a.messages = insertFromEnd(a.messages, p.Depth, Message{
					Role:    normalizeRole(p.Role, DefaultDepthPromptRole),
					Content: p.Text,
				})
			}
			return
		}
	}

	ch, ok := h.Character(a.opts.TargetCharacterID)
	if !ok || ch.DepthPrompt == nil {
		return
	}
	text := baseChatReplace(strings.TrimSpace(ch.DepthPrompt.Prompt), a.userName, a.charName)
	if text == "" {
		return
	}
	depth := DefaultDepthPromptDepth
	if ch.DepthPrompt.Depth != nil {
		depth = *ch.DepthPrompt.Depth
	}
	a.messages = insertFromEnd(a.messages, depth, Message{
		Role:    normalizeRole(ch.DepthPrompt.Role, DefaultDepthPromptRole),
		Content: text,
	})
}

// injectAuthorNote places the author's note and the world info entries
// anchored around it.
func (b *Builder) injectAuthorNote(a *assembly) {
	if a.opts.IgnoreAuthorNote {
		return
	}
	note := b.host.AuthorNote()
	if note.Prompt == "" {
		return
	}
	text := baseChatReplace(note.Prompt, a.userName, a.charName)
	if text == "" {
		return
	}

	index := -1
	switch note.Position {
	case ExtensionPromptInPrompt:
		index = clampIndex(1, len(a.messages))
		a.messages = insertAt(a.messages, index, Message{Role: RoleUser, Content: text})
	case ExtensionPromptInChat:
		index = clampIndex(len(a.messages)-note.Depth, len(a.messages))
		a.messages = insertAt(a.messages, index, Message{Role: note.Role.String(), Content: text})
	case ExtensionPromptBeforePrompt:
		index = 0
		a.messages = insertAt(a.messages, index, Message{Role: RoleUser, Content: text})
	default:
		return
	}

	if len(a.wi.ANBefore) > 0 {
		a.messages = insertAt(a.messages, index, Message{Role: RoleSystem, Content: strings.Join(a.wi.ANBefore, "\n")})
		index++
	}
	if len(a.wi.ANAfter) > 0 {
		a.messages = insertAt(a.messages, index+1, Message{Role: RoleSystem, Content: strings.Join(a.wi.ANAfter, "\n")})
	}
}
