package promptbuild

import (
	"context"
	"fmt"
)

// Prompt order identifiers with special handling.
const (
	slotChatHistory      = "chatHistory"
	slotDialogueExamples = "dialogueExamples"
	slotMain             = "main"
	slotJailbreak        = "jailbreak"
)

type fragment struct {
	role    string
	content string
}

// buildChatCompletion walks the preset's prompt order. It reports done when the
// host fallback produced the whole prompt.
func (b *Builder) buildChatCompletion(ctx context.Context, a *assembly) (bool, error) {
	h := b.host
	name := a.opts.PresetName
	if name == "" {
		a.warn("No preset name provided. Using default preset.")
		return true, b.fallbackChatCompletion(ctx, a)
	}
	preset, ok := h.ChatCompletionPreset(name)
	if !ok {
		a.warn("Preset not found: %s. Using current preset.", name)
		return true, b.fallbackChatCompletion(ctx, a)
	}
	order, ok := preset.PromptOrderFor(h.ActiveCharacterID())
	if !ok {
		a.warn("No prompt order found for preset: %s. Using current preset.", name)
		return true, b.fallbackChatCompletion(ctx, a)
	}

	vars := b.cardVars(a)
	substitute := func(s string) string { return h.SubstituteParams(s, vars) }
	fragments := b.fragmentTable(a, preset, substitute)

	for _, entry := range order.Order {
		if !entry.Enabled {
			continue
		}
		if f, ok := fragments[entry.Identifier]; ok && f.content != "" {
			a.messages = append(a.messages, Message{Role: f.role, Content: substitute(f.content)})
			continue
		}
		switch entry.Identifier {
		case slotChatHistory:
			b.appendChat(a)
			continue
		case slotDialogueExamples:
			examples := exampleMessages(a.examples, a.userName, a.charName, substitute(preset.NewExampleChatPrompt))
			a.messages = append(a.messages, examples...)
			continue
		}
		if pc, ok := preset.Prompt(entry.Identifier); ok && !pc.Marker {
			if content := b.presetPromptContent(a, pc); content != "" {
				extra := copyVars(vars)
				extra["original"] = substitute(pc.Content)
				a.messages = append(a.messages, Message{
					Role:    normalizeRole(pc.Role, RoleSystem),
					Content: h.SubstituteParams(content, extra),
				})
			}
		}
	}
	return false, nil
}

// presetPromptContent applies the character's system and post-history
// overrides to the main and jailbreak prompts.
func (b *Builder) presetPromptContent(a *assembly, pc PromptConfig) string {
	if pc.ForbidOverrides {
		return pc.Content
	}
	switch pc.Identifier {
	case slotMain:
		if a.fields.System != "" {
			return a.fields.System
		}
	case slotJailbreak:
		if a.fields.Jailbreak != "" {
			return a.fields.Jailbreak
		}
	}
	return pc.Content
}

func (b *Builder) cardVars(a *assembly) map[string]string {
	return map[string]string{
		"user":        a.userName,
		"char":        a.charName,
		"description": a.fields.Description,
		"personality": a.fields.Personality,
		"scenario":    a.fields.Scenario,
		"persona":     a.fields.Persona,
	}
}

func copyVars(vars map[string]string) map[string]string {
	out := make(map[string]string, len(vars)+1)
	for k, v := range vars {
		out[k] = v
	}
	return out
}

// fragmentTable holds the prompt pieces a prompt order slot can reference.
func (b *Builder) fragmentTable(a *assembly, preset *ChatCompletionPreset, substitute func(string) string) map[string]fragment {
	t := map[string]fragment{}
	system := func(id, content string) { t[id] = fragment{role: RoleSystem, content: content} }

	if !a.opts.IgnoreWorldInfo {
		system("worldInfoBefore", formatWorldInfo(a.wi.Before, preset.WIFormat))
		system("worldInfoAfter", formatWorldInfo(a.wi.After, preset.WIFormat))
	}
	if !a.opts.IgnoreCharacterFields {
		personality := ""
		if a.fields.Personality != "" && preset.PersonalityFormat != "" {
			personality = substitute(preset.PersonalityFormat)
		}
		scenario := ""
		if a.fields.Scenario != "" && preset.ScenarioFormat != "" {
			scenario = substitute(preset.ScenarioFormat)
		}
		system("charDescription", a.fields.Description)
		system("charPersonality", personality)
		system("scenario", scenario)
	}

	impersonate := ""
	if preset.ImpersonationPrompt != "" {
		impersonate = substitute(preset.ImpersonationPrompt)
	}
	system("impersonate", impersonate)
	system("groupNudge", substitute(preset.GroupNudgePrompt))

	ext := b.extensionPromptsByKey()
	if p, ok := ext["1_memory"]; ok && p.Value != "" {
		t["summary"] = fragment{role: p.Role.String(), content: p.Value}
	}
	if p, ok := ext["2_floating_prompt"]; ok && p.Value != "" && !a.opts.IgnoreAuthorNote {
		t["authorsNote"] = fragment{role: p.Role.String(), content: p.Value}
	}
	if p, ok := ext["3_vectors"]; ok && p.Value != "" {
		system("vectorsMemory", p.Value)
	}
	if p, ok := ext["4_vectors_data_bank"]; ok && p.Value != "" {
		t["vectorsDataBank"] = fragment{role: p.Role.String(), content: p.Value}
	}
	if p, ok := ext["chromadb"]; ok && p.Value != "" {
		system("smartContext", p.Value)
	}

	pu := b.host.PowerUser()
	if !a.opts.IgnoreCharacterFields && pu.PersonaDescription != "" && pu.PersonaDescriptionPosition == PersonaInPrompt {
		system("personaDescription", pu.PersonaDescription)
	}
	return t
}

func (b *Builder) extensionPromptsByKey() map[string]ExtensionPrompt {
	prompts := b.host.ExtensionPrompts()
	out := make(map[string]ExtensionPrompt, len(prompts))
	for _, p := range prompts {
		out[p.Key] = p
	}
	return out
}

// fallbackChatCompletion asks the host to assemble the prompt with its own
// current preset.
func (b *Builder) fallbackChatCompletion(ctx context.Context, a *assembly) error {
	msgs, err := b.host.PrepareChatCompletion(ctx, ChatCompletionRequest{
		CharacterName:      a.charName,
		CharDescription:    a.fields.Description,
		CharPersonality:    a.fields.Personality,
		Scenario:           a.fields.Scenario,
		WorldInfoBefore:    a.wi.Before,
		WorldInfoAfter:     a.wi.After,
		SystemOverride:     a.fields.System,
		JailbreakOverride:  a.fields.Jailbreak,
		PersonaDescription: a.fields.Persona,
		ExtensionPrompts:   b.host.ExtensionPrompts(),
		Messages:           chatAsMessages(a.chat, a.opts.IncludeNames),
		MessageExamples:    a.examples,
	})
	if err != nil {
		return fmt.Errorf("prepare chat completion: %w", err)
	}
	a.messages = append(a.messages, msgs...)
	return nil
}
