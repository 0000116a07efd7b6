package promptbuild

import (
	"context"
	"fmt"
	"strings"
)

// buildTextCompletion emits the rendered story string as one system message
// followed by the budgeted chat.
func (b *Builder) buildTextCompletion(_ context.Context, a *assembly) error {
	h := b.host
	names := map[string]string{"user": a.userName, "char": a.charName}
	substitute := func(s string) string { return h.SubstituteParams(s, names) }

	raw := append([]string(nil), a.examples...)
	examples := formatInstructModeExamples(a.examples, a.userName, a.charName, a.instruct, h.PowerUser().ExampleSeparator, substitute)

	system := a.fields.System
	if sp, ok := h.SyspromptPreset(a.opts.SyspromptName); ok {
		if !(h.PowerUser().PreferCharacterPrompt && system != "") {
			system = baseChatReplace(sp.Content, a.userName, a.charName)
		}
		if a.isInstruct() {
			extra := map[string]string{"user": a.userName, "char": a.charName, "original": sp.Content}
			system = formatInstructModeSystemPrompt(h.SubstituteParams(system, extra), a.instruct, a.userName)
		}
	}

	persona := ""
	if pu := h.PowerUser(); pu.PersonaDescriptionPosition == PersonaInPrompt {
		persona = a.fields.Persona
	}
	params := StoryStringParams{
		Description:    a.fields.Description,
		Personality:    a.fields.Personality,
		Persona:        persona,
		Scenario:       a.fields.Scenario,
		System:         system,
		Char:           a.charName,
		User:           a.userName,
		WIBefore:       a.wi.Before,
		WIAfter:        a.wi.After,
		LoreBefore:     a.wi.Before,
		LoreAfter:      a.wi.After,
		MesExamples:    strings.Join(examples, ""),
		MesExamplesRaw: strings.Join(raw, ""),
	}

	template := ""
	if cp, ok := h.ContextPreset(a.opts.ContextName); ok {
		template = cp.StoryString
	}
	story, err := h.RenderStoryString(params, a.instruct, template)
	if err != nil {
		return fmt.Errorf("story string: %w", err)
	}

	a.messages = append(a.messages, Message{Role: RoleSystem, Content: story, IgnoreInstruct: true})
	b.appendChat(a)
	return nil
}
